package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// NewFirebaseApp initialises the Firebase app shared by push and storage.
// Base64 credentials take precedence over the file path; this is useful for
// cloud deployments (Railway, Fly.io, Render) where you can't upload files easily.
func NewFirebaseApp(ctx context.Context, credentialsBase64, credentialsFile, storageBucket string) (*firebase.App, error) {
	var opt option.ClientOption
	switch {
	case credentialsBase64 != "":
		credentialsJSON, err := base64.StdEncoding.DecodeString(credentialsBase64)
		if err != nil {
			return nil, fmt.Errorf("error decoding base64 credentials: %w", err)
		}
		opt = option.WithCredentialsJSON(credentialsJSON)
	case credentialsFile != "":
		opt = option.WithCredentialsFile(credentialsFile)
	default:
		return nil, errors.New("no Firebase credentials configured")
	}

	var cfg *firebase.Config
	if storageBucket != "" {
		cfg = &firebase.Config{StorageBucket: storageBucket}
	}

	app, err := firebase.NewApp(ctx, cfg, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}
	return app, nil
}
