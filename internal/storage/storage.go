// Package storage uploads request images to object storage and returns the
// public URLs that are persisted on the request.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ImageStore stores one image and returns its public URL.
type ImageStore interface {
	Upload(ctx context.Context, folder, filename, contentType string, r io.Reader) (string, error)
}

// FirebaseStore writes objects to the app's Firebase Storage bucket and hands
// out token-protected download URLs, the same URLs the Firebase client SDKs use.
type FirebaseStore struct {
	bucket     *gcs.BucketHandle
	bucketName string
	logger     *zap.Logger
}

func NewFirebaseStore(ctx context.Context, app *firebase.App, bucketName string, logger *zap.Logger) (*FirebaseStore, error) {
	client, err := app.Storage(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting storage client: %w", err)
	}
	bucket, err := client.Bucket(bucketName)
	if err != nil {
		return nil, fmt.Errorf("error opening bucket %s: %w", bucketName, err)
	}
	return &FirebaseStore{bucket: bucket, bucketName: bucketName, logger: logger}, nil
}

func (s *FirebaseStore) Upload(ctx context.Context, folder, filename, contentType string, r io.Reader) (string, error) {
	name := ObjectName(folder, filename, time.Now())
	token := uuid.NewString()

	w := s.bucket.Object(name).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=31536000"
	w.Metadata = map[string]string{"firebaseStorageDownloadTokens": token}

	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", name, err)
	}

	s.logger.Info("✅ [STORAGE] Image uploaded", zap.String("object", name))
	return DownloadURL(s.bucketName, name, token), nil
}

// ObjectName builds "<folder>/<yyyy/mm/dd>/<uuid><ext>" from the client's
// filename. Only the extension of the original name is kept.
func ObjectName(folder, filename string, now time.Time) string {
	ext := strings.ToLower(path.Ext(filename))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".heic":
	default:
		ext = ".jpg"
	}
	return path.Join(folder, now.UTC().Format("2006/01/02"), uuid.NewString()+ext)
}

// DownloadURL is the public Firebase download URL for an object.
func DownloadURL(bucket, object, token string) string {
	return fmt.Sprintf("https://firebasestorage.googleapis.com/v0/b/%s/o/%s?alt=media&token=%s",
		bucket, url.PathEscape(object), token)
}
