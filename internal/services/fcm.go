package services

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
)

// FCMService handles Firebase Cloud Messaging
type FCMService struct {
	client *messaging.Client
	logger *zap.Logger
}

func NewFCMService(ctx context.Context, app *firebase.App, logger *zap.Logger) (*FCMService, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}
	return &FCMService{client: client, logger: logger}, nil
}

// SendToTokens sends the same notification to every device token
func (s *FCMService) SendToTokens(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	if len(tokens) == 0 {
		return nil
	}

	message := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					ContentAvailable: true,
					Sound:            "default",
				},
			},
		},
	}

	response, err := s.client.SendEachForMulticast(ctx, message)
	if err != nil {
		return fmt.Errorf("error sending multicast message: %w", err)
	}

	s.logger.Info("✅ [FCM] Multicast sent",
		zap.String("type", data["type"]),
		zap.Int("success", response.SuccessCount),
		zap.Int("failure", response.FailureCount))
	return nil
}
