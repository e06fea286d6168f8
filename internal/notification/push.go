// internal/notification/push.go

package notification

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	fcm "firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// PushProvider delivers a push notification to a single device token
type PushProvider interface {
	Send(ctx context.Context, token, title, body string, data map[string]string) error
}

type fcmProvider struct {
	client *fcm.Client
}

// NewFCMProvider creates the Firebase Cloud Messaging push provider
func NewFCMProvider(ctx context.Context, credentialsFile string) (PushProvider, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize FCM client: %w", err)
	}

	return &fcmProvider{client: client}, nil
}

func (p *fcmProvider) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	_, err := p.client.Send(ctx, &fcm.Message{
		Token: token,
		Notification: &fcm.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("failed to send push: %w", err)
	}
	return nil
}

type mockPushProvider struct {
	logger *zap.SugaredLogger
}

// NewMockPushProvider logs pushes instead of sending them
func NewMockPushProvider(logger *zap.SugaredLogger) PushProvider {
	return &mockPushProvider{logger: logger}
}

func (p *mockPushProvider) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	p.logger.Infow("mock push", "token", token, "title", title, "body", body)
	return nil
}
