// internal/notification/email.go

package notification

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

// EmailProvider delivers a notification email
type EmailProvider interface {
	Send(ctx context.Context, to, subject, body string) error
}

type sendGridProvider struct {
	client *sendgrid.Client
	from   string
}

// NewSendGridProvider creates the SendGrid email provider
func NewSendGridProvider(apiKey, from string) EmailProvider {
	return &sendGridProvider{
		client: sendgrid.NewSendClient(apiKey),
		from:   from,
	}
}

func (p *sendGridProvider) Send(ctx context.Context, to, subject, body string) error {
	from := mail.NewEmail("ServiceLink", p.from)
	recipient := mail.NewEmail("", to)
	message := mail.NewSingleEmail(from, subject, recipient, body, body)

	response, err := p.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned status %d", response.StatusCode)
	}
	return nil
}

type mockEmailProvider struct {
	logger *zap.SugaredLogger
}

// NewMockEmailProvider logs emails instead of sending them
func NewMockEmailProvider(logger *zap.SugaredLogger) EmailProvider {
	return &mockEmailProvider{logger: logger}
}

func (p *mockEmailProvider) Send(ctx context.Context, to, subject, body string) error {
	p.logger.Infow("mock email", "to", to, "subject", subject)
	return nil
}
