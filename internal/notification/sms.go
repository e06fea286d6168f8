// internal/notification/sms.go

package notification

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// SMSProvider delivers a notification text message
type SMSProvider interface {
	Send(ctx context.Context, to, body string) error
}

type twilioProvider struct {
	client *twilio.RestClient
	from   string
}

// NewTwilioProvider creates the Twilio SMS provider
func NewTwilioProvider(accountSID, authToken, from string) SMSProvider {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &twilioProvider{
		client: client,
		from:   from,
	}
}

func (p *twilioProvider) Send(ctx context.Context, to, body string) error {
	params := &api.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(p.from)
	params.SetBody(body)

	_, err := p.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("failed to send sms: %w", err)
	}
	return nil
}

type mockSMSProvider struct {
	logger *zap.SugaredLogger
}

// NewMockSMSProvider logs texts instead of sending them
func NewMockSMSProvider(logger *zap.SugaredLogger) SMSProvider {
	return &mockSMSProvider{logger: logger}
}

func (p *mockSMSProvider) Send(ctx context.Context, to, body string) error {
	p.logger.Infow("mock sms", "to", to, "body", body)
	return nil
}
