// internal/notification/notification.go
// Out-of-band delivery for users without a live connection

package notification

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// MessageEvent describes a stored message that needs out-of-band delivery
type MessageEvent struct {
	MessageID      int64
	ConversationID int64
	SenderID       int64
	ReceiverID     int64
	Preview        string
}

// Dispatcher fans a message event out to the receiver's notification
// channels.
type Dispatcher interface {
	DispatchMessage(ctx context.Context, ev *MessageEvent) error
}

type dispatcher struct {
	contacts ContactStore
	push     PushProvider
	email    EmailProvider
	sms      SMSProvider
	logger   *zap.SugaredLogger
}

// NewDispatcher creates a dispatcher over the configured providers. Any
// provider may be nil; that channel is simply skipped.
func NewDispatcher(contacts ContactStore, push PushProvider, email EmailProvider, sms SMSProvider, logger *zap.SugaredLogger) Dispatcher {
	return &dispatcher{
		contacts: contacts,
		push:     push,
		email:    email,
		sms:      sms,
		logger:   logger,
	}
}

// DispatchMessage tries push first, then falls back to email and finally
// SMS. The first channel that succeeds wins.
func (d *dispatcher) DispatchMessage(ctx context.Context, ev *MessageEvent) error {
	contact, err := d.contacts.GetContact(ctx, ev.ReceiverID)
	if err != nil {
		return fmt.Errorf("failed to load contact for user %d: %w", ev.ReceiverID, err)
	}

	title := "New message"
	body := ev.Preview

	if d.push != nil && len(contact.PushTokens) > 0 {
		delivered := false
		for _, token := range contact.PushTokens {
			if err := d.push.Send(ctx, token, title, body, map[string]string{
				"conversation_id": fmt.Sprintf("%d", ev.ConversationID),
				"message_id":      fmt.Sprintf("%d", ev.MessageID),
			}); err != nil {
				d.logger.Warnw("push delivery failed", "user_id", ev.ReceiverID, "error", err)
				continue
			}
			delivered = true
		}
		if delivered {
			return nil
		}
	}

	if d.email != nil && contact.Email != "" {
		if err := d.email.Send(ctx, contact.Email, title, body); err == nil {
			return nil
		} else {
			d.logger.Warnw("email delivery failed", "user_id", ev.ReceiverID, "error", err)
		}
	}

	if d.sms != nil && contact.Phone != "" {
		if err := d.sms.Send(ctx, contact.Phone, body); err == nil {
			return nil
		} else {
			d.logger.Warnw("sms delivery failed", "user_id", ev.ReceiverID, "error", err)
		}
	}

	return fmt.Errorf("no notification channel reached user %d", ev.ReceiverID)
}
