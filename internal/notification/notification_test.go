package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/servicelink/marketplace-backend/internal/common/logger"
)

type mockContactStore struct {
	mock.Mock
}

func (m *mockContactStore) GetContact(ctx context.Context, userID int64) (*Contact, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Contact), args.Error(1)
}

func (m *mockContactStore) SavePushToken(ctx context.Context, userID int64, token, platform string) error {
	args := m.Called(ctx, userID, token, platform)
	return args.Error(0)
}

func (m *mockContactStore) DeletePushToken(ctx context.Context, userID int64, token string) error {
	args := m.Called(ctx, userID, token)
	return args.Error(0)
}

type mockPush struct {
	mock.Mock
}

func (m *mockPush) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	args := m.Called(ctx, token, title, body, data)
	return args.Error(0)
}

type mockEmail struct {
	mock.Mock
}

func (m *mockEmail) Send(ctx context.Context, to, subject, body string) error {
	args := m.Called(ctx, to, subject, body)
	return args.Error(0)
}

type mockSMS struct {
	mock.Mock
}

func (m *mockSMS) Send(ctx context.Context, to, body string) error {
	args := m.Called(ctx, to, body)
	return args.Error(0)
}

func testEvent() *MessageEvent {
	return &MessageEvent{
		MessageID:      55,
		ConversationID: 10,
		SenderID:       1,
		ReceiverID:     2,
		Preview:        "hello",
	}
}

func TestDispatchPrefersPush(t *testing.T) {
	contacts := new(mockContactStore)
	push := new(mockPush)
	email := new(mockEmail)

	contacts.On("GetContact", mock.Anything, int64(2)).Return(&Contact{
		UserID:     2,
		Email:      "user@example.com",
		PushTokens: []string{"token-1"},
	}, nil)
	push.On("Send", mock.Anything, "token-1", mock.Anything, "hello", mock.Anything).Return(nil)

	d := NewDispatcher(contacts, push, email, nil, logger.Nop())

	require.NoError(t, d.DispatchMessage(context.Background(), testEvent()))
	push.AssertExpectations(t)
	email.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatchFallsBackToEmail(t *testing.T) {
	contacts := new(mockContactStore)
	push := new(mockPush)
	email := new(mockEmail)

	contacts.On("GetContact", mock.Anything, int64(2)).Return(&Contact{
		UserID:     2,
		Email:      "user@example.com",
		PushTokens: []string{"token-1"},
	}, nil)
	push.On("Send", mock.Anything, "token-1", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("unregistered token"))
	email.On("Send", mock.Anything, "user@example.com", mock.Anything, "hello").Return(nil)

	d := NewDispatcher(contacts, push, email, nil, logger.Nop())

	require.NoError(t, d.DispatchMessage(context.Background(), testEvent()))
	email.AssertExpectations(t)
}

func TestDispatchFallsBackToSMS(t *testing.T) {
	contacts := new(mockContactStore)
	sms := new(mockSMS)

	contacts.On("GetContact", mock.Anything, int64(2)).Return(&Contact{
		UserID: 2,
		Phone:  "+15550001111",
	}, nil)
	sms.On("Send", mock.Anything, "+15550001111", "hello").Return(nil)

	d := NewDispatcher(contacts, nil, nil, sms, logger.Nop())

	require.NoError(t, d.DispatchMessage(context.Background(), testEvent()))
	sms.AssertExpectations(t)
}

func TestDispatchFailsWhenNoChannelReachable(t *testing.T) {
	contacts := new(mockContactStore)

	contacts.On("GetContact", mock.Anything, int64(2)).Return(&Contact{UserID: 2}, nil)

	d := NewDispatcher(contacts, nil, nil, nil, logger.Nop())

	err := d.DispatchMessage(context.Background(), testEvent())
	assert.Error(t, err)
}

func TestDispatchPropagatesContactLookupFailure(t *testing.T) {
	contacts := new(mockContactStore)

	contacts.On("GetContact", mock.Anything, int64(2)).Return(nil, errors.New("connection refused"))

	d := NewDispatcher(contacts, nil, nil, nil, logger.Nop())

	err := d.DispatchMessage(context.Background(), testEvent())
	assert.Error(t, err)
}
