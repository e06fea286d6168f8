package messaging

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/servicelink/marketplace-backend/internal/common/logger"
	"github.com/servicelink/marketplace-backend/internal/notification"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) CreateConversation(ctx context.Context, serviceID *int64, participantIDs []int64) (*Conversation, error) {
	args := m.Called(ctx, serviceID, participantIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Conversation), args.Error(1)
}

func (m *mockRepository) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Conversation), args.Error(1)
}

func (m *mockRepository) FindConversationByParticipants(ctx context.Context, participantIDs []int64, serviceID *int64) (*Conversation, error) {
	args := m.Called(ctx, participantIDs, serviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Conversation), args.Error(1)
}

func (m *mockRepository) GetUserConversations(ctx context.Context, userID int64, limit, offset int, includeArchived bool) ([]*Conversation, error) {
	args := m.Called(ctx, userID, limit, offset, includeArchived)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Conversation), args.Error(1)
}

func (m *mockRepository) GetParticipants(ctx context.Context, conversationID int64) ([]*ParticipantState, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*ParticipantState), args.Error(1)
}

func (m *mockRepository) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepository) SetArchived(ctx context.Context, conversationID, userID int64, archived bool) error {
	args := m.Called(ctx, conversationID, userID, archived)
	return args.Error(0)
}

func (m *mockRepository) SetMuted(ctx context.Context, conversationID, userID int64, muted bool) error {
	args := m.Called(ctx, conversationID, userID, muted)
	return args.Error(0)
}

func (m *mockRepository) DeactivateConversation(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockRepository) CreateMessage(ctx context.Context, msg *Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *mockRepository) GetMessage(ctx context.Context, id int64) (*Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Message), args.Error(1)
}

func (m *mockRepository) GetConversationMessages(ctx context.Context, conversationID int64, limit, offset int, excludeDeleted bool) ([]*Message, error) {
	args := m.Called(ctx, conversationID, limit, offset, excludeDeleted)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Message), args.Error(1)
}

func (m *mockRepository) MarkConversationRead(ctx context.Context, conversationID, userID int64) (int64, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRepository) UpdateMessageContent(ctx context.Context, msg *Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *mockRepository) MarkMessageDeleted(ctx context.Context, messageID, deletedBy int64) error {
	args := m.Called(ctx, messageID, deletedBy)
	return args.Error(0)
}

type captureDispatcher struct {
	events chan *notification.MessageEvent
}

func newCaptureDispatcher() *captureDispatcher {
	return &captureDispatcher{events: make(chan *notification.MessageEvent, 1)}
}

func (d *captureDispatcher) DispatchMessage(ctx context.Context, ev *notification.MessageEvent) error {
	d.events <- ev
	return nil
}

func activeConversation(id int64, participantIDs ...int64) *Conversation {
	conv := &Conversation{ID: id, IsActive: true}
	for _, userID := range participantIDs {
		conv.Participants = append(conv.Participants, &ParticipantState{
			ConversationID: id,
			UserID:         userID,
		})
	}
	return conv
}

func TestGetOrCreateConversationReturnsExisting(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil, 0, logger.Nop())

	existing := activeConversation(10, 1, 2)
	repo.On("FindConversationByParticipants", mock.Anything, []int64{1, 2}, (*int64)(nil)).Return(existing, nil)

	conv, err := svc.GetOrCreateConversation(context.Background(), 1, &CreateConversationRequest{ParticipantIDs: []int64{2}})

	require.NoError(t, err)
	assert.Equal(t, existing, conv)
	repo.AssertNotCalled(t, "CreateConversation", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetOrCreateConversationCreatesWhenMissing(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil, 0, logger.Nop())

	created := activeConversation(11, 1, 2)
	repo.On("FindConversationByParticipants", mock.Anything, []int64{1, 2}, (*int64)(nil)).Return(nil, nil)
	repo.On("CreateConversation", mock.Anything, (*int64)(nil), []int64{1, 2}).Return(created, nil)

	conv, err := svc.GetOrCreateConversation(context.Background(), 1, &CreateConversationRequest{ParticipantIDs: []int64{2}})

	require.NoError(t, err)
	assert.Equal(t, created, conv)
	repo.AssertExpectations(t)
}

func TestGetOrCreateConversationDeduplicatesAndIncludesCaller(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil, 0, logger.Nop())

	created := activeConversation(12, 1, 2, 3)
	repo.On("FindConversationByParticipants", mock.Anything, []int64{1, 2, 3}, (*int64)(nil)).Return(nil, nil)
	repo.On("CreateConversation", mock.Anything, (*int64)(nil), []int64{1, 2, 3}).Return(created, nil)

	// The caller appears in the request too; duplicates collapse
	_, err := svc.GetOrCreateConversation(context.Background(), 1, &CreateConversationRequest{ParticipantIDs: []int64{2, 1, 3, 2}})

	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestGetOrCreateConversationRejectsSingleParticipant(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil, 0, logger.Nop())

	_, err := svc.GetOrCreateConversation(context.Background(), 1, &CreateConversationRequest{ParticipantIDs: []int64{1}})

	assert.ErrorIs(t, err, ErrInvalidParticipants)
	repo.AssertNotCalled(t, "FindConversationByParticipants", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMessagePersists(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil, 0, logger.Nop())

	repo.On("GetConversation", mock.Anything, int64(10)).Return(activeConversation(10, 1, 2), nil)
	repo.On("CreateMessage", mock.Anything, mock.AnythingOfType("*messaging.Message")).Run(func(args mock.Arguments) {
		args.Get(1).(*Message).ID = 55
	}).Return(nil)

	msg, err := svc.SendMessage(context.Background(), 1, &SendMessageRequest{
		ConversationID: 10,
		ReceiverID:     2,
		Content:        "hello",
	})

	require.NoError(t, err)
	assert.Equal(t, int64(55), msg.ID)
	assert.Equal(t, MessageTypeText, msg.Type)
	assert.Equal(t, int64(1), msg.SenderID)
	repo.AssertExpectations(t)
}

func TestSendMessageRejectsNonParticipantSender(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil, 0, logger.Nop())

	repo.On("GetConversation", mock.Anything, int64(10)).Return(activeConversation(10, 2, 3), nil)

	_, err := svc.SendMessage(context.Background(), 1, &SendMessageRequest{
		ConversationID: 10,
		ReceiverID:     2,
		Content:        "hello",
	})

	assert.ErrorIs(t, err, ErrNotParticipant)
	repo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestSendMessageRejectsNonParticipantReceiver(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil, 0, logger.Nop())

	repo.On("GetConversation", mock.Anything, int64(10)).Return(activeConversation(10, 1, 2), nil)

	_, err := svc.SendMessage(context.Background(), 1, &SendMessageRequest{
		ConversationID: 10,
		ReceiverID:     9,
		Content:        "hello",
	})

	assert.ErrorIs(t, err, ErrReceiverNotParticipant)
	repo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestSendMessageRejectsInactiveConversation(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil, 0, logger.Nop())

	conv := activeConversation(10, 1, 2)
	conv.IsActive = false
	repo.On("GetConversation", mock.Anything, int64(10)).Return(conv, nil)

	_, err := svc.SendMessage(context.Background(), 1, &SendMessageRequest{
		ConversationID: 10,
		ReceiverID:     2,
		Content:        "hello",
	})

	assert.ErrorIs(t, err, ErrConversationInactive)
}

func TestSendMessageRejectsSystemDataOnTextMessage(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil, 0, logger.Nop())

	repo.On("GetConversation", mock.Anything, int64(10)).Return(activeConversation(10, 1, 2), nil)

	_, err := svc.SendMessage(context.Background(), 1, &SendMessageRequest{
		ConversationID: 10,
		ReceiverID:     2,
		Content:        "hello",
		Type:           MessageTypeText,
		SystemData:     &SystemData{Action: "booking_confirmed"},
	})

	assert.ErrorIs(t, err, ErrInvalidSystemData)
}

func TestSendMessageNotifiesOfflineReceiver(t *testing.T) {
	repo := new(mockRepository)
	dispatcher := newCaptureDispatcher()
	svc := NewService(repo, dispatcher, nil, 0, logger.Nop())

	repo.On("GetConversation", mock.Anything, int64(10)).Return(activeConversation(10, 1, 2), nil)
	repo.On("CreateMessage", mock.Anything, mock.AnythingOfType("*messaging.Message")).Run(func(args mock.Arguments) {
		args.Get(1).(*Message).ID = 56
	}).Return(nil)

	_, err := svc.SendMessage(context.Background(), 1, &SendMessageRequest{
		ConversationID: 10,
		ReceiverID:     2,
		Content:        "are you there?",
	})
	require.NoError(t, err)

	select {
	case ev := <-dispatcher.events:
		assert.Equal(t, int64(56), ev.MessageID)
		assert.Equal(t, int64(2), ev.ReceiverID)
		assert.Equal(t, "are you there?", ev.Preview)
	case <-time.After(time.Second):
		t.Fatal("expected a notification dispatch")
	}
}

func TestSendMessageSkipsNotificationForMutedReceiver(t *testing.T) {
	repo := new(mockRepository)
	dispatcher := newCaptureDispatcher()
	svc := NewService(repo, dispatcher, nil, 0, logger.Nop())

	conv := activeConversation(10, 1, 2)
	conv.Participants[1].IsMuted = true
	repo.On("GetConversation", mock.Anything, int64(10)).Return(conv, nil)
	repo.On("CreateMessage", mock.Anything, mock.AnythingOfType("*messaging.Message")).Return(nil)

	_, err := svc.SendMessage(context.Background(), 1, &SendMessageRequest{
		ConversationID: 10,
		ReceiverID:     2,
		Content:        "hello",
	})
	require.NoError(t, err)

	select {
	case <-dispatcher.events:
		t.Fatal("muted receiver must not be notified")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSendMessageRejectsOverlongContent(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil, 5, logger.Nop())

	repo.On("GetConversation", mock.Anything, int64(10)).Return(activeConversation(10, 1, 2), nil)

	_, err := svc.SendMessage(context.Background(), 1, &SendMessageRequest{
		ConversationID: 10,
		ReceiverID:     2,
		Content:        "sixsix",
	})

	assert.ErrorIs(t, err, ErrMessageTooLong)
	repo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestSendMessageLimitCountsRunesNotBytes(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil, 5, logger.Nop())

	repo.On("GetConversation", mock.Anything, int64(10)).Return(activeConversation(10, 1, 2), nil)
	repo.On("CreateMessage", mock.Anything, mock.AnythingOfType("*messaging.Message")).Return(nil)

	// Five runes, ten bytes
	_, err := svc.SendMessage(context.Background(), 1, &SendMessageRequest{
		ConversationID: 10,
		ReceiverID:     2,
		Content:        "ééééé",
	})

	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestNotificationPreviewTruncatesOnRuneBoundary(t *testing.T) {
	repo := new(mockRepository)
	dispatcher := newCaptureDispatcher()
	svc := NewService(repo, dispatcher, nil, 0, logger.Nop())

	repo.On("GetConversation", mock.Anything, int64(10)).Return(activeConversation(10, 1, 2), nil)
	repo.On("CreateMessage", mock.Anything, mock.AnythingOfType("*messaging.Message")).Return(nil)

	content := strings.Repeat("ありがとう", 50)
	_, err := svc.SendMessage(context.Background(), 1, &SendMessageRequest{
		ConversationID: 10,
		ReceiverID:     2,
		Content:        content,
	})
	require.NoError(t, err)

	select {
	case ev := <-dispatcher.events:
		assert.True(t, utf8.ValidString(ev.Preview))
		assert.Equal(t, notificationPreviewLimit, utf8.RuneCountInString(ev.Preview))
		assert.True(t, strings.HasPrefix(content, ev.Preview))
	case <-time.After(time.Second):
		t.Fatal("expected a notification dispatch")
	}
}

func TestEditMessagePreservesOriginalOnFirstEditOnly(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil, 0, logger.Nop())

	repo.On("GetMessage", mock.Anything, int64(55)).Return(&Message{
		ID:       55,
		SenderID: 1,
		Content:  "first version",
	}, nil).Once()
	repo.On("UpdateMessageContent", mock.Anything, mock.AnythingOfType("*messaging.Message")).Return(nil)

	msg, err := svc.EditMessage(context.Background(), 55, 1, &EditMessageRequest{Content: "second version"})

	require.NoError(t, err)
	assert.True(t, msg.IsEdited)
	assert.Equal(t, "second version", msg.Content)
	require.NotNil(t, msg.OriginalContent)
	assert.Equal(t, "first version", *msg.OriginalContent)
	require.NotNil(t, msg.EditedAt)

	// A later edit keeps the oldest version, not the previous one
	original := "first version"
	repo.On("GetMessage", mock.Anything, int64(55)).Return(&Message{
		ID:              55,
		SenderID:        1,
		Content:         "second version",
		IsEdited:        true,
		OriginalContent: &original,
	}, nil).Once()

	msg, err = svc.EditMessage(context.Background(), 55, 1, &EditMessageRequest{Content: "third version"})

	require.NoError(t, err)
	assert.Equal(t, "third version", msg.Content)
	assert.Equal(t, "first version", *msg.OriginalContent)
}

func TestEditMessageRejectsNonSender(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil, 0, logger.Nop())

	repo.On("GetMessage", mock.Anything, int64(55)).Return(&Message{ID: 55, SenderID: 1}, nil)

	_, err := svc.EditMessage(context.Background(), 55, 2, &EditMessageRequest{Content: "nope"})

	assert.ErrorIs(t, err, ErrNotSender)
}

func TestEditMessageRejectsOverlongContent(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil, 5, logger.Nop())

	repo.On("GetMessage", mock.Anything, int64(55)).Return(&Message{ID: 55, SenderID: 1, Content: "ok"}, nil)

	_, err := svc.EditMessage(context.Background(), 55, 1, &EditMessageRequest{Content: "sixsix"})

	assert.ErrorIs(t, err, ErrMessageTooLong)
	repo.AssertNotCalled(t, "UpdateMessageContent", mock.Anything, mock.Anything)
}

func TestEditMessageRejectsDeletedMessage(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil, 0, logger.Nop())

	repo.On("GetMessage", mock.Anything, int64(55)).Return(&Message{ID: 55, SenderID: 1, IsDeleted: true}, nil)

	_, err := svc.EditMessage(context.Background(), 55, 1, &EditMessageRequest{Content: "nope"})

	assert.ErrorIs(t, err, ErrMessageDeleted)
}

func TestDeleteMessageIsTerminal(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil, 0, logger.Nop())

	repo.On("GetMessage", mock.Anything, int64(55)).Return(&Message{
		ID:       55,
		SenderID: 1,
		Content:  "secret",
	}, nil)
	repo.On("MarkMessageDeleted", mock.Anything, int64(55), int64(1)).Return(nil)

	msg, err := svc.DeleteMessage(context.Background(), 55, 1)

	require.NoError(t, err)
	assert.True(t, msg.IsDeleted)
	assert.Equal(t, DeletedPlaceholder, msg.Content)
	require.NotNil(t, msg.DeletedBy)
	assert.Equal(t, int64(1), *msg.DeletedBy)
	assert.Nil(t, msg.Attachments)
}

func TestDeleteMessageRejectsSecondDelete(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil, 0, logger.Nop())

	repo.On("GetMessage", mock.Anything, int64(55)).Return(&Message{ID: 55, SenderID: 1, IsDeleted: true}, nil)

	_, err := svc.DeleteMessage(context.Background(), 55, 1)

	assert.ErrorIs(t, err, ErrMessageDeleted)
	repo.AssertNotCalled(t, "MarkMessageDeleted", mock.Anything, mock.Anything, mock.Anything)
}

func TestCloseConversationRequiresMembership(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil, 0, logger.Nop())

	repo.On("IsParticipant", mock.Anything, int64(10), int64(9)).Return(false, nil)

	err := svc.CloseConversation(context.Background(), 10, 9)

	assert.ErrorIs(t, err, ErrNotParticipant)
	repo.AssertNotCalled(t, "DeactivateConversation", mock.Anything, mock.Anything)
}

func TestCloseConversation(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil, 0, logger.Nop())

	repo.On("IsParticipant", mock.Anything, int64(10), int64(1)).Return(true, nil)
	repo.On("DeactivateConversation", mock.Anything, int64(10)).Return(nil)

	require.NoError(t, svc.CloseConversation(context.Background(), 10, 1))
	repo.AssertExpectations(t)
}

func TestMarkConversationReadRequiresMembership(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil, 0, logger.Nop())

	repo.On("IsParticipant", mock.Anything, int64(10), int64(1)).Return(false, nil)

	err := svc.MarkConversationRead(context.Background(), 10, 1)

	assert.ErrorIs(t, err, ErrNotParticipant)
	repo.AssertNotCalled(t, "MarkConversationRead", mock.Anything, mock.Anything, mock.Anything)
}

func TestMarkConversationRead(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil, 0, logger.Nop())

	repo.On("IsParticipant", mock.Anything, int64(10), int64(1)).Return(true, nil)
	repo.On("MarkConversationRead", mock.Anything, int64(10), int64(1)).Return(int64(3), nil)

	require.NoError(t, svc.MarkConversationRead(context.Background(), 10, 1))
	repo.AssertExpectations(t)
}
