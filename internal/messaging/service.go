// internal/messaging/service.go

package messaging

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/servicelink/marketplace-backend/internal/notification"
)

// Service errors
var (
	ErrConversationNotFound   = errors.New("conversation not found")
	ErrConversationInactive   = errors.New("conversation is closed")
	ErrMessageNotFound        = errors.New("message not found")
	ErrNotParticipant         = errors.New("user is not a participant of this conversation")
	ErrReceiverNotParticipant = errors.New("receiver is not a participant of this conversation")
	ErrNotSender              = errors.New("only the sender can modify this message")
	ErrMessageDeleted         = errors.New("message has been deleted")
	ErrInvalidParticipants    = errors.New("a conversation needs at least two distinct participants")
	ErrInvalidSystemData      = errors.New("system_data is only valid on system messages")
	ErrMessageTooLong         = errors.New("message content exceeds the maximum length")
)

const (
	// DefaultMaxMessageLength bounds message content in runes
	DefaultMaxMessageLength = 5000

	notificationPreviewLimit = 120
)

// Service implements the conversation and message rules on top of the
// repository. The hub is attached after construction so offline detection
// and fan-out of REST-initiated changes can reach live connections.
type Service interface {
	GetOrCreateConversation(ctx context.Context, userID int64, req *CreateConversationRequest) (*Conversation, error)
	GetConversation(ctx context.Context, conversationID, userID int64) (*Conversation, error)
	ListConversations(ctx context.Context, userID int64, limit, offset int, includeArchived bool) ([]*Conversation, error)

	SendMessage(ctx context.Context, senderID int64, req *SendMessageRequest) (*Message, error)
	ListMessages(ctx context.Context, conversationID, userID int64, limit, offset int, excludeDeleted bool) ([]*Message, error)
	EditMessage(ctx context.Context, messageID, userID int64, req *EditMessageRequest) (*Message, error)
	DeleteMessage(ctx context.Context, messageID, userID int64) (*Message, error)

	MarkConversationRead(ctx context.Context, conversationID, userID int64) error
	CloseConversation(ctx context.Context, conversationID, userID int64) error
	SetArchived(ctx context.Context, conversationID, userID int64, archived bool) error
	SetMuted(ctx context.Context, conversationID, userID int64, muted bool) error
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)

	// SetHub attaches the connection hub after construction, resolving the
	// service/hub construction cycle.
	SetHub(hub *Hub)
}

type messageService struct {
	repo             Repository
	notifier         notification.Dispatcher
	storage          StorageService
	hub              *Hub
	maxMessageLength int
	logger           *zap.SugaredLogger
}

// NewService creates the message service. notifier and storage may be nil
// when push delivery or attachment storage is disabled; a non-positive
// maxMessageLength falls back to the default.
func NewService(repo Repository, notifier notification.Dispatcher, storage StorageService, maxMessageLength int, logger *zap.SugaredLogger) Service {
	if maxMessageLength <= 0 {
		maxMessageLength = DefaultMaxMessageLength
	}
	return &messageService{
		repo:             repo,
		notifier:         notifier,
		storage:          storage,
		maxMessageLength: maxMessageLength,
		logger:           logger,
	}
}

// SetHub attaches the connection hub. Called once during startup, after the
// hub is constructed with this service's relay.
func (s *messageService) SetHub(hub *Hub) {
	s.hub = hub
}

func (s *messageService) GetOrCreateConversation(ctx context.Context, userID int64, req *CreateConversationRequest) (*Conversation, error) {
	// The caller is always a member of the conversation it creates
	seen := map[int64]struct{}{userID: {}}
	participants := []int64{userID}
	for _, id := range req.ParticipantIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		participants = append(participants, id)
	}
	if len(participants) < 2 {
		return nil, ErrInvalidParticipants
	}

	existing, err := s.repo.FindConversationByParticipants(ctx, participants, req.ServiceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	conv, err := s.repo.CreateConversation(ctx, req.ServiceID, participants)
	if err != nil {
		return nil, err
	}
	s.logger.Infow("conversation created", "conversation_id", conv.ID, "participants", len(participants))
	return conv, nil
}

func (s *messageService) GetConversation(ctx context.Context, conversationID, userID int64) (*Conversation, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if participantState(conv, userID) == nil {
		return nil, ErrNotParticipant
	}
	return conv, nil
}

func (s *messageService) ListConversations(ctx context.Context, userID int64, limit, offset int, includeArchived bool) ([]*Conversation, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.GetUserConversations(ctx, userID, limit, offset, includeArchived)
}

func (s *messageService) SendMessage(ctx context.Context, senderID int64, req *SendMessageRequest) (*Message, error) {
	conv, err := s.repo.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsActive {
		return nil, ErrConversationInactive
	}
	if participantState(conv, senderID) == nil {
		return nil, ErrNotParticipant
	}
	receiver := participantState(conv, req.ReceiverID)
	if receiver == nil {
		return nil, ErrReceiverNotParticipant
	}
	if utf8.RuneCountInString(req.Content) > s.maxMessageLength {
		return nil, ErrMessageTooLong
	}

	msgType := req.Type
	if msgType == "" {
		msgType = MessageTypeText
	}
	if (req.SystemData != nil) != (msgType == MessageTypeSystem) {
		return nil, ErrInvalidSystemData
	}

	msg := &Message{
		ConversationID: req.ConversationID,
		SenderID:       senderID,
		ReceiverID:     req.ReceiverID,
		Content:        req.Content,
		Type:           msgType,
		Attachments:    req.Attachments,
		SystemData:     req.SystemData,
	}
	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	s.notifyOffline(msg, receiver)
	return msg, nil
}

// notifyOffline dispatches an out-of-band notification when the receiver
// holds no live connection and has not muted the conversation.
func (s *messageService) notifyOffline(msg *Message, receiver *ParticipantState) {
	if s.notifier == nil || receiver.IsMuted {
		return
	}
	if s.hub != nil && s.hub.IsUserOnline(msg.ReceiverID) {
		return
	}

	// Truncate on a rune boundary so the preview stays valid UTF-8
	preview := msg.Content
	if utf8.RuneCountInString(preview) > notificationPreviewLimit {
		preview = string([]rune(preview)[:notificationPreviewLimit])
	}
	ev := &notification.MessageEvent{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		Preview:        preview,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.notifier.DispatchMessage(ctx, ev); err != nil {
			s.logger.Warnw("failed to dispatch message notification", "message_id", ev.MessageID, "error", err)
		}
	}()
}

func (s *messageService) ListMessages(ctx context.Context, conversationID, userID int64, limit, offset int, excludeDeleted bool) ([]*Message, error) {
	ok, err := s.repo.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotParticipant
	}

	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.GetConversationMessages(ctx, conversationID, limit, offset, excludeDeleted)
}

func (s *messageService) EditMessage(ctx context.Context, messageID, userID int64, req *EditMessageRequest) (*Message, error) {
	msg, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, ErrNotSender
	}
	if msg.IsDeleted {
		return nil, ErrMessageDeleted
	}
	if utf8.RuneCountInString(req.Content) > s.maxMessageLength {
		return nil, ErrMessageTooLong
	}

	// The original content is preserved on the first edit only; later edits
	// keep the oldest version.
	if !msg.IsEdited {
		original := msg.Content
		msg.OriginalContent = &original
	}
	now := time.Now()
	msg.Content = req.Content
	msg.IsEdited = true
	msg.EditedAt = &now

	if err := s.repo.UpdateMessageContent(ctx, msg); err != nil {
		return nil, err
	}

	if s.hub != nil {
		s.hub.RelayToRoom(msg.ConversationID, newWSMessage(WSTypeMessageRelayed, msg), nil)
	}
	return msg, nil
}

func (s *messageService) DeleteMessage(ctx context.Context, messageID, userID int64) (*Message, error) {
	msg, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, ErrNotSender
	}
	if msg.IsDeleted {
		return nil, ErrMessageDeleted
	}

	if err := s.repo.MarkMessageDeleted(ctx, messageID, userID); err != nil {
		return nil, err
	}

	if s.storage != nil && len(msg.Attachments) > 0 {
		attachments := msg.Attachments
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			for _, a := range attachments {
				if err := s.storage.Delete(ctx, a.URL); err != nil {
					s.logger.Warnw("failed to delete attachment", "url", a.URL, "error", err)
				}
			}
		}()
	}

	now := time.Now()
	msg.Content = DeletedPlaceholder
	msg.IsDeleted = true
	msg.DeletedAt = &now
	msg.DeletedBy = &userID
	msg.Attachments = nil

	if s.hub != nil {
		s.hub.RelayToRoom(msg.ConversationID, newWSMessage(WSTypeMessageRelayed, msg), nil)
	}
	return msg, nil
}

func (s *messageService) MarkConversationRead(ctx context.Context, conversationID, userID int64) error {
	ok, err := s.repo.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotParticipant
	}

	marked, err := s.repo.MarkConversationRead(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	s.logger.Debugw("conversation marked read", "conversation_id", conversationID, "user_id", userID, "messages", marked)
	return nil
}

// CloseConversation deactivates a conversation. Closed conversations stay
// readable but accept no further messages.
func (s *messageService) CloseConversation(ctx context.Context, conversationID, userID int64) error {
	ok, err := s.repo.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotParticipant
	}

	if err := s.repo.DeactivateConversation(ctx, conversationID); err != nil {
		return err
	}
	s.logger.Infow("conversation closed", "conversation_id", conversationID, "user_id", userID)
	return nil
}

func (s *messageService) SetArchived(ctx context.Context, conversationID, userID int64, archived bool) error {
	return s.repo.SetArchived(ctx, conversationID, userID, archived)
}

func (s *messageService) SetMuted(ctx context.Context, conversationID, userID int64, muted bool) error {
	return s.repo.SetMuted(ctx, conversationID, userID, muted)
}

func (s *messageService) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	return s.repo.IsParticipant(ctx, conversationID, userID)
}

// participantState finds the user's row in a loaded conversation
func participantState(conv *Conversation, userID int64) *ParticipantState {
	for _, p := range conv.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}
