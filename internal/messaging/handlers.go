// internal/messaging/handlers.go

package messaging

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/servicelink/marketplace-backend/internal/auth"
	"github.com/servicelink/marketplace-backend/internal/common/utils"
)

// Handler exposes the REST surface and the websocket entry point
type Handler struct {
	service  Service
	hub      *Hub
	relay    *Relay
	verifier auth.Verifier
	storage  StorageService
	upgrader websocket.Upgrader

	maxAttachmentSize int64
	logger            *zap.SugaredLogger
}

// NewHandler creates the messaging handler
func NewHandler(service Service, hub *Hub, relay *Relay, verifier auth.Verifier, storage StorageService, maxAttachmentSize int64, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		service:  service,
		hub:      hub,
		relay:    relay,
		verifier: verifier,
		storage:  storage,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // origin checking is handled at the gateway
			},
		},
		maxAttachmentSize: maxAttachmentSize,
		logger:            logger,
	}
}

// HandleWebSocket upgrades the connection and starts the client pumps. No
// HTTP-level authentication here: the connection authenticates itself with
// the first signal it sends.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h.hub, conn, h.verifier, h.relay, h.logger)
	client.Start()
}

// CreateConversation finds or creates the conversation for a participant set
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	conv, err := h.service.GetOrCreateConversation(r.Context(), userID, &req)
	if err != nil {
		h.respondError(w, err)
		return
	}

	utils.SuccessResponse(w, conv, http.StatusOK)
}

// ListConversations returns the caller's conversations
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	includeArchived := r.URL.Query().Get("include_archived") == "true"

	conversations, err := h.service.ListConversations(r.Context(), userID, limit, offset, includeArchived)
	if err != nil {
		h.respondError(w, err)
		return
	}

	utils.SuccessResponse(w, conversations, http.StatusOK)
}

// GetConversation returns one conversation with its participant states
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	conversationID, err := pathID(r, "id")
	if err != nil {
		utils.ErrorResponse(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	conv, err := h.service.GetConversation(r.Context(), conversationID, userID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	utils.SuccessResponse(w, conv, http.StatusOK)
}

// ListMessages returns a page of a conversation's messages, newest first
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	conversationID, err := pathID(r, "id")
	if err != nil {
		utils.ErrorResponse(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	excludeDeleted := r.URL.Query().Get("exclude_deleted") == "true"

	messages, err := h.service.ListMessages(r.Context(), conversationID, userID, limit, offset, excludeDeleted)
	if err != nil {
		h.respondError(w, err)
		return
	}

	utils.SuccessResponse(w, messages, http.StatusOK)
}

// SendMessage persists a message over REST and relays it to the room
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	msg, err := h.service.SendMessage(r.Context(), userID, &req)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.hub.RelayToRoom(msg.ConversationID, newWSMessage(WSTypeMessageRelayed, msg), nil)
	messagesRelayed.Inc()

	utils.SuccessResponse(w, msg, http.StatusCreated)
}

// EditMessage replaces a message's content, preserving the original on the
// first edit.
func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	messageID, err := pathID(r, "id")
	if err != nil {
		utils.ErrorResponse(w, "Invalid message ID", http.StatusBadRequest)
		return
	}

	var req EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	msg, err := h.service.EditMessage(r.Context(), messageID, userID, &req)
	if err != nil {
		h.respondError(w, err)
		return
	}

	utils.SuccessResponse(w, msg, http.StatusOK)
}

// DeleteMessage soft-deletes a message. The row stays, the content becomes
// the fixed placeholder, and the state is terminal.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	messageID, err := pathID(r, "id")
	if err != nil {
		utils.ErrorResponse(w, "Invalid message ID", http.StatusBadRequest)
		return
	}

	msg, err := h.service.DeleteMessage(r.Context(), messageID, userID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	utils.SuccessResponse(w, msg, http.StatusOK)
}

// MarkRead marks every unread message in the conversation as read for the
// caller and notifies the room.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	conversationID, err := pathID(r, "id")
	if err != nil {
		utils.ErrorResponse(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	if err := h.service.MarkConversationRead(r.Context(), conversationID, userID); err != nil {
		h.respondError(w, err)
		return
	}

	utils.MessageResponse(w, "Conversation marked as read", http.StatusOK)
}

// CloseConversation deactivates a conversation for all participants
func (h *Handler) CloseConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	conversationID, err := pathID(r, "id")
	if err != nil {
		utils.ErrorResponse(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	if err := h.service.CloseConversation(r.Context(), conversationID, userID); err != nil {
		h.respondError(w, err)
		return
	}

	utils.MessageResponse(w, "Conversation closed", http.StatusOK)
}

// SetArchived toggles the caller's archived flag for a conversation
func (h *Handler) SetArchived(archived bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.GetUserIDFromContext(r.Context())
		if !ok {
			utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		conversationID, err := pathID(r, "id")
		if err != nil {
			utils.ErrorResponse(w, "Invalid conversation ID", http.StatusBadRequest)
			return
		}

		if err := h.service.SetArchived(r.Context(), conversationID, userID, archived); err != nil {
			h.respondError(w, err)
			return
		}

		utils.MessageResponse(w, "Conversation updated", http.StatusOK)
	}
}

// SetMuted toggles the caller's muted flag for a conversation
func (h *Handler) SetMuted(muted bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.GetUserIDFromContext(r.Context())
		if !ok {
			utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		conversationID, err := pathID(r, "id")
		if err != nil {
			utils.ErrorResponse(w, "Invalid conversation ID", http.StatusBadRequest)
			return
		}

		if err := h.service.SetMuted(r.Context(), conversationID, userID, muted); err != nil {
			h.respondError(w, err)
			return
		}

		utils.MessageResponse(w, "Conversation updated", http.StatusOK)
	}
}

// UploadAttachment stores an attachment payload and returns its metadata so
// the client can reference it in a later send.
func (h *Handler) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.GetUserIDFromContext(r.Context()); !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}
	if h.storage == nil {
		utils.ErrorResponse(w, "Attachment storage is not configured", http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxAttachmentSize)
	if err := r.ParseMultipartForm(h.maxAttachmentSize); err != nil {
		utils.ErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.ErrorResponse(w, "Missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	attachment, err := h.storage.Upload(r.Context(), header.Filename, contentType, file, header.Size)
	if err != nil {
		h.logger.Errorw("attachment upload failed", "filename", header.Filename, "error", err)
		utils.ErrorResponse(w, "Failed to store attachment", http.StatusInternalServerError)
		return
	}

	utils.SuccessResponse(w, attachment, http.StatusCreated)
}

// PresenceSnapshot returns the current presence records
func (h *Handler) PresenceSnapshot(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.GetUserIDFromContext(r.Context()); !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	utils.SuccessResponse(w, PresenceSnapshotPayload{Records: h.hub.presence.Snapshot()}, http.StatusOK)
}

// respondError maps service errors to HTTP statuses
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrConversationNotFound), errors.Is(err, ErrMessageNotFound):
		utils.ErrorResponse(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrNotParticipant), errors.Is(err, ErrReceiverNotParticipant), errors.Is(err, ErrNotSender):
		utils.ErrorResponse(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrMessageDeleted), errors.Is(err, ErrConversationInactive):
		utils.ErrorResponse(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrInvalidParticipants), errors.Is(err, ErrInvalidSystemData), errors.Is(err, ErrMessageTooLong):
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Errorw("request failed", "error", err)
		utils.ErrorResponse(w, "Internal server error", http.StatusInternalServerError)
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}
