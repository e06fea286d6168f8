// internal/messaging/relay.go
// Bridges inbound connection signals to the message service and fans the
// results back out through the hub

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/servicelink/marketplace-backend/internal/common/utils"
)

// Store calls made on behalf of a websocket signal get this long
const relayStoreTimeout = 10 * time.Second

// Relay handles the authenticated signal set. Persistence always precedes
// fan-out: a message that fails to reach the store is never broadcast, and
// the sender learns about the failure through an error envelope instead of
// an ack.
type Relay struct {
	hub     *Hub
	service Service
	logger  *zap.SugaredLogger
}

// NewRelay wires the relay to the hub and the message service
func NewRelay(hub *Hub, service Service, logger *zap.SugaredLogger) *Relay {
	return &Relay{
		hub:     hub,
		service: service,
		logger:  logger,
	}
}

// HandleJoinRoom admits a connection into a conversation room after checking
// the user is a participant of the conversation.
func (r *Relay) HandleJoinRoom(c *Client, data json.RawMessage) {
	var payload RoomPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.ConversationID == 0 {
		signalsDropped.WithLabelValues("malformed").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), relayStoreTimeout)
	defer cancel()

	ok, err := r.service.IsParticipant(ctx, payload.ConversationID, c.userID)
	if err != nil {
		c.sendEnvelope(newWSError("store_error", "failed to verify conversation membership"))
		return
	}
	if !ok {
		c.sendEnvelope(newWSError("not_participant", "you are not a participant of this conversation"))
		return
	}

	r.hub.rooms.Join(c, payload.ConversationID)
	r.logger.Debugw("joined room", "user_id", c.userID, "conversation_id", payload.ConversationID)
}

// HandleLeaveRoom removes a connection from a room. Leaving a room the
// connection never joined is a no-op.
func (r *Relay) HandleLeaveRoom(c *Client, data json.RawMessage) {
	var payload RoomPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.ConversationID == 0 {
		signalsDropped.WithLabelValues("malformed").Inc()
		return
	}

	r.hub.rooms.Leave(c, payload.ConversationID)
}

// HandleSend persists an inbound message and, only after the store accepts
// it, relays it to the other connections in the room. The sender receives a
// message_ack carrying the stored message; room peers receive
// message_relayed.
func (r *Relay) HandleSend(c *Client, data json.RawMessage) {
	var req SendMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		signalsDropped.WithLabelValues("malformed").Inc()
		c.sendEnvelope(newWSError("invalid_payload", "malformed send_message payload"))
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		c.sendEnvelope(newWSError("invalid_payload", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), relayStoreTimeout)
	defer cancel()

	msg, err := r.service.SendMessage(ctx, c.userID, &req)
	if err != nil {
		r.logger.Warnw("send rejected", "user_id", c.userID, "conversation_id", req.ConversationID, "error", err)
		c.sendEnvelope(newWSError(wsErrorCode(err), err.Error()))
		return
	}

	r.hub.RelayToRoom(msg.ConversationID, newWSMessage(WSTypeMessageRelayed, msg), c)
	c.sendEnvelope(newWSMessage(WSTypeMessageAck, msg))
	messagesRelayed.Inc()
}

// HandleMarkRead marks the conversation read for the caller and notifies the
// room so other participants can update read receipts.
func (r *Relay) HandleMarkRead(c *Client, data json.RawMessage) {
	var payload MarkReadPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.ConversationID == 0 {
		signalsDropped.WithLabelValues("malformed").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), relayStoreTimeout)
	defer cancel()

	if err := r.service.MarkConversationRead(ctx, payload.ConversationID, c.userID); err != nil {
		c.sendEnvelope(newWSError(wsErrorCode(err), err.Error()))
		return
	}

	notice := ReadNotice{
		ConversationID: payload.ConversationID,
		UserID:         c.userID,
		ReadAt:         time.Now(),
	}
	r.hub.RelayToRoom(payload.ConversationID, newWSMessage(WSTypeReadNotice, notice), c)
}

// HandleTyping relays a typing indicator to the room. Indicators are
// ephemeral: nothing is persisted and a connection outside the room is
// simply ignored.
func (r *Relay) HandleTyping(c *Client, data json.RawMessage, isTyping bool) {
	var payload RoomPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.ConversationID == 0 {
		signalsDropped.WithLabelValues("malformed").Inc()
		return
	}

	if !r.hub.rooms.InRoom(c, payload.ConversationID) {
		signalsDropped.WithLabelValues("not_in_room").Inc()
		return
	}

	notice := TypingNotice{
		ConversationID: payload.ConversationID,
		UserID:         c.userID,
		IsTyping:       isTyping,
	}
	r.hub.RelayToRoom(payload.ConversationID, newWSMessage(WSTypeTypingNotice, notice), c)
}

// wsErrorCode maps service errors to wire error codes
func wsErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrConversationNotFound), errors.Is(err, ErrMessageNotFound):
		return "not_found"
	case errors.Is(err, ErrNotParticipant), errors.Is(err, ErrReceiverNotParticipant):
		return "not_participant"
	case errors.Is(err, ErrNotSender):
		return "not_sender"
	case errors.Is(err, ErrMessageDeleted):
		return "message_deleted"
	case errors.Is(err, ErrMessageTooLong), errors.Is(err, ErrInvalidSystemData):
		return "invalid_payload"
	default:
		return "store_error"
	}
}
