// internal/messaging/hub.go
// Connection lifecycle manager and broadcast plumbing

package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Hub owns every live connection, the presence registry and the room
// router. Authentication success and disconnect are the only two events that
// mutate presence, and both flow through here.
type Hub struct {
	// Authenticated clients, one per user. A newer connection for the same
	// user replaces and closes the older one.
	clients    map[int64]*Client
	clientsMux sync.RWMutex

	presence PresenceRegistry
	rooms    *RoomRouter

	// Optional cross-instance broadcast fabric. Nil for single-instance
	// deployments.
	fabric     Fabric
	instanceID string

	logger *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates a hub over the given presence registry
func NewHub(presence PresenceRegistry, logger *zap.SugaredLogger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		clients:  make(map[int64]*Client),
		presence: presence,
		rooms:    NewRoomRouter(),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetFabric attaches a cross-instance broadcast fabric and starts consuming
// remote envelopes. Call before serving traffic.
func (h *Hub) SetFabric(fabric Fabric, instanceID string) {
	h.fabric = fabric
	h.instanceID = instanceID
	fabric.Subscribe(h.ctx, h.deliverRemote)
}

// Rooms exposes the room router
func (h *Hub) Rooms() *RoomRouter {
	return h.rooms
}

// RegisterClient moves an authenticated connection into the hub: the
// presence registry gains (or replaces) the user's record, every connection
// receives a fresh presence snapshot, and the others get a user_joined
// delta.
func (h *Hub) RegisterClient(c *Client) {
	h.clientsMux.Lock()
	if old, exists := h.clients[c.userID]; exists && old != c {
		// Reconnect supersedes the old session
		old.Close()
		h.rooms.LeaveAll(old)
	}
	h.clients[c.userID] = c
	h.clientsMux.Unlock()

	rec := PresenceRecord{
		UserID:       c.userID,
		ConnectionID: c.connectionID,
		LastSeen:     time.Now(),
	}
	h.presence.Register(rec)

	connectionsTotal.Inc()
	activeConnections.Set(float64(h.ActiveConnections()))

	h.BroadcastSnapshot()
	h.broadcastToOthers(c.userID, newWSMessage(WSTypeUserJoined, UserJoinedPayload{Record: rec}))

	h.logger.Infow("user connected", "user_id", c.userID, "connection_id", c.connectionID, "clients", h.ActiveConnections())
}

// UnregisterClient tears a connection down: rooms are left, the presence
// record is removed (unless a newer connection already replaced it), and the
// departure is broadcast exactly once.
func (h *Hub) UnregisterClient(c *Client) {
	h.clientsMux.Lock()
	if cur, exists := h.clients[c.userID]; exists && cur == c {
		delete(h.clients, c.userID)
	}
	h.clientsMux.Unlock()

	h.rooms.LeaveAll(c)
	c.Close()

	// Deregister is connection-scoped: if a reconnect already replaced this
	// record, the user is still online and no departure is broadcast.
	if h.presence.Deregister(c.userID, c.connectionID) {
		activeConnections.Set(float64(h.ActiveConnections()))
		h.BroadcastSnapshot()
		h.broadcastToOthers(c.userID, newWSMessage(WSTypeUserLeft, UserLeftPayload{UserID: c.userID}))
		h.logger.Infow("user disconnected", "user_id", c.userID, "connection_id", c.connectionID, "clients", h.ActiveConnections())
	}
}

// BroadcastSnapshot sends the full presence snapshot to every connection
func (h *Hub) BroadcastSnapshot() {
	msg := newWSMessage(WSTypePresenceSnapshot, PresenceSnapshotPayload{Records: h.presence.Snapshot()})
	h.broadcastAll(msg)
}

// RelayToRoom fans a message out to every connection in a conversation's
// room except the sender's. Delivery is best effort: a connection whose send
// buffer is full is dropped rather than allowed to stall the room.
func (h *Hub) RelayToRoom(conversationID int64, msg WSMessage, exclude *Client) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorw("failed to marshal relay message", "error", err)
		return
	}

	for _, c := range h.rooms.Connections(conversationID) {
		if exclude != nil && c.connectionID == exclude.connectionID {
			continue
		}
		h.deliver(c, data)
	}
	broadcastsTotal.WithLabelValues(msg.Type).Inc()

	if h.fabric != nil {
		var excludeUserID int64
		if exclude != nil {
			excludeUserID = exclude.userID
		}
		h.fabric.Publish(FabricEnvelope{
			Origin:         h.instanceID,
			ConversationID: conversationID,
			ExcludeUserID:  excludeUserID,
			Message:        msg,
		})
	}
}

// SendToUser delivers a message to a user's live connection, if any
func (h *Hub) SendToUser(userID int64, msg WSMessage) {
	h.clientsMux.RLock()
	c, exists := h.clients[userID]
	h.clientsMux.RUnlock()

	if !exists {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.deliver(c, data)
}

// IsUserOnline reports whether the user holds a live connection
func (h *Hub) IsUserOnline(userID int64) bool {
	return h.presence.IsOnline(userID)
}

// ActiveConnections returns the number of authenticated connections
func (h *Hub) ActiveConnections() int {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	return len(h.clients)
}

// Shutdown closes every connection and stops fabric consumption
func (h *Hub) Shutdown() {
	h.cancel()

	h.clientsMux.Lock()
	for _, c := range h.clients {
		c.Close()
	}
	h.clients = make(map[int64]*Client)
	h.clientsMux.Unlock()

	if h.fabric != nil {
		if err := h.fabric.Close(); err != nil {
			h.logger.Warnw("failed to close broadcast fabric", "error", err)
		}
	}

	h.wg.Wait()
}

func (h *Hub) broadcastAll(msg WSMessage) {
	h.broadcastToOthers(0, msg)
}

// broadcastToOthers sends to every local connection except excludeUserID's
// (0 excludes nobody) and forwards the envelope to the fabric so other
// instances see presence changes too.
func (h *Hub) broadcastToOthers(excludeUserID int64, msg WSMessage) {
	h.broadcastLocal(excludeUserID, msg)

	if h.fabric != nil {
		h.fabric.Publish(FabricEnvelope{
			Origin:        h.instanceID,
			ExcludeUserID: excludeUserID,
			Message:       msg,
		})
	}
}

// broadcastLocal delivers to this instance's connections only. Remote
// envelopes are applied through here, never republished.
func (h *Hub) broadcastLocal(excludeUserID int64, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorw("failed to marshal broadcast", "error", err)
		return
	}

	h.clientsMux.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for userID, c := range h.clients {
		if excludeUserID != 0 && userID == excludeUserID {
			continue
		}
		targets = append(targets, c)
	}
	h.clientsMux.RUnlock()

	for _, c := range targets {
		h.deliver(c, data)
	}
	broadcastsTotal.WithLabelValues(msg.Type).Inc()
}

// deliver writes to a client's send buffer without blocking. A full buffer
// means the connection has stopped draining; it gets unregistered instead of
// holding everyone else up.
func (h *Hub) deliver(c *Client, data []byte) {
	if !c.trySend(data) {
		signalsDropped.WithLabelValues("slow_consumer").Inc()
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.UnregisterClient(c)
		}()
	}
}

// deliverRemote applies a fabric envelope published by another instance
func (h *Hub) deliverRemote(env FabricEnvelope) {
	if env.Origin == h.instanceID {
		return
	}

	data, err := json.Marshal(env.Message)
	if err != nil {
		return
	}

	if env.ConversationID != 0 {
		for _, c := range h.rooms.Connections(env.ConversationID) {
			if env.ExcludeUserID != 0 && c.userID == env.ExcludeUserID {
				continue
			}
			h.deliver(c, data)
		}
		return
	}

	h.broadcastLocal(env.ExcludeUserID, env.Message)
}
