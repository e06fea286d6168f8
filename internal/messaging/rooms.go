// internal/messaging/rooms.go
// Conversation room router: fan-out grouping of connections

package messaging

import "sync"

// RoomRouter maps conversations to the connections subscribed to them.
// Rooms are purely a fan-out mechanism; authorization is enforced before a
// join is admitted (participant membership check against the store) and
// again at persistence time for every send.
type RoomRouter struct {
	mu sync.RWMutex

	// conversationID -> connectionID -> client
	rooms map[int64]map[string]*Client
	// connectionID -> set of joined conversationIDs
	joined map[string]map[int64]struct{}
}

// NewRoomRouter creates an empty router
func NewRoomRouter() *RoomRouter {
	return &RoomRouter{
		rooms:  make(map[int64]map[string]*Client),
		joined: make(map[string]map[int64]struct{}),
	}
}

// Join subscribes a connection to a conversation room. Joining a room the
// connection is already in is a no-op.
func (r *RoomRouter) Join(c *Client, conversationID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[conversationID]
	if !ok {
		room = make(map[string]*Client)
		r.rooms[conversationID] = room
	}
	room[c.connectionID] = c

	convs, ok := r.joined[c.connectionID]
	if !ok {
		convs = make(map[int64]struct{})
		r.joined[c.connectionID] = convs
	}
	convs[conversationID] = struct{}{}
}

// Leave unsubscribes a connection from a room. Leaving a room the connection
// never joined is a no-op.
func (r *RoomRouter) Leave(c *Client, conversationID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaveLocked(c.connectionID, conversationID)
}

// LeaveAll removes a connection from every room it joined. Called on
// disconnect before any further signal from the connection can be processed.
func (r *RoomRouter) LeaveAll(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for conversationID := range r.joined[c.connectionID] {
		r.leaveLocked(c.connectionID, conversationID)
	}
}

func (r *RoomRouter) leaveLocked(connectionID string, conversationID int64) {
	if room, ok := r.rooms[conversationID]; ok {
		delete(room, connectionID)
		if len(room) == 0 {
			delete(r.rooms, conversationID)
		}
	}
	if convs, ok := r.joined[connectionID]; ok {
		delete(convs, conversationID)
		if len(convs) == 0 {
			delete(r.joined, connectionID)
		}
	}
}

// Connections returns the clients currently subscribed to a room
func (r *RoomRouter) Connections(conversationID int64) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[conversationID]
	out := make([]*Client, 0, len(room))
	for _, c := range room {
		out = append(out, c)
	}
	return out
}

// InRoom reports whether a connection is subscribed to a room
func (r *RoomRouter) InRoom(c *Client, conversationID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.joined[c.connectionID][conversationID]
	return ok
}

// RoomCount returns the number of non-empty rooms
func (r *RoomRouter) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms)
}
