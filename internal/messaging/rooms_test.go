package messaging

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func newTestClient(userID int64) *Client {
	return &Client{
		userID:       userID,
		connectionID: uuid.NewString(),
		send:         make(chan []byte, 64),
		state:        stateAuthenticated,
	}
}

func TestRoomRouterJoinAndConnections(t *testing.T) {
	router := NewRoomRouter()
	c1 := newTestClient(1)
	c2 := newTestClient(2)

	router.Join(c1, 100)
	router.Join(c2, 100)

	assert.Len(t, router.Connections(100), 2)
	assert.True(t, router.InRoom(c1, 100))
	assert.True(t, router.InRoom(c2, 100))
	assert.Equal(t, 1, router.RoomCount())
}

func TestRoomRouterJoinIsIdempotent(t *testing.T) {
	router := NewRoomRouter()
	c := newTestClient(1)

	router.Join(c, 100)
	router.Join(c, 100)

	assert.Len(t, router.Connections(100), 1)
}

func TestRoomRouterLeaveUnjoinedRoomIsNoOp(t *testing.T) {
	router := NewRoomRouter()
	c := newTestClient(1)

	router.Leave(c, 100)

	assert.Equal(t, 0, router.RoomCount())
	assert.False(t, router.InRoom(c, 100))
}

func TestRoomRouterLeaveRemovesEmptyRoom(t *testing.T) {
	router := NewRoomRouter()
	c := newTestClient(1)

	router.Join(c, 100)
	router.Leave(c, 100)

	assert.Equal(t, 0, router.RoomCount())
	assert.Empty(t, router.Connections(100))
}

func TestRoomRouterLeaveAll(t *testing.T) {
	router := NewRoomRouter()
	c1 := newTestClient(1)
	c2 := newTestClient(2)

	router.Join(c1, 100)
	router.Join(c1, 200)
	router.Join(c2, 100)

	router.LeaveAll(c1)

	assert.False(t, router.InRoom(c1, 100))
	assert.False(t, router.InRoom(c1, 200))
	assert.True(t, router.InRoom(c2, 100))
	assert.Len(t, router.Connections(100), 1)
}
