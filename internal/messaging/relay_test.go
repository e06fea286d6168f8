package messaging

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/servicelink/marketplace-backend/internal/common/logger"
)

func newRelayFixture(t *testing.T) (*Relay, *Hub, *mockRepository) {
	t.Helper()

	repo := new(mockRepository)
	svc := NewService(repo, nil, nil, 0, logger.Nop())
	hub := NewHub(NewMemoryRegistry(), logger.Nop())
	svc.SetHub(hub)

	return NewRelay(hub, svc, logger.Nop()), hub, repo
}

func payload(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestRelayJoinRoomRequiresMembership(t *testing.T) {
	relay, hub, repo := newRelayFixture(t)
	c := newTestClient(1)
	hub.RegisterClient(c)
	drainSignals(t, c)

	repo.On("IsParticipant", mock.Anything, int64(10), int64(1)).Return(false, nil)

	relay.HandleJoinRoom(c, payload(t, RoomPayload{ConversationID: 10}))

	assert.False(t, hub.rooms.InRoom(c, 10))
	signals := drainSignals(t, c)
	require.Len(t, signals[WSTypeError], 1)

	var wsErr WSError
	require.NoError(t, json.Unmarshal(signals[WSTypeError][0].Data, &wsErr))
	assert.Equal(t, "not_participant", wsErr.Code)
}

func TestRelayJoinRoomAdmitsParticipant(t *testing.T) {
	relay, hub, repo := newRelayFixture(t)
	c := newTestClient(1)
	hub.RegisterClient(c)

	repo.On("IsParticipant", mock.Anything, int64(10), int64(1)).Return(true, nil)

	relay.HandleJoinRoom(c, payload(t, RoomPayload{ConversationID: 10}))

	assert.True(t, hub.rooms.InRoom(c, 10))
}

func TestRelaySendAcksSenderAndRelaysToPeers(t *testing.T) {
	relay, hub, repo := newRelayFixture(t)
	sender := newTestClient(1)
	peer := newTestClient(2)
	hub.RegisterClient(sender)
	hub.RegisterClient(peer)
	hub.rooms.Join(sender, 10)
	hub.rooms.Join(peer, 10)
	drainSignals(t, sender)
	drainSignals(t, peer)

	repo.On("GetConversation", mock.Anything, int64(10)).Return(activeConversation(10, 1, 2), nil)
	repo.On("CreateMessage", mock.Anything, mock.AnythingOfType("*messaging.Message")).Run(func(args mock.Arguments) {
		args.Get(1).(*Message).ID = 77
	}).Return(nil)

	relay.HandleSend(sender, payload(t, SendMessageRequest{
		ConversationID: 10,
		ReceiverID:     2,
		Content:        "hello",
	}))

	senderSignals := drainSignals(t, sender)
	require.Len(t, senderSignals[WSTypeMessageAck], 1)
	assert.Empty(t, senderSignals[WSTypeMessageRelayed])

	var acked Message
	require.NoError(t, json.Unmarshal(senderSignals[WSTypeMessageAck][0].Data, &acked))
	assert.Equal(t, int64(77), acked.ID)

	peerSignals := drainSignals(t, peer)
	require.Len(t, peerSignals[WSTypeMessageRelayed], 1)
	assert.Empty(t, peerSignals[WSTypeMessageAck])
}

func TestRelaySendStoreFailureMeansNoBroadcast(t *testing.T) {
	relay, hub, repo := newRelayFixture(t)
	sender := newTestClient(1)
	peer := newTestClient(2)
	hub.RegisterClient(sender)
	hub.RegisterClient(peer)
	hub.rooms.Join(sender, 10)
	hub.rooms.Join(peer, 10)
	drainSignals(t, sender)
	drainSignals(t, peer)

	repo.On("GetConversation", mock.Anything, int64(10)).Return(activeConversation(10, 1, 2), nil)
	repo.On("CreateMessage", mock.Anything, mock.Anything).Return(errors.New("connection reset"))

	relay.HandleSend(sender, payload(t, SendMessageRequest{
		ConversationID: 10,
		ReceiverID:     2,
		Content:        "hello",
	}))

	senderSignals := drainSignals(t, sender)
	require.Len(t, senderSignals[WSTypeError], 1)
	assert.Empty(t, senderSignals[WSTypeMessageAck])

	// The peer must not see a message the store never accepted
	peerSignals := drainSignals(t, peer)
	assert.Empty(t, peerSignals[WSTypeMessageRelayed])
}

func TestRelaySendRejectionCarriesErrorCode(t *testing.T) {
	relay, hub, repo := newRelayFixture(t)
	sender := newTestClient(3)
	hub.RegisterClient(sender)
	drainSignals(t, sender)

	repo.On("GetConversation", mock.Anything, int64(10)).Return(activeConversation(10, 1, 2), nil)

	relay.HandleSend(sender, payload(t, SendMessageRequest{
		ConversationID: 10,
		ReceiverID:     2,
		Content:        "hello",
	}))

	signals := drainSignals(t, sender)
	require.Len(t, signals[WSTypeError], 1)

	var wsErr WSError
	require.NoError(t, json.Unmarshal(signals[WSTypeError][0].Data, &wsErr))
	assert.Equal(t, "not_participant", wsErr.Code)
}

func TestRelayMarkReadNotifiesRoom(t *testing.T) {
	relay, hub, repo := newRelayFixture(t)
	reader := newTestClient(1)
	peer := newTestClient(2)
	hub.RegisterClient(reader)
	hub.RegisterClient(peer)
	hub.rooms.Join(reader, 10)
	hub.rooms.Join(peer, 10)
	drainSignals(t, reader)
	drainSignals(t, peer)

	repo.On("IsParticipant", mock.Anything, int64(10), int64(1)).Return(true, nil)
	repo.On("MarkConversationRead", mock.Anything, int64(10), int64(1)).Return(int64(2), nil)

	relay.HandleMarkRead(reader, payload(t, MarkReadPayload{ConversationID: 10}))

	peerSignals := drainSignals(t, peer)
	require.Len(t, peerSignals[WSTypeReadNotice], 1)

	var notice ReadNotice
	require.NoError(t, json.Unmarshal(peerSignals[WSTypeReadNotice][0].Data, &notice))
	assert.Equal(t, int64(10), notice.ConversationID)
	assert.Equal(t, int64(1), notice.UserID)

	assert.Empty(t, drainSignals(t, reader)[WSTypeReadNotice])
}

func TestRelayTypingRequiresRoomMembership(t *testing.T) {
	relay, hub, _ := newRelayFixture(t)
	typist := newTestClient(1)
	peer := newTestClient(2)
	hub.RegisterClient(typist)
	hub.RegisterClient(peer)
	hub.rooms.Join(peer, 10)
	drainSignals(t, peer)

	// The typist never joined the room; nothing is relayed
	relay.HandleTyping(typist, payload(t, RoomPayload{ConversationID: 10}), true)

	assert.Empty(t, drainSignals(t, peer)[WSTypeTypingNotice])
}

func TestRelayTypingNotice(t *testing.T) {
	relay, hub, _ := newRelayFixture(t)
	typist := newTestClient(1)
	peer := newTestClient(2)
	hub.RegisterClient(typist)
	hub.RegisterClient(peer)
	hub.rooms.Join(typist, 10)
	hub.rooms.Join(peer, 10)
	drainSignals(t, typist)
	drainSignals(t, peer)

	relay.HandleTyping(typist, payload(t, RoomPayload{ConversationID: 10}), true)
	relay.HandleTyping(typist, payload(t, RoomPayload{ConversationID: 10}), false)

	peerSignals := drainSignals(t, peer)
	require.Len(t, peerSignals[WSTypeTypingNotice], 2)

	var start, stop TypingNotice
	require.NoError(t, json.Unmarshal(peerSignals[WSTypeTypingNotice][0].Data, &start))
	require.NoError(t, json.Unmarshal(peerSignals[WSTypeTypingNotice][1].Data, &stop))
	assert.True(t, start.IsTyping)
	assert.False(t, stop.IsTyping)

	// Typing is ephemeral and never echoes back to the typist
	assert.Empty(t, drainSignals(t, typist)[WSTypeTypingNotice])
}
