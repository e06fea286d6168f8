// internal/messaging/client.go

package messaging

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/servicelink/marketplace-backend/internal/auth"
	"github.com/servicelink/marketplace-backend/internal/common/utils"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the authenticate signal to arrive
	authWait = 30 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB

	// Buffered outbound messages per client
	sendBufferSize = 256
)

// Connection states. Unauthenticated accepts exactly one authenticate
// signal; Terminated is absorbing.
const (
	stateUnauthenticated = iota
	stateAuthenticated
	stateTerminated
)

// Client is one live connection and its lifecycle state machine. Inbound
// signals are processed inline on the read loop, so a connection's own
// signals keep their transport order.
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	connectionID string
	userID       int64
	state        int

	verifier auth.Verifier
	relay    *Relay
	logger   *zap.SugaredLogger

	sendMu     sync.RWMutex
	sendClosed bool
	closeOnce  sync.Once
}

// NewClient wraps an accepted connection. The client starts unauthenticated
// and holds no user identity until the authenticate signal is verified.
func NewClient(hub *Hub, conn *websocket.Conn, verifier auth.Verifier, relay *Relay, logger *zap.SugaredLogger) *Client {
	return &Client{
		hub:          hub,
		conn:         conn,
		send:         make(chan []byte, sendBufferSize),
		connectionID: uuid.NewString(),
		verifier:     verifier,
		relay:        relay,
		logger:       logger,
	}
}

// Start runs the read and write pumps
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// Close releases the connection. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.sendMu.Lock()
		c.sendClosed = true
		close(c.send)
		c.sendMu.Unlock()

		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// trySend queues outbound data without blocking. Reports false when the
// client is closed or its buffer is full.
func (c *Client) trySend(data []byte) bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()

	if c.sendClosed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// sendEnvelope marshals and queues a single envelope for this client
func (c *Client) sendEnvelope(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *Client) readPump() {
	defer func() {
		if c.state == stateAuthenticated || c.userID != 0 {
			c.hub.UnregisterClient(c)
		} else {
			c.Close()
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	// The authenticate signal must arrive before the first deadline
	c.conn.SetReadDeadline(time.Now().Add(authWait))
	c.conn.SetPongHandler(func(string) error {
		if c.state == stateAuthenticated {
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
			c.hub.presence.Touch(c.userID)
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debugw("websocket read error", "connection_id", c.connectionID, "error", err)
			}
			break
		}

		// Inline processing keeps per-connection signal order
		c.processSignal(message)

		if c.state == stateTerminated {
			break
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current websocket frame
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processSignal dispatches one inbound envelope. Malformed signals are
// dropped and logged, never propagated to other connections.
func (c *Client) processSignal(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		signalsDropped.WithLabelValues("malformed").Inc()
		c.logger.Debugw("dropping malformed signal", "connection_id", c.connectionID, "error", err)
		return
	}

	if msg.Type == WSTypeAuthenticate {
		c.handleAuthenticate(msg.Data)
		return
	}

	if c.state != stateAuthenticated {
		signalsDropped.WithLabelValues("unauthenticated").Inc()
		c.logger.Debugw("dropping signal from unauthenticated connection", "connection_id", c.connectionID, "type", msg.Type)
		return
	}

	switch msg.Type {
	case WSTypeJoinRoom:
		c.relay.HandleJoinRoom(c, msg.Data)

	case WSTypeLeaveRoom:
		c.relay.HandleLeaveRoom(c, msg.Data)

	case WSTypeSendMessage:
		c.relay.HandleSend(c, msg.Data)

	case WSTypeMarkRead:
		c.relay.HandleMarkRead(c, msg.Data)

	case WSTypeTypingStart:
		c.relay.HandleTyping(c, msg.Data, true)

	case WSTypeTypingStop:
		c.relay.HandleTyping(c, msg.Data, false)

	default:
		signalsDropped.WithLabelValues("unknown_type").Inc()
		c.logger.Debugw("unknown signal type", "connection_id", c.connectionID, "type", msg.Type)
	}
}

// handleAuthenticate drives the one permitted authentication attempt. An
// invalid or missing credential terminates the connection with no retry on
// this channel; a repeat authenticate on an already-authenticated connection
// is a no-op.
func (c *Client) handleAuthenticate(data json.RawMessage) {
	switch c.state {
	case stateAuthenticated:
		c.logger.Debugw("ignoring repeat authenticate", "connection_id", c.connectionID, "user_id", c.userID)
		return
	case stateTerminated:
		return
	}

	var payload AuthenticatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.terminate("invalid authenticate payload")
		return
	}
	if err := utils.ValidateStruct(&payload); err != nil {
		c.terminate("missing credential")
		return
	}

	identity, err := c.verifier.Verify(payload.Token)
	if err != nil {
		authFailures.Inc()
		c.terminate("credential rejected")
		return
	}

	c.userID = identity.UserID
	c.state = stateAuthenticated
	if c.conn != nil {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}

	c.hub.RegisterClient(c)
}

// terminate moves the connection to the absorbing Terminated state
func (c *Client) terminate(reason string) {
	c.state = stateTerminated
	c.logger.Infow("terminating connection", "connection_id", c.connectionID, "reason", reason)
	c.sendEnvelope(newWSError("authentication_failed", reason))
	if c.conn != nil {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
			time.Now().Add(writeWait))
	}
}
