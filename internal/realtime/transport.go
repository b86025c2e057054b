package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/swiftdrop/authlink/internal/config"
)

// EventType identifies transport lifecycle events the bridge reacts to.
type EventType string

const (
	// EventAuthAck means the server acknowledged the connection's
	// credentials; the transport authenticates once at connect time.
	EventAuthAck EventType = "auth_ack"
	// EventError is a transport-level failure on an established
	// connection.
	EventError EventType = "error"
)

// Event is delivered on the transport's event channel.
type Event struct {
	Type EventType
	Err  error
}

// Transport is the realtime client consumed by the bridge: connect and
// disconnect plus the join/leave/emit primitives.
type Transport interface {
	Connect(ctx context.Context, header http.Header) error
	Disconnect() error
	Emit(event string, payload any) error
	Join(room string) error
	Leave(room string) error
	Events() <-chan Event
}

const (
	wsReadTimeout       = 60 * time.Second
	wsWriteTimeout      = 10 * time.Second
	wsHandshakeTimeout  = 15 * time.Second
	wsHeartbeatInterval = 30 * time.Second
	wsMaxMessageSize    = 1 << 20

	eventAuthAckName = "auth:ack"
	eventJoinName    = "room:join"
	eventLeaveName   = "room:leave"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// WSTransport implements Transport over a websocket connection. The
// socket endpoint is resolved from the runtime config at each Connect.
type WSTransport struct {
	runtime *config.Runtime
	logger  zerolog.Logger
	events  chan Event

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	closed    chan struct{}
	sessionID string
}

// NewWSTransport builds a websocket transport against the runtime's
// socket endpoint.
func NewWSTransport(runtime *config.Runtime, logger zerolog.Logger) *WSTransport {
	return &WSTransport{
		runtime: runtime,
		logger:  logger,
		events:  make(chan Event, 16),
	}
}

// Events returns the lifecycle event channel. Intentional disconnects do
// not produce events.
func (t *WSTransport) Events() <-chan Event { return t.events }

// Connect dials the socket endpoint with the given headers and starts the
// read and heartbeat pumps. An existing connection is torn down first.
func (t *WSTransport) Connect(ctx context.Context, header http.Header) error {
	t.Disconnect()

	endpoint := t.runtime.Snapshot().API.SocketEndpoint
	if endpoint == "" {
		return fmt.Errorf("socket endpoint is not configured")
	}

	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to dial socket endpoint: %w", err)
	}

	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	closed := make(chan struct{})
	t.mu.Lock()
	t.conn = conn
	t.closed = closed
	t.sessionID = uuid.NewString()
	sessionID := t.sessionID
	t.mu.Unlock()

	t.logger.Debug().Str("session_id", sessionID).Msg("socket connected")
	go t.readPump(conn, closed, sessionID)
	go t.heartbeat(conn, closed)
	return nil
}

// Disconnect closes the current connection, if any. It never emits an
// event: teardown initiated locally is not a transport failure.
func (t *WSTransport) Disconnect() error {
	t.mu.Lock()
	conn := t.conn
	closed := t.closed
	t.conn = nil
	t.closed = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	close(closed)
	t.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteTimeout))
	t.writeMu.Unlock()
	return conn.Close()
}

// Emit sends a named event frame over the connection.
func (t *WSTransport) Emit(event string, payload any) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return errors.New("socket is not connected")
	}

	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", event, err)
		}
		data = b
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(frame{Event: event, Data: data})
}

// Join subscribes the connection to a room.
func (t *WSTransport) Join(room string) error {
	return t.Emit(eventJoinName, map[string]string{"room": room})
}

// Leave unsubscribes the connection from a room.
func (t *WSTransport) Leave(room string) error {
	return t.Emit(eventLeaveName, map[string]string{"room": room})
}

func (t *WSTransport) readPump(conn *websocket.Conn, closed chan struct{}, sessionID string) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			select {
			case <-closed:
				// Local teardown; stay quiet.
			default:
				t.logger.Warn().Err(err).Str("session_id", sessionID).Msg("socket read failed")
				t.emitEvent(Event{Type: EventError, Err: err})
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		switch f.Event {
		case eventAuthAckName:
			t.emitEvent(Event{Type: EventAuthAck})
		default:
			// Business events (chat, order tracking) are handled by
			// their own consumers, not this core.
			t.logger.Debug().Str("event", f.Event).Str("session_id", sessionID).Msg("socket event")
		}
	}
}

func (t *WSTransport) heartbeat(conn *websocket.Conn, closed chan struct{}) {
	ticker := time.NewTicker(wsHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteTimeout))
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (t *WSTransport) emitEvent(ev Event) {
	select {
	case t.events <- ev:
	default:
		t.logger.Warn().Str("type", string(ev.Type)).Msg("dropping socket event, consumer is behind")
	}
}
