package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/swiftdrop/authlink/internal/config"
	"github.com/swiftdrop/authlink/internal/token"
)

// Bridge keeps the realtime transport authenticated. It subscribes to the
// token store at construction (independent of any UI lifecycle) and owns
// the connection state machine and the declarative room set: every
// transition into Authenticated re-issues joins for the full desired set,
// so reconnection is idempotent no matter how often it happens.
type Bridge struct {
	machine   *Machine
	transport Transport
	headerFn  func() http.Header
	logger    zerolog.Logger

	maxAttempts int
	backoff     time.Duration

	mu           sync.Mutex
	rooms        map[string]struct{}
	reconnecting bool

	unsubscribe func()
	done        chan struct{}
	closeOnce   sync.Once
}

// NewBridge wires the bridge to the store and starts consuming transport
// events. headerFn supplies the credential headers attached at connect
// time, re-evaluated on every dial.
func NewBridge(store *token.Store, transport Transport, headerFn func() http.Header, cfg config.Realtime, logger zerolog.Logger) *Bridge {
	b := &Bridge{
		machine:     NewMachine(),
		transport:   transport,
		headerFn:    headerFn,
		logger:      logger,
		maxAttempts: cfg.MaxReconnectAttempts,
		backoff:     cfg.ReconnectBackoff,
		rooms:       make(map[string]struct{}),
		done:        make(chan struct{}),
	}
	if b.maxAttempts < 1 {
		b.maxAttempts = 1
	}
	if b.backoff <= 0 {
		b.backoff = time.Second
	}
	b.unsubscribe = store.Subscribe(b.onTokenChange)
	go b.eventLoop()
	return b
}

// Machine exposes the connection state machine for observation.
func (b *Bridge) Machine() *Machine { return b.machine }

// Connect establishes the initial connection.
func (b *Bridge) Connect(ctx context.Context) error {
	if err := b.machine.To(StateConnecting); err != nil {
		return err
	}
	if err := b.transport.Connect(ctx, b.headerFn()); err != nil {
		b.machine.To(StateDisconnected)
		return err
	}
	return b.machine.To(StateConnected)
}

// Disconnect tears the connection down and returns to Disconnected.
func (b *Bridge) Disconnect() error {
	err := b.transport.Disconnect()
	b.machine.To(StateDisconnected)
	return err
}

// Reconnect restarts the connection from the terminal Error state. It is
// the only way out of Error; the bridge never retries past its attempt
// budget on its own.
func (b *Bridge) Reconnect() {
	if b.machine.Current() != StateError {
		return
	}
	go b.reconnectLoop()
}

// Join adds a room to the desired set. When currently authenticated the
// join is issued immediately; otherwise the next Authenticated transition
// picks it up.
func (b *Bridge) Join(room string) error {
	b.mu.Lock()
	b.rooms[room] = struct{}{}
	b.mu.Unlock()
	if b.machine.Current() == StateAuthenticated {
		return b.transport.Join(room)
	}
	return nil
}

// Leave removes a room from the desired set.
func (b *Bridge) Leave(room string) error {
	b.mu.Lock()
	delete(b.rooms, room)
	b.mu.Unlock()
	if b.machine.Current() == StateAuthenticated {
		return b.transport.Leave(room)
	}
	return nil
}

// Close stops the bridge: unsubscribes from the store, drops the
// connection and ends the event loop.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		if b.unsubscribe != nil {
			b.unsubscribe()
		}
		b.transport.Disconnect()
		b.machine.To(StateDisconnected)
		close(b.done)
	})
}

// onTokenChange runs on the store's dispatch goroutine. The transport
// negotiates credentials once at connect time, so a rotated token means
// the live connection is now carrying stale credentials.
func (b *Bridge) onTokenChange(pair *token.Pair) {
	state := b.machine.Current()
	if pair == nil {
		if state != StateDisconnected {
			b.logger.Info().Msg("session ended, disconnecting realtime transport")
			b.Disconnect()
		}
		return
	}
	if state == StateConnected || state == StateAuthenticated {
		b.logger.Info().Msg("token rotated, reconnecting realtime transport")
		go b.reconnectLoop()
	}
}

func (b *Bridge) eventLoop() {
	for {
		select {
		case <-b.done:
			return
		case ev := <-b.transport.Events():
			switch ev.Type {
			case EventAuthAck:
				if err := b.machine.To(StateAuthenticated); err != nil {
					b.logger.Warn().Err(err).Msg("unexpected auth ack")
					continue
				}
				b.rejoinRooms()
			case EventError:
				state := b.machine.Current()
				if state == StateConnected || state == StateAuthenticated {
					go b.reconnectLoop()
				}
			}
		}
	}
}

// rejoinRooms re-issues joins for the full desired set. Each room is
// joined exactly once per Authenticated transition.
func (b *Bridge) rejoinRooms() {
	b.mu.Lock()
	rooms := make([]string, 0, len(b.rooms))
	for room := range b.rooms {
		rooms = append(rooms, room)
	}
	b.mu.Unlock()

	for _, room := range rooms {
		if err := b.transport.Join(room); err != nil {
			b.logger.Warn().Err(err).Str("room", room).Msg("failed to rejoin room")
		}
	}
}

// reconnectLoop tears down and re-establishes the connection with fresh
// credentials, retrying up to the attempt budget with doubling backoff.
// Exhaustion lands in terminal Error.
func (b *Bridge) reconnectLoop() {
	b.mu.Lock()
	if b.reconnecting {
		b.mu.Unlock()
		return
	}
	b.reconnecting = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.reconnecting = false
		b.mu.Unlock()
	}()

	b.transport.Disconnect()
	if err := b.machine.To(StateReconnecting); err != nil {
		b.logger.Warn().Err(err).Msg("cannot enter reconnecting state")
		return
	}

	delay := b.backoff
	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		select {
		case <-b.done:
			return
		default:
		}

		if err := b.machine.To(StateConnecting); err != nil {
			return
		}
		err := b.transport.Connect(context.Background(), b.headerFn())
		if err == nil {
			b.machine.To(StateConnected)
			return
		}
		b.logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", b.maxAttempts).Msg("reconnect attempt failed")
		b.machine.To(StateReconnecting)

		if attempt < b.maxAttempts {
			select {
			case <-b.done:
				return
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	b.logger.Error().Int("attempts", b.maxAttempts).Msg("reconnect attempts exhausted, realtime transport requires explicit reconnect")
	b.machine.To(StateError)
}
