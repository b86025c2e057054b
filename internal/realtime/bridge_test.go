package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swiftdrop/authlink/internal/config"
	"github.com/swiftdrop/authlink/internal/token"
)

// fakeTransport records connects and joins per connection generation.
type fakeTransport struct {
	mu          sync.Mutex
	events      chan Event
	connects    int
	disconnects int
	failures    int // fail this many Connect calls before succeeding
	joinsByConn map[int][]string
	lastHeader  http.Header
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events:      make(chan Event, 16),
		joinsByConn: make(map[int][]string),
	}
}

func (f *fakeTransport) Connect(ctx context.Context, header http.Header) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.lastHeader = header
	if f.failures > 0 {
		f.failures--
		return errors.New("dial failed")
	}
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeTransport) Emit(event string, payload any) error { return nil }

func (f *fakeTransport) Join(room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinsByConn[f.connects] = append(f.joinsByConn[f.connects], room)
	return nil
}

func (f *fakeTransport) Leave(room string) error { return nil }

func (f *fakeTransport) Events() <-chan Event { return f.events }

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) joins(conn int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.joinsByConn[conn]))
	copy(out, f.joinsByConn[conn])
	return out
}

func authHeaders() http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer A1")
	return h
}

type bridgeFixture struct {
	store     *token.Store
	transport *fakeTransport
	bridge    *Bridge
	states    chan State
}

func newBridgeFixture(t *testing.T, maxAttempts int) *bridgeFixture {
	t.Helper()
	store := token.NewStore(nil, zerolog.Nop())
	t.Cleanup(store.Close)
	store.Set(&token.Pair{AccessToken: "A1", RefreshToken: "R1"})

	transport := newFakeTransport()
	bridge := NewBridge(store, transport, authHeaders, config.Realtime{
		MaxReconnectAttempts: maxAttempts,
		ReconnectBackoff:     time.Millisecond,
	}, zerolog.Nop())
	t.Cleanup(bridge.Close)

	states := make(chan State, 64)
	bridge.Machine().OnChange(func(s State) { states <- s })

	return &bridgeFixture{store: store, transport: transport, bridge: bridge, states: states}
}

func (fx *bridgeFixture) waitFor(t *testing.T, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-fx.states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s (currently %s)", want, fx.bridge.Machine().Current())
		}
	}
}

func (fx *bridgeFixture) authenticate(t *testing.T) {
	t.Helper()
	fx.transport.events <- Event{Type: EventAuthAck}
	fx.waitFor(t, StateAuthenticated)
}

func TestBridgeConnectAndAuthenticate(t *testing.T) {
	fx := newBridgeFixture(t, 3)

	require.NoError(t, fx.bridge.Connect(context.Background()))
	assert.Equal(t, StateConnected, fx.bridge.Machine().Current())
	fx.authenticate(t)

	assert.Equal(t, "Bearer A1", fx.transport.lastHeader.Get("Authorization"))
}

// Scenario D: while authenticated with {roomA}, a token change forces a
// reconnect; after re-authentication roomA is rejoined exactly once.
func TestBridgeTokenChangeReconnectsAndRejoinsRooms(t *testing.T) {
	fx := newBridgeFixture(t, 3)

	require.NoError(t, fx.bridge.Connect(context.Background()))
	fx.authenticate(t)
	require.NoError(t, fx.bridge.Join("roomA"))
	assert.Equal(t, []string{"roomA"}, fx.transport.joins(1))

	fx.store.Set(&token.Pair{AccessToken: "A2", RefreshToken: "R2"})
	fx.waitFor(t, StateConnected)
	require.Equal(t, 2, fx.transport.connectCount(), "token change must re-establish the connection")

	fx.transport.events <- Event{Type: EventAuthAck}
	fx.waitFor(t, StateAuthenticated)

	assert.Equal(t, []string{"roomA"}, fx.transport.joins(2), "roomA rejoined exactly once on the new connection")
}

func TestBridgeClearedTokenDisconnects(t *testing.T) {
	fx := newBridgeFixture(t, 3)

	require.NoError(t, fx.bridge.Connect(context.Background()))
	fx.authenticate(t)

	fx.store.Clear()
	fx.waitFor(t, StateDisconnected)
}

func TestBridgeTransportErrorTriggersBoundedReconnect(t *testing.T) {
	fx := newBridgeFixture(t, 3)

	require.NoError(t, fx.bridge.Connect(context.Background()))
	fx.authenticate(t)

	// Every further dial fails; the bridge must stop at exactly the
	// configured budget and land in Error, not loop forever.
	fx.transport.mu.Lock()
	fx.transport.failures = 1 << 30
	fx.transport.mu.Unlock()

	fx.transport.events <- Event{Type: EventError, Err: errors.New("connection reset")}
	fx.waitFor(t, StateError)

	assert.Equal(t, 1+3, fx.transport.connectCount(), "initial connect plus exactly three reconnect attempts")
}

func TestBridgeExplicitReconnectLeavesErrorState(t *testing.T) {
	fx := newBridgeFixture(t, 1)

	require.NoError(t, fx.bridge.Connect(context.Background()))
	fx.authenticate(t)

	fx.transport.mu.Lock()
	fx.transport.failures = 1
	fx.transport.mu.Unlock()
	fx.transport.events <- Event{Type: EventError, Err: errors.New("connection reset")}
	fx.waitFor(t, StateError)

	fx.bridge.Reconnect()
	fx.waitFor(t, StateConnected)
}

func TestBridgeJoinBeforeAuthenticationIsDeferred(t *testing.T) {
	fx := newBridgeFixture(t, 3)

	require.NoError(t, fx.bridge.Join("roomA"))
	require.NoError(t, fx.bridge.Connect(context.Background()))
	assert.Empty(t, fx.transport.joins(1), "no join before the server acknowledges auth")

	fx.authenticate(t)
	assert.Equal(t, []string{"roomA"}, fx.transport.joins(1))
}

func TestBridgeLeaveShrinksDesiredSet(t *testing.T) {
	fx := newBridgeFixture(t, 3)

	require.NoError(t, fx.bridge.Connect(context.Background()))
	fx.authenticate(t)
	require.NoError(t, fx.bridge.Join("roomA"))
	require.NoError(t, fx.bridge.Join("roomB"))
	require.NoError(t, fx.bridge.Leave("roomB"))

	fx.store.Set(&token.Pair{AccessToken: "A2", RefreshToken: "R2"})
	fx.waitFor(t, StateConnected)
	fx.transport.events <- Event{Type: EventAuthAck}
	fx.waitFor(t, StateAuthenticated)

	assert.Equal(t, []string{"roomA"}, fx.transport.joins(2))
}
