package token

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu      sync.Mutex
	pair    *Pair
	saveErr error
	loadErr error
	saves   int
	clears  int
}

func (f *fakeBackend) Load() (*Pair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.pair.Clone(), nil
}

func (f *fakeBackend) Save(pair *Pair) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.pair = pair.Clone()
	return nil
}

func (f *fakeBackend) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	f.pair = nil
	return nil
}

func waitForPair(t *testing.T, ch <-chan *Pair) *Pair {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscriber notification")
		return nil
	}
}

func TestStoreHydratesFromBackend(t *testing.T) {
	backend := &fakeBackend{pair: &Pair{AccessToken: "A1", RefreshToken: "R1"}}
	store := NewStore(backend, zerolog.Nop())
	defer store.Close()

	pair := store.Get()
	require.NotNil(t, pair)
	assert.Equal(t, "A1", pair.AccessToken)
	assert.Equal(t, "R1", pair.RefreshToken)
}

func TestStoreHydrationFailureMeansEmptySession(t *testing.T) {
	backend := &fakeBackend{loadErr: errors.New("disk gone")}
	store := NewStore(backend, zerolog.Nop())
	defer store.Close()

	assert.Nil(t, store.Get())
}

func TestStoreSetStampsIssuedAtAndPersists(t *testing.T) {
	backend := &fakeBackend{}
	store := NewStore(backend, zerolog.Nop())
	defer store.Close()

	before := time.Now().UTC()
	store.Set(&Pair{AccessToken: "A1", RefreshToken: "R1"})

	pair := store.Get()
	require.NotNil(t, pair)
	assert.False(t, pair.IssuedAt.Before(before))

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, 1, backend.saves)
	require.NotNil(t, backend.pair)
	assert.Equal(t, "A1", backend.pair.AccessToken)
}

func TestStoreSurvivesDurableWriteFailure(t *testing.T) {
	backend := &fakeBackend{saveErr: errors.New("keychain locked")}
	store := NewStore(backend, zerolog.Nop())
	defer store.Close()

	store.Set(&Pair{AccessToken: "A1", RefreshToken: "R1"})

	pair := store.Get()
	require.NotNil(t, pair)
	assert.Equal(t, "A1", pair.AccessToken, "in-memory state must update even when persistence fails")
}

func TestStoreNotifiesSubscribersInOrder(t *testing.T) {
	store := NewStore(&fakeBackend{}, zerolog.Nop())
	defer store.Close()

	got := make(chan *Pair, 8)
	unsubscribe := store.Subscribe(func(p *Pair) { got <- p })
	defer unsubscribe()

	store.Set(&Pair{AccessToken: "A1", RefreshToken: "R1"})
	store.Set(&Pair{AccessToken: "A2", RefreshToken: "R2"})
	store.Clear()

	first := waitForPair(t, got)
	require.NotNil(t, first)
	assert.Equal(t, "A1", first.AccessToken)

	second := waitForPair(t, got)
	require.NotNil(t, second)
	assert.Equal(t, "A2", second.AccessToken)

	assert.Nil(t, waitForPair(t, got), "clear must notify with nil")
}

func TestStoreUnsubscribeStopsNotifications(t *testing.T) {
	store := NewStore(&fakeBackend{}, zerolog.Nop())
	defer store.Close()

	got := make(chan *Pair, 8)
	unsubscribe := store.Subscribe(func(p *Pair) { got <- p })

	store.Set(&Pair{AccessToken: "A1", RefreshToken: "R1"})
	waitForPair(t, got)

	unsubscribe()
	store.Set(&Pair{AccessToken: "A2", RefreshToken: "R2"})

	select {
	case p := <-got:
		t.Fatalf("unexpected notification after unsubscribe: %+v", p)
	case <-time.After(100 * time.Millisecond):
	}
}

// Racing Set against Clear must never deliver notifications out of
// mutation order: the last notification a subscriber sees has to describe
// the state Get returns once everything settles, or a consumer like the
// realtime bridge is left acting on a session that no longer exists.
func TestStoreNotificationOrderMatchesMutationOrderUnderRace(t *testing.T) {
	store := NewStore(&fakeBackend{}, zerolog.Nop())
	defer store.Close()

	var mu sync.Mutex
	var last *Pair
	var delivered int
	store.Subscribe(func(p *Pair) {
		mu.Lock()
		last = p
		delivered++
		mu.Unlock()
	})

	const rounds = 200
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			store.Set(&Pair{AccessToken: "A1", RefreshToken: "R1"})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			store.Clear()
		}
	}()
	wg.Wait()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered == 2*rounds
	}, 2*time.Second, time.Millisecond, "every mutation notifies exactly once")

	final := store.Get()
	mu.Lock()
	defer mu.Unlock()
	if final == nil {
		assert.Nil(t, last, "subscriber view must end on the cleared state")
	} else {
		require.NotNil(t, last)
		assert.Equal(t, final.AccessToken, last.AccessToken)
	}
}

func TestStoreSubscriberMayReadBackWithoutDeadlock(t *testing.T) {
	store := NewStore(&fakeBackend{}, zerolog.Nop())
	defer store.Close()

	got := make(chan *Pair, 1)
	store.Subscribe(func(p *Pair) {
		// Re-entrant read through the public API.
		got <- store.Get()
	})

	store.Set(&Pair{AccessToken: "A1", RefreshToken: "R1"})
	pair := waitForPair(t, got)
	require.NotNil(t, pair)
	assert.Equal(t, "A1", pair.AccessToken)
}
