package token

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

func now() time.Time { return time.Now().UTC() }

// Store owns the current token pair. It hydrates once from the durable
// backend at construction so Get never touches storage, and notifies
// subscribers in mutation order on every Set and Clear.
//
// Durability is best-effort: a failed durable write is logged and the
// in-memory state still updates, so the running session keeps working even
// when persistence is temporarily unavailable.
type Store struct {
	mu      sync.Mutex // guards pair and queue; notifications enqueue under it
	pair    *Pair
	queue   []*Pair
	backend SecureStore
	logger  zerolog.Logger

	subMu     sync.Mutex // guards subs, never held together with mu
	nextSubID int
	subs      []subscriber

	notifyCh chan struct{}
	done     chan struct{}
	closeOne sync.Once
}

type subscriber struct {
	id int
	fn func(*Pair)
}

// NewStore builds a store hydrated from the given backend. A hydration
// failure is logged and treated as an empty session.
func NewStore(backend SecureStore, logger zerolog.Logger) *Store {
	s := &Store{
		backend:  backend,
		logger:   logger,
		notifyCh: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	if backend != nil {
		pair, err := backend.Load()
		if err != nil {
			logger.Error().Err(err).Msg("failed to hydrate token store")
		} else {
			s.pair = pair
		}
	}
	go s.dispatch()
	return s
}

// Get returns a copy of the current pair, or nil when logged out.
func (s *Store) Get() *Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pair.Clone()
}

// Set stamps IssuedAt, persists the pair, updates the cache and notifies
// subscribers. Access and refresh tokens are always replaced together.
func (s *Store) Set(pair *Pair) {
	if pair == nil {
		s.Clear()
		return
	}
	cp := pair.Clone()
	cp.IssuedAt = now()

	// Enqueue under the lock so queue order matches cache-write order
	// even when Set and Clear race.
	s.mu.Lock()
	s.pair = cp
	s.enqueue(cp.Clone())
	s.mu.Unlock()

	if s.backend != nil {
		if err := s.backend.Save(cp); err != nil {
			s.logger.Error().Err(err).Msg("failed to persist token pair")
		}
	}
}

// Clear removes the persisted and in-memory pair and notifies subscribers
// with nil.
func (s *Store) Clear() {
	s.mu.Lock()
	s.pair = nil
	s.enqueue(nil)
	s.mu.Unlock()

	if s.backend != nil {
		if err := s.backend.Clear(); err != nil {
			s.logger.Error().Err(err).Msg("failed to clear persisted token pair")
		}
	}
}

// Subscribe registers a listener invoked on every mutation (including
// clears, with nil). The returned function de-registers it.
func (s *Store) Subscribe(fn func(*Pair)) func() {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i := range s.subs {
			if s.subs[i].id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// Close stops the notification dispatcher. Pending notifications are dropped.
func (s *Store) Close() {
	s.closeOne.Do(func() { close(s.done) })
}

// enqueue appends to the notification queue; callers hold s.mu, which is
// what ties queue order to cache-write order. The append never blocks, so
// a mutator is never stalled behind a slow subscriber.
func (s *Store) enqueue(pair *Pair) {
	s.queue = append(s.queue, pair)
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

// dispatch delivers queued notifications on a single goroutine in mutation
// order. Callbacks run outside both locks so a subscriber may call back
// into the store without deadlocking.
func (s *Store) dispatch() {
	for {
		select {
		case <-s.notifyCh:
			s.drain()
		case <-s.done:
			return
		}
	}
}

func (s *Store) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		pair := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.subMu.Lock()
		subs := make([]subscriber, len(s.subs))
		copy(subs, s.subs)
		s.subMu.Unlock()
		for _, sub := range subs {
			sub.fn(pair.Clone())
		}
	}
}
