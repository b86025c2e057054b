// Package session assembles the coordination core and exposes the small
// surface the rest of the application consumes: token access, auth
// status, socket credentials and the forced-logout event.
package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/swiftdrop/authlink/internal/config"
	"github.com/swiftdrop/authlink/internal/pipeline"
	"github.com/swiftdrop/authlink/internal/realtime"
	"github.com/swiftdrop/authlink/internal/refresh"
	"github.com/swiftdrop/authlink/internal/token"
)

// defaultRefreshLead is how close to expiry a token may get before
// GetValidToken kicks off a proactive refresh.
const defaultRefreshLead = time.Minute

// Status is the answer to an auth status check.
type Status struct {
	Authenticated bool
}

// Session owns one user session: an explicit instance created at session
// start and closed at logout, passed by reference to its consumers.
type Session struct {
	store   *token.Store
	coord   *refresh.Coordinator
	pipe    *pipeline.Pipeline
	bridge  *realtime.Bridge
	headers pipeline.HeaderSet

	refreshLead time.Duration
	logger      zerolog.Logger

	mu        sync.Mutex
	logoutFns []func(refresh.LogoutReason)

	closeOnce sync.Once
}

// New wires the store, coordinator, pipeline and realtime bridge
// together. The runtime config is shared: endpoint changes are picked up
// by the pipeline and the bridge on their next attempt.
func New(runtime *config.Runtime, store *token.Store, refresher refresh.Refresher, transport realtime.Transport, client *http.Client, logger zerolog.Logger) (*Session, error) {
	cfg := runtime.Snapshot()

	headers, err := pipeline.NewHeaderSet(cfg.Client)
	if err != nil {
		return nil, err
	}

	s := &Session{
		store:       store,
		headers:     headers,
		refreshLead: defaultRefreshLead,
		logger:      logger,
	}

	s.coord = refresh.NewCoordinator(store, refresher, cfg.API.RefreshTimeout, logger)
	s.coord.OnForcedLogout(s.fanoutForcedLogout)
	s.pipe = pipeline.New(store, s.coord, runtime, headers, client, logger)
	s.bridge = realtime.NewBridge(store, transport, s.SocketAuthHeaders, cfg.Realtime, logger)

	return s, nil
}

// Do executes a business operation through the request pipeline.
func (s *Session) Do(ctx context.Context, op *pipeline.Operation) (*pipeline.Response, error) {
	return s.pipe.Do(ctx, op)
}

// Realtime exposes the realtime bridge (connect, rooms, reconnect).
func (s *Session) Realtime() *realtime.Bridge {
	return s.bridge
}

// GetValidToken returns the current access token, or "" when logged out.
// A token close to expiry triggers a proactive refresh in the background;
// the coordinator single-flights it with any concurrent episode.
func (s *Session) GetValidToken() string {
	pair := s.store.Get()
	if pair == nil {
		return ""
	}
	if pair.ExpiresWithin(s.refreshLead) {
		go func() {
			if _, err := s.coord.Refresh(context.Background()); err != nil {
				s.logger.Debug().Err(err).Msg("proactive refresh failed")
			}
		}()
	}
	return pair.AccessToken
}

// SubscribeToTokenChanges registers a listener on the token store and
// returns its de-registration function.
func (s *Session) SubscribeToTokenChanges(fn func(*token.Pair)) func() {
	return s.store.Subscribe(fn)
}

// CheckAuthStatus reports whether the session currently holds a
// non-expired token pair.
func (s *Session) CheckAuthStatus() Status {
	pair := s.store.Get()
	return Status{Authenticated: pair != nil && !pair.Expired()}
}

// SocketAuthHeaders derives the credential headers the realtime transport
// attaches at connect time. It reproduces the pipeline's header contract,
// including the dual-case Authorization shim.
func (s *Session) SocketAuthHeaders() http.Header {
	h := make(http.Header)
	accessToken := ""
	if pair := s.store.Get(); pair != nil {
		accessToken = pair.AccessToken
	}
	s.headers.Apply(h, accessToken)
	return h
}

// OnForcedLogout registers a handler for system-initiated session
// termination, e.g. reason REFRESH_FAILED after an unrecoverable refresh.
func (s *Session) OnForcedLogout(fn func(refresh.LogoutReason)) {
	s.mu.Lock()
	s.logoutFns = append(s.logoutFns, fn)
	s.mu.Unlock()
}

// ApplyLogin installs the pair returned by the login flow. Login UX and
// business logic live elsewhere; this is the only entry point they need.
func (s *Session) ApplyLogin(pair *token.Pair) {
	s.store.Set(pair)
}

// Logout clears the session. The realtime bridge observes the cleared
// token and disconnects on its own.
func (s *Session) Logout() {
	s.store.Clear()
}

// Close tears the session down: bridge first (so it unsubscribes), then
// the store's dispatcher.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.bridge.Close()
		s.store.Close()
	})
}

func (s *Session) fanoutForcedLogout(reason refresh.LogoutReason) {
	s.mu.Lock()
	fns := make([]func(refresh.LogoutReason), len(s.logoutFns))
	copy(fns, s.logoutFns)
	s.mu.Unlock()

	s.logger.Warn().Str("reason", string(reason)).Msg("forced logout")
	for _, fn := range fns {
		fn(reason)
	}
}
