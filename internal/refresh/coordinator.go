package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/swiftdrop/authlink/internal/errs"
	"github.com/swiftdrop/authlink/internal/token"
)

// State is the lifecycle of the coordinator. Exactly one coordinator per
// session owns it.
type State string

const (
	StateIdle       State = "idle"
	StateRefreshing State = "refreshing"
	StateFailed     State = "failed"
)

// LogoutReason tags a forced logout for the session/navigation layer.
type LogoutReason string

// ReasonRefreshFailed is emitted when the refresh token was rejected or
// the refresh call failed or timed out.
const ReasonRefreshFailed LogoutReason = "REFRESH_FAILED"

// episode is one refresh attempt shared by every caller that observed the
// coordinator refreshing. Waiters block on done; accessToken and err are
// written exactly once, before done closes.
type episode struct {
	done        chan struct{}
	accessToken string
	err         error
}

func (e *episode) wait(ctx context.Context) (string, error) {
	select {
	case <-e.done:
		return e.accessToken, e.err
	case <-ctx.Done():
		// The caller stops waiting, but the episode keeps running for
		// everyone else: refresh is session-scoped, not request-scoped.
		return "", ctx.Err()
	}
}

// Coordinator single-flights refresh attempts against the token store.
// For any number of concurrent callers, exactly one refresh network call
// is issued per expiry episode, and every caller observes the token that
// call returned.
type Coordinator struct {
	mu      sync.Mutex
	state   State
	current *episode

	store     *token.Store
	refresher Refresher
	timeout   time.Duration

	onForcedLogout func(LogoutReason)
	logger         zerolog.Logger
}

// NewCoordinator builds a coordinator over the given store and refresher.
// timeout bounds the refresh network call; exceeding it is episode failure.
func NewCoordinator(store *token.Store, refresher Refresher, timeout time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		state:     StateIdle,
		store:     store,
		refresher: refresher,
		timeout:   timeout,
		logger:    logger,
	}
}

// OnForcedLogout registers the handler invoked (exactly once per failed
// episode) when a refresh failure terminates the session.
func (c *Coordinator) OnForcedLogout(fn func(LogoutReason)) {
	c.mu.Lock()
	c.onForcedLogout = fn
	c.mu.Unlock()
}

// State returns the current refresh state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Refresh returns the access token produced by the in-flight episode,
// starting one if none is running. The caller's ctx only bounds its own
// wait; the episode itself runs under the coordinator's timeout.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	return c.RefreshFrom(ctx, "")
}

// RefreshFrom is Refresh for callers whose request was authorized with
// stale. When the stored access token already differs from stale, the
// pair was rotated after that request went out; the episode it belongs
// to is over and the current token is returned without a network call.
func (c *Coordinator) RefreshFrom(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()
	if c.state == StateRefreshing && c.current != nil {
		ep := c.current
		c.mu.Unlock()
		return ep.wait(ctx)
	}
	if stale != "" {
		if pair := c.store.Get(); pair != nil && pair.AccessToken != stale {
			c.mu.Unlock()
			return pair.AccessToken, nil
		}
	}
	ep := &episode{done: make(chan struct{})}
	c.current = ep
	c.state = StateRefreshing
	c.mu.Unlock()

	go c.run(ep)
	return ep.wait(ctx)
}

func (c *Coordinator) run(ep *episode) {
	pair := c.store.Get()
	if pair == nil || pair.RefreshToken == "" {
		c.fail(ep, &errs.AuthInvalidError{Reason: "no refresh token available"})
		return
	}

	ctx := context.Background()
	cancel := func() {}
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	defer cancel()

	newPair, err := c.refresher.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		// One attempt per episode: timeouts and transport failures are
		// treated the same as a rejected refresh token.
		c.logger.Error().Err(err).Msg("token refresh failed")
		c.fail(ep, asAuthInvalid(err))
		return
	}

	// Publish the rotated pair before leaving Refreshing: a caller probing
	// RefreshFrom right after the state flips must find the new pair in the
	// store, or it would start a second call for the same expiry episode.
	c.store.Set(newPair)
	c.logger.Info().Time("expires_at", newPair.ExpiresAt).Msg("token refreshed")

	c.mu.Lock()
	c.state = StateIdle
	c.current = nil
	c.mu.Unlock()

	ep.accessToken = newPair.AccessToken
	close(ep.done)
}

func (c *Coordinator) fail(ep *episode, err error) {
	// Same publication order as the success path: the store must reflect
	// the episode's outcome before the state leaves Refreshing.
	c.store.Clear()

	c.mu.Lock()
	c.state = StateFailed
	c.current = nil
	fn := c.onForcedLogout
	c.mu.Unlock()

	if fn != nil {
		fn(ReasonRefreshFailed)
	}

	ep.err = err
	close(ep.done)
}

func asAuthInvalid(err error) error {
	if errs.IsAuthInvalid(err) {
		return err
	}
	return &errs.AuthInvalidError{Reason: "refresh attempt failed", Err: err}
}
