// Package pipeline wraps every outgoing business operation in three
// ordered stages: error recovery, auth header attachment and wire
// transport. The nesting order is load-bearing: auth runs inside the
// error stage so a replay after refresh re-reads the new token.
package pipeline

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/swiftdrop/authlink/internal/config"
	"github.com/swiftdrop/authlink/internal/errs"
	"github.com/swiftdrop/authlink/internal/refresh"
	"github.com/swiftdrop/authlink/internal/token"
)

// Operation describes one GraphQL business operation. It carries no
// per-attempt state, so the error stage can re-run it safely.
type Operation struct {
	Name      string
	Query     string
	Variables map[string]any
}

// Response is the raw result of a completed operation. Data is the
// GraphQL `data` payload.
type Response struct {
	Data   []byte
	Status int
	Header http.Header
}

// request is the per-attempt envelope flowing through the inner stages.
// The auth stage rebuilds header and records the token it attached, so
// the error stage can tell which expiry episode a failure belongs to.
type request struct {
	op          *Operation
	header      http.Header
	accessToken string
}

type stage interface {
	do(ctx context.Context, req *request) (*Response, error)
}

// Pipeline executes operations through the composed stage chain.
type Pipeline struct {
	entry *errorStage
}

// New wires Error → Auth → Transport. The constructor is the only place
// the chain is assembled, which enforces the nesting order.
func New(store *token.Store, coord *refresh.Coordinator, runtime *config.Runtime, headers HeaderSet, client *http.Client, logger zerolog.Logger) *Pipeline {
	transport := &transportStage{
		runtime: runtime,
		client:  client,
		logger:  logger,
	}
	if transport.client == nil {
		transport.client = &http.Client{}
	}
	auth := &authStage{
		next:    transport,
		store:   store,
		headers: headers,
	}
	return &Pipeline{
		entry: &errorStage{
			next:   auth,
			coord:  coord,
			logger: logger,
		},
	}
}

// Do runs the operation through the stage chain.
func (p *Pipeline) Do(ctx context.Context, op *Operation) (*Response, error) {
	return p.entry.do(ctx, op)
}

// retryDescriptor makes the replay bound an explicit, testable value
// instead of an emergent property of recursive calls.
type retryDescriptor struct {
	op         *Operation
	attempt    int
	maxReplays int
}

// errorStage is the outermost stage. It recovers exactly one error class
// locally: an expired access token triggers one coordinated refresh and
// one replay of the entire inner chain. Everything else passes through.
type errorStage struct {
	next   stage
	coord  *refresh.Coordinator
	logger zerolog.Logger
}

func (s *errorStage) do(ctx context.Context, op *Operation) (*Response, error) {
	rd := retryDescriptor{op: op, maxReplays: 1}
	for {
		req := &request{op: rd.op}
		resp, err := s.next.do(ctx, req)
		if err == nil || !errs.IsAuthExpired(err) {
			return resp, err
		}
		if rd.attempt >= rd.maxReplays {
			return resp, err
		}
		if ctx.Err() != nil {
			// The caller aborted: skip the replay. A refresh already
			// shared with other callers keeps running regardless.
			return nil, ctx.Err()
		}

		s.logger.Debug().Str("operation", op.Name).Msg("access token expired, refreshing before replay")
		if _, refreshErr := s.coord.RefreshFrom(ctx, req.accessToken); refreshErr != nil {
			// The refresh failure replaces the original expiry error so
			// the caller sees a single, final error.
			return nil, refreshErr
		}
		rd.attempt++
	}
}

// authStage attaches the current token and the fixed header contract
// immediately before every attempt, original or replay.
type authStage struct {
	next    stage
	store   *token.Store
	headers HeaderSet
}

func (s *authStage) do(ctx context.Context, req *request) (*Response, error) {
	req.accessToken = ""
	if pair := s.store.Get(); pair != nil {
		req.accessToken = pair.AccessToken
	}
	req.header = make(http.Header)
	s.headers.Apply(req.header, req.accessToken)
	return s.next.do(ctx, req)
}
