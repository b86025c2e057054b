package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/swiftdrop/authlink/internal/config"
	"github.com/swiftdrop/authlink/internal/errs"
)

// GraphQL extension codes the transport classifies locally. Everything
// else is a business error and passes through untouched.
const (
	codeUnauthenticated  = "UNAUTHENTICATED"
	codeTokenExpired     = "TOKEN_EXPIRED"
	codeBadUserInput     = "BAD_USER_INPUT"
	codeValidationFailed = "VALIDATION_FAILED"
)

type graphqlPayload struct {
	OperationName string         `json:"operationName,omitempty"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// transportStage performs the wire call. The endpoint is resolved from
// the runtime snapshot on every attempt, so an environment switch takes
// effect on the next attempt without rebuilding the pipeline.
type transportStage struct {
	runtime *config.Runtime
	client  *http.Client
	logger  zerolog.Logger
}

func (s *transportStage) do(ctx context.Context, req *request) (*Response, error) {
	snap := s.runtime.Snapshot()

	body, err := json.Marshal(graphqlPayload{
		OperationName: req.op.Name,
		Query:         req.op.Query,
		Variables:     req.op.Variables,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal operation %s: %w", req.op.Name, err)
	}

	attemptCtx := ctx
	if snap.API.RequestTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, snap.API.RequestTimeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, snap.API.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", req.op.Name, err)
	}
	for key, values := range req.header {
		httpReq.Header[key] = values
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, &errs.NetworkError{Op: req.op.Name, Err: err}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &errs.NetworkError{Op: req.op.Name, Err: err}
	}

	if httpResp.StatusCode == http.StatusUnauthorized {
		return nil, &errs.AuthExpiredError{Code: codeUnauthenticated}
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &errs.NetworkError{
			Op:  req.op.Name,
			Err: fmt.Errorf("unexpected status %d", httpResp.StatusCode),
		}
	}

	if err := classify(raw); err != nil {
		return nil, err
	}

	return &Response{
		Data:   []byte(gjson.GetBytes(raw, "data").Raw),
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
	}, nil
}

// classify inspects the GraphQL errors array. GraphQL servers report
// resolver failures with HTTP 200, so expiry has to be detected from the
// error extensions rather than the status code.
func classify(raw []byte) error {
	result := gjson.GetBytes(raw, "errors")
	if !result.Exists() || !result.IsArray() || len(result.Array()) == 0 {
		return nil
	}
	first := result.Array()[0]
	code := first.Get("extensions.code").String()
	message := first.Get("message").String()

	switch code {
	case codeUnauthenticated, codeTokenExpired:
		return &errs.AuthExpiredError{Code: code}
	case codeBadUserInput, codeValidationFailed:
		return &errs.ValidationError{Code: code, Message: message}
	default:
		return &errs.GraphQLError{Code: code, Message: message}
	}
}
