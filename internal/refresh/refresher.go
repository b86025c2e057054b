// Package refresh coordinates token refresh: a single network call per
// expiry episode, shared by every concurrent caller.
package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/swiftdrop/authlink/internal/config"
	"github.com/swiftdrop/authlink/internal/errs"
	"github.com/swiftdrop/authlink/internal/token"
)

// Refresher performs the refresh network call. Implementations must be
// safe for use by a single in-flight episode at a time.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*token.Pair, error)
}

type refreshRequest struct {
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// HTTPRefresher posts the refresh grant to the auth endpoint. The endpoint
// is resolved per call from the runtime config.
type HTTPRefresher struct {
	runtime *config.Runtime
	client  *http.Client
	logger  zerolog.Logger
}

// NewHTTPRefresher builds a refresher against the runtime's auth endpoint.
// A nil client falls back to a default one; the per-episode timeout is
// applied by the coordinator through ctx, not by the client.
func NewHTTPRefresher(runtime *config.Runtime, client *http.Client, logger zerolog.Logger) *HTTPRefresher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPRefresher{runtime: runtime, client: client, logger: logger}
}

// Refresh exchanges the refresh token for a new pair. Any rejection by the
// auth endpoint classifies as AuthInvalidError; a transport failure is
// returned wrapped so the coordinator can treat it as episode failure.
func (h *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (*token.Pair, error) {
	endpoint := h.runtime.Snapshot().API.RefreshEndpoint

	body, err := json.Marshal(refreshRequest{
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &errs.NetworkError{Op: "token refresh", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		h.logger.Warn().Int("status", resp.StatusCode).Msg("refresh rejected by auth endpoint")
		return nil, &errs.AuthInvalidError{
			Reason: fmt.Sprintf("refresh rejected with status %d: %s", resp.StatusCode, bytes.TrimSpace(detail)),
		}
	}

	var parsed refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if parsed.AccessToken == "" || parsed.RefreshToken == "" {
		return nil, &errs.AuthInvalidError{Reason: "refresh response missing tokens"}
	}

	return &token.Pair{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second).UTC(),
	}, nil
}
