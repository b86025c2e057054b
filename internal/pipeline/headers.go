package pipeline

import (
	"fmt"
	"net/http"

	"github.com/swiftdrop/authlink/internal/config"
)

// HeaderSet is the fixed outgoing header contract. Fields are validated
// once at construction so a typo cannot silently drop a header, and Apply
// reproduces the exact header names the server expects.
type HeaderSet struct {
	Locale       string
	Platform     string
	ClientType   string
	AppVersion   string
	CacheControl string
}

// NewHeaderSet builds the header set from the client identity config.
func NewHeaderSet(cfg config.Client) (HeaderSet, error) {
	hs := HeaderSet{
		Locale:       cfg.Locale,
		Platform:     cfg.Platform,
		ClientType:   cfg.ClientType,
		AppVersion:   cfg.AppVersion,
		CacheControl: "no-cache",
	}
	if hs.Locale == "" {
		return HeaderSet{}, fmt.Errorf("header set: locale is required")
	}
	if hs.Platform == "" {
		return HeaderSet{}, fmt.Errorf("header set: platform is required")
	}
	if hs.ClientType == "" {
		return HeaderSet{}, fmt.Errorf("header set: client type is required")
	}
	if hs.AppVersion == "" {
		return HeaderSet{}, fmt.Errorf("header set: app version is required")
	}
	return hs, nil
}

// Apply writes the full header contract onto h. An empty access token
// omits both Authorization keys; the request proceeds unauthenticated and
// authorization stays the server's decision.
func (hs HeaderSet) Apply(h http.Header, accessToken string) {
	if accessToken != "" {
		bearer := "Bearer " + accessToken
		h.Set("Authorization", bearer)
		// Compatibility shim: the server's ingress historically received
		// a lowercase duplicate as well. http.Header.Set would
		// canonicalize the key, so the map is written directly.
		h["authorization"] = []string{bearer}
	}
	h.Set("Accept-Language", hs.Locale)
	h.Set("X-Language", hs.Locale)
	h.Set("Content-Language", hs.Locale)
	h.Set("X-Platform", hs.Platform)
	h.Set("X-Client-Type", hs.ClientType)
	h.Set("X-App-Version", hs.AppVersion)
	h.Set("Cache-Control", hs.CacheControl)
}
