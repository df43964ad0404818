// Package mithril defines domain types and interfaces for the Mithril
// credential layer. This package has no project imports -- it is the
// dependency root.
package mithril

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// SafetyBuffer is the fixed margin subtracted from a token's expiry so
// renewal happens before the token goes hard-stale on the wire.
const SafetyBuffer = 5 * time.Minute

// MinTokenTTL is the floor applied to token lifetimes reported by identity
// backends. Entra occasionally omits expires_in; a zero TTL would make the
// token stale on arrival.
const MinTokenTTL = 5 * time.Minute

// Token is an acquired secret with its validity window.
type Token struct {
	Secret     string
	AcquiredAt time.Time
	TTL        time.Duration
}

// NewToken builds a Token acquired now, clamping ttl to MinTokenTTL.
func NewToken(secret string, ttl time.Duration) Token {
	if ttl < MinTokenTTL {
		ttl = MinTokenTTL
	}
	return Token{Secret: secret, AcquiredAt: time.Now(), TTL: ttl}
}

// ExpiresAt returns the instant the token goes hard-stale.
func (t Token) ExpiresAt() time.Time {
	return t.AcquiredAt.Add(t.TTL)
}

// Valid reports whether the token is usable at now, applying SafetyBuffer.
func (t Token) Valid(now time.Time) bool {
	if t.Secret == "" || t.TTL <= 0 {
		return false
	}
	return now.Before(t.AcquiredAt.Add(t.TTL - SafetyBuffer))
}

// Credential is the capability interface all authentication backends
// implement. Implementations own whatever state they need (HTTP client,
// subprocess invocation, interactive prompt) privately; callers never
// inspect which concrete backend they hold.
type Credential interface {
	// Name returns the mode tag for logs and metrics (e.g. "client_secret").
	Name() string
	// Acquire obtains a fresh token for the given scope.
	Acquire(ctx context.Context, scope string) (Token, error)
	// Refreshable reports whether a 401 can be answered by re-acquiring.
	// False only for static API keys.
	Refreshable() bool
}

// DeviceCodePrompt delivers the verification URL and user code to the user
// before the device-code backend starts polling. How it is displayed is up
// to the caller.
type DeviceCodePrompt func(verificationURL, userCode, message string)

// HeaderKind selects the outbound auth header shape. Exactly one kind is
// bound per session and it never changes for the session's lifetime.
type HeaderKind struct {
	kind       string
	headerName string
}

var (
	// Bearer is "Authorization: Bearer <secret>".
	Bearer = HeaderKind{kind: "bearer"}
	// APIKey is the Azure OpenAI "api-key: <secret>" header.
	APIKey = HeaderKind{kind: "api_key"}
)

// CustomHeader is "<name>: <secret>" for APIM-style gateways
// (e.g. Ocp-Apim-Subscription-Key).
func CustomHeader(name string) HeaderKind {
	return HeaderKind{kind: "custom", headerName: name}
}

// String returns the kind tag.
func (k HeaderKind) String() string {
	if k.kind == "custom" {
		return "custom(" + k.headerName + ")"
	}
	return k.kind
}

// header returns the header name to set for this kind.
func (k HeaderKind) header() string {
	switch k.kind {
	case "api_key":
		return "api-key"
	case "custom":
		return k.headerName
	default:
		return "Authorization"
	}
}

// SetAuthHeader writes exactly one auth header for the given kind and secret.
// A secret containing bytes illegal in an HTTP header value is rejected with
// a *HeaderValueError rather than truncated or stripped.
func SetAuthHeader(h http.Header, kind HeaderKind, secret string) error {
	if err := checkHeaderValue(secret); err != nil {
		return err
	}
	name := kind.header()
	if name == "" {
		return fmt.Errorf("auth header: custom kind with empty header name")
	}
	value := secret
	if kind.kind == "bearer" || kind.kind == "" {
		value = "Bearer " + secret
	}
	h.Set(name, value)
	return nil
}

// checkHeaderValue rejects control characters per RFC 9110 field-value rules
// (HTAB is the only allowed char below 0x20).
func checkHeaderValue(v string) error {
	for i := 0; i < len(v); i++ {
		c := v[i]
		if (c < 0x20 && c != '\t') || c == 0x7f {
			return &HeaderValueError{Position: i}
		}
	}
	return nil
}
