// Package session ties a credential, a token cache, and a header mapping
// together into the object request code authenticates with.
package session

import (
	"context"
	"net/http"
	"time"

	mithril "github.com/eugener/mithril/internal"
	"github.com/eugener/mithril/internal/config"
	"github.com/eugener/mithril/internal/credential"
	"github.com/eugener/mithril/internal/telemetry"
	"github.com/eugener/mithril/internal/tokencache"
)

// Interactive flows wait on a human, so the usual acquisition timeout is
// far too tight for them.
const interactiveAcquireTimeout = 15 * time.Minute

// Options carries the runtime collaborators a config file cannot express.
type Options struct {
	// Prompt is invoked for device code sign-in. Leaving it nil disables
	// the device_code mode and drops device code from the default chain.
	Prompt mithril.DeviceCodePrompt
	// HTTPClient overrides the client used to reach the identity backend.
	HTTPClient *http.Client
	// Metrics is optional.
	Metrics *telemetry.Metrics
}

// Session holds one credential and its cached token, and knows which
// request header the token goes into.
type Session struct {
	cred   mithril.Credential
	cache  *tokencache.Cache
	header mithril.HeaderKind
	scope  string
}

// New builds a session from configuration. It fails fast on invalid or
// incomplete auth settings without touching the network.
func New(cfg *config.Config, opts Options) (*Session, error) {
	ac := cfg.Auth

	header, err := headerKind(ac)
	if err != nil {
		return nil, err
	}

	cred, err := credential.Build(ac, credential.Options{
		Prompt:     opts.Prompt,
		HTTPClient: opts.HTTPClient,
	})
	if err != nil {
		return nil, err
	}

	timeout := ac.AcquireTimeout
	if interactive(ac, opts) && timeout < interactiveAcquireTimeout {
		timeout = interactiveAcquireTimeout
	}

	scope := ac.EffectiveScope()
	return &Session{
		cred:   cred,
		header: header,
		scope:  scope,
		cache: tokencache.New(cred, scope, tokencache.Options{
			AcquireTimeout: timeout,
			Metrics:        opts.Metrics,
		}),
	}, nil
}

func headerKind(ac config.AuthConfig) (mithril.HeaderKind, error) {
	switch ac.EffectiveHeader() {
	case "bearer":
		return mithril.Bearer, nil
	case "api_key":
		return mithril.APIKey, nil
	case "custom":
		if ac.HeaderName == "" {
			return mithril.HeaderKind{}, &mithril.ConfigError{Mode: ac.Mode, Field: "header_name"}
		}
		return mithril.CustomHeader(ac.HeaderName), nil
	default:
		return mithril.HeaderKind{}, &mithril.ConfigError{
			Mode:   ac.Mode,
			Field:  "header",
			Reason: "must be bearer, api_key, or custom",
		}
	}
}

func interactive(ac config.AuthConfig, opts Options) bool {
	switch ac.Mode {
	case "device_code":
		return true
	case "default", "":
		return opts.Prompt != nil
	}
	return false
}

// Token returns a currently valid secret, acquiring or refreshing one as
// needed.
func (s *Session) Token(ctx context.Context) (string, error) {
	return s.cache.Token(ctx)
}

// ForceRefresh discards the cached secret and acquires a fresh one.
func (s *Session) ForceRefresh(ctx context.Context) (string, error) {
	return s.cache.ForceRefresh(ctx)
}

// Apply sets the auth header on h, fetching a token first if necessary.
func (s *Session) Apply(ctx context.Context, h http.Header) error {
	secret, err := s.cache.Token(ctx)
	if err != nil {
		return err
	}
	return mithril.SetAuthHeader(h, s.header, secret)
}

// Refreshable reports whether a rejected token is worth refreshing. Static
// API keys are not.
func (s *Session) Refreshable() bool {
	return s.cred.Refreshable()
}

// HeaderKind returns the header mapping the session applies.
func (s *Session) HeaderKind() mithril.HeaderKind {
	return s.header
}

// Source names the credential backing the session.
func (s *Session) Source() string {
	return s.cred.Name()
}

// Scope returns the resource scope tokens are requested for.
func (s *Session) Scope() string {
	return s.scope
}

// Expiry reports the cached token's expiry time, or false when no token
// is cached.
func (s *Session) Expiry() (time.Time, bool) {
	tok, ok := s.cache.Cached()
	if !ok {
		return time.Time{}, false
	}
	return tok.ExpiresAt(), true
}
