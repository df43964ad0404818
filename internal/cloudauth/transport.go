// Package cloudauth provides an http.RoundTripper decorator that injects
// the session's auth header on outbound requests and coordinates a
// refresh-and-retry when the resource rejects the token with 401.
package cloudauth

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	mithril "github.com/eugener/mithril/internal"
	"github.com/eugener/mithril/internal/session"
	"github.com/eugener/mithril/internal/telemetry"
)

// drainLimit bounds how much of a discarded 401 body is read so the
// connection can be reused.
const drainLimit = 64 << 10

// Transport authenticates outbound requests with the session's token. On a
// 401 it forces one refresh and replays the request once; a second 401 is
// returned to the caller untouched.
type Transport struct {
	Session *session.Session
	Base    http.RoundTripper
	Metrics *telemetry.Metrics
}

// NewTransport wraps base with request authentication backed by s.
func NewTransport(s *session.Session, base http.RoundTripper) *Transport {
	return &Transport{Session: s, Base: base}
}

// RoundTrip buffers the body for possible replay, applies the auth header,
// and forwards the request. A 401 response triggers at most one forced
// token refresh followed by a single replay.
func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	var bodyBytes []byte
	if r.Body != nil && r.Body != http.NoBody {
		var err error
		bodyBytes, err = io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("cloudauth: read body for replay: %w", err)
		}
	}

	resp, err := t.send(r, bodyBytes)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if !t.Session.Refreshable() {
		return resp, nil
	}

	// The token was rejected. Refresh once; a failure here is terminal
	// for the request.
	io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
	resp.Body.Close()

	if _, err := t.Session.ForceRefresh(r.Context()); err != nil {
		if mithril.IsTransient(err) {
			return nil, fmt.Errorf("cloudauth: refresh after unauthorized: %w", err)
		}
		return nil, fmt.Errorf("cloudauth: refresh after unauthorized: %w: %w", mithril.ErrRefreshFailed, err)
	}
	if t.Metrics != nil {
		t.Metrics.UnauthorizedRetries.Inc()
	}

	return t.send(r, bodyBytes)
}

func (t *Transport) send(r *http.Request, body []byte) (*http.Response, error) {
	r2 := r.Clone(r.Context())
	if body != nil {
		r2.Body = io.NopCloser(bytes.NewReader(body))
		r2.ContentLength = int64(len(body))
	} else if r.Body != nil {
		r2.Body = http.NoBody
		r2.ContentLength = 0
	}

	if err := t.Session.Apply(r.Context(), r2.Header); err != nil {
		return nil, fmt.Errorf("cloudauth: apply auth header: %w", err)
	}
	return t.base().RoundTrip(r2)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}
