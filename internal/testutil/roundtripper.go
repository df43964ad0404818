package testutil

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// RecordingTransport is an http.RoundTripper that records every request it
// sees and answers with a scripted response. Request bodies are buffered so
// tests can inspect them after the round trip.
type RecordingTransport struct {
	RespondFn func(r *http.Request) (*http.Response, error)

	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
}

// RoundTrip records the request and delegates to RespondFn, or returns an
// empty 200 response when none is configured.
func (t *RecordingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	var body []byte
	if r.Body != nil && r.Body != http.NoBody {
		body, _ = io.ReadAll(r.Body)
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	t.mu.Lock()
	t.requests = append(t.requests, r)
	t.bodies = append(t.bodies, body)
	t.mu.Unlock()

	if t.RespondFn != nil {
		return t.RespondFn(r)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     make(http.Header),
		Body:       http.NoBody,
		Request:    r,
	}, nil
}

// Requests returns the recorded requests in order.
func (t *RecordingTransport) Requests() []*http.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*http.Request(nil), t.requests...)
}

// Body returns the buffered body of the i-th recorded request.
func (t *RecordingTransport) Body(i int) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bodies[i]
}
