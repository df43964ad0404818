package credential

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	mithril "github.com/eugener/mithril/internal"
)

// postTokenForm sends a form-encoded request to an Entra token endpoint and
// maps the response into the domain token and error taxonomy. backend is the
// mode tag used in error messages; secrets never appear in them.
func postTokenForm(ctx context.Context, client *http.Client, backend, endpoint string, form url.Values) (mithril.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return mithril.Token{}, fmt.Errorf("%s: create token request: %w", backend, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("client-request-id", uuid.NewString())

	resp, err := client.Do(req)
	if err != nil {
		return mithril.Token{}, &mithril.NetworkError{Backend: backend, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return mithril.Token{}, &mithril.NetworkError{Backend: backend, Err: err}
	}
	return tokenFromEntraResponse(backend, resp.StatusCode, body)
}

// tokenFromEntraResponse maps an Entra token-endpoint response body to a
// Token or a classified error. Bodies are JSON but numeric fields sometimes
// arrive as strings (IMDS does this), so fields are extracted individually.
func tokenFromEntraResponse(backend string, status int, body []byte) (mithril.Token, error) {
	if status >= 200 && status < 300 {
		access := gjson.GetBytes(body, "access_token").String()
		if access == "" {
			return mithril.Token{}, fmt.Errorf("%s: token endpoint returned no access_token: %w", backend, mithril.ErrDenied)
		}
		ttl := time.Duration(gjson.GetBytes(body, "expires_in").Int()) * time.Second
		return mithril.NewToken(access, ttl), nil
	}

	code := gjson.GetBytes(body, "error").String()
	switch {
	case status >= 500:
		return mithril.Token{}, &mithril.NetworkError{Backend: backend,
			Err: fmt.Errorf("token endpoint HTTP %d", status)}
	case code != "":
		return mithril.Token{}, fmt.Errorf("%s: token endpoint rejected request (HTTP %d, %s): %w",
			backend, status, code, mithril.ErrDenied)
	default:
		return mithril.Token{}, fmt.Errorf("%s: token endpoint rejected request (HTTP %d): %w",
			backend, status, mithril.ErrDenied)
	}
}

// tokenFromOAuth converts an x/oauth2 token into the domain form.
func tokenFromOAuth(tok *oauth2.Token) mithril.Token {
	return mithril.NewToken(tok.AccessToken, time.Until(tok.Expiry))
}

// classifyOAuthError maps x/oauth2 retrieval failures onto the domain
// taxonomy: definitive endpoint rejections are permanent denials, everything
// else (DNS, dial, timeout, 5xx) is transient.
func classifyOAuthError(backend string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil && re.Response.StatusCode >= 500 {
			return &mithril.NetworkError{Backend: backend,
				Err: fmt.Errorf("token endpoint HTTP %d", re.Response.StatusCode)}
		}
		if re.ErrorCode != "" {
			return fmt.Errorf("%s: token endpoint rejected request (%s): %w", backend, re.ErrorCode, mithril.ErrDenied)
		}
		return fmt.Errorf("%s: token endpoint rejected request: %w", backend, mithril.ErrDenied)
	}
	return &mithril.NetworkError{Backend: backend, Err: err}
}
