package credential

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	mithril "github.com/eugener/mithril/internal"
)

// deviceCodeCredential implements the interactive device-code flow: the
// user visits a URL and enters a short code while this backend polls the
// token endpoint. The prompt callback is invoked before polling starts;
// how the URL and code are displayed is the caller's business.
type deviceCodeCredential struct {
	tenantID  string
	clientID  string
	authority string
	prompt    mithril.DeviceCodePrompt
	client    *http.Client
}

func (c *deviceCodeCredential) Name() string      { return "device_code" }
func (c *deviceCodeCredential) Refreshable() bool { return true }

// Acquire starts a device authorization, delivers the code to the user, and
// polls for completion. Polling cadence (including slow_down handling) and
// the expiry bound are enforced by x/oauth2; the context deadline bounds
// the whole interaction.
func (c *deviceCodeCredential) Acquire(ctx context.Context, scope string) (mithril.Token, error) {
	cfg := &oauth2.Config{
		ClientID: c.clientID,
		Scopes:   []string{scope},
		Endpoint: oauth2.Endpoint{
			TokenURL:      tokenURL(c.authority, c.tenantID),
			DeviceAuthURL: deviceAuthURL(c.authority, c.tenantID),
			AuthStyle:     oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.client)

	da, err := cfg.DeviceAuth(ctx)
	if err != nil {
		return mithril.Token{}, classifyOAuthError(c.Name(), err)
	}

	c.prompt(da.VerificationURI, da.UserCode,
		fmt.Sprintf("To sign in, visit %s and enter the code %s", da.VerificationURI, da.UserCode))

	tok, err := cfg.DeviceAccessToken(ctx, da)
	if err != nil {
		return mithril.Token{}, classifyOAuthError(c.Name(), err)
	}
	return tokenFromOAuth(tok), nil
}
