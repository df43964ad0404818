package credential

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	mithril "github.com/eugener/mithril/internal"
)

// clientSecretCredential implements the OAuth2 client-credentials grant for
// a service principal with a shared secret.
type clientSecretCredential struct {
	tenantID  string
	clientID  string
	secret    string
	authority string
	client    *http.Client
	name      string // mode tag override; set by the environment backend
}

func (c *clientSecretCredential) Name() string {
	if c.name != "" {
		return c.name
	}
	return "client_secret"
}
func (c *clientSecretCredential) Refreshable() bool { return true }

// Acquire exchanges the client secret for an access token at the tenant's
// v2.0 token endpoint.
func (c *clientSecretCredential) Acquire(ctx context.Context, scope string) (mithril.Token, error) {
	cfg := &clientcredentials.Config{
		ClientID:     c.clientID,
		ClientSecret: c.secret,
		TokenURL:     tokenURL(c.authority, c.tenantID),
		Scopes:       []string{scope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.client)
	tok, err := cfg.Token(ctx)
	if err != nil {
		return mithril.Token{}, classifyOAuthError(c.Name(), err)
	}
	return tokenFromOAuth(tok), nil
}
