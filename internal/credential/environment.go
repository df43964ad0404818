package credential

import (
	"context"
	"fmt"
	"net/http"
	"os"

	mithril "github.com/eugener/mithril/internal"
)

// environmentCredential is a client-secret grant built entirely from the
// fixed AZURE_* variable set, read at acquisition time so the default chain
// can probe it lazily.
type environmentCredential struct {
	authority string
	client    *http.Client
}

func (c *environmentCredential) Name() string      { return "environment" }
func (c *environmentCredential) Refreshable() bool { return true }

// Acquire reads the variable set and delegates to the client-secret grant.
// A missing variable reports ErrUnavailable so the default chain moves on.
func (c *environmentCredential) Acquire(ctx context.Context, scope string) (mithril.Token, error) {
	tenantID, clientID, secret := os.Getenv(EnvTenantID), os.Getenv(EnvClientID), os.Getenv(EnvClientSecret)
	for name, v := range map[string]string{
		EnvTenantID:     tenantID,
		EnvClientID:     clientID,
		EnvClientSecret: secret,
	} {
		if v == "" {
			return mithril.Token{}, fmt.Errorf("environment: %s not set: %w", name, mithril.ErrUnavailable)
		}
	}

	cs := &clientSecretCredential{
		tenantID:  tenantID,
		clientID:  clientID,
		secret:    secret,
		authority: c.authority,
		client:    c.client,
		name:      c.Name(),
	}
	return cs.Acquire(ctx, scope)
}
