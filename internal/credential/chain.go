package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	mithril "github.com/eugener/mithril/internal"
	"github.com/eugener/mithril/internal/config"
)

// chainCredential implements the default credential: an ordered fallback
// chain tried lazily the first time a token is needed. A member reporting
// ErrUnavailable is skipped silently; a member that is applicable but fails
// stops the chain so a real credential problem is never masked. The first
// member to succeed is remembered and used for all later acquisitions.
type chainCredential struct {
	mu       sync.Mutex
	members  []mithril.Credential
	selected mithril.Credential
}

// newChain builds the fallback order: environment, managed identity, Azure
// CLI, then device code. Device code participates only when a prompt is
// configured; without an app registration of its own it signs in as the
// Azure CLI public client.
func newChain(ac config.AuthConfig, opts Options) *chainCredential {
	authority := ac.EffectiveAuthority()
	client := opts.httpClient()

	members := []mithril.Credential{
		&environmentCredential{authority: authority, client: client},
		newManagedIdentityCredential("", client),
		newAzureCLICredential(),
	}
	if opts.Prompt != nil {
		tenant := ac.TenantID
		if tenant == "" {
			tenant = organizationsTenant
		}
		clientID := ac.ClientID
		if clientID == "" {
			clientID = azureCLIClientID
		}
		members = append(members, &deviceCodeCredential{
			tenantID:  tenant,
			clientID:  clientID,
			authority: authority,
			prompt:    opts.Prompt,
			client:    client,
		})
	}
	return &chainCredential{members: members}
}

func (c *chainCredential) Name() string      { return "default" }
func (c *chainCredential) Refreshable() bool { return true }

// Acquire walks the chain until a member yields a token, then sticks with
// that member for the session's lifetime.
func (c *chainCredential) Acquire(ctx context.Context, scope string) (mithril.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.selected != nil {
		return c.selected.Acquire(ctx, scope)
	}

	var tried []string
	for _, m := range c.members {
		tok, err := m.Acquire(ctx, scope)
		if err == nil {
			slog.Info("credential chain resolved", "source", m.Name())
			c.selected = m
			return tok, nil
		}
		if errors.Is(err, mithril.ErrUnavailable) {
			slog.Debug("credential source unavailable, trying next", "source", m.Name())
			tried = append(tried, m.Name())
			continue
		}
		// Applicable but failing: hard stop.
		return mithril.Token{}, fmt.Errorf("default: %s credential failed: %w", m.Name(), err)
	}

	return mithril.Token{}, fmt.Errorf(
		"default: no credential source available (tried %s); set AZURE_* variables, run az login, or configure an explicit mode: %w",
		strings.Join(tried, ", "), mithril.ErrUnavailable)
}
