package credential

import (
	"context"
	"time"

	mithril "github.com/eugener/mithril/internal"
)

// staticKeyTTL is the nominal lifetime given to static API keys. The key
// itself never expires; the TTL only satisfies the token invariant and sets
// the cache revalidation cadence.
const staticKeyTTL = 24 * time.Hour

// staticKeyCredential holds a raw API key. It is the only non-refreshable
// backend: a 401 under this mode is immediately terminal.
type staticKeyCredential struct {
	key string
}

func (c *staticKeyCredential) Name() string      { return "api_key" }
func (c *staticKeyCredential) Refreshable() bool { return false }

// Acquire returns the configured key without any network activity.
func (c *staticKeyCredential) Acquire(context.Context, string) (mithril.Token, error) {
	return mithril.NewToken(c.key, staticKeyTTL), nil
}
