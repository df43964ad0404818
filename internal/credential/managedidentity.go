package credential

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	mithril "github.com/eugener/mithril/internal"
)

// imdsEndpoint is the Azure Instance Metadata Service token endpoint,
// reachable only from Azure-hosted compute.
const imdsEndpoint = "http://169.254.169.254/metadata/identity/oauth2/token"

const imdsAPIVersion = "2019-08-01"

// imdsProbeTimeout bounds the IMDS call. Off Azure the address is a black
// hole; a short deadline keeps the default chain moving.
const imdsProbeTimeout = 5 * time.Second

// managedIdentityCredential acquires tokens from IMDS, for system-assigned
// or (when clientID is set) user-assigned managed identities.
type managedIdentityCredential struct {
	clientID string
	endpoint string
	client   *http.Client
}

func newManagedIdentityCredential(clientID string, client *http.Client) *managedIdentityCredential {
	return &managedIdentityCredential{clientID: clientID, endpoint: imdsEndpoint, client: client}
}

func (c *managedIdentityCredential) Name() string      { return "managed_identity" }
func (c *managedIdentityCredential) Refreshable() bool { return true }

// Acquire requests a token from IMDS. The scope is converted to a bare
// resource URI (IMDS predates v2.0 scopes). An unreachable endpoint means
// the process is not running on Azure compute and reports ErrUnavailable.
func (c *managedIdentityCredential) Acquire(ctx context.Context, scope string) (mithril.Token, error) {
	q := url.Values{}
	q.Set("api-version", imdsAPIVersion)
	q.Set("resource", strings.TrimSuffix(scope, "/.default"))
	if c.clientID != "" {
		q.Set("client_id", c.clientID)
	}

	ctx, cancel := context.WithTimeout(ctx, imdsProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return mithril.Token{}, fmt.Errorf("managed_identity: create request: %w", err)
	}
	req.Header.Set("Metadata", "true")
	req.Header.Set("client-request-id", uuid.NewString())

	resp, err := c.client.Do(req)
	if err != nil {
		// Connection refused, no route, or probe timeout: not on Azure.
		return mithril.Token{}, fmt.Errorf("managed_identity: IMDS unreachable: %w", mithril.ErrUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return mithril.Token{}, &mithril.NetworkError{Backend: c.Name(), Err: err}
	}

	// 400 means the endpoint answered but no identity is assigned; 404 means
	// no IMDS at all. Both make this backend inapplicable rather than denied.
	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound {
		return mithril.Token{}, fmt.Errorf("managed_identity: no identity assigned (HTTP %d): %w",
			resp.StatusCode, mithril.ErrUnavailable)
	}
	return tokenFromEntraResponse(c.Name(), resp.StatusCode, body)
}
