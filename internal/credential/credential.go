// Package credential maps declarative authentication configuration onto a
// bound mithril.Credential backend. Validation of required fields happens
// here, at build time; token acquisition happens behind the Credential
// interface.
package credential

import (
	"net/http"
	"os"

	mithril "github.com/eugener/mithril/internal"
	"github.com/eugener/mithril/internal/config"
)

// Environment variables consulted by backends. Explicit config fields win;
// the environment is the fallback.
const (
	EnvTenantID     = "AZURE_TENANT_ID"
	EnvClientID     = "AZURE_CLIENT_ID"
	EnvClientSecret = "AZURE_CLIENT_SECRET"
	EnvAPIKey       = "AZURE_OPENAI_API_KEY"
)

// azureCLIClientID is the well-known public client ID of the Azure CLI,
// used for device-code sign-in when the configuration carries no app
// registration of its own.
const azureCLIClientID = "04b07795-8ddb-461a-bbee-02f9e1bf7b46"

// organizationsTenant is the multi-tenant authority segment used when no
// tenant is configured for an interactive flow.
const organizationsTenant = "organizations"

// Options carries cross-cutting collaborators for backend construction.
type Options struct {
	// Prompt delivers the device-code verification URL and user code to the
	// user. Required for device_code mode; in default mode its absence just
	// removes device code from the fallback chain.
	Prompt mithril.DeviceCodePrompt

	// HTTPClient is used for identity-endpoint calls. Defaults to
	// NewHTTPClient(nil).
	HTTPClient *http.Client
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return NewHTTPClient(nil)
}

// Build resolves the declarative auth configuration into a single bound
// credential backend. Required fields are validated here; certificate files
// are read and parsed eagerly so a bad path fails at startup, not at the
// first request. All validation failures are *mithril.ConfigError values
// naming the mode and field.
func Build(ac config.AuthConfig, opts Options) (mithril.Credential, error) {
	authority := ac.EffectiveAuthority()

	switch ac.Mode {
	case "", "default":
		return newChain(ac, opts), nil

	case "device_code":
		if ac.TenantID == "" {
			return nil, &mithril.ConfigError{Mode: ac.Mode, Field: "tenant_id"}
		}
		if ac.ClientID == "" {
			return nil, &mithril.ConfigError{Mode: ac.Mode, Field: "client_id"}
		}
		if opts.Prompt == nil {
			return nil, &mithril.ConfigError{Mode: ac.Mode, Field: "prompt",
				Reason: "device code flow requires an interactive prompt callback"}
		}
		return &deviceCodeCredential{
			tenantID:  ac.TenantID,
			clientID:  ac.ClientID,
			authority: authority,
			prompt:    opts.Prompt,
			client:    opts.httpClient(),
		}, nil

	case "managed_identity":
		return newManagedIdentityCredential(ac.ClientID, opts.httpClient()), nil

	case "client_secret":
		if ac.TenantID == "" {
			return nil, &mithril.ConfigError{Mode: ac.Mode, Field: "tenant_id"}
		}
		if ac.ClientID == "" {
			return nil, &mithril.ConfigError{Mode: ac.Mode, Field: "client_id"}
		}
		secret := ac.ClientSecret
		if secret == "" {
			secret = os.Getenv(EnvClientSecret)
		}
		if secret == "" {
			return nil, &mithril.ConfigError{Mode: ac.Mode, Field: "client_secret",
				Reason: "not set in config and " + EnvClientSecret + " is empty"}
		}
		return &clientSecretCredential{
			tenantID:  ac.TenantID,
			clientID:  ac.ClientID,
			secret:    secret,
			authority: authority,
			client:    opts.httpClient(),
		}, nil

	case "client_certificate":
		if ac.TenantID == "" {
			return nil, &mithril.ConfigError{Mode: ac.Mode, Field: "tenant_id"}
		}
		if ac.ClientID == "" {
			return nil, &mithril.ConfigError{Mode: ac.Mode, Field: "client_id"}
		}
		if ac.CertificatePath == "" {
			return nil, &mithril.ConfigError{Mode: ac.Mode, Field: "certificate_path"}
		}
		return newCertificateCredential(ac, authority, opts.httpClient())

	case "azure_cli":
		return newAzureCLICredential(), nil

	case "environment":
		// Fail fast on the fixed variable set; the default chain constructs
		// the backend directly and gets acquire-time skipping instead.
		for _, v := range []string{EnvTenantID, EnvClientID, EnvClientSecret} {
			if os.Getenv(v) == "" {
				return nil, &mithril.ConfigError{Mode: ac.Mode, Field: v,
					Reason: "environment variable not set"}
			}
		}
		return &environmentCredential{authority: authority, client: opts.httpClient()}, nil

	case "api_key":
		key := ac.APIKey
		if key == "" {
			key = os.Getenv(EnvAPIKey)
		}
		if key == "" {
			return nil, &mithril.ConfigError{Mode: ac.Mode, Field: "api_key",
				Reason: "not set in config and " + EnvAPIKey + " is empty"}
		}
		return &staticKeyCredential{key: key}, nil

	default:
		return nil, &mithril.ConfigError{Mode: ac.Mode, Field: "mode",
			Reason: "unknown authentication mode"}
	}
}

// tokenURL returns the v2.0 token endpoint for a tenant.
func tokenURL(authority, tenantID string) string {
	return authority + "/" + tenantID + "/oauth2/v2.0/token"
}

// deviceAuthURL returns the v2.0 device authorization endpoint for a tenant.
func deviceAuthURL(authority, tenantID string) string {
	return authority + "/" + tenantID + "/oauth2/v2.0/devicecode"
}
