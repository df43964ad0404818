// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Cloud identifies the Azure cloud environment. Sovereign clouds use
// different identity authorities and resource scopes.
type Cloud string

// Supported cloud environments.
const (
	CloudPublic       Cloud = "public"
	CloudUSGovernment Cloud = "us_government"
	CloudChina        Cloud = "china"
)

// Identity authorities and Cognitive Services scopes per cloud.
const (
	PublicAuthority = "https://login.microsoftonline.com"
	USGovAuthority  = "https://login.microsoftonline.us"
	ChinaAuthority  = "https://login.chinacloudapi.cn"

	PublicScope = "https://cognitiveservices.azure.com/.default"
	USGovScope  = "https://cognitiveservices.azure.us/.default"
	ChinaScope  = "https://cognitiveservices.azure.cn/.default"
)

// Authority returns the identity authority URL for the cloud.
func (c Cloud) Authority() string {
	switch c {
	case CloudUSGovernment:
		return USGovAuthority
	case CloudChina:
		return ChinaAuthority
	default:
		return PublicAuthority
	}
}

// Scope returns the default Cognitive Services scope for the cloud.
func (c Cloud) Scope() string {
	switch c {
	case CloudUSGovernment:
		return USGovScope
	case CloudChina:
		return ChinaScope
	default:
		return PublicScope
	}
}

// Config is the top-level configuration.
type Config struct {
	Auth      AuthConfig      `yaml:"auth"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// AuthConfig declares the authentication strategy and its mode-specific
// fields. Required fields are validated when the credential is built, not
// here; this is the raw declarative form.
type AuthConfig struct {
	Mode string `yaml:"mode"` // default, device_code, managed_identity, client_secret,
	// client_certificate, azure_cli, environment, api_key

	TenantID            string `yaml:"tenant_id"`
	ClientID            string `yaml:"client_id"`
	ClientSecret        string `yaml:"client_secret"`        // falls back to AZURE_CLIENT_SECRET
	CertificatePath     string `yaml:"certificate_path"`     // PEM or PFX
	CertificatePassword string `yaml:"certificate_password"` // for encrypted PFX
	APIKey              string `yaml:"api_key"`              // falls back to AZURE_OPENAI_API_KEY

	Cloud     Cloud  `yaml:"cloud"`
	Scope     string `yaml:"scope"`     // default: per-cloud Cognitive Services scope
	Authority string `yaml:"authority"` // sovereign/custom authority override

	Header     string `yaml:"header"`      // bearer, api_key, custom
	HeaderName string `yaml:"header_name"` // required for header: custom

	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

// EffectiveAuthority returns the explicit authority override if set,
// otherwise the cloud's default authority.
func (a AuthConfig) EffectiveAuthority() string {
	if a.Authority != "" {
		return a.Authority
	}
	return a.Cloud.Authority()
}

// EffectiveScope returns the configured scope, defaulting per cloud.
func (a AuthConfig) EffectiveScope() string {
	if a.Scope != "" {
		return a.Scope
	}
	return a.Cloud.Scope()
}

// EffectiveHeader returns the configured header kind tag, defaulting to
// "api_key" for api_key mode and "bearer" for everything else.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	if a.Mode == "api_key" {
		return "api_key"
	}
	return "bearer"
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Default returns the configuration defaults applied before parsing.
func Default() *Config {
	return &Config{
		Auth: AuthConfig{
			Mode:           "default",
			Cloud:          CloudPublic,
			AcquireTimeout: 30 * time.Second,
		},
	}
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML config bytes on top of the defaults.
func Parse(data []byte) (*Config, error) {
	data = expandEnv(data)

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Auth.Mode == "" {
		cfg.Auth.Mode = "default"
	}
	if cfg.Auth.AcquireTimeout <= 0 {
		cfg.Auth.AcquireTimeout = 30 * time.Second
	}
	return cfg, nil
}
