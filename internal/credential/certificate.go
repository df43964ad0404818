package credential

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/pkcs12"

	mithril "github.com/eugener/mithril/internal"
	"github.com/eugener/mithril/internal/config"
)

// clientAssertionType is the fixed assertion type for certificate-based
// client authentication.
const clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// assertionLifetime bounds the validity of each signed client assertion.
const assertionLifetime = 10 * time.Minute

// certificateCredential implements the client-credentials grant with a
// signed JWT assertion instead of a shared secret. The certificate and key
// are loaded once at build time.
type certificateCredential struct {
	tenantID   string
	clientID   string
	authority  string
	client     *http.Client
	key        *rsa.PrivateKey
	thumbprint string // base64url SHA-1 of the certificate, for the x5t header
}

// newCertificateCredential reads and parses the certificate file eagerly so
// a missing or malformed file fails at build time. PEM and PFX (PKCS#12)
// formats are supported.
func newCertificateCredential(ac config.AuthConfig, authority string, client *http.Client) (*certificateCredential, error) {
	data, err := os.ReadFile(ac.CertificatePath)
	if err != nil {
		return nil, &mithril.ConfigError{Mode: ac.Mode, Field: "certificate_path",
			Reason: fmt.Sprintf("invalid certificate: %v", err)}
	}

	cert, key, err := parseCertificate(data, ac.CertificatePassword)
	if err != nil {
		return nil, &mithril.ConfigError{Mode: ac.Mode, Field: "certificate_path",
			Reason: fmt.Sprintf("invalid certificate: %v", err)}
	}

	sum := sha1.Sum(cert.Raw)
	return &certificateCredential{
		tenantID:   ac.TenantID,
		clientID:   ac.ClientID,
		authority:  authority,
		client:     client,
		key:        key,
		thumbprint: base64.RawURLEncoding.EncodeToString(sum[:]),
	}, nil
}

func (c *certificateCredential) Name() string      { return "client_certificate" }
func (c *certificateCredential) Refreshable() bool { return true }

// Acquire signs a fresh client assertion and exchanges it at the tenant's
// token endpoint.
func (c *certificateCredential) Acquire(ctx context.Context, scope string) (mithril.Token, error) {
	endpoint := tokenURL(c.authority, c.tenantID)

	assertion, err := c.signAssertion(endpoint)
	if err != nil {
		return mithril.Token{}, fmt.Errorf("client_certificate: sign assertion: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("scope", scope)
	form.Set("client_assertion_type", clientAssertionType)
	form.Set("client_assertion", assertion)

	return postTokenForm(ctx, c.client, c.Name(), endpoint, form)
}

// signAssertion produces the RS256 client assertion Entra expects: audience
// is the token endpoint, issuer and subject are the client ID, and the x5t
// header carries the certificate thumbprint.
func (c *certificateCredential) signAssertion(audience string) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"aud": audience,
		"iss": c.clientID,
		"sub": c.clientID,
		"jti": uuid.NewString(),
		"nbf": now.Unix(),
		"iat": now.Unix(),
		"exp": now.Add(assertionLifetime).Unix(),
	})
	tok.Header["x5t"] = c.thumbprint
	return tok.SignedString(c.key)
}

// parseCertificate extracts the certificate and RSA private key from PEM or
// PKCS#12 data.
func parseCertificate(data []byte, password string) (*x509.Certificate, *rsa.PrivateKey, error) {
	if bytes.Contains(data, []byte("-----BEGIN")) {
		return parsePEM(data)
	}

	rawKey, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, nil, fmt.Errorf("parse PKCS#12: %w", err)
	}
	key, ok := rawKey.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("unsupported key type %T, need RSA", rawKey)
	}
	return cert, key, nil
}

func parsePEM(data []byte) (*x509.Certificate, *rsa.PrivateKey, error) {
	var cert *x509.Certificate
	var key *rsa.PrivateKey

	for rest := data; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			if cert != nil {
				continue // leaf first; ignore chain certificates
			}
			c, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("parse certificate: %w", err)
			}
			cert = c
		case "PRIVATE KEY":
			k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("parse private key: %w", err)
			}
			rsaKey, ok := k.(*rsa.PrivateKey)
			if !ok {
				return nil, nil, fmt.Errorf("unsupported key type %T, need RSA", k)
			}
			key = rsaKey
		case "RSA PRIVATE KEY":
			k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("parse private key: %w", err)
			}
			key = k
		}
	}

	if cert == nil {
		return nil, nil, fmt.Errorf("no certificate found in PEM data")
	}
	if key == nil {
		return nil, nil, fmt.Errorf("no private key found in PEM data")
	}
	return cert, key, nil
}
