package credential

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	mithril "github.com/eugener/mithril/internal"
	"github.com/eugener/mithril/internal/config"
)

// writeTestCertPEM generates a self-signed certificate and writes it with
// its PKCS#8 key to a PEM file, returning the path and key.
func writeTestCertPEM(t *testing.T) (string, *rsa.PrivateKey, *x509.Certificate) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "mithril-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	var buf []byte
	buf = append(buf, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})...)
	buf = append(buf, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})...)

	path := filepath.Join(t.TempDir(), "cert.pem")
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	return path, key, cert
}

func certConfig(path string) config.AuthConfig {
	return config.AuthConfig{
		Mode:            "client_certificate",
		TenantID:        "tenant-1",
		ClientID:        "client-1",
		CertificatePath: path,
	}
}

func TestCertificateEagerLoad(t *testing.T) {
	t.Parallel()

	path, _, cert := writeTestCertPEM(t)
	cred, err := newCertificateCredential(certConfig(path), "https://login.example.com", &http.Client{})
	if err != nil {
		t.Fatalf("newCertificateCredential: %v", err)
	}

	sum := sha1.Sum(cert.Raw)
	if want := base64.RawURLEncoding.EncodeToString(sum[:]); cred.thumbprint != want {
		t.Errorf("thumbprint = %q, want %q", cred.thumbprint, want)
	}
}

func TestCertificateLoadFailsFast(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"missing file", func(t *testing.T) string {
			return filepath.Join(t.TempDir(), "absent.pem")
		}},
		{"malformed file", func(t *testing.T) string {
			p := filepath.Join(t.TempDir(), "junk.pem")
			os.WriteFile(p, []byte("-----BEGIN CERTIFICATE-----\nnot base64\n-----END CERTIFICATE-----\n"), 0o600)
			return p
		}},
		{"key without certificate", func(t *testing.T) string {
			key, _ := rsa.GenerateKey(rand.Reader, 2048)
			der := x509.MarshalPKCS1PrivateKey(key)
			p := filepath.Join(t.TempDir(), "key.pem")
			os.WriteFile(p, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}), 0o600)
			return p
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := newCertificateCredential(certConfig(tt.path(t)), "https://login.example.com", &http.Client{})
			var ce *mithril.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want *ConfigError", err)
			}
			if ce.Field != "certificate_path" {
				t.Errorf("Field = %q, want certificate_path", ce.Field)
			}
		})
	}
}

func TestCertificateAcquireSendsSignedAssertion(t *testing.T) {
	t.Parallel()

	path, key, _ := writeTestCertPEM(t)

	var gotAssertion, gotAssertionType string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotAssertion = r.PostFormValue("client_assertion")
		gotAssertionType = r.PostFormValue("client_assertion_type")
		if got := r.PostFormValue("grant_type"); got != "client_credentials" {
			t.Errorf("grant_type = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"cert-tok","expires_in":3599}`))
	}))
	defer ts.Close()

	cred, err := newCertificateCredential(certConfig(path), ts.URL, ts.Client())
	if err != nil {
		t.Fatalf("newCertificateCredential: %v", err)
	}

	tok, err := cred.Acquire(context.Background(), "scope-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if tok.Secret != "cert-tok" {
		t.Errorf("Secret = %q", tok.Secret)
	}
	if gotAssertionType != clientAssertionType {
		t.Errorf("client_assertion_type = %q", gotAssertionType)
	}

	// The assertion must verify against the certificate key and carry the
	// token endpoint as audience.
	parsed, err := jwt.Parse(gotAssertion, func(*jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithAudience(tokenURL(ts.URL, "tenant-1")))
	if err != nil {
		t.Fatalf("parse assertion: %v", err)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	if claims["iss"] != "client-1" || claims["sub"] != "client-1" {
		t.Errorf("iss/sub = %v/%v, want client-1", claims["iss"], claims["sub"])
	}
	if parsed.Header["x5t"] != cred.thumbprint {
		t.Errorf("x5t = %v, want %q", parsed.Header["x5t"], cred.thumbprint)
	}
	if claims["jti"] == "" {
		t.Error("assertion should carry a jti")
	}
}
