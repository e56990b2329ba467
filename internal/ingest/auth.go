package ingest

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenRefreshMargin is how long before expiry a cached app-install token
// is proactively refreshed.
const tokenRefreshMargin = 5 * time.Minute

// appInstallClaims is the JWT claims shape for a code-host app-installation
// token (an RS256 counterpart to HS256 agent claims).
type appInstallClaims struct {
	jwt.RegisteredClaims
}

// tokenSource builds and caches a short-lived app-installation bearer
// token, falling back to a static token or anonymous access.
type tokenSource struct {
	appID      string
	privateKey *rsa.PrivateKey
	staticTok  string

	mu      sync.Mutex
	cached  string
	expires time.Time
}

// newTokenSource builds a tokenSource from config. privateKeyPEM may be
// empty, in which case app-installation auth is unavailable and the
// source falls back to staticTok, then anonymous.
func newTokenSource(appID string, privateKeyPEM []byte, staticTok string) (*tokenSource, error) {
	ts := &tokenSource{appID: appID, staticTok: staticTok}
	if len(privateKeyPEM) == 0 {
		return ts, nil
	}
	key, err := parseRSAPrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("ingest: parse app private key: %w", err)
	}
	ts.privateKey = key
	return ts, nil
}

// AuthHeaderValue returns the value for the Authorization header, trying
// app-installation JWT first, then a static bearer token, then "" for
// anonymous access.
func (ts *tokenSource) AuthHeaderValue() (string, error) {
	if ts.privateKey != nil {
		tok, err := ts.appToken()
		if err != nil {
			return "", err
		}
		return "Bearer " + tok, nil
	}
	if ts.staticTok != "" {
		return "Bearer " + ts.staticTok, nil
	}
	return "", nil
}

func (ts *tokenSource) appToken() (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.cached != "" && time.Until(ts.expires) > tokenRefreshMargin {
		return ts.cached, nil
	}

	now := time.Now()
	expiry := now.Add(10 * time.Minute)
	claims := appInstallClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.appID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(ts.privateKey)
	if err != nil {
		return "", fmt.Errorf("ingest: sign app token: %w", err)
	}

	ts.cached = signed
	ts.expires = expiry
	return signed, nil
}

// parseRSAPrivateKey accepts either a PKCS#1 or PKCS#8 PEM-encoded RSA
// key; both parse to the same *rsa.PrivateKey the RS256 signer needs, so
// no DER-level conversion between the two encodings is required.
func parseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("ingest: no PEM block found in private key")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("ingest: unsupported private key encoding: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("ingest: private key is not RSA")
	}
	return rsaKey, nil
}
