// Package identitytest mints access tokens shaped like the provider's and
// serves a fake OpenID Connect issuer for tests.
package identitytest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
)

const keyID = "planmeet-test"

// TokenOptions describes the claims of a minted token.
type TokenOptions struct {
	Subject   string
	Username  string
	Roles     []string
	Groups    []string
	Team      string
	ExpiresIn time.Duration
}

// Admin returns options for an administrator without a team.
func Admin() TokenOptions {
	return TokenOptions{Subject: "admin-1", Username: "cio", Roles: []string{"CIO"}}
}

// Manager returns options for a manager of team.
func Manager(team string) TokenOptions {
	return TokenOptions{
		Subject:  "po-" + team,
		Username: "po_" + team,
		Roles:    []string{"PO"},
		Groups:   []string{"/" + team},
	}
}

// Developer returns options for a plain team member.
func Developer(team string) TokenOptions {
	return TokenOptions{
		Subject:  "dev-" + team,
		Username: "dev_" + team,
		Roles:    []string{"Dev"},
		Groups:   []string{"/" + team},
	}
}

func (o TokenOptions) claims(issuer string) jwt.MapClaims {
	now := time.Now()
	exp := o.ExpiresIn
	if exp == 0 {
		exp = time.Hour
	}
	c := jwt.MapClaims{
		"sub":                o.Subject,
		"preferred_username": o.Username,
		"iat":                now.Unix(),
		"exp":                now.Add(exp).Unix(),
		"realm_access":       map[string]interface{}{"roles": o.Roles},
	}
	if issuer != "" {
		c["iss"] = issuer
	}
	if len(o.Groups) > 0 {
		c["groups"] = o.Groups
	}
	if o.Team != "" {
		c["team"] = o.Team
	}
	return c
}

// Token returns an HS256 token for readers that skip signature checks.
func Token(o TokenOptions) string {
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, o.claims("")).SignedString([]byte("planmeet-test-secret"))
	if err != nil {
		panic(err)
	}
	return s
}

// Issuer is a fake OpenID Connect issuer with discovery and JWKS endpoints.
type Issuer struct {
	Server *httptest.Server
	key    *rsa.PrivateKey
}

// NewIssuer starts an issuer that is closed with the test.
func NewIssuer(t testing.TB) *Issuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	iss := &Issuer{key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		u := iss.URL()
		writeJSON(w, map[string]interface{}{
			"issuer":                                u,
			"authorization_endpoint":                u + "/protocol/openid-connect/auth",
			"token_endpoint":                        u + "/protocol/openid-connect/token",
			"jwks_uri":                              u + "/protocol/openid-connect/certs",
			"userinfo_endpoint":                     u + "/protocol/openid-connect/userinfo",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/protocol/openid-connect/certs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"keys": []map[string]string{{
				"kty": "RSA",
				"alg": "RS256",
				"use": "sig",
				"kid": keyID,
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
			}},
		})
	})
	iss.Server = httptest.NewServer(mux)
	t.Cleanup(iss.Server.Close)
	return iss
}

// URL is the issuer identifier.
func (i *Issuer) URL() string { return i.Server.URL }

// Sign returns an RS256 token issued by i.
func (i *Issuer) Sign(o TokenOptions) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, o.claims(i.URL()))
	tok.Header["kid"] = keyID
	s, err := tok.SignedString(i.key)
	if err != nil {
		panic(err)
	}
	return s
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
