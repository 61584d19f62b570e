package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/mnehpets/hostbridge/endpoint"
)

type testKeys struct {
	priv   *rsa.PrivateKey
	signer jose.Signer
	jwks   jose.JSONWebKeySet
}

func newTestKeys(t *testing.T) *testKeys {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: jose.JSONWebKey{Key: priv, KeyID: "test-key"}},
		(&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		t.Fatal(err)
	}
	jwks := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		{Key: &priv.PublicKey, Use: "sig", Algorithm: "RS256", KeyID: "test-key"},
	}}
	return &testKeys{priv: priv, signer: signer, jwks: jwks}
}

func (k *testKeys) mint(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	raw, err := jwt.Signed(k.signer).Claims(claims).Serialize()
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func baseClaims(issuer string) jwt.Claims {
	return jwt.Claims{
		Subject:  "user123",
		Issuer:   issuer,
		Audience: jwt.Audience{"client-id"},
		Expiry:   jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt: jwt.NewNumericDate(time.Now()),
	}
}

func TestJWKSVerifier(t *testing.T) {
	keys := newTestKeys(t)
	v, err := NewJWKSVerifier(keys.jwks, "https://issuer.example", "client-id")
	if err != nil {
		t.Fatal(err)
	}

	t.Run("valid token", func(t *testing.T) {
		claims, err := v.Verify(context.Background(), keys.mint(t, baseClaims("https://issuer.example")))
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if claims.Subject != "user123" {
			t.Errorf("got subject %q", claims.Subject)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		c := baseClaims("https://issuer.example")
		c.Expiry = jwt.NewNumericDate(time.Now().Add(-time.Hour))
		if _, err := v.Verify(context.Background(), keys.mint(t, c)); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("got %v, want ErrInvalidToken", err)
		}
	})

	t.Run("wrong issuer", func(t *testing.T) {
		c := baseClaims("https://other.example")
		if _, err := v.Verify(context.Background(), keys.mint(t, c)); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("got %v, want ErrInvalidToken", err)
		}
	})

	t.Run("wrong audience", func(t *testing.T) {
		c := baseClaims("https://issuer.example")
		c.Audience = jwt.Audience{"someone-else"}
		if _, err := v.Verify(context.Background(), keys.mint(t, c)); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("got %v, want ErrInvalidToken", err)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		other := newTestKeys(t)
		if _, err := v.Verify(context.Background(), other.mint(t, baseClaims("https://issuer.example"))); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("got %v, want ErrInvalidToken", err)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		if _, err := v.Verify(context.Background(), "not.a.token"); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("got %v, want ErrInvalidToken", err)
		}
	})
}

func TestNewJWKSVerifierValidation(t *testing.T) {
	keys := newTestKeys(t)
	if _, err := NewJWKSVerifier(jose.JSONWebKeySet{}, "iss", "aud"); err == nil {
		t.Error("empty key set accepted")
	}
	if _, err := NewJWKSVerifier(keys.jwks, "", "aud"); err == nil {
		t.Error("empty issuer accepted")
	}
	if _, err := NewJWKSVerifier(keys.jwks, "iss", ""); err == nil {
		t.Error("empty audience accepted")
	}
}

// newOIDCServer serves discovery and JWKS documents for a test issuer.
func newOIDCServer(t *testing.T, keys *testKeys) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		issuer := srv.URL
		switch r.URL.Path {
		case "/.well-known/openid-configuration":
			json.NewEncoder(w).Encode(map[string]any{
				"issuer":                                issuer,
				"jwks_uri":                              issuer + "/keys",
				"authorization_endpoint":                issuer + "/auth",
				"token_endpoint":                        issuer + "/token",
				"response_types_supported":              []string{"code"},
				"subject_types_supported":               []string{"public"},
				"id_token_signing_alg_values_supported": []string{"RS256"},
			})
		case "/keys":
			json.NewEncoder(w).Encode(keys.jwks)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOIDCVerifier(t *testing.T) {
	keys := newTestKeys(t)
	srv := newOIDCServer(t, keys)

	v, err := NewOIDCVerifier(context.Background(), srv.URL, "client-id")
	if err != nil {
		t.Fatalf("NewOIDCVerifier: %v", err)
	}

	claims, err := v.Verify(context.Background(), keys.mint(t, baseClaims(srv.URL)))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user123" || claims.Issuer != srv.URL {
		t.Errorf("got claims %+v", claims)
	}

	c := baseClaims(srv.URL)
	c.Audience = jwt.Audience{"someone-else"}
	if _, err := v.Verify(context.Background(), keys.mint(t, c)); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("got %v, want ErrInvalidToken", err)
	}

	cfg := v.OAuthConfig("secret", "http://localhost/callback", []string{"profile"})
	if cfg.ClientID != "client-id" || len(cfg.Scopes) != 2 || cfg.Scopes[0] != "openid" {
		t.Errorf("got oauth config %+v", cfg)
	}
}

func TestProcessor(t *testing.T) {
	keys := newTestKeys(t)
	v, err := NewJWKSVerifier(keys.jwks, "https://issuer.example", "client-id")
	if err != nil {
		t.Fatal(err)
	}

	var seen *Claims
	h := endpoint.Handler(func(w http.ResponseWriter, r *http.Request, params struct{}) (endpoint.Renderer, error) {
		seen, _ = ClaimsFromContext(r.Context())
		return &endpoint.StatusRenderer{Status: http.StatusOK}, nil
	}, Processor(v))

	// Valid token reaches the endpoint with claims on the context.
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+keys.mint(t, baseClaims("https://issuer.example")))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("got status %d, want 200", rec.Code)
	}
	if seen == nil || seen.Subject != "user123" {
		t.Errorf("claims not on context: %+v", seen)
	}

	// Missing and invalid tokens are rejected before the endpoint.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: got status %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("invalid token: got status %d, want 401", rec.Code)
	}
}
