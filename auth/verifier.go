// Package auth verifies bearer tokens presented to the hostbridge
// endpoint, for hosts that expose the bridge beyond the local machine.
//
// Two verifier implementations are provided: OIDCVerifier performs
// issuer discovery and validates tokens against the issuer's published
// keys; JWKSVerifier validates tokens offline against a static key set.
// Either plugs into the request pipeline via Processor.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"golang.org/x/oauth2"

	"github.com/mnehpets/hostbridge/endpoint"
)

// ErrInvalidToken is returned when a token fails verification for any
// reason (signature, expiry, issuer, audience).
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims is the verified identity attached to a request.
type Claims struct {
	Subject  string
	Issuer   string
	Audience []string
	Expiry   time.Time
}

// Verifier validates a raw bearer token and returns its claims.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Claims, error)
}

// OIDCVerifier validates tokens against an OIDC issuer discovered at
// construction time. Keys are fetched and cached by the underlying
// oidc library.
type OIDCVerifier struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	clientID string
}

// NewOIDCVerifier performs discovery against issuer and prepares a
// verifier that requires tokens to carry clientID as audience.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("auth: discover issuer %q: %w", issuer, err)
	}
	return &OIDCVerifier{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		clientID: clientID,
	}, nil
}

// Verify implements Verifier.
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &Claims{
		Subject:  idToken.Subject,
		Issuer:   idToken.Issuer,
		Audience: idToken.Audience,
		Expiry:   idToken.Expiry,
	}, nil
}

// OAuthConfig builds an oauth2.Config against the discovered issuer
// endpoints, for embedders that drive a token-acquisition flow for
// their clients.
func (v *OIDCVerifier) OAuthConfig(clientSecret, redirectURL string, scopes []string) *oauth2.Config {
	hasOpenID := false
	for _, s := range scopes {
		if s == oidc.ScopeOpenID {
			hasOpenID = true
			break
		}
	}
	if !hasOpenID {
		scopes = append([]string{oidc.ScopeOpenID}, scopes...)
	}
	return &oauth2.Config{
		ClientID:     v.clientID,
		ClientSecret: clientSecret,
		Endpoint:     v.provider.Endpoint(),
		RedirectURL:  redirectURL,
		Scopes:       scopes,
	}
}

// jwksAlgorithms are the signature algorithms accepted for static key
// sets.
var jwksAlgorithms = []jose.SignatureAlgorithm{jose.RS256, jose.ES256, jose.EdDSA}

// JWKSVerifier validates tokens offline against a static JSON Web Key
// Set. Useful when the embedding host provisions keys directly and no
// issuer is reachable.
type JWKSVerifier struct {
	keys     jose.JSONWebKeySet
	issuer   string
	audience string
	now      func() time.Time
}

// NewJWKSVerifier creates a verifier over keys. issuer and audience are
// both required and must match the token's claims exactly.
func NewJWKSVerifier(keys jose.JSONWebKeySet, issuer, audience string) (*JWKSVerifier, error) {
	if len(keys.Keys) == 0 {
		return nil, errors.New("auth: key set must not be empty")
	}
	if issuer == "" || audience == "" {
		return nil, errors.New("auth: issuer and audience are required")
	}
	return &JWKSVerifier{keys: keys, issuer: issuer, audience: audience, now: time.Now}, nil
}

// Verify implements Verifier.
func (v *JWKSVerifier) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	token, err := jwt.ParseSigned(rawToken, jwksAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var claims jwt.Claims
	if err := v.claimsFor(token, &claims); err != nil {
		return nil, err
	}

	err = claims.Validate(jwt.Expected{
		Issuer:      v.issuer,
		AnyAudience: jwt.Audience{v.audience},
		Time:        v.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	out := &Claims{
		Subject:  claims.Subject,
		Issuer:   claims.Issuer,
		Audience: claims.Audience,
	}
	if claims.Expiry != nil {
		out.Expiry = claims.Expiry.Time()
	}
	return out, nil
}

// claimsFor extracts claims using the key named by the token's kid
// header, falling back to trying every key when no kid is present.
func (v *JWKSVerifier) claimsFor(token *jwt.JSONWebToken, claims *jwt.Claims) error {
	var kid string
	for _, h := range token.Headers {
		if h.KeyID != "" {
			kid = h.KeyID
			break
		}
	}

	candidates := v.keys.Keys
	if kid != "" {
		candidates = v.keys.Key(kid)
		if len(candidates) == 0 {
			return fmt.Errorf("%w: unknown key id %q", ErrInvalidToken, kid)
		}
	}
	var lastErr error
	for _, k := range candidates {
		if err := token.Claims(k.Key, claims); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return fmt.Errorf("%w: %v", ErrInvalidToken, lastErr)
}

type claimsKey struct{}

// ClaimsFromContext returns the verified claims attached by Processor.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// Processor adapts a Verifier into a request-pipeline processor. The
// verified claims are placed on the request context.
func Processor(v Verifier) endpoint.Processor {
	return endpoint.ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
		raw, ok := bearerToken(r)
		if !ok {
			return endpoint.Error(http.StatusUnauthorized, "missing bearer token", nil)
		}
		claims, err := v.Verify(r.Context(), raw)
		if err != nil {
			return endpoint.Error(http.StatusUnauthorized, "invalid bearer token", err)
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		return next(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(auth[len(prefix):])
	return token, token != ""
}
