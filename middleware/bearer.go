package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/mnehpets/hostbridge/endpoint"
)

// BearerAuth rejects requests that do not carry the configured shared
// secret as an Authorization bearer token. Only a BLAKE2b-256 digest of
// the secret is retained, and comparison is constant-time.
type BearerAuth struct {
	digest [blake2b.Size256]byte
}

// NewBearerAuth creates a bearer-token processor for the given secret.
func NewBearerAuth(token string) (*BearerAuth, error) {
	if token == "" {
		return nil, errors.New("middleware: bearer token must not be empty")
	}
	return &BearerAuth{digest: blake2b.Sum256([]byte(token))}, nil
}

func (p *BearerAuth) Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
	token, ok := bearerToken(r)
	if !ok {
		return endpoint.Error(http.StatusUnauthorized, "missing bearer token", nil)
	}
	got := blake2b.Sum256([]byte(token))
	if subtle.ConstantTimeCompare(got[:], p.digest[:]) != 1 {
		return endpoint.Error(http.StatusUnauthorized, "invalid bearer token", nil)
	}
	return next(w, r)
}

// bearerToken extracts the token from an "Authorization: Bearer x"
// header. The scheme match is case-insensitive per RFC 7235.
func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(auth[len(prefix):])
	return token, token != ""
}

var _ endpoint.Processor = (*BearerAuth)(nil)
