package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/mnehpets/hostbridge/endpoint"
)

// SecurityHeaders sets conservative security headers suitable for an
// API-only surface and, when Origins is configured, answers CORS
// preflight requests.
//
// Defaults (via NewSecurityHeaders):
//   - X-Content-Type-Options: nosniff
//   - X-Frame-Options: DENY
//   - Referrer-Policy: no-referrer
//   - Content-Security-Policy: default-src 'none'
type SecurityHeaders struct {
	// ContentTypeOptions controls X-Content-Type-Options: nosniff.
	ContentTypeOptions bool

	// FrameOptions sets X-Frame-Options; empty disables the header.
	FrameOptions string

	// ReferrerPolicy sets Referrer-Policy; empty disables the header.
	ReferrerPolicy string

	// ContentSecurityPolicy sets Content-Security-Policy; empty disables.
	ContentSecurityPolicy string

	// Origins lists origins allowed for cross-origin calls. Empty means
	// CORS headers are not emitted and preflights are not handled. "*"
	// allows any origin.
	Origins []string

	// MaxAge is the preflight cache lifetime in seconds. 0 omits the
	// Access-Control-Max-Age header.
	MaxAge int
}

// NewSecurityHeaders returns the API defaults.
func NewSecurityHeaders() *SecurityHeaders {
	return &SecurityHeaders{
		ContentTypeOptions:    true,
		FrameOptions:          "DENY",
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'",
	}
}

func (p *SecurityHeaders) Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
	h := w.Header()
	if p.ContentTypeOptions {
		h.Set("X-Content-Type-Options", "nosniff")
	}
	if p.FrameOptions != "" {
		h.Set("X-Frame-Options", p.FrameOptions)
	}
	if p.ReferrerPolicy != "" {
		h.Set("Referrer-Policy", p.ReferrerPolicy)
	}
	if p.ContentSecurityPolicy != "" {
		h.Set("Content-Security-Policy", p.ContentSecurityPolicy)
	}

	origin := r.Header.Get("Origin")
	if origin != "" && len(p.Origins) > 0 {
		if allowed := p.allowOrigin(origin); allowed != "" {
			h.Set("Access-Control-Allow-Origin", allowed)
			if allowed != "*" {
				h.Add("Vary", "Origin")
			}
			// Preflight short-circuits the chain; this is the one case a
			// processor writes the response itself.
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				if p.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(p.MaxAge))
				}
				w.WriteHeader(http.StatusNoContent)
				return nil
			}
		}
	}

	return next(w, r)
}

func (p *SecurityHeaders) allowOrigin(origin string) string {
	for _, o := range p.Origins {
		if o == "*" {
			return "*"
		}
		if strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}

var _ endpoint.Processor = (*SecurityHeaders)(nil)
