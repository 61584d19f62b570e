// Package middleware provides endpoint.Processors for the hostbridge
// request pipeline: request logging, bearer-token auth, and security
// headers for the API surface.
package middleware

import (
	"net/http"
	"time"

	"github.com/rs/xid"
	"pkt.systems/pslog"

	"github.com/mnehpets/hostbridge/endpoint"
)

// RequestLog logs one line per request with a generated request id,
// method, path, remote address, and duration. The request-scoped logger
// is placed on the context for downstream use.
type RequestLog struct {
	Logger pslog.Logger
}

// NewRequestLog creates a request logging processor.
func NewRequestLog(logger pslog.Logger) *RequestLog {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &RequestLog{Logger: logger}
}

func (p *RequestLog) Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
	start := time.Now()
	reqLogger := p.Logger.With("req", xid.New().String())
	r = r.WithContext(pslog.ContextWithLogger(r.Context(), reqLogger))

	err := next(w, r)

	if err != nil {
		reqLogger.Warn("request failed",
			"method", r.Method, "path", r.URL.Path,
			"remote", r.RemoteAddr, "duration", time.Since(start), "error", err.Error())
		return err
	}
	reqLogger.Debug("request served",
		"method", r.Method, "path", r.URL.Path,
		"remote", r.RemoteAddr, "duration", time.Since(start))
	return nil
}

var _ endpoint.Processor = (*RequestLog)(nil)
