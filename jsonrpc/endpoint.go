package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"pkt.systems/pslog"

	"github.com/mnehpets/hostbridge/bridge"
	"github.com/mnehpets/hostbridge/endpoint"
)

// Invoker transfers a unit of work to the host's serialized execution
// context and blocks until it completes. *bridge.Bridge implements it.
type Invoker interface {
	Submit(ctx context.Context, fn bridge.Func) (any, error)
}

// Endpoint serves JSON-RPC calls: parse, look up the command, execute it
// on the host context, and frame the response.
// Use endpoint.Handler(e.Endpoint, processors...) to obtain an
// http.Handler.
type Endpoint struct {
	registry *Registry
	invoker  Invoker
	logger   pslog.Logger
	observe  func(outcome string)
}

// EndpointOption configures an Endpoint.
type EndpointOption func(*Endpoint)

// WithLogger supplies a structured logger. Defaults to a no-op logger.
func WithLogger(l pslog.Logger) EndpointOption {
	return func(e *Endpoint) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver registers a callback invoked once per request with the
// outcome label ("success", "parse_error", "invalid_request",
// "method_not_found", "internal_error", "host_timeout",
// "method_not_allowed"). Used to feed metrics.
func WithObserver(fn func(outcome string)) EndpointOption {
	return func(e *Endpoint) {
		e.observe = fn
	}
}

// NewEndpoint creates an Endpoint over a registry and an invoker.
//
// A nil invoker executes handlers inline on the HTTP worker goroutine;
// that mode is only safe when the host tolerates concurrent calls.
func NewEndpoint(registry *Registry, invoker Invoker, opts ...EndpointOption) *Endpoint {
	e := &Endpoint{
		registry: registry,
		invoker:  invoker,
		logger:   pslog.NoopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = NewRegistry()
	}
	return e
}

// callParams captures the raw request body. Parsing is deferred to the
// endpoint because JSON-RPC maps JSON errors to protocol envelopes, not
// to HTTP statuses.
type callParams struct {
	Body []byte `body:""`
}

// Endpoint is the endpoint function processing JSON-RPC calls. Pass to
// endpoint.Handler() to create an http.Handler.
func (e *Endpoint) Endpoint(w http.ResponseWriter, r *http.Request, params callParams) (endpoint.Renderer, error) {
	if r.Method != http.MethodPost {
		e.count("method_not_allowed")
		return &endpoint.StatusRenderer{Status: http.StatusMethodNotAllowed}, nil
	}

	req, rpcErr := ParseRequest(params.Body)
	if rpcErr != nil {
		var id json.RawMessage
		if req != nil {
			id = req.ID
		}
		e.count(outcomeForCode(rpcErr.Code))
		e.logger.Debug("jsonrpc: rejected request", "code", rpcErr.Code, "reason", rpcErr.Message)
		return respond(ErrorResponse(id, rpcErr)), nil
	}

	handler, ok := e.registry.Lookup(req.Method)
	if !ok {
		e.count("method_not_found")
		e.logger.Debug("jsonrpc: unknown method", "method", req.Method)
		return respond(ErrorResponse(req.ID, NewError(CodeMethodNotFound, "Method not found: "+req.Method))), nil
	}

	result, err := e.execute(r.Context(), handler, req)
	if err != nil {
		rpcErr := mapHandlerError(err)
		e.count(outcomeForCode(rpcErr.Code))
		e.logger.Warn("jsonrpc: method failed", "method", req.Method, "code", rpcErr.Code, "error", err.Error())
		return respond(ErrorResponse(req.ID, rpcErr)), nil
	}

	e.count("success")
	return respond(SuccessResponse(req.ID, result)), nil
}

// execute runs the handler on the host context via the invoker, or
// inline when no invoker is configured.
func (e *Endpoint) execute(ctx context.Context, handler Handler, req *Request) (any, error) {
	if e.invoker == nil {
		return handler.Execute(ctx, req.Params, req.ID)
	}
	return e.invoker.Submit(ctx, func(ctx context.Context) (any, error) {
		return handler.Execute(ctx, req.Params, req.ID)
	})
}

func (e *Endpoint) count(outcome string) {
	if e.observe != nil {
		e.observe(outcome)
	}
}

func respond(resp Response) endpoint.Renderer {
	return &endpoint.JSONRenderer{Status: http.StatusOK, Value: resp}
}

// mapHandlerError converts a handler or bridge failure to a JSON-RPC
// error. *Error values keep their code; bridge timeouts map to
// CodeHostTimeout; everything else becomes InternalError carrying the
// error text.
func mapHandlerError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if errors.Is(err, bridge.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return NewError(CodeHostTimeout, "Host context did not respond in time")
	}
	return NewError(CodeInternalError, err.Error())
}

func outcomeForCode(code int) string {
	switch code {
	case CodeParseError:
		return "parse_error"
	case CodeInvalidRequest:
		return "invalid_request"
	case CodeMethodNotFound:
		return "method_not_found"
	case CodeInvalidParams:
		return "invalid_params"
	case CodeHostTimeout:
		return "host_timeout"
	default:
		return "internal_error"
	}
}
