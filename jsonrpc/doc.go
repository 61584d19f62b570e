// Package jsonrpc implements the JSON-RPC command surface of a host
// bridge: the wire codec, the command registry, and the HTTP endpoint
// that runs the codec -> registry -> bridge pipeline.
//
// # Wire format
//
// Requests are JSON-RPC shaped envelopes:
//
//	{"id": "1", "method": "ping", "params": null}
//
// The `jsonrpc` version member is not required; `id` and `params` may be
// absent. Responses carry exactly one of `result` or `error`:
//
//	{"id": "1", "result": "pong"}
//	{"id": null, "error": {"code": -32700, "message": "Invalid JSON"}}
//
// Every call is answered, including calls without an id (the id is
// echoed verbatim, or null when it could not be determined). All
// protocol-level outcomes are returned with HTTP 200; only non-POST
// requests receive a transport status (405, empty body).
//
// # Handlers
//
// Commands are bound explicitly at load time:
//
//	reg := jsonrpc.NewRegistry()
//	reg.Register("ping", jsonrpc.HandlerFunc(
//	    func(ctx context.Context, params, id json.RawMessage) (any, error) {
//	        return "pong", nil
//	    }))
//
// A handler returning *jsonrpc.Error keeps its code; any other error is
// reported as InternalError with the error text as the message.
//
// # Execution
//
// The Endpoint never executes handlers on the HTTP worker goroutine when
// an Invoker (normally a *bridge.Bridge) is configured: each call is
// submitted to the host's serialized execution context and the worker
// blocks until the host completes it.
package jsonrpc
