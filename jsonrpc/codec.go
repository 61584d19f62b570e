package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Standard JSON-RPC error codes, plus the server-range code used when the
// host context does not complete a call in time.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeHostTimeout    = -32000
)

// Error is a JSON-RPC error object. It implements the error interface so
// handlers can return it directly to control the reported code.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// NewError creates an Error with the given code and message.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// nullID is the id used when the request id could not be determined.
var nullID = json.RawMessage("null")

// Request is a parsed JSON-RPC request envelope. ID and Params hold the
// raw JSON so values round-trip verbatim.
type Request struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response is the wire response envelope. Exactly one of Result or Error
// is set; ID echoes the request id, or null when it is unknown.
type Response struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// SuccessResponse builds a success envelope. A nil result is serialized
// as an explicit JSON null so the result member is always present.
func SuccessResponse(id json.RawMessage, result any) Response {
	if result == nil {
		result = nullID
	}
	return Response{ID: echoID(id), Result: result}
}

// ErrorResponse builds an error envelope.
func ErrorResponse(id json.RawMessage, rpcErr *Error) Response {
	return Response{ID: echoID(id), Error: rpcErr}
}

// echoID returns the verbatim request id, or null when absent.
func echoID(id json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(id)) == 0 {
		return nullID
	}
	return id
}

// ParseRequest decodes a raw request body into a Request.
//
// Malformed JSON yields CodeParseError. Well-formed JSON that is not a
// request object, or that lacks a non-empty method, yields
// CodeInvalidRequest; in that case the returned Request (when non-nil)
// carries whatever id could be extracted, so the caller can echo it.
func ParseRequest(raw []byte) (*Request, *Error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, NewError(CodeParseError, "Invalid JSON")
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			// Well-formed JSON with the wrong shape (a batch array, a
			// bare value, or mistyped members).
			return &req, NewError(CodeInvalidRequest, "Invalid request")
		}
		return nil, NewError(CodeParseError, "Invalid JSON")
	}

	if strings.TrimSpace(req.Method) == "" {
		return &req, NewError(CodeInvalidRequest, "Method not specified")
	}
	return &req, nil
}
