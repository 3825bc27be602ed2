// Package dispatch resolves incoming call envelopes against a sealed
// endpoint registry: lookup, schema validation, invocation, and structured
// error recovery. Every call failure becomes a CallResponse; the process
// never crashes because of one.
package dispatch

import "encoding/json"

// Wire error codes. Registration-time failures never reach the wire; these
// cover per-call conditions only.
const (
	CodeNotFound       = "NOT_FOUND"
	CodeSchemaMismatch = "SCHEMA_MISMATCH"
	CodeHandlerError   = "HANDLER_ERROR"
	CodeInvalidRequest = "INVALID_REQUEST"
)

// CallRequest is the JSON envelope for one procedure call. ID is a
// client-generated correlation identifier echoed back verbatim; concurrent
// calls complete out of order and are matched by it.
type CallRequest struct {
	ID       string          `json:"id"`
	Endpoint string          `json:"endpoint"`
	Params   json.RawMessage `json:"params,omitempty"`
}

// CallResponse is the JSON envelope for one call result.
type CallResponse struct {
	ID     string          `json:"id"`
	Ok     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorDetail    `json:"error,omitempty"`
}

// ErrorDetail holds structured error information. Retryable is advisory:
// it is only ever true for query endpoints, never for mutations.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// MetadataRequest is the discovery handshake request. It carries no fields;
// the response is always the full current endpoint list.
type MetadataRequest struct{}
