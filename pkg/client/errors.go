package client

import "fmt"

// ErrorKind classifies every failure a session can surface. No error is
// silently discarded; callers branch on the kind.
type ErrorKind string

const (
	// KindConnection covers transport failures: dial, publish, or a lost
	// connection mid-call.
	KindConnection ErrorKind = "connection"
	// KindProtocol covers malformed or incompatible server responses,
	// including correlation mismatches and unsupported protocol versions.
	KindProtocol ErrorKind = "protocol"
	// KindLocalValidation means the params failed the cached schema before
	// any round trip; the server never saw the call.
	KindLocalValidation ErrorKind = "local_validation"
	// KindTimeout means the call deadline expired. The server-side
	// execution is not retracted; its outcome is unknown.
	KindTimeout ErrorKind = "timeout"
	// KindNotFound mirrors the server's NOT_FOUND, or a name absent from
	// the cached snapshot.
	KindNotFound ErrorKind = "not_found"
	// KindSchemaMismatch mirrors the server's SCHEMA_MISMATCH.
	KindSchemaMismatch ErrorKind = "schema_mismatch"
	// KindHandler carries the handler's own failure message.
	KindHandler ErrorKind = "handler"
)

// RpcError is the typed error surfaced for every failed call or handshake.
type RpcError struct {
	Kind     ErrorKind
	Endpoint string
	Message  string
	// Retryable echoes the server's advisory flag; it is never true for
	// mutation endpoints.
	Retryable bool
	cause     error
}

func (e *RpcError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("rpc: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("rpc: %s: %s: %s", e.Endpoint, e.Kind, e.Message)
}

func (e *RpcError) Unwrap() error {
	return e.cause
}

func rpcErr(kind ErrorKind, endpoint, message string, cause error) *RpcError {
	return &RpcError{Kind: kind, Endpoint: endpoint, Message: message, cause: cause}
}
