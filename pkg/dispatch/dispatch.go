package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lazrpc/laz-go/pkg/endpoint"
	"github.com/lazrpc/laz-go/pkg/schema"
)

const logPrefix = "dispatch:dispatch"

// Dispatcher routes call envelopes to registered endpoint invokers. It
// holds a sealed registry and a metadata snapshot captured at construction;
// both are immutable, so a Dispatcher is safe for concurrent use without
// locking.
type Dispatcher struct {
	registry *endpoint.Registry
	meta     *endpoint.Metadata
}

// NewDispatcher creates a Dispatcher over a sealed registry. It panics on
// an unsealed registry: serving calls before the registration phase ends
// would break the discovery snapshot guarantee.
func NewDispatcher(reg *endpoint.Registry) *Dispatcher {
	return &Dispatcher{registry: reg, meta: endpoint.Snapshot(reg)}
}

// Metadata returns the discovery snapshot. The same value is returned for
// every request within the process lifetime.
func (d *Dispatcher) Metadata() *endpoint.Metadata {
	return d.meta
}

// Dispatch resolves and runs one call. The handler is invoked only after
// the endpoint is found and the params pass schema validation; a validation
// failure therefore guarantees no handler side effects.
func (d *Dispatcher) Dispatch(ctx context.Context, req *CallRequest) *CallResponse {
	slog.Debug(fmt.Sprintf("%s - endpoint=%s id=%s", logPrefix, req.Endpoint, req.ID))

	desc, ok := d.registry.Lookup(req.Endpoint)
	if !ok {
		return errorResponse(req.ID, CodeNotFound,
			fmt.Sprintf("unknown endpoint: %s", req.Endpoint), false)
	}

	if err := schema.ValidateParams(desc.Params, req.Params); err != nil {
		return errorResponse(req.ID, CodeSchemaMismatch, err.Error(), false)
	}

	result, err := d.invoke(ctx, desc, req.Params)
	if err != nil {
		// Only queries are safe for a layer above to retry.
		return errorResponse(req.ID, CodeHandlerError, err.Error(), desc.Kind == endpoint.KindQuery)
	}
	return &CallResponse{ID: req.ID, Ok: true, Result: result}
}

// invoke runs the handler, converting a panic into an ordinary handler
// error so one bad call cannot take the server down.
func (d *Dispatcher) invoke(ctx context.Context, desc *endpoint.Descriptor, params json.RawMessage) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - handler %s panicked: %v", logPrefix, desc.Name, r))
			err = fmt.Errorf("handler %s panicked: %v", desc.Name, r)
		}
	}()
	return desc.Invoker(ctx, params)
}

// DispatchRaw is the byte-level entry point for hosting transports: decode
// the envelope, dispatch, encode the response. A malformed envelope yields
// an INVALID_REQUEST response rather than an error.
func (d *Dispatcher) DispatchRaw(ctx context.Context, data []byte) []byte {
	var req CallRequest
	if err := json.Unmarshal(data, &req); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to decode request: %v", logPrefix, err))
		return mustMarshal(errorResponse("", CodeInvalidRequest, "failed to decode call request", false))
	}
	return mustMarshal(d.Dispatch(ctx, &req))
}

// MetadataRaw encodes the discovery snapshot for hosting transports.
func (d *Dispatcher) MetadataRaw() []byte {
	return mustMarshal(d.meta)
}

func errorResponse(id, code, message string, retryable bool) *CallResponse {
	return &CallResponse{
		ID: id,
		Error: &ErrorDetail{
			Code:      code,
			Message:   message,
			Retryable: retryable,
		},
	}
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Envelopes are plain structs; this cannot fail for well-formed input.
		slog.Error(fmt.Sprintf("%s - failed to encode response: %v", logPrefix, err))
		return []byte(`{"ok":false,"error":{"code":"HANDLER_ERROR","message":"response encoding failed","retryable":false}}`)
	}
	return data
}
