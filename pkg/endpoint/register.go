package endpoint

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lazrpc/laz-go/pkg/schema"
)

// Query registers a retry-safe endpoint whose param and return schemas are
// derived from P and R. A non-describable P or R fails here, at startup,
// with a descriptive error.
func Query[P, R any](r *Registry, name string, fn func(ctx context.Context, params P) (R, error)) error {
	return register(r, name, KindQuery, fn)
}

// Mutation registers a side-effecting endpoint. The dispatch engine never
// retries it; the handler owns synchronization of any shared state.
func Mutation[P, R any](r *Registry, name string, fn func(ctx context.Context, params P) (R, error)) error {
	return register(r, name, KindMutation, fn)
}

func register[P, R any](r *Registry, name string, kind Kind, fn func(ctx context.Context, params P) (R, error)) error {
	paramSchema, err := schema.For[P]()
	if err != nil {
		return fmt.Errorf("endpoint: %q params: %w", name, err)
	}
	// Params travel as a JSON object keyed by field name; a bare primitive
	// has no field names to validate against.
	if paramSchema.Type != schema.TagObject {
		return fmt.Errorf("endpoint: %q params: type %s is not an object; declare params as a struct",
			name, paramSchema.TypeName)
	}
	returnSchema, err := schema.For[R]()
	if err != nil {
		return fmt.Errorf("endpoint: %q returns: %w", name, err)
	}

	invoker := func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var params P
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, fmt.Errorf("decode params: %w", err)
			}
		}
		result, err := fn(ctx, params)
		if err != nil {
			return nil, err
		}
		out, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		return out, nil
	}

	return r.Register(&Descriptor{
		Name:    name,
		Kind:    kind,
		Params:  paramSchema,
		Returns: returnSchema,
		Invoker: invoker,
	})
}
