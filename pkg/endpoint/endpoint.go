// Package endpoint holds the process-wide endpoint registry: named
// procedures registered once during startup, sealed before the server takes
// traffic, and immutable afterward. The sealed registry is what discovery
// snapshots and the dispatcher both read.
package endpoint

import (
	"context"
	"encoding/json"

	"github.com/lazrpc/laz-go/pkg/schema"
)

// Kind classifies an endpoint's retry contract.
type Kind string

const (
	// KindQuery marks a read-only endpoint that is safe to retry.
	KindQuery Kind = "query"
	// KindMutation marks a side-effecting endpoint that must never be
	// retried transparently.
	KindMutation Kind = "mutation"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindQuery || k == KindMutation
}

// Invoker is the uniform capability stored per endpoint: decode params of
// the endpoint's specific shape, run the handler, encode its result. An
// error return carries the handler's own message.
type Invoker func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)

// Descriptor is one registered endpoint. The invoker is server-internal and
// never leaves the process; discovery exposes everything else.
type Descriptor struct {
	Name    string
	Kind    Kind
	Params  *schema.Descriptor
	Returns *schema.Descriptor
	Invoker Invoker
}
