package endpoint

import "github.com/lazrpc/laz-go/pkg/schema"

// Protocol is the semver of the discovery/call wire contract. Clients check
// it against their supported range during the handshake.
const Protocol = "1.0.0"

// EndpointMeta is the discoverable face of one endpoint: everything in its
// descriptor except the invoker.
type EndpointMeta struct {
	Name    string             `json:"name"`
	Kind    Kind               `json:"kind"`
	Params  *schema.Descriptor `json:"params"`
	Returns *schema.Descriptor `json:"returns"`
}

// Metadata is a point-in-time snapshot of a sealed registry. Because the
// registry never changes after Seal, a snapshot stays valid for the
// lifetime of any session that captured it. Holders treat it as read-only.
type Metadata struct {
	Protocol  string         `json:"protocol"`
	Endpoints []EndpointMeta `json:"endpoints"`
}

// Snapshot captures the metadata of a sealed registry. It panics if the
// registry is still open for registration: exposing a mutable registry to
// discovery would invalidate the snapshot guarantee.
func Snapshot(r *Registry) *Metadata {
	if !r.Sealed() {
		panic("endpoint: snapshot of unsealed registry")
	}
	m := &Metadata{Protocol: Protocol}
	for _, d := range r.List() {
		m.Endpoints = append(m.Endpoints, EndpointMeta{
			Name:    d.Name,
			Kind:    d.Kind,
			Params:  d.Params,
			Returns: d.Returns,
		})
	}
	return m
}

// Find returns the metadata entry for name, if present.
func (m *Metadata) Find(name string) (EndpointMeta, bool) {
	for _, e := range m.Endpoints {
		if e.Name == name {
			return e, true
		}
	}
	return EndpointMeta{}, false
}
