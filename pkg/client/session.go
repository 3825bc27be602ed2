// Package client implements the RPC client session: connect, perform the
// discovery handshake once, then issue calls through the dynamic Call
// primitive. Generated stubs are thin adapters over the same primitive, so
// every call path shares one set of validation and error semantics.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	comms "github.com/nats-io/nats.go"

	"github.com/lazrpc/laz-go/pkg/commsutil"
	"github.com/lazrpc/laz-go/pkg/dispatch"
	"github.com/lazrpc/laz-go/pkg/endpoint"
	"github.com/lazrpc/laz-go/pkg/schema"
)

const logPrefix = "client:session"

// supportedProtocol is the server protocol range this client understands.
var supportedProtocol = func() *semver.Constraints {
	c, err := semver.NewConstraint("^1.0.0")
	if err != nil {
		panic(err)
	}
	return c
}()

// Config holds client session configuration. URL wins over Host/Port when
// both are set.
type Config struct {
	URL     string
	Host    string
	Port    int
	Service string
	// Name identifies the connection to the COMMS server.
	Name string
	// RequestTimeout bounds each call when the caller's context carries no
	// deadline of its own.
	RequestTimeout time.Duration
}

func (c Config) url() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("nats://%s:%d", c.Host, c.Port)
}

const defaultRequestTimeout = 10 * time.Second

// FunctionInfo is one discovered endpoint, as reported to callers.
type FunctionInfo struct {
	Name string
	Kind endpoint.Kind
}

// Session is a connected RPC client. It performs exactly one blocking
// discovery handshake in Dial; the cached snapshot stays valid for the
// whole session because the server registry is immutable. A Session is
// safe for concurrent calls.
type Session struct {
	nc          *comms.Conn
	meta        *endpoint.Metadata
	callSubject string
	timeout     time.Duration
}

// Dial connects to the server and performs the discovery handshake.
// Transport failures surface as KindConnection; malformed metadata or an
// unsupported protocol version as KindProtocol.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	name := cfg.Name
	if name == "" {
		name = "laz-client"
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	nc, err := commsutil.Connect(cfg.url(), name, comms.RetryOnFailedConnect(false))
	if err != nil {
		return nil, rpcErr(KindConnection, "", fmt.Sprintf("connect to %s failed", cfg.url()), err)
	}

	s := &Session{
		nc:          nc,
		callSubject: commsutil.BuildCallSubject(cfg.Service),
		timeout:     timeout,
	}

	meta, err := s.discover(ctx, commsutil.BuildMetadataSubject(cfg.Service))
	if err != nil {
		nc.Close()
		return nil, err
	}
	s.meta = meta

	slog.Info(fmt.Sprintf("%s - Discovered %d endpoints (protocol %s)",
		logPrefix, len(meta.Endpoints), meta.Protocol))
	return s, nil
}

func (s *Session) discover(ctx context.Context, subject string) (*endpoint.Metadata, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	payload, err := commsutil.EncodePayload(dispatch.MetadataRequest{})
	if err != nil {
		return nil, rpcErr(KindProtocol, "", "encode metadata request", err)
	}

	msg, err := s.nc.RequestWithContext(ctx, subject, payload)
	if err != nil {
		if isTimeout(err) {
			return nil, rpcErr(KindTimeout, "", "discovery handshake timed out", err)
		}
		return nil, rpcErr(KindConnection, "", "discovery handshake failed", err)
	}

	var meta endpoint.Metadata
	if err := commsutil.DecodePayload(msg.Data, &meta); err != nil {
		return nil, rpcErr(KindProtocol, "", "malformed metadata response", err)
	}

	ver, err := semver.NewVersion(meta.Protocol)
	if err != nil {
		return nil, rpcErr(KindProtocol, "", fmt.Sprintf("invalid protocol version %q", meta.Protocol), err)
	}
	if !supportedProtocol.Check(ver) {
		return nil, rpcErr(KindProtocol, "",
			fmt.Sprintf("unsupported protocol version %s (supported: %s)", meta.Protocol, supportedProtocol), nil)
	}
	return &meta, nil
}

// AvailableFunctions lists the discovered endpoints, drawn from the cached
// snapshot. Repeated calls return the same set in the same order.
func (s *Session) AvailableFunctions() []FunctionInfo {
	out := make([]FunctionInfo, 0, len(s.meta.Endpoints))
	for _, e := range s.meta.Endpoints {
		out = append(out, FunctionInfo{Name: e.Name, Kind: e.Kind})
	}
	return out
}

// Metadata returns the cached discovery snapshot. Capture tooling persists
// it for the stub generator; everyone treats it as read-only.
func (s *Session) Metadata() *endpoint.Metadata {
	return s.meta
}

// Call invokes a named endpoint. Params may be nil for endpoints with an
// empty param schema. The params are validated locally against the cached
// schema first; a local mismatch fails without a round trip. Every failure
// is a *RpcError.
func (s *Session) Call(ctx context.Context, name string, params any) (json.RawMessage, error) {
	meta, ok := s.meta.Find(name)
	if !ok {
		return nil, rpcErr(KindNotFound, name, "endpoint not in discovered metadata", nil)
	}

	var raw json.RawMessage
	if params != nil {
		var err error
		raw, err = json.Marshal(params)
		if err != nil {
			return nil, rpcErr(KindLocalValidation, name, "params not serializable", err)
		}
	}
	if err := schema.ValidateParams(meta.Params, raw); err != nil {
		return nil, rpcErr(KindLocalValidation, name, err.Error(), err)
	}

	req := dispatch.CallRequest{ID: uuid.NewString(), Endpoint: name, Params: raw}
	payload, err := commsutil.EncodePayload(&req)
	if err != nil {
		return nil, rpcErr(KindProtocol, name, "encode call request", err)
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()

	msg, err := s.nc.RequestWithContext(ctx, s.callSubject, payload)
	if err != nil {
		if isTimeout(err) {
			// The server-side execution is not retracted; after a timeout
			// its outcome is unknown.
			return nil, rpcErr(KindTimeout, name, "call timed out", err)
		}
		return nil, rpcErr(KindConnection, name, "call transport failed", err)
	}

	var resp dispatch.CallResponse
	if err := commsutil.DecodePayload(msg.Data, &resp); err != nil {
		return nil, rpcErr(KindProtocol, name, "malformed call response", err)
	}
	if resp.ID != "" && resp.ID != req.ID {
		return nil, rpcErr(KindProtocol, name,
			fmt.Sprintf("correlation mismatch: sent %s, got %s", req.ID, resp.ID), nil)
	}

	if resp.Ok {
		return resp.Result, nil
	}
	if resp.Error == nil {
		return nil, rpcErr(KindProtocol, name, "error response without detail", nil)
	}
	rerr := rpcErr(kindForCode(resp.Error.Code), name, resp.Error.Message, nil)
	rerr.Retryable = resp.Error.Retryable
	return nil, rerr
}

// CallInto invokes a named endpoint and decodes the result into out. It is
// the decode convenience generated stubs delegate to.
func (s *Session) CallInto(ctx context.Context, name string, params, out any) error {
	result, err := s.Call(ctx, name, params)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return rpcErr(KindProtocol, name, "result does not match expected shape", err)
	}
	return nil
}

// Close releases the underlying connection.
func (s *Session) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}

func (s *Session) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, comms.ErrTimeout)
}

func kindForCode(code string) ErrorKind {
	switch code {
	case dispatch.CodeNotFound:
		return KindNotFound
	case dispatch.CodeSchemaMismatch:
		return KindSchemaMismatch
	case dispatch.CodeHandlerError:
		return KindHandler
	default:
		return KindProtocol
	}
}
