package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/lazrpc/laz-go/pkg/commsutil"
	"github.com/lazrpc/laz-go/pkg/dispatch"
	"github.com/lazrpc/laz-go/pkg/endpoint"
)

const (
	testService = "clienttest"
	testPort    = 14251
)

// fakeServer subscribes a canned dispatcher to the session subjects so the
// client can be tested without the real server orchestration.
type fakeServer struct {
	ns        *commsserver.Server
	nc        *comms.Conn
	callCount atomic.Int64
}

func startFakeServer(t *testing.T, reg *endpoint.Registry) *fakeServer {
	t.Helper()

	opts := &commsserver.Options{
		Host:   "127.0.0.1",
		Port:   testPort,
		NoLog:  true,
		NoSigs: true,
	}
	ns, err := commsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("create COMMS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("COMMS server failed to start")
	}
	t.Cleanup(ns.Shutdown)

	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)

	fs := &fakeServer{ns: ns, nc: nc}
	disp := dispatch.NewDispatcher(reg)

	if _, err := nc.Subscribe(commsutil.BuildMetadataSubject(testService), func(msg *comms.Msg) {
		msg.Respond(disp.MetadataRaw())
	}); err != nil {
		t.Fatalf("subscribe metadata: %v", err)
	}
	if _, err := nc.Subscribe(commsutil.BuildCallSubject(testService), func(msg *comms.Msg) {
		fs.callCount.Add(1)
		msg.Respond(disp.DispatchRaw(context.Background(), msg.Data))
	}); err != nil {
		t.Fatalf("subscribe call: %v", err)
	}
	return fs
}

func testRegistry(t *testing.T) *endpoint.Registry {
	t.Helper()
	reg := endpoint.NewRegistry()
	err := endpoint.Query(reg, "hello", func(ctx context.Context, _ struct{}) (string, error) {
		return "Hello from Laz RPC!", nil
	})
	if err != nil {
		t.Fatalf("register hello: %v", err)
	}
	type echoParams struct {
		Text string `json:"text"`
	}
	err = endpoint.Query(reg, "echo", func(ctx context.Context, p echoParams) (string, error) {
		return p.Text, nil
	})
	if err != nil {
		t.Fatalf("register echo: %v", err)
	}
	err = endpoint.Query(reg, "slow", func(ctx context.Context, _ struct{}) (string, error) {
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
		}
		return "done", nil
	})
	if err != nil {
		t.Fatalf("register slow: %v", err)
	}
	reg.Seal()
	return reg
}

func dialTestSession(t *testing.T, fs *fakeServer) *Session {
	t.Helper()
	s, err := Dial(context.Background(), Config{
		URL:     fs.ns.ClientURL(),
		Service: testService,
		Name:    "client-test",
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestDial_DiscoveryHandshake(t *testing.T) {
	fs := startFakeServer(t, testRegistry(t))
	s := dialTestSession(t, fs)

	fns := s.AvailableFunctions()
	if len(fns) != 3 {
		t.Fatalf("expected 3 functions, got %d", len(fns))
	}
	byName := map[string]endpoint.Kind{}
	for _, f := range fns {
		byName[f.Name] = f.Kind
	}
	if byName["hello"] != endpoint.KindQuery {
		t.Errorf("expected hello to be a query, got %s", byName["hello"])
	}
}

func TestDial_ConnectionError(t *testing.T) {
	_, err := Dial(context.Background(), Config{Host: "127.0.0.1", Port: 1, Name: "nope"})
	var rerr *RpcError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *RpcError, got %v", err)
	}
	if rerr.Kind != KindConnection {
		t.Errorf("expected connection kind, got %s", rerr.Kind)
	}
}

func TestCall_Hello(t *testing.T) {
	fs := startFakeServer(t, testRegistry(t))
	s := dialTestSession(t, fs)

	result, err := s.Call(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("call hello: %v", err)
	}
	var got string
	if err := json.Unmarshal(result, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != "Hello from Laz RPC!" {
		t.Errorf("expected greeting, got %q", got)
	}
}

func TestCall_LocalValidationSkipsRoundTrip(t *testing.T) {
	fs := startFakeServer(t, testRegistry(t))
	s := dialTestSession(t, fs)

	_, err := s.Call(context.Background(), "echo", map[string]any{"wrong": true})
	var rerr *RpcError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *RpcError, got %v", err)
	}
	if rerr.Kind != KindLocalValidation {
		t.Errorf("expected local validation kind, got %s", rerr.Kind)
	}
	if fs.callCount.Load() != 0 {
		t.Errorf("local validation failure still produced %d round trips", fs.callCount.Load())
	}
}

func TestCall_UnknownEndpointNoRoundTrip(t *testing.T) {
	fs := startFakeServer(t, testRegistry(t))
	s := dialTestSession(t, fs)

	_, err := s.Call(context.Background(), "missing", nil)
	var rerr *RpcError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *RpcError, got %v", err)
	}
	if rerr.Kind != KindNotFound {
		t.Errorf("expected not_found kind, got %s", rerr.Kind)
	}
	if fs.callCount.Load() != 0 {
		t.Error("unknown endpoint should fail before the wire")
	}
}

func TestCall_DeadlineExpires(t *testing.T) {
	fs := startFakeServer(t, testRegistry(t))
	s := dialTestSession(t, fs)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := s.Call(ctx, "slow", nil)
	var rerr *RpcError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *RpcError, got %v", err)
	}
	if rerr.Kind != KindTimeout {
		t.Errorf("expected timeout kind, got %s", rerr.Kind)
	}
	if rerr.Endpoint != "slow" {
		t.Errorf("expected endpoint slow, got %q", rerr.Endpoint)
	}
}

func TestCallInto_TypedDecode(t *testing.T) {
	fs := startFakeServer(t, testRegistry(t))
	s := dialTestSession(t, fs)

	var out string
	err := s.CallInto(context.Background(), "echo", map[string]any{"text": "ping"}, &out)
	if err != nil {
		t.Fatalf("call into: %v", err)
	}
	if out != "ping" {
		t.Errorf("expected ping, got %q", out)
	}
}

func TestDial_UnsupportedProtocol(t *testing.T) {
	opts := &commsserver.Options{Host: "127.0.0.1", Port: testPort + 1, NoLog: true, NoSigs: true}
	ns, err := commsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("create COMMS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("COMMS server failed to start")
	}
	defer ns.Shutdown()

	nc, err := comms.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	if _, err := nc.Subscribe(commsutil.BuildMetadataSubject(testService), func(msg *comms.Msg) {
		msg.Respond([]byte(`{"protocol":"2.0.0","endpoints":[]}`))
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	_, err = Dial(context.Background(), Config{URL: ns.ClientURL(), Service: testService})
	var rerr *RpcError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *RpcError, got %v", err)
	}
	if rerr.Kind != KindProtocol {
		t.Errorf("expected protocol kind, got %s", rerr.Kind)
	}
}

func TestDial_MalformedMetadata(t *testing.T) {
	opts := &commsserver.Options{Host: "127.0.0.1", Port: testPort + 2, NoLog: true, NoSigs: true}
	ns, err := commsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("create COMMS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("COMMS server failed to start")
	}
	defer ns.Shutdown()

	nc, err := comms.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	if _, err := nc.Subscribe(commsutil.BuildMetadataSubject(testService), func(msg *comms.Msg) {
		msg.Respond([]byte(`{garbage`))
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	_, err = Dial(context.Background(), Config{URL: ns.ClientURL(), Service: testService})
	var rerr *RpcError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *RpcError, got %v", err)
	}
	if rerr.Kind != KindProtocol {
		t.Errorf("expected protocol kind, got %s", rerr.Kind)
	}
}

func TestKindForCode(t *testing.T) {
	cases := map[string]ErrorKind{
		dispatch.CodeNotFound:       KindNotFound,
		dispatch.CodeSchemaMismatch: KindSchemaMismatch,
		dispatch.CodeHandlerError:   KindHandler,
		dispatch.CodeInvalidRequest: KindProtocol,
		"SOMETHING_ELSE":            KindProtocol,
	}
	for code, want := range cases {
		if got := kindForCode(code); got != want {
			t.Errorf("kindForCode(%s) = %s, want %s", code, got, want)
		}
	}
}

func TestConfig_URL(t *testing.T) {
	if got := (Config{Host: "localhost", Port: 4222}).url(); got != "nats://localhost:4222" {
		t.Errorf("unexpected url %q", got)
	}
	if got := (Config{URL: "nats://example:4333", Host: "ignored", Port: 1}).url(); got != "nats://example:4333" {
		t.Errorf("URL should win, got %q", got)
	}
}
