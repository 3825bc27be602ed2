package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/lazrpc/laz-go/pkg/endpoint"
)

type registerParams struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type registerResult struct {
	UserID string `json:"userId"`
}

// testFixture builds a sealed registry with one query and one mutation and
// exposes their side-effect counters.
type testFixture struct {
	disp          *Dispatcher
	helloCalls    atomic.Int64
	registerCalls atomic.Int64
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{}
	reg := endpoint.NewRegistry()

	err := endpoint.Query(reg, "hello", func(ctx context.Context, _ struct{}) (string, error) {
		f.helloCalls.Add(1)
		return "Hello from Laz RPC!", nil
	})
	if err != nil {
		t.Fatalf("register hello: %v", err)
	}

	err = endpoint.Mutation(reg, "register", func(ctx context.Context, p registerParams) (registerResult, error) {
		f.registerCalls.Add(1)
		return registerResult{UserID: "u-1"}, nil
	})
	if err != nil {
		t.Fatalf("register register: %v", err)
	}

	err = endpoint.Query(reg, "fail", func(ctx context.Context, _ struct{}) (string, error) {
		return "", errors.New("database unavailable")
	})
	if err != nil {
		t.Fatalf("register fail: %v", err)
	}

	err = endpoint.Query(reg, "panic", func(ctx context.Context, _ struct{}) (string, error) {
		panic("boom")
	})
	if err != nil {
		t.Fatalf("register panic: %v", err)
	}

	reg.Seal()
	f.disp = NewDispatcher(reg)
	return f
}

func TestDispatch_HelloRoundTrip(t *testing.T) {
	f := newFixture(t)

	resp := f.disp.Dispatch(context.Background(), &CallRequest{ID: "c-1", Endpoint: "hello"})
	if !resp.Ok {
		t.Fatalf("expected ok response, got error %+v", resp.Error)
	}
	if resp.ID != "c-1" {
		t.Errorf("expected correlation id c-1, got %s", resp.ID)
	}
	var got string
	if err := json.Unmarshal(resp.Result, &got); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if got != "Hello from Laz RPC!" {
		t.Errorf("expected greeting, got %q", got)
	}
	if f.helloCalls.Load() != 1 {
		t.Errorf("expected exactly one handler invocation, got %d", f.helloCalls.Load())
	}
}

func TestDispatch_NotFound(t *testing.T) {
	f := newFixture(t)

	resp := f.disp.Dispatch(context.Background(), &CallRequest{ID: "c-2", Endpoint: "nope"})
	if resp.Ok {
		t.Fatal("expected error response")
	}
	if resp.Error.Code != CodeNotFound {
		t.Errorf("expected %s, got %s", CodeNotFound, resp.Error.Code)
	}
	if resp.Error.Retryable {
		t.Error("not-found must not be marked retryable")
	}
	if f.helloCalls.Load() != 0 || f.registerCalls.Load() != 0 {
		t.Error("no handler should run for an unknown endpoint")
	}
}

func TestDispatch_SchemaMismatchBeforeSideEffects(t *testing.T) {
	f := newFixture(t)

	// password omitted
	resp := f.disp.Dispatch(context.Background(), &CallRequest{
		ID:       "c-3",
		Endpoint: "register",
		Params:   json.RawMessage(`{"email":"a@b.c","name":"Ada"}`),
	})
	if resp.Ok {
		t.Fatal("expected schema mismatch")
	}
	if resp.Error.Code != CodeSchemaMismatch {
		t.Errorf("expected %s, got %s", CodeSchemaMismatch, resp.Error.Code)
	}
	if !strings.Contains(resp.Error.Message, "password") {
		t.Errorf("expected message to name the missing field, got %q", resp.Error.Message)
	}
	if f.registerCalls.Load() != 0 {
		t.Errorf("mutation side effect occurred despite validation failure: %d calls", f.registerCalls.Load())
	}
}

func TestDispatch_MutationSuccess(t *testing.T) {
	f := newFixture(t)

	resp := f.disp.Dispatch(context.Background(), &CallRequest{
		ID:       "c-4",
		Endpoint: "register",
		Params:   json.RawMessage(`{"email":"a@b.c","password":"pw","name":"Ada"}`),
	})
	if !resp.Ok {
		t.Fatalf("expected ok, got %+v", resp.Error)
	}
	var res registerResult
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.UserID != "u-1" {
		t.Errorf("expected u-1, got %s", res.UserID)
	}
	if f.registerCalls.Load() != 1 {
		t.Errorf("expected one mutation invocation, got %d", f.registerCalls.Load())
	}
}

func TestDispatch_HandlerError(t *testing.T) {
	f := newFixture(t)

	resp := f.disp.Dispatch(context.Background(), &CallRequest{ID: "c-5", Endpoint: "fail"})
	if resp.Ok {
		t.Fatal("expected handler error")
	}
	if resp.Error.Code != CodeHandlerError {
		t.Errorf("expected %s, got %s", CodeHandlerError, resp.Error.Code)
	}
	if !strings.Contains(resp.Error.Message, "database unavailable") {
		t.Errorf("expected handler message to pass through, got %q", resp.Error.Message)
	}
	if !resp.Error.Retryable {
		t.Error("query handler error should be marked retryable")
	}
}

func TestDispatch_MutationErrorNotRetryable(t *testing.T) {
	reg := endpoint.NewRegistry()
	err := endpoint.Mutation(reg, "charge", func(ctx context.Context, _ struct{}) (string, error) {
		return "", errors.New("card declined")
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	reg.Seal()

	resp := NewDispatcher(reg).Dispatch(context.Background(), &CallRequest{ID: "c-6", Endpoint: "charge"})
	if resp.Ok {
		t.Fatal("expected handler error")
	}
	if resp.Error.Retryable {
		t.Error("mutation failures must never be marked retryable")
	}
}

func TestDispatch_PanicRecovered(t *testing.T) {
	f := newFixture(t)

	resp := f.disp.Dispatch(context.Background(), &CallRequest{ID: "c-7", Endpoint: "panic"})
	if resp.Ok {
		t.Fatal("expected error from panicking handler")
	}
	if resp.Error.Code != CodeHandlerError {
		t.Errorf("expected %s, got %s", CodeHandlerError, resp.Error.Code)
	}
	if !strings.Contains(resp.Error.Message, "boom") {
		t.Errorf("expected panic value in message, got %q", resp.Error.Message)
	}
}

func TestDispatchRaw_MalformedEnvelope(t *testing.T) {
	f := newFixture(t)

	data := f.disp.DispatchRaw(context.Background(), []byte(`{not json`))
	var resp CallResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Ok || resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
		t.Errorf("expected INVALID_REQUEST, got %+v", resp)
	}
}

func TestMetadata_Snapshot(t *testing.T) {
	f := newFixture(t)

	m := f.disp.Metadata()
	if m.Protocol != endpoint.Protocol {
		t.Errorf("expected protocol %s, got %s", endpoint.Protocol, m.Protocol)
	}
	e, ok := m.Find("hello")
	if !ok {
		t.Fatal("metadata missing hello")
	}
	if e.Kind != endpoint.KindQuery {
		t.Errorf("expected hello to be a query, got %s", e.Kind)
	}
	for _, ep := range m.Endpoints {
		if ep.Params == nil || ep.Returns == nil {
			t.Errorf("endpoint %s missing schemas in metadata", ep.Name)
		}
	}

	// Repeated capture within one process returns an identical list.
	again := f.disp.Metadata()
	if len(again.Endpoints) != len(m.Endpoints) {
		t.Fatal("metadata changed between requests")
	}
	for i := range m.Endpoints {
		if again.Endpoints[i].Name != m.Endpoints[i].Name {
			t.Errorf("metadata ordering changed between requests at %d", i)
		}
	}
}
