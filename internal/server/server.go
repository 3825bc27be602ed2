// Package server orchestrates all components: COMMS subscriptions, the
// dispatch engine, and the HTTP bridge with health and status pages.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/lazrpc/laz-go/internal/config"
	"github.com/lazrpc/laz-go/pkg/commsutil"
	"github.com/lazrpc/laz-go/pkg/dispatch"
	"github.com/lazrpc/laz-go/pkg/endpoint"
)

const logPrefix = "server:server"

// Server hosts a sealed endpoint registry over COMMS and HTTP.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	httpServer *http.Server
	disp       *dispatch.Dispatcher
}

// Run builds the registry through the provided registration function, seals
// it, and serves it until a shutdown signal arrives. Any registration error
// (duplicate name, non-describable schema) aborts startup.
func Run(register func(*endpoint.Registry) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info(fmt.Sprintf("%s - Starting laz server for service %q", logPrefix, cfg.Service))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: registration phase. The registry is sealed before anything
	// can reach it.
	reg := endpoint.NewRegistry()
	if err := register(reg); err != nil {
		return fmt.Errorf("%s - endpoint registration failed: %w", logPrefix, err)
	}
	reg.Seal()
	disp := dispatch.NewDispatcher(reg)
	slog.Info(fmt.Sprintf("%s - Registered %d endpoints", logPrefix, reg.Len()))

	s := &Server{cfg: cfg, disp: disp}

	// Step 2: connect to COMMS and subscribe the call + discovery subjects.
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}
	s.nc = nc

	unsubscribe, err := Subscribe(ctx, nc, cfg.Service, disp, cfg.RequestTimeout)
	if err != nil {
		nc.Close()
		return err
	}

	// Step 3: HTTP bridge and status pages.
	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	s.httpServer = &http.Server{Addr: httpAddr, Handler: NewMux(disp, nc, cfg.RequestTimeout, cfg.HealthCheckTimeout)}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, httpAddr))
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - Laz server is ready", logPrefix))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	unsubscribe()
	s.httpServer.Shutdown(ctx)
	nc.Drain()

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// Subscribe wires a dispatcher to the call and metadata subjects of a
// service. Each call message is handled on its own goroutine: independent
// calls run concurrently with no ordering between them, and a slow handler
// never blocks the subscription. The returned function removes both
// subscriptions.
func Subscribe(ctx context.Context, nc *comms.Conn, service string, disp *dispatch.Dispatcher, requestTimeout time.Duration) (func(), error) {
	callSubject := commsutil.BuildCallSubject(service)
	metaSubject := commsutil.BuildMetadataSubject(service)

	callSub, err := nc.Subscribe(callSubject, func(msg *comms.Msg) {
		go func() {
			reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
			defer cancel()
			msg.Respond(disp.DispatchRaw(reqCtx, msg.Data))
		}()
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, callSubject, err)
	}
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, callSubject))

	metaSub, err := nc.Subscribe(metaSubject, func(msg *comms.Msg) {
		msg.Respond(disp.MetadataRaw())
	})
	if err != nil {
		callSub.Unsubscribe()
		return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, metaSubject, err)
	}
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, metaSubject))

	return func() {
		callSub.Unsubscribe()
		metaSub.Unsubscribe()
	}, nil
}

// NewMux builds the HTTP surface: a raw byte bridge for hosting frameworks
// (POST /rpc), the discovery document (GET /metadata), health, and a status
// home page. The health handler probes the COMMS connection with a round
// trip bounded by healthTimeout; nc may be nil when no COMMS transport is
// attached.
func NewMux(disp *dispatch.Dispatcher, nc *comms.Conn, requestTimeout, healthTimeout time.Duration) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", handleHome(disp))
	mux.HandleFunc("/rpc", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		w.Header().Set("Content-Type", "application/json")
		w.Write(disp.DispatchRaw(ctx, body))
	})
	mux.HandleFunc("/metadata", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(disp.MetadataRaw())
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		code := http.StatusOK
		if nc != nil {
			if err := nc.FlushTimeout(healthTimeout); err != nil {
				slog.Error(fmt.Sprintf("%s - health probe failed: %v", logPrefix, err))
				status = "unhealthy"
				code = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    status,
			"endpoints": len(disp.Metadata().Endpoints),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
	return mux
}

// homePageTemplate is the HTML for the server home page (white bg,
// black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Laz RPC</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2 { color: #0066cc; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    pre { background: #f5f5f5; padding: 0.75rem; overflow-x: auto; font-size: 0.85rem; border: 1px solid #eee; }
  </style>
</head>
<body>
  <h1>Laz RPC</h1>
  <p class="meta">Protocol {{.Protocol}} &middot; {{len .Endpoints}} endpoints &middot; <a href="/metadata">discovery document</a></p>

  <h2>Endpoints</h2>
  {{if not .Endpoints}}
  <p>No endpoints registered.</p>
  {{else}}
  <table>
    <thead>
      <tr><th>Name</th><th>Kind</th><th>Params</th><th>Returns</th></tr>
    </thead>
    <tbody>
      {{range .Endpoints}}
      <tr>
        <td>{{.Name}}</td>
        <td>{{.Kind}}</td>
        <td><pre>{{json .Params}}</pre></td>
        <td><pre>{{json .Returns}}</pre></td>
      </tr>
      {{end}}
    </tbody>
  </table>
  {{end}}
</body>
</html>
`

// handleHome returns an HTTP handler for the endpoint listing page.
func handleHome(disp *dispatch.Dispatcher) http.HandlerFunc {
	tmpl := template.Must(template.New("home").Funcs(template.FuncMap{
		"json": func(v any) string {
			if v == nil {
				return ""
			}
			b, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return fmt.Sprintf("%v", v)
			}
			return string(b)
		},
	}).Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, disp.Metadata()); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
