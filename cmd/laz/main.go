// Package main is the entrypoint for the laz RPC server and build tooling.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/lazrpc/laz-go/internal/config"
	"github.com/lazrpc/laz-go/internal/server"
	"github.com/lazrpc/laz-go/pkg/client"
	"github.com/lazrpc/laz-go/pkg/endpoint"
	"github.com/lazrpc/laz-go/pkg/snapshot"
	"github.com/lazrpc/laz-go/pkg/stubgen"
)

const usage = `Usage: laz [command]
       laz serve                               Start the demo RPC server (COMMS + HTTP bridge).
       laz snapshot [-url u] [-service s] [-out f]   Capture a live server's metadata snapshot.
       laz generate [-in f] [-out f] [-pkg p]  Generate typed client stubs from a snapshot file.

Commands:
  serve      (default) Start the RPC server with the demo endpoint set.
  snapshot   Connect to a running server, perform discovery, write the metadata snapshot file.
  generate   Emit typed wrapper code from a previously captured snapshot.

Environment: COMMS_URL, SERVICE_NAME, LAZ_SERVICE, LAZ_REQUEST_TIMEOUT, HTTP_PORT, LOG_LEVEL,
LAZ_SNAPSHOT_FILE.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "snapshot":
		if err := runSnapshot(args[1:]); err != nil {
			log.Fatalf("laz snapshot: %v", err)
		}
		return
	case "generate":
		if err := runGenerate(args[1:]); err != nil {
			log.Fatalf("laz generate: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(registerDemoEndpoints); err != nil {
		log.Fatalf("laz: %v", err)
	}
}

// Demo endpoint set served by "laz serve".

type registerParams struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type registerResult struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

type userStore struct {
	mu    sync.Mutex
	users map[string]registerParams
}

// registerDemoEndpoints builds the endpoint set for the demo server: one
// query with an empty param schema and one mutation guarding shared state
// with its own lock.
func registerDemoEndpoints(reg *endpoint.Registry) error {
	if err := endpoint.Query(reg, "hello", func(ctx context.Context, _ struct{}) (string, error) {
		return "Hello from Laz RPC!", nil
	}); err != nil {
		return err
	}

	store := &userStore{users: make(map[string]registerParams)}
	if err := endpoint.Mutation(reg, "register", func(ctx context.Context, p registerParams) (registerResult, error) {
		store.mu.Lock()
		defer store.mu.Unlock()
		if _, exists := store.users[p.Email]; exists {
			return registerResult{}, fmt.Errorf("user %s already registered", p.Email)
		}
		store.users[p.Email] = p
		return registerResult{UserID: fmt.Sprintf("u-%d", len(store.users)), Email: p.Email}, nil
	}); err != nil {
		return err
	}

	return endpoint.Query(reg, "server_time", func(ctx context.Context, _ struct{}) (string, error) {
		return time.Now().UTC().Format(time.RFC3339), nil
	})
}

func runSnapshot(args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	url := fs.String("url", cfg.COMMSURL, "COMMS URL of the running server")
	service := fs.String("service", cfg.Service, "service name to discover")
	out := fs.String("out", "laz_snapshot.json", "output snapshot file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sess, err := client.Dial(ctx, client.Config{URL: *url, Service: *service, Name: "laz-snapshot"})
	if err != nil {
		return fmt.Errorf("discover %s: %w", *url, err)
	}
	defer sess.Close()

	return snapshot.Save(*out, sess.Metadata())
}

func runGenerate(args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	in := fs.String("in", "", "snapshot file (default: LAZ_SNAPSHOT_FILE, then laz_snapshot.json)")
	out := fs.String("out", "laz_stubs.go", "output Go source file")
	pkg := fs.String("pkg", "lazstubs", "package name for the generated file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	meta, err := snapshot.Load(*in)
	if err != nil {
		return err
	}
	src, err := stubgen.Generate(meta, stubgen.Options{PackageName: *pkg})
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, src, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Printf("Generated %s from %d endpoints.\n", *out, len(meta.Endpoints))
	return nil
}
