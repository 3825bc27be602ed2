// Package snapshot reads and writes metadata snapshot files, the only
// durable artifact of the RPC layer. A snapshot is captured from a live
// server ahead of time and feeds the stub generator at build time.
package snapshot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/lazrpc/laz-go/pkg/endpoint"
)

const logPrefix = "snapshot:loader"

// EnvFile names the environment variable pointing at a snapshot file.
const EnvFile = "LAZ_SNAPSHOT_FILE"

// defaultPaths are tried after any explicit path and the environment.
var defaultPaths = []string{"laz_snapshot.json", "config/laz_snapshot.json"}

// Load reads a metadata snapshot. Paths are tried in order: explicit paths
// first, then EnvFile, then the defaults. Unlike server bootstrap data
// there is no embedded fallback: generating stubs from a guessed snapshot
// would defeat its purpose, so exhausting all paths is an error.
func Load(paths ...string) (*endpoint.Metadata, error) {
	all := make([]string, 0, len(paths)+3)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv(EnvFile); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, defaultPaths...)

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}

		var meta endpoint.Metadata
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil, fmt.Errorf("%s - malformed snapshot file %s: %w", logPrefix, p, err)
		}
		if meta.Protocol == "" {
			return nil, fmt.Errorf("%s - snapshot file %s missing protocol version", logPrefix, p)
		}

		slog.Info(fmt.Sprintf("%s - Loaded snapshot from %s (%d endpoints)", logPrefix, p, len(meta.Endpoints)))
		return &meta, nil
	}

	return nil, fmt.Errorf("%s - no snapshot file found (tried %v)", logPrefix, all)
}

// Save writes a metadata snapshot as indented JSON so the artifact diffs
// cleanly under version control.
func Save(path string, meta *endpoint.Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("%s - encode snapshot: %w", logPrefix, err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%s - write snapshot %s: %w", logPrefix, path, err)
	}
	slog.Info(fmt.Sprintf("%s - Wrote snapshot to %s (%d endpoints)", logPrefix, path, len(meta.Endpoints)))
	return nil
}
