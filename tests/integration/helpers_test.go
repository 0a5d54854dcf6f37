//go:build integration

package integration

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pg-tablerows/internal/dbexec"
	"pg-tablerows/internal/introspection"
	"pg-tablerows/internal/tablerows"
	"pg-tablerows/internal/testutil/pgtest"
)

func requireIntegrationEnv(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// newService runs the row service directly against the test database.
func newService(tdb *pgtest.TestDB, opts ...tablerows.Option) *tablerows.Service {
	executor := dbexec.NewRowsExecutor(dbexec.NewStandardExecutor(tdb.DB))
	return tablerows.NewService(executor, opts...)
}

func loadTable(t *testing.T, tdb *pgtest.TestDB, name string) *introspection.Table {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	table, err := introspection.LoadTable(ctx, tdb.DB, tdb.Schema, name)
	require.NoError(t, err)
	return table
}

func startTestServer(t *testing.T, binaryName string, port int, extraEnv ...string) *exec.Cmd {
	t.Helper()

	buildCmd := exec.Command("go", "build", "-o", binaryName, "../../cmd/server")
	require.NoError(t, buildCmd.Run(), "Failed to build server")

	cmd := exec.Command(binaryName)
	baseEnv := append(os.Environ(),
		"PGROWS_DATABASE_DSN="+pgtest.DSN(t),
		fmt.Sprintf("PGROWS_SERVER_PORT=%d", port),
		"PGROWS_OBSERVABILITY_LOGGING_LEVEL=debug",
	)
	cmd.Env = mergeEnv(baseEnv, extraEnv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = os.Remove(binaryName)
	})

	waitForHealthy(t, port, &stdout, &stderr)
	return cmd
}

func waitForHealthy(t *testing.T, port int, stdout, stderr *bytes.Buffer) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(200 * time.Millisecond)
		resp, err := http.Get(fmt.Sprintf("http://localhost:%d/health", port))
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
	}
	t.Fatalf("Server did not become ready within 10 seconds.\nSTDOUT:\n%s\nSTDERR:\n%s",
		tail(stdout, 4000), tail(stderr, 4000))
}

func mergeEnv(base []string, overrides ...string) []string {
	if len(overrides) == 0 {
		return base
	}
	overrideKeys := make(map[string]struct{}, len(overrides))
	for _, kv := range overrides {
		overrideKeys[strings.SplitN(kv, "=", 2)[0]] = struct{}{}
	}
	merged := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		if _, exists := overrideKeys[strings.SplitN(kv, "=", 2)[0]]; exists {
			continue
		}
		merged = append(merged, kv)
	}
	return append(merged, overrides...)
}

func tail(buf *bytes.Buffer, n int) string {
	s := buf.String()
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
