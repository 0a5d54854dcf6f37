//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pg-tablerows/internal/testutil/pgtest"
)

func TestServer_RowsEndpointAndGracefulShutdown(t *testing.T) {
	requireIntegrationEnv(t)
	tdb := pgtest.NewTestDB(t)
	tdb.Exec(t, fixture)

	const port = 18089
	cmd := startTestServer(t, "./pg-tablerows-test", port)

	body, err := json.Marshal(map[string]any{
		"schema": tdb.Schema,
		"table":  "notes",
		"page":   2,
		"limit":  5,
	})
	require.NoError(t, err)

	resp, err := http.Post(fmt.Sprintf("http://localhost:%d/v1/rows", port), "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Rows []map[string]any `json:"rows"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Rows, 5)
	assert.EqualValues(t, 6, payload.Rows[0]["id"])

	require.NoError(t, cmd.Process.Signal(syscall.SIGTERM))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		assert.NoError(t, err, "server should exit cleanly on SIGTERM")
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down within 15 seconds")
	}
}
