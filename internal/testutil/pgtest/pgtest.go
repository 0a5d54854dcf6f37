// Package pgtest provides throwaway Postgres schemas for integration tests.
package pgtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"pg-tablerows/internal/sqlutil"
)

// DSNEnv names the variable holding the connection string of the test
// database. When it is unset a postgres container is started instead.
const DSNEnv = "PGROWS_TEST_DSN"

// Image is the container image used when DSNEnv is unset.
const Image = "postgres:16-alpine"

var (
	containerOnce sync.Once
	containerDSN  string
	containerErr  error
)

// TestDB is a connection plus a schema owned by one test.
type TestDB struct {
	DB     *sql.DB
	DSN    string
	Schema string
}

var unsafeChars = regexp.MustCompile(`[^a-z0-9_]+`)

// DSN returns the test database connection string. Without DSNEnv it starts
// one container per test binary, and skips the test when that fails (no
// container runtime). The container is reaped when the binary exits.
func DSN(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv(DSNEnv); dsn != "" {
		return dsn
	}
	containerOnce.Do(func() {
		containerDSN, containerErr = startContainer(context.Background())
	})
	if containerErr != nil {
		t.Skipf("%s not set and postgres container unavailable: %v", DSNEnv, containerErr)
	}
	return containerDSN
}

func startContainer(ctx context.Context) (string, error) {
	ctr, err := postgres.Run(ctx, Image,
		postgres.WithDatabase("tablerows"),
		postgres.WithUsername("tablerows"),
		postgres.WithPassword("tablerows"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return "", err
	}
	return ctr.ConnectionString(ctx, "sslmode=disable")
}

// NewTestDB connects to the test database and creates a schema that is
// dropped with everything in it when the test ends.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	dsn := DSN(t)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		t.Fatalf("failed to ping test database: %v", err)
	}

	schema := schemaName(t.Name())
	if _, err := db.ExecContext(ctx, "CREATE SCHEMA "+sqlutil.QuoteIdentifier(schema)); err != nil {
		_ = db.Close()
		t.Fatalf("failed to create schema %s: %v", schema, err)
	}

	tdb := &TestDB{DB: db, DSN: dsn, Schema: schema}
	t.Cleanup(func() { tdb.teardown(t) })
	return tdb
}

// Exec runs statements with the test schema first on the search path.
func (tdb *TestDB) Exec(t *testing.T, statements string) {
	t.Helper()
	tx, err := tdb.DB.Begin()
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("SET LOCAL search_path TO " + sqlutil.QuoteIdentifier(tdb.Schema) + ", public"); err != nil {
		t.Fatalf("failed to set search_path: %v", err)
	}
	if _, err := tx.Exec(statements); err != nil {
		t.Fatalf("failed to execute statements: %v\n%s", err, statements)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
}

func (tdb *TestDB) teardown(t *testing.T) {
	_, err := tdb.DB.Exec("DROP SCHEMA IF EXISTS " + sqlutil.QuoteIdentifier(tdb.Schema) + " CASCADE")
	if err != nil {
		t.Logf("warning: failed to drop schema %s: %v", tdb.Schema, err)
	}
	if err := tdb.DB.Close(); err != nil {
		t.Logf("warning: failed to close test database: %v", err)
	}
}

func schemaName(testName string) string {
	name := unsafeChars.ReplaceAllString(strings.ToLower(testName), "_")
	name = strings.Trim(name, "_")
	if len(name) > 40 {
		name = name[:40]
	}
	return fmt.Sprintf("t_%s_%d", name, time.Now().UnixNano()%1_000_000_000)
}
