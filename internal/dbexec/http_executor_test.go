package dbexec

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPExecutor_ExecuteSQL(t *testing.T) {
	var received queryRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("apikey"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id": 9007199254740993, "title": "hello", "tags": ["a", "b"]}]`))
	}))
	defer server.Close()

	executor := NewHTTPExecutor(HTTPExecutorConfig{
		URL:     server.URL,
		Headers: map[string]string{"apikey": "secret"},
	})

	rows, err := executor.ExecuteSQL(context.Background(), `SELECT * FROM "public"."posts";`)
	require.NoError(t, err)

	assert.Equal(t, `SELECT * FROM "public"."posts";`, received.Query)
	require.Len(t, rows, 1)
	assert.Equal(t, json.Number("9007199254740993"), rows[0]["id"])
	assert.Equal(t, "hello", rows[0]["title"])
	assert.Equal(t, []any{"a", "b"}, rows[0]["tags"])
}

func TestHTTPExecutor_EmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rows, err := NewHTTPExecutor(HTTPExecutorConfig{URL: server.URL}).ExecuteSQL(context.Background(), "TRUNCATE x;")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestHTTPExecutor_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message": "too many requests"}`))
	}))
	defer server.Close()

	_, err := NewHTTPExecutor(HTTPExecutorConfig{URL: server.URL}).ExecuteSQL(context.Background(), "SELECT 1;")
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode())
	assert.Equal(t, "2", statusErr.Header().Get("Retry-After"))
	assert.Equal(t, "too many requests", statusErr.Message)
	assert.Equal(t, "query endpoint returned 429: too many requests", err.Error())
}

func TestHTTPExecutor_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "syntax error at or near \"SELEC\"", http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := NewHTTPExecutor(HTTPExecutorConfig{URL: server.URL}).ExecuteSQL(context.Background(), "SELEC 1;")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.Status)
	assert.Equal(t, `syntax error at or near "SELEC"`, statusErr.Message)
}

func TestHTTPExecutor_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not": "an array"}`))
	}))
	defer server.Close()

	_, err := NewHTTPExecutor(HTTPExecutorConfig{URL: server.URL}).ExecuteSQL(context.Background(), "SELECT 1;")
	assert.ErrorContains(t, err, "failed to decode query response")
}

func TestStatusError_ErrorWithoutMessage(t *testing.T) {
	err := &StatusError{Status: http.StatusServiceUnavailable}
	assert.Equal(t, "query endpoint returned 503 Service Unavailable", err.Error())
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "bad", errorMessage([]byte(`{"error": "bad"}`)))
	assert.Equal(t, "plain text", errorMessage([]byte("plain text\n")))
	assert.Equal(t, "", errorMessage(nil))
}
