package dbexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxErrorBody bounds how much of a failed response is kept in StatusError.
const maxErrorBody = 4096

// StatusError is returned for non-2xx responses from the query endpoint.
type StatusError struct {
	Status  int
	Headers http.Header
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("query endpoint returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("query endpoint returned %d: %s", e.Status, e.Message)
}

// StatusCode returns the HTTP status of the failed response.
func (e *StatusError) StatusCode() int {
	return e.Status
}

// Header returns the headers of the failed response.
func (e *StatusError) Header() http.Header {
	return e.Headers
}

// HTTPExecutorConfig controls remote execution.
type HTTPExecutorConfig struct {
	// URL is the query endpoint, for example http://pg-meta:8080/query.
	URL     string
	Headers map[string]string
	Timeout time.Duration
	// Client overrides the instrumented default client.
	Client *http.Client
}

// HTTPExecutor posts SQL text to a pg-meta style query endpoint.
type HTTPExecutor struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewHTTPExecutor creates an executor for the configured endpoint.
func NewHTTPExecutor(cfg HTTPExecutorConfig) *HTTPExecutor {
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &HTTPExecutor{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  client,
	}
}

type queryRequest struct {
	Query string `json:"query"`
}

// ExecuteSQL posts {"query": query} and decodes the JSON array of rows.
// Numbers are kept as json.Number so bigint values are not rounded.
func (e *HTTPExecutor) ExecuteSQL(ctx context.Context, query string) ([]Row, error) {
	body, err := json.Marshal(queryRequest{Query: query})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for name, value := range e.headers {
		req.Header.Set(name, value)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			Status:  resp.StatusCode,
			Headers: resp.Header.Clone(),
			Message: errorMessage(raw),
		}
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var rows []Row
	if err := decoder.Decode(&rows); err != nil {
		if err == io.EOF {
			return []Row{}, nil
		}
		return nil, fmt.Errorf("failed to decode query response: %w", err)
	}
	if rows == nil {
		rows = []Row{}
	}
	return rows, nil
}

// errorMessage extracts message or error from a JSON error body, falling
// back to the trimmed body text.
func errorMessage(raw []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
