package serverapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/lib/pq"

	"pg-tablerows/internal/dbexec"
	"pg-tablerows/internal/introspection"
	"pg-tablerows/internal/logging"
	"pg-tablerows/internal/middleware"
	"pg-tablerows/internal/planner"
	"pg-tablerows/internal/retry"
	"pg-tablerows/internal/tablerows"
)

const maxRequestBody = 1 << 20

// tableLoader describes a table by schema and name.
type tableLoader func(ctx context.Context, schema, name string) (*introspection.Table, error)

// rowsAPI serves the /v1/rows endpoints.
type rowsAPI struct {
	service     *tablerows.Service
	loadTable   tableLoader
	maxPageSize int
}

// columnDescriptor and tableDescriptor let a caller describe the table
// itself. A remote executor has no catalog access, so there the descriptor
// is required.
type columnDescriptor struct {
	Name         string   `json:"name"`
	Format       string   `json:"format"`
	DataType     string   `json:"data_type"`
	IsPrimaryKey bool     `json:"is_primary_key"`
	Enums        []string `json:"enums,omitempty"`
}

type tableDescriptor struct {
	ID               int64              `json:"id"`
	Columns          []columnDescriptor `json:"columns"`
	EstimateRowCount int64              `json:"estimate_row_count"`
}

type tableRef struct {
	Schema     string           `json:"schema"`
	Table      string           `json:"table"`
	Descriptor *tableDescriptor `json:"descriptor,omitempty"`
}

type rowsRequest struct {
	tableRef
	Filters []planner.Filter `json:"filters"`
	Sorts   []planner.Sort   `json:"sorts"`
	Page    int              `json:"page"`
	Limit   int              `json:"limit"`
}

type countRequest struct {
	tableRef
	Filters []planner.Filter `json:"filters"`
	Exact   bool             `json:"exact"`
}

type exportRequest struct {
	tableRef
	Filters []planner.Filter `json:"filters"`
	Sorts   []planner.Sort   `json:"sorts"`
}

type deleteRequest struct {
	tableRef
	// Rows selects rows by primary key. All deletes every row matching Filters.
	Rows    []map[string]any `json:"rows"`
	All     bool             `json:"all"`
	Filters []planner.Filter `json:"filters"`
}

type updateRequest struct {
	tableRef
	PrimaryKey map[string]any `json:"primary_key"`
	Values     map[string]any `json:"values"`
}

type truncateRequest struct {
	tableRef
	Cascade bool `json:"cascade"`
}

// Statement kinds accepted by /v1/rows/sql.
const (
	sqlKindRows      = "rows"
	sqlKindCount     = "count"
	sqlKindDelete    = "delete"
	sqlKindDeleteAll = "delete_all"
	sqlKindUpdate    = "update"
	sqlKindTruncate  = "truncate"
)

type sqlRequest struct {
	tableRef
	Kind       string           `json:"kind"`
	Filters    []planner.Filter `json:"filters"`
	Sorts      []planner.Sort   `json:"sorts"`
	Page       int              `json:"page"`
	Limit      int              `json:"limit"`
	Exact      bool             `json:"exact"`
	Rows       []map[string]any `json:"rows"`
	PrimaryKey map[string]any   `json:"primary_key"`
	Values     map[string]any   `json:"values"`
	Cascade    bool             `json:"cascade"`
}

type rowsResponse struct {
	Rows []dbexec.Row `json:"rows"`
}

type exportResponse struct {
	Rows      []dbexec.Row `json:"rows"`
	Pages     int          `json:"pages"`
	Truncated bool         `json:"truncated"`
	Error     string       `json:"error,omitempty"`
}

type sqlResponse struct {
	SQL string `json:"sql"`
}

// requestError is reported to the client with its status and message.
type requestError struct {
	status  int
	message string
}

func (e *requestError) Error() string {
	return e.message
}

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, message: fmt.Sprintf(format, args...)}
}

func (api *rowsAPI) handleRows(w http.ResponseWriter, r *http.Request) {
	var req rowsRequest
	table, ok := api.prepare(w, r, &req, &req.tableRef)
	if !ok {
		return
	}
	if err := api.checkPage(req.Page, req.Limit); err != nil {
		writeServiceError(w, r, err)
		return
	}

	rows, err := api.service.FetchRows(r.Context(), planner.TableRowsQueryArgs{
		Table:   table,
		Filters: req.Filters,
		Sorts:   req.Sorts,
		Page:    req.Page,
		Limit:   req.Limit,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rowsResponse{Rows: rows})
}

func (api *rowsAPI) handleCount(w http.ResponseWriter, r *http.Request) {
	var req countRequest
	table, ok := api.prepare(w, r, &req, &req.tableRef)
	if !ok {
		return
	}

	result, err := api.service.CountRows(r.Context(), planner.CountQueryArgs{
		Table:   table,
		Filters: req.Filters,
		Exact:   req.Exact,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleExport answers 200 with the rows read so far even when the export
// stopped early; the truncated flag and error field report the failure.
func (api *rowsAPI) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	table, ok := api.prepare(w, r, &req, &req.tableRef)
	if !ok {
		return
	}

	result := api.service.FetchAllRows(r.Context(), tablerows.FetchAllArgs{
		Table:   table,
		Filters: req.Filters,
		Sorts:   req.Sorts,
	})
	resp := exportResponse{Rows: result.Rows, Pages: result.Pages, Truncated: result.Truncated}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (api *rowsAPI) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	table, ok := api.prepare(w, r, &req, &req.tableRef)
	if !ok {
		return
	}

	var query string
	var err error
	if req.All {
		query, err = planner.BuildDeleteAllQuery(*table, req.Filters)
	} else {
		query, err = planner.BuildDeleteRowsQuery(*table, req.Rows)
	}
	api.runMutation(w, r, table, query, err)
}

func (api *rowsAPI) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	table, ok := api.prepare(w, r, &req, &req.tableRef)
	if !ok {
		return
	}
	query, err := planner.BuildUpdateRowQuery(*table, req.PrimaryKey, req.Values)
	api.runMutation(w, r, table, query, err)
}

func (api *rowsAPI) handleTruncate(w http.ResponseWriter, r *http.Request) {
	var req truncateRequest
	table, ok := api.prepare(w, r, &req, &req.tableRef)
	if !ok {
		return
	}
	query, err := planner.BuildTruncateQuery(*table, req.Cascade)
	api.runMutation(w, r, table, query, err)
}

// handleSQL returns the statement a request would run without executing it.
func (api *rowsAPI) handleSQL(w http.ResponseWriter, r *http.Request) {
	var req sqlRequest
	table, ok := api.prepare(w, r, &req, &req.tableRef)
	if !ok {
		return
	}

	var query string
	var err error
	switch req.Kind {
	case "", sqlKindRows:
		if err = api.checkPage(req.Page, req.Limit); err == nil {
			query = planner.BuildTableRowsQuery(planner.TableRowsQueryArgs{
				Table: table, Filters: req.Filters, Sorts: req.Sorts, Page: req.Page, Limit: req.Limit,
			})
		}
	case sqlKindCount:
		query = planner.BuildCountQuery(planner.CountQueryArgs{Table: table, Filters: req.Filters, Exact: req.Exact})
	case sqlKindDelete:
		query, err = planner.BuildDeleteRowsQuery(*table, req.Rows)
	case sqlKindDeleteAll:
		query, err = planner.BuildDeleteAllQuery(*table, req.Filters)
	case sqlKindUpdate:
		query, err = planner.BuildUpdateRowQuery(*table, req.PrimaryKey, req.Values)
	case sqlKindTruncate:
		query, err = planner.BuildTruncateQuery(*table, req.Cascade)
	default:
		err = badRequest("unknown statement kind %q", req.Kind)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sqlResponse{SQL: query})
}

func (api *rowsAPI) runMutation(w http.ResponseWriter, r *http.Request, table *introspection.Table, query string, buildErr error) {
	if buildErr != nil {
		writeServiceError(w, r, buildErr)
		return
	}
	rows, err := api.service.ExecuteMutation(r.Context(), table.Name, query)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	logging.FromContext(r.Context()).Info("mutation executed",
		slog.String("table", table.Name),
		slog.String("schema", table.SchemaName()),
		slog.Int("rows", len(rows)),
	)
	writeJSON(w, http.StatusOK, rowsResponse{Rows: rows})
}

// prepare decodes the body into req and resolves the table it names.
func (api *rowsAPI) prepare(w http.ResponseWriter, r *http.Request, req any, ref *tableRef) (*introspection.Table, bool) {
	if err := decodeJSON(w, r, req); err != nil {
		writeServiceError(w, r, err)
		return nil, false
	}
	table, err := api.resolveTable(r.Context(), *ref)
	if err != nil {
		writeServiceError(w, r, err)
		return nil, false
	}
	return table, true
}

func (api *rowsAPI) resolveTable(ctx context.Context, ref tableRef) (*introspection.Table, error) {
	if ref.Table == "" {
		return nil, badRequest("table is required")
	}
	if ref.Descriptor != nil {
		return ref.Descriptor.toTable(ref.Schema, ref.Table), nil
	}
	if api.loadTable == nil {
		return nil, badRequest("table descriptor is required with a remote executor")
	}
	return api.loadTable(ctx, ref.Schema, ref.Table)
}

func (d *tableDescriptor) toTable(schema, name string) *introspection.Table {
	table := &introspection.Table{
		ID:               d.ID,
		Name:             name,
		Schema:           schema,
		Columns:          make([]introspection.Column, 0, len(d.Columns)),
		EstimateRowCount: d.EstimateRowCount,
	}
	for _, c := range d.Columns {
		table.Columns = append(table.Columns, introspection.Column{
			Name:         c.Name,
			Format:       c.Format,
			DataType:     c.DataType,
			IsPrimaryKey: c.IsPrimaryKey,
			Enums:        c.Enums,
		})
	}
	return table
}

func (api *rowsAPI) checkPage(page, limit int) error {
	if page < 0 {
		return badRequest("page must be positive")
	}
	if limit < 0 {
		return badRequest("limit must be positive")
	}
	if api.maxPageSize > 0 && limit > api.maxPageSize {
		return badRequest("limit %d exceeds the maximum page size %d", limit, api.maxPageSize)
	}
	return nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &requestError{status: http.StatusRequestEntityTooLarge, message: "request body too large"}
		}
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError maps an error to a status code. Postgres errors are
// reported as client errors since filters and mutation values come from the
// request.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	reqLogger := logging.FromContext(r.Context())

	var reqErr *requestError
	var pqErr *pq.Error
	var statusErr *dbexec.StatusError
	switch {
	case errors.As(err, &reqErr):
		middleware.WriteError(w, reqErr.status, reqErr.message)
	case errors.Is(err, introspection.ErrTableNotFound):
		middleware.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, planner.ErrNoTable),
		errors.Is(err, planner.ErrNoPrimaryKey),
		errors.Is(err, planner.ErrMissingPrimaryKeyValue),
		errors.Is(err, planner.ErrEmptyUpdate),
		errors.Is(err, planner.ErrNoRowsSelected):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, dbexec.ErrRoleNotAllowed):
		middleware.WriteError(w, http.StatusForbidden, err.Error())
	case retry.IsRateLimited(err):
		if errors.As(err, &statusErr) {
			if after := statusErr.Header().Get("Retry-After"); after != "" {
				w.Header().Set("Retry-After", after)
			}
		}
		reqLogger.Warn("query endpoint rate limit exhausted", slog.String("error", err.Error()))
		middleware.WriteError(w, http.StatusTooManyRequests, "query endpoint rate limited")
	case errors.As(err, &pqErr):
		reqLogger.Warn("query rejected by database",
			slog.String("code", string(pqErr.Code)),
			slog.String("error", pqErr.Message),
		)
		middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("%s (SQLSTATE %s)", pqErr.Message, pqErr.Code))
	case errors.As(err, &statusErr):
		reqLogger.Error("query endpoint failed", slog.String("error", err.Error()))
		middleware.WriteError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		reqLogger.Error("query timed out", slog.String("error", err.Error()))
		middleware.WriteError(w, http.StatusGatewayTimeout, "query timed out")
	default:
		reqLogger.Error("query failed", slog.String("error", err.Error()))
		middleware.WriteError(w, http.StatusInternalServerError, "query failed")
	}
}
