package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/garyhukkeri/vectab/internal/embed"
	"github.com/garyhukkeri/vectab/internal/orchestrate"
	"github.com/garyhukkeri/vectab/internal/search"
	"github.com/garyhukkeri/vectab/internal/storage"
	"github.com/garyhukkeri/vectab/internal/tableops"
	"github.com/garyhukkeri/vectab/internal/tabular"
)

// Handler holds the services behind the API endpoints.
type Handler struct {
	tables       *tableops.Service
	orchestrator *orchestrate.Orchestrator
	searcher     *search.Engine
	registry     *embed.Registry
	logger       *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(tables *tableops.Service, orch *orchestrate.Orchestrator, searcher *search.Engine, registry *embed.Registry, logger *slog.Logger) *Handler {
	return &Handler{
		tables:       tables,
		orchestrator: orch,
		searcher:     searcher,
		registry:     registry,
		logger:       logger,
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListModels returns the embedding model registry.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"models": h.registry.Models()})
}

// ListTables returns all tables with row counts.
func (h *Handler) ListTables(w http.ResponseWriter, r *http.Request) {
	listings, err := h.tables.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"tables": listings})
}

// tableRequest is the payload for create and replace.
type tableRequest struct {
	Name    string           `json:"name"`
	Records []map[string]any `json:"records"`
	Sample  int              `json:"sample,omitempty"`
	Columns []string         `json:"columns,omitempty"`
}

func (req *tableRequest) dataset() (*tabular.Dataset, error) {
	if req.Sample > 0 {
		return tabular.Sample(req.Columns, req.Sample), nil
	}
	return tabular.FromRecords(req.Records)
}

// CreateTable creates a table from inline records or a generated
// sample.
func (h *Handler) CreateTable(w http.ResponseWriter, r *http.Request) {
	var req tableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.Name == "" {
		h.writeErrorStatus(w, http.StatusBadRequest, errors.New("table name is required"))
		return
	}

	data, err := req.dataset()
	if err != nil {
		h.writeError(w, err)
		return
	}
	schema, err := h.tables.Create(r.Context(), req.Name, data, tableops.CreateOptions{})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"table":  req.Name,
		"rows":   data.Len(),
		"schema": schema,
	})
}

// ReplaceTable atomically swaps in new contents for a table.
func (h *Handler) ReplaceTable(w http.ResponseWriter, r *http.Request) {
	var req tableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	req.Name = chi.URLParam(r, "table")

	data, err := req.dataset()
	if err != nil {
		h.writeError(w, err)
		return
	}
	schema, err := h.tables.Replace(r.Context(), req.Name, data, tableops.CreateOptions{})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"table":  req.Name,
		"rows":   data.Len(),
		"schema": schema,
	})
}

// DropTable removes a table.
func (h *Handler) DropTable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "table")
	if err := h.tables.Drop(r.Context(), name); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"table": name, "dropped": true})
}

// TableSchema returns schema and vector column metadata.
func (h *Handler) TableSchema(w http.ResponseWriter, r *http.Request) {
	info, err := h.tables.Describe(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

// TableStats returns row counts and vector coverage.
func (h *Handler) TableStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.tables.Stats(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// PreviewRows returns one page of rows with derived pagination fields.
func (h *Handler) PreviewRows(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 20)

	page, err := h.tables.Preview(r.Context(), chi.URLParam(r, "table"), offset, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, struct {
		*tableops.Page
		HasNext bool `json:"has_next"`
	}{
		Page:    page,
		HasNext: int64(page.Offset+len(page.Rows)) < page.Total,
	})
}

// DeleteRows removes rows matching a filter.
func (h *Handler) DeleteRows(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filter *tabular.Predicate `json:"filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	// An absent filter would match every row; wiping a table goes
	// through DELETE /api/tables/{table} instead.
	if req.Filter == nil || req.Filter.Empty() {
		h.writeErrorStatus(w, http.StatusBadRequest, errors.New("a non-empty filter is required"))
		return
	}

	name := chi.URLParam(r, "table")
	n, err := h.tables.DeleteRows(r.Context(), name, req.Filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"table": name, "deleted": n})
}

// GenerateEmbeddings runs embedding generation for a table.
func (h *Handler) GenerateEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		orchestrate.Spec
		Model string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	req.Spec.Table = chi.URLParam(r, "table")

	provider, err := h.registry.Get(req.Model)
	if err != nil {
		h.writeError(w, err)
		return
	}
	result, err := h.orchestrator.Generate(r.Context(), req.Spec, provider)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// Search runs a similarity search against a vector column.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	req.Table = chi.URLParam(r, "table")
	// An omitted top_k is indistinguishable from zero in JSON; the
	// API treats both as "use the default".
	if req.TopK == 0 {
		req.TopK = search.DefaultTopK
	}

	resp, err := h.searcher.Search(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("write response failed", "error", err)
	}
}

// writeError maps service errors onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.writeErrorStatus(w, statusFor(err), err)
}

func (h *Handler) writeErrorStatus(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		h.logger.Error("request failed", "status", status, "error", err)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrTableNotFound),
		errors.Is(err, storage.ErrColumnNotFound),
		errors.Is(err, search.ErrVectorColumnNotFound),
		errors.Is(err, embed.ErrModelNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrTableExists),
		errors.Is(err, storage.ErrColumnExists),
		errors.Is(err, orchestrate.ErrColumnConflict):
		return http.StatusConflict
	case errors.Is(err, tabular.ErrSchemaInference),
		errors.Is(err, orchestrate.ErrInvalidField),
		errors.Is(err, search.ErrInvalidArgument),
		errors.Is(err, search.ErrDimensionMismatch),
		errors.Is(err, embed.ErrEmptyText),
		errors.Is(err, embed.ErrDimensionMismatch):
		return http.StatusBadRequest
	case errors.Is(err, embed.ErrProviderUnavailable),
		errors.Is(err, storage.ErrConnection):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
