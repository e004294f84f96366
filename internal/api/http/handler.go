package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/Zereker/vecstore/pkg/log"
	"github.com/Zereker/vecstore/pkg/vector"
)

// Handler handles HTTP API requests
type Handler struct {
	logger *slog.Logger
	store  *vector.Store
}

// NewHandler creates a new HTTP handler
func NewHandler(store *vector.Store) *Handler {
	return &Handler{
		logger: log.Logger("http.handler"),
		store:  store,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// InsertRequest POST /api/v1/records
type InsertRequest struct {
	Scope   vector.Scope   `json:"scope"`
	ID      string         `json:"id,omitempty"`
	Vector  []float32      `json:"vector"`
	Payload vector.Payload `json:"payload,omitempty"`
}

// BatchInsertRequest POST /api/v1/records/batch
type BatchInsertRequest struct {
	Scope   vector.Scope    `json:"scope"`
	Records []vector.Record `json:"records"`
}

// BatchItem is the per-record outcome of a batch insert.
type BatchItem struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// UpdateRequest PATCH /api/v1/records/:id
type UpdateRequest struct {
	Scope   vector.Scope   `json:"scope"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload vector.Payload `json:"payload,omitempty"`
}

// DeleteByFilterRequest POST /api/v1/records/delete
type DeleteByFilterRequest struct {
	Scope  vector.Scope  `json:"scope"`
	Filter vector.Filter `json:"filter"`
}

// SearchRequest POST /api/v1/search
type SearchRequest struct {
	Scope   vector.Scope  `json:"scope"`
	Vector  []float32     `json:"vector"`
	TopK    int           `json:"top_k"`
	Filters vector.Filter `json:"filters,omitempty"`
}

// RegisterRoutes registers all HTTP routes
func (h *Handler) RegisterRoutes(s *server.Hertz) {
	v1 := s.Group("/api/v1")

	v1.POST("/records", h.Insert)
	v1.POST("/records/batch", h.BatchInsert)
	v1.POST("/records/delete", h.DeleteByFilter)
	v1.GET("/records/:id", h.Get)
	v1.PATCH("/records/:id", h.Update)
	v1.DELETE("/records/:id", h.Delete)
	v1.POST("/search", h.Search)

	// Health check
	s.GET("/health", h.Health)
	v1.GET("/health", h.Health)
}

// Insert handles POST /api/v1/records
func (h *Handler) Insert(ctx context.Context, c *app.RequestContext) {
	var req InsertRequest
	if !h.bind(c, &req) {
		return
	}

	id, err := h.store.Insert(ctx, req.Scope, vector.Record{ID: req.ID, Vector: req.Vector, Payload: req.Payload})
	if err != nil {
		h.fail(c, "insert", err)
		return
	}

	h.writeJSON(c, consts.StatusCreated, Response{
		Success: true,
		Data:    map[string]string{"id": id},
	})
}

// BatchInsert handles POST /api/v1/records/batch
func (h *Handler) BatchInsert(ctx context.Context, c *app.RequestContext) {
	var req BatchInsertRequest
	if !h.bind(c, &req) {
		return
	}

	results, err := h.store.BatchInsert(ctx, req.Scope, req.Records)
	if err != nil {
		h.fail(c, "batch insert", err)
		return
	}

	items := make([]BatchItem, len(results))
	for i, r := range results {
		items[i] = BatchItem{ID: r.ID}
		if r.Err != nil {
			items[i].Error = r.Err.Error()
		}
	}

	h.writeJSON(c, consts.StatusOK, Response{
		Success: true,
		Data:    items,
	})
}

// Get handles GET /api/v1/records/:id?user_id=...
func (h *Handler) Get(ctx context.Context, c *app.RequestContext) {
	rec, err := h.store.Get(ctx, queryScope(c), c.Param("id"))
	if err != nil {
		h.fail(c, "get", err)
		return
	}

	h.writeJSON(c, consts.StatusOK, Response{
		Success: true,
		Data:    rec,
	})
}

// Update handles PATCH /api/v1/records/:id
func (h *Handler) Update(ctx context.Context, c *app.RequestContext) {
	var req UpdateRequest
	if !h.bind(c, &req) {
		return
	}

	id := c.Param("id")
	if err := h.store.Update(ctx, req.Scope, id, vector.RecordUpdate{Vector: req.Vector, Payload: req.Payload}); err != nil {
		h.fail(c, "update", err)
		return
	}

	h.writeJSON(c, consts.StatusOK, Response{
		Success: true,
		Data:    map[string]string{"updated": id},
	})
}

// Delete handles DELETE /api/v1/records/:id?user_id=...
func (h *Handler) Delete(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	if err := h.store.Delete(ctx, queryScope(c), id); err != nil {
		h.fail(c, "delete", err)
		return
	}

	h.writeJSON(c, consts.StatusOK, Response{
		Success: true,
		Data:    map[string]string{"deleted": id},
	})
}

// DeleteByFilter handles POST /api/v1/records/delete
func (h *Handler) DeleteByFilter(ctx context.Context, c *app.RequestContext) {
	var req DeleteByFilterRequest
	if !h.bind(c, &req) {
		return
	}

	n, err := h.store.DeleteByFilter(ctx, req.Scope, req.Filter)
	if err != nil {
		h.fail(c, "delete by filter", err)
		return
	}

	h.writeJSON(c, consts.StatusOK, Response{
		Success: true,
		Data:    map[string]int{"deleted": n},
	})
}

// Search handles POST /api/v1/search
func (h *Handler) Search(ctx context.Context, c *app.RequestContext) {
	var req SearchRequest
	if !h.bind(c, &req) {
		return
	}

	results, err := h.store.Search(ctx, req.Scope, vector.Query{
		Vector:  req.Vector,
		TopK:    req.TopK,
		Filters: req.Filters,
	})
	if err != nil {
		h.fail(c, "search", err)
		return
	}
	if results == nil {
		results = []vector.Result{}
	}

	h.writeJSON(c, consts.StatusOK, Response{
		Success: true,
		Data:    results,
	})
}

// Health handles GET /health
func (h *Handler) Health(ctx context.Context, c *app.RequestContext) {
	status, code := "healthy", consts.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", "error", err)
		status, code = "unavailable", consts.StatusServiceUnavailable
	}

	h.writeJSON(c, code, Response{
		Success: code == consts.StatusOK,
		Data: map[string]string{
			"status":     status,
			"backend":    h.store.Backend(),
			"collection": h.store.Collection().Name,
		},
	})
}

// queryScope builds a scope from every query parameter. Keys that are
// not scope keys are rejected by the store.
func queryScope(c *app.RequestContext) vector.Scope {
	scope := vector.Scope{}
	c.QueryArgs().VisitAll(func(key, value []byte) {
		scope[string(key)] = string(value)
	})
	return scope
}

func (h *Handler) bind(c *app.RequestContext, v any) bool {
	if err := json.Unmarshal(c.Request.Body(), v); err != nil {
		h.writeError(c, consts.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) fail(c *app.RequestContext, op string, err error) {
	status := statusOf(err)
	if status >= consts.StatusInternalServerError {
		h.logger.Error(op+" failed", "error", err)
	}
	h.writeError(c, status, err.Error())
}

// statusOf maps store errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, vector.ErrNotFound), errors.Is(err, vector.ErrCollectionNotFound):
		return consts.StatusNotFound
	case errors.Is(err, vector.ErrAlreadyExists):
		return consts.StatusConflict
	case errors.Is(err, vector.ErrDimensionMismatch),
		errors.Is(err, vector.ErrInvalidArgument),
		errors.Is(err, vector.ErrMissingScope),
		errors.Is(err, vector.ErrScopeViolation):
		return consts.StatusBadRequest
	case errors.Is(err, vector.ErrAuth):
		return consts.StatusUnauthorized
	case errors.Is(err, vector.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return consts.StatusGatewayTimeout
	case errors.Is(err, vector.ErrConnection), errors.Is(err, vector.ErrClosed):
		return consts.StatusServiceUnavailable
	default:
		return consts.StatusInternalServerError
	}
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(c *app.RequestContext, status int, data any) {
	c.JSON(status, data)
}

// writeError writes an error response
func (h *Handler) writeError(c *app.RequestContext, status int, message string) {
	h.writeJSON(c, status, Response{
		Success: false,
		Error:   message,
	})
}
