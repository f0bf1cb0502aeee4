package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/renga/internal/engine"
	"github.com/ashita-ai/renga/internal/model"
	"github.com/ashita-ai/renga/internal/storage"
)

// Store is the full persistence surface the HTTP layer needs: the engine's
// store contract plus notebook and cell management. Both the Postgres and
// the SQLite store satisfy it.
type Store interface {
	engine.Store

	CreateNotebook(ctx context.Context, req model.CreateNotebookRequest) (model.Notebook, []model.Cell, error)
	ListNotebooks(ctx context.Context, limit, offset int) ([]model.Notebook, int, error)
	DeleteNotebook(ctx context.Context, id uuid.UUID) error
	AddCell(ctx context.Context, notebookID uuid.UUID, in model.CellInput) (model.Cell, error)
	UpdateCellSpec(ctx context.Context, notebookID, cellID uuid.UUID, req model.UpdateCellRequest) (model.Cell, error)
	DeleteCell(ctx context.Context, notebookID, cellID uuid.UUID) error

	Ping(ctx context.Context) error
	Name() string
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	store               Store
	engine              *engine.Engine
	tokens              engine.TokenIssuer
	broker              *Broker
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Tokens, Broker.
type HandlersDeps struct {
	Store               Store
	Engine              *engine.Engine
	Tokens              engine.TokenIssuer
	Broker              *Broker
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		store:               d.Store,
		engine:              d.Engine,
		tokens:              d.Tokens,
		broker:              d.Broker,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// writeEngineError maps engine and storage error taxonomy to HTTP codes.
func (h *Handlers) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound) || errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
	case errors.Is(err, engine.ErrRunConflict) || errors.Is(err, storage.ErrConflict):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "a run is already in flight for this notebook")
	case errors.Is(err, engine.ErrInvalidState):
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidState, err.Error())
	default:
		h.logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()),
			"error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
	}
}

// pathUUID parses a UUID path parameter.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue(name))
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	storeStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		storeStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	resp := model.HealthResponse{
		Status:  status,
		Version: h.version,
		Store:   h.store.Name() + ": " + storeStatus,
		Uptime:  int64(time.Since(h.startedAt).Seconds()),
	}
	if h.broker != nil {
		resp.SSEBroker = strconv.Itoa(h.broker.Subscribers()) + " subscribers"
	}
	writeJSON(w, r, httpStatus, resp)
}

// HandleEvents handles GET /v1/notebooks/{id}/events (SSE).
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "event streaming not configured")
		return
	}

	notebookID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid notebook id")
		return
	}
	if _, err := h.store.GetNotebook(r.Context(), notebookID); err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Disable the server's WriteTimeout for this long-lived connection.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ch := h.broker.Subscribe(notebookID)
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
