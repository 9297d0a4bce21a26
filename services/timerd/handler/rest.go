package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/marlonvidal/timekeep/internal/domain"
	"github.com/marlonvidal/timekeep/internal/postgres"
	"github.com/marlonvidal/timekeep/pkg/telemetry"
)

// Engine is the coordinator surface the API depends on.
type Engine interface {
	Start(ctx context.Context, taskID string) error
	Stop(ctx context.Context) (*domain.TimeEntry, error)
	Elapsed(taskID string) int64
	Active(taskID string) bool
	Snapshot() (taskID string, elapsed int64, active bool)
	Reload(ctx context.Context, trigger string) error
	Notice() string
	ClearNotice()
}

// Watcher hands out elapsed-time subscriptions for the SSE stream.
type Watcher interface {
	Watch() (<-chan int64, func())
}

// REST handles HTTP requests for the timer daemon.
type REST struct {
	engine  Engine
	watcher Watcher
	tasks   postgres.TaskRepository
	entries postgres.EntryRepository
	ready   func(context.Context) error
	logger  *slog.Logger
}

// NewREST creates a new REST handler. ready backs /readyz and may be nil.
func NewREST(engine Engine, watcher Watcher, tasks postgres.TaskRepository, entries postgres.EntryRepository, ready func(context.Context) error, logger *slog.Logger) *REST {
	return &REST{engine: engine, watcher: watcher, tasks: tasks, entries: entries, ready: ready, logger: logger}
}

// StartTimerRequest is the JSON body for POST /api/v1/timer/start.
type StartTimerRequest struct {
	TaskID string `json:"task_id"`
}

// TimerStatusResponse is the GET /api/v1/timer response body.
type TimerStatusResponse struct {
	Active     bool   `json:"active"`
	TaskID     string `json:"task_id,omitempty"`
	ElapsedSec int64  `json:"elapsed_sec"`
	Notice     string `json:"notice,omitempty"`
}

// CreateTaskRequest is the JSON body for POST /api/v1/tasks.
type CreateTaskRequest struct {
	Title string `json:"title"`
}

// StartTimer handles POST /api/v1/timer/start.
func (h *REST) StartTimer(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("timerd").Start(r.Context(), "api.start_timer")
	defer span.End()

	var req StartTimerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		telemetry.APITimerRequests.WithLabelValues("start", "bad_request").Inc()
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	span.SetAttributes(attribute.String("task.id", req.TaskID))

	if err := h.engine.Start(ctx, req.TaskID); err != nil {
		h.writeEngineError(w, "start", err)
		return
	}

	telemetry.APITimerRequests.WithLabelValues("start", "ok").Inc()
	writeJSON(w, http.StatusOK, TimerStatusResponse{
		Active:     true,
		TaskID:     req.TaskID,
		ElapsedSec: h.engine.Elapsed(req.TaskID),
	})
}

// StopTimer handles POST /api/v1/timer/stop. Responds 200 with the completed
// entry, or 204 when there was nothing to stop (not an error).
func (h *REST) StopTimer(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("timerd").Start(r.Context(), "api.stop_timer")
	defer span.End()

	entry, err := h.engine.Stop(ctx)
	if err != nil {
		h.writeEngineError(w, "stop", err)
		return
	}

	telemetry.APITimerRequests.WithLabelValues("stop", "ok").Inc()
	if entry == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// TimerStatus handles GET /api/v1/timer.
func (h *REST) TimerStatus(w http.ResponseWriter, _ *http.Request) {
	taskID, elapsed, active := h.engine.Snapshot()
	writeJSON(w, http.StatusOK, TimerStatusResponse{
		Active:     active,
		TaskID:     taskID,
		ElapsedSec: elapsed,
		Notice:     h.engine.Notice(),
	})
}

// ElapsedTime handles GET /api/v1/timer/elapsed/{id}.
func (h *REST) ElapsedTime(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, TimerStatusResponse{
		Active:     h.engine.Active(taskID),
		TaskID:     taskID,
		ElapsedSec: h.engine.Elapsed(taskID),
	})
}

// Refresh handles POST /api/v1/timer/refresh: a manual reconciliation pass
// against the persisted record.
func (h *REST) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Reload(r.Context(), "manual"); err != nil {
		telemetry.APITimerRequests.WithLabelValues("refresh", "error").Inc()
		writeError(w, http.StatusServiceUnavailable, "failed to reload timer state")
		return
	}
	telemetry.APITimerRequests.WithLabelValues("refresh", "ok").Inc()
	h.TimerStatus(w, r)
}

// Notice handles GET /api/v1/timer/notice.
func (h *REST) Notice(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"notice": h.engine.Notice()})
}

// ClearNotice handles DELETE /api/v1/timer/notice.
func (h *REST) ClearNotice(w http.ResponseWriter, _ *http.Request) {
	h.engine.ClearNotice()
	w.WriteHeader(http.StatusNoContent)
}

// WatchTimer handles GET /api/v1/timer/watch, streaming elapsed seconds as
// server-sent events once per second while the client stays connected.
// Connected watchers are what keeps the engine's elapsed tick running.
func (h *REST) WatchTimer(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, cancel := h.watcher.Watch()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case elapsed, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %d\n\n", elapsed)
			flusher.Flush()
		}
	}
}

// CreateTask handles POST /api/v1/tasks.
func (h *REST) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "field 'title' is required")
		return
	}

	task := &domain.Task{Title: req.Title}
	if err := h.tasks.Create(r.Context(), task); err != nil {
		h.logger.Error("failed to create task", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// GetTask handles GET /api/v1/tasks/{id}.
func (h *REST) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	task, err := h.tasks.GetByID(r.Context(), taskID)
	if err != nil {
		var notFound *domain.TaskNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		h.logger.Error("failed to load task", slog.String("task_id", taskID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to retrieve task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ListEntries handles GET /api/v1/tasks/{id}/entries.
func (h *REST) ListEntries(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	entries, err := h.entries.ListByTask(r.Context(), taskID, 100)
	if err != nil {
		h.logger.Error("failed to list entries", slog.String("task_id", taskID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list time entries")
		return
	}
	if entries == nil {
		entries = []*domain.TimeEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz handles GET /readyz — checks backend connectivity.
func (h *REST) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "backend not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *REST) writeEngineError(w http.ResponseWriter, op string, err error) {
	var (
		invalid  *domain.InvalidTaskIDError
		notFound *domain.TaskNotFoundError
		persist  *domain.PersistenceError
	)
	switch {
	case errors.As(err, &invalid):
		telemetry.APITimerRequests.WithLabelValues(op, "bad_request").Inc()
		writeError(w, http.StatusBadRequest, invalid.Error())
	case errors.As(err, &notFound):
		telemetry.APITimerRequests.WithLabelValues(op, "not_found").Inc()
		writeError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &persist):
		telemetry.APITimerRequests.WithLabelValues(op, "error").Inc()
		h.logger.Error("timer persistence failure", slog.String("op", op), slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "timer store unavailable")
	default:
		telemetry.APITimerRequests.WithLabelValues(op, "error").Inc()
		h.logger.Error("timer operation failed", slog.String("op", op), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "timer operation failed")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
