package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marlonvidal/timekeep/internal/domain"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type fakeEngine struct {
	startErr error
	stopped  *domain.TimeEntry
	stopErr  error
	taskID   string
	elapsed  int64
	active   bool
	notice   string
	reloads  int
	started  []string
}

func (e *fakeEngine) Start(_ context.Context, taskID string) error {
	if e.startErr != nil {
		return e.startErr
	}
	e.started = append(e.started, taskID)
	e.taskID, e.active = taskID, true
	return nil
}

func (e *fakeEngine) Stop(context.Context) (*domain.TimeEntry, error) {
	if e.stopErr != nil {
		return nil, e.stopErr
	}
	e.active = false
	return e.stopped, nil
}

func (e *fakeEngine) Elapsed(taskID string) int64 {
	if taskID == e.taskID {
		return e.elapsed
	}
	return 0
}

func (e *fakeEngine) Active(taskID string) bool { return e.active && taskID == e.taskID }

func (e *fakeEngine) Snapshot() (string, int64, bool) {
	if !e.active {
		return "", 0, false
	}
	return e.taskID, e.elapsed, true
}

func (e *fakeEngine) Reload(context.Context, string) error { e.reloads++; return nil }
func (e *fakeEngine) Notice() string                       { return e.notice }
func (e *fakeEngine) ClearNotice()                         { e.notice = "" }

type fakeWatcher struct{ ch chan int64 }

func (w *fakeWatcher) Watch() (<-chan int64, func()) { return w.ch, func() {} }

type fakeTaskRepo struct {
	tasks map[string]*domain.Task
	err   error
}

func (r *fakeTaskRepo) Create(_ context.Context, task *domain.Task) error {
	if r.err != nil {
		return r.err
	}
	task.ID = "new-id"
	r.tasks[task.ID] = task
	return nil
}

func (r *fakeTaskRepo) GetByID(_ context.Context, id string) (*domain.Task, error) {
	if r.err != nil {
		return nil, r.err
	}
	if t, ok := r.tasks[id]; ok {
		return t, nil
	}
	return nil, &domain.TaskNotFoundError{TaskID: id}
}

func (r *fakeTaskRepo) List(context.Context, bool, int) ([]*domain.Task, error) { return nil, nil }

type fakeEntryRepo struct {
	entries []*domain.TimeEntry
	err     error
}

func (r *fakeEntryRepo) Create(context.Context, *domain.TimeEntry) error { return nil }
func (r *fakeEntryRepo) Delete(context.Context, string) error            { return nil }
func (r *fakeEntryRepo) ListByTask(_ context.Context, _ string, _ int) ([]*domain.TimeEntry, error) {
	return r.entries, r.err
}

// ── helpers ──────────────────────────────────────────────────────────────────

func newTestRouter(engine *fakeEngine, tasks *fakeTaskRepo, entries *fakeEntryRepo) http.Handler {
	h := NewREST(engine, &fakeWatcher{ch: make(chan int64)}, tasks, entries, nil, slog.Default())
	r := chi.NewRouter()
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/timer/start", h.StartTimer)
		r.Post("/timer/stop", h.StopTimer)
		r.Post("/timer/refresh", h.Refresh)
		r.Get("/timer/", h.TimerStatus)
		r.Get("/timer/elapsed/{id}", h.ElapsedTime)
		r.Get("/timer/notice", h.Notice)
		r.Delete("/timer/notice", h.ClearNotice)
		r.Post("/tasks", h.CreateTask)
		r.Get("/tasks/{id}", h.GetTask)
		r.Get("/tasks/{id}/entries", h.ListEntries)
	})
	return r
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestStartTimer(t *testing.T) {
	engine := &fakeEngine{elapsed: 0}
	router := newTestRouter(engine, &fakeTaskRepo{}, &fakeEntryRepo{})

	rr := doRequest(t, router, http.MethodPost, "/api/v1/timer/start", `{"task_id":"task-1"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp TimerStatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Active)
	assert.Equal(t, "task-1", resp.TaskID)
	assert.Equal(t, []string{"task-1"}, engine.started)
}

func TestStartTimer_BadBody(t *testing.T) {
	router := newTestRouter(&fakeEngine{}, &fakeTaskRepo{}, &fakeEntryRepo{})

	rr := doRequest(t, router, http.MethodPost, "/api/v1/timer/start", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStartTimer_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid id", &domain.InvalidTaskIDError{TaskID: ""}, http.StatusBadRequest},
		{"unknown task", &domain.TaskNotFoundError{TaskID: "x"}, http.StatusNotFound},
		{"store down", &domain.PersistenceError{Op: "start", Err: errors.New("redis down")}, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&fakeEngine{startErr: tc.err}, &fakeTaskRepo{}, &fakeEntryRepo{})
			rr := doRequest(t, router, http.MethodPost, "/api/v1/timer/start", `{"task_id":"task-1"}`)
			assert.Equal(t, tc.want, rr.Code)
		})
	}
}

func TestStopTimer(t *testing.T) {
	entry := &domain.TimeEntry{ID: "e1", TaskID: "task-1", DurationMin: 2}
	router := newTestRouter(&fakeEngine{active: true, taskID: "task-1", stopped: entry}, &fakeTaskRepo{}, &fakeEntryRepo{})

	rr := doRequest(t, router, http.MethodPost, "/api/v1/timer/stop", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var got domain.TimeEntry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "e1", got.ID)
	assert.Equal(t, int64(2), got.DurationMin)
}

func TestStopTimer_NothingRunning(t *testing.T) {
	router := newTestRouter(&fakeEngine{}, &fakeTaskRepo{}, &fakeEntryRepo{})

	rr := doRequest(t, router, http.MethodPost, "/api/v1/timer/stop", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestTimerStatus(t *testing.T) {
	engine := &fakeEngine{active: true, taskID: "task-1", elapsed: 125, notice: "kept running"}
	router := newTestRouter(engine, &fakeTaskRepo{}, &fakeEntryRepo{})

	rr := doRequest(t, router, http.MethodGet, "/api/v1/timer/", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp TimerStatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Active)
	assert.Equal(t, int64(125), resp.ElapsedSec)
	assert.Equal(t, "kept running", resp.Notice)
}

func TestElapsedTime_OtherTaskIsZero(t *testing.T) {
	engine := &fakeEngine{active: true, taskID: "task-1", elapsed: 60}
	router := newTestRouter(engine, &fakeTaskRepo{}, &fakeEntryRepo{})

	rr := doRequest(t, router, http.MethodGet, "/api/v1/timer/elapsed/task-2", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp TimerStatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.False(t, resp.Active)
	assert.Equal(t, int64(0), resp.ElapsedSec)
}

func TestRefresh(t *testing.T) {
	engine := &fakeEngine{}
	router := newTestRouter(engine, &fakeTaskRepo{}, &fakeEntryRepo{})

	rr := doRequest(t, router, http.MethodPost, "/api/v1/timer/refresh", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, engine.reloads)
}

func TestNotice(t *testing.T) {
	engine := &fakeEngine{notice: "Timer kept running"}
	router := newTestRouter(engine, &fakeTaskRepo{}, &fakeEntryRepo{})

	rr := doRequest(t, router, http.MethodGet, "/api/v1/timer/notice", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "kept running")

	rr = doRequest(t, router, http.MethodDelete, "/api/v1/timer/notice", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, engine.notice)
}

func TestCreateTask(t *testing.T) {
	repo := &fakeTaskRepo{tasks: map[string]*domain.Task{}}
	router := newTestRouter(&fakeEngine{}, repo, &fakeEntryRepo{})

	rr := doRequest(t, router, http.MethodPost, "/api/v1/tasks", `{"title":"write report"}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	var task domain.Task
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &task))
	assert.Equal(t, "write report", task.Title)
	assert.NotEmpty(t, task.ID)
}

func TestCreateTask_MissingTitle(t *testing.T) {
	router := newTestRouter(&fakeEngine{}, &fakeTaskRepo{tasks: map[string]*domain.Task{}}, &fakeEntryRepo{})

	rr := doRequest(t, router, http.MethodPost, "/api/v1/tasks", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetTask_NotFound(t *testing.T) {
	router := newTestRouter(&fakeEngine{}, &fakeTaskRepo{tasks: map[string]*domain.Task{}}, &fakeEntryRepo{})

	rr := doRequest(t, router, http.MethodGet, "/api/v1/tasks/ghost", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListEntries_EmptyIsArrayNotNull(t *testing.T) {
	router := newTestRouter(&fakeEngine{}, &fakeTaskRepo{tasks: map[string]*domain.Task{}}, &fakeEntryRepo{})

	rr := doRequest(t, router, http.MethodGet, "/api/v1/tasks/task-1/entries", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]\n", rr.Body.String())
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(&fakeEngine{}, &fakeTaskRepo{}, &fakeEntryRepo{})

	rr := doRequest(t, router, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}
