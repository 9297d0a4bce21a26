// Package timerd hosts the timer coordination engine: a state machine that
// keeps exactly one timer running across any number of daemon instances
// sharing one persisted store. The store is the only ground truth; the
// in-memory state here is a disposable cache rebuilt by recovery.
package timerd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/marlonvidal/timekeep/internal/domain"
	"github.com/marlonvidal/timekeep/internal/kafka"
	"github.com/marlonvidal/timekeep/internal/postgres"
	"github.com/marlonvidal/timekeep/internal/recovery"
	redisstore "github.com/marlonvidal/timekeep/internal/redis"
	"github.com/marlonvidal/timekeep/pkg/retry"
	"github.com/marlonvidal/timekeep/pkg/telemetry"
)

// Coordinator owns the in-memory mirror of the persisted timer and serializes
// every mutation of it. Within one instance, start and stop bodies run under
// one operation mutex (rapid duplicate calls additionally collapse via
// in-flight flags, see Start); across instances, the persisted record is
// last-writer-wins and peers reconcile via notifications.
type Coordinator struct {
	store     redisstore.TimerStore
	tasks     postgres.TaskRepository
	entries   postgres.EntryRepository
	notifier  redisstore.Notifier
	publisher kafka.EntryPublisher
	validator *recovery.Validator

	instanceID   string
	noticeWindow time.Duration
	logger       *slog.Logger
	now          func() time.Time

	driver *Driver // nil until AttachDriver

	// opMu serializes every operation that writes the store (start, stop,
	// checkpoint, flush) end to end. A stop must never observe state a start
	// is midway through replacing. mu only guards field access and is never
	// held across I/O.
	opMu sync.Mutex

	mu            sync.Mutex
	current       *domain.TimerRecord // nil = idle
	startInFlight bool
	pendingStart  string // single slot, last writer wins
	hasPending    bool
	stopInFlight  bool
	notice        string
	noticeUntil   time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLogger(l *slog.Logger) Option            { return func(c *Coordinator) { c.logger = l } }
func WithClock(now func() time.Time) Option       { return func(c *Coordinator) { c.now = now } }
func WithNoticeWindow(d time.Duration) Option     { return func(c *Coordinator) { c.noticeWindow = d } }
func WithEntryPublisher(p kafka.EntryPublisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// NewCoordinator constructs a Coordinator with the given collaborators.
func NewCoordinator(
	instanceID string,
	store redisstore.TimerStore,
	tasks postgres.TaskRepository,
	entries postgres.EntryRepository,
	notifier redisstore.Notifier,
	validator *recovery.Validator,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		instanceID:   instanceID,
		store:        store,
		tasks:        tasks,
		entries:      entries,
		notifier:     notifier,
		validator:    validator,
		publisher:    kafka.NoopEntryPublisher{},
		noticeWindow: 30 * time.Second,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AttachDriver binds the tick/checkpoint driver. Must be called before
// Bootstrap; the driver follows every active/idle transition afterwards.
func (c *Coordinator) AttachDriver(d *Driver) { c.driver = d }

// Bootstrap runs the first recovery pass. If a record survived, a
// human-readable notice describing the background run is surfaced for the
// configured display window.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	res, err := c.validator.Validate(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap recovery: %w", err)
	}
	telemetry.EngineReloadsTotal.WithLabelValues("boot").Inc()
	c.apply(res.Record)

	if res.Record != nil {
		ran := c.now().Sub(res.Record.StartTime).Truncate(time.Second)
		c.mu.Lock()
		c.notice = fmt.Sprintf("Timer for task %q kept running for %s in the background.", res.Record.TaskID, ran)
		c.noticeUntil = c.now().Add(c.noticeWindow)
		c.mu.Unlock()
		c.logger.Info("recovered running timer",
			slog.String("task_id", res.Record.TaskID),
			slog.Duration("ran_for", ran),
		)
	}
	return nil
}

// Start begins timing taskID, implicitly stopping a different running timer
// first. Starting the already-active task is a no-op success.
//
// A Start arriving while another Start is in flight does not run a second
// time; its task ID lands in a single pending slot (later arrivals overwrite
// earlier ones) and is re-issued when the in-flight call completes. The
// superseded caller gets a nil error; failures of re-issued starts are
// logged, not returned.
func (c *Coordinator) Start(ctx context.Context, taskID string) error {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return &domain.InvalidTaskIDError{TaskID: taskID}
	}

	c.mu.Lock()
	if c.startInFlight {
		c.pendingStart = taskID
		c.hasPending = true
		c.mu.Unlock()
		return nil
	}
	c.startInFlight = true
	c.mu.Unlock()

	err := c.doStart(ctx, taskID)

	for {
		c.mu.Lock()
		if !c.hasPending {
			c.startInFlight = false
			c.mu.Unlock()
			return err
		}
		next := c.pendingStart
		c.hasPending = false
		c.mu.Unlock()

		if queuedErr := c.doStart(ctx, next); queuedErr != nil {
			c.logger.Error("queued start failed",
				slog.String("task_id", next),
				slog.String("error", queuedErr.Error()),
			)
		}
	}
}

func (c *Coordinator) doStart(ctx context.Context, taskID string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	ctx, span := otel.Tracer("timerd").Start(ctx, "engine.start")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", taskID))

	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()

	// Idempotent same-task start: the running activation keeps its StartTime.
	if cur != nil && cur.TaskID == taskID {
		telemetry.EngineStartsTotal.WithLabelValues("noop").Inc()
		return nil
	}

	// Existence check is a hard precondition here, unlike during recovery
	// where an oracle failure is tolerated.
	if _, err := c.tasks.GetByID(ctx, taskID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "task lookup failed")
		telemetry.EngineStartsTotal.WithLabelValues("error").Inc()
		var notFound *domain.TaskNotFoundError
		if errors.As(err, &notFound) {
			return notFound
		}
		return fmt.Errorf("task lookup for %s: %w", taskID, err)
	}

	now := c.now().UTC()
	result := "started"

	// Implicit stop of the previous timer. The entry is written before the
	// record transfers ownership; if the transfer then fails, the entry is
	// rolled back so the call leaves no trace.
	var rollbackEntry string
	if cur != nil {
		entry, err := c.recordEntry(ctx, cur, now)
		if err != nil {
			telemetry.EngineStartsTotal.WithLabelValues("error").Inc()
			return err
		}
		if entry != nil {
			rollbackEntry = entry.ID
		}
		result = "transferred"
	}

	rec := &domain.TimerRecord{
		TaskID:         taskID,
		StartTime:      now,
		LastCheckpoint: now,
		Status:         domain.TimerActive,
	}
	if err := c.store.Save(ctx, rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record save failed")
		telemetry.EngineStartsTotal.WithLabelValues("error").Inc()
		if rollbackEntry != "" {
			if delErr := c.entries.Delete(ctx, rollbackEntry); delErr != nil {
				c.logger.Error("failed to roll back time entry",
					slog.String("entry_id", rollbackEntry),
					slog.String("error", delErr.Error()),
				)
			}
		}
		return &domain.PersistenceError{Op: "start", Err: err}
	}

	c.apply(rec)
	c.notify(ctx, redisstore.EventStarted, taskID)
	telemetry.EngineStartsTotal.WithLabelValues(result).Inc()
	c.logger.Info("timer started",
		slog.String("task_id", taskID),
		slog.String("result", result),
	)
	return nil
}

// Stop ends the running timer and returns the completed entry. It returns
// (nil, nil) when no timer is running, when a concurrent Stop is already in
// flight, and when clock skew would have produced a negative duration (the
// record is then discarded instead).
func (c *Coordinator) Stop(ctx context.Context) (*domain.TimeEntry, error) {
	c.mu.Lock()
	if c.stopInFlight {
		c.mu.Unlock()
		return nil, nil
	}
	c.stopInFlight = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.stopInFlight = false
		c.mu.Unlock()
	}()

	c.opMu.Lock()
	defer c.opMu.Unlock()

	// Read the current record only once the operation mutex is held; an
	// in-flight start may have just transferred it.
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()

	if cur == nil {
		telemetry.EngineStopsTotal.WithLabelValues("idle").Inc()
		return nil, nil
	}

	ctx, span := otel.Tracer("timerd").Start(ctx, "engine.stop")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", cur.TaskID))

	now := c.now().UTC()

	if now.Before(cur.StartTime) {
		if err := c.store.Delete(ctx, cur.TaskID); err != nil {
			telemetry.EngineStopsTotal.WithLabelValues("error").Inc()
			return nil, &domain.PersistenceError{Op: "stop", Err: err}
		}
		c.apply(nil)
		c.notify(ctx, redisstore.EventStopped, cur.TaskID)
		telemetry.EngineStopsTotal.WithLabelValues("skew_discarded").Inc()
		c.logger.Warn("discarded timer with future start time",
			slog.String("task_id", cur.TaskID),
			slog.Time("start_time", cur.StartTime),
		)
		return nil, nil
	}

	entry, err := c.recordEntry(ctx, cur, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "entry persist failed")
		telemetry.EngineStopsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if err := c.store.Delete(ctx, cur.TaskID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record delete failed")
		telemetry.EngineStopsTotal.WithLabelValues("error").Inc()
		// Roll the entry back so a retried Stop cannot double-record the span.
		if entry != nil {
			if delErr := c.entries.Delete(ctx, entry.ID); delErr != nil {
				c.logger.Error("failed to roll back time entry",
					slog.String("entry_id", entry.ID),
					slog.String("error", delErr.Error()),
				)
			}
		}
		return nil, &domain.PersistenceError{Op: "stop", Err: err}
	}

	c.apply(nil)
	c.notify(ctx, redisstore.EventStopped, cur.TaskID)
	telemetry.EngineStopsTotal.WithLabelValues("completed").Inc()
	c.logger.Info("timer stopped",
		slog.String("task_id", cur.TaskID),
		slog.Int64("duration_min", entry.DurationMin),
	)
	return entry, nil
}

// recordEntry persists the completed span [rec.StartTime, end] and streams it
// to the audit topic. A negative span (clock skew) yields (nil, nil): the
// span is dropped rather than recorded with negative duration.
func (c *Coordinator) recordEntry(ctx context.Context, rec *domain.TimerRecord, end time.Time) (*domain.TimeEntry, error) {
	if end.Before(rec.StartTime) {
		telemetry.EngineStopsTotal.WithLabelValues("skew_discarded").Inc()
		c.logger.Warn("dropping negative-duration span",
			slog.String("task_id", rec.TaskID),
			slog.Time("start_time", rec.StartTime),
			slog.Time("end_time", end),
		)
		return nil, nil
	}

	entry := domain.NewTimeEntry(uuid.New().String(), rec.TaskID, rec.StartTime, end)
	if err := c.entries.Create(ctx, entry); err != nil {
		return nil, &domain.PersistenceError{Op: "entry", Err: err}
	}
	telemetry.EngineEntryMinutesTotal.Add(float64(entry.DurationMin))

	// Audit stream is fire-and-forget: a broker outage never fails a stop.
	if err := c.publisher.PublishEntry(ctx, entry); err != nil {
		c.logger.Warn("failed to publish entry to audit stream",
			slog.String("entry_id", entry.ID),
			slog.String("error", err.Error()),
		)
	}
	return entry, nil
}

// Elapsed returns whole seconds since the timer for taskID started, or 0 when
// that exact task is not being timed. Pure read.
func (c *Coordinator) Elapsed(taskID string) int64 {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur == nil || cur.TaskID != taskID {
		return 0
	}
	return cur.Elapsed(c.now())
}

// Active reports whether the timer is running for exactly taskID. Pure read.
func (c *Coordinator) Active(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && c.current.TaskID == taskID
}

// Snapshot returns the running task ID and its elapsed seconds, or ("", 0,
// false) when idle.
func (c *Coordinator) Snapshot() (taskID string, elapsed int64, active bool) {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur == nil {
		return "", 0, false
	}
	return cur.TaskID, cur.Elapsed(c.now()), true
}

// Reload re-reads the persisted record, re-validates it, and replaces the
// in-memory state. trigger is "notification" or "manual" (boot runs through
// Bootstrap). It never re-publishes a notification: reloads must not echo.
func (c *Coordinator) Reload(ctx context.Context, trigger string) error {
	res, err := c.validator.Validate(ctx)
	if err != nil {
		c.logger.Error("reload failed, keeping current state",
			slog.String("trigger", trigger),
			slog.String("error", err.Error()),
		)
		return err
	}
	telemetry.EngineReloadsTotal.WithLabelValues(trigger).Inc()
	c.apply(res.Record)
	return nil
}

// HandleEvent is the notification callback wired to the Notifier. Receipt
// forces an unconditional reload, including for events this instance
// published itself (redundant but harmless).
func (c *Coordinator) HandleEvent(ctx context.Context, ev redisstore.Event) {
	c.logger.Debug("timer event received",
		slog.String("type", string(ev.Type)),
		slog.String("task_id", ev.TaskID),
		slog.String("origin", ev.Origin),
	)
	_ = c.Reload(ctx, "notification")
}

// Notice returns the ephemeral background-recovery message, or "" once the
// display window has elapsed or it was cleared.
func (c *Coordinator) Notice() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.notice == "" || c.now().After(c.noticeUntil) {
		return ""
	}
	return c.notice
}

// ClearNotice dismisses the recovery notice early.
func (c *Coordinator) ClearNotice() {
	c.mu.Lock()
	c.notice = ""
	c.mu.Unlock()
}

// checkpoint re-persists the current record with a fresh LastCheckpoint.
// Failures are swallowed and logged: a flaky store must never interrupt a
// running timer.
func (c *Coordinator) checkpoint(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur == nil {
		return
	}

	snapshot := *cur
	snapshot.LastCheckpoint = c.now().UTC()
	if err := c.store.Save(ctx, &snapshot); err != nil {
		telemetry.EngineCheckpointsTotal.WithLabelValues("error").Inc()
		c.logger.Warn("checkpoint persist failed",
			slog.String("task_id", snapshot.TaskID),
			slog.String("error", err.Error()),
		)
		return
	}
	telemetry.EngineCheckpointsTotal.WithLabelValues("ok").Inc()

	c.mu.Lock()
	if c.current != nil && c.current.TaskID == snapshot.TaskID {
		c.current.LastCheckpoint = snapshot.LastCheckpoint
	}
	c.mu.Unlock()
}

// Flush persists the current record one final time on teardown. Advisory:
// elapsed time is always recomputed from StartTime, so a missed flush costs
// nothing but record freshness.
func (c *Coordinator) Flush(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur == nil {
		return
	}

	err := retry.Do(ctx, retry.Config{MaxAttempts: 2, BaseDelay: 100 * time.Millisecond}, func() error {
		snapshot := *cur
		snapshot.LastCheckpoint = c.now().UTC()
		return c.store.Save(ctx, &snapshot)
	})
	if err != nil {
		c.logger.Warn("teardown flush failed", slog.String("error", err.Error()))
	}
}

// apply installs the new in-memory state and propagates the transition to the
// driver and the active gauge.
func (c *Coordinator) apply(rec *domain.TimerRecord) {
	c.mu.Lock()
	c.current = rec
	c.mu.Unlock()

	if rec != nil {
		telemetry.EngineTimerActive.Set(1)
	} else {
		telemetry.EngineTimerActive.Set(0)
	}
	if c.driver != nil {
		c.driver.SetActive(rec != nil)
	}
}

func (c *Coordinator) notify(ctx context.Context, evType redisstore.EventType, taskID string) {
	ev := redisstore.Event{
		Type:   evType,
		TaskID: taskID,
		Origin: c.instanceID,
		At:     c.now().UTC(),
	}
	if err := c.notifier.Publish(ctx, ev); err != nil {
		// Peers will still converge on their next recovery pass.
		c.logger.Warn("failed to broadcast timer event",
			slog.String("type", string(evType)),
			slog.String("error", err.Error()),
		)
	}
}
