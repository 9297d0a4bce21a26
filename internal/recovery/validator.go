// Package recovery decides whether a persisted timer record is trustworthy.
// It runs at instance boot, on every cross-instance notification, on manual
// refresh, and inside the sweeper. A record that fails any check is discarded
// and the system resolves to idle; discard reasons are never surfaced to
// callers.
package recovery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/marlonvidal/timekeep/internal/domain"
	"github.com/marlonvidal/timekeep/internal/postgres"
	redisstore "github.com/marlonvidal/timekeep/internal/redis"
	"github.com/marlonvidal/timekeep/pkg/telemetry"
)

// Reason classifies why a record was discarded.
type Reason string

const (
	ReasonCorrupt   Reason = "corrupt"
	ReasonClockSkew Reason = "clock_skew"
	ReasonStale     Reason = "stale"
	ReasonOrphaned  Reason = "orphaned"
)

// Result is the outcome of one validation pass.
type Result struct {
	// Record is the surviving record, nil when the system should be idle.
	Record *domain.TimerRecord
	// Discarded names the reason a record was thrown away, "" when none was.
	Discarded Reason
}

// Validator applies the ordered trust checks to the persisted record.
type Validator struct {
	store      redisstore.TimerStore
	oracle     postgres.TaskRepository
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock overrides the time source. Used by tests to simulate skew and
// staleness without sleeping.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// NewValidator builds a Validator. staleAfter is the age beyond which a
// running record is treated as abandoned.
func NewValidator(store redisstore.TimerStore, oracle postgres.TaskRepository, staleAfter time.Duration, logger *slog.Logger, opts ...Option) *Validator {
	v := &Validator{
		store:      store,
		oracle:     oracle,
		staleAfter: staleAfter,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate reads the persisted record and applies the checks in order,
// discarding on the first failure. The only error it returns is a store read
// failure, in which case the caller should keep its current state rather than
// guess.
func (v *Validator) Validate(ctx context.Context) (Result, error) {
	rec, err := v.store.GetActive(ctx)
	if err != nil {
		var corrupt *domain.CorruptTimerRecordError
		if errors.As(err, &corrupt) {
			return v.discard(ctx, "", ReasonCorrupt, corrupt.Reason), nil
		}
		return Result{}, err
	}

	// Absent, or persisted by a writer that never marked it active: idle.
	if rec == nil {
		return Result{}, nil
	}
	if !rec.Status.Running() {
		// A non-active leftover occupies the single record slot for nothing;
		// clear it quietly so the next read is a clean miss.
		_ = v.store.Clear(ctx)
		return Result{}, nil
	}

	if rec.TaskID == "" || rec.StartTime.IsZero() {
		return v.discard(ctx, rec.TaskID, ReasonCorrupt, "missing task id or start time"), nil
	}

	now := v.now()
	if now.Before(rec.StartTime) {
		return v.discard(ctx, rec.TaskID, ReasonClockSkew, "start time is in the future"), nil
	}
	if now.Sub(rec.StartTime) > v.staleAfter {
		return v.discard(ctx, rec.TaskID, ReasonStale, "record exceeded staleness threshold"), nil
	}

	if _, err := v.oracle.GetByID(ctx, rec.TaskID); err != nil {
		var notFound *domain.TaskNotFoundError
		if errors.As(err, &notFound) {
			return v.discard(ctx, rec.TaskID, ReasonOrphaned, "referenced task no longer exists"), nil
		}
		// Oracle unreachable: failing recovery is worse than occasionally
		// trusting a possibly-deleted task. Accept the record.
		v.logger.Warn("task oracle unavailable during recovery, trusting record",
			slog.String("task_id", rec.TaskID),
			slog.String("error", err.Error()),
		)
	}

	return Result{Record: rec}, nil
}

func (v *Validator) discard(ctx context.Context, taskID string, reason Reason, detail string) Result {
	if err := v.store.Clear(ctx); err != nil {
		v.logger.Error("failed to clear discarded timer record",
			slog.String("reason", string(reason)),
			slog.String("error", err.Error()),
		)
	}
	telemetry.RecoveryDiscardsTotal.WithLabelValues(string(reason)).Inc()
	v.logger.Warn("discarded persisted timer record",
		slog.String("task_id", taskID),
		slog.String("reason", string(reason)),
		slog.String("detail", detail),
	)
	return Result{Discarded: reason}
}
