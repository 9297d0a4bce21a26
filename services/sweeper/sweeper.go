// Package sweeper runs the recovery checks against the shared timer record
// on a schedule, independent of any daemon instance being up. A single
// elected leader sweeps; when a sweep discards a record, a STOPPED event is
// published so live daemons reconcile immediately.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/marlonvidal/timekeep/internal/recovery"
	redisstore "github.com/marlonvidal/timekeep/internal/redis"
	"github.com/marlonvidal/timekeep/pkg/telemetry"
)

const checkInterval = 15 * time.Second

// Sweeper validates the persisted timer record on a cron schedule with Redis
// leader election.
type Sweeper struct {
	elector    redisstore.Elector
	validator  *recovery.Validator
	notifier   redisstore.Notifier
	instanceID string
	schedule   cron.Schedule
	logger     *slog.Logger
	now        func() time.Time

	leader  bool
	nextRun time.Time
}

// New builds a Sweeper. cronExpr uses the standard five-field syntax.
func New(
	elector redisstore.Elector,
	validator *recovery.Validator,
	notifier redisstore.Notifier,
	instanceID string,
	cronExpr string,
	logger *slog.Logger,
) (*Sweeper, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", cronExpr, err)
	}
	return &Sweeper{
		elector:    elector,
		validator:  validator,
		notifier:   notifier,
		instanceID: instanceID,
		schedule:   schedule,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Run is the main polling loop: tries to become leader, then sweeps when the
// schedule is due. Blocks until ctx is cancelled, then resigns leadership.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	// Run once immediately before waiting for the first tick.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			resignCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := s.elector.Resign(resignCtx); err != nil {
				s.logger.Warn("resign leadership", slog.String("error", err.Error()))
			}
			cancel()
			telemetry.SweeperLeader.Set(0)
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	leader, err := s.elector.AcquireOrRenew(ctx)
	if err != nil {
		s.logger.Error("leader election", slog.String("error", err.Error()))
		s.setLeader(false)
		return
	}
	s.setLeader(leader)
	if !leader {
		return
	}

	now := s.now()
	if !s.nextRun.IsZero() && now.Before(s.nextRun) {
		return
	}
	s.sweep(ctx)
	s.nextRun = s.schedule.Next(now)
}

func (s *Sweeper) setLeader(leader bool) {
	if leader == s.leader {
		return
	}
	s.leader = leader
	if leader {
		telemetry.SweeperLeader.Set(1)
		s.logger.Info("acquired sweeper leadership", slog.String("instance_id", s.instanceID))
	} else {
		telemetry.SweeperLeader.Set(0)
		s.logger.Info("lost sweeper leadership", slog.String("instance_id", s.instanceID))
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	telemetry.SweeperSweepsTotal.Inc()

	res, err := s.validator.Validate(ctx)
	if err != nil {
		s.logger.Error("sweep failed", slog.String("error", err.Error()))
		return
	}

	switch {
	case res.Discarded != "":
		telemetry.SweeperDiscardsTotal.WithLabelValues(string(res.Discarded)).Inc()
		s.logger.Info("sweep discarded timer record", slog.String("reason", string(res.Discarded)))
		// Wake up live daemons so they reconcile against the (now empty) store.
		ev := redisstore.Event{
			Type:   redisstore.EventStopped,
			Origin: s.instanceID,
			At:     s.now().UTC(),
		}
		if err := s.notifier.Publish(ctx, ev); err != nil {
			s.logger.Warn("publish sweep event", slog.String("error", err.Error()))
		}
	case res.Record != nil:
		s.logger.Debug("sweep kept running timer", slog.String("task_id", res.Record.TaskID))
	default:
		s.logger.Debug("sweep found no timer record")
	}
}
