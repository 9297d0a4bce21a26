package domain

import "time"

// TimerStatus is the lifecycle state of the tracked timer.
type TimerStatus string

const (
	// TimerIdle means no record is persisted.
	TimerIdle TimerStatus = "IDLE"
	// TimerActive means a record is persisted and the timer is running.
	TimerActive TimerStatus = "ACTIVE"
	// TimerPaused is reserved. No transition currently produces it; it exists
	// so persisted records written by a future version still decode.
	TimerPaused TimerStatus = "PAUSED"
)

// Running reports whether the status counts as an in-progress timer.
func (s TimerStatus) Running() bool { return s == TimerActive }

// TimerRecord is the single persisted unit of truth for the running timer.
// At most one record exists system-wide; every in-memory copy is a cache
// invalidated by cross-instance notifications.
type TimerRecord struct {
	TaskID string `json:"task_id"`
	// StartTime is immutable for the life of one activation. Elapsed time is
	// always recomputed from it, never accumulated.
	StartTime time.Time `json:"start_time"`
	// LastCheckpoint is advisory. It marks the most recent durability
	// checkpoint and is used only for diagnostics.
	LastCheckpoint time.Time   `json:"last_checkpoint"`
	Status         TimerStatus `json:"status"`
}

// Elapsed returns the whole seconds since StartTime. Negative spans (clock
// skew) clamp to zero.
func (r *TimerRecord) Elapsed(now time.Time) int64 {
	if r == nil {
		return 0
	}
	d := now.Sub(r.StartTime)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// TimeEntry is the immutable record produced when an active timer stops.
type TimeEntry struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	// DurationMin is whole minutes, floor-rounded.
	DurationMin int64     `json:"duration_min"`
	IsManual    bool      `json:"is_manual"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewTimeEntry builds a tracked (non-manual) entry for the span [start, end].
// The caller is responsible for rejecting negative spans before calling.
func NewTimeEntry(id, taskID string, start, end time.Time) *TimeEntry {
	return &TimeEntry{
		ID:          id,
		TaskID:      taskID,
		StartTime:   start,
		EndTime:     end,
		DurationMin: int64(end.Sub(start) / time.Minute),
		IsManual:    false,
		CreatedAt:   end,
	}
}
