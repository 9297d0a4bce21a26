package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marlonvidal/timekeep/internal/domain"
)

// TaskRepository is the engine's read-mostly view of the task store. The
// engine uses GetByID as an existence oracle before starting a timer and
// during recovery; Create and List exist so the system is operable without
// the full task-management frontend.
type TaskRepository interface {
	Create(ctx context.Context, task *domain.Task) error
	GetByID(ctx context.Context, id string) (*domain.Task, error)
	List(ctx context.Context, includeArchived bool, limit int) ([]*domain.Task, error)
}

// EntryRepository is the sink for completed time entries. The engine creates
// entries and, on a failed ownership transfer, deletes the one it just wrote;
// it never reads entries back for its own logic.
type EntryRepository interface {
	Create(ctx context.Context, entry *domain.TimeEntry) error
	Delete(ctx context.Context, id string) error
	ListByTask(ctx context.Context, taskID string, limit int) ([]*domain.TimeEntry, error)
}

type taskRepository struct {
	pool *pgxpool.Pool
}

type entryRepository struct {
	pool *pgxpool.Pool
}

// NewTaskRepository wraps a pgxpool with the TaskRepository interface.
func NewTaskRepository(pool *pgxpool.Pool) TaskRepository {
	return &taskRepository{pool: pool}
}

// NewEntryRepository wraps a pgxpool with the EntryRepository interface.
func NewEntryRepository(pool *pgxpool.Pool) EntryRepository {
	return &entryRepository{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

func (r *taskRepository) Create(ctx context.Context, task *domain.Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	_, err := r.pool.Exec(ctx, `
		INSERT INTO tasks (id, title, archived, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, task.ID, task.Title, task.Archived, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create task %s: %w", task.ID, err)
	}
	return nil
}

func (r *taskRepository) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, title, archived, created_at, updated_at
		FROM tasks
		WHERE id = $1
	`, id)

	var task domain.Task
	err := row.Scan(&task.ID, &task.Title, &task.Archived, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.TaskNotFoundError{TaskID: id}
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return &task, nil
}

func (r *taskRepository) List(ctx context.Context, includeArchived bool, limit int) ([]*domain.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, title, archived, created_at, updated_at
		FROM tasks
		WHERE archived = FALSE OR $1
		ORDER BY created_at DESC
		LIMIT $2
	`, includeArchived, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		var task domain.Task
		if err := rows.Scan(&task.ID, &task.Title, &task.Archived, &task.CreatedAt, &task.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, &task)
	}
	return tasks, rows.Err()
}

func (r *entryRepository) Create(ctx context.Context, entry *domain.TimeEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO time_entries
			(id, task_id, start_time, end_time, duration_min, is_manual, created_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7)
	`,
		entry.ID, entry.TaskID, entry.StartTime, entry.EndTime,
		entry.DurationMin, entry.IsManual, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create time entry for task %s: %w", entry.TaskID, err)
	}
	return nil
}

func (r *entryRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM time_entries WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete time entry %s: %w", id, err)
	}
	return nil
}

func (r *entryRepository) ListByTask(ctx context.Context, taskID string, limit int) ([]*domain.TimeEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, task_id, start_time, end_time, duration_min, is_manual, created_at
		FROM time_entries
		WHERE task_id = $1
		ORDER BY end_time DESC
		LIMIT $2
	`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list time entries for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var entries []*domain.TimeEntry
	for rows.Next() {
		var entry domain.TimeEntry
		if err := rows.Scan(
			&entry.ID, &entry.TaskID, &entry.StartTime, &entry.EndTime,
			&entry.DurationMin, &entry.IsManual, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan time entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
