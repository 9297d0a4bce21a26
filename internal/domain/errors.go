package domain

import "fmt"

// TaskNotFoundError is returned when a task ID does not exist.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

// InvalidTaskIDError is returned when a timer operation is called with an
// empty or malformed task ID. It is rejected before any I/O happens.
type InvalidTaskIDError struct {
	TaskID string
}

func (e *InvalidTaskIDError) Error() string {
	return fmt.Sprintf("invalid task id: %q", e.TaskID)
}

// PersistenceError wraps a store failure during start or stop. These are the
// only call paths where durability failure is fatal to the caller; checkpoint
// and teardown-flush failures are logged and swallowed instead.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("timer persistence failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// CorruptTimerRecordError is returned when persisted timer bytes do not
// decode. Recovery treats it as a discard, never surfacing it to callers.
type CorruptTimerRecordError struct {
	Reason string
}

func (e *CorruptTimerRecordError) Error() string {
	return fmt.Sprintf("corrupt timer record: %s", e.Reason)
}
