package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marlonvidal/timekeep/internal/domain"
)

func TestTaskNotFoundError_MatchesWithErrorsAs(t *testing.T) {
	var err error = &domain.TaskNotFoundError{TaskID: "task-9"}
	wrapped := fmt.Errorf("oracle lookup: %w", err)

	var notFound *domain.TaskNotFoundError
	require.ErrorAs(t, wrapped, &notFound)
	assert.Equal(t, "task-9", notFound.TaskID)
}

func TestPersistenceError_UnwrapsCause(t *testing.T) {
	cause := errors.New("redis: connection refused")
	err := &domain.PersistenceError{Op: "start", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "start")
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&domain.TaskNotFoundError{TaskID: "t1"}, "task not found: t1"},
		{&domain.InvalidTaskIDError{TaskID: ""}, `invalid task id: ""`},
		{&domain.CorruptTimerRecordError{Reason: "bad json"}, "corrupt timer record: bad json"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}
