//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marlonvidal/timekeep/internal/domain"
	"github.com/marlonvidal/timekeep/internal/kafka"
)

func TestEntryPublisher_PublishesCompletedEntry(t *testing.T) {
	createTopic(t, kafka.TopicEntries)

	publisher := kafka.NewEntryPublisher(testKafkaBrokers)
	t.Cleanup(func() { publisher.Close() }) //nolint:errcheck

	ctx := context.Background()
	end := time.Now().UTC().Truncate(time.Second)
	entry := domain.NewTimeEntry(uuid.NewString(), "task-1", end.Add(-125*time.Second), end)
	require.NoError(t, publisher.PublishEntry(ctx, entry))

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     testKafkaBrokers,
		Topic:       kafka.TopicEntries,
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { reader.Close() }) //nolint:errcheck

	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := reader.ReadMessage(readCtx)
	require.NoError(t, err)

	// Keyed by task ID so one task's entries stay in order on a partition.
	assert.Equal(t, "task-1", string(msg.Key))

	var got domain.TimeEntry
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, "task-1", got.TaskID)
	assert.Equal(t, int64(2), got.DurationMin)
	assert.False(t, got.IsManual)
}
