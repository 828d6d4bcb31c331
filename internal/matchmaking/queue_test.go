package matchmaking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connectline/internal/models"
)

func TestEnqueueThenDequeue_IsNoOp(t *testing.T) {
	q := New(nil, time.Minute)
	q.Enqueue("chan-1", "user-1", models.DifficultyEasy)
	assert.Equal(t, 1, q.Len())

	q.Dequeue("chan-1")
	assert.Equal(t, 0, q.Len())
}

func TestEnqueue_DuplicateChannelIsIdempotent(t *testing.T) {
	q := New(nil, time.Minute)
	first := q.Enqueue("chan-1", "user-1", models.DifficultyEasy)
	second := q.Enqueue("chan-1", "user-1", models.DifficultyHard)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.DifficultyEasy, second.Difficulty, "first enqueue wins")
	assert.Equal(t, 1, q.Len())
}

func TestTryMatch_PairsTwoOldestAndUsesFirstDifficulty(t *testing.T) {
	q := New(nil, time.Minute)
	q.Enqueue("chan-1", "user-1", models.DifficultyHard)
	time.Sleep(time.Millisecond)
	q.Enqueue("chan-2", "user-2", models.DifficultyEasy)

	match, ok := q.TryMatch()
	require.True(t, ok)
	assert.Equal(t, models.DifficultyHard, match.Difficulty)
	assert.Equal(t, 0, q.Len())
}

func TestTryMatch_InsufficientEntries(t *testing.T) {
	q := New(nil, time.Minute)
	q.Enqueue("chan-1", "user-1", models.DifficultyEasy)

	_, ok := q.TryMatch()
	assert.False(t, ok)
	assert.Equal(t, 1, q.Len())
}

func TestRequeue_PreservesOriginalOrdering(t *testing.T) {
	q := New(nil, time.Minute)
	entry := q.Enqueue("chan-1", "user-1", models.DifficultyEasy)
	q.Dequeue("chan-1")

	q.Requeue(entry)
	require.Equal(t, 1, q.Len())

	entries := q.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, entry.QueuedAt, entries[0].QueuedAt)
}

func TestSweepExpired_DropsStaleEntries(t *testing.T) {
	q := New(nil, time.Millisecond)
	q.Enqueue("chan-1", "user-1", models.DifficultyEasy)
	time.Sleep(5 * time.Millisecond)

	expired := q.SweepExpired()
	require.Len(t, expired, 1)
	assert.Equal(t, 0, q.Len())
}
