package queue

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/scriba/internal/models"
)

func newTestQueue(t *testing.T, visibility time.Duration, maxReceive int) *BadgerManager {
	t.Helper()

	opts := badger.DefaultOptions(t.TempDir()).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	q, err := NewBadgerManager(db, "test", visibility, maxReceive)
	require.NoError(t, err)
	return q
}

func TestEnqueueReceiveDelete(t *testing.T) {
	q := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	msg := models.QueueMessage{JobID: "job_1", DocumentID: "doc_1", Kind: models.JobKindExtract}
	require.NoError(t, q.Enqueue(ctx, msg))

	received, deleteFn, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job_1", received.JobID)
	assert.Equal(t, "doc_1", received.DocumentID)
	assert.Equal(t, models.JobKindExtract, received.Kind)

	require.NoError(t, deleteFn())

	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrNoMessage)
}

func TestReceiveEmpty(t *testing.T) {
	q := newTestQueue(t, time.Minute, 3)

	_, _, err := q.Receive(context.Background())
	assert.ErrorIs(t, err, models.ErrNoMessage)
}

func TestVisibilityTimeout(t *testing.T) {
	q := newTestQueue(t, 100*time.Millisecond, 5)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, models.QueueMessage{JobID: "job_1"}))

	_, _, err := q.Receive(ctx)
	require.NoError(t, err)

	// Hidden while the visibility timeout is running
	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrNoMessage)

	time.Sleep(150 * time.Millisecond)

	received, deleteFn, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job_1", received.JobID)
	require.NoError(t, deleteFn())
}

func TestEnqueueDelayed(t *testing.T) {
	q := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, q.EnqueueDelayed(ctx, models.QueueMessage{JobID: "job_1"}, 150*time.Millisecond))

	_, _, err := q.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrNoMessage)

	time.Sleep(200 * time.Millisecond)

	received, deleteFn, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job_1", received.JobID)
	require.NoError(t, deleteFn())
}

func TestFIFOOrdering(t *testing.T) {
	q := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, models.QueueMessage{JobID: "job_1"}))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, models.QueueMessage{JobID: "job_2"}))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, models.QueueMessage{JobID: "job_3"}))

	for _, want := range []string{"job_1", "job_2", "job_3"} {
		received, deleteFn, err := q.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, received.JobID)
		require.NoError(t, deleteFn())
	}
}

func TestMaxReceiveDropsPoisonMessage(t *testing.T) {
	q := newTestQueue(t, 30*time.Millisecond, 2)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, models.QueueMessage{JobID: "poison"}))

	// Receive twice without deleting, letting visibility lapse each time
	for i := 0; i < 2; i++ {
		_, _, err := q.Receive(ctx)
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)
	}

	// Third attempt exceeds maxReceive, the message is dropped
	_, _, err := q.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrNoMessage)
}
