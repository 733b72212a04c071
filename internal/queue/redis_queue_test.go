package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestQueue(exec Executor) (*Queue, *MemoryStore, *clock) {
	store := NewMemoryStore()
	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	q := NewQueue(store, exec, zerolog.Nop(), WithName("test_queue"), WithClock(c.now))
	return q, store, c
}

func TestProcessNextEmpty(t *testing.T) {
	q, _, _ := newTestQueue(ExecutorFunc(func(context.Context, Job) error {
		t.Fatal("executor must not run on an empty queue")
		return nil
	}))

	res, err := q.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusEmpty, res.Status)
	assert.False(t, res.Processed())
}

func TestEnqueueProcessFIFO(t *testing.T) {
	var seen []string
	q, _, _ := newTestQueue(ExecutorFunc(func(_ context.Context, job Job) error {
		seen = append(seen, job.Payload.Message)
		return nil
	}))
	ctx := context.Background()

	for _, msg := range []string{"first", "second", "third"} {
		p := samplePayload()
		p.Message = msg
		id, err := q.Enqueue(ctx, "https://agent.example/process", p)
		require.NoError(t, err)
		assert.Contains(t, id, "job_")
	}

	size, err := q.Size(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, size)

	for i := 0; i < 3; i++ {
		res, err := q.ProcessNext(ctx)
		require.NoError(t, err)
		assert.True(t, res.Success())
		assert.Equal(t, DefaultRetries, res.Job.MaxRetries)
	}
	assert.Equal(t, []string{"first", "second", "third"}, seen)
}

func TestProcessNextDefersDelayedJob(t *testing.T) {
	calls := 0
	q, _, c := newTestQueue(ExecutorFunc(func(context.Context, Job) error {
		calls++
		return nil
	}))
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "https://agent.example/process", samplePayload(), WithDelay(10*time.Second))
	require.NoError(t, err)

	res, err := q.ProcessNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusDeferred, res.Status)
	assert.Zero(t, calls)

	size, _ := q.Size(ctx)
	assert.EqualValues(t, 1, size)

	c.advance(10 * time.Second)
	res, err = q.ProcessNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, 1, calls)
}

func TestProcessNextRetriesThenDeadLetters(t *testing.T) {
	boom := errors.New("agent unavailable")
	q, _, c := newTestQueue(ExecutorFunc(func(context.Context, Job) error { return boom }))
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "https://agent.example/process", samplePayload(), WithRetries(2))
	require.NoError(t, err)

	res, err := q.ProcessNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusRetrying, res.Status)
	assert.Equal(t, 1, res.Job.Retries)
	assert.ErrorIs(t, res.Err, boom)
	assert.Equal(t, c.t.Add(2*time.Second).UnixMilli(), res.Job.ProcessAfter)

	c.advance(2 * time.Second)
	res, err = q.ProcessNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusRetrying, res.Status)
	assert.Equal(t, c.t.Add(4*time.Second).UnixMilli(), res.Job.ProcessAfter)

	c.advance(4 * time.Second)
	res, err = q.ProcessNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusDeadLettered, res.Status)

	size, _ := q.Size(ctx)
	assert.Zero(t, size)
	dlq, _ := q.DeadLetterSize(ctx)
	assert.EqualValues(t, 1, dlq)
}

func TestProcessNextPermanentFailureSkipsRetries(t *testing.T) {
	q, _, _ := newTestQueue(ExecutorFunc(func(context.Context, Job) error {
		return backoff.Permanent(errors.New("worker returned 400"))
	}))
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "https://agent.example/process", samplePayload())
	require.NoError(t, err)

	res, err := q.ProcessNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusDeadLettered, res.Status)
	assert.Zero(t, res.Job.Retries)
}

func TestProcessNextMalformedJob(t *testing.T) {
	q, store, _ := newTestQueue(ExecutorFunc(func(context.Context, Job) error { return nil }))
	ctx := context.Background()
	require.NoError(t, store.LPush(ctx, q.Name(), []byte("{not json")))

	res, err := q.ProcessNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusDeadLettered, res.Status)
	assert.Equal(t, MalformedJobID, res.Job.ID)
	assert.Error(t, res.Err)

	dlq, _ := q.DeadLetterSize(ctx)
	assert.EqualValues(t, 1, dlq)
}

func TestClearKeepsDeadLetters(t *testing.T) {
	q, store, _ := newTestQueue(ExecutorFunc(func(context.Context, Job) error { return nil }))
	ctx := context.Background()
	require.NoError(t, store.LPush(ctx, q.Name()+":dlq", []byte("{}")))
	_, err := q.Enqueue(ctx, "https://agent.example/process", samplePayload())
	require.NoError(t, err)

	require.NoError(t, q.Clear(ctx))

	size, _ := q.Size(ctx)
	assert.Zero(t, size)
	dlq, _ := q.DeadLetterSize(ctx)
	assert.EqualValues(t, 1, dlq)
}

type failingStore struct{ *MemoryStore }

func (failingStore) RPop(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection reset")
}

func TestProcessNextStoreFailure(t *testing.T) {
	q := NewQueue(failingStore{NewMemoryStore()}, ExecutorFunc(func(context.Context, Job) error { return nil }), zerolog.Nop())
	_, err := q.ProcessNext(context.Background())
	assert.ErrorContains(t, err, "connection reset")
}
