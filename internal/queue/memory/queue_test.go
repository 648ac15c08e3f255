package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/plotmon/internal/protocol"
)

func envelope(id string) protocol.Envelope {
	return protocol.Envelope{ID: id, Kind: protocol.KindAnalysisDone, Payload: protocol.AnalysisDone{}}
}

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan protocol.Envelope, 1)
	errCh := make(chan error, 1)

	go func() {
		env, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- env
	}()

	require.NoError(t, q.Enqueue(context.Background(), envelope("env-1")))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, "env-1", got.ID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return envelope")
	}
}

func TestQueuePreservesOrder(t *testing.T) {
	t.Parallel()

	q := NewQueue(3)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, envelope(id)))
	}
	require.Equal(t, 3, q.Len())
	for _, id := range []string{"a", "b", "c"} {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, id, got.ID)
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := qDequeue.Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")

	qEnqueue := NewQueue(1)
	require.NoError(t, qEnqueue.Enqueue(context.Background(), envelope("primed")))
	err = qEnqueue.Enqueue(ctx, envelope("blocked"))
	require.EqualError(t, err, "enqueue canceled: context canceled")
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.Enqueue(context.Background(), envelope("buffered")))
	q.Close()

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "buffered", got.ID)

	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)

	require.ErrorIs(t, q.Enqueue(context.Background(), envelope("late")), ErrClosed)
	// Closing twice should be safe.
	q.Close()
}
