package memqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishConsumeAck(t *testing.T) {
	q := New()
	ctx := context.Background()

	_, err := q.Publish(ctx, []byte("hello"))
	require.NoError(t, err)

	deliveries, err := q.Consume(ctx, "worker-1", 10)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, []byte("hello"), deliveries[0].Payload)
	assert.Equal(t, 1, deliveries[0].DeliveryCount)

	require.NoError(t, q.Ack(ctx, deliveries[0].ID))

	// Nothing left to consume; Consume must block until ctx is done.
	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = q.Consume(cctx, "worker-1", 10)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNackRedeliversImmediately(t *testing.T) {
	q := New()
	ctx := context.Background()

	_, err := q.Publish(ctx, []byte("retry-me"))
	require.NoError(t, err)

	first, err := q.Consume(ctx, "worker-1", 10)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 1, first[0].DeliveryCount)

	require.NoError(t, q.Nack(ctx, first[0].ID))

	second, err := q.Consume(ctx, "worker-2", 10)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, 2, second[0].DeliveryCount, "redelivery increments delivery count")
}

func TestAckOnUnknownIDIsSafeNoOp(t *testing.T) {
	q := New()
	assert.NoError(t, q.Ack(context.Background(), "does-not-exist"))
}

func TestNackOnUnknownIDIsSafeNoOp(t *testing.T) {
	q := New()
	assert.NoError(t, q.Nack(context.Background(), "does-not-exist"))
}

func TestConsumeRespectsMaxBatchSize(t *testing.T) {
	q := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := q.Publish(ctx, []byte("msg"))
		require.NoError(t, err)
	}

	batch, err := q.Consume(ctx, "worker-1", 2)
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	rest, err := q.Consume(ctx, "worker-1", 10)
	require.NoError(t, err)
	assert.Len(t, rest, 3)
}
