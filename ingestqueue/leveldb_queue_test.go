package ingestqueue

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinjecture/node/log"
)

func openTestQueue(t *testing.T) *leveldbQueue {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "ingest")
	q, err := openLevelDBQueue(dir, log.NewModuleLogger(log.IngestQueue))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestEnqueue_AcceptsThenRejectsDuplicate(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	evt := BlockEvent{EventID: "evt-1", MinerAddress: "miner-1", WorkScore: 1}

	outcome, err := q.Enqueue(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, Accepted, outcome)

	outcome, err = q.Enqueue(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, outcome)
}

func TestIterUnprocessed_ArrivalOrder(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(ctx, BlockEvent{EventID: id})
		require.NoError(t, err)
	}

	iter, err := q.IterUnprocessed(ctx)
	require.NoError(t, err)
	defer iter.Close()

	var seen []string
	for {
		evt, ok := iter.Next()
		if !ok {
			break
		}
		seen = append(seen, evt.EventID)
	}
	require.NoError(t, iter.Err())
	assert.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestMarkProcessed_IsIdempotentAndExcludesFromIteration(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, BlockEvent{EventID: "evt-1"})
	require.NoError(t, err)

	idx := uint64(42)
	require.NoError(t, q.MarkProcessed(ctx, "evt-1", Committed, &idx, ""))
	require.NoError(t, q.MarkProcessed(ctx, "evt-1", Rejected, nil, "should not overwrite"))

	iter, err := q.IterUnprocessed(ctx)
	require.NoError(t, err)
	defer iter.Close()

	_, ok := iter.Next()
	assert.False(t, ok)
}

func TestMarkProcessed_UnknownEventErrors(t *testing.T) {
	q := openTestQueue(t)
	err := q.MarkProcessed(context.Background(), "never-enqueued", Rejected, nil, "nope")
	assert.Error(t, err)
}
