package reembed

import (
	"context"
	"errors"
	"testing"

	"github.com/poiesic/gazette/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkIterator_ForEach(t *testing.T) {
	coll, _ := setupTestCollection(t)
	seed(t, coll, 10)

	iterator := NewChunkIterator(coll, 3)

	var batchSizes []int
	var ids []string
	err := iterator.ForEach(context.Background(), "", func(records []*core.ChunkRecord) error {
		batchSizes = append(batchSizes, len(records))
		for _, r := range records {
			ids = append(ids, r.ID)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 3, 1}, batchSizes)
	assert.Len(t, ids, 10)
	assert.IsIncreasing(t, ids)
}

func TestChunkIterator_EmptyCollection(t *testing.T) {
	coll, _ := setupTestCollection(t)
	iterator := NewChunkIterator(coll, 10)

	called := false
	err := iterator.ForEach(context.Background(), "", func(records []*core.ChunkRecord) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestChunkIterator_ResumesAfterID(t *testing.T) {
	coll, _ := setupTestCollection(t)
	seed(t, coll, 6)

	var all []string
	err := NewChunkIterator(coll, 100).ForEach(context.Background(), "", func(records []*core.ChunkRecord) error {
		for _, r := range records {
			all = append(all, r.ID)
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, all, 6)

	var rest []string
	err = NewChunkIterator(coll, 4).ForEach(context.Background(), all[2], func(records []*core.ChunkRecord) error {
		for _, r := range records {
			rest = append(rest, r.ID)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, all[3:], rest)
}

func TestChunkIterator_StopsOnError(t *testing.T) {
	coll, _ := setupTestCollection(t)
	seed(t, coll, 10)

	stop := errors.New("stop")
	batches := 0
	err := NewChunkIterator(coll, 3).ForEach(context.Background(), "", func(records []*core.ChunkRecord) error {
		batches++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, batches)
}

func TestChunkIterator_ContextCanceled(t *testing.T) {
	coll, _ := setupTestCollection(t)
	seed(t, coll, 10)

	ctx, cancel := context.WithCancel(context.Background())
	batches := 0
	err := NewChunkIterator(coll, 3).ForEach(ctx, "", func(records []*core.ChunkRecord) error {
		batches++
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, batches)
}

func TestChunkIterator_DefaultBatchSize(t *testing.T) {
	coll, _ := setupTestCollection(t)
	assert.Equal(t, DefaultBatchSize, NewChunkIterator(coll, 0).batchSize)
	assert.Equal(t, DefaultBatchSize, NewChunkIterator(coll, -5).batchSize)
}
