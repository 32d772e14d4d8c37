package badger

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/poiesic/gazette/ai/mock"
	"github.com/poiesic/gazette/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "db")
	backend, err := OpenBackend(dir, false)
	require.NoError(t, err)
	defer backend.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenBackend_PathIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := OpenBackend(file, false)
	assert.ErrorIs(t, err, storage.ErrStoreUnavailable)
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	_, err = backend.Collection(context.Background(), "news", mock.NewMockEmbedder())
	require.NoError(t, err)

	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())

	// Closing twice is harmless.
	assert.NoError(t, backend.Close())
}

func TestBackend_CollectionIsSingleton(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	embedder := mock.NewMockEmbedder()

	var wg sync.WaitGroup
	handles := make([]*Collection, 8)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := backend.Collection(ctx, "news", embedder)
			assert.NoError(t, err)
			handles[i] = c
		}(i)
	}
	wg.Wait()

	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}

	names, err := backend.Collections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"news"}, names)
}

func TestBackend_CollectionValidation(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	_, err = backend.Collection(ctx, "", mock.NewMockEmbedder())
	assert.ErrorIs(t, err, storage.ErrInvalidCollectionName)

	_, err = backend.Collection(ctx, "bad:name", mock.NewMockEmbedder())
	assert.ErrorIs(t, err, storage.ErrInvalidCollectionName)

	_, err = backend.Collection(ctx, "news", nil)
	assert.ErrorIs(t, err, storage.ErrEmbedderRequired)

	_, err = backend.Collection(ctx, "news", mock.NewMockEmbedder(), WithMetric("hamming"))
	assert.ErrorIs(t, err, storage.ErrUnknownMetric)
}

func TestBackend_CollectionAfterClose(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	_, err = backend.Collection(context.Background(), "news", mock.NewMockEmbedder())
	assert.ErrorIs(t, err, storage.ErrStoreUnavailable)
}

func TestBackend_StoredMetricWins(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	backend, err := OpenBackend(dir, false)
	require.NoError(t, err)
	_, err = backend.Collection(ctx, "news", mock.NewMockEmbedder(), WithMetric(storage.MetricCosine))
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	backend, err = OpenBackend(dir, false)
	require.NoError(t, err)
	defer backend.Close()
	coll, err := backend.Collection(ctx, "news", mock.NewMockEmbedder(), WithMetric(storage.MetricIP))
	require.NoError(t, err)

	info, err := coll.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.MetricCosine, info.Metric)
	assert.Equal(t, "News articles collection", info.Description)
	assert.Equal(t, storage.MetricCosine, coll.metric)
}
