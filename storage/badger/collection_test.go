package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/poiesic/gazette/ai/mock"
	"github.com/poiesic/gazette/core"
	"github.com/poiesic/gazette/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// axisEmbedder maps texts starting with "x", "y" or "z" to unit vectors
// along that axis; anything else lands on the diagonal.
func axisEmbedder() *mock.MockEmbedder {
	vector := func(text string) []float32 {
		switch {
		case strings.HasPrefix(text, "x"):
			return []float32{1, 0, 0}
		case strings.HasPrefix(text, "y"):
			return []float32{0, 1, 0}
		case strings.HasPrefix(text, "z"):
			return []float32{0, 0, 1}
		}
		return []float32{0.577, 0.577, 0.577}
	}
	return mock.NewMockEmbedder().
		WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
			return vector(text), nil
		}).
		WithEmbedTextsFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
			out := make([][]float32, len(texts))
			for i, text := range texts {
				out[i] = vector(text)
			}
			return out, nil
		})
}

func newTestCollection(t *testing.T, opts ...CollectionOption) *Collection {
	t.Helper()
	return newTestCollectionWith(t, axisEmbedder(), opts...)
}

func newTestCollectionWith(t *testing.T, embedder *mock.MockEmbedder, opts ...CollectionOption) *Collection {
	t.Helper()
	coll, backend, err := NewMemoryCollection("news", embedder, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return coll
}

func article(url, title string) *core.Article {
	a := core.NewArticle(url, title, "body of "+title)
	a.Authors = []string{"Ann"}
	return a
}

func records(a *core.Article, spans ...string) []*core.ChunkRecord {
	return core.NewChunkRecords(a, spans)
}

func TestCollection_UpsertAndGet(t *testing.T) {
	coll := newTestCollection(t)
	ctx := context.Background()

	a := article("https://example.com/a", "A")
	result, err := coll.Upsert(ctx, records(a, "x one", "y two")...)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Written)
	assert.Empty(t, result.Failed)

	got, err := coll.Get(ctx, core.ChunkID(a.URL, 1))
	require.NoError(t, err)
	assert.Equal(t, "y two", got.Text)
	assert.Equal(t, a.URL, got.ParentURL)
	assert.Equal(t, []string{"Ann"}, got.Authors)
	assert.Equal(t, []float32{0, 1, 0}, got.Vector)
	assert.NotZero(t, got.Seq)

	count, err := coll.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCollection_GetMissing(t *testing.T) {
	coll := newTestCollection(t)
	ctx := context.Background()

	_, err := coll.Get(ctx, "missing:0")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	exists, err := coll.Exists(ctx, "missing:0")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCollection_UpsertOverwritesAndKeepsSeq(t *testing.T) {
	coll := newTestCollection(t)
	ctx := context.Background()

	a := article("https://example.com/a", "A")
	_, err := coll.Upsert(ctx, records(a, "x first")...)
	require.NoError(t, err)
	before, err := coll.Get(ctx, core.ChunkID(a.URL, 0))
	require.NoError(t, err)

	a.Summary = "now enriched"
	_, err = coll.Upsert(ctx, records(a, "y second")...)
	require.NoError(t, err)

	after, err := coll.Get(ctx, core.ChunkID(a.URL, 0))
	require.NoError(t, err)
	assert.Equal(t, "y second", after.Text)
	assert.Equal(t, "now enriched", after.Summary)
	assert.Equal(t, before.Seq, after.Seq)

	count, err := coll.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollection_UpsertReportsInvalidRecords(t *testing.T) {
	coll := newTestCollection(t)
	ctx := context.Background()

	good := records(article("https://example.com/a", "A"), "x ok")[0]
	bad := records(article("https://example.com/b", "B"), "x bad")[0]
	bad.Title = ""

	result, err := coll.Upsert(ctx, good, bad, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Written)
	require.Len(t, result.Failed, 2)
	assert.Equal(t, bad.ID, result.Failed[0].ID)
	assert.ErrorIs(t, result.Failed[0], core.ErrValidation)
	assert.ErrorIs(t, result.Failed[1], core.ErrValidation)
}

func TestCollection_EmbeddingFallback(t *testing.T) {
	embedder := mock.NewMockEmbedder().
		WithEmbedTextsFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
			return nil, errors.New("batch endpoint down")
		}).
		WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
			if strings.Contains(text, "poison") {
				return nil, errors.New("cannot embed")
			}
			return []float32{1, 0}, nil
		})
	coll := newTestCollectionWith(t, embedder, WithEmbedRetries(1, 0))
	ctx := context.Background()

	a := article("https://example.com/a", "A")
	b := article("https://example.com/b", "B")
	recs := append(records(a, "fine"), records(b, "poison")...)

	result, err := coll.Upsert(ctx, recs...)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Written)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, recs[1].ID, result.Failed[0].ID)
	assert.ErrorIs(t, result.Failed[0], core.ErrEmbedding)

	exists, err := coll.Exists(ctx, recs[1].ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCollection_ReplaceFamilyRemovesStaleChunks(t *testing.T) {
	coll := newTestCollection(t)
	ctx := context.Background()

	a := article("https://example.com/a", "A")
	_, err := coll.ReplaceFamily(ctx, a.URL, records(a, "x0", "x1", "x2")...)
	require.NoError(t, err)

	result, err := coll.ReplaceFamily(ctx, a.URL, records(a, "y0", "y1")...)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Written)

	family, err := coll.Family(ctx, a.URL)
	require.NoError(t, err)
	require.Len(t, family, 2)
	for i, r := range family {
		assert.Equal(t, i, r.ChunkIndex)
		assert.Equal(t, 2, r.ChunkCount)
		assert.Equal(t, fmt.Sprintf("y%d", i), r.Text)
	}
}

func TestCollection_ReplaceFamilyWritesHealthySiblings(t *testing.T) {
	embedder := axisEmbedder()
	coll := newTestCollectionWith(t, embedder, WithEmbedRetries(0, 0))
	ctx := context.Background()

	a := article("https://example.com/a", "A")
	_, err := coll.ReplaceFamily(ctx, a.URL, records(a, "x0", "x1")...)
	require.NoError(t, err)

	embedder.WithEmbedTextsFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.New("down")
	}).WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
		if text == "y1" {
			return nil, errors.New("down")
		}
		return []float32{0, 1, 0}, nil
	})

	result, err := coll.ReplaceFamily(ctx, a.URL, records(a, "y0", "y1", "y2")...)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Written)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, core.ChunkID(a.URL, 1), result.Failed[0].ID)
	assert.ErrorIs(t, result.Failed[0], core.ErrEmbedding)

	// The old chunk at the failed index is gone, so no chunk of the
	// previous version remains next to the new ones.
	family, err := coll.Family(ctx, a.URL)
	require.NoError(t, err)
	require.Len(t, family, 2)
	assert.Equal(t, "y0", family[0].Text)
	assert.Equal(t, "y2", family[1].Text)
	for _, r := range family {
		assert.Equal(t, 3, r.ChunkCount)
	}
}

func TestCollection_ReplaceFamilyKeepsOldFamilyWhenNothingWritten(t *testing.T) {
	embedder := axisEmbedder()
	coll := newTestCollectionWith(t, embedder, WithEmbedRetries(0, 0))
	ctx := context.Background()

	a := article("https://example.com/a", "A")
	_, err := coll.ReplaceFamily(ctx, a.URL, records(a, "x0", "x1")...)
	require.NoError(t, err)

	embedder.WithEmbedTextsFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.New("down")
	}).WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("down")
	})

	result, err := coll.ReplaceFamily(ctx, a.URL, records(a, "y0", "y1", "y2")...)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Written)
	assert.Len(t, result.Failed, 3)

	family, err := coll.Family(ctx, a.URL)
	require.NoError(t, err)
	require.Len(t, family, 2)
	assert.Equal(t, "x0", family[0].Text)
	assert.Equal(t, "x1", family[1].Text)
}

func TestCollection_ReplaceFamilyRejectsForeignRecords(t *testing.T) {
	coll := newTestCollection(t)
	ctx := context.Background()

	a := article("https://example.com/a", "A")
	b := article("https://example.com/b", "B")
	result, err := coll.ReplaceFamily(ctx, a.URL, records(b, "x")...)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Written)
	require.Len(t, result.Failed, 1)
	assert.ErrorIs(t, result.Failed[0], core.ErrValidation)
}

func TestCollection_Query(t *testing.T) {
	coll := newTestCollection(t)
	ctx := context.Background()

	a := article("https://example.com/a", "A")
	b := article("https://example.com/b", "B")
	c := article("https://example.com/c", "C")
	for _, r := range [][]*core.ChunkRecord{records(a, "x a"), records(b, "y b"), records(c, "z c")} {
		_, err := coll.Upsert(ctx, r...)
		require.NoError(t, err)
	}

	results, err := coll.Query(ctx, "x query", 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, a.URL, results[0].Record.ParentURL)
	assert.InDelta(t, 0.0, results[0].Distance, 1e-6)
	assert.InDelta(t, 2.0, results[1].Distance, 1e-6)

	// y and z tie; the earlier insert wins.
	assert.Equal(t, b.URL, results[1].Record.ParentURL)

	again, err := coll.Query(ctx, "x query", 2, nil)
	require.NoError(t, err)
	assert.Equal(t, results[1].Record.ID, again[1].Record.ID)
}

func TestCollection_QueryBoundaries(t *testing.T) {
	coll := newTestCollection(t)
	ctx := context.Background()

	results, err := coll.Query(ctx, "x", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = coll.Query(ctx, "x", 0, nil)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)

	_, err = coll.Upsert(ctx, records(article("https://example.com/a", "A"), "x")...)
	require.NoError(t, err)
	results, err = coll.Query(ctx, "y", 10, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestCollection_QuerySkipsMismatchedDimensions(t *testing.T) {
	coll := newTestCollection(t)
	ctx := context.Background()

	a := article("https://example.com/a", "A")
	b := article("https://example.com/b", "B")
	_, err := coll.UpsertEmbedded(ctx, records(a, "x a"), [][]float32{{0.9, 0.1, 0}})
	require.NoError(t, err)
	// A prefix comparison would put this one at distance zero.
	_, err = coll.UpsertEmbedded(ctx, records(b, "x b"), [][]float32{{1, 0}})
	require.NoError(t, err)

	results, err := coll.QueryVector(ctx, []float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, a.URL, results[0].Record.ParentURL)
}

func TestCollection_QueryFilter(t *testing.T) {
	coll := newTestCollection(t)
	ctx := context.Background()

	a := article("https://one.example.com/a", "A")
	b := article("https://two.example.com/b", "B")
	_, err := coll.Upsert(ctx, append(records(a, "x a"), records(b, "x b")...)...)
	require.NoError(t, err)

	results, err := coll.Query(ctx, "x", 10, core.Filter{core.MetaSourceDomain: "two.example.com"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, b.URL, results[0].Record.ParentURL)
}

func TestCollection_QueryEmbeddingFailure(t *testing.T) {
	embedder := mock.NewMockEmbedder().WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("down")
	})
	coll := newTestCollectionWith(t, embedder)

	_, err := coll.Query(context.Background(), "x", 1, nil)
	assert.ErrorIs(t, err, core.ErrEmbedding)
}

func TestCollection_ListAndForEach(t *testing.T) {
	coll := newTestCollection(t)
	ctx := context.Background()

	var urls []string
	for i := 0; i < 7; i++ {
		a := article(fmt.Sprintf("https://example.com/%d", i), fmt.Sprintf("T%d", i))
		urls = append(urls, a.URL)
		_, err := coll.Upsert(ctx, records(a, "x")...)
		require.NoError(t, err)
	}

	list, err := coll.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 7)
	for i, r := range list {
		assert.Equal(t, urls[i], r.ParentURL, "insertion order")
	}

	limited, err := coll.List(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, limited, 3)

	var batches []int
	seen := map[string]bool{}
	err = coll.ForEach(ctx, 3, func(recs []*core.ChunkRecord) error {
		batches = append(batches, len(recs))
		for _, r := range recs {
			seen[r.ID] = true
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 1}, batches)
	assert.Len(t, seen, 7)

	stop := errors.New("stop")
	err = coll.ForEach(ctx, 2, func(recs []*core.ChunkRecord) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestCollection_Delete(t *testing.T) {
	coll := newTestCollection(t)
	ctx := context.Background()

	a := article("https://example.com/a", "A")
	b := article("https://example.com/b", "B")
	_, err := coll.Upsert(ctx, append(records(a, "x0", "x1", "x2"), records(b, "y0")...)...)
	require.NoError(t, err)

	n, err := coll.Delete(ctx, core.ChunkID(a.URL, 0), "missing:0")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = coll.DeleteFamily(ctx, a.URL)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = coll.DeleteFamily(ctx, a.URL)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	count, err := coll.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollection_DeleteByFilter(t *testing.T) {
	coll := newTestCollection(t)
	ctx := context.Background()

	a := article("https://one.example.com/a", "A")
	b := article("https://two.example.com/b", "B")
	_, err := coll.Upsert(ctx, append(records(a, "x0", "x1"), records(b, "y0")...)...)
	require.NoError(t, err)

	_, err = coll.DeleteByFilter(ctx, nil)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)

	n, err := coll.DeleteByFilter(ctx, core.Filter{core.MetaSourceDomain: "one.example.com"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := coll.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollection_Reset(t *testing.T) {
	coll := newTestCollection(t)
	ctx := context.Background()

	_, err := coll.Upsert(ctx, records(article("https://example.com/a", "A"), "x0", "x1")...)
	require.NoError(t, err)

	require.NoError(t, coll.Reset(ctx))
	count, err := coll.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// The collection stays usable.
	result, err := coll.Upsert(ctx, records(article("https://example.com/b", "B"), "y")...)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Written)
}

func TestCollection_ResetLeavesOtherCollections(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()
	ctx := context.Background()

	news, err := backend.Collection(ctx, "news", axisEmbedder())
	require.NoError(t, err)
	other, err := backend.Collection(ctx, "news2", axisEmbedder())
	require.NoError(t, err)

	_, err = news.Upsert(ctx, records(article("https://example.com/a", "A"), "x")...)
	require.NoError(t, err)
	_, err = other.Upsert(ctx, records(article("https://example.com/a", "A"), "x")...)
	require.NoError(t, err)

	require.NoError(t, news.Reset(ctx))
	count, err := other.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollection_ConcurrentUpserts(t *testing.T) {
	coll := newTestCollection(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := article(fmt.Sprintf("https://example.com/%d", i), "T")
			_, err := coll.ReplaceFamily(ctx, a.URL, records(a, "x0", "x1")...)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	count, err := coll.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40, count)
}

func TestCollection_ClosedBackend(t *testing.T) {
	coll, backend, err := NewMemoryCollection("news", axisEmbedder())
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	ctx := context.Background()
	_, err = coll.Get(ctx, "x:0")
	assert.ErrorIs(t, err, storage.ErrStoreUnavailable)

	_, err = coll.Upsert(ctx, records(article("https://example.com/a", "A"), "x")...)
	assert.ErrorIs(t, err, storage.ErrStoreUnavailable)

	_, err = coll.Count(ctx)
	assert.ErrorIs(t, err, storage.ErrStoreUnavailable)
}
