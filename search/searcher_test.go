package search

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/poiesic/gazette/ai/mock"
	"github.com/poiesic/gazette/core"
	"github.com/poiesic/gazette/storage"
	"github.com/poiesic/gazette/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// positionEmbedder places a text on a line by the number following "@",
// so distances between texts are easy to predict.
func positionEmbedder() *mock.MockEmbedder {
	vector := func(text string) []float32 {
		_, pos, _ := strings.Cut(text, "@")
		var v float32
		for _, c := range strings.TrimSpace(pos) {
			if c < '0' || c > '9' {
				break
			}
			v = v*10 + float32(c-'0')
		}
		return []float32{v, 1}
	}
	return mock.NewMockEmbedder().
		WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
			return vector(text), nil
		}).
		WithEmbedTextsFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
			out := make([][]float32, len(texts))
			for i, t := range texts {
				out[i] = vector(t)
			}
			return out, nil
		})
}

type recordingMonitor struct {
	noopMonitor
	queries    []int
	duplicates int
	finished   int
}

func (m *recordingMonitor) AfterQuery(k int, _ []*core.SearchResult) {
	m.queries = append(m.queries, k)
}
func (m *recordingMonitor) DuplicateSource(_ *core.SearchResult) { m.duplicates++ }
func (m *recordingMonitor) Finish(_ []*core.SearchResult)        { m.finished++ }

func setupSearcher(t *testing.T) (*Searcher, *badger.Collection) {
	t.Helper()
	embedder := positionEmbedder()
	coll, backend, err := badger.NewMemoryCollection("news", embedder)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	s, err := NewSearcher(coll, embedder)
	require.NoError(t, err)
	return s, coll
}

func store(t *testing.T, coll *badger.Collection, url string, spans ...string) {
	t.Helper()
	a := core.NewArticle(url, "Title", strings.Join(spans, " "))
	result, err := coll.ReplaceFamily(context.Background(), url, core.NewChunkRecords(a, spans)...)
	require.NoError(t, err)
	require.Empty(t, result.Failed)
}

func TestNewSearcher_Validation(t *testing.T) {
	_, err := NewSearcher(nil, mock.NewMockEmbedder())
	assert.ErrorIs(t, err, ErrCollectionRequired)

	coll, backend, err := badger.NewMemoryCollection("news", mock.NewMockEmbedder())
	require.NoError(t, err)
	defer backend.Close()
	_, err = NewSearcher(coll, nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)
}

func TestSearch_RanksByDistance(t *testing.T) {
	s, coll := setupSearcher(t)
	store(t, coll, "https://example.com/a", "@1")
	store(t, coll, "https://example.com/b", "@5")
	store(t, coll, "https://example.com/c", "@3")

	results, err := s.Search(context.Background(), "@0", 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://example.com/a", results[0].Record.ParentURL)
	assert.Equal(t, "https://example.com/c", results[1].Record.ParentURL)
	assert.InDelta(t, 1.0, results[0].Distance, 1e-6)
	assert.InDelta(t, 9.0, results[1].Distance, 1e-6)
}

func TestSearch_IsDeterministic(t *testing.T) {
	s, coll := setupSearcher(t)
	store(t, coll, "https://example.com/a", "@2")
	store(t, coll, "https://example.com/b", "@4")
	store(t, coll, "https://example.com/c", "@2")

	first, err := s.Search(context.Background(), "@3", 3, nil)
	require.NoError(t, err)
	second, err := s.Search(context.Background(), "@3", 3, nil)
	require.NoError(t, err)

	require.Len(t, first, 3)
	for i := range first {
		assert.Equal(t, first[i].Record.ID, second[i].Record.ID)
		assert.Equal(t, first[i].Distance, second[i].Distance)
	}
	// All three are at distance 1; insertion order decides.
	assert.Equal(t, "https://example.com/a", first[0].Record.ParentURL)
	assert.Equal(t, "https://example.com/b", first[1].Record.ParentURL)
	assert.Equal(t, "https://example.com/c", first[2].Record.ParentURL)
}

func TestSearch_DedupeBySource(t *testing.T) {
	s, coll := setupSearcher(t)
	store(t, coll, "https://example.com/long", "@1", "@2", "@3", "@4")
	store(t, coll, "https://example.com/other", "@9")
	store(t, coll, "https://example.com/far", "@20")

	plain, err := s.Search(context.Background(), "@0", 2, nil)
	require.NoError(t, err)
	require.Len(t, plain, 2)
	assert.Equal(t, plain[0].Record.ParentURL, plain[1].Record.ParentURL)

	monitor := &recordingMonitor{}
	results, err := s.Search(context.Background(), "@0", 2, nil, WithDedupeBySource(true), WithMonitor(monitor))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://example.com/long", results[0].Record.ParentURL)
	assert.Equal(t, 0, results[0].Record.ChunkIndex)
	assert.Equal(t, "https://example.com/other", results[1].Record.ParentURL)

	assert.Equal(t, []int{2, 4, 8}, monitor.queries)
	assert.Equal(t, 1, monitor.finished)
	assert.Positive(t, monitor.duplicates)
}

func TestSearch_DedupeExhaustsCollection(t *testing.T) {
	s, coll := setupSearcher(t)
	store(t, coll, "https://example.com/long", "@1", "@2", "@3")

	results, err := s.Search(context.Background(), "@0", 5, nil, WithDedupeBySource(true))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].Record.ChunkIndex)
}

func TestSearch_Filter(t *testing.T) {
	s, coll := setupSearcher(t)
	store(t, coll, "https://one.example.com/a", "@1")
	store(t, coll, "https://two.example.com/b", "@8")

	results, err := s.Search(context.Background(), "@0", 5, core.Filter{core.MetaSourceDomain: "two.example.com"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://two.example.com/b", results[0].Record.ParentURL)
}

func TestSearch_EmptyCollection(t *testing.T) {
	s, _ := setupSearcher(t)

	results, err := s.Search(context.Background(), "@1", 3, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = s.Search(context.Background(), "@1", 3, nil, WithDedupeBySource(true))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_InvalidCount(t *testing.T) {
	s, _ := setupSearcher(t)
	_, err := s.Search(context.Background(), "@1", 0, nil)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestSearch_EmbeddingFailure(t *testing.T) {
	coll, backend, err := badger.NewMemoryCollection("news", mock.NewMockEmbedder())
	require.NoError(t, err)
	defer backend.Close()

	failing := mock.NewMockEmbedder().WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("offline")
	})
	s, err := NewSearcher(coll, failing)
	require.NoError(t, err)

	_, err = s.Search(context.Background(), "anything", 1, nil)
	assert.ErrorIs(t, err, core.ErrEmbedding)
}
