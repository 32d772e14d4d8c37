package reembed

import (
	"context"
	"fmt"
	"testing"

	"github.com/poiesic/gazette/core"
	"github.com/poiesic/gazette/storage/badger"
	"github.com/stretchr/testify/require"
)

// mockEmbedder for testing
type mockEmbedder struct {
	embedTextFunc  func(ctx context.Context, text string) ([]float32, error)
	embedTextsFunc func(ctx context.Context, texts []string) ([][]float32, error)
}

func (m *mockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if m.embedTextFunc != nil {
		return m.embedTextFunc(ctx, text)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *mockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if m.embedTextsFunc != nil {
		return m.embedTextsFunc(ctx, texts)
	}
	// Default: return unnormalized vectors for each text
	result := make([][]float32, len(texts))
	for i := range texts {
		result[i] = []float32{1.0, 2.0, 2.0} // magnitude = 3.0
	}
	return result, nil
}

func setupTestCollection(t *testing.T) (*badger.Collection, *badger.CheckpointRepository) {
	t.Helper()
	coll, backend, err := badger.NewMemoryCollection("news", &mockEmbedder{
		embedTextsFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			result := make([][]float32, len(texts))
			for i := range texts {
				result[i] = []float32{0, 0, 1}
			}
			return result, nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return coll, badger.NewCheckpointRepository(backend)
}

// seed stores n single-chunk articles and returns their records.
func seed(t *testing.T, coll *badger.Collection, n int) []*core.ChunkRecord {
	t.Helper()
	var records []*core.ChunkRecord
	for i := 0; i < n; i++ {
		a := core.NewArticle(fmt.Sprintf("https://example.com/%d", i), fmt.Sprintf("Article %d", i), "body")
		records = append(records, core.NewChunkRecords(a, []string{fmt.Sprintf("text %d", i)})...)
	}
	result, err := coll.Upsert(context.Background(), records...)
	require.NoError(t, err)
	require.Empty(t, result.Failed)
	return records
}
