package local

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmbedTexts_Deterministic(t *testing.T) {
	e := &LocalEmbedder{}
	ctx := context.Background()

	a, err := e.EmbedTexts(ctx, []string{"never deploy on fridays"})
	require.NoError(t, err)
	b, err := e.EmbedTexts(ctx, []string{"never deploy on fridays"})
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestEmbedTexts_DimensionAndNorm(t *testing.T) {
	e := &LocalEmbedder{}
	require.Equal(t, 384, e.Dimension())

	vectors, err := e.EmbedTexts(context.Background(), []string{"some text to embed"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	require.Len(t, vectors[0], 384)

	var norm float64
	for _, v := range vectors[0] {
		norm += float64(v) * float64(v)
	}
	require.InDelta(t, 1.0, math.Sqrt(norm), 1e-4)
}

func TestEmbedTexts_TokenOverlapOrdersSimilarity(t *testing.T) {
	e := &LocalEmbedder{}
	vectors, err := e.EmbedTexts(context.Background(), []string{
		"never deploy to production on fridays",
		"never deploy to production on mondays",
		"rotate database credentials quarterly",
	})
	require.NoError(t, err)

	near := cosine(vectors[0], vectors[1])
	far := cosine(vectors[0], vectors[2])
	require.Greater(t, near, far)
	require.Greater(t, near, 0.8)
	require.Less(t, far, 0.3)
}

func TestEmbedTexts_CaseAndPunctuationInsensitive(t *testing.T) {
	e := &LocalEmbedder{}
	vectors, err := e.EmbedTexts(context.Background(), []string{
		"Never deploy on Fridays!",
		"never   deploy on fridays",
	})
	require.NoError(t, err)
	require.Equal(t, vectors[0], vectors[1])
}

func TestEmbedTexts_EmptyText(t *testing.T) {
	e := &LocalEmbedder{}
	vectors, err := e.EmbedTexts(context.Background(), []string{"   "})
	require.NoError(t, err)
	require.Len(t, vectors[0], 384)
	for _, v := range vectors[0] {
		require.Zero(t, v)
	}
}

func cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
