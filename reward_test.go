package chunkval_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vectorchat/chunkval"
)

type mapEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   atomic.Int32
	texts   []string
}

func (m *mapEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.calls.Add(1)
	m.texts = texts
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = m.vectors[text]
	}
	return out, nil
}

func TestEmbeddingRewarder(t *testing.T) {
	task := chunkval.Task{Document: "a b. c d.", MaxTokensPerChunk: 2}
	embedder := &mapEmbedder{vectors: map[string][]float32{
		"a b.": {1, 0},
		"c d.": {0, 1},
		"a":    {1, 0},
		"b.":   {1, 0},
	}}
	subject := &chunkval.EmbeddingRewarder{Embedder: embedder}

	rewards, err := subject.Rewards(context.Background(), task, []chunkval.Response{
		{UID: 0, Chunks: []string{"a b.", "c d."}},
		{UID: 1, Chunks: []string{"a", "b.", "c d."}},
		{UID: 2, Chunks: []string{"a b. c d."}},
		{UID: 3, Chunks: []string{"a b."}},
		{UID: 4, Err: chunkval.ErrPeerTimeout},
		{UID: 5, Chunks: []string{"a b.", "", "c d."}},
		{UID: 6, Chunks: []string{"c d.", "a b."}},
	})
	require.NoError(t, err)
	require.Len(t, rewards, 7)
	require.InDelta(t, 1, rewards[0], 1e-9)
	require.InDelta(t, 0.5, rewards[1], 1e-9)
	require.Equal(t, []float64{0, 0, 0, 0, 0}, rewards[2:])
	require.EqualValues(t, 1, embedder.calls.Load())
	require.ElementsMatch(t, []string{"a b.", "c d.", "a", "b."}, embedder.texts)
}

func TestEmbeddingRewarderMaxPairs(t *testing.T) {
	task := chunkval.Task{Document: "a b. c d.", MaxTokensPerChunk: 2}
	embedder := &mapEmbedder{vectors: map[string][]float32{
		"a":  {1, 0},
		"b.": {1, 0},
	}}
	subject := &chunkval.EmbeddingRewarder{Embedder: embedder, MaxPairs: 1}

	rewards, err := subject.Rewards(context.Background(), task, []chunkval.Response{
		{Chunks: []string{"a", "b.", "c d."}},
	})
	require.NoError(t, err)
	require.Equal(t, []float64{0}, rewards)
	require.ElementsMatch(t, []string{"a", "b."}, embedder.texts)
}

func TestEmbeddingRewarderWithoutEmbedder(t *testing.T) {
	task := chunkval.Task{Document: testDocument, MaxTokensPerChunk: 6}
	subject := &chunkval.EmbeddingRewarder{}

	rewards, err := subject.Rewards(context.Background(), task, []chunkval.Response{
		{Chunks: chunkval.SplitDocument(testDocument, 6)},
		{Chunks: chunkval.SplitDocument(testDocument, 7)},
		{Err: chunkval.ErrPeerUnreachable},
	})
	require.NoError(t, err)
	require.Equal(t, []float64{1, 0, 0}, rewards)

	rewards, err = subject.Rewards(context.Background(), task, nil)
	require.NoError(t, err)
	require.Empty(t, rewards)
}

func TestEmbeddingRewarderEmbedderFailure(t *testing.T) {
	task := chunkval.Task{Document: "a b. c d.", MaxTokensPerChunk: 2}
	subject := &chunkval.EmbeddingRewarder{Embedder: &mapEmbedder{err: errors.New("quota exceeded")}}

	_, err := subject.Rewards(context.Background(), task, []chunkval.Response{
		{Chunks: []string{"a b.", "c d."}},
	})
	require.ErrorContains(t, err, "quota exceeded")
}

func TestSplitDocument(t *testing.T) {
	for _, test := range []struct {
		name      string
		document  string
		maxTokens int
		want      []string
	}{
		{
			name:      "Packs Sentences",
			document:  "A b. C d. E f g.",
			maxTokens: 4,
			want:      []string{"A b. C d.", "E f g."},
		},
		{
			name:      "Cuts Long Sentence",
			document:  "one two three four five.",
			maxTokens: 2,
			want:      []string{"one two", "three four", "five."},
		},
		{
			name:      "Trailing Fragment",
			document:  "Done. and then",
			maxTokens: 10,
			want:      []string{"Done. and then"},
		},
		{
			name:      "Default Bound",
			document:  "x y z",
			maxTokens: 0,
			want:      []string{"x y z"},
		},
		{
			name:     "Empty",
			document: "  ",
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.want, chunkval.SplitDocument(test.document, test.maxTokens))
		})
	}
}
