package chunkval

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// DefaultEmbeddingPairs bounds the adjacent chunk pairs embedded per response.
const DefaultEmbeddingPairs = 10

// RewardAggregator scores the responses of a round. The result must hold
// exactly one reward per response, in the same order.
type RewardAggregator interface {
	Rewards(ctx context.Context, task Task, responses []Response) ([]float64, error)
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

var _ RewardAggregator = (*EmbeddingRewarder)(nil)

// EmbeddingRewarder rewards structurally valid chunkings by how distinct
// adjacent chunks are in embedding space. Absent or invalid responses get 0.
// With a nil Embedder every valid response gets 1.
type EmbeddingRewarder struct {
	Embedder Embedder
	MaxPairs int
}

func (r *EmbeddingRewarder) Rewards(ctx context.Context, task Task, responses []Response) ([]float64, error) {
	rewards := make([]float64, len(responses))
	maxPairs := r.MaxPairs
	if maxPairs <= 0 {
		maxPairs = DefaultEmbeddingPairs
	}

	// Embed every distinct chunk of every valid response in one request.
	var texts []string
	position := make(map[string]int)
	scored := make(map[int][]string)
	for i, resp := range responses {
		if resp.Absent() || !validChunking(task, resp.Chunks) {
			continue
		}
		rewards[i] = 1
		if r.Embedder == nil || len(resp.Chunks) < 2 {
			continue
		}
		chunks := resp.Chunks[:min(len(resp.Chunks), maxPairs+1)]
		scored[i] = chunks
		for _, c := range chunks {
			if _, ok := position[c]; !ok {
				position[c] = len(texts)
				texts = append(texts, c)
			}
		}
	}
	if len(texts) == 0 {
		return rewards, nil
	}

	embeddings, err := r.Embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding chunks: %w", err)
	}
	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(embeddings), len(texts))
	}
	for i, chunks := range scored {
		var sum float64
		for j := 1; j < len(chunks); j++ {
			sum += cosine(embeddings[position[chunks[j-1]]], embeddings[position[chunks[j]]])
		}
		rewards[i] = clamp01(1 - sum/float64(len(chunks)-1))
	}
	return rewards, nil
}

// validChunking reports whether chunks are non-empty, within the token bound,
// and reproduce the document's tokens in order.
func validChunking(task Task, chunks []string) bool {
	if len(chunks) == 0 {
		return false
	}
	want := strings.Fields(task.Document)
	var got int
	for _, c := range chunks {
		tokens := strings.Fields(c)
		if len(tokens) == 0 || len(tokens) > task.MaxTokensPerChunk {
			return false
		}
		for _, tok := range tokens {
			if got >= len(want) || want[got] != tok {
				return false
			}
			got++
		}
	}
	return got == len(want)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
