// Package embedding scores semantic similarity between column names and
// placeholders with embedding vectors.
package embedding

import (
	"context"
	"fmt"
	"sync"

	"gokpi/internal"
	"gokpi/internal/metrics"
	"gokpi/ports"

	"gonum.org/v1/gonum/floats"
)

// Embedding sources as recorded in metrics
const (
	SourceMemory = "memory"
	SourceCache  = "cache"
	SourceAPI    = "api"
)

// Similarity implements ports.SimilarityService as the cosine similarity of
// two embeddings. Vectors are memoized per instance and, when a cache is
// configured, shared across processes.
type Similarity struct {
	client   ports.LLMClient
	model    string
	cache    ports.EmbeddingCache
	recorder *metrics.Recorder
	logger   *internal.Logger

	mu   sync.Mutex
	memo map[string][]float64
}

// NewSimilarity creates a similarity service; cache and recorder may be nil
func NewSimilarity(client ports.LLMClient, model string, cache ports.EmbeddingCache, recorder *metrics.Recorder) *Similarity {
	return &Similarity{
		client:   client,
		model:    model,
		cache:    cache,
		recorder: recorder,
		logger:   internal.DefaultLogger.With("Similarity"),
		memo:     make(map[string][]float64),
	}
}

// Similarity returns the cosine similarity of the two texts' embeddings
func (s *Similarity) Similarity(ctx context.Context, a, b string) (float64, error) {
	va, err := s.vector(ctx, a)
	if err != nil {
		return 0, err
	}
	vb, err := s.vector(ctx, b)
	if err != nil {
		return 0, err
	}
	return Cosine(va, vb)
}

// Cosine is the cosine similarity of two equal-length vectors
func Cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding lengths differ: %d vs %d", len(a), len(b))
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return floats.Dot(a, b) / (na * nb), nil
}

func (s *Similarity) vector(ctx context.Context, text string) ([]float64, error) {
	key := s.model + "|" + text

	s.mu.Lock()
	v, ok := s.memo[key]
	s.mu.Unlock()
	if ok {
		s.recorder.ObserveEmbedding(SourceMemory)
		return v, nil
	}

	if s.cache != nil {
		v, ok, err := s.cache.GetEmbedding(ctx, key)
		if err != nil {
			s.logger.Warn("embedding cache read failed: %v", err)
		} else if ok {
			s.remember(key, v)
			s.recorder.ObserveEmbedding(SourceCache)
			return v, nil
		}
	}

	vecs, err := s.client.Embeddings(ctx, s.model, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding %q: %w", text, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding %q: got %d vectors", text, len(vecs))
	}
	v = vecs[0]
	s.recorder.ObserveEmbedding(SourceAPI)
	s.remember(key, v)
	if s.cache != nil {
		if err := s.cache.SetEmbedding(ctx, key, v); err != nil {
			s.logger.Warn("embedding cache write failed: %v", err)
		}
	}
	return v, nil
}

func (s *Similarity) remember(key string, v []float64) {
	s.mu.Lock()
	s.memo[key] = v
	s.mu.Unlock()
}
