package ports

import (
	"context"

	"gokpi/domain/period"
)

// SimilarityService scores how semantically close two short texts are.
// Scores are in [-1, 1]; higher is closer.
type SimilarityService interface {
	Similarity(ctx context.Context, a, b string) (float64, error)
}

// Forecaster turns an observed series into a smoothed or projected series
// of the same length.
type Forecaster interface {
	Forecast(ctx context.Context, series []float64, granularity period.Granularity) ([]float64, error)
}

// NarrativeGenerator writes prose insights from a rendered KPI report
type NarrativeGenerator interface {
	GenerateNarrative(ctx context.Context, report string) (string, error)
}

// EmbeddingCache stores embedding vectors by text key
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, key string) ([]float64, bool, error)
	SetEmbedding(ctx context.Context, key string, vector []float64) error
}
