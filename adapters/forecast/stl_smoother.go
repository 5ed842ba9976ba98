// Package forecast smooths metric series with an STL decomposition and
// exposes the trend component as the forecast series.
package forecast

import (
	"context"
	"fmt"
	"math"

	"gokpi/domain/period"
	"gokpi/internal"

	"github.com/chewxy/stl"
)

// minPoints is the shortest series worth decomposing
const minPoints = 3

// STLSmoother implements ports.Forecaster with the trend component of an
// additive STL decomposition.
type STLSmoother struct {
	robustIter int
	iter       int
	logger     *internal.Logger
}

// NewSTLSmoother creates a smoother with two inner and two robust iterations
func NewSTLSmoother() *STLSmoother {
	return &STLSmoother{robustIter: 2, iter: 2, logger: internal.DefaultLogger.With("STLSmoother")}
}

// Periodicity is the seasonal cycle length for a granularity, capped by the
// series length.
func Periodicity(g period.Granularity, n int) int {
	p := n
	switch g {
	case period.Day:
		p = 7
	case period.Week:
		p = 52
	case period.Month:
		p = 12
	}
	if n < p {
		p = n
	}
	return p
}

// Forecast returns the trend component, same length as series
func (s *STLSmoother) Forecast(ctx context.Context, series []float64, g period.Granularity) (out []float64, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(series) < minPoints {
		return nil, fmt.Errorf("need at least %d points, got %d", minPoints, len(series))
	}
	for i, v := range series {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("point %d is not finite", i)
		}
	}

	// Decompose works in place
	data := make([]float64, len(series))
	copy(data, series)

	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("stl decomposition failed: %v", r)
		}
	}()

	periodicity := Periodicity(g, len(data))
	res := stl.Decompose(data, periodicity, len(data)-1, stl.Additive(),
		stl.WithRobustIter(s.robustIter), stl.WithIter(s.iter))
	if res.Err != nil {
		return nil, fmt.Errorf("stl decomposition failed: %w", res.Err)
	}
	if len(res.Trend) != len(series) {
		return nil, fmt.Errorf("stl returned %d trend points for %d inputs", len(res.Trend), len(series))
	}
	for _, v := range res.Trend {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("stl trend is not finite")
		}
	}
	s.logger.Debug("decomposed %d points with periodicity %d", len(series), periodicity)
	return res.Trend, nil
}
