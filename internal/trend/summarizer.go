// Package trend derives direction, volatility and anomaly flags from a
// metric's per-period series.
package trend

import (
	"math"

	"gokpi/domain/metric"
	"gokpi/internal/expression"

	"github.com/montanaflynn/stats"
)

// Sources of a series
const (
	SourceObserved = "observed"
	SourceForecast = "forecast"
)

// Policy holds the classification thresholds
type Policy struct {
	UpRatio            float64 `json:"up_ratio" envconfig:"TREND_UP_RATIO" default:"1.10" validate:"gt=1"`
	DownRatio          float64 `json:"down_ratio" envconfig:"TREND_DOWN_RATIO" default:"0.90" validate:"gt=0,lt=1"`
	HighVolatility     float64 `json:"high_volatility" envconfig:"TREND_HIGH_VOLATILITY" default:"0.30" validate:"gt=0"`
	ModerateVolatility float64 `json:"moderate_volatility" envconfig:"TREND_MODERATE_VOLATILITY" default:"0.10" validate:"gt=0"`
	AnomalyZScore      float64 `json:"anomaly_z_score" envconfig:"TREND_ANOMALY_Z" default:"2.0" validate:"gt=0"`
}

// DefaultPolicy returns the stock thresholds
func DefaultPolicy() Policy {
	return Policy{
		UpRatio:            1.10,
		DownRatio:          0.90,
		HighVolatility:     0.30,
		ModerateVolatility: 0.10,
		AnomalyZScore:      2.0,
	}
}

// Point is one value of a series and the period it belongs to
type Point struct {
	PeriodIndex int
	Period      string
	Value       float64
}

// Summarizer classifies series with a fixed policy
type Summarizer struct {
	policy Policy
}

// NewSummarizer creates a summarizer; a zero policy means DefaultPolicy
func NewSummarizer(policy Policy) *Summarizer {
	if policy == (Policy{}) {
		policy = DefaultPolicy()
	}
	return &Summarizer{policy: policy}
}

// Summarize computes the trend summary of points, which must be in period
// order. Non-finite values are ignored.
func (s *Summarizer) Summarize(name string, points []Point, source string) metric.TrendSummary {
	clean := make([]Point, 0, len(points))
	for _, p := range points {
		if !math.IsNaN(p.Value) && !math.IsInf(p.Value, 0) {
			clean = append(clean, p)
		}
	}

	sum := metric.TrendSummary{
		Metric:               name,
		Direction:            metric.DirectionInsufficient,
		AnomalyPeriodIndices: []int{},
		Points:               len(clean),
		Source:               source,
	}
	if len(clean) == 0 {
		return sum
	}

	data := make(stats.Float64Data, len(clean))
	for i, p := range clean {
		data[i] = p.Value
	}
	mean, _ := data.Mean()
	sum.Mean = expression.RoundFloat(mean)
	sum.Peak, sum.Low = extremes(clean)

	if len(clean) < 2 {
		return sum
	}

	stdev, _ := data.StandardDeviationPopulation()
	sum.Stdev = expression.RoundFloat(stdev)

	first, last := clean[0].Value, clean[len(clean)-1].Value
	sum.Direction = s.direction(first, last)
	if first != 0 {
		pct := expression.RoundFloat((last - first) / math.Abs(first) * 100)
		sum.ChangePct = &pct
	}
	sum.Volatility = s.volatility(mean, stdev)

	if stdev > 0 {
		for _, p := range clean {
			if math.Abs(p.Value-mean)/stdev > s.policy.AnomalyZScore {
				sum.AnomalyPeriodIndices = append(sum.AnomalyPeriodIndices, p.PeriodIndex)
			}
		}
	}
	return sum
}

func (s *Summarizer) direction(first, last float64) metric.Direction {
	if first == 0 {
		switch {
		case last > 0:
			return metric.DirectionUp
		case last < 0:
			return metric.DirectionDown
		}
		return metric.DirectionFlat
	}
	ratio := last / first
	switch {
	case ratio >= s.policy.UpRatio:
		return metric.DirectionUp
	case ratio <= s.policy.DownRatio:
		return metric.DirectionDown
	}
	return metric.DirectionFlat
}

func (s *Summarizer) volatility(mean, stdev float64) metric.Volatility {
	base := math.Abs(mean)
	switch {
	case stdev > s.policy.HighVolatility*base:
		return metric.VolatilityHigh
	case stdev > s.policy.ModerateVolatility*base:
		return metric.VolatilityModerate
	}
	return metric.VolatilityLow
}

func extremes(points []Point) (peak, low *metric.Extremum) {
	for _, p := range points {
		if peak == nil || p.Value > peak.Value {
			peak = &metric.Extremum{Value: p.Value, PeriodIndex: p.PeriodIndex, Period: p.Period}
		}
		if low == nil || p.Value < low.Value {
			low = &metric.Extremum{Value: p.Value, PeriodIndex: p.PeriodIndex, Period: p.Period}
		}
	}
	return peak, low
}
