package expression

import (
	"fmt"
	"math"
	"strings"

	"github.com/montanaflynn/stats"
)

type funcSpec struct {
	minArgs int
	maxArgs int
}

func (s funcSpec) arity() string {
	if s.minArgs == s.maxArgs {
		if s.minArgs == 1 {
			return "1 argument"
		}
		return fmt.Sprintf("%d arguments", s.minArgs)
	}
	return fmt.Sprintf("%d to %d arguments", s.minArgs, s.maxArgs)
}

// Aggregates reduce a column to a scalar (or a grouped column to a breakdown)
const (
	AggSum     = "sum"
	AggMean    = "mean"
	AggAvg     = "avg"
	AggMin     = "min"
	AggMax     = "max"
	AggMedian  = "median"
	AggCount   = "count"
	AggNUnique = "nunique"
	AggStd     = "std"
)

var aggregates = map[string]bool{
	AggSum: true, AggMean: true, AggAvg: true, AggMin: true, AggMax: true,
	AggMedian: true, AggCount: true, AggNUnique: true, AggStd: true,
}

// NumericOnly reports whether an aggregate needs a numeric column.
// count and nunique work on any column.
func NumericOnly(fn string) bool {
	return aggregates[fn] && fn != AggCount && fn != AggNUnique
}

func isAggregate(fn string) bool {
	return aggregates[fn]
}

// functions is the complete allow-list of callable names
var functions = map[string]funcSpec{
	AggSum: {1, 1}, AggMean: {1, 1}, AggAvg: {1, 1}, AggMin: {1, 1}, AggMax: {1, 1},
	AggMedian: {1, 1}, AggCount: {1, 1}, AggNUnique: {1, 1}, AggStd: {1, 1},

	"col": {1, 1},

	"sum_by":   {2, 2},
	"mean_by":  {2, 2},
	"avg_by":   {2, 2},
	"min_by":   {2, 2},
	"max_by":   {2, 2},
	"count_by": {1, 1},

	"abs":   {1, 1},
	"round": {1, 2},
}

// byAggregate maps sum_by etc. to the aggregate they apply per group
func byAggregate(fn string) (string, bool) {
	if !strings.HasSuffix(fn, "_by") {
		return "", false
	}
	agg := strings.TrimSuffix(fn, "_by")
	return agg, aggregates[agg]
}

// AggregateNumbers applies a numeric aggregate, skipping NaN cells the way a
// dataframe would. Undefined results (mean of nothing) are NaN; the sum of
// nothing is 0.
func AggregateNumbers(fn string, xs []float64) float64 {
	clean := make(stats.Float64Data, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) {
			clean = append(clean, x)
		}
	}

	switch fn {
	case AggCount:
		return float64(len(clean))
	case AggNUnique:
		seen := make(map[float64]struct{}, len(clean))
		for _, x := range clean {
			seen[x] = struct{}{}
		}
		return float64(len(seen))
	case AggSum:
		if len(clean) == 0 {
			return 0
		}
	}
	if len(clean) == 0 {
		return math.NaN()
	}

	var (
		v   float64
		err error
	)
	switch fn {
	case AggSum:
		v, err = stats.Sum(clean)
	case AggMean, AggAvg:
		v, err = stats.Mean(clean)
	case AggMin:
		v, err = stats.Min(clean)
	case AggMax:
		v, err = stats.Max(clean)
	case AggMedian:
		v, err = stats.Median(clean)
	case AggStd:
		if len(clean) < 2 {
			return math.NaN()
		}
		v, err = stats.StandardDeviationSample(clean)
	default:
		return math.NaN()
	}
	if err != nil {
		return math.NaN()
	}
	return v
}

// AggregateText applies count or nunique to raw cells, ignoring blanks
func AggregateText(fn string, cells []string) float64 {
	switch fn {
	case AggCount:
		n := 0
		for _, c := range cells {
			if strings.TrimSpace(c) != "" {
				n++
			}
		}
		return float64(n)
	case AggNUnique:
		seen := make(map[string]struct{}, len(cells))
		for _, c := range cells {
			if c = strings.TrimSpace(c); c != "" {
				seen[c] = struct{}{}
			}
		}
		return float64(len(seen))
	}
	return math.NaN()
}
