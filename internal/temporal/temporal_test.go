package temporal

import (
	"context"
	"testing"
	"time"

	"gokpi/domain/core"
	"gokpi/domain/dataset"
	"gokpi/domain/metric"
	"gokpi/domain/period"
	"gokpi/internal/dependency"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func salesDataset(t *testing.T, rows [][]string) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.New("sales", []string{"Order Date", "Revenue", "Quantity", "Region"}, rows, nil)
	require.NoError(t, err)
	return ds
}

func days(start time.Time, n, step int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.AddDate(0, 0, i*step)
	}
	return out
}

func identity(cols ...string) *metric.ColumnMapping {
	matches := make([]metric.Match, len(cols))
	for i, c := range cols {
		matches[i] = metric.Match{Placeholder: c, Column: c, Method: metric.MethodExact, Confidence: 1}
	}
	return metric.NewColumnMapping(matches)
}

func aggregatorFor(t *testing.T, defs ...metric.Definition) *Aggregator {
	t.Helper()
	cat, err := metric.NewCatalog(defs)
	require.NoError(t, err)
	return NewAggregator(cat, identity("Revenue", "Quantity", "Region"), dependency.Resolve(cat))
}

func TestInferGranularity(t *testing.T) {
	policy := DefaultGranularityPolicy()
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, period.Day, InferGranularity(days(jan, 30, 1), policy))
	assert.Equal(t, period.Week, InferGranularity(days(jan, 20, 7), policy), "one row per week over ~4 months")
	assert.Equal(t, period.Month, InferGranularity(days(jan, 8, 30), policy), "span beyond the weekly limit")
	assert.Equal(t, period.Day, InferGranularity([]time.Time{jan}, policy))
	assert.Equal(t, period.None, InferGranularity(nil, policy))
}

func TestInferGranularity_PolicyIsConfigurable(t *testing.T) {
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	policy := DefaultGranularityPolicy()
	policy.DailyMaxSpanDays = 7
	assert.Equal(t, period.Week, InferGranularity(days(jan, 30, 1), policy))
}

func TestDetectDateColumn(t *testing.T) {
	ds := salesDataset(t, [][]string{
		{"2024-01-05", "10", "1", "North"},
		{"2024-01-06", "20", "2", "South"},
	})
	name, ok := DetectDateColumn(ds)
	require.True(t, ok)
	assert.Equal(t, "Order Date", name)

	plain, err := dataset.New("plain", []string{"Revenue", "Region"}, [][]string{{"1", "North"}}, nil)
	require.NoError(t, err)
	_, ok = DetectDateColumn(plain)
	assert.False(t, ok)
}

func TestBuild_GapBucketsAreKept(t *testing.T) {
	ds := salesDataset(t, [][]string{
		{"2024-01-05", "100", "2", "North"},
		{"2024-03-10", "60", "1", "South"},
		{"2024-01-20", "20", "1", "North"},
		{"not a date", "999", "9", "North"},
	})
	tl, err := Build(ds, Options{Granularity: period.Month})
	require.NoError(t, err)

	assert.Equal(t, "Order Date", tl.DateColumn)
	assert.Equal(t, []string{"2024-01", "2024-02", "2024-03"}, tl.Keys())
	assert.Equal(t, []int{0, 2}, tl.Buckets[0].Rows)
	assert.True(t, tl.Buckets[1].Empty())
	assert.Equal(t, 1, tl.UndatedRows)
	for i := 1; i < len(tl.Buckets); i++ {
		assert.Equal(t, tl.Buckets[i-1].End, tl.Buckets[i].Start, "buckets are contiguous")
	}
}

func TestBuild_WeeklyKeysAreISOWeeks(t *testing.T) {
	ds := salesDataset(t, [][]string{
		{"2024-01-01", "1", "1", "North"}, // Monday
		{"2024-01-07", "1", "1", "North"}, // Sunday, same week
		{"2024-01-08", "1", "1", "North"},
	})
	tl, err := Build(ds, Options{Granularity: period.Week})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-W01", "2024-W02"}, tl.Keys())
	assert.Equal(t, 2, tl.Buckets[0].RowCount)
}

func TestBuild_NoDateColumnIsSingleBucket(t *testing.T) {
	ds, err := dataset.New("plain", []string{"Revenue"}, [][]string{{"1"}, {"2"}}, nil)
	require.NoError(t, err)

	tl, err := Build(ds, Options{})
	require.NoError(t, err)
	require.Len(t, tl.Buckets, 1)
	assert.Equal(t, period.AllKey, tl.Buckets[0].Key)
	assert.Equal(t, period.None, tl.Granularity)
	assert.Equal(t, 2, tl.Buckets[0].RowCount)
}

func TestBuild_UnknownDateColumnOverride(t *testing.T) {
	ds := salesDataset(t, [][]string{{"2024-01-05", "1", "1", "North"}})
	_, err := Build(ds, Options{DateColumn: "Shipped At"})
	assert.Error(t, err)
}

func TestRun_EmptyBucketYieldsNoData(t *testing.T) {
	ds := salesDataset(t, [][]string{
		{"2024-01-05", "100", "2", "North"},
		{"2024-03-10", "0", "1", "South"},
	})
	tl, err := Build(ds, Options{Granularity: period.Month})
	require.NoError(t, err)

	agg := aggregatorFor(t,
		metric.Definition{Name: "Revenue", Placeholders: []string{"Revenue"}, Formula: `sum("Revenue")`},
		metric.Definition{Name: "Loop", Formula: `kpis['Loop'] + 1`},
	)
	periods, err := agg.Run(context.Background(), ds, tl)
	require.NoError(t, err)
	require.Len(t, periods, 3)

	jan, _ := periods[0].Get("Revenue")
	assert.True(t, jan.Success)
	assert.Equal(t, 100.0, *jan.Value)

	feb, _ := periods[1].Get("Revenue")
	assert.False(t, feb.Success)
	assert.Equal(t, core.KindNoData, feb.ErrorKind)
	assert.Nil(t, feb.Value)

	mar, _ := periods[2].Get("Revenue")
	assert.True(t, mar.Success, "a computed zero is a real value")
	assert.Equal(t, 0.0, *mar.Value)

	for _, p := range periods {
		loop, ok := p.Get("Loop")
		require.True(t, ok)
		assert.Equal(t, core.KindCyclicDependency, loop.ErrorKind)
	}
}

func TestRun_DependencyFailureIsPeriodLocal(t *testing.T) {
	ds := salesDataset(t, [][]string{
		{"2024-01-05", "100", "2", "North"},
		{"2024-02-05", "80", "0", "North"},
		{"2024-03-05", "90", "3", "South"},
	})
	tl, err := Build(ds, Options{Granularity: period.Month})
	require.NoError(t, err)

	agg := aggregatorFor(t,
		metric.Definition{Name: "C", Formula: `kpis['D'] * 2`, Dependencies: []string{"D"}},
		metric.Definition{Name: "D", Placeholders: []string{"Revenue", "Quantity"}, Formula: `sum("Revenue") / sum("Quantity")`},
	)
	periods, err := agg.Run(context.Background(), ds, tl)
	require.NoError(t, err)

	d, _ := periods[1].Get("D")
	assert.Equal(t, core.KindDivisionByZero, d.ErrorKind)
	c, _ := periods[1].Get("C")
	assert.False(t, c.Success)
	assert.Equal(t, core.KindDependencyUnavailable, c.ErrorKind)

	jan, _ := periods[0].Get("C")
	require.True(t, jan.Success, jan.ErrorMessage)
	assert.Equal(t, 100.0, *jan.Value)
	mar, _ := periods[2].Get("C")
	require.True(t, mar.Success, mar.ErrorMessage)
	assert.Equal(t, 60.0, *mar.Value)

	assert.Equal(t, "C", periods[0].Results[0].Name, "results follow declaration order")
}

func TestRun_DeclaredDependencyGatesEvaluation(t *testing.T) {
	ds := salesDataset(t, [][]string{
		{"2024-01-05", "100", "0", "North"},
		{"2024-01-09", "0", "0", "South"},
	})
	tl, err := Build(ds, Options{Granularity: period.None})
	require.NoError(t, err)

	tests := []struct {
		name     string
		dep      metric.Definition
		depKind  core.ErrorKind
		declared []string
		wantKind core.ErrorKind
		want     float64
	}{
		{
			name:     "division by zero",
			dep:      metric.Definition{Name: "D", Placeholders: []string{"Revenue", "Quantity"}, Formula: `sum("Revenue") / sum("Quantity")`},
			depKind:  core.KindDivisionByZero,
			declared: []string{"D"},
			wantKind: core.KindDependencyUnavailable,
		},
		{
			name:     "unmatched column",
			dep:      metric.Definition{Name: "D", Placeholders: []string{"Margin"}, Formula: `sum("Margin")`},
			depKind:  core.KindUnmatchedColumn,
			declared: []string{"D"},
			wantKind: core.KindDependencyUnavailable,
		},
		{
			name:    "undeclared failure does not block",
			dep:     metric.Definition{Name: "D", Placeholders: []string{"Margin"}, Formula: `sum("Margin")`},
			depKind: core.KindUnmatchedColumn,
			want:    200,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := aggregatorFor(t,
				tt.dep,
				metric.Definition{Name: "C", Placeholders: []string{"Revenue"}, Formula: `sum("Revenue") * 2`, Dependencies: tt.declared},
			)
			periods, err := agg.Run(context.Background(), ds, tl)
			require.NoError(t, err)
			require.Len(t, periods, 1)

			d, _ := periods[0].Get("D")
			assert.Equal(t, tt.depKind, d.ErrorKind)

			c, ok := periods[0].Get("C")
			require.True(t, ok)
			if tt.wantKind != "" {
				assert.False(t, c.Success)
				assert.Nil(t, c.Value)
				assert.Equal(t, tt.wantKind, c.ErrorKind)
				assert.Contains(t, c.ErrorMessage, `"D"`)
				return
			}
			require.True(t, c.Success, c.ErrorMessage)
			assert.Equal(t, tt.want, *c.Value)
		})
	}
}

func TestRun_UnmatchedDependencyIsReportedPerPeriod(t *testing.T) {
	ds := salesDataset(t, [][]string{
		{"2024-01-05", "100", "2", "North"},
		{"2024-02-05", "80", "4", "North"},
	})
	tl, err := Build(ds, Options{Granularity: period.Month})
	require.NoError(t, err)

	agg := aggregatorFor(t,
		metric.Definition{Name: "C", Formula: `kpis['D'] * 2`, Dependencies: []string{"D"}},
		metric.Definition{Name: "D", Placeholders: []string{"Margin"}, Formula: `sum("Margin")`},
	)
	periods, err := agg.Run(context.Background(), ds, tl)
	require.NoError(t, err)
	require.Len(t, periods, 2)

	for _, p := range periods {
		d, _ := p.Get("D")
		assert.Equal(t, core.KindUnmatchedColumn, d.ErrorKind)
		c, _ := p.Get("C")
		assert.False(t, c.Success)
		assert.Equal(t, core.KindDependencyUnavailable, c.ErrorKind)
	}
}

func TestRun_StopsBetweenPeriodsOnCancel(t *testing.T) {
	ds := salesDataset(t, [][]string{{"2024-01-05", "1", "1", "North"}, {"2024-02-05", "1", "1", "North"}})
	tl, err := Build(ds, Options{Granularity: period.Month})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	periods, err := aggregatorFor(t, metric.Definition{Name: "R", Formula: `sum("Revenue")`}).Run(ctx, ds, tl)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, periods)
}

func TestSeries_SkipsFailedPeriods(t *testing.T) {
	ds := salesDataset(t, [][]string{
		{"2024-01-05", "100", "2", "North"},
		{"2024-03-10", "60", "1", "South"},
	})
	tl, err := Build(ds, Options{Granularity: period.Month})
	require.NoError(t, err)
	periods, err := aggregatorFor(t, metric.Definition{Name: "Revenue", Formula: `sum("Revenue")`}).Run(context.Background(), ds, tl)
	require.NoError(t, err)

	idx, values := Series(periods, "Revenue")
	assert.Equal(t, []int{0, 2}, idx)
	assert.Equal(t, []float64{100, 60}, values)
}
