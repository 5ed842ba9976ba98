package config

import (
	"testing"

	"gokpi/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 0.5, cfg.Policy.Matcher.FuzzyThreshold)
	assert.Equal(t, 0.8, cfg.Policy.Matcher.SemanticThreshold)
	assert.Equal(t, 56, cfg.Policy.Granularity.DailyMaxSpanDays)
	assert.Equal(t, 182, cfg.Policy.Granularity.WeeklyMaxSpanDays)
	assert.Equal(t, 1.10, cfg.Policy.Trend.UpRatio)
	assert.Equal(t, 2.0, cfg.Policy.Trend.AnomalyZScore)
	assert.Equal(t, 4, cfg.Policy.MaxConcurrentRuns)
	assert.False(t, cfg.AI.Enabled())
}

func TestLoad_PolicyFromEnv(t *testing.T) {
	t.Setenv("KPI_DAILY_MAX_SPAN_DAYS", "14")
	t.Setenv("KPI_FUZZY_THRESHOLD", "0.6")
	t.Setenv("KPI_TREND_ANOMALY_Z", "3")
	t.Setenv("KPI_MAX_CONCURRENT_RUNS", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 14, cfg.Policy.Granularity.DailyMaxSpanDays)
	assert.Equal(t, 0.6, cfg.Policy.Matcher.FuzzyThreshold)
	assert.Equal(t, 3.0, cfg.Policy.Trend.AnomalyZScore)
	assert.Equal(t, 2, cfg.Policy.MaxConcurrentRuns)
}

func TestLoad_RejectsOutOfRangeThreshold(t *testing.T) {
	t.Setenv("KPI_FUZZY_THRESHOLD", "1.5")
	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestLoad_RejectsUnparseablePolicy(t *testing.T) {
	t.Setenv("KPI_WEEKLY_MAX_SPAN_DAYS", "half a year")
	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}
