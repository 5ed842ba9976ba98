package testkit_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"gokpi/adapters/catalog"
	"gokpi/adapters/excel"
	"gokpi/app"
	"gokpi/domain/dataset"
	"gokpi/domain/period"
	"gokpi/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallConfig() testkit.SalesGeneratorConfig {
	cfg := testkit.DefaultSalesConfig()
	cfg.CustomerCount = 25
	cfg.StartDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg.EndDate = time.Date(2024, 4, 30, 23, 59, 59, 0, time.UTC)
	return cfg
}

func TestSalesDataGenerator_Deterministic(t *testing.T) {
	a := testkit.NewSalesDataGenerator(smallConfig()).GenerateLines()
	b := testkit.NewSalesDataGenerator(smallConfig()).GenerateLines()
	require.NotEmpty(t, a)
	assert.Equal(t, a, b)

	cfg := smallConfig()
	cfg.Seed = 7
	c := testkit.NewSalesDataGenerator(cfg).GenerateLines()
	assert.NotEqual(t, a, c)
}

func TestSalesDataGenerator_LinesAreConsistent(t *testing.T) {
	cfg := smallConfig()
	lines := testkit.NewSalesDataGenerator(cfg).GenerateLines()
	for i, l := range lines {
		assert.False(t, l.OrderDate.Before(cfg.StartDate), "line %d before window", i)
		assert.False(t, l.OrderDate.After(cfg.EndDate), "line %d after window", i)
		assert.GreaterOrEqual(t, l.Quantity, 1)
		assert.True(t, l.Revenue.IsPositive())
		assert.True(t, l.Cost.LessThan(l.Revenue), "line %d cost exceeds revenue", i)
		if i > 0 {
			assert.False(t, l.OrderDate.Before(lines[i-1].OrderDate), "lines are sorted by date")
		}
	}
}

func TestGenerateDataset_InfersKinds(t *testing.T) {
	ds, err := testkit.NewSalesDataGenerator(smallConfig()).GenerateDataset("synthetic")
	require.NoError(t, err)
	assert.Equal(t, testkit.SalesColumns, ds.ColumnNames())

	date, ok := ds.Column("Order Date")
	require.True(t, ok)
	assert.Equal(t, dataset.KindDatetime, date.Kind)
	revenue, ok := ds.Column("Revenue")
	require.True(t, ok)
	assert.True(t, revenue.IsNumeric())
}

func TestWriteCSV_RoundTripsThroughReader(t *testing.T) {
	lines := testkit.NewSalesDataGenerator(smallConfig()).GenerateLines()
	var buf bytes.Buffer
	require.NoError(t, testkit.WriteCSV(&buf, lines))

	records, err := csv.NewReader(bytes.NewReader(buf.Bytes())).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, len(lines)+1)

	rows, err := excel.ReadCSV(bytes.NewReader(buf.Bytes()), ',')
	require.NoError(t, err)
	assert.Equal(t, records, rows)
}

func TestStockCatalogOverGeneratedSales(t *testing.T) {
	gen := testkit.NewSalesDataGenerator(smallConfig())
	lines := gen.GenerateLines()
	revenue, cost := testkit.Totals(lines)

	rows := make([][]string, len(lines))
	for i, l := range lines {
		rows[i] = l.Record()
	}
	ds, err := dataset.New("synthetic", testkit.SalesColumns, rows, nil)
	require.NoError(t, err)
	cat, err := catalog.Default()
	require.NoError(t, err)

	svc := app.NewKPIService(app.ServiceOptions{})
	bundle, err := svc.Evaluate(context.Background(), app.EvaluationRequest{
		Dataset:     ds,
		Catalog:     cat,
		Granularity: period.None,
	})
	require.NoError(t, err)
	assert.Empty(t, bundle.Unmatched)

	total, ok := bundle.Result("Total Revenue", period.AllKey)
	require.True(t, ok)
	require.NotNil(t, total.Value)
	assert.InDelta(t, revenue.InexactFloat64(), *total.Value, 0.01)

	profit, ok := bundle.Result("Gross Profit", period.AllKey)
	require.True(t, ok)
	require.NotNil(t, profit.Value)
	assert.InDelta(t, revenue.Sub(cost).InexactFloat64(), *profit.Value, 0.01)

	monthly, err := svc.Evaluate(context.Background(), app.EvaluationRequest{
		Dataset:     ds,
		Catalog:     cat,
		Granularity: period.Month,
	})
	require.NoError(t, err)
	assert.Equal(t, "Order Date", monthly.DateColumn)
	assert.Len(t, monthly.Periods, 4)
}
