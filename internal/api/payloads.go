package api

import (
	"gokpi/app"
	"gokpi/domain/dataset"
	"gokpi/domain/metric"
	"gokpi/domain/period"
	"gokpi/internal/errors"
	"gokpi/internal/trend"
)

// TablePayload is a dataset sent inline as a header row plus string rows
type TablePayload struct {
	Name    string                        `json:"name"`
	Headers []string                      `json:"headers" binding:"required,min=1"`
	Rows    [][]string                    `json:"rows"`
	Kinds   map[string]dataset.ColumnKind `json:"kinds,omitempty"`
}

func (t *TablePayload) toDataset() (*dataset.Dataset, error) {
	name := t.Name
	if name == "" {
		name = "inline"
	}
	ds, err := dataset.New(name, t.Headers, t.Rows, t.Kinds)
	if err != nil {
		return nil, errors.DatasetInvalid("invalid table", err)
	}
	return ds, nil
}

// EvaluateOptions are the run options shared by the JSON and upload forms
type EvaluateOptions struct {
	Metrics       []string              `json:"metrics,omitempty"`
	Overrides     []metric.Definition   `json:"overrides,omitempty"`
	DateColumn    string                `json:"date_column,omitempty"`
	Granularity   string                `json:"granularity,omitempty"`
	CustomMetrics []metric.CustomMetric `json:"custom_metrics,omitempty"`
	TrendMetrics  []string              `json:"trend_metrics,omitempty"`
	Forecast      bool                  `json:"forecast,omitempty"`
	Narrative     bool                  `json:"narrative,omitempty"`
}

// EvaluatePayload is the body of /api/evaluate and /api/report
type EvaluatePayload struct {
	Dataset *TablePayload `json:"dataset" binding:"required"`
	EvaluateOptions
}

// BatchPayload is the body of /api/evaluate/batch
type BatchPayload struct {
	Requests []EvaluatePayload `json:"requests" binding:"required,min=1,dive"`
}

// CustomMetricsPayload is the body of /api/custom-metrics
type CustomMetricsPayload struct {
	Dataset *TablePayload         `json:"dataset" binding:"required"`
	Metrics []metric.CustomMetric `json:"metrics" binding:"required,min=1"`
}

// ValidatePayload is the body of /api/custom-metrics/validate
type ValidatePayload struct {
	Dataset *TablePayload `json:"dataset" binding:"required"`
	Formula string        `json:"formula" binding:"required"`
}

// ColumnsPayload is the body of /api/custom-metrics/columns
type ColumnsPayload struct {
	Dataset *TablePayload `json:"dataset" binding:"required"`
}

// SeriesPoint is one value of a series sent to /api/trend
type SeriesPoint struct {
	Period string   `json:"period"`
	Value  *float64 `json:"value"`
}

// TrendPayload is the body of /api/trend. Points without a value are gaps.
type TrendPayload struct {
	Metric string        `json:"metric" binding:"required"`
	Points []SeriesPoint `json:"points"`
}

func (p TrendPayload) points() []trend.Point {
	var out []trend.Point
	for i, sp := range p.Points {
		if sp.Value == nil {
			continue
		}
		out = append(out, trend.Point{PeriodIndex: i, Period: sp.Period, Value: *sp.Value})
	}
	return out
}

func (o EvaluateOptions) request(ds *dataset.Dataset, cat *metric.Catalog) (app.EvaluationRequest, error) {
	g, err := period.ParseGranularity(o.Granularity)
	if err != nil {
		return app.EvaluationRequest{}, errors.InvalidInput(err.Error())
	}
	return app.EvaluationRequest{
		Dataset:       ds,
		Catalog:       cat,
		Overrides:     o.Overrides,
		Metrics:       o.Metrics,
		DateColumn:    o.DateColumn,
		Granularity:   g,
		CustomMetrics: o.CustomMetrics,
		TrendMetrics:  o.TrendMetrics,
		Forecast:      o.Forecast,
	}, nil
}
