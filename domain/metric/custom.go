package metric

import "gokpi/domain/core"

// CustomMetric is an ad-hoc formula evaluated once over a whole dataset
type CustomMetric struct {
	Name    string `json:"name" validate:"required"`
	Formula string `json:"formula" validate:"required"`
}

// CustomResult is the scalar outcome of a custom metric
type CustomResult struct {
	Name             string         `json:"name"`
	Formula          string         `json:"formula"`
	Value            *float64       `json:"value,omitempty"`
	Success          bool           `json:"success"`
	ErrorKind        core.ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	Description      string         `json:"description,omitempty"`
	ColumnsUsed      []string       `json:"columns_used,omitempty"`
	AggregationsUsed []string       `json:"aggregations_used,omitempty"`
}

// Template is a ready-made custom metric formula
type Template struct {
	Name        string   `json:"name"`
	Formula     string   `json:"formula"`
	Description string   `json:"description"`
	Requires    []string `json:"requires"`
}
