package metric

import (
	"errors"
	"sort"

	"gokpi/domain/core"
)

// Value is what a formula produces: a scalar or a named breakdown.
type Value struct {
	Scalar    float64
	Breakdown map[string]float64
}

// IsBreakdown reports whether the value is a breakdown
func (v Value) IsBreakdown() bool {
	return v.Breakdown != nil
}

// ScalarValue wraps a scalar
func ScalarValue(f float64) Value {
	return Value{Scalar: f}
}

// BreakdownValue wraps a breakdown
func BreakdownValue(m map[string]float64) Value {
	if m == nil {
		m = map[string]float64{}
	}
	return Value{Breakdown: m}
}

// Result is the outcome of one metric in one period. Exactly one of Value or
// Breakdown is set on success; ErrorKind is set on failure.
type Result struct {
	Name         string             `json:"name"`
	Period       string             `json:"period"`
	Value        *float64           `json:"value,omitempty"`
	Breakdown    map[string]float64 `json:"breakdown,omitempty"`
	Success      bool               `json:"success"`
	ErrorKind    core.ErrorKind     `json:"error_kind,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
	Expression   string             `json:"expression,omitempty"`
}

// Succeeded builds a successful result
func Succeeded(name, period string, v Value) Result {
	r := Result{Name: name, Period: period, Success: true}
	if v.IsBreakdown() {
		r.Breakdown = v.Breakdown
	} else {
		s := v.Scalar
		r.Value = &s
	}
	return r
}

// Failed builds a failed result from any error; unclassified errors are
// reported as MalformedExpression.
func Failed(name, period string, err error) Result {
	kind := core.KindOf(err)
	msg := err.Error()
	var ee *core.EvalError
	if errors.As(err, &ee) && ee.Message != "" {
		msg = ee.Message
	}
	return Result{
		Name:         name,
		Period:       period,
		Success:      false,
		ErrorKind:    kind,
		ErrorMessage: msg,
	}
}

// AsValue converts a successful result back into a Value
func (r Result) AsValue() (Value, bool) {
	if !r.Success {
		return Value{}, false
	}
	if r.Breakdown != nil {
		return BreakdownValue(r.Breakdown), true
	}
	if r.Value == nil {
		return Value{}, false
	}
	return ScalarValue(*r.Value), true
}

// BreakdownKeys returns breakdown keys sorted for stable output
func (r Result) BreakdownKeys() []string {
	keys := make([]string, 0, len(r.Breakdown))
	for k := range r.Breakdown {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
