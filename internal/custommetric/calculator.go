// Package custommetric evaluates ad-hoc formulas of the form
// aggFn("column") op aggFn("column") once over a whole dataset.
package custommetric

import (
	"math"
	"sort"
	"strings"

	"gokpi/domain/core"
	"gokpi/domain/dataset"
	"gokpi/domain/metric"
	"gokpi/internal"
	"gokpi/internal/expression"
)

// allowed maps the accepted aggregation names to whether they need numbers
var allowed = map[string]bool{
	expression.AggSum:     true,
	expression.AggAvg:     true,
	expression.AggMean:    true,
	expression.AggMin:     true,
	expression.AggMax:     true,
	expression.AggMedian:  true,
	expression.AggCount:   false,
	expression.AggNUnique: false,
}

var dateKeywords = []string{"date", "time", "timestamp", "day", "month", "year"}

// AvailableColumns lists columns usable in custom formulas. Date columns are
// left out of both lists.
type AvailableColumns struct {
	Numeric   []string `json:"numeric"`
	Countable []string `json:"countable"`
}

// Validation is the outcome of checking a formula against a dataset
type Validation struct {
	ColumnsUsed      []string `json:"columns_used"`
	AggregationsUsed []string `json:"aggregations_used"`
	tree             expression.Node
	columns          map[string]*dataset.Column
}

// Calculator evaluates custom metrics against one dataset
type Calculator struct {
	ds     *dataset.Dataset
	logger *internal.Logger
}

// New creates a calculator for ds
func New(ds *dataset.Dataset) *Calculator {
	return &Calculator{
		ds:     ds,
		logger: internal.DefaultLogger.With("CustomMetric"),
	}
}

// AvailableColumns returns the numeric and countable columns of the dataset
func (c *Calculator) AvailableColumns() AvailableColumns {
	out := AvailableColumns{Numeric: []string{}, Countable: []string{}}
	for _, col := range c.ds.Columns() {
		if isDateColumn(col) {
			continue
		}
		out.Countable = append(out.Countable, col.Name)
		if col.IsNumeric() {
			out.Numeric = append(out.Numeric, col.Name)
		}
	}
	return out
}

func isDateColumn(col *dataset.Column) bool {
	if col.Kind == dataset.KindDatetime {
		return true
	}
	lower := strings.ToLower(col.Name)
	for _, kw := range dateKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Validate parses a formula and checks every referenced column. Unknown
// columns are reported before non-numeric ones.
func (c *Calculator) Validate(formula string) (*Validation, error) {
	tree, err := expression.ParseString(formula)
	if err != nil {
		return nil, err
	}

	v := &Validation{tree: tree, columns: make(map[string]*dataset.Column)}
	type use struct {
		fn, column string
	}
	var uses []use
	var shapeErr error
	expression.Walk(tree, func(n expression.Node) {
		if shapeErr != nil {
			return
		}
		switch node := n.(type) {
		case expression.NumberLit, expression.Binary:
		case expression.StringLit:
			// only reachable as a call argument, checked below
		case expression.Call:
			if _, ok := allowed[node.Fn]; !ok {
				shapeErr = core.NewEvalError(core.KindMalformedExpression, "%s() is not allowed in custom metrics", node.Fn)
				return
			}
			if len(node.Args) != 1 {
				shapeErr = core.NewEvalError(core.KindMalformedExpression, "%s() takes a single quoted column name", node.Fn)
				return
			}
			arg, ok := node.Args[0].(expression.StringLit)
			if !ok {
				shapeErr = core.NewEvalError(core.KindMalformedExpression, "%s() takes a single quoted column name", node.Fn)
				return
			}
			uses = append(uses, use{fn: node.Fn, column: arg.Value})
		default:
			shapeErr = core.NewEvalError(core.KindMalformedExpression, "%s is not allowed in custom metrics", n)
		}
	})
	if shapeErr != nil {
		return nil, shapeErr
	}
	if len(uses) == 0 {
		return nil, core.NewEvalError(core.KindMalformedExpression, "formula must aggregate at least one column")
	}

	var unknown []string
	for _, u := range uses {
		v.ColumnsUsed = appendUnique(v.ColumnsUsed, u.column)
		v.AggregationsUsed = appendUnique(v.AggregationsUsed, u.fn)
		if _, seen := v.columns[u.column]; seen {
			continue
		}
		col, ok := c.ds.Lookup(u.column)
		if !ok {
			unknown = appendUnique(unknown, u.column)
			continue
		}
		v.columns[u.column] = col
	}
	if len(unknown) > 0 {
		return v, core.NewEvalError(core.KindUnknownColumn, "columns not found: %s", strings.Join(unknown, ", "))
	}

	for _, u := range uses {
		if col := v.columns[u.column]; allowed[u.fn] && !col.IsNumeric() {
			return v, core.NewEvalError(core.KindNonNumericColumn,
				"cannot use %s() on non-numeric column %q, use count() or nunique() instead", u.fn, col.Name)
		}
	}
	return v, nil
}

// Calculate validates and evaluates one custom metric. Failures are captured
// in the result.
func (c *Calculator) Calculate(m metric.CustomMetric) metric.CustomResult {
	res := metric.CustomResult{Name: m.Name, Formula: m.Formula}

	v, err := c.Validate(m.Formula)
	if v != nil {
		res.ColumnsUsed = v.ColumnsUsed
		res.AggregationsUsed = v.AggregationsUsed
	}
	if err == nil {
		var x float64
		x, err = c.eval(v, v.tree)
		if err == nil && (math.IsNaN(x) || math.IsInf(x, 0)) {
			err = core.NewEvalError(core.KindNaNResult, "calculation resulted in an undefined value")
		}
		if err == nil {
			x = expression.RoundFloat(x)
			res.Value = &x
			res.Success = true
			res.Description = Describe(res.AggregationsUsed, res.ColumnsUsed)
			return res
		}
	}

	failed := metric.Failed(m.Name, "", err)
	res.ErrorKind = failed.ErrorKind
	res.ErrorMessage = failed.ErrorMessage
	c.logger.Debug("custom metric %q failed: %v", m.Name, err)
	return res
}

// CalculateAll evaluates each metric independently
func (c *Calculator) CalculateAll(ms []metric.CustomMetric) []metric.CustomResult {
	out := make([]metric.CustomResult, len(ms))
	for i, m := range ms {
		out[i] = c.Calculate(m)
	}
	return out
}

func (c *Calculator) eval(v *Validation, n expression.Node) (float64, error) {
	switch node := n.(type) {
	case expression.NumberLit:
		return node.Value, nil
	case expression.Call:
		arg := node.Args[0].(expression.StringLit)
		col := v.columns[arg.Value]
		view := c.ds.All()
		if col.IsNumeric() {
			return expression.AggregateNumbers(node.Fn, view.Numbers(col)), nil
		}
		return expression.AggregateText(node.Fn, view.Cells(col)), nil
	case expression.Binary:
		l, err := c.eval(v, node.Left)
		if err != nil {
			return 0, err
		}
		r, err := c.eval(v, node.Right)
		if err != nil {
			return 0, err
		}
		return apply(node.Op, l, r)
	}
	return 0, core.NewEvalError(core.KindMalformedExpression, "%s is not allowed in custom metrics", n)
}

func apply(op byte, l, r float64) (float64, error) {
	switch op {
	case '+':
		return l + r, nil
	case '-':
		return l - r, nil
	case '*':
		return l * r, nil
	case '/':
		if r == 0 {
			if l == 0 || math.IsNaN(l) {
				return 0, core.NewEvalError(core.KindNaNResult, "0 / 0 is undefined")
			}
			return 0, core.NewEvalError(core.KindDivisionByZero, "division by zero")
		}
		return l / r, nil
	}
	return 0, core.NewEvalError(core.KindMalformedExpression, "unknown operator %q", op)
}

// Describe renders a one-line description of what a formula computes
func Describe(aggregations, columns []string) string {
	var parts []string
	if len(aggregations) > 0 {
		aggs := append([]string(nil), aggregations...)
		sort.Strings(aggs)
		parts = append(parts, "Calculates "+strings.Join(aggs, ", "))
	}
	if len(columns) > 0 {
		parts = append(parts, "using columns: "+strings.Join(columns, ", "))
	}
	if len(parts) == 0 {
		return "Custom calculated metric"
	}
	return strings.Join(parts, " ")
}

func appendUnique(list []string, s string) []string {
	for _, x := range list {
		if x == s {
			return list
		}
	}
	return append(list, s)
}
