// Package expression evaluates metric formulas without any dynamic code
// execution. A formula is lexed once, its placeholders are rewritten to
// concrete columns, and for every period its kpis['X'] references are
// replaced with that period's values before the token stream is parsed
// into a tree and walked against the period's rows.
package expression

import (
	"gokpi/domain/core"
	"gokpi/domain/dataset"
	"gokpi/domain/metric"

	"github.com/shopspring/decimal"
)

// ResultPrecision is the number of decimal places kept on scalar results
const ResultPrecision = 4

// Prepared is a metric whose column substitution has already been applied.
// It is period-independent and read-only.
type Prepared struct {
	Def    metric.Definition
	tokens []Token
	err    error
}

// Err returns the preparation failure, if any. A prepared metric with an
// error fails in every period with the same classification.
func (p *Prepared) Err() error {
	return p.err
}

// Prepare lexes a definition's formula and applies column substitution
func Prepare(def metric.Definition, mapping *metric.ColumnMapping) *Prepared {
	p := &Prepared{Def: def}
	toks, err := Lex(def.Formula)
	if err != nil {
		p.err = err
		return p
	}
	p.tokens, p.err = SubstituteColumns(toks, def.Placeholders, mapping)
	return p
}

// Evaluate computes the metric for one period. It never returns a Go error:
// every failure is captured in the result.
func (p *Prepared) Evaluate(periodKey string, view dataset.View, deps DependencyLookup) metric.Result {
	name := p.Def.Name
	if p.err != nil {
		return metric.Failed(name, periodKey, p.err)
	}

	toks, err := SubstituteDependencies(p.tokens, deps)
	if err != nil {
		return metric.Failed(name, periodKey, err)
	}
	expr := Render(toks)

	tree, err := Parse(toks)
	if err != nil {
		r := metric.Failed(name, periodKey, err)
		r.Expression = expr
		return r
	}

	v, err := Eval(tree, view)
	if err == nil {
		err = checkCategory(p.Def, v)
	}
	if err != nil {
		r := metric.Failed(name, periodKey, err)
		r.Expression = expr
		return r
	}

	r := metric.Succeeded(name, periodKey, Round(v))
	r.Expression = expr
	return r
}

func checkCategory(def metric.Definition, v metric.Value) error {
	switch def.Category {
	case metric.CategoryNumeric:
		if v.IsBreakdown() {
			return core.NewEvalError(core.KindTypeMismatch, "metric is declared numeric but yields a breakdown")
		}
	case metric.CategoryBreakdown:
		if !v.IsBreakdown() {
			return core.NewEvalError(core.KindTypeMismatch, "metric is declared as a breakdown but yields a number")
		}
	}
	return nil
}

// Round rounds every number in v to ResultPrecision decimal places
func Round(v metric.Value) metric.Value {
	if v.IsBreakdown() {
		out := make(map[string]float64, len(v.Breakdown))
		for k, x := range v.Breakdown {
			out[k] = RoundFloat(x)
		}
		return metric.BreakdownValue(out)
	}
	return metric.ScalarValue(RoundFloat(v.Scalar))
}

// RoundFloat rounds half away from zero to ResultPrecision places
func RoundFloat(f float64) float64 {
	r, _ := decimal.NewFromFloat(f).Round(ResultPrecision).Float64()
	return r
}
