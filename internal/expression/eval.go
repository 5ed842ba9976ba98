package expression

import (
	"fmt"
	"math"
	"sort"

	"gokpi/domain/core"
	"gokpi/domain/dataset"
	"gokpi/domain/metric"
)

type valueKind int

const (
	scalarKind valueKind = iota
	columnKind
	groupedKind
	breakdownKind
)

func (k valueKind) String() string {
	switch k {
	case columnKind:
		return "column"
	case groupedKind:
		return "grouped column"
	case breakdownKind:
		return "breakdown"
	default:
		return "number"
	}
}

// value is an intermediate evaluation result
type value struct {
	kind valueKind

	scalar float64

	// column and grouped values
	name    string
	numeric bool
	nums    []float64
	cells   []string
	keys    []string

	breakdown map[string]float64
}

func scalar(f float64) value { return value{kind: scalarKind, scalar: f} }

func typeMismatch(format string, args ...interface{}) error {
	return core.NewEvalError(core.KindTypeMismatch, format, args...)
}

type evaluator struct {
	view dataset.View
}

// Eval evaluates an expression tree against the rows of view. Nothing outside
// the view is reachable. Runtime panics are converted into a
// MalformedExpression failure.
func Eval(n Node, view dataset.View) (out metric.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = core.NewEvalError(core.KindMalformedExpression, "evaluation aborted: %v", r)
		}
	}()

	e := &evaluator{view: view}
	v, err := e.eval(n)
	if err != nil {
		return metric.Value{}, err
	}
	return finish(v)
}

func finish(v value) (metric.Value, error) {
	switch v.kind {
	case scalarKind:
		if err := checkFinite("result", v.scalar); err != nil {
			return metric.Value{}, err
		}
		return metric.ScalarValue(v.scalar), nil
	case breakdownKind:
		if len(v.breakdown) == 0 {
			return metric.Value{}, core.NewEvalError(core.KindNoData, "breakdown has no groups: every group key is blank")
		}
		for _, k := range sortedKeys(v.breakdown) {
			if err := checkFinite(fmt.Sprintf("breakdown entry %q", k), v.breakdown[k]); err != nil {
				return metric.Value{}, err
			}
		}
		return metric.BreakdownValue(v.breakdown), nil
	}
	return metric.Value{}, typeMismatch("expression yields a %s %q; aggregate it with sum, mean, count or similar", v.kind, v.name)
}

func checkFinite(what string, f float64) error {
	if math.IsNaN(f) {
		return core.NewEvalError(core.KindNaNOrInfinite, "%s is NaN", what)
	}
	if math.IsInf(f, 0) {
		return core.NewEvalError(core.KindNaNOrInfinite, "%s is infinite", what)
	}
	return nil
}

func (e *evaluator) eval(n Node) (value, error) {
	switch v := n.(type) {
	case NumberLit:
		return scalar(v.Value), nil
	case StringLit:
		return e.column(v.Value)
	case ColumnRef:
		return e.column(v.Name)
	case GroupedColumn:
		return e.grouped(v.Key, v.Value)
	case DependencyRef:
		return value{}, core.NewEvalError(core.KindDependencyUnavailable, "dependency %q was not substituted", v.Name)
	case Unary:
		x, err := e.eval(v.X)
		if err != nil {
			return value{}, err
		}
		return arith('*', scalar(-1), x)
	case Binary:
		l, err := e.eval(v.Left)
		if err != nil {
			return value{}, err
		}
		r, err := e.eval(v.Right)
		if err != nil {
			return value{}, err
		}
		return arith(v.Op, l, r)
	case Call:
		return e.call(v)
	}
	return value{}, core.NewEvalError(core.KindMalformedExpression, "unsupported node %T", n)
}

func (e *evaluator) lookup(name string) (*dataset.Column, error) {
	col, ok := e.view.Dataset().Lookup(name)
	if !ok {
		return nil, core.NewEvalError(core.KindUnmatchedColumn, "column %q not found in dataset", name)
	}
	return col, nil
}

func (e *evaluator) column(name string) (value, error) {
	col, err := e.lookup(name)
	if err != nil {
		return value{}, err
	}
	v := value{kind: columnKind, name: col.Name, numeric: col.IsNumeric(), cells: e.view.Cells(col)}
	if v.numeric {
		v.nums = e.view.Numbers(col)
	}
	return v, nil
}

func (e *evaluator) grouped(keyName, valueName string) (value, error) {
	keyCol, err := e.lookup(keyName)
	if err != nil {
		return value{}, err
	}
	v, err := e.column(valueName)
	if err != nil {
		return value{}, err
	}
	v.kind = groupedKind
	v.keys = e.view.Cells(keyCol)
	return v, nil
}

func (e *evaluator) call(c Call) (value, error) {
	if isAggregate(c.Fn) {
		arg, err := e.eval(c.Args[0])
		if err != nil {
			return value{}, err
		}
		return aggregate(c.Fn, arg)
	}

	if agg, ok := byAggregate(c.Fn); ok {
		keyName, err := stringArg(c, 0)
		if err != nil {
			return value{}, err
		}
		if c.Fn == "count_by" {
			g, err := e.grouped(keyName, keyName)
			if err != nil {
				return value{}, err
			}
			return aggregate(AggCount, g)
		}
		valueName, err := stringArg(c, 1)
		if err != nil {
			return value{}, err
		}
		g, err := e.grouped(keyName, valueName)
		if err != nil {
			return value{}, err
		}
		return aggregate(agg, g)
	}

	switch c.Fn {
	case "col":
		name, err := stringArg(c, 0)
		if err != nil {
			return value{}, err
		}
		return e.column(name)

	case "abs":
		x, err := e.eval(c.Args[0])
		if err != nil {
			return value{}, err
		}
		return mapNumbers(x, math.Abs)

	case "round":
		x, err := e.eval(c.Args[0])
		if err != nil {
			return value{}, err
		}
		digits := 0.0
		if len(c.Args) == 2 {
			d, err := e.eval(c.Args[1])
			if err != nil {
				return value{}, err
			}
			if d.kind != scalarKind {
				return value{}, typeMismatch("round digits must be a number")
			}
			digits = math.Trunc(d.scalar)
		}
		scale := math.Pow(10, digits)
		return mapNumbers(x, func(f float64) float64 { return math.Round(f*scale) / scale })
	}

	return value{}, core.NewEvalError(core.KindMalformedExpression, "function %q is not allowed", c.Fn)
}

func stringArg(c Call, i int) (string, error) {
	if i >= len(c.Args) {
		return "", core.NewEvalError(core.KindMalformedExpression, "%s is missing argument %d", c.Fn, i+1)
	}
	s, ok := c.Args[i].(StringLit)
	if !ok {
		return "", core.NewEvalError(core.KindMalformedExpression, "%s argument %d must be a quoted column name", c.Fn, i+1)
	}
	return s.Value, nil
}

func aggregate(fn string, v value) (value, error) {
	switch v.kind {
	case columnKind:
		if v.numeric {
			return scalar(AggregateNumbers(fn, v.nums)), nil
		}
		if NumericOnly(fn) {
			return value{}, typeMismatch("%s needs a numeric column, %q is not numeric", fn, v.name)
		}
		return scalar(AggregateText(fn, v.cells)), nil

	case groupedKind:
		if NumericOnly(fn) && !v.numeric {
			return value{}, typeMismatch("%s needs a numeric column, %q is not numeric", fn, v.name)
		}
		return groupAggregate(fn, v), nil

	case breakdownKind:
		keys := sortedKeys(v.breakdown)
		xs := make([]float64, len(keys))
		for i, k := range keys {
			xs[i] = v.breakdown[k]
		}
		return scalar(AggregateNumbers(fn, xs)), nil
	}
	return value{}, typeMismatch("%s expects a column, got a number", fn)
}

func groupAggregate(fn string, v value) value {
	numGroups := make(map[string][]float64)
	textGroups := make(map[string][]string)
	for i, key := range v.keys {
		if key == "" {
			continue
		}
		if v.numeric {
			numGroups[key] = append(numGroups[key], v.nums[i])
		} else {
			textGroups[key] = append(textGroups[key], v.cells[i])
		}
	}

	out := make(map[string]float64, len(numGroups)+len(textGroups))
	for k, xs := range numGroups {
		out[k] = AggregateNumbers(fn, xs)
	}
	for k, cells := range textGroups {
		out[k] = AggregateText(fn, cells)
	}
	return value{kind: breakdownKind, breakdown: out}
}

func mapNumbers(v value, fn func(float64) float64) (value, error) {
	switch v.kind {
	case scalarKind:
		return scalar(fn(v.scalar)), nil
	case breakdownKind:
		out := make(map[string]float64, len(v.breakdown))
		for k, x := range v.breakdown {
			out[k] = fn(x)
		}
		return value{kind: breakdownKind, breakdown: out}, nil
	case columnKind:
		if !v.numeric {
			return value{}, typeMismatch("column %q is not numeric", v.name)
		}
		out := make([]float64, len(v.nums))
		for i, x := range v.nums {
			out[i] = fn(x)
		}
		return value{kind: columnKind, name: v.name, numeric: true, nums: out}, nil
	}
	return value{}, typeMismatch("cannot apply arithmetic to a %s", v.kind)
}

func applyOp(op byte, a, b float64) (float64, error) {
	switch op {
	case '+':
		return a + b, nil
	case '-':
		return a - b, nil
	case '*':
		return a * b, nil
	case '/':
		if b == 0 {
			return 0, core.NewEvalError(core.KindDivisionByZero, "denominator is zero")
		}
		return a / b, nil
	}
	return 0, core.NewEvalError(core.KindMalformedExpression, "unknown operator %q", op)
}

// applyElem is applyOp for element-wise use: missing cells stay missing.
func applyElem(op byte, a, b float64) (float64, error) {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN(), nil
	}
	return applyOp(op, a, b)
}

func arith(op byte, l, r value) (value, error) {
	if l.kind == groupedKind || r.kind == groupedKind {
		return value{}, typeMismatch("aggregate the grouped column before using it in arithmetic")
	}
	for _, v := range []value{l, r} {
		if v.kind == columnKind && !v.numeric {
			return value{}, typeMismatch("column %q is not numeric", v.name)
		}
	}

	switch {
	case l.kind == scalarKind && r.kind == scalarKind:
		f, err := applyOp(op, l.scalar, r.scalar)
		return scalar(f), err

	case l.kind == columnKind || r.kind == columnKind:
		if l.kind == breakdownKind || r.kind == breakdownKind {
			return value{}, typeMismatch("cannot combine a column with a breakdown")
		}
		n := len(l.nums)
		if l.kind != columnKind {
			n = len(r.nums)
		}
		if l.kind == columnKind && r.kind == columnKind && len(l.nums) != len(r.nums) {
			return value{}, typeMismatch("columns %q and %q differ in length", l.name, r.name)
		}
		out := make([]float64, n)
		for i := range out {
			a, b := l.scalar, r.scalar
			if l.kind == columnKind {
				a = l.nums[i]
			}
			if r.kind == columnKind {
				b = r.nums[i]
			}
			f, err := applyElem(op, a, b)
			if err != nil {
				name := l.name
				if r.kind == columnKind {
					name = r.name
				}
				return value{}, core.NewEvalError(core.KindDivisionByZero, "row %d of %q is zero", i+1, name)
			}
			out[i] = f
		}
		name := l.name
		if name == "" {
			name = r.name
		}
		return value{kind: columnKind, name: name, numeric: true, nums: out}, nil

	case l.kind == breakdownKind && r.kind == breakdownKind:
		out := make(map[string]float64)
		for _, k := range sortedKeys(l.breakdown) {
			b, ok := r.breakdown[k]
			if !ok {
				continue
			}
			f, err := applyOp(op, l.breakdown[k], b)
			if err != nil {
				return value{}, core.NewEvalError(core.KindDivisionByZero, "breakdown entry %q has a zero denominator", k)
			}
			out[k] = f
		}
		return value{kind: breakdownKind, breakdown: out}, nil

	default:
		// one breakdown, one scalar
		out := make(map[string]float64)
		bd := l.breakdown
		if r.kind == breakdownKind {
			bd = r.breakdown
		}
		for _, k := range sortedKeys(bd) {
			a, b := l.scalar, r.scalar
			if l.kind == breakdownKind {
				a = l.breakdown[k]
			} else {
				b = r.breakdown[k]
			}
			f, err := applyOp(op, a, b)
			if err != nil {
				return value{}, core.NewEvalError(core.KindDivisionByZero, "breakdown entry %q has a zero denominator", k)
			}
			out[k] = f
		}
		return value{kind: breakdownKind, breakdown: out}, nil
	}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
