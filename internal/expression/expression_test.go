package expression

import (
	"testing"

	"gokpi/domain/core"
	"gokpi/domain/dataset"
	"gokpi/domain/metric"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ordersDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.New("orders",
		[]string{"Order ID", "Category", "Revenue", "Quantity", "Product"},
		[][]string{
			{"1", "Books", "100", "2", "Novel"},
			{"2", "Books", "50", "1", "Atlas"},
			{"3", "Toys", "30", "3", "Kite"},
			{"4", "Toys", "", "0", "Yo-yo"},
		},
		map[string]dataset.ColumnKind{
			"Order ID": dataset.KindIdentifier,
			"Category": dataset.KindCategorical,
			"Revenue":  dataset.KindNumeric,
			"Quantity": dataset.KindNumeric,
			"Product":  dataset.KindCategorical,
		})
	require.NoError(t, err)
	return ds
}

func identityMapping(cols ...string) *metric.ColumnMapping {
	matches := make([]metric.Match, len(cols))
	for i, c := range cols {
		matches[i] = metric.Match{Placeholder: c, Column: c, Method: metric.MethodExact, Confidence: 1}
	}
	return metric.NewColumnMapping(matches)
}

func noDeps(string) (metric.Result, bool) { return metric.Result{}, false }

func evalFormula(t *testing.T, formula string) (metric.Value, error) {
	t.Helper()
	tree, err := ParseString(formula)
	if err != nil {
		return metric.Value{}, err
	}
	return Eval(tree, ordersDataset(t).All())
}

func TestEval_Aggregates(t *testing.T) {
	cases := map[string]float64{
		`sum("Revenue")`:                        180,
		`df['Revenue'].sum()`:                   180,
		`df['Revenue'].mean()`:                  60,
		`avg("Revenue")`:                        60,
		`min("Revenue") + max("Revenue")`:       130,
		`median("Revenue")`:                     50,
		`count("Revenue")`:                      3,
		`count("Product")`:                      4,
		`nunique("Category")`:                   2,
		`df['Order ID'].nunique()`:              4,
		`sum(col("Revenue") * col("Quantity"))`: 340,
		`-sum("Quantity") + 10`:                 4,
		`(sum("Revenue") - 80) / 2`:             50,
		`round(sum("Revenue") / 7, 2)`:          25.71,
		`abs(0 - sum("Quantity"))`:              6,
	}
	for formula, want := range cases {
		v, err := evalFormula(t, formula)
		require.NoError(t, err, formula)
		assert.False(t, v.IsBreakdown(), formula)
		assert.InDelta(t, want, v.Scalar, 1e-9, formula)
	}
}

func TestEval_Breakdowns(t *testing.T) {
	v, err := evalFormula(t, `df.groupby('Category')['Revenue'].sum()`)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"Books": 150, "Toys": 30}, v.Breakdown)

	v, err = evalFormula(t, `sum_by("Category", "Revenue") / sum("Revenue") * 100`)
	require.NoError(t, err)
	assert.InDelta(t, 83.3333, v.Breakdown["Books"], 1e-4)

	v, err = evalFormula(t, `count_by("Category")`)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"Books": 2, "Toys": 2}, v.Breakdown)

	v, err = evalFormula(t, `max(sum_by("Category", "Quantity"))`)
	require.NoError(t, err)
	assert.Equal(t, 3.0, v.Scalar)
}

func TestEval_BlankGroupKeysYieldNoData(t *testing.T) {
	ds, err := dataset.New("orders",
		[]string{"Category", "Revenue"},
		[][]string{{"", "100"}, {" ", "50"}},
		map[string]dataset.ColumnKind{"Category": dataset.KindCategorical, "Revenue": dataset.KindNumeric})
	require.NoError(t, err)

	for _, formula := range []string{`sum_by("Category", "Revenue")`, `count_by("Category")`} {
		res := Prepare(metric.Definition{Name: "By Category", Formula: formula}, identityMapping()).Evaluate("p", ds.All(), noDeps)
		assert.False(t, res.Success, formula)
		assert.Equal(t, core.KindNoData, res.ErrorKind, formula)
		assert.Nil(t, res.Breakdown, formula)
	}
}

func TestEval_FailureKinds(t *testing.T) {
	cases := map[string]core.ErrorKind{
		`sum("Revenue") / (count("Revenue") - 3)`: core.KindDivisionByZero,
		`sum(col("Quantity") / col("Quantity"))`:  core.KindDivisionByZero,
		`avg("Product")`:                          core.KindTypeMismatch,
		`col("Revenue")`:                          core.KindTypeMismatch,
		`col("Category") + 1`:                     core.KindTypeMismatch,
		`df.groupby('Category')['Revenue'] * 2`:   core.KindTypeMismatch,
		`sum("Margin")`:                           core.KindUnmatchedColumn,
		`sum("Revenue"`:                           core.KindMalformedExpression,
		`exec("rm -rf")`:                          core.KindMalformedExpression,
		`df['Revenue'].apply()`:                   core.KindMalformedExpression,
		`__import__("os")`:                        core.KindMalformedExpression,
		`sum("Revenue") ; 1`:                      core.KindMalformedExpression,
		`kpis['Other']`:                           core.KindDependencyUnavailable,
		`1e308 * 1e308`:                           core.KindNaNOrInfinite,
		`sum("Revenue", "Quantity")`:              core.KindMalformedExpression,
	}
	for formula, want := range cases {
		_, err := evalFormula(t, formula)
		require.Error(t, err, formula)
		assert.Equal(t, want, core.KindOf(err), formula)
	}
}

func TestEval_MeanOfEmptyViewIsNaN(t *testing.T) {
	ds := ordersDataset(t)
	tree, err := ParseString(`avg("Revenue")`)
	require.NoError(t, err)
	_, err = Eval(tree, ds.Subset([]int{3}))
	require.Error(t, err)
	assert.Equal(t, core.KindNaNOrInfinite, core.KindOf(err))
}

func TestParse_NestingLimit(t *testing.T) {
	formula := ""
	for i := 0; i < 100; i++ {
		formula += "("
	}
	formula += "1"
	for i := 0; i < 100; i++ {
		formula += ")"
	}
	_, err := ParseString(formula)
	require.Error(t, err)
	assert.Equal(t, core.KindMalformedExpression, core.KindOf(err))
}

func TestSubstituteColumns_BothForms(t *testing.T) {
	mapping := metric.NewColumnMapping([]metric.Match{
		{Placeholder: "Sales", Column: "Revenue", Method: metric.MethodFuzzy, Confidence: 0.7},
		{Placeholder: "Units", Column: "Quantity", Method: metric.MethodFuzzy, Confidence: 0.6},
	})
	def := metric.Definition{
		Name:         "Avg Price",
		Placeholders: []string{"Sales", "Units"},
		Formula:      `df['sales'].sum() / sum("UNITS")`,
	}

	p := Prepare(def, mapping)
	require.NoError(t, p.Err())
	res := p.Evaluate("all", ordersDataset(t).All(), noDeps)

	require.True(t, res.Success, res.ErrorMessage)
	assert.Equal(t, 30.0, *res.Value)
	assert.Equal(t, `df["Revenue"].sum() / sum("Quantity")`, res.Expression)
}

func TestPrepare_UnmatchedPlaceholderFailsImmediately(t *testing.T) {
	mapping := metric.NewColumnMapping([]metric.Match{
		{Placeholder: "Profit", Method: metric.MethodUnmatched},
	})
	def := metric.Definition{Name: "Margin", Placeholders: []string{"Profit"}, Formula: `sum("Profit")`}

	p := Prepare(def, mapping)
	res := p.Evaluate("2024-01", ordersDataset(t).All(), noDeps)
	assert.False(t, res.Success)
	assert.Equal(t, core.KindUnmatchedColumn, res.ErrorKind)
	assert.Equal(t, "2024-01", res.Period)
}

func TestEvaluate_RevenuePerOrderWithZeroCount(t *testing.T) {
	ds, err := dataset.New("empty-orders",
		[]string{"Revenue", "Orders"},
		[][]string{{"10", ""}, {"20", ""}},
		map[string]dataset.ColumnKind{"Revenue": dataset.KindNumeric, "Orders": dataset.KindCategorical})
	require.NoError(t, err)

	def := metric.Definition{Name: "Revenue per Order", Placeholders: []string{"Revenue", "Orders"}, Formula: `sum("Revenue")/count("Orders")`}
	res := Prepare(def, identityMapping("Revenue", "Orders")).Evaluate("all", ds.All(), noDeps)

	assert.False(t, res.Success)
	assert.Equal(t, core.KindDivisionByZero, res.ErrorKind)
}

func TestEvaluate_DependencySubstitution(t *testing.T) {
	total := 180.0
	deps := map[string]metric.Result{
		"Total Revenue": {Name: "Total Revenue", Success: true, Value: &total},
		"Broken":        {Name: "Broken", Success: false, ErrorKind: core.KindUnmatchedColumn},
		"By Category":   {Name: "By Category", Success: true, Breakdown: map[string]float64{"Books": 1}},
	}
	lookup := func(name string) (metric.Result, bool) {
		r, ok := deps[name]
		return r, ok
	}
	view := ordersDataset(t).All()
	mapping := identityMapping("Quantity")

	ok := Prepare(metric.Definition{Name: "Rev per Unit", Placeholders: []string{"Quantity"}, Formula: `kpis['Total Revenue'] / sum("Quantity")`}, mapping).Evaluate("p", view, lookup)
	require.True(t, ok.Success, ok.ErrorMessage)
	assert.Equal(t, 30.0, *ok.Value)
	assert.Equal(t, `180 / sum("Quantity")`, ok.Expression)

	failed := Prepare(metric.Definition{Name: "C", Formula: `kpis['Broken'] * 2`}, mapping).Evaluate("p", view, lookup)
	assert.Equal(t, core.KindDependencyUnavailable, failed.ErrorKind)

	missing := Prepare(metric.Definition{Name: "C", Formula: `kpis['Nope'] * 2`}, mapping).Evaluate("p", view, lookup)
	assert.Equal(t, core.KindDependencyUnavailable, missing.ErrorKind)

	breakdown := Prepare(metric.Definition{Name: "C", Formula: `kpis['By Category'] * 2`}, mapping).Evaluate("p", view, lookup)
	assert.Equal(t, core.KindTypeMismatch, breakdown.ErrorKind)
}

func TestEvaluate_NegativeDependencyRendersInParens(t *testing.T) {
	neg := -5.0
	lookup := func(string) (metric.Result, bool) {
		return metric.Result{Success: true, Value: &neg}, true
	}
	res := Prepare(metric.Definition{Name: "X", Formula: `10 - kpis['Loss']`}, identityMapping()).Evaluate("p", ordersDataset(t).All(), lookup)
	require.True(t, res.Success, res.ErrorMessage)
	assert.Equal(t, 15.0, *res.Value)
	assert.Equal(t, `10 - (-5)`, res.Expression)
}

func TestEvaluate_CategoryEnforced(t *testing.T) {
	view := ordersDataset(t).All()
	numeric := Prepare(metric.Definition{Name: "X", Formula: `sum_by("Category", "Revenue")`, Category: metric.CategoryNumeric}, identityMapping()).Evaluate("p", view, noDeps)
	assert.Equal(t, core.KindTypeMismatch, numeric.ErrorKind)

	breakdown := Prepare(metric.Definition{Name: "Y", Formula: `sum("Revenue")`, Category: metric.CategoryBreakdown}, identityMapping()).Evaluate("p", view, noDeps)
	assert.Equal(t, core.KindTypeMismatch, breakdown.ErrorKind)

	unset := Prepare(metric.Definition{Name: "Z", Formula: `sum_by("Category", "Revenue")`}, identityMapping()).Evaluate("p", view, noDeps)
	assert.True(t, unset.Success)
}

func TestEvaluate_RoundsToFourPlaces(t *testing.T) {
	res := Prepare(metric.Definition{Name: "Third", Formula: `sum("Revenue") / 7`}, identityMapping()).Evaluate("p", ordersDataset(t).All(), noDeps)
	require.True(t, res.Success)
	assert.Equal(t, 25.7143, *res.Value)
}

func TestReferences(t *testing.T) {
	refs := References(`kpis['A'] + kpis["B"] * kpis['A'] + sum('kpis')`)
	assert.Equal(t, []string{"A", "B"}, refs)
	assert.Nil(t, References(`sum("unterminated`))
}
