package expression

import (
	"strings"

	"gokpi/domain/core"
	"gokpi/domain/metric"
)

// dependencyIdent is the name formulas use to reference other metrics:
// kpis['Total Revenue'].
const dependencyIdent = "kpis"

// SubstituteColumns rewrites every quoted occurrence of the metric's
// placeholders to the resolved column name. Both df['ph'] and bare 'ph'
// forms are strings at token level, so one pass covers both; comparison
// ignores case. Strings inside kpis[...] are metric names and are left alone.
// A placeholder with no resolved column fails the metric outright.
func SubstituteColumns(toks []Token, placeholders []string, mapping *metric.ColumnMapping) ([]Token, error) {
	resolved := make(map[string]string, len(placeholders))
	for _, ph := range placeholders {
		col, ok := mapping.Column(ph)
		if !ok {
			return nil, core.NewEvalError(core.KindUnmatchedColumn, "placeholder %q has no matching column", ph)
		}
		resolved[strings.ToLower(ph)] = col
	}

	out := make([]Token, len(toks))
	copy(out, toks)
	for i, t := range out {
		if t.Kind != TokString || isDependencyName(out, i) {
			continue
		}
		if col, ok := resolved[strings.ToLower(t.Text)]; ok {
			out[i].Text = col
		}
	}
	return out, nil
}

// DependencyLookup returns the result already computed for a metric in the
// current period.
type DependencyLookup func(name string) (metric.Result, bool)

// SubstituteDependencies replaces each kpis['X'] with the literal value of X
// for the current period. A missing or failed X yields DependencyUnavailable;
// a breakdown X cannot stand in for a number and yields TypeMismatch.
func SubstituteDependencies(toks []Token, lookup DependencyLookup) ([]Token, error) {
	out := make([]Token, 0, len(toks))
	for i := 0; i < len(toks); i++ {
		name, ok := dependencyAt(toks, i)
		if !ok {
			out = append(out, toks[i])
			continue
		}

		res, found := lookup(name)
		if !found {
			return nil, core.NewEvalError(core.KindDependencyUnavailable, "dependency %q was not computed", name)
		}
		if !res.Success {
			return nil, core.NewEvalError(core.KindDependencyUnavailable, "dependency %q failed with %s", name, res.ErrorKind)
		}
		v, ok := res.AsValue()
		if !ok || v.IsBreakdown() {
			return nil, core.NewEvalError(core.KindTypeMismatch, "dependency %q is a breakdown, not a number", name)
		}

		out = append(out, Token{Kind: TokNumber, Value: v.Scalar, Pos: toks[i].Pos})
		i += 3
	}
	return out, nil
}

// References returns the metric names a formula reaches through kpis['X'],
// in order of first appearance. Formulas that do not lex have none.
func References(formula string) []string {
	toks, err := Lex(formula)
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var refs []string
	for i := range toks {
		if name, ok := dependencyAt(toks, i); ok && !seen[name] {
			seen[name] = true
			refs = append(refs, name)
		}
	}
	return refs
}

// dependencyAt matches kpis [ STRING ] starting at i
func dependencyAt(toks []Token, i int) (string, bool) {
	if i+3 >= len(toks) {
		return "", false
	}
	if toks[i].Kind == TokIdent && toks[i].Text == dependencyIdent &&
		toks[i+1].Kind == TokLBracket &&
		toks[i+2].Kind == TokString &&
		toks[i+3].Kind == TokRBracket {
		return toks[i+2].Text, true
	}
	return "", false
}

func isDependencyName(toks []Token, i int) bool {
	return i >= 2 && toks[i-1].Kind == TokLBracket &&
		toks[i-2].Kind == TokIdent && toks[i-2].Text == dependencyIdent
}
