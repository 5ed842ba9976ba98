// Package matcher resolves the abstract column placeholders used by metric
// definitions to concrete dataset columns.
//
// Resolution runs three passes in order, each only over what the previous
// passes left unresolved:
//
//  1. exact match on normalized names
//  2. token-overlap similarity above a fuzzy threshold
//  3. an optional semantic similarity service above a second threshold
//
// Placeholders that survive all three are reported as unmatched with zero
// confidence. Matching never fails; a bad mapping only makes the affected
// metrics uncalculable.
package matcher

import (
	"context"
	"sort"
	"strings"

	"gokpi/domain/dataset"
	"gokpi/domain/metric"
	"gokpi/internal"
	"gokpi/ports"
)

// Config holds the acceptance thresholds
type Config struct {
	// FuzzyThreshold is exclusive: a token-overlap score must exceed it.
	FuzzyThreshold float64 `json:"fuzzy_threshold" envconfig:"FUZZY_THRESHOLD" default:"0.5" validate:"gte=0,lte=1"`
	// SemanticThreshold is inclusive.
	SemanticThreshold float64 `json:"semantic_threshold" envconfig:"SEMANTIC_THRESHOLD" default:"0.8" validate:"gte=-1,lte=1"`
}

// DefaultConfig returns the thresholds used when nothing is configured
func DefaultConfig() Config {
	return Config{
		FuzzyThreshold:    0.5,
		SemanticThreshold: 0.8,
	}
}

// Matcher maps placeholders to columns
type Matcher struct {
	cfg      Config
	semantic ports.SimilarityService
	logger   *internal.Logger
}

// New creates a matcher. semantic may be nil, which disables the third pass.
func New(cfg Config, semantic ports.SimilarityService) *Matcher {
	return &Matcher{
		cfg:      cfg,
		semantic: semantic,
		logger:   internal.DefaultLogger.With("ColumnMatcher"),
	}
}

type candidate struct {
	placeholder int
	column      string
	score       float64
}

// Match resolves placeholders against columns. The result lists placeholders
// in input order; duplicates in the input are collapsed.
func (m *Matcher) Match(ctx context.Context, placeholders []string, columns []string) *metric.ColumnMapping {
	placeholders = dedupe(placeholders)
	matches := make([]metric.Match, len(placeholders))
	for i, ph := range placeholders {
		matches[i] = metric.Match{Placeholder: ph, Method: metric.MethodUnmatched}
	}
	used := make(map[string]bool, len(columns))

	// Pass 1: normalized equality. Several columns may normalize identically;
	// the lexicographically first original name wins.
	byNorm := make(map[string]string, len(columns))
	for _, col := range columns {
		norm := dataset.NormalizeName(col)
		if prev, ok := byNorm[norm]; !ok || col < prev {
			byNorm[norm] = col
		}
	}
	for i, ph := range placeholders {
		if col, ok := byNorm[dataset.NormalizeName(ph)]; ok {
			matches[i].Column = col
			matches[i].Method = metric.MethodExact
			matches[i].Confidence = 1
			used[col] = true
		}
	}

	// Pass 2: token overlap
	var fuzzy []candidate
	for i, ph := range placeholders {
		if matches[i].Resolved() {
			continue
		}
		for _, col := range columns {
			if used[col] {
				continue
			}
			if score := TokenSimilarity(ph, col); score > m.cfg.FuzzyThreshold {
				fuzzy = append(fuzzy, candidate{placeholder: i, column: col, score: score})
			}
		}
	}
	assign(matches, used, fuzzy, metric.MethodFuzzy)

	// Pass 3: semantic similarity
	if m.semantic != nil {
		assign(matches, used, m.semanticCandidates(ctx, placeholders, columns, matches, used), metric.MethodSemantic)
	}

	mapping := metric.NewColumnMapping(matches)
	if unmatched := mapping.Unmatched(); len(unmatched) > 0 {
		m.logger.Warn("%d of %d placeholders unmatched: %s", len(unmatched), len(placeholders), strings.Join(unmatched, ", "))
	} else {
		m.logger.Debug("all %d placeholders matched", len(placeholders))
	}
	return mapping
}

func (m *Matcher) semanticCandidates(ctx context.Context, placeholders, columns []string, matches []metric.Match, used map[string]bool) []candidate {
	var out []candidate
	for i, ph := range placeholders {
		if matches[i].Resolved() {
			continue
		}
		for _, col := range columns {
			if used[col] {
				continue
			}
			if ctx.Err() != nil {
				m.logger.Warn("semantic pass stopped: %v", ctx.Err())
				return out
			}
			score, err := m.semantic.Similarity(ctx, ph, col)
			if err != nil {
				m.logger.Warn("similarity(%q, %q) failed: %v", ph, col, err)
				continue
			}
			if score >= m.cfg.SemanticThreshold {
				out = append(out, candidate{placeholder: i, column: col, score: score})
			}
		}
	}
	return out
}

// assign accepts candidates greedily: highest score first, then placeholder
// order, then the lexicographically first column. Each column is used once.
func assign(matches []metric.Match, used map[string]bool, cands []candidate, method metric.MatchMethod) {
	sort.SliceStable(cands, func(a, b int) bool {
		if cands[a].score != cands[b].score {
			return cands[a].score > cands[b].score
		}
		if cands[a].placeholder != cands[b].placeholder {
			return cands[a].placeholder < cands[b].placeholder
		}
		return cands[a].column < cands[b].column
	})
	for _, c := range cands {
		if matches[c.placeholder].Resolved() || used[c.column] {
			continue
		}
		matches[c.placeholder].Column = c.column
		matches[c.placeholder].Method = method
		matches[c.placeholder].Confidence = c.score
		used[c.column] = true
	}
}

// TokenSimilarity is the Dice coefficient of the two names' normalized,
// lightly stemmed token sets.
func TokenSimilarity(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for t := range ta {
		if tb[t] {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(ta)+len(tb))
}

func tokenSet(s string) map[string]bool {
	toks := dataset.Tokens(s)
	set := make(map[string]bool, len(toks))
	for _, t := range toks {
		set[stem(t)] = true
	}
	return set
}

// stem strips simple English plurals: orders -> order, categories -> category.
func stem(t string) string {
	switch {
	case len(t) > 4 && strings.HasSuffix(t, "ies"):
		return t[:len(t)-3] + "y"
	case len(t) > 3 && strings.HasSuffix(t, "s") && !strings.HasSuffix(t, "ss"):
		return t[:len(t)-1]
	}
	return t
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
