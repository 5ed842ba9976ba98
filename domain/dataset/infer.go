package dataset

import (
	"math"
	"strings"
)

// inferSampleSize bounds how many non-blank cells kind inference looks at
const inferSampleSize = 100

var identifierSuffixes = map[string]bool{
	"id": true, "key": true, "code": true, "sku": true, "uuid": true,
}

// InferKind classifies a column from its name and a sample of its cells.
// Numeric-looking identifier columns ("Order ID") stay identifiers so they
// are never summed.
func InferKind(name string, cells []string) ColumnKind {
	sample := make([]string, 0, inferSampleSize)
	for _, c := range cells {
		if strings.TrimSpace(c) == "" {
			continue
		}
		sample = append(sample, c)
		if len(sample) >= inferSampleSize {
			break
		}
	}
	if len(sample) == 0 {
		return KindCategorical
	}

	numeric, dates := 0, 0
	distinct := make(map[string]struct{}, len(sample))
	for _, v := range sample {
		distinct[v] = struct{}{}
		if !math.IsNaN(ParseNumber(v)) {
			numeric++
			continue
		}
		if _, ok := ParseDate(v); ok {
			dates++
		}
	}

	looksLikeID := isIdentifierName(name)
	switch {
	case numeric == len(sample):
		if looksLikeID {
			return KindIdentifier
		}
		return KindNumeric
	case dates*10 >= len(sample)*9:
		return KindDatetime
	case looksLikeID && len(distinct) == len(sample):
		return KindIdentifier
	default:
		return KindCategorical
	}
}

func isIdentifierName(name string) bool {
	toks := Tokens(name)
	if len(toks) == 0 {
		return false
	}
	return identifierSuffixes[toks[len(toks)-1]]
}
