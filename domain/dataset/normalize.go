package dataset

import (
	"strings"
	"unicode"
)

// NormalizeName folds a column or placeholder name into its comparison form:
// camelCase boundaries and separators become spaces, punctuation is dropped,
// letters are lower-cased and runs of whitespace collapse to one space.
//
//	"Order_Date"   -> "order date"
//	"totalRevenue" -> "total revenue"
//	"Price ($)"    -> "price"
func NormalizeName(name string) string {
	runes := []rune(strings.TrimSpace(name))
	var b strings.Builder
	b.Grow(len(runes) + 4)

	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == '.' || r == '/' || unicode.IsSpace(r):
			b.WriteRune(' ')
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if i > 0 && unicode.IsUpper(r) && isCamelBoundary(runes, i) {
				b.WriteRune(' ')
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			// punctuation and symbols are dropped
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// isCamelBoundary reports whether an upper-case rune at i starts a new word:
// "orderDate" splits before D, "OrderID" splits before I but not D.
func isCamelBoundary(runes []rune, i int) bool {
	prev := runes[i-1]
	if unicode.IsLower(prev) || unicode.IsDigit(prev) {
		return true
	}
	if unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
		return true
	}
	return false
}

// Tokens returns the normalized word tokens of a name
func Tokens(name string) []string {
	return strings.Fields(NormalizeName(name))
}
