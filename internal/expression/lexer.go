package expression

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"gokpi/domain/core"
)

// TokenKind identifies a lexical token
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokNumber
	TokString
	TokIdent
	TokLParen
	TokRParen
	TokLBracket
	TokRBracket
	TokDot
	TokComma
	TokPlus
	TokMinus
	TokStar
	TokSlash
)

var punct = map[rune]TokenKind{
	'(': TokLParen,
	')': TokRParen,
	'[': TokLBracket,
	']': TokRBracket,
	'.': TokDot,
	',': TokComma,
	'+': TokPlus,
	'-': TokMinus,
	'*': TokStar,
	'/': TokSlash,
}

// Token is one lexeme. Text holds the unquoted content for strings and the
// source spelling for everything else.
type Token struct {
	Kind  TokenKind
	Text  string
	Value float64
	Pos   int
}

// Lex splits a formula into tokens. The token stream always ends with TokEOF.
func Lex(src string) ([]Token, error) {
	runes := []rune(src)
	var toks []Token

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case r == '\'' || r == '"':
			text, next, err := lexString(runes, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, Token{Kind: TokString, Text: text, Pos: i})
			i = next

		case unicode.IsDigit(r) || (r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			i = scanNumber(runes, i)
			text := string(runes[start:i])
			v, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, core.NewEvalError(core.KindMalformedExpression, "bad number %q at %d", text, start)
			}
			toks = append(toks, Token{Kind: TokNumber, Text: text, Value: v, Pos: start})

		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			toks = append(toks, Token{Kind: TokIdent, Text: string(runes[start:i]), Pos: start})

		default:
			kind, ok := punct[r]
			if !ok {
				return nil, core.NewEvalError(core.KindMalformedExpression, "unexpected character %q at %d", r, i)
			}
			toks = append(toks, Token{Kind: kind, Text: string(r), Pos: i})
			i++
		}
	}

	return append(toks, Token{Kind: TokEOF, Pos: len(runes)}), nil
}

func lexString(runes []rune, start int) (string, int, error) {
	quote := runes[start]
	var b strings.Builder
	for i := start + 1; i < len(runes); i++ {
		switch runes[i] {
		case '\\':
			if i+1 < len(runes) {
				i++
				b.WriteRune(runes[i])
			}
		case quote:
			return b.String(), i + 1, nil
		default:
			b.WriteRune(runes[i])
		}
	}
	return "", 0, core.NewEvalError(core.KindMalformedExpression, "unterminated string starting at %d", start)
}

func scanNumber(runes []rune, i int) int {
	for i < len(runes) && unicode.IsDigit(runes[i]) {
		i++
	}
	if i < len(runes) && runes[i] == '.' {
		i++
		for i < len(runes) && unicode.IsDigit(runes[i]) {
			i++
		}
	}
	if i < len(runes) && (runes[i] == 'e' || runes[i] == 'E') {
		j := i + 1
		if j < len(runes) && (runes[j] == '+' || runes[j] == '-') {
			j++
		}
		if j < len(runes) && unicode.IsDigit(runes[j]) {
			i = j
			for i < len(runes) && unicode.IsDigit(runes[i]) {
				i++
			}
		}
	}
	return i
}

// Render turns a token stream back into formula text. It is used to record
// the fully substituted expression next to each result.
func Render(toks []Token) string {
	var b strings.Builder
	for i, t := range toks {
		switch t.Kind {
		case TokEOF:
			continue
		case TokString:
			b.WriteString(strconv.Quote(t.Text))
		case TokNumber:
			if t.Text != "" {
				b.WriteString(t.Text)
			} else if t.Value < 0 {
				fmt.Fprintf(&b, "(%s)", strconv.FormatFloat(t.Value, 'g', -1, 64))
			} else {
				b.WriteString(strconv.FormatFloat(t.Value, 'g', -1, 64))
			}
		case TokPlus, TokMinus, TokStar, TokSlash:
			if i > 0 && isOperandEnd(toks[i-1].Kind) {
				b.WriteString(" " + t.Text + " ")
			} else {
				b.WriteString(t.Text)
			}
		case TokComma:
			b.WriteString(", ")
		default:
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

func isOperandEnd(k TokenKind) bool {
	return k == TokNumber || k == TokString || k == TokIdent || k == TokRParen || k == TokRBracket
}
