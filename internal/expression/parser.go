package expression

import (
	"strings"

	"gokpi/domain/core"
)

// maxDepth bounds nesting so hostile formulas cannot exhaust the stack
const maxDepth = 64

type parser struct {
	toks  []Token
	pos   int
	depth int
}

// Parse builds an expression tree from a token stream. Anything outside the
// metric grammar is a MalformedExpression.
func Parse(toks []Token) (Node, error) {
	if len(toks) == 0 || toks[len(toks)-1].Kind != TokEOF {
		toks = append(toks, Token{Kind: TokEOF})
	}
	p := &parser{toks: toks}
	if p.peek().Kind == TokEOF {
		return nil, malformed("empty expression")
	}
	n, err := p.expr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.Kind != TokEOF {
		return nil, malformed("unexpected %q at %d", t.Text, t.Pos)
	}
	return n, nil
}

// ParseString lexes and parses a formula
func ParseString(src string) (Node, error) {
	toks, err := Lex(src)
	if err != nil {
		return nil, err
	}
	return Parse(toks)
}

func malformed(format string, args ...interface{}) error {
	return core.NewEvalError(core.KindMalformedExpression, format, args...)
}

func (p *parser) peek() Token { return p.toks[p.pos] }

func (p *parser) next() Token {
	t := p.toks[p.pos]
	if t.Kind != TokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind TokenKind, what string) (Token, error) {
	t := p.next()
	if t.Kind != kind {
		if t.Kind == TokEOF {
			return t, malformed("expected %s at end of expression", what)
		}
		return t, malformed("expected %s at %d, found %q", what, t.Pos, t.Text)
	}
	return t, nil
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		return malformed("expression nested too deeply")
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

// expr := term (('+'|'-') term)*
func (p *parser) expr() (Node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.Kind != TokPlus && t.Kind != TokMinus {
			return left, nil
		}
		p.next()
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: t.Text[0], Left: left, Right: right}
	}
}

// term := unary (('*'|'/') unary)*
func (p *parser) term() (Node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.Kind != TokStar && t.Kind != TokSlash {
			return left, nil
		}
		p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: t.Text[0], Left: left, Right: right}
	}
}

// unary := '-' unary | '+' unary | postfix
func (p *parser) unary() (Node, error) {
	switch p.peek().Kind {
	case TokMinus:
		p.next()
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return Unary{X: x}, nil
	case TokPlus:
		p.next()
		return p.unary()
	}
	return p.postfix()
}

// postfix := primary ('.' METHOD '(' ')')*
func (p *parser) postfix() (Node, error) {
	n, err := p.primary()
	if err != nil {
		return nil, err
	}
	for p.peek().Kind == TokDot {
		p.next()
		name, err := p.expect(TokIdent, "method name")
		if err != nil {
			return nil, err
		}
		method := strings.ToLower(name.Text)
		if !isAggregate(method) {
			return nil, malformed("method %q is not allowed", name.Text)
		}
		if _, err := p.expect(TokLParen, "("); err != nil {
			return nil, err
		}
		if _, err := p.expect(TokRParen, ")"); err != nil {
			return nil, err
		}
		n = Call{Fn: method, Args: []Node{n}}
	}
	return n, nil
}

func (p *parser) primary() (Node, error) {
	t := p.next()
	switch t.Kind {
	case TokNumber:
		return NumberLit{Value: t.Value}, nil

	case TokString:
		return StringLit{Value: t.Text}, nil

	case TokLParen:
		n, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokRParen, ")"); err != nil {
			return nil, err
		}
		return n, nil

	case TokIdent:
		switch t.Text {
		case "df":
			return p.dataframe()
		case dependencyIdent:
			name, err := p.bracketString()
			if err != nil {
				return nil, err
			}
			return DependencyRef{Name: name}, nil
		}
		return p.call(t)

	case TokEOF:
		return nil, malformed("unexpected end of expression")
	}
	return nil, malformed("unexpected %q at %d", t.Text, t.Pos)
}

// dataframe := 'df' '[' STRING ']' | 'df' '.' 'groupby' '(' STRING ')' '[' STRING ']'
func (p *parser) dataframe() (Node, error) {
	switch p.peek().Kind {
	case TokLBracket:
		name, err := p.bracketString()
		if err != nil {
			return nil, err
		}
		return ColumnRef{Name: name}, nil

	case TokDot:
		p.next()
		ident, err := p.expect(TokIdent, "groupby")
		if err != nil {
			return nil, err
		}
		if ident.Text != "groupby" {
			return nil, malformed("df.%s is not allowed", ident.Text)
		}
		if _, err := p.expect(TokLParen, "("); err != nil {
			return nil, err
		}
		key, err := p.expect(TokString, "group key column")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokRParen, ")"); err != nil {
			return nil, err
		}
		value, err := p.bracketString()
		if err != nil {
			return nil, err
		}
		return GroupedColumn{Key: key.Text, Value: value}, nil
	}
	return nil, malformed("df must be indexed with a column name")
}

func (p *parser) bracketString() (string, error) {
	if _, err := p.expect(TokLBracket, "["); err != nil {
		return "", err
	}
	s, err := p.expect(TokString, "quoted name")
	if err != nil {
		return "", err
	}
	if _, err := p.expect(TokRBracket, "]"); err != nil {
		return "", err
	}
	return s.Text, nil
}

// call := FN '(' [expr (',' expr)*] ')'
func (p *parser) call(name Token) (Node, error) {
	fn := strings.ToLower(name.Text)
	if _, ok := functions[fn]; !ok {
		return nil, malformed("function %q is not allowed", name.Text)
	}
	if _, err := p.expect(TokLParen, "( after "+name.Text); err != nil {
		return nil, err
	}

	var args []Node
	if p.peek().Kind != TokRParen {
		for {
			a, err := p.expr()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if p.peek().Kind != TokComma {
				break
			}
			p.next()
		}
	}
	if _, err := p.expect(TokRParen, ")"); err != nil {
		return nil, err
	}

	spec := functions[fn]
	if len(args) < spec.minArgs || len(args) > spec.maxArgs {
		return nil, malformed("%s takes %s, got %d", fn, spec.arity(), len(args))
	}
	return Call{Fn: fn, Args: args}, nil
}
