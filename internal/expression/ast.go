package expression

import (
	"fmt"
	"strconv"
	"strings"
)

// Node is an expression tree node
type Node interface {
	String() string
}

// NumberLit is a numeric literal, including substituted dependency values
type NumberLit struct {
	Value float64
}

// StringLit is a quoted string; only valid as a function argument
type StringLit struct {
	Value string
}

// ColumnRef is df['X'] or col("X")
type ColumnRef struct {
	Name string
}

// GroupedColumn is df.groupby('Key')['Value'], reduced by a method call
type GroupedColumn struct {
	Key   string
	Value string
}

// DependencyRef is an unsubstituted kpis['X']
type DependencyRef struct {
	Name string
}

// Call is an allow-listed function, or a method in postfix form
// (df['X'].sum() parses as Call{Fn: "sum", Args: [ColumnRef X]}).
type Call struct {
	Fn   string
	Args []Node
}

// Binary is an arithmetic operator application
type Binary struct {
	Op    byte
	Left  Node
	Right Node
}

// Unary is negation
type Unary struct {
	X Node
}

func (n NumberLit) String() string     { return strconv.FormatFloat(n.Value, 'g', -1, 64) }
func (n StringLit) String() string     { return strconv.Quote(n.Value) }
func (n ColumnRef) String() string     { return fmt.Sprintf("df[%s]", strconv.Quote(n.Name)) }
func (n DependencyRef) String() string { return fmt.Sprintf("kpis[%s]", strconv.Quote(n.Name)) }
func (n Unary) String() string         { return "-" + n.X.String() }

func (n GroupedColumn) String() string {
	return fmt.Sprintf("df.groupby(%s)[%s]", strconv.Quote(n.Key), strconv.Quote(n.Value))
}

func (n Call) String() string {
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", n.Fn, strings.Join(args, ", "))
}

func (n Binary) String() string {
	return fmt.Sprintf("(%s %c %s)", n.Left, n.Op, n.Right)
}

// Walk visits n and every descendant depth-first
func Walk(n Node, fn func(Node)) {
	fn(n)
	switch v := n.(type) {
	case Call:
		for _, a := range v.Args {
			Walk(a, fn)
		}
	case Binary:
		Walk(v.Left, fn)
		Walk(v.Right, fn)
	case Unary:
		Walk(v.X, fn)
	}
}
