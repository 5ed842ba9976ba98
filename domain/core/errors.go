package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a single metric evaluation failed.
type ErrorKind string

const (
	KindUnmatchedColumn       ErrorKind = "UnmatchedColumn"
	KindCyclicDependency      ErrorKind = "CyclicDependency"
	KindDependencyUnavailable ErrorKind = "DependencyUnavailable"
	KindDivisionByZero        ErrorKind = "DivisionByZero"
	KindTypeMismatch          ErrorKind = "TypeMismatch"
	KindMalformedExpression   ErrorKind = "MalformedExpression"
	KindNaNOrInfinite         ErrorKind = "NaNOrInfinite"
	KindNoData                ErrorKind = "NoData"
	KindNonNumericColumn      ErrorKind = "NonNumericColumn"
	KindUnknownColumn         ErrorKind = "UnknownColumn"
	KindNaNResult             ErrorKind = "NaNResult"
)

// Domain errors - one sentinel per failure kind so callers can errors.Is them
var (
	ErrUnmatchedColumn       = errors.New("placeholder has no matching column")
	ErrCyclicDependency      = errors.New("metric is part of a dependency cycle")
	ErrDependencyUnavailable = errors.New("dependency value unavailable")
	ErrDivisionByZero        = errors.New("division by zero")
	ErrTypeMismatch          = errors.New("type mismatch")
	ErrMalformedExpression   = errors.New("malformed expression")
	ErrNaNOrInfinite         = errors.New("result is NaN or infinite")
	ErrNoData                = errors.New("no rows in period")
	ErrNonNumericColumn      = errors.New("numeric aggregation on non-numeric column")
	ErrUnknownColumn         = errors.New("unknown column")
	ErrNaNResult             = errors.New("result is undefined")

	// Catalog errors abort a run before evaluation
	ErrCatalogInvalid = errors.New("invalid metric catalog")
)

var sentinels = map[ErrorKind]error{
	KindUnmatchedColumn:       ErrUnmatchedColumn,
	KindCyclicDependency:      ErrCyclicDependency,
	KindDependencyUnavailable: ErrDependencyUnavailable,
	KindDivisionByZero:        ErrDivisionByZero,
	KindTypeMismatch:          ErrTypeMismatch,
	KindMalformedExpression:   ErrMalformedExpression,
	KindNaNOrInfinite:         ErrNaNOrInfinite,
	KindNoData:                ErrNoData,
	KindNonNumericColumn:      ErrNonNumericColumn,
	KindUnknownColumn:         ErrUnknownColumn,
	KindNaNResult:             ErrNaNResult,
}

// Sentinel returns the sentinel error for a kind, or nil for unknown kinds.
func (k ErrorKind) Sentinel() error {
	return sentinels[k]
}

// EvalError is a classified, per-result failure. It never escapes an
// evaluation run as a Go error; it is attached to the result it concerns.
type EvalError struct {
	Kind    ErrorKind
	Message string
}

func (e *EvalError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap lets errors.Is match the kind sentinel.
func (e *EvalError) Unwrap() error {
	return e.Kind.Sentinel()
}

// NewEvalError creates a classified evaluation failure
func NewEvalError(kind ErrorKind, format string, args ...interface{}) *EvalError {
	return &EvalError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the failure kind from err. Unclassified errors map to
// MalformedExpression, the catch-all for anything the evaluator rejects.
func KindOf(err error) ErrorKind {
	var ee *EvalError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindMalformedExpression
}

func NewCatalogError(reason string) error {
	return fmt.Errorf("%w: %s", ErrCatalogInvalid, reason)
}

// Error checking helpers
func IsCatalogError(err error) bool {
	return errors.Is(err, ErrCatalogInvalid)
}
