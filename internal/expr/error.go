package expr

import (
	"errors"
	"fmt"
)

// EvalErrorKind distinguishes the failure classes of expression evaluation.
type EvalErrorKind string

const (
	// EvalErrorDisallowedSyntax marks input outside the whitelist grammar:
	// function calls, subscripts, boolean or bitwise operators, malformed or
	// over-long reference chains. Detected statically at parse time.
	EvalErrorDisallowedSyntax EvalErrorKind = "disallowed_syntax"
	// EvalErrorUnresolvedReference marks a grammatically valid reference
	// whose id, name, or field is absent from the evaluation context.
	EvalErrorUnresolvedReference EvalErrorKind = "unresolved_reference"
	// EvalErrorDivisionByZero marks a division whose divisor evaluated to zero.
	EvalErrorDivisionByZero EvalErrorKind = "division_by_zero"
)

// EvalError is the failure result of parsing or evaluating a single
// expression. It carries the offending token and its byte offset so rule
// authors can locate the problem. A rule whose evaluation produces an
// EvalError is treated as false, never as satisfied.
type EvalError struct {
	Kind    EvalErrorKind
	Token   string
	Pos     int
	Message string
}

// NewEvalError creates a new EvalError.
func NewEvalError(kind EvalErrorKind, token string, pos int, message string) *EvalError {
	return &EvalError{
		Kind:    kind,
		Token:   token,
		Pos:     pos,
		Message: message,
	}
}

// NewEvalErrorf creates a new EvalError with a formatted message.
func NewEvalErrorf(kind EvalErrorKind, token string, pos int, format string, args ...any) *EvalError {
	return &EvalError{
		Kind:    kind,
		Token:   token,
		Pos:     pos,
		Message: fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface.
func (e *EvalError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}

	return fmt.Sprintf("%s at offset %d (%q): %s", e.Kind, e.Pos, e.Token, e.Message)
}

// IsEvalError checks if an error is an EvalError.
// It uses errors.As to check the error chain.
func IsEvalError(err error) bool {
	var evalErr *EvalError

	return errors.As(err, &evalErr)
}

// AsEvalError extracts the EvalError from an error chain.
func AsEvalError(err error) (*EvalError, bool) {
	var evalErr *EvalError
	if errors.As(err, &evalErr) {
		return evalErr, true
	}

	return nil, false
}
