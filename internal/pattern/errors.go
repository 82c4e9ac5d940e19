package pattern

import (
	"errors"
	"fmt"
)

// Sentinel errors for compile failures.
var (
	ErrUnbalanced       = errors.New("unbalanced group")
	ErrUnexpected       = errors.New("unexpected token")
	ErrExpected         = errors.New("expected token")
	ErrEmptyAlternation = errors.New("empty alternative")
)

// CompileError is a query that could not be compiled. Pos is a byte offset
// into Query.
type CompileError struct {
	Query string
	Pos   int
	Msg   string
	Err   error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%q:%d: %s", e.Query, e.Pos, e.Msg)
}

func (e *CompileError) Unwrap() error { return e.Err }
