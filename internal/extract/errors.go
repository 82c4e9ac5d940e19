package extract

import (
	"errors"
	"fmt"
)

// Sentinel errors for extraction failures. Use errors.Is to classify an
// ExtractionError.
var (
	// ErrSyntax indicates the parser could not build a clean tree for the file.
	ErrSyntax = errors.New("unparseable syntax")

	// ErrUnbalanced indicates a delimiter without its partner inside a token stream.
	ErrUnbalanced = errors.New("unbalanced delimiters")

	// ErrUnterminated indicates a signature or clause that runs off the end of its block.
	ErrUnterminated = errors.New("unterminated clause")

	// ErrRead indicates the file could not be read.
	ErrRead = errors.New("read failed")
)

// ExtractionError records why a file or a verification block was skipped.
type ExtractionError struct {
	File   string `json:"file"`
	Line   int    `json:"line,omitempty"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Reason)
}

// Unwrap returns the underlying sentinel for errors.Is.
func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// blockError is raised inside the token-stream pass and converted to an
// ExtractionError by the caller, which knows the file.
type blockError struct {
	line int
	msg  string
	err  error
}

func (e *blockError) Error() string { return e.msg }
func (e *blockError) Unwrap() error { return e.err }

func unbalanced(line int, what string) error {
	return &blockError{line: line, msg: "unbalanced " + what, err: ErrUnbalanced}
}

func unterminated(line int, what string) error {
	return &blockError{line: line, msg: "unterminated " + what, err: ErrUnterminated}
}
