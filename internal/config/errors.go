package config

import (
	"errors"
	"fmt"
)

// Errors returned by settings operations.
var (
	// ErrValidationFailed indicates a setting holds an unusable value.
	ErrValidationFailed = errors.New("validation failed")
)

// ParseError reports a settings file that could not be decoded.
type ParseError struct {
	// Path is the file or source that failed to parse.
	Path string
	// Line and Column locate the error when known.
	Line   int
	Column int
	// Err is the underlying decoder error.
	Err error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s at line %d, column %d: %v", e.Path, e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("parse error in %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
