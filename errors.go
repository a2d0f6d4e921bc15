// File: settings/errors.go
package settings

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyNotFound indicates a key absent from every source including defaults.
	ErrKeyNotFound = errors.New("settings key not found")

	// ErrInvalidValue indicates a Set whose value failed the bound resolver's validation.
	ErrInvalidValue = errors.New("invalid value for settings key")

	// ErrSectionAssign indicates an attempt to assign directly to a subsection key.
	ErrSectionAssign = errors.New("cannot assign to a subsection key")

	// ErrSolidKey indicates a write to a key declared solid.
	ErrSolidKey = errors.New("cannot set a solid settings key")

	// ErrNoUserFile indicates Save was called without a configured user file path.
	ErrNoUserFile = errors.New("no user file configured")

	// ErrResolve indicates a resolver-internal failure (missing secret key,
	// unparseable raw value, and the like).
	ErrResolve = errors.New("resolve failed")
)

// ParseError is a format error raised while parsing the indentation-based
// config format. Line is the 1-based line number in the input.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d: %s", e.Line, e.Msg)
}

// parseErrorf builds a ParseError with the reader's current line number.
func parseErrorf(line int, format string, args ...any) *ParseError {
	return &ParseError{Line: line, Msg: fmt.Sprintf(format, args...)}
}
