package core

import (
	"errors"
	"fmt"

	"github.com/JonMunkholm/ledgerimport/internal/domain"
)

var (
	// ErrUnsupportedEncoding is wrapped by a ParseError when a file declares
	// or uses a character set the decoder does not know.
	ErrUnsupportedEncoding = errors.New("encoding error: unsupported character set")

	// ErrMalformedFile is wrapped by a ParseError when a required section is
	// missing or the file is not of the declared format.
	ErrMalformedFile = errors.New("malformed file")

	// ErrFileTooLarge is returned when an upload exceeds the size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrEmptyFile is returned when an upload carries no content.
	ErrEmptyFile = errors.New("empty file")

	// ErrUnresolvableSecurity marks a row whose ticker cannot be resolved.
	// The row is skipped and counted rather than failing the run.
	ErrUnresolvableSecurity = errors.New("unresolvable security")

	// ErrUnknownFormat is returned for a format discriminator with no
	// registered Format.
	ErrUnknownFormat = errors.New("unknown import format")

	// ErrNotPublishable is returned when a format can never be committed.
	ErrNotPublishable = errors.New("import format is not publishable")
)

// ParseError is a structural failure to parse an uploaded file. The import
// keeps its prior state and no rows are written.
type ParseError struct {
	Format domain.FormatKind
	Line   int
	Err    error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s: line %d: %v", e.Format, e.Line, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NewParseError wraps err as a ParseError for format f.
func NewParseError(f domain.FormatKind, err error) *ParseError {
	return &ParseError{Format: f, Err: err}
}

// MappingError is fatal for a publish: a required binding or column could
// not be resolved.
type MappingError struct {
	Field  string
	Row    int
	Reason string
}

func (e *MappingError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("mapping error: %s (row %d): %s", e.Field, e.Row, e.Reason)
	}
	return fmt.Sprintf("mapping error: %s: %s", e.Field, e.Reason)
}

// TransitionError is returned when a lifecycle guard rejects a transition.
type TransitionError struct {
	From   domain.Status
	To     domain.Status
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid transition %s -> %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// IsParseError reports whether err is or wraps a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// IsMappingError reports whether err is or wraps a MappingError.
func IsMappingError(err error) bool {
	var me *MappingError
	return errors.As(err, &me)
}

// IsTransitionError reports whether err is or wraps a TransitionError.
func IsTransitionError(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}
