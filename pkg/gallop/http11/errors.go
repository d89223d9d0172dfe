package http11

import (
	"errors"
	"fmt"
)

// Parser errors
var (
	// ErrMalformedRequest indicates a byte that no transition of the request
	// grammar accepts. The scanner stays in its error state until Reset.
	ErrMalformedRequest = errors.New("http11: invalid HTTP format, parsing fails")

	// ErrLimitExceeded is the sentinel wrapped by every *LimitError
	ErrLimitExceeded = errors.New("http11: element exceeds allowed length")

	// ErrStartPastEnd indicates Parser.Execute was asked to resume at or
	// after the end of the buffer
	ErrStartPastEnd = errors.New("http11: requested start is after data buffer end")
)

// LimitField names the request element whose size limit tripped.
type LimitField uint8

const (
	LimitFieldName LimitField = iota
	LimitFieldValue
	LimitRequestURI
	LimitFragment
	LimitRequestPath
	LimitQueryString
	LimitHeader
)

// String returns the element name used in diagnostics.
func (f LimitField) String() string {
	switch f {
	case LimitFieldName:
		return "FIELD_NAME"
	case LimitFieldValue:
		return "FIELD_VALUE"
	case LimitRequestURI:
		return "REQUEST_URI"
	case LimitFragment:
		return "FRAGMENT"
	case LimitRequestPath:
		return "REQUEST_PATH"
	case LimitQueryString:
		return "QUERY_STRING"
	case LimitHeader:
		return "HEADER"
	default:
		return "UNKNOWN"
	}
}

// LimitError reports an element longer than its configured maximum.
type LimitError struct {
	Field  LimitField
	Length int
	Max    int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("HTTP element %s is longer than the %d allowed length (was %d)",
		e.Field, e.Max, e.Length)
}

// Unwrap lets errors.Is(err, ErrLimitExceeded) match.
func (e *LimitError) Unwrap() error {
	return ErrLimitExceeded
}

// IsLimitError reports whether err carries a *LimitError and returns it.
func IsLimitError(err error) (*LimitError, bool) {
	var le *LimitError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}
