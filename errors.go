package geocascade

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by lookups that found no record, e.g. an unknown pincode.
	ErrNotFound = errors.New("geocascade: not found")
	// ErrUnsupported is returned by clients that do not offer an optional operation.
	ErrUnsupported = errors.New("geocascade: operation not supported")
	// ErrInvalidPincode is returned when a postal code is not exactly six digits.
	ErrInvalidPincode = errors.New("geocascade: invalid pincode")
	// ErrInvalidCoordinates is returned for a latitude/longitude outside the valid range.
	ErrInvalidCoordinates = errors.New("geocascade: invalid coordinates")
	// ErrUnknownField is returned for fields outside the hierarchy.
	ErrUnknownField = errors.New("geocascade: unknown field")
	// ErrClosed is returned by a coordinator after Close.
	ErrClosed = errors.New("geocascade: coordinator closed")
)

// LookupError wraps a failed call to the lookup client.
// Lookup failures are recovered locally and only ever logged.
type LookupError struct {
	Field Field
	Op    string
	Err   error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup %s (%s): %v", e.Op, e.Field, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// MissingFieldsError lists required fields that are still empty.
type MissingFieldsError struct {
	Fields []Field
}

func (e *MissingFieldsError) Error() string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.String()
	}
	return "missing required fields: " + strings.Join(names, ", ")
}
