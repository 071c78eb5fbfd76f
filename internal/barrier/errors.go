package barrier

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrAlreadyArchived = errors.New("barrier is already archived")
	ErrNotArchived     = errors.New("barrier is not archived")
)

// FieldErrors maps a field name to the reason its value was rejected.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e[k])
	}
	return "invalid fields: " + strings.Join(parts, "; ")
}

func (e FieldErrors) add(field, format string, args ...any) {
	if _, exists := e[field]; !exists {
		e[field] = fmt.Sprintf(format, args...)
	}
}

func (e FieldErrors) err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// ReferenceError is a field value that points at nothing in a catalogue.
type ReferenceError struct {
	Field string
	Err   error
}

func (e *ReferenceError) Error() string { return e.Field + ": " + e.Err.Error() }
func (e *ReferenceError) Unwrap() error { return e.Err }

// TransitionError rejects a state change that the machine does not allow
// or that lacks required inputs.
type TransitionError struct {
	From   string
	Event  string
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s from %s: %s", e.Event, e.From, e.Reason)
	}
	return fmt.Sprintf("cannot %s from %s", e.Event, e.From)
}

// IncompleteError is returned when a report is submitted before every
// progress stage is complete.
type IncompleteError struct {
	Stage Stage
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("stage %s is %s", e.Stage.Code, e.Stage.Status)
}
