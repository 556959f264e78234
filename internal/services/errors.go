package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Domain errors surfaced by the community service. Handlers map these to
// response codes; everything else is treated as an opaque storage failure.
var (
	ErrListNotFound  = errors.New("list not found")
	ErrEntryNotFound = errors.New("entry not found")
	ErrAlreadyVoted  = errors.New("already voted")
)

// ValidationError carries field-level detail for malformed input.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func newValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}
