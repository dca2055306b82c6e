package expense

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotFound is returned when no expense matches the given id and owner.
// An id that exists but belongs to another owner is indistinguishable from
// one that does not exist.
var ErrNotFound = errors.New("expense not found")

// ValidationError reports field-level constraint violations.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
