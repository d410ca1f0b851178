package models

import (
	"sort"
	"strings"
)

// Issue is one failed schema check.
type Issue struct {
	Path   string // dotted field path, e.g. "from.id"
	Reason string
}

// ValidationError reports every field that failed envelope validation.
// It is permanent: retrying the same payload fails the same way.
type ValidationError struct {
	Issues []Issue
}

func newValidationError(issues []Issue) *ValidationError {
	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Path < issues[j].Path
	})
	return &ValidationError{Issues: issues}
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, is.Path+": "+is.Reason)
	}
	return "invalid envelope: " + strings.Join(parts, "; ")
}

// Fields returns the distinct failing field paths.
func (e *ValidationError) Fields() []string {
	seen := make(map[string]bool, len(e.Issues))
	fields := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		if !seen[is.Path] {
			seen[is.Path] = true
			fields = append(fields, is.Path)
		}
	}
	return fields
}
