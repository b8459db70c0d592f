package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/siteplay/tally/internal/validation"
)

// ErrInvalidState is returned for illegal lifecycle transitions, e.g.
// approving a REJECTED update or deleting an APPROVED one.
var ErrInvalidState = errors.New("invalid state transition")

// ValidationError reports malformed input with per-field detail.
type ValidationError struct {
	Fields []validation.ValidationError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s %s", f.Field, f.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func validationFailed(fields []validation.ValidationError) error {
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}
