package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/siteplay/tally/internal/types"
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// ValidateRequired returns an error if the value is empty or whitespace-only.
func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{
			Field:   field,
			Message: "is required",
		}
	}
	return nil
}

// ValidateNonNegative returns an error if the value is below zero.
func ValidateNonNegative(field string, value float64) *ValidationError {
	if value < 0 {
		return &ValidationError{
			Field:   field,
			Message: "must not be negative",
		}
	}
	return nil
}

// ValidateMaxLength returns an error if the value exceeds max runes.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", max),
		}
	}
	return nil
}

const maxNoteLength = 4000

// ValidateSubmitUpdate checks a task update submission.
func ValidateSubmitUpdate(req types.SubmitUpdateRequest) []ValidationError {
	var c Collector
	c.Add(ValidateRequired("task_id", req.TaskID))
	c.Add(ValidateRequired("game_id", req.GameID))
	c.Add(ValidateRequired("submitted_by", req.SubmittedBy))
	c.Add(ValidateNonNegative("absolute", req.Absolute))
	c.Add(ValidateNonNegative("hours", req.Hours))
	c.Add(ValidateMaxLength("note", req.Note, maxNoteLength))
	for i, p := range req.Participants {
		c.Add(ValidateRequired(fmt.Sprintf("participants[%d]", i), p))
	}
	return c.Errors()
}

// ValidateReview checks reviewer input for approve/reject.
func ValidateReview(req types.ReviewRequest) []ValidationError {
	var c Collector
	c.Add(ValidateRequired("reviewed_by", req.ReviewedBy))
	c.Add(ValidateMaxLength("review_note", req.ReviewNote, maxNoteLength))
	if req.ProgressAbsolute != nil {
		c.Add(ValidateNonNegative("progress_absolute", *req.ProgressAbsolute))
	}
	return c.Errors()
}

// ValidateUpsertTask checks an external task upsert. Zero and negative
// measurement targets are normalized downstream, not rejected here.
func ValidateUpsertTask(req types.UpsertTaskRequest) []ValidationError {
	var c Collector
	c.Add(ValidateRequired("game_id", req.GameID))
	c.Add(ValidateRequired("organization_id", req.OrganizationID))
	c.Add(ValidateRequired("project_id", req.ProjectID))
	c.Add(ValidateNonNegative("reward_points", req.RewardPoints))
	return c.Errors()
}

// ValidateKaizenCredit checks a kaizen credit request.
func ValidateKaizenCredit(req types.KaizenCreditRequest) []ValidationError {
	var c Collector
	c.Add(ValidateRequired("game_id", req.GameID))
	c.Add(ValidateNonNegative("points", req.Points))
	if len(req.Players) == 0 && len(req.Teams) == 0 {
		c.Add(&ValidationError{Field: "players", Message: "at least one player or team is required"})
	}
	return c.Errors()
}
