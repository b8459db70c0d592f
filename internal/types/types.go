package types

import (
	"time"
)

// UpdateStatus represents the review lifecycle state of a task update.
type UpdateStatus string

const (
	UpdatePendingReview UpdateStatus = "PENDING_REVIEW"
	UpdateApproved      UpdateStatus = "APPROVED"
	UpdateRejected      UpdateStatus = "REJECTED"
	UpdateCancelled     UpdateStatus = "CANCELLED"
)

// TaskStatus represents the completion state of a task.
type TaskStatus string

const (
	TaskActive    TaskStatus = "active"
	TaskCompleted TaskStatus = "completed"
)

// RecipientKind distinguishes the user and team points ledgers.
type RecipientKind string

const (
	RecipientUser RecipientKind = "user"
	RecipientTeam RecipientKind = "team"
)

// CreditKind identifies the producer that wrote a credit record.
type CreditKind string

const (
	CreditTaskUpdate CreditKind = "task_update"
	CreditKaizen     CreditKind = "kaizen"
)

// Contribution is one approved update's share of a task's progress.
type Contribution struct {
	UpdateID string  `json:"update_id"`
	Absolute float64 `json:"absolute"`
}

// TaskProgress is the aggregate progress carried on a task.
type TaskProgress struct {
	Absolute  float64   `json:"absolute"`
	Percent   float64   `json:"percent"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Task is a point-earning unit of work with an optional measurement target.
// Tasks are created by the surrounding CRUD system; this service only ever
// rewrites their progress, status and contributions.
type Task struct {
	ID                       string         `json:"id"`
	GameID                   string         `json:"game_id"`
	OrganizationID           string         `json:"organization_id"`
	ProjectID                string         `json:"project_id"`
	TeamID                   string         `json:"team_id,omitempty"`
	RewardPoints             float64        `json:"reward_points"`
	TotalMeasurementExpected *float64       `json:"total_measurement_expected,omitempty"`
	Responsible              []string       `json:"responsible,omitempty"`
	Progress                 TaskProgress   `json:"progress"`
	Status                   TaskStatus     `json:"status"`
	Contributions            []Contribution `json:"contributions,omitempty"`
	Version                  int64          `json:"-"`
	CreatedAt                time.Time      `json:"created_at"`
	UpdatedAt                time.Time      `json:"updated_at"`
}

// ChecklistItem is a single line of a worker-submitted checklist.
type ChecklistItem struct {
	Label string `json:"label"`
	Done  bool   `json:"done"`
}

// TaskUpdate is one worker submission against a task. Percent is always
// server-computed from Absolute and the owning task's target; the value a
// client sends is ignored.
type TaskUpdate struct {
	ID           string          `json:"id"`
	TaskID       string          `json:"task_id"`
	GameID       string          `json:"game_id"`
	SubmittedBy  string          `json:"submitted_by"`
	Participants []string        `json:"participants,omitempty"`
	Absolute     float64         `json:"absolute"`
	Percent      float64         `json:"percent"`
	Hours        float64         `json:"hours,omitempty"`
	Note         string          `json:"note,omitempty"`
	Checklist    []ChecklistItem `json:"checklist,omitempty"`
	Status       UpdateStatus    `json:"status"`
	ReviewedBy   string          `json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time      `json:"reviewed_at,omitempty"`
	ReviewNote   string          `json:"review_note,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// LedgerEntry is the running points total for one recipient in one game.
type LedgerEntry struct {
	RecipientID    string        `json:"recipient_id"`
	RecipientKind  RecipientKind `json:"recipient_kind"`
	GameID         string        `json:"game_id"`
	OrganizationID string        `json:"organization_id"`
	ProjectID      string        `json:"project_id"`
	TaskPoints     float64       `json:"task_points"`
	KaizenPoints   float64       `json:"kaizen_points"`
	TotalPoints    float64       `json:"total_points"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// CreditRecord tracks how many points a single update (or kaizen) has already
// pushed into the ledger, so repeated approvals credit only the difference and
// cancellations can reverse the exact amount.
type CreditRecord struct {
	SubjectID string     `json:"subject_id"`
	Kind      CreditKind `json:"kind"`
	TaskID    string     `json:"task_id,omitempty"`
	Points    float64    `json:"points"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TaskSummary is the resynced task state returned from approve/cancel.
type TaskSummary struct {
	TaskID   string     `json:"task_id"`
	Absolute float64    `json:"absolute"`
	Percent  float64    `json:"percent"`
	Status   TaskStatus `json:"status"`
}

// SubmitUpdateRequest is the payload for submitting a new task update.
type SubmitUpdateRequest struct {
	TaskID       string          `json:"task_id"`
	GameID       string          `json:"game_id"`
	SubmittedBy  string          `json:"submitted_by"`
	Participants []string        `json:"participants,omitempty"`
	Absolute     float64         `json:"absolute"`
	Percent      float64         `json:"percent,omitempty"`
	Hours        float64         `json:"hours,omitempty"`
	Note         string          `json:"note,omitempty"`
	Checklist    []ChecklistItem `json:"checklist,omitempty"`
}

// ReviewRequest carries reviewer metadata for approve/reject. On approval the
// reviewer may override the submitted absolute progress.
type ReviewRequest struct {
	ReviewedBy       string   `json:"reviewed_by"`
	ReviewNote       string   `json:"review_note,omitempty"`
	ProgressAbsolute *float64 `json:"progress_absolute,omitempty"`
}

// UpdateResult pairs an update with the owning task's resynced summary for
// operations that changed contributed progress.
type UpdateResult struct {
	Update TaskUpdate   `json:"update"`
	Task   *TaskSummary `json:"task,omitempty"`
}

// UpsertTaskRequest is the payload the external CRUD system uses to materialize
// a task row in this service's schema. The target quantity may arrive as a
// JSON number, a numeric string, or null.
type UpsertTaskRequest struct {
	GameID                   string   `json:"game_id"`
	OrganizationID           string   `json:"organization_id"`
	ProjectID                string   `json:"project_id"`
	TeamID                   string   `json:"team_id,omitempty"`
	RewardPoints             float64  `json:"reward_points"`
	TotalMeasurementExpected Quantity `json:"total_measurement_expected"`
	Responsible              []string `json:"responsible,omitempty"`
}

// KaizenCreditRequest credits a fixed point amount to the responsibles of an
// approved kaizen. Idempotent per kaizen id.
type KaizenCreditRequest struct {
	GameID         string   `json:"game_id"`
	OrganizationID string   `json:"organization_id"`
	ProjectID      string   `json:"project_id"`
	Points         float64  `json:"points"`
	Players        []string `json:"players,omitempty"`
	Teams          []string `json:"teams,omitempty"`
}

// LeaderboardEntry is one ranked row of a game's points standing.
type LeaderboardEntry struct {
	Rank          int           `json:"rank"`
	RecipientID   string        `json:"recipient_id"`
	RecipientKind RecipientKind `json:"recipient_kind"`
	TaskPoints    float64       `json:"task_points"`
	KaizenPoints  float64       `json:"kaizen_points"`
	TotalPoints   float64       `json:"total_points"`
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	TaskCount   int64  `json:"task_count"`
	UpdateCount int64  `json:"update_count"`
}

// StoreStats holds aggregate row counts for the health endpoint.
type StoreStats struct {
	TaskCount   int64
	UpdateCount int64
}
