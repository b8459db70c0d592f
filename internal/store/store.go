package store

import (
	"context"

	"github.com/siteplay/tally/internal/types"
)

// Store defines the persistence contract for the progress and points engine.
//
// All read-modify-write sequences that span an update, its task and the
// ledger must run inside InTransaction; the Store passed to the callback
// operates on the same transaction and commits only if the callback returns
// nil.
type Store interface {
	// Tasks. UpsertTask writes definition fields only; progress, status and
	// version belong to the engine and are saved through SaveTaskProgress,
	// which enforces optimistic versioning (ErrVersionConflict on a lost race).
	UpsertTask(ctx context.Context, task types.Task) (*types.Task, error)
	GetTask(ctx context.Context, id string) (*types.Task, error)
	SaveTaskProgress(ctx context.Context, task *types.Task) error
	ReplaceContributions(ctx context.Context, taskID string, contributions []types.Contribution) error

	// Task updates.
	CreateUpdate(ctx context.Context, update types.TaskUpdate) (*types.TaskUpdate, error)
	GetUpdate(ctx context.Context, id string) (*types.TaskUpdate, error)
	SaveUpdate(ctx context.Context, update *types.TaskUpdate) error
	DeleteUpdate(ctx context.Context, id string) error
	ListUpdatesByTask(ctx context.Context, taskID string) ([]types.TaskUpdate, error)

	// Points ledger. Credits are atomic additive upserts, never read-then-write.
	CreditUser(ctx context.Context, userID, gameID, orgID, projectID string, deltaTaskPoints, deltaKaizenPoints float64) error
	CreditTeam(ctx context.Context, teamID, gameID, orgID, projectID string, deltaTaskPoints, deltaKaizenPoints float64) error
	GetLedgerEntry(ctx context.Context, recipientID string, kind types.RecipientKind, gameID string) (*types.LedgerEntry, error)
	ListLeaderboard(ctx context.Context, gameID string, limit int) ([]types.LeaderboardEntry, error)

	// Credit records (idempotency ledger).
	GetCreditRecord(ctx context.Context, subjectID string) (*types.CreditRecord, error)
	SetCreditRecord(ctx context.Context, record types.CreditRecord) error
	ClearCreditRecord(ctx context.Context, subjectID string) error

	// Operational.
	GetStats(ctx context.Context) (*types.StoreStats, error)
	InTransaction(ctx context.Context, fn func(tx Store) error) error
	GenerateSnapshot(ctx context.Context) error
	GetSnapshotPath() string
	Close() error
}
