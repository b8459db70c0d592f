// Package engine implements the progress aggregation and points crediting
// core: task update review lifecycle, task progress resync, and delta-based
// ledger crediting.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/siteplay/tally/internal/progress"
	"github.com/siteplay/tally/internal/store"
	"github.com/siteplay/tally/internal/types"
	"github.com/siteplay/tally/internal/validation"
)

// Engine orchestrates the update lifecycle over a Store. Every operation that
// changes contributed progress runs the whole update, task, credit and ledger
// sequence inside a single transaction; version conflicts on the task row are
// retried a bounded number of times before surfacing.
type Engine struct {
	store      store.Store
	maxRetries uint64
	retryPause time.Duration
}

// New creates an Engine with default conflict-retry settings.
func New(s store.Store) *Engine {
	return &Engine{
		store:      s,
		maxRetries: 3,
		retryPause: 10 * time.Millisecond,
	}
}

// withConflictRetry runs fn in a transaction, retrying the whole transaction
// when the task row's optimistic version check fails.
func (e *Engine) withConflictRetry(ctx context.Context, fn func(tx store.Store) error) error {
	backoff := retry.WithMaxRetries(e.maxRetries, retry.NewConstant(e.retryPause))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := e.store.InTransaction(ctx, fn)
		if errors.Is(err, store.ErrVersionConflict) {
			slog.Debug("task version conflict, retrying")
			return retry.RetryableError(err)
		}
		return err
	})
}

// SubmitUpdate validates and stores a new worker submission in
// PENDING_REVIEW. The submitted percent is ignored; it is recomputed from the
// absolute value against the owning task's target.
func (e *Engine) SubmitUpdate(ctx context.Context, req types.SubmitUpdateRequest) (*types.TaskUpdate, error) {
	if err := validationFailed(validation.ValidateSubmitUpdate(req)); err != nil {
		return nil, err
	}

	task, err := e.store.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}

	update := types.TaskUpdate{
		TaskID:       req.TaskID,
		GameID:       req.GameID,
		SubmittedBy:  req.SubmittedBy,
		Participants: req.Participants,
		Absolute:     req.Absolute,
		Percent:      progress.ComputePercent(task.TotalMeasurementExpected, req.Absolute),
		Hours:        req.Hours,
		Note:         req.Note,
		Checklist:    req.Checklist,
		Status:       types.UpdatePendingReview,
	}

	created, err := e.store.CreateUpdate(ctx, update)
	if err != nil {
		return nil, err
	}

	slog.Info("update submitted",
		"update_id", created.ID,
		"task_id", created.TaskID,
		"submitted_by", created.SubmittedBy,
		"absolute", created.Absolute,
	)
	return created, nil
}

// ApproveUpdate transitions a pending update to APPROVED, resyncs the owning
// task and credits the points delta. Approving an already-APPROVED update is
// a no-op returning the current state, which makes duplicate reviewer
// requests safe.
func (e *Engine) ApproveUpdate(ctx context.Context, id string, review types.ReviewRequest) (*types.UpdateResult, error) {
	if err := validationFailed(validation.ValidateReview(review)); err != nil {
		return nil, err
	}

	var result *types.UpdateResult
	err := e.withConflictRetry(ctx, func(tx store.Store) error {
		update, err := tx.GetUpdate(ctx, id)
		if err != nil {
			return err
		}

		switch update.Status {
		case types.UpdateApproved:
			task, err := tx.GetTask(ctx, update.TaskID)
			if err != nil {
				return err
			}
			result = &types.UpdateResult{Update: *update, Task: summarize(task)}
			return nil
		case types.UpdatePendingReview:
			// fall through to the approval path
		default:
			return fmt.Errorf("%w: cannot approve a %s update", ErrInvalidState, update.Status)
		}

		task, err := tx.GetTask(ctx, update.TaskID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if review.ProgressAbsolute != nil {
			update.Absolute = *review.ProgressAbsolute
		}
		update.Percent = progress.ComputePercent(task.TotalMeasurementExpected, update.Absolute)
		update.Status = types.UpdateApproved
		update.ReviewedBy = review.ReviewedBy
		update.ReviewedAt = &now
		update.ReviewNote = review.ReviewNote

		if err := tx.SaveUpdate(ctx, update); err != nil {
			return err
		}
		if err := resyncTask(ctx, tx, task); err != nil {
			return err
		}
		if err := applyApprovalCredit(ctx, tx, task, update); err != nil {
			return err
		}

		result = &types.UpdateResult{Update: *update, Task: summarize(task)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("update approved",
		"update_id", id,
		"task_id", result.Update.TaskID,
		"reviewed_by", review.ReviewedBy,
		"task_percent", result.Task.Percent,
	)
	return result, nil
}

// RejectUpdate transitions a pending update to REJECTED. A rejected update
// never contributed, so neither the task nor any ledger is touched.
func (e *Engine) RejectUpdate(ctx context.Context, id string, review types.ReviewRequest) (*types.UpdateResult, error) {
	if err := validationFailed(validation.ValidateReview(review)); err != nil {
		return nil, err
	}

	var result *types.UpdateResult
	err := e.store.InTransaction(ctx, func(tx store.Store) error {
		update, err := tx.GetUpdate(ctx, id)
		if err != nil {
			return err
		}

		switch update.Status {
		case types.UpdateRejected:
			result = &types.UpdateResult{Update: *update}
			return nil
		case types.UpdatePendingReview:
			// fall through
		default:
			return fmt.Errorf("%w: cannot reject a %s update", ErrInvalidState, update.Status)
		}

		now := time.Now().UTC()
		update.Status = types.UpdateRejected
		update.ReviewedBy = review.ReviewedBy
		update.ReviewedAt = &now
		update.ReviewNote = review.ReviewNote

		if err := tx.SaveUpdate(ctx, update); err != nil {
			return err
		}
		result = &types.UpdateResult{Update: *update}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("update rejected", "update_id", id, "reviewed_by", review.ReviewedBy)
	return result, nil
}

// CancelUpdate withdraws an APPROVED update: the task is resynced without it
// and exactly the previously credited points are reversed. The record stays
// for audit in a terminal CANCELLED state. Cancelling an already-CANCELLED
// update is a no-op.
func (e *Engine) CancelUpdate(ctx context.Context, id string) (*types.UpdateResult, error) {
	var result *types.UpdateResult
	err := e.withConflictRetry(ctx, func(tx store.Store) error {
		update, err := tx.GetUpdate(ctx, id)
		if err != nil {
			return err
		}

		switch update.Status {
		case types.UpdateCancelled:
			task, err := tx.GetTask(ctx, update.TaskID)
			if err != nil {
				return err
			}
			result = &types.UpdateResult{Update: *update, Task: summarize(task)}
			return nil
		case types.UpdateApproved:
			// fall through
		default:
			return fmt.Errorf("%w: cannot cancel a %s update", ErrInvalidState, update.Status)
		}

		task, err := tx.GetTask(ctx, update.TaskID)
		if err != nil {
			return err
		}

		update.Status = types.UpdateCancelled
		if err := tx.SaveUpdate(ctx, update); err != nil {
			return err
		}
		if err := resyncTask(ctx, tx, task); err != nil {
			return err
		}
		if err := reverseCredit(ctx, tx, task, update); err != nil {
			return err
		}

		result = &types.UpdateResult{Update: *update, Task: summarize(task)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("update cancelled",
		"update_id", id,
		"task_id", result.Update.TaskID,
		"task_percent", result.Task.Percent,
	)
	return result, nil
}

// DeleteUpdate removes a non-contributing update record. Deleting an APPROVED
// update is refused: it must be cancelled first so the task aggregate and
// ledger are reversed, not corrupted.
func (e *Engine) DeleteUpdate(ctx context.Context, id string) error {
	return e.store.InTransaction(ctx, func(tx store.Store) error {
		update, err := tx.GetUpdate(ctx, id)
		if err != nil {
			return err
		}
		if update.Status == types.UpdateApproved {
			return fmt.Errorf("%w: cannot delete an APPROVED update, cancel it first", ErrInvalidState)
		}
		return tx.DeleteUpdate(ctx, id)
	})
}

// GetUpdate returns a single task update.
func (e *Engine) GetUpdate(ctx context.Context, id string) (*types.TaskUpdate, error) {
	return e.store.GetUpdate(ctx, id)
}

// GetTask returns a task with its progress and contributions.
func (e *Engine) GetTask(ctx context.Context, id string) (*types.Task, error) {
	return e.store.GetTask(ctx, id)
}

// ListTaskUpdates returns a task's full update history.
func (e *Engine) ListTaskUpdates(ctx context.Context, taskID string) ([]types.TaskUpdate, error) {
	if _, err := e.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return e.store.ListUpdatesByTask(ctx, taskID)
}

// UpsertTask materializes a task definition from the external CRUD system.
func (e *Engine) UpsertTask(ctx context.Context, id string, req types.UpsertTaskRequest) (*types.Task, error) {
	if err := validationFailed(validation.ValidateUpsertTask(req)); err != nil {
		return nil, err
	}
	return e.store.UpsertTask(ctx, types.Task{
		ID:                       id,
		GameID:                   req.GameID,
		OrganizationID:           req.OrganizationID,
		ProjectID:                req.ProjectID,
		TeamID:                   req.TeamID,
		RewardPoints:             req.RewardPoints,
		TotalMeasurementExpected: req.TotalMeasurementExpected.Ptr(),
		Responsible:              req.Responsible,
	})
}

// GetLedgerEntry reads one recipient's ledger entry for a game.
func (e *Engine) GetLedgerEntry(ctx context.Context, recipientID string, kind types.RecipientKind, gameID string) (*types.LedgerEntry, error) {
	return e.store.GetLedgerEntry(ctx, recipientID, kind, gameID)
}

// Leaderboard returns a game's ranked points standing.
func (e *Engine) Leaderboard(ctx context.Context, gameID string, limit int) ([]types.LeaderboardEntry, error) {
	return e.store.ListLeaderboard(ctx, gameID, limit)
}

// Stats returns aggregate store counts for diagnostics.
func (e *Engine) Stats(ctx context.Context) (*types.StoreStats, error) {
	return e.store.GetStats(ctx)
}

// resyncTask recomputes the task aggregate from its APPROVED updates and
// persists progress, status and the replaced contribution list. Summing the
// full history every time keeps repeated resyncs idempotent.
func resyncTask(ctx context.Context, tx store.Store, task *types.Task) error {
	updates, err := tx.ListUpdatesByTask(ctx, task.ID)
	if err != nil {
		return err
	}

	var absolute float64
	contributions := make([]types.Contribution, 0, len(updates))
	for _, u := range updates {
		if u.Status != types.UpdateApproved {
			continue
		}
		contributions = append(contributions, types.Contribution{UpdateID: u.ID, Absolute: u.Absolute})
		absolute += u.Absolute
	}

	task.Progress.Absolute = absolute
	task.Progress.Percent = progress.ComputePercent(task.TotalMeasurementExpected, absolute)
	if task.Progress.Percent >= 100 {
		task.Status = types.TaskCompleted
	} else {
		task.Status = types.TaskActive
	}
	task.Contributions = contributions

	if err := tx.ReplaceContributions(ctx, task.ID, contributions); err != nil {
		return err
	}
	return tx.SaveTaskProgress(ctx, task)
}

func summarize(task *types.Task) *types.TaskSummary {
	return &types.TaskSummary{
		TaskID:   task.ID,
		Absolute: task.Progress.Absolute,
		Percent:  task.Progress.Percent,
		Status:   task.Status,
	}
}
