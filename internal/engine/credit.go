package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/siteplay/tally/internal/progress"
	"github.com/siteplay/tally/internal/store"
	"github.com/siteplay/tally/internal/types"
)

// resolveRecipients returns the user IDs credit for an update goes to: the
// participants list, falling back to the submitter when empty. Resolved once
// per operation so crediting and reversal stay symmetric.
func resolveRecipients(update *types.TaskUpdate) []string {
	if len(update.Participants) > 0 {
		return update.Participants
	}
	return []string{update.SubmittedBy}
}

// applyApprovalCredit prices the approved update from its own capped percent
// and credits only the difference against what its credit record already
// holds. The task's team, when present, receives the full delta additively.
func applyApprovalCredit(ctx context.Context, tx store.Store, task *types.Task, update *types.TaskUpdate) error {
	target := progress.Points(update.Percent, task.RewardPoints)

	var already float64
	record, err := tx.GetCreditRecord(ctx, update.ID)
	switch {
	case err == nil:
		already = record.Points
	case errors.Is(err, store.ErrNotFound):
		// first credit for this update
	default:
		return err
	}

	delta := progress.Round4(target - already)
	if delta == 0 {
		return nil
	}

	for _, userID := range resolveRecipients(update) {
		if err := tx.CreditUser(ctx, userID, update.GameID, task.OrganizationID, task.ProjectID, delta, 0); err != nil {
			return err
		}
	}
	if task.TeamID != "" {
		if err := tx.CreditTeam(ctx, task.TeamID, update.GameID, task.OrganizationID, task.ProjectID, delta, 0); err != nil {
			return err
		}
	}

	if err := tx.SetCreditRecord(ctx, types.CreditRecord{
		SubjectID: update.ID,
		Kind:      types.CreditTaskUpdate,
		TaskID:    task.ID,
		Points:    target,
	}); err != nil {
		return err
	}

	slog.Info("points credited",
		"update_id", update.ID,
		"task_id", task.ID,
		"delta", delta,
		"total_for_update", target,
	)
	return nil
}

// reverseCredit backs out exactly the points the update's credit record holds
// and clears the record. Reversal walks the same recipient list as crediting.
func reverseCredit(ctx context.Context, tx store.Store, task *types.Task, update *types.TaskUpdate) error {
	record, err := tx.GetCreditRecord(ctx, update.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	delta := progress.Round4(-record.Points)
	if delta != 0 {
		for _, userID := range resolveRecipients(update) {
			if err := tx.CreditUser(ctx, userID, update.GameID, task.OrganizationID, task.ProjectID, delta, 0); err != nil {
				return err
			}
		}
		if task.TeamID != "" {
			if err := tx.CreditTeam(ctx, task.TeamID, update.GameID, task.OrganizationID, task.ProjectID, delta, 0); err != nil {
				return err
			}
		}
	}

	if err := tx.ClearCreditRecord(ctx, update.ID); err != nil {
		return err
	}

	slog.Info("points reversed",
		"update_id", update.ID,
		"task_id", task.ID,
		"reversed", record.Points,
	)
	return nil
}
