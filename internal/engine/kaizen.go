package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/siteplay/tally/internal/progress"
	"github.com/siteplay/tally/internal/store"
	"github.com/siteplay/tally/internal/types"
	"github.com/siteplay/tally/internal/validation"
)

// ApplyKaizenCredit credits the fixed point amount of an approved kaizen to
// its responsible players and teams. Idempotent per kaizen id through the
// same credit-record mechanism tasks use, writing kaizen points instead of
// a progress-proportional amount.
func (e *Engine) ApplyKaizenCredit(ctx context.Context, kaizenID string, req types.KaizenCreditRequest) (*types.CreditRecord, error) {
	if err := validationFailed(validation.ValidateKaizenCredit(req)); err != nil {
		return nil, err
	}

	result := types.CreditRecord{
		SubjectID: kaizenID,
		Kind:      types.CreditKaizen,
		Points:    progress.Round4(req.Points),
	}

	err := e.store.InTransaction(ctx, func(tx store.Store) error {
		var already float64
		record, err := tx.GetCreditRecord(ctx, kaizenID)
		switch {
		case err == nil:
			already = record.Points
		case errors.Is(err, store.ErrNotFound):
			// first credit for this kaizen
		default:
			return err
		}

		delta := progress.Round4(result.Points - already)
		if delta == 0 {
			return nil
		}

		for _, userID := range req.Players {
			if err := tx.CreditUser(ctx, userID, req.GameID, req.OrganizationID, req.ProjectID, 0, delta); err != nil {
				return err
			}
		}
		for _, teamID := range req.Teams {
			if err := tx.CreditTeam(ctx, teamID, req.GameID, req.OrganizationID, req.ProjectID, 0, delta); err != nil {
				return err
			}
		}

		return tx.SetCreditRecord(ctx, result)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("kaizen credited", "kaizen_id", kaizenID, "points", result.Points)
	return &result, nil
}

// ReverseKaizenCredit backs out a kaizen's previously credited points. The
// caller re-supplies the responsibles set because kaizen entities live
// outside this service; an unknown kaizen id is a no-op.
func (e *Engine) ReverseKaizenCredit(ctx context.Context, kaizenID string, req types.KaizenCreditRequest) error {
	err := e.store.InTransaction(ctx, func(tx store.Store) error {
		record, err := tx.GetCreditRecord(ctx, kaizenID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}

		delta := progress.Round4(-record.Points)
		if delta != 0 {
			for _, userID := range req.Players {
				if err := tx.CreditUser(ctx, userID, req.GameID, req.OrganizationID, req.ProjectID, 0, delta); err != nil {
					return err
				}
			}
			for _, teamID := range req.Teams {
				if err := tx.CreditTeam(ctx, teamID, req.GameID, req.OrganizationID, req.ProjectID, 0, delta); err != nil {
					return err
				}
			}
		}

		return tx.ClearCreditRecord(ctx, kaizenID)
	})
	if err != nil {
		return err
	}

	slog.Info("kaizen credit reversed", "kaizen_id", kaizenID)
	return nil
}
