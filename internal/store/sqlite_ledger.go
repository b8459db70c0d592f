package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/siteplay/tally/internal/types"
)

// credit applies an additive delta to one ledger entry, creating it lazily.
// The whole adjustment happens inside a single statement so concurrent credits
// to the same recipient from different tasks never lose increments.
func (s *SQLiteStore) credit(ctx context.Context, recipientID string, kind types.RecipientKind, gameID, orgID, projectID string, deltaTask, deltaKaizen float64) error {
	now := formatTime(time.Now().UTC())
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO points_ledger (recipient_id, recipient_kind, game_id, organization_id,
			project_id, task_points, kaizen_points, total_points, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ROUND(?, 4), ROUND(?, 4), ROUND(? + ?, 4), ?, ?)
		ON CONFLICT(recipient_id, recipient_kind, game_id) DO UPDATE SET
			task_points = ROUND(task_points + excluded.task_points, 4),
			kaizen_points = ROUND(kaizen_points + excluded.kaizen_points, 4),
			total_points = ROUND(task_points + excluded.task_points + kaizen_points + excluded.kaizen_points, 4),
			updated_at = excluded.updated_at
	`, recipientID, string(kind), gameID, orgID, projectID,
		deltaTask, deltaKaizen, deltaTask, deltaKaizen, now, now)
	if err != nil {
		return fmt.Errorf("credit %s ledger: %w", kind, err)
	}
	return nil
}

// CreditUser applies a points delta to a user's ledger entry for a game.
func (s *SQLiteStore) CreditUser(ctx context.Context, userID, gameID, orgID, projectID string, deltaTaskPoints, deltaKaizenPoints float64) error {
	return s.credit(ctx, userID, types.RecipientUser, gameID, orgID, projectID, deltaTaskPoints, deltaKaizenPoints)
}

// CreditTeam applies a points delta to a team's ledger entry for a game.
func (s *SQLiteStore) CreditTeam(ctx context.Context, teamID, gameID, orgID, projectID string, deltaTaskPoints, deltaKaizenPoints float64) error {
	return s.credit(ctx, teamID, types.RecipientTeam, gameID, orgID, projectID, deltaTaskPoints, deltaKaizenPoints)
}

// GetLedgerEntry reads one recipient's ledger entry for a game.
func (s *SQLiteStore) GetLedgerEntry(ctx context.Context, recipientID string, kind types.RecipientKind, gameID string) (*types.LedgerEntry, error) {
	var entry types.LedgerEntry
	var k, updatedAt string
	err := s.q.QueryRowContext(ctx, `
		SELECT recipient_id, recipient_kind, game_id, organization_id, project_id,
			task_points, kaizen_points, total_points, updated_at
		FROM points_ledger
		WHERE recipient_id = ? AND recipient_kind = ? AND game_id = ?
	`, recipientID, string(kind), gameID).Scan(
		&entry.RecipientID, &k, &entry.GameID, &entry.OrganizationID, &entry.ProjectID,
		&entry.TaskPoints, &entry.KaizenPoints, &entry.TotalPoints, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	entry.RecipientKind = types.RecipientKind(k)
	entry.UpdatedAt = parseTime(updatedAt)
	return &entry, nil
}

// ListLeaderboard returns a game's ledger entries ranked by total points.
func (s *SQLiteStore) ListLeaderboard(ctx context.Context, gameID string, limit int) ([]types.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT recipient_id, recipient_kind, task_points, kaizen_points, total_points
		FROM points_ledger
		WHERE game_id = ?
		ORDER BY total_points DESC, recipient_id
		LIMIT ?
	`, gameID, limit)
	if err != nil {
		return nil, fmt.Errorf("list leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []types.LeaderboardEntry
	rank := 0
	for rows.Next() {
		var e types.LeaderboardEntry
		var kind string
		if err := rows.Scan(&e.RecipientID, &kind, &e.TaskPoints, &e.KaizenPoints, &e.TotalPoints); err != nil {
			return nil, fmt.Errorf("scan leaderboard entry: %w", err)
		}
		rank++
		e.Rank = rank
		e.RecipientKind = types.RecipientKind(kind)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboard: %w", err)
	}
	return entries, nil
}

// GetCreditRecord reads the idempotency record for an update or kaizen.
func (s *SQLiteStore) GetCreditRecord(ctx context.Context, subjectID string) (*types.CreditRecord, error) {
	var record types.CreditRecord
	var kind, updatedAt string
	var taskID sql.NullString
	err := s.q.QueryRowContext(ctx, `
		SELECT subject_id, kind, task_id, points, updated_at
		FROM credit_records WHERE subject_id = ?
	`, subjectID).Scan(&record.SubjectID, &kind, &taskID, &record.Points, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get credit record: %w", err)
	}
	record.Kind = types.CreditKind(kind)
	record.TaskID = taskID.String
	record.UpdatedAt = parseTime(updatedAt)
	return &record, nil
}

// SetCreditRecord writes the points-already-credited marker for a subject.
func (s *SQLiteStore) SetCreditRecord(ctx context.Context, record types.CreditRecord) error {
	now := formatTime(time.Now().UTC())
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO credit_records (subject_id, kind, task_id, points, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(subject_id) DO UPDATE SET
			kind = excluded.kind,
			task_id = excluded.task_id,
			points = excluded.points,
			updated_at = excluded.updated_at
	`, record.SubjectID, string(record.Kind), nullString(record.TaskID), record.Points, now)
	if err != nil {
		return fmt.Errorf("set credit record: %w", err)
	}
	return nil
}

// ClearCreditRecord removes a subject's idempotency record after reversal.
func (s *SQLiteStore) ClearCreditRecord(ctx context.Context, subjectID string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM credit_records WHERE subject_id = ?`, subjectID); err != nil {
		return fmt.Errorf("clear credit record: %w", err)
	}
	return nil
}
