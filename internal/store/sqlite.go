package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/siteplay/tally/internal/types"
	_ "modernc.org/sqlite"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore is the SQLite-backed persistence layer for tasks, updates,
// the points ledger and credit records.
type SQLiteStore struct {
	db   *sql.DB
	q    querier
	path string
	inTx bool
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps the pragmas in force for every statement and
	// serializes writers, so concurrent transactions surface as version
	// conflicts instead of SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, q: db, path: dbPath}, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InTransaction runs fn against a transaction-scoped Store. The transaction
// commits only if fn returns nil. Calls made while already inside a
// transaction reuse it.
func (s *SQLiteStore) InTransaction(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	txStore := &SQLiteStore{db: s.db, q: tx, path: s.path, inTx: true}
	if err := fn(txStore); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const taskColumns = `id, game_id, organization_id, project_id, team_id, reward_points,
	total_measurement_expected, responsible, progress_absolute, progress_percent,
	progress_updated_at, status, version, created_at, updated_at`

// UpsertTask creates or refreshes a task's definition fields. Progress,
// status and version are owned by the engine and are never touched here.
func (s *SQLiteStore) UpsertTask(ctx context.Context, task types.Task) (*types.Task, error) {
	responsible, err := marshalStrings(task.Responsible)
	if err != nil {
		return nil, fmt.Errorf("marshal responsible: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO tasks (id, game_id, organization_id, project_id, team_id, reward_points,
			total_measurement_expected, responsible, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'active', ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			game_id = excluded.game_id,
			organization_id = excluded.organization_id,
			project_id = excluded.project_id,
			team_id = excluded.team_id,
			reward_points = excluded.reward_points,
			total_measurement_expected = excluded.total_measurement_expected,
			responsible = excluded.responsible,
			updated_at = excluded.updated_at
	`, task.ID, task.GameID, task.OrganizationID, task.ProjectID,
		nullString(task.TeamID), task.RewardPoints, nullFloat(task.TotalMeasurementExpected),
		responsible, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("upsert task: %w", err)
	}

	return s.GetTask(ctx, task.ID)
}

// GetTask retrieves a task with its contributions list.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*types.Task, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT update_id, absolute FROM task_contributions
		WHERE task_id = ? ORDER BY update_id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("get contributions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c types.Contribution
		if err := rows.Scan(&c.UpdateID, &c.Absolute); err != nil {
			return nil, fmt.Errorf("scan contribution: %w", err)
		}
		task.Contributions = append(task.Contributions, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contributions: %w", err)
	}

	return task, nil
}

// SaveTaskProgress persists the task's progress and status under optimistic
// versioning. The task's in-memory version is advanced on success.
func (s *SQLiteStore) SaveTaskProgress(ctx context.Context, task *types.Task) error {
	now := time.Now().UTC()
	res, err := s.q.ExecContext(ctx, `
		UPDATE tasks
		SET progress_absolute = ?, progress_percent = ?, progress_updated_at = ?,
			status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, task.Progress.Absolute, task.Progress.Percent, formatTime(now),
		string(task.Status), formatTime(now), task.ID, task.Version)
	if err != nil {
		return fmt.Errorf("save task progress: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var exists int
		if err := s.q.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, task.ID).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("check task existence: %w", err)
		}
		return ErrVersionConflict
	}

	task.Version++
	task.Progress.UpdatedAt = now
	task.UpdatedAt = now
	return nil
}

// ReplaceContributions swaps the task's contribution list wholesale, keeping
// repeated resyncs idempotent.
func (s *SQLiteStore) ReplaceContributions(ctx context.Context, taskID string, contributions []types.Contribution) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM task_contributions WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("clear contributions: %w", err)
	}

	for _, c := range contributions {
		if _, err := s.q.ExecContext(ctx, `
			INSERT INTO task_contributions (task_id, update_id, absolute) VALUES (?, ?, ?)
		`, taskID, c.UpdateID, c.Absolute); err != nil {
			return fmt.Errorf("insert contribution: %w", err)
		}
	}
	return nil
}

const updateColumns = `id, task_id, game_id, submitted_by, participants, absolute, percent,
	hours, note, checklist, status, reviewed_by, reviewed_at, review_note, created_at, updated_at`

// CreateUpdate stores a new task update. A ULID is assigned when the ID is empty.
func (s *SQLiteStore) CreateUpdate(ctx context.Context, update types.TaskUpdate) (*types.TaskUpdate, error) {
	if update.ID == "" {
		update.ID = ulid.Make().String()
	}
	now := time.Now().UTC()
	update.CreatedAt = now
	update.UpdatedAt = now
	if update.Status == "" {
		update.Status = types.UpdatePendingReview
	}

	participants, err := marshalStrings(update.Participants)
	if err != nil {
		return nil, fmt.Errorf("marshal participants: %w", err)
	}
	checklist, err := json.Marshal(orEmptyChecklist(update.Checklist))
	if err != nil {
		return nil, fmt.Errorf("marshal checklist: %w", err)
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO task_updates (id, task_id, game_id, submitted_by, participants, absolute,
			percent, hours, note, checklist, status, reviewed_by, reviewed_at, review_note,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, update.ID, update.TaskID, update.GameID, update.SubmittedBy, participants,
		update.Absolute, update.Percent, update.Hours, update.Note, string(checklist),
		string(update.Status), nullString(update.ReviewedBy), nullTime(update.ReviewedAt),
		nullString(update.ReviewNote), formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert update: %w", err)
	}

	return &update, nil
}

// GetUpdate retrieves a task update by ID.
func (s *SQLiteStore) GetUpdate(ctx context.Context, id string) (*types.TaskUpdate, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+updateColumns+` FROM task_updates WHERE id = ?`, id)
	update, err := scanUpdate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get update: %w", err)
	}
	return update, nil
}

// SaveUpdate persists review state and progress fields of an existing update.
func (s *SQLiteStore) SaveUpdate(ctx context.Context, update *types.TaskUpdate) error {
	now := time.Now().UTC()
	update.UpdatedAt = now

	participants, err := marshalStrings(update.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	checklist, err := json.Marshal(orEmptyChecklist(update.Checklist))
	if err != nil {
		return fmt.Errorf("marshal checklist: %w", err)
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE task_updates
		SET participants = ?, absolute = ?, percent = ?, hours = ?, note = ?, checklist = ?,
			status = ?, reviewed_by = ?, reviewed_at = ?, review_note = ?, updated_at = ?
		WHERE id = ?
	`, participants, update.Absolute, update.Percent, update.Hours, update.Note,
		string(checklist), string(update.Status), nullString(update.ReviewedBy),
		nullTime(update.ReviewedAt), nullString(update.ReviewNote), formatTime(now), update.ID)
	if err != nil {
		return fmt.Errorf("save update: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUpdate removes a task update row.
func (s *SQLiteStore) DeleteUpdate(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM task_updates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete update: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUpdatesByTask returns all updates for a task in submission order.
func (s *SQLiteStore) ListUpdatesByTask(ctx context.Context, taskID string) ([]types.TaskUpdate, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+updateColumns+` FROM task_updates WHERE task_id = ? ORDER BY created_at, id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list updates: %w", err)
	}
	defer rows.Close()

	var updates []types.TaskUpdate
	for rows.Next() {
		update, err := scanUpdate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan update: %w", err)
		}
		updates = append(updates, *update)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate updates: %w", err)
	}
	return updates, nil
}

// GetStats returns aggregate row counts.
func (s *SQLiteStore) GetStats(ctx context.Context) (*types.StoreStats, error) {
	var stats types.StoreStats
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&stats.TaskCount); err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_updates`).Scan(&stats.UpdateCount); err != nil {
		return nil, fmt.Errorf("count updates: %w", err)
	}
	return &stats, nil
}

// scanTask scans a task row (without contributions).
func scanTask(scanner interface{ Scan(...any) error }) (*types.Task, error) {
	var task types.Task
	var teamID sql.NullString
	var target sql.NullFloat64
	var responsibleJSON string
	var progressUpdatedAt sql.NullString
	var status, createdAt, updatedAt string

	err := scanner.Scan(
		&task.ID, &task.GameID, &task.OrganizationID, &task.ProjectID, &teamID,
		&task.RewardPoints, &target, &responsibleJSON, &task.Progress.Absolute,
		&task.Progress.Percent, &progressUpdatedAt, &status, &task.Version,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.TeamID = teamID.String
	if target.Valid {
		v := target.Float64
		task.TotalMeasurementExpected = &v
	}
	if err := json.Unmarshal([]byte(responsibleJSON), &task.Responsible); err != nil {
		return nil, fmt.Errorf("parse responsible: %w", err)
	}
	task.Status = types.TaskStatus(status)
	task.CreatedAt = parseTime(createdAt)
	task.UpdatedAt = parseTime(updatedAt)
	if progressUpdatedAt.Valid {
		task.Progress.UpdatedAt = parseTime(progressUpdatedAt.String)
	}
	return &task, nil
}

// scanUpdate scans a task update row.
func scanUpdate(scanner interface{ Scan(...any) error }) (*types.TaskUpdate, error) {
	var update types.TaskUpdate
	var participantsJSON, checklistJSON string
	var status, createdAt, updatedAt string
	var reviewedBy, reviewedAt, reviewNote sql.NullString

	err := scanner.Scan(
		&update.ID, &update.TaskID, &update.GameID, &update.SubmittedBy,
		&participantsJSON, &update.Absolute, &update.Percent, &update.Hours,
		&update.Note, &checklistJSON, &status, &reviewedBy, &reviewedAt,
		&reviewNote, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(participantsJSON), &update.Participants); err != nil {
		return nil, fmt.Errorf("parse participants: %w", err)
	}
	if err := json.Unmarshal([]byte(checklistJSON), &update.Checklist); err != nil {
		return nil, fmt.Errorf("parse checklist: %w", err)
	}
	update.Status = types.UpdateStatus(status)
	update.ReviewedBy = reviewedBy.String
	update.ReviewNote = reviewNote.String
	if reviewedAt.Valid {
		t := parseTime(reviewedAt.String)
		update.ReviewedAt = &t
	}
	update.CreatedAt = parseTime(createdAt)
	update.UpdatedAt = parseTime(updatedAt)
	return &update, nil
}

func marshalStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func orEmptyChecklist(items []types.ChecklistItem) []types.ChecklistItem {
	if items == nil {
		return []types.ChecklistItem{}
	}
	return items
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
