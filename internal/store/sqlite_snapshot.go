package store

import (
	"context"
	"fmt"
	"os"
)

// GetSnapshotPath returns the path snapshots are written to.
func (s *SQLiteStore) GetSnapshotPath() string {
	return s.path + ".snapshot"
}

// GenerateSnapshot writes a consistent copy of the database to the snapshot
// path using VACUUM INTO. Any previous snapshot is replaced.
func (s *SQLiteStore) GenerateSnapshot(ctx context.Context) error {
	if s.inTx {
		return fmt.Errorf("generate snapshot: not allowed inside a transaction")
	}

	path := s.GetSnapshotPath()
	// VACUUM INTO refuses to overwrite an existing file.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove previous snapshot: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("vacuum into snapshot: %w", err)
	}
	return nil
}
