// Package worker contains the background loops that run beside the HTTP
// server, currently only the periodic database backup.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/siteplay/tally/internal/snapshot"
)

// BackupCapableStore represents a store that can generate snapshot files.
type BackupCapableStore interface {
	GenerateSnapshot(ctx context.Context) error
	GetSnapshotPath() string
}

// BackupCoordinator periodically snapshots the database and hands the file
// to the uploader.
type BackupCoordinator struct {
	store    BackupCapableStore
	uploader snapshot.Uploader
	interval time.Duration
}

// NewBackupCoordinator creates a coordinator that backs up the given store
// every interval. The uploader decides whether the file leaves the host.
func NewBackupCoordinator(store BackupCapableStore, interval time.Duration, uploader snapshot.Uploader) *BackupCoordinator {
	return &BackupCoordinator{
		store:    store,
		uploader: uploader,
		interval: interval,
	}
}

// Run starts the coordinator loop.
func (c *BackupCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "backup-coordinator",
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Take a backup immediately on start
	c.backup(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "backup-coordinator",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.backup(ctx)
		}
	}
}

func (c *BackupCoordinator) backup(ctx context.Context) {
	if err := c.store.GenerateSnapshot(ctx); err != nil {
		slog.Error("snapshot generation failed", "error", err)
		return
	}

	path := c.store.GetSnapshotPath()
	if err := c.uploader.Upload(ctx, path); err != nil {
		slog.Error("snapshot upload failed", "error", err, "path", path)
		return
	}

	slog.Info("backup completed", "path", path)
}
