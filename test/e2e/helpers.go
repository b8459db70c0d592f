package e2e

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/siteplay/tally/internal/api"
	"github.com/siteplay/tally/internal/engine"
	"github.com/siteplay/tally/internal/store"
	"github.com/siteplay/tally/pkg/tally"
	_ "modernc.org/sqlite"
)

const testAPIKey = "e2e-test-key"

// startServer boots a full server over a fresh database and returns a client
// pointed at it, plus the server's base URL for building extra clients.
func startServer(t *testing.T) (*tally.Client, string) {
	t.Helper()

	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "tally.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	handler := api.NewHandler(engine.New(db), testAPIKey, "e2e")
	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)

	return tally.New(srv.URL, testAPIKey), srv.URL
}

func seedTask(t *testing.T, client *tally.Client, id string, reward float64, target float64) *tally.Task {
	t.Helper()
	req := tally.UpsertTaskRequest{
		GameID:         "game-1",
		OrganizationID: "org-1",
		ProjectID:      "proj-1",
		RewardPoints:   reward,
	}
	if target > 0 {
		req.TotalMeasurementExpected = tally.QuantityOf(target)
	}
	task, err := client.UpsertTask(context.Background(), id, req)
	if err != nil {
		t.Fatalf("upsert task: %v", err)
	}
	return task
}

func submitUpdate(t *testing.T, client *tally.Client, taskID, userID string, absolute float64) *tally.TaskUpdate {
	t.Helper()
	update, err := client.SubmitUpdate(context.Background(), tally.SubmitUpdateRequest{
		TaskID:      taskID,
		GameID:      "game-1",
		SubmittedBy: userID,
		Absolute:    absolute,
	})
	if err != nil {
		t.Fatalf("submit update: %v", err)
	}
	return update
}

func approveUpdate(t *testing.T, client *tally.Client, id string) *tally.UpdateResult {
	t.Helper()
	result, err := client.ApproveUpdate(context.Background(), id, tally.ReviewRequest{ReviewedBy: "reviewer-1"})
	if err != nil {
		t.Fatalf("approve update: %v", err)
	}
	return result
}
