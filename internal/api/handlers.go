package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/siteplay/tally/internal/types"
)

// Engine is the surface of the crediting core the HTTP layer consumes.
type Engine interface {
	SubmitUpdate(ctx context.Context, req types.SubmitUpdateRequest) (*types.TaskUpdate, error)
	ApproveUpdate(ctx context.Context, id string, review types.ReviewRequest) (*types.UpdateResult, error)
	RejectUpdate(ctx context.Context, id string, review types.ReviewRequest) (*types.UpdateResult, error)
	CancelUpdate(ctx context.Context, id string) (*types.UpdateResult, error)
	DeleteUpdate(ctx context.Context, id string) error
	GetUpdate(ctx context.Context, id string) (*types.TaskUpdate, error)
	GetTask(ctx context.Context, id string) (*types.Task, error)
	ListTaskUpdates(ctx context.Context, taskID string) ([]types.TaskUpdate, error)
	UpsertTask(ctx context.Context, id string, req types.UpsertTaskRequest) (*types.Task, error)
	ApplyKaizenCredit(ctx context.Context, kaizenID string, req types.KaizenCreditRequest) (*types.CreditRecord, error)
	ReverseKaizenCredit(ctx context.Context, kaizenID string, req types.KaizenCreditRequest) error
	GetLedgerEntry(ctx context.Context, recipientID string, kind types.RecipientKind, gameID string) (*types.LedgerEntry, error)
	Leaderboard(ctx context.Context, gameID string, limit int) ([]types.LeaderboardEntry, error)
	Stats(ctx context.Context) (*types.StoreStats, error)
}

// Handler implements the API handlers
type Handler struct {
	engine  Engine
	apiKey  string
	version string
}

// NewHandler creates a new Handler over the crediting engine.
func NewHandler(e Engine, apiKey, version string) *Handler {
	return &Handler{
		engine:  e,
		apiKey:  apiKey,
		version: version,
	}
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:      "healthy",
		Version:     h.version,
		TaskCount:   stats.TaskCount,
		UpdateCount: stats.UpdateCount,
	})
}

// SubmitUpdate handles POST /api/v1/updates
func (h *Handler) SubmitUpdate(w http.ResponseWriter, r *http.Request) {
	var req types.SubmitUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	update, err := h.engine.SubmitUpdate(r.Context(), req)
	if err != nil {
		MapEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, update)
}

// GetUpdate handles GET /api/v1/updates/{id}
func (h *Handler) GetUpdate(w http.ResponseWriter, r *http.Request) {
	update, err := h.engine.GetUpdate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		MapEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, update)
}

// ApproveUpdate handles POST /api/v1/updates/{id}/approve
func (h *Handler) ApproveUpdate(w http.ResponseWriter, r *http.Request) {
	var review types.ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&review); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	result, err := h.engine.ApproveUpdate(r.Context(), chi.URLParam(r, "id"), review)
	if err != nil {
		MapEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RejectUpdate handles POST /api/v1/updates/{id}/reject
func (h *Handler) RejectUpdate(w http.ResponseWriter, r *http.Request) {
	var review types.ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&review); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	result, err := h.engine.RejectUpdate(r.Context(), chi.URLParam(r, "id"), review)
	if err != nil {
		MapEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CancelUpdate handles POST /api/v1/updates/{id}/cancel
func (h *Handler) CancelUpdate(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.CancelUpdate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		MapEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// DeleteUpdate handles DELETE /api/v1/updates/{id}
func (h *Handler) DeleteUpdate(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteUpdate(r.Context(), chi.URLParam(r, "id")); err != nil {
		MapEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpsertTask handles PUT /api/v1/tasks/{id}
func (h *Handler) UpsertTask(w http.ResponseWriter, r *http.Request) {
	var req types.UpsertTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	task, err := h.engine.UpsertTask(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		MapEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// GetTask handles GET /api/v1/tasks/{id}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.engine.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		MapEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ListTaskUpdates handles GET /api/v1/tasks/{id}/updates
func (h *Handler) ListTaskUpdates(w http.ResponseWriter, r *http.Request) {
	updates, err := h.engine.ListTaskUpdates(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		MapEngineError(w, r, err)
		return
	}
	if updates == nil {
		updates = []types.TaskUpdate{}
	}
	writeJSON(w, http.StatusOK, updates)
}

// CreditKaizen handles POST /api/v1/kaizens/{id}/credit
func (h *Handler) CreditKaizen(w http.ResponseWriter, r *http.Request) {
	var req types.KaizenCreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	record, err := h.engine.ApplyKaizenCredit(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		MapEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// ReverseKaizen handles POST /api/v1/kaizens/{id}/reverse
func (h *Handler) ReverseKaizen(w http.ResponseWriter, r *http.Request) {
	var req types.KaizenCreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	if err := h.engine.ReverseKaizenCredit(r.Context(), chi.URLParam(r, "id"), req); err != nil {
		MapEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetUserLedger handles GET /api/v1/games/{gameID}/ledger/users/{userID}
func (h *Handler) GetUserLedger(w http.ResponseWriter, r *http.Request) {
	entry, err := h.engine.GetLedgerEntry(r.Context(), chi.URLParam(r, "userID"), types.RecipientUser, chi.URLParam(r, "gameID"))
	if err != nil {
		MapEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// GetTeamLedger handles GET /api/v1/games/{gameID}/ledger/teams/{teamID}
func (h *Handler) GetTeamLedger(w http.ResponseWriter, r *http.Request) {
	entry, err := h.engine.GetLedgerEntry(r.Context(), chi.URLParam(r, "teamID"), types.RecipientTeam, chi.URLParam(r, "gameID"))
	if err != nil {
		MapEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Leaderboard handles GET /api/v1/games/{gameID}/leaderboard
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteProblem(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := h.engine.Leaderboard(r.Context(), chi.URLParam(r, "gameID"), limit)
	if err != nil {
		MapEngineError(w, r, err)
		return
	}
	if entries == nil {
		entries = []types.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
