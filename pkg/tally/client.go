// Package tally is the Go client for the tally progress and points API.
// It covers the full v1 surface: update submission and review, task sync,
// kaizen crediting and ledger reads.
package tally

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/siteplay/tally/internal/types"
)

// Re-exported request and response types so callers never import internal
// packages.
type (
	Task                = types.Task
	TaskUpdate          = types.TaskUpdate
	TaskSummary         = types.TaskSummary
	UpdateResult        = types.UpdateResult
	LedgerEntry         = types.LedgerEntry
	LeaderboardEntry    = types.LeaderboardEntry
	CreditRecord        = types.CreditRecord
	HealthResponse      = types.HealthResponse
	SubmitUpdateRequest = types.SubmitUpdateRequest
	ReviewRequest       = types.ReviewRequest
	UpsertTaskRequest   = types.UpsertTaskRequest
	KaizenCreditRequest = types.KaizenCreditRequest
	Quantity            = types.Quantity
)

// QuantityOf wraps a plain number as a present measurement quantity.
func QuantityOf(v float64) Quantity { return types.QuantityOf(v) }

// APIError is a non-2xx response decoded from the server's problem+json body.
type APIError struct {
	Status int
	Title  string
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("tally: %s (%d): %s", e.Title, e.Status, e.Detail)
	}
	return fmt.Sprintf("tally: %s (%d)", e.Title, e.Status)
}

// Client talks to a tally server.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the server at baseURL.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health checks server liveness. It needs no API key.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitUpdate submits a worker progress report for review.
func (c *Client) SubmitUpdate(ctx context.Context, req SubmitUpdateRequest) (*TaskUpdate, error) {
	var update TaskUpdate
	if err := c.do(ctx, http.MethodPost, "/api/v1/updates", req, &update); err != nil {
		return nil, err
	}
	return &update, nil
}

// GetUpdate fetches a single update.
func (c *Client) GetUpdate(ctx context.Context, id string) (*TaskUpdate, error) {
	var update TaskUpdate
	if err := c.do(ctx, http.MethodGet, "/api/v1/updates/"+id, nil, &update); err != nil {
		return nil, err
	}
	return &update, nil
}

// ApproveUpdate approves a pending update and returns it together with the
// resynced task summary.
func (c *Client) ApproveUpdate(ctx context.Context, id string, review ReviewRequest) (*UpdateResult, error) {
	var result UpdateResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/updates/"+id+"/approve", review, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RejectUpdate rejects a pending update.
func (c *Client) RejectUpdate(ctx context.Context, id string, review ReviewRequest) (*UpdateResult, error) {
	var result UpdateResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/updates/"+id+"/reject", review, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelUpdate withdraws an approved update, reversing its credited points.
func (c *Client) CancelUpdate(ctx context.Context, id string) (*UpdateResult, error) {
	var result UpdateResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/updates/"+id+"/cancel", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteUpdate removes a non-approved update.
func (c *Client) DeleteUpdate(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/updates/"+id, nil, nil)
}

// UpsertTask materializes a task definition.
func (c *Client) UpsertTask(ctx context.Context, id string, req UpsertTaskRequest) (*Task, error) {
	var task Task
	if err := c.do(ctx, http.MethodPut, "/api/v1/tasks/"+id, req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTask fetches a task with its progress and contributions.
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	var task Task
	if err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+id, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTaskUpdates fetches a task's full update history.
func (c *Client) ListTaskUpdates(ctx context.Context, taskID string) ([]TaskUpdate, error) {
	var updates []TaskUpdate
	if err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+taskID+"/updates", nil, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// CreditKaizen credits an approved kaizen's points to its responsibles.
func (c *Client) CreditKaizen(ctx context.Context, kaizenID string, req KaizenCreditRequest) (*CreditRecord, error) {
	var record CreditRecord
	if err := c.do(ctx, http.MethodPost, "/api/v1/kaizens/"+kaizenID+"/credit", req, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// ReverseKaizen backs out a previously credited kaizen.
func (c *Client) ReverseKaizen(ctx context.Context, kaizenID string, req KaizenCreditRequest) error {
	return c.do(ctx, http.MethodPost, "/api/v1/kaizens/"+kaizenID+"/reverse", req, nil)
}

// UserLedger fetches a user's points ledger entry for a game.
func (c *Client) UserLedger(ctx context.Context, gameID, userID string) (*LedgerEntry, error) {
	var entry LedgerEntry
	if err := c.do(ctx, http.MethodGet, "/api/v1/games/"+gameID+"/ledger/users/"+userID, nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// TeamLedger fetches a team's points ledger entry for a game.
func (c *Client) TeamLedger(ctx context.Context, gameID, teamID string) (*LedgerEntry, error) {
	var entry LedgerEntry
	if err := c.do(ctx, http.MethodGet, "/api/v1/games/"+gameID+"/ledger/teams/"+teamID, nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Leaderboard fetches a game's ranked standing. limit <= 0 uses the server
// default.
func (c *Client) Leaderboard(ctx context.Context, gameID string, limit int) ([]LeaderboardEntry, error) {
	path := "/api/v1/games/" + gameID + "/leaderboard"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var entries []LeaderboardEntry
	if err := c.do(ctx, http.MethodGet, path, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// do sends an authenticated JSON request and decodes the response into out.
// Non-2xx responses become an *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Title: http.StatusText(resp.StatusCode)}

	var problem struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}
	if data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16)); err == nil {
		if json.Unmarshal(data, &problem) == nil && problem.Title != "" {
			apiErr.Title = problem.Title
			apiErr.Detail = problem.Detail
		}
	}
	return apiErr
}
