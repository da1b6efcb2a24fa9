package caseflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Caseflow HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Case represents the API case model.
type Case struct {
	ID                int64   `json:"id"`
	ClientID          int64   `json:"client_id"`
	ClientName        string  `json:"client_name,omitempty"`
	Reason            string  `json:"reason,omitempty"`
	Status            string  `json:"status"`
	AssignedTo        *string `json:"assigned_to,omitempty"`
	ProcessInstanceID string  `json:"process_instance_id,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

// Task represents an open stage task.
type Task struct {
	TaskID            string  `json:"task_id"`
	ProcessInstanceID string  `json:"process_instance_id"`
	Stage             string  `json:"stage"`
	Assignee          *string `json:"assignee,omitempty"`
	CandidateGroup    string  `json:"candidate_group"`
	CaseID            int64   `json:"case_id,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

// KYCClient represents a client under review.
type KYCClient struct {
	ID          int64  `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	Citizenship string `json:"citizenship,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// Event represents a case event log entry.
type Event struct {
	ID          int64  `json:"id"`
	CaseID      int64  `json:"case_id"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source"`
	CreatedAt   string `json:"created_at"`
}

// Completeness is the questionnaire gate result.
type Completeness struct {
	Complete        bool   `json:"complete"`
	MissingQuestion string `json:"missing_question,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateClient registers a client.
func (c *Client) CreateClient(ctx context.Context, firstName, lastName, dob, citizenship string) (KYCClient, error) {
	body := map[string]any{
		"first_name":    firstName,
		"last_name":     lastName,
		"date_of_birth": dob,
		"citizenship":   citizenship,
	}
	var resp KYCClient
	err := c.do(ctx, http.MethodPost, "v0/clients", body, &resp)
	return resp, err
}

// CreateCase opens a case and starts its workflow.
func (c *Client) CreateCase(ctx context.Context, clientID int64, reason string) (Case, error) {
	body := map[string]any{
		"client_id": clientID,
		"reason":    reason,
	}
	var resp Case
	err := c.do(ctx, http.MethodPost, "v0/cases", body, &resp)
	return resp, err
}

// GetCase fetches a case by id.
func (c *Client) GetCase(ctx context.Context, caseID int64) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/cases/%d", caseID), nil, &resp)
	return resp, err
}

// MyTasks returns the caller's work queue.
func (c *Client) MyTasks(ctx context.Context) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, "v0/tasks/mine", nil, &resp)
	return resp, err
}

// ClaimTask claims an unassigned task for the caller.
func (c *Client) ClaimTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s/claim", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// UnclaimTask releases a task back to its candidate group.
func (c *Client) UnclaimTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s/unclaim", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// ApproveTask approves the task's stage and moves the case forward.
func (c *Client) ApproveTask(ctx context.Context, taskID string) (Case, error) {
	var resp Case
	endpoint := fmt.Sprintf("v0/tasks/%s/approve", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// RejectTask rejects the stage back to the analyst with a comment.
func (c *Client) RejectTask(ctx context.Context, taskID, comment string) (Case, error) {
	var resp Case
	endpoint := fmt.Sprintf("v0/tasks/%s/reject", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"text": comment}, &resp)
	return resp, err
}

// SaveAnswers persists questionnaire answers for a case.
func (c *Client) SaveAnswers(ctx context.Context, caseID int64, answers map[int64]string) error {
	items := make([]map[string]any, 0, len(answers))
	for qid, text := range answers {
		items = append(items, map[string]any{"question_id": qid, "text": text})
	}
	endpoint := fmt.Sprintf("v0/cases/%d/answers", caseID)
	return c.do(ctx, http.MethodPut, endpoint, map[string]any{"answers": items}, nil)
}

// CheckCompleteness reports whether the mandatory questionnaire is filled.
func (c *Client) CheckCompleteness(ctx context.Context, caseID int64) (Completeness, error) {
	var resp Completeness
	endpoint := fmt.Sprintf("v0/cases/%d/completeness", caseID)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CaseEvents returns the case event log.
func (c *Client) CaseEvents(ctx context.Context, caseID int64, limit int) ([]Event, error) {
	endpoint := fmt.Sprintf("v0/cases/%d/events", caseID)
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
