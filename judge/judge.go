// Package judge is the client for the external grading service. Sandbox
// execution itself is out of scope; this module only ships code out and
// interprets the returned verdicts.
package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type TestCaseResult struct {
	Passed        bool    `json:"passed"`
	ActualOutput  string  `json:"actualOutput"`
	ExecutionTime float64 `json:"executionTime"`
}

// TestRun is the outcome of one run or submit. Total counts every case,
// hidden ones included.
type TestRun struct {
	Passed  int              `json:"passed"`
	Total   int              `json:"total"`
	Results []TestCaseResult `json:"results"`
	Status  string           `json:"status"`
}

// AllPassed reports whether every case, including hidden ones, passed.
func (t TestRun) AllPassed() bool {
	return t.Total > 0 && t.Passed == t.Total
}

type RunRequest struct {
	ContestID  string `json:"contestId"`
	TaskID     string `json:"taskId"`
	UserID     string `json:"userId"`
	LanguageID string `json:"languageId"`
	Code       string `json:"code"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Run grades against the visible cases only; it never affects completion.
func (c *Client) Run(ctx context.Context, req RunRequest) (TestRun, error) {
	return c.post(ctx, "/api/submissions/run", req)
}

// Submit grades against the full case set and counts toward the contest's
// submission limit.
func (c *Client) Submit(ctx context.Context, req RunRequest) (TestRun, error) {
	return c.post(ctx, "/api/submissions/submit", req)
}

func (c *Client) post(ctx context.Context, path string, req RunRequest) (TestRun, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return TestRun{}, fmt.Errorf("failed to marshal submission: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return TestRun{}, fmt.Errorf("failed to build submission request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return TestRun{}, fmt.Errorf("submission request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return TestRun{}, fmt.Errorf("judge returned status %d", resp.StatusCode)
	}

	var wrapper struct {
		Success bool    `json:"success"`
		Data    TestRun `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapper); err != nil {
		return TestRun{}, fmt.Errorf("failed to decode judge response: %w", err)
	}
	if !wrapper.Success {
		return TestRun{}, fmt.Errorf("judge reported failure, status %q", wrapper.Data.Status)
	}
	return wrapper.Data, nil
}
