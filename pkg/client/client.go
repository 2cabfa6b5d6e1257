package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kurihiro0119/github-repo-archiver/internal/domain"
	"github.com/kurihiro0119/github-repo-archiver/internal/lifecycle"
)

// Client is the API client for github-repo-archiver
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError is a non-2xx response from the server
type APIError struct {
	StatusCode   int
	Code         string `json:"code"`
	Message      string `json:"message"`
	Phase        string `json:"phase,omitempty"`
	RemoteStatus int    `json:"remoteStatus,omitempty"`
}

func (e *APIError) Error() string {
	if e.Phase != "" {
		return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Phase, e.Message)
	}
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// Discover runs discovery for org with the given cutoff date and repository type
func (c *Client) Discover(ctx context.Context, org, cutoff, repoType string) (*lifecycle.DiscoverResult, error) {
	path := fmt.Sprintf("/api/v1/orgs/%s/discover", url.PathEscape(org))
	body := map[string]string{"date": cutoff, "type": repoType}

	var response struct {
		Data *lifecycle.DiscoverResult `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, path, body, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// Repositories lists the tracked repositories
func (c *Client) Repositories(ctx context.Context) ([]*domain.TrackedRepository, error) {
	var response struct {
		Data []*domain.TrackedRepository `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/repos", nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// Eligible lists the repositories the next archive pass would archive
func (c *Client) Eligible(ctx context.Context) ([]*domain.TrackedRepository, error) {
	var response struct {
		Data []*domain.TrackedRepository `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/eligible", nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// SetExemption exempts a repository until a date (YYYY-MM-DD) or for a number of months
func (c *Client) SetExemption(ctx context.Context, name, until string, months int, reason, by string) (*domain.TrackedRepository, error) {
	body := map[string]any{"reason": reason, "by": by}
	if until != "" {
		body["until"] = until
	} else {
		body["months"] = months
	}

	var response struct {
		Data *domain.TrackedRepository `json:"data"`
	}
	if err := c.do(ctx, http.MethodPut, exemptionPath(name), body, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// ClearExemption removes a repository's exemption
func (c *Client) ClearExemption(ctx context.Context, name string) (*domain.TrackedRepository, error) {
	var response struct {
		Data *domain.TrackedRepository `json:"data"`
	}
	if err := c.do(ctx, http.MethodDelete, exemptionPath(name), nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// ClearRepositories empties the ledger
func (c *Client) ClearRepositories(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/repos", nil, nil)
}

// Archive runs an archive pass
func (c *Client) Archive(ctx context.Context) (*lifecycle.ArchiveResult, error) {
	var response struct {
		Data *lifecycle.ArchiveResult `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/archive", nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// Batches lists the batch history, newest first
func (c *Client) Batches(ctx context.Context) ([]*domain.ArchiveBatch, error) {
	var response struct {
		Data []*domain.ArchiveBatch `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/batches", nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// Undo reverses a batch. On a partial undo both the result so far and the error are returned.
func (c *Client) Undo(ctx context.Context, batchID int) (*lifecycle.UndoResult, error) {
	var response struct {
		Data *lifecycle.UndoResult `json:"data"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/batches/"+strconv.Itoa(batchID)+"/undo", nil, &response)
	return response.Data, err
}

// Summary retrieves the ledger and batch summary
func (c *Client) Summary(ctx context.Context) (*domain.LedgerSummary, error) {
	var response struct {
		Data *domain.LedgerSummary `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/summary", nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck(ctx context.Context) error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unhealthy status: %s", response.Status)
	}
	return nil
}

func exemptionPath(name string) string {
	return "/api/v1/repos/" + url.PathEscape(name) + "/exemption"
}

// do sends a JSON request and decodes the response into result.
// Error responses still decode into result so partial data is kept.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != nil {
			envelope.Error.StatusCode = resp.StatusCode
			apiErr = envelope.Error
		}
		if result != nil {
			_ = json.Unmarshal(data, result)
		}
		return apiErr
	}

	if result == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, result)
}
