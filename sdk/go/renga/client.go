package renga

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Renga server (e.g. "http://localhost:8080").
	BaseURL string

	// APIKey is the operator API key. Leave empty when the server runs
	// without authentication.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used. Note that notebook runs are
	// synchronous; size the timeout to the longest expected run.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Renga notebook execution API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("renga: BaseURL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  httpClient,
	}, nil
}

// ---------------------------------------------------------------------------
// Notebooks
// ---------------------------------------------------------------------------

// CreateNotebook creates a notebook with an optional initial cell list.
func (c *Client) CreateNotebook(ctx context.Context, req CreateNotebookRequest) (*NotebookWithCells, error) {
	var resp NotebookWithCells
	if err := c.post(ctx, "/v1/notebooks", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListNotebooks returns one page of notebooks. Zero limit uses the server
// default.
func (c *Client) ListNotebooks(ctx context.Context, limit, offset int) (*NotebookPage, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}

	path := "/v1/notebooks"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp NotebookPage
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetNotebook retrieves a notebook with its cells.
func (c *Client) GetNotebook(ctx context.Context, notebookID uuid.UUID) (*NotebookWithCells, error) {
	var resp NotebookWithCells
	if err := c.get(ctx, "/v1/notebooks/"+notebookID.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteNotebook deletes a notebook and all of its cells. Fails with a
// conflict while a run is in flight.
func (c *Client) DeleteNotebook(ctx context.Context, notebookID uuid.UUID) error {
	return c.doDelete(ctx, "/v1/notebooks/"+notebookID.String(), nil)
}

// ---------------------------------------------------------------------------
// Cells
// ---------------------------------------------------------------------------

// AddCell appends a cell to the end of a notebook.
func (c *Client) AddCell(ctx context.Context, notebookID uuid.UUID, in CellInput) (*Cell, error) {
	var resp Cell
	if err := c.post(ctx, "/v1/notebooks/"+notebookID.String()+"/cells", in, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetCell retrieves a single cell.
func (c *Client) GetCell(ctx context.Context, notebookID, cellID uuid.UUID) (*Cell, error) {
	var resp Cell
	if err := c.get(ctx, cellPath(notebookID, cellID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateCell patches a cell definition. Nil fields are left unchanged.
func (c *Client) UpdateCell(ctx context.Context, notebookID, cellID uuid.UUID, req UpdateCellRequest) (*Cell, error) {
	var resp Cell
	if err := c.patch(ctx, cellPath(notebookID, cellID), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteCell removes a cell. Remaining cells keep their order with indexes
// repacked; dangling dependency references are purged.
func (c *Client) DeleteCell(ctx context.Context, notebookID, cellID uuid.UUID) error {
	return c.doDelete(ctx, cellPath(notebookID, cellID), nil)
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

// Run executes a notebook synchronously and returns the final result, or a
// paused result when an approval gate is reached.
func (c *Client) Run(ctx context.Context, notebookID uuid.UUID, req RunRequest) (*RunResult, error) {
	var resp RunResult
	if err := c.post(ctx, "/v1/notebooks/"+notebookID.String()+"/run", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Resume continues a paused run from the index returned by Approve.
func (c *Client) Resume(ctx context.Context, notebookID uuid.UUID, continueFrom int) (*RunResult, error) {
	return c.Run(ctx, notebookID, RunRequest{StartFromCell: continueFrom})
}

// RunCell executes one cell out of band, without starting a notebook run.
func (c *Client) RunCell(ctx context.Context, notebookID, cellID uuid.UUID) (*CellResult, error) {
	var resp CellResult
	if err := c.post(ctx, cellPath(notebookID, cellID)+"/run", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Approve clears a paused run's approval gate. The returned ContinueFrom is
// the cell index to pass to Resume.
func (c *Client) Approve(ctx context.Context, notebookID, cellID uuid.UUID, token string) (*ApproveResponse, error) {
	body := map[string]any{"cell_id": cellID, "approval_token": token}
	var resp ApproveResponse
	if err := c.post(ctx, "/v1/notebooks/"+notebookID.String()+"/approve", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reject fails a paused run at its approval gate. Later cells are skipped
// and the run finishes failed.
func (c *Client) Reject(ctx context.Context, notebookID, cellID uuid.UUID, token string) error {
	body := map[string]any{"cell_id": cellID, "approval_token": token}
	return c.post(ctx, "/v1/notebooks/"+notebookID.String()+"/reject", body, nil)
}

// Reset returns a notebook to a runnable idle state, clearing all cell
// results and saved variables.
func (c *Client) Reset(ctx context.Context, notebookID uuid.UUID) error {
	return c.post(ctx, "/v1/notebooks/"+notebookID.String()+"/reset", nil, nil)
}

// Cancel stops an in-flight run. A running notebook stops before its next
// cell; a paused one is finalized immediately.
func (c *Client) Cancel(ctx context.Context, notebookID uuid.UUID) error {
	return c.post(ctx, "/v1/notebooks/"+notebookID.String()+"/cancel", nil, nil)
}

// Status retrieves a notebook's progress snapshot. While the notebook is
// paused the response carries a fresh approval token.
func (c *Client) Status(ctx context.Context, notebookID uuid.UUID) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.get(ctx, "/v1/notebooks/"+notebookID.String()+"/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks the server's health status. This endpoint does not require
// authentication.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func cellPath(notebookID, cellID uuid.UUID) string {
	return "/v1/notebooks/" + notebookID.String() + "/cells/" + cellID.String()
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("renga: marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("renga: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.doRequest(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("renga: create request: %w", err)
	}

	return c.doRequest(req, dest)
}

func (c *Client) patch(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("renga: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("renga: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req, dest)
}

func (c *Client) doDelete(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("renga: create request: %w", err)
	}

	return c.doRequest(req, dest)
}

func (c *Client) doRequest(req *http.Request, dest any) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("renga: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("renga: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	// 204 No Content or 202 Accepted with no body: nothing to decode.
	if len(bodyBytes) == 0 || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("renga: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints may not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
