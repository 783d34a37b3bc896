// Package syncclient is the HTTP client for the wander-sync server: record
// CRUD, delta queries, attachment upload, and the realtime change stream.
package syncclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors for common HTTP error classes. Everything that is not one
// of these (and not a validation error) is treated as transient by the sync
// engine and retried with backoff.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	// ErrValidation marks record-level, non-retryable rejections (e.g. a
	// broken foreign-key reference). The record is parked as failed.
	ErrValidation = errors.New("validation failed")
)

// Client is an HTTP client for the wander-sync server.
type Client struct {
	BaseURL  string
	APIKey   string
	DeviceID string
	HTTP     *http.Client
}

// New creates a new sync client.
func New(baseURL, apiKey, deviceID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		DeviceID: deviceID,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

// --- Record types ---

// RemoteRecord is the wire shape of a syncable record. Local-only sync
// metadata never appears here.
type RemoteRecord struct {
	EntityType string          `json:"entity_type"`
	ID         string          `json:"id"`
	OwnerID    string          `json:"owner_id"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  string          `json:"created_at"`
	UpdatedAt  string          `json:"updated_at"`
	Deleted    bool            `json:"deleted,omitempty"`
}

// ChangesResponse is the response from a changed-since query.
type ChangesResponse struct {
	Records []RemoteRecord `json:"records"`
	HasMore bool           `json:"has_more"`
}

// ChangeNotification is one event on the realtime change stream.
type ChangeNotification struct {
	EntityType string `json:"entity_type"`
	ID         string `json:"id"`
	DeviceID   string `json:"device_id,omitempty"`
}

// UploadResponse is the response from an attachment upload.
type UploadResponse struct {
	BlobID string `json:"blob_id"`
	URL    string `json:"url"`
	Size   int64  `json:"size"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// --- Auth types ---

// LoginStartResponse is the response from POST /v1/auth/login/start.
type LoginStartResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// LoginPollResponse is the response from POST /v1/auth/login/poll.
type LoginPollResponse struct {
	Status string  `json:"status"`
	APIKey *string `json:"api_key,omitempty"`
	UserID *string `json:"user_id,omitempty"`
	Email  *string `json:"email,omitempty"`
}

// --- Health & auth methods ---

// HealthCheck hits the /healthz endpoint to verify server reachability.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doNoAuth(ctx, "GET", "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LoginStart initiates the device auth flow. No API key required.
func (c *Client) LoginStart(ctx context.Context, email string) (*LoginStartResponse, error) {
	body := map[string]string{"email": email}
	var resp LoginStartResponse
	if err := c.doNoAuth(ctx, "POST", "/v1/auth/login/start", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LoginPoll checks the status of a device auth request. No API key required.
func (c *Client) LoginPoll(ctx context.Context, deviceCode string) (*LoginPollResponse, error) {
	body := map[string]string{"device_code": deviceCode}
	var resp LoginPollResponse
	if err := c.doNoAuth(ctx, "POST", "/v1/auth/login/poll", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Record methods ---

// Create upserts a record on the server. Create with an existing id is
// treated as update by the API contract, which makes retried pushes
// idempotent.
func (c *Client) Create(ctx context.Context, rec *RemoteRecord) error {
	return c.do(ctx, "PUT", fmt.Sprintf("/v1/records/%s/%s", rec.EntityType, url.PathEscape(rec.ID)), rec, nil)
}

// Update is an alias of Create under the idempotent-upsert contract.
func (c *Client) Update(ctx context.Context, rec *RemoteRecord) error {
	return c.Create(ctx, rec)
}

// Delete removes a record. Deleting an absent id returns ErrNotFound; the
// engine treats that as success (idempotent delete).
func (c *Client) Delete(ctx context.Context, entityType, id string) error {
	return c.do(ctx, "DELETE", fmt.Sprintf("/v1/records/%s/%s", entityType, url.PathEscape(id)), nil, nil)
}

// ChangedSince fetches records with updated_at strictly after since, in
// ascending updated_at order, scoped to the caller's own records plus
// records shared with them.
func (c *Client) ChangedSince(ctx context.Context, entityType string, since time.Time, limit int) (*ChangesResponse, error) {
	params := url.Values{}
	if !since.IsZero() {
		params.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	params.Set("limit", strconv.Itoa(limit))

	var resp ChangesResponse
	path := fmt.Sprintf("/v1/records/%s/changes?%s", entityType, params.Encode())
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Attachment transport ---

// Upload transfers a blob and returns its durable remote URL.
func (c *Client) Upload(ctx context.Context, blobID string, data io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v1/attachments", data)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Blob-ID", blobID)
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", classifyError(resp.StatusCode, body)
	}

	var ur UploadResponse
	if err := json.Unmarshal(body, &ur); err != nil {
		return "", fmt.Errorf("unmarshal upload response: %w", err)
	}
	if ur.URL == "" {
		return "", fmt.Errorf("upload response missing url")
	}
	return ur.URL, nil
}

// --- Realtime change stream ---

// Subscribe opens the SSE change stream and delivers notifications on the
// returned channel until ctx is cancelled or the connection drops. The
// channel is closed on return; callers reconnect with backoff.
func (c *Client) Subscribe(ctx context.Context) (<-chan ChangeNotification, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/v1/changes/stream", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	// No client-side timeout: the stream is long-lived and bounded by ctx.
	streamClient := &http.Client{Transport: c.HTTP.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, classifyError(resp.StatusCode, body)
	}

	ch := make(chan ChangeNotification, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var n ChangeNotification
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &n); err != nil {
				continue
			}
			select {
			case ch <- n:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// --- HTTP helpers ---

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

func classifyError(status int, body []byte) error {
	var apiErr apiError
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &struct {
		Error *apiError `json:"error"`
	}{&apiErr}) == nil && apiErr.Code != "" {
		msg = apiErr.Message
	}
	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrValidation, msg)
	default:
		return fmt.Errorf("HTTP %d: %s", status, msg)
	}
}

// do executes an authenticated HTTP request.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	return c.doRequest(ctx, method, path, body, result, true)
}

// doNoAuth executes an unauthenticated HTTP request.
func (c *Client) doNoAuth(ctx context.Context, method, path string, body, result any) error {
	return c.doRequest(ctx, method, path, body, result, false)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, result any, auth bool) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.DeviceID != "" {
		req.Header.Set("X-Device-ID", c.DeviceID)
	}
	if auth && c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return classifyError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
