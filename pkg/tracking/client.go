package tracking

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// APIKeyHeader carries the credential on every authenticated request.
const APIKeyHeader = "X-API-Key"

// VisitQuery narrows GET /visits/. Zero fields are omitted.
type VisitQuery struct {
	ID           int64
	UserID       int64
	CheckpointID int64
}

// Client talks to the tracking REST service.
// The client holds no credential; every call takes the API key explicitly so
// callers always pass the key that is current at call time.
// The client is safe for concurrent use.
type Client struct {
	http    *resty.Client
	baseURL string
}

// NewClient creates a client for the service rooted at baseURL (e.g. "http://host:8080/api").
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	baseURL = strings.TrimRight(baseURL, "/")

	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{http: rc, baseURL: baseURL}, nil
}

// Me fetches the identity that owns apiKey.
func (c *Client) Me(ctx context.Context, apiKey string) (*Identity, error) {
	var out Identity
	if err := c.do(ctx, apiKey, http.MethodGet, "/users/me", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListUsers fetches the identity roster.
func (c *Client) ListUsers(ctx context.Context, apiKey string) ([]Identity, error) {
	var out []Identity
	if err := c.do(ctx, apiKey, http.MethodGet, "/users/", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateUser registers a new user.
func (c *Client) CreateUser(ctx context.Context, apiKey string, in UserInput) (*Identity, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("user name cannot be empty")
	}
	var out Identity
	if err := c.do(ctx, apiKey, http.MethodPost, "/users/", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QRCodeFileURL returns the address of a user's QR code image.
// The image itself is not fetched.
func (c *Client) QRCodeFileURL(userID int64) string {
	return fmt.Sprintf("%s/users/%d/qr-code-file", c.baseURL, userID)
}

// ListCheckpoints fetches every checkpoint.
func (c *Client) ListCheckpoints(ctx context.Context, apiKey string) ([]Checkpoint, error) {
	var out []Checkpoint
	if err := c.do(ctx, apiKey, http.MethodGet, "/checkpoint/", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateCheckpoint adds a checkpoint.
func (c *Client) CreateCheckpoint(ctx context.Context, apiKey string, in CheckpointInput) (*Checkpoint, error) {
	var out Checkpoint
	if err := c.do(ctx, apiKey, http.MethodPost, "/checkpoint/", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateCheckpoint replaces checkpoint id.
func (c *Client) UpdateCheckpoint(ctx context.Context, apiKey string, id int64, in CheckpointInput) (*Checkpoint, error) {
	var out Checkpoint
	path := "/checkpoint/" + strconv.FormatInt(id, 10)
	if err := c.do(ctx, apiKey, http.MethodPut, path, nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListLocations fetches current samples, windowed when window is non-nil.
// An invalid window is rejected before any request is made.
func (c *Client) ListLocations(ctx context.Context, apiKey string, window *TimeRange) ([]LocationSample, error) {
	var query map[string]string
	if window != nil {
		if err := window.Validate(); err != nil {
			return nil, err
		}
		query = map[string]string{
			"from": window.From.UTC().Format(time.RFC3339),
			"to":   window.To.UTC().Format(time.RFC3339),
		}
	}

	var out []LocationSample
	if err := c.do(ctx, apiKey, http.MethodGet, "/location/", query, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListVisits fetches visits matching q.
func (c *Client) ListVisits(ctx context.Context, apiKey string, q VisitQuery) ([]Visit, error) {
	query := map[string]string{}
	if q.ID > 0 {
		query["id"] = strconv.FormatInt(q.ID, 10)
	}
	if q.UserID > 0 {
		query["user_id"] = strconv.FormatInt(q.UserID, 10)
	}
	if q.CheckpointID > 0 {
		query["checkpoint_id"] = strconv.FormatInt(q.CheckpointID, 10)
	}

	var out []Visit
	if err := c.do(ctx, apiKey, http.MethodGet, "/visits/", query, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// do issues one request and maps failures onto the error taxonomy:
// 401/403 become ErrInvalidKey, everything else a *NetworkError.
func (c *Client) do(ctx context.Context, apiKey, method, path string, query map[string]string, body, result any) error {
	if apiKey == "" {
		return ErrNotAuthenticated
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader(APIKeyHeader, apiKey).
		SetResult(result)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetBody(body)
	}

	op := method + " " + path
	resp, err := req.Execute(method, path)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrInvalidKey
	case resp.IsError():
		return &NetworkError{Op: op, StatusCode: code, Err: fmt.Errorf("%s", strings.TrimSpace(resp.String()))}
	}
	return nil
}
