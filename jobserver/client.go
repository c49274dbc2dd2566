// Package jobserver is the outbound client for the Jobs site API: it
// authenticates users, registers releases, pushes released files, and
// forwards lifecycle notifications. All release traffic flows one way,
// from the review environment out to the Jobs site; nothing is ever
// fetched back in.
package jobserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"airlock.evalgo.org/auth"
	"airlock.evalgo.org/request"
)

// Client talks to the Jobs site API.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client

	// retryCount and retryInterval govern the control-plane calls
	// (authenticate, create release, notify). File uploads are retried
	// by the upload scheduler instead, with persistent jobs.
	retryCount    int
	retryInterval time.Duration
}

// Options configures the Jobs site client.
type Options struct {
	// Endpoint is the API base URL without trailing slash.
	Endpoint string
	// Token authenticates this deployment against the Jobs site.
	Token string
	// Timeout bounds each HTTP attempt.
	Timeout time.Duration
	// RetryCount is the number of retries after the initial attempt.
	RetryCount int
	// RetryInterval is the base backoff, doubled per attempt.
	RetryInterval time.Duration
}

// NewClient creates a Jobs site client.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	interval := opts.RetryInterval
	if interval == 0 {
		interval = time.Second
	}
	return &Client{
		endpoint:      strings.TrimSuffix(opts.Endpoint, "/"),
		token:         opts.Token,
		httpClient:    &http.Client{Timeout: timeout},
		retryCount:    opts.RetryCount,
		retryInterval: interval,
	}
}

// authenticateResponse is the Jobs site's capability payload.
type authenticateResponse struct {
	Username      string                           `json:"username"`
	OutputChecker bool                             `json:"output_checker"`
	Workspaces    map[string]auth.WorkspaceDetails `json:"workspaces"`
}

// Authenticate verifies a user's credentials against the Jobs site and
// returns the resolved capability view. A 403 means bad credentials.
func (c *Client) Authenticate(ctx context.Context, username, userToken string) (*auth.User, error) {
	payload, err := json.Marshal(map[string]string{"user": username, "token": userToken})
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPost, c.endpoint+"/releases/authenticate", "application/json", bytes.NewReader(payload), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return nil, auth.ErrLoginFailed
	}
	if resp.StatusCode != http.StatusOK {
		return nil, request.Upstreamf(resp.StatusCode, "authenticate returned HTTP %d", resp.StatusCode)
	}

	var details authenticateResponse
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("failed to decode authenticate response: %w", err)
	}
	if details.Username == "" {
		details.Username = username
	}
	workspaces := details.Workspaces
	if workspaces == nil {
		workspaces = map[string]auth.WorkspaceDetails{}
	}
	return &auth.User{
		ID:            details.Username,
		Username:      details.Username,
		Workspaces:    workspaces,
		OutputChecker: details.OutputChecker,
		ResolvedAt:    time.Now().UTC(),
	}, nil
}

// CreateRelease registers an approved request with the Jobs site and
// returns the Jobs-side release id from the Release-Id response header.
func (c *Client) CreateRelease(ctx context.Context, workspace, releasedBy string, filegroups map[string][]string) (string, error) {
	payload, err := json.Marshal(map[string]any{"filegroups": filegroups})
	if err != nil {
		return "", err
	}

	headers := map[string]string{"OS-User": releasedBy}
	resp, err := c.do(ctx, http.MethodPost, c.endpoint+"/releases/workspace/"+workspace, "application/json", bytes.NewReader(payload), headers)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", request.Upstreamf(resp.StatusCode, "create release returned HTTP %d", resp.StatusCode)
	}
	releaseID := resp.Header.Get("Release-Id")
	if releaseID == "" {
		return "", request.Upstreamf(resp.StatusCode, "create release response missing Release-Id header")
	}
	return releaseID, nil
}

// UploadFile pushes one released file's snapshot bytes to the Jobs site.
// 201 means stored; 303 and 409 mean the file already arrived in an
// earlier attempt and count as success. Other statuses surface as
// upstream errors carrying the HTTP code for the scheduler's
// permanent-vs-transient classification.
func (c *Client) UploadFile(ctx context.Context, releaseID, releasedBy, relpath string, content io.Reader) error {
	url := c.endpoint + "/releases/release/" + releaseID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, content)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": relpath}))
	req.Header.Set("OS-User", releasedBy)
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return request.Upstreamf(0, "upload of %s failed: %v", relpath, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusSeeOther, http.StatusConflict:
		return nil
	}
	return request.Upstreamf(resp.StatusCode, "upload of %s returned HTTP %d", relpath, resp.StatusCode)
}

// Notify forwards a lifecycle event payload to the Jobs site. Called
// with a nil-token client it is a no-op, matching deployments without a
// Jobs site connection.
func (c *Client) Notify(ctx context.Context, payload any) error {
	if c.token == "" {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodPost, c.endpoint+"/airlock/events/", "application/json", bytes.NewReader(body), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return request.Upstreamf(resp.StatusCode, "event notification returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}
}

// do executes a control-plane request with retries. Client errors (4xx)
// are never retried; everything else backs off exponentially.
func (c *Client) do(ctx context.Context, method, url, contentType string, body io.Reader, headers map[string]string) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = io.ReadAll(body)
		if err != nil {
			return nil, err
		}
	}

	attempts := c.retryCount + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		c.authorize(req)

		resp, err := c.httpClient.Do(req)
		if err == nil {
			if resp.StatusCode < 500 {
				return resp, nil
			}
			resp.Body.Close()
			lastErr = request.Upstreamf(resp.StatusCode, "%s %s returned HTTP %d", method, url, resp.StatusCode)
		} else {
			lastErr = err
		}

		if attempt < attempts-1 {
			select {
			case <-time.After(calculateBackoff(attempt, c.retryInterval)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", attempts, lastErr)
}

// calculateBackoff doubles the base interval per attempt.
func calculateBackoff(attempt int, interval time.Duration) time.Duration {
	return interval * time.Duration(1<<attempt)
}
