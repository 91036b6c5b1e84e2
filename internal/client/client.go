// Package client is the agent's HTTP client for the PropDesk server. One
// Client holds the cookie jar of one session partition.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/propdesk/propdesk/internal/activity"
	"github.com/propdesk/propdesk/internal/calsync"
	"github.com/propdesk/propdesk/internal/platform/httpx"
	"github.com/propdesk/propdesk/internal/rbac"
	"github.com/propdesk/propdesk/internal/shared"
)

// ErrServer wraps unexpected server responses.
var ErrServer = errors.New("client: server error")

// SessionInfo mirrors GET /auth/session.
type SessionInfo struct {
	Authenticated bool         `json:"authenticated"`
	CSRFToken     string       `json:"csrf_token"`
	User          *SessionUser `json:"user,omitempty"`
}

// SessionUser is the signed-in user as reported by the server.
type SessionUser struct {
	ID    int64     `json:"id"`
	Email string    `json:"email"`
	Role  rbac.Role `json:"role"`
}

// Client talks to the server on behalf of one partition.
type Client struct {
	base      *url.URL
	http      *http.Client
	partition string
	logger    *slog.Logger

	mu   sync.Mutex
	csrf string
}

// New constructs a Client for baseURL.
func New(baseURL, partition string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("client: unsupported scheme %q", base.Scheme)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:      base,
		http:      &http.Client{Jar: jar, Timeout: timeout},
		partition: partition,
		logger:    logger.With(slog.String("component", "client")),
	}, nil
}

// Session probes the server session and refreshes the CSRF token.
func (c *Client) Session(ctx context.Context) (SessionInfo, error) {
	var info SessionInfo
	resp, err := c.do(ctx, http.MethodGet, "/auth/session", nil, nil)
	if err != nil {
		return info, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return info, statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return info, fmt.Errorf("client: decode session: %w", err)
	}
	c.setCSRF(info.CSRFToken)
	return info, nil
}

// HasSession reports whether the partition is logged in.
func (c *Client) HasSession(ctx context.Context) (bool, error) {
	info, err := c.Session(ctx)
	if err != nil {
		return false, err
	}
	return info.Authenticated, nil
}

// Login authenticates with email and password.
func (c *Client) Login(ctx context.Context, email, password string) (SessionInfo, error) {
	var info SessionInfo
	body := map[string]string{"email": email, "password": password}
	resp, err := c.post(ctx, "/auth/login", body)
	if err != nil {
		return info, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return info, statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return info, fmt.Errorf("client: decode login: %w", err)
	}
	c.setCSRF(info.CSRFToken)
	return info, nil
}

// Logout ends the session.
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.post(ctx, "/auth/logout", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return statusError(resp)
	}
	c.setCSRF("")
	return nil
}

// Renew extends the session. A rejected renewal wraps httpx.ErrUnauthorized.
func (c *Client) Renew(ctx context.Context) error {
	resp, err := c.post(ctx, "/auth/session/refresh", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

// Resolve asks the resolution endpoint. It satisfies permcache.Resolver.
func (c *Client) Resolve(ctx context.Context, page string, action rbac.Action) (bool, error) {
	q := url.Values{"page": {page}, "action": {string(action)}}
	resp, err := c.do(ctx, http.MethodGet, "/api/permissions/check?"+q.Encode(), nil, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, statusError(resp)
	}
	var body struct {
		HasPermission bool `json:"hasPermission"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("client: decode permission: %w", err)
	}
	return body.HasPermission, nil
}

// SyncCalendars triggers the server-side calendar sync. It satisfies
// scheduler.SyncFunc.
func (c *Client) SyncCalendars(ctx context.Context) error {
	resp, err := c.post(ctx, "/api/sync/calendars", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return statusError(resp)
	}
	var res calsync.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return fmt.Errorf("%w: sync status %d", ErrServer, resp.StatusCode)
	}
	if !res.Success {
		return fmt.Errorf("%w: sync: %s", ErrServer, res.Error)
	}
	c.logger.Debug("calendar sync", slog.String("message", res.Message))
	return nil
}

// Write posts an activity record. It satisfies activity.Sink.
func (c *Client) Write(ctx context.Context, rec activity.Record) error {
	body := map[string]any{
		"action_type":   rec.ActionType,
		"page_path":     rec.PagePath,
		"resource_type": rec.ResourceType,
		"resource_id":   rec.ResourceID,
		"description":   rec.Description,
		"metadata":      rec.Metadata,
	}
	resp, err := c.post(ctx, "/api/activity", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return statusError(resp)
	}
	return nil
}

// post sends a JSON body with the CSRF token, fetching one first if needed.
// A plain-text 403 means the token was rejected; it is refreshed and the
// request retried once.
func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}
	for attempt := 0; ; attempt++ {
		if c.token() == "" {
			if _, err := c.Session(ctx); err != nil {
				return nil, err
			}
		}
		headers := http.Header{}
		headers.Set(shared.CSRFHeader, c.token())
		var payload io.Reader
		if data != nil {
			headers.Set("Content-Type", "application/json")
			payload = bytes.NewReader(data)
		}
		resp, err := c.do(ctx, http.MethodPost, path, payload, headers)
		if err != nil {
			return nil, err
		}
		if attempt == 0 && resp.StatusCode == http.StatusForbidden && !isProblem(resp) {
			_ = resp.Body.Close()
			c.setCSRF("")
			continue
		}
		return resp, nil
	}
}

func isProblem(resp *http.Response) bool {
	return strings.HasPrefix(resp.Header.Get("Content-Type"), "application/problem+json")
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, headers http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "propdesk-agent")
	if c.partition != "" {
		req.Header.Set(shared.PartitionHeader, c.partition)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	return resp, nil
}

func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.csrf
}

func (c *Client) setCSRF(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.csrf = token
}

func statusError(resp *http.Response) error {
	var problem httpx.ProblemDetail
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(data, &problem)
	detail := problem.Detail
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", httpx.ErrUnauthorized, detail)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", httpx.ErrForbidden, detail)
	}
	return fmt.Errorf("%w: status %d: %s", ErrServer, resp.StatusCode, detail)
}
