// Package taskapi is an HTTP client for the taskhive Task API.
package taskapi

import (
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
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"taskhive/internal/model"
)

// Client talks to the Task API. A bearer token, once set, is attached to
// every request. The client is safe for concurrent use.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *log.Logger

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New builds a client for baseURL (e.g. "http://localhost:42069").
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("taskapi: base url is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("taskapi: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("taskapi: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/")

	c := &Client{
		base:   u,
		http:   &http.Client{},
		logger: log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = strings.TrimSpace(token)
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Tasks

func (c *Client) List(ctx context.Context, f model.Filter) (model.Page, error) {
	var page model.Page
	err := c.do(ctx, http.MethodGet, "/api/tasks", f.Query(), nil, &page)
	return page, err
}

func (c *Client) Get(ctx context.Context, id model.TaskID) (model.Task, error) {
	return c.task(ctx, http.MethodGet, taskPath(id), nil)
}

func (c *Client) Create(ctx context.Context, in model.TaskCreate) (model.Task, error) {
	return c.task(ctx, http.MethodPost, "/api/tasks", in)
}

func (c *Client) Update(ctx context.Context, id model.TaskID, p model.Patch) (model.Task, error) {
	return c.task(ctx, http.MethodPatch, taskPath(id), p)
}

func (c *Client) Toggle(ctx context.Context, id model.TaskID) (model.Task, error) {
	return c.task(ctx, http.MethodPatch, taskPath(id)+"/toggle", nil)
}

func (c *Client) Delete(ctx context.Context, id model.TaskID) error {
	return c.do(ctx, http.MethodDelete, taskPath(id), nil, nil, nil)
}

func (c *Client) BulkUpdate(ctx context.Context, req model.BulkUpdateRequest) (model.BulkResult, error) {
	var res model.BulkResult
	if err := c.do(ctx, http.MethodPost, "/api/tasks/bulk/update", nil, req, &res); err != nil {
		return res, err
	}
	return checkBulk(res)
}

func (c *Client) BulkDelete(ctx context.Context, ids []model.TaskID) (model.BulkResult, error) {
	var res model.BulkResult
	if err := c.do(ctx, http.MethodPost, "/api/tasks/bulk/delete", nil, model.BulkIDsRequest{TaskIDs: ids}, &res); err != nil {
		return res, err
	}
	return checkBulk(res)
}

func (c *Client) Stats(ctx context.Context) (model.Stats, error) {
	var s model.Stats
	err := c.do(ctx, http.MethodGet, "/api/tasks/stats", nil, nil, &s)
	return s, err
}

// Trash

func (c *Client) ListTrash(ctx context.Context, limit, offset int) (model.Page, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	var page model.Page
	err := c.do(ctx, http.MethodGet, "/api/trash", q, nil, &page)
	return page, err
}

func (c *Client) Restore(ctx context.Context, id model.TaskID) (model.Task, error) {
	return c.task(ctx, http.MethodPost, "/api/trash/"+url.PathEscape(string(id))+"/restore", nil)
}

func (c *Client) RestoreMany(ctx context.Context, ids []model.TaskID) (model.BulkResult, error) {
	var res model.BulkResult
	if err := c.do(ctx, http.MethodPost, "/api/trash/restore", nil, model.BulkIDsRequest{TaskIDs: ids}, &res); err != nil {
		return res, err
	}
	return checkBulk(res)
}

func (c *Client) CleanupTrash(ctx context.Context, olderThanDays int) (model.BulkResult, error) {
	q := url.Values{}
	if olderThanDays > 0 {
		q.Set("older_than_days", strconv.Itoa(olderThanDays))
	}
	var res model.BulkResult
	err := c.do(ctx, http.MethodDelete, "/api/trash/cleanup", q, nil, &res)
	return res, err
}

// Auth

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type SessionInfo struct {
	User      User       `json:"user"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt time.Time  `json:"expires_at"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}

func (c *Client) RequestOTP(ctx context.Context, email string) (time.Time, error) {
	var out struct {
		ExpiresAt time.Time `json:"expires_at"`
	}
	err := c.do(ctx, http.MethodPost, "/api/auth/request-otp", nil, map[string]string{"email": email}, &out)
	return out.ExpiresAt, err
}

// VerifyOTP exchanges an emailed code for a session and stores its token.
func (c *Client) VerifyOTP(ctx context.Context, email, code string) (SessionInfo, error) {
	var out SessionInfo
	err := c.do(ctx, http.MethodPost, "/api/auth/verify-otp", nil, map[string]string{"email": email, "code": code}, &out)
	if err != nil {
		return SessionInfo{}, err
	}
	c.SetToken(out.Token)
	return out, nil
}

func (c *Client) Session(ctx context.Context) (SessionInfo, error) {
	var out SessionInfo
	if err := c.do(ctx, http.MethodGet, "/api/auth/session", nil, nil, &out); err != nil {
		return SessionInfo{}, err
	}
	return out, nil
}

func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil, nil); err != nil {
		return err
	}
	c.SetToken("")
	return nil
}

// task calls an endpoint that answers with one record. A body without an
// id is as unusable as a truncated one.
func (c *Client) task(ctx context.Context, method, path string, in any) (model.Task, error) {
	var t model.Task
	if err := c.do(ctx, method, path, nil, in, &t); err != nil {
		return model.Task{}, err
	}
	if t.ID == "" {
		return model.Task{}, fmt.Errorf("%w: %s %s: response has no task id", ErrTransport, method, path)
	}
	return t, nil
}

func taskPath(id model.TaskID) string {
	return "/api/tasks/" + url.PathEscape(string(id))
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	u := *c.base
	u.Path = c.base.Path + path
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("taskapi: encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("taskapi: build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %s %s: %w", ErrTransport, method, path, ctxErr)
		}
		return fmt.Errorf("%w: %s %s: %w", ErrTransport, method, path, err)
	}
	defer res.Body.Close()

	c.logger.Debug("task api call", "method", method, "path", path, "status", res.StatusCode, "duration", time.Since(start))

	raw, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("%w: read %s %s: %w", ErrTransport, method, path, err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &APIError{
			Method:  method,
			Path:    path,
			Status:  res.StatusCode,
			Message: errorMessage(raw),
		}
	}

	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("%w: %s %s: empty response body", ErrTransport, method, path)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %w", ErrTransport, method, path, err)
	}
	return nil
}

func errorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}

// IsSessionInvalid reports whether err means the caller must log in again.
func IsSessionInvalid(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}
