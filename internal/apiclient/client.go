package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"forge/internal/api"
	"forge/internal/jobs"
)

// ErrAPIUnavailable reports that no daemon answered at the configured bind.
var ErrAPIUnavailable = errors.New("forge API unavailable")

// APIError is a non-2xx reply decoded from the daemon.
type APIError struct {
	Status    int
	Message   string
	Hint      string
	Retryable bool
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned status %d", e.Status)
	}
	return e.Message
}

// StatusCode extracts the HTTP status from err, or 0 when err is not an
// APIError.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// Client talks to the daemon HTTP API.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// New returns a client for bind. A bind without a scheme is treated as
// http://host:port.
func New(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, ErrAPIUnavailable
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, fmt.Errorf("parse api bind: %w", err)
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""
	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		// No timeout: log follow requests block until the caller cancels.
		http: &http.Client{},
	}, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	ref := &url.URL{Path: path}
	if len(query) > 0 {
		ref.RawQuery = query.Encode()
	}
	return c.base.ResolveReference(ref).String()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	var reader io.Reader
	contentType := ""
	switch v := body.(type) {
	case nil:
	case *multipartBody:
		reader = v.buf
		contentType = v.contentType
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if IsUnavailable(err) {
			return fmt.Errorf("%w: %v", ErrAPIUnavailable, err)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&payload) == nil {
			apiErr.Message = payload.Error
			apiErr.Hint = payload.Hint
			apiErr.Retryable = payload.Retryable
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Status returns the daemon status.
func (c *Client) Status(ctx context.Context) (api.DaemonStatus, error) {
	var out api.DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &out)
	return out, err
}

// Stats returns job table aggregates.
func (c *Client) Stats(ctx context.Context) (api.StatsResponse, error) {
	var out api.StatsResponse
	err := c.do(ctx, http.MethodGet, "/api/stats", nil, nil, &out)
	return out, err
}

// Submit creates a job.
func (c *Client) Submit(ctx context.Context, req api.SubmitRequest) (api.SubmitResponse, error) {
	var out api.SubmitResponse
	err := c.do(ctx, http.MethodPost, "/api/jobs", nil, req, &out)
	return out, err
}

// ListOptions filters List.
type ListOptions struct {
	Statuses []jobs.Status
	Domain   string
	Limit    int
	Offset   int
}

// List returns jobs, newest first.
func (c *Client) List(ctx context.Context, opts ListOptions) ([]api.Job, error) {
	query := url.Values{}
	if len(opts.Statuses) > 0 {
		parts := make([]string, 0, len(opts.Statuses))
		for _, s := range opts.Statuses {
			parts = append(parts, string(s))
		}
		query.Set("status", strings.Join(parts, ","))
	}
	if opts.Domain != "" {
		query.Set("domain", opts.Domain)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}
	var out api.JobListResponse
	err := c.do(ctx, http.MethodGet, "/api/jobs", query, nil, &out)
	return out.Jobs, err
}

// Get returns one job including its config.
func (c *Client) Get(ctx context.Context, id string) (api.Job, error) {
	var out api.JobResponse
	err := c.do(ctx, http.MethodGet, jobPath(id, ""), nil, nil, &out)
	return out.Job, err
}

// Delete removes a finished or waiting job and its workspace.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, jobPath(id, ""), nil, nil, nil)
}

// Stop stops a running job or removes a queued one.
func (c *Client) Stop(ctx context.Context, id string) (api.StopResponse, error) {
	var out api.StopResponse
	err := c.do(ctx, http.MethodPost, jobPath(id, "stop"), nil, nil, &out)
	return out, err
}

// Retry clones a failed job into a new submission.
func (c *Client) Retry(ctx context.Context, id string) (api.SubmitResponse, error) {
	var out api.SubmitResponse
	err := c.do(ctx, http.MethodPost, jobPath(id, "retry"), nil, nil, &out)
	return out, err
}

// Review returns the conflicts recorded for a paused job.
func (c *Client) Review(ctx context.Context, id string) (api.ReviewResponse, error) {
	var out api.ReviewResponse
	err := c.do(ctx, http.MethodGet, jobPath(id, "review"), nil, nil, &out)
	return out, err
}

// Resume submits conflict resolutions for a paused job.
func (c *Client) Resume(ctx context.Context, id string, resolutions json.RawMessage) (api.SubmitResponse, error) {
	var out api.SubmitResponse
	err := c.do(ctx, http.MethodPost, jobPath(id, "review"), nil, api.ResumeRequest{Resolutions: resolutions}, &out)
	return out, err
}

// JobLogs returns persisted log lines after since.
func (c *Client) JobLogs(ctx context.Context, id string, since int64, limit int) (api.JobLogsResponse, error) {
	query := url.Values{}
	if since > 0 {
		query.Set("since", strconv.FormatInt(since, 10))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out api.JobLogsResponse
	err := c.do(ctx, http.MethodGet, jobPath(id, "logs"), query, nil, &out)
	return out, err
}

// Settings returns the runtime settings table.
func (c *Client) Settings(ctx context.Context) ([]api.Setting, error) {
	var out api.SettingsResponse
	err := c.do(ctx, http.MethodGet, "/api/settings", nil, nil, &out)
	return out.Settings, err
}

// UpdateSettings applies values and returns the updated table.
func (c *Client) UpdateSettings(ctx context.Context, values api.SettingsUpdate) ([]api.Setting, error) {
	var out api.SettingsResponse
	err := c.do(ctx, http.MethodPut, "/api/settings", nil, values, &out)
	return out.Settings, err
}

// Cleanup runs one retention pass.
func (c *Client) Cleanup(ctx context.Context) (api.CleanupResponse, error) {
	var out api.CleanupResponse
	err := c.do(ctx, http.MethodPost, "/api/cleanup", nil, nil, &out)
	return out, err
}

// Baselines lists registered baseline corpora.
func (c *Client) Baselines(ctx context.Context) ([]jobs.Baseline, error) {
	var out struct {
		Baselines []jobs.Baseline `json:"baselines"`
	}
	err := c.do(ctx, http.MethodGet, "/api/baselines", nil, nil, &out)
	return out.Baselines, err
}

// Templates lists job templates, defaults first.
func (c *Client) Templates(ctx context.Context) ([]jobs.Template, error) {
	var out struct {
		Templates []jobs.Template `json:"templates"`
	}
	err := c.do(ctx, http.MethodGet, "/api/templates", nil, nil, &out)
	return out.Templates, err
}

// TestNotification sends a test notification through configured backends.
func (c *Client) TestNotification(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/test", nil, nil, nil)
}

type multipartBody struct {
	buf         *bytes.Buffer
	contentType string
}

// Upload stores local files on the daemon and returns the batch handle to
// pass as SubmitRequest.UploadDir.
func (c *Client) Upload(ctx context.Context, paths []string) (api.UploadResponse, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for _, path := range paths {
		if err := addFilePart(mw, path); err != nil {
			return api.UploadResponse{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return api.UploadResponse{}, err
	}
	var out api.UploadResponse
	err := c.do(ctx, http.MethodPost, "/api/uploads", nil, &multipartBody{buf: buf, contentType: mw.FormDataContentType()}, &out)
	return out, err
}

func addFilePart(mw *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	part, err := mw.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// LogQuery selects daemon log events.
type LogQuery struct {
	Since     uint64
	Limit     int
	Follow    bool
	Tail      bool
	JobID     string
	Component string
}

// DaemonLogs fetches daemon log events. With Follow set the request blocks
// until new events arrive or ctx ends.
func (c *Client) DaemonLogs(ctx context.Context, q LogQuery) (api.LogStreamResponse, error) {
	values := url.Values{}
	if q.Since > 0 {
		values.Set("since", strconv.FormatUint(q.Since, 10))
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Follow {
		values.Set("follow", "1")
	}
	if q.Tail {
		values.Set("tail", "1")
	}
	if strings.TrimSpace(q.JobID) != "" {
		values.Set("job", q.JobID)
	}
	if strings.TrimSpace(q.Component) != "" {
		values.Set("component", q.Component)
	}
	var out api.LogStreamResponse
	err := c.do(ctx, http.MethodGet, "/api/logs", values, nil, &out)
	return out, err
}

// Watch streams a job's events over the websocket until the daemon closes
// the stream, fn returns an error, or ctx ends.
func (c *Client) Watch(ctx context.Context, id string, fn func(api.StreamMessage) error) error {
	wsURL := *c.base
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = jobPath(id, "stream")
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("stream %s: %s", id, resp.Status)}
		}
		if IsUnavailable(err) {
			return fmt.Errorf("%w: %v", ErrAPIUnavailable, err)
		}
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var msg api.StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}

func jobPath(id, action string) string {
	path := "/api/jobs/" + url.PathEscape(id)
	if action != "" {
		path += "/" + action
	}
	return path
}

// IsUnavailable reports whether err means the daemon could not be reached.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAPIUnavailable) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
