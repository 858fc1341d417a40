// Package poller is the client side of the audit API: it submits runs and
// polls job status until the job is terminal. The delay between reads is the
// server's Retry-After advice unless the caller fixes an interval.
package poller

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
	"time"

	"github.com/jrsteele09/go-audit-server/audit"
)

const (
	DefaultInterval = 2 * time.Second

	sessionCookieName = "session_id"
	csrfHeaderName    = "X-CSRF-Token"
)

var (
	ErrUnauthenticated = errors.New("not signed in")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("job not found")
)

// APIError is a non-success response from the audit API.
type APIError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Code, e.Description)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, e.Code)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthenticated
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

// RunResponse is either an accepted job (JobID only) or an immediate result.
type RunResponse struct {
	Success bool          `json:"success"`
	JobID   string        `json:"jobId"`
	Results *audit.Result `json:"results,omitempty"`
}

// Immediate reports whether the server already finished the run.
func (r *RunResponse) Immediate() bool {
	return r.Results != nil
}

type Status struct {
	Status      audit.Status    `json:"status"`
	CurrentStep string          `json:"currentStep"`
	Progress    int             `json:"progress"`
	Error       string          `json:"error,omitempty"`
	ErrorType   audit.ErrorType `json:"errorType,omitempty"`
}

// Outcome is the terminal state of a run.
type Outcome struct {
	JobID   string
	Status  Status
	Results *audit.Result
}

type Client struct {
	baseURL    string
	sessionID  string
	httpClient *http.Client
	interval   time.Duration

	// fixedInterval ignores the server's Retry-After advice
	fixedInterval bool
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithInterval sets a fixed delay between status reads.
func WithInterval(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.interval = d
			cl.fixedInterval = true
		}
	}
}

func New(baseURL, sessionID string, options ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		sessionID:  sessionID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		interval:   DefaultInterval,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// CSRFToken fetches the anti-forgery token bound to the session.
func (c *Client) CSRFToken(ctx context.Context) (string, error) {
	var out struct {
		CSRFToken string `json:"csrfToken"`
	}
	if err := c.do(ctx, http.MethodGet, "/csrf-token", nil, nil, &out); err != nil {
		return "", err
	}
	return out.CSRFToken, nil
}

// Run submits an audit run.
func (c *Client) Run(ctx context.Context, projectID string, category audit.Category) (*RunResponse, error) {
	token, err := c.CSRFToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("[poller Run] failed to get csrf token: %w", err)
	}

	body := map[string]string{"projectId": projectID, "category": category.String()}
	var out RunResponse
	if err := c.do(ctx, http.MethodPost, "/audits/run", body, http.Header{csrfHeaderName: {token}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Status(ctx context.Context, jobID string) (*Status, error) {
	st, _, err := c.status(ctx, jobID)
	return st, err
}

// status also returns the delay the server advised before the next read.
func (c *Client) status(ctx context.Context, jobID string) (*Status, time.Duration, error) {
	var out Status
	header, err := c.doWithHeader(ctx, http.MethodGet, "/audits/status?id="+url.QueryEscape(jobID), nil, nil, &out)
	if err != nil {
		return nil, 0, err
	}
	return &out, retryAfter(header), nil
}

// retryAfter parses a delay-seconds Retry-After value; anything else is ignored.
func retryAfter(header http.Header) time.Duration {
	seconds, err := strconv.Atoi(header.Get("Retry-After"))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func (c *Client) Results(ctx context.Context, jobID string) (*audit.Result, error) {
	var out audit.Result
	if err := c.do(ctx, http.MethodGet, "/audits/results?id="+url.QueryEscape(jobID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Poll reads the job status until it is terminal. onUpdate, when set, sees
// every status read.
func (c *Client) Poll(ctx context.Context, jobID string, onUpdate func(Status)) (*Status, error) {
	for {
		st, advised, err := c.status(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if onUpdate != nil {
			onUpdate(*st)
		}
		if st.Status.Terminal() {
			return st, nil
		}

		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-time.After(c.delay(advised)):
		}
	}
}

func (c *Client) delay(advised time.Duration) time.Duration {
	if c.fixedInterval || advised <= 0 {
		return c.interval
	}
	return advised
}

// RunAndWait submits a run and waits for its terminal state. An immediate
// result from the server is treated as already completed.
func (c *Client) RunAndWait(ctx context.Context, projectID string, category audit.Category, onUpdate func(Status)) (*Outcome, error) {
	resp, err := c.Run(ctx, projectID, category)
	if err != nil {
		return nil, err
	}
	if resp.Immediate() {
		return &Outcome{
			JobID:   resp.JobID,
			Status:  Status{Status: audit.StatusCompleted, Progress: 100},
			Results: resp.Results,
		}, nil
	}

	st, err := c.Poll(ctx, resp.JobID, onUpdate)
	if err != nil {
		return nil, err
	}
	outcome := &Outcome{JobID: resp.JobID, Status: *st}
	if st.Status == audit.StatusCompleted {
		if outcome.Results, err = c.Results(ctx, resp.JobID); err != nil {
			return nil, err
		}
	}
	return outcome, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, header http.Header, out any) error {
	_, err := c.doWithHeader(ctx, method, path, body, header, out)
	return err
}

// doWithHeader sends the request, decodes a success body into out and returns
// the response header.
func (c *Client) doWithHeader(ctx context.Context, method, path string, body any, header http.Header, out any) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("[poller] failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("[poller] failed to build request: %w", err)
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.sessionID != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: c.sessionID})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("[poller] %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(apiErr)
		if apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
		}
		return resp.Header, apiErr
	}
	if out == nil {
		return resp.Header, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.Header, fmt.Errorf("[poller] failed to decode %s response: %w", path, err)
	}
	return resp.Header, nil
}
