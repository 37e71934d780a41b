// Package api holds the HTTP client for the workflow control plane.
// Starting, updating and cancelling runs goes through plain
// request/response endpoints; only live progress flows over the
// monitoring channel.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/dhruv465/Website-Builder-sub000/pkg/models"
	"github.com/dhruv465/Website-Builder-sub000/pkg/monitor"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	retryBaseDelay    = time.Second
	retryMaxDelay     = 10 * time.Second
)

// Client talks to the workflow REST endpoints. It implements
// monitor.WorkflowAPI. Transient failures (network errors and 5xx
// responses) are retried with capped exponential backoff; client errors
// are returned immediately.
type Client struct {
	baseURL    string
	sessionID  string
	httpClient *http.Client
	maxRetries int
	retryBase  time.Duration
	retryMax   time.Duration
	logger     monitor.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying *http.Client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMaxRetries sets how many times a transient failure is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay overrides the backoff schedule for retried requests.
func WithRetryDelay(base, max time.Duration) Option {
	return func(c *Client) {
		c.retryBase = base
		c.retryMax = max
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l monitor.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient returns a Client rooted at baseURL. Every request carries the
// session identifier in the X-Session-ID header.
func NewClient(baseURL, sessionID string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		sessionID:  sessionID,
		httpClient: &http.Client{Timeout: defaultTimeout},
		maxRetries: defaultMaxRetries,
		retryBase:  retryBaseDelay,
		retryMax:   retryMaxDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type workflowIDResponse struct {
	WorkflowID string `json:"workflow_id"`
}

// CreateWorkflow starts a new site-generation run and returns its
// workflow identifier.
func (c *Client) CreateWorkflow(ctx context.Context, req monitor.CreateWorkflowRequest) (string, error) {
	var resp workflowIDResponse
	if err := c.do(ctx, http.MethodPost, "/api/workflows", req, &resp); err != nil {
		return "", errors.Wrap(err, "create workflow")
	}
	return resp.WorkflowID, nil
}

// UpdateWorkflow requests changes to an existing site and returns the
// identifier of the run executing them.
func (c *Client) UpdateWorkflow(ctx context.Context, workflowID string, req monitor.CreateWorkflowRequest) (string, error) {
	var resp workflowIDResponse
	path := fmt.Sprintf("/api/workflows/%s", workflowID)
	if err := c.do(ctx, http.MethodPut, path, req, &resp); err != nil {
		return "", errors.Wrapf(err, "update workflow %s", workflowID)
	}
	return resp.WorkflowID, nil
}

// GetWorkflowStatus fetches the current server-side snapshot of a run,
// useful before the monitoring channel delivers its first status message.
func (c *Client) GetWorkflowStatus(ctx context.Context, workflowID string) (models.WorkflowSnapshot, error) {
	var snap models.WorkflowSnapshot
	path := fmt.Sprintf("/api/workflows/%s", workflowID)
	if err := c.do(ctx, http.MethodGet, path, nil, &snap); err != nil {
		return models.WorkflowSnapshot{}, errors.Wrapf(err, "get workflow %s", workflowID)
	}
	return snap, nil
}

// CancelWorkflow asks the backend to stop a run. The caller separately
// sends the in-band cancel command over the monitoring channel.
func (c *Client) CancelWorkflow(ctx context.Context, workflowID string) error {
	path := fmt.Sprintf("/api/workflows/%s/cancel", workflowID)
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return errors.Wrapf(err, "cancel workflow %s", workflowID)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
	}

	operation := func() error {
		err := c.doOnce(ctx, method, path, payload, out)
		if err != nil && !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		if c.logger != nil {
			c.logger.Infof("Retrying %s %s in %s after transient error: %v", method, path, delay, err)
		}
	}
	return backoff.RetryNotify(operation, c.newBackoff(ctx), notify)
}

func (c *Client) newBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryBase
	b.MaxInterval = c.retryMax
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.sessionID != "" {
		req.Header.Set("X-Session-ID", c.sessionID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transientError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &transientError{err: httpError(resp)}
	}
	if resp.StatusCode >= 400 {
		return httpError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decoding response body")
	}
	return nil
}

func httpError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = resp.Status
	}
	return errors.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
