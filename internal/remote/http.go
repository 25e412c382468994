package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/parthagni22/adk-mcp-agent-lab/pkg/models"
)

// Connection is a callable binding to one worker.
type Connection interface {
	CreateTask(ctx context.Context, req CreateTaskRequest) (*TaskStatus, error)
	GetTask(ctx context.Context, taskID string) (*TaskStatus, error)
	CancelTask(ctx context.Context, taskID string) error
	Card(ctx context.Context) (*AgentCard, error)
}

// RetryPolicy bounds transport-level retries.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy returns three attempts with 200ms..2s backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialBackoff > 0 {
		b.InitialInterval = p.InitialBackoff
	}
	if p.MaxBackoff > 0 {
		b.MaxInterval = p.MaxBackoff
	}
	b.MaxElapsedTime = 0
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// HTTPConnection speaks the task protocol over HTTP+JSON.
type HTTPConnection struct {
	worker  string
	baseURL string
	client  *http.Client
	retry   RetryPolicy
}

// NewHTTPConnection creates a connection to the endpoint's base URL.
func NewHTTPConnection(ep models.WorkerEndpoint, client *http.Client, retry RetryPolicy) (*HTTPConnection, error) {
	base := strings.TrimRight(strings.TrimSpace(ep.URL), "/")
	if base == "" {
		return nil, errors.New("base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse worker url: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPConnection{
		worker:  ep.Name,
		baseURL: base,
		client:  client,
		retry:   retry,
	}, nil
}

// CreateTask submits a task. Workers may answer with a terminal status
// immediately instead of a pending one.
func (c *HTTPConnection) CreateTask(ctx context.Context, req CreateTaskRequest) (*TaskStatus, error) {
	var status TaskStatus
	if err := c.do(ctx, http.MethodPost, TasksPath, req, &status); err != nil {
		return nil, err
	}
	if status.TaskID == "" {
		return nil, &RejectedError{Worker: c.worker, StatusCode: http.StatusOK, Reason: "response carried no task_id"}
	}
	return &status, nil
}

// GetTask probes a task's status.
func (c *HTTPConnection) GetTask(ctx context.Context, taskID string) (*TaskStatus, error) {
	var status TaskStatus
	if err := c.do(ctx, http.MethodGet, TasksPath+"/"+url.PathEscape(taskID), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// CancelTask asks the worker to stop a task. Acknowledgement is not awaited
// beyond the HTTP response.
func (c *HTTPConnection) CancelTask(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodPost, TasksPath+"/"+url.PathEscape(taskID)+"/cancel", nil, nil)
}

// Card fetches the worker's agent card.
func (c *HTTPConnection) Card(ctx context.Context) (*AgentCard, error) {
	var card AgentCard
	if err := c.do(ctx, http.MethodGet, CardPath, nil, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

// do sends one request with bounded retries on transport errors and 5xx.
// 4xx responses surface as RejectedError without retry.
func (c *HTTPConnection) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	attempt := 0
	op := func() error {
		attempt++
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return &HTTPError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp)}
		case resp.StatusCode >= 400:
			return backoff.Permanent(&RejectedError{
				Worker:     c.worker,
				StatusCode: resp.StatusCode,
				Reason:     readErrorMessage(resp),
			})
		}

		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(&RejectedError{
				Worker:     c.worker,
				StatusCode: resp.StatusCode,
				Reason:     fmt.Sprintf("decode response: %v", err),
			})
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		log.Printf("[remote] %s %s %s attempt %d failed, retrying in %s: %v",
			c.worker, method, path, attempt, wait, err)
	}

	err := backoff.RetryNotify(op, c.retry.backOff(ctx), notify)
	if err == nil {
		return nil
	}

	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &ConnectionError{Worker: c.worker, Kind: Unreachable, Err: err}
}

// readErrorMessage extracts a short message from an error response body.
func readErrorMessage(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	if msg := strings.TrimSpace(string(data)); msg != "" {
		return msg
	}
	return resp.Status
}
