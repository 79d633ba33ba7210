// Package client talks to a taskbench job server.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"taskbench/evaluation/evaluator"
	"taskbench/internal/app/jobs"
	"taskbench/internal/sandbox"
	jsonx "taskbench/internal/shared/json"
	"taskbench/internal/task"
	"taskbench/internal/taskstate"
)

const defaultResponseLimit = 8 << 20

// ResponseTooLargeError reports that a response body exceeded the limit.
type ResponseTooLargeError struct {
	Limit int64
}

func (e ResponseTooLargeError) Error() string {
	return fmt.Sprintf("response body exceeded limit of %d bytes", e.Limit)
}

// APIError is a non-2xx reply from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client calls the job protocol endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	limit   int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithResponseLimit bounds response bodies; zero or less disables the bound.
func WithResponseLimit(limit int64) Option {
	return func(c *Client) { c.limit = limit }
}

// New returns a client for the server at baseURL. Job calls block for as
// long as the job runs, so the default HTTP client has no timeout; bound calls
// with the context instead.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("client: server URL is required")
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	c := &Client{baseURL: baseURL, http: &http.Client{}, limit: defaultResponseLimit}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type submitBody struct {
	TaskConfig *task.Task `json:"task_config"`
	Trajectory []any      `json:"trajectory,omitempty"`
}

// Reset submits t's reset procedure.
func (c *Client) Reset(ctx context.Context, t *task.Task) (jobs.Response, error) {
	var resp jobs.Response
	err := c.post(ctx, "/task/reset", submitBody{TaskConfig: t}, &resp)
	return resp, err
}

// Eval submits t's eval procedure with the agent trajectory.
func (c *Client) Eval(ctx context.Context, t *task.Task, trajectory []any) (jobs.Response, error) {
	var resp jobs.Response
	err := c.post(ctx, "/task/eval", submitBody{TaskConfig: t, Trajectory: trajectory}, &resp)
	return resp, err
}

// Cleanup submits t's cleanup procedure.
func (c *Client) Cleanup(ctx context.Context, t *task.Task) (jobs.Response, error) {
	var resp jobs.Response
	err := c.post(ctx, "/task/cleanup", submitBody{TaskConfig: t}, &resp)
	return resp, err
}

// Confirm answers the pending prompt.
func (c *Client) Confirm(ctx context.Context, answer string) (jobs.Response, error) {
	var resp jobs.Response
	err := c.post(ctx, "/task/confirm", map[string]string{"message": answer}, &resp)
	return resp, err
}

// State fetches the current state record.
func (c *Client) State(ctx context.Context) (taskstate.Info, error) {
	var info taskstate.Info
	err := c.do(ctx, http.MethodGet, "/task/state", nil, &info)
	return info, err
}

// ResetRuntime wipes the server's code sandbox.
func (c *Client) ResetRuntime(ctx context.Context) error {
	return c.post(ctx, "/runtime/reset", nil, nil)
}

// Execute runs code in the server's sandbox.
func (c *Client) Execute(ctx context.Context, code string) (sandbox.Result, error) {
	var res sandbox.Result
	err := c.post(ctx, "/runtime/execute", map[string]string{"code": code}, &res)
	return res, err
}

// Answerer produces the answer to one prompt.
type Answerer func(ctx context.Context, prompt string) (string, error)

// Drive answers prompts until the job started by resp stops waiting for
// input, and returns the final response.
func (c *Client) Drive(ctx context.Context, resp jobs.Response, answer Answerer) (jobs.Response, error) {
	for resp.Status == jobs.StatusWaitForInput {
		prompt, _ := resp.Message.(string)
		reply, err := answer(ctx, prompt)
		if err != nil {
			return resp, err
		}
		resp, err = c.Confirm(ctx, reply)
		if err != nil {
			return resp, err
		}
	}
	return resp, nil
}

// EvalResult extracts the evaluation result from a finished eval response.
func EvalResult(resp jobs.Response) (evaluator.Result, error) {
	if resp.Status != jobs.StatusFinished || resp.Content != jobs.ResultSuccess {
		return evaluator.Result{}, fmt.Errorf("job did not succeed: %s %s: %v", resp.Status, resp.Content, resp.Message)
	}
	raw, err := jsonx.Marshal(resp.Message)
	if err != nil {
		return evaluator.Result{}, err
	}
	var res evaluator.Result
	if err := jsonx.Unmarshal(raw, &res); err != nil {
		return evaluator.Result{}, fmt.Errorf("decode eval result: %w", err)
	}
	return res, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := jsonx.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := readAllWithLimit(resp.Body, c.limit)
	if err != nil {
		return fmt.Errorf("%s %s: read response after %s: %w", method, path, time.Since(start), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var payload struct {
			Message string `json:"message"`
		}
		if jsonx.Unmarshal(data, &payload) == nil && payload.Message != "" {
			apiErr.Message = payload.Message
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := jsonx.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func readAllWithLimit(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(&io.LimitedReader{R: r, N: limit + 1})
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ResponseTooLargeError{Limit: limit}
	}
	return data, nil
}
