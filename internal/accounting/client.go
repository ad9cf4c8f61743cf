// Package accounting is an HTTP client for a remote streaming-session
// accounting service. It implements domain.SessionService so the pipeline can
// meter against a ledger owned by another process.
package accounting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/observability"
)

const (
	defaultTimeout         = 10 * time.Second
	defaultMaxElapsed      = 30 * time.Second
	defaultInitialInterval = 200 * time.Millisecond
	maxErrorBody           = 4096

	userHeader = "X-User-Id"
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client

	// Timeout bounds each attempt.
	Timeout time.Duration

	// MaxElapsed bounds all retries of one reconciliation call.
	MaxElapsed      time.Duration
	InitialInterval time.Duration

	// Headers are sent with every request.
	Headers map[string]string
}

// RemoteError is a non-2xx response from the accounting service.
type RemoteError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("accounting service returned %d", e.StatusCode)
	}
	return fmt.Sprintf("accounting service returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the response to the matching domain sentinel.
func (e *RemoteError) Unwrap() error {
	if err := domain.ErrorFromCode(e.Code); err != nil {
		return err
	}
	switch e.StatusCode {
	case http.StatusPaymentRequired:
		return domain.ErrInsufficientCredits
	case http.StatusConflict:
		return domain.ErrSessionExists
	case http.StatusNotFound:
		return domain.ErrSessionNotFound
	default:
		return nil
	}
}

// Client implements domain.SessionService over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	opts    Options
}

// NewClient creates an accounting client.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("accounting base URL is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = defaultMaxElapsed
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = defaultInitialInterval
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    client,
		opts:    opts,
	}, nil
}

// Initialize is never retried: a lost response would otherwise deduct twice.
func (c *Client) Initialize(ctx context.Context, req domain.InitializeRequest) (*domain.InitializeResult, error) {
	var out domain.InitializeResult
	if err := c.call(ctx, "/streaming-sessions/initialize", req.UserID, req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// Finalize retries network and 5xx failures with exponential backoff.
func (c *Client) Finalize(ctx context.Context, req domain.FinalizeRequest) (*domain.FinalizeResult, error) {
	var out domain.FinalizeResult
	if err := c.call(ctx, "/streaming-sessions/finalize", observability.GetUserID(ctx), req, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// Abort retries network and 5xx failures with exponential backoff.
func (c *Client) Abort(ctx context.Context, req domain.AbortRequest) (*domain.AbortResult, error) {
	var out domain.AbortResult
	if err := c.call(ctx, "/streaming-sessions/abort", observability.GetUserID(ctx), req, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecordUsage posts a usage event.
func (c *Client) RecordUsage(ctx context.Context, event *domain.UsageEvent) error {
	if event == nil {
		return errors.New("usage event cannot be nil")
	}
	return c.call(ctx, "/usage/record", event.UserID, event, nil, true)
}

func (c *Client) call(ctx context.Context, path, userID string, body, out any, retry bool) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", path, err)
	}

	logger := observability.FromContext(ctx).With(observability.String("path", path))
	attempt := 0

	op := func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()

		httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if userID != "" {
			httpReq.Header.Set(userHeader, userID)
		}
		if traceID := observability.GetTraceID(ctx); traceID != "" {
			httpReq.Header.Set("X-Request-ID", traceID)
		}
		for k, v := range c.opts.Headers {
			httpReq.Header.Set(k, v)
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("accounting request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusBadRequest {
			remote := decodeError(resp)
			if resp.StatusCode < http.StatusInternalServerError {
				return backoff.Permanent(remote)
			}
			return remote
		}

		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode %s response: %w", path, err))
		}
		return nil
	}

	if !retry {
		err := op()
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Err
		}
		return err
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.opts.InitialInterval
	expo.MaxElapsedTime = c.opts.MaxElapsed

	err = backoff.RetryNotify(op, backoff.WithContext(expo, ctx), func(err error, wait time.Duration) {
		logger.Warn("accounting call failed, retrying",
			observability.Error(err),
			observability.Int("attempt", attempt),
			observability.Duration("wait", wait),
		)
	})
	if err != nil {
		return err
	}
	return nil
}

func decodeError(resp *http.Response) *RemoteError {
	remote := &RemoteError{StatusCode: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return remote
	}

	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if json.Unmarshal(data, &body) == nil {
		remote.Message = body.Error
		remote.Code = body.Code
	}
	if remote.Message == "" {
		remote.Message = strings.TrimSpace(string(data))
	}
	return remote
}
