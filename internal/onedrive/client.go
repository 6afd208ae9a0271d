package onedrive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Retry and backoff constants.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "odb/0.1"
)

// maxErrorBody caps how much of an error response body is kept for messages.
const maxErrorBody = 64 * 1024

// Session supplies authentication for outbound requests. Defined at the
// consumer per Go convention "accept interfaces, return structs"; the auth
// package's Manager is the real implementation.
type Session interface {
	// AppendAuthHeader attaches the bearer header, authenticating first if
	// no valid session exists.
	AppendAuthHeader(ctx context.Context, req *http.Request) error

	// EndpointURL returns the resolved service endpoint base URL,
	// authenticating first if needed.
	EndpointURL(ctx context.Context) (string, error)
}

// Client is an HTTP client for the OneDrive for Business API.
// It handles request construction, authentication, retry with exponential
// backoff, and error classification.
type Client struct {
	session    Session
	httpClient *http.Client
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates an API client on top of the given session.
func NewClient(session Session, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		session:    session,
		httpClient: httpClient,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// DoPath executes a request against a path relative to the resolved service
// endpoint. Resolving the endpoint authenticates first; authentication
// errors propagate unchanged.
func (c *Client) DoPath(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	base, err := c.session.EndpointURL(ctx)
	if err != nil {
		return nil, err
	}

	return c.Do(ctx, method, base+path, body)
}

// Do executes a request against an absolute URL with auth and retry.
// For non-nil bodies, Content-Type is set to application/json.
// The caller is responsible for closing the response body on success.
func (c *Client) Do(ctx context.Context, method, rawURL string, body []byte) (*http.Response, error) {
	return c.do(ctx, method, rawURL, body, true)
}

// do is the retry loop shared by authenticated calls and pre-authenticated
// content URLs (which must not carry a bearer header).
func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, authenticate bool) (*http.Response, error) {
	var attempt int
	for {
		resp, err := c.doOnce(ctx, method, rawURL, body, authenticate)
		if err != nil {
			// Authentication errors are terminal, not transport flakes.
			var authErr *authHeaderError
			if errors.As(err, &authErr) {
				return nil, authErr.err
			}

			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("onedrive: request canceled: %w", ctx.Err())
			}

			// Network errors are retryable.
			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("onedrive: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("onedrive: %s request failed after %d retries: %w", method, maxRetries, err)
		}

		// 2xx — success.
		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		// Read and close body for error responses.
		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		reqID := requestID(resp)

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("onedrive: request canceled: %w", err)
			}

			attempt++

			continue
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("method", method),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, newAPIError(resp.StatusCode, reqID, errBody)
	}
}

// authHeaderError marks a session failure so the retry loop can tell it
// apart from transport errors.
type authHeaderError struct {
	err error
}

func (e *authHeaderError) Error() string {
	return e.err.Error()
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, method, rawURL string, body []byte, authenticate bool) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if authenticate {
		if err := c.session.AppendAuthHeader(ctx, req); err != nil {
			return nil, &authHeaderError{err: err}
		}
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("client-request-id", uuid.NewString())

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// requestID extracts the service's request correlation ID. SharePoint-backed
// tenants use SPRequestGuid instead of request-id.
func requestID(resp *http.Response) string {
	if id := resp.Header.Get("request-id"); id != "" {
		return id
	}

	return resp.Header.Get("SPRequestGuid")
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	// Apply ±25% jitter.
	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
