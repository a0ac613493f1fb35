package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// FetchConfig bounds a single outbound JSON request.
type FetchConfig struct {
	// Timeout applies to each attempt.
	Timeout time.Duration
	// Retries is the number of extra attempts after the first one.
	Retries int
	// RetryDelay is the fixed pause between attempts.
	RetryDelay time.Duration
}

// DefaultFetchConfig returns 8s per attempt, one retry, 300ms apart.
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		Timeout:    8 * time.Second,
		Retries:    1,
		RetryDelay: 300 * time.Millisecond,
	}
}

// HTTPStatusError is returned for non-2xx responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

var errDecode = errors.New("decode response")

// IsRetryable reports whether another attempt may succeed.
// Caller cancellation, undecodable bodies and 4xx other than 429 are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, errDecode) {
		return false
	}
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	return true
}

// NewHTTPClient returns a client whose transport is traced with otelhttp.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{Transport: otelhttp.NewTransport(transport)}
}

// fetchJSON GETs url and decodes the body into out, retrying with a fixed delay.
func fetchJSON(ctx context.Context, client *http.Client, cfg FetchConfig, url string, out any) error {
	if client == nil {
		client = http.DefaultClient
	}
	attempts := cfg.Retries + 1
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fetchOnce(ctx, client, cfg.Timeout, url, out)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || attempt == attempts {
			break
		}
		slog.Debug("Retrying fetch", "url", url, "attempt", attempt, "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.RetryDelay):
		}
	}
	return lastErr
}

func fetchOnce(ctx context.Context, client *http.Client, timeout time.Duration, url string, out any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &HTTPStatusError{StatusCode: resp.StatusCode, URL: url}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", errDecode, err)
	}
	return nil
}
