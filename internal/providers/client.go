package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/bobarin/stockreel/internal/models"
	"github.com/bobarin/stockreel/internal/storage"
)

// maxBody bounds how much of a search response is read.
const maxBody = 8 << 20

// client is the rate-limited JSON GET helper behind each provider.
type client struct {
	id      string
	http    *http.Client
	limiter *rate.Limiter
	timeout time.Duration
	retries int
	backoff func(attempt int) time.Duration
}

func newClient(id string, opts Options) *client {
	return &client{
		id:      id,
		http:    opts.Client,
		limiter: opts.limiter(),
		timeout: opts.Timeout,
		retries: opts.Retries,
		backoff: storage.RetryDelay,
	}
}

// getJSON fetches url and decodes the body into out. Every failure wraps
// models.ErrProviderUnavailable.
func (c *client) getJSON(ctx context.Context, url string, header http.Header, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			log.Debugf("[%s] Search retry %d/%d (waiting %v)", c.id, attempt, c.retries, delay)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %s: %v", models.ErrProviderUnavailable, c.id, ctx.Err())
			case <-time.After(delay):
			}
		}

		retry, err := c.do(ctx, url, header, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return fmt.Errorf("%w: %s: %v", models.ErrProviderUnavailable, c.id, lastErr)
}

func (c *client) do(ctx context.Context, url string, header http.Header, out interface{}) (retry bool, err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("rate limiter: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return storage.IsRetryableError(err) && ctx.Err() == nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return true, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return storage.IsRetryableStatus(resp.StatusCode),
			fmt.Errorf("status %d: %s", resp.StatusCode, storage.Truncate(string(body), 200))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("malformed response: %w", err)
	}
	return false, nil
}
