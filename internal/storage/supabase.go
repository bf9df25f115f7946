package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	uploadTimeout   = 180 * time.Second // per attempt; prepared clips can be tens of MB
	downloadTimeout = 120 * time.Second
	maxRetries      = 4
)

// Supabase keeps run artifacts in a Supabase Storage bucket, talking to its
// REST API directly.
type Supabase struct {
	baseURL    string
	serviceKey string
	Bucket     string
	client     *http.Client
	backoff    func(attempt int) time.Duration
}

var _ ObjectStore = (*Supabase)(nil)

func NewSupabase(baseURL, serviceKey, bucket string) *Supabase {
	return &Supabase{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		Bucket:     bucket,
		client: &http.Client{
			Timeout: uploadTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		backoff: RetryDelay,
	}
}

func (s *Supabase) objectURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, s.Bucket, path)
}

// Upload writes data to path, replacing any object already there.
func (s *Supabase) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	_, err := s.do(ctx, "upload", path, uploadTimeout, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.objectURL(path), bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.ContentLength = int64(len(data))
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("x-upsert", "true")
		return req, nil
	})
	return err
}

func (s *Supabase) UploadFile(ctx context.Context, storagePath, localPath string, contentType string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", localPath, err)
	}
	return s.Upload(ctx, storagePath, data, contentType)
}

func (s *Supabase) Download(ctx context.Context, path string) ([]byte, error) {
	return s.do(ctx, "download", path, downloadTimeout, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, s.objectURL(path), nil)
	})
}

func (s *Supabase) GetPublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.Bucket, path)
}

// do sends the request built by newReq until it gets a 2xx, a status or
// network error that is not worth retrying, or runs out of attempts. It
// returns the body of the successful response.
func (s *Supabase) do(ctx context.Context, op, path string, timeout time.Duration, newReq func(context.Context) (*http.Request, error)) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := s.backoff(attempt)
			log.Printf("[Storage] %s retry %d/%d for %s (waiting %v)", op, attempt, maxRetries, path, delay)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%s cancelled: %w", op, ctx.Err())
			case <-time.After(delay):
			}
		}

		body, retry, err := s.attempt(ctx, timeout, newReq)
		if err == nil {
			if attempt > 0 {
				log.Printf("[Storage] %s of %s succeeded on attempt %d", op, path, attempt+1)
			}
			return body, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			return nil, fmt.Errorf("%s %s: %w", op, path, err)
		}
		log.Warnf("[Storage] %s attempt %d for %s failed: %v", op, attempt+1, path, err)
	}
	return nil, fmt.Errorf("%s %s failed after %d attempts: %w", op, path, maxRetries+1, lastErr)
}

func (s *Supabase) attempt(ctx context.Context, timeout time.Duration, newReq func(context.Context) (*http.Request, error)) ([]byte, bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := newReq(reqCtx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, IsRetryableError(err), err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err != nil {
			return nil, true, fmt.Errorf("failed to read body: %w", err)
		}
		return body, false, nil
	}
	return nil, IsRetryableStatus(resp.StatusCode),
		fmt.Errorf("status %d: %s", resp.StatusCode, Truncate(string(body), 200))
}
