package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/singleflight"

	"github.com/bobarin/stockreel/internal/models"
	"github.com/bobarin/stockreel/internal/storage"
)

const (
	// DefaultMinBytes rejects truncated downloads and error pages.
	DefaultMinBytes = 10000

	// maxAssetBytes caps a single download.
	maxAssetBytes = 1 << 30
)

// Prober reads the playable duration of a media file.
type Prober interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

type Config struct {
	MinBytes     int64
	Timeout      time.Duration // per download attempt
	Retries      int
	ProbeTimeout time.Duration
	Client       *http.Client
}

// Validator downloads candidates into a Session and accepts only files that
// are large enough and readable. Downloads of the same URL are coalesced and
// cached for the life of the session.
type Validator struct {
	session *Session
	prober  Prober
	cfg     Config
	client  *http.Client
	group   singleflight.Group
	backoff func(attempt int) time.Duration

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the context a coalesced download runs under. It is cancelled
// only when every caller waiting on the download has gone away.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// errFlightAbandoned marks a shared download cancelled because all of its
// waiters left. A caller still waiting starts a new one.
var errFlightAbandoned = errors.New("shared download abandoned")

func NewValidator(session *Session, prober Prober, cfg Config) *Validator {
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = DefaultMinBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 30 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Validator{
		session: session,
		prober:  prober,
		cfg:     cfg,
		client:  client,
		backoff: storage.RetryDelay,
		flights: make(map[string]*flight),
	}
}

// Validate downloads c and checks it. Failures wrap models.ErrInvalidAsset
// and leave no file behind.
func (v *Validator) Validate(ctx context.Context, c models.Candidate) (models.ResolvedAsset, error) {
	p, err := v.Fetch(ctx, c.URL, c.Kind)
	if err != nil {
		return models.ResolvedAsset{}, err
	}
	return models.ResolvedAsset{LocalPath: p, Kind: c.Kind}, nil
}

// Fetch returns a validated local copy of rawURL, downloading it if the
// session does not already hold a valid copy. Concurrent fetches of one URL
// share a download, which keeps running while any of the callers waits.
func (v *Validator) Fetch(ctx context.Context, rawURL string, kind models.AssetKind) (string, error) {
	for {
		fctx := v.join(ctx, rawURL)
		ch := v.group.DoChan(rawURL, func() (interface{}, error) {
			p, err := v.fetch(fctx, rawURL, kind)
			if err != nil && fctx.Err() != nil {
				return nil, errFlightAbandoned
			}
			return p, err
		})

		select {
		case res := <-ch:
			v.leave(rawURL)
			if res.Shared {
				log.Debugf("[Assets] Coalesced download of %s", rawURL)
			}
			if errors.Is(res.Err, errFlightAbandoned) {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				continue
			}
			if res.Err != nil {
				return "", res.Err
			}
			return res.Val.(string), nil
		case <-ctx.Done():
			v.leave(rawURL)
			return "", ctx.Err()
		}
	}
}

// join registers the caller as a waiter on rawURL's download and returns
// the context that download runs under.
func (v *Validator) join(ctx context.Context, rawURL string) context.Context {
	v.mu.Lock()
	defer v.mu.Unlock()
	f, ok := v.flights[rawURL]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		v.flights[rawURL] = f
	}
	f.waiters++
	return f.ctx
}

func (v *Validator) leave(rawURL string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	f, ok := v.flights[rawURL]
	if !ok {
		return
	}
	f.waiters--
	if f.waiters == 0 {
		f.cancel()
		delete(v.flights, rawURL)
	}
}

func (v *Validator) fetch(ctx context.Context, rawURL string, kind models.AssetKind) (string, error) {
	dest := v.session.Path(CacheName(rawURL, kind))

	if _, err := os.Stat(dest); err == nil {
		if err := v.Check(ctx, dest, kind); err == nil {
			log.Debugf("[Assets] Reusing %s", dest)
			return dest, nil
		}
		log.Warnf("[Assets] Cached file %s is invalid, re-downloading", dest)
		os.Remove(dest)
	}

	if err := v.download(ctx, rawURL, dest); err != nil {
		return "", fmt.Errorf("%w: %s: %v", models.ErrInvalidAsset, rawURL, err)
	}

	if err := v.Check(ctx, dest, kind); err != nil {
		os.Remove(dest)
		return "", err
	}

	return dest, nil
}

// Check reports whether the file at p is usable as kind. Errors wrap
// models.ErrInvalidAsset. Check does not delete anything.
func (v *Validator) Check(ctx context.Context, p string, kind models.AssetKind) error {
	info, err := os.Stat(p)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidAsset, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", models.ErrInvalidAsset, p)
	}
	if info.Size() < v.cfg.MinBytes {
		return fmt.Errorf("%w: %s is %d bytes (minimum %d)", models.ErrInvalidAsset, p, info.Size(), v.cfg.MinBytes)
	}

	switch kind {
	case models.KindImage:
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("%w: %v", models.ErrInvalidAsset, err)
		}
		defer f.Close()
		cfg, format, err := image.DecodeConfig(f)
		if err != nil {
			return fmt.Errorf("%w: %s: undecodable image: %v", models.ErrInvalidAsset, p, err)
		}
		if cfg.Width <= 0 || cfg.Height <= 0 {
			return fmt.Errorf("%w: %s: %s image has no pixels", models.ErrInvalidAsset, p, format)
		}

	default:
		probeCtx, cancel := context.WithTimeout(ctx, v.cfg.ProbeTimeout)
		defer cancel()
		dur, err := v.prober.ProbeDuration(probeCtx, p)
		if err != nil {
			return fmt.Errorf("%w: %s: probe failed: %v", models.ErrInvalidAsset, p, err)
		}
		if dur <= 0 {
			return fmt.Errorf("%w: %s: no playable duration", models.ErrInvalidAsset, p)
		}
	}

	return nil
}

var errNotRetryable = errors.New("not retryable")

func (v *Validator) download(ctx context.Context, rawURL, dest string) error {
	var lastErr error
	for attempt := 0; attempt <= v.cfg.Retries; attempt++ {
		if attempt > 0 {
			delay := v.backoff(attempt)
			log.Printf("[Assets] Download retry %d/%d for %s (waiting %v)...", attempt, v.cfg.Retries, rawURL, delay)
			select {
			case <-ctx.Done():
				return fmt.Errorf("download cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		err := v.downloadOnce(ctx, rawURL, dest)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, errNotRetryable) || ctx.Err() != nil {
			break
		}
	}
	return lastErr
}

func (v *Validator) downloadOnce(ctx context.Context, rawURL, dest string) error {
	// Each attempt gets its own timeout
	dlCtx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%w: bad request: %v", errNotRetryable, err)
	}
	req.Header.Set("User-Agent", "stockreel/1.0")

	resp, err := v.client.Do(req)
	if err != nil {
		if storage.IsRetryableError(err) {
			return fmt.Errorf("failed to download: %w", err)
		}
		return fmt.Errorf("%w: failed to download: %v", errNotRetryable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("status %d: %s", resp.StatusCode, storage.Truncate(string(body), 200))
		if storage.IsRetryableStatus(resp.StatusCode) {
			return err
		}
		return fmt.Errorf("%w: %v", errNotRetryable, err)
	}

	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: %v", errNotRetryable, err)
	}

	n, copyErr := io.Copy(f, io.LimitReader(resp.Body, maxAssetBytes))
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmp)
		if copyErr != nil {
			return fmt.Errorf("failed to write body: %w", copyErr)
		}
		return fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", errNotRetryable, err)
	}

	log.Debugf("[Assets] Downloaded %s (%d bytes)", rawURL, n)
	return nil
}

// CacheName maps a URL to its file name inside a session:
// asset_<hash><ext>, so repeated fetches of one URL share a file.
func CacheName(rawURL string, kind models.AssetKind) string {
	sum := sha256.Sum256([]byte(rawURL))
	return "asset_" + hex.EncodeToString(sum[:8]) + extFor(rawURL, kind)
}

func extFor(rawURL string, kind models.AssetKind) string {
	ext := ""
	if u, err := url.Parse(rawURL); err == nil {
		ext = strings.ToLower(path.Ext(u.Path))
	}

	switch kind {
	case models.KindImage:
		switch ext {
		case ".jpg", ".jpeg", ".png", ".webp":
			return ext
		}
		return ".jpg"
	case models.KindAudio:
		switch ext {
		case ".mp3", ".wav", ".m4a", ".aac", ".ogg", ".flac":
			return ext
		}
		return ".mp3"
	default:
		switch ext {
		case ".mp4", ".mov", ".webm", ".mkv":
			return ext
		}
		return ".mp4"
	}
}
