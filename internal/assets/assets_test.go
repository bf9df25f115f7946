package assets

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bobarin/stockreel/internal/models"
)

type fakeProber struct {
	duration float64
	err      error
	calls    int32
}

func (f *fakeProber) ProbeDuration(ctx context.Context, path string) (float64, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.duration, f.err
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(t.TempDir())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func countingServer(t *testing.T, body []byte, status int) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(status)
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestSessionClose(t *testing.T) {
	s, err := NewSession(t.TempDir())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := os.WriteFile(s.Path("x.bin"), []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(s.Dir); !os.IsNotExist(err) {
		t.Errorf("session dir should be gone, stat err = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}

func TestValidateVideo(t *testing.T) {
	srv, hits := countingServer(t, bytes.Repeat([]byte{1}, 20000), http.StatusOK)
	s := newTestSession(t)
	v := NewValidator(s, &fakeProber{duration: 8.5}, Config{MinBytes: 10000})

	c := models.Candidate{URL: srv.URL + "/clip.mp4", Kind: models.KindVideo}
	asset, err := v.Validate(context.Background(), c)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if asset.Kind != models.KindVideo || !strings.HasPrefix(asset.LocalPath, s.Dir) {
		t.Errorf("unexpected asset %+v", asset)
	}

	// Second validation reuses the cached file.
	if _, err := v.Validate(context.Background(), c); err != nil {
		t.Fatalf("second Validate: %v", err)
	}
	if atomic.LoadInt32(hits) != 1 {
		t.Errorf("expected one download, got %d", *hits)
	}
}

func TestValidateRejectsSmallFile(t *testing.T) {
	srv, _ := countingServer(t, []byte("<html>error</html>"), http.StatusOK)
	s := newTestSession(t)
	v := NewValidator(s, &fakeProber{duration: 5}, Config{MinBytes: 10000})

	c := models.Candidate{URL: srv.URL + "/tiny.mp4", Kind: models.KindVideo}
	_, err := v.Validate(context.Background(), c)
	if !errors.Is(err, models.ErrInvalidAsset) {
		t.Fatalf("expected ErrInvalidAsset, got %v", err)
	}
	if _, statErr := os.Stat(s.Path(CacheName(c.URL, c.Kind))); !os.IsNotExist(statErr) {
		t.Error("invalid download should be deleted")
	}
}

func TestValidateRejectsUnprobeableVideo(t *testing.T) {
	srv, _ := countingServer(t, bytes.Repeat([]byte{0}, 20000), http.StatusOK)
	s := newTestSession(t)
	v := NewValidator(s, &fakeProber{err: errors.New("moov atom not found")}, Config{MinBytes: 10000})

	c := models.Candidate{URL: srv.URL + "/broken.mp4", Kind: models.KindVideo}
	if _, err := v.Validate(context.Background(), c); !errors.Is(err, models.ErrInvalidAsset) {
		t.Fatalf("expected ErrInvalidAsset, got %v", err)
	}

	entries, _ := os.ReadDir(s.Dir)
	if len(entries) != 0 {
		t.Errorf("expected empty session dir, found %d entries", len(entries))
	}
}

func TestValidateZeroDuration(t *testing.T) {
	srv, _ := countingServer(t, bytes.Repeat([]byte{0}, 20000), http.StatusOK)
	s := newTestSession(t)
	v := NewValidator(s, &fakeProber{duration: 0}, Config{MinBytes: 10000})

	c := models.Candidate{URL: srv.URL + "/still.mp4", Kind: models.KindVideo}
	if _, err := v.Validate(context.Background(), c); !errors.Is(err, models.ErrInvalidAsset) {
		t.Fatalf("expected ErrInvalidAsset, got %v", err)
	}
}

func TestValidateHTTPError(t *testing.T) {
	srv, hits := countingServer(t, []byte("gone"), http.StatusNotFound)
	s := newTestSession(t)
	v := NewValidator(s, &fakeProber{duration: 5}, Config{Retries: 3})

	c := models.Candidate{URL: srv.URL + "/missing.mp4", Kind: models.KindVideo}
	if _, err := v.Validate(context.Background(), c); !errors.Is(err, models.ErrInvalidAsset) {
		t.Fatalf("expected ErrInvalidAsset, got %v", err)
	}
	if atomic.LoadInt32(hits) != 1 {
		t.Errorf("404 should not be retried, got %d hits", *hits)
	}
}

func TestValidateRetriesServerBusy(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(bytes.Repeat([]byte{2}, 12000))
	}))
	defer srv.Close()

	s := newTestSession(t)
	v := NewValidator(s, &fakeProber{duration: 3}, Config{Retries: 2})
	v.backoff = func(int) time.Duration { return time.Millisecond }

	if _, err := v.Validate(context.Background(), models.Candidate{URL: srv.URL + "/v.mp4", Kind: models.KindVideo}); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Errorf("expected 2 hits, got %d", hits)
	}
}

func TestValidateImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 4), uint8(y * 5), uint8(x ^ y), 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	srv, _ := countingServer(t, buf.Bytes(), http.StatusOK)
	s := newTestSession(t)
	prober := &fakeProber{}
	v := NewValidator(s, prober, Config{MinBytes: 100})

	asset, err := v.Validate(context.Background(), models.Candidate{URL: srv.URL + "/photo.png", Kind: models.KindImage})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if filepath.Ext(asset.LocalPath) != ".png" {
		t.Errorf("expected .png cache name, got %s", asset.LocalPath)
	}
	if atomic.LoadInt32(&prober.calls) != 0 {
		t.Error("images should not be probed with ffprobe")
	}

	garbage, _ := countingServer(t, bytes.Repeat([]byte{9}, 500), http.StatusOK)
	if _, err := v.Validate(context.Background(), models.Candidate{URL: garbage.URL + "/bad.jpg", Kind: models.KindImage}); !errors.Is(err, models.ErrInvalidAsset) {
		t.Fatalf("expected ErrInvalidAsset for undecodable image, got %v", err)
	}
}

func TestFetchCoalescesConcurrentDownloads(t *testing.T) {
	release := make(chan struct{})
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		<-release
		w.Write(bytes.Repeat([]byte{3}, 15000))
	}))
	defer srv.Close()

	s := newTestSession(t)
	v := NewValidator(s, &fakeProber{duration: 4}, Config{})

	var wg sync.WaitGroup
	paths := make([]string, 5)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := v.Fetch(context.Background(), srv.URL+"/same.mp4", models.KindVideo)
			if err != nil {
				t.Errorf("Fetch %d: %v", i, err)
			}
			paths[i] = p
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("expected a single download, got %d", hits)
	}
	for _, p := range paths[1:] {
		if p != paths[0] {
			t.Errorf("expected identical paths, got %s and %s", paths[0], p)
		}
	}
}

func TestFetchSurvivesCancelledFirstCaller(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		started <- struct{}{}
		<-release
		w.Write(bytes.Repeat([]byte{4}, 15000))
	}))
	defer srv.Close()

	s := newTestSession(t)
	v := NewValidator(s, &fakeProber{duration: 4}, Config{})
	u := srv.URL + "/shared.mp4"

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := v.Fetch(firstCtx, u, models.KindVideo)
		firstErr <- err
	}()
	<-started

	second := make(chan error, 1)
	var secondPath string
	go func() {
		p, err := v.Fetch(context.Background(), u, models.KindVideo)
		secondPath = p
		second <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("first caller: expected context.Canceled, got %v", err)
	}

	close(release)
	if err := <-second; err != nil {
		t.Fatalf("second caller inherited the cancellation: %v", err)
	}
	if _, err := os.Stat(secondPath); err != nil {
		t.Errorf("downloaded file missing: %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("expected one shared download, got %d", n)
	}
}

func TestCacheName(t *testing.T) {
	a := CacheName("https://cdn.example.com/v/1.mp4?token=abc", models.KindVideo)
	b := CacheName("https://cdn.example.com/v/1.mp4?token=abc", models.KindVideo)
	c := CacheName("https://cdn.example.com/v/2.mp4", models.KindVideo)

	if a != b {
		t.Error("cache name must be stable")
	}
	if a == c {
		t.Error("different urls must not share a cache name")
	}
	if !strings.HasPrefix(a, "asset_") || filepath.Ext(a) != ".mp4" {
		t.Errorf("unexpected cache name %s", a)
	}
	if ext := filepath.Ext(CacheName("https://x/photo?id=3", models.KindImage)); ext != ".jpg" {
		t.Errorf("image default extension should be .jpg, got %s", ext)
	}
	if ext := filepath.Ext(CacheName("https://x/song.wav", models.KindAudio)); ext != ".wav" {
		t.Errorf("audio extension should follow the url, got %s", ext)
	}
}
