package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bobarin/stockreel/internal/models"
)

func testOptions() Options {
	return Options{RPS: 100, Timeout: 2 * time.Second, Retries: 0}
}

func TestPexelsVideoSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/videos/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "pk" {
			t.Errorf("missing api key header")
		}
		if r.URL.Query().Get("query") != "ocean waves" {
			t.Errorf("unexpected query %q", r.URL.Query().Get("query"))
		}
		fmt.Fprint(w, `{"videos":[
			{"id":1,"width":3840,"height":2160,"duration":12,"video_files":[
				{"quality":"uhd","file_type":"video/mp4","width":3840,"height":2160,"link":"https://v/1-uhd.mp4"},
				{"quality":"hd","file_type":"video/mp4","width":1920,"height":1080,"link":"https://v/1-hd.mp4"},
				{"quality":"sd","file_type":"video/mp4","width":640,"height":360,"link":"https://v/1-sd.mp4"}
			]},
			{"id":2,"width":1280,"height":720,"duration":7,"video_files":[]}
		]}`)
	}))
	defer srv.Close()

	p := NewPexels("pk", testOptions())
	p.BaseURL = srv.URL

	got, err := p.Search(context.Background(), "ocean waves", models.KindVideo, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	c := got[0]
	if c.URL != "https://v/1-hd.mp4" || c.Width != 1920 || c.Duration != 12 || c.ProviderID != "pexels" {
		t.Errorf("unexpected candidate %+v", c)
	}
}

func TestPexelsPhotoSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"photos":[{"id":9,"width":4000,"height":3000,"src":{"original":"https://p/o.jpg","large2x":"https://p/l2.jpg"}}]}`)
	}))
	defer srv.Close()

	p := NewPexels("pk", testOptions())
	p.BaseURL = srv.URL

	got, err := p.Search(context.Background(), "forest", models.KindImage, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].URL != "https://p/l2.jpg" || got[0].Kind != models.KindImage {
		t.Errorf("unexpected candidates %+v", got)
	}
}

func TestPixabaySearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "xk" {
			t.Errorf("missing key param")
		}
		switch r.URL.Path {
		case "/api/videos/":
			fmt.Fprint(w, `{"hits":[
				{"id":1,"duration":9,"videos":{"large":{"url":"","width":0,"height":0},"medium":{"url":"https://x/1m.mp4","width":1280,"height":720}}},
				{"id":2,"duration":4,"videos":{"large":{"url":"https://x/2l.mp4","width":1920,"height":1080}}}
			]}`)
		case "/api/":
			if r.URL.Query().Get("image_type") != "photo" {
				t.Errorf("expected image_type=photo")
			}
			fmt.Fprint(w, `{"hits":[{"id":3,"largeImageURL":"https://x/3.jpg","imageWidth":1600,"imageHeight":900}]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	p := NewPixabay("xk", testOptions())
	p.BaseURL = srv.URL

	videos, err := p.Search(context.Background(), "city", models.KindVideo, 10)
	if err != nil {
		t.Fatalf("video search: %v", err)
	}
	if len(videos) != 2 || videos[0].URL != "https://x/1m.mp4" || videos[1].Duration != 4 {
		t.Errorf("unexpected videos %+v", videos)
	}

	images, err := p.Search(context.Background(), "city", models.KindImage, 10)
	if err != nil {
		t.Fatalf("image search: %v", err)
	}
	if len(images) != 1 || images[0].Width != 1600 {
		t.Errorf("unexpected images %+v", images)
	}
}

func TestSearchFailuresAreProviderUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"rate limited", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "slow down", http.StatusTooManyRequests)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"videos": [`)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			p := NewPexels("pk", testOptions())
			p.BaseURL = srv.URL

			got, err := p.Search(context.Background(), "q", models.KindVideo, 5)
			if !errors.Is(err, models.ErrProviderUnavailable) {
				t.Fatalf("expected ErrProviderUnavailable, got %v", err)
			}
			if len(got) != 0 {
				t.Errorf("expected no candidates, got %d", len(got))
			}
		})
	}
}

func TestSearchRetriesRetryableStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"photos":[{"width":10,"height":10,"src":{"large":"https://p/a.jpg"}}]}`)
	}))
	defer srv.Close()

	opts := testOptions()
	opts.Retries = 2
	p := NewPexels("pk", opts)
	p.BaseURL = srv.URL
	p.c.backoff = func(int) time.Duration { return time.Millisecond }

	got, err := p.Search(context.Background(), "q", models.KindImage, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 || len(got) != 1 {
		t.Errorf("expected success on second call, calls=%d got=%d", calls, len(got))
	}
}

func TestConfigure(t *testing.T) {
	if got := Configure(Keys{}, Options{}); len(got) != 0 {
		t.Errorf("expected no providers, got %d", len(got))
	}
	got := Configure(Keys{Pexels: "a", Pixabay: "b"}, Options{})
	if len(got) != 2 || got[0].ID() != "pexels" || got[1].ID() != "pixabay" {
		t.Errorf("unexpected providers %v", got)
	}
}

// fakeProvider returns canned results per kind.
type fakeProvider struct {
	id     string
	videos []models.Candidate
	images []models.Candidate
	err    error
	delay  time.Duration
}

func (f *fakeProvider) ID() string { return f.id }

func (f *fakeProvider) Search(ctx context.Context, query string, kind models.AssetKind, limit int) ([]models.Candidate, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", models.ErrProviderUnavailable, ctx.Err())
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if kind == models.KindImage {
		return f.images, nil
	}
	return f.videos, nil
}

func cand(url string, kind models.AssetKind) models.Candidate {
	return models.Candidate{URL: url, Kind: kind}
}

func TestPoolMergeOrder(t *testing.T) {
	a := &fakeProvider{
		id:     "a",
		videos: []models.Candidate{cand("a-v1", models.KindVideo)},
		images: []models.Candidate{cand("a-i1", models.KindImage)},
		delay:  20 * time.Millisecond,
	}
	b := &fakeProvider{
		id:     "b",
		videos: []models.Candidate{cand("b-v1", models.KindVideo), cand("a-v1", models.KindVideo)},
		images: []models.Candidate{cand("b-i1", models.KindImage)},
	}

	pool := NewPool([]Provider{a, b}, 10, time.Second, true)
	got := pool.Build(context.Background(), "query")

	want := []string{"a-v1", "b-v1", "a-i1", "b-i1"}
	if len(got) != len(want) {
		t.Fatalf("expected %d candidates, got %d: %+v", len(want), len(got), got)
	}
	for i, w := range want {
		if got[i].URL != w {
			t.Errorf("position %d: got %s want %s", i, got[i].URL, w)
		}
	}
}

func TestPoolAbsorbsFailures(t *testing.T) {
	failing := &fakeProvider{id: "down", err: fmt.Errorf("%w: boom", models.ErrProviderUnavailable)}
	slow := &fakeProvider{id: "slow", videos: []models.Candidate{cand("late", models.KindVideo)}, delay: time.Second}
	ok := &fakeProvider{id: "ok", videos: []models.Candidate{cand("v", models.KindVideo)}}

	pool := NewPool([]Provider{failing, slow, ok}, 10, 50*time.Millisecond, false)
	got := pool.Build(context.Background(), "query")

	if len(got) != 1 || got[0].URL != "v" {
		t.Errorf("expected only the healthy provider's candidate, got %+v", got)
	}
}

func TestPoolEmpty(t *testing.T) {
	pool := NewPool(nil, 10, time.Second, true)
	if got := pool.Build(context.Background(), "anything"); len(got) != 0 {
		t.Errorf("expected no candidates from empty pool, got %d", len(got))
	}
}
