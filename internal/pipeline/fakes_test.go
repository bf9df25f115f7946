package pipeline

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/bobarin/stockreel/internal/media"
	"github.com/bobarin/stockreel/internal/models"
	"github.com/bobarin/stockreel/internal/services"
)

// fakeTool stands in for ffmpeg. Renders write a small file and remember the
// duration they were asked for; ProbeDuration reports it back.
type fakeTool struct {
	mu sync.Mutex

	video    services.VideoInfo
	videoErr error
	audio    services.AudioInfo
	audioErr error

	failVideo   bool
	failStill   bool
	driftSecond bool // rendered clips come out a second long

	pcm    map[string][]int16
	pcmErr map[string]error

	rendered map[string]float64
	plans    []media.DurationPlan
	crops    []media.Crop
	colors   []string
	concat   []string
	muxed    [2]string
}

func newFakeTool() *fakeTool {
	return &fakeTool{
		video:    services.VideoInfo{Width: 3840, Height: 1600, Duration: 10},
		audio:    services.AudioInfo{SampleRate: 8000, Channels: 1, Duration: 2},
		pcm:      map[string][]int16{},
		pcmErr:   map[string]error{},
		rendered: map[string]float64{},
	}
}

func (f *fakeTool) record(out string, d float64) error {
	f.mu.Lock()
	f.rendered[out] = d
	f.mu.Unlock()
	return os.WriteFile(out, []byte("clip"), 0644)
}

func (f *fakeTool) ProbeDuration(ctx context.Context, path string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.rendered[path]
	if !ok {
		return 0, errors.New("not rendered")
	}
	if f.driftSecond {
		d++
	}
	return d, nil
}

func (f *fakeTool) ProbeVideo(ctx context.Context, path string) (services.VideoInfo, error) {
	return f.video, f.videoErr
}

func (f *fakeTool) ProbeAudio(ctx context.Context, path string) (services.AudioInfo, error) {
	return f.audio, f.audioErr
}

func (f *fakeTool) RenderVideoClip(ctx context.Context, in, out string, plan media.DurationPlan, crop media.Crop, fps int) error {
	if f.failVideo {
		return errors.New("encoder exploded")
	}
	f.mu.Lock()
	f.plans = append(f.plans, plan)
	f.crops = append(f.crops, crop)
	f.mu.Unlock()
	return f.record(out, plan.Target)
}

func (f *fakeTool) RenderStillClip(ctx context.Context, img, out string, d float64, crop media.Crop, fps int) error {
	if f.failStill {
		return errors.New("still render failed")
	}
	f.mu.Lock()
	f.crops = append(f.crops, crop)
	f.mu.Unlock()
	return f.record(out, d)
}

func (f *fakeTool) RenderColorClip(ctx context.Context, c models.RGB, out string, d float64, res models.Resolution, fps int) error {
	f.mu.Lock()
	f.colors = append(f.colors, c.Hex())
	f.mu.Unlock()
	return f.record(out, d)
}

func (f *fakeTool) DecodePCM(ctx context.Context, path string, rate, ch int) ([]int16, error) {
	if err := f.pcmErr[path]; err != nil {
		return nil, err
	}
	return f.pcm[path], nil
}

func (f *fakeTool) ConcatenateClips(ctx context.Context, paths []string, out string) error {
	f.mu.Lock()
	f.concat = append([]string(nil), paths...)
	f.mu.Unlock()
	return os.WriteFile(out, []byte("video"), 0644)
}

func (f *fakeTool) MuxAudio(ctx context.Context, video, audio, out string) error {
	f.mu.Lock()
	f.muxed = [2]string{video, audio}
	f.mu.Unlock()
	return os.WriteFile(out, []byte("final"), 0644)
}

// fakeResolver resolves segments whose index is in ok and reports
// ErrNoCandidates for the rest.
type fakeResolver struct {
	mu      sync.Mutex
	ok      map[int]models.ResolvedAsset
	queries map[int]models.Query
	order   []int
	cancel  func() // called after the first Resolve when set
}

func (r *fakeResolver) Resolve(ctx context.Context, seg models.Segment, q models.Query) (models.ResolvedAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queries == nil {
		r.queries = map[int]models.Query{}
	}
	r.queries[seg.Index] = q
	r.order = append(r.order, seg.Index)
	if r.cancel != nil {
		r.cancel()
		return models.ResolvedAsset{}, ctx.Err()
	}
	if a, ok := r.ok[seg.Index]; ok {
		return a, nil
	}
	return models.ResolvedAsset{}, models.ErrNoCandidates
}

type fakeFetcher struct {
	path string
	err  error
	urls []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string, kind models.AssetKind) (string, error) {
	f.urls = append(f.urls, rawURL)
	return f.path, f.err
}

type fakeRenderer struct {
	clips []models.PreparedClip
	audio models.MixedAudioTrack
	err   error
}

func (r *fakeRenderer) Render(ctx context.Context, clips []models.PreparedClip, audio models.MixedAudioTrack) (string, error) {
	r.clips = clips
	r.audio = audio
	if r.err != nil {
		return "", r.err
	}
	return "out.mp4", nil
}
