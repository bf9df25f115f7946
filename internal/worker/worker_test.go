package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/stockreel/internal/config"
	"github.com/bobarin/stockreel/internal/db"
	"github.com/bobarin/stockreel/internal/media"
	"github.com/bobarin/stockreel/internal/models"
	"github.com/bobarin/stockreel/internal/pipeline"
	"github.com/bobarin/stockreel/internal/queue"
	"github.com/bobarin/stockreel/internal/services"
)

type fakeStore struct {
	mu        sync.Mutex
	runs      map[uuid.UUID]*models.Run
	statuses  []models.RunStatus
	errMsg    string
	segments  []models.Segment
	clips     []models.RunClip
	completed *models.Run
}

func (s *fakeStore) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, db.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *fakeStore) UpdateRunStatus(ctx context.Context, id uuid.UUID, status models.RunStatus, errorMessage *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	if errorMessage != nil {
		s.errMsg = *errorMessage
	}
	return nil
}

func (s *fakeStore) UpdateRunSegments(ctx context.Context, id uuid.UUID, spec models.RunSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = spec.Segments
	return nil
}

func (s *fakeStore) ReplaceRunClips(ctx context.Context, runID uuid.UUID, clips []models.RunClip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clips = clips
	return nil
}

func (s *fakeStore) CompleteRun(ctx context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.completed = &cp
	return nil
}

type fakeQueue struct {
	mu     sync.Mutex
	events []models.Event
}

func (q *fakeQueue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*queue.Job, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (q *fakeQueue) PublishEvent(ctx context.Context, event models.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, event)
	return nil
}

func (q *fakeQueue) types() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.events))
	for i, e := range q.events {
		out[i] = e.Type
	}
	return out
}

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string][]byte{}}
}

func (s *fakeObjectStore) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = data
	return nil
}

func (s *fakeObjectStore) UploadFile(ctx context.Context, storagePath, localPath string, contentType string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	return s.Upload(ctx, storagePath, data, contentType)
}

func (s *fakeObjectStore) Download(ctx context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func (s *fakeObjectStore) GetPublicURL(path string) string { return "https://cdn.example.com/" + path }

// fakeTool renders stills by writing a stub file and reports a fixed
// narration format. Every other operation fails, which is fine because no
// provider is configured in these tests.
type fakeTool struct {
	failStill bool
}

func (f *fakeTool) ProbeDuration(ctx context.Context, path string) (float64, error) {
	return 0, errors.New("unexpected probe")
}

func (f *fakeTool) ProbeVideo(ctx context.Context, path string) (services.VideoInfo, error) {
	return services.VideoInfo{}, errors.New("unexpected probe")
}

func (f *fakeTool) ProbeAudio(ctx context.Context, path string) (services.AudioInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return services.AudioInfo{}, err
	}
	return services.AudioInfo{SampleRate: 44100, Channels: 2, Duration: 4}, nil
}

func (f *fakeTool) RenderVideoClip(ctx context.Context, inputPath, outputPath string, plan media.DurationPlan, crop media.Crop, fps int) error {
	return errors.New("unexpected video render")
}

func (f *fakeTool) RenderStillClip(ctx context.Context, imagePath, outputPath string, duration float64, crop media.Crop, fps int) error {
	if f.failStill {
		return errors.New("encoder missing")
	}
	return os.WriteFile(outputPath, []byte("still"), 0644)
}

func (f *fakeTool) RenderColorClip(ctx context.Context, c models.RGB, outputPath string, duration float64, res models.Resolution, fps int) error {
	return errors.New("unexpected color render")
}

func (f *fakeTool) DecodePCM(ctx context.Context, path string, sampleRate, channels int) ([]int16, error) {
	return nil, errors.New("unexpected decode")
}

var _ pipeline.MediaTool = (*fakeTool)(nil)

type fakeTranscriber struct {
	segs []models.Segment
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string) ([]models.Segment, error) {
	return f.segs, f.err
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		TempDir:             t.TempDir(),
		DefaultResolution:   "1920x1080",
		DefaultFPS:          30,
		DefaultStyle:        "general",
		MinSegment:          0.12,
		PrepareWorkers:      2,
		MaxAttemptsPerQuery: 3,
		SearchLimit:         15,
		SearchTimeout:       time.Second,
		DownloadTimeout:     time.Second,
		AllowRepeats:        true,
	}
}

type harness struct {
	store   *fakeStore
	queue   *fakeQueue
	objects *fakeObjectStore
	tool    *fakeTool
	worker  *Worker
	runID   uuid.UUID
}

func newHarness(t *testing.T, spec models.RunSpec, tr services.Transcriber) *harness {
	t.Helper()
	h := &harness{
		store:   &fakeStore{runs: map[uuid.UUID]*models.Run{}},
		queue:   &fakeQueue{},
		objects: newFakeObjectStore(),
		tool:    &fakeTool{},
		runID:   uuid.New(),
	}
	h.store.runs[h.runID] = &models.Run{ID: h.runID, Status: models.RunStatusQueued, Spec: spec}
	h.objects.objects["uploads/narration.mp3"] = []byte("ID3 narration")
	h.worker = New(h.store, h.queue, h.objects, testConfig(t), h.tool, tr)
	return h
}

func (h *harness) job() *queue.Job {
	return &queue.Job{ID: uuid.New(), Type: queue.JobTypeBuildRun, RunID: h.runID}
}

func baseSpec() models.RunSpec {
	return models.RunSpec{
		Title:            "Ocean Life",
		Style:            "nature",
		AudioStoragePath: "uploads/narration.mp3",
		Width:            64,
		Height:           36,
		FPS:              24,
		Segments: []models.Segment{
			{Index: 0, Start: 0, End: 2, Text: "Whales migrate"},
			{Index: 1, Start: 2, End: 4, Text: "across the ocean"},
		},
	}
}

func TestBuildRunPublishesClipsAudioAndManifest(t *testing.T) {
	h := newHarness(t, baseSpec(), nil)

	if err := h.worker.handleBuildRun(context.Background(), h.job()); err != nil {
		t.Fatalf("handleBuildRun: %v", err)
	}

	done := h.store.completed
	if done == nil {
		t.Fatal("run was not completed")
	}
	manifestPath := "runs/" + h.runID.String() + "/manifest.json"
	if done.ManifestPath == nil || *done.ManifestPath != manifestPath {
		t.Errorf("manifest path %v", done.ManifestPath)
	}
	if done.AudioPath == nil || *done.AudioPath != "runs/"+h.runID.String()+"/audio.mp3" {
		t.Errorf("audio path %v", done.AudioPath)
	}
	if done.FallbackCount != 2 || done.SegmentCount != 2 {
		t.Errorf("counts: segments=%d fallbacks=%d", done.SegmentCount, done.FallbackCount)
	}
	if done.DurationMs == nil || *done.DurationMs != 4000 {
		t.Errorf("duration %v", done.DurationMs)
	}

	var m pipeline.Manifest
	if err := json.Unmarshal(h.objects.objects[manifestPath], &m); err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if m.Resolution.Width != 64 || m.FPS != 24 || len(m.Clips) != 2 {
		t.Errorf("unexpected manifest %+v", m)
	}
	for i, c := range m.Clips {
		if c.Index != i || !strings.HasPrefix(c.Path, "runs/") {
			t.Errorf("clip %d not published: %+v", i, c)
		}
		if _, ok := h.objects.objects[c.Path]; !ok {
			t.Errorf("clip %d missing from storage", i)
		}
	}

	if len(h.store.clips) != 2 || h.store.clips[1].Text != "across the ocean" || h.store.clips[1].StoragePath == nil {
		t.Errorf("unexpected run clips %+v", h.store.clips)
	}

	types := h.queue.types()
	if types[0] != models.EventRunStarted || types[len(types)-1] != models.EventRunCompleted {
		t.Errorf("events %v", types)
	}

	want := []models.RunStatus{models.RunStatusResolving, models.RunStatusPreparing, models.RunStatusPublishing}
	if fmt.Sprint(h.store.statuses) != fmt.Sprint(want) {
		t.Errorf("statuses %v, want %v", h.store.statuses, want)
	}
}

func TestBuildRunFlatClipsStayDescriptions(t *testing.T) {
	h := newHarness(t, baseSpec(), nil)
	h.tool.failStill = true

	if err := h.worker.handleBuildRun(context.Background(), h.job()); err != nil {
		t.Fatalf("handleBuildRun: %v", err)
	}

	for _, c := range h.store.clips {
		if c.Color == nil || c.StoragePath != nil || c.Kind != models.KindSynthetic {
			t.Errorf("flat clip should carry a colour and no file: %+v", c)
		}
	}
	for p := range h.objects.objects {
		if strings.Contains(p, "clip_") {
			t.Errorf("flat clip uploaded: %s", p)
		}
	}
}

func TestBuildRunTranscribes(t *testing.T) {
	spec := baseSpec()
	spec.Segments = nil
	spec.Transcribe = true
	tr := &fakeTranscriber{segs: []models.Segment{{Index: 0, Start: 0, End: 3, Text: "hello world"}}}
	h := newHarness(t, spec, tr)

	if err := h.worker.handleBuildRun(context.Background(), h.job()); err != nil {
		t.Fatalf("handleBuildRun: %v", err)
	}
	if len(h.store.segments) != 1 || h.store.segments[0].Text != "hello world" {
		t.Errorf("transcribed segments not stored: %+v", h.store.segments)
	}
	if len(h.store.clips) != 1 {
		t.Errorf("clips %d", len(h.store.clips))
	}
}

func TestBuildRunFailures(t *testing.T) {
	tests := []struct {
		name  string
		spec  func() models.RunSpec
		tr    services.Transcriber
		match string
	}{
		{
			name:  "missing narration",
			spec:  func() models.RunSpec { s := baseSpec(); s.AudioStoragePath = "uploads/missing.mp3"; return s },
			match: "narration",
		},
		{
			name:  "no segments",
			spec:  func() models.RunSpec { s := baseSpec(); s.Segments = nil; return s },
			match: "no segments",
		},
		{
			name: "transcriber error",
			spec: func() models.RunSpec {
				s := baseSpec()
				s.Segments = nil
				s.Transcribe = true
				return s
			},
			tr:    &fakeTranscriber{err: errors.New("quota")},
			match: "transcription failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.spec(), tt.tr)

			err := h.worker.handleBuildRun(context.Background(), h.job())
			if err == nil || !strings.Contains(err.Error(), tt.match) {
				t.Fatalf("error %v, want %q", err, tt.match)
			}
			last := h.store.statuses[len(h.store.statuses)-1]
			if last != models.RunStatusFailed || h.store.errMsg == "" {
				t.Errorf("run not marked failed: %v %q", h.store.statuses, h.store.errMsg)
			}
			types := h.queue.types()
			if len(types) == 0 || types[len(types)-1] != models.EventRunFailed {
				t.Errorf("events %v", types)
			}
			if h.store.completed != nil {
				t.Error("failed run must not be completed")
			}
		})
	}
}

func TestBuildRunUnknownRun(t *testing.T) {
	h := newHarness(t, baseSpec(), nil)
	job := &queue.Job{ID: uuid.New(), RunID: uuid.New()}
	if err := h.worker.handleBuildRun(context.Background(), job); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestUploadWithLimitCancelled(t *testing.T) {
	w := New(nil, nil, nil, nil, nil, nil)
	for i := 0; i < cap(w.uploadSem); i++ {
		w.uploadSem <- struct{}{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := w.uploadWithLimit(ctx, "clip", func() error { called = true; return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancellation, got %v", err)
	}
	if called {
		t.Error("upload ran without a slot")
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	h := newHarness(t, baseSpec(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.worker.Start(ctx, 2)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
