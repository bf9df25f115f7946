package worker

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/bobarin/stockreel/internal/assets"
	"github.com/bobarin/stockreel/internal/config"
	"github.com/bobarin/stockreel/internal/db"
	"github.com/bobarin/stockreel/internal/models"
	"github.com/bobarin/stockreel/internal/pipeline"
	"github.com/bobarin/stockreel/internal/queue"
	"github.com/bobarin/stockreel/internal/services"
	"github.com/bobarin/stockreel/internal/storage"
)

// RunStore is the slice of the database a worker writes to.
type RunStore interface {
	GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error)
	UpdateRunStatus(ctx context.Context, id uuid.UUID, status models.RunStatus, errorMessage *string) error
	UpdateRunSegments(ctx context.Context, id uuid.UUID, spec models.RunSpec) error
	ReplaceRunClips(ctx context.Context, runID uuid.UUID, clips []models.RunClip) error
	CompleteRun(ctx context.Context, run *models.Run) error
}

// JobQueue is where runs come from and where their progress goes.
type JobQueue interface {
	Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*queue.Job, error)
	PublishEvent(ctx context.Context, event models.Event) error
}

var (
	_ RunStore = (*db.DB)(nil)
	_ JobQueue = (*queue.Queue)(nil)
)

type Worker struct {
	db          RunStore
	queue       JobQueue
	storage     storage.ObjectStore
	cfg         *config.Config
	tool        pipeline.MediaTool
	transcriber services.Transcriber // Optional: nil when TRANSCRIBER=none
	uploadSem   chan struct{}        // Limits concurrent uploads across all runs
}

func New(
	database RunStore,
	q JobQueue,
	stor storage.ObjectStore,
	cfg *config.Config,
	tool pipeline.MediaTool,
	transcriber services.Transcriber,
) *Worker {
	return &Worker{
		db:          database,
		queue:       q,
		storage:     stor,
		cfg:         cfg,
		tool:        tool,
		transcriber: transcriber,
		uploadSem:   make(chan struct{}, 4),
	}
}

// uploadWithLimit wraps an upload call with a semaphore so a burst of clips
// does not congest the object store.
func (w *Worker) uploadWithLimit(ctx context.Context, label string, fn func() error) error {
	log.Debugf("[Upload] %s waiting for upload slot...", label)
	select {
	case w.uploadSem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("upload cancelled while waiting for slot: %w", ctx.Err())
	}
	defer func() { <-w.uploadSem }()

	log.Debugf("[Upload] %s uploading...", label)
	return fn()
}

// Start runs concurrency build loops until ctx is cancelled. Each loop
// handles one run at a time, so at most concurrency runs are in flight.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	if concurrency <= 0 {
		concurrency = 1
	}
	log.Printf("Worker started with concurrency: %d", concurrency)

	for i := 0; i < concurrency; i++ {
		go w.processQueue(ctx, queue.QueueBuildRun, w.handleBuildRun)
	}

	<-ctx.Done()
	log.Println("Worker shutting down...")
}

func (w *Worker) processQueue(ctx context.Context, queueName string, handler func(context.Context, *queue.Job) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			job, err := w.queue.Dequeue(ctx, queueName, 5*time.Second)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("Error dequeuing from %s: %v", queueName, err)
				time.Sleep(time.Second)
				continue
			}

			if job == nil {
				continue // No job available, retry
			}

			log.Printf("Processing job %s (type: %s, run: %s)", job.ID, job.Type, job.RunID)

			if err := handler(ctx, job); err != nil {
				log.Printf("Job %s failed: %v", job.ID, err)
			} else {
				log.Printf("Job %s completed successfully", job.ID)
			}
		}
	}
}

// handleBuildRun runs one narration through the pipeline and publishes the
// prepared clips, the mixed audio and a manifest to storage. Any error
// marks the run failed.
func (w *Worker) handleBuildRun(ctx context.Context, job *queue.Job) error {
	err := w.buildRun(ctx, job.RunID)
	if err == nil {
		return nil
	}

	// Record the failure even if the worker itself is shutting down.
	fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := err.Error()
	if uerr := w.db.UpdateRunStatus(fctx, job.RunID, models.RunStatusFailed, &msg); uerr != nil {
		log.Printf("Failed to mark run %s failed: %v", job.RunID, uerr)
	}
	w.publish(fctx, models.Event{
		RunID:   job.RunID,
		Type:    models.EventRunFailed,
		Message: msg,
		Time:    time.Now(),
	})
	return err
}

func (w *Worker) buildRun(ctx context.Context, runID uuid.UUID) error {
	run, err := w.db.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}
	spec := run.Spec

	if err := w.db.UpdateRunStatus(ctx, runID, models.RunStatusResolving, nil); err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	session, err := assets.NewSession(w.cfg.TempDir)
	if err != nil {
		return err
	}
	defer session.Close()

	narration, err := w.downloadNarration(ctx, session, spec.AudioStoragePath)
	if err != nil {
		return err
	}

	segments := spec.Segments
	if len(segments) == 0 {
		if !spec.Transcribe || w.transcriber == nil {
			return fmt.Errorf("run has no segments and transcription is unavailable")
		}
		segments, err = w.transcriber.Transcribe(ctx, narration)
		if err != nil {
			return fmt.Errorf("transcription failed: %w", err)
		}
		if len(segments) == 0 {
			return fmt.Errorf("transcription returned no segments")
		}
		spec.Segments = segments
		if err := w.db.UpdateRunSegments(ctx, runID, spec); err != nil {
			log.Printf("Failed to store transcribed segments for run %s: %v", runID, err)
		}
	}

	settings, err := w.settingsFor(spec)
	if err != nil {
		return err
	}

	pub := newPublisher(w, runID, session, settings.Resolution, settings.FPS)
	orch := pipeline.Build(w.cfg, settings, session, w.tool, pub)

	var preparing, publishing sync.Once
	orch.OnEvent = func(ev models.Event) {
		w.publish(ctx, ev)

		// Status updates are best-effort; the events carry the detail.
		switch ev.Type {
		case models.EventSegmentPrepared:
			preparing.Do(func() {
				_ = w.db.UpdateRunStatus(ctx, runID, models.RunStatusPreparing, nil)
			})
		case models.EventAudioMixed:
			publishing.Do(func() {
				_ = w.db.UpdateRunStatus(ctx, runID, models.RunStatusPublishing, nil)
			})
		}
	}

	result, err := orch.Run(ctx, pipeline.Input{
		RunID:         runID,
		Segments:      segments,
		NarrationPath: narration,
		Title:         spec.Title,
		Style:         spec.Style,
		Overrides:     spec.Overrides,
		MusicPath:     spec.MusicSource,
		NoMusic:       !spec.BackgroundMusic,
	})
	if err != nil {
		return err
	}

	clips := pub.runClips(runID, segments, result.Clips)
	if err := w.db.ReplaceRunClips(ctx, runID, clips); err != nil {
		return fmt.Errorf("failed to save clips: %w", err)
	}

	durationMs := int(result.Audio.Duration * 1000)
	audioPath := pub.audioPath
	run.Spec = spec
	run.SegmentCount = len(result.Clips)
	run.FallbackCount = result.Fallbacks
	run.ManifestPath = &result.Output
	run.AudioPath = &audioPath
	run.DurationMs = &durationMs
	run.Stats = models.JSONB{
		"elapsed_ms":       result.Elapsed.Milliseconds(),
		"background_mixed": result.Audio.BackgroundMixed,
		"resolution":       settings.Resolution.String(),
		"fps":              settings.FPS,
	}
	if err := w.db.CompleteRun(ctx, run); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	log.Printf("Run %s complete: %d clips, %d fallbacks, manifest %s",
		runID, len(result.Clips), result.Fallbacks, result.Output)
	return nil
}

// settingsFor overlays a run's own output settings on the process defaults.
func (w *Worker) settingsFor(spec models.RunSpec) (pipeline.Settings, error) {
	settings, err := pipeline.SettingsFromConfig(w.cfg)
	if err != nil {
		return settings, err
	}
	if spec.Width > 0 && spec.Height > 0 {
		settings.Resolution = models.Resolution{Width: spec.Width, Height: spec.Height}
	}
	if spec.FPS > 0 {
		settings.FPS = spec.FPS
	}
	if spec.Style != "" {
		settings.Style = spec.Style
	}
	settings.MusicEnabled = spec.BackgroundMusic
	settings.MusicGain = spec.MusicGain
	return settings, nil
}

func (w *Worker) downloadNarration(ctx context.Context, session *assets.Session, storagePath string) (string, error) {
	if storagePath == "" {
		return "", fmt.Errorf("run has no narration audio")
	}

	data, err := w.storage.Download(ctx, storagePath)
	if err != nil {
		return "", fmt.Errorf("failed to download narration: %w", err)
	}

	ext := strings.ToLower(path.Ext(storagePath))
	if ext == "" {
		ext = ".mp3"
	}
	local := session.Path("narration" + ext)
	if err := os.WriteFile(local, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write narration: %w", err)
	}
	return local, nil
}

func (w *Worker) publish(ctx context.Context, ev models.Event) {
	if err := w.queue.PublishEvent(ctx, ev); err != nil {
		log.Debugf("Failed to publish %s for run %s: %v", ev.Type, ev.RunID, err)
	}
}
