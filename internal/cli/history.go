package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/bobarin/stockreel/internal/db"
	"github.com/bobarin/stockreel/internal/models"
	"github.com/bobarin/stockreel/internal/pipeline"
)

// history records local runs. A nil *history records nothing, and a
// recording failure never fails the build.
type history struct {
	db *db.DB
}

func openHistory(ctx context.Context, dsn string) (*history, error) {
	if dsn == "" {
		return nil, nil
	}
	database, err := db.New(dsn)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("history: %w", err)
	}
	return &history{db: database}, nil
}

func (h *history) Close() error {
	if h == nil {
		return nil
	}
	return h.db.Close()
}

func (h *history) start(ctx context.Context, in pipeline.Input, settings pipeline.Settings, opts buildOptions) {
	if h == nil {
		return
	}
	run := &models.Run{
		ID:     in.RunID,
		Status: models.RunStatusResolving,
		Spec: models.RunSpec{
			Title:            in.Title,
			Style:            settings.Style,
			Segments:         in.Segments,
			Transcribe:       opts.AutoCaptions,
			Overrides:        in.Overrides,
			AudioStoragePath: in.NarrationPath,
			Width:            settings.Resolution.Width,
			Height:           settings.Resolution.Height,
			FPS:              settings.FPS,
			BackgroundMusic:  settings.MusicEnabled && !in.NoMusic,
			MusicSource:      settings.MusicPath,
			MusicGain:        settings.MusicGain,
		},
		SegmentCount: len(in.Segments),
	}
	if err := h.db.CreateRun(ctx, run); err != nil {
		log.Warnf("[History] Failed to record run: %v", err)
	}
}

// finish stores metadata only. The scratch files the clips point at are
// gone once the build returns, so no clip paths are kept.
func (h *history) finish(ctx context.Context, in pipeline.Input, settings pipeline.Settings, res *pipeline.Result) {
	if h == nil {
		return
	}

	clips := make([]models.RunClip, len(res.Clips))
	texts := make(map[int]string, len(in.Segments))
	for _, s := range in.Segments {
		texts[s.Index] = s.Text
	}
	for i, c := range res.Clips {
		rc := models.RunClip{
			RunID:        in.RunID,
			SegmentIndex: c.Index,
			Kind:         c.Kind,
			Text:         texts[c.Index],
			DurationMs:   int(c.Duration * 1000),
			Fallback:     c.Fallback,
		}
		if c.Query != "" {
			q := c.Query
			rc.Query = &q
		}
		if c.SourceURL != "" {
			u := c.SourceURL
			rc.SourceURL = &u
		}
		if c.Provider != "" {
			p := c.Provider
			rc.Provider = &p
		}
		if c.Color != nil {
			hex := c.Color.Hex()
			rc.Color = &hex
		}
		clips[i] = rc
	}
	if err := h.db.ReplaceRunClips(ctx, in.RunID, clips); err != nil {
		log.Warnf("[History] Failed to record clips: %v", err)
	}

	durationMs := int(res.Audio.Duration * 1000)
	output := res.Output
	audio := res.Audio.Path
	run := &models.Run{
		ID:            in.RunID,
		SegmentCount:  len(res.Clips),
		FallbackCount: res.Fallbacks,
		ManifestPath:  &output,
		AudioPath:     &audio,
		DurationMs:    &durationMs,
		Stats: models.JSONB{
			"elapsed_ms":       res.Elapsed.Milliseconds(),
			"background_mixed": res.Audio.BackgroundMixed,
			"resolution":       settings.Resolution.String(),
			"fps":              settings.FPS,
		},
	}
	if err := h.db.CompleteRun(ctx, run); err != nil {
		log.Warnf("[History] Failed to complete run: %v", err)
	}
}

func (h *history) fail(runID uuid.UUID, runErr error) {
	if h == nil {
		return
	}
	// the build context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg := runErr.Error()
	if err := h.db.UpdateRunStatus(ctx, runID, models.RunStatusFailed, &msg); err != nil {
		log.Warnf("[History] Failed to record failure: %v", err)
	}
}

func listHistory(ctx context.Context, w io.Writer, dsn string, limit int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	h, err := openHistory(ctx, dsn)
	if err != nil {
		return err
	}
	if h == nil {
		return fmt.Errorf("--db is required")
	}
	defer h.Close()

	runs, total, err := h.db.ListRuns(ctx, limit, 0)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSEGMENTS\tPLACEHOLDERS\tTITLE\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			r.ID, r.Status, r.SegmentCount, r.FallbackCount, r.Title, r.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d of %d runs\n", len(runs), total)
	return nil
}
