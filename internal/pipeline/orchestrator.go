package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bobarin/stockreel/internal/models"
	"github.com/bobarin/stockreel/internal/query"
)

// Settings are the per-process defaults a run starts from.
type Settings struct {
	Resolution   models.Resolution
	FPS          int
	Style        string
	MinSegment   float64
	Workers      int
	MusicEnabled bool
	MusicPath    string // local file or http(s) URL
	MusicGain    float64
}

// Input is one run's request.
type Input struct {
	RunID         uuid.UUID
	Segments      []models.Segment
	NarrationPath string
	Title         string
	Style         string         // empty = Settings.Style
	Overrides     map[int]string // segment index -> query, skips generation
	MusicPath     string         // empty = Settings.MusicPath
	NoMusic       bool
}

// Result is what a completed run produced.
type Result struct {
	Clips     []models.PreparedClip
	Audio     models.MixedAudioTrack
	Output    string
	Fallbacks int
	Elapsed   time.Duration
}

// Orchestrator runs one narration through query generation, resolution,
// preparation, mixing and rendering.
type Orchestrator struct {
	settings    Settings
	generator   *query.Generator
	resolver    AssetResolver
	preparer    *Preparer
	synthesizer *Synthesizer
	mixer       *Mixer
	fetcher     Fetcher
	renderer    Renderer

	// OnEvent, when set, receives progress events. It is called from the
	// run's goroutines and must be safe for concurrent use.
	OnEvent func(models.Event)
}

func NewOrchestrator(settings Settings, resolver AssetResolver, preparer *Preparer, synthesizer *Synthesizer, mixer *Mixer, fetcher Fetcher, renderer Renderer) *Orchestrator {
	if settings.Workers <= 0 {
		settings.Workers = 1
	}
	return &Orchestrator{
		settings:    settings,
		generator:   query.NewGenerator(),
		resolver:    resolver,
		preparer:    preparer,
		synthesizer: synthesizer,
		mixer:       mixer,
		fetcher:     fetcher,
		renderer:    renderer,
	}
}

// Run produces exactly one clip per segment, in segment order. Segments are
// resolved one after another so the used-URL set sees them in order;
// preparation of resolved segments overlaps on a bounded worker pool.
// Resolution and preparation failures become placeholders. Only invalid
// input, a broken narration track, a render failure or cancellation end
// the run with an error.
func (o *Orchestrator) Run(ctx context.Context, in Input) (*Result, error) {
	started := time.Now()

	segs, err := NormalizeSegments(in.Segments, o.settings.MinSegment)
	if err != nil {
		return nil, err
	}
	if in.NarrationPath == "" {
		return nil, fmt.Errorf("narration path is required")
	}

	style := in.Style
	if style == "" {
		style = o.settings.Style
	}
	style = query.NormalizeStyle(style)

	total := len(segs)
	o.emit(in.RunID, models.EventRunStarted, nil, fmt.Sprintf("%d segments, style %s", total, style), 0)
	log.WithFields(log.Fields{
		"run":      in.RunID,
		"segments": total,
		"style":    style,
	}).Info("[Pipeline] Run started")

	clips := make([]models.PreparedClip, total)
	var (
		mu        sync.Mutex
		done      int
		fallbacks int
	)
	finish := func(i int, clip models.PreparedClip) {
		mu.Lock()
		clips[i] = clip
		done++
		if clip.Fallback {
			fallbacks++
		}
		progress := float64(done) / float64(total) * 0.9
		mu.Unlock()

		idx := clip.Index
		msg := clip.SourceURL
		if clip.Fallback {
			msg = "placeholder: " + clip.Label
		}
		o.emit(in.RunID, models.EventSegmentPrepared, &idx, msg, progress)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.settings.Workers)

	for i, seg := range segs {
		if ctx.Err() != nil {
			break
		}

		q := o.queryFor(seg, in, style)
		asset, err := o.resolver.Resolve(ctx, seg, q)
		if err != nil && ctx.Err() != nil {
			break
		}

		idx := seg.Index
		if err != nil {
			if !errors.Is(err, models.ErrNoCandidates) {
				log.Warnf("[Pipeline] Segment %d: resolver error: %v", seg.Index, err)
			}
			o.emit(in.RunID, models.EventSegmentFallback, &idx, q.First(), 0)
			g.Go(func() error {
				finish(i, o.synthesizer.Synthesize(gctx, seg.Index, seg.Duration(), fallbackLabel(seg, q)))
				return gctx.Err()
			})
			continue
		}

		o.emit(in.RunID, models.EventSegmentResolved, &idx, describe(asset), 0)
		g.Go(func() error {
			clip, err := o.preparer.Prepare(gctx, seg.Index, seg.Duration(), asset)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.WithFields(log.Fields{
					"segment": seg.Index,
					"asset":   asset.LocalPath,
				}).Warnf("[Pipeline] Preparing asset failed, synthesizing placeholder: %v", err)
				clip = o.synthesizer.Synthesize(gctx, seg.Index, seg.Duration(), fallbackLabel(seg, q))
			}
			finish(i, clip)
			return gctx.Err()
		})
	}

	waitErr := g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if waitErr != nil {
		return nil, waitErr
	}

	background := o.background(ctx, in)
	audio, err := o.mixer.Mix(ctx, in.NarrationPath, background)
	if err != nil {
		return nil, err
	}
	o.emit(in.RunID, models.EventAudioMixed, nil, fmt.Sprintf("%.1fs, background=%t", audio.Duration, audio.BackgroundMixed), 0.92)

	output, err := o.renderer.Render(ctx, clips, audio)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("render failed: %w", err)
	}

	res := &Result{
		Clips:     clips,
		Audio:     audio,
		Output:    output,
		Fallbacks: fallbacks,
		Elapsed:   time.Since(started),
	}
	o.emit(in.RunID, models.EventRunCompleted, nil, output, 1)
	log.WithFields(log.Fields{
		"run":       in.RunID,
		"segments":  total,
		"fallbacks": fallbacks,
		"elapsed":   res.Elapsed.Round(time.Millisecond),
	}).Infof("[Pipeline] Run complete: %s", output)

	return res, nil
}

func (o *Orchestrator) queryFor(seg models.Segment, in Input, style string) models.Query {
	if override, ok := in.Overrides[seg.Index]; ok && strings.TrimSpace(override) != "" {
		return models.Query{strings.TrimSpace(override)}
	}
	return o.generator.Generate(seg, in.Title, style)
}

// background returns a local path for the run's music, or "" when there is
// none or it cannot be fetched.
func (o *Orchestrator) background(ctx context.Context, in Input) string {
	if in.NoMusic || !o.settings.MusicEnabled {
		return ""
	}
	src := in.MusicPath
	if src == "" {
		src = o.settings.MusicPath
	}
	if src == "" {
		return ""
	}

	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		if o.fetcher == nil {
			return ""
		}
		p, err := o.fetcher.Fetch(ctx, src, models.KindAudio)
		if err != nil {
			log.Warnf("[Pipeline] Background music unavailable (%s): %v", src, err)
			return ""
		}
		return p
	}

	if _, err := os.Stat(src); err != nil {
		log.Warnf("[Pipeline] Background music unavailable (%s): %v", src, err)
		return ""
	}
	return src
}

func (o *Orchestrator) emit(runID uuid.UUID, typ string, segment *int, msg string, progress float64) {
	if o.OnEvent == nil {
		return
	}
	o.OnEvent(models.Event{
		RunID:        runID,
		Type:         typ,
		SegmentIndex: segment,
		Message:      msg,
		Progress:     progress,
		Time:         time.Now(),
	})
}

func describe(a models.ResolvedAsset) string {
	if a.Source != nil {
		return a.Source.URL
	}
	return a.LocalPath
}

func fallbackLabel(seg models.Segment, q models.Query) string {
	if l := q.First(); l != "" {
		return l
	}
	return query.Truncate(seg.Text, 100)
}

// NormalizeSegments validates segments and stretches any shorter than
// minSeconds. The input slice is not modified.
func NormalizeSegments(segs []models.Segment, minSeconds float64) ([]models.Segment, error) {
	if len(segs) == 0 {
		return nil, fmt.Errorf("no segments to process")
	}
	out := make([]models.Segment, len(segs))
	for i, s := range segs {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if minSeconds > 0 && s.Duration() < minSeconds {
			s.End = s.Start + minSeconds
		}
		out[i] = s
	}
	return out, nil
}
