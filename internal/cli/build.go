package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bobarin/stockreel/internal/assets"
	"github.com/bobarin/stockreel/internal/config"
	"github.com/bobarin/stockreel/internal/logging"
	"github.com/bobarin/stockreel/internal/models"
	"github.com/bobarin/stockreel/internal/pipeline"
	"github.com/bobarin/stockreel/internal/query"
	"github.com/bobarin/stockreel/internal/services"
)

// Tool is everything a local build needs from ffmpeg.
type Tool interface {
	pipeline.MediaTool
	pipeline.RenderTool
}

var _ Tool = (*services.FFmpegService)(nil)

// newTranscriber is swapped out in tests.
var newTranscriber = services.NewTranscriber

type buildOptions struct {
	Audio         string
	Captions      string
	AutoCaptions  bool
	Out           string
	Resolution    string
	FPS           int
	Style         string
	Title         string
	CustomQueries string
	NoMusic       bool
	Music         string
	MusicGain     float64
	MusicGainSet  bool
	MinSeg        float64
	TempDir       string
	Manifest      string
	CaptionsOut   string
	History       string
	KeepTemp      bool
}

func buildOptionsFromFlags(cmd *cobra.Command) (buildOptions, error) {
	f := cmd.Flags()
	var o buildOptions
	o.Audio, _ = f.GetString("audio")
	o.Captions, _ = f.GetString("captions")
	o.AutoCaptions, _ = f.GetBool("autocaptions")
	o.Out, _ = f.GetString("out")
	o.Resolution, _ = f.GetString("resolution")
	o.FPS, _ = f.GetInt("fps")
	o.Style, _ = f.GetString("style")
	o.Title, _ = f.GetString("title")
	o.CustomQueries, _ = f.GetString("custom-queries")
	o.NoMusic, _ = f.GetBool("no-music")
	o.Music, _ = f.GetString("music")
	o.MusicGain, _ = f.GetFloat64("music-gain")
	o.MusicGainSet = f.Changed("music-gain")
	o.MinSeg, _ = f.GetFloat64("min-seg")
	o.TempDir, _ = f.GetString("tmpdir")
	o.Manifest, _ = f.GetString("manifest")
	o.CaptionsOut, _ = f.GetString("captions-out")
	o.History, _ = f.GetString("history")
	o.KeepTemp, _ = f.GetBool("keep-temp")
	return o, o.validate()
}

func (o buildOptions) validate() error {
	if o.Audio == "" {
		return errors.New("--audio is required")
	}
	if o.Captions == "" && !o.AutoCaptions {
		return errors.New("one of --captions or --autocaptions is required")
	}
	if o.Captions != "" && o.AutoCaptions {
		return errors.New("--captions and --autocaptions are mutually exclusive")
	}
	if o.Out == "" {
		return errors.New("--out must not be empty")
	}
	if o.FPS < 0 {
		return errors.New("--fps must be positive")
	}
	if o.MinSeg < 0 {
		return errors.New("--min-seg must not be negative")
	}
	return nil
}

// apply layers flags over the environment configuration.
func (o buildOptions) apply(cfg *config.Config) {
	if o.Resolution != "" {
		cfg.DefaultResolution = o.Resolution
	}
	if o.FPS > 0 {
		cfg.DefaultFPS = o.FPS
	}
	if o.Style != "" {
		cfg.DefaultStyle = o.Style
	}
	if o.Music != "" {
		cfg.BackgroundMusicPath = o.Music
	}
	if o.MusicGainSet {
		cfg.MusicGain = o.MusicGain
	}
	if o.NoMusic {
		cfg.BackgroundMusicEnabled = false
	}
	if o.MinSeg > 0 {
		cfg.MinSegment = o.MinSeg
	}
	if o.TempDir != "" {
		cfg.TempDir = o.TempDir
	}
}

func runBuild(cmd *cobra.Command, opts buildOptions) error {
	cfg := config.Load()
	opts.apply(cfg)

	if err := logging.Setup(cfg.LogLevel, cfg.LogFile); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := cfg.ValidatePipeline(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tool := services.NewFFmpegService(cfg.FFmpegPath, cfg.FFprobePath)
	res, err := execute(ctx, cfg, opts, tool)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d clips, %d placeholders, %.1fs)\n",
		res.Output, len(res.Clips), res.Fallbacks, res.Audio.Duration)
	return nil
}

// execute runs one local build. cfg must already carry the flag overrides.
func execute(ctx context.Context, cfg *config.Config, opts buildOptions, tool Tool) (*pipeline.Result, error) {
	audio, err := filepath.Abs(opts.Audio)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(audio); err != nil {
		return nil, fmt.Errorf("narration audio: %w", err)
	}

	segments, err := loadSegments(ctx, cfg, opts, audio)
	if err != nil {
		return nil, err
	}
	if opts.CaptionsOut != "" {
		if err := services.WriteVTT(segments, opts.CaptionsOut); err != nil {
			return nil, err
		}
	}

	var overrides map[int]string
	if opts.CustomQueries != "" {
		if overrides, err = query.LoadOverrides(opts.CustomQueries); err != nil {
			return nil, err
		}
	}

	settings, err := pipeline.SettingsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	session, err := assets.NewSession(cfg.TempDir)
	if err != nil {
		return nil, err
	}
	if opts.KeepTemp {
		log.Printf("[Build] Keeping scratch directory %s", session.Dir)
	} else {
		defer session.Close()
	}

	out, err := filepath.Abs(opts.Out)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	hist, err := openHistory(ctx, opts.History)
	if err != nil {
		return nil, err
	}
	defer hist.Close()

	in := pipeline.Input{
		RunID:         session.ID,
		Segments:      segments,
		NarrationPath: audio,
		Title:         opts.Title,
		Overrides:     overrides,
		NoMusic:       opts.NoMusic,
	}
	hist.start(ctx, in, settings, opts)

	renderer := pipeline.NewFFmpegRenderer(tool, session, out, settings.FPS)
	orch := pipeline.Build(cfg, settings, session, tool, renderer)
	orch.OnEvent = logProgress

	res, err := orch.Run(ctx, in)
	if err != nil {
		hist.fail(in.RunID, err)
		return nil, err
	}
	hist.finish(ctx, in, settings, res)

	if opts.Manifest != "" {
		if !opts.KeepTemp {
			log.Warn("[Build] Manifest clip paths point into the scratch directory; pass --keep-temp to keep them")
		}
		m := pipeline.NewManifest(in.RunID.String(), settings.Resolution, settings.FPS, res.Clips, res.Audio)
		if err := m.WriteFile(opts.Manifest); err != nil {
			return nil, err
		}
	}

	return res, nil
}

func loadSegments(ctx context.Context, cfg *config.Config, opts buildOptions, audio string) ([]models.Segment, error) {
	if opts.Captions != "" {
		return services.LoadCaptions(opts.Captions)
	}

	tr, err := newTranscriber(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, fmt.Errorf("%w: --autocaptions needs TRANSCRIBER=openai or gemini", models.ErrConfiguration)
	}
	segs, err := tr.Transcribe(ctx, audio)
	if err != nil {
		return nil, fmt.Errorf("transcription failed: %w", err)
	}
	if len(segs) == 0 {
		return nil, errors.New("transcription returned no segments")
	}
	return segs, nil
}

func logProgress(ev models.Event) {
	fields := log.Fields{"progress": fmt.Sprintf("%.0f%%", ev.Progress*100)}
	if ev.SegmentIndex != nil {
		fields["segment"] = *ev.SegmentIndex
	}
	log.WithFields(fields).Infof("[Build] %s %s", ev.Type, ev.Message)
}

func newStylesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "styles",
		Short: "List the visual styles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printStyles(cmd.OutOrStdout())
		},
	}
}

func printStyles(w io.Writer) error {
	for _, s := range query.Styles() {
		if _, err := fmt.Fprintln(w, s); err != nil {
			return err
		}
	}
	return nil
}
