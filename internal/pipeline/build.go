package pipeline

import (
	log "github.com/sirupsen/logrus"

	"github.com/bobarin/stockreel/internal/assets"
	"github.com/bobarin/stockreel/internal/config"
	"github.com/bobarin/stockreel/internal/models"
	"github.com/bobarin/stockreel/internal/providers"
	"github.com/bobarin/stockreel/internal/resolver"
)

// SettingsFromConfig reads run defaults from the process config.
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	res, err := models.ParseResolution(cfg.DefaultResolution)
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		Resolution:   res,
		FPS:          cfg.DefaultFPS,
		Style:        cfg.DefaultStyle,
		MinSegment:   cfg.MinSegment,
		Workers:      cfg.PrepareWorkers,
		MusicEnabled: cfg.BackgroundMusicEnabled,
		MusicPath:    cfg.BackgroundMusicPath,
		MusicGain:    cfg.MusicGain,
	}, nil
}

// Build wires one run's components. Everything stateful (the session, the
// used-URL set, the download cache) belongs to this run alone.
func Build(cfg *config.Config, settings Settings, session *assets.Session, tool MediaTool, renderer Renderer) *Orchestrator {
	provs := providers.Configure(
		providers.Keys{Pexels: cfg.PexelsKey, Pixabay: cfg.PixabayKey},
		providers.Options{
			RPS:     cfg.ProviderRPS,
			Timeout: cfg.SearchTimeout,
			Retries: 1,
		},
	)
	if len(provs) == 0 {
		log.Warn("[Pipeline] No stock providers configured, every segment will be a placeholder")
	}
	pool := providers.NewPool(provs, cfg.SearchLimit, cfg.SearchTimeout, cfg.IncludeImages)

	validator := assets.NewValidator(session, tool, assets.Config{
		MinBytes: cfg.MinAssetBytes,
		Timeout:  cfg.DownloadTimeout,
		Retries:  cfg.DownloadRetries,
	})

	policy := resolver.AllowRepeats
	if !cfg.AllowRepeats {
		policy = resolver.NoRepeats
	}
	res := resolver.New(pool, validator, resolver.NewUsedSet(), resolver.Options{
		MaxAttempts: cfg.MaxAttemptsPerQuery,
		Policy:      policy,
	})

	return NewOrchestrator(
		settings,
		res,
		NewPreparer(tool, session, settings.Resolution, settings.FPS),
		NewSynthesizer(tool, session, settings.Resolution, settings.FPS),
		NewMixer(tool, session, settings.MusicGain),
		validator,
		renderer,
	)
}
