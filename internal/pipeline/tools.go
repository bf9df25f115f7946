// Package pipeline turns timed narration segments into an ordered list of
// prepared clips and one audio track, and hands both to a renderer.
package pipeline

import (
	"context"

	"github.com/bobarin/stockreel/internal/media"
	"github.com/bobarin/stockreel/internal/models"
	"github.com/bobarin/stockreel/internal/services"
)

// MediaTool is the media tooling the pipeline drives. *services.FFmpegService
// implements it.
type MediaTool interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	ProbeVideo(ctx context.Context, path string) (services.VideoInfo, error)
	ProbeAudio(ctx context.Context, path string) (services.AudioInfo, error)
	RenderVideoClip(ctx context.Context, inputPath, outputPath string, plan media.DurationPlan, crop media.Crop, fps int) error
	RenderStillClip(ctx context.Context, imagePath, outputPath string, duration float64, crop media.Crop, fps int) error
	RenderColorClip(ctx context.Context, c models.RGB, outputPath string, duration float64, res models.Resolution, fps int) error
	DecodePCM(ctx context.Context, path string, sampleRate, channels int) ([]int16, error)
}

// AssetResolver finds a validated asset for a segment.
type AssetResolver interface {
	Resolve(ctx context.Context, seg models.Segment, q models.Query) (models.ResolvedAsset, error)
}

// Fetcher downloads a remote file into the run's session.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, kind models.AssetKind) (string, error)
}

// Renderer consumes the prepared clips and the mixed track. It returns where
// the result ended up (a file path or a URL).
type Renderer interface {
	Render(ctx context.Context, clips []models.PreparedClip, audio models.MixedAudioTrack) (string, error)
}

var _ MediaTool = (*services.FFmpegService)(nil)
