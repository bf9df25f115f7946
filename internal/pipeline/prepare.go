package pipeline

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	log "github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"

	"github.com/bobarin/stockreel/internal/assets"
	"github.com/bobarin/stockreel/internal/media"
	"github.com/bobarin/stockreel/internal/models"
)

// Preparer fits a resolved asset to the output frame and to its segment's
// duration in a single render.
type Preparer struct {
	tool    MediaTool
	session *assets.Session
	res     models.Resolution
	fps     int
}

func NewPreparer(tool MediaTool, session *assets.Session, res models.Resolution, fps int) *Preparer {
	return &Preparer{tool: tool, session: session, res: res, fps: fps}
}

// Prepare renders asset as a clip of exactly duration seconds at the target
// resolution. A clip whose measured duration is off by more than one frame
// is deleted and reported as models.ErrInvalidAsset.
func (p *Preparer) Prepare(ctx context.Context, index int, duration float64, asset models.ResolvedAsset) (models.PreparedClip, error) {
	out := p.session.Path(fmt.Sprintf("clip_%04d.mp4", index))

	var err error
	switch asset.Kind {
	case models.KindVideo:
		err = p.prepareVideo(ctx, asset.LocalPath, out, duration)
	case models.KindImage:
		err = p.prepareImage(ctx, asset.LocalPath, out, duration)
	default:
		return models.PreparedClip{}, fmt.Errorf("%w: cannot prepare %s asset", models.ErrInvalidAsset, asset.Kind)
	}
	if err != nil {
		os.Remove(out)
		if ctx.Err() != nil {
			return models.PreparedClip{}, ctx.Err()
		}
		return models.PreparedClip{}, fmt.Errorf("%w: %v", models.ErrInvalidAsset, err)
	}

	actual, err := p.tool.ProbeDuration(ctx, out)
	if err != nil || !media.WithinFrame(actual, duration, p.fps) {
		os.Remove(out)
		if ctx.Err() != nil {
			return models.PreparedClip{}, ctx.Err()
		}
		return models.PreparedClip{}, fmt.Errorf("%w: clip %d measured %.3fs, want %.3fs (probe error: %v)", models.ErrInvalidAsset, index, actual, duration, err)
	}

	clip := models.PreparedClip{
		Index:    index,
		Path:     out,
		Kind:     asset.Kind,
		Duration: duration,
		Width:    p.res.Width,
		Height:   p.res.Height,
		Query:    asset.Query,
	}
	if asset.Source != nil {
		clip.SourceURL = asset.Source.URL
		clip.Provider = asset.Source.ProviderID
	}
	return clip, nil
}

func (p *Preparer) prepareVideo(ctx context.Context, in, out string, duration float64) error {
	info, err := p.tool.ProbeVideo(ctx, in)
	if err != nil {
		return err
	}
	if info.Duration <= 0 {
		return fmt.Errorf("source %s has no duration", in)
	}

	plan, err := media.PlanDuration(info.Duration, duration)
	if err != nil {
		return err
	}
	crop, err := media.FitCover(info.Width, info.Height, p.res.Width, p.res.Height)
	if err != nil {
		return err
	}

	log.Debugf("[Prepare] %s: %dx%d %.2fs -> %s %s", in, info.Width, info.Height, info.Duration, p.res, plan.Mode)
	return p.tool.RenderVideoClip(ctx, in, out, plan, crop, p.fps)
}

func (p *Preparer) prepareImage(ctx context.Context, in, out string, duration float64) error {
	w, h, err := imageSize(in)
	if err != nil {
		return err
	}
	crop, err := media.FitCover(w, h, p.res.Width, p.res.Height)
	if err != nil {
		return err
	}
	return p.tool.RenderStillClip(ctx, in, out, duration, crop, p.fps)
}

func imageSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read image header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}
