package pipeline

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/bobarin/stockreel/internal/assets"
	"github.com/bobarin/stockreel/internal/media"
	"github.com/bobarin/stockreel/internal/models"
)

// Synthesizer builds placeholder clips for segments without a usable asset.
type Synthesizer struct {
	tool    MediaTool
	session *assets.Session
	res     models.Resolution
	fps     int
}

func NewSynthesizer(tool MediaTool, session *assets.Session, res models.Resolution, fps int) *Synthesizer {
	return &Synthesizer{tool: tool, session: session, res: res, fps: fps}
}

// Synthesize never fails. It renders a labelled gradient clip and, if that
// does not work out, returns a flat-colour clip that the renderer draws
// itself.
func (s *Synthesizer) Synthesize(ctx context.Context, index int, duration float64, label string) models.PreparedClip {
	clip, err := s.gradient(ctx, index, duration, label)
	if err == nil {
		return clip
	}

	log.WithFields(log.Fields{
		"segment": index,
		"label":   label,
	}).Warnf("[Synth] Gradient placeholder failed, using flat colour: %v", err)

	return FlatClip(index, duration, s.res, label)
}

func (s *Synthesizer) gradient(ctx context.Context, index int, duration float64, label string) (models.PreparedClip, error) {
	if s.tool == nil || s.session == nil {
		return models.PreparedClip{}, fmt.Errorf("%w: no media tooling", models.ErrSynthesisFailure)
	}

	img, err := media.Gradient(s.res.Width, s.res.Height, media.GradientTop, media.GradientBottom)
	if err != nil {
		return models.PreparedClip{}, fmt.Errorf("%w: %v", models.ErrSynthesisFailure, err)
	}
	media.DrawLabel(img, label)

	png := s.session.Path(fmt.Sprintf("placeholder_%04d.png", index))
	if err := media.WritePNG(png, img); err != nil {
		return models.PreparedClip{}, fmt.Errorf("%w: %v", models.ErrSynthesisFailure, err)
	}
	defer os.Remove(png)

	// the image already has the output size, so the crop is the identity
	crop, err := media.FitCover(s.res.Width, s.res.Height, s.res.Width, s.res.Height)
	if err != nil {
		return models.PreparedClip{}, fmt.Errorf("%w: %v", models.ErrSynthesisFailure, err)
	}

	out := s.session.Path(fmt.Sprintf("clip_%04d.mp4", index))
	if err := s.tool.RenderStillClip(ctx, png, out, duration, crop, s.fps); err != nil {
		os.Remove(out)
		return models.PreparedClip{}, fmt.Errorf("%w: %v", models.ErrSynthesisFailure, err)
	}

	return models.PreparedClip{
		Index:    index,
		Path:     out,
		Kind:     models.KindSynthetic,
		Duration: duration,
		Width:    s.res.Width,
		Height:   s.res.Height,
		Label:    label,
		Fallback: true,
	}, nil
}

// FlatClip describes a solid-colour clip. It touches nothing outside the
// process.
func FlatClip(index int, duration float64, res models.Resolution, label string) models.PreparedClip {
	c := media.FlatColor
	return models.PreparedClip{
		Index:    index,
		Color:    &c,
		Kind:     models.KindSynthetic,
		Duration: duration,
		Width:    res.Width,
		Height:   res.Height,
		Label:    label,
		Fallback: true,
	}
}
