package pipeline

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/bobarin/stockreel/internal/assets"
	"github.com/bobarin/stockreel/internal/media"
	"github.com/bobarin/stockreel/internal/models"
)

// Mixer lays optional background music under the narration.
type Mixer struct {
	tool    MediaTool
	session *assets.Session
	gain    float64
}

func NewMixer(tool MediaTool, session *assets.Session, gain float64) *Mixer {
	return &Mixer{tool: tool, session: session, gain: gain}
}

// Mix returns the final audio track. Only a broken narration is an error:
// any problem with the background yields the narration on its own.
func (m *Mixer) Mix(ctx context.Context, narrationPath, backgroundPath string) (models.MixedAudioTrack, error) {
	info, err := m.tool.ProbeAudio(ctx, narrationPath)
	if err != nil {
		return models.MixedAudioTrack{}, fmt.Errorf("failed to probe narration: %w", err)
	}

	track := models.MixedAudioTrack{
		Path:       narrationPath,
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
		Duration:   info.Duration,
	}
	if backgroundPath == "" || m.gain <= 0 {
		return track, nil
	}

	mixed, err := m.mix(ctx, narrationPath, backgroundPath, info.SampleRate, info.Channels)
	if err != nil {
		if ctx.Err() != nil {
			return models.MixedAudioTrack{}, ctx.Err()
		}
		log.Warnf("[Audio] Background music skipped, using narration only: %v", err)
		return track, nil
	}
	return mixed, nil
}

func (m *Mixer) mix(ctx context.Context, narrationPath, backgroundPath string, rate, channels int) (models.MixedAudioTrack, error) {
	narration, err := m.tool.DecodePCM(ctx, narrationPath, rate, channels)
	if err != nil {
		return models.MixedAudioTrack{}, fmt.Errorf("decode narration: %w", err)
	}
	if len(narration) == 0 {
		return models.MixedAudioTrack{}, fmt.Errorf("narration decoded to no samples")
	}

	background, err := m.tool.DecodePCM(ctx, backgroundPath, rate, channels)
	if err != nil {
		return models.MixedAudioTrack{}, fmt.Errorf("decode background: %w", err)
	}
	if len(background) == 0 {
		return models.MixedAudioTrack{}, fmt.Errorf("background decoded to no samples")
	}

	out := m.session.Path("mixed_audio.wav")
	if err := media.WriteWAVFile(out, media.Mix(narration, background, m.gain), rate, channels); err != nil {
		return models.MixedAudioTrack{}, err
	}

	log.Printf("[Audio] Mixed background music at gain %.2f", m.gain)

	return models.MixedAudioTrack{
		Path:            out,
		SampleRate:      rate,
		Channels:        channels,
		Duration:        float64(len(narration)) / float64(rate*channels),
		BackgroundMixed: true,
	}, nil
}
