package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bobarin/stockreel/internal/assets"
	"github.com/bobarin/stockreel/internal/models"
)

// RenderTool is what FFmpegRenderer needs from the media tooling.
type RenderTool interface {
	RenderColorClip(ctx context.Context, c models.RGB, outputPath string, duration float64, res models.Resolution, fps int) error
	ConcatenateClips(ctx context.Context, clipPaths []string, outputPath string) error
	MuxAudio(ctx context.Context, videoPath, audioPath, outputPath string) error
}

// FFmpegRenderer encodes the final video locally: solid clips are drawn,
// all clips are joined in order and the mixed track is muxed on top.
type FFmpegRenderer struct {
	tool    RenderTool
	session *assets.Session
	output  string
	fps     int
}

func NewFFmpegRenderer(tool RenderTool, session *assets.Session, outputPath string, fps int) *FFmpegRenderer {
	return &FFmpegRenderer{tool: tool, session: session, output: outputPath, fps: fps}
}

func (r *FFmpegRenderer) Render(ctx context.Context, clips []models.PreparedClip, audio models.MixedAudioTrack) (string, error) {
	if len(clips) == 0 {
		return "", fmt.Errorf("no clips to render")
	}

	paths := make([]string, 0, len(clips))
	for _, c := range clips {
		if !c.IsSolid() {
			paths = append(paths, c.Path)
			continue
		}
		p := r.session.Path(fmt.Sprintf("solid_%04d.mp4", c.Index))
		res := models.Resolution{Width: c.Width, Height: c.Height}
		if err := r.tool.RenderColorClip(ctx, *c.Color, p, c.Duration, res, r.fps); err != nil {
			return "", fmt.Errorf("render solid clip %d: %w", c.Index, err)
		}
		paths = append(paths, p)
	}

	video := r.session.Path("video_only.mp4")
	if err := r.tool.ConcatenateClips(ctx, paths, video); err != nil {
		return "", err
	}

	if err := r.tool.MuxAudio(ctx, video, audio.Path, r.output); err != nil {
		return "", err
	}

	log.Printf("[Render] Wrote %s (%d clips, %.1fs audio)", r.output, len(clips), audio.Duration)
	return r.output, nil
}

// Manifest describes a run's clips and audio for an external renderer.
type Manifest struct {
	RunID      string                 `json:"run_id,omitempty"`
	Resolution models.Resolution      `json:"resolution"`
	FPS        int                    `json:"fps"`
	Duration   float64                `json:"duration"`
	Clips      []models.PreparedClip  `json:"clips"`
	Audio      models.MixedAudioTrack `json:"audio"`
	CreatedAt  time.Time              `json:"created_at"`
}

// NewManifest summarises clips and audio. Duration is the sum of the clip
// durations.
func NewManifest(runID string, res models.Resolution, fps int, clips []models.PreparedClip, audio models.MixedAudioTrack) *Manifest {
	m := &Manifest{
		RunID:      runID,
		Resolution: res,
		FPS:        fps,
		Clips:      clips,
		Audio:      audio,
		CreatedAt:  time.Now().UTC(),
	}
	for _, c := range clips {
		m.Duration += c.Duration
	}
	return m
}

// WriteFile writes the manifest as indented JSON.
func (m *Manifest) WriteFile(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
