package services

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bobarin/stockreel/internal/media"
	"github.com/bobarin/stockreel/internal/models"
)

func TestEscapeConcatPath(t *testing.T) {
	if got := escapeConcatPath("/tmp/it's/clip.mp4"); got != `/tmp/it'\''s/clip.mp4` {
		t.Errorf("escapeConcatPath = %q", got)
	}
}

func TestFormatSecondsAndTail(t *testing.T) {
	if got := formatSeconds(2.5); got != "2.500" {
		t.Errorf("formatSeconds = %q", got)
	}
	long := strings.Repeat("x", 600) + "end"
	if got := tail(long, 10); got != "...xxxxxxxend" {
		t.Errorf("tail = %q", got)
	}
	if got := tail("  short \n", 10); got != "short" {
		t.Errorf("tail = %q", got)
	}
}

func TestEncodeArgsShared(t *testing.T) {
	args := strings.Join(encodeArgs(25), " ")
	for _, want := range []string{"-r 25", "-c:v libx264", "-pix_fmt yuv420p", "-an"} {
		if !strings.Contains(args, want) {
			t.Errorf("encode args %q missing %q", args, want)
		}
	}
}

func TestConcatenateClipsEmpty(t *testing.T) {
	s := NewFFmpegService("", "")
	if err := s.ConcatenateClips(context.Background(), nil, filepath.Join(t.TempDir(), "out.mp4")); err == nil {
		t.Error("expected error for no clips")
	}
}

// The remaining tests need real ffmpeg/ffprobe binaries.
func requireFFmpeg(t *testing.T) *FFmpegService {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}
	return NewFFmpegService("", "")
}

func TestRenderClipsWithFFmpeg(t *testing.T) {
	s := requireFFmpeg(t)
	ctx := context.Background()
	dir := t.TempDir()
	res := models.Resolution{Width: 320, Height: 180}
	fps := 25

	src := filepath.Join(dir, "src.mp4")
	if err := s.RenderColorClip(ctx, models.RGB{R: 200}, src, 1.0, models.Resolution{Width: 240, Height: 320}, fps); err != nil {
		t.Fatalf("RenderColorClip: %v", err)
	}

	info, err := s.ProbeVideo(ctx, src)
	if err != nil {
		t.Fatalf("ProbeVideo: %v", err)
	}
	if info.Width != 240 || info.Height != 320 {
		t.Errorf("probed %dx%d", info.Width, info.Height)
	}

	short := filepath.Join(dir, "short.mp4")
	if err := s.RenderColorClip(ctx, models.RGB{B: 200}, short, 0.3, models.Resolution{Width: 240, Height: 320}, fps); err != nil {
		t.Fatalf("RenderColorClip: %v", err)
	}
	shortInfo, err := s.ProbeVideo(ctx, short)
	if err != nil {
		t.Fatalf("ProbeVideo: %v", err)
	}

	crop, _ := media.FitCover(info.Width, info.Height, res.Width, res.Height)
	cases := []struct {
		src      string
		duration float64
		target   float64
		want     media.DurationMode
	}{
		{src, info.Duration, 0.6, media.ModeTrim},
		{src, info.Duration, 1.3, media.ModeLoop},
		{src, info.Duration, 2.6, media.ModeLoop},
		{short, shortInfo.Duration, 1.0, media.ModeFreeze},
	}
	for i, c := range cases {
		target := c.target
		plan, err := media.PlanDuration(c.duration, target)
		if err != nil {
			t.Fatal(err)
		}
		if plan.Mode != c.want {
			t.Errorf("source %.2fs for %.2fs: mode %s, want %s", c.duration, target, plan.Mode, c.want)
		}
		out := filepath.Join(dir, fmt.Sprintf("%s_%d.mp4", plan.Mode, i))
		if err := s.RenderVideoClip(ctx, c.src, out, plan, crop, fps); err != nil {
			t.Fatalf("RenderVideoClip(%s): %v", plan.Mode, err)
		}
		got, err := s.ProbeVideo(ctx, out)
		if err != nil {
			t.Fatal(err)
		}
		if got.Width != res.Width || got.Height != res.Height {
			t.Errorf("%s: size %dx%d", plan.Mode, got.Width, got.Height)
		}
		if math.Abs(got.Duration-target) > 2*media.FrameInterval(fps) {
			t.Errorf("%s: duration %.3f, want %.3f", plan.Mode, got.Duration, target)
		}
	}
}
