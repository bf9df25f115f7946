package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/bobarin/stockreel/internal/media"
	"github.com/bobarin/stockreel/internal/models"
)

// VideoInfo is what clip preparation needs to know about a source video.
type VideoInfo struct {
	Width    int
	Height   int
	Duration float64
}

// AudioInfo describes the first audio stream of a file.
type AudioInfo struct {
	SampleRate int
	Channels   int
	Duration   float64
}

// ---------------------------------------------------------------------------
// FFmpegService
// ---------------------------------------------------------------------------

type FFmpegService struct {
	ffmpeg  string
	ffprobe string
}

func NewFFmpegService(ffmpegPath, ffprobePath string) *FFmpegService {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegService{
		ffmpeg:  ffmpegPath,
		ffprobe: ffprobePath,
	}
}

// run executes ffmpeg and folds its stderr into the error on failure.
func (s *FFmpegService) run(ctx context.Context, args ...string) error {
	args = append([]string{"-hide_banner", "-loglevel", "error", "-y"}, args...)
	log.Debugf("[FFmpeg] %s %s", s.ffmpeg, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, s.ffmpeg, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, tail(string(out), 500))
	}
	return nil
}

// encodeArgs are shared by every clip so the renderer can concatenate
// them without re-encoding.
func encodeArgs(fps int) []string {
	return []string{
		"-an",
		"-r", strconv.Itoa(fps),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "20",
		"-pix_fmt", "yuv420p",
		"-video_track_timescale", "90000",
		"-movflags", "+faststart",
	}
}

// RenderVideoClip fits a source video to the crop and stretches or cuts it
// to plan.Target seconds: trim cuts, freeze clones the last frame with tpad,
// loop replays the input plan.Loops times.
func (s *FFmpegService) RenderVideoClip(ctx context.Context, inputPath, outputPath string, plan media.DurationPlan, crop media.Crop, fps int) error {
	var filters []string
	if plan.Mode == media.ModeFreeze {
		// one extra frame of hold so -t never runs short
		hold := plan.Hold + media.FrameInterval(fps)
		filters = append(filters, fmt.Sprintf("tpad=stop_mode=clone:stop_duration=%.3f", hold))
	}
	filters = append(filters, crop.Filter(), fmt.Sprintf("fps=%d", fps), "format=yuv420p")

	var args []string
	if plan.Mode == media.ModeLoop && plan.Loops > 1 {
		args = append(args, "-stream_loop", strconv.Itoa(plan.Loops-1))
	}
	args = append(args,
		"-i", inputPath,
		"-vf", strings.Join(filters, ","),
		"-t", formatSeconds(plan.Target),
	)
	args = append(args, encodeArgs(fps)...)
	args = append(args, outputPath)

	log.Printf("[FFmpeg] Preparing clip mode=%s source=%.2fs target=%.2fs -> %s", plan.Mode, plan.Source, plan.Target, filepath.Base(outputPath))

	if err := s.run(ctx, args...); err != nil {
		return fmt.Errorf("render video clip (%s): %w", plan.Mode, err)
	}
	return nil
}

// RenderStillClip turns an image into a clip of the given duration. The
// image is cover-fitted with crop.
func (s *FFmpegService) RenderStillClip(ctx context.Context, imagePath, outputPath string, duration float64, crop media.Crop, fps int) error {
	args := []string{
		"-loop", "1",
		"-framerate", strconv.Itoa(fps),
		"-i", imagePath,
		"-vf", crop.Filter() + fmt.Sprintf(",fps=%d,format=yuv420p", fps),
		"-t", formatSeconds(duration),
		"-tune", "stillimage",
	}
	args = append(args, encodeArgs(fps)...)
	args = append(args, outputPath)

	if err := s.run(ctx, args...); err != nil {
		return fmt.Errorf("render still clip: %w", err)
	}
	return nil
}

// RenderColorClip renders a solid-colour clip.
func (s *FFmpegService) RenderColorClip(ctx context.Context, c models.RGB, outputPath string, duration float64, res models.Resolution, fps int) error {
	src := fmt.Sprintf("color=c=%s:s=%dx%d:r=%d:d=%s", c.Hex(), res.Width, res.Height, fps, formatSeconds(duration))
	args := []string{
		"-f", "lavfi",
		"-i", src,
		"-t", formatSeconds(duration),
	}
	args = append(args, encodeArgs(fps)...)
	args = append(args, outputPath)

	if err := s.run(ctx, args...); err != nil {
		return fmt.Errorf("render colour clip: %w", err)
	}
	return nil
}

// DecodePCM decodes the first audio stream of a file to interleaved signed
// 16-bit samples at the given rate and channel count.
func (s *FFmpegService) DecodePCM(ctx context.Context, path string, sampleRate, channels int) ([]int16, error) {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", path,
		"-vn",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(sampleRate),
		"-",
	}

	cmd := exec.CommandContext(ctx, s.ffmpeg, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffmpeg decode pcm failed: %w: %s", err, tail(stderr.String(), 500))
	}

	return media.DecodeS16LE(stdout.Bytes()), nil
}

// ConcatenateClips combines multiple video clips into one final video
func (s *FFmpegService) ConcatenateClips(ctx context.Context, clipPaths []string, outputPath string) error {
	if len(clipPaths) == 0 {
		return fmt.Errorf("no clips to concatenate")
	}

	// Create a concat list file next to the output
	listPath := outputPath + ".concat.txt"
	f, err := os.Create(listPath)
	if err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}

	for _, path := range clipPaths {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		// Write in FFmpeg concat format
		fmt.Fprintf(f, "file '%s'\n", escapeConcatPath(abs))
	}
	f.Close()
	defer os.Remove(listPath)

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy", // Copy without re-encoding
		outputPath,
	}

	if err := s.run(ctx, args...); err != nil {
		return fmt.Errorf("ffmpeg concatenate failed: %w", err)
	}

	return nil
}

// MuxAudio replaces the audio of a video with the given track.
func (s *FFmpegService) MuxAudio(ctx context.Context, videoPath, audioPath, outputPath string) error {
	args := []string{
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v",
		"-map", "1:a",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-movflags", "+faststart",
		outputPath,
	}

	if err := s.run(ctx, args...); err != nil {
		return fmt.Errorf("ffmpeg mux audio failed: %w", err)
	}
	return nil
}

// ProbeDuration returns the container duration of a media file in seconds.
func (s *FFmpegService) ProbeDuration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	cmd := exec.CommandContext(ctx, s.ffprobe, args...)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration failed: %w", err)
	}

	var durationSec float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &durationSec); err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}

	return durationSec, nil
}

type probeOutput struct {
	Streams []struct {
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
		Tags       struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
		SideDataList []struct {
			Rotation float64 `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (s *FFmpegService) probeJSON(ctx context.Context, path, selectStreams, entries string) (*probeOutput, error) {
	args := []string{
		"-v", "error",
		"-select_streams", selectStreams,
		"-show_entries", entries,
		"-of", "json",
		path,
	}

	cmd := exec.CommandContext(ctx, s.ffprobe, args...)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var p probeOutput
	if err := json.Unmarshal(output, &p); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if len(p.Streams) == 0 {
		return nil, fmt.Errorf("no %s stream in %s", selectStreams, filepath.Base(path))
	}
	return &p, nil
}

// ProbeVideo returns the display size and duration of a video. Rotated
// phone footage reports its displayed (post-rotation) size.
func (s *FFmpegService) ProbeVideo(ctx context.Context, path string) (VideoInfo, error) {
	p, err := s.probeJSON(ctx, path, "v:0", "stream=width,height:stream_tags=rotate:stream_side_data=rotation:format=duration")
	if err != nil {
		return VideoInfo{}, err
	}

	st := p.Streams[0]
	info := VideoInfo{Width: st.Width, Height: st.Height}
	info.Duration, _ = strconv.ParseFloat(p.Format.Duration, 64)

	rotation := 0
	if st.Tags.Rotate != "" {
		rotation, _ = strconv.Atoi(st.Tags.Rotate)
	}
	for _, sd := range st.SideDataList {
		if sd.Rotation != 0 {
			rotation = int(sd.Rotation)
		}
	}
	if r := ((rotation % 360) + 360) % 360; r == 90 || r == 270 {
		info.Width, info.Height = info.Height, info.Width
	}

	if info.Width <= 0 || info.Height <= 0 {
		return info, fmt.Errorf("video %s has no dimensions", filepath.Base(path))
	}
	return info, nil
}

// ProbeAudio returns the sample rate, channel count and duration of the
// first audio stream.
func (s *FFmpegService) ProbeAudio(ctx context.Context, path string) (AudioInfo, error) {
	p, err := s.probeJSON(ctx, path, "a:0", "stream=sample_rate,channels:format=duration")
	if err != nil {
		return AudioInfo{}, err
	}

	st := p.Streams[0]
	info := AudioInfo{Channels: st.Channels}
	info.SampleRate, _ = strconv.Atoi(st.SampleRate)
	info.Duration, _ = strconv.ParseFloat(p.Format.Duration, 64)

	if info.SampleRate <= 0 || info.Channels <= 0 {
		return info, fmt.Errorf("audio %s has no usable stream", filepath.Base(path))
	}
	return info, nil
}

// Cleanup removes temporary files
func (s *FFmpegService) Cleanup(paths ...string) {
	for _, path := range paths {
		os.Remove(path)
	}
}

// escapeConcatPath escapes single quotes for the concat demuxer's quoting.
func escapeConcatPath(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
