package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	openai "github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"

	"github.com/bobarin/stockreel/internal/models"
)

// ---------------------------------------------------------------------------
// Whisper transcription with segment-level timestamps
// ---------------------------------------------------------------------------

type WhisperTranscriber struct {
	client *openai.Client
	model  string
}

func NewWhisperTranscriber(apiKey, model string) *WhisperTranscriber {
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperTranscriber{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// NewWhisperTranscriberWithBaseURL points the client at a compatible
// endpoint (self-hosted Whisper servers, tests).
func NewWhisperTranscriberWithBaseURL(apiKey, model, baseURL string) *WhisperTranscriber {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	t := NewWhisperTranscriber(apiKey, model)
	t.client = openai.NewClientWithConfig(cfg)
	return t
}

// Transcribe sends the narration to Whisper and returns its segments.
func (s *WhisperTranscriber) Transcribe(ctx context.Context, audioPath string) ([]models.Segment, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio: %w", err)
	}
	defer f.Close()

	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.model,
		Reader:   f,
		FilePath: filepath.Base(audioPath), // Filename hint for the API (required by the library)
		Format:   openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularitySegment,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("whisper transcription failed: %w", err)
	}

	cues := make([]Cue, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		cues = append(cues, Cue{Start: seg.Start, End: seg.End, Text: seg.Text})
	}
	segs, err := SegmentsFromCues(cues)
	if err != nil {
		return nil, fmt.Errorf("whisper returned bad segments: %w", err)
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("whisper returned no segments (text: %q)", truncateString(resp.Text, 80))
	}

	log.Printf("[Whisper] Transcribed %d segments (duration: %.1fs, language: %s, text: %q)",
		len(segs), resp.Duration, resp.Language, truncateString(resp.Text, 80))

	return segs, nil
}
