package services

import (
	"context"
	"fmt"

	"github.com/bobarin/stockreel/internal/config"
	"github.com/bobarin/stockreel/internal/models"
)

// Transcriber turns a narration file into timed segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]models.Segment, error)
}

// NewTranscriber picks the backend named by TRANSCRIBER. It returns nil for
// "none"; keys are checked by Config.ValidatePipeline.
func NewTranscriber(ctx context.Context, cfg *config.Config) (Transcriber, error) {
	switch cfg.Transcriber {
	case "", "none":
		return nil, nil
	case "openai":
		return NewWhisperTranscriber(cfg.OpenAIKey, cfg.WhisperModel), nil
	case "gemini":
		return NewGeminiTranscriber(ctx, cfg.GeminiKey, cfg.GeminiModel)
	default:
		return nil, fmt.Errorf("%w: unknown TRANSCRIBER %q", models.ErrConfiguration, cfg.Transcriber)
	}
}

// truncateString truncates a string to maxLen and appends "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
