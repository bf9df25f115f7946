package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"github.com/bobarin/stockreel/internal/models"
)

const defaultGeminiModel = "gemini-2.5-flash"

const geminiTranscribePrompt = `Transcribe this narration. Split it into short caption segments of one sentence or clause each, in spoken order.
Respond with a JSON array only, where each element is {"start": <seconds>, "end": <seconds>, "text": "<words spoken>"}.
Times are seconds from the start of the audio as decimal numbers. Segments must not overlap and every end must be after its start.`

// GeminiTranscriber transcribes narration with a Gemini model that accepts
// audio input and returns timed JSON.
type GeminiTranscriber struct {
	client *genai.Client
	model  string
}

func NewGeminiTranscriber(ctx context.Context, apiKey, model string) (*GeminiTranscriber, error) {
	if model == "" {
		model = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiTranscriber{client: client, model: model}, nil
}

func (s *GeminiTranscriber) Transcribe(ctx context.Context, audioPath string) ([]models.Segment, error) {
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(data, audioMIMEType(audioPath)),
			genai.NewPartFromText(geminiTranscribePrompt),
		}, genai.RoleUser),
	}

	log.Printf("[Gemini] Transcribing %s (model=%s, size=%d bytes)", filepath.Base(audioPath), s.model, len(data))

	resp, err := s.client.Models.GenerateContent(ctx, s.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("gemini transcription failed: %w", err)
	}

	segs, err := parseGeminiSegments(resp.Text())
	if err != nil {
		return nil, err
	}

	log.Printf("[Gemini] Transcribed %d segments", len(segs))
	return segs, nil
}

// parseGeminiSegments tolerates a fenced code block around the JSON array.
func parseGeminiSegments(text string) ([]models.Segment, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var cues []Cue
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &cues); err != nil {
		return nil, fmt.Errorf("failed to parse gemini transcript: %w (body: %q)", err, truncateString(text, 200))
	}
	segs, err := SegmentsFromCues(cues)
	if err != nil {
		return nil, fmt.Errorf("gemini returned bad segments: %w", err)
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("gemini returned no segments")
	}
	return segs, nil
}

func audioMIMEType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "audio/wav"
	case ".m4a", ".aac":
		return "audio/aac"
	case ".ogg":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	default:
		return "audio/mpeg"
	}
}
