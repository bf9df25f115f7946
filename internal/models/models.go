package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enums
type RunStatus string

const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusResolving  RunStatus = "resolving"
	RunStatusPreparing  RunStatus = "preparing"
	RunStatusPublishing RunStatus = "publishing"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// JSONB is a custom type for JSON columns (JSONB on Postgres, TEXT on SQLite)
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	return json.Unmarshal(scanBytes(value), j)
}

// RunSpec is everything a worker needs to rebuild a run. Stored as JSON.
type RunSpec struct {
	Title            string         `json:"title,omitempty"`
	Style            string         `json:"style,omitempty"`
	Segments         []Segment      `json:"segments,omitempty"`
	Transcribe       bool           `json:"transcribe,omitempty"`
	Overrides        map[int]string `json:"overrides,omitempty"`
	AudioStoragePath string         `json:"audio_storage_path"`
	Width            int            `json:"width"`
	Height           int            `json:"height"`
	FPS              int            `json:"fps"`
	BackgroundMusic  bool           `json:"background_music"`
	MusicSource      string         `json:"music_source,omitempty"`
	MusicGain        float64        `json:"music_gain,omitempty"`
}

func (s RunSpec) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *RunSpec) Scan(value interface{}) error {
	if value == nil {
		*s = RunSpec{}
		return nil
	}
	return json.Unmarshal(scanBytes(value), s)
}

func scanBytes(value interface{}) []byte {
	switch v := value.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return []byte(fmt.Sprint(v))
	}
}

// Models

type Run struct {
	ID              uuid.UUID `json:"id"`
	Status          RunStatus `json:"status"`
	Spec            RunSpec   `json:"spec"`
	SegmentCount    int       `json:"segment_count"`
	FallbackCount   int       `json:"fallback_count"`
	Stats           JSONB     `json:"stats,omitempty"`
	ManifestPath    *string   `json:"manifest_path,omitempty"`
	AudioPath       *string   `json:"audio_path,omitempty"`
	DurationMs      *int      `json:"duration_ms,omitempty"`
	ErrorMessage    *string   `json:"error_message,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type RunClip struct {
	ID           uuid.UUID `json:"id"`
	RunID        uuid.UUID `json:"run_id"`
	SegmentIndex int       `json:"segment_index"`
	Kind         AssetKind `json:"kind"`
	Text         string    `json:"text"`
	Query        *string   `json:"query,omitempty"`
	SourceURL    *string   `json:"source_url,omitempty"`
	Provider     *string   `json:"provider,omitempty"`
	StoragePath  *string   `json:"storage_path,omitempty"`
	Color        *string   `json:"color,omitempty"` // set for flat-colour clips
	DurationMs   int       `json:"duration_ms"`
	Fallback     bool      `json:"fallback"`
	CreatedAt    time.Time `json:"created_at"`
}

// Event is a progress notification for a run, fanned out over pub/sub.
type Event struct {
	RunID        uuid.UUID `json:"run_id"`
	Type         string    `json:"type"`
	SegmentIndex *int      `json:"segment_index,omitempty"`
	Message      string    `json:"message,omitempty"`
	Progress     float64   `json:"progress"`
	Time         time.Time `json:"time"`
}

const (
	EventRunStarted       = "run_started"
	EventSegmentResolved  = "segment_resolved"
	EventSegmentFallback  = "segment_fallback"
	EventSegmentPrepared  = "segment_prepared"
	EventAudioMixed       = "audio_mixed"
	EventRunCompleted     = "run_completed"
	EventRunFailed        = "run_failed"
)

// DTOs for API responses
type RunResponse struct {
	Run
	Clips       []RunClipResponse `json:"clips,omitempty"`
	ManifestURL *string           `json:"manifest_url,omitempty"`
	AudioURL    *string           `json:"audio_url,omitempty"`
}

type RunClipResponse struct {
	RunClip
	ClipURL *string `json:"clip_url,omitempty"`
}

// RunSummary is a lightweight DTO for the list endpoint.
type RunSummary struct {
	ID            uuid.UUID `json:"id"`
	Title         string    `json:"title,omitempty"`
	Style         string    `json:"style,omitempty"`
	Status        RunStatus `json:"status"`
	SegmentCount  int       `json:"segment_count"`
	FallbackCount int       `json:"fallback_count"`
	ErrorMessage  *string   `json:"error_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type ListRunsResponse struct {
	Runs   []RunSummary `json:"runs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

type CreateRunRequest struct {
	Title            string            `json:"title,omitempty"`
	Style            *string           `json:"style,omitempty"`      // Default: env DEFAULT_STYLE
	AudioStoragePath string            `json:"audio_storage_path"`   // Narration, in the storage bucket
	Segments         []Segment         `json:"segments,omitempty"`   // Timed narration segments
	Captions         *string           `json:"captions,omitempty"`   // Or raw SRT/VTT text
	CaptionsFormat   *string           `json:"captions_format,omitempty"`
	Transcribe       bool              `json:"transcribe,omitempty"` // Or transcribe the narration
	Overrides        map[string]string `json:"overrides,omitempty"`  // Segment index -> query
	Resolution       *string           `json:"resolution,omitempty"` // Default: env DEFAULT_RESOLUTION
	FPS              *int              `json:"fps,omitempty"`
	BackgroundMusic  *bool             `json:"background_music,omitempty"`
	MusicSource      *string           `json:"music_source,omitempty"`
	MusicGain        *float64          `json:"music_gain,omitempty"`
}

type CreateRunResponse struct {
	RunID  uuid.UUID `json:"run_id"`
	Status RunStatus `json:"status"`
}
