package models

import (
	"fmt"
	"strings"
)

// AssetKind is the media kind of a candidate or resolved asset.
type AssetKind string

const (
	KindVideo     AssetKind = "video"
	KindImage     AssetKind = "image"
	KindAudio     AssetKind = "audio"
	KindSynthetic AssetKind = "synthetic"
)

// Segment is one timed span of narration.
type Segment struct {
	Index int     `json:"index" yaml:"index"`
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
	Text  string  `json:"text" yaml:"text"`
}

// Duration returns End - Start in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Validate reports whether the segment has a positive duration.
func (s Segment) Validate() error {
	if s.Start < 0 {
		return fmt.Errorf("segment %d: negative start %.3f", s.Index, s.Start)
	}
	if s.Duration() <= 0 {
		return fmt.Errorf("segment %d: non-positive duration (start=%.3f end=%.3f)", s.Index, s.Start, s.End)
	}
	return nil
}

// Query is an ordered list of search strings, most specific first.
type Query []string

// First returns the most specific query string, or "" for an empty query.
func (q Query) First() string {
	if len(q) == 0 {
		return ""
	}
	return q[0]
}

func (q Query) String() string {
	return strings.Join(q, " | ")
}

// Candidate is a search hit from a stock media provider. URL is its identity.
type Candidate struct {
	URL        string    `json:"url"`
	Kind       AssetKind `json:"kind"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	Duration   float64   `json:"duration,omitempty"` // seconds, 0 for images or unknown
	ProviderID string    `json:"provider_id"`
}

// ResolvedAsset is a candidate that has been downloaded and validated,
// or a synthetic placeholder.
type ResolvedAsset struct {
	LocalPath string     `json:"local_path"`
	Kind      AssetKind  `json:"kind"`
	Source    *Candidate `json:"source,omitempty"`
	Query     string     `json:"query,omitempty"` // query string that produced Source
}

// RGB is an 8-bit colour.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Hex returns the colour as 0xRRGGBB, the form ffmpeg's color source accepts.
func (c RGB) Hex() string {
	return fmt.Sprintf("0x%02x%02x%02x", c.R, c.G, c.B)
}

// PreparedClip is a clip ready for rendering: exact target resolution and
// the duration of the segment it covers. A clip with Color set has no file
// and is rendered as a solid frame.
type PreparedClip struct {
	Index     int       `json:"index"`
	Path      string    `json:"path,omitempty"`
	Color     *RGB      `json:"color,omitempty"`
	Kind      AssetKind `json:"kind"`
	Duration  float64   `json:"duration"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Label     string    `json:"label,omitempty"`
	SourceURL string    `json:"source_url,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Query     string    `json:"query,omitempty"`
	Fallback  bool      `json:"fallback"`
}

// IsSolid reports whether the clip is a flat-colour description.
func (c PreparedClip) IsSolid() bool {
	return c.Path == "" && c.Color != nil
}

// MixedAudioTrack is the final narration track, optionally with background
// music mixed underneath.
type MixedAudioTrack struct {
	Path            string  `json:"path"`
	SampleRate      int     `json:"sample_rate,omitempty"`
	Channels        int     `json:"channels,omitempty"`
	Duration        float64 `json:"duration"`
	BackgroundMixed bool    `json:"background_mixed"`
}

// Resolution is an output frame size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// ParseResolution parses "WIDTHxHEIGHT".
func ParseResolution(s string) (Resolution, error) {
	var r Resolution
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "x")
	if len(parts) != 2 {
		return r, fmt.Errorf("invalid resolution %q: want WIDTHxHEIGHT", s)
	}
	if _, err := fmt.Sscanf(parts[0]+" "+parts[1], "%d %d", &r.Width, &r.Height); err != nil {
		return r, fmt.Errorf("invalid resolution %q: %w", s, err)
	}
	if r.Width <= 0 || r.Height <= 0 {
		return r, fmt.Errorf("invalid resolution %q: dimensions must be positive", s)
	}
	if r.Width%2 != 0 || r.Height%2 != 0 {
		return r, fmt.Errorf("invalid resolution %q: dimensions must be even", s)
	}
	return r, nil
}
