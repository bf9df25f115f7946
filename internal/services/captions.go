package services

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/bobarin/stockreel/internal/models"
)

// ---------------------------------------------------------------------------
// Caption parsing and export
//
// Segments arrive either from a caption file the user already has (SRT, VTT
// or a JSON list) or from a Transcriber. Either way the pipeline sees the
// same []models.Segment: tags stripped, whitespace collapsed, empty cues
// dropped and indices renumbered from zero.
// ---------------------------------------------------------------------------

var (
	tagPattern    = regexp.MustCompile(`<[^>]+>`)
	timingPattern = regexp.MustCompile(`^\s*(\S+)\s+-->\s+(\S+)`)
)

// Cue is the JSON caption shape, also accepted by the API.
type Cue struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// LoadCaptions reads a caption file and parses it by extension.
func LoadCaptions(path string) ([]models.Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read captions: %w", err)
	}
	return ParseCaptions(filepath.Base(path), data)
}

// ParseCaptions parses caption data, picking the format from name's
// extension (.srt, .vtt or .json).
func ParseCaptions(name string, data []byte) ([]models.Segment, error) {
	var (
		segs []models.Segment
		err  error
	)

	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".srt", ".vtt":
		segs, err = parseCues(data)
	case ".json":
		segs, err = parseCaptionJSON(data)
	default:
		return nil, fmt.Errorf("captions must be .srt, .vtt or .json, got %q", ext)
	}
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("no caption cues in %s", name)
	}

	log.Printf("[Captions] Parsed %d segments from %s", len(segs), name)
	return segs, nil
}

// parseCues handles both SRT and WebVTT. The two only differ in the header,
// cue identifiers and the millisecond separator, none of which matter once
// a timing line is found.
func parseCues(data []byte) ([]models.Segment, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		segs    []models.Segment
		inCue   bool
		start   float64
		end     float64
		text    []string
		lineNum int
	)

	flush := func() {
		if inCue {
			segs = appendSegment(segs, start, end, strings.Join(text, " "))
		}
		inCue = false
		text = text[:0]
	}

	for sc.Scan() {
		lineNum++
		line := strings.TrimRight(sc.Text(), "\r")

		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}

		if m := timingPattern.FindStringSubmatch(line); m != nil {
			flush()
			var err error
			if start, err = ParseTimestamp(m[1]); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			if end, err = ParseTimestamp(m[2]); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			inCue = true
			continue
		}

		if inCue {
			text = append(text, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan captions: %w", err)
	}
	flush()

	return segs, nil
}

func parseCaptionJSON(data []byte) ([]models.Segment, error) {
	var cues []Cue
	if err := json.Unmarshal(data, &cues); err != nil {
		return nil, fmt.Errorf("failed to parse caption json: %w", err)
	}
	return SegmentsFromCues(cues)
}

// SegmentsFromCues normalises raw start/end/text triples the same way file
// captions are.
func SegmentsFromCues(cues []Cue) ([]models.Segment, error) {
	var segs []models.Segment
	for i, c := range cues {
		if c.End <= c.Start {
			return nil, fmt.Errorf("cue %d: end %.3f is not after start %.3f", i, c.End, c.Start)
		}
		segs = appendSegment(segs, c.Start, c.End, c.Text)
	}
	return segs, nil
}

func appendSegment(segs []models.Segment, start, end float64, text string) []models.Segment {
	text = CleanText(text)
	if text == "" || end <= start {
		return segs
	}
	return append(segs, models.Segment{
		Index: len(segs),
		Start: start,
		End:   end,
		Text:  text,
	})
}

// CleanText strips markup tags and collapses whitespace.
func CleanText(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// ParseTimestamp accepts HH:MM:SS.mmm, HH:MM:SS,mmm and MM:SS.mmm.
func ParseTimestamp(ts string) (float64, error) {
	ts = strings.Replace(ts, ",", ".", 1)
	parts := strings.Split(ts, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", ts)
	}

	var total float64
	for i, p := range parts {
		last := i == len(parts)-1
		if last {
			v, err := strconv.ParseFloat(p, 64)
			if err != nil || v < 0 {
				return 0, fmt.Errorf("invalid timestamp %q", ts)
			}
			total = total*60 + v
			continue
		}
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid timestamp %q", ts)
		}
		total = total*60 + float64(v)
	}
	return total, nil
}

// FormatVTTTime formats seconds as HH:MM:SS.mmm.
func FormatVTTTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int(seconds*1000 + 0.5)
	h := ms / 3600000
	m := (ms % 3600000) / 60000
	s := (ms % 60000) / 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms%1000)
}

// WriteVTT writes segments as a WebVTT file.
func WriteVTT(segs []models.Segment, outputPath string) error {
	var sb strings.Builder
	sb.WriteString("WEBVTT\n\n")
	for _, seg := range segs {
		sb.WriteString(fmt.Sprintf("%s --> %s\n%s\n\n",
			FormatVTTTime(seg.Start),
			FormatVTTTime(seg.End),
			seg.Text,
		))
	}

	if err := os.WriteFile(outputPath, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write VTT file: %w", err)
	}
	return nil
}
