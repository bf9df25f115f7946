package services

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleSRT = `1
00:00:00,000 --> 00:00:02,500
Whales migrate <i>thousands</i> of miles.

2
00:00:02,500 --> 00:00:03,000


3
00:00:03,000 --> 00:00:05,250
Every year,
they return.
`

const sampleVTT = `WEBVTT

NOTE produced by hand

intro
00:00.000 --> 00:01.500 align:start
The city wakes up.

00:00:01.500 --> 00:00:04.000
Trains   fill with people.
`

func TestParseCaptionsSRT(t *testing.T) {
	segs, err := ParseCaptions("talk.srt", []byte(sampleSRT))
	if err != nil {
		t.Fatalf("ParseCaptions: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments (empty cue dropped), got %d: %+v", len(segs), segs)
	}
	if segs[0].Text != "Whales migrate thousands of miles." {
		t.Errorf("tags not stripped: %q", segs[0].Text)
	}
	if segs[1].Index != 1 || segs[1].Start != 3 || segs[1].End != 5.25 {
		t.Errorf("unexpected second segment %+v", segs[1])
	}
	if segs[1].Text != "Every year, they return." {
		t.Errorf("multi-line cue not joined: %q", segs[1].Text)
	}
}

func TestParseCaptionsVTT(t *testing.T) {
	segs, err := ParseCaptions("talk.VTT", []byte(sampleVTT))
	if err != nil {
		t.Fatalf("ParseCaptions: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %+v", segs)
	}
	if segs[0].Start != 0 || segs[0].End != 1.5 {
		t.Errorf("short timestamps misparsed: %+v", segs[0])
	}
	if segs[1].Text != "Trains fill with people." {
		t.Errorf("whitespace not collapsed: %q", segs[1].Text)
	}
}

func TestParseCaptionsJSON(t *testing.T) {
	data := `[{"start":0,"end":1.2,"text":"one"},{"start":1.2,"end":2,"text":"  "},{"start":2,"end":3,"text":"three"}]`
	segs, err := ParseCaptions("cues.json", []byte(data))
	if err != nil {
		t.Fatalf("ParseCaptions: %v", err)
	}
	if len(segs) != 2 || segs[1].Index != 1 || segs[1].Text != "three" {
		t.Errorf("unexpected segments %+v", segs)
	}

	if _, err := ParseCaptions("cues.json", []byte(`[{"start":2,"end":1,"text":"x"}]`)); err == nil {
		t.Error("expected error for end before start")
	}
}

func TestParseCaptionsErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		data string
	}{
		{"unknown extension", "talk.txt", "hello"},
		{"no cues", "talk.srt", "just some text\n"},
		{"bad timestamp", "talk.srt", "1\n00:xx:01,000 --> 00:00:02,000\nhi\n"},
		{"bad json", "talk.json", "{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCaptions(tt.file, []byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := map[string]float64{
		"00:00:01.500": 1.5,
		"01:02:03,250": 3723.25,
		"02:05.000":    125,
	}
	for in, want := range tests {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Errorf("ParseTimestamp(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestWriteVTTRoundTrip(t *testing.T) {
	segs, err := ParseCaptions("talk.srt", []byte(sampleSRT))
	if err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(t.TempDir(), "out.vtt")
	if err := WriteVTT(segs, out); err != nil {
		t.Fatalf("WriteVTT: %v", err)
	}

	data, _ := os.ReadFile(out)
	if !strings.HasPrefix(string(data), "WEBVTT\n\n00:00:00.000 --> 00:00:02.500\n") {
		t.Errorf("unexpected vtt:\n%s", data)
	}

	back, err := LoadCaptions(out)
	if err != nil {
		t.Fatalf("LoadCaptions: %v", err)
	}
	if len(back) != len(segs) {
		t.Fatalf("round trip lost segments: %d vs %d", len(back), len(segs))
	}
	for i := range segs {
		if back[i] != segs[i] {
			t.Errorf("segment %d: %+v != %+v", i, back[i], segs[i])
		}
	}
}

func TestFormatVTTTime(t *testing.T) {
	if got := FormatVTTTime(3723.2506); got != "01:02:03.251" {
		t.Errorf("FormatVTTTime = %q", got)
	}
	if got := FormatVTTTime(-1); got != "00:00:00.000" {
		t.Errorf("negative should clamp, got %q", got)
	}
}
