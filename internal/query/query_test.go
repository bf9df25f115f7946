package query

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/bobarin/stockreel/internal/models"
)

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		name string
		text string
		k    int
		want []string
	}{
		{
			name: "frequency then alphabetical",
			text: "The ocean is deep. Ocean currents carry whales and the whales sing.",
			k:    3,
			want: []string{"ocean", "whales", "carry"},
		},
		{
			name: "stopwords and short words removed",
			text: "It is at an ox by the sea",
			k:    4,
			want: []string{"sea"},
		},
		{
			name: "digits and punctuation skipped",
			text: "In 2024, AI-driven robots... (really!)",
			k:    4,
			want: []string{"ai-driven", "really", "robots"},
		},
		{
			name: "empty",
			text: "",
			k:    4,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractKeywords(tt.text, tt.k)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractKeywords(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestGenerateOrder(t *testing.T) {
	g := NewGenerator()
	seg := models.Segment{Index: 0, Start: 0, End: 3, Text: "Whales migrate across the ocean every winter"}

	q := g.Generate(seg, "Deep Sea Giants", "nature")

	if len(q) < 4 {
		t.Fatalf("expected at least 4 queries, got %v", q)
	}
	if q[0] != "deep giants Whales migrate across the ocean every winter" {
		t.Errorf("unexpected title-anchored query: %q", q[0])
	}
	if q[1] != seg.Text {
		t.Errorf("expected plain text second, got %q", q[1])
	}
	if !strings.HasSuffix(q[2], " nature") {
		t.Errorf("keyword query should carry the style: %q", q[2])
	}
	if q[len(q)-1] != ThemePhrase("nature", 0) {
		t.Errorf("expected theme last, got %q", q[len(q)-1])
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	g := NewGenerator()
	seg := models.Segment{Index: 7, Start: 1, End: 2, Text: "Neon signs flicker over rainy streets"}

	a := g.Generate(seg, "", "cinematic")
	b := g.Generate(seg, "", "cinematic")
	if !reflect.DeepEqual(a, b) {
		t.Errorf("Generate is not deterministic: %v vs %v", a, b)
	}
}

func TestGenerateEmptyText(t *testing.T) {
	g := NewGenerator()
	q := g.Generate(models.Segment{Index: 2, Start: 0, End: 1, Text: "   "}, "", "unknown-style")

	want := models.Query{ThemePhrase("general", 2)}
	if !reflect.DeepEqual(q, want) {
		t.Errorf("expected only the theme phrase, got %v", q)
	}
}

func TestGenerateTruncatesLongText(t *testing.T) {
	g := NewGenerator()
	long := strings.Repeat("glacier ", 40)
	q := g.Generate(models.Segment{Start: 0, End: 1, Text: long}, "", "general")

	if n := len([]rune(q[0])); n > DefaultMaxLen {
		t.Errorf("primary query has %d runes, limit %d", n, DefaultMaxLen)
	}
}

func TestGenerateDropsDuplicates(t *testing.T) {
	g := NewGenerator()
	q := g.Generate(models.Segment{Start: 0, End: 1, Text: "forest"}, "", "general")

	seen := map[string]bool{}
	for _, s := range q {
		if seen[strings.ToLower(s)] {
			t.Errorf("duplicate query %q in %v", s, q)
		}
		seen[strings.ToLower(s)] = true
	}
}

func TestSimplify(t *testing.T) {
	g := NewGenerator()

	if got := g.Simplify("Robots assemble robots in factories", "", "tech"); got != "robots assemble tech" {
		t.Errorf("unexpected simplified query %q", got)
	}
	if got := g.Simplify("Robots assemble robots", "Future Factories", "general"); got != "factories future robots" {
		t.Errorf("unexpected title-anchored simplified query %q", got)
	}
	if got := g.Simplify("it is", "", "tech"); got != "" {
		t.Errorf("expected empty simplified query, got %q", got)
	}
}

func TestThemePhraseCycles(t *testing.T) {
	first := ThemePhrase("tech", 0)
	if ThemePhrase("tech", len(themes["tech"])) != first {
		t.Error("theme phrases should cycle by index")
	}
	if ThemePhrase("TECH", 0) != first {
		t.Error("style lookup should be case-insensitive")
	}
	if ThemePhrase("", 0) != themes["general"][0] {
		t.Error("unknown style should map to general")
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "queries.json")
	if err := os.WriteFile(jsonPath, []byte(`{"0": "humpback whale", "3": "  coral   reef "}`), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := LoadOverrides(jsonPath)
	if err != nil {
		t.Fatalf("LoadOverrides json: %v", err)
	}
	if got[0] != "humpback whale" || got[3] != "coral reef" {
		t.Errorf("unexpected overrides %v", got)
	}

	yamlPath := filepath.Join(dir, "queries.yaml")
	if err := os.WriteFile(yamlPath, []byte("1: tidal wave\n2: \"\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err = LoadOverrides(yamlPath)
	if err != nil {
		t.Fatalf("LoadOverrides yaml: %v", err)
	}
	if got[1] != "tidal wave" {
		t.Errorf("unexpected overrides %v", got)
	}
	if _, ok := got[2]; ok {
		t.Error("blank override should be dropped")
	}

	if _, err := ParseOverrides(map[string]string{"first": "x"}); err == nil {
		t.Error("expected error for non-numeric key")
	}
}
