// Package query turns narration segments into ordered stock-media search
// queries. Everything here is pure: the same inputs always produce the same
// query list.
package query

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/bobarin/stockreel/internal/models"
)

const (
	DefaultMaxLen      = 100
	DefaultTopK        = 4
	DefaultTitleTopK   = 2
	DefaultStyle       = "general"
	simplifiedKeywords = 2
)

// themes holds the last-resort phrases per style. Segments pick a phrase
// by index so consecutive fallbacks don't all search the same thing.
var themes = map[string][]string{
	"cinematic": {"cinematic b-roll", "slow motion city", "moody landscape", "ocean waves", "aerial skyline"},
	"nature":    {"forest canopy", "ocean reef", "mountain sunrise", "river flow", "desert dunes"},
	"tech":      {"data center", "robot arm", "circuit board macro", "coding close-up", "neon city"},
	"general":   {"city b-roll", "people walking", "clouds timelapse", "street night lights", "abstract background"},
}

// styles whose name is appended to keyword queries
var suffixStyles = map[string]bool{"cinematic": true, "nature": true, "tech": true}

var wordPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z\-]+$`)

type Generator struct {
	MaxLen    int // rune limit for full-text queries
	TopK      int // keywords kept for the keyword query
	TitleTopK int // title keywords used as an anchor
}

func NewGenerator() *Generator {
	return &Generator{
		MaxLen:    DefaultMaxLen,
		TopK:      DefaultTopK,
		TitleTopK: DefaultTitleTopK,
	}
}

// Generate builds the query list for a segment, most specific first:
// title-anchored text, plain text, keywords, simplified keywords, theme.
// Duplicates and empty strings are dropped; the theme phrase is always last,
// so the result is never empty.
func (g *Generator) Generate(seg models.Segment, title, style string) models.Query {
	style = NormalizeStyle(style)
	text := Truncate(collapseSpace(seg.Text), g.MaxLen)
	titleKW := ExtractKeywords(title, g.TitleTopK)

	var q models.Query
	seen := make(map[string]bool)
	add := func(s string) {
		s = collapseSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			return
		}
		seen[key] = true
		q = append(q, s)
	}

	if text != "" {
		if len(titleKW) > 0 {
			add(strings.Join(titleKW, " ") + " " + text)
		}
		add(text)
	}

	if kws := ExtractKeywords(seg.Text, g.TopK); len(kws) > 0 {
		if len(titleKW) > 0 {
			kws = append(append([]string{}, titleKW...), kws[:min(2, len(kws))]...)
		}
		add(withStyle(strings.Join(kws, " "), style))
	}

	add(g.Simplify(seg.Text, title, style))
	add(ThemePhrase(style, seg.Index))

	return q
}

// Simplify reduces text to its main keywords, anchored by the title and
// suffixed with the style. It returns "" when no keyword survives.
func (g *Generator) Simplify(text, title, style string) string {
	kws := ExtractKeywords(text, simplifiedKeywords)
	if len(kws) == 0 {
		return ""
	}
	if titleKW := ExtractKeywords(title, g.TitleTopK); len(titleKW) > 0 {
		kws = append(titleKW, kws[0])
	}
	return withStyle(strings.Join(kws, " "), NormalizeStyle(style))
}

// ThemePhrase returns the generic phrase for a style. Unknown styles use
// the general themes.
func ThemePhrase(style string, index int) string {
	list := themes[NormalizeStyle(style)]
	if index < 0 {
		index = -index
	}
	return list[index%len(list)]
}

// NormalizeStyle lower-cases style and maps unknown styles to "general".
func NormalizeStyle(style string) string {
	style = strings.ToLower(strings.TrimSpace(style))
	if _, ok := themes[style]; ok {
		return style
	}
	return DefaultStyle
}

// Styles lists the known style names.
func Styles() []string {
	out := make([]string, 0, len(themes))
	for s := range themes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ExtractKeywords returns up to k keywords from text: alphabetic words
// longer than two letters that are not stopwords, most frequent first,
// ties broken alphabetically.
func ExtractKeywords(text string, k int) []string {
	if k <= 0 {
		return nil
	}

	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || r == '-' || r == '\'')
	})

	freq := make(map[string]int)
	var order []string
	for _, tok := range tokens {
		tok = strings.Trim(tok, "-'")
		if !wordPattern.MatchString(tok) {
			continue
		}
		w := strings.ToLower(tok)
		if _, stop := stopwords[w]; stop || len(w) <= 2 {
			continue
		}
		if freq[w] == 0 {
			order = append(order, w)
		}
		freq[w]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		if freq[order[i]] != freq[order[j]] {
			return freq[order[i]] > freq[order[j]]
		}
		return order[i] < order[j]
	})

	if len(order) > k {
		order = order[:k]
	}
	return order
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}

func withStyle(q, style string) string {
	if suffixStyles[style] && !strings.HasSuffix(q, " "+style) && q != style {
		return q + " " + style
	}
	return q
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
