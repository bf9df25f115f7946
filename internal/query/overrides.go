package query

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadOverrides reads a segment-index → query map from a JSON or YAML file:
//
//	{"0": "humpback whale", "3": "coral reef"}
//
//	0: humpback whale
//	3: coral reef
func LoadOverrides(path string) (map[int]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read overrides %s: %w", path, err)
	}

	raw := make(map[string]string)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse overrides %s: %w", path, err)
	}

	return ParseOverrides(raw)
}

// ParseOverrides converts string keys to segment indices. Blank queries are
// dropped so the segment falls back to generated queries.
func ParseOverrides(raw map[string]string) (map[int]string, error) {
	out := make(map[int]string, len(raw))
	for k, v := range raw {
		idx, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("invalid segment index %q in overrides", k)
		}
		if v = collapseSpace(v); v != "" {
			out[idx] = v
		}
	}
	return out, nil
}
