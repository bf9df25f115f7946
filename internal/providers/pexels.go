package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bobarin/stockreel/internal/models"
)

const pexelsBaseURL = "https://api.pexels.com"

// Pexels searches videos and photos on pexels.com.
type Pexels struct {
	apiKey  string
	BaseURL string
	c       *client
}

var _ Provider = (*Pexels)(nil)

func NewPexels(apiKey string, opts Options) *Pexels {
	return &Pexels{
		apiKey:  apiKey,
		BaseURL: pexelsBaseURL,
		c:       newClient("Pexels", opts.withDefaults()),
	}
}

func (p *Pexels) ID() string { return "pexels" }

type pexelsVideoResponse struct {
	Videos []struct {
		ID         int `json:"id"`
		Width      int `json:"width"`
		Height     int `json:"height"`
		Duration   int `json:"duration"`
		VideoFiles []struct {
			Quality  string `json:"quality"`
			FileType string `json:"file_type"`
			Width    int    `json:"width"`
			Height   int    `json:"height"`
			Link     string `json:"link"`
		} `json:"video_files"`
	} `json:"videos"`
}

type pexelsPhotoResponse struct {
	Photos []struct {
		ID     int `json:"id"`
		Width  int `json:"width"`
		Height int `json:"height"`
		Src    struct {
			Original string `json:"original"`
			Large2x  string `json:"large2x"`
			Large    string `json:"large"`
		} `json:"src"`
	} `json:"photos"`
}

func (p *Pexels) Search(ctx context.Context, query string, kind models.AssetKind, limit int) ([]models.Candidate, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("per_page", strconv.Itoa(clampLimit(limit, 1, 80)))

	header := http.Header{}
	header.Set("Authorization", p.apiKey)

	switch kind {
	case models.KindVideo:
		var resp pexelsVideoResponse
		if err := p.c.getJSON(ctx, p.BaseURL+"/videos/search?"+params.Encode(), header, &resp); err != nil {
			return nil, err
		}

		out := make([]models.Candidate, 0, len(resp.Videos))
		for _, v := range resp.Videos {
			best := -1
			for i, f := range v.VideoFiles {
				if f.Link == "" || (f.FileType != "" && f.FileType != "video/mp4") {
					continue
				}
				if best < 0 || betterPexelsFile(f.Quality, f.Width, v.VideoFiles[best].Quality, v.VideoFiles[best].Width) {
					best = i
				}
			}
			if best < 0 {
				continue
			}
			f := v.VideoFiles[best]
			out = append(out, models.Candidate{
				URL:        f.Link,
				Kind:       models.KindVideo,
				Width:      firstPositive(f.Width, v.Width),
				Height:     firstPositive(f.Height, v.Height),
				Duration:   float64(v.Duration),
				ProviderID: p.ID(),
			})
		}
		return out, nil

	case models.KindImage:
		var resp pexelsPhotoResponse
		if err := p.c.getJSON(ctx, p.BaseURL+"/v1/search?"+params.Encode(), header, &resp); err != nil {
			return nil, err
		}

		out := make([]models.Candidate, 0, len(resp.Photos))
		for _, ph := range resp.Photos {
			link := firstNonEmpty(ph.Src.Large2x, ph.Src.Large, ph.Src.Original)
			if link == "" {
				continue
			}
			out = append(out, models.Candidate{
				URL:        link,
				Kind:       models.KindImage,
				Width:      ph.Width,
				Height:     ph.Height,
				ProviderID: p.ID(),
			})
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: pexels: unsupported kind %q", models.ErrProviderUnavailable, kind)
	}
}

// betterPexelsFile prefers HD files, then the widest file up to 1920px.
// Larger renditions cost download time without improving a 1080p frame.
func betterPexelsFile(quality string, width int, bestQuality string, bestWidth int) bool {
	hd, bestHD := strings.EqualFold(quality, "hd"), strings.EqualFold(bestQuality, "hd")
	if hd != bestHD {
		return hd
	}
	if (width <= 1920) != (bestWidth <= 1920) {
		return width <= 1920
	}
	if width <= 1920 {
		return width > bestWidth
	}
	return width < bestWidth
}

func clampLimit(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
