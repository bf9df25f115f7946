package providers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/bobarin/stockreel/internal/models"
)

const pixabayBaseURL = "https://pixabay.com"

// Pixabay searches videos and photos on pixabay.com.
type Pixabay struct {
	apiKey  string
	BaseURL string
	c       *client
}

var _ Provider = (*Pixabay)(nil)

func NewPixabay(apiKey string, opts Options) *Pixabay {
	return &Pixabay{
		apiKey:  apiKey,
		BaseURL: pixabayBaseURL,
		c:       newClient("Pixabay", opts.withDefaults()),
	}
}

func (p *Pixabay) ID() string { return "pixabay" }

type pixabayRendition struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Size   int64  `json:"size"`
}

type pixabayVideoResponse struct {
	Hits []struct {
		ID       int `json:"id"`
		Duration int `json:"duration"`
		Videos   struct {
			Large  pixabayRendition `json:"large"`
			Medium pixabayRendition `json:"medium"`
			Small  pixabayRendition `json:"small"`
		} `json:"videos"`
	} `json:"hits"`
}

type pixabayImageResponse struct {
	Hits []struct {
		ID            int    `json:"id"`
		LargeImageURL string `json:"largeImageURL"`
		WebformatURL  string `json:"webformatURL"`
		ImageWidth    int    `json:"imageWidth"`
		ImageHeight   int    `json:"imageHeight"`
	} `json:"hits"`
}

func (p *Pixabay) Search(ctx context.Context, query string, kind models.AssetKind, limit int) ([]models.Candidate, error) {
	params := url.Values{}
	params.Set("key", p.apiKey)
	// Pixabay rejects queries over 100 characters
	params.Set("q", truncateRunes(query, 100))
	// per_page must be within [3, 200]
	params.Set("per_page", strconv.Itoa(clampLimit(limit, 3, 200)))
	params.Set("safesearch", "true")

	switch kind {
	case models.KindVideo:
		var resp pixabayVideoResponse
		if err := p.c.getJSON(ctx, p.BaseURL+"/api/videos/?"+params.Encode(), nil, &resp); err != nil {
			return nil, err
		}

		out := make([]models.Candidate, 0, len(resp.Hits))
		for _, h := range resp.Hits {
			r := h.Videos.Large
			if r.URL == "" {
				r = h.Videos.Medium
			}
			if r.URL == "" {
				r = h.Videos.Small
			}
			if r.URL == "" {
				continue
			}
			out = append(out, models.Candidate{
				URL:        r.URL,
				Kind:       models.KindVideo,
				Width:      r.Width,
				Height:     r.Height,
				Duration:   float64(h.Duration),
				ProviderID: p.ID(),
			})
		}
		return limitCandidates(out, limit), nil

	case models.KindImage:
		params.Set("image_type", "photo")
		var resp pixabayImageResponse
		if err := p.c.getJSON(ctx, p.BaseURL+"/api/?"+params.Encode(), nil, &resp); err != nil {
			return nil, err
		}

		out := make([]models.Candidate, 0, len(resp.Hits))
		for _, h := range resp.Hits {
			link := firstNonEmpty(h.LargeImageURL, h.WebformatURL)
			if link == "" {
				continue
			}
			out = append(out, models.Candidate{
				URL:        link,
				Kind:       models.KindImage,
				Width:      h.ImageWidth,
				Height:     h.ImageHeight,
				ProviderID: p.ID(),
			})
		}
		return limitCandidates(out, limit), nil

	default:
		return nil, fmt.Errorf("%w: pixabay: unsupported kind %q", models.ErrProviderUnavailable, kind)
	}
}

func limitCandidates(c []models.Candidate, limit int) []models.Candidate {
	if limit > 0 && len(c) > limit {
		return c[:limit]
	}
	return c
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
