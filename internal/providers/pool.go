package providers

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bobarin/stockreel/internal/models"
)

// Pool merges search results from every configured provider.
type Pool struct {
	providers     []Provider
	limit         int
	timeout       time.Duration
	includeImages bool
}

func NewPool(providers []Provider, limit int, timeout time.Duration, includeImages bool) *Pool {
	if limit <= 0 {
		limit = 15
	}
	return &Pool{
		providers:     providers,
		limit:         limit,
		timeout:       timeout,
		includeImages: includeImages,
	}
}

// Size returns the number of configured providers.
func (p *Pool) Size() int { return len(p.providers) }

// Build searches every provider for query, videos and images concurrently,
// and returns all video candidates (in provider order) followed by all image
// candidates. A failing provider contributes nothing. Build never fails; an
// empty slice means nothing was found.
func (p *Pool) Build(ctx context.Context, query string) []models.Candidate {
	if len(p.providers) == 0 || query == "" {
		return nil
	}

	kinds := []models.AssetKind{models.KindVideo}
	if p.includeImages {
		kinds = append(kinds, models.KindImage)
	}

	// results[k][i] holds kind k from provider i, so merge order is fixed
	// regardless of which call finishes first.
	results := make([][][]models.Candidate, len(kinds))
	for k := range kinds {
		results[k] = make([][]models.Candidate, len(p.providers))
	}

	var g errgroup.Group
	for k, kind := range kinds {
		for i, prov := range p.providers {
			k, i, kind, prov := k, i, kind, prov
			g.Go(func() error {
				callCtx := ctx
				if p.timeout > 0 {
					var cancel context.CancelFunc
					callCtx, cancel = context.WithTimeout(ctx, p.timeout)
					defer cancel()
				}

				cands, err := prov.Search(callCtx, query, kind, p.limit)
				if err != nil {
					log.WithFields(log.Fields{
						"provider": prov.ID(),
						"kind":     kind,
						"query":    query,
					}).Warnf("[Pool] Search failed: %v", err)
					return nil
				}
				results[k][i] = cands
				return nil
			})
		}
	}
	_ = g.Wait()

	var merged []models.Candidate
	seen := make(map[string]bool)
	for k := range kinds {
		for i := range p.providers {
			for _, c := range results[k][i] {
				if c.URL == "" || seen[c.URL] {
					continue
				}
				seen[c.URL] = true
				merged = append(merged, c)
			}
		}
	}

	log.Debugf("[Pool] %q: %d candidates from %d providers", query, len(merged), len(p.providers))
	return merged
}
