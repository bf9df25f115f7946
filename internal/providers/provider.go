// Package providers searches stock media services for candidate clips and
// photos.
package providers

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobarin/stockreel/internal/models"
)

// Provider searches one stock media service. Failures of any kind are
// returned as errors wrapping models.ErrProviderUnavailable; callers treat
// them as an empty result.
type Provider interface {
	ID() string
	Search(ctx context.Context, query string, kind models.AssetKind, limit int) ([]models.Candidate, error)
}

// Keys are the provider credentials. A provider with an empty key is skipped.
type Keys struct {
	Pexels  string
	Pixabay string
}

// Options tune the HTTP behaviour shared by all providers.
type Options struct {
	RPS     float64       // sustained requests per second per provider
	Timeout time.Duration // per request
	Retries int           // retries on retryable status or network errors
	Client  *http.Client
}

func (o Options) withDefaults() Options {
	if o.RPS <= 0 {
		o.RPS = 2
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.Client == nil {
		o.Client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return o
}

func (o Options) limiter() *rate.Limiter {
	burst := int(o.RPS)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(o.RPS), burst)
}

// Configure builds every provider that has a key, in a fixed order
// (Pexels, then Pixabay). It returns an empty list when no keys are set;
// whether that is fatal is the caller's decision.
func Configure(keys Keys, opts Options) []Provider {
	opts = opts.withDefaults()

	var out []Provider
	if keys.Pexels != "" {
		out = append(out, NewPexels(keys.Pexels, opts))
	}
	if keys.Pixabay != "" {
		out = append(out, NewPixabay(keys.Pixabay, opts))
	}
	return out
}
