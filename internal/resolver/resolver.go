// Package resolver picks one validated stock asset per segment, walking the
// segment's queries from most to least specific.
package resolver

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bobarin/stockreel/internal/models"
)

// CandidateSource returns the merged candidate list for a query.
type CandidateSource interface {
	Build(ctx context.Context, query string) []models.Candidate
}

// Validator downloads a candidate and checks it is usable.
type Validator interface {
	Validate(ctx context.Context, c models.Candidate) (models.ResolvedAsset, error)
}

// RepeatPolicy decides what happens when every candidate for a query has
// already been used in this run.
type RepeatPolicy int

const (
	// AllowRepeats picks from the full list. Repetition beats a placeholder.
	AllowRepeats RepeatPolicy = iota
	// NoRepeats moves on to the next query instead.
	NoRepeats
)

type Options struct {
	MaxAttempts int // validation attempts per query string
	Policy      RepeatPolicy
	Seed        int64 // 0 = time-based
}

type Resolver struct {
	source    CandidateSource
	validator Validator
	used      *UsedSet
	opts      Options

	mu  sync.Mutex
	rnd *rand.Rand
}

func New(source CandidateSource, validator Validator, used *UsedSet, opts Options) *Resolver {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if used == nil {
		used = NewUsedSet()
	}
	return &Resolver{
		source:    source,
		validator: validator,
		used:      used,
		opts:      opts,
		rnd:       rand.New(rand.NewSource(seed)),
	}
}

// Used returns the run's used-URL set.
func (r *Resolver) Used() *UsedSet { return r.used }

func (r *Resolver) pick(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Intn(n)
}

type state int

const (
	stateTryQuery state = iota
	stateValidate
	stateAccept
	stateNextQuery
	stateSynthesize
)

// Resolve returns a validated asset for seg, or an error wrapping
// models.ErrNoCandidates when every query is exhausted. The caller then
// synthesizes a placeholder. A cancelled ctx returns ctx.Err().
func (r *Resolver) Resolve(ctx context.Context, seg models.Segment, q models.Query) (models.ResolvedAsset, error) {
	var (
		st       = stateTryQuery
		qi       int
		pool     []models.Candidate
		picked   models.Candidate
		asset    models.ResolvedAsset
		attempts int
	)
	allowRepeat := r.opts.Policy == AllowRepeats

	for {
		if err := ctx.Err(); err != nil {
			return models.ResolvedAsset{}, err
		}

		switch st {
		case stateTryQuery:
			if qi >= len(q) {
				st = stateSynthesize
				continue
			}
			attempts = 0
			pool = r.source.Build(ctx, q[qi])
			if len(pool) == 0 {
				log.Debugf("[Resolver] Segment %d: no candidates for %q", seg.Index, q[qi])
				st = stateNextQuery
				continue
			}
			c, repeat, ok := r.used.Claim(pool, allowRepeat, r.pick)
			if !ok {
				log.Debugf("[Resolver] Segment %d: all %d candidates for %q already used", seg.Index, len(pool), q[qi])
				st = stateNextQuery
				continue
			}
			if repeat {
				log.Infof("[Resolver] Segment %d: reusing %s (no unused candidates for %q)", seg.Index, c.URL, q[qi])
			}
			picked = c
			st = stateValidate

		case stateValidate:
			attempts++
			a, err := r.validator.Validate(ctx, picked)
			if err == nil {
				asset = a
				st = stateAccept
				continue
			}
			if ctx.Err() != nil {
				return models.ResolvedAsset{}, ctx.Err()
			}
			log.WithFields(log.Fields{
				"segment":  seg.Index,
				"url":      picked.URL,
				"provider": picked.ProviderID,
				"attempt":  attempts,
			}).Warnf("[Resolver] Candidate rejected: %v", err)

			pool = without(pool, picked.URL)
			if attempts >= r.opts.MaxAttempts || len(pool) == 0 {
				st = stateNextQuery
				continue
			}
			c, _, ok := r.used.Claim(pool, allowRepeat, r.pick)
			if !ok {
				st = stateNextQuery
				continue
			}
			picked = c

		case stateAccept:
			src := picked
			asset.Source = &src
			asset.Query = q[qi]
			if asset.Kind == "" {
				asset.Kind = picked.Kind
			}
			log.Infof("[Resolver] Segment %d: %s %s via %q (%s)", seg.Index, asset.Kind, picked.URL, q[qi], picked.ProviderID)
			return asset, nil

		case stateNextQuery:
			qi++
			st = stateTryQuery

		case stateSynthesize:
			return models.ResolvedAsset{}, fmt.Errorf("%w: segment %d after %d queries", models.ErrNoCandidates, seg.Index, len(q))
		}
	}
}

func without(cands []models.Candidate, url string) []models.Candidate {
	out := make([]models.Candidate, 0, len(cands))
	for _, c := range cands {
		if c.URL != url {
			out = append(out, c)
		}
	}
	return out
}
