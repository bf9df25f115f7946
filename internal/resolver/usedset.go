package resolver

import (
	"sync"

	"github.com/bobarin/stockreel/internal/models"
)

// UsedSet records every candidate URL selected during one run. It only
// grows, and is safe for concurrent use.
type UsedSet struct {
	mu   sync.Mutex
	urls map[string]struct{}
}

func NewUsedSet() *UsedSet {
	return &UsedSet{urls: make(map[string]struct{})}
}

func (s *UsedSet) Contains(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.urls[url]
	return ok
}

// Add records url and reports whether it was new.
func (s *UsedSet) Add(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.urls[url]; ok {
		return false
	}
	s.urls[url] = struct{}{}
	return true
}

func (s *UsedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.urls)
}

// Claim picks a candidate and records it in one critical section, so two
// segments resolving at once can never both take the same unused URL.
// pick(n) must return an index in [0, n). When every candidate is already
// used, Claim picks from the full list if allowRepeat is set; otherwise it
// reports false. The second result reports whether the pick was a repeat.
func (s *UsedSet) Claim(cands []models.Candidate, allowRepeat bool, pick func(n int) int) (models.Candidate, bool, bool) {
	if len(cands) == 0 {
		return models.Candidate{}, false, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unused := make([]models.Candidate, 0, len(cands))
	for _, c := range cands {
		if _, ok := s.urls[c.URL]; !ok {
			unused = append(unused, c)
		}
	}

	if len(unused) > 0 {
		c := unused[pick(len(unused))]
		s.urls[c.URL] = struct{}{}
		return c, false, true
	}

	if !allowRepeat {
		return models.Candidate{}, false, false
	}
	return cands[pick(len(cands))], true, true
}
