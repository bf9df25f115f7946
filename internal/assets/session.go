// Package assets downloads and validates stock media into a per-run
// scratch directory.
package assets

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Session is a run's scratch directory. Everything a run downloads or
// renders lives under Dir and is removed by Close.
type Session struct {
	ID  uuid.UUID
	Dir string

	once sync.Once
	err  error
}

// NewSession creates a fresh directory under baseDir (os.TempDir() when empty).
func NewSession(baseDir string) (*Session, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp base %s: %w", baseDir, err)
	}

	id := uuid.New()
	dir, err := os.MkdirTemp(baseDir, "run-"+id.String()[:8]+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create session dir: %w", err)
	}

	log.Debugf("[Session] Created %s", dir)
	return &Session{ID: id, Dir: dir}, nil
}

// Path returns the absolute path of name inside the session.
func (s *Session) Path(name string) string {
	return filepath.Join(s.Dir, name)
}

// Close removes the session directory. It is safe to call more than once.
func (s *Session) Close() error {
	s.once.Do(func() {
		s.err = os.RemoveAll(s.Dir)
		if s.err != nil {
			log.Warnf("[Session] Failed to remove %s: %v", s.Dir, s.err)
		} else {
			log.Debugf("[Session] Removed %s", s.Dir)
		}
	})
	return s.err
}
