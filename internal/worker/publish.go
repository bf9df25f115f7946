package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bobarin/stockreel/internal/assets"
	"github.com/bobarin/stockreel/internal/models"
	"github.com/bobarin/stockreel/internal/pipeline"
	"github.com/bobarin/stockreel/internal/storage"
)

// publisher is the service-side renderer: instead of encoding a video it
// uploads every prepared clip and the mixed track, then uploads a
// manifest.json describing them for an external renderer. Flat-colour
// clips stay descriptions in the manifest.
type publisher struct {
	w       *Worker
	runID   uuid.UUID
	session *assets.Session
	res     models.Resolution
	fps     int

	mu        sync.Mutex
	clipPaths map[int]string // segment index -> storage path
	audioPath string
}

var _ pipeline.Renderer = (*publisher)(nil)

func newPublisher(w *Worker, runID uuid.UUID, session *assets.Session, res models.Resolution, fps int) *publisher {
	return &publisher{
		w:         w,
		runID:     runID,
		session:   session,
		res:       res,
		fps:       fps,
		clipPaths: make(map[int]string),
	}
}

// Render returns the storage path of the uploaded manifest.
func (p *publisher) Render(ctx context.Context, clips []models.PreparedClip, audio models.MixedAudioTrack) (string, error) {
	if len(clips) == 0 {
		return "", fmt.Errorf("no clips to publish")
	}

	published := make([]models.PreparedClip, len(clips))
	copy(published, clips)

	g, gctx := errgroup.WithContext(ctx)
	for i := range published {
		c := &published[i]
		if c.IsSolid() {
			continue
		}
		local := c.Path
		dest := storage.RunPath(p.runID, fmt.Sprintf("clip_%04d%s", c.Index, filepath.Ext(local)))
		index := c.Index
		g.Go(func() error {
			if err := p.upload(gctx, dest, local); err != nil {
				return fmt.Errorf("upload clip %d: %w", index, err)
			}
			p.mu.Lock()
			p.clipPaths[index] = dest
			p.mu.Unlock()
			return nil
		})
		c.Path = dest
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	audioDest := storage.RunPath(p.runID, "audio"+filepath.Ext(audio.Path))
	if err := p.upload(ctx, audioDest, audio.Path); err != nil {
		return "", fmt.Errorf("upload audio: %w", err)
	}
	p.mu.Lock()
	p.audioPath = audioDest
	p.mu.Unlock()
	audio.Path = audioDest

	manifest := pipeline.NewManifest(p.runID.String(), p.res, p.fps, published, audio)
	local := p.session.Path("manifest.json")
	if err := manifest.WriteFile(local); err != nil {
		return "", err
	}
	manifestDest := storage.RunPath(p.runID, "manifest.json")
	if err := p.upload(ctx, manifestDest, local); err != nil {
		return "", fmt.Errorf("upload manifest: %w", err)
	}

	log.Printf("[Publish] Run %s: %d clips, audio and manifest uploaded", p.runID, len(p.clipPaths))
	return manifestDest, nil
}

func (p *publisher) upload(ctx context.Context, dest, local string) error {
	return p.w.uploadWithLimit(ctx, filepath.Base(dest), func() error {
		return p.w.storage.UploadFile(ctx, dest, local, storage.ContentType(dest))
	})
}

// runClips turns prepared clips into database rows, pointing uploaded clips
// at their storage paths.
func (p *publisher) runClips(runID uuid.UUID, segments []models.Segment, clips []models.PreparedClip) []models.RunClip {
	texts := make(map[int]string, len(segments))
	for _, s := range segments {
		texts[s.Index] = s.Text
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]models.RunClip, len(clips))
	for i, c := range clips {
		rc := models.RunClip{
			RunID:        runID,
			SegmentIndex: c.Index,
			Kind:         c.Kind,
			Text:         texts[c.Index],
			DurationMs:   int(c.Duration * 1000),
			Fallback:     c.Fallback,
			Query:        optional(c.Query),
			SourceURL:    optional(c.SourceURL),
			Provider:     optional(c.Provider),
		}
		if sp, ok := p.clipPaths[c.Index]; ok {
			rc.StoragePath = &sp
		}
		if c.Color != nil {
			hex := c.Color.Hex()
			rc.Color = &hex
		}
		out[i] = rc
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
