package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/bobarin/stockreel/internal/db"
	"github.com/bobarin/stockreel/internal/models"
	"github.com/bobarin/stockreel/internal/query"
	"github.com/bobarin/stockreel/internal/queue"
	"github.com/bobarin/stockreel/internal/services"
	"github.com/bobarin/stockreel/internal/storage"
)

// RunStore is the slice of the database the API needs.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]models.RunSummary, int, error)
	UpdateRunStatus(ctx context.Context, id uuid.UUID, status models.RunStatus, errorMessage *string) error
	GetRunClips(ctx context.Context, runID uuid.UUID) ([]models.RunClip, error)
}

// RunQueue hands runs to workers and streams their progress back.
type RunQueue interface {
	EnqueueBuildRun(ctx context.Context, runID uuid.UUID) error
	SubscribeEvents(ctx context.Context, runID uuid.UUID) (*queue.Subscription, error)
}

// Defaults fill in whatever a create request leaves out.
type Defaults struct {
	Resolution   string
	FPS          int
	Style        string
	MusicEnabled bool
	MusicSource  string
	MusicGain    float64
	Transcriber  string // "none" disables transcribe requests
}

var (
	_ RunStore = (*db.DB)(nil)
	_ RunQueue = (*queue.Queue)(nil)
)

type Handler struct {
	db       RunStore
	queue    RunQueue
	storage  storage.ObjectStore
	defaults Defaults
}

func NewHandler(database RunStore, q RunQueue, stor storage.ObjectStore, defaults Defaults) *Handler {
	return &Handler{
		db:       database,
		queue:    q,
		storage:  stor,
		defaults: defaults,
	}
}

// CreateRun handles POST /v1/runs
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	spec, err := h.buildSpec(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	run := &models.Run{
		ID:           uuid.New(),
		Status:       models.RunStatusQueued,
		Spec:         spec,
		SegmentCount: len(spec.Segments),
	}

	if err := h.db.CreateRun(r.Context(), run); err != nil {
		log.Printf("[API] Failed to create run: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to create run")
		return
	}

	if err := h.queue.EnqueueBuildRun(r.Context(), run.ID); err != nil {
		log.Printf("[API] Failed to enqueue run %s: %v", run.ID, err)
		msg := "failed to enqueue run"
		_ = h.db.UpdateRunStatus(r.Context(), run.ID, models.RunStatusFailed, &msg)
		respondError(w, http.StatusInternalServerError, "Failed to enqueue run")
		return
	}

	respondJSON(w, http.StatusCreated, models.CreateRunResponse{
		RunID:  run.ID,
		Status: run.Status,
	})
}

// buildSpec validates a create request and resolves its defaults.
func (h *Handler) buildSpec(req models.CreateRunRequest) (models.RunSpec, error) {
	var spec models.RunSpec

	if strings.TrimSpace(req.AudioStoragePath) == "" {
		return spec, errors.New("audio_storage_path is required")
	}
	spec.AudioStoragePath = strings.TrimSpace(req.AudioStoragePath)
	spec.Title = strings.TrimSpace(req.Title)

	sources := 0
	if len(req.Segments) > 0 {
		sources++
	}
	if req.Captions != nil {
		sources++
	}
	if req.Transcribe {
		sources++
	}
	switch {
	case sources == 0:
		return spec, errors.New("one of segments, captions or transcribe is required")
	case sources > 1:
		return spec, errors.New("segments, captions and transcribe are mutually exclusive")
	}

	switch {
	case len(req.Segments) > 0:
		segs := make([]models.Segment, len(req.Segments))
		for i, seg := range req.Segments {
			seg.Index = i
			seg.Text = services.CleanText(seg.Text)
			if err := seg.Validate(); err != nil {
				return spec, err
			}
			segs[i] = seg
		}
		spec.Segments = segs
	case req.Captions != nil:
		format := "srt"
		if req.CaptionsFormat != nil && *req.CaptionsFormat != "" {
			format = strings.ToLower(strings.TrimPrefix(*req.CaptionsFormat, "."))
		}
		segs, err := services.ParseCaptions("captions."+format, []byte(*req.Captions))
		if err != nil {
			return spec, err
		}
		spec.Segments = segs
	default:
		if h.defaults.Transcriber == "" || h.defaults.Transcriber == "none" {
			return spec, errors.New("transcription is not configured on this server")
		}
		spec.Transcribe = true
	}

	overrides, err := query.ParseOverrides(req.Overrides)
	if err != nil {
		return spec, err
	}
	if len(overrides) > 0 {
		spec.Overrides = overrides
	}

	resolution := h.defaults.Resolution
	if req.Resolution != nil {
		resolution = *req.Resolution
	}
	res, err := models.ParseResolution(resolution)
	if err != nil {
		return spec, err
	}
	spec.Width, spec.Height = res.Width, res.Height

	spec.FPS = h.defaults.FPS
	if req.FPS != nil {
		spec.FPS = *req.FPS
	}
	if spec.FPS <= 0 || spec.FPS > 120 {
		return spec, errors.New("fps must be between 1 and 120")
	}

	style := h.defaults.Style
	if req.Style != nil {
		style = *req.Style
	}
	spec.Style = query.NormalizeStyle(style)

	spec.BackgroundMusic = h.defaults.MusicEnabled
	if req.BackgroundMusic != nil {
		spec.BackgroundMusic = *req.BackgroundMusic
	}
	spec.MusicSource = h.defaults.MusicSource
	if req.MusicSource != nil {
		spec.MusicSource = strings.TrimSpace(*req.MusicSource)
	}
	spec.MusicGain = h.defaults.MusicGain
	if req.MusicGain != nil {
		spec.MusicGain = *req.MusicGain
	}
	if spec.MusicGain < 0 || spec.MusicGain > 1 {
		return spec, errors.New("music_gain must be within [0, 1]")
	}

	return spec, nil
}

// ListRuns handles GET /v1/runs
// Query params:
//   - limit:  max results per page (default 20, max 100)
//   - offset: number of results to skip (default 0)
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset := 0
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	runs, total, err := h.db.ListRuns(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []models.RunSummary{}
	}

	respondJSON(w, http.StatusOK, models.ListRunsResponse{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// GetRun handles GET /v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid run ID")
		return
	}

	run, err := h.db.GetRun(r.Context(), runID)
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Run not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	clips, err := h.db.GetRunClips(r.Context(), runID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get clips")
		return
	}

	response := models.RunResponse{
		Run:   *run,
		Clips: make([]models.RunClipResponse, len(clips)),
	}
	for i, clip := range clips {
		response.Clips[i] = models.RunClipResponse{RunClip: clip, ClipURL: h.publicURL(clip.StoragePath)}
	}
	response.ManifestURL = h.publicURL(run.ManifestPath)
	response.AudioURL = h.publicURL(run.AudioPath)

	respondJSON(w, http.StatusOK, response)
}

func (h *Handler) publicURL(path *string) *string {
	if path == nil || *path == "" || h.storage == nil {
		return nil
	}
	url := h.storage.GetPublicURL(*path)
	return &url
}

// ListStyles handles GET /v1/styles
func (h *Handler) ListStyles(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"styles":  query.Styles(),
		"default": query.NormalizeStyle(h.defaults.Style),
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
