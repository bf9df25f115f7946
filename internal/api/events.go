package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/bobarin/stockreel/internal/db"
	"github.com/bobarin/stockreel/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are already enforced by the CORS middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RunEvents handles GET /v1/runs/{id}/events. It upgrades to a websocket
// and forwards the run's progress events as JSON text frames. The stream
// ends after run_completed or run_failed, or when the client goes away.
func (h *Handler) RunEvents(w http.ResponseWriter, r *http.Request) {
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

	// Subscribe before upgrading so a failure can still be reported as JSON.
	sub, err := h.queue.SubscribeEvents(r.Context(), runID)
	if err != nil {
		log.Printf("[API] Failed to subscribe to run %s: %v", runID, err)
		respondError(w, http.StatusInternalServerError, "Failed to subscribe to events")
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[API] Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// A run that already finished gets its terminal state and nothing more.
	if run.Status == models.RunStatusCompleted || run.Status == models.RunStatusFailed {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteJSON(terminalEvent(run))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return
	}

	// The reader only exists to process control frames and notice a close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("[API] Websocket read error: %v", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Type == models.EventRunCompleted || ev.Type == models.EventRunFailed {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func terminalEvent(run *models.Run) models.Event {
	ev := models.Event{
		RunID:    run.ID,
		Type:     models.EventRunCompleted,
		Progress: 1,
		Time:     run.UpdatedAt,
	}
	if run.Status == models.RunStatusFailed {
		ev.Type = models.EventRunFailed
		if run.ErrorMessage != nil {
			ev.Message = *run.ErrorMessage
		}
	}
	return ev
}
