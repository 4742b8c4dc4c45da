package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/matchlog/matchlog-go/internal/errors"
	"github.com/matchlog/matchlog-go/internal/models"
)

// envelope is the response shape for every /api route.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (s *Server) respondData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		s.log.Error("failed to write response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperrors.Is(err, apperrors.ErrValidation), apperrors.Is(err, apperrors.ErrInvalid):
		status = http.StatusBadRequest
	case apperrors.Is(err, apperrors.ErrNotFound):
		status = http.StatusNotFound
	case apperrors.Is(err, apperrors.ErrQuotaExceeded):
		status = http.StatusInsufficientStorage
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: false, Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondData(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleCreateEvent stores the event locally as pending and queues the
// create for the next drain. The caller gets the cached copy back
// immediately so the UI can render without waiting for the backend.
func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var e models.CachedEvent
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		s.respondError(w, apperrors.Wrap(apperrors.ErrValidation, "malformed event body", err))
		return
	}
	if e.ID == "" {
		e.ID = models.UUID(uuid.NewString())
	}
	e.SyncState = models.SyncStatePending

	if err := s.cache.Put(r.Context(), &e); err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.enqueue(r, models.OpCreate, models.EntityEvent, e.ID.String(), &e); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondData(w, http.StatusCreated, &e)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	e, err := s.cache.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	if e == nil {
		s.respondError(w, apperrors.New(apperrors.ErrNotFound, "event not found"))
		return
	}
	s.respondData(w, http.StatusOK, e)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.respondError(w, apperrors.New(apperrors.ErrValidation, "user_id is required"))
		return
	}

	if typeName := r.URL.Query().Get("type"); typeName != "" {
		t, err := models.ParseEventType(typeName)
		if err != nil {
			s.respondError(w, apperrors.Wrap(apperrors.ErrValidation, "bad type filter", err))
			return
		}
		events, err := s.cache.ListByUserAndType(r.Context(), userID, t)
		if err != nil {
			s.respondError(w, err)
			return
		}
		s.respondData(w, http.StatusOK, events)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.respondError(w, apperrors.New(apperrors.ErrValidation, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	events, err := s.cache.ListByUser(r.Context(), userID, limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondData(w, http.StatusOK, events)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := s.cache.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if existing == nil {
		s.respondError(w, apperrors.New(apperrors.ErrNotFound, "event not found"))
		return
	}

	var e models.CachedEvent
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		s.respondError(w, apperrors.Wrap(apperrors.ErrValidation, "malformed event body", err))
		return
	}
	e.ID = models.UUID(id)
	e.CreatedAt = existing.CreatedAt
	e.SyncState = models.SyncStatePending

	if err := s.cache.Put(r.Context(), &e); err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.enqueue(r, models.OpUpdate, models.EntityEvent, id, &e); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondData(w, http.StatusOK, &e)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := s.cache.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if existing == nil {
		s.respondError(w, apperrors.New(apperrors.ErrNotFound, "event not found"))
		return
	}

	if err := s.cache.Remove(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.enqueue(r, models.OpDelete, models.EntityEvent, id, nil); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondData(w, http.StatusOK, map[string]string{"id": id})
}

// enqueue records a mutation for the next drain and republishes the queue
// depth. A nil body enqueues an empty payload.
func (s *Server) enqueue(r *http.Request, op models.Operation, et models.EntityType, id string, body interface{}) error {
	var payload json.RawMessage
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInternal, "failed to encode queue payload", err)
		}
		payload = raw
	}
	if _, err := s.queue.Enqueue(r.Context(), op, et, id, payload); err != nil {
		return err
	}
	s.refreshPending()
	return nil
}

func (s *Server) handleGetVenue(w http.ResponseWriter, r *http.Request) {
	v, err := s.cache.GetVenue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	if v == nil {
		s.respondError(w, apperrors.New(apperrors.ErrNotFound, "venue not found"))
		return
	}
	s.respondData(w, http.StatusOK, v)
}

func (s *Server) handleSearchVenues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		s.respondError(w, apperrors.New(apperrors.ErrValidation, "q is required"))
		return
	}
	venues, err := s.cache.SearchVenues(r.Context(), q)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondData(w, http.StatusOK, venues)
}

// handleSyncStatus reports the queue depth plus per-item attempt and
// last-error detail so the UI can show which mutations are stuck.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	items, err := s.queue.List(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}

	status := map[string]interface{}{
		"pending": len(items),
		"items":   items,
	}
	if s.sched != nil {
		status["online"] = s.sched.IsOnline()
		if last := s.sched.LastRun(); !last.IsZero() {
			status["last_run"] = last.UTC().Format(time.RFC3339)
		}
	}
	s.respondData(w, http.StatusOK, status)
}

func (s *Server) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		s.respondError(w, apperrors.New(apperrors.ErrInternal, "sync scheduler not available"))
		return
	}
	s.sched.RunNow()
	s.respondData(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

func (s *Server) handleSyncQueueClear(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Clear(r.Context()); err != nil {
		s.respondError(w, err)
		return
	}
	s.refreshPending()
	s.respondData(w, http.StatusOK, map[string]string{"status": "cleared"})
}
