package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/streamwatch/internal/poller"
	"github.com/JakeFAU/streamwatch/internal/progress"
)

const (
	defaultRecent      = 20
	maxRecent          = 200
	defaultEventsLimit = 100
	maxEventsLimit     = 500
	storeTimeout       = 5 * time.Second
)

func (s *Server) getQuota(w http.ResponseWriter, r *http.Request) {
	if s.deps.Quota == nil {
		s.writeError(w, http.StatusServiceUnavailable, "quota ledger unavailable")
		return
	}
	s.writeCacheable(w, r, map[string]any{"quota": s.deps.Quota.Stats()})
}

func (s *Server) resetQuota(w http.ResponseWriter, r *http.Request) {
	if s.deps.Quota == nil {
		s.writeError(w, http.StatusServiceUnavailable, "quota ledger unavailable")
		return
	}
	p := poller.Platform(chi.URLParam(r, "platform"))
	ledger, err := s.deps.Quota.For(p)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "unknown platform")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	if err := ledger.Reset(ctx); err != nil {
		s.logger.Error("quota reset failed", zap.String("platform", string(p)), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to persist reset")
		return
	}
	s.logger.Info("quota reset via API", zap.String("platform", string(p)), zap.String("request_id", requestID(r.Context())))
	s.writeJSON(w, http.StatusOK, map[string]any{"quota": ledger.Stats()})
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		s.writeError(w, http.StatusServiceUnavailable, "scheduler unavailable")
		return
	}
	s.writeCacheable(w, r, map[string]any{"schedules": s.deps.Scheduler.Status()})
}

func (s *Server) getEffectiveness(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil || s.deps.Learner == nil {
		s.writeError(w, http.StatusServiceUnavailable, "learner unavailable")
		return
	}
	id := chi.URLParam(r, "id")
	recent, err := parseLimit(r, "recent", defaultRecent, maxRecent)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	known := false
	for _, st := range s.deps.Scheduler.Status() {
		if st.ScheduleID == id {
			known = true
			break
		}
	}
	summary := s.deps.Learner.Summary(id, recent)
	if !known && summary.Attempts == 0 {
		s.writeError(w, http.StatusNotFound, "schedule not found")
		return
	}
	s.writeCacheable(w, r, summary)
}

func (s *Server) listSuggestions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil || s.deps.Learner == nil {
		s.writeError(w, http.StatusServiceUnavailable, "learner unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	defs, err := s.deps.Scheduler.Definitions(ctx)
	if err != nil {
		s.logger.Error("list schedule definitions failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list schedules")
		return
	}
	s.writeCacheable(w, r, map[string]any{"suggestions": s.deps.Learner.Suggestions(defs)})
}

func (s *Server) getCached(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		s.writeError(w, http.StatusServiceUnavailable, "cache unavailable")
		return
	}
	key := poller.CacheKey{
		Platform:    poller.Platform(chi.URLParam(r, "platform")),
		ContentType: chi.URLParam(r, "type"),
		Key:         chi.URLParam(r, "key"),
	}
	if !key.Platform.Valid() {
		s.writeError(w, http.StatusBadRequest, "unknown platform")
		return
	}
	entry, ok := s.deps.Cache.Get(key)
	if ok || s.scheduledChannel(key) {
		s.trackRead(key)
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "not cached")
		return
	}
	w.Header().Set("X-Cache-Expires-At", entry.ExpiresAt.UTC().Format(time.RFC3339))
	s.writeBody(w, r, "application/json", entry.Payload)
}

// trackRead feeds the prefetch predictor. Only hits and keys of configured
// schedules are tracked, so callers cannot steer prefetch to arbitrary ids.
func (s *Server) trackRead(key poller.CacheKey) {
	if s.deps.Tracker != nil && s.deps.Clock != nil {
		s.deps.Tracker.Record(key, s.deps.Clock.Now())
	}
}

func (s *Server) scheduledChannel(key poller.CacheKey) bool {
	if s.deps.Scheduler == nil {
		return false
	}
	for _, st := range s.deps.Scheduler.Status() {
		if st.Platform == key.Platform && st.ChannelID == key.Key {
			return true
		}
	}
	return false
}

func (s *Server) clearPlatformCache(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		s.writeError(w, http.StatusServiceUnavailable, "cache unavailable")
		return
	}
	p := poller.Platform(chi.URLParam(r, "platform"))
	if !p.Valid() {
		s.writeError(w, http.StatusBadRequest, "unknown platform")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	n, err := s.deps.Cache.ClearPlatform(ctx, p)
	if err != nil {
		s.logger.Warn("clear platform cache", zap.String("platform", string(p)), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to clear persisted cache")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"platform": p, "removed": n})
}

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		s.writeError(w, http.StatusServiceUnavailable, "cache unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	n, err := s.deps.Cache.ClearAll(ctx)
	if err != nil {
		s.logger.Warn("clear cache", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to clear persisted cache")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"removed": n})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		s.writeError(w, http.StatusServiceUnavailable, "event history unavailable")
		return
	}
	limit, err := parseLimit(r, "limit", defaultEventsLimit, maxEventsLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind := progress.Kind(strings.TrimSpace(r.URL.Query().Get("kind")))
	events := s.deps.Events.Recent(limit, kind)
	if events == nil {
		events = []progress.Event{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func parseLimit(r *http.Request, name string, def, maxVal int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New(name + " must be a positive integer")
	}
	return min(n, maxVal), nil
}
