package api

import (
	"net/http"

	"opsboard/internal/cache"
	"opsboard/internal/store"
	"opsboard/internal/telemetry"
)

// handleStats serves the board stats snapshot through the response cache.
// The cache key is derived from the normalized filter, so an owner-scoped
// request never collides with the global one.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	key := cache.Key("stats", map[string]string{"owner_id": ownerID})

	var stats store.BoardStats
	if s.cache != nil {
		hit, err := s.cache.Get(r.Context(), key, &stats)
		if err == nil && hit {
			telemetry.StatsCacheHits.Inc()
			writeJSON(w, http.StatusOK, stats)
			return
		}
	}
	telemetry.StatsCacheMisses.Inc()

	stats, err := s.store.ComputeStats(r.Context(), ownerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "compute stats failed", nil)
		return
	}

	if active, err := s.store.CountActive(r.Context()); err == nil {
		telemetry.OpenItemsGauge.Set(float64(active))
	}

	if s.cache != nil {
		_ = s.cache.Set(r.Context(), key, stats)
	}
	writeJSON(w, http.StatusOK, stats)
}
