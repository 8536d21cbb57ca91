package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/asrrelay/internal/api/response"
	"github.com/kiranshivaraju/asrrelay/internal/dispatch"
)

// Pinger is anything whose connectivity can be checked.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsSource reports orchestrator load.
type StatsSource interface {
	Stats() dispatch.Stats
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health.
// It checks database and cache connectivity.
func NewHealthHandler(db, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := cache.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}

// NewStatsHandler returns an http.HandlerFunc for GET /api/v1/admin/stats.
func NewStatsHandler(src StatsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, src.Stats())
	}
}
