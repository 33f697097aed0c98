package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/httpserver/deps"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/logger"
)

type readyzResponse struct {
	Ready bool   `json:"ready"`
	Redis string `json:"redis"`
}

// Readyz is ready once the state store answers.
func Readyz(d deps.Deps) http.HandlerFunc {
	timeout := d.PingTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		if err := d.State.Ping(ctx); err != nil {
			d.Logger.Warn("readiness probe failed", logger.Error(err))
			writeJSON(w, d, http.StatusServiceUnavailable, readyzResponse{Ready: false, Redis: "unavailable"})
			return
		}
		writeJSON(w, d, http.StatusOK, readyzResponse{Ready: true, Redis: "ok"})
	}
}
