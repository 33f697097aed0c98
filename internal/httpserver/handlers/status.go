package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/domain"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/engine"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/httpserver/deps"
)

type statusResponse struct {
	Status domain.Status `json:"status"`
	Flags  engine.Flags  `json:"flags"`
}

// Status returns the last reported workload status with the dispatcher flags.
func Status(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := d.State.GetStatus(r.Context())
		if err != nil {
			writeError(w, d, http.StatusServiceUnavailable, err)
			return
		}
		flags, err := d.Dispatcher.Flags(r.Context())
		if err != nil {
			writeError(w, d, http.StatusServiceUnavailable, err)
			return
		}
		writeJSON(w, d, http.StatusOK, statusResponse{Status: st, Flags: flags})
	}
}
