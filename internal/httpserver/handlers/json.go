package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/httpserver/deps"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/logger"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, d deps.Deps, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		d.Logger.Debug("failed to write response", logger.Error(err))
	}
}

func writeError(w http.ResponseWriter, d deps.Deps, status int, err error) {
	writeJSON(w, d, status, errorResponse{Error: err.Error()})
}
