package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/httpserver/deps"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/httpserver/mw"
)

func init() { Register(registerEvents) }

// No request timeout: an event may run a full install.
func registerEvents(r chi.Router, d deps.Deps) {
	r.With(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger)).Post("/api/events/{event}", handlers.Event(d))
}
