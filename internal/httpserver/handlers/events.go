package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/engine"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/httpserver/deps"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/logger"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/relation"
)

const maxEventBody = 64 << 10

type eventResponse struct {
	ID    string       `json:"id"`
	Event string       `json:"event"`
	Flags engine.Flags `json:"flags"`
}

// Event dispatches the lifecycle event named in the path. db-available and
// amqp-available take the peer's data as a JSON body.
func Event(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, err := engine.ParseKind(chi.URLParam(r, "event"))
		if err != nil {
			writeError(w, d, http.StatusNotFound, err)
			return
		}

		ev := engine.NewEvent(kind)
		if err := decodeDescriptor(r, &ev); err != nil {
			writeError(w, d, http.StatusBadRequest, err)
			return
		}

		d.Logger.Info("event received via endpoint",
			logger.String("event", string(kind)),
			logger.String("event_id", ev.ID.String()),
			logger.String("remote_ip", r.RemoteAddr))

		// Installs and restarts run to completion even if the client goes away.
		ctx := context.WithoutCancel(r.Context())
		if err := d.Dispatcher.Dispatch(ctx, ev); err != nil {
			writeError(w, d, http.StatusInternalServerError, err)
			return
		}

		flags, err := d.Dispatcher.Flags(ctx)
		if err != nil {
			writeError(w, d, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, d, http.StatusOK, eventResponse{ID: ev.ID.String(), Event: string(kind), Flags: flags})
	}
}

func decodeDescriptor(r *http.Request, ev *engine.Event) error {
	var target any
	switch ev.Kind {
	case engine.DatabaseAvailable:
		ev.Database = &relation.DatabaseDescriptor{}
		target = ev.Database
	case engine.BrokerAvailable:
		ev.Broker = &relation.BrokerDescriptor{}
		target = ev.Broker
	default:
		return nil
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, maxEventBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%s requires a JSON body", ev.Kind)
		}
		return fmt.Errorf("invalid %s body: %w", ev.Kind, err)
	}
	return nil
}
