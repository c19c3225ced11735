package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/perpcore/internal/domain"
)

// StreamReader reads the newest entries of a durable stream.
type StreamReader interface {
	StreamRecent(ctx context.Context, stream string, count int) ([]domain.StreamMessage, error)
}

// EventsHandler serves recent execution events from the event stream.
type EventsHandler struct {
	reader StreamReader
	stream string
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler reading stream.
func NewEventsHandler(reader StreamReader, stream string, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{reader: reader, stream: stream, logger: logHandler(logger, "events")}
}

type eventView struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// ListRecent returns the newest execution events, newest first.
// GET /api/events?count=50
func (h *EventsHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.reader.StreamRecent(r.Context(), h.stream, parseCount(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "read events failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	out := make([]eventView, 0, len(msgs))
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		out = append(out, eventView{ID: m.ID, Event: json.RawMessage(m.Payload)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}
