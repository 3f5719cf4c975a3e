package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aristath/tradeagent/internal/events"
	"github.com/rs/zerolog"
)

// heartbeatInterval keeps idle SSE connections open through proxies
var heartbeatInterval = 30 * time.Second

// EventsStreamHandler streams agent events as Server-Sent Events
type EventsStreamHandler struct {
	manager *events.Manager
	log     zerolog.Logger
}

// NewEventsStreamHandler creates a new events stream handler
func NewEventsStreamHandler(manager *events.Manager, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		manager: manager,
		log:     log.With().Str("component", "events_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/events/stream. ?types=market,report limits the stream.
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var allowed map[events.EventType]bool
	if filter := r.URL.Query().Get("types"); filter != "" {
		allowed = make(map[events.EventType]bool)
		for _, t := range strings.Split(filter, ",") {
			allowed[events.EventType(strings.TrimSpace(t))] = true
		}
	}

	eventChan := make(chan *events.Event, 100)
	unsubscribe := h.manager.Subscribe(func(event *events.Event) {
		if allowed != nil && !allowed[event.Type] {
			return
		}
		select {
		case eventChan <- event:
		default:
			h.log.Warn().Str("event_type", string(event.Type)).Msg("Event channel full, dropping event")
		}
	})
	defer unsubscribe()

	h.log.Info().Int("subscribers", h.manager.SubscriberCount()).Msg("Client connected to event stream")

	h.write(w, map[string]interface{}{
		"type":    "connected",
		"message": "Connected to event stream",
	})
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.log.Info().Msg("Client disconnected from event stream")
			return

		case event := <-eventChan:
			h.write(w, map[string]interface{}{
				"type":      string(event.Type),
				"module":    event.Module,
				"timestamp": event.Timestamp.Format(time.RFC3339),
				"data":      event.Data,
			})
			flusher.Flush()

		case <-heartbeat.C:
			h.write(w, map[string]interface{}{
				"type":      "heartbeat",
				"timestamp": time.Now().Format(time.RFC3339),
			})
			flusher.Flush()
		}
	}
}

func (h *EventsStreamHandler) write(w http.ResponseWriter, event map[string]interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal event")
		data = []byte(`{"error":"failed to encode event"}`)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
