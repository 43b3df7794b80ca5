package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/narrative-engine/internal/services/events"
)

// EventsHandler handles Server-Sent Events (SSE) for live session updates
type EventsHandler struct {
	broadcaster *events.Broadcaster
	logger      *slog.Logger
	keepalive   time.Duration
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(broadcaster *events.Broadcaster, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		broadcaster: broadcaster,
		logger:      logger,
		keepalive:   30 * time.Second,
	}
}

// ServeHTTP streams session events
// GET /v1/events/sessions/{sessionID}
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.logger.Warn("Method not allowed for events endpoint",
			"method", r.Method,
			"path", r.URL.Path)
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Only GET is supported.")
		return
	}

	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) != 4 || pathParts[0] != "v1" || pathParts[1] != "events" || pathParts[2] != "sessions" {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid path. Expected /v1/events/sessions/{sessionID}")
		return
	}

	sessionID, err := uuid.Parse(pathParts[3])
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid session ID format.")
		return
	}

	if h.broadcaster == nil {
		writeError(w, h.logger, http.StatusServiceUnavailable, "Event streaming is not configured.")
		return
	}

	h.logger.Info("SSE connection established",
		"session_id", sessionID.String(),
		"remote_addr", r.RemoteAddr)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	pubsub := h.broadcaster.Subscribe(r.Context(), sessionID)
	defer func() {
		if err := pubsub.Close(); err != nil {
			h.logger.Error("Failed to close pubsub", "error", err)
		}
	}()

	// Wait for the subscription to be confirmed so nothing published after
	// the connected event is missed.
	if _, err := pubsub.Receive(r.Context()); err != nil {
		h.logger.Error("Failed to subscribe to session events", "error", err, "session_id", sessionID.String())
		writeError(w, h.logger, http.StatusServiceUnavailable, "Event stream unavailable.")
		return
	}

	msgChan := pubsub.Channel()

	keepaliveTicker := time.NewTicker(h.keepalive)
	defer keepaliveTicker.Stop()

	h.sendSSE(w, "connected", map[string]interface{}{
		"session_id": sessionID.String(),
		"message":    "Connected to event stream",
	})

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("SSE client disconnected",
				"session_id", sessionID.String())
			return

		case msg, ok := <-msgChan:
			if !ok {
				return
			}
			var event events.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				h.logger.Error("Failed to unmarshal event", "error", err, "payload", msg.Payload)
				continue
			}

			h.sendSSE(w, string(event.Type), event.Data)
			if event.Type == events.EventTypeSessionDeleted {
				return
			}

		case <-keepaliveTicker.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				h.logger.Error("Failed to write keepalive", "error", err)
				return
			}
			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}
		}
	}
}

// sendSSE sends a Server-Sent Event to the client
func (h *EventsHandler) sendSSE(w http.ResponseWriter, eventType string, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("Failed to marshal SSE data", "error", err)
		return
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, dataJSON); err != nil {
		h.logger.Error("Failed to write event", "error", err)
		return
	}

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
