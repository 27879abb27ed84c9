// -----------------------------------------------------------------------
// Events handler - the live Server-Sent Events channel
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/models"
	"github.com/ternarybob/scriba/internal/services/auth"
	"github.com/ternarybob/scriba/internal/services/events"
)

type EventsHandler struct {
	broadcaster       *events.Broadcaster
	auth              *auth.Service
	heartbeatInterval time.Duration
	progressThrottle  time.Duration
	logger            arbor.ILogger
}

func NewEventsHandler(broadcaster *events.Broadcaster, authService *auth.Service, config *common.EventsConfig) *EventsHandler {
	heartbeat := common.Duration(config.HeartbeatInterval)
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	throttle := common.Duration(config.ProgressThrottle)
	if throttle <= 0 {
		throttle = 250 * time.Millisecond
	}
	return &EventsHandler{
		broadcaster:       broadcaster,
		auth:              authService,
		heartbeatInterval: heartbeat,
		progressThrottle:  throttle,
		logger:            common.GetLogger(),
	}
}

// StreamHandler opens the live channel: GET /api/events
//
// Browsers cannot set headers on an EventSource, so the token is accepted
// via the ?token= query parameter in addition to the Authorization header.
func (h *EventsHandler) StreamHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	claims := RequireClaims(w, r, h.auth)
	if claims == nil {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub := h.broadcaster.Subscribe(claims.EventScope())
	defer sub.Close()

	// The connected event must be first on the wire: its instance ID lets
	// reconnecting clients detect a server restart and rebase their state
	connected := models.Event{
		Type:      models.EventConnected,
		Payload:   models.ConnectedEventPayload{ServerInstanceID: h.broadcaster.InstanceID()},
		Timestamp: time.Now().UTC(),
	}
	if err := writeSSE(w, connected); err != nil {
		return
	}
	flusher.Flush()

	h.logger.Debug().
		Str("owner", claims.Owner).
		Bool("admin", claims.Admin).
		Msg("Live event channel opened")

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	// Progress events are high-frequency and each one carries full state,
	// so intermediate ones can be collapsed per connection
	progressLimiter := rate.NewLimiter(rate.Every(h.progressThrottle), 1)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, open := <-sub.Events():
			if !open {
				return
			}
			if isProgressEvent(event.Type) && !progressLimiter.Allow() {
				continue
			}
			if err := writeSSE(w, event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func isProgressEvent(eventType models.EventType) bool {
	return eventType == models.EventJobProgress || eventType == models.EventBatchProgress
}

func writeSSE(w http.ResponseWriter, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
