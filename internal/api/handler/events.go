package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/neonwatty/meme-search-sub002/internal/api/response"
	"github.com/neonwatty/meme-search-sub002/internal/broadcast"
)

// heartbeatInterval keeps idle SSE connections from being reaped by
// intermediate proxies.
const heartbeatInterval = 30 * time.Second

// NewEventsHandler returns the SSE handler for GET /api/v1/events. Every
// connection gets the bulk progress stream; passing ?image_id= adds that
// image's topic. There is no replay: reconnecting clients re-read current
// state through the synchronous endpoints first.
func NewEventsHandler(sub broadcast.Subscriber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			response.Error(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED",
				"Response writer does not support streaming", nil)
			return
		}

		topics := []string{broadcast.BulkProgressTopic}
		if raw := r.URL.Query().Get("image_id"); raw != "" {
			imageID, err := uuid.Parse(raw)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"image_id must be a valid UUID", nil)
				return
			}
			topics = append(topics, broadcast.ImageTopic(imageID))
		}

		messages, err := sub.Subscribe(r.Context(), topics...)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "SUBSCRIBE_FAILED",
				"Could not subscribe to the event stream", nil)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-heartbeat.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			case msg, open := <-messages:
				if !open {
					return
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Topic, msg.Payload)
				flusher.Flush()
			}
		}
	}
}
