package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/helparoservices-sys/helparo-dispatch/internal/event"
)

// EventSource hands out event-stream subscriptions.
type EventSource interface {
	Subscribe() *event.Subscriber
}

const heartbeatInterval = 25 * time.Second

// HandleEvents streams dispatch events over server-sent events. Clients
// use it to retract notification cards the moment a job is taken and to
// follow live tracking states.
func HandleEvents(src EventSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, codeInternalError, "streaming unsupported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		sub := src.Subscribe()
		defer sub.Close()

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-heartbeat.C:
				// Comment line keeps proxies from idling the connection.
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case ev, open := <-sub.C:
				if !open {
					return
				}
				payload, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, payload); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
