package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/timeledger/internal/journal"
)

const keepAliveInterval = 30 * time.Second

// handleReviewEvents streams the review document of a day as server-sent
// events: one "review" event now and one after every change. An absent
// document is sent as null. Only the newest pending snapshot is kept when
// the client reads slower than the document changes.
func handleReviewEvents(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := chi.URLParam(r, "date")
		if err := journal.CheckDate(date); err != nil {
			writeError(w, err)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		updates := make(chan *journal.ReviewDoc, 1)
		failures := make(chan error, 1)
		stop := deps.Service.Reviews.Subscribe(r.Context(), deps.UID, date, func(doc *journal.ReviewDoc, err error) {
			if err != nil {
				select {
				case failures <- err:
				default:
				}
				return
			}
			select {
			case <-updates:
			default:
			}
			updates <- doc
		})
		defer stop()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case doc := <-updates:
				b, err := json.Marshal(doc)
				if err != nil {
					slog.Error("encoding review event", "error", err)
					return
				}
				fmt.Fprintf(w, "event: review\ndata: %s\n\n", b)
				flusher.Flush()
			case err := <-failures:
				slog.Warn("review subscription failed", "date", date, "error", err)
				payload, _ := json.Marshal(map[string]any{
					"error": map[string]any{
						"message": "subscription failed",
						"type":    "server_error",
					},
				})
				fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
				flusher.Flush()
				return
			case <-ticker.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}
