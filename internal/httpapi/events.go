package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const eventKeepAlive = 15 * time.Second

// handleShiftEvents streams committed changes of one shift as server-sent
// events until the client goes away.
func (a *API) handleShiftEvents(w http.ResponseWriter, r *http.Request, shiftID string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	if _, err := a.service.GetShift(r.Context(), shiftID); err != nil {
		writeServiceError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	events, cancel, err := a.service.Feed().Subscribe(r.Context(), shiftID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer cancel()

	// The server write timeout would otherwise cut the stream.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": subscribed\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(eventKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				log.Warn().Err(err).Str("shift_id", shiftID).Msg("encode shift event")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Action, payload)
			flusher.Flush()
		}
	}
}
