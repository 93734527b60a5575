package server

import (
	"encoding/json"
	"net/http"

	"github.com/oxbow-systems/sluice/types"
)

// handleEvents streams pipeline progress events over SSE until the client
// disconnects or the upstream subscription closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, types.NewAPIError(http.StatusInternalServerError,
			types.CodeDBUnavailable, "streaming unsupported"))
		return
	}

	ch, err := s.events.Subscribe(r.Context())
	if err != nil {
		writeError(w, types.NewAPIError(http.StatusServiceUnavailable,
			types.CodeDBUnavailable, "event stream unavailable"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			body, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(body); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
