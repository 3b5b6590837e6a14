package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"boardnotify/internal/delivery"
)

// streamFrame is the SSE payload. Clients key on type; message carries the
// fired rule.
type streamFrame struct {
	Type    string         `json:"type"`
	Message delivery.Event `json:"message"`
}

// handleStream serves one device's notification stream over SSE. A second
// connection with the same device id displaces the first; clients that
// want parallel streams pass distinct device ids.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	deviceID := strings.TrimSpace(r.URL.Query().Get("device_id"))
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	ch := s.registry.Connect(p.UserID, deviceID)
	defer s.registry.Disconnect(p.UserID, deviceID, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log := s.log.With().Int64("user_id", p.UserID).Str("device_id", deviceID).Logger()
	log.Debug().Msg("stream connected")
	defer log.Debug().Msg("stream closed")

	for {
		ev, ok := ch.Receive(r.Context())
		if !ok {
			return
		}
		b, err := json.Marshal(streamFrame{Type: "notify", Message: ev})
		if err != nil {
			log.Error().Err(err).Msg("encode stream frame")
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			return
		}
		flusher.Flush()
	}
}
