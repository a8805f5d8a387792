package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/note-capture/note-capture/internal/infrastructure/sse"
)

// snapshotEvent is sent to each stream alone when it connects.
const snapshotEvent = "state_snapshot"

// stream relays bus events as server-sent events. ?types=a,b narrows the
// feed. The first message is always a state_snapshot.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}

	var topics []string
	for _, t := range strings.Split(r.URL.Query().Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	client := sse.NewClient(strings.TrimSpace(r.URL.Query().Get("client_id")), topics)
	s.sseHub.Register(client)
	defer s.sseHub.Unregister(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	s.logger.Debug().Str("client_id", client.ClientID).Strs("types", topics).Msg("stream opened")
	s.sendSnapshot(client.ClientID)

	ctx := r.Context()
	for {
		select {
		case msg, ok := <-client.MessageChan:
			if !ok || msg == nil {
				return
			}
			if _, err := msg.WriteTo(w); err != nil {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) sendSnapshot(clientID string) {
	data, err := json.Marshal(s.snapshot())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode state snapshot")
		return
	}
	err = s.sseHub.SendToClient(clientID, sse.NewMessage(snapshotEvent, data))
	switch {
	case errors.Is(err, sse.ErrClientNotFound):
		s.logger.Debug().Str("client_id", clientID).Msg("stream replaced before snapshot")
	case errors.Is(err, sse.ErrChannelFull):
		s.logger.Warn().Str("client_id", clientID).Msg("state snapshot dropped")
	}
}
