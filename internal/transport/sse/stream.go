package sse

import (
	"bufio"
	"fmt"
	"time"

	"browsermcp/internal/infra/logging"
)

// MessagesPath is the endpoint announced to clients in the first event.
const MessagesPath = "/messages"

func EndpointURL(sessionID string) string {
	return MessagesPath + "?session_id=" + sessionID
}

func writeEvent(w *bufio.Writer, event string, data []byte) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return w.Flush()
}

func writeComment(w *bufio.Writer, text string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", text); err != nil {
		return err
	}
	return w.Flush()
}

// Stream writes the endpoint event, then queued messages and keepalive
// comments until the session closes or a write fails. The session is removed
// from the registry before Stream returns.
func (r *Registry) Stream(w *bufio.Writer, s *Session) {
	defer r.Remove(s.ID)

	if err := writeEvent(w, "endpoint", []byte(EndpointURL(s.ID))); err != nil {
		logging.Debug("sse endpoint write failed", "session_id", s.ID, "error", err)
		return
	}

	ticker := time.NewTicker(r.opts.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.Done():
			return
		case msg := <-s.Outbound():
			if err := writeEvent(w, "message", msg); err != nil {
				logging.Info("sse client went away", "session_id", s.ID, "error", err)
				return
			}
			s.Touch()
		case <-ticker.C:
			if err := writeComment(w, "ping"); err != nil {
				logging.Info("sse client went away", "session_id", s.ID, "error", err)
				return
			}
			r.keepalive(s)
		}
	}
}
