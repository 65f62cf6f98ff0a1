package utils

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/political-reasoner/backend/internal/logger"
)

// SetupSSEHeaders prepares w for a Server-Sent Events stream.
func SetupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// SendSSEEvent writes one named event and flushes it.
func SendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		logger.Log.Warnf("[sse] failed to marshal %s event: %v", event, err)
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		logger.Log.Debugf("[sse] failed to write %s event: %v", event, err)
		return err
	}
	flusher.Flush()
	return nil
}
