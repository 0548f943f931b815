package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/devrev/replicawatch/internal/model"
)

// ErrStreamingUnsupported is returned when the response writer cannot flush
var ErrStreamingUnsupported = errors.New("streaming unsupported by response writer")

// WriteEvent encodes ev as one server-sent event ("data: <json>\n\n")
func WriteEvent(w io.Writer, ev model.Progress) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

// Stream writes every event of ch to w as server-sent events until the
// producer closes the channel. If ctx ends first, or a write fails, the
// consumer detaches and the remaining events are dropped by the producer.
func Stream(ctx context.Context, w http.ResponseWriter, ch *Channel) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		ch.Detach()
		return ErrStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			ch.Detach()
			return ctx.Err()
		case ev, ok := <-ch.Events():
			if !ok {
				return nil
			}
			if err := WriteEvent(w, ev); err != nil {
				ch.Detach()
				return err
			}
			flusher.Flush()
		}
	}
}
