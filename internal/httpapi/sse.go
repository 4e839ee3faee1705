package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bhangun/wayang-inference/internal/stream"
)

// sseEvent is what a per-capability chunk converter yields for one chunk:
// the JSON payload to write, whether the stream should end after it, and
// an error to surface (and stop on) instead of writing a payload.
type sseEvent struct {
	data     any
	terminal bool
	err      error
}

// streamSSE drains s, converting each chunk to an sseEvent via toEvent,
// and writes it as a Server-Sent Events frame. This generalizes the
// teacher's single-shape SSEWriter.StreamCompletion to any capability's
// chunk type via the toEvent conversion function.
func streamSSE[T any](c *gin.Context, s *stream.Stream[T], toEvent func(T) sseEvent) {
	w := c.Writer
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorChunk(c, fmt.Errorf("streaming not supported by this response writer"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := c.Request.Context()
	for {
		chunk, ok := s.Next(ctx)
		if !ok {
			fmt.Fprint(w, "data: [DONE]\n\n")
			flusher.Flush()
			return
		}

		ev := toEvent(chunk)
		if ev.err != nil {
			writeSSEJSON(w, errorResponse(ev.err.Error(), "inference_error", ""))
			flusher.Flush()
			return
		}

		writeSSEJSON(w, ev.data)
		flusher.Flush()

		if ev.terminal {
			fmt.Fprint(w, "data: [DONE]\n\n")
			flusher.Flush()
			return
		}
	}
}

func writeSSEJSON(w http.ResponseWriter, v any) {
	fmt.Fprint(w, "data: ")
	_ = json.NewEncoder(w).Encode(v)
	fmt.Fprint(w, "\n")
}
