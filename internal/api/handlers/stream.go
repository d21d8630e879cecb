package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/academia-ai/tutor/internal/domain/tutor"
)

// AskStream handles POST /api/v1/tutor/questions/stream. The answer arrives as
// server-sent events: sources, then token deltas, then one done or error frame.
func (h *TutorHandler) AskStream(w http.ResponseWriter, r *http.Request) {
	sess := callerSession(w, r, h.tutor)
	if sess == nil {
		return
	}
	var req questionRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	bw, flusher, err := prepareEventStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	streamEvents(bw, flusher, h.tutor.AnswerQuestionStream(r.Context(), sess, req.Question))
}

func prepareEventStream(w http.ResponseWriter) (*bufio.Writer, http.Flusher, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Flusher")
	}

	w.Header().Set(headerContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return bufio.NewWriter(w), flusher, nil
}

// streamEvents writes every event as a data frame. On a write failure the
// channel is still drained so the producer can finish.
func streamEvents(bw *bufio.Writer, flusher http.Flusher, events <-chan tutor.StreamEvent) {
	broken := false
	for ev := range events {
		if broken {
			continue
		}
		b, _ := json.Marshal(ev)
		if _, err := fmt.Fprintf(bw, "data: %s\n\n", b); err != nil {
			broken = true
			continue
		}
		if err := bw.Flush(); err != nil {
			broken = true
			continue
		}
		flusher.Flush()
	}
}
