package api

import (
	"fmt"
	"net/http"
	"strings"
)

// The Command Gateway buffers a dispatched process's full stdout/stderr
// before returning (the wall-clock timeout needs the process reaped, and
// the Output Shaper works on complete strings), so the streaming endpoint
// delivers each stream as one SSE frame plus a terminal done/error frame
// rather than relaying bytes as they arrive.

// maxFrameBytes caps a single SSE frame's payload. The gateway runs stdout
// through the Output Shaper only for the subcommands whose output it
// truncates, so this guards every other payload: stdout of the remaining
// subcommands, stderr and error details.
const maxFrameBytes = 1 << 20

// eventStream frames payloads as Server-Sent Events on a flushable
// ResponseWriter.
type eventStream struct {
	w http.ResponseWriter
	f http.Flusher
}

// newEventStream prepares w for SSE delivery. Returns false when the
// ResponseWriter cannot flush (no streaming through this proxy/recorder).
func newEventStream(w http.ResponseWriter) (*eventStream, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	return &eventStream{w: w, f: f}, true
}

// send writes one event frame and flushes it. Every line of a multi-line
// payload gets its own "data:" prefix — without that, a newline in
// command output would terminate the frame early and let output forge
// events of its own.
func (s *eventStream) send(event, payload string) {
	if len(payload) > maxFrameBytes {
		payload = payload[:maxFrameBytes]
	}

	fmt.Fprintf(s.w, "event: %s\n", event)
	for _, line := range strings.Split(payload, "\n") {
		fmt.Fprintf(s.w, "data: %s\n", line)
	}
	fmt.Fprint(s.w, "\n")
	s.f.Flush()
}

// sendError emits the terminal error frame.
func (s *eventStream) sendError(msg string) {
	s.send("error", msg)
}

// sendDone emits the terminal done frame carrying the exit code.
func (s *eventStream) sendDone(exitCode int) {
	s.send("done", fmt.Sprintf(`{"exit_code": %d}`, exitCode))
}
