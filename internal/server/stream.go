package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayusman/palmreader/internal/capture"
)

// Previewer supplies the latest annotated camera frame as JPEG.
type Previewer interface {
	Preview() []byte
}

// StreamHandler serves the session's live preview as MJPEG.
type StreamHandler struct {
	source   Previewer
	interval time.Duration
}

// NewStreamHandler creates a StreamHandler polling source at fps.
func NewStreamHandler(source Previewer, fps int) *StreamHandler {
	if fps <= 0 {
		fps = capture.DefaultFPS
	}
	return &StreamHandler{source: source, interval: time.Second / time.Duration(fps)}
}

// ServeHTTP streams MJPEG frames while the camera is showing. Between
// sessions the connection stays open and idle.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var last []byte
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		frame := h.source.Preview()
		if len(frame) == 0 || sameFrame(frame, last) {
			continue
		}
		last = frame

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(frame))
		if _, err := w.Write(frame); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

// sameFrame reports whether a and b are the same published buffer.
// Previews are replaced, never mutated, so identity is enough.
func sameFrame(a, b []byte) bool {
	return len(a) == len(b) && len(a) > 0 && &a[0] == &b[0]
}
