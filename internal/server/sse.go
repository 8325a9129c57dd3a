package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// heartbeatInterval keeps idle proxies from closing the stream.
const heartbeatInterval = 30 * time.Second

var errNoStreaming = errors.New("response writer does not support streaming")

// sseStream writes Server-Sent Events, numbering them from 1.
type sseStream struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	lastID uint64
}

func newSSEStream(w http.ResponseWriter) (*sseStream, error) {
	if _, ok := w.(http.Flusher); !ok {
		return nil, errNoStreaming
	}
	return &sseStream{w: w, rc: http.NewResponseController(w)}, nil
}

func (s *sseStream) open() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
}

// send writes one event. data is written verbatim when it is already JSON.
func (s *sseStream) send(eventType string, data any) error {
	payload, ok := data.(json.RawMessage)
	if !ok {
		var err error
		if payload, err = json.Marshal(data); err != nil {
			return err
		}
	}
	s.lastID++
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", s.lastID, eventType, payload); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseStream) heartbeat() error {
	if _, err := fmt.Fprint(s.w, ": heartbeat\n\n"); err != nil {
		return err
	}
	return s.rc.Flush()
}

// events streams bus events to the client until it disconnects. The first
// event is server.connected. Order between bus events is not guaranteed.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, unavailable("event stream not configured"))
		return
	}
	stream, err := newSSEStream(w)
	if err != nil {
		writeError(w, err)
		return
	}
	events, err := s.bus.Stream(r.Context())
	if err != nil {
		writeError(w, unavailable("event stream: %v", err))
		return
	}

	stream.open()
	if err := stream.send("server.connected", map[string]any{}); err != nil {
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := stream.send(string(e.Type), e.Data); err != nil {
				s.log.Debug().Err(err).Msg("sse client gone")
				return
			}
		case <-ticker.C:
			if err := stream.heartbeat(); err != nil {
				return
			}
		}
	}
}
