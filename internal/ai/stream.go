package ai

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/showrunhq/showrun-agent/internal/wire"
)

// eventStream writes one JSON-encoded wire event per line and flushes after
// every frame so the client sees events as they happen, not on buffer fill.
type eventStream struct {
	mu sync.Mutex
	w  io.Writer
	f  http.Flusher
}

func newEventStream(w io.Writer) *eventStream {
	s := &eventStream{w: w}
	if f, ok := w.(http.Flusher); ok {
		s.f = f
	}
	return s
}

func (s *eventStream) emit(e wire.Event) error {
	if s == nil || s.w == nil {
		return errors.New("stream not ready")
	}

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.Write(b); err != nil {
		return err
	}
	if _, err := s.w.Write([]byte{'\n'}); err != nil {
		return err
	}
	if s.f != nil {
		s.f.Flush()
	}
	return nil
}
