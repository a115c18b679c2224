package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hupe1980/segmesh/core"
)

const defaultHeartbeat = 25 * time.Second

// SSEWriter frames run events as Server-Sent Events.
type SSEWriter struct {
	w         io.Writer
	flush     func()
	heartbeat time.Duration
	mu        sync.Mutex
}

// NewSSEWriter sets the event-stream headers on w and returns a writer.
func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")

	var flushFn func()
	if f, ok := w.(http.Flusher); ok {
		flushFn = f.Flush
	}

	return &SSEWriter{
		w:         w,
		flush:     flushFn,
		heartbeat: defaultHeartbeat,
	}
}

// NewSSEWriterFrom wraps a plain io.Writer without headers or heartbeat.
func NewSSEWriterFrom(w io.Writer) *SSEWriter {
	return &SSEWriter{w: w}
}

// SetHeartbeat changes the keep-alive interval; <=0 disables it.
func (s *SSEWriter) SetHeartbeat(d time.Duration) {
	if d <= 0 {
		s.heartbeat = 0
		return
	}
	s.heartbeat = d
}

// Replay writes already emitted events, skipping those with Seq <= after.
// It returns the highest sequence number written.
func (s *SSEWriter) Replay(history []core.Event, after int64) (int64, error) {
	last := after
	for _, ev := range history {
		if ev.Seq <= after {
			continue
		}
		if err := s.Send(ev); err != nil {
			return last, err
		}
		last = ev.Seq
	}
	return last, nil
}

// StreamEvents copies events to the client until the channel closes or ctx
// is done. Events with Seq <= after are skipped.
func (s *SSEWriter) StreamEvents(ctx context.Context, events <-chan core.Event, after int64) error {
	if s == nil {
		return errors.New("stream: sse writer is nil")
	}

	var ticker *time.Ticker
	if s.heartbeat > 0 {
		ticker = time.NewTicker(s.heartbeat)
		defer ticker.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Seq <= after {
				continue
			}
			if err := s.Send(ev); err != nil {
				return err
			}
		case <-heartbeatChan(ticker):
			if err := s.sendHeartbeat(); err != nil {
				return err
			}
		}
	}
}

// Send writes a single event frame.
func (s *SSEWriter) Send(ev core.Event) error {
	if s == nil {
		return errors.New("stream: sse writer is nil")
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("stream: marshal SSE payload: %w", err)
	}

	frame := fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, body)

	return s.write([]byte(frame))
}

func (s *SSEWriter) sendHeartbeat() error {
	if s == nil || s.w == nil || s.heartbeat <= 0 {
		return nil
	}
	return s.write(fmt.Appendf(nil, ": ping %d\n\n", time.Now().Unix()))
}

func (s *SSEWriter) write(data []byte) error {
	if s == nil || s.w == nil {
		return errors.New("stream: sse writer not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.Write(data); err != nil {
		return err
	}
	if s.flush != nil {
		s.flush()
	}
	return nil
}

func heartbeatChan(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}
