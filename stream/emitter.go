// Package stream implements the Stream Emitter: an ordered, replayable,
// non-blocking sink of run events, and its Server-Sent Events framing.
package stream

import (
	"errors"
	"sync"

	"github.com/hupe1980/segmesh/core"
	"github.com/hupe1980/segmesh/logging"
)

// ErrClosed is returned by Emit once the stream ended.
var ErrClosed = errors.New("stream: emitter closed")

// Options configures an Emitter.
type Options struct {
	// Buffer is the capacity of the outbound channel. Events beyond it are
	// queued in memory, never dropped.
	Buffer int
	Logger logging.Logger
}

// Emitter delivers the events of one run in emission order. Emit never
// blocks: events are queued and a pump goroutine forwards them to the
// Events channel. The stream ends after the first terminal event
// (agent_complete or error) or Close; later events are rejected.
type Emitter struct {
	runID string
	opts  Options

	mu      sync.Mutex
	seq     int64
	queue   []core.Event
	history []core.Event
	closed  bool
	notify  chan struct{}

	out         chan core.Event
	done        chan struct{}
	discard     chan struct{}
	discardOnce sync.Once
}

var _ core.EventSink = (*Emitter)(nil)

// NewEmitter creates an Emitter for runID and starts its pump.
func NewEmitter(runID string, optFns ...func(o *Options)) *Emitter {
	opts := Options{Buffer: 64}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Buffer < 0 {
		opts.Buffer = 0
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	e := &Emitter{
		runID:   runID,
		opts:    opts,
		notify:  make(chan struct{}, 1),
		out:     make(chan core.Event, opts.Buffer),
		done:    make(chan struct{}),
		discard: make(chan struct{}),
	}
	go e.pump()

	return e
}

// Emit assigns the next sequence number and queues ev for delivery.
func (e *Emitter) Emit(ev core.Event) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.opts.Logger.Debug("event after stream end rejected", "run_id", e.runID, "type", string(ev.Type))
		return ErrClosed
	}

	e.seq++
	ev.Seq = e.seq
	if ev.RunID == "" {
		ev.RunID = e.runID
	}
	if ev.ID == "" {
		ev.ID = core.NewID()
	}
	e.queue = append(e.queue, ev)
	e.history = append(e.history, ev)
	if ev.Type.Terminal() {
		e.closed = true
	}
	e.mu.Unlock()

	e.signal()

	return nil
}

// Close ends the stream without a terminal event. Queued events are still
// delivered. Close is idempotent.
func (e *Emitter) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.signal()
}

// Discard abandons delivery: queued events are dropped and Events is
// closed. History is unaffected. Use it when the consumer went away.
func (e *Emitter) Discard() {
	e.Close()
	e.discardOnce.Do(func() { close(e.discard) })
}

// Events returns the outbound channel. It is closed after the last event.
func (e *Emitter) Events() <-chan core.Event { return e.out }

// Done is closed once the Events channel is closed.
func (e *Emitter) Done() <-chan struct{} { return e.done }

// Closed reports whether the stream accepts no more events.
func (e *Emitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// History returns a copy of every event emitted so far.
func (e *Emitter) History() []core.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]core.Event(nil), e.history...)
}

// Terminal returns the terminal event if one was emitted.
func (e *Emitter) Terminal() (core.Event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n := len(e.history); n > 0 && e.history[n-1].Type.Terminal() {
		return e.history[n-1], true
	}
	return core.Event{}, false
}

func (e *Emitter) signal() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

func (e *Emitter) pump() {
	defer close(e.done)
	defer close(e.out)

	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			closed := e.closed
			e.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-e.notify:
			case <-e.discard:
				return
			}
			continue
		}
		ev := e.queue[0]
		e.queue[0] = core.Event{}
		e.queue = e.queue[1:]
		e.mu.Unlock()

		select {
		case e.out <- ev:
		case <-e.discard:
			e.mu.Lock()
			e.queue = nil
			e.mu.Unlock()
			return
		}
	}
}
