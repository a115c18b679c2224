package testutil

import (
	"time"

	"github.com/hupe1980/segmesh/core"
)

// Drain reads events until the channel closes or the timeout elapses.
func Drain(ch <-chan core.Event, timeout time.Duration) []core.Event {
	var events []core.Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			return events
		}
	}
}

// Types returns the event types in order.
func Types(events []core.Event) []core.EventType {
	out := make([]core.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

// OfType filters events by type preserving order.
func OfType(events []core.Event, typ core.EventType) []core.Event {
	var out []core.Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// Rounds returns the round numbers of round_start events in order.
func Rounds(events []core.Event) []int {
	var out []int
	for _, ev := range OfType(events, core.EventRoundStart) {
		if d, ok := ev.Data.(core.RoundStartData); ok {
			out = append(out, d.Round)
		}
	}
	return out
}
