package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the externally visible progress events of a run.
type EventType string

const (
	EventAgentStart           EventType = "agent_start"
	EventRoundStart           EventType = "round_start"
	EventReasoningStart       EventType = "reasoning_start"
	EventReasoningChunk       EventType = "reasoning_chunk"
	EventReasoningComplete    EventType = "reasoning_complete"
	EventSegmentationStart    EventType = "segmentation_start"
	EventSegmentationComplete EventType = "segmentation_complete"
	EventAgentComplete        EventType = "agent_complete"
	EventError                EventType = "error"
)

// Terminal reports whether the event type ends a run's event sequence.
func (t EventType) Terminal() bool { return t == EventAgentComplete || t == EventError }

// Event is one ordered record of a run's progress. After emission it should
// be treated as immutable. Seq is assigned by the emitter and is strictly
// increasing within a run starting at 1.
type Event struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Seq       int64     `json:"seq"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// NewEvent creates an event of the given type for a run.
func NewEvent(runID string, typ EventType, data any) Event {
	return Event{
		ID:        NewID(),
		RunID:     runID,
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// NewID generates a new unique identifier for runs and events.
func NewID() string { return uuid.NewString() }

// UnixSeconds returns the timestamp as fractional seconds since Unix epoch.
func (e Event) UnixSeconds() float64 { return float64(e.Timestamp.UnixNano()) / 1e9 }

// AgentStartData is the payload of agent_start.
type AgentStartData struct {
	Image     ImageRef `json:"image"`
	Phrase    string   `json:"phrase"`
	MaxRounds int      `json:"max_rounds"`
}

// RoundStartData is the payload of round_start.
type RoundStartData struct {
	Round int `json:"round"`
}

// ReasoningStartData is the payload of reasoning_start. Attempt starts at 0
// and grows with every corrective retry inside the same round.
type ReasoningStartData struct {
	Round   int `json:"round"`
	Attempt int `json:"attempt"`
}

// ReasoningChunkData carries the incremental and the cumulative text so a
// consumer can resynchronize after a missed chunk.
type ReasoningChunkData struct {
	Round   int    `json:"round"`
	Attempt int    `json:"attempt"`
	Delta   string `json:"delta"`
	Text    string `json:"text"`
}

// ReasoningCompleteData is the payload of reasoning_complete.
type ReasoningCompleteData struct {
	Round   int    `json:"round"`
	Attempt int    `json:"attempt"`
	Text    string `json:"text"`
	Tool    string `json:"tool,omitempty"`
}

// SegmentationStartData is the payload of segmentation_start.
type SegmentationStartData struct {
	Round  int    `json:"round"`
	Phrase string `json:"phrase"`
}

// SegmentationCompleteData is the payload of segmentation_complete.
type SegmentationCompleteData struct {
	Round       int               `json:"round"`
	Phrase      string            `json:"phrase"`
	Cached      bool              `json:"cached"`
	MaskIndices []int             `json:"mask_indices"`
	Scores      []float64         `json:"scores"`
	Artifacts   map[string]string `json:"artifacts,omitempty"`
}

// AgentCompleteData is the payload of agent_complete.
type AgentCompleteData struct {
	Status    RunStatus         `json:"status"`
	Rounds    int               `json:"rounds"`
	Final     MaskSet           `json:"final,omitempty"`
	Message   string            `json:"message,omitempty"`
	Artifacts map[string]string `json:"artifacts,omitempty"`
}

// ErrorData is the payload of error.
type ErrorData struct {
	Round   int       `json:"round,omitempty"`
	Status  RunStatus `json:"status"`
	Message string    `json:"message"`
}
