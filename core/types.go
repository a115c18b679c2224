package core

import (
	"fmt"
	"sync"
	"time"
)

// ImageRef identifies the input image of a run. Key is resolved by an
// ImageLoader (upload key, filesystem path, object key or URL).
type ImageRef struct {
	Key      string `json:"key"`
	MimeType string `json:"mime_type,omitempty"`
}

// ReasoningConfig carries per-run overrides for the Reasoning Service.
type ReasoningConfig struct {
	Model       string  `json:"model,omitempty"`
	MaxTokens   int64   `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxRounds   int     `json:"max_rounds,omitempty"`
}

// Query is the immutable input of an AgentRun.
type Query struct {
	Image     ImageRef        `json:"image"`
	Phrase    string          `json:"phrase"`
	Reasoning ReasoningConfig `json:"reasoning"`
}

// Box is an axis aligned bounding box as [x, y, width, height] in pixels.
type Box [4]float64

// Verdict records the outcome of examine_each_mask for one mask.
type Verdict struct {
	Accepted  bool   `json:"accepted"`
	Rationale string `json:"rationale,omitempty"`
	Round     int    `json:"round"`
}

// Mask is one segmentation result owned by the run that produced it.
// Index is run-scoped and assigned when the mask enters the run's pool.
type Mask struct {
	Index   int      `json:"index"`
	RLE     string   `json:"rle"`
	Height  int      `json:"height"`
	Width   int      `json:"width"`
	Box     Box      `json:"box"`
	Score   float64  `json:"score"`
	Phrase  string   `json:"phrase"`
	Round   int      `json:"round"`
	Verdict *Verdict `json:"verdict,omitempty"`
}

// MaskSet is an ordered sequence of masks.
type MaskSet []Mask

// Indices returns the run-scoped indices of the set in order.
func (s MaskSet) Indices() []int {
	out := make([]int, len(s))
	for i, m := range s {
		out[i] = m.Index
	}
	return out
}

// Boxes returns the bounding boxes of the set in order.
func (s MaskSet) Boxes() []Box {
	out := make([]Box, len(s))
	for i, m := range s {
		out[i] = m.Box
	}
	return out
}

// RLEs returns the run-length encodings of the set in order.
func (s MaskSet) RLEs() []string {
	out := make([]string, len(s))
	for i, m := range s {
		out[i] = m.RLE
	}
	return out
}

// Scores returns the confidence scores of the set in order.
func (s MaskSet) Scores() []float64 {
	out := make([]float64, len(s))
	for i, m := range s {
		out[i] = m.Score
	}
	return out
}

// RoundStatus is the lifecycle state of a Round.
type RoundStatus string

const (
	RoundPending    RoundStatus = "pending"
	RoundReasoning  RoundStatus = "reasoning"
	RoundSegmenting RoundStatus = "segmenting"
	RoundComplete   RoundStatus = "complete"
	RoundFailed     RoundStatus = "failed"
)

func (s RoundStatus) rank() int {
	switch s {
	case RoundPending:
		return 0
	case RoundReasoning:
		return 1
	case RoundSegmenting:
		return 2
	case RoundComplete, RoundFailed:
		return 3
	default:
		return -1
	}
}

// Terminal reports whether no further transition is allowed.
func (s RoundStatus) Terminal() bool { return s == RoundComplete || s == RoundFailed }

// SegmentationCall records one segment_phrase execution inside a round.
type SegmentationCall struct {
	Phrase      string            `json:"phrase"`
	Cached      bool              `json:"cached"`
	MaskIndices []int             `json:"mask_indices"`
	Artifacts   map[string]string `json:"artifacts,omitempty"`
}

// Round is one reasoning-then-acting cycle of a run.
type Round struct {
	Index         int                `json:"index"`
	Status        RoundStatus        `json:"status"`
	Messages      []Content          `json:"messages,omitempty"`
	ToolName      string             `json:"tool_name,omitempty"`
	RawToolCall   string             `json:"raw_tool_call,omitempty"`
	Retries       int                `json:"retries"`
	Segmentations []SegmentationCall `json:"segmentations,omitempty"`
	Error         string             `json:"error,omitempty"`
	StartedAt     time.Time          `json:"started_at"`
	CompletedAt   time.Time          `json:"completed_at,omitempty"`
}

// RunStatus is the state of an AgentRun. Every value except RunRunning is terminal.
type RunStatus string

const (
	RunRunning    RunStatus = "running"
	RunSuccess    RunStatus = "success"
	RunNoMasks    RunStatus = "no_masks"
	RunIncomplete RunStatus = "incomplete"
	RunError      RunStatus = "error"
)

// Terminal reports whether the status ends a run.
func (s RunStatus) Terminal() bool { return s != RunRunning && s != "" }

// ErrRunFinished is returned when mutating a run whose terminal status is set.
var ErrRunFinished = fmt.Errorf("run already finished")

// AgentRun is the full record of one query execution. It is safe for
// concurrent reads via Snapshot while the orchestrator mutates it.
type AgentRun struct {
	mu sync.RWMutex

	ID         string            `json:"id"`
	Query      Query             `json:"query"`
	Status     RunStatus         `json:"status"`
	Rounds     []*Round          `json:"rounds"`
	Masks      MaskSet           `json:"masks"`
	Final      MaskSet           `json:"final,omitempty"`
	Message    string            `json:"message,omitempty"`
	Error      string            `json:"error,omitempty"`
	Artifacts  map[string]string `json:"artifacts,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at,omitempty"`
}

// NewAgentRun creates a running AgentRun for the query.
func NewAgentRun(id string, q Query) *AgentRun {
	return &AgentRun{
		ID:        id,
		Query:     q,
		Status:    RunRunning,
		Artifacts: map[string]string{},
		StartedAt: time.Now().UTC(),
	}
}

// StartRound appends the next round. Indices are contiguous starting at 1.
func (r *AgentRun) StartRound() (*Round, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Status.Terminal() {
		return nil, ErrRunFinished
	}

	rd := &Round{
		Index:     len(r.Rounds) + 1,
		Status:    RoundPending,
		StartedAt: time.Now().UTC(),
	}
	r.Rounds = append(r.Rounds, rd)

	return rd, nil
}

// Advance moves a round forward. Transitions are monotonic and a terminal
// round cannot change again.
func (r *AgentRun) Advance(rd *Round, to RoundStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rd.Status.Terminal() || to.rank() < rd.Status.rank() || to.rank() < 0 {
		return fmt.Errorf("invalid round transition %s -> %s", rd.Status, to)
	}

	rd.Status = to
	if to.Terminal() {
		rd.CompletedAt = time.Now().UTC()
	}

	return nil
}

// Update applies fn to a round under the run lock.
func (r *AgentRun) Update(rd *Round, fn func(*Round)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(rd)
}

// AddMasks assigns run-scoped indices to masks and appends them to the pool.
func (r *AgentRun) AddMasks(masks []Mask) MaskSet {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := make(MaskSet, len(masks))
	for i, m := range masks {
		m.Index = len(r.Masks)
		r.Masks = append(r.Masks, m)
		added[i] = m
	}

	return added
}

// Mask returns the mask with the run-scoped index.
func (r *AgentRun) Mask(index int) (Mask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if index < 0 || index >= len(r.Masks) {
		return Mask{}, &IndexOutOfRangeError{Index: index, Count: len(r.Masks)}
	}

	return r.Masks[index], nil
}

// MaskCount returns the number of masks produced so far.
func (r *AgentRun) MaskCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.Masks)
}

// SetVerdict records an examination verdict on a mask.
func (r *AgentRun) SetVerdict(index int, v Verdict) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if index < 0 || index >= len(r.Masks) {
		return &IndexOutOfRangeError{Index: index, Count: len(r.Masks)}
	}
	r.Masks[index].Verdict = &v

	return nil
}

// SetArtifact records an artifact reference under name.
func (r *AgentRun) SetArtifact(name, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Artifacts[name] = key
}

// Finish sets the terminal status exactly once. Final masks are only kept
// for RunSuccess.
func (r *AgentRun) Finish(status RunStatus, final MaskSet, message string, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Status.Terminal() {
		return ErrRunFinished
	}
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	r.Status = status
	r.Message = message
	if status == RunSuccess {
		r.Final = final
	}
	if err != nil {
		r.Error = err.Error()
	}
	r.FinishedAt = time.Now().UTC()

	return nil
}

// CurrentStatus returns the run status.
func (r *AgentRun) CurrentStatus() RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Status
}

// Snapshot returns a copy that is safe to read and serialize while the run
// continues.
func (r *AgentRun) Snapshot() *AgentRun {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cp := &AgentRun{
		ID:         r.ID,
		Query:      r.Query,
		Status:     r.Status,
		Rounds:     make([]*Round, len(r.Rounds)),
		Masks:      append(MaskSet(nil), r.Masks...),
		Final:      append(MaskSet(nil), r.Final...),
		Message:    r.Message,
		Error:      r.Error,
		Artifacts:  make(map[string]string, len(r.Artifacts)),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	for i, rd := range r.Rounds {
		c := *rd
		c.Messages = append([]Content(nil), rd.Messages...)
		c.Segmentations = append([]SegmentationCall(nil), rd.Segmentations...)
		cp.Rounds[i] = &c
	}
	for k, v := range r.Artifacts {
		cp.Artifacts[k] = v
	}

	return cp
}
