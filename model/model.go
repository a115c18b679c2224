package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hupe1980/segmesh/core"
)

// Request captures the normalized input of one reasoning call.
type Request struct {
	Contents    []core.Content `json:"contents"` // System prompt first, then the conversation
	Stream      bool           `json:"stream,omitempty"`
	Model       string         `json:"model,omitempty"`      // Overrides the adapter's model when set
	MaxTokens   int64          `json:"max_tokens,omitempty"` // Overrides the adapter's limit when > 0
	Temperature *float64       `json:"temperature,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model. Partial chunks
// carry only the new text; the final chunk carries the complete text.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"`
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", etc.
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name           string `json:"name"`
	Provider       string `json:"provider"` // "openai", "anthropic", "scripted", etc.
	SupportsImages bool   `json:"supports_images"`
}

// Model is the Reasoning Service. Generate streams zero or more partial
// responses followed by exactly one final response, or reports an error.
// Both channels are closed when generation ends.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Collect drains a Generate call. onDelta, when non-nil, receives every
// partial chunk's text. The final text is returned; if the model produced
// no final response the concatenated deltas are returned instead.
func Collect(ctx context.Context, m Model, req Request, onDelta func(delta string)) (string, error) {
	respCh, errCh := m.Generate(ctx, req)

	var (
		sb       strings.Builder
		final    string
		hasFinal bool
	)

	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			text := resp.Content.Text()
			if resp.Partial {
				if text == "" {
					continue
				}
				sb.WriteString(text)
				if onDelta != nil {
					onDelta(text)
				}
				continue
			}
			final, hasFinal = text, true
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return "", err
			}
		}
	}

	if hasFinal {
		return final, nil
	}

	return sb.String(), nil
}

// Step is one scripted reply of a ScriptedModel.
type Step struct {
	Text  string
	Err   error
	Delay time.Duration
}

// ScriptedModel replays a queue of replies, one per Generate call. It is
// useful for tests and examples. When the queue is exhausted the fallback
// reply (if any) is repeated, otherwise Generate fails.
type ScriptedModel struct {
	mu        sync.Mutex
	info      Info
	steps     []Step
	fallback  *Step
	chunkSize int
	requests  []Request
}

var _ Model = (*ScriptedModel)(nil)

// NewScriptedModel creates a ScriptedModel replying with texts in order.
func NewScriptedModel(texts ...string) *ScriptedModel {
	m := &ScriptedModel{
		info:      Info{Name: "scripted", Provider: "scripted", SupportsImages: true},
		chunkSize: 8,
	}
	for _, t := range texts {
		m.steps = append(m.steps, Step{Text: t})
	}
	return m
}

// Then appends a step (chainable).
func (m *ScriptedModel) Then(step Step) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step)
	return m
}

// Repeat sets the reply used once the queue is exhausted (chainable).
func (m *ScriptedModel) Repeat(step Step) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &step
	return m
}

// WithChunkSize sets the streamed chunk length in runes (chainable).
func (m *ScriptedModel) WithChunkSize(n int) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > 0 {
		m.chunkSize = n
	}
	return m
}

// Requests returns a copy of the requests received so far.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Calls returns the number of Generate calls.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *ScriptedModel) next(req Request) (Step, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if len(m.steps) > 0 {
		s := m.steps[0]
		m.steps = m.steps[1:]
		return s, true
	}
	if m.fallback != nil {
		return *m.fallback, true
	}
	return Step{}, false
}

// Generate implements Model; emits chunked partials when streaming, then the
// final response.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	step, ok := m.next(req)

	go func() {
		defer close(respCh)
		defer close(errCh)

		if !ok {
			errCh <- fmt.Errorf("scripted model: no reply left")
			return
		}

		if step.Delay > 0 {
			t := time.NewTimer(step.Delay)
			defer t.Stop()
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case <-t.C:
			}
		}

		if step.Err != nil {
			errCh <- step.Err
			return
		}

		if req.Stream {
			for _, chunk := range chunks(step.Text, m.chunkSize) {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Content: core.NewTextContent(core.RoleAssistant, chunk)}:
				}
			}
		}

		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Response{
			Content:      core.NewTextContent(core.RoleAssistant, step.Text),
			FinishReason: "stop",
		}:
		}
	}()

	return respCh, errCh
}

// Info implements Model interface.
func (m *ScriptedModel) Info() Info { return m.info }

func chunks(s string, size int) []string {
	var out []string
	for len(s) > 0 {
		n, i := 0, 0
		for i < len(s) && n < size {
			_, w := utf8.DecodeRuneInString(s[i:])
			i += w
			n++
		}
		out = append(out, s[:i])
		s = s[i:]
	}
	return out
}
