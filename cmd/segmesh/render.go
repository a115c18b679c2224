package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/hupe1980/segmesh/core"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	roundStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("33"))

	reasoningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("75"))

	successStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10"))

	warningStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("208"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	actionSymbol  = toolStyle.SetString("▶").String()
	successSymbol = successStyle.SetString("✔").String()
	errorSymbol   = errorStyle.SetString("✗").String()
)

// eventRenderer prints run events to a terminal. In JSON mode every event
// is written as one line instead.
type eventRenderer struct {
	w        io.Writer
	json     bool
	midChunk bool
}

func newEventRenderer(w io.Writer, jsonLines bool) *eventRenderer {
	return &eventRenderer{w: w, json: jsonLines}
}

func (r *eventRenderer) Render(ev core.Event) error {
	if r.json {
		b, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(r.w, string(b))
		return err
	}

	if r.midChunk && ev.Type != core.EventReasoningChunk {
		fmt.Fprintln(r.w)
		r.midChunk = false
	}

	switch d := ev.Data.(type) {
	case core.AgentStartData:
		fmt.Fprintf(r.w, "%s %q on %s (max %d rounds)\n",
			headerStyle.Render("segmesh"), d.Phrase, d.Image.Key, d.MaxRounds)
	case core.RoundStartData:
		fmt.Fprintln(r.w, roundStyle.Render(fmt.Sprintf("── round %d", d.Round)))
	case core.ReasoningStartData:
		if d.Attempt > 0 {
			fmt.Fprintln(r.w, warningStyle.Render(fmt.Sprintf("retry %d", d.Attempt)))
		}
	case core.ReasoningChunkData:
		fmt.Fprint(r.w, reasoningStyle.Render(d.Delta))
		r.midChunk = true
	case core.ReasoningCompleteData:
		if d.Tool != "" {
			fmt.Fprintf(r.w, "%s %s\n", actionSymbol, toolStyle.Render(d.Tool))
		}
	case core.SegmentationStartData:
		fmt.Fprintf(r.w, "  segmenting %q\n", d.Phrase)
	case core.SegmentationCompleteData:
		cached := ""
		if d.Cached {
			cached = " (cached)"
		}
		fmt.Fprintf(r.w, "  %d mask(s) %v%s\n", len(d.MaskIndices), d.MaskIndices, cached)
	case core.AgentCompleteData:
		r.renderComplete(d)
	case core.ErrorData:
		fmt.Fprintf(r.w, "%s %s\n", errorSymbol, errorStyle.Render(d.Message))
	}

	return nil
}

func (r *eventRenderer) renderComplete(d core.AgentCompleteData) {
	switch d.Status {
	case core.RunSuccess:
		fmt.Fprintf(r.w, "%s %s after %d round(s): masks %v\n",
			successSymbol, successStyle.Render("success"), d.Rounds, d.Final.Indices())
	case core.RunNoMasks:
		fmt.Fprintf(r.w, "%s after %d round(s)\n", warningStyle.Render("no matching masks"), d.Rounds)
	default:
		fmt.Fprintf(r.w, "%s after %d round(s)\n", warningStyle.Render(string(d.Status)), d.Rounds)
	}
	if d.Message != "" {
		fmt.Fprintf(r.w, "  %s\n", strings.TrimSpace(d.Message))
	}
	for name, key := range d.Artifacts {
		fmt.Fprintf(r.w, "  %s %s\n", name, reasoningStyle.Render(key))
	}
}
