package server

import (
	"github.com/hupe1980/segmesh/artifact"
	"github.com/hupe1980/segmesh/core"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status               string `json:"status"`
	ReasoningProvider    string `json:"reasoning_provider"`
	ReasoningModel       string `json:"reasoning_model"`
	SegmentationEndpoint string `json:"segmentation_endpoint"`
	ActiveRuns           int    `json:"active_runs"`
}

// UploadResponse is the body of POST /api/upload. Filepath is the image
// reference to pass as image_path.
type UploadResponse struct {
	Status   string `json:"status"`
	Filename string `json:"filename"`
	Filepath string `json:"filepath"`
}

// SegmentRequest is the body of POST /api/segment.
type SegmentRequest struct {
	ImagePath  string `json:"image_path" binding:"required"`
	TextPrompt string `json:"text_prompt" binding:"required"`
}

// SegmentResponse is the body of a successful POST /api/segment.
type SegmentResponse struct {
	Status string          `json:"status"`
	Result artifact.Output `json:"result"`
}

// ReasoningOverrides are optional per-run Reasoning Service settings.
type ReasoningOverrides struct {
	Model       string  `json:"model"`
	MaxTokens   int64   `json:"max_tokens" binding:"omitempty,min=1"`
	Temperature float64 `json:"temperature" binding:"omitempty,min=0,max=2"`
}

// AgentRequest is the body of POST /api/agent/run and /api/agent/stream.
type AgentRequest struct {
	ImagePath  string             `json:"image_path" binding:"required"`
	TextPrompt string             `json:"text_prompt" binding:"required"`
	MaxRounds  int                `json:"max_rounds" binding:"omitempty,min=1,max=1000"`
	Reasoning  ReasoningOverrides `json:"reasoning"`
}

// Query converts the request into a run query.
func (r AgentRequest) Query() core.Query {
	return core.Query{
		Image:  core.ImageRef{Key: r.ImagePath},
		Phrase: r.TextPrompt,
		Reasoning: core.ReasoningConfig{
			Model:       r.Reasoning.Model,
			MaxTokens:   r.Reasoning.MaxTokens,
			Temperature: r.Reasoning.Temperature,
			MaxRounds:   r.MaxRounds,
		},
	}
}

// AgentResponse is the body of POST /api/agent/run.
type AgentResponse struct {
	Status core.RunStatus `json:"status"`
	Error  string         `json:"error,omitempty"`
	Result *core.AgentRun `json:"result"`
}
