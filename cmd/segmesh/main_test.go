package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segmesh/artifact"
	"github.com/hupe1980/segmesh/config"
	"github.com/hupe1980/segmesh/core"
	"github.com/hupe1980/segmesh/internal/testutil"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		config.EnvReasoningBaseURL, config.EnvReasoningAPIKey, config.EnvReasoningModel, config.EnvReasoningTokens,
		config.EnvSegmentationURL, config.EnvUploadDir, config.EnvOutputDir, config.EnvServerHost,
		config.EnvServerPort, config.EnvMaxUploadBytes,
	} {
		t.Setenv(key, "")
	}
}

func execute(t *testing.T, fsys afero.Fs, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCmd(fsys)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// reasoningServer answers chat completions with replies in order.
func reasoningServer(t *testing.T, replies ...string) *httptest.Server {
	t.Helper()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := int(calls.Add(1)) - 1
		if i >= len(replies) {
			http.Error(w, "script exhausted", http.StatusInternalServerError)
			return
		}
		content, _ := json.Marshal(replies[i])
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id": "cmpl-%d", "object": "chat.completion", "created": 1, "model": "qwen",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": %s}}]}`, i, content)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func segmentationServer(t *testing.T, masks ...core.Mask) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"orig_img_h":  2,
			"orig_img_w":  4,
			"pred_masks":  []string{},
			"pred_scores": []float64{},
		}
		rles, scores := []string{}, []float64{}
		for _, m := range masks {
			rles = append(rles, m.RLE)
			scores = append(scores, m.Score)
		}
		resp["pred_masks"], resp["pred_scores"] = rles, scores
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func writeConfig(t *testing.T, fsys afero.Fs, reasoningURL, segmentationURL string) {
	t.Helper()

	cfg := fmt.Sprintf(`
reasoning:
  provider: openai
  base_url: %s/
  api_key: sk-test
  model: qwen
segmentation:
  endpoint: %s
  retries: 0
agent:
  max_rounds: 5
  stream: false
storage:
  driver: memory
logging:
  level: error
`, reasoningURL, segmentationURL)
	require.NoError(t, afero.WriteFile(fsys, "/segmesh.yaml", []byte(cfg), 0o644))
}

func TestRunCommand(t *testing.T) {
	clearEnv(t)

	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/images/street.png", testutil.PNG(4, 2), 0o644))

	reasoning := reasoningServer(t, testutil.Segment("cat"), testutil.Select(0))
	seg := segmentationServer(t, testutil.NewMaskBuilder().Rows("##..", "##..").Score(0.9).Build())
	writeConfig(t, fsys, reasoning.URL, seg.URL)

	out, err := execute(t, fsys,
		"run", "--config", "/segmesh.yaml",
		"--image", "/images/street.png",
		"--query", "the cat",
		"--json",
	)
	require.NoError(t, err, out)

	var last core.Event
	lines := bytes.Split(bytes.TrimSpace([]byte(out)), []byte("\n"))
	require.NotEmpty(t, lines)
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &last))

	assert.Equal(t, core.EventAgentComplete, last.Type)
	data, ok := last.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "success", data["status"])
	assert.Contains(t, out, `"type":"segmentation_complete"`)
}

func TestRunCommandRequiresFlags(t *testing.T) {
	clearEnv(t)

	_, err := execute(t, afero.NewMemMapFs(), "run", "--query", "the cat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image")
}

func TestRunCommandMissingImage(t *testing.T) {
	clearEnv(t)

	fsys := afero.NewMemMapFs()
	writeConfig(t, fsys, "http://localhost:1", "http://localhost:2/segment")

	_, err := execute(t, fsys, "run", "-c", "/segmesh.yaml", "--image", "/nope.png", "--query", "cat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read image")
}

func TestConfigSchemaCommand(t *testing.T) {
	out, err := execute(t, afero.NewMemMapFs(), "config", "schema")
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &schema))
	assert.Equal(t, "segmesh configuration", schema["title"])
}

func TestConfigShowCommand(t *testing.T) {
	clearEnv(t)

	fsys := afero.NewMemMapFs()
	writeConfig(t, fsys, "http://localhost:1", "http://localhost:2/segment")

	out, err := execute(t, fsys, "config", "show", "--config", "/segmesh.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "provider: openai")
	assert.Contains(t, out, "driver: memory")
	assert.NotContains(t, out, "sk-test")
}

func TestLogLevelOverride(t *testing.T) {
	clearEnv(t)

	_, err := execute(t, afero.NewMemMapFs(), "config", "show", "--log-level", "loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestBuildStores(t *testing.T) {
	fsys := afero.NewMemMapFs()

	uploads, outputs, err := buildStores(config.StorageConfig{Driver: "memory"}, fsys)
	require.NoError(t, err)
	assert.Same(t, uploads, outputs)

	uploads, outputs, err = buildStores(config.StorageConfig{Driver: "fs", UploadDir: "/u", OutputDir: "/o"}, fsys)
	require.NoError(t, err)
	assert.NotSame(t, uploads, outputs)

	_, err = uploads.Save(context.Background(), "uploads", "a.png", []byte("x"))
	require.NoError(t, err)
	ok, err := afero.Exists(fsys, "/u/uploads/a.png")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, afero.WriteFile(fsys, "/etc/secret.png", []byte("host"), 0o644))
	_, err = uploads.(core.ImageLoader).LoadImage(context.Background(), core.ImageRef{Key: "/etc/secret.png"})
	assert.ErrorIs(t, err, artifact.ErrNotFound)

	uploads, _, err = buildStores(config.StorageConfig{Driver: "fs", UploadDir: "/u", OutputDir: "/o", AllowAbsolutePaths: true}, fsys)
	require.NoError(t, err)
	data, err := uploads.(core.ImageLoader).LoadImage(context.Background(), core.ImageRef{Key: "/etc/secret.png"})
	require.NoError(t, err)
	assert.Equal(t, "host", string(data))

	_, _, err = buildStores(config.StorageConfig{Driver: "tape"}, fsys)
	assert.Error(t, err)
}

func TestBuildModel(t *testing.T) {
	m, err := buildModel(config.ReasoningConfig{Provider: "anthropic", Model: "claude-sonnet-4-5", MaxTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", m.Info().Provider)

	m, err = buildModel(config.ReasoningConfig{Provider: "openai", Model: "gpt-4o", MaxTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, "openai", m.Info().Provider)

	_, err = buildModel(config.ReasoningConfig{Provider: "gemini"})
	assert.Error(t, err)
}

func TestEventRenderer(t *testing.T) {
	var buf bytes.Buffer
	r := newEventRenderer(&buf, false)

	events := []core.Event{
		core.NewEvent("r", core.EventAgentStart, core.AgentStartData{Phrase: "the cat", Image: core.ImageRef{Key: "uploads/a.png"}, MaxRounds: 5}),
		core.NewEvent("r", core.EventRoundStart, core.RoundStartData{Round: 1}),
		core.NewEvent("r", core.EventReasoningChunk, core.ReasoningChunkData{Round: 1, Delta: "thinking"}),
		core.NewEvent("r", core.EventReasoningComplete, core.ReasoningCompleteData{Round: 1, Tool: "segment_phrase"}),
		core.NewEvent("r", core.EventSegmentationComplete, core.SegmentationCompleteData{Round: 1, MaskIndices: []int{0, 1}}),
		core.NewEvent("r", core.EventAgentComplete, core.AgentCompleteData{
			Status: core.RunSuccess,
			Rounds: 2,
			Final:  core.MaskSet{{Index: 1}},
		}),
	}
	for _, ev := range events {
		require.NoError(t, r.Render(ev))
	}

	out := buf.String()
	assert.Contains(t, out, `"the cat" on uploads/a.png`)
	assert.Contains(t, out, "round 1")
	assert.Contains(t, out, "thinking\n")
	assert.Contains(t, out, "segment_phrase")
	assert.Contains(t, out, "2 mask(s) [0 1]")
	assert.Contains(t, out, "success after 2 round(s): masks [1]")
}
