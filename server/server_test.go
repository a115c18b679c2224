package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segmesh/agent"
	"github.com/hupe1980/segmesh/artifact"
	"github.com/hupe1980/segmesh/config"
	"github.com/hupe1980/segmesh/core"
	"github.com/hupe1980/segmesh/engine"
	"github.com/hupe1980/segmesh/internal/testutil"
	"github.com/hupe1980/segmesh/metrics"
	"github.com/hupe1980/segmesh/model"
	"github.com/hupe1980/segmesh/segmenter"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type agentFunc func(rc *core.RunContext) error

func (f agentFunc) Run(rc *core.RunContext) error { return f(rc) }

type fixture struct {
	server  *Server
	store   *artifact.InMemoryStore
	seg     *segmenter.Static
	engine  *engine.Engine
	metrics *prometheus.Registry
}

func catMask() core.Mask {
	return testutil.NewMaskBuilder().Rows("##..", "##..").Score(0.9).Phrase("cat").Build()
}

func newFixture(t *testing.T, a core.Agent, engOpts ...func(o *engine.Options)) *fixture {
	t.Helper()

	store := artifact.NewInMemoryStore()
	_, err := store.Save(context.Background(), artifact.UploadScope, "street.png", testutil.PNG(4, 2))
	require.NoError(t, err)

	seg := segmenter.NewStatic().With("cat", catMask(), catMask())
	if a == nil {
		m := model.NewScriptedModel(testutil.Segment("cat"), testutil.Select(0))
		a = agent.New(m, seg, func(o *agent.Options) {
			o.Artifacts = artifact.NewWriter(nil)
		})
	}

	reg := prometheus.NewRegistry()
	eng := engine.New(a, append([]func(o *engine.Options){func(o *engine.Options) {
		o.ArtifactStore = store
		o.Metrics = metrics.New(reg)
	}}, engOpts...)...)
	t.Cleanup(func() { _ = eng.Shutdown(context.Background()) })

	srv := New(eng, func(o *Options) {
		o.Segmenter = seg
		o.Gatherer = reg
		o.Heartbeat = 0
	})

	return &fixture{server: srv, store: store, seg: seg, engine: eng, metrics: reg}
}

func (f *fixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "gpt-4o", resp.ReasoningModel)
	assert.Equal(t, "http://localhost:8000/segment", resp.SegmentationEndpoint)
	assert.Equal(t, 0, resp.ActiveRuns)
}

func TestConfigIsRedacted(t *testing.T) {
	f := newFixture(t, nil)
	cfg := config.Default()
	cfg.Reasoning.APIKey = "sk-secret"
	f.server = New(f.engine, func(o *Options) { o.Config = cfg })

	rec := f.do(t, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "sk-secret")
}

func upload(t *testing.T, f *fixture, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	return rec
}

func TestUpload(t *testing.T) {
	f := newFixture(t, nil)

	rec := upload(t, f, "../../My Photo.PNG", testutil.PNG(2, 2))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[UploadResponse](t, rec)
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "My_Photo.PNG", resp.Filename)
	assert.Equal(t, "uploads/My_Photo.PNG", resp.Filepath)

	data, err := f.store.Get(context.Background(), artifact.UploadScope, "My_Photo.PNG")
	require.NoError(t, err)
	assert.Equal(t, testutil.PNG(2, 2), data)
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	f := newFixture(t, nil)

	rec := upload(t, f, "notes.txt", []byte("hello"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "UNSUPPORTED_TYPE", decode[ErrorResponse](t, rec).Code)
}

func TestUploadWithoutFile(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/upload", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_FILE", decode[ErrorResponse](t, rec).Code)
}

func TestSegment(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/segment", SegmentRequest{
		ImagePath:  "uploads/street.png",
		TextPrompt: "cat",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[SegmentResponse](t, rec)
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "cat", resp.Result.Phrase)
	assert.Equal(t, []int{0}, resp.Result.Indices, "identical candidates collapse")
	assert.Equal(t, 2, resp.Result.Height)
	assert.Equal(t, 4, resp.Result.Width)
}

func TestSegmentErrors(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		body any
		code int
	}{
		{name: "missing prompt", body: map[string]string{"image_path": "uploads/street.png"}, code: http.StatusBadRequest},
		{name: "unknown image", body: SegmentRequest{ImagePath: "uploads/missing.png", TextPrompt: "cat"}, code: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/segment", tt.body)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestAgentRun(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/agent/run", AgentRequest{
		ImagePath:  "uploads/street.png",
		TextPrompt: "the cat",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[AgentResponse](t, rec)
	assert.Equal(t, core.RunSuccess, resp.Status)
	require.NotNil(t, resp.Result)
	require.Len(t, resp.Result.Final, 1)
	assert.Contains(t, resp.Result.Artifacts, "final.json")

	t.Run("run is addressable", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/runs/"+resp.Result.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, core.RunSuccess, decode[*core.AgentRun](t, rec).Status)
	})

	t.Run("finished run cannot be stopped", func(t *testing.T) {
		rec := f.do(t, http.MethodDelete, "/api/runs/"+resp.Result.ID, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("artifact is served", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/outputs/"+resp.Result.Artifacts["final.json"], nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	})

	t.Run("metrics are exposed", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/metrics", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "segmesh_runs_finished_total")
	})
}

func TestAgentRunErrors(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		body any
		code int
	}{
		{name: "missing image", body: map[string]string{"text_prompt": "cat"}, code: http.StatusBadRequest},
		{name: "negative rounds", body: map[string]any{"image_path": "uploads/street.png", "text_prompt": "cat", "max_rounds": -1}, code: http.StatusBadRequest},
		{name: "blank phrase", body: AgentRequest{ImagePath: "uploads/street.png", TextPrompt: "   "}, code: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/agent/run", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestAgentRunTooManyRuns(t *testing.T) {
	started := make(chan struct{}, 1)
	blocking := agentFunc(func(rc *core.RunContext) error {
		started <- struct{}{}
		<-rc.Done()
		_ = rc.Run.Finish(core.RunIncomplete, nil, "cancelled", nil)
		rc.Emit(core.EventAgentComplete, core.AgentCompleteData{Status: core.RunIncomplete})
		return nil
	})

	f := newFixture(t, blocking, func(o *engine.Options) { o.Config.MaxConcurrentRuns = 1 })

	runID, _, _, err := f.engine.Invoke(context.Background(), core.Query{
		Image:  core.ImageRef{Key: "uploads/street.png"},
		Phrase: "cat",
	})
	require.NoError(t, err)
	<-started

	rec := f.do(t, http.MethodPost, "/api/agent/run", AgentRequest{ImagePath: "uploads/street.png", TextPrompt: "cat"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/runs/"+runID, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestAgentStream(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/agent/stream", AgentRequest{
		ImagePath:  "uploads/street.png",
		TextPrompt: "the cat",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Run-ID"))

	body := rec.Body.String()
	assert.Contains(t, body, "agent_start")
	assert.Contains(t, body, "agent_complete")
	assert.Less(t, strings.Index(body, "agent_start"), strings.Index(body, "agent_complete"))
}

func TestRunNotFound(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/runs/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/runs/nope", nil).Code)
}

func TestOutputErrors(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/outputs/justone", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/outputs/run/missing.json", nil).Code)

	rec := f.do(t, http.MethodGet, "/api/outputs/uploads/street.png", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
}

func TestSecureFilename(t *testing.T) {
	tests := map[string]string{
		"cat.png":           "cat.png",
		"../../etc/cat.png": "cat.png",
		`C:\tmp\dog.jpg`:    "dog.jpg",
		"my cat (1).png":    "my_cat_1_.png",
		"..":                "",
	}
	for in, want := range tests {
		assert.Equal(t, want, secureFilename(in), in)
	}
}

func TestHTTPServer(t *testing.T) {
	f := newFixture(t, nil)

	srv := f.server.HTTPServer(":0")
	assert.Equal(t, ":0", srv.Addr)
	assert.Equal(t, 10*time.Second, srv.ReadHeaderTimeout)
}
