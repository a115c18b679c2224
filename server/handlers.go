package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hupe1980/segmesh/artifact"
	"github.com/hupe1980/segmesh/core"
	"github.com/hupe1980/segmesh/engine"
	"github.com/hupe1980/segmesh/segmenter"
	"github.com/hupe1980/segmesh/stream"
)

var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
	".bmp":  true,
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func abort(c *gin.Context, status int, code string, err error) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func (s *Server) handleHealth(c *gin.Context) {
	cfg := s.opts.Config
	c.JSON(http.StatusOK, HealthResponse{
		Status:               "healthy",
		ReasoningProvider:    cfg.Reasoning.Provider,
		ReasoningModel:       cfg.Reasoning.Model,
		SegmentationEndpoint: cfg.Segmentation.Endpoint,
		ActiveRuns:           s.engine.Active(),
	})
}

func (s *Server) handleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.opts.Config.Redacted())
}

func (s *Server) handleUpload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		abort(c, http.StatusBadRequest, "MISSING_FILE", errors.New("no file part"))
		return
	}

	name := secureFilename(file.Filename)
	if name == "" {
		abort(c, http.StatusBadRequest, "MISSING_FILE", errors.New("no selected file"))
		return
	}
	if !allowedExtensions[strings.ToLower(filepath.Ext(name))] {
		abort(c, http.StatusBadRequest, "UNSUPPORTED_TYPE", fmt.Errorf("file type not allowed: %s", filepath.Ext(name)))
		return
	}
	if max := s.opts.Config.Server.MaxUploadBytes; max > 0 && file.Size > max {
		abort(c, http.StatusRequestEntityTooLarge, "TOO_LARGE", fmt.Errorf("file exceeds %d bytes", max))
		return
	}

	f, err := file.Open()
	if err != nil {
		abort(c, http.StatusBadRequest, "INVALID_FILE", err)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		abort(c, http.StatusBadRequest, "INVALID_FILE", err)
		return
	}

	key, err := s.opts.Uploads.Save(c.Request.Context(), artifact.UploadScope, name, data)
	if err != nil {
		s.opts.Logger.Error("upload failed", "filename", name, "error", err)
		abort(c, http.StatusInternalServerError, "STORAGE_ERROR", err)
		return
	}

	s.opts.Logger.Info("image uploaded", "key", key, "bytes", len(data))
	c.JSON(http.StatusOK, UploadResponse{Status: "success", Filename: name, Filepath: key})
}

func (s *Server) handleSegment(c *gin.Context) {
	var req SegmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", errors.New("missing image_path or text_prompt"))
		return
	}

	ref := core.ImageRef{Key: req.ImagePath}
	var data []byte
	if s.opts.Images != nil {
		img, err := s.opts.Images.LoadImage(c.Request.Context(), ref)
		if err != nil {
			abort(c, http.StatusNotFound, "IMAGE_NOT_FOUND", err)
			return
		}
		data = img
	}

	candidates, err := s.opts.Segmenter.Segment(c.Request.Context(), segmenter.Request{
		Image:  ref,
		Data:   data,
		Phrase: req.TextPrompt,
	})
	if err != nil {
		s.opts.Logger.Warn("segmentation failed", "phrase", req.TextPrompt, "error", err)
		abort(c, http.StatusBadGateway, "SEGMENTATION_FAILED", err)
		return
	}

	masks := s.opts.Resolver.Resolve(candidates)
	for i := range masks {
		masks[i].Index = i
	}

	c.JSON(http.StatusOK, SegmentResponse{
		Status: "success",
		Result: artifact.NewOutput(req.TextPrompt, masks),
	})
}

func (s *Server) handleAgentRun(c *gin.Context) {
	var req AgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}

	run, _, err := s.engine.InvokeSync(c.Request.Context(), req.Query())
	if run == nil {
		s.invokeFailed(c, err)
		return
	}

	resp := AgentResponse{Status: run.Status, Result: run}
	if err != nil {
		resp.Error = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAgentStream(c *gin.Context) {
	var req AgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}

	runID, events, errs, err := s.engine.Invoke(c.Request.Context(), req.Query())
	if err != nil {
		s.invokeFailed(c, err)
		return
	}

	c.Header("X-Run-ID", runID)
	c.Status(http.StatusOK)

	w := stream.NewSSEWriter(c.Writer)
	w.SetHeartbeat(s.opts.Heartbeat)

	if err := w.StreamEvents(c.Request.Context(), events, 0); err != nil {
		s.opts.Logger.Info("event stream ended early", "run_id", runID, "error", err)
		return
	}
	if err := <-errs; err != nil {
		s.opts.Logger.Warn("streamed run failed", "run_id", runID, "error", err)
	}
}

func (s *Server) invokeFailed(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrTooManyRuns):
		abort(c, http.StatusTooManyRequests, "TOO_MANY_RUNS", err)
	case errors.Is(err, core.ErrValidation):
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", err)
	default:
		abort(c, http.StatusInternalServerError, "RUN_FAILED", err)
	}
}

func (s *Server) handleGetRun(c *gin.Context) {
	run, err := s.engine.Run(c.Param("id"))
	if err != nil {
		if errors.Is(err, engine.ErrRunNotFound) {
			abort(c, http.StatusNotFound, "RUN_NOT_FOUND", err)
			return
		}
		abort(c, http.StatusInternalServerError, "RUN_STORE_ERROR", err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleStopRun(c *gin.Context) {
	err := s.engine.Stop(c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"status": "stopping", "run_id": c.Param("id")})
	case errors.Is(err, engine.ErrRunNotFound):
		abort(c, http.StatusNotFound, "RUN_NOT_FOUND", err)
	case errors.Is(err, core.ErrRunFinished):
		abort(c, http.StatusConflict, "RUN_FINISHED", err)
	default:
		abort(c, http.StatusInternalServerError, "STOP_FAILED", err)
	}
}

func (s *Server) handleOutput(c *gin.Context) {
	runID, name, err := artifact.SplitKey(c.Param("key"))
	if err != nil {
		abort(c, http.StatusBadRequest, "INVALID_KEY", err)
		return
	}

	store := s.engine.ArtifactStore()
	if runID == artifact.UploadScope {
		store = s.opts.Uploads
	}

	data, err := store.Get(c.Request.Context(), runID, name)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			abort(c, http.StatusNotFound, "ARTIFACT_NOT_FOUND", err)
			return
		}
		abort(c, http.StatusInternalServerError, "STORAGE_ERROR", err)
		return
	}

	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	c.Data(http.StatusOK, contentType, data)
}

// secureFilename keeps the base name and replaces characters outside a
// conservative set.
func secureFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	return name
}
