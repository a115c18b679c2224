package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segmesh/core"
	"github.com/hupe1980/segmesh/model"
)

func conversation() []core.Content {
	return []core.Content{
		core.NewTextContent(core.RoleSystem, "system prompt"),
		{Role: core.RoleUser, Parts: []core.Part{
			core.ImagePart{Data: []byte("\x89PNG\r\n\x1a\n"), MimeType: "image/png"},
			core.TextPart{Text: "find the dog"},
		}},
		core.NewTextContent(core.RoleAssistant, `<tool>{"name":"report_no_mask","parameters":{"rationale":"x"}}</tool>`),
		core.NewTextContent(core.RoleTool, "done"),
	}
}

func TestBuildMessages(t *testing.T) {
	msgs := buildMessages(model.Request{Contents: conversation()})
	require.Len(t, msgs, 4)

	assert.NotNil(t, msgs[0].OfSystem)
	require.NotNil(t, msgs[1].OfUser)
	parts := msgs[1].OfUser.Content.OfArrayOfContentParts
	require.Len(t, parts, 2)
	require.NotNil(t, parts[0].OfImageURL)
	assert.True(t, strings.HasPrefix(parts[0].OfImageURL.ImageURL.URL, "data:image/png;base64,"))
	require.NotNil(t, parts[1].OfText)
	assert.Equal(t, "find the dog", parts[1].OfText.Text)
	assert.NotNil(t, msgs[2].OfAssistant)
	assert.NotNil(t, msgs[3].OfUser)
}

func TestImageURL(t *testing.T) {
	assert.Equal(t, "https://example.com/a.png", imageURL(core.ImagePart{Ref: core.ImageRef{Key: "https://example.com/a.png"}}))
	assert.Equal(t, "", imageURL(core.ImagePart{Ref: core.ImageRef{Key: "uploads/a.png"}}))
	assert.Equal(t, "data:text/plain; charset=utf-8;base64,aGk=", imageURL(core.ImagePart{Data: []byte("hi")}))
}

func TestGenerate_NonStreaming(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1", "object": "chat.completion", "created": 1, "model": "qwen",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "<tool>{}</tool>"}}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5}
		}`))
	}))
	defer srv.Close()

	m := NewModel(func(o *Options) {
		o.BaseURL = srv.URL + "/"
		o.APIKey = "test"
		o.Model = "qwen"
	})

	text, err := model.Collect(context.Background(), m, model.Request{Contents: conversation(), MaxTokens: 128}, nil)
	require.NoError(t, err)
	assert.Equal(t, "<tool>{}</tool>", text)
	assert.Equal(t, "qwen", body["model"])
	assert.Equal(t, float64(128), body["max_completion_tokens"])
	assert.Equal(t, "openai", m.Info().Provider)
}

func TestGenerate_Streaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range []string{"Let me ", "look."} {
			chunk := `{"id":"c","object":"chat.completion.chunk","created":1,"model":"qwen","choices":[{"index":0,"delta":{"content":"` + delta + `"}}]}`
			_, _ = io.WriteString(w, "data: "+chunk+"\n\n")
		}
		_, _ = io.WriteString(w, `data: {"id":"c","object":"chat.completion.chunk","created":1,"model":"qwen","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`+"\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	m := NewModel(func(o *Options) {
		o.BaseURL = srv.URL + "/"
		o.APIKey = "test"
	})

	var deltas []string
	text, err := model.Collect(context.Background(), m, model.Request{Contents: conversation(), Stream: true},
		func(d string) { deltas = append(deltas, d) })
	require.NoError(t, err)
	assert.Equal(t, "Let me look.", text)
	assert.Equal(t, []string{"Let me ", "look."}, deltas)
}
