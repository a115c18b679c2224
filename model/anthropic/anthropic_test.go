package anthropic

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segmesh/core"
	"github.com/hupe1980/segmesh/model"
)

func TestBuildMessages(t *testing.T) {
	contents := []core.Content{
		core.NewTextContent(core.RoleSystem, "system prompt"),
		{Role: core.RoleUser, Parts: []core.Part{
			core.ImagePart{Data: []byte("\x89PNG\r\n\x1a\n"), MimeType: "image/png"},
			core.TextPart{Text: "find the dog"},
		}},
		core.NewTextContent(core.RoleAssistant, "bad reply"),
		core.NewTextContent(core.RoleTool, "no tool call found"),
		core.NewTextContent(core.RoleUser, "extra hint"),
		core.NewTextContent(core.RoleAssistant, "<tool>{}</tool>"),
	}

	msgs := buildMessages(contents)
	require.Len(t, msgs, 4)

	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[0].Role)
	require.Len(t, msgs[0].Content, 2)
	require.NotNil(t, msgs[0].Content[0].OfImage)
	require.NotNil(t, msgs[0].Content[0].OfImage.Source.OfBase64)
	assert.Equal(t, anthropic.Base64ImageSourceMediaTypeImagePNG, msgs[0].Content[0].OfImage.Source.OfBase64.MediaType)

	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[1].Role)

	// tool result and following user turn are merged
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[2].Role)
	assert.Len(t, msgs[2].Content, 2)

	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[3].Role)

	system := extractSystemMessage(contents)
	require.Len(t, system, 1)
	assert.Equal(t, "system prompt", system[0].Text)
}

func TestBuildParamsOverrides(t *testing.T) {
	m := NewModel(func(o *Options) { o.APIKey = "test" })
	temp := 0.1

	p := m.buildParams(modelRequest("claude-x", 64, &temp))
	assert.Equal(t, anthropic.Model("claude-x"), p.Model)
	assert.Equal(t, int64(64), p.MaxTokens)

	p = m.buildParams(modelRequest("", 0, nil))
	assert.Equal(t, anthropic.ModelClaudeSonnet4_20250514, p.Model)
	assert.Equal(t, int64(4096), p.MaxTokens)
	assert.Equal(t, "anthropic", m.Info().Provider)
}

func modelRequest(name string, maxTokens int64, temp *float64) model.Request {
	return model.Request{
		Model:       name,
		MaxTokens:   maxTokens,
		Temperature: temp,
		Contents:    []core.Content{core.NewTextContent(core.RoleUser, "hi")},
	}
}
