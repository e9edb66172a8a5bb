package variant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorzero/gateway/runtime/config"
	"github.com/tensorzero/gateway/runtime/model"
	"github.com/tensorzero/gateway/runtime/tools"
)

func TestRenderChatCompletion_RendersTemplatesAndUsesVariantModel(t *testing.T) {
	userTmpl := config.NewTemplate("user", "Hello, {{.Name}}!")

	vc := &config.ChatCompletionVariantConfig{
		Model:     "claude",
		Templates: config.TemplateSet{User: userTmpl},
	}
	fc := &config.FunctionConfig{Name: "greet", Kind: config.FunctionChat}

	req, err := RenderChatCompletion(fc, vc, Input{User: map[string]string{"Name": "Ada"}}, GenerationOverrides{}, nil, tools.DynamicToolRequest{})
	require.NoError(t, err)
	assert.Equal(t, "claude", req.ModelName)
	require.Len(t, req.Messages, 1)
	textBlock := req.Messages[0].Content[0].(model.TextBlock)
	assert.Equal(t, "Hello, Ada!", textBlock.Text)
}

func TestRenderChatCompletion_OverridesWinOverVariantDefaults(t *testing.T) {
	defaultTemp := float32(0.2)
	vc := &config.ChatCompletionVariantConfig{
		Model:       "claude",
		Temperature: &defaultTemp,
		Templates:   config.TemplateSet{User: mustTemplate(t, "user", "hi")},
	}
	fc := &config.FunctionConfig{Name: "greet", Kind: config.FunctionChat}

	override := float32(0.9)
	req, err := RenderChatCompletion(fc, vc, Input{}, GenerationOverrides{Temperature: &override}, nil, tools.DynamicToolRequest{})
	require.NoError(t, err)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, float32(0.9), *req.Temperature)
}

func TestRenderChatCompletion_FallsBackToVariantDefaultWhenNoOverride(t *testing.T) {
	defaultTemp := float32(0.2)
	vc := &config.ChatCompletionVariantConfig{
		Model:       "claude",
		Temperature: &defaultTemp,
		Templates:   config.TemplateSet{User: mustTemplate(t, "user", "hi")},
	}
	fc := &config.FunctionConfig{Name: "greet", Kind: config.FunctionChat}

	req, err := RenderChatCompletion(fc, vc, Input{}, GenerationOverrides{}, nil, tools.DynamicToolRequest{})
	require.NoError(t, err)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, float32(0.2), *req.Temperature)
}

func mustTemplate(t *testing.T, name, text string) *config.Template {
	t.Helper()
	return config.NewTemplate(name, text)
}
