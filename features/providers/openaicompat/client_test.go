package openaicompat

import (
	"encoding/json"
	"testing"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorzero/gateway/runtime/model"
)

func TestEncodeChatParams_RequiresModelAndMessages(t *testing.T) {
	_, err := encodeChatParams(&model.Request{})
	require.Error(t, err)

	_, err = encodeChatParams(&model.Request{ModelName: "gpt-4o-mini"})
	require.Error(t, err)
}

func TestEncodeChatParams_AppliesGenerationParameters(t *testing.T) {
	temp := float32(0.5)
	maxTok := 256
	params, err := encodeChatParams(&model.Request{
		ModelName:   "gpt-4o-mini",
		Temperature: &temp,
		MaxTokens:   &maxTok,
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: []model.ContentBlock{model.TextBlock{Text: "be terse"}}},
			{Role: model.RoleUser, Content: []model.ContentBlock{model.TextBlock{Text: "hi"}}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.5, params.Temperature.Value)
	assert.Equal(t, int64(256), params.MaxCompletionTokens.Value)
	assert.Len(t, params.Messages, 2)
}

func TestEncodeChatParams_ToolDefinitionsCarryOver(t *testing.T) {
	params, err := encodeChatParams(&model.Request{
		ModelName: "gpt-4o-mini",
		Messages: []model.Message{
			{Role: model.RoleUser, Content: []model.ContentBlock{model.TextBlock{Text: "weather?"}}},
		},
		Tools: []model.ToolDefinition{{
			Name:        "get_weather",
			Description: "look up weather",
			Parameters:  json.RawMessage(`{"type":"object"}`),
		}},
		ToolChoice: &model.ToolChoice{Mode: model.ToolChoiceSpecific, Name: "get_weather"},
	})
	require.NoError(t, err)
	assert.Len(t, params.Tools, 1)
	require.NotNil(t, params.ToolChoice.OfChatCompletionNamedToolChoice)
	assert.Equal(t, "get_weather", params.ToolChoice.OfChatCompletionNamedToolChoice.Function.Name)
}

func TestTranslateCompletion_TextAndToolCalls(t *testing.T) {
	completion := &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{
			FinishReason: "tool_calls",
			Message: openai.ChatCompletionMessage{
				Content: "checking now",
				ToolCalls: []openai.ChatCompletionMessageToolCall{{
					ID: "call_1",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      "get_weather",
						Arguments: `{"city":"nyc"}`,
					},
				}},
			},
		}},
	}
	resp, err := translateCompletion(completion)
	require.NoError(t, err)
	require.Len(t, resp.Content, 2)
	assert.Equal(t, model.FinishToolCall, resp.FinishReason)
}
