package anthropic

import (
	"context"
	"encoding/json"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorzero/gateway/runtime/model"
)

type fakeMessagesClient struct {
	newFunc func(ctx context.Context, body sdk.MessageNewParams) (*sdk.Message, error)
}

func (f *fakeMessagesClient) New(ctx context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	return f.newFunc(ctx, body)
}

func (f *fakeMessagesClient) NewStreaming(ctx context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	return nil
}

func TestInfer_EncodesSystemPromptSeparately(t *testing.T) {
	var captured sdk.MessageNewParams
	fake := &fakeMessagesClient{
		newFunc: func(ctx context.Context, body sdk.MessageNewParams) (*sdk.Message, error) {
			captured = body
			return &sdk.Message{
				Content:    []sdk.ContentBlockUnion{{Type: "text", Text: "hello"}},
				StopReason: sdk.StopReasonEndTurn,
				Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 2},
			}, nil
		},
	}
	c := New(fake)

	req := &model.Request{
		ModelName: "claude-3-5-sonnet-20241022",
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: []model.ContentBlock{model.TextBlock{Text: "be concise"}}},
			{Role: model.RoleUser, Content: []model.ContentBlock{model.TextBlock{Text: "hi"}}},
		},
	}

	resp, err := c.Infer(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, model.TextBlock{Text: "hello"}, resp.Content[0])
	assert.Equal(t, model.FinishStop, resp.FinishReason)
	assert.Equal(t, 10, resp.Usage.InputTokens)
	assert.Len(t, captured.System, 1)
	assert.Equal(t, "be concise", captured.System[0].Text)
	assert.Len(t, captured.Messages, 1)
}

func TestInfer_ToolCallRoundTrip(t *testing.T) {
	fake := &fakeMessagesClient{
		newFunc: func(ctx context.Context, body sdk.MessageNewParams) (*sdk.Message, error) {
			require.Len(t, body.Tools, 1)
			return &sdk.Message{
				Content: []sdk.ContentBlockUnion{{
					Type:  "tool_use",
					ID:    "toolu_1",
					Name:  "get_weather",
					Input: json.RawMessage(`{"city":"nyc"}`),
				}},
				StopReason: sdk.StopReasonToolUse,
			}, nil
		},
	}
	c := New(fake)

	req := &model.Request{
		ModelName: "claude-3-5-sonnet-20241022",
		Messages: []model.Message{
			{Role: model.RoleUser, Content: []model.ContentBlock{model.TextBlock{Text: "weather?"}}},
		},
		Tools: []model.ToolDefinition{{
			Name:        "get_weather",
			Description: "look up weather",
			Parameters:  json.RawMessage(`{"type":"object"}`),
		}},
	}

	resp, err := c.Infer(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	call, ok := resp.Content[0].(model.ToolCallBlock)
	require.True(t, ok)
	assert.Equal(t, "get_weather", call.Name)
	assert.Equal(t, model.FinishToolCall, resp.FinishReason)
}

func TestEncodeToolChoice_UnknownToolFails(t *testing.T) {
	_, err := encodeToolChoice(&model.ToolChoice{Mode: model.ToolChoiceSpecific, Name: "nope"}, map[string]string{})
	require.Error(t, err)
}

func TestSanitizeToolName_ReplacesUnsafeCharacters(t *testing.T) {
	assert.Equal(t, "a_b_c", sanitizeToolName("a.b c"))
	assert.Equal(t, "already_safe", sanitizeToolName("already_safe"))
}
