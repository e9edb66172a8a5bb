package bedrock

import (
	"testing"

	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorzero/gateway/runtime/model"
)

func TestPrepareShared_RequiresMessages(t *testing.T) {
	_, _, _, _, err := prepareShared(&model.Request{ModelName: "anthropic.claude-3-5-sonnet"})
	require.Error(t, err)
}

func TestPrepareShared_SplitsSystemFromConversation(t *testing.T) {
	messages, system, _, _, err := prepareShared(&model.Request{
		ModelName: "anthropic.claude-3-5-sonnet",
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: []model.ContentBlock{model.TextBlock{Text: "be terse"}}},
			{Role: model.RoleUser, Content: []model.ContentBlock{model.TextBlock{Text: "hi"}}},
		},
	})
	require.NoError(t, err)
	require.Len(t, system, 1)
	require.Len(t, messages, 1)
	assert.Equal(t, brtypes.ConversationRoleUser, messages[0].Role)
}

func TestEncodeToolConfig_SanitizesNames(t *testing.T) {
	cfg, nameBySanitized, err := encodeToolConfig([]model.ToolDefinition{
		{Name: "get.weather", Description: "look up weather"},
	}, &model.ToolChoice{Mode: model.ToolChoiceSpecific, Name: "get.weather"})
	require.NoError(t, err)
	require.Len(t, cfg.Tools, 1)
	assert.Equal(t, "get.weather", nameBySanitized["get_weather"])
	_, ok := cfg.ToolChoice.(*brtypes.ToolChoiceMemberTool)
	assert.True(t, ok)
}

func TestMapStopReason(t *testing.T) {
	assert.Equal(t, model.FinishToolCall, mapStopReason(brtypes.StopReasonToolUse))
	assert.Equal(t, model.FinishLength, mapStopReason(brtypes.StopReasonMaxTokens))
}
