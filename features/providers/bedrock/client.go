// Package bedrock adapts the AWS Bedrock Converse API to
// runtime/model.Provider, grounded on the teacher's features/model/bedrock
// adapter: split system vs. conversational messages, encode tool schemas
// into Bedrock's ToolConfiguration via the document package, and translate
// Converse output (text + tool_use blocks) back into the gateway's
// provider-agnostic content blocks.
package bedrock

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/tensorzero/gateway/runtime/errors"
	"github.com/tensorzero/gateway/runtime/model"
)

// RuntimeClient mirrors the subset of *bedrockruntime.Client the adapter
// uses, so tests can substitute a fake.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Client implements model.Provider on top of AWS Bedrock Converse.
type Client struct {
	runtime RuntimeClient
	batcher *model.SyncBatcher
}

// New builds a Bedrock-backed provider. Credentials for Bedrock flow through
// the AWS SDK's own credential chain (region/role), not per-request API
// keys, so model.CredentialsFromContext is not consulted here.
func New(runtime RuntimeClient) *Client {
	return &Client{runtime: runtime, batcher: model.NewSyncBatcher(4)}
}

func (c *Client) Infer(ctx context.Context, req *model.Request) (*model.Response, error) {
	input, nameBySanitized, err := prepareConverseInput(req)
	if err != nil {
		return nil, err
	}
	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return nil, errors.Wrap(errors.KindInferenceServer, err, "bedrock converse failed")
	}
	return translateConverseOutput(output, nameBySanitized)
}

func (c *Client) InferStream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	input, nameBySanitized, err := prepareConverseStreamInput(req)
	if err != nil {
		return nil, err
	}
	output, err := c.runtime.ConverseStream(ctx, input)
	if err != nil {
		return nil, errors.Wrap(errors.KindInferenceServer, err, "bedrock converse stream failed")
	}
	return newStreamer(output, nameBySanitized), nil
}

func (c *Client) StartBatchInference(ctx context.Context, reqs []model.BatchRequest) (*model.BatchStartResult, error) {
	return c.batcher.Start(ctx, reqs, c.Infer)
}

func (c *Client) PollBatchInference(ctx context.Context, batchID string, _ map[string]string) (*model.BatchPollResult, error) {
	result, ok := c.batcher.Poll(batchID)
	if !ok {
		return nil, errors.New(errors.KindBatchNotFound, "no batch with id %q", batchID)
	}
	return result, nil
}

func prepareConverseInput(req *model.Request) (*bedrockruntime.ConverseInput, map[string]string, error) {
	messages, system, nameBySanitized, toolConfig, err := prepareShared(req)
	if err != nil {
		return nil, nil, err
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:    aws.String(req.ModelName),
		Messages:   messages,
		System:     system,
		ToolConfig: toolConfig,
	}
	applyInferenceConfig(req, &input.InferenceConfig)
	return input, nameBySanitized, nil
}

func prepareConverseStreamInput(req *model.Request) (*bedrockruntime.ConverseStreamInput, map[string]string, error) {
	messages, system, nameBySanitized, toolConfig, err := prepareShared(req)
	if err != nil {
		return nil, nil, err
	}
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:    aws.String(req.ModelName),
		Messages:   messages,
		System:     system,
		ToolConfig: toolConfig,
	}
	applyInferenceConfig(req, &input.InferenceConfig)
	return input, nameBySanitized, nil
}

func applyInferenceConfig(req *model.Request, cfg **brtypes.InferenceConfiguration) {
	ic := &brtypes.InferenceConfiguration{}
	set := false
	if req.MaxTokens != nil {
		ic.MaxTokens = aws.Int32(int32(*req.MaxTokens))
		set = true
	}
	if req.Temperature != nil {
		ic.Temperature = aws.Float32(*req.Temperature)
		set = true
	}
	if req.TopP != nil {
		ic.TopP = aws.Float32(*req.TopP)
		set = true
	}
	if len(req.StopSequences) > 0 {
		ic.StopSequences = req.StopSequences
		set = true
	}
	if set {
		*cfg = ic
	}
}

func prepareShared(req *model.Request) ([]brtypes.Message, []brtypes.SystemContentBlock, map[string]string, *brtypes.ToolConfiguration, error) {
	if len(req.Messages) == 0 {
		return nil, nil, nil, nil, errors.New(errors.KindInvalidRequest, "bedrock: messages are required")
	}
	if req.ModelName == "" {
		return nil, nil, nil, nil, errors.New(errors.KindInvalidRequest, "bedrock: model identifier is required")
	}

	var system []brtypes.SystemContentBlock
	var messages []brtypes.Message
	for _, m := range req.Messages {
		if m.Role == model.RoleSystem {
			for _, block := range m.Content {
				if t, ok := block.(model.TextBlock); ok && t.Text != "" {
					system = append(system, &brtypes.SystemContentBlockMemberText{Value: t.Text})
				}
			}
			continue
		}
		blocks, err := encodeContentBlocks(m.Content)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		if len(blocks) == 0 {
			continue
		}
		var role brtypes.ConversationRole
		switch m.Role {
		case model.RoleUser:
			role = brtypes.ConversationRoleUser
		case model.RoleAssistant:
			role = brtypes.ConversationRoleAssistant
		default:
			return nil, nil, nil, nil, errors.New(errors.KindInvalidMessage, "bedrock: unsupported message role %q", m.Role)
		}
		messages = append(messages, brtypes.Message{Role: role, Content: blocks})
	}
	if len(messages) == 0 {
		return nil, nil, nil, nil, errors.New(errors.KindInvalidRequest, "bedrock: at least one user/assistant message is required")
	}

	var toolConfig *brtypes.ToolConfiguration
	nameBySanitized := map[string]string{}
	if len(req.Tools) > 0 {
		tc, m, err := encodeToolConfig(req.Tools, req.ToolChoice)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		toolConfig = tc
		nameBySanitized = m
	}

	return messages, system, nameBySanitized, toolConfig, nil
}

func encodeContentBlocks(blocks []model.ContentBlock) ([]brtypes.ContentBlock, error) {
	out := make([]brtypes.ContentBlock, 0, len(blocks))
	for _, block := range blocks {
		switch v := block.(type) {
		case model.TextBlock:
			if v.Text != "" {
				out = append(out, &brtypes.ContentBlockMemberText{Value: v.Text})
			}
		case model.ToolCallBlock:
			var args any
			if len(v.Arguments) > 0 {
				if err := json.Unmarshal(v.Arguments, &args); err != nil {
					return nil, errors.Wrap(errors.KindInvalidMessage, err, "bedrock: tool call arguments are not valid JSON")
				}
			}
			out = append(out, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
				ToolUseId: aws.String(v.ID),
				Name:      aws.String(v.Name),
				Input:     document.NewLazyDocument(args),
			}})
		case model.ToolResultBlock:
			status := brtypes.ToolResultStatusSuccess
			if v.IsError {
				status = brtypes.ToolResultStatusError
			}
			out = append(out, &brtypes.ContentBlockMemberToolResult{Value: brtypes.ToolResultBlock{
				ToolUseId: aws.String(v.ToolCallID),
				Status:    status,
				Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: v.Result}},
			}})
		}
	}
	return out, nil
}

func encodeToolConfig(defs []model.ToolDefinition, choice *model.ToolChoice) (*brtypes.ToolConfiguration, map[string]string, error) {
	tools := make([]brtypes.Tool, 0, len(defs))
	nameBySanitized := make(map[string]string, len(defs))
	for _, def := range defs {
		sanitized := sanitizeToolName(def.Name)
		nameBySanitized[sanitized] = def.Name
		var schemaFields map[string]any
		if len(def.Parameters) > 0 {
			if err := json.Unmarshal(def.Parameters, &schemaFields); err != nil {
				return nil, nil, errors.Wrap(errors.KindInvalidTool, err, "tool %q has invalid parameters schema", def.Name)
			}
		}
		tools = append(tools, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
			Name:        aws.String(sanitized),
			Description: aws.String(def.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schemaFields)},
		}})
	}
	cfg := &brtypes.ToolConfiguration{Tools: tools}
	if choice != nil {
		switch choice.Mode {
		case model.ToolChoiceAuto:
			cfg.ToolChoice = &brtypes.ToolChoiceMemberAuto{}
		case model.ToolChoiceRequired:
			cfg.ToolChoice = &brtypes.ToolChoiceMemberAny{}
		case model.ToolChoiceSpecific:
			cfg.ToolChoice = &brtypes.ToolChoiceMemberTool{Value: brtypes.SpecificToolChoice{Name: aws.String(sanitizeToolName(choice.Name))}}
		case model.ToolChoiceNone:
			// Bedrock Converse has no "none" tool choice; omitting ToolChoice
			// leaves the model free, which is the closest available behavior.
		}
	}
	return cfg, nameBySanitized, nil
}

func sanitizeToolName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func translateConverseOutput(output *bedrockruntime.ConverseOutput, nameBySanitized map[string]string) (*model.Response, error) {
	msgOutput, ok := output.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return nil, errors.New(errors.KindInferenceServer, "bedrock: unexpected converse output shape")
	}
	resp := &model.Response{}
	for _, block := range msgOutput.Value.Content {
		switch v := block.(type) {
		case *brtypes.ContentBlockMemberText:
			if v.Value != "" {
				resp.Content = append(resp.Content, model.TextBlock{Text: v.Value})
			}
		case *brtypes.ContentBlockMemberToolUse:
			name := aws.ToString(v.Value.Name)
			if canonical, ok := nameBySanitized[name]; ok {
				name = canonical
			}
			args, err := json.Marshal(v.Value.Input)
			if err != nil {
				return nil, errors.Wrap(errors.KindSerialization, err, "bedrock: failed to re-encode tool_use input")
			}
			resp.Content = append(resp.Content, model.ToolCallBlock{ID: aws.ToString(v.Value.ToolUseId), Name: name, Arguments: args})
		}
	}
	if output.Usage != nil {
		resp.Usage = model.Usage{
			InputTokens:  int(aws.ToInt32(output.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(output.Usage.OutputTokens)),
		}
	}
	resp.FinishReason = mapStopReason(output.StopReason)
	return resp, nil
}

func mapStopReason(reason brtypes.StopReason) model.FinishReason {
	switch reason {
	case brtypes.StopReasonEndTurn, brtypes.StopReasonStopSequence:
		return model.FinishStop
	case brtypes.StopReasonMaxTokens:
		return model.FinishLength
	case brtypes.StopReasonToolUse:
		return model.FinishToolCall
	case brtypes.StopReasonContentFiltered:
		return model.FinishContentFilter
	default:
		return model.FinishUnknown
	}
}
