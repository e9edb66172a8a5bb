// Package openaicompat adapts any OpenAI Chat Completions-compatible HTTP
// API (OpenAI itself, Mistral, TGI, SGLang, Ollama) to runtime/model.Provider
// using the official github.com/openai/openai-go client redirected at a
// configurable base URL, the way every OpenAI-compatible vendor in practice
// is served. API usage (option.WithAPIKey, option.WithBaseURL,
// Embeddings.New with EmbeddingNewParamsInputUnion) is grounded on
// taipm-go-deep-agent's OpenAI embedding client, the only place in the
// retrieved corpus exercising this SDK directly.
package openaicompat

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/tensorzero/gateway/runtime/errors"
	"github.com/tensorzero/gateway/runtime/model"
)

// Client implements model.Provider against an OpenAI-compatible endpoint.
type Client struct {
	baseURL string
	batcher *model.SyncBatcher
}

// New constructs a Client targeting baseURL (empty means the OpenAI default).
// Per-request API keys come from ctx via model.CredentialsFromContext.
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, batcher: model.NewSyncBatcher(8)}
}

func (c *Client) newSDKClient(ctx context.Context) openai.Client {
	opts := []option.RequestOption{}
	if creds, ok := model.CredentialsFromContext(ctx); ok && creds.APIKey != "" {
		opts = append(opts, option.WithAPIKey(creds.APIKey))
	}
	if c.baseURL != "" {
		opts = append(opts, option.WithBaseURL(c.baseURL))
	}
	return openai.NewClient(opts...)
}

func (c *Client) Infer(ctx context.Context, req *model.Request) (*model.Response, error) {
	params, err := encodeChatParams(req)
	if err != nil {
		return nil, err
	}
	cl := c.newSDKClient(ctx)
	completion, err := cl.Chat.Completions.New(ctx, *params)
	if err != nil {
		return nil, translateError(err)
	}
	return translateCompletion(completion)
}

func (c *Client) InferStream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	params, err := encodeChatParams(req)
	if err != nil {
		return nil, err
	}
	cl := c.newSDKClient(ctx)
	stream := cl.Chat.Completions.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, translateError(err)
	}
	return newStreamer(stream), nil
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

// Embed issues an embeddings request, used by the DICL variant's
// nearest-neighbor retrieval step.
func (c *Client) Embed(ctx context.Context, modelName string, texts []string) ([][]float64, error) {
	cl := c.newSDKClient(ctx)
	resp, err := cl.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(modelName),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, translateError(err)
	}
	out := make([][]float64, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

func encodeChatParams(req *model.Request) (*openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New(errors.KindInvalidRequest, "openai: messages are required")
	}
	if req.ModelName == "" {
		return nil, errors.New(errors.KindInvalidRequest, "openai: model identifier is required")
	}
	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	params := &openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.ModelName),
		Messages: msgs,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(float64(*req.Temperature))
	}
	if req.TopP != nil {
		params.TopP = openai.Float(float64(*req.TopP))
	}
	if req.MaxTokens != nil {
		params.MaxCompletionTokens = openai.Int(int64(*req.MaxTokens))
	}
	if req.Seed != nil {
		params.Seed = openai.Int(*req.Seed)
	}
	if req.PresencePenalty != nil {
		params.PresencePenalty = openai.Float(float64(*req.PresencePenalty))
	}
	if req.FrequencyPenalty != nil {
		params.FrequencyPenalty = openai.Float(float64(*req.FrequencyPenalty))
	}
	if len(req.StopSequences) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.StopSequences}
	}
	if req.JSONMode == model.JSONModeStrict && len(req.OutputSchema) > 0 {
		var schemaFields map[string]any
		if err := json.Unmarshal(req.OutputSchema, &schemaFields); err != nil {
			return nil, errors.Wrap(errors.KindInvalidRequest, err, "openai: invalid output schema")
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "response",
					Schema: schemaFields,
					Strict: openai.Bool(true),
				},
			},
		}
	} else if req.JSONMode == model.JSONModeOn {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolUnionParam, 0, len(req.Tools))
		for _, def := range req.Tools {
			var schemaFields map[string]any
			if len(def.Parameters) > 0 {
				if err := json.Unmarshal(def.Parameters, &schemaFields); err != nil {
					return nil, errors.Wrap(errors.KindInvalidTool, err, "tool %q has invalid parameters schema", def.Name)
				}
			}
			tools = append(tools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  schemaFields,
				Strict:      openai.Bool(def.Strict),
			}))
		}
		params.Tools = tools
	}
	if req.ToolChoice != nil {
		tc, err := encodeToolChoice(req.ToolChoice)
		if err != nil {
			return nil, err
		}
		params.ToolChoice = tc
	}
	if req.ParallelToolCalls != nil {
		params.ParallelToolCalls = openai.Bool(*req.ParallelToolCalls)
	}
	return params, nil
}

func encodeMessages(msgs []model.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		var text string
		var toolCalls []openai.ChatCompletionMessageToolCallUnionParam
		var toolResults []openai.ChatCompletionMessageParamUnion

		for _, block := range m.Content {
			switch v := block.(type) {
			case model.TextBlock:
				text += v.Text
			case model.ToolCallBlock:
				toolCalls = append(toolCalls, openai.ChatCompletionMessageFunctionToolCallParam{
					ID: v.ID,
					Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      v.Name,
						Arguments: string(v.Arguments),
					},
				}.ToUnion())
			case model.ToolResultBlock:
				toolResults = append(toolResults, openai.ToolMessage(v.Result, v.ToolCallID))
			}
		}

		switch m.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(text))
		case model.RoleUser:
			out = append(out, openai.UserMessage(text))
			out = append(out, toolResults...)
		case model.RoleAssistant:
			msg := openai.ChatCompletionAssistantMessageParam{}
			if text != "" {
				msg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
			}
			msg.ToolCalls = toolCalls
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &msg})
			out = append(out, toolResults...)
		default:
			return nil, errors.New(errors.KindInvalidMessage, "openai: unsupported message role %q", m.Role)
		}
	}
	return out, nil
}

func encodeToolChoice(choice *model.ToolChoice) (openai.ChatCompletionToolChoiceOptionUnionParam, error) {
	switch choice.Mode {
	case model.ToolChoiceAuto:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("auto")}, nil
	case model.ToolChoiceNone:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("none")}, nil
	case model.ToolChoiceRequired:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("required")}, nil
	case model.ToolChoiceSpecific:
		return openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: choice.Name},
			},
		}, nil
	default:
		return openai.ChatCompletionToolChoiceOptionUnionParam{}, errors.New(errors.KindInvalidRequest, "openai: unsupported tool choice mode %q", choice.Mode)
	}
}

func translateCompletion(completion *openai.ChatCompletion) (*model.Response, error) {
	if len(completion.Choices) == 0 {
		return nil, errors.New(errors.KindInferenceServer, "openai: response had no choices")
	}
	choice := completion.Choices[0]
	resp := &model.Response{
		Usage: model.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
		FinishReason: mapFinishReason(string(choice.FinishReason)),
	}
	if choice.Message.Content != "" {
		resp.Content = append(resp.Content, model.TextBlock{Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.Content = append(resp.Content, model.ToolCallBlock{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return resp, nil
}

func mapFinishReason(reason string) model.FinishReason {
	switch reason {
	case "stop":
		return model.FinishStop
	case "length":
		return model.FinishLength
	case "tool_calls", "function_call":
		return model.FinishToolCall
	case "content_filter":
		return model.FinishContentFilter
	default:
		return model.FinishUnknown
	}
}

func translateError(err error) error {
	var apiErr *openai.Error
	if stderrors.As(err, &apiErr) {
		return &errors.Error{Kind: errors.KindInferenceClient, Msg: apiErr.Error(), ClientStatus: apiErr.StatusCode}
	}
	return errors.Wrap(errors.KindInferenceServer, err, "openai-compatible request failed")
}
