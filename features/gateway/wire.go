package gateway

import (
	"encoding/json"

	"github.com/tensorzero/gateway/features/inference"
	"github.com/tensorzero/gateway/runtime/model"
	"github.com/tensorzero/gateway/runtime/schema"
	"github.com/tensorzero/gateway/runtime/tools"
)

// inferenceRequestWire is the wire shape of an inference request (spec §6
// "Inference request (JSON)"). Unknown top-level fields are rejected by the
// decoder configuration in handlers.go.
type inferenceRequestWire struct {
	FunctionName string `json:"function_name"`
	ModelName    string `json:"model_name"`
	VariantName  string `json:"variant_name"`
	EpisodeID    string `json:"episode_id"`

	Input inputWire `json:"input"`
	Stream bool      `json:"stream"`

	Params generationParamsWire `json:"params"`

	AllowedTools      []string          `json:"allowed_tools"`
	AdditionalTools   []toolWire        `json:"additional_tools"`
	ToolChoice        *toolChoiceWire   `json:"tool_choice"`
	ParallelToolCalls *bool             `json:"parallel_tool_calls"`

	OutputSchema json.RawMessage   `json:"output_schema"`
	Tags         map[string]string `json:"tags"`
	Credentials  map[string]string `json:"credentials"`
}

type inputWire struct {
	System   json.RawMessage `json:"system"`
	Messages []messageWire   `json:"messages"`
}

type messageWire struct {
	Role    model.Role        `json:"role"`
	Content []json.RawMessage `json:"content"`
}

type generationParamsWire struct {
	Temperature      *float32 `json:"temperature"`
	TopP             *float32 `json:"top_p"`
	MaxTokens        *int     `json:"max_tokens"`
	Seed             *int64   `json:"seed"`
	PresencePenalty  *float32 `json:"presence_penalty"`
	FrequencyPenalty *float32 `json:"frequency_penalty"`
	StopSequences    []string `json:"stop_sequences"`
}

type toolWire struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	Strict      bool            `json:"strict"`
}

type toolChoiceWire struct {
	Mode string `json:"mode"`
	Name string `json:"name,omitempty"`
}

func (w *inferenceRequestWire) toRequest() (inference.Request, error) {
	messages := make([]inference.InputMessage, 0, len(w.Input.Messages))
	for _, m := range w.Input.Messages {
		content, err := model.DecodeContentBlocks(mustMarshal(m.Content))
		if err != nil {
			return inference.Request{}, err
		}
		messages = append(messages, inference.InputMessage{Role: m.Role, Content: content})
	}

	var additional []tools.Tool
	for _, t := range w.AdditionalTools {
		var params *schema.Schema
		if len(t.Parameters) > 0 {
			compiled, err := schema.Compile(t.Parameters)
			if err != nil {
				return inference.Request{}, err
			}
			params = compiled
		}
		additional = append(additional, tools.Tool{Name: t.Name, Description: t.Description, Parameters: params, Strict: t.Strict})
	}

	var choice *model.ToolChoice
	if w.ToolChoice != nil {
		choice = &model.ToolChoice{Mode: model.ToolChoiceMode(w.ToolChoice.Mode), Name: w.ToolChoice.Name}
	}

	return inference.Request{
		FunctionName: w.FunctionName,
		ModelName:    w.ModelName,
		VariantName:  w.VariantName,
		EpisodeID:    w.EpisodeID,
		Input: inference.Input{
			System:   w.Input.System,
			Messages: messages,
		},
		Stream: w.Stream,
		Params: inference.GenerationOverrides{
			Temperature:      w.Params.Temperature,
			TopP:             w.Params.TopP,
			MaxTokens:        w.Params.MaxTokens,
			Seed:             w.Params.Seed,
			PresencePenalty:  w.Params.PresencePenalty,
			FrequencyPenalty: w.Params.FrequencyPenalty,
			StopSequences:    w.Params.StopSequences,
		},
		AllowedTools:      w.AllowedTools,
		AdditionalTools:   additional,
		ToolChoice:        choice,
		ParallelToolCalls: w.ParallelToolCalls,
		OutputSchema:      w.OutputSchema,
		Tags:              w.Tags,
		Credentials:       w.Credentials,
	}, nil
}

func mustMarshal(v []json.RawMessage) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("[]")
	}
	return data
}

// inferenceResponseWire is the non-streaming response body.
type inferenceResponseWire struct {
	InferenceID string          `json:"inference_id"`
	EpisodeID   string          `json:"episode_id"`
	VariantName string          `json:"variant_name"`
	Output      json.RawMessage `json:"output"`
	Usage       usageWire       `json:"usage"`
}

type usageWire struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// chunkWire is one SSE event's JSON body (spec §6 "Streaming wire format").
type chunkWire struct {
	Type        string          `json:"type"`
	ID          string          `json:"id,omitempty"`
	InsertIndex int             `json:"insert_index"`
	Text        string          `json:"text,omitempty"`
	ToolName    string          `json:"tool_name,omitempty"`
	Arguments   string          `json:"arguments,omitempty"`
	Usage       *usageWire      `json:"usage,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
}

func chunkToWire(c model.Chunk, insertIndex int) chunkWire {
	w := chunkWire{Type: string(c.Type), ID: c.ID, InsertIndex: insertIndex}
	switch c.Type {
	case model.ChunkText, model.ChunkThought:
		w.Text = c.Text
	case model.ChunkToolCall:
		w.ToolName = c.ToolName
		w.Arguments = c.ArgsFragment
	case model.ChunkUsage:
		if c.Usage != nil {
			w.Usage = &usageWire{InputTokens: c.Usage.InputTokens, OutputTokens: c.Usage.OutputTokens}
		}
	case model.ChunkStop:
		w.FinishReason = string(c.FinishReason)
	}
	return w
}

// batchStartRequestWire mirrors batch.StartRequest at the wire boundary.
type batchStartRequestWire struct {
	FunctionName string          `json:"function_name"`
	VariantName  string          `json:"variant_name"`
	Inputs       []json.RawMessage `json:"inputs"`
	EpisodeIDs   []string        `json:"episode_ids"`
	Tags         []map[string]string `json:"tags"`
}

type batchStartResponseWire struct {
	BatchID      string   `json:"batch_id"`
	InferenceIDs []string `json:"inference_ids"`
	EpisodeIDs   []string `json:"episode_ids"`
}

type batchPollRequestWire struct {
	BatchID     string `json:"batch_id"`
	InferenceID string `json:"inference_id"`
}

type batchPollResponseWire struct {
	BatchID       string                   `json:"batch_id"`
	Status        string                   `json:"status"`
	FailureReason string                   `json:"failure_reason,omitempty"`
	Completed     []batchCompletedItemWire `json:"completed,omitempty"`
}

type batchCompletedItemWire struct {
	InferenceID string          `json:"inference_id"`
	Output      json.RawMessage `json:"output"`
	Usage       usageWire       `json:"usage"`
}

type feedbackRequestWire struct {
	MetricName string            `json:"metric_name"`
	Value      json.RawMessage   `json:"value"`
	TargetID   string            `json:"target_id"`
	Tags       map[string]string `json:"tags"`
	DryRun     bool              `json:"dryrun"`
}

type feedbackResponseWire struct {
	FeedbackID string `json:"feedback_id,omitempty"`
}

type errorResponseWire struct {
	Error string `json:"error"`
}
