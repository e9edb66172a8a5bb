package variant

import (
	"dario.cat/mergo"

	"github.com/tensorzero/gateway/runtime/config"
	"github.com/tensorzero/gateway/runtime/errors"
	"github.com/tensorzero/gateway/runtime/model"
	"github.com/tensorzero/gateway/runtime/tools"
)

// Input is the rendered per-role template input for a ChatCompletion
// variant: each role's data is whatever value the function's corresponding
// input schema validated (spec §4.4).
type Input struct {
	System    any
	User      any
	Assistant any
	// History carries prior-turn messages as already-resolved content
	// blocks (no further templating applied); used for multi-turn chat
	// functions.
	History []model.Message
}

// GenerationOverrides are the per-request generation parameter overrides
// that take precedence over a ChatCompletion variant's configured defaults.
type GenerationOverrides struct {
	Temperature      *float32
	TopP             *float32
	MaxTokens        *int
	Seed             *int64
	PresencePenalty  *float32
	FrequencyPenalty *float32
	StopSequences    []string
}

// RenderChatCompletion builds a provider-agnostic model.Request from a
// ChatCompletionVariantConfig: templates are executed against in, generation
// parameters are backfilled from the variant's configured defaults wherever
// a request didn't override them, and the function's static/dynamic tools
// are merged into the request's tool configuration (spec §4.4, §4.6).
func RenderChatCompletion(
	fc *config.FunctionConfig,
	vc *config.ChatCompletionVariantConfig,
	in Input,
	overrides GenerationOverrides,
	staticTools []tools.Tool,
	dynTools tools.DynamicToolRequest,
) (*model.Request, error) {
	messages, err := renderMessages(vc, in)
	if err != nil {
		return nil, err
	}

	params, err := backfillGenerationParams(vc, overrides)
	if err != nil {
		return nil, err
	}

	req := &model.Request{
		ModelName:        vc.Model,
		Messages:         messages,
		Temperature:      params.Temperature,
		TopP:             params.TopP,
		MaxTokens:        params.MaxTokens,
		Seed:             params.Seed,
		PresencePenalty:  params.PresencePenalty,
		FrequencyPenalty: params.FrequencyPenalty,
		StopSequences:    params.StopSequences,
		JSONMode:         vc.JSONMode,
	}

	if fc.Kind == config.FunctionJSON {
		req.OutputSchema = fc.OutputSchema.Raw()
	}

	cfg, err := tools.Build(staticTools, fc.ToolChoice, fc.ParallelToolCalls, dynTools)
	if err != nil {
		return nil, err
	}
	for _, t := range cfg.Tools {
		req.Tools = append(req.Tools, t.Definition())
	}
	req.ToolChoice = cfg.ToolChoice
	req.ParallelToolCalls = cfg.ParallelToolCalls

	return req, nil
}

func renderMessages(vc *config.ChatCompletionVariantConfig, in Input) ([]model.Message, error) {
	var messages []model.Message

	if vc.Templates.System != nil {
		text, err := vc.Templates.System.Render(in.System)
		if err != nil {
			return nil, errors.Wrap(errors.KindInternalError, err, "failed to render system template")
		}
		messages = append(messages, model.Message{Role: model.RoleSystem, Content: []model.ContentBlock{model.TextBlock{Text: text}}})
	}

	messages = append(messages, in.History...)

	if vc.Templates.User != nil {
		text, err := vc.Templates.User.Render(in.User)
		if err != nil {
			return nil, errors.Wrap(errors.KindInternalError, err, "failed to render user template")
		}
		messages = append(messages, model.Message{Role: model.RoleUser, Content: []model.ContentBlock{model.TextBlock{Text: text}}})
	}

	if len(messages) == 0 {
		return nil, errors.New(errors.KindInvalidRequest, "chat_completion variant produced no messages")
	}
	return messages, nil
}

// backfillGenerationParams overlays a request's explicit overrides onto the
// variant's configured defaults: any field left nil in overrides falls back
// to the variant's value, while a field set in overrides takes precedence.
// This is the natural fit for dario.cat/mergo's WithOverride merge — unlike
// tool-list merging (spec §4.6, a hard collision error, not an overlay) this
// really is one partial record completing another.
func backfillGenerationParams(vc *config.ChatCompletionVariantConfig, overrides GenerationOverrides) (GenerationOverrides, error) {
	base := GenerationOverrides{
		Temperature:      vc.Temperature,
		TopP:             vc.TopP,
		MaxTokens:        vc.MaxTokens,
		Seed:             vc.Seed,
		PresencePenalty:  vc.PresencePenalty,
		FrequencyPenalty: vc.FrequencyPenalty,
		StopSequences:    vc.StopSequences,
	}
	if err := mergo.Merge(&base, overrides, mergo.WithOverride); err != nil {
		return GenerationOverrides{}, errors.Wrap(errors.KindInternalError, err, "failed to merge generation parameters")
	}
	return base, nil
}
