package inference

import (
	"encoding/json"

	"github.com/tensorzero/gateway/runtime/config"
	"github.com/tensorzero/gateway/runtime/errors"
	"github.com/tensorzero/gateway/runtime/model"
	"github.com/tensorzero/gateway/runtime/variant"
)

// validateInput checks in against fc's configured schemas (spec §4.3 step
// 2, §3 "a schema X is present iff the corresponding template X is
// present"). A schema for a role that has no corresponding value in the
// request is an InputValidation error; a value present for a role with no
// schema passes through unvalidated.
func validateInput(fc *config.FunctionConfig, in Input) error {
	if fc.Schemas.System != nil {
		if in.System == nil {
			return errors.New(errors.KindInputValidation, "function %q requires a system input", fc.Name).WithPath("input.system")
		}
		if err := fc.Schemas.System.ValidateBytes(in.System); err != nil {
			return errors.Wrap(errors.KindInputValidation, err, "system input failed schema validation").WithPath("input.system")
		}
	}

	userMsg := lastMessageOfRole(in.Messages, model.RoleUser)
	if fc.Schemas.User != nil {
		if userMsg == nil {
			return errors.New(errors.KindInputValidation, "function %q requires a user input", fc.Name).WithPath("input.messages")
		}
		value, err := blocksToJSON(userMsg.Content)
		if err != nil {
			return errors.Wrap(errors.KindInputValidation, err, "failed to encode user input").WithPath("input.messages")
		}
		if err := fc.Schemas.User.ValidateBytes(value); err != nil {
			return errors.Wrap(errors.KindInputValidation, err, "user input failed schema validation").WithPath("input.messages")
		}
	}

	assistantMsg := lastMessageOfRole(in.Messages, model.RoleAssistant)
	if fc.Schemas.Assistant != nil {
		if assistantMsg == nil {
			return errors.New(errors.KindInputValidation, "function %q requires an assistant input", fc.Name).WithPath("input.messages")
		}
		value, err := blocksToJSON(assistantMsg.Content)
		if err != nil {
			return errors.Wrap(errors.KindInputValidation, err, "failed to encode assistant input").WithPath("input.messages")
		}
		if err := fc.Schemas.Assistant.ValidateBytes(value); err != nil {
			return errors.Wrap(errors.KindInputValidation, err, "assistant input failed schema validation").WithPath("input.messages")
		}
	}
	return nil
}

// lastMessageOfRole returns the last message of the given role, or nil if
// none exists.
func lastMessageOfRole(msgs []InputMessage, role model.Role) *InputMessage {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == role {
			return &msgs[i]
		}
	}
	return nil
}

// blocksToJSON encodes a message's content blocks for schema validation and
// templating: a single plain-text block collapses to a bare JSON string (the
// common templating case), multiple or non-text blocks encode as the full
// type-discriminated array of model.EncodeContentBlocks. Persisted rows do
// not use this encoding and never collapse a single text block.
func blocksToJSON(blocks []model.ContentBlock) (json.RawMessage, error) {
	if len(blocks) == 1 {
		if t, ok := blocks[0].(model.TextBlock); ok {
			return json.Marshal(t.Text)
		}
	}
	data, err := model.EncodeContentBlocks(blocks)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// buildChatCompletionInput assembles the variant.Input a ChatCompletion
// variant renders: the trailing user/assistant message is popped out as the
// templated value only when the variant actually defines that template
// (spec §3 "schema X present iff template X present" keeps this symmetric
// with validateInput); otherwise every message passes through as history
// verbatim, which is the common non-templated pass-through case.
func buildChatCompletionInput(fc *config.FunctionConfig, vc *config.ChatCompletionVariantConfig, in Input) (variant.Input, error) {
	history := append([]InputMessage(nil), in.Messages...)

	vi := variant.Input{}
	if vc.Templates.System != nil {
		if in.System != nil {
			var v any
			if err := json.Unmarshal(in.System, &v); err != nil {
				return variant.Input{}, errors.Wrap(errors.KindInputValidation, err, "invalid system input JSON")
			}
			vi.System = v
		}
	}

	if vc.Templates.User != nil {
		idx := lastIndexOfRole(history, model.RoleUser)
		if idx < 0 {
			return variant.Input{}, errors.New(errors.KindInputValidation, "variant requires a trailing user message to render its user template")
		}
		value, err := templateValue(history[idx].Content)
		if err != nil {
			return variant.Input{}, err
		}
		vi.User = value
		history = append(history[:idx], history[idx+1:]...)
	}

	if vc.Templates.Assistant != nil {
		idx := lastIndexOfRole(history, model.RoleAssistant)
		if idx >= 0 {
			value, err := templateValue(history[idx].Content)
			if err != nil {
				return variant.Input{}, err
			}
			vi.Assistant = value
			history = append(history[:idx], history[idx+1:]...)
		}
	}

	vi.History = make([]model.Message, 0, len(history))
	for _, m := range history {
		vi.History = append(vi.History, model.Message{Role: m.Role, Content: m.Content})
	}
	return vi, nil
}

func lastIndexOfRole(msgs []InputMessage, role model.Role) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == role {
			return i
		}
	}
	return -1
}

// templateValue decodes a message's content the same way blocksToJSON
// encodes it, so a template sees a bare string for the common single-text
// case and the full block array otherwise.
func templateValue(blocks []model.ContentBlock) (any, error) {
	raw, err := blocksToJSON(blocks)
	if err != nil {
		return nil, errors.Wrap(errors.KindInputValidation, err, "failed to encode templated input")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.Wrap(errors.KindInputValidation, err, "failed to decode templated input")
	}
	return v, nil
}
