// Package tools implements the tool subsystem of spec §4.6: static tool
// definitions, per-request dynamic tool overrides, and the merged
// ToolCallConfig a variant renders into a provider request.
package tools

import (
	"encoding/json"

	"github.com/tensorzero/gateway/runtime/errors"
	"github.com/tensorzero/gateway/runtime/model"
	"github.com/tensorzero/gateway/runtime/schema"
)

// Tool is a named triple (description, parameters-schema, strict-flag)
// (spec §3).
type Tool struct {
	Name        string
	Description string
	Parameters  *schema.Schema
	Strict      bool
}

// Definition converts a Tool to the provider-agnostic ToolDefinition an
// adapter consumes.
func (t Tool) Definition() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  t.Parameters.Raw(),
		Strict:      t.Strict,
	}
}

// DynamicToolRequest captures the per-request tool overrides accepted on an
// inference request (spec §6 "allowed_tools / additional_tools / tool_choice
// / parallel_tool_calls").
type DynamicToolRequest struct {
	AllowedTools      []string // restrict to this subset of the function's static tools
	AdditionalTools   []Tool   // ad-hoc tools defined only for this request
	ToolChoice        *model.ToolChoice
	ParallelToolCalls *bool
}

// ToolCallConfig is the merged, per-request view of which tools are
// available and how tool choice is constrained.
type ToolCallConfig struct {
	Tools             []Tool
	ToolChoice        *model.ToolChoice
	ParallelToolCalls *bool
}

// Build merges a function's static tools with a request's dynamic overrides.
// staticTools is the function's configured tool list; staticChoice and
// staticParallel are the function's defaults. The merge rejects duplicate
// names across static and additional tools and unknown names in
// AllowedTools (spec §4.6).
func Build(staticTools []Tool, staticChoice *model.ToolChoice, staticParallel *bool, dyn DynamicToolRequest) (*ToolCallConfig, error) {
	byName := make(map[string]Tool, len(staticTools))
	order := make([]string, 0, len(staticTools))
	for _, t := range staticTools {
		byName[t.Name] = t
		order = append(order, t.Name)
	}

	available := byName
	activeOrder := order
	if len(dyn.AllowedTools) > 0 {
		available = make(map[string]Tool, len(dyn.AllowedTools))
		activeOrder = nil
		for _, name := range dyn.AllowedTools {
			t, ok := byName[name]
			if !ok {
				return nil, errors.New(errors.KindUnknownTool, "allowed_tools references unknown tool %q", name)
			}
			available[name] = t
			activeOrder = append(activeOrder, name)
		}
	}

	for _, extra := range dyn.AdditionalTools {
		_, isStatic := byName[extra.Name]
		if _, exists := available[extra.Name]; exists || isStatic {
			return nil, errors.New(errors.KindDuplicateTool, "dynamic tool %q collides with an existing tool name", extra.Name)
		}
		available[extra.Name] = extra
		activeOrder = append(activeOrder, extra.Name)
	}

	cfg := &ToolCallConfig{
		Tools:             make([]Tool, 0, len(activeOrder)),
		ToolChoice:        staticChoice,
		ParallelToolCalls: staticParallel,
	}
	for _, name := range activeOrder {
		cfg.Tools = append(cfg.Tools, available[name])
	}
	if dyn.ToolChoice != nil {
		cfg.ToolChoice = dyn.ToolChoice
	}
	if dyn.ParallelToolCalls != nil {
		cfg.ParallelToolCalls = dyn.ParallelToolCalls
	}

	if cfg.ToolChoice != nil && cfg.ToolChoice.Mode == model.ToolChoiceSpecific {
		if _, ok := available[cfg.ToolChoice.Name]; !ok {
			return nil, errors.New(errors.KindInvalidTool, "tool_choice names unknown tool %q", cfg.ToolChoice.Name)
		}
	}

	return cfg, nil
}

// ImplicitJSONTool synthesizes the implicit tool used when a Json function
// runs with JSONMode on: its parameters are the function's output schema
// (spec §4.6).
func ImplicitJSONTool(outputSchema *schema.Schema) Tool {
	return Tool{
		Name:        "respond",
		Description: "Respond to the user using the structured output format.",
		Parameters:  outputSchema,
		Strict:      true,
	}
}

// ValidateCall parses and schema-validates a tool call's argument JSON
// against the resolved tool's parameters (spec §4.6).
func (c *ToolCallConfig) ValidateCall(call model.ToolCallBlock) error {
	var tool *Tool
	for i := range c.Tools {
		if c.Tools[i].Name == call.Name {
			tool = &c.Tools[i]
			break
		}
	}
	if tool == nil {
		return errors.New(errors.KindUnknownTool, "tool call references unknown tool %q", call.Name)
	}
	var args any
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return errors.Wrap(errors.KindJSONSchemaValidation, err, "tool %q arguments are not valid JSON", call.Name)
	}
	if tool.Parameters != nil {
		if err := tool.Parameters.Validate(args); err != nil {
			return errors.Wrap(errors.KindJSONSchemaValidation, err, "tool %q arguments failed schema validation", call.Name)
		}
	}
	return nil
}
