// Package inference implements the inference endpoint (spec §4.3, §4.4,
// §4.5): function→variant resolution, input validation, variant rendering,
// dispatch through the model router with per-variant failover, and
// persistence of the resulting ChatInference/JsonInference/ModelInference
// rows.
package inference

import (
	"encoding/json"

	"github.com/tensorzero/gateway/runtime/model"
	"github.com/tensorzero/gateway/runtime/tools"
)

// InputMessage is one message of the caller-supplied conversation (spec §6
// "input": "{system?, messages: [{role, content: [blocks]}]}").
type InputMessage struct {
	Role    model.Role
	Content []model.ContentBlock
}

// Input is the inference request's provider-agnostic input payload.
type Input struct {
	// System is the raw value fed to the function's system schema/template,
	// nil if the caller supplied none.
	System json.RawMessage
	Messages []InputMessage
}

// Request is the normalized inference request produced by the HTTP
// boundary (spec §6 "Inference request (JSON)").
type Request struct {
	FunctionName string
	// ModelName, when set, bypasses function resolution and runs a single
	// anonymous ChatCompletion-shaped variant directly against this model
	// (spec §6 "a direct model_name::... form").
	ModelName string

	VariantName string // optional pin
	EpisodeID   string // optional; minted if empty

	Input  Input
	Stream bool

	Params GenerationOverrides

	AllowedTools      []string
	AdditionalTools   []tools.Tool
	ToolChoice        *model.ToolChoice
	ParallelToolCalls *bool

	// OutputSchema overrides a Json function's configured output schema for
	// this request only.
	OutputSchema json.RawMessage

	Tags map[string]string

	// Credentials is the per-request dynamic credential map (spec §6
	// "credentials (string→secret)"), consulted by provider credential
	// resolution and never retained past the request.
	Credentials map[string]string
}

// GenerationOverrides mirrors runtime/variant.GenerationOverrides at the
// HTTP boundary, kept as a distinct type so the wire schema and the
// variant-rendering contract can evolve independently.
type GenerationOverrides struct {
	Temperature      *float32
	TopP             *float32
	MaxTokens        *int
	Seed             *int64
	PresencePenalty  *float32
	FrequencyPenalty *float32
	StopSequences    []string
}

// Result is the outcome of a non-streaming Run call.
type Result struct {
	InferenceID string
	EpisodeID   string
	VariantName string
	Output      []model.ContentBlock
	Usage       model.Usage
	// VariantErrors records every variant that failed before VariantName
	// succeeded (spec §4.3 "on successful inference, finalize"), attached to
	// observability rather than surfaced to the caller.
	VariantErrors map[string]error
}
