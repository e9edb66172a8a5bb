package inference

import (
	"context"
	stderrors "errors"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/tensorzero/gateway/features/dicl"
	"github.com/tensorzero/gateway/features/olap"
	"github.com/tensorzero/gateway/runtime/config"
	"github.com/tensorzero/gateway/runtime/errors"
	"github.com/tensorzero/gateway/runtime/ids"
	"github.com/tensorzero/gateway/runtime/model"
	"github.com/tensorzero/gateway/runtime/router"
	"github.com/tensorzero/gateway/runtime/schema"
	"github.com/tensorzero/gateway/runtime/streaming"
	"github.com/tensorzero/gateway/runtime/tools"
	"github.com/tensorzero/gateway/runtime/variant"
)

// Orchestrator ties function/variant resolution, rendering, router dispatch,
// and persistence into the single inference operation the HTTP boundary
// calls (spec §2 "Control flow", §4.3-§4.6).
type Orchestrator struct {
	Config *config.Config
	Router *router.Router
	Store  olap.Store

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func New(cfg *config.Config, r *router.Router, store olap.Store) *Orchestrator {
	return &Orchestrator{Config: cfg, Router: r, Store: store, Now: time.Now}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// attempt records one provider call actually issued while resolving an
// inference, successful or not, for ModelInference persistence (spec §6
// "may be several per inference for DICL/fallback").
type attempt struct {
	providerName string
	modelName    string
	req          *model.Request
	resp         *model.Response
	err          error
}

// resolveFunction returns fc, or a synthetic single-variant ChatCompletion
// function wrapping req.ModelName for the direct `model_name::…` form (spec
// §6 "function_name... required unless a direct model_name::… form is
// used").
func (o *Orchestrator) resolveFunction(req Request) (*config.FunctionConfig, error) {
	if req.ModelName != "" {
		return &config.FunctionConfig{
			Name: "model_name::" + req.ModelName,
			Kind: config.FunctionChat,
			Variants: map[string]config.Variant{
				"__direct__": &config.ChatCompletionVariantConfig{W: 1, Model: req.ModelName},
			},
		}, nil
	}
	fc, ok := o.Config.Functions[req.FunctionName]
	if !ok {
		return nil, errors.New(errors.KindUnknownFunction, "unknown function %q", req.FunctionName)
	}
	if len(req.OutputSchema) > 0 && fc.Kind == config.FunctionJSON {
		compiled, err := schema.Compile(req.OutputSchema)
		if err != nil {
			return nil, errors.Wrap(errors.KindInvalidRequest, err, "invalid output_schema").WithPath("output_schema")
		}
		override := *fc
		override.OutputSchema = compiled
		fc = &override
	}
	return fc, nil
}

// candidateVariants builds the initial candidate set per spec §4.3 step 3:
// either the single pinned variant, or every variant of the function.
func candidateVariants(fc *config.FunctionConfig, pinned string) (map[string]config.Variant, error) {
	if pinned == "" {
		out := make(map[string]config.Variant, len(fc.Variants))
		for k, v := range fc.Variants {
			out[k] = v
		}
		return out, nil
	}
	v, ok := fc.Variants[pinned]
	if !ok {
		return nil, errors.New(errors.KindUnknownVariant, "function %q has no variant %q", fc.Name, pinned)
	}
	return map[string]config.Variant{pinned: v}, nil
}

// resolveStaticTools builds fc's static tool list, including the implicit
// respond tool a Json function with JSONMode=on needs (spec §4.6); the
// request's dynamic overrides are merged later by variant.RenderChatCompletion
// itself via tools.Build, so this never applies them twice.
func (o *Orchestrator) resolveStaticTools(fc *config.FunctionConfig, jsonMode model.JSONMode) ([]tools.Tool, error) {
	static := make([]tools.Tool, 0, len(fc.Tools))
	for _, name := range fc.Tools {
		tc, ok := o.Config.Tools[name]
		if !ok {
			return nil, errors.New(errors.KindUnknownTool, "function %q references unknown tool %q", fc.Name, name)
		}
		static = append(static, tools.Tool{Name: tc.Name, Description: tc.Description, Parameters: tc.Parameters, Strict: tc.Strict})
	}
	if fc.Kind == config.FunctionJSON && jsonMode == model.JSONModeOn && fc.OutputSchema != nil {
		static = append(static, tools.ImplicitJSONTool(fc.OutputSchema))
	}
	return static, nil
}

// renderVariant builds the provider-agnostic model.Request for one sampled
// variant.
func (o *Orchestrator) renderVariant(ctx context.Context, fc *config.FunctionConfig, name string, v config.Variant, req Request) (*model.Request, error) {
	switch vc := v.(type) {
	case *config.ChatCompletionVariantConfig:
		input, err := buildChatCompletionInput(fc, vc, req.Input)
		if err != nil {
			return nil, err
		}
		staticTools, err := o.resolveStaticTools(fc, vc.JSONMode)
		if err != nil {
			return nil, err
		}
		dynReq := tools.DynamicToolRequest{AllowedTools: req.AllowedTools, AdditionalTools: req.AdditionalTools, ToolChoice: req.ToolChoice, ParallelToolCalls: req.ParallelToolCalls}
		return variant.RenderChatCompletion(fc, vc, input, variant.GenerationOverrides(req.Params), staticTools, dynReq)
	case *config.DICLVariantConfig:
		flattened, err := rejectIncompatibleDICLBlocks(flattenInput(req.Input))
		if err != nil {
			return nil, err
		}
		query, err := blocksToJSON(flattened)
		if err != nil {
			return nil, err
		}
		embedder := &routerEmbedder{router: o.Router}
		var queryText string
		if err := json.Unmarshal(query, &queryText); err != nil {
			queryText = string(query)
		}
		return dicl.Render(ctx, fc.Name, name, vc, embedder, o.Store, queryText, variant.GenerationOverrides(req.Params))
	default:
		return nil, errors.New(errors.KindConfig, "function %q variant %q has unrecognized variant kind", fc.Name, name)
	}
}

// flattenInput serializes the whole input (system + messages) to one content
// block list for DICL's canonical embedding text (spec §4.5 "Embed: serialize
// the caller's input to a canonical JSON string").
func flattenInput(in Input) []model.ContentBlock {
	var blocks []model.ContentBlock
	if in.System != nil {
		blocks = append(blocks, model.TextBlock{Text: string(in.System)})
	}
	for _, m := range in.Messages {
		blocks = append(blocks, m.Content...)
	}
	return blocks
}

// rejectIncompatibleDICLBlocks rejects content blocks a DICL prompt can't
// meaningfully embed: a tool call/result or an opaque block has no useful
// textual form, so it fails closed instead of silently serializing whatever
// JSON shape the block happens to have. Images have no dedicated ContentBlock
// in this gateway and arrive as UnknownBlock (type "image"), so rejecting
// UnknownBlock covers both cases.
func rejectIncompatibleDICLBlocks(blocks []model.ContentBlock) ([]model.ContentBlock, error) {
	for _, b := range blocks {
		var blockType string
		switch v := b.(type) {
		case model.ToolCallBlock:
			blockType = "tool_call"
		case model.ToolResultBlock:
			blockType = "tool_result"
		case model.UnknownBlock:
			blockType = v.Type
			if blockType == "" {
				blockType = "unknown"
			}
		default:
			continue
		}
		return nil, errors.New(errors.KindUnsupportedContentBlockType,
			"dicl variant does not support content block type %q", blockType)
	}
	return blocks, nil
}

// dispatch runs req against modelName's providers in routing order,
// recording every attempt actually made. It returns the first successful
// response, or a ModelProvidersExhausted error if every provider failed.
func (o *Orchestrator) dispatch(ctx context.Context, modelName string, req *model.Request, creds map[string]string) (*model.Response, []attempt, error) {
	attempts, err := o.Router.Attempts(modelName, creds)
	if err != nil {
		return nil, nil, err
	}
	var made []attempt
	var failures []router.ProviderFailure
	for _, a := range attempts {
		vendorReq := *req
		vendorReq.ModelName = a.ModelName
		resp, err := a.Provider.Infer(router.WithAttemptCredentials(ctx, a), &vendorReq)
		made = append(made, attempt{providerName: a.ProviderName, modelName: modelName, req: &vendorReq, resp: resp, err: err})
		if err != nil {
			failures = append(failures, router.ProviderFailure{ProviderName: a.ProviderName, Err: err})
			continue
		}
		return resp, made, nil
	}
	return nil, made, router.AggregateFailures(modelName, failures)
}

// Run executes a non-streaming inference (spec §4.3-§4.6).
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	fc, err := o.resolveFunction(req)
	if err != nil {
		return nil, err
	}
	if err := validateInput(fc, req.Input); err != nil {
		return nil, err
	}

	episodeID, inferenceID, err := o.resolveIDs(req.EpisodeID)
	if err != nil {
		return nil, err
	}

	candidates, err := candidateVariants(fc, req.VariantName)
	if err != nil {
		return nil, err
	}

	variantErrors := map[string]error{}
	start := o.now()
	for {
		name, v, err := variant.SelectFrom(candidates, episodeID)
		if err != nil {
			return nil, errors.Wrap(errors.KindAllVariantsFailed, err, "all variants failed for function %q: %d variant(s) tried", fc.Name, len(variantErrors))
		}

		modelReq, err := o.renderVariant(ctx, fc, name, v, req)
		if err != nil {
			variantErrors[name] = err
			delete(candidates, name)
			continue
		}

		resp, attempts, err := o.dispatch(ctx, v.ModelName(), modelReq, req.Credentials)
		o.persistAttempts(ctx, inferenceID.String(), attempts)
		if err != nil {
			variantErrors[name] = err
			delete(candidates, name)
			continue
		}

		if err := o.validateOutput(fc, resp); err != nil {
			variantErrors[name] = err
			delete(candidates, name)
			continue
		}

		o.persistInference(ctx, fc, name, inferenceID.String(), episodeID.String(), req, resp, o.now().Sub(start))

		return &Result{
			InferenceID:   inferenceID.String(),
			EpisodeID:     episodeID.String(),
			VariantName:   name,
			Output:        resp.Content,
			Usage:         resp.Usage,
			VariantErrors: variantErrors,
		}, nil
	}
}

// StreamEvent is one item delivered on a RunStream channel: either a raw
// provider chunk or a terminal error.
type StreamEvent struct {
	Chunk model.Chunk
	Err   error
	Done  bool
}

// StreamHandle is the live handle to a streaming inference (spec §4.1
// "Streaming", §6 "Streaming wire format").
type StreamHandle struct {
	InferenceID string
	EpisodeID   string
	VariantName string
	Events      <-chan StreamEvent
}

// RunStream resolves a function/variant exactly like Run but dispatches via
// InferStream, forwarding chunks to the caller as they arrive while also
// reassembling them in the background for persistence. An error the stream
// delivers after InferStream has returned is forwarded as a StreamEvent
// error; it does not trigger variant or provider failover.
func (o *Orchestrator) RunStream(ctx context.Context, req Request) (*StreamHandle, error) {
	fc, err := o.resolveFunction(req)
	if err != nil {
		return nil, err
	}
	if err := validateInput(fc, req.Input); err != nil {
		return nil, err
	}

	episodeID, inferenceID, err := o.resolveIDs(req.EpisodeID)
	if err != nil {
		return nil, err
	}

	candidates, err := candidateVariants(fc, req.VariantName)
	if err != nil {
		return nil, err
	}

	variantErrors := map[string]error{}
	start := o.now()
	for {
		name, v, err := variant.SelectFrom(candidates, episodeID)
		if err != nil {
			return nil, errors.Wrap(errors.KindAllVariantsFailed, err, "all variants failed for function %q: %d variant(s) tried", fc.Name, len(variantErrors))
		}

		modelReq, err := o.renderVariant(ctx, fc, name, v, req)
		if err != nil {
			variantErrors[name] = err
			delete(candidates, name)
			continue
		}
		modelReq.Stream = true

		stream, providerName, vendorReq, err := o.dispatchStream(ctx, v.ModelName(), modelReq, req.Credentials)
		if err != nil {
			variantErrors[name] = err
			delete(candidates, name)
			continue
		}

		events := make(chan StreamEvent, 16)
		go o.pumpStream(ctx, fc, name, providerName, inferenceID.String(), episodeID.String(), req, vendorReq, stream, events, start)

		return &StreamHandle{
			InferenceID: inferenceID.String(),
			EpisodeID:   episodeID.String(),
			VariantName: name,
			Events:      events,
		}, nil
	}
}

// dispatchStream is dispatch's streaming counterpart: an error returned by
// InferStream itself (the provider rejected the request before the stream
// opened) triggers the same per-provider failover as a non-streaming call.
// No chunk is read here, so an error carried by the stream's first chunk
// reaches the caller through Recv instead.
func (o *Orchestrator) dispatchStream(ctx context.Context, modelName string, req *model.Request, creds map[string]string) (model.Streamer, string, *model.Request, error) {
	attempts, err := o.Router.Attempts(modelName, creds)
	if err != nil {
		return nil, "", nil, err
	}
	var failures []router.ProviderFailure
	for _, a := range attempts {
		vendorReq := *req
		vendorReq.ModelName = a.ModelName
		s, err := a.Provider.InferStream(router.WithAttemptCredentials(ctx, a), &vendorReq)
		if err != nil {
			failures = append(failures, router.ProviderFailure{ProviderName: a.ProviderName, Err: err})
			continue
		}
		return s, a.ProviderName, &vendorReq, nil
	}
	return nil, "", nil, router.AggregateFailures(modelName, failures)
}

func (o *Orchestrator) pumpStream(ctx context.Context, fc *config.FunctionConfig, variantName, providerName, inferenceID, episodeID string, req Request, modelReq *model.Request, stream model.Streamer, events chan<- StreamEvent, start time.Time) {
	defer close(events)
	defer stream.Close()

	reassembler := streaming.NewReassembler()
	for {
		chunk, err := stream.Recv()
		if err != nil {
			if stderrors.Is(err, io.EOF) {
				events <- StreamEvent{Done: true}
				break
			}
			events <- StreamEvent{Err: err}
			return
		}
		reassembler.Add(chunk)
		events <- StreamEvent{Chunk: chunk}
	}

	resp := reassembler.Response()
	o.persistAttempts(ctx, inferenceID, []attempt{{providerName: providerName, modelName: modelReq.ModelName, req: modelReq, resp: resp}})
	o.persistInference(ctx, fc, variantName, inferenceID, episodeID, req, resp, o.now().Sub(start))
}

func (o *Orchestrator) resolveIDs(episodeIDStr string) (uuid.UUID, uuid.UUID, error) {
	inferenceID, err := ids.New()
	if err != nil {
		return uuid.Nil, uuid.Nil, errors.Wrap(errors.KindInternalError, err, "failed to mint inference id")
	}
	if episodeIDStr == "" {
		return inferenceID, inferenceID, nil
	}
	episodeID, err := ids.Validate(episodeIDStr, o.now())
	if err != nil {
		return uuid.Nil, uuid.Nil, errors.Wrap(errors.KindInvalidRequest, err, "invalid episode_id").WithPath("episode_id")
	}
	return episodeID, inferenceID, nil
}

// validateOutput schema-checks a Json function's response against its
// output schema (spec §4.6 "validating a tool-call output").
func (o *Orchestrator) validateOutput(fc *config.FunctionConfig, resp *model.Response) error {
	if fc.Kind != config.FunctionJSON || fc.OutputSchema == nil {
		return nil
	}
	var raw []byte
	if len(resp.Content) == 1 {
		switch b := resp.Content[0].(type) {
		case model.TextBlock:
			raw = []byte(b.Text)
		case model.ToolCallBlock:
			raw = b.Arguments
		}
	}
	if raw == nil {
		encoded, err := blocksToJSON(resp.Content)
		if err != nil {
			return errors.Wrap(errors.KindSerialization, err, "failed to encode json function output")
		}
		raw = encoded
	}
	if err := fc.OutputSchema.ValidateBytes(raw); err != nil {
		return errors.Wrap(errors.KindJSONSchemaValidation, err, "output failed schema validation")
	}
	return nil
}

func (o *Orchestrator) persistAttempts(ctx context.Context, inferenceID string, attempts []attempt) {
	if o.Store == nil {
		return
	}
	for _, a := range attempts {
		row := olap.ModelInferenceRow{
			ID:           inferenceID + "/" + a.providerName,
			InferenceID:  inferenceID,
			ModelName:    a.modelName,
			ProviderName: a.providerName,
			CreatedAt:    o.now(),
		}
		if a.resp != nil {
			row.Usage = a.resp.Usage
			row.FinishReason = a.resp.FinishReason
			row.RawRequest = a.resp.RawRequest
			row.RawResponse = a.resp.RawResponse
		}
		_ = o.Store.WriteModelInference(ctx, row)
	}
}

func (o *Orchestrator) persistInference(ctx context.Context, fc *config.FunctionConfig, variantName, inferenceID, episodeID string, req Request, resp *model.Response, elapsed time.Duration) {
	if o.Store == nil {
		return
	}
	inputJSON, err := json.Marshal(req.Input)
	if err != nil {
		inputJSON = json.RawMessage("null")
	}
	outputJSON, err := model.EncodeContentBlocks(resp.Content)
	if err != nil {
		outputJSON = []byte("null")
	}
	switch fc.Kind {
	case config.FunctionJSON:
		_ = o.Store.WriteJSONInference(ctx, olap.JSONInferenceRow{
			InferenceID:  inferenceID,
			EpisodeID:    episodeID,
			FunctionName: fc.Name,
			VariantName:  variantName,
			Input:        inputJSON,
			Output:       outputJSON,
			Parsed:       true,
			Usage:        resp.Usage,
			Tags:         req.Tags,
			ProcessingMS: elapsed.Milliseconds(),
			CreatedAt:    o.now(),
		})
	default:
		_ = o.Store.WriteChatInference(ctx, olap.ChatInferenceRow{
			InferenceID:  inferenceID,
			EpisodeID:    episodeID,
			FunctionName: fc.Name,
			VariantName:  variantName,
			Input:        inputJSON,
			Output:       outputJSON,
			Usage:        resp.Usage,
			Tags:         req.Tags,
			ProcessingMS: elapsed.Milliseconds(),
			CreatedAt:    o.now(),
		})
	}
}
