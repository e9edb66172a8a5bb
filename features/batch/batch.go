// Package batch implements batch inference start/poll (spec §4.7): one
// variant is sampled for the whole batch, the request is submitted through
// the selected provider's StartBatchInference (every adapter here fans it
// out as ordinary Infer calls via model.SyncBatcher), and results are joined
// back by inference id when the batch is polled.
package batch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tensorzero/gateway/features/olap"
	"github.com/tensorzero/gateway/runtime/config"
	"github.com/tensorzero/gateway/runtime/errors"
	"github.com/tensorzero/gateway/runtime/ids"
	"github.com/tensorzero/gateway/runtime/model"
	"github.com/tensorzero/gateway/runtime/router"
	"github.com/tensorzero/gateway/runtime/variant"
)

// Service drives the batch state machine.
type Service struct {
	Config *config.Config
	Router *router.Router
	Store  olap.Store

	Now func() time.Time
}

func New(cfg *config.Config, r *router.Router, store olap.Store) *Service {
	return &Service{Config: cfg, Router: r, Store: store, Now: time.Now}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Item is one inference's worth of input within a batch start request.
type Item struct {
	EpisodeID    string
	Input        json.RawMessage
	OutputSchema json.RawMessage
	Tags         map[string]string
}

// StartRequest is the normalized batch_inference request body.
type StartRequest struct {
	FunctionName string
	VariantName  string // optional pin
	Items        []Item
}

// StartResult is returned from Start (spec §4.7 "Returns (batch_id,
// inference_ids, episode_ids)").
type StartResult struct {
	BatchID      string
	InferenceIDs []string
	EpisodeIDs   []string
}

// Start validates a batch request, samples one variant for the whole batch,
// submits it through the provider's native batch API, and persists the
// BatchModelInference/BatchRequest rows.
func (s *Service) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	if len(req.Items) == 0 {
		return nil, errors.New(errors.KindInvalidRequest, "batch_inference requires at least one item")
	}

	fc, ok := s.Config.Functions[req.FunctionName]
	if !ok {
		return nil, errors.New(errors.KindUnknownFunction, "unknown function %q", req.FunctionName)
	}

	inferenceIDs := make([]uuid.UUID, len(req.Items))
	episodeIDs := make([]uuid.UUID, len(req.Items))
	for i, item := range req.Items {
		id, err := ids.New()
		if err != nil {
			return nil, errors.Wrap(errors.KindInternalError, err, "failed to mint inference id")
		}
		inferenceIDs[i] = id
		if item.EpisodeID == "" {
			episodeIDs[i] = id
			continue
		}
		epID, err := ids.Validate(item.EpisodeID, s.now())
		if err != nil {
			return nil, errors.Wrap(errors.KindInvalidRequest, err, "invalid episode_id at item %d", i).WithPath("episode_ids")
		}
		episodeIDs[i] = epID
	}

	candidates := map[string]config.Variant{}
	if req.VariantName != "" {
		v, ok := fc.Variants[req.VariantName]
		if !ok {
			return nil, errors.New(errors.KindUnknownVariant, "function %q has no variant %q", req.FunctionName, req.VariantName)
		}
		candidates[req.VariantName] = v
	} else {
		for k, v := range fc.Variants {
			candidates[k] = v
		}
	}
	// Deterministic on the first episode id (spec §4.7 "Start").
	variantName, v, err := variant.SelectFrom(candidates, episodeIDs[0])
	if err != nil {
		return nil, err
	}
	vc, ok := v.(*config.ChatCompletionVariantConfig)
	if !ok {
		return nil, errors.New(errors.KindInvalidRequest, "batch inference requires a chat_completion variant, got %T", v)
	}

	attempts, err := s.Router.Attempts(vc.Model, nil)
	if err != nil {
		return nil, err
	}
	if len(attempts) == 0 {
		return nil, errors.New(errors.KindModelProvidersExhausted, "model %q has no configured providers", vc.Model)
	}
	a := attempts[0]

	batchReqs := make([]model.BatchRequest, len(req.Items))
	for i, item := range req.Items {
		var value any
		if err := json.Unmarshal(item.Input, &value); err != nil {
			return nil, errors.Wrap(errors.KindInvalidRequest, err, "invalid input at item %d", i)
		}
		modelReq := &model.Request{
			ModelName: a.ModelName,
			Messages: []model.Message{
				{Role: model.RoleUser, Content: []model.ContentBlock{model.TextBlock{Text: toText(value)}}},
			},
		}
		if vc.Templates.System != nil {
			text, err := vc.Templates.System.Render(nil)
			if err == nil {
				modelReq.Messages = append([]model.Message{{Role: model.RoleSystem, Content: []model.ContentBlock{model.TextBlock{Text: text}}}}, modelReq.Messages...)
			}
		}
		batchReqs[i] = model.BatchRequest{InferenceID: inferenceIDs[i].String(), Request: *modelReq}
	}
	start, err := a.Provider.StartBatchInference(router.WithAttemptCredentials(ctx, a), batchReqs)
	if err != nil {
		return nil, errors.Wrap(errors.KindInference, err, "failed to start batch")
	}

	for i, item := range req.Items {
		meta := start.PerInference[inferenceIDs[i].String()]
		_ = s.Store.WriteBatchModelInference(ctx, olap.BatchModelInferenceRow{
			BatchID:          start.BatchID,
			InferenceID:      inferenceIDs[i].String(),
			EpisodeID:        episodeIDs[i].String(),
			FunctionName:     req.FunctionName,
			VariantName:      variantName,
			ModelName:        vc.Model,
			ProviderName:     a.ProviderName,
			Input:            item.Input,
			ProviderMetadata: meta,
			CreatedAt:        s.now(),
		})
	}
	if err := s.Store.WriteBatchRequestStatus(ctx, olap.BatchRequestRow{
		BatchID:      start.BatchID,
		Status:       model.BatchPending,
		ModelName:    vc.Model,
		ProviderName: a.ProviderName,
		CreatedAt:    s.now(),
	}); err != nil {
		return nil, errors.Wrap(errors.KindClickHouseQuery, err, "failed to persist batch request row")
	}

	out := &StartResult{BatchID: start.BatchID}
	for i := range req.Items {
		out.InferenceIDs = append(out.InferenceIDs, inferenceIDs[i].String())
		out.EpisodeIDs = append(out.EpisodeIDs, episodeIDs[i].String())
	}
	return out, nil
}

func toText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// PollRequest identifies exactly one of batch_id or inference_id (spec §4.7
// "Poll").
type PollRequest struct {
	BatchID     string
	InferenceID string
}

// PollResult mirrors the current state of a batch after polling.
type PollResult struct {
	BatchID string
	Status  model.BatchStatus
	// Completed holds one CompletedInference per inference the provider
	// returned a completion for, populated only when Status is
	// BatchCompleted; inferences without a completion are omitted.
	Completed []CompletedInference
	// FailureReason is populated only when Status is BatchFailed.
	FailureReason string
}

// CompletedInference is one finished inference within a completed batch.
type CompletedInference struct {
	InferenceID string
	Output      []model.ContentBlock
	Usage       model.Usage
}

// Poll resolves a batch id (or inference id) to its latest status, asking the
// provider for an update when the batch is still pending.
func (s *Service) Poll(ctx context.Context, req PollRequest) (*PollResult, error) {
	if (req.BatchID == "") == (req.InferenceID == "") {
		return nil, errors.New(errors.KindInvalidRequest, "poll requires exactly one of batch_id or inference_id")
	}

	batchID := req.BatchID
	if batchID == "" {
		id, err := s.Store.BatchIDForInference(ctx, req.InferenceID)
		if err != nil {
			return nil, errors.Wrap(errors.KindClickHouseQuery, err, "failed to look up batch for inference")
		}
		if id == "" {
			return nil, errors.New(errors.KindInferenceNotFound, "inference %q is not part of any batch", req.InferenceID)
		}
		batchID = id
	}

	latest, err := s.Store.LatestBatchRequest(ctx, batchID)
	if err != nil {
		return nil, errors.Wrap(errors.KindClickHouseQuery, err, "failed to load batch request status")
	}
	if latest == nil {
		return nil, errors.New(errors.KindBatchNotFound, "unknown batch %q", batchID)
	}
	if latest.Status != model.BatchPending {
		return s.terminalResult(ctx, batchID, latest)
	}

	rows, err := s.Store.BatchModelInferencesForBatch(ctx, batchID)
	if err != nil {
		return nil, errors.Wrap(errors.KindClickHouseQuery, err, "failed to load batch inference rows")
	}
	provider, ok := s.Router.ProviderByName(latest.ModelName, latest.ProviderName)
	if !ok {
		return nil, errors.New(errors.KindConfig, "batch %q references unresolvable provider %q", batchID, latest.ProviderName)
	}
	perInference := make(map[string]string, len(rows))
	for _, r := range rows {
		perInference[r.InferenceID] = string(r.ProviderMetadata)
	}

	poll, err := provider.PollBatchInference(ctx, batchID, perInference)
	if err != nil {
		return nil, errors.Wrap(errors.KindInference, err, "failed to poll batch")
	}

	switch poll.Status {
	case model.BatchPending:
		_ = s.Store.WriteBatchRequestStatus(ctx, olap.BatchRequestRow{
			BatchID: batchID, Status: model.BatchPending,
			ModelName: latest.ModelName, ProviderName: latest.ProviderName, CreatedAt: s.now(),
		})
		return &PollResult{BatchID: batchID, Status: model.BatchPending}, nil
	case model.BatchFailed:
		_ = s.Store.WriteBatchRequestStatus(ctx, olap.BatchRequestRow{
			BatchID: batchID, Status: model.BatchFailed, FailureReason: poll.FailureReason,
			ModelName: latest.ModelName, ProviderName: latest.ProviderName, CreatedAt: s.now(),
		})
		return &PollResult{BatchID: batchID, Status: model.BatchFailed, FailureReason: poll.FailureReason}, nil
	default: // BatchCompleted
		result := &PollResult{BatchID: batchID, Status: model.BatchCompleted}
		for _, row := range rows {
			resp, ok := poll.Completions[row.InferenceID]
			if !ok {
				continue
			}
			result.Completed = append(result.Completed, CompletedInference{InferenceID: row.InferenceID, Output: resp.Content, Usage: resp.Usage})
			_ = s.Store.WriteChatInference(ctx, olap.ChatInferenceRow{
				InferenceID:  row.InferenceID,
				EpisodeID:    row.EpisodeID,
				FunctionName: row.FunctionName,
				VariantName:  row.VariantName,
				Input:        row.Input,
				Output:       encodeOrNull(resp.Content),
				Usage:        resp.Usage,
				CreatedAt:    s.now(),
			})
		}
		_ = s.Store.WriteBatchRequestStatus(ctx, olap.BatchRequestRow{
			BatchID: batchID, Status: model.BatchCompleted,
			ModelName: latest.ModelName, ProviderName: latest.ProviderName, CreatedAt: s.now(),
		})
		return result, nil
	}
}

// terminalResult rebuilds a PollResult for a batch whose latest status row is
// already Completed or Failed, without re-polling the provider.
func (s *Service) terminalResult(ctx context.Context, batchID string, latest *olap.BatchRequestRow) (*PollResult, error) {
	if latest.Status == model.BatchFailed {
		return &PollResult{BatchID: batchID, Status: model.BatchFailed, FailureReason: latest.FailureReason}, nil
	}
	rows, err := s.Store.BatchModelInferencesForBatch(ctx, batchID)
	if err != nil {
		return nil, errors.Wrap(errors.KindClickHouseQuery, err, "failed to load batch inference rows")
	}
	result := &PollResult{BatchID: batchID, Status: model.BatchCompleted}
	for _, row := range rows {
		result.Completed = append(result.Completed, CompletedInference{InferenceID: row.InferenceID})
	}
	return result, nil
}

func encodeOrNull(blocks []model.ContentBlock) json.RawMessage {
	data, err := model.EncodeContentBlocks(blocks)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}
