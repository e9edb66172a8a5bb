package inference

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorzero/gateway/features/dicl"
	"github.com/tensorzero/gateway/features/olap"
	"github.com/tensorzero/gateway/runtime/config"
	gatewayerrors "github.com/tensorzero/gateway/runtime/errors"
	"github.com/tensorzero/gateway/runtime/model"
	"github.com/tensorzero/gateway/runtime/router"
)

// fakeProvider lets each test script an exact sequence of Infer outcomes, so
// failover behavior can be exercised deterministically.
type fakeProvider struct {
	modelNames []string // ModelName seen on each Infer call, in order
	responses  []*model.Response
	errs       []error
	call       int
}

func (f *fakeProvider) Infer(ctx context.Context, req *model.Request) (*model.Response, error) {
	f.modelNames = append(f.modelNames, req.ModelName)
	i := f.call
	f.call++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return f.responses[i], nil
}
func (f *fakeProvider) InferStream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}
func (f *fakeProvider) StartBatchInference(ctx context.Context, reqs []model.BatchRequest) (*model.BatchStartResult, error) {
	return nil, model.ErrBatchUnsupported
}
func (f *fakeProvider) PollBatchInference(ctx context.Context, batchID string, _ map[string]string) (*model.BatchPollResult, error) {
	return nil, model.ErrBatchUnsupported
}

type fakeStore struct {
	chatRows []olap.ChatInferenceRow
	modelRows []olap.ModelInferenceRow
}

func (s *fakeStore) WriteChatInference(ctx context.Context, row olap.ChatInferenceRow) error {
	s.chatRows = append(s.chatRows, row)
	return nil
}
func (s *fakeStore) WriteJSONInference(ctx context.Context, row olap.JSONInferenceRow) error { return nil }
func (s *fakeStore) WriteModelInference(ctx context.Context, row olap.ModelInferenceRow) error {
	s.modelRows = append(s.modelRows, row)
	return nil
}
func (s *fakeStore) WriteBatchModelInference(ctx context.Context, row olap.BatchModelInferenceRow) error {
	return nil
}
func (s *fakeStore) WriteBatchRequestStatus(ctx context.Context, row olap.BatchRequestRow) error {
	return nil
}
func (s *fakeStore) LatestBatchRequest(ctx context.Context, batchID string) (*olap.BatchRequestRow, error) {
	return nil, nil
}
func (s *fakeStore) BatchModelInferencesForBatch(ctx context.Context, batchID string) ([]olap.BatchModelInferenceRow, error) {
	return nil, nil
}
func (s *fakeStore) BatchIDForInference(ctx context.Context, inferenceID string) (string, error) {
	return "", nil
}
func (s *fakeStore) WriteBooleanMetricFeedback(ctx context.Context, row olap.BooleanMetricFeedbackRow) error {
	return nil
}
func (s *fakeStore) WriteFloatMetricFeedback(ctx context.Context, row olap.FloatMetricFeedbackRow) error {
	return nil
}
func (s *fakeStore) WriteCommentFeedback(ctx context.Context, row olap.CommentFeedbackRow) error {
	return nil
}
func (s *fakeStore) WriteDemonstrationFeedback(ctx context.Context, row olap.DemonstrationFeedbackRow) error {
	return nil
}
func (s *fakeStore) InferenceExists(ctx context.Context, inferenceID string) (bool, error) {
	return false, nil
}
func (s *fakeStore) EpisodeExists(ctx context.Context, episodeID string) (bool, error) {
	return false, nil
}
func (s *fakeStore) FunctionNameForInference(ctx context.Context, inferenceID string) (string, error) {
	return "", nil
}
func (s *fakeStore) ExamplesForFunction(ctx context.Context, functionName, variantName string) ([]dicl.Example, error) {
	return nil, nil
}
func (s *fakeStore) WriteDICLExample(ctx context.Context, functionName, variantName, input, output string, embedding []float64) error {
	return nil
}

var _ olap.Store = (*fakeStore)(nil)

func singleVariantConfig(modelName string) *config.Config {
	return &config.Config{
		Functions: map[string]*config.FunctionConfig{
			"greet": {
				Name: "greet",
				Kind: config.FunctionChat,
				Variants: map[string]config.Variant{
					"only": &config.ChatCompletionVariantConfig{W: 1, Model: modelName},
				},
			},
		},
		Models: map[string]*config.ModelConfig{
			modelName: {
				Name:    modelName,
				Routing: []string{"primary"},
				Providers: map[string]config.ProviderConfig{
					"primary": {Kind: config.ProviderAnthropic, ModelName: "claude-vendor-id", Credential: config.CredentialLocation{Kind: config.CredentialNone}},
				},
			},
		},
	}
}

func newOrchestrator(t *testing.T, cfg *config.Config, provider model.Provider, store olap.Store) *Orchestrator {
	t.Helper()
	r, err := router.New(cfg, map[config.ProviderKind]router.Builder{
		config.ProviderAnthropic: func(config.ProviderConfig) (model.Provider, error) { return provider, nil },
	})
	require.NoError(t, err)
	return New(cfg, r, store)
}

func basicRequest() Request {
	return Request{
		FunctionName: "greet",
		Input: Input{
			Messages: []InputMessage{
				{Role: model.RoleUser, Content: []model.ContentBlock{model.TextBlock{Text: "hi"}}},
			},
		},
	}
}

func TestRun_SubstitutesVendorModelNameOnDispatch(t *testing.T) {
	cfg := singleVariantConfig("claude")
	provider := &fakeProvider{responses: []*model.Response{{Content: []model.ContentBlock{model.TextBlock{Text: "hello"}}}}}
	store := &fakeStore{}
	o := newOrchestrator(t, cfg, provider, store)

	result, err := o.Run(context.Background(), basicRequest())
	require.NoError(t, err)
	assert.Equal(t, "only", result.VariantName)
	require.Len(t, provider.modelNames, 1)
	assert.Equal(t, "claude-vendor-id", provider.modelNames[0], "dispatch must send the provider's vendor model id, not the logical model name")
	require.Len(t, store.modelRows, 1)
	assert.Equal(t, "claude", store.modelRows[0].ModelName)
}

func TestRun_PersistsChatInferenceOnSuccess(t *testing.T) {
	cfg := singleVariantConfig("claude")
	provider := &fakeProvider{responses: []*model.Response{{Content: []model.ContentBlock{model.TextBlock{Text: "hello"}}}}}
	store := &fakeStore{}
	o := newOrchestrator(t, cfg, provider, store)

	result, err := o.Run(context.Background(), basicRequest())
	require.NoError(t, err)
	require.Len(t, store.chatRows, 1)
	assert.Equal(t, result.InferenceID, store.chatRows[0].InferenceID)
	assert.Equal(t, "greet", store.chatRows[0].FunctionName)
}

func TestRun_UnknownFunctionFails(t *testing.T) {
	cfg := singleVariantConfig("claude")
	o := newOrchestrator(t, cfg, &fakeProvider{}, &fakeStore{})
	_, err := o.Run(context.Background(), Request{FunctionName: "nope"})
	require.Error(t, err)
}

func TestRun_DirectModelNameBypassesFunctionResolution(t *testing.T) {
	cfg := singleVariantConfig("claude")
	provider := &fakeProvider{responses: []*model.Response{{Content: []model.ContentBlock{model.TextBlock{Text: "ok"}}}}}
	o := newOrchestrator(t, cfg, provider, &fakeStore{})

	req := basicRequest()
	req.FunctionName = ""
	req.ModelName = "claude"
	result, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "__direct__", result.VariantName)
}

func TestRun_EpisodeIDIsEchoedWhenProvided(t *testing.T) {
	cfg := singleVariantConfig("claude")
	provider := &fakeProvider{responses: []*model.Response{{Content: []model.ContentBlock{model.TextBlock{Text: "ok"}}}}}
	o := newOrchestrator(t, cfg, provider, &fakeStore{})

	id, err := uuid.NewV7()
	require.NoError(t, err)

	req := basicRequest()
	req.EpisodeID = id.String()
	result, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, id.String(), result.EpisodeID)
}

func TestRun_ReturnsProvidersExhaustedWhenAllRoutingEntriesFail(t *testing.T) {
	cfg := singleVariantConfig("claude")
	provider := &fakeProvider{errs: []error{assertErr("boom")}}
	o := newOrchestrator(t, cfg, provider, &fakeStore{})

	_, err := o.Run(context.Background(), basicRequest())
	require.Error(t, err)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestOrchestrator_NowDefaultsToRealClock(t *testing.T) {
	o := &Orchestrator{}
	before := time.Now()
	got := o.now()
	assert.False(t, got.Before(before))
}

// TestRejectIncompatibleDICLBlocks_PassesTextThrough covers spec §4.5's
// supported case: plain text blocks flatten unchanged.
func TestRejectIncompatibleDICLBlocks_PassesTextThrough(t *testing.T) {
	blocks := []model.ContentBlock{model.TextBlock{Text: "hello"}}
	out, err := rejectIncompatibleDICLBlocks(blocks)
	require.NoError(t, err)
	assert.Equal(t, blocks, out)
}

// TestRejectIncompatibleDICLBlocks_RejectsToolCall covers spec §4.5 "tool-calls
// ... are unsupported inputs and must be rejected with
// UnsupportedContentBlockType".
func TestRejectIncompatibleDICLBlocks_RejectsToolCall(t *testing.T) {
	blocks := []model.ContentBlock{model.ToolCallBlock{ID: "1", Name: "lookup"}}
	_, err := rejectIncompatibleDICLBlocks(blocks)
	require.Error(t, err)
	gwErr, ok := err.(*gatewayerrors.Error)
	require.True(t, ok)
	assert.Equal(t, gatewayerrors.KindUnsupportedContentBlockType, gwErr.Kind)
}

// TestRejectIncompatibleDICLBlocks_RejectsToolResult covers the
// tool-result half of the same invariant.
func TestRejectIncompatibleDICLBlocks_RejectsToolResult(t *testing.T) {
	blocks := []model.ContentBlock{model.ToolResultBlock{ToolCallID: "1", Result: "42"}}
	_, err := rejectIncompatibleDICLBlocks(blocks)
	require.Error(t, err)
	gwErr, ok := err.(*gatewayerrors.Error)
	require.True(t, ok)
	assert.Equal(t, gatewayerrors.KindUnsupportedContentBlockType, gwErr.Kind)
}

// TestRejectIncompatibleDICLBlocks_RejectsImage covers spec §4.5 "Images ...
// are unsupported inputs"; images have no dedicated ContentBlock and arrive
// as an UnknownBlock carrying the wire "image" type.
func TestRejectIncompatibleDICLBlocks_RejectsImage(t *testing.T) {
	blocks := []model.ContentBlock{model.UnknownBlock{Type: "image"}}
	_, err := rejectIncompatibleDICLBlocks(blocks)
	require.Error(t, err)
	gwErr, ok := err.(*gatewayerrors.Error)
	require.True(t, ok)
	assert.Equal(t, gatewayerrors.KindUnsupportedContentBlockType, gwErr.Kind)
	assert.Contains(t, gwErr.Error(), "image")
}

// TestRejectIncompatibleDICLBlocks_RejectsUnknown covers the generic
// "unknown blocks" half of the same invariant.
func TestRejectIncompatibleDICLBlocks_RejectsUnknown(t *testing.T) {
	blocks := []model.ContentBlock{model.UnknownBlock{Type: "future_block_kind"}}
	_, err := rejectIncompatibleDICLBlocks(blocks)
	require.Error(t, err)
	gwErr, ok := err.(*gatewayerrors.Error)
	require.True(t, ok)
	assert.Equal(t, gatewayerrors.KindUnsupportedContentBlockType, gwErr.Kind)
}
