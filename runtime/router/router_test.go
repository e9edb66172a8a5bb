package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorzero/gateway/runtime/config"
	"github.com/tensorzero/gateway/runtime/model"
)

type fakeProvider struct{ name string }

func (f *fakeProvider) Infer(ctx context.Context, req *model.Request) (*model.Response, error) {
	return &model.Response{}, nil
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

func testConfig() *config.Config {
	return &config.Config{
		Models: map[string]*config.ModelConfig{
			"claude": {
				Name:    "claude",
				Routing: []string{"primary", "secondary"},
				Providers: map[string]config.ProviderConfig{
					"primary":   {Kind: config.ProviderAnthropic, ModelName: "claude-3-5-sonnet-20241022", Credential: config.CredentialLocation{Kind: config.CredentialEnv, EnvVar: "ANTHROPIC_API_KEY"}},
					"secondary": {Kind: config.ProviderAnthropic, ModelName: "claude-3-5-sonnet-20241022", Credential: config.CredentialLocation{Kind: config.CredentialDynamic, DynamicName: "anthropic_key"}},
				},
			},
		},
	}
}

func TestNew_BuildsOneProviderPerConfiguredEntry(t *testing.T) {
	r, err := New(testConfig(), map[config.ProviderKind]Builder{
		config.ProviderAnthropic: func(cfg config.ProviderConfig) (model.Provider, error) {
			return &fakeProvider{}, nil
		},
	})
	require.NoError(t, err)
	assert.Len(t, r.providers, 2)
}

func TestNew_UnregisteredBuilderFails(t *testing.T) {
	_, err := New(testConfig(), map[config.ProviderKind]Builder{})
	require.Error(t, err)
}

func TestAttempts_ResolvesCredentialsInRoutingOrder(t *testing.T) {
	r, err := New(testConfig(), map[config.ProviderKind]Builder{
		config.ProviderAnthropic: func(cfg config.ProviderConfig) (model.Provider, error) {
			return &fakeProvider{}, nil
		},
	})
	require.NoError(t, err)

	attempts, err := r.Attempts("claude", map[string]string{"anthropic_key": "dyn-key"})
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, "primary", attempts[0].ProviderName)
	assert.Equal(t, "secondary", attempts[1].ProviderName)
	assert.Equal(t, "dyn-key", attempts[1].Credentials.APIKey)
	assert.Equal(t, "claude-3-5-sonnet-20241022", attempts[0].ModelName)
}

func TestAttempts_MissingDynamicCredentialFails(t *testing.T) {
	r, err := New(testConfig(), map[config.ProviderKind]Builder{
		config.ProviderAnthropic: func(cfg config.ProviderConfig) (model.Provider, error) {
			return &fakeProvider{}, nil
		},
	})
	require.NoError(t, err)

	_, err = r.Attempts("claude", nil)
	require.Error(t, err)
}

func TestAttempts_UnknownModelFails(t *testing.T) {
	r, err := New(testConfig(), map[config.ProviderKind]Builder{
		config.ProviderAnthropic: func(cfg config.ProviderConfig) (model.Provider, error) {
			return &fakeProvider{}, nil
		},
	})
	require.NoError(t, err)

	_, err = r.Attempts("does-not-exist", nil)
	require.Error(t, err)
}

func TestAggregateFailures_CombinesEveryProviderMessage(t *testing.T) {
	err := AggregateFailures("claude", []ProviderFailure{
		{ProviderName: "primary", Err: assertErr("timeout")},
		{ProviderName: "secondary", Err: assertErr("rate limited")},
	})
	assert.Contains(t, err.Error(), "primary")
	assert.Contains(t, err.Error(), "secondary")
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertErr(msg string) error { return simpleErr(msg) }
