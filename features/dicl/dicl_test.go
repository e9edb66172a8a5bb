package dicl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorzero/gateway/runtime/config"
	"github.com/tensorzero/gateway/runtime/model"
	"github.com/tensorzero/gateway/runtime/variant"
)

type fakeEmbedder struct {
	vec []float64
}

func (f *fakeEmbedder) Embed(ctx context.Context, modelName string, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

type fakeRetriever struct {
	examples []Example
}

func (f *fakeRetriever) ExamplesForFunction(ctx context.Context, functionName, variantName string) ([]Example, error) {
	return f.examples, nil
}

func TestRender_AssemblesFewShotPromptFromNearestExamples(t *testing.T) {
	embedder := &fakeEmbedder{vec: []float64{1, 0}}
	retriever := &fakeRetriever{examples: []Example{
		{Input: "close", Output: "close-answer", Embedding: []float64{1, 0.01}},
		{Input: "far", Output: "far-answer", Embedding: []float64{0, 1}},
	}}
	vc := &config.DICLVariantConfig{Model: "claude", EmbeddingModel: "text-embedding-3-small", K: 1}

	req, err := Render(context.Background(), "greet", "dicl_v1", vc, embedder, retriever, "hello there", variant.GenerationOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "claude", req.ModelName)
	// system + 1 example pair + final query = 4 messages
	require.Len(t, req.Messages, 4)
	assert.Equal(t, model.RoleUser, req.Messages[1].Role)
	textBlock := req.Messages[1].Content[0].(model.TextBlock)
	assert.Equal(t, "close", textBlock.Text)
}

func TestRender_EmptyQueryFails(t *testing.T) {
	vc := &config.DICLVariantConfig{Model: "claude", EmbeddingModel: "text-embedding-3-small", K: 1}
	_, err := Render(context.Background(), "greet", "dicl_v1", vc, &fakeEmbedder{}, &fakeRetriever{}, "", variant.GenerationOverrides{})
	require.Error(t, err)
}

// TestRender_BackfillsGenerationParamsFromVariantConfig covers spec §4.5's
// extension of the §4.4 backfill behavior to DICL dispatch: a variant's
// configured temperature/max_tokens apply when the request didn't override
// them.
func TestRender_BackfillsGenerationParamsFromVariantConfig(t *testing.T) {
	temp := float32(0.3)
	maxTokens := 256
	vc := &config.DICLVariantConfig{
		Model: "claude", EmbeddingModel: "text-embedding-3-small", K: 1,
		Temperature: &temp, MaxTokens: &maxTokens,
	}
	req, err := Render(context.Background(), "greet", "dicl_v1", vc, &fakeEmbedder{vec: []float64{1}}, &fakeRetriever{}, "hi", variant.GenerationOverrides{})
	require.NoError(t, err)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.3, *req.Temperature, 1e-6)
	require.NotNil(t, req.MaxTokens)
	assert.Equal(t, 256, *req.MaxTokens)
}

// TestRender_RequestOverrideTakesPrecedenceOverVariantDefault covers the
// override half of the same backfill: an explicit request param wins over
// the variant's configured default.
func TestRender_RequestOverrideTakesPrecedenceOverVariantDefault(t *testing.T) {
	variantTemp := float32(0.3)
	requestTemp := float32(0.9)
	vc := &config.DICLVariantConfig{
		Model: "claude", EmbeddingModel: "text-embedding-3-small", K: 1,
		Temperature: &variantTemp,
	}
	req, err := Render(context.Background(), "greet", "dicl_v1", vc, &fakeEmbedder{vec: []float64{1}}, &fakeRetriever{}, "hi", variant.GenerationOverrides{Temperature: &requestTemp})
	require.NoError(t, err)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.9, *req.Temperature, 1e-6)
}

func TestCosineDistance_IdenticalVectorsAreZero(t *testing.T) {
	assert.InDelta(t, 0, cosineDistance([]float64{1, 2, 3}, []float64{1, 2, 3}), 1e-9)
}

func TestCosineDistance_OrthogonalVectorsAreOne(t *testing.T) {
	assert.InDelta(t, 1, cosineDistance([]float64{1, 0}, []float64{0, 1}), 1e-9)
}
