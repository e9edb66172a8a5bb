// Package dicl implements the Dynamic In-Context Learning variant (spec
// §4.5): embed the current input, retrieve its k nearest stored examples,
// and assemble them into a few-shot prompt for the variant's generation
// model. Cosine-distance ranking is grounded on
// taipm-go-deep-agent's embedding-based retrieval, generalized from that
// agent's single-vector similarity check to a top-k nearest-neighbor sort
// using gonum's vector ops.
package dicl

import (
	"context"
	"sort"

	"dario.cat/mergo"
	"gonum.org/v1/gonum/floats"

	"github.com/tensorzero/gateway/runtime/config"
	"github.com/tensorzero/gateway/runtime/errors"
	"github.com/tensorzero/gateway/runtime/model"
	"github.com/tensorzero/gateway/runtime/variant"
)

// Example is one stored (input, output) pair available for retrieval,
// together with its precomputed embedding.
type Example struct {
	Input     string
	Output    string
	Embedding []float64
}

// Embedder produces vector embeddings for a batch of texts against a named
// embedding model.
type Embedder interface {
	Embed(ctx context.Context, modelName string, texts []string) ([][]float64, error)
}

// Retriever returns every stored example available for a (function,
// variant) pair, which Render then ranks by cosine distance to the query
// embedding. Pushing the ranking into the application layer rather than the
// store keeps the store contract (features/olap) a plain read, with no
// vector-index requirement. Examples are scoped to both function_name and
// variant_name (spec §4.5 "Retrieve") since two DICL variants of the same
// function accumulate disjoint example pools.
type Retriever interface {
	ExamplesForFunction(ctx context.Context, functionName, variantName string) ([]Example, error)
}

// Render embeds query, retrieves and ranks the (function, variant)'s stored
// examples, and assembles a few-shot model.Request for vc's generation
// model. Generation parameters (temperature, top_p, max_tokens, seed,
// presence/frequency penalty, stop sequences) are backfilled from vc's
// configured defaults wherever overrides didn't set them, same as
// ChatCompletion variants.
func Render(ctx context.Context, functionName, variantName string, vc *config.DICLVariantConfig, embedder Embedder, retriever Retriever, query string, overrides variant.GenerationOverrides) (*model.Request, error) {
	if query == "" {
		return nil, errors.New(errors.KindInvalidRequest, "dicl: query text is required")
	}

	embeddings, err := embedder.Embed(ctx, vc.EmbeddingModel, []string{query})
	if err != nil {
		return nil, errors.Wrap(errors.KindInference, err, "dicl: failed to embed query")
	}
	if len(embeddings) != 1 {
		return nil, errors.New(errors.KindInference, "dicl: embedding provider returned %d vectors for 1 input", len(embeddings))
	}
	queryVec := embeddings[0]

	examples, err := retriever.ExamplesForFunction(ctx, functionName, variantName)
	if err != nil {
		return nil, errors.Wrap(errors.KindClickHouseQuery, err, "dicl: failed to load stored examples")
	}

	top := nearest(queryVec, examples, vc.K)

	messages := make([]model.Message, 0, len(top)*2+2)
	instructions := vc.SystemInstructions
	if instructions == "" {
		instructions = "Answer the user's request using the style demonstrated by the following examples."
	}
	messages = append(messages, model.Message{Role: model.RoleSystem, Content: []model.ContentBlock{model.TextBlock{Text: instructions}}})
	for _, ex := range top {
		messages = append(messages,
			model.Message{Role: model.RoleUser, Content: []model.ContentBlock{model.TextBlock{Text: ex.Input}}},
			model.Message{Role: model.RoleAssistant, Content: []model.ContentBlock{model.TextBlock{Text: ex.Output}}},
		)
	}
	messages = append(messages, model.Message{Role: model.RoleUser, Content: []model.ContentBlock{model.TextBlock{Text: query}}})

	params, err := backfillGenerationParams(vc, overrides)
	if err != nil {
		return nil, err
	}

	return &model.Request{
		ModelName:        vc.Model,
		Messages:         messages,
		Temperature:      params.Temperature,
		TopP:             params.TopP,
		MaxTokens:        params.MaxTokens,
		Seed:             params.Seed,
		PresencePenalty:  params.PresencePenalty,
		FrequencyPenalty: params.FrequencyPenalty,
		StopSequences:    params.StopSequences,
	}, nil
}

// backfillGenerationParams overlays a request's explicit overrides onto vc's
// configured defaults, the same mergo "one partial record completing
// another" idiom runtime/variant.backfillGenerationParams uses for
// ChatCompletion variants.
func backfillGenerationParams(vc *config.DICLVariantConfig, overrides variant.GenerationOverrides) (variant.GenerationOverrides, error) {
	base := variant.GenerationOverrides{
		Temperature:      vc.Temperature,
		TopP:             vc.TopP,
		MaxTokens:        vc.MaxTokens,
		Seed:             vc.Seed,
		PresencePenalty:  vc.PresencePenalty,
		FrequencyPenalty: vc.FrequencyPenalty,
		StopSequences:    vc.StopSequences,
	}
	if err := mergo.Merge(&base, overrides, mergo.WithOverride); err != nil {
		return variant.GenerationOverrides{}, errors.Wrap(errors.KindInternalError, err, "failed to merge dicl generation parameters")
	}
	return base, nil
}

// nearest returns the k examples with the smallest cosine distance to
// query, closest first. Examples whose embedding dimensionality doesn't
// match query are skipped rather than failing the whole retrieval, since a
// single corrupt stored row shouldn't block inference.
func nearest(query []float64, examples []Example, k int) []Example {
	type scored struct {
		ex   Example
		dist float64
	}
	scoredExamples := make([]scored, 0, len(examples))
	for _, ex := range examples {
		if len(ex.Embedding) != len(query) {
			continue
		}
		scoredExamples = append(scoredExamples, scored{ex: ex, dist: cosineDistance(query, ex.Embedding)})
	}
	sort.Slice(scoredExamples, func(i, j int) bool { return scoredExamples[i].dist < scoredExamples[j].dist })
	if k > len(scoredExamples) {
		k = len(scoredExamples)
	}
	out := make([]Example, k)
	for i := 0; i < k; i++ {
		out[i] = scoredExamples[i].ex
	}
	return out
}

// cosineDistance returns 1 - cosine_similarity(a, b), so smaller means more
// similar (a proper distance metric for sorting).
func cosineDistance(a, b []float64) float64 {
	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 1
	}
	similarity := floats.Dot(a, b) / (normA * normB)
	return 1 - similarity
}
