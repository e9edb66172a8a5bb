package inference

import (
	"context"

	"github.com/tensorzero/gateway/runtime/errors"
	"github.com/tensorzero/gateway/runtime/router"
)

// embeddingCapable is satisfied by provider adapters that additionally
// expose an Embed operation (features/providers/openaicompat.Client, per
// spec §1 "embedding-model providers... consumed via the same adapter
// contract as chat providers"). Providers that don't implement it fail a
// DICL variant's embed step with a clear error rather than a type-assertion
// panic.
type embeddingCapable interface {
	Embed(ctx context.Context, modelName string, texts []string) ([][]float64, error)
}

// routerEmbedder adapts a *router.Router into a dicl.Embedder by trying the
// embedding model's configured providers in routing order, the same
// failover policy the Model Router applies to chat calls (spec §4.2).
type routerEmbedder struct {
	router *router.Router
}

func (e *routerEmbedder) Embed(ctx context.Context, modelName string, texts []string) ([][]float64, error) {
	attempts, err := e.router.Attempts(modelName, nil)
	if err != nil {
		return nil, err
	}
	var failures []router.ProviderFailure
	for _, a := range attempts {
		embedder, ok := a.Provider.(embeddingCapable)
		if !ok {
			failures = append(failures, router.ProviderFailure{ProviderName: a.ProviderName, Err: errors.New(errors.KindConfig, "provider does not support embeddings")})
			continue
		}
		vecs, err := embedder.Embed(router.WithAttemptCredentials(ctx, a), a.ModelName, texts)
		if err != nil {
			failures = append(failures, router.ProviderFailure{ProviderName: a.ProviderName, Err: err})
			continue
		}
		return vecs, nil
	}
	return nil, router.AggregateFailures(modelName, failures)
}
