// Package router resolves a configured Model into an ordered list of
// provider attempts and drives the failover policy of spec §4.2: try each
// provider in routing order, advancing to the next on any error, and
// aggregating every attempt's failure into a single ModelProvidersExhausted
// error if the whole list is exhausted.
package router

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tensorzero/gateway/runtime/config"
	"github.com/tensorzero/gateway/runtime/errors"
	"github.com/tensorzero/gateway/runtime/model"
	"github.com/tensorzero/gateway/runtime/ratelimit"
)

// Builder constructs a model.Provider from a provider's resolved
// configuration. Each vendor package (features/providers/*) supplies one.
type Builder func(cfg config.ProviderConfig) (model.Provider, error)

// Router holds one constructed model.Provider per configured provider,
// built once at startup and shared read-only across requests (spec §5
// "Shared resources").
type Router struct {
	models    map[string]*config.ModelConfig
	providers map[string]model.Provider // "modelName/providerName" -> instance
}

// New builds a Router, instantiating every provider referenced by cfg.Models
// via the builder registered for its Kind. An unregistered Kind is a config
// error, not a panic, since it means the gateway binary wasn't built with
// that vendor's adapter linked in. A provider carrying a RateLimitConfig is
// wrapped in runtime/ratelimit's process-local adaptive limiter; New shares
// no budget across instances (see NewWithCluster for that).
func New(cfg *config.Config, builders map[config.ProviderKind]Builder) (*Router, error) {
	return NewWithCluster(context.Background(), cfg, builders, nil)
}

// NewWithCluster is New, additionally sharing rate-limit budgets across
// gateway instances through cluster when a provider's RateLimitConfig sets a
// ClusterKey.
func NewWithCluster(ctx context.Context, cfg *config.Config, builders map[config.ProviderKind]Builder, cluster ratelimit.ClusterStore) (*Router, error) {
	r := &Router{
		models:    cfg.Models,
		providers: make(map[string]model.Provider),
	}
	for modelName, mc := range cfg.Models {
		for providerName, pc := range mc.Providers {
			build, ok := builders[pc.Kind]
			if !ok {
				return nil, errors.New(errors.KindConfig, "no provider builder registered for type %q", pc.Kind).
					WithPath(fmt.Sprintf("models.%s.providers.%s", modelName, providerName))
			}
			provider, err := build(pc)
			if err != nil {
				return nil, errors.Wrap(errors.KindConfig, err, "failed to construct provider").
					WithPath(fmt.Sprintf("models.%s.providers.%s", modelName, providerName))
			}
			if rl := pc.RateLimit; rl != nil {
				if rl.ClusterKey != "" && cluster != nil {
					provider = ratelimit.NewClustered(ctx, provider, rl.InitialTPM, rl.MaxTPM, cluster, rl.ClusterKey)
				} else {
					provider = ratelimit.New(provider, rl.InitialTPM, rl.MaxTPM)
				}
			}
			r.providers[key(modelName, providerName)] = provider
		}
	}
	return r, nil
}

func key(modelName, providerName string) string { return modelName + "/" + providerName }

// Attempt is one provider in a model's failover order, ready to be called.
type Attempt struct {
	ProviderName string
	Provider     model.Provider
	Credentials  model.Credentials
	// ModelName is the provider's vendor-specific model identifier (spec §3
	// "Provider... provider-specific address / model-name fields"), distinct
	// from the logical model name a request is addressed to.
	ModelName string
}

// Attempts returns the ordered list of provider attempts for modelName,
// resolving each provider's credential location against dynamicCredentials
// (the per-request credential map supplied on an inference request).
func (r *Router) Attempts(modelName string, dynamicCredentials map[string]string) ([]Attempt, error) {
	mc, ok := r.models[modelName]
	if !ok {
		return nil, errors.New(errors.KindUnknownModel, "unknown model %q", modelName)
	}
	attempts := make([]Attempt, 0, len(mc.Routing))
	for _, providerName := range mc.Routing {
		pc := mc.Providers[providerName]
		creds, err := resolveCredential(pc.Credential, dynamicCredentials)
		if err != nil {
			return nil, errors.Wrap(errors.KindInvalidRequest, err, "failed to resolve credentials for provider %q", providerName)
		}
		attempts = append(attempts, Attempt{
			ProviderName: providerName,
			Provider:     r.providers[key(modelName, providerName)],
			Credentials:  creds,
			ModelName:    pc.ModelName,
		})
	}
	return attempts, nil
}

// ProviderByName returns the constructed provider instance for a specific
// (model, provider) pair, used by features/batch to resume polling a batch
// against the exact provider it was started on.
func (r *Router) ProviderByName(modelName, providerName string) (model.Provider, bool) {
	p, ok := r.providers[key(modelName, providerName)]
	return p, ok
}

func resolveCredential(loc config.CredentialLocation, dynamicCredentials map[string]string) (model.Credentials, error) {
	switch loc.Kind {
	case config.CredentialNone:
		return model.Credentials{}, nil
	case config.CredentialStatic:
		return model.Credentials{APIKey: loc.StaticValue}, nil
	case config.CredentialEnv:
		return model.Credentials{APIKey: os.Getenv(loc.EnvVar)}, nil
	case config.CredentialDynamic:
		key, ok := dynamicCredentials[loc.DynamicName]
		if !ok {
			return model.Credentials{}, fmt.Errorf("no dynamic credential supplied for %q", loc.DynamicName)
		}
		return model.Credentials{APIKey: key}, nil
	case config.CredentialFallback:
		var lastErr error
		for _, fb := range loc.Fallback {
			creds, err := resolveCredential(fb, dynamicCredentials)
			if err == nil && creds.APIKey != "" {
				return creds, nil
			}
			lastErr = err
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("no credential source in fallback chain resolved to a non-empty value")
		}
		return model.Credentials{}, lastErr
	default:
		return model.Credentials{}, fmt.Errorf("unknown credential kind %q", loc.Kind)
	}
}

// WithAttemptCredentials attaches an attempt's credentials to ctx for the
// provider to consume.
func WithAttemptCredentials(ctx context.Context, a Attempt) context.Context {
	return model.WithCredentials(ctx, a.Credentials)
}

// ProviderFailure records one failed attempt for aggregation.
type ProviderFailure struct {
	ProviderName string
	Err          error
}

// AggregateFailures builds the ModelProvidersExhausted error raised once
// every attempt in a model's routing list has failed (spec §4.2).
func AggregateFailures(modelName string, failures []ProviderFailure) error {
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.ProviderName, f.Err))
	}
	return errors.New(errors.KindModelProvidersExhausted,
		"all providers for model %q failed: %s", modelName, strings.Join(parts, "; "),
	)
}
