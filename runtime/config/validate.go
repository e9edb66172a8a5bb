package config

import (
	"github.com/tensorzero/gateway/runtime/errors"
)

// validate checks the cross-entity invariants of spec §3/§4.9 against a
// fully loaded Config: that every reference between entities resolves, that
// template presence mirrors schema presence, and that variant weights are
// well formed. It returns the first violation found as a *errors.Error
// carrying a dotted config path.
func validate(cfg *Config) error {
	for name, fc := range cfg.Functions {
		path := "functions." + name

		for _, toolName := range fc.Tools {
			if _, ok := cfg.Tools[toolName]; !ok {
				return errors.New(errors.KindConfig, "references unknown tool %q", toolName).WithPath(path + ".tools")
			}
		}

		if len(fc.Variants) == 0 {
			return errors.New(errors.KindConfig, "function must declare at least one variant").WithPath(path + ".variants")
		}

		for vname, v := range fc.Variants {
			vpath := path + ".variants." + vname
			if v.Weight() < 0 {
				return errors.New(errors.KindConfig, "weight must be non-negative").WithPath(vpath + ".weight")
			}
			if _, ok := cfg.Models[v.ModelName()]; !ok {
				return errors.New(errors.KindConfig, "references unknown model %q", v.ModelName()).WithPath(vpath + ".model")
			}

			if cc, ok := v.(*ChatCompletionVariantConfig); ok {
				if err := validateTemplateSchemaPairing(fc, cc, vpath); err != nil {
					return err
				}
			}
			if dicl, ok := v.(*DICLVariantConfig); ok {
				if _, ok := cfg.Models[dicl.EmbeddingModel]; !ok {
					return errors.New(errors.KindConfig, "references unknown embedding model %q", dicl.EmbeddingModel).WithPath(vpath + ".embedding_model")
				}
				if dicl.K <= 0 {
					return errors.New(errors.KindConfig, "k must be positive, got %d", dicl.K).WithPath(vpath + ".k")
				}
			}
		}
	}

	for name, mc := range cfg.Models {
		path := "models." + name
		if len(mc.Routing) == 0 {
			return errors.New(errors.KindConfig, "routing list must not be empty").WithPath(path + ".routing")
		}
		seen := make(map[string]bool, len(mc.Routing))
		for _, providerName := range mc.Routing {
			if seen[providerName] {
				return errors.New(errors.KindConfig, "routing lists provider %q more than once", providerName).WithPath(path + ".routing")
			}
			seen[providerName] = true
			if _, ok := mc.Providers[providerName]; !ok {
				return errors.New(errors.KindConfig, "routing references undefined provider %q", providerName).WithPath(path + ".routing")
			}
		}
		for providerName := range mc.Providers {
			if !seen[providerName] {
				return errors.New(errors.KindConfig, "provider %q is not listed in routing", providerName).WithPath(path + ".routing")
			}
		}
	}

	for name := range cfg.Metrics {
		if ReservedMetricNames[name] {
			return errors.New(errors.KindConfig, "metric name %q is reserved", name).WithPath("metrics." + name)
		}
	}

	return nil
}

// validateTemplateSchemaPairing enforces that a role's input schema is
// present if and only if that role's template is present: an unrendered
// schema can't validate structured input a template never consumes, and a
// template with no schema has no guaranteed input shape to render against.
func validateTemplateSchemaPairing(fc *FunctionConfig, cc *ChatCompletionVariantConfig, path string) error {
	pairs := []struct {
		role     string
		schema   bool
		template bool
	}{
		{"system", fc.Schemas.System != nil, cc.Templates.System != nil},
		{"user", fc.Schemas.User != nil, cc.Templates.User != nil},
		{"assistant", fc.Schemas.Assistant != nil, cc.Templates.Assistant != nil},
	}
	for _, p := range pairs {
		if p.schema != p.template {
			return errors.New(errors.KindConfig,
				"%s_schema and %s_template must be present or absent together", p.role, p.role,
			).WithPath(path)
		}
	}
	return nil
}
