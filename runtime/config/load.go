package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/tensorzero/gateway/runtime/errors"
	"github.com/tensorzero/gateway/runtime/model"
	"github.com/tensorzero/gateway/runtime/schema"
)

// Load parses the TOML file at path, resolves every relative path it
// references (schemas, templates) against the file's directory, compiles
// schemas, and validates the result as a whole (spec §4.9). A failure at any
// stage returns a *errors.Error of Kind errors.KindConfig carrying a dotted
// path to the offending entity.
func Load(path string) (*Config, error) {
	raw, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	baseDir := filepath.Dir(path)

	cfg := &Config{
		Gateway: GatewayConfig{
			BindAddress:          raw.Gateway.BindAddress,
			BasePath:             raw.Gateway.BasePath,
			VerboseErrors:        raw.Gateway.VerboseErrors,
			DisableObservability: raw.Gateway.DisableObservability,
		},
		Functions: make(map[string]*FunctionConfig, len(raw.Functions)),
		Models:    make(map[string]*ModelConfig, len(raw.Models)),
		Tools:     make(map[string]*ToolConfig, len(raw.Tools)),
		Metrics:   make(map[string]*MetricConfig, len(raw.Metrics)),
	}

	for name, rm := range raw.Models {
		mc, err := loadModel(name, rm)
		if err != nil {
			return nil, err
		}
		cfg.Models[name] = mc
	}

	for name, rt := range raw.Tools {
		tc, err := loadTool(baseDir, name, rt)
		if err != nil {
			return nil, err
		}
		cfg.Tools[name] = tc
	}

	for name, rmet := range raw.Metrics {
		mc, err := loadMetric(name, rmet)
		if err != nil {
			return nil, err
		}
		cfg.Metrics[name] = mc
	}

	for name, rf := range raw.Functions {
		fc, err := loadFunction(baseDir, name, rf)
		if err != nil {
			return nil, err
		}
		cfg.Functions[name] = fc
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseFile(path string) (*rawFile, error) {
	var raw rawFile
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, errors.Wrap(errors.KindConfig, err, "failed to parse config file %q", path)
	}
	return &raw, nil
}

func loadModel(name string, rm rawModel) (*ModelConfig, error) {
	mc := &ModelConfig{
		Name:      name,
		Routing:   rm.Routing,
		Providers: make(map[string]ProviderConfig, len(rm.Providers)),
	}
	for pname, rp := range rm.Providers {
		pc, err := loadProvider(name, pname, rp)
		if err != nil {
			return nil, err
		}
		mc.Providers[pname] = pc
	}
	return mc, nil
}

func loadProvider(modelName, providerName string, rp rawProvider) (ProviderConfig, error) {
	path := "models." + modelName + ".providers." + providerName
	var kind ProviderKind
	switch rp.Type {
	case "anthropic":
		kind = ProviderAnthropic
	case "openai":
		kind = ProviderOpenAI
	case "mistral":
		kind = ProviderMistral
	case "tgi":
		kind = ProviderTGI
	case "sglang":
		kind = ProviderSGLang
	case "ollama":
		kind = ProviderOllama
	case "bedrock":
		kind = ProviderBedrock
	default:
		return ProviderConfig{}, errors.New(errors.KindConfig, "unknown provider type %q", rp.Type).WithPath(path)
	}

	cred, err := loadCredential(rp.APIKeyLocation)
	if err != nil {
		return ProviderConfig{}, errors.Wrap(errors.KindConfig, err, "invalid api_key_location").WithPath(path)
	}

	var rl *RateLimitConfig
	if rp.RateLimit != nil {
		if rp.RateLimit.InitialTPM <= 0 {
			return ProviderConfig{}, errors.New(errors.KindConfig, "rate_limit.initial_tpm must be positive").WithPath(path + ".rate_limit")
		}
		rl = &RateLimitConfig{
			InitialTPM: rp.RateLimit.InitialTPM,
			MaxTPM:     rp.RateLimit.MaxTPM,
			ClusterKey: rp.RateLimit.ClusterKey,
		}
	}

	return ProviderConfig{
		Kind:       kind,
		ModelName:  rp.Model,
		BaseURL:    rp.BaseURL,
		Region:     rp.Region,
		Credential: cred,
		RateLimit:  rl,
	}, nil
}

// loadCredential parses a credential string in one of the forms
// "dynamic::NAME", "env::NAME", or a bare static literal. An empty string
// means CredentialNone.
func loadCredential(spec string) (CredentialLocation, error) {
	if spec == "" {
		return CredentialLocation{Kind: CredentialNone}, nil
	}
	if name, ok := strings.CutPrefix(spec, "dynamic::"); ok {
		return CredentialLocation{Kind: CredentialDynamic, DynamicName: name}, nil
	}
	if name, ok := strings.CutPrefix(spec, "env::"); ok {
		return CredentialLocation{Kind: CredentialEnv, EnvVar: name}, nil
	}
	return CredentialLocation{Kind: CredentialStatic, StaticValue: spec}, nil
}

func loadTool(baseDir, name string, rt rawTool) (*ToolConfig, error) {
	path := "tools." + name
	tc := &ToolConfig{Name: name, Description: rt.Description, Strict: rt.Strict}
	if rt.Parameters != "" {
		sch, err := compileSchemaFile(baseDir, rt.Parameters)
		if err != nil {
			return nil, errors.Wrap(errors.KindConfig, err, "failed to compile parameters schema").WithPath(path)
		}
		tc.Parameters = sch
	}
	return tc, nil
}

func loadMetric(name string, rmet rawMetric) (*MetricConfig, error) {
	path := "metrics." + name
	if ReservedMetricNames[name] {
		return nil, errors.New(errors.KindConfig, "metric name %q is reserved", name).WithPath(path)
	}
	mc := &MetricConfig{Name: name}
	switch rmet.Type {
	case "boolean":
		mc.Kind = MetricBoolean
	case "float":
		mc.Kind = MetricFloat
	default:
		return nil, errors.New(errors.KindConfig, "unknown metric type %q", rmet.Type).WithPath(path)
	}
	switch rmet.Direction {
	case "min":
		mc.Direction = MetricMin
	case "max":
		mc.Direction = MetricMax
	default:
		return nil, errors.New(errors.KindConfig, "unknown metric direction %q", rmet.Direction).WithPath(path)
	}
	switch rmet.Level {
	case "inference":
		mc.Level = MetricLevelInference
	case "episode":
		mc.Level = MetricLevelEpisode
	default:
		return nil, errors.New(errors.KindConfig, "unknown metric level %q", rmet.Level).WithPath(path)
	}
	return mc, nil
}

func loadFunction(baseDir, name string, rf rawFunction) (*FunctionConfig, error) {
	path := "functions." + name
	fc := &FunctionConfig{Name: name, Tools: rf.Tools, ParallelToolCalls: rf.ParallelToolCalls}

	switch rf.Type {
	case "chat":
		fc.Kind = FunctionChat
	case "json":
		fc.Kind = FunctionJSON
	default:
		return nil, errors.New(errors.KindConfig, "unknown function type %q", rf.Type).WithPath(path)
	}

	var err error
	if fc.Schemas.System, err = compileOptionalSchema(baseDir, rf.SystemSchema); err != nil {
		return nil, errors.Wrap(errors.KindConfig, err, "system_schema").WithPath(path)
	}
	if fc.Schemas.User, err = compileOptionalSchema(baseDir, rf.UserSchema); err != nil {
		return nil, errors.Wrap(errors.KindConfig, err, "user_schema").WithPath(path)
	}
	if fc.Schemas.Assistant, err = compileOptionalSchema(baseDir, rf.AssistantSchema); err != nil {
		return nil, errors.Wrap(errors.KindConfig, err, "assistant_schema").WithPath(path)
	}

	if fc.Kind == FunctionJSON {
		if rf.OutputSchema == "" {
			return nil, errors.New(errors.KindConfig, "json functions require output_schema").WithPath(path)
		}
		fc.OutputSchema, err = compileSchemaFile(baseDir, rf.OutputSchema)
		if err != nil {
			return nil, errors.Wrap(errors.KindConfig, err, "output_schema").WithPath(path)
		}
	}

	if rf.ToolChoice != "" {
		tc, err := parseToolChoice(rf.ToolChoice)
		if err != nil {
			return nil, errors.Wrap(errors.KindConfig, err, "tool_choice").WithPath(path)
		}
		fc.ToolChoice = tc
	}

	fc.Variants = make(map[string]Variant, len(rf.Variants))
	for vname, rv := range rf.Variants {
		v, err := loadVariant(baseDir, name, vname, rv)
		if err != nil {
			return nil, err
		}
		fc.Variants[vname] = v
	}

	return fc, nil
}

func parseToolChoice(s string) (*model.ToolChoice, error) {
	switch s {
	case "auto":
		return &model.ToolChoice{Mode: model.ToolChoiceAuto}, nil
	case "required":
		return &model.ToolChoice{Mode: model.ToolChoiceRequired}, nil
	case "none":
		return &model.ToolChoice{Mode: model.ToolChoiceNone}, nil
	default:
		return &model.ToolChoice{Mode: model.ToolChoiceSpecific, Name: s}, nil
	}
}

func loadVariant(baseDir, funcName, name string, rv rawVariant) (Variant, error) {
	path := "functions." + funcName + ".variants." + name
	weight := 0.0
	if rv.Weight != nil {
		weight = *rv.Weight
	}
	if weight < 0 {
		return nil, errors.New(errors.KindConfig, "weight must be non-negative, got %v", weight).WithPath(path)
	}
	if rv.Model == "" {
		return nil, errors.New(errors.KindConfig, "variant requires model").WithPath(path)
	}

	switch rv.Type {
	case "", "chat_completion":
		jm := model.JSONModeOff
		switch rv.JSONMode {
		case "", "off":
			jm = model.JSONModeOff
		case "on":
			jm = model.JSONModeOn
		case "strict":
			jm = model.JSONModeStrict
		default:
			return nil, errors.New(errors.KindConfig, "unknown json_mode %q", rv.JSONMode).WithPath(path)
		}
		templates, err := loadTemplates(baseDir, rv)
		if err != nil {
			return nil, errors.Wrap(errors.KindConfig, err, "failed to load templates").WithPath(path)
		}
		return &ChatCompletionVariantConfig{
			W:                weight,
			Model:            rv.Model,
			Templates:        templates,
			Temperature:      rv.Temperature,
			TopP:             rv.TopP,
			MaxTokens:        rv.MaxTokens,
			Seed:             rv.Seed,
			PresencePenalty:  rv.PresencePenalty,
			FrequencyPenalty: rv.FrequencyPenalty,
			StopSequences:    rv.StopSequences,
			JSONMode:         jm,
		}, nil
	case "dicl":
		k := 10
		if rv.K != nil {
			k = *rv.K
		}
		if rv.EmbeddingModel == "" {
			return nil, errors.New(errors.KindConfig, "dicl variant requires embedding_model").WithPath(path)
		}
		return &DICLVariantConfig{
			W:                  weight,
			Model:              rv.Model,
			EmbeddingModel:     rv.EmbeddingModel,
			K:                  k,
			SystemInstructions: rv.SystemInstructions,
			Temperature:        rv.Temperature,
			TopP:               rv.TopP,
			MaxTokens:          rv.MaxTokens,
			Seed:               rv.Seed,
			PresencePenalty:    rv.PresencePenalty,
			FrequencyPenalty:   rv.FrequencyPenalty,
			StopSequences:      rv.StopSequences,
		}, nil
	default:
		return nil, errors.New(errors.KindConfig, "unknown variant type %q", rv.Type).WithPath(path)
	}
}

func loadTemplates(baseDir string, rv rawVariant) (TemplateSet, error) {
	var ts TemplateSet
	var err error
	if ts.System, err = loadTemplate(baseDir, "system", rv.SystemTemplate); err != nil {
		return ts, err
	}
	if ts.User, err = loadTemplate(baseDir, "user", rv.UserTemplate); err != nil {
		return ts, err
	}
	if ts.Assistant, err = loadTemplate(baseDir, "assistant", rv.AssistantTemplate); err != nil {
		return ts, err
	}
	return ts, nil
}

func loadTemplate(baseDir, name, relPath string) (*Template, error) {
	if relPath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Join(baseDir, relPath))
	if err != nil {
		return nil, err
	}
	return &Template{Name: name, text: string(data)}, nil
}

// Render executes the template against an arbitrary input value. The
// teacher's templating needs (Goa's DSL-generated code) don't transfer here;
// this gateway uses text/template directly as a minimal-dependency prompt
// renderer.
func (t *Template) Render(data any) (string, error) {
	return renderTemplate(t.Name, t.text, data)
}

func compileOptionalSchema(baseDir, relPath string) (*schema.Schema, error) {
	if relPath == "" {
		return nil, nil
	}
	return compileSchemaFile(baseDir, relPath)
}

func compileSchemaFile(baseDir, relPath string) (*schema.Schema, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, relPath))
	if err != nil {
		return nil, err
	}
	return schema.Compile(json.RawMessage(data))
}
