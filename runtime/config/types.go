// Package config implements the two-phase TOML configuration loader of spec
// §4.9: an uninitialized tree is parsed with github.com/BurntSushi/toml
// (accepting only strings and paths, no file IO), then Load resolves paths,
// compiles schemas, and returns an immutable Config graph validated against
// the cross-entity invariants of spec §3.
package config

import (
	"github.com/tensorzero/gateway/runtime/model"
	"github.com/tensorzero/gateway/runtime/schema"
)

// FunctionKind is the polymorphic function kind (spec §3).
type FunctionKind string

const (
	FunctionChat FunctionKind = "chat"
	FunctionJSON FunctionKind = "json"
)

// VariantKind is the polymorphic variant kind (spec §3).
type VariantKind string

const (
	VariantChatCompletion VariantKind = "chat_completion"
	VariantDICL           VariantKind = "dicl"
)

// CredentialKind is the polymorphic shape of a provider's API key binding
// (spec §3 "Provider").
type CredentialKind string

const (
	CredentialStatic   CredentialKind = "static"   // literal value baked into config
	CredentialDynamic  CredentialKind = "dynamic"  // looked up in the per-request credential map
	CredentialEnv      CredentialKind = "env"      // read from an environment variable each time a request's attempts are resolved
	CredentialFallback CredentialKind = "fallback" // ordered fallback chain of the above
	CredentialNone     CredentialKind = "none"
)

// CredentialLocation describes where a provider's API key comes from.
type CredentialLocation struct {
	Kind CredentialKind

	StaticValue string // CredentialStatic
	DynamicName string // CredentialDynamic: key name looked up in the request's credential map
	EnvVar      string // CredentialEnv

	Fallback []CredentialLocation // CredentialFallback
}

// ProviderKind identifies the vendor a Provider config targets.
type ProviderKind string

const (
	ProviderAnthropic   ProviderKind = "anthropic"
	ProviderOpenAI      ProviderKind = "openai"
	ProviderMistral     ProviderKind = "mistral"
	ProviderTGI         ProviderKind = "tgi"
	ProviderSGLang      ProviderKind = "sglang"
	ProviderOllama      ProviderKind = "ollama"
	ProviderBedrock     ProviderKind = "bedrock"
)

// ProviderConfig is the polymorphic per-vendor provider configuration
// (spec §3 "Provider"). Fields not relevant to Kind are left zero.
type ProviderConfig struct {
	Kind       ProviderKind
	ModelName  string // vendor-specific model identifier
	BaseURL    string // for OpenAI-compatible vendors (Mistral/TGI/SGLang/Ollama) and overrides
	Region     string // for Bedrock
	Credential CredentialLocation
	RateLimit  *RateLimitConfig // optional adaptive per-provider budget
}

// RateLimitConfig configures the adaptive tokens-per-minute budget
// runtime/ratelimit enforces in front of a provider (teacher
// features/model/middleware.AdaptiveRateLimiter, generalized). ClusterKey,
// when non-empty, shares the budget across gateway instances through a
// Redis key instead of keeping it process-local.
type RateLimitConfig struct {
	InitialTPM float64
	MaxTPM     float64
	ClusterKey string
}

// ModelConfig is a named container with an ordered failover routing list
// (spec §3 "Model").
type ModelConfig struct {
	Name      string
	Routing   []string
	Providers map[string]ProviderConfig
}

// ToolConfig is a named tool triple (spec §3 "Tool").
type ToolConfig struct {
	Name        string
	Description string
	Parameters  *schema.Schema
	Strict      bool
}

// MetricKind / MetricDirection / MetricLevel classify a metric (spec §3
// "Metric").
type (
	MetricKind      string
	MetricDirection string
	MetricLevel     string
)

const (
	MetricBoolean MetricKind = "boolean"
	MetricFloat   MetricKind = "float"

	MetricMin MetricDirection = "min"
	MetricMax MetricDirection = "max"

	MetricLevelInference MetricLevel = "inference"
	MetricLevelEpisode   MetricLevel = "episode"
)

// ReservedMetricNames are names a metric may never use (spec §3).
var ReservedMetricNames = map[string]bool{"comment": true, "demonstration": true}

// MetricConfig is a named (kind, direction, level) triple.
type MetricConfig struct {
	Name      string
	Kind      MetricKind
	Direction MetricDirection
	Level     MetricLevel
}

// IOSchemas holds the optional per-role input schemas for a function (spec
// §3 "input-schemas (system/user/assistant)").
type IOSchemas struct {
	System    *schema.Schema
	User      *schema.Schema
	Assistant *schema.Schema
}

// TemplateSet holds the optional pre-compiled named templates paired with
// IOSchemas (spec §3 cross-entity invariant "schema X present iff template X
// present").
type TemplateSet struct {
	System    *Template
	User      *Template
	Assistant *Template
}

// Template is a pre-compiled named template applied to rendered messages
// (spec §4.4, component "Rendering/templating").
type Template struct {
	Name string
	text string
}

// Variant is the common interface every variant kind implements (spec §3
// "Variant"): a non-negative sampling weight and a reference to the model it
// dispatches through.
type Variant interface {
	Weight() float64
	ModelName() string
}

// ChatCompletionVariantConfig renders templates against the request input
// and backfills generation parameters (spec §4.4).
type ChatCompletionVariantConfig struct {
	W         float64
	Model     string
	Templates TemplateSet

	Temperature      *float32
	TopP             *float32
	MaxTokens        *int
	Seed             *int64
	PresencePenalty  *float32
	FrequencyPenalty *float32
	StopSequences    []string
	JSONMode         model.JSONMode
}

func (c *ChatCompletionVariantConfig) Weight() float64  { return c.W }
func (c *ChatCompletionVariantConfig) ModelName() string { return c.Model }

// DICLVariantConfig is a variant whose prompt is assembled from retrieved
// nearest-neighbor examples. Carries the same generation parameter backfill
// fields as ChatCompletionVariantConfig so a DICL variant's dispatch can set
// its own temperature/top_p/max_tokens/seed/penalties/stop sequences instead
// of always taking the request's bare defaults.
type DICLVariantConfig struct {
	W                  float64
	Model              string // generation model
	EmbeddingModel     string
	K                  int
	SystemInstructions string // default few-shot preamble when empty

	Temperature      *float32
	TopP             *float32
	MaxTokens        *int
	Seed             *int64
	PresencePenalty  *float32
	FrequencyPenalty *float32
	StopSequences    []string
}

func (c *DICLVariantConfig) Weight() float64   { return c.W }
func (c *DICLVariantConfig) ModelName() string { return c.Model }

// FunctionConfig is a named polymorphic entity (spec §3 "Function").
type FunctionConfig struct {
	Name                string
	Kind                FunctionKind
	Schemas             IOSchemas
	OutputSchema        *schema.Schema // mandatory for Json
	Tools               []string       // static tool names
	ToolChoice          *model.ToolChoice
	ParallelToolCalls   *bool
	Variants            map[string]Variant
}

// GatewayConfig holds the process-level settings of the `[gateway]` TOML
// table (spec §4.9, §6 "HTTP surface").
type GatewayConfig struct {
	BindAddress          string
	BasePath             string
	VerboseErrors        bool
	DisableObservability bool
}

// Config is the fully loaded, immutable configuration graph (spec §3
// "Config is loaded once, validated as a whole, and held immutable").
type Config struct {
	Gateway   GatewayConfig
	Functions map[string]*FunctionConfig
	Models    map[string]*ModelConfig
	Tools     map[string]*ToolConfig
	Metrics   map[string]*MetricConfig
}
