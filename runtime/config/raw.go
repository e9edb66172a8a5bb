package config

// rawFile is the uninitialized shape TOML unmarshals into: every field is a
// string, bool, or nested table, with no file IO or schema compilation yet.
// Load resolves these into the typed Config graph in a second pass, mirroring
// the teacher's parse-then-resolve convention for config trees.
type rawFile struct {
	Gateway   rawGateway              `toml:"gateway"`
	Models    map[string]rawModel     `toml:"models"`
	Functions map[string]rawFunction  `toml:"functions"`
	Tools     map[string]rawTool      `toml:"tools"`
	Metrics   map[string]rawMetric    `toml:"metrics"`
}

type rawGateway struct {
	BindAddress     string `toml:"bind_address"`
	BasePath        string `toml:"base_path"`
	VerboseErrors   bool   `toml:"debug_verbose_errors"`
	DisableObservability bool `toml:"disable_observability"`
}

type rawModel struct {
	Routing   []string                `toml:"routing"`
	Providers map[string]rawProvider  `toml:"providers"`
}

type rawProvider struct {
	Type    string `toml:"type"` // anthropic | openai | mistral | tgi | sglang | ollama | bedrock
	Model   string `toml:"model_name"`
	BaseURL string `toml:"api_base"`
	Region  string `toml:"region"`

	// Credential location, mutually exclusive (validated in load.go).
	APIKeyLocation string `toml:"api_key_location"` // "dynamic::NAME" | "env::NAME" | literal value

	RateLimit *rawRateLimit `toml:"rate_limit"`
}

type rawRateLimit struct {
	InitialTPM float64 `toml:"initial_tpm"`
	MaxTPM     float64 `toml:"max_tpm"`
	ClusterKey string  `toml:"cluster_key"`
}

type rawFunction struct {
	Type              string                 `toml:"type"` // chat | json
	SystemSchema      string                 `toml:"system_schema"`
	UserSchema        string                 `toml:"user_schema"`
	AssistantSchema   string                 `toml:"assistant_schema"`
	OutputSchema      string                 `toml:"output_schema"`
	Tools             []string               `toml:"tools"`
	ToolChoice        string                 `toml:"tool_choice"`
	ParallelToolCalls *bool                  `toml:"parallel_tool_calls"`
	Variants          map[string]rawVariant  `toml:"variants"`
}

type rawVariant struct {
	Type           string `toml:"type"` // chat_completion | dicl
	Weight         *float64 `toml:"weight"`
	Model          string `toml:"model"`

	SystemTemplate    string `toml:"system_template"`
	UserTemplate      string `toml:"user_template"`
	AssistantTemplate string `toml:"assistant_template"`

	Temperature      *float32 `toml:"temperature"`
	TopP             *float32 `toml:"top_p"`
	MaxTokens        *int     `toml:"max_tokens"`
	Seed             *int64   `toml:"seed"`
	PresencePenalty  *float32 `toml:"presence_penalty"`
	FrequencyPenalty *float32 `toml:"frequency_penalty"`
	StopSequences    []string `toml:"stop_sequences"`
	JSONMode         string   `toml:"json_mode"`

	// dicl-only fields
	EmbeddingModel     string `toml:"embedding_model"`
	K                  *int   `toml:"k"`
	SystemInstructions string `toml:"system_instructions"`
}

type rawTool struct {
	Description string `toml:"description"`
	Parameters  string `toml:"parameters"` // path to a JSON schema file
	Strict      bool   `toml:"strict"`
}

type rawMetric struct {
	Type      string `toml:"type"`
	Direction string `toml:"direction"`
	Level     string `toml:"level"`
}
