package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFixture(t *testing.T, toml string, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	path := filepath.Join(dir, "tensorzero.toml")
	require.NoError(t, os.WriteFile(path, []byte(toml), 0o644))
	return path
}

const validToolSchema = `{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`

func TestLoad_MinimalChatFunction(t *testing.T) {
	path := writeConfigFixture(t, `
[models.claude.providers.anthropic]
type = "anthropic"
model_name = "claude-3-5-sonnet-20241022"
api_key_location = "env::ANTHROPIC_API_KEY"

[models.claude]
routing = ["anthropic"]

[functions.greet]
type = "chat"

[functions.greet.variants.default]
type = "chat_completion"
weight = 1.0
model = "claude"
`, nil)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	fn, ok := cfg.Functions["greet"]
	require.True(t, ok)
	assert.Equal(t, FunctionChat, fn.Kind)
	require.Len(t, fn.Variants, 1)

	variant := fn.Variants["default"].(*ChatCompletionVariantConfig)
	assert.Equal(t, "claude", variant.Model)
	assert.Equal(t, 1.0, variant.Weight())

	model := cfg.Models["claude"]
	require.NotNil(t, model)
	assert.Equal(t, []string{"anthropic"}, model.Routing)
	provider := model.Providers["anthropic"]
	assert.Equal(t, ProviderAnthropic, provider.Kind)
	assert.Equal(t, CredentialEnv, provider.Credential.Kind)
	assert.Equal(t, "ANTHROPIC_API_KEY", provider.Credential.EnvVar)
}

func TestLoad_UnknownModelReferenceFails(t *testing.T) {
	path := writeConfigFixture(t, `
[functions.greet]
type = "chat"

[functions.greet.variants.default]
type = "chat_completion"
weight = 1.0
model = "does-not-exist"
`, nil)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model")
}

func TestLoad_JSONFunctionRequiresOutputSchema(t *testing.T) {
	path := writeConfigFixture(t, `
[models.claude.providers.anthropic]
type = "anthropic"
model_name = "claude-3-5-sonnet-20241022"

[models.claude]
routing = ["anthropic"]

[functions.extract]
type = "json"

[functions.extract.variants.default]
type = "chat_completion"
weight = 1.0
model = "claude"
`, nil)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output_schema")
}

func TestLoad_TemplateSchemaPairingMismatchFails(t *testing.T) {
	path := writeConfigFixture(t, `
[models.claude.providers.anthropic]
type = "anthropic"
model_name = "claude-3-5-sonnet-20241022"

[models.claude]
routing = ["anthropic"]

[functions.greet]
type = "chat"
user_schema = "user_schema.json"

[functions.greet.variants.default]
type = "chat_completion"
weight = 1.0
model = "claude"
`, map[string]string{"user_schema.json": validToolSchema})

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user_schema and user_template")
}

func TestLoad_ToolReferenceResolves(t *testing.T) {
	path := writeConfigFixture(t, `
[models.claude.providers.anthropic]
type = "anthropic"
model_name = "claude-3-5-sonnet-20241022"

[models.claude]
routing = ["anthropic"]

[tools.get_weather]
description = "Look up current weather for a city"
parameters = "weather.json"

[functions.assistant]
type = "chat"
tools = ["get_weather"]

[functions.assistant.variants.default]
type = "chat_completion"
weight = 1.0
model = "claude"
`, map[string]string{"weather.json": validToolSchema})

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Contains(t, cfg.Tools, "get_weather")
	assert.Equal(t, []string{"get_weather"}, cfg.Functions["assistant"].Tools)
}

func TestLoad_DICLVariantRequiresEmbeddingModel(t *testing.T) {
	path := writeConfigFixture(t, `
[models.claude.providers.anthropic]
type = "anthropic"
model_name = "claude-3-5-sonnet-20241022"

[models.claude]
routing = ["anthropic"]

[functions.greet]
type = "chat"

[functions.greet.variants.dicl]
type = "dicl"
weight = 1.0
model = "claude"
`, nil)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding_model")
}

func TestLoad_RoutingReferencesUndefinedProviderFails(t *testing.T) {
	path := writeConfigFixture(t, `
[models.claude.providers.anthropic]
type = "anthropic"
model_name = "claude-3-5-sonnet-20241022"

[models.claude]
routing = ["openai"]

[functions.greet]
type = "chat"

[functions.greet.variants.default]
type = "chat_completion"
weight = 1.0
model = "claude"
`, nil)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefined provider")
}
