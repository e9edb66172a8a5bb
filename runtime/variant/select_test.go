package variant

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorzero/gateway/runtime/config"
)

func TestSelect_IsDeterministicForSameEpisode(t *testing.T) {
	fc := &config.FunctionConfig{
		Name: "greet",
		Variants: map[string]config.Variant{
			"a": &config.ChatCompletionVariantConfig{W: 1, Model: "claude"},
			"b": &config.ChatCompletionVariantConfig{W: 1, Model: "gpt"},
		},
	}
	episode := uuid.Must(uuid.NewV7())

	name1, _, err := Select(fc, episode)
	require.NoError(t, err)
	name2, _, err := Select(fc, episode)
	require.NoError(t, err)
	assert.Equal(t, name1, name2)
}

func TestSelect_ZeroWeightVariantNeverChosenAlongsideNonZero(t *testing.T) {
	fc := &config.FunctionConfig{
		Name: "greet",
		Variants: map[string]config.Variant{
			"always": &config.ChatCompletionVariantConfig{W: 1, Model: "claude"},
			"never":  &config.ChatCompletionVariantConfig{W: 0, Model: "gpt"},
		},
	}
	for i := 0; i < 50; i++ {
		episode := uuid.Must(uuid.NewV7())
		name, _, err := Select(fc, episode)
		require.NoError(t, err)
		assert.Equal(t, "always", name)
	}
}

func TestSelect_NoVariantsFails(t *testing.T) {
	fc := &config.FunctionConfig{Name: "empty", Variants: map[string]config.Variant{}}
	_, _, err := Select(fc, uuid.Must(uuid.NewV7()))
	require.Error(t, err)
}
