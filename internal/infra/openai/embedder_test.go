package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEmbedder_Defaults(t *testing.T) {
	embedder, err := NewEmbedder("dummy-key")
	require.NoError(t, err)

	meta := embedder.Metadata()
	assert.Equal(t, "openai", meta.Provider)
	assert.Equal(t, DefaultEmbeddingModel, meta.Model)
	assert.Equal(t, DefaultEmbeddingDimension, meta.Dimension)
	assert.Equal(t, 100, embedder.MaxBatchSize())
}

func TestNewEmbedder_OptionsOverrideDefaults(t *testing.T) {
	embedder, err := NewEmbedder("dummy-key",
		WithEmbeddingModel("custom-model"),
		WithEmbeddingDimension(42),
	)
	require.NoError(t, err)

	meta := embedder.Metadata()
	assert.Equal(t, "custom-model", meta.Model)
	assert.Equal(t, 42, meta.Dimension)
	assert.Equal(t, "openai/custom-model/42", meta.Identity())
}

func TestNewEmbedder_EmptyAPIKey(t *testing.T) {
	_, err := NewEmbedder("")
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)
}

func TestNewClient_Options(t *testing.T) {
	client, err := NewClient("dummy-key",
		WithModel("gpt-4o"),
		WithTemperature(0.2),
		WithMaxTokens(500),
	)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", client.ModelName())
	assert.Equal(t, 0.2, client.temperature)
	assert.Equal(t, 500, client.maxTokens)
}

func TestNewClient_EmptyAPIKey(t *testing.T) {
	_, err := NewClient("")
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)
}

func TestIsChatModel(t *testing.T) {
	assert.True(t, isChatModel("gpt-4o-mini"))
	assert.True(t, isChatModel("gpt-3.5-turbo"))
	assert.False(t, isChatModel("text-embedding-3-small"))
	assert.False(t, isChatModel("whisper-1"))
}
