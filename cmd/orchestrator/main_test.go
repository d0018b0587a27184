package main

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/orchestrator/pkg/config"
	"github.com/corvid-labs/orchestrator/pkg/embedding"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestGetEnvReturnsSetValue(t *testing.T) {
	t.Setenv("ORCHESTRATOR_TEST_VAR", "configured")
	assert.Equal(t, "configured", getEnv("ORCHESTRATOR_TEST_VAR", "fallback"))
}

func TestGetEnvReturnsDefaultWhenUnset(t *testing.T) {
	assert.Equal(t, "fallback", getEnv("ORCHESTRATOR_TEST_VAR_UNSET", "fallback"))
}

func TestBuildEmbedderFallsBackToNoopWithoutAPIKey(t *testing.T) {
	cfg := config.EmbedderConfig{APIKeyEnv: "ORCHESTRATOR_TEST_EMBED_KEY_UNSET", Dimension: 8}
	embed := buildEmbedder(cfg, discardLogger())
	require.NotNil(t, embed)
	assert.Equal(t, 8, embed.Dimension())

	_, isNoop := embed.(*embedding.Noop)
	assert.True(t, isNoop)
}

func TestBuildEmbedderUsesRemoteWhenAPIKeyPresent(t *testing.T) {
	t.Setenv("ORCHESTRATOR_TEST_EMBED_KEY", "sk-test-key")
	cfg := config.EmbedderConfig{APIKeyEnv: "ORCHESTRATOR_TEST_EMBED_KEY", Model: "text-embedding-3-small", Dimension: 1536}
	embed := buildEmbedder(cfg, discardLogger())
	require.NotNil(t, embed)

	_, isRemote := embed.(*embedding.Remote)
	assert.True(t, isRemote)
}

func TestBuildProviderClientsReturnsEmptyWhenAllDisabled(t *testing.T) {
	clients := buildProviderClients(context.Background(), config.ProvidersConfig{}, discardLogger())
	assert.Empty(t, clients)
}

func TestBuildProviderClientsSkipsAnthropicWithoutAPIKey(t *testing.T) {
	cfg := config.ProvidersConfig{
		Anthropic: config.ProviderConfig{Enabled: true, APIKeyEnv: "ORCHESTRATOR_TEST_ANTHROPIC_KEY_UNSET"},
	}
	clients := buildProviderClients(context.Background(), cfg, discardLogger())
	_, ok := clients["anthropic"]
	assert.False(t, ok)
}

func TestBuildProviderClientsBuildsAnthropicWithAPIKey(t *testing.T) {
	t.Setenv("ORCHESTRATOR_TEST_ANTHROPIC_KEY", "sk-ant-test")
	cfg := config.ProvidersConfig{
		Anthropic: config.ProviderConfig{Enabled: true, APIKeyEnv: "ORCHESTRATOR_TEST_ANTHROPIC_KEY"},
	}
	clients := buildProviderClients(context.Background(), cfg, discardLogger())
	client, ok := clients["anthropic"]
	require.True(t, ok)
	assert.Equal(t, "anthropic", client.Name())
}

func TestBuildProviderClientsBuildsOpenAIWithAPIKey(t *testing.T) {
	t.Setenv("ORCHESTRATOR_TEST_OPENAI_KEY", "sk-oa-test")
	cfg := config.ProvidersConfig{
		OpenAI: config.ProviderConfig{Enabled: true, APIKeyEnv: "ORCHESTRATOR_TEST_OPENAI_KEY"},
	}
	clients := buildProviderClients(context.Background(), cfg, discardLogger())
	client, ok := clients["openai"]
	require.True(t, ok)
	assert.Equal(t, "openai", client.Name())
}
