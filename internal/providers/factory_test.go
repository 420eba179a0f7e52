package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayuer/pacebot/internal/config"
)

func TestForModel_PicksBackendByFamily(t *testing.T) {
	agent := config.AgentConfig{}

	_, ok := ForModel(agent, "claude-3-5-haiku-latest").(*AnthropicStreamer)
	assert.True(t, ok)

	p, ok := ForModel(agent, "grok-3").(*Provider)
	require.True(t, ok)
	assert.Equal(t, "https://api.x.ai/v1", p.APIBase)
	assert.Equal(t, "grok-3", p.DefaultModel())
}

func TestForModel_GatewayTakesEveryModel(t *testing.T) {
	agent := config.AgentConfig{APIKey: "sk-or-xyz", Provider: "openrouter"}

	p, ok := ForModel(agent, "claude-3-5-haiku-latest").(*Provider)
	require.True(t, ok)
	assert.Equal(t, "sk-or-xyz", p.APIKey)
	require.NotNil(t, p.gateway)
	assert.Equal(t, "openrouter", p.gateway.Name)
}

func TestForModel_ForeignKeyIsNotReused(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "openai-env")
	agent := config.AgentConfig{Provider: "anthropic", APIKey: "anthropic-key"}

	p, ok := ForModel(agent, "gpt-4o").(*Provider)
	require.True(t, ok)
	assert.Equal(t, "openai-env", p.APIKey)
}

func TestNewDynamicFromConfig(t *testing.T) {
	d := NewDynamicFromConfig(config.AgentConfig{}, "gpt-4o-mini")
	assert.Equal(t, "gpt-4o-mini", d.DefaultModel())
	_, ok := d.pick("claude-3-5-haiku-latest").(*AnthropicStreamer)
	assert.True(t, ok)
}
