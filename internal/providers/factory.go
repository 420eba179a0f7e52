package providers

import (
	"os"

	"github.com/dayuer/pacebot/internal/config"
)

// ForModel builds the streamer that serves model under the agent settings.
// An explicit gateway (provider name, key prefix or API base) takes every model;
// otherwise the registry picks the backend by model keyword.
func ForModel(agent config.AgentConfig, model string) Streamer {
	if FindGateway(agent.Provider, agent.APIKey, agent.APIBase) != nil || agent.APIBase != "" {
		return NewProvider(agent.APIKey, agent.APIBase, model, agent.Provider)
	}

	spec := FindByModel(model)
	if spec == nil {
		return NewProvider(agent.APIKey, "", model, agent.Provider)
	}

	key := agent.APIKey
	if agent.Provider != "" && agent.Provider != spec.Name {
		// the configured key belongs to another provider
		key = ""
	}
	if key == "" {
		key = os.Getenv(spec.EnvKey)
	}

	if spec.Protocol() == BackendAnthropic {
		return NewAnthropicStreamer(key, "", model)
	}
	return NewProvider(key, spec.DefaultAPIBase, model, "")
}

// NewDynamicFromConfig returns a Dynamic whose default backend serves defaultModel
// and which builds other families on demand with the same agent settings.
func NewDynamicFromConfig(agent config.AgentConfig, defaultModel string) *Dynamic {
	return NewDynamic(ForModel(agent, defaultModel), func(model string) Streamer {
		return ForModel(agent, model)
	})
}
