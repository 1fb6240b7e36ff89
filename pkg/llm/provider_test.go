package llm

import "perftrail/internal/config"

func configFor(provider string) config.LLMConfig {
	return config.LLMConfig{Provider: provider, Temperature: 0.1, MaxTokens: 100}
}
