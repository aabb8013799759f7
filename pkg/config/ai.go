package config

import "time"

// AIConfig holds settings for the AI completion service.
type AIConfig struct {
	// URL is the completion endpoint base, e.g. "https://api.openai.com".
	URL string `yaml:"url"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// Model is the default model identifier.
	Model string `yaml:"model"`

	// Temperature for completions.
	Temperature float64 `yaml:"temperature"`

	// Timeout is the per-request deadline.
	Timeout time.Duration `yaml:"timeout"`

	// Costs overrides the built-in per-model cost table. Keys are model
	// names; values are USD per million tokens.
	Costs map[string]ModelCost `yaml:"costs"`
}

// ModelCost is the USD-per-million-token price pair for one model.
type ModelCost struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// DefaultAIConfig returns the built-in AI client defaults.
func DefaultAIConfig() *AIConfig {
	return &AIConfig{
		URL:         "https://api.openai.com",
		APIKeyEnv:   "AI_API_KEY",
		Model:       "gpt-4o-mini",
		Temperature: 0.2,
		Timeout:     60 * time.Second,
	}
}
