package config

import "time"

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Action:  DefaultActionConfig(),
		LLM:     DefaultLLMConfig(),
		Redis:   DefaultRedisConfig(),
		Log:     DefaultLogConfig(),
		Metrics: DefaultMetricsConfig(),
	}
}

// DefaultActionConfig returns the round-loop defaults.
func DefaultActionConfig() ActionConfig {
	return ActionConfig{
		MaxTokens:   4096,
		Temperature: 0.7,
		MaxRounds:   10,
		TokenBudget: 32000,
	}
}

// DefaultLLMConfig returns the provider defaults.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider: "openai",
		Model:    "gpt-4",
		Timeout:  2 * time.Minute,
	}
}

// DefaultRedisConfig returns the run store defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		PoolSize:  10,
		KeyPrefix: "taskflow:",
	}
}

// DefaultLogConfig returns the logging defaults.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:     "info",
		Format:    "json",
		Retention: 256,
	}
}

// DefaultMetricsConfig returns the metrics defaults.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Namespace: "taskflow",
	}
}
