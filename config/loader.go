// Package config loads taskflow configuration from defaults, an optional
// YAML file, and environment variable overrides, in that priority order.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("taskflow.yaml").
//	    WithEnvPrefix("TASKFLOW").
//	    Load()
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete taskflow configuration.
type Config struct {
	// Action holds the round-loop defaults applied to parsed workflows.
	Action ActionConfig `yaml:"action" env:"ACTION"`

	// LLM configures the provider connection.
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Redis configures the run store.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Log configures execution logging.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Metrics configures Prometheus instrumentation.
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// ActionConfig carries round-loop defaults.
type ActionConfig struct {
	MaxTokens   int     `yaml:"max_tokens" env:"MAX_TOKENS"`
	Temperature float32 `yaml:"temperature" env:"TEMPERATURE"`
	MaxRounds   int     `yaml:"max_rounds" env:"MAX_ROUNDS"`
	TokenBudget int     `yaml:"token_budget" env:"TOKEN_BUDGET"`
}

// LLMConfig configures the provider connection.
type LLMConfig struct {
	Provider string        `yaml:"provider" env:"PROVIDER"`
	APIKey   string        `yaml:"api_key" env:"API_KEY"`
	BaseURL  string        `yaml:"base_url" env:"BASE_URL"`
	Model    string        `yaml:"model" env:"MODEL"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RedisConfig configures the Redis run store.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	PoolSize  int    `yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// LogConfig configures execution logging.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console.
	Format string `yaml:"format" env:"FORMAT"`
	// Retention bounds the logger's replay history.
	Retention int `yaml:"retention" env:"RETENTION"`
}

// MetricsConfig configures Prometheus instrumentation.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// Loader loads configuration with builder-style options.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the TASKFLOW env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "TASKFLOW"}
}

// WithConfigPath sets the YAML file path. A missing file is not an error;
// defaults and env apply.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation function run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration: defaults, then file, then env.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}
