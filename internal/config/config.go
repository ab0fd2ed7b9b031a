// Package config resolves the runtime configuration from flags, NAV_*
// environment variables and the optional ~/.nav/config.yaml file, in that
// precedence order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider identifiers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Model    string
	Provider string
	BaseURL  string
	APIKey   string

	Verbose        bool
	Sandbox        bool
	EnableHandover bool

	ContextWindow     int64
	HandoverThreshold float64

	// Dir is the project working directory.
	Dir string
}

// fileConfig is the on-disk shape of ~/.nav/config.yaml.
type fileConfig struct {
	Model             string  `yaml:"model"`
	Provider          string  `yaml:"provider"`
	BaseURL           string  `yaml:"base_url"`
	APIKey            string  `yaml:"api_key"`
	ContextWindow     int64   `yaml:"context_window"`
	HandoverThreshold float64 `yaml:"handover_threshold"`
}

// DefaultConfigPath returns ~/.nav/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "nav.config.yaml"
	}
	return filepath.Join(home, ".nav", "config.yaml")
}

func loadFile(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fc, nil
		}
		return fc, err
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return fc, nil
}

// Flags is what the CLI parsed; empty fields fall through to env and file.
type Flags struct {
	Model          string
	Provider       string
	BaseURL        string
	Verbose        bool
	Sandbox        bool
	EnableHandover bool
}

// Resolve builds the effective configuration.
func Resolve(flags Flags) (*Config, error) {
	fc, err := loadFile(DefaultConfigPath())
	if err != nil {
		return nil, err
	}

	dir, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Verbose:           flags.Verbose,
		Sandbox:           flags.Sandbox || envBool("NAV_SANDBOX"),
		EnableHandover:    flags.EnableHandover,
		HandoverThreshold: 0.8,
		Dir:               dir,
	}

	cfg.Model = firstNonEmpty(flags.Model, os.Getenv("NAV_MODEL"), fc.Model, "gpt-4o")
	cfg.Provider = strings.ToLower(firstNonEmpty(flags.Provider, os.Getenv("NAV_PROVIDER"), fc.Provider, DetectProvider(cfg.Model)))
	cfg.BaseURL = firstNonEmpty(flags.BaseURL, os.Getenv("NAV_BASE_URL"), fc.BaseURL)

	switch cfg.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderOllama:
	default:
		return nil, fmt.Errorf("unknown provider %q (use openai, anthropic or ollama)", cfg.Provider)
	}

	cfg.APIKey = resolveAPIKey(cfg.Provider, fc.APIKey)

	if v := strings.TrimSpace(os.Getenv("NAV_CONTEXT_WINDOW")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid NAV_CONTEXT_WINDOW %q", v)
		}
		cfg.ContextWindow = n
	} else if fc.ContextWindow > 0 {
		cfg.ContextWindow = fc.ContextWindow
	}

	if v := strings.TrimSpace(os.Getenv("NAV_HANDOVER_THRESHOLD")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || f > 1 {
			return nil, fmt.Errorf("invalid NAV_HANDOVER_THRESHOLD %q (want a float in (0, 1])", v)
		}
		cfg.HandoverThreshold = f
	} else if fc.HandoverThreshold > 0 {
		cfg.HandoverThreshold = fc.HandoverThreshold
	}

	return cfg, nil
}

// ResolveModel recomputes provider, base URL and API key for a new model,
// used by the /model command. The provider is detected from the new model;
// the base URL comes only from NAV_BASE_URL and the API key only from the
// environment. The -p/-b flags and the config file are not consulted.
func (c *Config) ResolveModel(model string) (provider, baseURL, apiKey string) {
	provider = DetectProvider(model)
	baseURL = strings.TrimSpace(os.Getenv("NAV_BASE_URL"))
	apiKey = resolveAPIKey(provider, "")
	return provider, baseURL, apiKey
}

func resolveAPIKey(provider, fileKey string) string {
	if key := strings.TrimSpace(os.Getenv("NAV_API_KEY")); key != "" {
		return key
	}
	switch provider {
	case ProviderAnthropic:
		if key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); key != "" {
			return key
		}
	case ProviderOpenAI:
		if key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); key != "" {
			return key
		}
	}
	return strings.TrimSpace(fileKey)
}

// ollamaModelFamilies are model-name substrings that indicate a local
// Ollama model.
var ollamaModelFamilies = []string{
	"llama", "mistral", "qwen", "gemma", "phi", "deepseek",
	"codellama", "vicuna", "starcoder", "yi",
}

// DetectProvider guesses the provider from the model name.
func DetectProvider(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	if strings.Contains(m, "claude") {
		return ProviderAnthropic
	}
	for _, family := range ollamaModelFamilies {
		if strings.Contains(m, family) {
			return ProviderOllama
		}
	}
	if strings.Contains(m, "gpt") || strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") {
		return ProviderOpenAI
	}
	return ProviderOpenAI
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func envBool(name string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	return v == "1" || v == "true"
}
