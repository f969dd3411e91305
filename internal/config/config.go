// Package config handles loading and validating convo configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for convo.
type Config struct {
	Provider      ProviderConfig       `json:"provider" yaml:"provider"`
	History       HistoryConfig        `json:"history" yaml:"history"`
	Images        ImagesConfig         `json:"images" yaml:"images"`
	Chat          ChatConfig           `json:"chat" yaml:"chat"`
	Server        *ServerConfig        `json:"server,omitempty" yaml:"server,omitempty"`               // nil = built-in defaults
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// ProviderConfig selects and tunes the LLM backend.
type ProviderConfig struct {
	Name      string       `json:"name" yaml:"name"`                               // "mock" (default), "ollama" or "openai". Override: LLM_NAME env var.
	Fallbacks []string     `json:"fallbacks,omitempty" yaml:"fallbacks,omitempty"` // Providers tried in order when the primary fails.
	Ollama    OllamaConfig `json:"ollama" yaml:"ollama"`
	OpenAI    OpenAIConfig `json:"openai" yaml:"openai"`
}

// ProviderName returns the configured provider, defaulting to "mock".
func (p *ProviderConfig) ProviderName() string {
	if p.Name != "" {
		return p.Name
	}
	return "mock"
}

// OllamaConfig holds settings for a self-hosted Ollama endpoint.
type OllamaConfig struct {
	BaseURL        string `json:"base_url" yaml:"base_url"`               // Default: http://localhost:11434. Override: OLLAMA_BASE_URL env var.
	Model          string `json:"model" yaml:"model"`                     // Default: qwen2.5vl:3b. Override: OLLAMA_MODEL env var.
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"` // Default: 30. Override: OLLAMA_TIMEOUT env var.
}

// Timeout returns the request timeout with a default of 30s.
func (o *OllamaConfig) Timeout() time.Duration {
	if o.TimeoutSeconds > 0 {
		return time.Duration(o.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// OpenAIConfig holds settings for an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey         string `json:"api_key,omitempty" yaml:"api_key,omitempty"` // Override: OPENAI_API_KEY env var.
	Model          string `json:"model" yaml:"model"`                         // Default: gpt-3.5-turbo. Override: OPENAI_MODEL env var.
	BaseURL        string `json:"base_url" yaml:"base_url"`                   // Default: https://api.openai.com/v1. Override: OPENAI_BASE_URL env var.
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`     // Default: 30. Override: OPENAI_TIMEOUT env var.
}

// Timeout returns the request timeout with a default of 30s.
func (o *OpenAIConfig) Timeout() time.Duration {
	if o.TimeoutSeconds > 0 {
		return time.Duration(o.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// HistoryConfig configures conversation export.
type HistoryConfig struct {
	ExportDir string `json:"export_dir" yaml:"export_dir"` // Default: ./conversations. Override: CONVERSATION_SAVE_PATH env var.
}

// ImagesConfig configures local image resolution.
type ImagesConfig struct {
	BaseDir string `json:"base_dir" yaml:"base_dir"` // Directory prepended to relative image refs. Override: IMAGE_BASE_DIR env var.
}

// ChatConfig tunes the turn pipeline.
type ChatConfig struct {
	SystemPrompt       string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"` // Seeded on new conversations. Override: SYSTEM_PROMPT env var.
	MaxConcurrentTurns int    `json:"max_concurrent_turns" yaml:"max_concurrent_turns"`       // Default: 5.
}

// MaxConcurrent returns the turn concurrency cap with a default of 5.
func (c *ChatConfig) MaxConcurrent() int {
	if c.MaxConcurrentTurns > 0 {
		return c.MaxConcurrentTurns
	}
	return 5
}

// ServerConfig configures the HTTP/WebSocket gateway.
// When nil, the gateway listens on the default address without rate limiting.
type ServerConfig struct {
	Addr      string           `json:"addr" yaml:"addr"` // Default: ":8080".
	Docs      bool             `json:"docs" yaml:"docs"` // Serve interactive OpenAPI docs.
	RateLimit *RateLimitConfig `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// ListenAddr returns the listen address with a default of ":8080".
func (s *ServerConfig) ListenAddr() string {
	if s != nil && s.Addr != "" {
		return s.Addr
	}
	return ":8080"
}

// DocsEnabled reports whether the OpenAPI docs endpoint is served.
func (s *ServerConfig) DocsEnabled() bool {
	return s != nil && s.Docs
}

// RateLimiting returns the rate limit settings, nil when disabled.
func (s *ServerConfig) RateLimiting() *RateLimitConfig {
	if s == nil {
		return nil
	}
	return s.RateLimit
}

// RateLimitConfig caps per-client request rates on the gateway.
type RateLimitConfig struct {
	PerMinute int `json:"per_minute" yaml:"per_minute"` // Default: 60.
	Burst     int `json:"burst" yaml:"burst"`           // Default: 10.
}

// Limit returns the sustained per-minute rate with a default of 60.
func (r *RateLimitConfig) Limit() int {
	if r != nil && r.PerMinute > 0 {
		return r.PerMinute
	}
	return 60
}

// BurstSize returns the burst allowance with a default of 10.
func (r *RateLimitConfig) BurstSize() int {
	if r != nil && r.Burst > 0 {
		return r.Burst
	}
	return 10
}

// ObservabilityConfig configures metrics and tracing.
// When nil, both are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "convo"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// Default returns a configuration with every tunable at its built-in value.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{Name: "mock"},
	}
}

// DefaultConfigPath returns the conventional config file location.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/convo.json" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".convo", "config.json")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. An empty path skips the file and starts from Default().
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".yml", ".yaml":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing YAML config %s: %w", path, err)
			}
		default:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing JSON config %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays environment variables on cfg. Env vars take precedence
// over config file values.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("LLM_NAME"); v != "" {
		cfg.Provider.Name = v
	}

	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.Provider.Ollama.BaseURL = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.Provider.Ollama.Model = v
	}
	if v := os.Getenv("OLLAMA_TIMEOUT"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing OLLAMA_TIMEOUT %q: %w", v, err)
		}
		cfg.Provider.Ollama.TimeoutSeconds = secs
	}

	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Provider.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.Provider.OpenAI.Model = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.Provider.OpenAI.BaseURL = v
	}
	if v := os.Getenv("OPENAI_TIMEOUT"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing OPENAI_TIMEOUT %q: %w", v, err)
		}
		cfg.Provider.OpenAI.TimeoutSeconds = secs
	}

	if v := os.Getenv("CONVERSATION_SAVE_PATH"); v != "" {
		cfg.History.ExportDir = v
	}
	if v := os.Getenv("IMAGE_BASE_DIR"); v != "" {
		cfg.Images.BaseDir = v
	}
	if v := os.Getenv("SYSTEM_PROMPT"); v != "" {
		cfg.Chat.SystemPrompt = v
	}
	return nil
}

func (c *Config) validate() error {
	names := append([]string{c.Provider.ProviderName()}, c.Provider.Fallbacks...)
	for _, name := range names {
		switch name {
		case "mock", "ollama", "openai":
		default:
			return fmt.Errorf("unsupported provider %q (supported: mock, ollama, openai)", name)
		}
	}
	if c.Chat.MaxConcurrentTurns < 0 {
		return fmt.Errorf("max_concurrent_turns must not be negative, got %d", c.Chat.MaxConcurrentTurns)
	}
	return nil
}
