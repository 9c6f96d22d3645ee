package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// ListenerConfig holds the network settings for the HTTP listener.
type ListenerConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// Config holds all configuration for the engram service.
type Config struct {
	// DataDir is the root of all persistence. Empty resolves to ~/.engram.
	DataDir string `yaml:"data_dir"`

	// DefaultClientID serves requests that carry no X-Client-ID header.
	DefaultClientID string `yaml:"client_id"`

	// UseFallback forces lexical-only retrieval even when an embedding
	// provider is configured.
	UseFallback bool `yaml:"use_fallback"`

	// EmbedType selects the embedding plugin: "local", "openai", or
	// "disabled".
	EmbedType string `yaml:"embed_type"`

	// OpenAI embedding settings (embed_type=openai).
	OpenAIAPIKey     string `yaml:"openai_api_key"`
	OpenAIModelName  string `yaml:"openai_model"`
	OpenAIBaseURL    string `yaml:"openai_base_url"`
	OpenAIDimensions int    `yaml:"openai_dimensions"`

	// SessionRingSize bounds the per-client session log.
	SessionRingSize int `yaml:"session_ring_size"`

	// FlushInterval is the period of the background store flusher.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// SweepInterval is the period of the message-queue TTL sweeper.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// ReapInterval is the period of the idle-client reaper; IdleTTL is how
	// long a client instance may sit unused before it is dropped.
	ReapInterval time.Duration `yaml:"reap_interval"`
	IdleTTL      time.Duration `yaml:"idle_ttl"`

	// ConvergenceThreshold is the Jaccard similarity above which two
	// consecutive thought iterations count as converged.
	ConvergenceThreshold float64 `yaml:"convergence_threshold"`

	// Listener is the HTTP server binding.
	Listener ListenerConfig `yaml:"listener"`

	// MaxBodySize limits request bodies (bytes).
	MaxBodySize int64 `yaml:"max_body_size"`

	// DrainTimeout bounds graceful shutdown (seconds).
	DrainTimeout int `yaml:"drain_timeout"`

	// AccessLog enables per-request logging.
	AccessLog bool `yaml:"access_log"`

	// MetricsLabels adds constant labels to all Prometheus metrics,
	// comma-separated key=value pairs with ${VAR} expansion.
	MetricsLabels string `yaml:"metrics_labels"`
}

// DefaultConfig returns a Config with the stock defaults.
func DefaultConfig() Config {
	return Config{
		DefaultClientID:      "claude",
		EmbedType:            "local",
		OpenAIModelName:      "text-embedding-3-small",
		OpenAIBaseURL:        "https://api.openai.com/v1",
		SessionRingSize:      200,
		FlushInterval:        30 * time.Second,
		SweepInterval:        60 * time.Second,
		ReapInterval:         300 * time.Second,
		IdleTTL:              time.Hour,
		ConvergenceThreshold: 0.85,
		Listener: ListenerConfig{
			Host:              "127.0.0.1",
			Port:              8000,
			ReadHeaderTimeout: 5 * time.Second,
		},
		MaxBodySize:   10 * 1024 * 1024, // 10 MB
		DrainTimeout:  30,
		AccessLog:     true,
		MetricsLabels: "service=engram",
	}
}

// ResolvedDataDir expands the configured data directory. Empty and "~/"
// paths resolve against the user's home directory.
func (c *Config) ResolvedDataDir() (string, error) {
	dir := ""
	if c != nil {
		dir = strings.TrimSpace(c.DataDir)
	}
	if dir == "" {
		dir = "~/.engram"
	}
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	return dir, nil
}

// LoadFile overlays the YAML file at path onto c. Values later bound from
// flags or the environment win over the file.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}
	return nil
}
