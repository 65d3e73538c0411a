package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the on-disk configuration for showrun-agent.
//
// Secrets (provider API keys) live in the settings secrets store, not here.
type Config struct {
	// ListenAddr is the gateway bind address. If empty, 127.0.0.1:8787.
	ListenAddr string `json:"listen_addr,omitempty"`

	// DataDir holds the CRM database, audit log, secrets, and lock file.
	// If empty, ~/.showrun.
	DataDir string `json:"data_dir,omitempty"`

	// Provider selects the reasoning backend.
	Provider Provider `json:"provider"`

	// CopyModel is the model used for campaign copy drafting. If empty, a
	// small default model is used.
	CopyModel string `json:"copy_model,omitempty"`

	// MaxIterations bounds oracle turns per chat request. If zero, 8.
	MaxIterations int `json:"max_iterations,omitempty"`

	// ChatRatePerMinute caps chat requests per client IP. If zero, 5.
	ChatRatePerMinute int `json:"chat_rate_per_minute,omitempty"`

	// AllowedOrigins enables CORS for these origins. "*" allows any.
	AllowedOrigins []string `json:"allowed_origins,omitempty"`

	// LogFormat is "json" or "text".
	LogFormat string `json:"log_format,omitempty"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `json:"log_level,omitempty"`
}

// Provider identifies the reasoning oracle backend.
type Provider struct {
	// Type is "anthropic", "openai", or "openai_compatible".
	Type string `json:"type"`
	// BaseURL overrides the provider endpoint (required for
	// openai_compatible gateways).
	BaseURL string `json:"base_url,omitempty"`
	// Model is the reasoning model id.
	Model string `json:"model"`
}

const (
	DefaultListenAddr        = "127.0.0.1:8787"
	DefaultMaxIterations     = 8
	DefaultChatRatePerMinute = 5
)

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch strings.ToLower(strings.TrimSpace(c.Provider.Type)) {
	case "anthropic", "openai":
	case "openai_compatible":
		if strings.TrimSpace(c.Provider.BaseURL) == "" {
			return errors.New("openai_compatible provider requires base_url")
		}
	case "":
		return errors.New("missing provider.type")
	default:
		return fmt.Errorf("unsupported provider.type %q", c.Provider.Type)
	}
	if strings.TrimSpace(c.Provider.Model) == "" {
		return errors.New("missing provider.model")
	}
	if c.MaxIterations < 0 {
		return errors.New("max_iterations must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "json", "text":
	default:
		return fmt.Errorf("unsupported log_format %q", c.LogFormat)
	}
	return nil
}

// EffectiveListenAddr returns ListenAddr or the default.
func (c *Config) EffectiveListenAddr() string {
	if addr := strings.TrimSpace(c.ListenAddr); addr != "" {
		return addr
	}
	return DefaultListenAddr
}

// EffectiveDataDir returns DataDir or ~/.showrun.
func (c *Config) EffectiveDataDir() string {
	if dir := strings.TrimSpace(c.DataDir); dir != "" {
		return dir
	}
	return DefaultDataDir()
}

func (c *Config) EffectiveMaxIterations() int {
	if c.MaxIterations > 0 {
		return c.MaxIterations
	}
	return DefaultMaxIterations
}

func (c *Config) EffectiveChatRate() int {
	if c.ChatRatePerMinute != 0 {
		return c.ChatRatePerMinute
	}
	return DefaultChatRatePerMinute
}

// DefaultDataDir returns ~/.showrun, falling back to a relative dir when the
// home directory cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return ".showrun"
	}
	return filepath.Join(home, ".showrun")
}

// DefaultConfigPath returns the default config path:
//
//	~/.showrun/config.json
func DefaultConfigPath() string {
	return filepath.Join(DefaultDataDir(), "config.json")
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// Write atomically.
	tmp := path + ".tmp"
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
