package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Relay     RelayConfig     `yaml:"relay"`
	Model     ModelConfig     `yaml:"model"`
	Overlay   OverlayConfig   `yaml:"overlay"`
	Client    ClientConfig    `yaml:"client"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AuthToken      string   `yaml:"auth_token"`
}

type RelayConfig struct {
	// Delay before the single reconnect attempt after an upstream drop.
	UpstreamReconnectDelay time.Duration `yaml:"upstream_reconnect_delay"`
	// Consecutive upstream failures after which the session stays detached.
	UpstreamMaxFailures int           `yaml:"upstream_max_failures"`
	UpstreamDialTimeout time.Duration `yaml:"upstream_dial_timeout"`
	KeepaliveInterval   time.Duration `yaml:"keepalive_interval"`
}

type ModelConfig struct {
	// Provider selects the upstream implementation: "gemini" or "mock".
	Provider  string `yaml:"provider"`
	Name      string `yaml:"name"`
	AgentName string `yaml:"agent_name"`
	APIKeyEnv string `yaml:"api_key_env"`
	Voice     string `yaml:"voice"`
}

type OverlayConfig struct {
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	ExitDuration time.Duration `yaml:"exit_duration"`
	StepHold     time.Duration `yaml:"step_hold"`
	StepPause    time.Duration `yaml:"step_pause"`
}

type ClientConfig struct {
	URL                  string        `yaml:"url"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
}

type KnowledgeConfig struct {
	Docs []KnowledgeDoc `yaml:"docs"`
}

type KnowledgeDoc struct {
	Title string `yaml:"title"`
	Body  string `yaml:"body"`
}

// Default returns the built-in configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Relay: RelayConfig{
			UpstreamReconnectDelay: 2 * time.Second,
			UpstreamMaxFailures:    5,
			UpstreamDialTimeout:    15 * time.Second,
			KeepaliveInterval:      500 * time.Millisecond,
		},
		Model: ModelConfig{
			Provider:  "gemini",
			Name:      "gemini-2.0-flash-live-001",
			AgentName: "gemini-2.0-flash",
			APIKeyEnv: "GEMINI_API_KEY",
			Voice:     "Puck",
		},
		Overlay: OverlayConfig{
			IdleTimeout:  15 * time.Second,
			ExitDuration: 400 * time.Millisecond,
			StepHold:     3 * time.Second,
			StepPause:    300 * time.Millisecond,
		},
		Client: ClientConfig{
			URL:                  "ws://localhost:8080/ws",
			ReconnectInterval:    3 * time.Second,
			MaxReconnectAttempts: 10,
		},
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// APIKey resolves the model API key from the configured environment variable.
func (m ModelConfig) APIKey() string {
	if m.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(m.APIKeyEnv)
}
