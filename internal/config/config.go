package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main Kawan configuration
type Config struct {
	// Gateway server
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Builtin provider credentials
	Builtin BuiltinConfig `json:"builtin" mapstructure:"builtin"`

	// Hosted runtime
	Hosted HostedConfig `json:"hosted" mapstructure:"hosted"`

	// Skills
	Skills SkillsConfig `json:"skills" mapstructure:"skills"`

	// Push event sources
	Push PushConfig `json:"push" mapstructure:"push"`

	// Scheduled reminders
	Jobs []JobConfig `json:"jobs" mapstructure:"jobs"`

	// Auth
	Auth AuthConfig `json:"auth" mapstructure:"auth"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// GatewayConfig holds WebSocket gateway configuration
type GatewayConfig struct {
	Port int    `json:"port" mapstructure:"port"`
	Host string `json:"host" mapstructure:"host"`

	// DefaultEndpoint is the managed upstream for privileged gateway-mode
	// sessions that omit their own endpoint.
	DefaultEndpoint string   `json:"default_endpoint" mapstructure:"default_endpoint"`
	Privileged      []string `json:"privileged" mapstructure:"privileged"`
}

// BuiltinConfig holds the managed provider credentials. The builtin provider
// speaks the OpenAI wire format; BaseURL points it at any compatible server.
type BuiltinConfig struct {
	APIKey       string `json:"api_key" mapstructure:"api_key"`
	BaseURL      string `json:"base_url" mapstructure:"base_url"`
	Model        string `json:"model" mapstructure:"model"`
	SystemPrompt string `json:"system_prompt" mapstructure:"system_prompt"`
}

// HostedConfig holds the managed agent runtime endpoint
type HostedConfig struct {
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`
	Token    string `json:"token" mapstructure:"token"`
	// QuotaPerUser caps hosted-mode turns per user; 0 disables the cap.
	QuotaPerUser int `json:"quota_per_user" mapstructure:"quota_per_user"`
}

// SkillsConfig holds skill registry configuration
type SkillsConfig struct {
	// Dir is watched for *.skill.json manifests.
	Dir string `json:"dir" mapstructure:"dir"`
	// Builtins enables the bundled calculator and clock skills.
	Builtins bool `json:"builtins" mapstructure:"builtins"`
}

// PushConfig holds the upstream push listener configuration
type PushConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`
	Token    string `json:"token" mapstructure:"token"`
}

// JobConfig is one scheduled reminder
type JobConfig struct {
	Name    string `json:"name" mapstructure:"name"`
	Expr    string `json:"expr" mapstructure:"expr"`
	Message string `json:"message" mapstructure:"message"`
	Source  string `json:"source" mapstructure:"source"`
}

// AuthConfig holds token verification configuration
type AuthConfig struct {
	Tokens []TokenEntry `json:"tokens" mapstructure:"tokens"`
}

// TokenEntry maps a static token to a user identity
type TokenEntry struct {
	Token  string `json:"token" mapstructure:"token"`
	UserID string `json:"user_id" mapstructure:"user_id"`
	Phone  string `json:"phone" mapstructure:"phone"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Builtin: BuiltinConfig{
			Model: "gpt-4o-mini",
		},
		Hosted: HostedConfig{
			QuotaPerUser: 0,
		},
		Skills: SkillsConfig{
			Builtins: true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}

	for i, job := range c.Jobs {
		if job.Name == "" {
			return fmt.Errorf("job %d: name is required", i)
		}
		if job.Expr == "" {
			return fmt.Errorf("job %s: expr is required", job.Name)
		}
		if job.Message == "" {
			return fmt.Errorf("job %s: message is required", job.Name)
		}
	}

	for i, entry := range c.Auth.Tokens {
		if entry.Token == "" {
			return fmt.Errorf("auth token %d: token is required", i)
		}
		if entry.UserID == "" {
			return fmt.Errorf("auth token %d: user_id is required", i)
		}
	}

	if c.Push.Enabled && c.Push.Endpoint == "" {
		return fmt.Errorf("push listener enabled without an endpoint")
	}

	return nil
}
