// Package config defines the configuration surface and YAML loader.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port <= 0 {
		c.Port = 8080
	}
}

// Config is the root configuration.
type Config struct {
	Server ServerConfig `yaml:"server,omitempty"`

	// Workspace is the directory tools operate in. All file tool paths
	// resolve inside it.
	Workspace string `yaml:"workspace,omitempty"`

	// DataRoot holds persisted state: vector store, sqlite, audit log.
	DataRoot string `yaml:"data_root,omitempty"`

	LLM           LLMConfig             `yaml:"llm,omitempty"`
	Embedder      EmbedderConfig        `yaml:"embedder,omitempty"`
	Vector        VectorConfig          `yaml:"vector,omitempty"`
	Indexer       IndexerConfig         `yaml:"indexer,omitempty"`
	Memory        MemoryConfig          `yaml:"memory,omitempty"`
	Roles         map[string]RoleConfig `yaml:"roles,omitempty"`
	Orchestrator  OrchestratorConfig    `yaml:"orchestrator,omitempty"`
	Gateway       GatewayConfig         `yaml:"gateway,omitempty"`
	Tools         ToolsConfig           `yaml:"tools,omitempty"`
	Sandbox       SandboxConfig         `yaml:"sandbox,omitempty"`
	Webhook       WebhookConfig         `yaml:"webhook,omitempty"`
	Auth          AuthConfig            `yaml:"auth,omitempty"`
	RateLimit     RateLimitConfig       `yaml:"rate_limit,omitempty"`
	Observability ObservabilityConfig   `yaml:"observability,omitempty"`
	Audit         AuditConfig           `yaml:"audit,omitempty"`
	Logging       LoggingConfig         `yaml:"logging,omitempty"`
}

func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	if c.Workspace == "" {
		c.Workspace = "."
	}
	if c.DataRoot == "" {
		c.DataRoot = "./.state"
	}
	c.LLM.SetDefaults()
	c.Embedder.SetDefaults()
	c.Vector.SetDefaults()
	c.Indexer.SetDefaults()
	c.Memory.SetDefaults()
	c.Orchestrator.SetDefaults()
	c.Gateway.SetDefaults()
	c.Tools.SetDefaults()
	c.Sandbox.SetDefaults()
	c.Webhook.SetDefaults()
	c.RateLimit.SetDefaults()
	c.Observability.SetDefaults()
	if c.Audit.Path == "" {
		c.Audit.Path = filepath.Join(c.DataRoot, "audit.log")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := c.Embedder.Validate(); err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	if err := c.Vector.Validate(); err != nil {
		return fmt.Errorf("vector: %w", err)
	}
	if err := c.Indexer.Validate(); err != nil {
		return fmt.Errorf("indexer: %w", err)
	}
	if err := c.Orchestrator.Validate(); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	if err := c.Tools.Validate(); err != nil {
		return fmt.Errorf("tools: %w", err)
	}
	if err := c.Sandbox.Validate(); err != nil {
		return fmt.Errorf("sandbox: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return nil
}

// Load reads a YAML config file, expands environment variable
// references, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
