package config

import (
	"fmt"
	"time"
)

// LLMProviderConfig configures a single provider in the fallback chain.
type LLMProviderConfig struct {
	// Type selects the provider implementation.
	// Values: "openai", "anthropic", "gemini"
	Type string `yaml:"type"`

	Model  string `yaml:"model"`
	APIKey string `yaml:"api_key,omitempty"`
	Host   string `yaml:"host,omitempty"`

	// Timeout is the per-request deadline in seconds.
	Timeout int `yaml:"timeout,omitempty"`

	// StreamIdleTimeout is the maximum gap between streamed chunks in
	// seconds before the stream is treated as stalled.
	StreamIdleTimeout int `yaml:"stream_idle_timeout,omitempty"`

	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`
}

func (c *LLMProviderConfig) SetDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30
	}
	if c.StreamIdleTimeout <= 0 {
		c.StreamIdleTimeout = 15
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 2000
	}
}

func (c *LLMProviderConfig) Validate() error {
	switch c.Type {
	case "openai", "anthropic", "gemini":
	default:
		return fmt.Errorf("unsupported LLM type: %s (supported: openai, anthropic, gemini)", c.Type)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required for LLM provider %s", c.Type)
	}
	return nil
}

// LLMConfig holds the ordered provider chain and retry policy.
type LLMConfig struct {
	// Providers are tried in order; the first is primary.
	Providers []*LLMProviderConfig `yaml:"providers"`

	// RetryBaseDelay is the backoff base between attempts (default 250ms).
	RetryBaseDelay time.Duration `yaml:"retry_base_delay,omitempty"`

	// RetryMaxDelay caps the backoff (default 4s).
	RetryMaxDelay time.Duration `yaml:"retry_max_delay,omitempty"`

	// RetryAttempts is the attempt count per provider (default 3).
	RetryAttempts int `yaml:"retry_attempts,omitempty"`
}

func (c *LLMConfig) SetDefaults() {
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 250 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 4 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	for _, p := range c.Providers {
		p.SetDefaults()
	}
}

func (c *LLMConfig) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one LLM provider is required")
	}
	for i, p := range c.Providers {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("provider %d: %w", i, err)
		}
	}
	return nil
}

// EmbedderConfig configures the embedding provider.
type EmbedderConfig struct {
	// Type selects the embedder.
	// Values: "ollama" (local, default), "openai"
	Type string `yaml:"type,omitempty"`

	Model     string `yaml:"model,omitempty"`
	APIKey    string `yaml:"api_key,omitempty"`
	Host      string `yaml:"host,omitempty"`
	Dimension int    `yaml:"dimension,omitempty"`
	Timeout   int    `yaml:"timeout,omitempty"`
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "ollama"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30
	}
}

func (c *EmbedderConfig) Validate() error {
	switch c.Type {
	case "ollama", "openai":
	default:
		return fmt.Errorf("unsupported embedder type: %s (supported: ollama, openai)", c.Type)
	}
	return nil
}

// VectorConfig selects and configures the vector store backend.
type VectorConfig struct {
	// Provider selects the backend.
	// Values: "chromem" (embedded, default), "qdrant", "pinecone"
	Provider string `yaml:"provider,omitempty"`

	Qdrant   QdrantConfig   `yaml:"qdrant,omitempty"`
	Pinecone PineconeConfig `yaml:"pinecone,omitempty"`
}

type QdrantConfig struct {
	Host   string `yaml:"host,omitempty"`
	Port   int    `yaml:"port,omitempty"`
	APIKey string `yaml:"api_key,omitempty"`
	UseTLS bool   `yaml:"use_tls,omitempty"`
}

type PineconeConfig struct {
	APIKey    string `yaml:"api_key,omitempty"`
	IndexHost string `yaml:"index_host,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
}

func (c *VectorConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "chromem"
	}
	if c.Qdrant.Port <= 0 {
		c.Qdrant.Port = 6334
	}
}

func (c *VectorConfig) Validate() error {
	switch c.Provider {
	case "chromem", "qdrant", "pinecone":
	default:
		return fmt.Errorf("unsupported vector provider: %s (supported: chromem, qdrant, pinecone)", c.Provider)
	}
	if c.Provider == "pinecone" && c.Pinecone.APIKey == "" {
		return fmt.Errorf("pinecone api_key is required")
	}
	return nil
}

// IndexerConfig configures codebase chunking and indexing.
type IndexerConfig struct {
	// ChunkSize is the chunk cap in code points (default 2000).
	ChunkSize int `yaml:"chunk_size,omitempty"`

	// ChunkOverlap is the neighbor overlap in code points (default 200).
	ChunkOverlap int `yaml:"chunk_overlap,omitempty"`

	// MaxFileSize skips larger files, bytes (default 1MiB).
	MaxFileSize int64 `yaml:"max_file_size,omitempty"`

	// EmbedConcurrency bounds in-flight embed requests (default 4).
	EmbedConcurrency int `yaml:"embed_concurrency,omitempty"`

	// Watch re-indexes files as they change.
	Watch bool `yaml:"watch,omitempty"`
}

func (c *IndexerConfig) SetDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 2000
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = 0
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 200
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 1 << 20
	}
	if c.EmbedConcurrency <= 0 {
		c.EmbedConcurrency = 4
	}
}

func (c *IndexerConfig) Validate() error {
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be less than chunk_size (%d)", c.ChunkOverlap, c.ChunkSize)
	}
	return nil
}

// MemoryConfig configures conversation memory retrieval.
type MemoryConfig struct {
	// RetrievalK is the first-pass top-k before post-filtering (default 20).
	RetrievalK int `yaml:"retrieval_k,omitempty"`

	// TopAfterFilter caps the post-filtered result set (default 10).
	TopAfterFilter int `yaml:"top_after_filter,omitempty"`

	// CodebaseK is the codebase retrieval top-k (default 15).
	CodebaseK int `yaml:"codebase_k,omitempty"`

	// RecentTurns is the per-session context window (default 20).
	RecentTurns int `yaml:"recent_turns,omitempty"`

	// SQLitePath enables turn persistence when set.
	SQLitePath string `yaml:"sqlite_path,omitempty"`
}

func (c *MemoryConfig) SetDefaults() {
	if c.RetrievalK <= 0 {
		c.RetrievalK = 20
	}
	if c.TopAfterFilter <= 0 {
		c.TopAfterFilter = 10
	}
	if c.CodebaseK <= 0 {
		c.CodebaseK = 15
	}
	if c.RecentTurns <= 0 {
		c.RecentTurns = 20
	}
}

// RoleConfig overrides a built-in role's sampling profile.
type RoleConfig struct {
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`

	// MaxToolIterations caps tool-call rounds per role invocation
	// (default 4).
	MaxToolIterations int `yaml:"max_tool_iterations,omitempty"`
}

// OrchestratorConfig configures pipelines and budgets.
type OrchestratorConfig struct {
	// SingleRoleDeadline bounds an interactive chat call (default 30s).
	SingleRoleDeadline time.Duration `yaml:"single_role_deadline,omitempty"`

	// SoftDeadline per pipeline role; exceeding it logs a warning
	// (default 5s).
	SoftDeadline time.Duration `yaml:"soft_deadline,omitempty"`

	// HardDeadline per pipeline role; exceeding it cancels the role
	// (default 15s).
	HardDeadline time.Duration `yaml:"hard_deadline,omitempty"`

	// TestFixIterations caps the test-and-fix loop (default 5).
	TestFixIterations int `yaml:"test_fix_iterations,omitempty"`

	// AutoCommit commits after a successful test-and-fix run. Off by
	// default; opt-in per task.
	AutoCommit bool `yaml:"auto_commit,omitempty"`

	// MaxInflightLLM caps concurrent LLM requests process-wide
	// (default 8).
	MaxInflightLLM int64 `yaml:"max_inflight_llm,omitempty"`

	// MaxInflightTools caps concurrent tool invocations (default 16).
	MaxInflightTools int64 `yaml:"max_inflight_tools,omitempty"`
}

func (c *OrchestratorConfig) SetDefaults() {
	if c.SingleRoleDeadline <= 0 {
		c.SingleRoleDeadline = 30 * time.Second
	}
	if c.SoftDeadline <= 0 {
		c.SoftDeadline = 5 * time.Second
	}
	if c.HardDeadline <= 0 {
		c.HardDeadline = 15 * time.Second
	}
	if c.TestFixIterations <= 0 {
		c.TestFixIterations = 5
	}
	if c.MaxInflightLLM <= 0 {
		c.MaxInflightLLM = 8
	}
	if c.MaxInflightTools <= 0 {
		c.MaxInflightTools = 16
	}
}

func (c *OrchestratorConfig) Validate() error {
	if c.SoftDeadline > c.HardDeadline {
		return fmt.Errorf("soft_deadline (%s) must not exceed hard_deadline (%s)", c.SoftDeadline, c.HardDeadline)
	}
	return nil
}

// GatewayConfig configures the session channel.
type GatewayConfig struct {
	// SendBuffer bounds queued outbound chunks per session (default 64).
	SendBuffer int `yaml:"send_buffer,omitempty"`

	// MaxAttachmentSize rejects larger uploads, bytes (default 5MiB).
	MaxAttachmentSize int64 `yaml:"max_attachment_size,omitempty"`

	// AttachmentSlice is how many code points of each attachment enter
	// the prompt (default 1000).
	AttachmentSlice int `yaml:"attachment_slice,omitempty"`

	// CancelGrace is how long in-flight work may take to observe a
	// closed channel (default 2s).
	CancelGrace time.Duration `yaml:"cancel_grace,omitempty"`
}

func (c *GatewayConfig) SetDefaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.MaxAttachmentSize <= 0 {
		c.MaxAttachmentSize = 5 << 20
	}
	if c.AttachmentSlice <= 0 {
		c.AttachmentSlice = 1000
	}
	if c.CancelGrace <= 0 {
		c.CancelGrace = 2 * time.Second
	}
}

// ToolsConfig configures the tool policy layer.
type ToolsConfig struct {
	// SensitivePatterns are path globs no tool may touch.
	SensitivePatterns []string `yaml:"sensitive_patterns,omitempty"`

	// ShellWhitelist is the set of binaries run_shell may execute.
	ShellWhitelist []string `yaml:"shell_whitelist,omitempty"`

	// TestCommand is the test runner argv used by the autofix loop.
	TestCommand []string `yaml:"test_command,omitempty"`

	// HTTPDenyHosts rejects outbound requests to matching hosts.
	HTTPDenyHosts []string `yaml:"http_deny_hosts,omitempty"`

	// HTTPMaxBody caps request and response bodies, bytes (default 1MiB).
	HTTPMaxBody int64 `yaml:"http_max_body,omitempty"`

	// DefaultTimeout bounds a tool invocation (default 10s).
	DefaultTimeout time.Duration `yaml:"default_timeout,omitempty"`

	// MaxTimeout caps per-tool timeout overrides (default 60s).
	MaxTimeout time.Duration `yaml:"max_timeout,omitempty"`
}

func (c *ToolsConfig) SetDefaults() {
	if len(c.SensitivePatterns) == 0 {
		c.SensitivePatterns = []string{
			".git/**", "**/.git/**",
			".env", "**/.env", ".env.*", "**/.env.*",
			"**/.ssh/**", "**/.aws/**", "**/.gnupg/**",
			"**/credentials*", "**/secrets*",
			"**/node_modules/**", "**/__pycache__/**",
		}
	}
	if len(c.ShellWhitelist) == 0 {
		c.ShellWhitelist = []string{"git", "go", "python3", "pytest"}
	}
	if len(c.TestCommand) == 0 {
		c.TestCommand = []string{"pytest", "-q"}
	}
	if c.HTTPMaxBody <= 0 {
		c.HTTPMaxBody = 1 << 20
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 10 * time.Second
	}
	if c.MaxTimeout <= 0 {
		c.MaxTimeout = 60 * time.Second
	}
}

func (c *ToolsConfig) Validate() error {
	if c.DefaultTimeout > c.MaxTimeout {
		return fmt.Errorf("default_timeout (%s) must not exceed max_timeout (%s)", c.DefaultTimeout, c.MaxTimeout)
	}
	return nil
}

// SandboxConfig configures the isolated code runner.
type SandboxConfig struct {
	// Mode selects the isolation backend.
	// Values: "process" (default), "docker"
	Mode string `yaml:"mode,omitempty"`

	// Image is the container image for docker mode.
	Image string `yaml:"image,omitempty"`

	// MemoryLimitMB caps sandbox memory (default 256).
	MemoryLimitMB int64 `yaml:"memory_limit_mb,omitempty"`

	// Timeout is the wall-clock deadline (default 10s).
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

func (c *SandboxConfig) SetDefaults() {
	if c.Mode == "" {
		c.Mode = "process"
	}
	if c.Image == "" {
		c.Image = "python:3.12-slim"
	}
	if c.MemoryLimitMB <= 0 {
		c.MemoryLimitMB = 256
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

func (c *SandboxConfig) Validate() error {
	switch c.Mode {
	case "process", "docker":
	default:
		return fmt.Errorf("unsupported sandbox mode: %s (supported: process, docker)", c.Mode)
	}
	return nil
}

// WebhookConfig configures webhook ingress and the autonomous pipeline.
type WebhookConfig struct {
	// Secret is the HMAC key for signature verification.
	Secret string `yaml:"secret,omitempty"`

	// IdempotencyWindow suppresses duplicate deliveries (default 24h).
	IdempotencyWindow time.Duration `yaml:"idempotency_window,omitempty"`

	// JobTimeout bounds an autonomous job (default 15m).
	JobTimeout time.Duration `yaml:"job_timeout,omitempty"`

	// MaxPatchBytes rejects larger proposed patches (default 64KiB).
	MaxPatchBytes int `yaml:"max_patch_bytes,omitempty"`

	// APIBase is the forge API endpoint for opening pull requests.
	APIBase string `yaml:"api_base,omitempty"`

	// APIToken authenticates PR creation.
	APIToken string `yaml:"api_token,omitempty"`
}

func (c *WebhookConfig) SetDefaults() {
	if c.IdempotencyWindow <= 0 {
		c.IdempotencyWindow = 24 * time.Hour
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 15 * time.Minute
	}
	if c.MaxPatchBytes <= 0 {
		c.MaxPatchBytes = 64 << 10
	}
	if c.APIBase == "" {
		c.APIBase = "https://api.github.com"
	}
}

// AuthConfig configures bearer-token authentication.
type AuthConfig struct {
	// Enabled turns the middleware on.
	Enabled bool `yaml:"enabled,omitempty"`

	// Token is a static bearer token accepted as-is.
	Token string `yaml:"token,omitempty"`

	// JWKSURL enables JWT validation against a JWKS endpoint.
	JWKSURL string `yaml:"jwks_url,omitempty"`

	// Issuer and Audience are validated when JWT validation is active.
	Issuer   string `yaml:"issuer,omitempty"`
	Audience string `yaml:"audience,omitempty"`
}

func (c *AuthConfig) Validate() error {
	if c.Enabled && c.Token == "" && c.JWKSURL == "" {
		return fmt.Errorf("auth enabled but neither token nor jwks_url configured")
	}
	return nil
}

// RateLimitConfig configures the per-principal bucket.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`

	// RequestsPerHour is the bucket size (default 60).
	RequestsPerHour int `yaml:"requests_per_hour,omitempty"`
}

func (c *RateLimitConfig) SetDefaults() {
	if c.RequestsPerHour <= 0 {
		c.RequestsPerHour = 60
	}
}

// ObservabilityConfig configures tracing and metrics.
type ObservabilityConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled,omitempty"`
	TracingEnabled bool   `yaml:"tracing_enabled,omitempty"`
	ServiceName    string `yaml:"service_name,omitempty"`
}

func (c *ObservabilityConfig) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "maestro"
	}
}

// AuditConfig configures the append-only audit log.
type AuditConfig struct {
	// Path defaults to <data_root>/audit.log.
	Path string `yaml:"path,omitempty"`
}

// LoggingConfig configures slog.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}
