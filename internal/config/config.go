// Package config loads the single YAML configuration document described in
// the external interfaces design: agent, ai_provider, plugins, routing,
// security, services, state_management, push_notifications, mcp,
// middleware, and logging. Any ${VAR} reference inside the document
// resolves from the process environment, and loading goes through viper
// so AGENTUP_<KEY> variables (e.g. AGENTUP_LOGGING_LEVEL) override keys
// the document sets. SERVER_HOST and SERVER_PORT are not read: the
// configuration has no server address.
package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

type (
	// Config is the root of the agentup.yml schema.
	Config struct {
		Agent              AgentConfig              `mapstructure:"agent"`
		AIProvider         AIProviderConfig         `mapstructure:"ai_provider"`
		Plugins            []string                 `mapstructure:"plugins"`
		Routing            RoutingConfig            `mapstructure:"routing"`
		Security           SecurityConfig           `mapstructure:"security"`
		Services           map[string]ServiceConfig `mapstructure:"services"`
		StateManagement    StateManagementConfig    `mapstructure:"state_management"`
		PushNotifications  PushNotificationsConfig  `mapstructure:"push_notifications"`
		MCP                MCPConfig                `mapstructure:"mcp"`
		Middleware         MiddlewareConfig         `mapstructure:"middleware"`
		Logging            LoggingConfig            `mapstructure:"logging"`
	}

	// AgentConfig carries the agent identity surfaced on the Agent Card.
	AgentConfig struct {
		Name               string   `mapstructure:"name"`
		Description        string   `mapstructure:"description"`
		Version            string   `mapstructure:"version"`
		URL                string   `mapstructure:"url"`
		DefaultInputModes  []string `mapstructure:"default_input_modes"`
		DefaultOutputModes []string `mapstructure:"default_output_modes"`
	}

	// AIProviderConfig selects and configures the LLM provider backing the
	// Dispatcher.
	AIProviderConfig struct {
		Provider      string  `mapstructure:"provider"` // "anthropic" | "openai" | "bedrock"
		APIKey        string  `mapstructure:"api_key"`
		Model         string  `mapstructure:"model"`
		SystemPrompt  string  `mapstructure:"system_prompt"`
		MaxIterations int     `mapstructure:"max_iterations"`
		Temperature   float64 `mapstructure:"temperature"`
		MaxTokens     int     `mapstructure:"max_tokens"`
		Region        string  `mapstructure:"region"` // bedrock only
	}

	// RoutingConfig configures the Router's capability rules and fallback
	// behavior. Capabilities is a YAML list rather than a map so the
	// declared order survives decoding: spec.md §4.2 requires rules to be
	// evaluated in configured order with first-match-wins, and a Go map
	// (unlike a slice) has no stable iteration order.
	RoutingConfig struct {
		FallbackCapability string                    `mapstructure:"fallback_capability"`
		DefaultMode        string                    `mapstructure:"default_mode"` // "direct" | "ai"
		FallbackEnabled    bool                      `mapstructure:"fallback_enabled"`
		Capabilities       []CapabilityRoutingConfig `mapstructure:"capabilities"`
	}

	// CapabilityRoutingConfig is one capability's entry in routing.capabilities:
	// the keyword/pattern rule the Router matches against, and whether a
	// match dispatches directly to the handler or through the LLM
	// function-calling loop. Its position in the Capabilities slice is its
	// evaluation order.
	CapabilityRoutingConfig struct {
		CapabilityID string   `mapstructure:"id"`
		Mode         string   `mapstructure:"mode"` // "direct" | "ai"
		Keywords     []string `mapstructure:"keywords"`
		Patterns     []string `mapstructure:"patterns"`
	}

	// SecurityConfig configures the AuthManager.
	SecurityConfig struct {
		Enabled        bool                     `mapstructure:"enabled"`
		Providers      []string                 `mapstructure:"providers"` // tried in order
		JWT            JWTConfig                `mapstructure:"jwt"`
		APIKeys        map[string]CredentialCfg  `mapstructure:"api_keys"`
		BearerTokens   map[string]CredentialCfg  `mapstructure:"bearer_tokens"`
		ScopeHierarchy map[string][]string       `mapstructure:"scope_hierarchy"`
	}

	// JWTConfig configures JWT validation.
	JWTConfig struct {
		Secret    string `mapstructure:"secret"`
		Algorithm string `mapstructure:"algorithm"`
		Issuer    string `mapstructure:"issuer"`
		Audience  string `mapstructure:"audience"`
	}

	// CredentialCfg attaches a user identity and scope set to a static
	// bearer token or API key.
	CredentialCfg struct {
		UserID string   `mapstructure:"user_id"`
		Scopes []string `mapstructure:"scopes"`
	}

	// ServiceConfig describes one auxiliary backing service entry. It is
	// decoded but not read elsewhere; /services/health reports plugin
	// health only.
	ServiceConfig struct {
		Type string `mapstructure:"type"`
		URL  string `mapstructure:"url"`
	}

	// StateManagementConfig configures the StateStore.
	StateManagementConfig struct {
		Backend                string `mapstructure:"backend"` // "memory" | "file" | "redis"
		Directory              string `mapstructure:"directory"`
		RedisURL               string `mapstructure:"redis_url"`
		MaxHistorySize         int    `mapstructure:"max_history_size"`
		AutoSummarize          bool   `mapstructure:"auto_summarize"`
		CleanupIntervalMinutes int    `mapstructure:"cleanup_interval_minutes"`
		MaxContextAgeHours     int    `mapstructure:"max_context_age_hours"`
	}

	// PushNotificationsConfig configures the PushNotifier.
	PushNotificationsConfig struct {
		Enabled       bool   `mapstructure:"enabled"`
		ValidateURLs  bool   `mapstructure:"validate_urls"`
		MaxRetries    int    `mapstructure:"max_retries"`
		SigningSecret string `mapstructure:"signing_secret"`
		RedisURL      string `mapstructure:"redis_url"` // shared keyspace for multi-process setups
	}

	// MCPConfig configures both the MCP client (remote servers to connect
	// to) and the MCP server (whether to expose local handlers).
	MCPConfig struct {
		Servers        []MCPServerConfig   `mapstructure:"servers"`
		ExposeHandlers bool                `mapstructure:"expose_handlers"`
		ToolScopes     map[string][]string `mapstructure:"tool_scopes"`
	}

	// MCPServerConfig describes one remote MCP server to connect to.
	MCPServerConfig struct {
		Name      string            `mapstructure:"name"`
		Transport string            `mapstructure:"transport"` // "stdio" | "http"
		Command   string            `mapstructure:"command"`
		Args      []string          `mapstructure:"args"`
		Env       map[string]string `mapstructure:"env"`
		Dir       string            `mapstructure:"dir"`
		URL       string            `mapstructure:"url"`
	}

	// MiddlewareConfig configures the global middleware chain applied to
	// capabilities that don't declare their own.
	MiddlewareConfig struct {
		RateLimit RateLimitConfig `mapstructure:"rate_limit"`
		Cache     CacheConfig     `mapstructure:"cache"`
		Retry     RetryConfig     `mapstructure:"retry"`
	}

	RateLimitConfig struct {
		Enabled           bool    `mapstructure:"enabled"`
		RequestsPerSecond float64 `mapstructure:"requests_per_second"`
		Burst             int     `mapstructure:"burst"`
	}

	CacheConfig struct {
		Enabled bool `mapstructure:"enabled"`
		TTLSecs int  `mapstructure:"ttl_seconds"`
	}

	RetryConfig struct {
		Enabled    bool `mapstructure:"enabled"`
		MaxRetries int  `mapstructure:"max_retries"`
	}

	// LoggingConfig configures the clue logger.
	LoggingConfig struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"` // "text" | "json"
	}
)

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-?([^}]*))?\}`)

// expandEnv resolves ${VAR} and ${VAR:default} references against the
// process environment before the document is parsed as YAML.
func expandEnv(raw []byte) []byte {
	return envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		groups := envPattern.FindSubmatch(match)
		name := string(groups[1])
		defaultVal := string(groups[3])
		if v, ok := os.LookupEnv(name); ok {
			return []byte(v)
		}
		return []byte(defaultVal)
	})
}

// Load reads the YAML document at path, expands ${VAR}/${VAR:default}
// references, lets AGENTUP_<KEY> environment variables (the key's dotted
// path upper-cased with "." replaced by "_") override keys present in the
// document, and decodes the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return LoadBytes(raw)
}

// LoadBytes decodes a YAML document already in memory, applying the same
// environment expansion and override rules as Load.
func LoadBytes(raw []byte) (*Config, error) {
	expanded := expandEnv(raw)

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(expanded)); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	v.SetEnvPrefix("AGENTUP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Agent.Version == "" {
		cfg.Agent.Version = "0.1.0"
	}
	if len(cfg.Agent.DefaultInputModes) == 0 {
		cfg.Agent.DefaultInputModes = []string{"text"}
	}
	if len(cfg.Agent.DefaultOutputModes) == 0 {
		cfg.Agent.DefaultOutputModes = []string{"text"}
	}
	if cfg.AIProvider.MaxIterations == 0 {
		cfg.AIProvider.MaxIterations = 5
	}
	if cfg.Routing.DefaultMode == "" {
		cfg.Routing.DefaultMode = "direct"
	}
	if len(cfg.Security.Providers) == 0 {
		cfg.Security.Providers = []string{"jwt", "bearer", "api_key"}
	}
	if cfg.StateManagement.Backend == "" {
		cfg.StateManagement.Backend = "memory"
	}
	if cfg.StateManagement.MaxHistorySize == 0 {
		cfg.StateManagement.MaxHistorySize = 100
	}
	if cfg.StateManagement.CleanupIntervalMinutes == 0 {
		cfg.StateManagement.CleanupIntervalMinutes = 60
	}
	if cfg.StateManagement.MaxContextAgeHours == 0 {
		cfg.StateManagement.MaxContextAgeHours = 24
	}
	if cfg.PushNotifications.MaxRetries == 0 {
		cfg.PushNotifications.MaxRetries = 3
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	if cfg.Agent.Name == "" {
		return fmt.Errorf("config: agent.name is required")
	}
	switch cfg.StateManagement.Backend {
	case "memory", "file", "redis":
	default:
		return fmt.Errorf("config: unsupported state_management.backend %q", cfg.StateManagement.Backend)
	}
	if cfg.Security.Enabled {
		for _, p := range cfg.Security.Providers {
			switch p {
			case "jwt", "bearer", "api_key":
			default:
				return fmt.Errorf("config: unsupported security provider %q", p)
			}
		}
	}
	return nil
}
