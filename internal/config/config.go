package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	AI        AIConfig        `mapstructure:"ai"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Render    RenderConfig    `mapstructure:"render"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
}

// LogConfig selects level and output format ("json" or "console").
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider     string       `mapstructure:"provider"`
	SystemPrompt string       `mapstructure:"system_prompt"`
	OpenAI       OpenAIConfig `mapstructure:"openai"`
	Ark          ArkConfig    `mapstructure:"ark"`
}

// OpenAIConfig configures the OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey      string   `mapstructure:"api_key"`
	BaseURL     string   `mapstructure:"base_url"`
	Model       string   `mapstructure:"model"`
	Temperature *float32 `mapstructure:"temperature"`
	MaxTokens   int      `mapstructure:"max_tokens"`
}

// ArkConfig configures the Volcengine Ark provider.
type ArkConfig struct {
	APIKey      string   `mapstructure:"api_key"`
	AccessKey   string   `mapstructure:"access_key"`
	SecretKey   string   `mapstructure:"secret_key"`
	Model       string   `mapstructure:"model"`
	BaseURL     string   `mapstructure:"base_url"`
	Region      string   `mapstructure:"region"`
	Temperature *float64 `mapstructure:"temperature"`
	TopP        *float64 `mapstructure:"top_p"`
	MaxTokens   *int     `mapstructure:"max_tokens"`
}

// ChatConfig bounds request duration and session lifetime.
type ChatConfig struct {
	MaxDuration     time.Duration `mapstructure:"max_duration"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// RenderConfig configures the markdown renderer.
type RenderConfig struct {
	HighlightStyle string `mapstructure:"highlight_style"`
}

// CORSConfig lists origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateLimitConfig limits submits per client IP. Zero disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

const (
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
)

// Enabled 表示是否提供了所选模型服务的必需凭证。
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderOpenAI:
		return c.OpenAI.APIKey != "" && c.OpenAI.Model != ""
	case ProviderArk:
		return c.Ark.Model != "" && (c.Ark.APIKey != "" || (c.Ark.AccessKey != "" && c.Ark.SecretKey != ""))
	default:
		return false
	}
}

// Load 从默认值、可选的配置文件与环境变量加载配置。
// 环境变量优先于配置文件。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	addr, err := normalizeAddr(cfg.Server.Addr)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr
	cfg.AI.Provider = strings.ToLower(strings.TrimSpace(cfg.AI.Provider))
	cfg.CORS.AllowedOrigins = trimAll(cfg.CORS.AllowedOrigins)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "8080")
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.max_body_bytes", 256*1024)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("ai.provider", ProviderOpenAI)
	v.SetDefault("ai.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("ai.openai.model", "gpt-4o")
	v.SetDefault("ai.ark.base_url", "https://ark.cn-beijing.volces.com/api/v3")
	v.SetDefault("ai.ark.region", "cn-beijing")

	v.SetDefault("chat.max_duration", 30*time.Second)
	v.SetDefault("chat.session_ttl", 2*time.Hour)
	v.SetDefault("chat.cleanup_interval", 5*time.Minute)

	v.SetDefault("render.highlight_style", "github-dark")

	v.SetDefault("cors.allowed_origins", []string{"*"})

	v.SetDefault("rate_limit.requests_per_second", 1.0)
	v.SetDefault("rate_limit.burst", 5)
}

func bindEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"server.addr":                    {"PORT"},
		"log.level":                      {"LOG_LEVEL"},
		"log.format":                     {"LOG_FORMAT"},
		"ai.provider":                    {"AI_PROVIDER"},
		"ai.system_prompt":               {"SYSTEM_PROMPT"},
		"ai.openai.api_key":              {"OPENAI_API_KEY"},
		"ai.openai.base_url":             {"OPENAI_BASE_URL"},
		"ai.openai.model":                {"OPENAI_MODEL"},
		"ai.openai.temperature":          {"OPENAI_TEMPERATURE"},
		"ai.openai.max_tokens":           {"OPENAI_MAX_TOKENS"},
		"ai.ark.api_key":                 {"ARK_API_KEY"},
		"ai.ark.access_key":              {"ARK_ACCESS_KEY"},
		"ai.ark.secret_key":              {"ARK_SECRET_KEY"},
		"ai.ark.model":                   {"ARK_MODEL", "Model"},
		"ai.ark.base_url":                {"ARK_BASE_URL"},
		"ai.ark.region":                  {"ARK_REGION"},
		"ai.ark.temperature":             {"ARK_TEMPERATURE"},
		"ai.ark.top_p":                   {"ARK_TOP_P"},
		"ai.ark.max_tokens":              {"ARK_MAX_TOKENS"},
		"chat.max_duration":              {"CHAT_MAX_DURATION"},
		"chat.session_ttl":               {"SESSION_TTL"},
		"chat.cleanup_interval":          {"SESSION_CLEANUP_INTERVAL"},
		"render.highlight_style":         {"HIGHLIGHT_STYLE"},
		"cors.allowed_origins":           {"CORS_ALLOWED_ORIGINS"},
		"rate_limit.requests_per_second": {"RATE_LIMIT_RPS"},
		"rate_limit.burst":               {"RATE_LIMIT_BURST"},
	}

	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

func (c *Config) validate() error {
	switch c.AI.Provider {
	case ProviderOpenAI, ProviderArk:
	default:
		return fmt.Errorf("invalid AI_PROVIDER value %q: must be %s or %s", c.AI.Provider, ProviderOpenAI, ProviderArk)
	}
	if c.Chat.MaxDuration <= 0 {
		return fmt.Errorf("invalid CHAT_MAX_DURATION value %s: must be positive", c.Chat.MaxDuration)
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("invalid rate limit %v/%d: must not be negative", c.RateLimit.RequestsPerSecond, c.RateLimit.Burst)
	}
	return nil
}

// normalizeAddr 解析服务器监听地址。
func normalizeAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}
