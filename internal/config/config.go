package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// Supported completion providers.
const (
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
)

// Config aggregates the process-wide, read-only configuration.
type Config struct {
	Server     ServerConfig
	LLM        LLMConfig
	Normalizer NormalizerConfig
	Log        LogConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	llm, err := loadLLMConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		LLM:    llm,
		Normalizer: NormalizerConfig{
			MarkersFile: strings.TrimSpace(os.Getenv("NORMALIZER_MARKERS_FILE")),
		},
		Log: LogConfig{
			Level: getEnvOrDefault("LOG_LEVEL", "info"),
			File:  strings.TrimSpace(os.Getenv("LOG_FILE")),
		},
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	origins := splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"))

	if strings.Contains(port, ":") {
		// allow ":8080" or "127.0.0.1:8080"
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// LLMConfig describes the completion service and the request bounds applied before calling it.
type LLMConfig struct {
	Provider  string
	APIKey    string
	AccessKey string
	SecretKey string
	BaseURL   string
	Region    string
	Model     string

	// Temperature and MaxTokens override the per-template defaults when set.
	Temperature *float64
	MaxTokens   *int

	Timeout          time.Duration
	RetryBackoff     time.Duration
	MaxInputChars    int
	ChatHistoryLimit int
}

// NewChatModel builds the provider chat model described by the config.
func (c LLMConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	switch c.Provider {
	case ProviderOpenAI:
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:  c.APIKey,
			BaseURL: c.BaseURL,
			Model:   c.Model,
			Timeout: c.Timeout,
		})
	case ProviderArk:
		// retries belong to the completion client
		retries := 0
		timeout := c.Timeout
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:    c.BaseURL,
			Region:     c.Region,
			APIKey:     c.APIKey,
			AccessKey:  c.AccessKey,
			SecretKey:  c.SecretKey,
			Model:      c.Model,
			Timeout:    &timeout,
			RetryTimes: &retries,
		})
	default:
		return nil, fmt.Errorf("unsupported LLM_PROVIDER %q", c.Provider)
	}
}

func loadLLMConfig() (LLMConfig, error) {
	temperature, err := parseOptionalFloatEnv("LLM_TEMPERATURE")
	if err != nil {
		return LLMConfig{}, err
	}
	if temperature != nil && (*temperature < 0 || *temperature > 2) {
		return LLMConfig{}, fmt.Errorf("invalid LLM_TEMPERATURE value %v: must be within [0, 2]", *temperature)
	}

	maxTokens, err := parseOptionalIntEnv("LLM_MAX_TOKENS")
	if err != nil {
		return LLMConfig{}, err
	}
	if maxTokens != nil && *maxTokens < 1 {
		return LLMConfig{}, fmt.Errorf("invalid LLM_MAX_TOKENS value %d: must be positive", *maxTokens)
	}

	timeout, err := parseDurationEnv("LLM_TIMEOUT", 30*time.Second)
	if err != nil {
		return LLMConfig{}, err
	}

	backoff, err := parseDurationEnv("LLM_RETRY_BACKOFF", 500*time.Millisecond)
	if err != nil {
		return LLMConfig{}, err
	}

	maxInput, err := parseIntEnv("MAX_INPUT_CHARS", 10000)
	if err != nil {
		return LLMConfig{}, err
	}

	historyLimit, err := parseIntEnv("CHAT_HISTORY_LIMIT", 10)
	if err != nil {
		return LLMConfig{}, err
	}
	if historyLimit < 1 {
		historyLimit = 1
	}

	cfg := LLMConfig{
		Provider:         strings.ToLower(getEnvOrDefault("LLM_PROVIDER", ProviderOpenAI)),
		BaseURL:          strings.TrimSpace(os.Getenv("LLM_BASE_URL")),
		Model:            getEnvOrDefault("LLM_MODEL", "gpt-4.1"),
		Temperature:      temperature,
		MaxTokens:        maxTokens,
		Timeout:          timeout,
		RetryBackoff:     backoff,
		MaxInputChars:    maxInput,
		ChatHistoryLimit: historyLimit,
	}

	switch cfg.Provider {
	case ProviderOpenAI:
		cfg.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		if cfg.APIKey == "" {
			return LLMConfig{}, fmt.Errorf("OPENAI_API_KEY is required")
		}
	case ProviderArk:
		cfg.APIKey = strings.TrimSpace(os.Getenv("ARK_API_KEY"))
		cfg.AccessKey = strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY"))
		cfg.SecretKey = strings.TrimSpace(os.Getenv("ARK_SECRET_KEY"))
		cfg.Region = getEnvOrDefault("ARK_REGION", "cn-beijing")
		if cfg.BaseURL == "" {
			cfg.BaseURL = "https://ark.cn-beijing.volces.com/api/v3"
		}
		if cfg.APIKey == "" && (cfg.AccessKey == "" || cfg.SecretKey == "") {
			return LLMConfig{}, fmt.Errorf("ARK_API_KEY or ARK_ACCESS_KEY + ARK_SECRET_KEY is required")
		}
	default:
		return LLMConfig{}, fmt.Errorf("unsupported LLM_PROVIDER %q", cfg.Provider)
	}

	return cfg, nil
}

// NormalizerConfig points at an optional marker table override.
type NormalizerConfig struct {
	MarkersFile string
}

// LogConfig describes log level and optional file output.
type LogConfig struct {
	Level string
	File  string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	return *val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
