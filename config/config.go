package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	AppName     = "microstock-tagger"
	EnvFileName = "config.env"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

const (
	PreviewStoreMemory = "memory"
	PreviewStoreLocal  = "local"
	PreviewStoreS3     = "s3"
)

const (
	DefaultGeminiModel       = "gemini-2.5-flash"
	DefaultOpenAIModel       = "gpt-4o-mini"
	DefaultTemperature       = 0.4
	DefaultGenerationTimeout = 60 * time.Second
	DefaultMaxUploadBytes    = 20 * 1024 * 1024
	DefaultSessionIdleTTL    = 2 * time.Hour
)

// ConfigurationError reports a missing or invalid configuration value.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Key, e.Reason)
}

// MissingCredential reports whether the error is about a provider API key,
// the only value the setup wizard can supply.
func (e *ConfigurationError) MissingCredential() bool {
	return e.Key == "GEMINI_API_KEY" || e.Key == "OPENAI_API_KEY"
}

// Config holds runtime configuration values.
type Config struct {
	Port              string
	AI                AIConfig
	GenerationTimeout time.Duration
	MaxUploadBytes    int64
	SessionSecret     string
	SecureCookies     bool
	SessionIdleTTL    time.Duration
	Preview           PreviewConfig
	UsageDBPath       string
	BotToken          string
	LogLevel          string
}

// AIConfig selects and configures the metadata generation provider.
type AIConfig struct {
	Provider     string
	GeminiAPIKey string
	GeminiModel  string
	OpenAIAPIKey string
	OpenAIModel  string
	OpenAIURL    string
	Temperature  float64
}

// APIKey returns the credential for the selected provider.
func (c AIConfig) APIKey() string {
	if c.Provider == ProviderOpenAI {
		return c.OpenAIAPIKey
	}
	return c.GeminiAPIKey
}

// Model returns the model identifier for the selected provider.
func (c AIConfig) Model() string {
	if c.Provider == ProviderOpenAI {
		return c.OpenAIModel
	}
	return c.GeminiModel
}

// PreviewConfig describes where preview images are kept while a file is selected.
type PreviewConfig struct {
	Store          string
	Dir            string
	Bucket         string
	Region         string
	Endpoint       string
	PublicURL      string
	KeyPrefix      string
	ForcePathStyle bool
}

// LoadEnvFile loads environment variables from the config file in the user's
// config directory and from ./.env. Errors are ignored since the files may not exist.
func LoadEnvFile() {
	if configPath, err := FilePath(); err == nil {
		_ = godotenv.Load(configPath)
	}
	_ = godotenv.Load(".env")
}

// FilePath returns the path of the config file in the user's config directory.
func FilePath() (string, error) {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(configBase, AppName, EnvFileName), nil
}

// Load reads configuration from environment variables and applies defaults.
// A missing credential for the selected provider is reported as *ConfigurationError.
func Load() (Config, error) {
	cfg := Config{
		Port: getenv("APP_PORT", "8080"),
		AI: AIConfig{
			Provider:     strings.ToLower(getenv("AI_PROVIDER", ProviderGemini)),
			GeminiAPIKey: strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
			GeminiModel:  getenv("GEMINI_MODEL", DefaultGeminiModel),
			OpenAIAPIKey: strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			OpenAIModel:  getenv("OPENAI_MODEL", DefaultOpenAIModel),
			OpenAIURL:    os.Getenv("OPENAI_BASE_URL"),
		},
		SessionSecret: os.Getenv("SESSION_SECRET"),
		SecureCookies: getenvBool("SECURE_COOKIES", false),
		Preview: PreviewConfig{
			Store:          strings.ToLower(getenv("PREVIEW_STORE", PreviewStoreMemory)),
			Dir:            os.Getenv("PREVIEW_DIR"),
			Bucket:         os.Getenv("S3_BUCKET"),
			Region:         os.Getenv("S3_REGION"),
			Endpoint:       os.Getenv("S3_ENDPOINT"),
			PublicURL:      os.Getenv("S3_PUBLIC_URL"),
			KeyPrefix:      strings.Trim(os.Getenv("S3_KEY_PREFIX"), "/"),
			ForcePathStyle: getenvBool("S3_FORCE_PATH_STYLE", false),
		},
		UsageDBPath: getenv("USAGE_DB_PATH", "usage.db"),
		BotToken:    os.Getenv("BOT_TOKEN"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
	}
	if _, ok := os.LookupEnv("USAGE_DB_PATH"); ok {
		cfg.UsageDBPath = os.Getenv("USAGE_DB_PATH")
	}

	var err error
	if cfg.AI.Temperature, err = getenvFloat("GEMINI_TEMPERATURE", DefaultTemperature); err != nil {
		return Config{}, err
	}
	if cfg.AI.Temperature < 0 || cfg.AI.Temperature > 2 {
		return Config{}, &ConfigurationError{Key: "GEMINI_TEMPERATURE", Reason: "must be between 0 and 2"}
	}
	if cfg.GenerationTimeout, err = getenvDuration("GENERATION_TIMEOUT", DefaultGenerationTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SessionIdleTTL, err = getenvDuration("SESSION_IDLE_TTL", DefaultSessionIdleTTL); err != nil {
		return Config{}, err
	}
	if cfg.MaxUploadBytes, err = getenvInt("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.AI.Provider {
	case ProviderGemini:
		if c.AI.GeminiAPIKey == "" {
			return &ConfigurationError{Key: "GEMINI_API_KEY", Reason: "is not set"}
		}
	case ProviderOpenAI:
		if c.AI.OpenAIAPIKey == "" {
			return &ConfigurationError{Key: "OPENAI_API_KEY", Reason: "is not set"}
		}
	default:
		return &ConfigurationError{Key: "AI_PROVIDER", Reason: fmt.Sprintf("has unknown value %q (use gemini or openai)", c.AI.Provider)}
	}

	switch c.Preview.Store {
	case PreviewStoreMemory, PreviewStoreLocal:
	case PreviewStoreS3:
		if c.Preview.Bucket == "" || c.Preview.Region == "" {
			return &ConfigurationError{Key: "S3_BUCKET", Reason: "and S3_REGION are required when PREVIEW_STORE=s3"}
		}
	default:
		return &ConfigurationError{Key: "PREVIEW_STORE", Reason: fmt.Sprintf("has unknown value %q", c.Preview.Store)}
	}

	if c.Port == "" {
		return &ConfigurationError{Key: "APP_PORT", Reason: "cannot be empty"}
	}
	if c.GenerationTimeout <= 0 {
		return &ConfigurationError{Key: "GENERATION_TIMEOUT", Reason: "must be positive"}
	}
	if c.MaxUploadBytes <= 0 {
		return &ConfigurationError{Key: "MAX_UPLOAD_BYTES", Reason: "must be positive"}
	}
	return nil
}

func getenv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) (float64, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, &ConfigurationError{Key: key, Reason: "must be a number"}
	}
	return parsed, nil
}

func getenvInt(key string, fallback int64) (int64, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, &ConfigurationError{Key: key, Reason: "must be an integer"}
	}
	return parsed, nil
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return 0, &ConfigurationError{Key: key, Reason: "must be a duration like 45s or 2m"}
	}
	return parsed, nil
}
