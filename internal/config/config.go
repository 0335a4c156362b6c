package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ENV_FILE    = ".env"
	CONFIG_FILE = "config.yaml"
)

const (
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

const (
	ProviderOpenAI    = "openai"
	ProviderGrok      = "grok"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderGemini    = "gemini"
	ProviderEcho      = "echo"
)

const DefaultSystemMessage = `You are a friendly and helpful AI assistant. You are personal, warm, and engaging in your responses.
You maintain context from our conversation and provide thoughtful, personalized replies.
You can help with various tasks, answer questions, and have meaningful conversations.`

// Config holds application configuration shared by the client and the server
type Config struct {
	BackendURL string        `yaml:"backend_url"`
	Debug      bool          `yaml:"debug"`
	Logging    LoggingConfig `yaml:"logging"`
	Server     ServerConfig  `yaml:"server"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// ServerConfig configures cmd/chatserver
type ServerConfig struct {
	Addr        string      `yaml:"addr"`
	CORSOrigins []string    `yaml:"cors_origins"`
	Store       StoreConfig `yaml:"store"`
	LLM         LLMConfig   `yaml:"llm"`
}

type StoreConfig struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlite_path"`
	MongoURI   string `yaml:"mongo_uri"`
	MongoDB    string `yaml:"mongo_db"`
}

// LLMConfig selects the provider that writes assistant replies
type LLMConfig struct {
	Provider      string `yaml:"provider"`
	Model         string `yaml:"model"` // empty means the provider default
	BaseURL       string `yaml:"base_url"` // empty means the provider default
	MaxTokens     int    `yaml:"max_tokens"`
	SystemMessage string `yaml:"system_message"`
	HistoryLimit  int    `yaml:"history_limit"`
	Cache         bool   `yaml:"cache"`

	CacheTTL        time.Duration `yaml:"cache_ttl"` // zero keeps entries until evicted by size
	CacheMaxEntries int           `yaml:"cache_max_entries"`
}

// Default returns the configuration used when nothing else is supplied
func Default() Config {
	return Config{
		BackendURL: "http://localhost:8001",
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "logs",
		},
		Server: ServerConfig{
			Addr:        ":8001",
			CORSOrigins: []string{"*"},
			Store: StoreConfig{
				Driver:     StoreSQLite,
				SQLitePath: "chatpane.db",
				MongoDB:    "chatpane",
			},
			LLM: LLMConfig{
				Provider:      ProviderOpenAI,
				MaxTokens:     2048,
				SystemMessage: DefaultSystemMessage,
				HistoryLimit:  50,

				CacheTTL:        30 * time.Minute,
				CacheMaxEntries: 1000,
			},
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the environment.
// An empty path falls back to config.yaml in the working directory; a missing file is not an error.
func Load(path string) (Config, error) {
	godotenv.Load(ENV_FILE)

	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = CONFIG_FILE
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.BackendURL = getEnvOrDefault("CHATPANE_BACKEND_URL", cfg.BackendURL)
	cfg.Debug = getEnvAsBoolOrDefault("CHATPANE_DEBUG", cfg.Debug)
	cfg.Logging.Level = getEnvOrDefault("CHATPANE_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Dir = getEnvOrDefault("CHATPANE_LOG_DIR", cfg.Logging.Dir)

	cfg.Server.Addr = getEnvOrDefault("CHATPANE_ADDR", cfg.Server.Addr)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.Server.CORSOrigins = strings.Split(origins, ",")
	}

	cfg.Server.Store.Driver = getEnvOrDefault("CHATPANE_STORE", cfg.Server.Store.Driver)
	cfg.Server.Store.SQLitePath = getEnvOrDefault("CHATPANE_SQLITE_PATH", cfg.Server.Store.SQLitePath)
	cfg.Server.Store.MongoURI = getEnvOrDefault("MONGO_URL", cfg.Server.Store.MongoURI)
	cfg.Server.Store.MongoDB = getEnvOrDefault("DB_NAME", cfg.Server.Store.MongoDB)

	cfg.Server.LLM.Provider = getEnvOrDefault("CHATPANE_LLM_PROVIDER", cfg.Server.LLM.Provider)
	cfg.Server.LLM.Model = getEnvOrDefault("CHATPANE_LLM_MODEL", cfg.Server.LLM.Model)
	cfg.Server.LLM.BaseURL = getEnvOrDefault("CHATPANE_LLM_BASE_URL", cfg.Server.LLM.BaseURL)
	cfg.Server.LLM.MaxTokens = getEnvAsIntOrDefault("CHATPANE_LLM_MAX_TOKENS", cfg.Server.LLM.MaxTokens)
	cfg.Server.LLM.HistoryLimit = getEnvAsIntOrDefault("CHATPANE_HISTORY_LIMIT", cfg.Server.LLM.HistoryLimit)
	cfg.Server.LLM.Cache = getEnvAsBoolOrDefault("CHATPANE_LLM_CACHE", cfg.Server.LLM.Cache)
	cfg.Server.LLM.CacheTTL = getEnvAsDurationOrDefault("CHATPANE_LLM_CACHE_TTL", cfg.Server.LLM.CacheTTL)
	cfg.Server.LLM.CacheMaxEntries = getEnvAsIntOrDefault("CHATPANE_LLM_CACHE_MAX_ENTRIES", cfg.Server.LLM.CacheMaxEntries)
}

// ValidateClient checks the settings cmd/chatpane depends on
func (c Config) ValidateClient() error {
	if strings.TrimSpace(c.BackendURL) == "" {
		return errors.New("backend url is required")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil {
		return fmt.Errorf("invalid backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend url must start with http:// or https://, got %q", c.BackendURL)
	}
	if u.Host == "" {
		return fmt.Errorf("backend url has no host: %q", c.BackendURL)
	}
	return nil
}

// ValidateServer checks the settings cmd/chatserver depends on
func (c Config) ValidateServer() error {
	switch c.Server.Store.Driver {
	case StoreSQLite:
		if c.Server.Store.SQLitePath == "" {
			return errors.New("sqlite_path is required for the sqlite store")
		}
	case StoreMongo:
		if c.Server.Store.MongoURI == "" {
			return errors.New("mongo_uri is required for the mongo store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store driver: %s", c.Server.Store.Driver)
	}

	switch c.Server.LLM.Provider {
	case ProviderOpenAI, ProviderGrok, ProviderAnthropic, ProviderOllama, ProviderGemini, ProviderEcho:
	default:
		return fmt.Errorf("unknown llm provider: %s", c.Server.LLM.Provider)
	}

	if c.Server.LLM.HistoryLimit <= 0 {
		return errors.New("history_limit must be positive")
	}
	if c.Server.LLM.Cache && c.Server.LLM.CacheMaxEntries <= 0 {
		return errors.New("cache_max_entries must be positive when the cache is enabled")
	}
	if c.Server.LLM.CacheTTL < 0 {
		return errors.New("cache_ttl must not be negative")
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsBoolOrDefault(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
