// Package config provides application-wide configuration loaded from env vars.
// All fields have safe defaults so the binary runs locally without any env setup.
// A .env file in the working directory (or the file named by TUTOR_ENV_FILE) is
// loaded first; variables already present in the process environment win.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration for the tutor service.
type Config struct {
	// Storage
	DatabasePath string // DATABASE_URL — default: "./data/tutor.db"

	// HTTP
	HTTPAddr string // HTTP_ADDR — default: ":8080"

	// Provider catalog
	CatalogPath     string // TUTOR_CATALOG_PATH — default: "" (embedded catalog)
	DefaultProvider string // TUTOR_DEFAULT_PROVIDER — default: "" (catalog default)
	DefaultModel    string // TUTOR_DEFAULT_MODEL — default: "" (catalog default)

	// LLM transport
	OllamaHost       string        // OLLAMA_API_HOST — default: "http://localhost:11434"
	OllamaEmbedModel string        // OLLAMA_EMBED_MODEL — default: "" (vector search disabled)
	LLMTimeout       time.Duration // LLM_TIMEOUT — longest provider silence; default: 60s
	LLMRetryBase     time.Duration // LLM_RETRY_BASE — default: 1s

	// Tutor behaviour
	RetrievalK    int // TUTOR_RETRIEVAL_K — default: 5
	HistoryWindow int // TUTOR_HISTORY_WINDOW — default: 10 messages

	// Upload inbox watched with fsnotify; empty disables the watcher.
	InboxDir     string // TUTOR_INBOX_DIR
	InboxSession string // TUTOR_INBOX_SESSION — default: "inbox"

	// Session tokens
	JWTSecret string        // JWT_SECRET
	JWTExpiry time.Duration // JWT_EXPIRY (hours) — default: 24h
	UsersPath string        // TUTOR_USERS_PATH — default: "" (token endpoint disabled)

	LogLevel string // LOG_LEVEL — default: "info"
}

const (
	envKeyEnvFile          = "TUTOR_ENV_FILE"
	envKeyDatabase         = "DATABASE_URL"
	envKeyHTTPAddr         = "HTTP_ADDR"
	envKeyCatalogPath      = "TUTOR_CATALOG_PATH"
	envKeyDefaultProvider  = "TUTOR_DEFAULT_PROVIDER"
	envKeyDefaultModel     = "TUTOR_DEFAULT_MODEL"
	envKeyOllamaHost       = "OLLAMA_API_HOST"
	envKeyOllamaEmbedModel = "OLLAMA_EMBED_MODEL"
	envKeyLLMTimeout       = "LLM_TIMEOUT"
	envKeyLLMRetryBase     = "LLM_RETRY_BASE"
	envKeyRetrievalK       = "TUTOR_RETRIEVAL_K"
	envKeyHistoryWindow    = "TUTOR_HISTORY_WINDOW"
	envKeyInboxDir         = "TUTOR_INBOX_DIR"
	envKeyInboxSession     = "TUTOR_INBOX_SESSION"
	envKeyJWTSecret        = "JWT_SECRET"
	envKeyJWTExpiry        = "JWT_EXPIRY"
	envKeyUsersPath        = "TUTOR_USERS_PATH"
	envKeyLogLevel         = "LOG_LEVEL"

	defaultEnvFile = ".env"
)

// Load reads configuration from environment variables, applying defaults for missing values.
func Load() Config {
	loadDotEnv(envOr(envKeyEnvFile, defaultEnvFile))

	return Config{
		DatabasePath:     envOr(envKeyDatabase, "./data/tutor.db"),
		HTTPAddr:         envOr(envKeyHTTPAddr, ":8080"),
		CatalogPath:      os.Getenv(envKeyCatalogPath),
		DefaultProvider:  os.Getenv(envKeyDefaultProvider),
		DefaultModel:     os.Getenv(envKeyDefaultModel),
		OllamaHost:       envOr(envKeyOllamaHost, "http://localhost:11434"),
		OllamaEmbedModel: os.Getenv(envKeyOllamaEmbedModel),
		LLMTimeout:       durationOr(envKeyLLMTimeout, 60*time.Second),
		LLMRetryBase:     durationOr(envKeyLLMRetryBase, time.Second),
		RetrievalK:       intOr(envKeyRetrievalK, 5),
		HistoryWindow:    intOr(envKeyHistoryWindow, 10),
		InboxDir:         os.Getenv(envKeyInboxDir),
		InboxSession:     envOr(envKeyInboxSession, "inbox"),
		JWTSecret:        os.Getenv(envKeyJWTSecret),
		JWTExpiry:        time.Duration(intOr(envKeyJWTExpiry, 24)) * time.Hour,
		UsersPath:        os.Getenv(envKeyUsersPath),
		LogLevel:         envOr(envKeyLogLevel, "info"),
	}
}

// loadDotEnv loads path into the process environment when the file exists.
// A missing file is the normal case in production and is not reported.
func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		slog.Warn("config: could not load env file", "path", path, "error", err)
	}
}

// envOr returns the value of the environment variable key, or fallback if not set.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// intOr parses key as a positive integer, or returns fallback.
func intOr(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// durationOr parses key with time.ParseDuration ("90s", "2m"), or returns fallback.
func durationOr(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
