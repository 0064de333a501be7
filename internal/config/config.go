package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/ksred/klear-confirm/internal/mailbox"
)

const devJWTSecret = "klear-dev-secret-key"

// Extractor modes
const (
	ExtractorHTTP   = "http"
	ExtractorReplay = "replay"
)

// Config holds application configuration
type Config struct {
	Env      string
	LogLevel string
	Port     int
	MyEntity string

	DataDir        string
	TradesFile     string
	EntitiesFile   string
	MatchesFile    string
	IdentifiedFile string
	DatabasePath   string

	PollInterval          time.Duration
	MailboxDir            string
	MailboxFolder         string
	NonConfirmationPolicy mailbox.Policy
	NotRelevantFolder     string

	ExtractorMode    string
	ExtractorURL     string
	ExtractorTimeout time.Duration

	JWTSecret   string
	APIKey      string
	APISecret   string
	CORSOrigins []string
}

// Load reads configuration from environment variables, after loading a
// .env file if one exists
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads configuration from the current environment only
func FromEnv() (*Config, error) {
	dataDir := getEnv("DATA_DIR", "./data")

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnvAsInt("PORT", 5005),
		MyEntity: getEnv("MY_ENTITY", ""),

		DataDir:        dataDir,
		TradesFile:     inDir(dataDir, getEnv("TRADES_FILE", "unmatched_trades.json")),
		EntitiesFile:   inDir(dataDir, getEnv("ENTITIES_FILE", "email_entities.json")),
		MatchesFile:    inDir(dataDir, getEnv("MATCHES_FILE", "email_matches.json")),
		IdentifiedFile: inDir(dataDir, getEnv("IDENTIFIED_FILE", "matched_trades.json")),
		DatabasePath:   getEnv("DB_PATH", filepath.Join(dataDir, "confirmations.db")),

		PollInterval:          getEnvAsDuration("POLL_INTERVAL", 10*time.Second),
		MailboxDir:            getEnv("MAILBOX_DIR", filepath.Join(dataDir, "mailbox")),
		MailboxFolder:         getEnv("MAILBOX_FOLDER", "Inbox/Confirmations"),
		NonConfirmationPolicy: mailbox.Policy(getEnv("NON_CONFIRMATION_POLICY", string(mailbox.PolicyMove))),
		NotRelevantFolder:     getEnv("NOT_RELEVANT_FOLDER", mailbox.DefaultNotRelevantFolder),

		ExtractorMode:    getEnv("EXTRACTOR_MODE", ExtractorHTTP),
		ExtractorURL:     getEnv("EXTRACTOR_URL", "http://localhost:9000/extract"),
		ExtractorTimeout: getEnvAsDuration("EXTRACTOR_TIMEOUT", 60*time.Second),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		APIKey:      getEnv("API_KEY", ""),
		APISecret:   getEnv("API_SECRET", ""),
		CORSOrigins: getEnvAsList("CORS_ORIGINS", []string{"*"}),
	}

	if cfg.JWTSecret == "" && !cfg.IsProduction() {
		cfg.JWTSecret = devJWTSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Validate checks if required configuration is present and consistent
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.ExtractorTimeout <= 0 {
		return fmt.Errorf("EXTRACTOR_TIMEOUT must be positive")
	}
	if _, err := mailbox.ParsePolicy(string(c.NonConfirmationPolicy)); err != nil {
		return fmt.Errorf("NON_CONFIRMATION_POLICY: %w", err)
	}
	switch c.ExtractorMode {
	case ExtractorHTTP:
		if c.ExtractorURL == "" {
			return fmt.Errorf("EXTRACTOR_URL is required in http mode")
		}
	case ExtractorReplay:
	default:
		return fmt.Errorf("EXTRACTOR_MODE must be %q or %q, got %q", ExtractorHTTP, ExtractorReplay, c.ExtractorMode)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	if (c.APIKey == "") != (c.APISecret == "") {
		return fmt.Errorf("API_KEY and API_SECRET must be set together")
	}
	return nil
}

func inDir(dir, file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(dir, file)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
