package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
	Gemini        GeminiConfig
	Storage       StorageConfig
	Ingestion     IngestionConfig
	Resend        ResendConfig
}

// GeminiConfig is optional; AI phases are disabled when APIKey is empty.
type GeminiConfig struct {
	APIKey            string
	Model             string
	Timeout           time.Duration
	RequestsPerMinute int
}

type ServerConfig struct {
	Host               string
	Port               int
	BaseURL            string
	RateLimitPerSecond int
	RateLimitBurst     int
	AllowedOrigins     []string
	MaxUploadBytes     int64
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

type AuthConfig struct {
	JWTSecret string
	AdminRole string
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	LogLevel       string
}

type StorageConfig struct {
	LocalPath string
}

// IngestionConfig tunes the bulk import pipeline
type IngestionConfig struct {
	MaxFileSizeBytes   int64
	MaxRows            int
	MaxAITextChars     int
	ChunkSize          int
	AITimeout          time.Duration
	EnableAIMapping    bool
	ColumnFuzzyMin     float64
	PartFuzzyMin       float64
	ApplicabilityMin   float64
	MatchThreshold     float64
	DefaultCurrency    string
	DefaultCondition   string
	CatalogRefreshSpec string
}

type ResendConfig struct {
	APIKey    string
	FromEmail string
}

// Load reads configuration from environment variables, after loading a .env file if present
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:               getEnv("SERVER_HOST", "localhost"),
			Port:               getEnvAsInt("SERVER_PORT", 8080),
			BaseURL:            getEnv("BASE_URL", "http://localhost:8080"),
			RateLimitPerSecond: getEnvAsInt("SERVER_RATE_LIMIT_PER_SECOND", 100),
			RateLimitBurst:     getEnvAsInt("SERVER_RATE_LIMIT_BURST", 200),
			AllowedOrigins:     getEnvAsList("SERVER_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			MaxUploadBytes:     int64(getEnvAsInt("SERVER_MAX_UPLOAD_BYTES", 26*1024*1024)),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "skyparts-dev"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			AdminRole: getEnv("AUTH_ADMIN_ROLE", "admin"),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
		},
		Gemini: GeminiConfig{
			APIKey:            getEnv("GEMINI_API_KEY", ""),
			Model:             getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
			Timeout:           getEnvAsDuration("GEMINI_TIMEOUT", 30*time.Second),
			RequestsPerMinute: getEnvAsInt("GEMINI_REQUESTS_PER_MINUTE", 60),
		},
		Storage: StorageConfig{
			LocalPath: getEnv("STORAGE_LOCAL_PATH", "./uploads"),
		},
		Ingestion: IngestionConfig{
			MaxFileSizeBytes:   int64(getEnvAsInt("INGESTION_MAX_FILE_SIZE_BYTES", 25*1024*1024)),
			MaxRows:            getEnvAsInt("INGESTION_MAX_ROWS", 10000),
			MaxAITextChars:     getEnvAsInt("INGESTION_MAX_AI_TEXT_CHARS", 15000),
			ChunkSize:          getEnvAsInt("INGESTION_CHUNK_SIZE", 50),
			AITimeout:          getEnvAsDuration("INGESTION_AI_TIMEOUT", 20*time.Second),
			EnableAIMapping:    getEnvAsBool("INGESTION_AI_MAPPING", true),
			ColumnFuzzyMin:     getEnvAsFloat("INGESTION_COLUMN_FUZZY_MIN", 0.6),
			PartFuzzyMin:       getEnvAsFloat("INGESTION_PART_FUZZY_MIN", 0.3),
			ApplicabilityMin:   getEnvAsFloat("INGESTION_APPLICABILITY_MIN", 0.5),
			MatchThreshold:     getEnvAsFloat("INGESTION_MATCH_THRESHOLD", 0.5),
			DefaultCurrency:    getEnv("INGESTION_DEFAULT_CURRENCY", "USD"),
			DefaultCondition:   getEnv("INGESTION_DEFAULT_CONDITION", "AR"),
			CatalogRefreshSpec: getEnv("INGESTION_CATALOG_REFRESH", "@every 15m"),
		},
		Resend: ResendConfig{
			APIKey:    getEnv("RESEND_API_KEY", ""),
			FromEmail: getEnv("RESEND_FROM_EMAIL", "SkyParts <inventory@skyparts.example>"),
		},
	}

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Ingestion.ChunkSize <= 0 {
		return nil, fmt.Errorf("INGESTION_CHUNK_SIZE must be positive, got %d", cfg.Ingestion.ChunkSize)
	}

	return cfg, nil
}

// AIEnabled reports whether a Gemini key was configured
func (c *Config) AIEnabled() bool {
	return c.Gemini.APIKey != ""
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
