package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all application configuration
// Supports environment variables with sensible defaults
//
// Environment Variables:
// HTTP:
// - HTTP_ADDR: Listen address (default: :8080)
// - MAX_UPLOAD_SIZE: Upload size cap in bytes (default: 52428800)
// - UI_ENABLED: Serve the bundled web UI (default: false)
// - UI_STATIC_DIR: Directory with the built UI assets (default: /app/ui)
//
// Storage:
// - DATA_DIR: Root directory for local data (default: /app/data)
// - DB_BACKEND: Snapshot backend, "sqlite" or "json" (default: sqlite)
// - STORAGE_BACKEND: Artifact backend, "local" or "s3" (default: local)
// - S3_ENDPOINT / S3_REGION / S3_ACCESS_KEY / S3_SECRET_KEY / S3_BUCKET: S3 backend settings
//
// Recognition engine:
// - OCR_API_KEY: API key for the recognition engine (required)
// - OCR_API_URL: API endpoint (default: https://generativelanguage.googleapis.com/v1beta)
// - OCR_MODEL: Model name (default: gemini-2.0-flash)
// - OCR_TIMEOUT: Request timeout in seconds (default: 120)
// - EXTRACT_PAGE_CONCURRENCY: Concurrent page extractions per job (default: 4, 0 = one per page)
//
// Translation engines:
// - CLAUDE_API_KEY / CLAUDE_API_URL / CLAUDE_MODEL
// - GEMINI_API_KEY / GEMINI_API_URL / GEMINI_MODEL
// - TRANSLATE_MAX_TOKENS: Max tokens per engine response (default: 8192)
// - TRANSLATE_TIMEOUT: Engine request timeout in seconds (default: 300)
// - TRANSLATE_CHUNK_CHARS: Split threshold for long documents (default: 12000)
// - DEFAULT_ENGINE: Engine used when a request names none (default: claude)
//
// Dispatch:
// - DISPATCH_WORKERS: Background worker count (default: 4)
// - SWEEP_CRON: Stale job sweep schedule (default: */5 * * * *)
// - STALE_AFTER_MINUTES: Age in minutes before a processing job counts as stale (default: 30)
//
// Retry:
// - RETRY_MAX_RETRIES: Retries after the first attempt (default: 3)
// - RETRY_BASE_DELAY_MS (default: 1000)
// - RETRY_FACTOR (default: 2.0)
// - RETRY_MAX_DELAY_MS (default: 60000)

type Config struct {
	HTTP        HTTPConfig        `json:"http"`
	System      SystemConfig      `json:"system"`
	Storage     StorageConfig     `json:"storage"`
	Extraction  ExtractionConfig  `json:"extraction"`
	Translation TranslationConfig `json:"translation"`
	Dispatch    DispatchConfig    `json:"dispatch"`
	Retry       RetryConfig       `json:"retry"`
}

type HTTPConfig struct {
	Addr          string `json:"addr"`
	MaxUploadSize int64  `json:"max_upload_size"`
	UIEnabled     bool   `json:"ui_enabled"`
	UIStaticDir   string `json:"ui_static_dir"`
}

type SystemConfig struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
}

type StorageConfig struct {
	DBBackend       string `json:"db_backend"`
	ArtifactBackend string `json:"artifact_backend"`

	S3Endpoint  string `json:"s3_endpoint"`
	S3Region    string `json:"s3_region"`
	S3AccessKey string `json:"s3_access_key"`
	S3SecretKey string `json:"s3_secret_key"`
	S3Bucket    string `json:"s3_bucket"`
}

// EngineConfig holds the connection settings for one external engine API.
type EngineConfig struct {
	APIKey  string `json:"api_key"`
	APIURL  string `json:"api_url"`
	Model   string `json:"model"`
	Timeout int    `json:"timeout"`
}

type ExtractionConfig struct {
	Engine          EngineConfig `json:"engine"`
	PageConcurrency int          `json:"page_concurrency"`
}

type TranslationConfig struct {
	Claude        EngineConfig `json:"claude"`
	Gemini        EngineConfig `json:"gemini"`
	DefaultEngine string       `json:"default_engine"`
	MaxTokens     int          `json:"max_tokens"`
	ChunkChars    int          `json:"chunk_chars"`
}

type DispatchConfig struct {
	Workers    int           `json:"workers"`
	SweepCron  string        `json:"sweep_cron"`
	StaleAfter time.Duration `json:"stale_after"`
}

type RetryConfig struct {
	MaxRetries int           `json:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay"`
	Factor     float64       `json:"factor"`
	MaxDelay   time.Duration `json:"max_delay"`
}

// Option is a function type for configuring Config
type Option func(*Config)

func WithDataDir(dir string) Option {
	return func(c *Config) {
		c.System.DataDir = dir
	}
}

func WithHTTPAddr(addr string) Option {
	return func(c *Config) {
		c.HTTP.Addr = addr
	}
}

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		HTTP: HTTPConfig{
			Addr:          getEnvString("HTTP_ADDR", ":8080"),
			MaxUploadSize: int64(getEnvInt("MAX_UPLOAD_SIZE", 50*1024*1024)),
			UIEnabled:     getEnvBool("UI_ENABLED", false),
			UIStaticDir:   getEnvString("UI_STATIC_DIR", "/app/ui"),
		},
		System: SystemConfig{
			DataDir:  getEnvString("DATA_DIR", "/app/data"),
			LogLevel: getEnvString("LOG_LEVEL", "info"),
		},
		Storage: StorageConfig{
			DBBackend:       getEnvString("DB_BACKEND", "sqlite"),
			ArtifactBackend: getEnvString("STORAGE_BACKEND", "local"),
			S3Endpoint:      getEnvString("S3_ENDPOINT", ""),
			S3Region:        getEnvString("S3_REGION", "auto"),
			S3AccessKey:     getEnvString("S3_ACCESS_KEY", ""),
			S3SecretKey:     getEnvString("S3_SECRET_KEY", ""),
			S3Bucket:        getEnvString("S3_BUCKET", ""),
		},
		Extraction: ExtractionConfig{
			Engine: EngineConfig{
				APIKey:  getEnvString("OCR_API_KEY", ""),
				APIURL:  getEnvString("OCR_API_URL", "https://generativelanguage.googleapis.com/v1beta"),
				Model:   getEnvString("OCR_MODEL", "gemini-2.0-flash"),
				Timeout: getEnvInt("OCR_TIMEOUT", 120),
			},
			PageConcurrency: getEnvInt("EXTRACT_PAGE_CONCURRENCY", 4),
		},
		Translation: TranslationConfig{
			Claude: EngineConfig{
				APIKey:  getEnvString("CLAUDE_API_KEY", ""),
				APIURL:  getEnvString("CLAUDE_API_URL", "https://api.anthropic.com/v1"),
				Model:   getEnvString("CLAUDE_MODEL", "claude-3-5-sonnet-20241022"),
				Timeout: getEnvInt("TRANSLATE_TIMEOUT", 300),
			},
			Gemini: EngineConfig{
				APIKey:  getEnvString("GEMINI_API_KEY", ""),
				APIURL:  getEnvString("GEMINI_API_URL", "https://generativelanguage.googleapis.com/v1beta"),
				Model:   getEnvString("GEMINI_MODEL", "gemini-2.0-flash"),
				Timeout: getEnvInt("TRANSLATE_TIMEOUT", 300),
			},
			DefaultEngine: getEnvString("DEFAULT_ENGINE", "claude"),
			MaxTokens:     getEnvInt("TRANSLATE_MAX_TOKENS", 8192),
			ChunkChars:    getEnvInt("TRANSLATE_CHUNK_CHARS", 12000),
		},
		Dispatch: DispatchConfig{
			Workers:    getEnvInt("DISPATCH_WORKERS", 4),
			SweepCron:  getEnvString("SWEEP_CRON", "*/5 * * * *"),
			StaleAfter: time.Duration(getEnvInt("STALE_AFTER_MINUTES", 30)) * time.Minute,
		},
		Retry: RetryConfig{
			MaxRetries: getEnvInt("RETRY_MAX_RETRIES", 3),
			BaseDelay:  time.Duration(getEnvInt("RETRY_BASE_DELAY_MS", 1000)) * time.Millisecond,
			Factor:     getEnvFloat("RETRY_FACTOR", 2.0),
			MaxDelay:   time.Duration(getEnvInt("RETRY_MAX_DELAY_MS", 60000)) * time.Millisecond,
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// DBPath returns the SQLite snapshot location under the data dir.
func (c *Config) DBPath() string {
	return filepath.Join(c.System.DataDir, "doctrans.db")
}

// SnapshotPath returns the JSON snapshot location under the data dir.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.System.DataDir, "snapshot.json")
}

// ArtifactDir returns the local artifact root under the data dir.
func (c *Config) ArtifactDir() string {
	return filepath.Join(c.System.DataDir, "storage")
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.Extraction.Engine.APIKey == "" {
		return fmt.Errorf("OCR_API_KEY is required")
	}
	if c.System.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.Dispatch.Workers <= 0 {
		return fmt.Errorf("DISPATCH_WORKERS must be positive")
	}
	if c.HTTP.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive")
	}
	switch c.Storage.DBBackend {
	case "sqlite", "json":
	default:
		return fmt.Errorf("DB_BACKEND must be sqlite or json, got %q", c.Storage.DBBackend)
	}
	switch c.Storage.ArtifactBackend {
	case "local":
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND=s3")
		}
		if c.Storage.S3AccessKey == "" || c.Storage.S3SecretKey == "" {
			return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY are required when STORAGE_BACKEND=s3")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be local or s3, got %q", c.Storage.ArtifactBackend)
	}
	switch c.Translation.DefaultEngine {
	case "claude", "gemini":
	default:
		return fmt.Errorf("DEFAULT_ENGINE must be claude or gemini, got %q", c.Translation.DefaultEngine)
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean value from environment variables with default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
