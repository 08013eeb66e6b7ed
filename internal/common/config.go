package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	LLM        LLMConfig
	TextSource TextSourceConfig
	Pipeline   PipelineConfig
	Queue      QueueConfig
}

// DatabaseConfig holds run-persistence configuration. An empty DSN disables persistence.
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds listener addresses
type ServerConfig struct {
	HTTPAddr        string
	GRPCAddr        string
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration
}

// LLMConfig holds extraction-service configuration
type LLMConfig struct {
	Model             string
	APIKey            string
	BaseURL           string
	Temperature       float32
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerMinute int
	MaxTextChars      int
}

// TextSourceConfig selects how document text is obtained
type TextSourceConfig struct {
	LlamaParseAPIKey  string
	LlamaParseBaseURL string
	LlamaParsePoll    time.Duration
	PDFToTextBin      string
}

// PipelineConfig holds batch settings
type PipelineConfig struct {
	Concurrency int
	SchemaPath  string
	RowsField   string
}

// QueueConfig holds background batch queue settings
type QueueConfig struct {
	Workers        int
	Size           int
	ProcessTimeout time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			HTTPAddr:        getEnv("HTTP_ADDR", ":3000"),
			GRPCAddr:        getEnv("GRPC_ADDR", ":8080"),
			MaxUploadBytes:  int64(getEnvAsInt("MAX_UPLOAD_MB", 32)) << 20,
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		LLM: LLMConfig{
			Model:             getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			APIKey:            getEnv("OPENAI_API_KEY", ""),
			BaseURL:           getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Temperature:       getEnvAsFloat32("OPENAI_TEMPERATURE", 0.0),
			Timeout:           getEnvAsDuration("OPENAI_TIMEOUT", 60*time.Second),
			MaxRetries:        getEnvAsInt("OPENAI_MAX_RETRIES", 3),
			RequestsPerMinute: getEnvAsInt("OPENAI_REQUESTS_PER_MINUTE", 0),
			MaxTextChars:      getEnvAsInt("OPENAI_MAX_TEXT_CHARS", 0),
		},
		TextSource: TextSourceConfig{
			LlamaParseAPIKey:  getEnv("LLAMA_CLOUD_API_KEY", ""),
			LlamaParseBaseURL: getEnv("LLAMA_PARSE_BASE_URL", "https://api.cloud.llamaindex.ai/api/parsing"),
			LlamaParsePoll:    getEnvAsDuration("LLAMA_PARSE_POLL_INTERVAL", 2*time.Second),
			PDFToTextBin:      getEnv("PDFTOTEXT_BIN", "pdftotext"),
		},
		Pipeline: PipelineConfig{
			Concurrency: getEnvAsInt("EXTRACT_CONCURRENCY", 4),
			SchemaPath:  getEnv("SCHEMA_PATH", ""),
			RowsField:   getEnv("ROWS_FIELD", ""),
		},
		Queue: QueueConfig{
			Workers:        getEnvAsInt("QUEUE_WORKERS", 2),
			Size:           getEnvAsInt("QUEUE_SIZE", 64),
			ProcessTimeout: getEnvAsDuration("QUEUE_PROCESS_TIMEOUT", 10*time.Minute),
		},
	}
}

// Helper functions for environment variable parsing
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

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate checks the settings every entry point needs. Persistence stays optional.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", ErrInvalidInput)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return NewAppError("CONFIG_ERROR", "OPENAI_TEMPERATURE must be between 0 and 2", ErrInvalidInput)
	}
	if c.Pipeline.Concurrency < 1 {
		return NewAppError("CONFIG_ERROR", "EXTRACT_CONCURRENCY must be at least 1", ErrInvalidInput)
	}
	return nil
}

// ValidateServer additionally checks listener settings for the daemon.
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Server.HTTPAddr == "" && c.Server.GRPCAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR or GRPC_ADDR is required", ErrInvalidInput)
	}
	return nil
}
