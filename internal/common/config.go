package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Artifact ArtifactConfig
	Extract  ExtractConfig
	LMM      LMMConfig
	Credits  CreditsConfig
}

// DatabaseConfig holds database-related configuration.
// DSNs starting with postgres:// (or postgresql://) select the pgx backend;
// anything else is treated as a sqlite path.
type DatabaseConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string
	JWTSecret       string
	ShutdownTimeout time.Duration
}

// ArtifactConfig holds artifact store configuration.
type ArtifactConfig struct {
	Root           string
	MaxUploadBytes int64
}

// ExtractConfig holds PDF extraction configuration.
type ExtractConfig struct {
	Pdftotext    string // binary name or absolute path; if empty -> "pdftotext"
	Pdfimages    string // binary name or absolute path; if empty -> "pdfimages"
	PDFMaxImages int    // embedded images kept per PDF
}

// LMMConfig holds the remote multimodal model configuration.
type LMMConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	MaxImages       int
	MaxOutputTokens int
	Timeout         time.Duration
}

// CreditsConfig holds the fixed operation costs.
type CreditsConfig struct {
	StudyAnalysisCost       int64
	IntegratedDiagnosisCost int64
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:             getEnv("DB_URL", "doctorfy.db"),
			MaxConns:        getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:        getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
		},
		Server: ServerConfig{
			Addr:            getEnv("HTTP_ADDR", ":8080"),
			JWTSecret:       getEnv("JWT_SECRET", ""),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Artifact: ArtifactConfig{
			Root:           getEnv("ARTIFACT_ROOT", "./data"),
			MaxUploadBytes: getEnvAsInt64("MAX_UPLOAD_BYTES", 16<<20),
		},
		Extract: ExtractConfig{
			Pdftotext:    getEnv("PDFTOTEXT_BIN", "pdftotext"),
			Pdfimages:    getEnv("PDFIMAGES_BIN", "pdfimages"),
			PDFMaxImages: getEnvAsInt("PDF_MAX_IMAGES", 5),
		},
		LMM: LMMConfig{
			APIKey:          getEnv("LMM_API_KEY", ""),
			BaseURL:         getEnv("LMM_BASE_URL", "https://api.anthropic.com"),
			Model:           getEnv("LMM_MODEL", "claude-3-5-sonnet-20241022"),
			MaxImages:       getEnvAsInt("LMM_MAX_IMAGES", 8),
			MaxOutputTokens: getEnvAsInt("LMM_MAX_OUTPUT_TOKENS", 2048),
			Timeout:         getEnvAsDuration("LMM_TIMEOUT_SECONDS", 180*time.Second),
		},
		Credits: CreditsConfig{
			StudyAnalysisCost:       getEnvAsInt64("STUDY_ANALYSIS_COST", 5),
			IntegratedDiagnosisCost: getEnvAsInt64("INTEGRATED_DIAGNOSIS_COST", 10),
		},
	}
}

// Helper functions for environment variable parsing.
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

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts either a time.Duration string ("180s") or a bare
// number of seconds, which is how the deployment environment sets budgets.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// Validate validates the loaded configuration.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError(KindInvalidInput, "DB_URL is required", nil)
	}
	if c.Server.JWTSecret == "" {
		return NewAppError(KindInvalidInput, "JWT_SECRET is required", nil)
	}
	if c.Artifact.Root == "" {
		return NewAppError(KindInvalidInput, "ARTIFACT_ROOT is required", nil)
	}
	if c.LMM.MaxImages <= 0 {
		return NewAppError(KindInvalidInput, "LMM_MAX_IMAGES must be positive", nil)
	}
	return nil
}
