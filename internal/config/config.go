// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	Questions QuestionsConfig
	Matching  MatchingConfig
	Oracle    OracleConfig
	TurnLog   TurnLogConfig
	Export    ExportConfig
}

// QuestionsConfig controls the question bank sources and sampling.
type QuestionsConfig struct {
	Dir            string
	Domains        []string
	PerDomain      int
	ScheduleLength int
}

// MatchingConfig controls the semantic matcher.
type MatchingConfig struct {
	// Provider: "genai" or "ollama".
	Provider       string
	Model          string
	OllamaEndpoint string
	// MinSimilarity below which a match is rejected; 0 disables.
	MinSimilarity float64
}

// OracleConfig controls the response model.
type OracleConfig struct {
	Model   string
	Timeout time.Duration
}

// TurnLogConfig controls CSV turn logging.
type TurnLogConfig struct {
	Dir           string
	AggregatePath string
}

// ExportConfig controls completed-session log export.
type ExportConfig struct {
	// Provider: "drive" or "local".
	Provider        string
	DriveFolderID   string
	CredentialsFile string
	LocalDir        string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/survey.db"),
		Questions: QuestionsConfig{
			Dir:            getEnv("QUESTIONS_DIR", "./questions"),
			Domains:        splitList(getEnv("QUESTION_DOMAINS", "history,science,geography,sports,arts")),
			PerDomain:      getEnvInt("QUESTIONS_PER_DOMAIN", 2),
			ScheduleLength: getEnvInt("SCHEDULE_LENGTH", 10),
		},
		Matching: MatchingConfig{
			Provider:       getEnv("EMBED_PROVIDER", "genai"),
			Model:          getEnv("EMBED_MODEL", ""),
			OllamaEndpoint: getEnv("OLLAMA_ENDPOINT", "http://localhost:11434"),
			MinSimilarity:  getEnvFloat("MATCH_MIN_SIMILARITY", 0),
		},
		Oracle: OracleConfig{
			Model:   getEnv("ORACLE_MODEL", "gemini-2.5-flash"),
			Timeout: getEnvDuration("ORACLE_TIMEOUT", 30*time.Second),
		},
		TurnLog: TurnLogConfig{
			Dir:           getEnv("TURNLOG_DIR", "./data/logs"),
			AggregatePath: getEnv("TURNLOG_AGGREGATE_PATH", "./data/logs/all_sessions.csv"),
		},
		Export: ExportConfig{
			Provider:        getEnv("EXPORT_PROVIDER", "local"),
			DriveFolderID:   getEnv("DRIVE_FOLDER_ID", ""),
			CredentialsFile: getEnv("DRIVE_CREDENTIALS_FILE", ""),
			LocalDir:        getEnv("EXPORT_DIR", "./data/exports"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Questions.Dir == "" {
		return fmt.Errorf("QUESTIONS_DIR cannot be empty")
	}
	if len(c.Questions.Domains) == 0 {
		return fmt.Errorf("QUESTION_DOMAINS cannot be empty")
	}
	if c.Questions.PerDomain <= 0 {
		return fmt.Errorf("QUESTIONS_PER_DOMAIN must be > 0")
	}
	if c.Questions.ScheduleLength <= 0 || c.Questions.ScheduleLength%2 != 0 {
		return fmt.Errorf("SCHEDULE_LENGTH must be a positive even number")
	}
	if c.Matching.MinSimilarity < 0 || c.Matching.MinSimilarity > 1 {
		return fmt.Errorf("MATCH_MIN_SIMILARITY must be in [0, 1]")
	}
	if c.TurnLog.Dir == "" {
		return fmt.Errorf("TURNLOG_DIR cannot be empty")
	}
	switch c.Export.Provider {
	case "local":
		if c.Export.LocalDir == "" {
			return fmt.Errorf("EXPORT_DIR cannot be empty for local export")
		}
	case "drive":
		if c.Export.CredentialsFile == "" {
			return fmt.Errorf("DRIVE_CREDENTIALS_FILE is required for drive export")
		}
		if c.Export.DriveFolderID == "" {
			return fmt.Errorf("DRIVE_FOLDER_ID is required for drive export")
		}
	default:
		return fmt.Errorf("EXPORT_PROVIDER must be 'drive' or 'local'")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
