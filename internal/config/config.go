package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/text/language"
)

// Config holds all application configuration.
// Supports environment variables with sensible defaults.
//
// Environment Variables:
// Provider Configuration:
// - OPENAI_API_KEY: OpenAI API key
// - OPENAI_API_URL: OpenAI-compatible endpoint URL (default: empty, SDK default)
// - GEMINI_API_KEY: Gemini API key
// - DEFAULT_PROVIDER: provider used when a request names none (default: openai)
// - DEFAULT_MODEL: model used when a request names none (default: gpt-4o-mini)
// - MAX_TOKENS: maximum completion tokens per call (default: 8000)
// - TEMPERATURE: sampling temperature (default: 0.3)
//
// Translation Memory:
// - TM_MIN_SIMILARITY: fuzzy match floor (default: 0.85)
// - TM_AUTO_ACCEPT: auto-apply threshold (default: 0.95)
// - TM_MAX_RESULTS: fuzzy results per lookup (default: 5)
// - TM_CANDIDATE_LIMIT: candidates fetched per fuzzy lookup (default: 200)
// - SCORER_WORKERS: similarity scorer pool size (default: 4)
//
// Throughput:
// - MAX_CONCURRENT_CALLS: provider call semaphore size (default: 5)
// - OPENAI_REQUESTS_PER_MINUTE (default: 60)
// - OPENAI_TOKENS_PER_MINUTE (default: 90000)
// - GEMINI_REQUESTS_PER_MINUTE (default: 60)
// - GEMINI_TOKENS_PER_MINUTE (default: 0, disabled)
// - SUB_BATCH_SIZE: units per provider call (default: 20)
// - MAX_PARALLEL_BATCHES: parallel runner ceiling (default: 4)
// - UNITS_PER_MINUTE: duration-estimate throughput (default: 120)
//
// Dedup Cache:
// - DEDUP_TTL_MINUTES (default: 30)
// - DEDUP_CAPACITY (default: 10000)
// - MAINTENANCE_CRON: cache prune schedule (default: "*/10 * * * *")
//
// System:
// - DB_PATH (default: data/tmpipeline.db)
// - GLOSSARY_DIR (default: glossaries)
// - HTTP_ADDR (default: :8080)
// - LOG_LEVEL (default: info)
// - DEFAULT_SOURCE_LANG (default: en)
// - DEFAULT_TARGET_LANG (default: es)

type Config struct {
	Providers Providers `json:"providers"`
	TM        TM        `json:"tm"`
	Limits    Limits    `json:"limits"`
	Dedup     Dedup     `json:"dedup"`
	System    System    `json:"system"`
}

type Providers struct {
	OpenAIAPIKey string  `json:"-"`
	OpenAIAPIURL string  `json:"openai_api_url"`
	GeminiAPIKey string  `json:"-"`
	Default      string  `json:"default"`
	Model        string  `json:"model"`
	MaxTokens    int     `json:"max_tokens"`
	Temperature  float64 `json:"temperature"`
}

type TM struct {
	MinSimilarity  float64 `json:"min_similarity"`
	AutoAccept     float64 `json:"auto_accept"`
	MaxResults     int     `json:"max_results"`
	CandidateLimit int     `json:"candidate_limit"`
	ScorerWorkers  int     `json:"scorer_workers"`
}

type Limits struct {
	MaxConcurrentCalls      int `json:"max_concurrent_calls"`
	OpenAIRequestsPerMinute int `json:"openai_requests_per_minute"`
	OpenAITokensPerMinute   int `json:"openai_tokens_per_minute"`
	GeminiRequestsPerMinute int `json:"gemini_requests_per_minute"`
	GeminiTokensPerMinute   int `json:"gemini_tokens_per_minute"`
	SubBatchSize            int `json:"sub_batch_size"`
	MaxParallelBatches      int `json:"max_parallel_batches"`
	UnitsPerMinute          int `json:"units_per_minute"`
}

type Dedup struct {
	TTL             time.Duration `json:"ttl"`
	Capacity        int           `json:"capacity"`
	MaintenanceCron string        `json:"maintenance_cron"`
}

type System struct {
	DBPath         string       `json:"db_path"`
	GlossaryDir    string       `json:"glossary_dir"`
	HTTPAddr       string       `json:"http_addr"`
	LogLevel       string       `json:"log_level"`
	SourceLanguage language.Tag `json:"source_language"`
	TargetLanguage language.Tag `json:"target_language"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment
// variables and options.
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Providers: Providers{
			OpenAIAPIKey: getEnvString("OPENAI_API_KEY", ""),
			OpenAIAPIURL: getEnvString("OPENAI_API_URL", ""),
			GeminiAPIKey: getEnvString("GEMINI_API_KEY", ""),
			Default:      getEnvString("DEFAULT_PROVIDER", "openai"),
			Model:        getEnvString("DEFAULT_MODEL", "gpt-4o-mini"),
			MaxTokens:    getEnvInt("MAX_TOKENS", 8000),
			Temperature:  getEnvFloat("TEMPERATURE", 0.3),
		},
		TM: TM{
			MinSimilarity:  getEnvFloat("TM_MIN_SIMILARITY", 0.85),
			AutoAccept:     getEnvFloat("TM_AUTO_ACCEPT", 0.95),
			MaxResults:     getEnvInt("TM_MAX_RESULTS", 5),
			CandidateLimit: getEnvInt("TM_CANDIDATE_LIMIT", 200),
			ScorerWorkers:  getEnvInt("SCORER_WORKERS", 4),
		},
		Limits: Limits{
			MaxConcurrentCalls:      getEnvInt("MAX_CONCURRENT_CALLS", 5),
			OpenAIRequestsPerMinute: getEnvInt("OPENAI_REQUESTS_PER_MINUTE", 60),
			OpenAITokensPerMinute:   getEnvInt("OPENAI_TOKENS_PER_MINUTE", 90000),
			GeminiRequestsPerMinute: getEnvInt("GEMINI_REQUESTS_PER_MINUTE", 60),
			GeminiTokensPerMinute:   getEnvInt("GEMINI_TOKENS_PER_MINUTE", 0),
			SubBatchSize:            getEnvInt("SUB_BATCH_SIZE", 20),
			MaxParallelBatches:      getEnvInt("MAX_PARALLEL_BATCHES", 4),
			UnitsPerMinute:          getEnvInt("UNITS_PER_MINUTE", 120),
		},
		Dedup: Dedup{
			TTL:             time.Duration(getEnvInt("DEDUP_TTL_MINUTES", 30)) * time.Minute,
			Capacity:        getEnvInt("DEDUP_CAPACITY", 10000),
			MaintenanceCron: getEnvString("MAINTENANCE_CRON", "*/10 * * * *"),
		},
		System: System{
			DBPath:         getEnvString("DB_PATH", "data/tmpipeline.db"),
			GlossaryDir:    getEnvString("GLOSSARY_DIR", "glossaries"),
			HTTPAddr:       getEnvString("HTTP_ADDR", ":8080"),
			LogLevel:       getEnvString("LOG_LEVEL", "info"),
			SourceLanguage: getEnvLanguage("DEFAULT_SOURCE_LANG", language.English),
			TargetLanguage: getEnvLanguage("DEFAULT_TARGET_LANG", language.Spanish),
		},
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.Providers.OpenAIAPIKey == "" && c.Providers.GeminiAPIKey == "" {
		return fmt.Errorf("at least one of OPENAI_API_KEY or GEMINI_API_KEY is required")
	}
	if c.Providers.Default != "openai" && c.Providers.Default != "gemini" {
		return fmt.Errorf("DEFAULT_PROVIDER must be openai or gemini, got %q", c.Providers.Default)
	}
	if c.TM.MinSimilarity <= 0 || c.TM.MinSimilarity > 1 {
		return fmt.Errorf("TM_MIN_SIMILARITY must be in (0, 1], got %v", c.TM.MinSimilarity)
	}
	if c.TM.AutoAccept < c.TM.MinSimilarity {
		return fmt.Errorf("TM_AUTO_ACCEPT must be at least TM_MIN_SIMILARITY")
	}
	return nil
}

// APIKey resolves the stored key for a provider code.
func (c *Config) APIKey(providerCode string) (string, error) {
	switch providerCode {
	case "openai":
		if c.Providers.OpenAIAPIKey == "" {
			return "", fmt.Errorf("OPENAI_API_KEY is not set")
		}
		return c.Providers.OpenAIAPIKey, nil
	case "gemini":
		if c.Providers.GeminiAPIKey == "" {
			return "", fmt.Errorf("GEMINI_API_KEY is not set")
		}
		return c.Providers.GeminiAPIKey, nil
	default:
		return "", fmt.Errorf("unknown provider %q", providerCode)
	}
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

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvLanguage(key string, defaultValue language.Tag) language.Tag {
	if value := os.Getenv(key); value != "" {
		if tag, err := language.Parse(value); err == nil {
			return tag
		}
	}
	return defaultValue
}
