package config

import (
	"os"
)

type Config struct {
	Port        string
	Environment string
	DatabaseURL string
	TablePrefix string
	CORSOrigins string
	AuthSecret  string

	// Redis (job queue + result bus)
	RedisAddr     string
	RedisPassword string

	// LLM Configuration
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultProvider string
	DefaultModel    string

	// Media enrichment collaborators
	VisionAPIURL     string
	TranscribeAPIURL string

	// Outbound delivery
	WebhookBaseURL string
	IdentitiesFile string

	// Path to the optional YAML tuning file (budget + queue overrides)
	TuningFile string

	// LogDir, when set, mirrors logs into timestamped files there
	LogDir string

	// Debug flags
	Debug bool
}

func Load() *Config {
	env := getEnv("ENVIRONMENT", "dev")
	tablePrefix := getTablePrefix(env)

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: env,
		DatabaseURL: getEnv("DATABASE_URL", ""),
		TablePrefix: tablePrefix,
		CORSOrigins: getEnv("CORS_ORIGINS", "http://localhost:3000"),
		AuthSecret:  getEnv("AUTH_SECRET", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultProvider: getEnv("DEFAULT_PROVIDER", "anthropic"),
		DefaultModel:    getEnv("DEFAULT_MODEL", "claude-haiku-4-5-20251001"),

		VisionAPIURL:     getEnv("VISION_API_URL", ""),
		TranscribeAPIURL: getEnv("TRANSCRIBE_API_URL", ""),

		WebhookBaseURL: getEnv("WEBHOOK_BASE_URL", ""),
		IdentitiesFile: getEnv("IDENTITIES_FILE", ""),

		TuningFile: getEnv("TUNING_FILE", ""),
		LogDir:     getEnv("LOG_DIR", ""),

		// Debug flags - default to true in dev/test, false in production
		Debug: getEnv("DEBUG", getDefaultDebug(env)) == "true",
	}
}

// getDefaultDebug returns the default debug setting based on environment
func getDefaultDebug(env string) string {
	if env == "prod" {
		return "false"
	}
	return "true"
}

// getTablePrefix returns the table prefix based on environment
func getTablePrefix(env string) string {
	// Allow manual override via TABLE_PREFIX env var
	if prefix := os.Getenv("TABLE_PREFIX"); prefix != "" {
		return prefix
	}

	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
