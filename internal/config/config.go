package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port      string
	Env       string
	LogLevel  string
	LogFormat string

	// WhatsApp Cloud API
	WhatsAppAPIToken    string
	WhatsAppPhoneID     string
	WhatsAppAPIVersion  string
	WebhookVerifyToken  string
	CatalogDocumentURL  string
	CatalogCaption      string
	OutboundMaxLength   int
	OutboundSendRetries int

	// DeepSeek (OpenAI-compatible) LLM
	DeepSeekAPIKey  string
	DeepSeekBaseURL string
	DeepSeekModel   string
	LLMMaxTokens    int

	// Google Sheets order store
	SpreadsheetID    string
	SpreadsheetRange string
	GoogleCredsFile  string

	// Redis transcript archive (optional)
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Conversation engine tuning
	BufferWaitTime        time.Duration
	BufferCleanupInterval time.Duration
	ProcessingCooldown    time.Duration
	OrderCacheExpiry      time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:      getEnv("PORT", "3000"),
		Env:       getEnv("ENV", "development"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", ""),

		WhatsAppAPIToken:    getEnv("WHATSAPP_API_TOKEN", ""),
		WhatsAppPhoneID:     getEnv("WHATSAPP_PHONE_ID", ""),
		WhatsAppAPIVersion:  getEnv("WHATSAPP_API_VERSION", "v21.0"),
		WebhookVerifyToken:  getEnv("WEBHOOK_VERIFY_TOKEN", ""),
		CatalogDocumentURL:  getEnv("CATALOG_DOCUMENT_URL", ""),
		CatalogCaption:      getEnv("CATALOG_CAPTION", "Catálogo Dommo"),
		OutboundMaxLength:   getEnvAsInt("OUTBOUND_MAX_LENGTH", 4096),
		OutboundSendRetries: getEnvAsInt("OUTBOUND_SEND_RETRIES", 1),

		DeepSeekAPIKey:  getEnv("DEEPSEEK_API_KEY", ""),
		DeepSeekBaseURL: getEnv("DEEPSEEK_BASE_URL", "https://api.deepseek.com"),
		DeepSeekModel:   getEnv("DEEPSEEK_MODEL", "deepseek-chat"),
		LLMMaxTokens:    getEnvAsInt("LLM_MAX_TOKENS", 800),

		SpreadsheetID:    getEnv("SPREADSHEET_ID", ""),
		SpreadsheetRange: getEnv("SPREADSHEET_RANGE", "pedidos"),
		GoogleCredsFile:  getEnv("GOOGLE_CREDENTIALS_FILE", "credentials.json"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		BufferWaitTime:        getEnvAsDuration("BUFFER_WAIT_TIME", 35*time.Second),
		BufferCleanupInterval: getEnvAsDuration("BUFFER_CLEANUP_INTERVAL", 5*time.Minute),
		ProcessingCooldown:    getEnvAsDuration("PROCESSING_COOLDOWN", 10*time.Second),
		OrderCacheExpiry:      getEnvAsDuration("ORDER_CACHE_EXPIRY", 5*time.Minute),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
