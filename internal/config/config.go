package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	Environment string
	HTTPAddr    string
	DataDir     string
	DBPath      string
	CatalogPath string

	LLMProvider          string // openai | anthropic
	// LLMBaseURL and LLMModel fall back to the provider defaults when empty.
	LLMBaseURL           string
	LLMAPIKey            string
	LLMModel             string
	LLMTimeoutSec        int
	LLMTemperature       float64
	LLMMaxTokens         int
	LLMRequestsPerMinute int

	DownstreamURL        string
	DownstreamAPIKey     string
	DownstreamTimeoutSec int

	PipelineIntervalMinutes int
	PipelineCron            string
	PipelineTimezone        string
	PipelinePageSize        int
	PipelineMaxPages        int

	StoreRetryAttempts int
	StoreRetryBaseMS   int

	SessionStopTimeoutSec int
	SessionAutoStart      bool

	TelegramAPIEndpoint string
	GatewayURL          string
	IMAPPollSeconds     int
	IMAPTLSSkipVerify   bool

	HeartbeatEnabled     bool
	HeartbeatIntervalSec int
	HeartbeatStaleSec    int

	AdminAPIURL         string
	AdminHTTPTimeoutSec int
}

func FromEnv() Config {
	dataDir := stringOrDefault("LISTING_INTAKE_DATA_DIR", "/data")
	dbPath := stringOrDefault("LISTING_INTAKE_DB_PATH", filepath.Join(dataDir, "listing-intake", "meta.sqlite"))
	catalogPath := stringOrDefault("LISTING_INTAKE_CATALOG_PATH", filepath.Join(dataDir, "catalog.yaml"))

	return Config{
		Environment: stringOrDefault("LISTING_INTAKE_ENV", "development"),
		HTTPAddr:    stringOrDefault("LISTING_INTAKE_HTTP_ADDR", ":8080"),
		DataDir:     dataDir,
		DBPath:      dbPath,
		CatalogPath: catalogPath,

		LLMProvider:          strings.ToLower(stringOrDefault("LISTING_INTAKE_LLM_PROVIDER", "openai")),
		LLMBaseURL:           strings.TrimSpace(os.Getenv("LISTING_INTAKE_LLM_BASE_URL")),
		LLMAPIKey:            strings.TrimSpace(os.Getenv("LISTING_INTAKE_LLM_API_KEY")),
		LLMModel:             strings.TrimSpace(os.Getenv("LISTING_INTAKE_LLM_MODEL")),
		LLMTimeoutSec:        intOrDefault("LISTING_INTAKE_LLM_TIMEOUT_SECONDS", 60),
		LLMTemperature:       floatOrDefault("LISTING_INTAKE_LLM_TEMPERATURE", 0.1),
		LLMMaxTokens:         intOrDefault("LISTING_INTAKE_LLM_MAX_TOKENS", 1024),
		LLMRequestsPerMinute: intOrDefault("LISTING_INTAKE_LLM_REQUESTS_PER_MINUTE", 30),

		DownstreamURL:        strings.TrimSpace(os.Getenv("LISTING_INTAKE_DOWNSTREAM_URL")),
		DownstreamAPIKey:     strings.TrimSpace(os.Getenv("LISTING_INTAKE_DOWNSTREAM_API_KEY")),
		DownstreamTimeoutSec: intOrDefault("LISTING_INTAKE_DOWNSTREAM_TIMEOUT_SECONDS", 20),

		PipelineIntervalMinutes: nonNegativeIntOrDefault("LISTING_INTAKE_PIPELINE_INTERVAL_MINUTES", 0),
		PipelineCron:            strings.TrimSpace(os.Getenv("LISTING_INTAKE_PIPELINE_CRON")),
		PipelineTimezone:        stringOrDefault("LISTING_INTAKE_PIPELINE_TIMEZONE", "UTC"),
		PipelinePageSize:        intOrDefault("LISTING_INTAKE_PIPELINE_PAGE_SIZE", 20),
		PipelineMaxPages:        nonNegativeIntOrDefault("LISTING_INTAKE_PIPELINE_MAX_PAGES", 10),

		StoreRetryAttempts: intOrDefault("LISTING_INTAKE_STORE_RETRY_ATTEMPTS", 3),
		StoreRetryBaseMS:   intOrDefault("LISTING_INTAKE_STORE_RETRY_BASE_MS", 1000),

		SessionStopTimeoutSec: intOrDefault("LISTING_INTAKE_SESSION_STOP_TIMEOUT_SECONDS", 3),
		SessionAutoStart:      boolOrDefault("LISTING_INTAKE_SESSION_AUTOSTART", true),

		TelegramAPIEndpoint: stringOrDefault("LISTING_INTAKE_TELEGRAM_API_ENDPOINT", "https://api.telegram.org/bot%s/%s"),
		GatewayURL:          strings.TrimSpace(os.Getenv("LISTING_INTAKE_GATEWAY_URL")),
		IMAPPollSeconds:     intOrDefault("LISTING_INTAKE_IMAP_POLL_SECONDS", 60),
		IMAPTLSSkipVerify:   boolOrDefault("LISTING_INTAKE_IMAP_TLS_SKIP_VERIFY", false),

		HeartbeatEnabled:     boolOrDefault("LISTING_INTAKE_HEARTBEAT_ENABLED", true),
		HeartbeatIntervalSec: intOrDefault("LISTING_INTAKE_HEARTBEAT_INTERVAL_SECONDS", 30),
		HeartbeatStaleSec:    intOrDefault("LISTING_INTAKE_HEARTBEAT_STALE_SECONDS", 120),

		AdminAPIURL:         stringOrDefault("LISTING_INTAKE_ADMIN_API_URL", "http://127.0.0.1:8080"),
		AdminHTTPTimeoutSec: intOrDefault("LISTING_INTAKE_ADMIN_HTTP_TIMEOUT_SECONDS", 120),
	}
}

func stringOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

// nonNegativeIntOrDefault accepts 0, which several knobs use to mean "disabled".
func nonNegativeIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func boolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func floatOrDefault(name string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
