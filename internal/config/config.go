package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ListenAddr       string
	StoreMode        string
	DatabaseURL      string
	SQLitePath       string
	JWTSecret        string
	CredentialSecret string
	Timezone         string

	MonitorInterval time.Duration
	MonitorJitter   time.Duration
	MaxRetries      int
	BookingOpenTime string
	PromptTimeout   time.Duration

	LoginBaseURL   string
	OrgBaseURL     string
	BookingBaseURL string
	PayMarker      string

	TelegramBotToken string
	TelegramChatID   string

	WebhookURL        string
	WebhookTimeout    time.Duration
	WebhookMaxRetries int
	WebhookRetryBase  time.Duration
	WebhookRetryMax   time.Duration
}

func Load() Config {
	return Config{
		ListenAddr:       getEnv("LISTEN_ADDR", ":18080"),
		StoreMode:        getEnv("STORE_MODE", "sqlite"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		SQLitePath:       getEnv("SQLITE_PATH", "courtbot.db"),
		JWTSecret:        getEnv("JWT_SECRET", "change-this-secret"),
		CredentialSecret: getEnv("CREDENTIAL_SECRET", ""),
		Timezone:         getEnv("TIMEZONE", "Asia/Shanghai"),

		MonitorInterval: getDuration("MONITOR_INTERVAL", 30*time.Second),
		MonitorJitter:   getDuration("MONITOR_JITTER", 2*time.Second),
		MaxRetries:      getInt("MAX_RETRIES", 10),
		BookingOpenTime: getEnv("BOOKING_OPEN_TIME", "08:40:01"),
		PromptTimeout:   getDuration("PROMPT_TIMEOUT", 5*time.Minute),

		LoginBaseURL:   getEnv("LOGIN_BASE_URL", "https://login.xjtu.edu.cn"),
		OrgBaseURL:     getEnv("ORG_BASE_URL", "https://org.xjtu.edu.cn"),
		BookingBaseURL: getEnv("BOOKING_BASE_URL", "http://202.117.17.144:8080"),
		PayMarker:      getEnv("PAY_MARKER", "http://202.117.17.144:8071"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		WebhookURL:        getEnv("WEBHOOK_URL", ""),
		WebhookTimeout:    getDuration("WEBHOOK_TIMEOUT", 5*time.Second),
		WebhookMaxRetries: getInt("WEBHOOK_MAX_RETRIES", 3),
		WebhookRetryBase:  getDuration("WEBHOOK_RETRY_BASE", 500*time.Millisecond),
		WebhookRetryMax:   getDuration("WEBHOOK_RETRY_MAX", 5*time.Second),
	}
}

// Location resolves the configured timezone, falling back to the process
// local zone when the name is unknown.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
