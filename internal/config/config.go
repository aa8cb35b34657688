package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Storage back ends
const (
	StorageFile       = "file"
	StorageSQLite     = "sqlite"
	StorageClickHouse = "clickhouse"
	StorageS3         = "s3"
	StorageMock       = "mock"
)

// Config holds the application configuration
type Config struct {
	TelegramToken  string
	BotUsername    string
	AllowedUserIDs []int64 // empty means everyone

	// Worker pool size
	Threads int

	// Home directory with logs/, tmp/ and the state files
	Home string

	// Logging
	LogLevel     string
	LogFormat    string // "json" or "console"
	LogToStdout  bool
	LogToFile    bool
	LogDirectory string

	// Outbound HTTP
	ProxyURL        *url.URL
	HTTPTimeout     time.Duration
	MaxDownloadSize int64

	// Bot mode configuration
	WebhookMode bool   // If true, use webhook mode; if false, use polling mode
	WebhookURL  string // URL for webhook (required if WebhookMode is true)
	Port        string

	// Storage configuration
	StorageBackend string
	SQLitePath     string

	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseUseTLS   bool

	S3Bucket          string
	S3Endpoint        string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Prefix          string

	// External services
	VkToken           string
	WhatAnimeToken    string
	WhatAnimeEndpoint string
	IqdbEndpoint      string

	// Resources
	SoundsFile   string
	CodfishVideo string
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	config := &Config{}

	// Telegram Bot Token and username (required)
	config.TelegramToken = os.Getenv("BOT_TOKEN")
	if config.TelegramToken == "" {
		return nil, fmt.Errorf("BOT_TOKEN is required")
	}
	config.BotUsername = strings.TrimPrefix(os.Getenv("BOT_USERNAME"), "@")
	if config.BotUsername == "" {
		return nil, fmt.Errorf("BOT_USERNAME is required")
	}

	// Allowed User IDs (optional)
	if allowedIDsStr := os.Getenv("ALLOWED_USER_IDS"); allowedIDsStr != "" {
		for _, idStr := range strings.Split(allowedIDsStr, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID in ALLOWED_USER_IDS: %s", idStr)
			}
			config.AllowedUserIDs = append(config.AllowedUserIDs, id)
		}
	}

	threads, err := getEnvInt("BOT_THREADS", 16)
	if err != nil {
		return nil, err
	}
	if threads <= 0 {
		return nil, fmt.Errorf("BOT_THREADS must be > 0")
	}
	config.Threads = threads

	config.Home = getEnv("BOT_HOME", "")
	if config.Home == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("BOT_HOME is not set and home directory is unknown: %w", err)
		}
		config.Home = filepath.Join(home, ".pod042-bot")
	}

	config.LogLevel = getEnv("BOT_LOG_LEVEL", "info")
	config.LogFormat = getEnv("BOT_LOG_FORMAT", "console")
	if config.LogFormat != "console" && config.LogFormat != "json" {
		return nil, fmt.Errorf("BOT_LOG_FORMAT must be console or json, got %q", config.LogFormat)
	}
	// Both sinks are on unless the *_DISABLE variable is declared
	_, stdoutOff := os.LookupEnv("LOG_TO_STDOUT_DISABLE")
	_, fileOff := os.LookupEnv("LOG_TO_FILE_DISABLE")
	config.LogToStdout = !stdoutOff
	config.LogToFile = !fileOff
	config.LogDirectory = filepath.Join(config.Home, "logs")

	if proxy := os.Getenv("BOT_PROXY"); proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid BOT_PROXY: %q", proxy)
		}
		config.ProxyURL = u
	}

	timeout, err := getEnvDuration("HTTP_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	config.HTTPTimeout = timeout

	maxSize, err := getEnvInt("MAX_DOWNLOAD_SIZE", 20*1024*1024)
	if err != nil {
		return nil, err
	}
	config.MaxDownloadSize = int64(maxSize)

	// Bot mode configuration
	config.WebhookMode = os.Getenv("WEBHOOK_MODE") == "true"
	if config.WebhookMode {
		config.WebhookURL = os.Getenv("WEBHOOK_URL")
		if config.WebhookURL == "" {
			return nil, fmt.Errorf("WEBHOOK_URL is required when WEBHOOK_MODE is true")
		}
	}
	config.Port = getEnv("PORT", "8080")

	if err := config.loadStorage(); err != nil {
		return nil, err
	}

	config.VkToken = os.Getenv("VK_TOKEN")
	config.WhatAnimeToken = os.Getenv("WHATANIME_TOKEN")
	config.WhatAnimeEndpoint = getEnv("WHATANIME_ENDPOINT", "https://whatanime.ga")
	config.IqdbEndpoint = getEnv("IQDB_ENDPOINT", "https://iqdb.org")

	config.SoundsFile = getEnv("SOUNDS_FILE", filepath.Join(config.Home, "sounds.json"))
	config.CodfishVideo = getEnv("CODFISH_VIDEO", filepath.Join(config.Home, "resources", "codfish.mp4"))

	return config, nil
}

func (c *Config) loadStorage() error {
	c.StorageBackend = getEnv("STORAGE_BACKEND", StorageFile)

	switch c.StorageBackend {
	case StorageFile, StorageMock:
	case StorageSQLite:
		c.SQLitePath = getEnv("SQLITE_PATH", filepath.Join(c.Home, "state.db"))
	case StorageClickHouse:
		c.ClickHouseHost = os.Getenv("CLICKHOUSE_HOST")
		if c.ClickHouseHost == "" {
			return fmt.Errorf("CLICKHOUSE_HOST is required when STORAGE_BACKEND is clickhouse")
		}

		port, err := getEnvInt("CLICKHOUSE_PORT", 9000) // Default ClickHouse native port
		if err != nil {
			return err
		}
		c.ClickHousePort = port

		c.ClickHouseDatabase = getEnv("CLICKHOUSE_DATABASE", "default")
		c.ClickHouseUser = getEnv("CLICKHOUSE_USER", "default")
		// Password is optional, can be empty
		c.ClickHousePassword = os.Getenv("CLICKHOUSE_PASSWORD")
		c.ClickHouseUseTLS = os.Getenv("CLICKHOUSE_USE_TLS") == "true"
	case StorageS3:
		c.S3Bucket = os.Getenv("S3_BUCKET")
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND is s3")
		}
		c.S3AccessKeyID = os.Getenv("S3_ACCESS_KEY_ID")
		c.S3SecretAccessKey = os.Getenv("S3_SECRET_ACCESS_KEY")
		if c.S3AccessKeyID == "" || c.S3SecretAccessKey == "" {
			return fmt.Errorf("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY are required when STORAGE_BACKEND is s3")
		}
		c.S3Endpoint = os.Getenv("S3_ENDPOINT")
		c.S3Region = getEnv("S3_REGION", "auto")
		c.S3Prefix = getEnv("S3_PREFIX", "pod042")
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
