package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration loaded from env vars.
type Config struct {
	BotToken       string
	TelegramAPIURL string

	PixeldrainAPIKey string
	PixeldrainAPIURL string

	OwnerID         int64
	OwnerContactURL string
	AuthUserIDs     []int64

	DataDir     string
	DBPath      string
	DownloadDir string

	PollTimeout time.Duration

	MaxConcurrentUploads int64

	// UploadTimeout of zero disables the request timeout entirely, which is
	// the default: multi-gigabyte uploads may legitimately take hours.
	UploadTimeout    time.Duration
	ProgressInterval time.Duration
	ProgressMinSize  int64

	LogLevel string
}

// Load reads a .env file if present, then environment variables, and applies
// defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{}
	cfg.BotToken = strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	if cfg.BotToken == "" {
		return cfg, errors.New("BOT_TOKEN is required")
	}
	cfg.TelegramAPIURL = strings.TrimSpace(os.Getenv("TELEGRAM_API_URL"))
	if cfg.TelegramAPIURL == "" {
		cfg.TelegramAPIURL = "https://api.telegram.org"
	}

	cfg.PixeldrainAPIKey = strings.TrimSpace(os.Getenv("PIXELDRAIN_API_KEY"))
	if cfg.PixeldrainAPIKey == "" {
		return cfg, errors.New("PIXELDRAIN_API_KEY is required")
	}
	cfg.PixeldrainAPIURL = strings.TrimSpace(os.Getenv("PIXELDRAIN_API_URL"))
	if cfg.PixeldrainAPIURL == "" {
		cfg.PixeldrainAPIURL = "https://pixeldra.in"
	}

	cfg.OwnerID = parseInt64("OWNER_ID", 0)
	if cfg.OwnerID == 0 {
		return cfg, errors.New("OWNER_ID is required")
	}
	cfg.OwnerContactURL = strings.TrimSpace(os.Getenv("OWNER_CONTACT_URL"))
	cfg.AuthUserIDs = parseInt64List("AUTH_USER_IDS")

	cfg.DataDir = strings.TrimSpace(os.Getenv("DATA_DIR"))
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	cfg.DBPath = strings.TrimSpace(os.Getenv("DB_PATH"))
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "bot.db")
	}
	cfg.DownloadDir = strings.TrimSpace(os.Getenv("DOWNLOAD_DIR"))
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = filepath.Join(cfg.DataDir, "downloads")
	}

	cfg.PollTimeout = parseDuration("POLL_TIMEOUT", 30*time.Second)
	cfg.MaxConcurrentUploads = parseInt64("MAX_CONCURRENT_UPLOADS", 4)
	if cfg.MaxConcurrentUploads < 1 {
		cfg.MaxConcurrentUploads = 1
	}
	cfg.UploadTimeout = parseDuration("UPLOAD_TIMEOUT", 0)
	cfg.ProgressInterval = parseDuration("PROGRESS_INTERVAL", 5*time.Second)
	cfg.ProgressMinSize = parseInt64("PROGRESS_MIN_SIZE", 100*1024*1024)

	cfg.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

func parseInt64(key string, def int64) int64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func parseInt64List(key string) []int64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return nil
	}
	var out []int64
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		parsed, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, parsed)
	}
	return out
}

func parseDuration(key string, def time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return parsed
}
