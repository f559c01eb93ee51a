package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration shared by the bot and worker binaries.
type Config struct {
	BotToken          string
	APIEndpoint       string // optional local Bot API server, e.g. http://localhost:8081/bot%s/%s
	DataDir           string
	Concurrency       int
	MaxRateRetries    int
	AdminIDs          []int64
	AdminDumpChat     int64
	AdminLogChat      int64
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	StatsBackend      string // sqlite|redis
	SettingsBackend   string // memory|redis
	FanoutMode        string // inline|asynq
	FFmpegBin         string
	HealthAddr        string
	DispatchYield     time.Duration
	DispatchGrace     time.Duration
	StatusThrottle    time.Duration
	WorkerConcurrency int
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func mustInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func mustInt64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
	}
	return def
}

func mustDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}

func parseIDs(s string) []int64 {
	var ids []int64
	for _, p := range strings.Split(s, ",") {
		if x, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64); err == nil {
			ids = append(ids, x)
		}
	}
	return ids
}

// Load reads .env (if present) and the process environment.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() Config {
	return Config{
		BotToken:          os.Getenv("BOT_TOKEN"),
		APIEndpoint:       getenv("TELEGRAM_API_ENDPOINT", ""),
		DataDir:           getenv("DATA_DIR", "work"),
		Concurrency:       mustInt("CONCURRENCY", 5),
		MaxRateRetries:    mustInt("MAX_RATE_LIMIT_RETRIES", 5),
		AdminIDs:          parseIDs(os.Getenv("ADMIN_IDS")),
		AdminDumpChat:     mustInt64("ADMIN_DUMP_CHAT", 0),
		AdminLogChat:      mustInt64("ADMIN_LOG_CHAT", 0),
		RedisAddr:         getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           mustInt("REDIS_DB", 0),
		StatsBackend:      strings.ToLower(getenv("STATS_BACKEND", "sqlite")),
		SettingsBackend:   strings.ToLower(getenv("SETTINGS_BACKEND", "memory")),
		FanoutMode:        strings.ToLower(getenv("FANOUT_MODE", "inline")),
		FFmpegBin:         getenv("FFMPEG_BIN", "ffmpeg"),
		HealthAddr:        getenv("HEALTH_ADDR", ":8080"),
		DispatchYield:     mustDuration("DISPATCH_YIELD", 100*time.Millisecond),
		DispatchGrace:     mustDuration("DISPATCH_GRACE", 200*time.Millisecond),
		StatusThrottle:    mustDuration("STATUS_THROTTLE", 500*time.Millisecond),
		WorkerConcurrency: mustInt("WORKER_CONCURRENCY", 2),
	}
}

// Validate rejects settings the binaries cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.BotToken == "" {
		errs = append(errs, errors.New("BOT_TOKEN is required"))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("CONCURRENCY must be >= 1, got %d", c.Concurrency))
	}
	if c.MaxRateRetries < 0 {
		errs = append(errs, fmt.Errorf("MAX_RATE_LIMIT_RETRIES must be >= 0, got %d", c.MaxRateRetries))
	}
	switch c.StatsBackend {
	case "sqlite", "redis":
	default:
		errs = append(errs, fmt.Errorf("STATS_BACKEND must be sqlite or redis, got %q", c.StatsBackend))
	}
	switch c.SettingsBackend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("SETTINGS_BACKEND must be memory or redis, got %q", c.SettingsBackend))
	}
	switch c.FanoutMode {
	case "inline", "asynq":
	default:
		errs = append(errs, fmt.Errorf("FANOUT_MODE must be inline or asynq, got %q", c.FanoutMode))
	}
	return errors.Join(errs...)
}

func (c Config) ThumbDir() string { return filepath.Join(c.DataDir, "thumbs") }
func (c Config) TempDir() string  { return filepath.Join(c.DataDir, "temp") }
func (c Config) OutDir() string   { return filepath.Join(c.DataDir, "out") }
func (c Config) StatsDB() string  { return filepath.Join(c.DataDir, "bot_stats.db") }

// EnsureDirectories creates the thumbs, temp and out directories.
func (c Config) EnsureDirectories() error {
	for _, d := range []string{c.ThumbDir(), c.TempDir(), c.OutDir()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// IsAdmin reports whether uid is on the static allow-list.
func (c Config) IsAdmin(uid int64) bool {
	for _, id := range c.AdminIDs {
		if id == uid {
			return true
		}
	}
	return false
}

// UsesRedis reports whether any backend needs a Redis connection.
func (c Config) UsesRedis() bool {
	return c.StatsBackend == "redis" || c.SettingsBackend == "redis" || c.FanoutMode == "asynq"
}
