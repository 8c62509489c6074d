// Package config resolves settings through three layers, env-var
// defaults overridden by an optional on-disk JSON file overridden by a
// persisted settings table, generalizing the teacher's internal/config/
// config.go (env defaults + MergeFromDB) with the on-disk layer the
// distilled spec calls for.
package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cast"

	"github.com/mediaforge/mediaforge/internal/settings"
)

// Config is the full settings surface this service reads at startup
// and may refresh from the settings table at runtime.
type Config struct {
	Port        int
	DatabaseURL string
	DataDir     string // cache root, spec §4.A

	TMDBAPIKey     string
	TVDBAPIKey     string
	FanartTVAPIKey string

	MaxConcurrentScans     int
	MaxConcurrentDownloads int
	WorkerPollInterval     time.Duration

	ProviderRateLimitPerSec float64
	ProviderRateBurst       int

	DefaultScanIntervalSeconds int
	VerifyWindow               time.Duration
	CacheGraceDays             int
	DeleteGraceDays            int
}

// Load builds a Config from env vars, then overlays an optional
// on-disk JSON file named by CONFIG_FILE (spec §2 "env-var defaults
// with on-disk override").
func Load() *Config {
	c := &Config{
		Port:        envInt("PORT", 8080),
		DatabaseURL: env("DATABASE_URL", "postgres://mediaforge:mediaforge@db:5432/mediaforge?sslmode=disable"),
		DataDir:     env("DATA_DIR", "/data"),

		TMDBAPIKey:     env("TMDB_API_KEY", ""),
		TVDBAPIKey:     env("TVDB_API_KEY", ""),
		FanartTVAPIKey: env("FANARTTV_API_KEY", ""),

		MaxConcurrentScans:     envInt("MAX_CONCURRENT_SCANS", 4),
		MaxConcurrentDownloads: envInt("MAX_CONCURRENT_DOWNLOADS", 8),
		WorkerPollInterval:     envDuration("WORKER_POLL_INTERVAL", time.Second),

		ProviderRateLimitPerSec: envFloat("PROVIDER_RATE_LIMIT_PER_SEC", 4),
		ProviderRateBurst:       envInt("PROVIDER_RATE_BURST", 8),

		DefaultScanIntervalSeconds: envInt("DEFAULT_SCAN_INTERVAL_SECONDS", 6*60*60),
		VerifyWindow:               envDuration("VERIFY_WINDOW", 7*24*time.Hour),
		CacheGraceDays:             envInt("CACHE_GRACE_DAYS", 90),
		DeleteGraceDays:            envInt("DELETE_GRACE_DAYS", 30),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := c.mergeFromFile(path); err != nil {
			log.Printf("config: skipping file override %s: %v", path, err)
		}
	}

	return c
}

// mergeFromFile overlays any fields present in an on-disk JSON object,
// leaving env-derived values in place for keys the file omits.
func (c *Config) mergeFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var overrides map[string]interface{}
	if err := json.Unmarshal(data, &overrides); err != nil {
		return err
	}

	for key, val := range overrides {
		switch key {
		case "port":
			c.Port = cast.ToInt(val)
		case "database_url":
			c.DatabaseURL = cast.ToString(val)
		case "data_dir":
			c.DataDir = cast.ToString(val)
		case "tmdb_api_key":
			c.TMDBAPIKey = cast.ToString(val)
		case "tvdb_api_key":
			c.TVDBAPIKey = cast.ToString(val)
		case "fanarttv_api_key":
			c.FanartTVAPIKey = cast.ToString(val)
		case "max_concurrent_scans":
			c.MaxConcurrentScans = cast.ToInt(val)
		case "max_concurrent_downloads":
			c.MaxConcurrentDownloads = cast.ToInt(val)
		case "worker_poll_interval":
			c.WorkerPollInterval = cast.ToDuration(val)
		case "provider_rate_limit_per_sec":
			c.ProviderRateLimitPerSec = cast.ToFloat64(val)
		case "provider_rate_burst":
			c.ProviderRateBurst = cast.ToInt(val)
		case "default_scan_interval_seconds":
			c.DefaultScanIntervalSeconds = cast.ToInt(val)
		case "verify_window":
			c.VerifyWindow = cast.ToDuration(val)
		case "cache_grace_days":
			c.CacheGraceDays = cast.ToInt(val)
		case "delete_grace_days":
			c.DeleteGraceDays = cast.ToInt(val)
		}
	}
	return nil
}

// MergeFromDB overlays the persisted settings table on top of the
// env/file-derived values, mirroring the teacher's MergeFromDB but
// going through internal/settings.Repository rather than a raw query
// and using spf13/cast for the string-to-typed coercion instead of a
// switch of strconv calls per field.
func (c *Config) MergeFromDB(repo *settings.Repository) {
	all, err := repo.GetAll()
	if err != nil {
		log.Printf("config: skipping DB merge: %v", err)
		return
	}

	for _, setting := range all {
		switch setting.Key {
		case settings.KeyMaxConcurrentScans:
			c.MaxConcurrentScans = cast.ToInt(setting.Value)
		case settings.KeyMaxConcurrentDownloads:
			c.MaxConcurrentDownloads = cast.ToInt(setting.Value)
		case settings.KeyProviderRateLimitPerSec:
			c.ProviderRateLimitPerSec = cast.ToFloat64(setting.Value)
		case settings.KeyProviderRateBurst:
			c.ProviderRateBurst = cast.ToInt(setting.Value)
		case settings.KeyDefaultScanInterval:
			c.DefaultScanIntervalSeconds = cast.ToInt(setting.Value)
		case settings.KeyVerifyWindowHours:
			if hours := cast.ToInt(setting.Value); hours > 0 {
				c.VerifyWindow = time.Duration(hours) * time.Hour
			}
		case settings.KeyCacheGraceDays:
			c.CacheGraceDays = cast.ToInt(setting.Value)
		case settings.KeyDeleteGraceDays:
			c.DeleteGraceDays = cast.ToInt(setting.Value)
		}
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
