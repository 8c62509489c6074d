package settings

import "time"

// Keys are the settings table's admin-adjustable overlay on top of
// internal/config's env/file-derived defaults (spec §2 "a MergeFromDB
// pass reading a settings key/value table").
const (
	KeyMaxConcurrentScans     = "max_concurrent_scans"
	KeyMaxConcurrentDownloads = "max_concurrent_downloads"
	KeyProviderRateLimitPerSec = "provider_rate_limit_per_sec"
	KeyProviderRateBurst      = "provider_rate_burst"
	KeyDefaultScanInterval    = "default_scan_interval_seconds"
	KeyVerifyWindowHours      = "verify_window_hours"
	KeyCacheGraceDays         = "cache_grace_days"
	KeyDeleteGraceDays        = "delete_grace_days"
)

type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
