package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/mediaforge/mediaforge/internal/settings"
)

func TestLoad_UsesEnvDefaultsWhenUnset(t *testing.T) {
	t.Setenv("DATA_DIR", "")
	t.Setenv("CONFIG_FILE", "")

	c := Load()

	if c.DataDir != "/data" {
		t.Fatalf("expected default data dir /data, got %s", c.DataDir)
	}
	if c.MaxConcurrentScans != 4 {
		t.Fatalf("expected default MaxConcurrentScans 4, got %d", c.MaxConcurrentScans)
	}
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_SCANS", "9")
	t.Setenv("CONFIG_FILE", "")

	c := Load()

	if c.MaxConcurrentScans != 9 {
		t.Fatalf("expected MaxConcurrentScans 9 from env, got %d", c.MaxConcurrentScans)
	}
}

func TestLoad_FileOverridesEnv(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_SCANS", "9")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data, _ := json.Marshal(map[string]interface{}{
		"max_concurrent_scans": 2,
		"tmdb_api_key":         "file-key",
	})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	c := Load()

	if c.MaxConcurrentScans != 2 {
		t.Fatalf("expected file override to win, got %d", c.MaxConcurrentScans)
	}
	if c.TMDBAPIKey != "file-key" {
		t.Fatalf("expected tmdb api key from file, got %q", c.TMDBAPIKey)
	}
}

func TestMergeFromDB_CoercesVerifyWindowHoursToDuration(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT key, value, updated_at FROM settings").
		WillReturnRows(sqlmock.NewRows([]string{"key", "value", "updated_at"}).
			AddRow("verify_window_hours", "48", time.Now()).
			AddRow("max_concurrent_scans", "6", time.Now()))

	c := Load()
	c.MergeFromDB(settings.NewRepository(db))

	if c.VerifyWindow != 48*time.Hour {
		t.Fatalf("expected VerifyWindow 48h, got %v", c.VerifyWindow)
	}
	if c.MaxConcurrentScans != 6 {
		t.Fatalf("expected MaxConcurrentScans 6, got %d", c.MaxConcurrentScans)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
