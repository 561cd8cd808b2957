package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Timezone != "Asia/Jakarta" {
		t.Fatalf("expected Asia/Jakarta, got %q", cfg.Timezone)
	}
	if cfg.Archive.Backend != BackendMemory || cfg.UsePostgres() {
		t.Fatalf("expected memory archive and memory store by default")
	}
	if cfg.Geofence.BaseRadiusM != 15 || cfg.Geofence.AccuracyFactor != 1 || cfg.Geofence.MaxRadiusM != 100 {
		t.Fatalf("unexpected geofence defaults: %+v", cfg.Geofence)
	}
	if cfg.Scheduler.DailyExport.At != "00:05" || cfg.Scheduler.DailyExport.LookbackDays != 1 {
		t.Fatalf("unexpected daily export schedule: %+v", cfg.Scheduler.DailyExport)
	}
	if cfg.Scheduler.WeeklyCleanup.Weekday != "monday" || cfg.Scheduler.WeeklyCleanup.LookbackDays != 1 {
		t.Fatalf("unexpected weekly cleanup schedule: %+v", cfg.Scheduler.WeeklyCleanup)
	}
	if !cfg.Cleanup.PurgeAttachmentRecords {
		t.Fatalf("expected attachment rows to be purged by default")
	}
	if cfg.Jobs.RenderTimeout != 2*time.Minute || cfg.Jobs.UploadTimeout != 2*time.Minute {
		t.Fatalf("unexpected job timeouts: %+v", cfg.Jobs)
	}
	if cfg.Storage.MaxImageBytes != 5<<20 {
		t.Fatalf("expected 5MiB image limit, got %d", cfg.Storage.MaxImageBytes)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
logging:
  development: false
  level: debug
db:
  dsn: postgres://patrol@localhost/patrol
  max_conns: 4
storage:
  base_dir: /var/lib/patrol
archive:
  backend: gcs
  gcs:
    bucket: patrol-archive
    prefix: daily
pubsub:
  project_id: proj
  topic_name: archives
geofence:
  base_radius_m: 20
  accuracy_factor: 0.5
  max_radius_m: 60
scheduler:
  daily_export:
    at: "22:00"
  weekly_cleanup:
    weekday: sunday
    at: "23:30"
    lookback_days: 0
cleanup:
  purge_attachment_records: false
jobs:
  render_timeout: 30s
ratelimit:
  enabled: false
seed_users:
  - id: u1
    first_name: Budi
    last_name: Santoso
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if !cfg.UsePostgres() || cfg.DB.MaxConns != 4 {
		t.Fatalf("expected postgres overrides: %+v", cfg.DB)
	}
	if cfg.Archive.Backend != BackendGCS || cfg.Archive.GCS.Bucket != "patrol-archive" || cfg.Archive.GCS.Prefix != "daily" {
		t.Fatalf("expected gcs archive overrides: %+v", cfg.Archive)
	}
	if cfg.Geofence.MaxRadiusM != 60 || cfg.Geofence.AccuracyFactor != 0.5 {
		t.Fatalf("expected geofence overrides: %+v", cfg.Geofence)
	}
	if cfg.Scheduler.WeeklyCleanup.Weekday != "sunday" || cfg.Scheduler.WeeklyCleanup.LookbackDays != 0 {
		t.Fatalf("expected cleanup schedule overrides: %+v", cfg.Scheduler.WeeklyCleanup)
	}
	if cfg.Cleanup.PurgeAttachmentRecords {
		t.Fatalf("expected purge_attachment_records false")
	}
	if cfg.Jobs.RenderTimeout != 30*time.Second || cfg.Jobs.UploadTimeout != 2*time.Minute {
		t.Fatalf("expected render timeout override only: %+v", cfg.Jobs)
	}
	if cfg.RateLimit.Enabled {
		t.Fatalf("expected rate limiting disabled")
	}
	if len(cfg.SeedUsers) != 1 || cfg.SeedUsers[0].FirstName != "Budi" {
		t.Fatalf("expected one seed user: %+v", cfg.SeedUsers)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PATROL_SERVER_PORT", "7070")
	t.Setenv("PATROL_ARCHIVE_BACKEND", "drive")
	t.Setenv("PATROL_ARCHIVE_DRIVE_FOLDER_ID", "folder-1")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Archive.Backend != BackendDrive || cfg.Archive.Drive.FolderID != "folder-1" {
		t.Fatalf("expected drive backend from env: %+v", cfg.Archive)
	}
	if !cfg.Archive.Drive.ShareWithLink {
		t.Fatalf("expected share_with_link default true")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func validConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return cfg
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"missing base dir", func(c *Config) { c.Storage.BaseDir = "" }, "storage.base_dir"},
		{"unknown backend", func(c *Config) { c.Archive.Backend = "s3" }, "archive.backend"},
		{"gcs without bucket", func(c *Config) { c.Archive.Backend = BackendGCS }, "archive.gcs.bucket"},
		{"drive without folder", func(c *Config) { c.Archive.Backend = BackendDrive }, "archive.drive.folder_id"},
		{"half pubsub", func(c *Config) { c.PubSub.ProjectID = "proj" }, "pubsub.project_id"},
		{"zero radius", func(c *Config) { c.Geofence.BaseRadiusM = 0 }, "geofence.base_radius_m"},
		{"bad export time", func(c *Config) { c.Scheduler.DailyExport.At = "25:00" }, "scheduler.daily_export.at"},
		{"bad weekday", func(c *Config) { c.Scheduler.WeeklyCleanup.Weekday = "someday" }, "scheduler.weekly_cleanup.weekday"},
		{"negative lookback", func(c *Config) { c.Scheduler.WeeklyCleanup.LookbackDays = -1 }, "lookback_days"},
		{"zero render timeout", func(c *Config) { c.Jobs.RenderTimeout = 0 }, "jobs.render_timeout"},
		{"zero burst", func(c *Config) { c.RateLimit.Burst = 0 }, "ratelimit"},
		{"seed user without id", func(c *Config) { c.SeedUsers = []SeedUser{{FirstName: "x"}} }, "seed_users[0].id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig(t)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
