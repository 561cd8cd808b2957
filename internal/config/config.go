// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/patrol-reporter/internal/scheduler"
)

// Archive backends.
const (
	BackendMemory = "memory"
	BackendGCS    = "gcs"
	BackendDrive  = "drive"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Timezone  string          `mapstructure:"timezone"`
	DB        DBConfig        `mapstructure:"db"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Geofence  GeofenceConfig  `mapstructure:"geofence"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	// SeedUsers are loaded into the in-memory store; ignored with Postgres.
	SeedUsers []SeedUser `mapstructure:"seed_users"`
}

// SeedUser is a patrol officer preloaded for local development.
type SeedUser struct {
	ID        string `mapstructure:"id"`
	FirstName string `mapstructure:"first_name"`
	LastName  string `mapstructure:"last_name"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles for admin routes.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DBConfig controls access to Postgres. An empty DSN selects the in-memory store.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// StorageConfig sets local paths for uploaded images and rendered exports.
type StorageConfig struct {
	BaseDir       string `mapstructure:"base_dir"`
	ImagesDir     string `mapstructure:"images_dir"`
	PDFDir        string `mapstructure:"pdf_dir"`
	MaxImageBytes int64  `mapstructure:"max_image_bytes"`
}

// ArchiveConfig selects where daily exports are uploaded.
type ArchiveConfig struct {
	Backend string      `mapstructure:"backend"`
	GCS     GCSConfig   `mapstructure:"gcs"`
	Drive   DriveConfig `mapstructure:"drive"`
}

// GCSConfig configures the Cloud Storage backend.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// DriveConfig configures the Google Drive backend.
type DriveConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	FolderID        string `mapstructure:"folder_id"`
	ShareWithLink   bool   `mapstructure:"share_with_link"`
}

// PubSubConfig holds the topic that receives archive events. Empty disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// GeofenceConfig tunes the accuracy-widened radius.
type GeofenceConfig struct {
	BaseRadiusM    float64 `mapstructure:"base_radius_m"`
	AccuracyFactor float64 `mapstructure:"accuracy_factor"`
	MaxRadiusM     float64 `mapstructure:"max_radius_m"`
}

// SchedulerConfig places the two batch jobs on the wall clock.
type SchedulerConfig struct {
	Enabled       bool           `mapstructure:"enabled"`
	DailyExport   ScheduleConfig `mapstructure:"daily_export"`
	WeeklyCleanup ScheduleConfig `mapstructure:"weekly_cleanup"`
}

// ScheduleConfig is one job's firing time. LookbackDays shifts the processed
// day or week back from the fire time.
type ScheduleConfig struct {
	At           string `mapstructure:"at"`
	Weekday      string `mapstructure:"weekday"`
	LookbackDays int    `mapstructure:"lookback_days"`
}

// CleanupConfig controls what the weekly cleanup does with attachment rows.
type CleanupConfig struct {
	PurgeAttachmentRecords bool `mapstructure:"purge_attachment_records"`
}

// JobsConfig bounds the slow steps of the daily export.
type JobsConfig struct {
	RenderTimeout time.Duration `mapstructure:"render_timeout"`
	UploadTimeout time.Duration `mapstructure:"upload_timeout"`
}

// RateLimitConfig limits report submissions per client.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PATROL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("timezone", "Asia/Jakarta")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("db.auto_migrate", true)
	v.SetDefault("storage.base_dir", "uploads")
	v.SetDefault("storage.images_dir", "report-images")
	v.SetDefault("storage.pdf_dir", "report-pdf")
	v.SetDefault("storage.max_image_bytes", 5<<20)
	v.SetDefault("archive.backend", BackendMemory)
	v.SetDefault("archive.gcs.bucket", "")
	v.SetDefault("archive.gcs.prefix", "patrol-reports")
	v.SetDefault("archive.drive.credentials_file", "")
	v.SetDefault("archive.drive.folder_id", "")
	v.SetDefault("archive.drive.share_with_link", true)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("geofence.base_radius_m", 15.0)
	v.SetDefault("geofence.accuracy_factor", 1.0)
	v.SetDefault("geofence.max_radius_m", 100.0)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.daily_export.at", "00:05")
	v.SetDefault("scheduler.daily_export.lookback_days", 1)
	v.SetDefault("scheduler.weekly_cleanup.weekday", "monday")
	v.SetDefault("scheduler.weekly_cleanup.at", "00:30")
	v.SetDefault("scheduler.weekly_cleanup.lookback_days", 1)
	v.SetDefault("cleanup.purge_attachment_records", true)
	v.SetDefault("jobs.render_timeout", 2*time.Minute)
	v.SetDefault("jobs.upload_timeout", 2*time.Minute)
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.rps", 0.5)
	v.SetDefault("ratelimit.burst", 3)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	if c.Storage.BaseDir == "" {
		errs = append(errs, errors.New("storage.base_dir is required"))
	}
	if c.Storage.MaxImageBytes <= 0 {
		errs = append(errs, errors.New("storage.max_image_bytes must be > 0"))
	}
	switch c.Archive.Backend {
	case BackendMemory:
	case BackendGCS:
		if c.Archive.GCS.Bucket == "" {
			errs = append(errs, errors.New("archive.gcs.bucket is required for the gcs backend"))
		}
	case BackendDrive:
		if c.Archive.Drive.FolderID == "" {
			errs = append(errs, errors.New("archive.drive.folder_id is required for the drive backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.backend %q must be one of memory, gcs, drive", c.Archive.Backend))
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		errs = append(errs, errors.New("pubsub.project_id and pubsub.topic_name must be set together"))
	}
	if c.Geofence.BaseRadiusM <= 0 {
		errs = append(errs, errors.New("geofence.base_radius_m must be > 0"))
	}
	if c.Geofence.AccuracyFactor < 0 {
		errs = append(errs, errors.New("geofence.accuracy_factor must be >= 0"))
	}
	if c.Geofence.MaxRadiusM < 0 {
		errs = append(errs, errors.New("geofence.max_radius_m must be >= 0"))
	}
	if _, _, err := scheduler.ParseClock(c.Scheduler.DailyExport.At); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.daily_export.at: %w", err))
	}
	if _, _, err := scheduler.ParseClock(c.Scheduler.WeeklyCleanup.At); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.weekly_cleanup.at: %w", err))
	}
	if _, err := scheduler.ParseWeekday(c.Scheduler.WeeklyCleanup.Weekday); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.weekly_cleanup.weekday: %w", err))
	}
	if c.Scheduler.DailyExport.LookbackDays < 0 || c.Scheduler.WeeklyCleanup.LookbackDays < 0 {
		errs = append(errs, errors.New("scheduler lookback_days must be >= 0"))
	}
	if c.Jobs.RenderTimeout <= 0 || c.Jobs.UploadTimeout <= 0 {
		errs = append(errs, errors.New("jobs.render_timeout and jobs.upload_timeout must be > 0"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("ratelimit.rps and ratelimit.burst must be > 0 when enabled"))
	}
	for i, u := range c.SeedUsers {
		if strings.TrimSpace(u.ID) == "" {
			errs = append(errs, fmt.Errorf("seed_users[%d].id is required", i))
		}
	}
	return errors.Join(errs...)
}

// UsePostgres reports whether a database DSN is configured.
func (c Config) UsePostgres() bool {
	return strings.TrimSpace(c.DB.DSN) != ""
}
