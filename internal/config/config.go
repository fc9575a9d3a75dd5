package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Vibe       VibeConfig       `yaml:"vibe" mapstructure:"vibe"`
	Surfside   SurfsideConfig   `yaml:"surfside" mapstructure:"surfside"`
	Notify     NotifyConfig     `yaml:"notify" mapstructure:"notify"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Recovery   RecoveryConfig   `yaml:"recovery" mapstructure:"recovery"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the Postgres pool.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns" validate:"gte=0"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns" validate:"gte=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port" validate:"gt=0,lte=65535"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// IngestConfig configures the load pipeline.
type IngestConfig struct {
	FallbackRate         float64 `yaml:"fallback_rate" mapstructure:"fallback_rate" validate:"gt=0"`
	Currency             string  `yaml:"currency" mapstructure:"currency" validate:"len=3"`
	StagingRetentionDays int     `yaml:"staging_retention_days" mapstructure:"staging_retention_days" validate:"gt=0"`
	UploadDir            string  `yaml:"upload_dir" mapstructure:"upload_dir" validate:"required"`
	Concurrency          int     `yaml:"concurrency" mapstructure:"concurrency" validate:"gt=0"`
	ValidationPreview    int     `yaml:"validation_preview" mapstructure:"validation_preview" validate:"gte=0"`
}

// StagingRetention returns the staging purge window.
func (c IngestConfig) StagingRetention() time.Duration {
	return time.Duration(c.StagingRetentionDays) * 24 * time.Hour
}

// VibeConfig configures the report API source.
type VibeConfig struct {
	BaseURL         string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	APIKey          string `yaml:"api_key" mapstructure:"api_key"`
	AdvertiserID    string `yaml:"advertiser_id" mapstructure:"advertiser_id"`
	RequestsPerHour int    `yaml:"requests_per_hour" mapstructure:"requests_per_hour" validate:"gt=0"`
	PollInitialSecs int    `yaml:"poll_initial_secs" mapstructure:"poll_initial_secs" validate:"gt=0"`
	PollCapSecs     int    `yaml:"poll_cap_secs" mapstructure:"poll_cap_secs" validate:"gtefield=PollInitialSecs"`
	TimeoutSecs     int    `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gt=0"`
}

// SurfsideConfig configures the file-drop source. The bucket or FTP URL is
// checked when the source is built, so commands that never touch it run
// without one.
type SurfsideConfig struct {
	Transport   string `yaml:"transport" mapstructure:"transport" validate:"oneof=s3 ftp"`
	S3Bucket    string `yaml:"s3_bucket" mapstructure:"s3_bucket"`
	S3Region    string `yaml:"s3_region" mapstructure:"s3_region"`
	S3Prefix    string `yaml:"s3_prefix" mapstructure:"s3_prefix"`
	FTPURL      string `yaml:"ftp_url" mapstructure:"ftp_url"`
	FTPUser     string `yaml:"ftp_user" mapstructure:"ftp_user"`
	FTPPassword string `yaml:"ftp_password" mapstructure:"ftp_password"`
}

// NotifyConfig configures failure notifications. Both sinks are optional.
type NotifyConfig struct {
	WebhookURL  string   `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
	SESRegion   string   `yaml:"ses_region" mapstructure:"ses_region"`
	SESFrom     string   `yaml:"ses_from" mapstructure:"ses_from" validate:"omitempty,email"`
	AdminEmails []string `yaml:"admin_emails" mapstructure:"admin_emails" validate:"dive,email"`
}

// ScheduleConfig holds cron specs (six fields, leading seconds).
type ScheduleConfig struct {
	Timezone             string `yaml:"timezone" mapstructure:"timezone" validate:"required"`
	DailyIngest          string `yaml:"daily_ingest" mapstructure:"daily_ingest" validate:"required"`
	WeeklyAggregate      string `yaml:"weekly_aggregate" mapstructure:"weekly_aggregate" validate:"required"`
	MonthlyAggregate     string `yaml:"monthly_aggregate" mapstructure:"monthly_aggregate" validate:"required"`
	RecoveryIntervalSecs int    `yaml:"recovery_interval_secs" mapstructure:"recovery_interval_secs" validate:"gt=0"`
}

// RecoveryConfig configures the stuck-run monitor.
type RecoveryConfig struct {
	StaleAfterMins          int `yaml:"stale_after_mins" mapstructure:"stale_after_mins" validate:"gt=0"`
	ScheduledStaleAfterMins int `yaml:"scheduled_stale_after_mins" mapstructure:"scheduled_stale_after_mins" validate:"gt=0"`
}

// MonitoringConfig configures run-health alerting.
type MonitoringConfig struct {
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs" validate:"gte=0"`
	LookbackHours        int     `yaml:"lookback_hours" mapstructure:"lookback_hours" validate:"gt=0"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold" validate:"gte=0,lte=1"`
	UnresolvedThreshold  int     `yaml:"unresolved_threshold" mapstructure:"unresolved_threshold" validate:"gte=0"`
}

func setDefaults(v *viper.Viper) {
	// Empty defaults register keys so AutomaticEnv can fill them on Unmarshal.
	for _, key := range []string{
		"store.database_url", "vibe.api_key", "vibe.advertiser_id",
		"surfside.s3_bucket", "surfside.s3_prefix", "surfside.ftp_url",
		"surfside.ftp_user", "surfside.ftp_password",
		"notify.webhook_url", "notify.ses_from",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("notify.admin_emails", []string{})
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("ingest.fallback_rate", 10.0)
	v.SetDefault("ingest.currency", "USD")
	v.SetDefault("ingest.staging_retention_days", 30)
	v.SetDefault("ingest.upload_dir", "uploads")
	v.SetDefault("ingest.concurrency", 4)
	v.SetDefault("ingest.validation_preview", 10)
	v.SetDefault("vibe.base_url", "https://clear-platform.vibe.co")
	v.SetDefault("vibe.requests_per_hour", 15)
	v.SetDefault("vibe.poll_initial_secs", 30)
	v.SetDefault("vibe.poll_cap_secs", 120)
	v.SetDefault("vibe.timeout_secs", 600)
	v.SetDefault("surfside.transport", "s3")
	v.SetDefault("surfside.s3_region", "us-east-1")
	v.SetDefault("notify.ses_region", "us-east-1")
	v.SetDefault("schedule.timezone", "America/New_York")
	v.SetDefault("schedule.daily_ingest", "0 30 3 * * *")
	v.SetDefault("schedule.weekly_aggregate", "0 0 5 * * 1")
	v.SetDefault("schedule.monthly_aggregate", "0 0 5 1 * *")
	v.SetDefault("schedule.recovery_interval_secs", 300)
	v.SetDefault("recovery.stale_after_mins", 30)
	v.SetDefault("recovery.scheduled_stale_after_mins", 120)
	v.SetDefault("monitoring.check_interval_secs", 900)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.unresolved_threshold", 5)
}

// Load reads configuration from an optional .env, config.yaml and the
// MEDIA_ETL_* environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("MEDIA_ETL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return eris.Wrap(err, "config: validate")
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return eris.Wrapf(err, "config: schedule timezone %q", c.Schedule.Timezone)
	}
	if c.Store.MinConns > c.Store.MaxConns && c.Store.MaxConns > 0 {
		return eris.Errorf("config: store.min_conns %d exceeds max_conns %d", c.Store.MinConns, c.Store.MaxConns)
	}
	return nil
}

// RequireDatabase reports a missing database URL.
func (c *Config) RequireDatabase() error {
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required (set MEDIA_ETL_STORE_DATABASE_URL)")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
