// Package config provides configuration management for plexbridge using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultHTTPPort             = 5004
	defaultDiscoveryPort        = 65001
	defaultServerTimeout        = 30 * time.Second
	defaultShutdownTimeout      = 10 * time.Second
	defaultMaxConcurrentStreams = 5
	defaultMaxPerChannel        = 1
	defaultIdleTimeout          = 30 * time.Second
	defaultConnectTimeout       = 5 * time.Second
	defaultDeferredStartMax     = 10 * time.Second
	defaultEncoderGrace         = 2 * time.Second
	defaultEPGTimeout           = 120 * time.Second
	defaultEPGMaxBody           = 100 * 1024 * 1024
	defaultEPGInterval          = "4h"
	defaultRetentionDays        = 7
	defaultEPGDays              = 7
	defaultAndroidEPGDays       = 2
)

// refreshIntervalPattern is the accepted EPG refresh interval grammar.
var refreshIntervalPattern = regexp.MustCompile(`^\d+[hmd]$`)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Streaming StreamingConfig `mapstructure:"streaming"`
	EPG       EPGConfig       `mapstructure:"epg"`
	Paths     PathsConfig     `mapstructure:"paths"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Device    DeviceConfig    `mapstructure:"device"`
}

// ServerConfig holds HTTP server and discovery configuration.
type ServerConfig struct {
	// AdvertisedHost is the host (and optional port) clients should use to
	// reach this bridge. Empty means derive from the request Host header.
	AdvertisedHost string        `mapstructure:"advertised_host"`
	Host           string        `mapstructure:"host"`
	HTTPPort       int           `mapstructure:"http_port"`
	DiscoveryPort  int           `mapstructure:"discovery_port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout of zero keeps long-lived stream responses open.
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StreamingConfig holds stream gateway configuration.
type StreamingConfig struct {
	MaxConcurrentStreams int           `mapstructure:"max_concurrent_streams"`
	MaxPerChannel        int           `mapstructure:"max_per_channel"`
	IdleTimeout          time.Duration `mapstructure:"idle_timeout"`
	ConnectTimeout       time.Duration `mapstructure:"connect_timeout"`
	DeferredStartMax     time.Duration `mapstructure:"deferred_start_max"`
	EncoderPath          string        `mapstructure:"encoder_path"`
	EncoderGrace         time.Duration `mapstructure:"encoder_grace"`
	// ReliabilityThreshold is the reliability score below which a stream is
	// always transcoded rather than passed through.
	ReliabilityThreshold float64 `mapstructure:"reliability_threshold"`
}

// EPGConfig holds EPG ingestion configuration.
type EPGConfig struct {
	DownloadTimeout        time.Duration `mapstructure:"download_timeout"`
	MaxBodyBytes           ByteSize      `mapstructure:"max_body_bytes"`
	RefreshDefaultInterval string        `mapstructure:"refresh_default_interval"`
	ProgramRetentionDays   int           `mapstructure:"program_retention_days"`
	GuideDays              int           `mapstructure:"guide_days"`
	AndroidGuideDays       int           `mapstructure:"android_guide_days"`
}

// PathsConfig holds filesystem layout configuration.
type PathsConfig struct {
	DataDir string `mapstructure:"data_dir"`
	DBPath  string `mapstructure:"db_path"`
	LogsDir string `mapstructure:"logs_dir"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	LogLevel string `mapstructure:"log_level"` // silent, error, warn, info
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// DeviceConfig holds HDHomeRun device identity configuration.
type DeviceConfig struct {
	FriendlyName string `mapstructure:"friendly_name"`
	Manufacturer string `mapstructure:"manufacturer"`
	ModelNumber  string `mapstructure:"model_number"`
	FirmwareName string `mapstructure:"firmware_name"`
	DeviceID     string `mapstructure:"device_id"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with PLEXBRIDGE_ using underscores for nesting
// (e.g. PLEXBRIDGE_SERVER_HTTP_PORT=5004). A handful of legacy unprefixed
// variables are honored for container deployments: ADVERTISED_HOST,
// DATA_PATH, DB_PATH, ENCODER_PATH.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/plexbridge")
	}

	v.SetEnvPrefix("PLEXBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Legacy aliases used by the container entrypoint.
	_ = v.BindEnv("server.advertised_host", "PLEXBRIDGE_SERVER_ADVERTISED_HOST", "ADVERTISED_HOST")
	_ = v.BindEnv("paths.data_dir", "PLEXBRIDGE_PATHS_DATA_DIR", "DATA_PATH")
	_ = v.BindEnv("paths.db_path", "PLEXBRIDGE_PATHS_DB_PATH", "DB_PATH")
	_ = v.BindEnv("streaming.encoder_path", "PLEXBRIDGE_STREAMING_ENCODER_PATH", "ENCODER_PATH")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file is fine; defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.advertised_host", "")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", defaultHTTPPort)
	v.SetDefault("server.discovery_port", defaultDiscoveryPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	// Streaming defaults
	v.SetDefault("streaming.max_concurrent_streams", defaultMaxConcurrentStreams)
	v.SetDefault("streaming.max_per_channel", defaultMaxPerChannel)
	v.SetDefault("streaming.idle_timeout", defaultIdleTimeout)
	v.SetDefault("streaming.connect_timeout", defaultConnectTimeout)
	v.SetDefault("streaming.deferred_start_max", defaultDeferredStartMax)
	v.SetDefault("streaming.encoder_path", "ffmpeg")
	v.SetDefault("streaming.encoder_grace", defaultEncoderGrace)
	v.SetDefault("streaming.reliability_threshold", 0.3)

	// EPG defaults
	v.SetDefault("epg.download_timeout", defaultEPGTimeout)
	v.SetDefault("epg.max_body_bytes", defaultEPGMaxBody)
	v.SetDefault("epg.refresh_default_interval", defaultEPGInterval)
	v.SetDefault("epg.program_retention_days", defaultRetentionDays)
	v.SetDefault("epg.guide_days", defaultEPGDays)
	v.SetDefault("epg.android_guide_days", defaultAndroidEPGDays)

	// Paths defaults
	v.SetDefault("paths.data_dir", "./data")
	v.SetDefault("paths.db_path", "")
	v.SetDefault("paths.logs_dir", "")

	// Database defaults
	v.SetDefault("database.log_level", "warn")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Device defaults
	v.SetDefault("device.friendly_name", "PlexBridge")
	v.SetDefault("device.manufacturer", "Silicondust")
	v.SetDefault("device.model_number", "HDTC-2US")
	v.SetDefault("device.firmware_name", "hdhomeruntc_atsc")
	v.SetDefault("device.device_id", "")
}

// Normalize substitutes safe defaults for sloppy input values rather than
// failing the process. Substitutions are reported by Warnings().
func (c *Config) Normalize() {
	if c.Streaming.MaxConcurrentStreams < 1 {
		c.Streaming.MaxConcurrentStreams = defaultMaxConcurrentStreams
	}
	if c.Streaming.MaxPerChannel < 1 {
		c.Streaming.MaxPerChannel = defaultMaxPerChannel
	}
	if c.Streaming.IdleTimeout <= 0 {
		c.Streaming.IdleTimeout = defaultIdleTimeout
	}
	if c.Streaming.ConnectTimeout <= 0 {
		c.Streaming.ConnectTimeout = defaultConnectTimeout
	}
	if c.Streaming.DeferredStartMax <= 0 {
		c.Streaming.DeferredStartMax = defaultDeferredStartMax
	}
	if c.Streaming.EncoderGrace <= 0 {
		c.Streaming.EncoderGrace = defaultEncoderGrace
	}
	if c.Streaming.ReliabilityThreshold < 0 || c.Streaming.ReliabilityThreshold > 1 {
		c.Streaming.ReliabilityThreshold = 0.3
	}
	if c.EPG.DownloadTimeout < defaultEPGTimeout {
		c.EPG.DownloadTimeout = defaultEPGTimeout
	}
	if c.EPG.MaxBodyBytes < defaultEPGMaxBody {
		c.EPG.MaxBodyBytes = defaultEPGMaxBody
	}
	if !refreshIntervalPattern.MatchString(c.EPG.RefreshDefaultInterval) {
		c.EPG.RefreshDefaultInterval = defaultEPGInterval
	}
	if c.EPG.ProgramRetentionDays < 1 {
		c.EPG.ProgramRetentionDays = defaultRetentionDays
	}
	if c.EPG.GuideDays < 1 {
		c.EPG.GuideDays = defaultEPGDays
	}
	if c.EPG.AndroidGuideDays < 1 {
		c.EPG.AndroidGuideDays = defaultAndroidEPGDays
	}
	if c.Paths.DBPath == "" {
		c.Paths.DBPath = c.Paths.DataDir + "/database/plexbridge.db"
	}
	if c.Paths.LogsDir == "" {
		c.Paths.LogsDir = c.Paths.DataDir + "/logs"
	}
}

// Validate checks the configuration for errors that cannot be substituted.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > maxPort {
		return fmt.Errorf("server.http_port must be between 1 and %d", maxPort)
	}
	if c.Server.DiscoveryPort < 1 || c.Server.DiscoveryPort > maxPort {
		return fmt.Errorf("server.discovery_port must be between 1 and %d", maxPort)
	}
	if c.Paths.DataDir == "" {
		return fmt.Errorf("paths.data_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Address returns the HTTP server bind address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// CachePath returns the on-disk cache directory.
func (c *PathsConfig) CachePath() string {
	return c.DataDir + "/cache"
}

// LogosPath returns the channel logo directory.
func (c *PathsConfig) LogosPath() string {
	return c.DataDir + "/logos"
}
