// Package config loads application settings from a config file,
// environment variables, and defaults, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// envPrefix makes every setting overridable as SKETCHSYNC_<KEY>.
const envPrefix = "SKETCHSYNC"

// Config holds all application settings.
type Config struct {
	// DBPath is the SQLite database location.
	DBPath string `mapstructure:"db_path"`

	// RemoteDir is the repository directory holding diagram files.
	RemoteDir string `mapstructure:"remote_dir"`

	// FileSuffix is the diagram file extension.
	FileSuffix string `mapstructure:"file_suffix"`

	// PollInterval is the time between background sync cycles.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// RetryAttempts is the rate-limit retry budget per request.
	RetryAttempts int `mapstructure:"retry_attempts"`

	// RetryBaseDelay is the first rate-limit backoff delay.
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`

	// DashboardPort is the WebSocket event server port.
	DashboardPort int `mapstructure:"dashboard_port"`

	// LogFile, when set, routes logs to a rotating file instead of
	// stderr.
	LogFile string `mapstructure:"log_file"`

	// MirrorDir is where diagram files are mirrored for editing.
	MirrorDir string `mapstructure:"mirror_dir"`
}

// Load reads configuration. cfgFile may be empty, in which case
// sketchsync.yaml is searched in the working directory and in
// ~/.sketchsync/.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	appDir := filepath.Join(home, ".sketchsync")

	v.SetDefault("db_path", filepath.Join(appDir, "sketchsync.db"))
	v.SetDefault("remote_dir", "diagrams")
	v.SetDefault("file_suffix", ".mmd")
	v.SetDefault("poll_interval", 5*time.Minute)
	v.SetDefault("retry_attempts", 3)
	v.SetDefault("retry_base_delay", time.Second)
	v.SetDefault("dashboard_port", 8321)
	v.SetDefault("log_file", "")
	v.SetDefault("mirror_dir", filepath.Join(appDir, "mirror"))

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("sketchsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(appDir)
		if err := v.ReadInConfig(); err != nil {
			// Running without a config file is normal.
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// NewLogger builds a component logger honoring LogFile. With a log file
// configured, output rotates at 10MB keeping 3 backups.
func (c *Config) NewLogger(prefix string) *log.Logger {
	var w io.Writer = os.Stderr
	if c.LogFile != "" {
		w = &lumberjack.Logger{
			Filename:   c.LogFile,
			MaxSize:    10,
			MaxBackups: 3,
			Compress:   true,
		}
	}
	return log.New(w, prefix, log.LstdFlags)
}
