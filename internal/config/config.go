// Package config loads application configuration from defaults, an optional
// YAML file, and environment variables, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DBPath         string        `mapstructure:"db_path"`
	PrefsPath      string        `mapstructure:"prefs_path"`
	LogPath        string        `mapstructure:"log_path"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
	ScanTimeout    time.Duration `mapstructure:"scan_timeout"`
	ActivityType   string        `mapstructure:"activity_type"`
	Simulate       bool          `mapstructure:"simulate"`
}

// Load reads configuration. configFile may be empty, in which case only the
// default search path (~/.happyrunner/config.yaml) is consulted and a missing
// file is not an error.
func Load(configFile string) (Config, error) {
	v := viper.New()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	baseDir := filepath.Join(homeDir, ".happyrunner")

	v.SetDefault("db_path", filepath.Join(baseDir, "happyrunner.db"))
	v.SetDefault("prefs_path", filepath.Join(baseDir, "prefs.json"))
	v.SetDefault("log_path", filepath.Join(baseDir, "happyrunner.log"))
	v.SetDefault("sample_interval", 3*time.Second)
	v.SetDefault("scan_timeout", 30*time.Second)
	v.SetDefault("activity_type", "running")
	v.SetDefault("simulate", false)

	v.SetEnvPrefix("HAPPYRUNNER")
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(baseDir)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.SampleInterval <= 0 {
		return Config{}, fmt.Errorf("sample_interval must be positive, have %v", cfg.SampleInterval)
	}
	return cfg, nil
}
