package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database DatabaseConfig
	Scan     ScanConfig
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path           string
	MigrationsPath string
}

// ScanConfig holds pipeline settings.
type ScanConfig struct {
	Tick         time.Duration
	PendingGrace time.Duration
	ParserFormat string
}

// Load reads configuration from file and env. Env var overrides use prefix BANKFEED_.
func Load() (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "bankfeed", "bankfeed.db"))
	v.SetDefault("database.migrations_path", "internal/database/migrations")
	v.SetDefault("scan.tick", "1m")
	v.SetDefault("scan.pending_grace", "30m")
	v.SetDefault("scan.parser_format", "camt054")

	v.SetConfigType("toml")

	cfgPath := os.Getenv("BANKFEED_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "bankfeed"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("BANKFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// missing config file is fine; defaults + env apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgPath != "" {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	tick, err := time.ParseDuration(v.GetString("scan.tick"))
	if err != nil {
		return Config{}, fmt.Errorf("scan.tick: %w", err)
	}
	grace, err := time.ParseDuration(v.GetString("scan.pending_grace"))
	if err != nil {
		return Config{}, fmt.Errorf("scan.pending_grace: %w", err)
	}

	return Config{
		Database: DatabaseConfig{
			Path:           v.GetString("database.path"),
			MigrationsPath: v.GetString("database.migrations_path"),
		},
		Scan: ScanConfig{
			Tick:         tick,
			PendingGrace: grace,
			ParserFormat: v.GetString("scan.parser_format"),
		},
	}, nil
}
