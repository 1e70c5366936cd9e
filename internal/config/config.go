// Package config loads and validates application configuration.
//
// Precedence is defaults, then the optional TOML config file, then
// environment variables. The resulting Config is constructed once in main
// and injected into every component; nothing reads process-wide state later.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/bbilly1/tubearchivist/internal/constants"
)

// Config holds all application configuration
type Config struct {
	Server        Server        `toml:"server"`
	Application   Application   `toml:"application"`
	Downloads     Downloads     `toml:"downloads"`
	Subscriptions Subscriptions `toml:"subscriptions"`
}

// Server holds HTTP server and logging settings
type Server struct {
	Port      string `toml:"port"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// Application holds storage locations and the document store backend
type Application struct {
	// StoreBackend selects the document store: "sqlite" or "elastic".
	StoreBackend string `toml:"store_backend"`
	ESURL        string `toml:"es_url"`
	DBPath       string `toml:"db_path"`
	VideosDir    string `toml:"videos"`
	CacheDir     string `toml:"cache_dir"`
	HostUID      int    `toml:"host_uid"`
	HostGID      int    `toml:"host_gid"`
}

// Downloads holds the download executor knobs
type Downloads struct {
	// Format is the yt-dlp format string, empty for the provider default.
	Format string `toml:"format"`
	// LimitSpeedKB caps download bandwidth in KB/s, 0 for unlimited.
	LimitSpeedKB int `toml:"limit_speed"`
	// LimitCount caps how many queue entries one run processes, 0 for all.
	LimitCount int `toml:"limit_count"`
	// SleepInterval is the politeness delay between items in seconds.
	SleepInterval int `toml:"sleep_interval"`
}

// Subscriptions holds the channel rescan settings
type Subscriptions struct {
	// ChannelSize is how many recent uploads a rescan requests per channel.
	ChannelSize int `toml:"channel_size"`
	// UseFeed lists recent uploads from the channel RSS feed instead of
	// the resolver, falling back to the resolver on feed errors.
	UseFeed bool `toml:"use_feed"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: Server{
			Port:      constants.DefaultPort,
			LogLevel:  "info",
			LogFormat: "text",
		},
		Application: Application{
			StoreBackend: "sqlite",
			ESURL:        constants.DefaultESURL,
			DBPath:       constants.DefaultDBPath,
			VideosDir:    constants.DefaultVideosDir,
			CacheDir:     constants.DefaultCacheDir,
		},
		Downloads: Downloads{
			SleepInterval: 3,
		},
		Subscriptions: Subscriptions{
			ChannelSize: constants.DefaultChannelSize,
		},
	}
}

// Load reads the config file at path (if it exists) over the defaults, then
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// defaults + env only
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("TA_PORT", c.Server.Port)
	c.Server.LogLevel = getEnv("TA_LOG_LEVEL", c.Server.LogLevel)
	c.Server.LogFormat = getEnv("TA_LOG_FORMAT", c.Server.LogFormat)

	c.Application.StoreBackend = getEnv("TA_STORE_BACKEND", c.Application.StoreBackend)
	c.Application.ESURL = getEnv("ES_URL", c.Application.ESURL)
	c.Application.DBPath = getEnv("TA_DB_PATH", c.Application.DBPath)
	c.Application.VideosDir = getEnv("TA_VIDEOS_DIR", c.Application.VideosDir)
	c.Application.CacheDir = getEnv("TA_CACHE_DIR", c.Application.CacheDir)
	c.Application.HostUID = getEnvInt("HOST_UID", c.Application.HostUID)
	c.Application.HostGID = getEnvInt("HOST_GID", c.Application.HostGID)

	c.Downloads.Format = getEnv("TA_DOWNLOAD_FORMAT", c.Downloads.Format)
	c.Downloads.LimitSpeedKB = getEnvInt("TA_LIMIT_SPEED", c.Downloads.LimitSpeedKB)
	c.Downloads.LimitCount = getEnvInt("TA_LIMIT_COUNT", c.Downloads.LimitCount)
	c.Downloads.SleepInterval = getEnvInt("TA_SLEEP_INTERVAL", c.Downloads.SleepInterval)

	c.Subscriptions.ChannelSize = getEnvInt("TA_CHANNEL_SIZE", c.Subscriptions.ChannelSize)
}

// Validate validates the configuration and returns detailed errors
func (c *Config) Validate() error {
	var errs []string

	// Validate Port
	if c.Server.Port == "" {
		errs = append(errs, "port cannot be empty")
	} else {
		port, err := strconv.Atoi(c.Server.Port)
		if err != nil {
			errs = append(errs, fmt.Sprintf("port must be a valid number, got: %s", c.Server.Port))
		} else if port < 1 || port > 65535 {
			errs = append(errs, fmt.Sprintf("port must be between 1 and 65535, got: %d", port))
		}
	}

	// Validate store backend
	switch c.Application.StoreBackend {
	case "sqlite":
		if c.Application.DBPath == "" {
			errs = append(errs, "db_path cannot be empty with the sqlite backend")
		}
	case "elastic":
		if c.Application.ESURL == "" {
			errs = append(errs, "es_url cannot be empty with the elastic backend")
		} else if _, err := url.Parse(c.Application.ESURL); err != nil {
			errs = append(errs, fmt.Sprintf("es_url is not a valid URL: %s", c.Application.ESURL))
		}
	default:
		errs = append(errs, fmt.Sprintf("store_backend must be one of: sqlite, elastic, got: %s", c.Application.StoreBackend))
	}

	// Validate directories
	if c.Application.VideosDir == "" {
		errs = append(errs, "videos dir cannot be empty")
	}
	if c.Application.CacheDir == "" {
		errs = append(errs, "cache_dir cannot be empty")
	}

	// Validate LogLevel
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Server.LogLevel] {
		errs = append(errs, fmt.Sprintf("log_level must be one of: debug, info, warn, error, got: %s", c.Server.LogLevel))
	}

	// Validate LogFormat
	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.Server.LogFormat] {
		errs = append(errs, fmt.Sprintf("log_format must be one of: text, json, got: %s", c.Server.LogFormat))
	}

	// Validate numeric knobs
	if c.Downloads.LimitSpeedKB < 0 {
		errs = append(errs, "limit_speed cannot be negative")
	}
	if c.Downloads.LimitCount < 0 {
		errs = append(errs, "limit_count cannot be negative")
	}
	if c.Downloads.SleepInterval < 0 {
		errs = append(errs, "sleep_interval cannot be negative")
	}
	if c.Subscriptions.ChannelSize < 1 {
		errs = append(errs, "channel_size must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable with a fallback default
func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
