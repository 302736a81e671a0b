package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Crawler  CrawlerConfig
	Browser  BrowserConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Logging  LoggingConfig
}

type CrawlerConfig struct {
	RootURL          string
	SitePrefix       string
	ItemSuffix       string
	AlienFragments   []string
	OutputDir        string
	OutputName       string
	SelectorsFile    string
	Mode             string
	TimeoutThreshold int
	PaceMin          time.Duration
	PaceMax          time.Duration
	PagesPerMinute   int
	SizeSettle       time.Duration
	ConsentWait      time.Duration
	MaxPages         int
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ShortWait      time.Duration
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	TimezoneID     string
	UserAgent      string
	Proxy          string
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	MaxConns int32
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ServerConfig struct {
	Port           int
	MetricsAddr    string
	AllowedOrigins []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

var modes = map[string]bool{"all": true, "links": true, "retry-skipped": true}

func Load() (*Config, error) {
	cfg := &Config{
		Crawler: CrawlerConfig{
			RootURL:          getEnvOrDefault("CRAWLER_ROOT_URL", ""),
			SitePrefix:       getEnvOrDefault("CRAWLER_SITE_PREFIX", "https://en.zalando.de/"),
			ItemSuffix:       getEnvOrDefault("CRAWLER_ITEM_SUFFIX", ".html"),
			AlienFragments:   getStringSliceOrDefault("CRAWLER_ALIEN_FRAGMENTS", nil),
			OutputDir:        getEnvOrDefault("CRAWLER_OUTPUT_DIR", "out"),
			OutputName:       getEnvOrDefault("CRAWLER_OUTPUT_NAME", "shirts"),
			SelectorsFile:    getEnvOrDefault("CRAWLER_SELECTORS_FILE", ""),
			Mode:             getEnvOrDefault("CRAWLER_MODE", "all"),
			TimeoutThreshold: getIntOrDefault("CRAWLER_TIMEOUT_THRESHOLD", 3),
			PaceMin:          getDurationOrDefault("CRAWLER_PACE_MIN", 1*time.Second),
			PaceMax:          getDurationOrDefault("CRAWLER_PACE_MAX", 3*time.Second),
			PagesPerMinute:   getIntOrDefault("CRAWLER_PAGES_PER_MINUTE", 0),
			SizeSettle:       getDurationOrDefault("CRAWLER_SIZE_SETTLE", 1*time.Second),
			ConsentWait:      getDurationOrDefault("CRAWLER_CONSENT_WAIT", 20*time.Second),
			MaxPages:         getIntOrDefault("CRAWLER_MAX_PAGES", 0),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ShortWait:      getDurationOrDefault("BROWSER_SHORT_WAIT", 5*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-GB"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "Europe/Berlin"),
			UserAgent:      getEnvOrDefault("BROWSER_USER_AGENT", ""),
			Proxy:          getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Name:     getEnvOrDefault("DB_NAME", "catalog"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		Server: ServerConfig{
			Port:           getIntOrDefault("SERVER_PORT", 8084),
			MetricsAddr:    getEnvOrDefault("METRICS_ADDR", ""),
			AllowedOrigins: getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", nil),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Crawler.OutputDir == "" {
		return fmt.Errorf("CRAWLER_OUTPUT_DIR is required")
	}

	if c.Crawler.OutputName == "" {
		return fmt.Errorf("CRAWLER_OUTPUT_NAME is required")
	}

	if !modes[c.Crawler.Mode] {
		return fmt.Errorf("unknown crawl mode %q", c.Crawler.Mode)
	}

	if c.Crawler.TimeoutThreshold < 0 {
		return fmt.Errorf("CRAWLER_TIMEOUT_THRESHOLD must not be negative")
	}

	if c.Crawler.PaceMin > c.Crawler.PaceMax {
		return fmt.Errorf("CRAWLER_PACE_MIN cannot be greater than CRAWLER_PACE_MAX")
	}

	if c.Crawler.PagesPerMinute < 0 || c.Crawler.MaxPages < 0 {
		return fmt.Errorf("page limits must not be negative")
	}

	if !strings.HasPrefix(c.Crawler.SitePrefix, "http://") && !strings.HasPrefix(c.Crawler.SitePrefix, "https://") {
		return fmt.Errorf("CRAWLER_SITE_PREFIX must be an http(s) URL")
	}

	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json")
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return defaultValue
}
