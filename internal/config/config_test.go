package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://en.zalando.de/", cfg.Crawler.SitePrefix)
	assert.Equal(t, 3, cfg.Crawler.TimeoutThreshold)
	assert.Equal(t, 20*time.Second, cfg.Crawler.ConsentWait)
	assert.Equal(t, "all", cfg.Crawler.Mode)
	assert.True(t, cfg.Browser.Headless)
	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("CRAWLER_TIMEOUT_THRESHOLD", "5")
	t.Setenv("CRAWLER_PACE_MIN", "200ms")
	t.Setenv("CRAWLER_PACE_MAX", "2s")
	t.Setenv("CRAWLER_ALIEN_FRAGMENTS", "outfits/, /campaigns/ ,")
	t.Setenv("BROWSER_HEADLESS", "false")
	t.Setenv("DB_ENABLED", "true")
	t.Setenv("DB_MAX_CONNS", "4")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("CRAWLER_MAX_PAGES", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.Crawler.TimeoutThreshold)
	assert.Equal(t, 200*time.Millisecond, cfg.Crawler.PaceMin)
	assert.Equal(t, []string{"outfits/", "/campaigns/"}, cfg.Crawler.AlienFragments)
	assert.False(t, cfg.Browser.Headless)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, int32(4), cfg.Database.MaxConns)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 0, cfg.Crawler.MaxPages, "unparseable values fall back to the default")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"pace range", func(c *Config) { c.Crawler.PaceMin = 5 * time.Second; c.Crawler.PaceMax = time.Second }},
		{"negative threshold", func(c *Config) { c.Crawler.TimeoutThreshold = -1 }},
		{"unknown mode", func(c *Config) { c.Crawler.Mode = "sideways" }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"empty output dir", func(c *Config) { c.Crawler.OutputDir = "" }},
		{"empty output name", func(c *Config) { c.Crawler.OutputName = "" }},
		{"site prefix", func(c *Config) { c.Crawler.SitePrefix = "en.zalando.de" }},
		{"db name", func(c *Config) { c.Database.Enabled = true; c.Database.Name = "" }},
		{"server port", func(c *Config) { c.Server.Port = 70000 }},
		{"negative pages", func(c *Config) { c.Crawler.MaxPages = -2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
