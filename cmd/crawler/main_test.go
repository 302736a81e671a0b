package main

import (
	"bytes"
	"flag"
	"testing"

	"github.com/maltedev/catalog-crawler/internal/catalog"
	"github.com/maltedev/catalog-crawler/internal/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure_FlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("CRAWLER_MODE", "all")
	t.Setenv("LOG_FORMAT", "text")
	dir := t.TempDir()

	var out bytes.Buffer
	cfg, opts, err := configure([]string{
		"-mode", "links",
		"-links", "https://en.zalando.de/a-a11.html",
		"-out", dir,
		"-log-format", "json",
		"-metrics-addr", ":9100",
		"-test",
	}, &out)
	require.NoError(t, err)

	assert.Equal(t, scraper.ModeLinks, cfg.Crawler.Mode)
	assert.Equal(t, dir, cfg.Crawler.OutputDir)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, ":9100", cfg.Server.MetricsAddr)
	assert.True(t, opts.test)
	assert.Equal(t, "https://en.zalando.de/a-a11.html", opts.links)
	assert.Empty(t, out.String())
}

func TestConfigure_InvalidConfiguration(t *testing.T) {
	var out bytes.Buffer
	_, _, err := configure([]string{"-mode", "everything"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Contains(t, err.Error(), `"everything"`)
	assert.Contains(t, out.String(), "-mode", "usage is printed with the error")
}

func TestConfigure_BadFlags(t *testing.T) {
	var out bytes.Buffer
	_, _, err := configure([]string{"-h"}, &out)
	assert.ErrorIs(t, err, flag.ErrHelp)

	_, _, err = configure([]string{"-pages", "3"}, &out)
	require.Error(t, err)
	assert.NotErrorIs(t, err, flag.ErrHelp)
}

func TestResolveLinks(t *testing.T) {
	site := catalog.DefaultSite()

	links, err := resolveLinks(scraper.ModeLinks, " https://en.zalando.de/a-a11.html, ,https://en.zalando.de/b-a11.html ", nil, site)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://en.zalando.de/a-a11.html", "https://en.zalando.de/b-a11.html"}, links)

	_, err = resolveLinks(scraper.ModeLinks, " , ", nil, site)
	assert.Error(t, err)

	links, err = resolveLinks(scraper.ModeAll, "ignored", nil, site)
	require.NoError(t, err)
	assert.Nil(t, links)
}
