package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/maltedev/catalog-crawler/internal/browser"
	"github.com/maltedev/catalog-crawler/internal/catalog"
	"github.com/maltedev/catalog-crawler/internal/config"
	"github.com/maltedev/catalog-crawler/internal/database"
	"github.com/maltedev/catalog-crawler/internal/events"
	"github.com/maltedev/catalog-crawler/internal/ratelimit"
	"github.com/maltedev/catalog-crawler/internal/scraper"
	"github.com/maltedev/catalog-crawler/internal/storage"
	"github.com/maltedev/catalog-crawler/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type options struct {
	test        bool
	out         string
	name        string
	truncate    bool
	mode        string
	links       string
	headless    bool
	metricsAddr string
	db          bool
}

func main() {
	cfg, opts, err := configure(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "crawler: %v\n", err)
		os.Exit(2)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, log); err != nil {
		log.Error("crawl failed", "error", err, "kind", scraper.KindOf(err))
		os.Exit(1)
	}
}

// configure layers the command line over the environment configuration.
func configure(args []string, output io.Writer) (*config.Config, options, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, options{}, fmt.Errorf("failed to load config: %w", err)
	}

	fs := flag.NewFlagSet("crawler", flag.ContinueOnError)
	fs.SetOutput(output)

	var (
		opts      options
		logLevel  = fs.String("log-level", cfg.Logging.Level, "Log level: debug, info, warn, error")
		logFormat = fs.String("log-format", cfg.Logging.Format, "Log format: text or json")
	)
	fs.BoolVar(&opts.test, "test", false, "Crawl only the first listing page and write into <out>/test")
	fs.StringVar(&opts.out, "out", cfg.Crawler.OutputDir, "Output directory")
	fs.StringVar(&opts.name, "name", cfg.Crawler.OutputName, "Base name of the CSV and JSON outputs")
	fs.BoolVar(&opts.truncate, "truncate", false, "Remove previous output files before the run")
	fs.StringVar(&opts.mode, "mode", cfg.Crawler.Mode, "Mode: all, links or retry-skipped")
	fs.StringVar(&opts.links, "links", "", "Comma separated item URLs (links mode)")
	fs.BoolVar(&opts.headless, "headless", cfg.Browser.Headless, "Run browser in headless mode")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", cfg.Server.MetricsAddr, "Serve Prometheus metrics on this address")
	fs.BoolVar(&opts.db, "db", cfg.Database.Enabled, "Mirror extracted items into Postgres and Redis")
	if err := fs.Parse(args); err != nil {
		return nil, options{}, err
	}

	cfg.Logging.Level = *logLevel
	cfg.Logging.Format = *logFormat
	cfg.Crawler.OutputDir = opts.out
	cfg.Crawler.OutputName = opts.name
	cfg.Crawler.Mode = opts.mode
	cfg.Browser.Headless = opts.headless
	cfg.Database.Enabled = opts.db
	cfg.Server.MetricsAddr = opts.metricsAddr
	if err := cfg.Validate(); err != nil {
		fs.Usage()
		return nil, options{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, opts, nil
}

func run(ctx context.Context, cfg *config.Config, opts options, log *slog.Logger) error {
	outDir := cfg.Crawler.OutputDir
	if opts.test {
		outDir = filepath.Join(outDir, "test")
		cfg.Crawler.MaxPages = 1
	}

	store, err := storage.NewRunStore(outDir, cfg.Crawler.OutputName, log)
	if err != nil {
		return err
	}
	if opts.truncate {
		if err := store.Truncate(); err != nil {
			return fmt.Errorf("failed to truncate output: %w", err)
		}
	}

	sel, err := catalog.LoadSelectors(cfg.Crawler.SelectorsFile)
	if err != nil {
		return err
	}

	site := catalog.DefaultSite()
	site.Prefix = cfg.Crawler.SitePrefix
	site.ItemSuffix = cfg.Crawler.ItemSuffix
	if len(cfg.Crawler.AlienFragments) > 0 {
		site.AlienFragments = cfg.Crawler.AlienFragments
	}

	links, err := resolveLinks(cfg.Crawler.Mode, opts.links, store, site)
	if err != nil {
		return err
	}
	if cfg.Crawler.Mode != scraper.ModeAll && len(links) == 0 {
		log.Info("nothing to crawl", "mode", cfg.Crawler.Mode)
		return nil
	}

	metrics := scraper.NewMetrics()
	if addr := cfg.Server.MetricsAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
		log.Info("serving metrics", "addr", addr)
	}

	var (
		relay  *database.Relay
		outbox *database.OutboxRepository
	)
	if cfg.Database.Enabled {
		db, rdb, err := openMirror(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer db.Close()
		store.SetMirror(events.NewPublisher(db, log))
		outbox = database.NewOutboxRepository(db)
		if rdb != nil {
			defer rdb.Close()
			relay = database.NewRelay(db, rdb, log, database.RelayConfig{})
		}
	}

	bopts := browser.DefaultOptions()
	bopts.Headless = cfg.Browser.Headless
	bopts.Timeout = cfg.Browser.Timeout
	bopts.ShortWait = cfg.Browser.ShortWait
	bopts.ViewportWidth = cfg.Browser.ViewportWidth
	bopts.ViewportHeight = cfg.Browser.ViewportHeight
	bopts.Locale = cfg.Browser.Locale
	bopts.TimezoneID = cfg.Browser.TimezoneID
	bopts.ProxyServer = cfg.Browser.Proxy
	if cfg.Browser.UserAgent != "" {
		bopts.UserAgent = cfg.Browser.UserAgent
	}

	b, err := browser.New(bopts, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Quit(); err != nil {
			log.Warn("failed to close browser", "error", err)
		}
	}()

	crawler, err := scraper.New(scraper.Config{
		Page:             b,
		Store:            store,
		Selectors:        sel,
		Site:             site,
		RootURL:          cfg.Crawler.RootURL,
		Logger:           log,
		Metrics:          metrics,
		TimeoutThreshold: cfg.Crawler.TimeoutThreshold,
		ConsentWait:      cfg.Crawler.ConsentWait,
		SizeSettle:       cfg.Crawler.SizeSettle,
		MaxPages:         cfg.Crawler.MaxPages,
		Pacer:            ratelimit.NewAdaptiveRateLimiter(cfg.Crawler.PaceMin, cfg.Crawler.PaceMax),
		PageLimiter:      ratelimit.NewPageLimiter(cfg.Crawler.PagesPerMinute),
	})
	if err != nil {
		return err
	}

	var report *scraper.Report
	if cfg.Crawler.Mode == scraper.ModeAll {
		report, err = crawler.Run(ctx)
	} else {
		report, err = crawler.RunLinks(ctx, links)
	}

	if report != nil {
		log.Info("crawl report",
			"run_id", report.Metadata.RunID,
			"outcome", report.Metadata.Outcome,
			"extracted", report.Metadata.ProcessedArticles,
			"skipped", report.Metadata.SkippedArticles,
			"pages", report.Metadata.PagesVisited,
			"duration", report.Metadata.Duration,
			"output", store.Dir())
	}

	if relay != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		n, ferr := relay.Flush(flushCtx)
		cancel()
		if ferr != nil {
			log.Warn("outbox flush incomplete", "published", n, "error", ferr)
		} else {
			log.Info("outbox flushed", "published", n)
		}
	}

	if outbox != nil && report != nil {
		countCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		counts, cerr := outbox.CountByRun(countCtx, report.Metadata.RunID)
		cancel()
		if cerr != nil {
			log.Warn("failed to count run events", "run_id", report.Metadata.RunID, "error", cerr)
		} else {
			log.Info("run events",
				"run_id", report.Metadata.RunID,
				"pending", counts[database.OutboxStatusPending]+counts[database.OutboxStatusFailed],
				"relayed", counts[database.OutboxStatusProcessed],
				"dead_letter", counts[database.OutboxStatusDeadLetter])
		}
	}

	return err
}

func resolveLinks(mode, raw string, store *storage.RunStore, site catalog.Site) ([]string, error) {
	switch mode {
	case scraper.ModeLinks:
		var links []string
		for _, l := range strings.Split(raw, ",") {
			if l = strings.TrimSpace(l); l != "" {
				links = append(links, l)
			}
		}
		if len(links) == 0 {
			return nil, fmt.Errorf("links mode needs -links")
		}
		return links, nil
	case "retry-skipped":
		ids, err := store.RetryCandidates()
		if err != nil {
			return nil, fmt.Errorf("failed to read skip record: %w", err)
		}
		links := make([]string, len(ids))
		for i, id := range ids {
			links[i] = site.ItemURL(id)
		}
		return links, nil
	}
	return nil, nil
}

// openMirror connects Postgres and, when reachable, Redis. Without Redis
// the outbox keeps its events for cmd/server to relay later.
func openMirror(ctx context.Context, cfg *config.Config, log *slog.Logger) (*database.DB, *redis.Client, error) {
	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Name,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis unavailable, outbox events stay pending", "error", err)
		rdb.Close()
		return db, nil, nil
	}

	return db, rdb, nil
}
