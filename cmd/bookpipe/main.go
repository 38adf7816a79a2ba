package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/bookpipe/cleaner"
	"github.com/aluiziolira/bookpipe/config"
	"github.com/aluiziolira/bookpipe/pipeline"
	"github.com/aluiziolira/bookpipe/scraper"
	"github.com/aluiziolira/bookpipe/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	stageAll    = "all"
	stageScrape = "scrape"
	stageClean  = "clean"
)

// options is the parsed command line.
type options struct {
	cfg   *config.Config
	stage string
	input string
}

func parseArgs(args []string) (*options, error) {
	defaultCfg := config.DefaultConfig()
	pagesDefault := defaultCfg.MaxPages
	if value, ok, err := config.EnvInt("BOOKPIPE_PAGES"); err != nil {
		return nil, fmt.Errorf("invalid BOOKPIPE_PAGES: %w", err)
	} else if ok {
		pagesDefault = value
	}
	maxRowsDefault := defaultCfg.MaxRows
	if value, ok, err := config.EnvInt("BOOKPIPE_MAX_ROWS"); err != nil {
		return nil, fmt.Errorf("invalid BOOKPIPE_MAX_ROWS: %w", err)
	} else if ok {
		maxRowsDefault = value
	}
	rawDefault := defaultCfg.RawOutputFile
	if value, ok := config.EnvString("BOOKPIPE_RAW_OUTPUT"); ok {
		rawDefault = value
	}
	outputDefault := defaultCfg.CleanOutputFile
	if value, ok := config.EnvString("BOOKPIPE_OUTPUT"); ok {
		outputDefault = value
	}
	metricsDefault := defaultCfg.MetricsAddr
	if value, ok := config.EnvString("BOOKPIPE_METRICS_ADDR"); ok {
		metricsDefault = value
	}

	fs := flag.NewFlagSet("bookpipe", flag.ContinueOnError)
	stage := fs.String("stage", stageAll, "Stage to run: all, scrape, or clean")
	input := fs.String("input", "", "Raw CSV to clean (clean stage; defaults to -raw-output)")
	baseURL := fs.String("base-url", defaultCfg.BaseURL, "Catalog start URL")
	maxPages := fs.Int("pages", pagesDefault, "Maximum catalog pages to scrape")
	timeoutMs := fs.Int("timeout", int(defaultCfg.Timeout/time.Millisecond), "Request timeout (milliseconds)")
	maxRows := fs.Int("max-rows", maxRowsDefault, "Maximum rows kept by the clean stage")
	rawOutput := fs.String("raw-output", rawDefault, "Raw CSV output path")
	output := fs.String("output", outputDefault, "Parquet output path")
	sqliteFile := fs.String("sqlite", "", "Optional SQLite mirror of the cleaned rows")
	subcategory := fs.Bool("subcategory", false, "Visit detail pages to record each book's subcategory")
	detailRetries := fs.Int("detail-retries", defaultCfg.DetailRetries, "Retry attempts per detail page")
	retryBackoffMs := fs.Int("retry-backoff", int(defaultCfg.RetryBackoff/time.Millisecond), "Initial detail retry backoff (milliseconds)")
	retryBackoffMaxMs := fs.Int("retry-backoff-max", int(defaultCfg.RetryBackoffMax/time.Millisecond), "Maximum detail retry backoff (milliseconds)")
	respectRobots := fs.Bool("respect-robots", false, "Respect robots.txt directives")
	metricsAddr := fs.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	verbose := fs.Bool("v", false, "Enable verbose logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := config.DefaultConfig()
	cfg.BaseURL = *baseURL
	cfg.MaxPages = *maxPages
	cfg.Timeout = time.Duration(*timeoutMs) * time.Millisecond
	cfg.MaxRows = *maxRows
	cfg.RawOutputFile = *rawOutput
	cfg.CleanOutputFile = *output
	cfg.SQLiteFile = *sqliteFile
	cfg.FetchSubcategory = *subcategory
	cfg.DetailRetries = *detailRetries
	cfg.RetryBackoff = time.Duration(*retryBackoffMs) * time.Millisecond
	cfg.RetryBackoffMax = time.Duration(*retryBackoffMaxMs) * time.Millisecond
	cfg.RespectRobotsTxt = *respectRobots
	cfg.MetricsAddr = *metricsAddr
	cfg.Verbose = *verbose

	return &options{cfg: cfg, stage: strings.ToLower(*stage), input: *input}, nil
}

func main() {
	opts, err := parseArgs(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg, mode := opts.cfg, opts.stage

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := validateFor(cfg, mode); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	s, err := scraper.NewScraper(cfg, scraper.NewMetrics(registry))
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		os.Exit(1)
	}
	p := pipeline.New(cfg, s, cleaner.New(cfg, cleaner.NewMetrics(registry)))

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	slog.Info("starting",
		slog.String("stage", mode),
		slog.String("base_url", cfg.BaseURL),
		slog.Int("pages", cfg.MaxPages),
	)

	startTime := time.Now()
	var result *pipeline.Result
	switch mode {
	case stageScrape:
		_, _ = p.Scrape(ctx)
		result = p.Status()
	case stageClean:
		_, _ = p.Clean(ctx, opts.input)
		result = p.Status()
	default:
		result = p.Run(ctx)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	if err := result.Err(); err != nil {
		printSummary(result, time.Since(startTime))
		slog.Error("pipeline failed", slog.Any("error", err))
		os.Exit(1)
	}

	if result.Clean.Path != "" {
		rows, err := storage.InspectParquet(result.Clean.Path)
		if err != nil {
			slog.Error("output validation failed", slog.Any("error", err))
			os.Exit(1)
		}
		slog.Debug("output validated", slog.String("path", result.Clean.Path), slog.Int64("rows", rows))
	}

	printSummary(result, time.Since(startTime))
}

func validateFor(cfg *config.Config, mode string) error {
	switch mode {
	case stageAll:
		return cfg.Validate()
	case stageScrape:
		return cfg.ValidateScrape()
	case stageClean:
		return cfg.ValidateClean()
	default:
		return fmt.Errorf("unsupported stage: %s", mode)
	}
}

func printSummary(result *pipeline.Result, duration time.Duration) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Pipeline complete")

	fmt.Printf("  Scrape:        %s\n", result.Scrape.State)
	if sr := result.ScrapeResult; sr != nil {
		fmt.Printf("  Pages:         %d\n", sr.PageCount)
		fmt.Printf("  Requests:      %d\n", sr.RequestCount)
		fmt.Printf("  Records:       %d\n", len(sr.Records))
		fmt.Printf("  Skipped items: %d\n", sr.SkippedItems)
		if len(sr.ErrorsByType) > 0 {
			fmt.Printf("  Error types:   %v\n", sr.ErrorsByType)
		}
		if sr.AbortErr != nil {
			fmt.Printf("  Stopped early: %v\n", sr.AbortErr)
		}
	}
	if result.Scrape.Path != "" {
		fmt.Printf("  Raw file:      %s\n", result.Scrape.Path)
	}

	fmt.Printf("  Clean:         %s\n", result.Clean.State)
	if cr := result.CleanResult; cr != nil {
		fmt.Printf("  Rows read:     %d\n", cr.RowsRead)
		fmt.Printf("  Rows kept:     %d\n", cr.RowsKept)
		if len(cr.Dropped) > 0 {
			fmt.Printf("  Dropped:       %v\n", cr.Dropped)
		}
		if cr.Truncated > 0 {
			fmt.Printf("  Truncated:     %d\n", cr.Truncated)
		}
		if cr.SQLitePath != "" {
			fmt.Printf("  SQLite file:   %s\n", cr.SQLitePath)
		}
	}
	if result.Clean.Path != "" {
		fmt.Printf("  Output file:   %s\n", result.Clean.Path)
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
