package scraper

import (
	"context"
	"log/slog"
	"time"

	"github.com/aluiziolira/bookpipe/config"
	"github.com/aluiziolira/bookpipe/parser"
	"github.com/gocolly/colly/v2"
)

// detailFetcher looks up the subcategory of a book on its detail page.
// Unlike catalog pages, detail failures are retried and never abort the
// traversal.
type detailFetcher struct {
	collector *colly.Collector
	cfg       *config.Config
	metrics   *Metrics
	sleep     func(context.Context, time.Duration) error

	found string
}

func newDetailFetcher(parent *colly.Collector, cfg *config.Config, metrics *Metrics) *detailFetcher {
	collector := parent.Clone()
	collector.AllowURLRevisit = true

	d := &detailFetcher{
		collector: collector,
		cfg:       cfg,
		metrics:   metrics,
		sleep:     sleepContext,
	}

	collector.OnRequest(func(r *colly.Request) {
		d.metrics.IncRequest("detail")
	})
	collector.OnError(func(r *colly.Response, err error) {
		statusCode := 0
		if r != nil {
			statusCode = r.StatusCode
		}
		d.metrics.IncError(errorTypeLabel(classifyError(err, statusCode)))
	})
	collector.OnHTML("html", func(e *colly.HTMLElement) {
		d.found = parser.ExtractSubcategory(e.DOM)
	})
	return d
}

// Subcategory returns the category of the book at bookURL, or
// parser.UnknownSubcategory once retries are exhausted.
func (d *detailFetcher) Subcategory(ctx context.Context, title, bookURL string) string {
	for attempt := 0; ; attempt++ {
		d.found = ""
		err := d.collector.Visit(bookURL)
		if err == nil && d.found != "" {
			return d.found
		}
		if err != nil {
			slog.Warn("detail request failed",
				slog.String("title", title),
				slog.String("url", bookURL),
				slog.Int("attempt", attempt+1),
				slog.Any("error", err),
			)
		}

		if attempt >= d.cfg.DetailRetries {
			break
		}
		d.metrics.IncRetries()
		if err := d.sleep(ctx, d.backoff(attempt+1)); err != nil {
			break
		}
	}

	slog.Warn("could not determine subcategory",
		slog.String("title", title),
		slog.String("url", bookURL),
		slog.Int("attempts", d.cfg.DetailRetries+1),
	)
	return parser.UnknownSubcategory
}

func (d *detailFetcher) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := d.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := d.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
