package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/aluiziolira/bookpipe/config"
	"github.com/aluiziolira/bookpipe/models"
	"github.com/aluiziolira/bookpipe/parser"
	"github.com/aluiziolira/bookpipe/storage"
	"github.com/gocolly/colly/v2"
)

// Scraper walks the paginated catalog and writes the raw record file.
// Pages are fetched strictly one after another: the next link is only
// known once the current page is parsed.
type Scraper struct {
	cfg       *config.Config
	collector *colly.Collector
	details   *detailFetcher
	Metrics   *Metrics

	requestCount int
	errorsByType map[string]int

	// page collects callback output for the page being fetched.
	page *pageState
}

type pageState struct {
	records  []models.BookRecord
	skipped  int
	next     string
	fetchErr error
}

// NewScraper builds a scraper instance configured from cfg. A nil metrics
// value disables instrumentation.
func NewScraper(cfg *config.Config, metrics *Metrics) (*Scraper, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	// pageCursor guards against revisits within a traversal; the collector's
	// own visited store would fail the start URL on the next Run.
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	s := &Scraper{
		cfg:          cfg,
		collector:    collector,
		errorsByType: make(map[string]int),
		Metrics:      metrics,
	}
	s.configureHandlers()
	if cfg.FetchSubcategory {
		s.details = newDetailFetcher(collector, cfg, metrics)
	}
	return s, nil
}

// WithTransport swaps the HTTP transport of every collector.
func (s *Scraper) WithTransport(rt http.RoundTripper) {
	s.collector.WithTransport(rt)
	if s.details != nil {
		s.details.collector.WithTransport(rt)
	}
}

// Run traverses the catalog from cfg.BaseURL and writes the raw CSV.
//
// A failed page request stops the traversal; whatever was extracted before
// it is still written and the failure is reported in ScrapeResult.AbortErr.
// Run only returns an error when nothing was collected or the file could
// not be written.
func (s *Scraper) Run(ctx context.Context) (*models.ScrapeResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	cursor, err := newPageCursor(s.cfg.BaseURL, s.cfg.MaxPages)
	if err != nil {
		return nil, err
	}

	s.requestCount = 0
	s.errorsByType = make(map[string]int)

	result := &models.ScrapeResult{StartTime: time.Now()}
	var records []models.BookRecord
	var abort error

	for !cursor.Done() {
		if err := ctx.Err(); err != nil {
			abort = err
			slog.Warn("scrape cancelled", slog.String("next_url", cursor.URL()), slog.Any("error", err))
			break
		}

		pageURL := cursor.URL()
		number := cursor.Page()
		page, err := s.fetchPage(pageURL, number)
		cursor.MarkVisited()
		if err != nil {
			abort = err
			slog.Error("page fetch failed, stopping traversal",
				slog.String("url", pageURL),
				slog.Int("page", number),
				slog.Int("records_kept", len(records)),
				slog.Any("error", err),
			)
			break
		}

		if s.details != nil {
			for i := range page.records {
				page.records[i].Subcategory = s.details.Subcategory(ctx, page.records[i].Title, page.records[i].URL)
			}
		}

		records = append(records, page.records...)
		result.SkippedItems += page.skipped
		s.Metrics.IncPages()
		slog.Info("scraped page",
			slog.String("url", pageURL),
			slog.Int("page", number),
			slog.Int("items", len(page.records)),
			slog.Int("skipped", page.skipped),
		)

		if !cursor.Advance(page.next) {
			slog.Warn("next link points to a visited page, stopping", slog.String("url", page.next))
		}
	}
	if cursor.CeilingReached() {
		slog.Info("page ceiling reached", slog.Int("max_pages", s.cfg.MaxPages))
	}

	result.Records = records
	result.PageCount = cursor.Visited()
	result.RequestCount = s.requestCount
	result.ErrorsByType = s.snapshotErrors()
	result.AbortErr = abort
	result.EndTime = time.Now()

	if len(records) == 0 {
		if abort != nil {
			return result, errors.Join(ErrNoRecords, abort)
		}
		return result, ErrNoRecords
	}

	if err := storage.WriteRawCSV(s.cfg.RawOutputFile, records, s.cfg.FetchSubcategory); err != nil {
		return result, err
	}
	result.OutputPath = s.cfg.RawOutputFile

	slog.Info("raw records written",
		slog.String("path", result.OutputPath),
		slog.Int("records", len(records)),
		slog.Int("pages", result.PageCount),
	)
	return result, nil
}

func (s *Scraper) fetchPage(pageURL string, number int) (*pageState, error) {
	page := &pageState{}
	s.page = page
	defer func() { s.page = nil }()

	err := s.collector.Visit(pageURL)
	if page.fetchErr != nil {
		err = page.fetchErr
	} else if err != nil {
		err = classifyError(err, 0)
		s.recordError(errorTypeLabel(err))
	}
	if err != nil {
		return page, &FetchError{URL: pageURL, Page: number, Err: err}
	}
	return page, nil
}

func (s *Scraper) configureHandlers() {
	s.collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put("start", time.Now())
		s.requestCount++
		s.Metrics.IncRequest("started")
		slog.Debug("requesting page", slog.String("url", r.URL.String()))
	})

	s.collector.OnResponse(func(r *colly.Response) {
		s.Metrics.IncRequest("completed")
		if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
			s.Metrics.ObserveDuration(time.Since(start))
		}
	})

	s.collector.OnError(func(r *colly.Response, err error) {
		statusCode := 0
		if r != nil {
			statusCode = r.StatusCode
		}
		classified := classifyError(err, statusCode)
		s.recordError(errorTypeLabel(classified))
		if s.page != nil {
			s.page.fetchErr = classified
		}
	})

	s.collector.OnHTML(parser.ItemSelector, func(e *colly.HTMLElement) {
		if s.page == nil {
			return
		}
		book, err := parser.ExtractBook(e.DOM, e.Request.URL)
		if err != nil {
			s.page.skipped++
			s.Metrics.IncSkipped()
			slog.Warn("skipping incomplete item",
				slog.String("url", e.Request.URL.String()),
				slog.Any("error", err),
			)
			return
		}
		s.page.records = append(s.page.records, book)
		s.Metrics.IncItems()
	})

	s.collector.OnHTML("html", func(e *colly.HTMLElement) {
		if s.page == nil || s.page.next != "" {
			return
		}
		s.page.next = parser.NextPageURL(e.DOM, e.Request.URL)
	})
}

func (s *Scraper) recordError(category string) {
	s.errorsByType[category]++
	s.Metrics.IncError(category)
}

func (s *Scraper) snapshotErrors() map[string]int {
	out := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		out[k] = v
	}
	return out
}
