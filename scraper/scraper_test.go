package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/bookpipe/config"
	"github.com/aluiziolira/bookpipe/parser"
	"github.com/aluiziolira/bookpipe/storage"
	"github.com/jarcoal/httpmock"
)

const baseURL = "http://example.test/"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.MaxPages = 10
	cfg.RawOutputFile = filepath.Join(t.TempDir(), "raw", "books.csv")
	return cfg
}

func newTestScraper(t *testing.T, cfg *config.Config, transport *httpmock.MockTransport) *Scraper {
	t.Helper()
	s, err := NewScraper(cfg, NewMetrics(nil))
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	s.WithTransport(transport)
	return s
}

// registerCatalog serves pages 1..pages, each with 20 items and a next link
// on every page but the last.
func registerCatalog(transport *httpmock.MockTransport, pages int) {
	for page := 1; page <= pages; page++ {
		next := ""
		if page < pages {
			next = fmt.Sprintf("page-%d.html", page+1)
		}
		body := buildCatalogPage(page, 20, next)
		if page == 1 {
			transport.RegisterResponder("GET", baseURL, htmlResponder(body))
			transport.RegisterResponder("GET", strings.TrimSuffix(baseURL, "/"), htmlResponder(body))
			continue
		}
		transport.RegisterResponder("GET", fmt.Sprintf("%spage-%d.html", baseURL, page), htmlResponder(body))
	}
}

func TestScraper_Integration(t *testing.T) {
	cfg := testConfig(t)
	transport := httpmock.NewMockTransport()
	registerCatalog(transport, 3)

	s := newTestScraper(t, cfg, transport)
	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := len(result.Records); got != 60 {
		t.Fatalf("records=%d, want 60 (requests=%d errors=%v)", got, result.RequestCount, result.ErrorsByType)
	}
	if result.PageCount != 3 {
		t.Fatalf("pages=%d, want 3", result.PageCount)
	}
	if result.AbortErr != nil {
		t.Fatalf("unexpected abort: %v", result.AbortErr)
	}
	if result.OutputPath != cfg.RawOutputFile {
		t.Fatalf("output=%q, want %q", result.OutputPath, cfg.RawOutputFile)
	}

	sample := result.Records[0]
	if sample.Title != "Book 1" {
		t.Fatalf("title=%q, want %q", sample.Title, "Book 1")
	}
	if sample.Price != "£1.00" {
		t.Fatalf("price=%q, want %q", sample.Price, "£1.00")
	}
	if sample.Rating != "2" {
		t.Fatalf("rating=%q, want 2", sample.Rating)
	}
	if sample.Availability != "In stock" {
		t.Fatalf("availability=%q", sample.Availability)
	}
	if sample.URL != "http://example.test/catalogue/book-1/index.html" {
		t.Fatalf("url=%q", sample.URL)
	}
	if last := result.Records[59]; last.Title != "Book 60" {
		t.Fatalf("records out of traversal order, last=%q", last.Title)
	}

	written, err := storage.ReadRawCSV(cfg.RawOutputFile)
	if err != nil {
		t.Fatalf("read raw csv: %v", err)
	}
	if len(written) != 60 {
		t.Fatalf("written rows=%d, want 60", len(written))
	}
}

func TestScraperStopsAtPageCeiling(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxPages = 2
	transport := httpmock.NewMockTransport()
	registerCatalog(transport, 3)

	s := newTestScraper(t, cfg, transport)
	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.PageCount != 2 || len(result.Records) != 40 {
		t.Fatalf("pages=%d records=%d, want 2/40", result.PageCount, len(result.Records))
	}
	if calls := transport.GetCallCountInfo()["GET "+baseURL+"page-3.html"]; calls != 0 {
		t.Fatalf("page 3 requested %d times beyond the ceiling", calls)
	}
	if result.AbortErr != nil {
		t.Fatalf("ceiling should not be an error, got %v", result.AbortErr)
	}
}

func TestScraperFailFastKeepsEarlierPages(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
		category  string
	}{
		{name: "server error", responder: httpmock.NewStringResponder(http.StatusInternalServerError, ""), category: "other"},
		{name: "rate limited", responder: httpmock.NewStringResponder(http.StatusTooManyRequests, ""), category: "rate_limited"},
		{name: "forbidden", responder: httpmock.NewStringResponder(http.StatusForbidden, ""), category: "forbidden"},
		{name: "connection", responder: httpmock.NewErrorResponder(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}), category: "connection"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			transport := httpmock.NewMockTransport()
			registerCatalog(transport, 3)
			transport.RegisterResponder("GET", baseURL+"page-2.html", tt.responder)

			s := newTestScraper(t, cfg, transport)
			result, err := s.Run(context.Background())
			if err != nil {
				t.Fatalf("partial results should still succeed, got %v", err)
			}

			if len(result.Records) != 20 {
				t.Fatalf("records=%d, want 20 from page 1", len(result.Records))
			}
			var fetchErr *FetchError
			if !errors.As(result.AbortErr, &fetchErr) {
				t.Fatalf("expected FetchError abort, got %v", result.AbortErr)
			}
			if fetchErr.Page != 2 || fetchErr.URL != baseURL+"page-2.html" {
				t.Fatalf("abort at page %d (%s), want page 2", fetchErr.Page, fetchErr.URL)
			}
			if got := fetchErr.Category(); got != tt.category {
				t.Fatalf("category=%q, want %q", got, tt.category)
			}
			if result.ErrorsByType[tt.category] == 0 {
				t.Fatalf("expected %q in errors by type, got %v", tt.category, result.ErrorsByType)
			}
			if calls := transport.GetCallCountInfo()["GET "+baseURL+"page-3.html"]; calls != 0 {
				t.Fatalf("traversal continued past the failed page")
			}

			written, err := storage.ReadRawCSV(cfg.RawOutputFile)
			if err != nil {
				t.Fatalf("read raw csv: %v", err)
			}
			if len(written) != 20 {
				t.Fatalf("written rows=%d, want 20", len(written))
			}
		})
	}
}

func TestScraperFirstPageFailure(t *testing.T) {
	cfg := testConfig(t)
	transport := httpmock.NewMockTransport()
	responder := httpmock.NewStringResponder(http.StatusNotFound, "")
	transport.RegisterResponder("GET", baseURL, responder)
	transport.RegisterResponder("GET", strings.TrimSuffix(baseURL, "/"), responder)

	s := newTestScraper(t, cfg, transport)
	result, err := s.Run(context.Background())
	if !errors.Is(err, ErrNoRecords) {
		t.Fatalf("expected ErrNoRecords, got %v", err)
	}
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.Category() != "not_found" {
		t.Fatalf("expected not_found FetchError in %v", err)
	}
	if result.OutputPath != "" {
		t.Fatalf("no output path expected, got %q", result.OutputPath)
	}
	if _, statErr := os.Stat(cfg.RawOutputFile); !os.IsNotExist(statErr) {
		t.Fatalf("no raw file should be written when nothing was collected")
	}
}

func TestScraperEmptyCatalog(t *testing.T) {
	cfg := testConfig(t)
	transport := httpmock.NewMockTransport()
	body := buildCatalogPage(1, 0, "")
	transport.RegisterResponder("GET", baseURL, htmlResponder(body))
	transport.RegisterResponder("GET", strings.TrimSuffix(baseURL, "/"), htmlResponder(body))

	s := newTestScraper(t, cfg, transport)
	if _, err := s.Run(context.Background()); !errors.Is(err, ErrNoRecords) {
		t.Fatalf("expected ErrNoRecords, got %v", err)
	}
	if _, statErr := os.Stat(cfg.RawOutputFile); !os.IsNotExist(statErr) {
		t.Fatalf("no raw file should be written for an empty catalog")
	}
}

func TestScraperSkipsIncompleteItems(t *testing.T) {
	cfg := testConfig(t)
	transport := httpmock.NewMockTransport()

	page1 := strings.Replace(buildCatalogPage(1, 20, "page-2.html"),
		"<p class=\"price_color\">&pound;3.00</p>", "", 1)
	page2 := buildCatalogPage(2, 20, "")
	transport.RegisterResponder("GET", baseURL, htmlResponder(page1))
	transport.RegisterResponder("GET", strings.TrimSuffix(baseURL, "/"), htmlResponder(page1))
	transport.RegisterResponder("GET", baseURL+"page-2.html", htmlResponder(page2))

	s := newTestScraper(t, cfg, transport)
	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Records) != 39 || result.SkippedItems != 1 {
		t.Fatalf("records=%d skipped=%d, want 39/1", len(result.Records), result.SkippedItems)
	}
	for _, record := range result.Records {
		if record.Title == "Book 3" {
			t.Fatalf("book without a price should have been skipped")
		}
	}
	if result.PageCount != 2 {
		t.Fatalf("traversal should continue after a skipped item, pages=%d", result.PageCount)
	}
}

func TestScraperNeverRevisitsPages(t *testing.T) {
	cfg := testConfig(t)
	transport := httpmock.NewMockTransport()

	page1 := buildCatalogPage(1, 20, "page-2.html")
	page2 := buildCatalogPage(2, 20, "/")
	transport.RegisterResponder("GET", baseURL, htmlResponder(page1))
	transport.RegisterResponder("GET", strings.TrimSuffix(baseURL, "/"), htmlResponder(page1))
	transport.RegisterResponder("GET", baseURL+"page-2.html", htmlResponder(page2))

	s := newTestScraper(t, cfg, transport)
	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.PageCount != 2 || len(result.Records) != 40 {
		t.Fatalf("pages=%d records=%d, want 2/40", result.PageCount, len(result.Records))
	}
	if transport.GetTotalCallCount() != 2 {
		t.Fatalf("requests=%d, want 2", transport.GetTotalCallCount())
	}
}

func TestScraperRunTwice(t *testing.T) {
	cfg := testConfig(t)
	transport := httpmock.NewMockTransport()
	registerCatalog(transport, 2)

	s := newTestScraper(t, cfg, transport)
	for run := 1; run <= 2; run++ {
		result, err := s.Run(context.Background())
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if len(result.Records) != 40 || result.PageCount != 2 {
			t.Fatalf("run %d: records=%d pages=%d, want 40/2", run, len(result.Records), result.PageCount)
		}
		if result.RequestCount != 2 || len(result.ErrorsByType) != 0 {
			t.Fatalf("run %d: requests=%d errors=%v, want 2 and none", run, result.RequestCount, result.ErrorsByType)
		}
	}
	if transport.GetTotalCallCount() != 4 {
		t.Fatalf("requests=%d, want 4", transport.GetTotalCallCount())
	}
}

func TestScraperCancelledContext(t *testing.T) {
	cfg := testConfig(t)
	transport := httpmock.NewMockTransport()
	registerCatalog(transport, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newTestScraper(t, cfg, transport)
	_, err := s.Run(ctx)
	if !errors.Is(err, ErrNoRecords) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected ErrNoRecords joined with context.Canceled, got %v", err)
	}
	if transport.GetTotalCallCount() != 0 {
		t.Fatalf("no request should be issued after cancellation")
	}
}

func TestScraperSubcategoryLookup(t *testing.T) {
	cfg := testConfig(t)
	cfg.FetchSubcategory = true
	cfg.DetailRetries = 1

	transport := httpmock.NewMockTransport()
	body := buildCatalogPage(1, 2, "")
	transport.RegisterResponder("GET", baseURL, htmlResponder(body))
	transport.RegisterResponder("GET", strings.TrimSuffix(baseURL, "/"), htmlResponder(body))
	transport.RegisterResponder("GET", baseURL+"catalogue/book-1/index.html", htmlResponder(buildDetailPage("Poetry")))
	transport.RegisterResponder("GET", baseURL+"catalogue/book-2/index.html", httpmock.NewStringResponder(http.StatusInternalServerError, ""))

	s := newTestScraper(t, cfg, transport)
	var slept []time.Duration
	s.details.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Records) != 2 {
		t.Fatalf("records=%d, want 2", len(result.Records))
	}
	if got := result.Records[0].Subcategory; got != "Poetry" {
		t.Fatalf("subcategory=%q, want Poetry", got)
	}
	if got := result.Records[1].Subcategory; got != parser.UnknownSubcategory {
		t.Fatalf("subcategory=%q, want %q", got, parser.UnknownSubcategory)
	}
	if calls := transport.GetCallCountInfo()["GET "+baseURL+"catalogue/book-2/index.html"]; calls != 2 {
		t.Fatalf("detail attempts=%d, want 2", calls)
	}
	if len(slept) != 1 || slept[0] != cfg.RetryBackoff {
		t.Fatalf("backoff sleeps=%v, want [%v]", slept, cfg.RetryBackoff)
	}
	if result.AbortErr != nil {
		t.Fatalf("detail failures must not abort the traversal: %v", result.AbortErr)
	}

	written, err := storage.ReadRawCSV(cfg.RawOutputFile)
	if err != nil {
		t.Fatalf("read raw csv: %v", err)
	}
	if written[0].Subcategory != "Poetry" {
		t.Fatalf("subcategory column missing from raw file: %+v", written[0])
	}
}

func TestDetailBackoffCapped(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RetryBackoff = 200 * time.Millisecond
	cfg.RetryBackoffMax = 500 * time.Millisecond

	d := &detailFetcher{cfg: cfg}
	if got := d.backoff(1); got != 200*time.Millisecond {
		t.Fatalf("first backoff=%v, want 200ms", got)
	}
	if got := d.backoff(2); got != 400*time.Millisecond {
		t.Fatalf("second backoff=%v, want 400ms", got)
	}
	if got := d.backoff(4); got != cfg.RetryBackoffMax {
		t.Fatalf("delay %v should be capped at %v", got, cfg.RetryBackoffMax)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server error", err: nil, statusCode: http.StatusBadGateway, expected: "other"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestPageCursor(t *testing.T) {
	cursor, err := newPageCursor("http://example.test/", 3)
	if err != nil {
		t.Fatalf("new cursor: %v", err)
	}

	cursor.MarkVisited()
	if !cursor.Advance("http://example.test/page-2.html") {
		t.Fatalf("fresh page should be accepted")
	}
	if cursor.Page() != 2 {
		t.Fatalf("page=%d, want 2", cursor.Page())
	}
	cursor.MarkVisited()
	if cursor.Advance("http://example.test/") {
		t.Fatalf("visited page should be rejected")
	}
	if !cursor.Done() || cursor.CeilingReached() {
		t.Fatalf("cursor should be done without hitting the ceiling")
	}

	cursor, _ = newPageCursor("http://example.test/", 1)
	cursor.MarkVisited()
	cursor.Advance("http://example.test/page-2.html")
	if !cursor.Done() || !cursor.CeilingReached() {
		t.Fatalf("cursor should stop at the ceiling")
	}
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html; charset=utf-8")
	return httpmock.ResponderFromResponse(resp)
}

func buildCatalogPage(page, items int, next string) string {
	var builder strings.Builder
	builder.WriteString("<html><body><section class=\"products\">")

	for i := 1; i <= items; i++ {
		id := (page-1)*20 + i
		builder.WriteString("<article class=\"product_pod\">")
		fmt.Fprintf(&builder, "<h3><a href=\"catalogue/book-%d/index.html\" title=\"Book %d\">Book %d</a></h3>", id, id, id)
		builder.WriteString("<p class=\"star-rating Two\"></p>")
		builder.WriteString("<div class=\"product_price\">")
		fmt.Fprintf(&builder, "<p class=\"price_color\">&pound;%0.2f</p>", float64(id))
		builder.WriteString("<p class=\"instock availability\">\n    In stock\n</p>")
		builder.WriteString("</div></article>")
	}

	if next != "" {
		fmt.Fprintf(&builder, "<ul class=\"pager\"><li class=\"next\"><a href=\"%s\">next</a></li></ul>", next)
	}

	builder.WriteString("</section></body></html>")
	return builder.String()
}

func buildDetailPage(category string) string {
	return "<html><body><ul class=\"breadcrumb\">" +
		"<li><a href=\"../../index.html\">Home</a></li>" +
		"<li><a href=\"../category/books_1/index.html\">Books</a></li>" +
		"<li><a href=\"../category/books/x/index.html\">" + category + "</a></li>" +
		"<li class=\"active\">A Book</li>" +
		"</ul></body></html>"
}
