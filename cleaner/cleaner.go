// Package cleaner turns raw scraped rows into validated, typed rows and
// writes them as a Parquet file.
package cleaner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aluiziolira/bookpipe/config"
	"github.com/aluiziolira/bookpipe/models"
	"github.com/aluiziolira/bookpipe/parser"
	"github.com/aluiziolira/bookpipe/storage"
)

// Drop reasons reported in CleanResult.Dropped and the rows_dropped metric.
const (
	ReasonMissingField  = "missing_field"
	ReasonInvalidPrice  = "invalid_price"
	ReasonInvalidRating = "invalid_rating"
)

// Report describes what Clean did to a record set.
type Report struct {
	Read      int
	Dropped   map[string]int
	Truncated int
	Warnings  []string
}

// Clean validates records in order. A record failing any rule is dropped
// whole; survivors beyond maxRows are cut off with a warning.
func Clean(records []models.BookRecord, maxRows int) ([]models.CleanedBook, Report) {
	report := Report{
		Read:    len(records),
		Dropped: make(map[string]int),
	}

	cleaned := make([]models.CleanedBook, 0, len(records))
	for i, record := range records {
		book, reason, err := cleanRecord(record)
		if err != nil {
			report.Dropped[reason]++
			slog.Debug("dropping row",
				slog.Int("row", i+1),
				slog.String("reason", reason),
				slog.Any("error", err),
			)
			continue
		}
		cleaned = append(cleaned, book)
	}

	if maxRows > 0 && len(cleaned) > maxRows {
		report.Truncated = len(cleaned) - maxRows
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("row ceiling %d exceeded: kept first %d of %d valid rows", maxRows, maxRows, len(cleaned)))
		cleaned = cleaned[:maxRows]
	}
	return cleaned, report
}

func cleanRecord(record models.BookRecord) (models.CleanedBook, string, error) {
	if err := parser.ValidateRecord(record); err != nil {
		return models.CleanedBook{}, ReasonMissingField, err
	}

	price, err := parser.ParsePrice(record.Price)
	if err != nil {
		return models.CleanedBook{}, ReasonInvalidPrice, err
	}

	rating, err := parser.ParseRating(record.Rating)
	if err != nil {
		return models.CleanedBook{}, ReasonInvalidRating, err
	}

	return models.CleanedBook{
		Title:        strings.TrimSpace(record.Title),
		Price:        price,
		Rating:       rating,
		Availability: parser.NormalizeAvailability(record.Availability),
		URL:          strings.TrimSpace(record.URL),
		Subcategory:  strings.TrimSpace(record.Subcategory),
	}, "", nil
}

// Cleaner runs the load, clean and write steps against files.
type Cleaner struct {
	cfg     *config.Config
	metrics *Metrics
}

// New returns a Cleaner. A nil metrics value disables instrumentation.
func New(cfg *config.Config, metrics *Metrics) *Cleaner {
	return &Cleaner{cfg: cfg, metrics: metrics}
}

// Run loads inputPath, cleans it and writes cfg.CleanOutputFile, plus the
// SQLite mirror when cfg.SQLiteFile is set. Load failures return a
// *storage.LoadError before anything is written.
func (c *Cleaner) Run(ctx context.Context, inputPath string) (*models.CleanResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	result := &models.CleanResult{
		InputPath: inputPath,
		StartTime: time.Now(),
	}

	records, err := storage.ReadRawCSV(inputPath)
	if err != nil {
		return result, err
	}
	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("clean %s: %w", inputPath, err)
	}

	cleaned, report := Clean(records, c.cfg.MaxRows)
	result.RowsRead = report.Read
	result.RowsKept = len(cleaned)
	result.Dropped = report.Dropped
	result.Truncated = report.Truncated
	result.Warnings = report.Warnings
	c.metrics.observe(report, len(cleaned))

	for _, warning := range report.Warnings {
		slog.Warn(warning, slog.String("input", inputPath))
	}
	if dropped := result.DroppedTotal(); dropped > 0 {
		slog.Info("rows dropped during validation",
			slog.Int("dropped", dropped),
			slog.Any("by_reason", report.Dropped),
		)
	}

	if err := storage.WriteParquet(c.cfg.CleanOutputFile, cleaned); err != nil {
		return result, err
	}
	result.OutputPath = c.cfg.CleanOutputFile

	if c.cfg.SQLiteFile != "" {
		if err := storage.WriteSQLite(ctx, c.cfg.SQLiteFile, cleaned); err != nil {
			return result, err
		}
		result.SQLitePath = c.cfg.SQLiteFile
	}

	result.EndTime = time.Now()
	slog.Info("cleaned records written",
		slog.String("path", result.OutputPath),
		slog.Int("read", result.RowsRead),
		slog.Int("kept", result.RowsKept),
	)
	return result, nil
}
