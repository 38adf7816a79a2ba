package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds settings for both pipeline stages.
type Config struct {
	BaseURL          string
	MaxPages         int
	Timeout          time.Duration
	UserAgent        string
	RespectRobotsTxt bool

	// Detail page lookup for the book subcategory.
	FetchSubcategory bool
	DetailRetries    int
	RetryBackoff     time.Duration
	RetryBackoffMax  time.Duration

	RawOutputFile   string
	CleanOutputFile string
	SQLiteFile      string // optional
	MaxRows         int

	Verbose     bool
	MetricsAddr string
}

// DefaultConfig returns conservative defaults for the demo target.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:          "http://books.toscrape.com/",
		MaxPages:         50,
		Timeout:          10 * time.Second,
		UserAgent:        "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		RespectRobotsTxt: false,
		FetchSubcategory: false,
		DetailRetries:    2,
		RetryBackoff:     200 * time.Millisecond,
		RetryBackoffMax:  2 * time.Second,
		RawOutputFile:    "raw_data/books_data.csv",
		CleanOutputFile:  "processed_data/books_data.parquet",
		MaxRows:          10000,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if err := c.ValidateScrape(); err != nil {
		return err
	}
	return c.ValidateClean()
}

// ValidateScrape checks the settings used by the scrape stage.
func (c *Config) ValidateScrape() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.DetailRetries < 0 {
		return fmt.Errorf("detail retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.RawOutputFile == "" {
		return fmt.Errorf("raw output file cannot be empty")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	return nil
}

// ValidateClean checks the settings used by the clean stage.
func (c *Config) ValidateClean() error {
	if c.CleanOutputFile == "" {
		return fmt.Errorf("clean output file cannot be empty")
	}
	if c.MaxRows <= 0 {
		return fmt.Errorf("max rows must be positive")
	}
	return nil
}
