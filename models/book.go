// Package models defines data structures shared by the scrape and clean stages.
package models

import "time"

// Raw store column names. The cleaned Parquet file reuses them.
const (
	ColumnTitle        = "Title"
	ColumnPrice        = "Price"
	ColumnRating       = "Rating"
	ColumnAvailability = "Availability"
	ColumnURL          = "URL"
	ColumnSubcategory  = "Subcategory"
)

// RequiredColumns lists the raw columns every row must carry.
var RequiredColumns = []string{ColumnTitle, ColumnPrice, ColumnRating, ColumnAvailability, ColumnURL}

// BookRecord is a catalog item as scraped, before any coercion.
type BookRecord struct {
	Title        string `csv:"Title" json:"title"`
	Price        string `csv:"Price" json:"price"`
	Rating       string `csv:"Rating" json:"rating"`
	Availability string `csv:"Availability" json:"availability"`
	URL          string `csv:"URL" json:"url"`
	Subcategory  string `csv:"Subcategory" json:"subcategory,omitempty"`
}

// Columns returns the raw header for records of this shape.
func (b BookRecord) Columns(withSubcategory bool) []string {
	cols := append([]string(nil), RequiredColumns...)
	if withSubcategory {
		cols = append(cols, ColumnSubcategory)
	}
	return cols
}

// Values returns the record fields in Columns order.
func (b BookRecord) Values(withSubcategory bool) []string {
	values := []string{b.Title, b.Price, b.Rating, b.Availability, b.URL}
	if withSubcategory {
		values = append(values, b.Subcategory)
	}
	return values
}

// Availability is the normalized stock state.
type Availability string

const (
	InStock    Availability = "In Stock"
	OutOfStock Availability = "Out of Stock"
)

// CleanedBook is a validated row. Field tags define the Parquet column
// contract consumed by the reporting layer.
type CleanedBook struct {
	Title        string       `parquet:"Title" json:"title"`
	Price        float64      `parquet:"Price" json:"price"`
	Rating       int64        `parquet:"Rating" json:"rating"`
	Availability Availability `parquet:"Availability" json:"availability"`
	URL          string       `parquet:"URL" json:"url"`
	Subcategory  string       `parquet:"Subcategory,optional" json:"subcategory,omitempty"`
}

// ScrapeResult holds the outcome of one catalog traversal.
type ScrapeResult struct {
	Records      []BookRecord
	OutputPath   string
	StartTime    time.Time
	EndTime      time.Time
	PageCount    int
	RequestCount int
	SkippedItems int
	ErrorsByType map[string]int
	// AbortErr is the fetch failure that ended the traversal early, if any.
	AbortErr error
}

// CleanResult holds the outcome of one cleaning run.
type CleanResult struct {
	InputPath  string
	OutputPath string
	SQLitePath string
	RowsRead   int
	RowsKept   int
	Dropped    map[string]int
	Truncated  int
	Warnings   []string
	StartTime  time.Time
	EndTime    time.Time
}

// DroppedTotal sums every drop reason.
func (r *CleanResult) DroppedTotal() int {
	total := 0
	for _, n := range r.Dropped {
		total += n
	}
	return total
}
