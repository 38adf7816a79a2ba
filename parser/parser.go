// Package parser holds the field-level rules shared by the scrape and
// clean stages: item extraction, rating lookup and value coercion.
package parser

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/aluiziolira/bookpipe/models"
)

var (
	// ErrMissingField marks a record without one of the required fields.
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidPrice marks a price that cannot be coerced to a non-negative number.
	ErrInvalidPrice = errors.New("invalid price")
	// ErrInvalidRating marks a rating outside 1..5 or not a rating at all.
	ErrInvalidRating = errors.New("invalid rating")
)

const (
	MinRating = 1
	MaxRating = 5
)

// ratingTable maps the lexical star-rating tokens used in catalog markup.
var ratingTable = map[string]int64{
	"one":   1,
	"two":   2,
	"three": 3,
	"four":  4,
	"five":  5,
}

// LookupRating resolves a lexical rating token such as "Three".
func LookupRating(token string) (int64, bool) {
	n, ok := ratingTable[strings.ToLower(strings.TrimSpace(token))]
	return n, ok
}

// ValidateRecord ensures every required raw field is present.
func ValidateRecord(b models.BookRecord) error {
	fields := []struct {
		name  string
		value string
	}{
		{models.ColumnTitle, b.Title},
		{models.ColumnPrice, b.Price},
		{models.ColumnRating, b.Rating},
		{models.ColumnAvailability, b.Availability},
		{models.ColumnURL, b.URL},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, f.name)
		}
	}
	return nil
}

// ParsePrice strips a leading currency symbol and parses the plain decimal
// that follows it.
func ParsePrice(raw string) (float64, error) {
	trimmed := strings.TrimLeftFunc(strings.TrimSpace(raw), isPriceNoise)
	if !decimalPattern.MatchString(trimmed) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, raw)
	}
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, raw)
	}
	return value, nil
}

// decimalPattern rejects signs, exponents, hex floats and trailing symbols.
var decimalPattern = regexp.MustCompile(`^(\d+(\.\d*)?|\.\d+)$`)

// isPriceNoise matches currency symbols, whitespace and the "Â" left behind
// when a UTF-8 pound sign is decoded as Latin-1.
func isPriceNoise(r rune) bool {
	return unicode.IsSpace(r) || unicode.Is(unicode.Sc, r) || r == 'Â'
}

// ParseRating accepts a numeral ("3", "3.0") or a lexical token ("Three")
// and enforces the 1..5 range.
func ParseRating(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if n, ok := LookupRating(raw); ok {
		return n, nil
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidRating, raw)
		}
		n = int64(f)
	}
	if n < MinRating || n > MaxRating {
		return 0, fmt.Errorf("%w: %d out of range", ErrInvalidRating, n)
	}
	return n, nil
}

// NormalizeAvailability maps free stock text onto the two-value enum.
func NormalizeAvailability(text string) models.Availability {
	if strings.Contains(strings.ToLower(text), "in stock") {
		return models.InStock
	}
	return models.OutOfStock
}

// CollapseSpace trims and joins internal whitespace runs with one space.
func CollapseSpace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
