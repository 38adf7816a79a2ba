package storage

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aluiziolira/bookpipe/models"
)

// WriteRawCSV writes a header row followed by one row per record.
// withSubcategory adds the optional Subcategory column.
func WriteRawCSV(filename string, records []models.BookRecord, withSubcategory bool) error {
	if len(records) == 0 {
		return &WriteError{Path: filename, Err: errors.New("no records to write")}
	}

	return createFile(filename, func(f *os.File) error {
		buffer := bufio.NewWriter(f)
		writer := csv.NewWriter(buffer)

		if err := writer.Write(records[0].Columns(withSubcategory)); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
		for _, record := range records {
			if err := writer.Write(record.Values(withSubcategory)); err != nil {
				return fmt.Errorf("write csv record: %w", err)
			}
		}

		writer.Flush()
		if err := writer.Error(); err != nil {
			return fmt.Errorf("flush csv records: %w", err)
		}
		return buffer.Flush()
	})
}

// ReadRawCSV loads every row of a raw file. Columns are matched by header
// name, case-insensitively; unknown columns are ignored and short rows are
// padded with empty values.
func ReadRawCSV(filename string) ([]models.BookRecord, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, &LoadError{Path: filename, Err: err}
	}
	defer f.Close()

	reader := csv.NewReader(bufio.NewReader(f))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("file is empty")
		}
		return nil, &LoadError{Path: filename, Err: fmt.Errorf("read csv header: %w", err)}
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimPrefix(name, "\ufeff")
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range models.RequiredColumns {
		if _, ok := index[strings.ToLower(required)]; !ok {
			return nil, &LoadError{Path: filename, Err: fmt.Errorf("missing column %q", required)}
		}
	}

	field := func(row []string, column string) string {
		i, ok := index[strings.ToLower(column)]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	var records []models.BookRecord
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &LoadError{Path: filename, Err: fmt.Errorf("read csv record: %w", err)}
		}
		records = append(records, models.BookRecord{
			Title:        field(row, models.ColumnTitle),
			Price:        field(row, models.ColumnPrice),
			Rating:       field(row, models.ColumnRating),
			Availability: field(row, models.ColumnAvailability),
			URL:          field(row, models.ColumnURL),
			Subcategory:  field(row, models.ColumnSubcategory),
		})
	}
	return records, nil
}
