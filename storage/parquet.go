package storage

import (
	"fmt"
	"os"

	"github.com/aluiziolira/bookpipe/models"
	"github.com/parquet-go/parquet-go"
)

// WriteParquet writes cleaned rows as a Parquet file whose schema comes
// from the models.CleanedBook struct tags.
func WriteParquet(filename string, rows []models.CleanedBook) error {
	return createFile(filename, func(f *os.File) error {
		writer := parquet.NewGenericWriter[models.CleanedBook](f)
		if _, err := writer.Write(rows); err != nil {
			writer.Close()
			return fmt.Errorf("write parquet rows: %w", err)
		}
		if err := writer.Close(); err != nil {
			return fmt.Errorf("close parquet writer: %w", err)
		}
		return nil
	})
}

// ReadParquet loads every row of a cleaned Parquet file.
func ReadParquet(filename string) ([]models.CleanedBook, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, &LoadError{Path: filename, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &LoadError{Path: filename, Err: err}
	}
	rows, err := parquet.Read[models.CleanedBook](f, info.Size())
	if err != nil {
		return nil, &LoadError{Path: filename, Err: fmt.Errorf("read parquet rows: %w", err)}
	}
	return rows, nil
}

// InspectParquet checks that a file carries the reporting columns and
// returns its row count.
func InspectParquet(filename string) (int64, error) {
	f, err := os.Open(filename)
	if err != nil {
		return 0, &LoadError{Path: filename, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, &LoadError{Path: filename, Err: err}
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return 0, &LoadError{Path: filename, Err: fmt.Errorf("open parquet: %w", err)}
	}

	schema := pf.Schema()
	for _, column := range models.RequiredColumns {
		if _, ok := schema.Lookup(column); !ok {
			return 0, &LoadError{Path: filename, Err: fmt.Errorf("missing column %q", column)}
		}
	}
	return pf.NumRows(), nil
}
