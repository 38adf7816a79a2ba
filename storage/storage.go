// Package storage persists raw and cleaned book rows.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteError reports a failure to persist an output file.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// LoadError reports a missing or unreadable input file.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}

// createFile opens filename for writing and hands it to fill. The file is
// always closed, and removed again when fill or Close fails.
func createFile(filename string, fill func(*os.File) error) (err error) {
	if err := ensureDir(filename); err != nil {
		return &WriteError{Path: filename, Err: err}
	}

	f, err := os.Create(filename)
	if err != nil {
		return &WriteError{Path: filename, Err: err}
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = &WriteError{Path: filename, Err: cerr}
		}
		if err != nil {
			os.Remove(filename)
		}
	}()

	if err := fill(f); err != nil {
		return &WriteError{Path: filename, Err: err}
	}
	return nil
}
