package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aluiziolira/bookpipe/models"
	_ "modernc.org/sqlite"
)

const booksTable = "books"

// WriteSQLite mirrors cleaned rows into a SQLite table named books. The
// table is dropped and recreated on every run.
func WriteSQLite(ctx context.Context, filename string, rows []models.CleanedBook) error {
	if err := ensureDir(filename); err != nil {
		return &WriteError{Path: filename, Err: err}
	}

	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return &WriteError{Path: filename, Err: err}
	}
	defer db.Close()

	if err := writeBooks(ctx, db, rows); err != nil {
		return &WriteError{Path: filename, Err: err}
	}
	return nil
}

func writeBooks(ctx context.Context, db *sql.DB, rows []models.CleanedBook) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	ddl := []string{
		`DROP TABLE IF EXISTS "` + booksTable + `"`,
		`CREATE TABLE "` + booksTable + `" (
			"Title" TEXT NOT NULL,
			"Price" REAL NOT NULL,
			"Rating" INTEGER NOT NULL CHECK ("Rating" BETWEEN 1 AND 5),
			"Availability" TEXT NOT NULL,
			"URL" TEXT NOT NULL,
			"Subcategory" TEXT
		)`,
		`CREATE INDEX "idx_books_rating" ON "` + booksTable + `"("Rating")`,
	}
	for _, stmt := range ddl {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("prepare table: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO "`+booksTable+`" ("Title", "Price", "Rating", "Availability", "URL", "Subcategory") VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		var subcategory any
		if row.Subcategory != "" {
			subcategory = row.Subcategory
		}
		if _, err := stmt.ExecContext(ctx, row.Title, row.Price, row.Rating, string(row.Availability), row.URL, subcategory); err != nil {
			return fmt.Errorf("insert %q: %w", row.Title, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
