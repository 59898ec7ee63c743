package filestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Catalog records upload metadata in SQLite so sniffed content types survive
// restarts.
type Catalog struct {
	db *sql.DB
}

// Record is one catalogued upload.
type Record struct {
	Filename     string
	OriginalName string
	Size         int64
	ContentType  string
	UploadedAt   time.Time
}

// OpenCatalog opens (or creates) the catalog database at path.
func OpenCatalog(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Catalog{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS files (
		filename TEXT PRIMARY KEY,
		original_name TEXT NOT NULL,
		size INTEGER NOT NULL,
		content_type TEXT NOT NULL,
		uploaded_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create catalog schema: %w", err)
	}
	return nil
}

// Put inserts or replaces rec.
func (c *Catalog) Put(ctx context.Context, rec Record) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO files (filename, original_name, size, content_type, uploaded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.Filename, rec.OriginalName, rec.Size, rec.ContentType, rec.UploadedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record upload %s: %w", rec.Filename, err)
	}
	return nil
}

// Get returns the record for filename, or ErrNotFound.
func (c *Catalog) Get(ctx context.Context, filename string) (Record, error) {
	var (
		rec        Record
		uploadedAt int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT filename, original_name, size, content_type, uploaded_at FROM files WHERE filename = ?`,
		filename,
	).Scan(&rec.Filename, &rec.OriginalName, &rec.Size, &rec.ContentType, &uploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to look up %s: %w", filename, err)
	}
	rec.UploadedAt = time.UnixMilli(uploadedAt)
	return rec, nil
}

// Count returns the number of catalogued uploads.
func (c *Catalog) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count uploads: %w", err)
	}
	return n, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}
