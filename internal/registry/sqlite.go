package registry

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable document registry backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the document registry database in dir.
func NewSQLiteStore(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}

	dbPath := filepath.Join(dir, "documents.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open document registry db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		size_mb    REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init document registry schema: %w", err)
	}
	return nil
}

// Add inserts a document record. The ingest pipeline calls this after a
// successful upload.
func (s *SQLiteStore) Add(doc Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document id is empty")
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO documents (id, name, size_mb, created_at) VALUES (?, ?, ?, ?)`,
		doc.ID, doc.Name, doc.SizeMB, doc.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", doc.ID, err)
	}
	return nil
}

// List returns all documents ordered by creation time ascending, ties broken
// by id for a stable order.
func (s *SQLiteStore) List() ([]Document, error) {
	rows, err := s.db.Query(
		`SELECT id, name, size_mb, created_at FROM documents ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		var createdAt int64
		if err := rows.Scan(&doc.ID, &doc.Name, &doc.SizeMB, &createdAt); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		doc.CreatedAt = time.Unix(0, createdAt).UTC()
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Delete permanently removes the given documents. Missing IDs are ignored.
func (s *SQLiteStore) Delete(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	if _, err := s.db.Exec(`DELETE FROM documents WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
