package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// ErrNoDocument is returned by a Backend that has nothing stored yet.
var ErrNoDocument = errors.New("no document stored")

// Backend persists the serialized document.
type Backend interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
}

// FileBackend keeps the document in one JSON file.
type FileBackend struct {
	fs   afero.Fs
	path string
}

func NewFileBackend(fs afero.Fs, path string) *FileBackend {
	return &FileBackend{fs: fs, path: path}
}

func (b *FileBackend) Path() string { return b.path }

func (b *FileBackend) Load(context.Context) ([]byte, error) {
	data, err := afero.ReadFile(b.fs, b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoDocument
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.path, err)
	}
	return data, nil
}

// Save writes to a sibling temp file and renames it over the target.
func (b *FileBackend) Save(_ context.Context, data []byte) error {
	if dir := filepath.Dir(b.path); dir != "." {
		if err := b.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	tmp := b.path + ".tmp"
	if err := afero.WriteFile(b.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := b.fs.Rename(tmp, b.path); err != nil {
		_ = b.fs.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// Ping reports whether the data directory is reachable.
func (b *FileBackend) Ping(context.Context) error {
	_, err := b.fs.Stat(filepath.Dir(b.path))
	return err
}

// SQLBackend keeps the document as a single row of the documents table.
type SQLBackend struct {
	db     *sql.DB
	driver string
	id     string
}

func NewSQLBackend(db *sql.DB, driver string) *SQLBackend {
	return &SQLBackend{db: db, driver: driver, id: "default"}
}

func (b *SQLBackend) Load(ctx context.Context) ([]byte, error) {
	var body string
	err := b.db.QueryRowContext(ctx, rebind(b.driver, `SELECT body FROM documents WHERE id=?`), b.id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoDocument
	}
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	return []byte(body), nil
}

func (b *SQLBackend) Save(ctx context.Context, data []byte) error {
	_, err := b.db.ExecContext(ctx, rebind(b.driver, `
		INSERT INTO documents (id, body, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET body = excluded.body, updated_at = CURRENT_TIMESTAMP
	`), b.id, string(data))
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

func (b *SQLBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}
