// Package sqlite stores documents as rows of a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/cyp0633/localcal/storage"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Blob implements storage.Blob on a documents table.
type Blob struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens a SQLite database at the given path and runs migrations.
func Open(dbPath string) (*Blob, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dbPath == ":memory:" {
		// every connection would get its own database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping db: %v", storage.ErrStorageUnavailable, err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Blob{db: db, now: time.Now}, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	return nil
}

// Close closes the database.
func (b *Blob) Close() error {
	return b.db.Close()
}

func (b *Blob) Load(ctx context.Context, name string) ([]byte, storage.Info, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, storage.Info{}, err
	}
	var data []byte
	info := storage.Info{Name: name}
	err := b.db.QueryRowContext(ctx,
		`SELECT data, etag, size, updated_at FROM documents WHERE name = ?`, name,
	).Scan(&data, &info.ETag, &info.Size, &info.Modified)
	if err != nil {
		return nil, storage.Info{}, wrap(err, "load document %s", name)
	}
	return data, info, nil
}

func (b *Blob) Save(ctx context.Context, name string, data []byte) (storage.Info, error) {
	if err := storage.ValidateName(name); err != nil {
		return storage.Info{}, err
	}
	info := storage.Info{
		Name:     name,
		ETag:     storage.ETag(data),
		Size:     int64(len(data)),
		Modified: b.now().UTC(),
	}
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO documents (name, data, etag, size, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   data = excluded.data, etag = excluded.etag, size = excluded.size, updated_at = excluded.updated_at`,
		info.Name, data, info.ETag, info.Size, info.Modified,
	)
	if err != nil {
		return storage.Info{}, wrap(err, "save document %s", name)
	}
	return info, nil
}

func (b *Blob) Stat(ctx context.Context, name string) (storage.Info, error) {
	if err := storage.ValidateName(name); err != nil {
		return storage.Info{}, err
	}
	info := storage.Info{Name: name}
	err := b.db.QueryRowContext(ctx,
		`SELECT etag, size, updated_at FROM documents WHERE name = ?`, name,
	).Scan(&info.ETag, &info.Size, &info.Modified)
	if err != nil {
		return storage.Info{}, wrap(err, "stat document %s", name)
	}
	return info, nil
}

func (b *Blob) Delete(ctx context.Context, name string) error {
	if err := storage.ValidateName(name); err != nil {
		return err
	}
	result, err := b.db.ExecContext(ctx, `DELETE FROM documents WHERE name = ?`, name)
	if err != nil {
		return wrap(err, "delete document %s", name)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("delete document %s: %w", name, storage.ErrNotFound)
	}
	return nil
}

func (b *Blob) List(ctx context.Context) ([]storage.Info, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT name, etag, size, updated_at FROM documents ORDER BY name`,
	)
	if err != nil {
		return nil, wrap(err, "list documents")
	}
	defer rows.Close()

	var infos []storage.Info
	for rows.Next() {
		var info storage.Info
		if err := rows.Scan(&info.Name, &info.ETag, &info.Size, &info.Modified); err != nil {
			return nil, wrap(err, "scan document")
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err, "list documents")
	}
	return infos, nil
}

func wrap(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", msg, storage.ErrNotFound)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", msg, err)
	default:
		return fmt.Errorf("%s: %w: %v", msg, storage.ErrStorageUnavailable, err)
	}
}
