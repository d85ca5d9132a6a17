package storage

import (
	"context"
	"database/sql"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/wippyai/unity-host/errors"

	// Pure-Go SQLite driver for database/sql.
	_ "github.com/glebarez/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS entries (
	key      TEXT PRIMARY KEY,
	mode     INTEGER NOT NULL,
	mtime    INTEGER NOT NULL,
	contents BLOB
)`

// SQLite is a Store in a single SQLite database file.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (or creates) the database {dir}/{name}.sqlite3.
func OpenSQLite(dir, name string) (*SQLite, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.PhaseFilesystem, errors.KindInvalidInput, err, "create storage directory")
	}
	return openSQLite(filepath.Join(dir, name+".sqlite3"))
}

// OpenSQLiteMemory opens a private in-memory database.
func OpenSQLiteMemory() (*SQLite, error) {
	return openSQLite(":memory:")
}

func openSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseFilesystem, errors.KindNotInitialized, err, "open database "+path)
	}
	// :memory: databases are per-connection
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		_, _ = db.Exec("PRAGMA journal_mode=WAL")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(errors.PhaseFilesystem, errors.KindNotInitialized, err, "create schema")
	}
	return &SQLite{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLite) Path() string { return s.path }

func (s *SQLite) Get(ctx context.Context, key string) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT mode, mtime, contents FROM entries WHERE key = ?`, key)

	var (
		mode     int64
		mtime    int64
		contents []byte
	)
	if err := row.Scan(&mode, &mtime, &contents); err != nil {
		if err == sql.ErrNoRows {
			return Entry{}, false, nil
		}
		return Entry{}, false, errors.Wrap(errors.PhaseFilesystem, errors.KindInvalidData, err, "get "+key)
	}
	return Entry{
		Key:      key,
		Mode:     fs.FileMode(mode),
		ModTime:  time.UnixMilli(mtime),
		Contents: contents,
	}, true, nil
}

func (s *SQLite) Put(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (key, mode, mtime, contents) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET mode = excluded.mode, mtime = excluded.mtime, contents = excluded.contents`,
		e.Key, int64(e.Mode), e.ModTime.UnixMilli(), e.Contents)
	if err != nil {
		return errors.Wrap(errors.PhaseFilesystem, errors.KindInvalidData, err, "put "+e.Key)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key); err != nil {
		return errors.Wrap(errors.PhaseFilesystem, errors.KindInvalidData, err, "delete "+key)
	}
	return nil
}

func (s *SQLite) List(ctx context.Context, prefix string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, mode, mtime, contents FROM entries WHERE substr(key, 1, ?) = ? ORDER BY key`,
		len(prefix), prefix)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseFilesystem, errors.KindInvalidData, err, "list "+prefix)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e     Entry
			mode  int64
			mtime int64
		)
		if err := rows.Scan(&e.Key, &mode, &mtime, &e.Contents); err != nil {
			return nil, errors.Wrap(errors.PhaseFilesystem, errors.KindInvalidData, err, "scan entry")
		}
		e.Mode = fs.FileMode(mode)
		e.ModTime = time.UnixMilli(mtime)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.PhaseFilesystem, errors.KindInvalidData, err, "list "+prefix)
	}
	return out, nil
}

func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
