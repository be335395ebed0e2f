package models

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// ErrNotRegistered is returned by Registry.Get for unknown models.
var ErrNotRegistered = errors.New("model not registered")

// Record is one row of the registry.
type Record struct {
	ModelID        string
	Dir            string
	SizeBytes      int64
	DownloadedUnix int64
	Status         string
	Error          string
}

// Registry persists the outcome of downloads so status survives restarts.
type Registry struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

func NewRegistry(path string) *Registry {
	return &Registry{path: path}
}

func (r *Registry) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", r.path)
	if err != nil {
		return err
	}
	// One writer is enough and keeps sqlite from reporting SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
		_ = db.Close()
		return err
	}

	schema := `
CREATE TABLE IF NOT EXISTS models (
  model_id TEXT PRIMARY KEY,
  dir TEXT NOT NULL,
  size_bytes INTEGER NOT NULL DEFAULT 0,
  downloaded_unix INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'ready',
  error TEXT NOT NULL DEFAULT ''
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return err
	}

	r.db = db
	return nil
}

func (r *Registry) Upsert(ctx context.Context, rec Record) error {
	db, err := r.ensureDB(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(rec.ModelID) == "" {
		return ErrEmptyModelID
	}

	_, err = db.ExecContext(
		ctx,
		`INSERT INTO models(model_id, dir, size_bytes, downloaded_unix, status, error)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(model_id) DO UPDATE SET
		   dir=excluded.dir,
		   size_bytes=excluded.size_bytes,
		   downloaded_unix=excluded.downloaded_unix,
		   status=excluded.status,
		   error=excluded.error`,
		rec.ModelID,
		rec.Dir,
		rec.SizeBytes,
		rec.DownloadedUnix,
		defaultIfEmpty(rec.Status, "ready"),
		rec.Error,
	)
	return err
}

func (r *Registry) Get(ctx context.Context, modelID string) (Record, error) {
	db, err := r.ensureDB(ctx)
	if err != nil {
		return Record{}, err
	}

	var rec Record
	row := db.QueryRowContext(
		ctx,
		`SELECT model_id, dir, size_bytes, downloaded_unix, status, error
		 FROM models WHERE model_id = ?`,
		modelID,
	)
	if err := row.Scan(&rec.ModelID, &rec.Dir, &rec.SizeBytes, &rec.DownloadedUnix, &rec.Status, &rec.Error); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotRegistered
		}
		return Record{}, err
	}
	return rec, nil
}

// List returns every registered model ordered by id.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	db, err := r.ensureDB(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(
		ctx,
		`SELECT model_id, dir, size_bytes, downloaded_unix, status, error
		 FROM models ORDER BY model_id`,
	)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ModelID, &rec.Dir, &rec.SizeBytes, &rec.DownloadedUnix, &rec.Status, &rec.Error); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Registry) Delete(ctx context.Context, modelID string) error {
	db, err := r.ensureDB(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM models WHERE model_id = ?`, modelID)
	return err
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

func (r *Registry) ensureDB(ctx context.Context) (*sql.DB, error) {
	if err := r.Init(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil, errors.New("sqlite db not initialized")
	}
	return r.db, nil
}

func defaultIfEmpty(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
