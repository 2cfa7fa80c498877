// Package catalog keeps a SQLite history of completed captures.
package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var initSchemaSQL string

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("capture not found")

// Entry is one recorded capture.
type Entry struct {
	ID         int64
	CreatedAt  time.Time
	Path       string
	Format     string
	Backend    string
	Device     string
	CenterFreq float64
	SampleRate float64
	Gain       float64
	NumSamples int
	Channels   []int
	Duration   time.Duration
}

// Catalog is a SQLite backed capture history.
type Catalog struct {
	db *sql.DB

	closeOnce sync.Once
	closeErr  error
}

// Open opens or creates the catalog at path and initializes the schema.
func Open(path string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating catalog directory: %w", err)
	}
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", path, "_journal_mode=WAL&_synchronous=NORMAL"))
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	if _, err := db.Exec(initSchemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

const insertCaptureSQL = `
INSERT INTO captures (created_at,
                      path,
                      format,
                      backend,
                      device,
                      center_freq,
                      sample_rate,
                      gain,
                      num_samples,
                      channels,
                      duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Record stores e and returns its id. A zero CreatedAt is set to now.
func (c *Catalog) Record(ctx context.Context, e Entry) (id int64, err error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	channels, err := json.Marshal(e.Channels)
	if err != nil {
		return 0, fmt.Errorf("marshaling channels: %w", err)
	}

	stmt, err := c.db.PrepareContext(ctx, insertCaptureSQL)
	if err != nil {
		return 0, fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(ctx,
		e.CreatedAt.UTC(),
		e.Path,
		e.Format,
		e.Backend,
		e.Device,
		e.CenterFreq,
		e.SampleRate,
		e.Gain,
		e.NumSamples,
		string(channels),
		e.Duration.Milliseconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting capture: %w", err)
	}
	return result.LastInsertId()
}

const selectCapturesSQL = `
SELECT id,
       created_at,
       path,
       format,
       backend,
       device,
       center_freq,
       sample_rate,
       gain,
       num_samples,
       channels,
       duration_ms
FROM captures`

// List returns up to limit entries, newest first. A limit <= 0 returns all.
func (c *Catalog) List(ctx context.Context, limit int) (entries []Entry, err error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := c.db.QueryContext(ctx, selectCapturesSQL+"\nORDER BY created_at DESC, id DESC\nLIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("querying captures: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating captures: %w", err)
	}
	return entries, nil
}

// Get returns the entry with the given id.
func (c *Catalog) Get(ctx context.Context, id int64) (*Entry, error) {
	row := c.db.QueryRowContext(ctx, selectCapturesSQL+"\nWHERE id = ?", id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEntry(row interface{ Scan(...any) error }) (Entry, error) {
	var (
		e          Entry
		channels   string
		durationMS int64
	)
	err := row.Scan(&e.ID, &e.CreatedAt, &e.Path, &e.Format, &e.Backend, &e.Device,
		&e.CenterFreq, &e.SampleRate, &e.Gain, &e.NumSamples, &channels, &durationMS)
	if err != nil {
		return Entry{}, fmt.Errorf("scanning capture: %w", err)
	}
	if err := json.Unmarshal([]byte(channels), &e.Channels); err != nil {
		return Entry{}, fmt.Errorf("decoding channels of capture %d: %w", e.ID, err)
	}
	e.Duration = time.Duration(durationMS) * time.Millisecond
	return e, nil
}

// Close releases the database. It is safe to call more than once.
func (c *Catalog) Close() error {
	c.closeOnce.Do(func() {
		if c.db != nil {
			c.closeErr = c.db.Close()
		}
	})
	return c.closeErr
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}
