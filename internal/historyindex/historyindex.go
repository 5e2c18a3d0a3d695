// Package historyindex is an accelerator index over dupe-key and
// content-hash, letting the dupe coordinator's nzbFound/nzbCompleted
// candidate search run as an indexed SQL query instead of a
// linear scan of the queue and history. It is rebuilt from the canonical
// text-line store (internal/store) at every startup and is never itself
// the source of truth — losing the index file only costs a rebuild, never
// data. Schema changes ship as goose migrations embedded in the binary.
package historyindex

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nzbget-go/core/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Source distinguishes whether a record came from the live Queue or the History.
type Source string

const (
	SourceQueue   Source = "queue"
	SourceHistory Source = "history"
)

// Candidate is one row of the accelerator index, reduced to what
// returnBestDupe needs to rank candidates without touching the
// full Job/DupInfo record.
type Candidate struct {
	ID                  int64
	Source              Source
	Name                string
	DupeKey             string
	DupeScore           int
	DupeMode            model.DupeMode
	FullContentHash     string
	FilteredContentHash string
	IsSuccess           bool
}

// Index wraps the accelerator SQLite database.
type Index struct {
	db  *sql.DB
	log *slog.Logger
}

// Open creates (or reopens) the index database at path and runs pending
// migrations. path may be ":memory:" for tests.
func Open(path string, log *slog.Logger) (*Index, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=10000&_foreign_keys=ON", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("historyindex: open: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer accelerator, no concurrent-writer contention to manage

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("historyindex: ping: %w", err)
	}

	migrationsSub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("historyindex: migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrationsSub)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("historyindex: migration provider: %w", err)
	}
	if _, err := provider.Up(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("historyindex: run migrations: %w", err)
	}

	return &Index{db: db, log: log.With("component", "historyindex")}, nil
}

// Close releases the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Rebuild clears and repopulates the index from the canonical Queue and
// History.
func (idx *Index) Rebuild(ctx context.Context, q *model.Queue, h *model.History) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("historyindex: begin rebuild tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM dupe_records"); err != nil {
		return fmt.Errorf("historyindex: clear: %w", err)
	}

	for _, j := range q.Jobs {
		if err := upsertTx(ctx, tx, SourceQueue, j.ID, j.Name, j.DupeKey, j.DupeScore, j.DupeMode,
			j.FullContentHash, j.FilteredContentHash, false); err != nil {
			return err
		}
	}
	for _, e := range h.Entries {
		full, filtered := e.ContentHashes()
		if err := upsertTx(ctx, tx, SourceHistory, e.ID, e.Name(), e.DupeKey(), e.DupeScore(),
			dupeModeOf(e), full, filtered, e.IsSuccess()); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("historyindex: commit rebuild tx: %w", err)
	}
	idx.log.Info("rebuilt accelerator index", "queue_jobs", len(q.Jobs), "history_entries", len(h.Entries))
	return nil
}

func dupeModeOf(e *model.HistoryEntry) model.DupeMode {
	if e.Job != nil {
		return e.Job.DupeMode
	}
	if e.DupInfo != nil {
		return e.DupInfo.DupeMode
	}
	return model.DupeModeScore
}

// Upsert inserts or replaces a single record, used to keep the index live
// as jobs move between queue and history during normal operation (rather
// than a full Rebuild on every mutation).
func (idx *Index) Upsert(ctx context.Context, source Source, id int64, name, dupeKey string, dupeScore int, dupeMode model.DupeMode, fullHash, filteredHash string, isSuccess bool) error {
	return upsertTx(ctx, idx.db, source, id, name, dupeKey, dupeScore, dupeMode, fullHash, filteredHash, isSuccess)
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertTx(ctx context.Context, ex execer, source Source, id int64, name, dupeKey string, dupeScore int, dupeMode model.DupeMode, fullHash, filteredHash string, isSuccess bool) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO dupe_records (id, source, name, dupe_key, dupe_score, dupe_mode, full_content_hash, filtered_content_hash, is_success, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source = excluded.source, name = excluded.name, dupe_key = excluded.dupe_key,
			dupe_score = excluded.dupe_score, dupe_mode = excluded.dupe_mode,
			full_content_hash = excluded.full_content_hash, filtered_content_hash = excluded.filtered_content_hash,
			is_success = excluded.is_success, updated_at = excluded.updated_at
	`, id, source, name, dupeKey, dupeScore, int(dupeMode), fullHash, filteredHash, boolToInt(isSuccess), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("historyindex: upsert %d: %w", id, err)
	}
	return nil
}

// Delete removes a record, used when a job/history entry is permanently deleted.
func (idx *Index) Delete(ctx context.Context, id int64) error {
	_, err := idx.db.ExecContext(ctx, "DELETE FROM dupe_records WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("historyindex: delete %d: %w", id, err)
	}
	return nil
}

// FindByDupeKey returns every record sharing the given dupe-key
// (case-sensitive at the SQL layer: keys are stored and matched exactly as
// given, with no case folding).
func (idx *Index) FindByDupeKey(ctx context.Context, dupeKey string) ([]Candidate, error) {
	return idx.query(ctx, "SELECT id, source, name, dupe_key, dupe_score, dupe_mode, full_content_hash, filtered_content_hash, is_success FROM dupe_records WHERE dupe_key = ?", dupeKey)
}

// FindByName returns every record with the given name, used as the
// fallback lookup when dupe-key is empty on either side.
func (idx *Index) FindByName(ctx context.Context, name string) ([]Candidate, error) {
	return idx.query(ctx, "SELECT id, source, name, dupe_key, dupe_score, dupe_mode, full_content_hash, filtered_content_hash, is_success FROM dupe_records WHERE name = ?", name)
}

// FindByContentHash returns every record whose full or filtered content
// hash matches.
func (idx *Index) FindByContentHash(ctx context.Context, fullHash, filteredHash string) ([]Candidate, error) {
	return idx.query(ctx, "SELECT id, source, name, dupe_key, dupe_score, dupe_mode, full_content_hash, filtered_content_hash, is_success FROM dupe_records WHERE (full_content_hash != '' AND full_content_hash = ?) OR (filtered_content_hash != '' AND filtered_content_hash = ?)", fullHash, filteredHash)
}

func (idx *Index) query(ctx context.Context, q string, args ...any) ([]Candidate, error) {
	rows, err := idx.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("historyindex: query: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		var dupeMode int
		var isSuccess int
		if err := rows.Scan(&c.ID, &c.Source, &c.Name, &c.DupeKey, &c.DupeScore, &dupeMode, &c.FullContentHash, &c.FilteredContentHash, &isSuccess); err != nil {
			return nil, fmt.Errorf("historyindex: scan: %w", err)
		}
		c.DupeMode = model.DupeMode(dupeMode)
		c.IsSuccess = isSuccess != 0
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("historyindex: rows: %w", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
