// Package sqlite provides the embedded durable tier: a layout cache
// table and an append-only change log table in a single SQLite file.
// It is the default backend for CLI usage, where a server-side store
// is not available.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/saptak/screenshotnotes-sub005/pkg/changelog"
	"github.com/saptak/screenshotnotes-sub005/pkg/layoutcache"
	"github.com/saptak/screenshotnotes-sub005/pkg/mindmap"
)

const schema = `
CREATE TABLE IF NOT EXISTS layout_cache (
	fingerprint    TEXT PRIMARY KEY,
	positions      BLOB NOT NULL,
	source_version INTEGER NOT NULL,
	saved_at       TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS cache_coverage (
	node_id     TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	PRIMARY KEY (node_id, fingerprint)
);
CREATE INDEX IF NOT EXISTS idx_coverage_node ON cache_coverage(node_id);
CREATE TABLE IF NOT EXISTS change_log (
	version_id  INTEGER PRIMARY KEY,
	record_id   TEXT NOT NULL,
	ts          TEXT NOT NULL,
	change_type TEXT NOT NULL,
	origin      TEXT NOT NULL,
	node_ids    TEXT NOT NULL,
	checksum    TEXT NOT NULL
);
`

// Store is a SQLite-backed durable tier implementing both the layout
// cache contract and the change-log appender.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database at path with WAL mode enabled
// and initializes the schema. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// =============================================================================
// Layout Cache Table
// =============================================================================

// Get returns the snapshot for the fingerprint.
func (s *Store) Get(ctx context.Context, fingerprint string) (layoutcache.Snapshot, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT positions, source_version, saved_at FROM layout_cache WHERE fingerprint = ?`,
		fingerprint)

	var (
		blob    []byte
		version uint64
		savedAt string
	)
	if err := row.Scan(&blob, &version, &savedAt); err != nil {
		if err == sql.ErrNoRows {
			return layoutcache.Snapshot{}, false, nil
		}
		return layoutcache.Snapshot{}, false, fmt.Errorf("query layout_cache: %w", err)
	}

	positions := make(map[string]mindmap.Position)
	if err := json.Unmarshal(blob, &positions); err != nil {
		return layoutcache.Snapshot{}, false, fmt.Errorf("decode positions: %w", err)
	}
	ts, _ := time.Parse(time.RFC3339Nano, savedAt)
	return layoutcache.Snapshot{
		Fingerprint:   fingerprint,
		Positions:     positions,
		SourceVersion: version,
		SavedAt:       ts,
	}, true, nil
}

// Put stores the snapshot and its coverage rows in one transaction, so
// the entry is fully visible or not at all.
func (s *Store) Put(ctx context.Context, snap layoutcache.Snapshot) error {
	blob, err := json.Marshal(snap.Positions)
	if err != nil {
		return fmt.Errorf("encode positions: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO layout_cache (fingerprint, positions, source_version, saved_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
		   positions = excluded.positions,
		   source_version = excluded.source_version,
		   saved_at = excluded.saved_at`,
		snap.Fingerprint, blob, snap.SourceVersion, snap.SavedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("upsert layout_cache: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cache_coverage WHERE fingerprint = ?`, snap.Fingerprint); err != nil {
		return fmt.Errorf("reset coverage: %w", err)
	}
	for id := range snap.Positions {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO cache_coverage (node_id, fingerprint) VALUES (?, ?)`,
			id, snap.Fingerprint); err != nil {
			return fmt.Errorf("insert coverage: %w", err)
		}
	}
	return tx.Commit()
}

// Invalidate removes every entry covering any of the given nodes.
func (s *Store) Invalidate(ctx context.Context, nodeIDs []string) (int, error) {
	if len(nodeIDs) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(nodeIDs)), ",")
	args := make([]any, len(nodeIDs))
	for i, id := range nodeIDs {
		args[i] = id
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT DISTINCT fingerprint FROM cache_coverage WHERE node_id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return 0, fmt.Errorf("query coverage: %w", err)
	}
	var stale []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			rows.Close()
			return 0, err
		}
		stale = append(stale, fp)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, fp := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM layout_cache WHERE fingerprint = ?`, fp); err != nil {
			return 0, fmt.Errorf("delete entry: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache_coverage WHERE fingerprint = ?`, fp); err != nil {
			return 0, fmt.Errorf("delete coverage: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(stale), nil
}

// Clear wipes the layout cache tables. The change log is untouched.
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM layout_cache`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_coverage`); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// Change Log Table
// =============================================================================

// AppendChange mirrors an accepted change record into the change_log
// table. Version ids are assigned by the tracker; a duplicate version
// is a programming error surfaced by the primary key.
func (s *Store) AppendChange(ctx context.Context, rec changelog.Record) error {
	ids, err := json.Marshal(rec.NodeIDs)
	if err != nil {
		return fmt.Errorf("encode node ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO change_log (version_id, record_id, ts, change_type, origin, node_ids, checksum)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.VersionID, rec.RecordID, rec.Timestamp.UTC().Format(time.RFC3339Nano),
		string(rec.Type), string(rec.Origin), string(ids), rec.Checksum)
	if err != nil {
		return fmt.Errorf("insert change_log: %w", err)
	}
	return nil
}

// ChangesSince returns every persisted record with version id greater
// than version, in ascending order.
func (s *Store) ChangesSince(ctx context.Context, version uint64) ([]changelog.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version_id, record_id, ts, change_type, origin, node_ids, checksum
		 FROM change_log WHERE version_id > ? ORDER BY version_id`, version)
	if err != nil {
		return nil, fmt.Errorf("query change_log: %w", err)
	}
	defer rows.Close()

	var out []changelog.Record
	for rows.Next() {
		var (
			rec     changelog.Record
			ts, typ string
			origin  string
			ids     string
		)
		if err := rows.Scan(&rec.VersionID, &rec.RecordID, &ts, &typ, &origin, &ids, &rec.Checksum); err != nil {
			return nil, err
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		rec.Type = changelog.ChangeType(typ)
		rec.Origin = changelog.Origin(origin)
		if err := json.Unmarshal([]byte(ids), &rec.NodeIDs); err != nil {
			return nil, fmt.Errorf("decode node ids: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Ensure Store satisfies both durable contracts.
var (
	_ layoutcache.Store  = (*Store)(nil)
	_ changelog.Appender = (*Store)(nil)
)
