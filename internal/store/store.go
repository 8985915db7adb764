// Package store persists sessions, turns, model versions and the decision log in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
	"github.com/danielpatrickdp/hybrid-router/internal/query"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key         TEXT PRIMARY KEY,
	blob        BLOB NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS turns (
	id          TEXT PRIMARY KEY,
	project     TEXT NOT NULL,
	query       TEXT NOT NULL,
	response    TEXT NOT NULL,
	priority    INTEGER NOT NULL,
	route       TEXT NOT NULL,
	confidence  REAL NOT NULL,
	model       TEXT,
	tokens      INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL,
	unscoped    INTEGER NOT NULL DEFAULT 0,
	features    BLOB
);

CREATE INDEX IF NOT EXISTS idx_turns_project ON turns(project, created_at);

CREATE TABLE IF NOT EXISTS model_versions (
	version_id    TEXT PRIMARY KEY,
	parent_id     TEXT,
	name          TEXT NOT NULL,
	weights       BLOB NOT NULL,
	accuracy      REAL NOT NULL,
	metrics_json  TEXT,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES model_versions(version_id)
);

CREATE TABLE IF NOT EXISTS active_model (
	name        TEXT PRIMARY KEY,
	version_id  TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES model_versions(version_id)
);

CREATE TABLE IF NOT EXISTS decision_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	query_id    TEXT NOT NULL,
	project     TEXT NOT NULL,
	route       TEXT NOT NULL,
	confidence  REAL NOT NULL,
	source      TEXT NOT NULL,
	rule_id     TEXT,
	reason      TEXT,
	detail_json TEXT,
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decision_log_project ON decision_log(project, id);
`

// #endregion schema

// #region store-struct

// Store wraps a SQLite database.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor

// Open opens (or creates) the database at dbPath and runs migrations.
// ":memory:" gives a private in-memory database.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dbPath == ":memory:" {
		// each pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	for _, c := range []struct{ name, decl string }{
		{"unscoped", "INTEGER NOT NULL DEFAULT 0"},
		{"features", "BLOB"},
	} {
		if err := addColumn(db, "turns", c.name, c.decl); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// addColumn adds column to table when a database created by an older schema lacks it.
func addColumn(db *sql.DB, table, column, decl string) error {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()
	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl))
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region kv

// Save upserts an opaque blob under key.
func (s *Store) Save(ctx context.Context, key string, blob []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, blob, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at`,
		key, blob, time.Now().UTC().Format(tsLayout),
	)
	if err != nil {
		return herr.Storagef(err, "save %s", key)
	}
	return nil
}

// Load returns the blob stored under key; ok is false when the key is absent.
func (s *Store) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT blob FROM kv WHERE key = ?`, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, herr.Storagef(err, "load %s", key)
	}
	return blob, true, nil
}

// Keys lists stored keys with the given prefix.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE substr(key, 1, ?) = ? ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, herr.Storagef(err, "list keys")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// #endregion kv

// #region turns

// RecordTurn appends a completed turn along with the feature vector it was routed on.
func (s *Store) RecordTurn(ctx context.Context, t query.Turn) error {
	var vec any
	if len(t.Features) > 0 {
		vec = EncodeVector(t.Features)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (id, project, query, response, priority, route, confidence, model, tokens, created_at, unscoped, features)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Project, t.Query, t.Response, t.Priority, t.Route.String(), t.Confidence,
		nullIfEmpty(t.Model), t.Tokens, t.CreatedAt.UTC().Format(tsLayout), t.Unscoped, vec,
	)
	if err != nil {
		return herr.Storagef(err, "record turn %s", t.ID)
	}
	return nil
}

// ListTurns returns the most recent limit turns (all when limit <= 0) in
// oldest-first order. An empty project lists all projects.
func (s *Store) ListTurns(ctx context.Context, project string, limit int) ([]query.Turn, error) {
	q := `SELECT id, project, query, response, priority, route, confidence, model, tokens, created_at, unscoped, features, rowid AS seq
	      FROM turns`
	args := []any{}
	if project != "" {
		q += ` WHERE project = ?`
		args = append(args, project)
	}
	if limit > 0 {
		q = `SELECT id, project, query, response, priority, route, confidence, model, tokens, created_at, unscoped, features, seq
		     FROM (` + q + ` ORDER BY created_at DESC, seq DESC LIMIT ?)`
		args = append(args, limit)
	}
	q += ` ORDER BY created_at ASC, seq ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, herr.Storagef(err, "list turns")
	}
	defer rows.Close()

	var turns []query.Turn
	for rows.Next() {
		var t query.Turn
		var route, created string
		var model sql.NullString
		var vec []byte
		var seq int64
		if err := rows.Scan(&t.ID, &t.Project, &t.Query, &t.Response, &t.Priority,
			&route, &t.Confidence, &model, &t.Tokens, &created, &t.Unscoped, &vec, &seq); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if len(vec) > 0 {
			t.Features = DecodeVector(vec)
		}
		if t.Route, err = query.ParseRoute(route); err != nil {
			return nil, herr.Wrapf(err, herr.KindStorage, "turn %s", t.ID)
		}
		t.Model = model.String
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// CountTurns returns the number of stored turns per route.
func (s *Store) CountTurns(ctx context.Context) (map[query.Route]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT route, COUNT(*) FROM turns GROUP BY route`)
	if err != nil {
		return nil, herr.Storagef(err, "count turns")
	}
	defer rows.Close()

	out := make(map[query.Route]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		r, err := query.ParseRoute(name)
		if err != nil {
			continue
		}
		out[r] = n
	}
	return out, rows.Err()
}

// #endregion turns

// #region helpers

// tsLayout is fixed-width so stored timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
