package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
)

// #region model-record
// ModelRecord is one committed version of a named model's weights.
type ModelRecord struct {
	VersionID   string
	ParentID    string
	Name        string
	Weights     []byte // encoded by the owning package
	Accuracy    float64
	MetricsJSON string
	CreatedAt   time.Time
}

// #endregion model-record

// #region commit-model
// CommitModel inserts a new version of rec.Name and makes it active. The
// previously active version becomes its parent. VersionID and CreatedAt are
// filled in when empty.
func (s *Store) CommitModel(ctx context.Context, rec ModelRecord) (ModelRecord, error) {
	if rec.Name == "" {
		return ModelRecord{}, herr.InvalidArgf("model name is required")
	}
	if len(rec.Weights) == 0 {
		return ModelRecord{}, herr.InvalidArgf("model %s has no weights", rec.Name)
	}
	if rec.VersionID == "" {
		rec.VersionID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ModelRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if rec.ParentID == "" {
		var parent string
		err := tx.QueryRowContext(ctx, `SELECT version_id FROM active_model WHERE name = ?`, rec.Name).Scan(&parent)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return ModelRecord{}, herr.Storagef(err, "read active %s", rec.Name)
		}
		rec.ParentID = parent
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO model_versions (version_id, parent_id, name, weights, accuracy, metrics_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.VersionID, nullIfEmpty(rec.ParentID), rec.Name, rec.Weights, rec.Accuracy,
		nullIfEmpty(rec.MetricsJSON), rec.CreatedAt.UTC().Format(tsLayout),
	)
	if err != nil {
		return ModelRecord{}, herr.Storagef(err, "insert model %s", rec.VersionID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO active_model (name, version_id) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET version_id = excluded.version_id`,
		rec.Name, rec.VersionID,
	)
	if err != nil {
		return ModelRecord{}, herr.Storagef(err, "update active %s", rec.Name)
	}

	if err := tx.Commit(); err != nil {
		return ModelRecord{}, herr.Storagef(err, "commit model %s", rec.VersionID)
	}
	return rec, nil
}

// #endregion commit-model

// #region active-model
// ActiveModel returns the active version of name. A model that was never
// committed yields KindNotFound.
func (s *Store) ActiveModel(ctx context.Context, name string) (ModelRecord, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT version_id FROM active_model WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ModelRecord{}, herr.NotFoundf("no active version of model %s", name)
	}
	if err != nil {
		return ModelRecord{}, herr.Storagef(err, "get active %s", name)
	}
	return s.GetModel(ctx, id)
}

// #endregion active-model

// #region get-model
// GetModel retrieves one version by ID.
func (s *Store) GetModel(ctx context.Context, id string) (ModelRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT version_id, parent_id, name, weights, accuracy, metrics_json, created_at
		 FROM model_versions WHERE version_id = ?`, id)
	rec, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ModelRecord{}, herr.NotFoundf("model version %s not found", id)
	}
	if err != nil {
		return ModelRecord{}, herr.Storagef(err, "get model %s", id)
	}
	return rec, nil
}

// #endregion get-model

// #region rollback
// Rollback points name's active version at an earlier version of the same model.
func (s *Store) Rollback(ctx context.Context, name, versionID string) error {
	var owner string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM model_versions WHERE version_id = ?`, versionID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return herr.NotFoundf("model version %s not found", versionID)
	}
	if err != nil {
		return herr.Storagef(err, "check version %s", versionID)
	}
	if owner != name {
		return herr.InvalidArgf("version %s belongs to model %s, not %s", versionID, owner, name)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO active_model (name, version_id) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET version_id = excluded.version_id`,
		name, versionID,
	)
	if err != nil {
		return herr.Storagef(err, "rollback %s", name)
	}
	return nil
}

// #endregion rollback

// #region list-models
// ListModels returns the most recent versions of name, newest first.
func (s *Store) ListModels(ctx context.Context, name string, limit int) ([]ModelRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT version_id, parent_id, name, weights, accuracy, metrics_json, created_at
		 FROM model_versions WHERE name = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, name, limit)
	if err != nil {
		return nil, herr.Storagef(err, "list models")
	}
	defer rows.Close()

	var out []ModelRecord
	for rows.Next() {
		rec, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// #endregion list-models

type scanner interface {
	Scan(dest ...any) error
}

func scanModel(sc scanner) (ModelRecord, error) {
	var rec ModelRecord
	var parentID, metricsJSON sql.NullString
	var created string
	if err := sc.Scan(&rec.VersionID, &parentID, &rec.Name, &rec.Weights, &rec.Accuracy, &metricsJSON, &created); err != nil {
		return ModelRecord{}, err
	}
	rec.ParentID = parentID.String
	rec.MetricsJSON = metricsJSON.String
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return rec, nil
}
