// Package sqlite provides a SQLite-backed retro snapshot store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	sqlitemigrate "github.com/louisbranch/retroboard/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/retroboard/internal/services/retro/domain"
	"github.com/louisbranch/retroboard/internal/services/retro/storage"
	"github.com/louisbranch/retroboard/internal/services/retro/storage/sqlite/migrations"
)

// Store persists retro snapshots in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// Open opens a SQLite snapshot store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SaveSnapshot inserts or replaces a snapshot. An older version never
// overwrites a newer one.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot domain.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(snapshot.ID) == "" {
		return fmt.Errorf("retro id is required")
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snapshot.ID, err)
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO retro_snapshots (
		   id,
		   name,
		   creator_id,
		   phase,
		   version,
		   created_at,
		   updated_at,
		   payload_json
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   phase = excluded.phase,
		   version = excluded.version,
		   updated_at = excluded.updated_at,
		   payload_json = excluded.payload_json
		 WHERE excluded.version >= retro_snapshots.version`,
		snapshot.ID,
		snapshot.Name,
		snapshot.CreatorID,
		string(snapshot.Phase),
		int64(snapshot.Version),
		toMillis(snapshot.CreatedAt),
		toMillis(snapshot.UpdatedAt),
		string(payload),
	)
	if err != nil {
		return classify(fmt.Errorf("save snapshot %s: %w", snapshot.ID, err))
	}
	return nil
}

// ListSnapshots returns every stored snapshot ordered by creation time.
func (s *Store) ListSnapshots(ctx context.Context) ([]domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id, payload_json FROM retro_snapshots ORDER BY created_at, id`)
	if err != nil {
		return nil, classify(fmt.Errorf("list snapshots: %w", err))
	}
	defer rows.Close()

	var snapshots []domain.Snapshot
	for rows.Next() {
		var retroID, payload string
		if err := rows.Scan(&retroID, &payload); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snapshot, err := decodeSnapshot(retroID, payload)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return snapshots, nil
}

// DeleteSnapshot removes a snapshot.
func (s *Store) DeleteSnapshot(ctx context.Context, retroID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM retro_snapshots WHERE id = ?`, strings.TrimSpace(retroID))
	if err != nil {
		return classify(fmt.Errorf("delete snapshot %s: %w", retroID, err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete snapshot %s rows: %w", retroID, err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func decodeSnapshot(retroID, payload string) (domain.Snapshot, error) {
	var snapshot domain.Snapshot
	if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", retroID, err)
	}
	return snapshot, nil
}

// classify maps lock contention to storage.ErrBusy.
func classify(err error) error {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", storage.ErrBusy, err)
		}
	}
	return err
}

var _ storage.SnapshotStore = (*Store)(nil)
