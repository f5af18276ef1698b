// Package storage defines persistence contracts for retro snapshots.
package storage

import (
	"context"
	"errors"

	"github.com/louisbranch/retroboard/internal/services/retro/domain"
)

var (
	// ErrNotFound indicates a snapshot to delete is missing.
	ErrNotFound = errors.New("record not found")
	// ErrBusy indicates the database was locked by another writer.
	ErrBusy = errors.New("storage busy")
)

// SnapshotStore persists retro snapshots for restart recovery.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snapshot domain.Snapshot) error
	ListSnapshots(ctx context.Context) ([]domain.Snapshot, error)
	DeleteSnapshot(ctx context.Context, retroID string) error
}
