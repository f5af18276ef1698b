package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/louisbranch/retroboard/internal/services/retro/domain"
	"github.com/louisbranch/retroboard/internal/services/retro/registry"
	"github.com/louisbranch/retroboard/internal/services/retro/storage"
)

// DefaultSnapshotInterval is how often changed retros are saved.
const DefaultSnapshotInterval = 10 * time.Second

// snapshotter copies registry state into a snapshot store.
type snapshotter struct {
	store    storage.SnapshotStore
	registry *registry.Registry
	interval time.Duration

	mu    sync.Mutex
	saved map[string]uint64
}

func newSnapshotter(store storage.SnapshotStore, reg *registry.Registry, interval time.Duration) *snapshotter {
	if interval <= 0 {
		interval = DefaultSnapshotInterval
	}
	return &snapshotter{
		store:    store,
		registry: reg,
		interval: interval,
		saved:    map[string]uint64{},
	}
}

// restore loads every stored snapshot into the registry. Snapshots that fail
// validation are logged and skipped.
func (s *snapshotter) restore(ctx context.Context) (int, error) {
	snapshots, err := s.store.ListSnapshots(ctx)
	if err != nil {
		return 0, fmt.Errorf("list snapshots: %w", err)
	}
	restored := 0
	for _, snapshot := range snapshots {
		if err := s.registry.Restore(snapshot); err != nil {
			log.Printf("retro: skip snapshot retro=%q err=%v", snapshot.ID, err)
			continue
		}
		s.markSaved(snapshot.ID, snapshot.Version)
		restored++
	}
	return restored, nil
}

func (s *snapshotter) markSaved(retroID string, version uint64) {
	s.mu.Lock()
	s.saved[retroID] = version
	s.mu.Unlock()
}

func (s *snapshotter) savedVersion(retroID string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	version, ok := s.saved[retroID]
	return version, ok
}

// flush saves every retro whose version moved since its last save and deletes
// the stored snapshot of every retro removed from the registry since then. It
// returns how many snapshots were written.
func (s *snapshotter) flush(ctx context.Context) (int, error) {
	var errs []error
	written := 0
	live := s.registry.Snapshots()
	for _, snapshot := range live {
		if version, ok := s.savedVersion(snapshot.ID); ok && version == snapshot.Version {
			continue
		}
		if err := s.store.SaveSnapshot(ctx, snapshot); err != nil {
			errs = append(errs, fmt.Errorf("save retro %s: %w", snapshot.ID, err))
			continue
		}
		s.markSaved(snapshot.ID, snapshot.Version)
		written++
	}
	if !s.registry.Closed() {
		errs = append(errs, s.deleteRemoved(ctx, live)...)
	}
	return written, errors.Join(errs...)
}

// deleteRemoved drops stored snapshots of retros that were saved or restored
// earlier but are no longer running.
func (s *snapshotter) deleteRemoved(ctx context.Context, live []domain.Snapshot) []error {
	running := make(map[string]struct{}, len(live))
	for _, snapshot := range live {
		running[snapshot.ID] = struct{}{}
	}
	s.mu.Lock()
	var removed []string
	for retroID := range s.saved {
		if _, ok := running[retroID]; !ok {
			removed = append(removed, retroID)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, retroID := range removed {
		if err := s.store.DeleteSnapshot(ctx, retroID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete retro %s: %w", retroID, err))
			continue
		}
		s.mu.Lock()
		delete(s.saved, retroID)
		s.mu.Unlock()
		log.Printf("retro: deleted snapshot of removed retro=%q", retroID)
	}
	return errs
}

// run flushes on every tick until ctx ends.
func (s *snapshotter) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.flush(ctx); err != nil && ctx.Err() == nil {
				log.Printf("retro: snapshot flush failed: %v", err)
			}
		}
	}
}
