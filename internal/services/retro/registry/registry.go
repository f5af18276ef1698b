// Package registry owns every running retro session in the process.
package registry

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "github.com/louisbranch/retroboard/internal/platform/errors"
	"github.com/louisbranch/retroboard/internal/services/retro/domain"
	"github.com/louisbranch/retroboard/internal/services/retro/filter"
	"github.com/louisbranch/retroboard/internal/services/retro/session"
)

const (
	// DefaultPageSize is used when a list request omits page_size.
	DefaultPageSize = 50
	// MaxPageSize caps page_size.
	MaxPageSize = 200
)

// CreateRetroInput is the input for Create.
type CreateRetroInput struct {
	Name        string
	CreatorID   string
	CreatorName string
	Lanes       []string
}

// ListOptions selects a page of summaries.
type ListOptions struct {
	Filter    string
	PageSize  int
	PageToken string
}

// ListPage is one page of summaries ordered by creation time then id.
type ListPage struct {
	Retros        []domain.Summary
	NextPageToken string
	TotalSize     int
}

// Registry maps retro ids to sessions. Sessions are only added and removed
// through its methods.
type Registry struct {
	cfg session.Config

	mu       sync.RWMutex
	sessions map[string]*session.Session
	closed   bool
}

// New creates an empty registry. Every session it starts uses cfg.
func New(cfg session.Config) *Registry {
	return &Registry{
		cfg:      cfg,
		sessions: map[string]*session.Session{},
	}
}

func notFound(retroID string) error {
	return apperrors.WithMetadata(
		apperrors.CodeRetroNotFound,
		fmt.Sprintf("retro %q not found", retroID),
		map[string]string{"RetroID": retroID},
	)
}

func errRegistryClosed() error {
	return apperrors.New(apperrors.CodeSessionClosed, "registry is closed")
}

// Create starts a new retro with the creator joined.
func (r *Registry) Create(ctx context.Context, input CreateRetroInput) (domain.RetroView, error) {
	if err := ctx.Err(); err != nil {
		return domain.RetroView{}, err
	}
	s, err := session.New(domain.CreateRetro{
		Name:        input.Name,
		CreatorID:   input.CreatorID,
		CreatorName: input.CreatorName,
		Lanes:       input.Lanes,
	}, r.cfg)
	if err != nil {
		return domain.RetroView{}, err
	}
	if err := r.add(s); err != nil {
		s.Close()
		return domain.RetroView{}, err
	}
	return s.View(strings.TrimSpace(input.CreatorID)), nil
}

func (r *Registry) add(s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errRegistryClosed()
	}
	if _, exists := r.sessions[s.ID()]; exists {
		return fmt.Errorf("retro %s already registered", s.ID())
	}
	r.sessions[s.ID()] = s
	return nil
}

// Restore starts a session from a persisted snapshot.
func (r *Registry) Restore(snapshot domain.Snapshot) error {
	state, err := domain.Restore(snapshot)
	if err != nil {
		return fmt.Errorf("restore retro: %w", err)
	}
	s, err := session.FromState(state, r.cfg)
	if err != nil {
		return err
	}
	if err := r.add(s); err != nil {
		s.Close()
		return err
	}
	return nil
}

// Get returns the running session for retroID.
func (r *Registry) Get(retroID string) (*session.Session, error) {
	retroID = strings.TrimSpace(retroID)
	r.mu.RLock()
	s, ok := r.sessions[retroID]
	r.mu.RUnlock()
	if !ok {
		return nil, notFound(retroID)
	}
	return s, nil
}

// Retro returns the retro projected for viewerID.
func (r *Registry) Retro(ctx context.Context, retroID, viewerID string) (domain.RetroView, error) {
	if err := ctx.Err(); err != nil {
		return domain.RetroView{}, err
	}
	s, err := r.Get(retroID)
	if err != nil {
		return domain.RetroView{}, err
	}
	return s.View(viewerID), nil
}

// Execute looks up retroID and runs cmd on it.
func (r *Registry) Execute(ctx context.Context, retroID string, cmd domain.Command) (session.Result, error) {
	s, err := r.Get(retroID)
	if err != nil {
		return session.Result{}, err
	}
	return s.Execute(ctx, cmd)
}

func (r *Registry) all() []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// List returns a page of summaries. It reads committed snapshots only and
// never waits on a session's command queue.
func (r *Registry) List(opts ListOptions) (ListPage, error) {
	predicate, err := filter.Parse(opts.Filter)
	if err != nil {
		return ListPage{}, err
	}
	pageSize := clampPageSize(opts.PageSize)
	offset, err := decodePageToken(opts.PageToken)
	if err != nil {
		return ListPage{}, err
	}

	var matched []domain.Summary
	for _, s := range r.all() {
		if summary := s.Summary(); predicate(summary) {
			matched = append(matched, summary)
		}
	}
	slices.SortFunc(matched, func(a, b domain.Summary) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	page := ListPage{TotalSize: len(matched), Retros: []domain.Summary{}}
	if offset >= len(matched) {
		return page, nil
	}
	end := min(offset+pageSize, len(matched))
	page.Retros = matched[offset:end]
	if end < len(matched) {
		page.NextPageToken = encodePageToken(end)
	}
	return page, nil
}

func clampPageSize(value int) int {
	if value <= 0 {
		return DefaultPageSize
	}
	return min(value, MaxPageSize)
}

func encodePageToken(offset int) string {
	return "o" + strconv.Itoa(offset)
}

func decodePageToken(token string) (int, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, nil
	}
	offset, err := strconv.Atoi(strings.TrimPrefix(token, "o"))
	if !strings.HasPrefix(token, "o") || err != nil || offset < 0 {
		return 0, apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("invalid page token %q", token))
	}
	return offset, nil
}

// Remove stops a session and forgets it.
func (r *Registry) Remove(retroID string) error {
	retroID = strings.TrimSpace(retroID)
	r.mu.Lock()
	s, ok := r.sessions[retroID]
	delete(r.sessions, retroID)
	r.mu.Unlock()
	if !ok {
		return notFound(retroID)
	}
	s.Close()
	return nil
}

// Snapshots returns the committed state of every session.
func (r *Registry) Snapshots() []domain.Snapshot {
	sessions := r.all()
	snapshots := make([]domain.Snapshot, 0, len(sessions))
	for _, s := range sessions {
		snapshots = append(snapshots, s.Snapshot())
	}
	slices.SortFunc(snapshots, func(a, b domain.Snapshot) int { return strings.Compare(a.ID, b.ID) })
	return snapshots
}

// Len returns the number of running sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Closed reports whether Close has been called.
func (r *Registry) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Close stops every session. Later Create and Restore calls fail.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	sessions := r.sessions
	r.sessions = map[string]*session.Session{}
	r.mu.Unlock()

	start := time.Now()
	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()
	if len(sessions) > 0 {
		log.Printf("retro: registry closed sessions=%d elapsed=%s", len(sessions), time.Since(start))
	}
}
