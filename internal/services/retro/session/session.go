// Package session runs one retro as a single-owner actor.
//
// All mutating commands for a retro go through one goroutine, which owns the
// domain.State. After every accepted command the actor stores a deep copy of
// the state behind an atomic pointer; queries read that copy and never wait
// behind the command queue.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/retroboard/internal/platform/errors"
	"github.com/louisbranch/retroboard/internal/platform/id"
	"github.com/louisbranch/retroboard/internal/services/retro/domain"
	"github.com/louisbranch/retroboard/internal/services/retro/eventbus"
)

const (
	tracerName = "github.com/louisbranch/retroboard/internal/services/retro/session"

	defaultQueueSize = 64
)

// Config configures a session.
type Config struct {
	Policy domain.Policy
	// NewID generates card ids. Defaults to id.NewID.
	NewID id.Generator
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
	// MaxPending bounds each subscriber queue. Defaults to eventbus.DefaultMaxPending.
	MaxPending int
	// QueueSize is the command channel buffer.
	QueueSize int
	// Tracer defaults to the global otel tracer provider.
	Tracer trace.Tracer
}

// Result is the outcome of an accepted command as seen by its actor.
type Result struct {
	Version uint64
	Phase   domain.Phase
	Events  []domain.Event
	Card    *domain.CardView
	Roster  []domain.ParticipantView
}

const (
	requestPending int32 = iota
	requestRunning
	requestAbandoned
)

// request is one unit of work for the actor. The actor and the caller race to
// claim a pending request: the actor runs it only if the caller has not
// abandoned it first, so an abandoned request never touches state.
type request struct {
	status   atomic.Int32
	run      func(*domain.State)
	finished chan struct{}
}

func (r *request) start() bool {
	return r.status.CompareAndSwap(requestPending, requestRunning)
}

func (r *request) abandon() bool {
	return r.status.CompareAndSwap(requestPending, requestAbandoned)
}

// Session is a running retro.
type Session struct {
	id     string
	env    domain.Env
	bus    *eventbus.Bus
	tracer trace.Tracer

	requests chan *request
	current  atomic.Pointer[domain.State]

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
}

// New creates a retro and starts its actor.
func New(input domain.CreateRetro, cfg Config) (*Session, error) {
	cfg = withDefaults(cfg)
	state, err := domain.NewState(input, cfg.NewID, cfg.Now())
	if err != nil {
		return nil, err
	}
	return start(state, cfg), nil
}

// FromState starts an actor around an existing state, as restored from a
// snapshot. The session takes ownership of state.
func FromState(state *domain.State, cfg Config) (*Session, error) {
	if state == nil {
		return nil, fmt.Errorf("retro state is required")
	}
	return start(state, withDefaults(cfg)), nil
}

func withDefaults(cfg Config) Config {
	if cfg.NewID == nil {
		cfg.NewID = id.NewID
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Policy == (domain.Policy{}) {
		cfg.Policy = domain.DefaultPolicy()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	return cfg
}

func start(state *domain.State, cfg Config) *Session {
	s := &Session{
		id:       state.ID,
		env:      domain.Env{Policy: cfg.Policy, NewID: cfg.NewID, Now: cfg.Now},
		bus:      eventbus.New(eventbus.WithMaxPending(cfg.MaxPending)),
		tracer:   cfg.Tracer,
		requests: make(chan *request, cfg.QueueSize),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.current.Store(state.Clone())
	go s.loop(state)
	return s
}

func (s *Session) loop(state *domain.State) {
	defer close(s.done)
	for {
		select {
		case req := <-s.requests:
			if req.start() {
				req.run(state)
				close(req.finished)
			}
		case <-s.closing:
			return
		}
	}
}

// ID returns the retro id.
func (s *Session) ID() string {
	return s.id
}

func errClosed(retroID string) error {
	return apperrors.New(apperrors.CodeSessionClosed, fmt.Sprintf("retro %s is closed", retroID))
}

// submit runs fn on the actor goroutine and waits for it to finish. When it
// returns an error fn did not run and never will. Once the actor has started
// fn, submit waits for it even if ctx ends.
func (s *Session) submit(ctx context.Context, fn func(*domain.State)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	req := &request{run: fn, finished: make(chan struct{})}

	select {
	case <-s.closing:
		return errClosed(s.id)
	default:
	}
	select {
	case s.requests <- req:
	case <-s.closing:
		return errClosed(s.id)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.finished:
		return nil
	case <-s.done:
	case <-ctx.Done():
	}
	if req.abandon() {
		if err := ctx.Err(); err != nil {
			return err
		}
		return errClosed(s.id)
	}
	<-req.finished
	return nil
}

// Execute runs cmd on the actor. On error nothing changed and nothing was
// published, including when ctx ends while the command is still queued.
func (s *Session) Execute(ctx context.Context, cmd domain.Command) (Result, error) {
	if cmd == nil {
		return Result{}, apperrors.New(apperrors.CodeInvalidArgument, "command is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := s.tracer.Start(ctx, "retro.session."+cmd.Name(), trace.WithAttributes(
		attribute.String("retro.id", s.id),
		attribute.String("retro.actor_id", cmd.Actor()),
	))
	defer span.End()

	var (
		result  Result
		execErr error
	)
	err := s.submit(ctx, func(state *domain.State) {
		result, execErr = s.apply(state, cmd)
	})
	if ctxErr := ctx.Err(); err != nil && errors.Is(err, ctxErr) {
		err = apperrors.Wrap(apperrors.CodeCommandTimeout, fmt.Sprintf("%s was not applied", cmd.Name()), err)
	}
	if err == nil {
		err = execErr
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.CodeOf(err)))
		return Result{}, err
	}
	span.SetAttributes(
		attribute.Int64("retro.version", int64(result.Version)),
		attribute.Int("retro.events", len(result.Events)),
	)
	return result, nil
}

func (s *Session) apply(state *domain.State, cmd domain.Command) (Result, error) {
	decision, err := domain.Decide(state, cmd, s.env)
	if err != nil {
		return Result{}, err
	}
	var events []domain.Event
	if !decision.Empty() {
		events = state.Apply(decision)
		s.current.Store(state.Clone())
		for _, evt := range events {
			s.bus.Publish(evt)
		}
	}
	return buildResult(state, cmd, events), nil
}

func buildResult(state *domain.State, cmd domain.Command, events []domain.Event) Result {
	result := Result{Version: state.Version, Phase: state.Phase, Events: events}
	viewCard := func(cardID string) {
		if card, ok := state.Card(cardID); ok {
			view := domain.ViewCard(card, cmd.Actor())
			result.Card = &view
		}
	}
	switch c := cmd.(type) {
	case domain.Join, domain.Leave:
		result.Roster = domain.ViewParticipants(state.ActiveParticipants())
	case domain.AddCard:
		for _, evt := range events {
			if added, ok := evt.Payload.(domain.CardAdded); ok {
				viewCard(added.Card.ID)
			}
		}
	case domain.EditCard:
		viewCard(c.CardID)
	case domain.Vote:
		viewCard(c.CardID)
	}
	return result
}

// View returns the latest committed state projected for viewerID.
func (s *Session) View(viewerID string) domain.RetroView {
	return s.current.Load().View(viewerID)
}

// Summary returns the list entry of the latest committed state.
func (s *Session) Summary() domain.Summary {
	return s.current.Load().Summary()
}

// Snapshot returns the serializable form of the latest committed state.
func (s *Session) Snapshot() domain.Snapshot {
	return s.current.Load().Snapshot()
}

// SubscribeAndView registers a stream and reads the view on the actor, so the
// first event delivered has Seq == view.Version+1.
func (s *Session) SubscribeAndView(ctx context.Context, viewerID string) (*eventbus.Subscription, domain.RetroView, error) {
	var (
		sub    *eventbus.Subscription
		view   domain.RetroView
		subErr error
	)
	err := s.submit(ctx, func(state *domain.State) {
		sub, subErr = s.bus.Subscribe(viewerID)
		if subErr == nil {
			view = state.View(viewerID)
		}
	})
	if err != nil {
		return nil, domain.RetroView{}, err
	}
	if subErr != nil {
		return nil, domain.RetroView{}, errClosed(s.id)
	}
	return sub, view, nil
}

// Close stops the actor and ends every subscription. Later commands fail with
// SESSION_CLOSED.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closing)
		<-s.done
		s.bus.Close()
	})
}
