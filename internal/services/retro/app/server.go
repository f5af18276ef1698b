// Package server hosts the retro HTTP API, the WebSocket event stream, and
// the gRPC health endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"

	platformgrpc "github.com/louisbranch/retroboard/internal/platform/grpc"
	"github.com/louisbranch/retroboard/internal/platform/timeouts"
	"github.com/louisbranch/retroboard/internal/services/retro/domain"
	"github.com/louisbranch/retroboard/internal/services/retro/identity"
	"github.com/louisbranch/retroboard/internal/services/retro/registry"
	"github.com/louisbranch/retroboard/internal/services/retro/session"
	"github.com/louisbranch/retroboard/internal/services/retro/storage/sqlite"
)

// HealthService is the gRPC health service name reported alongside "".
const HealthService = "retroboard.retro"

// Config defines the inputs for the retro process.
type Config struct {
	HTTPAddr string
	// GRPCAddr serves grpc.health.v1. Empty disables it.
	GRPCAddr string
	// DBPath enables snapshot persistence. Empty keeps everything in memory.
	DBPath               string
	SnapshotInterval     time.Duration
	Policy               domain.Policy
	SubscriberMaxPending int
	Identity             identity.Config
	ReadHeaderTimeout    time.Duration
	ShutdownTimeout      time.Duration
}

// Server hosts the retro process.
type Server struct {
	shutdownTimeout time.Duration
	registry        *registry.Registry
	store           *sqlite.Store
	snapshots       *snapshotter

	httpListener net.Listener
	httpServer   *http.Server

	grpcListener net.Listener
	grpcServer   *gogrpc.Server
	health       *health.Server
}

// NewServer opens storage, restores persisted retros and binds listeners.
func NewServer(ctx context.Context, config Config) (*Server, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	s := &Server{
		shutdownTimeout: config.ShutdownTimeout,
		registry: registry.New(session.Config{
			Policy:     config.Policy,
			MaxPending: config.SubscriberMaxPending,
		}),
	}

	if dbPath := strings.TrimSpace(config.DBPath); dbPath != "" {
		store, err := sqlite.Open(dbPath)
		if err != nil {
			return nil, fmt.Errorf("open snapshot store: %w", err)
		}
		s.store = store
		s.snapshots = newSnapshotter(store, s.registry, config.SnapshotInterval)
		restored, err := s.snapshots.restore(ctx)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("restore retros: %w", err)
		}
		log.Printf("retro: restored retros=%d running=%d path=%q", restored, s.registry.Len(), dbPath)
	}

	httpListener, err := net.Listen("tcp", httpAddr)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("listen on %s: %w", httpAddr, err)
	}
	s.httpListener = httpListener
	s.httpServer = &http.Server{
		Handler:           NewHandler(s.registry, identity.NewResolver(config.Identity)),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	if grpcAddr := strings.TrimSpace(config.GRPCAddr); grpcAddr != "" {
		grpcListener, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("listen on %s: %w", grpcAddr, err)
		}
		s.grpcListener = grpcListener
		s.grpcServer, s.health = platformgrpc.NewHealthServer(HealthService)
	}
	return s, nil
}

// Run creates and serves a retro server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(ctx, config)
	if err != nil {
		return fmt.Errorf("init retro server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve retro: %w", err)
	}
	return nil
}

// HTTPAddr returns the bound HTTP address.
func (s *Server) HTTPAddr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// GRPCAddr returns the bound gRPC health address, or "" when disabled.
func (s *Server) GRPCAddr() string {
	if s == nil || s.grpcListener == nil {
		return ""
	}
	return s.grpcListener.Addr().String()
}

// Registry returns the sessions served by s.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// ListenAndServe serves until the context ends, then saves snapshots and stops
// every session.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("retro server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 2)
	log.Printf("retro: http listening addr=%s", s.HTTPAddr())
	go func() {
		serveErr <- s.httpServer.Serve(s.httpListener)
	}()
	if s.grpcServer != nil {
		log.Printf("retro: grpc health listening addr=%s", s.GRPCAddr())
		go func() {
			serveErr <- s.grpcServer.Serve(s.grpcListener)
		}()
	}

	snapshotCtx, stopSnapshots := context.WithCancel(ctx)
	snapshotsDone := make(chan struct{})
	go func() {
		defer close(snapshotsDone)
		if s.snapshots != nil {
			s.snapshots.run(snapshotCtx)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, gogrpc.ErrServerStopped) {
			runErr = fmt.Errorf("serve: %w", err)
		}
	}
	stopSnapshots()
	<-snapshotsDone

	if err := s.shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (s *Server) shutdown() error {
	if s.health != nil {
		s.health.Shutdown()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
	}
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	if s.snapshots != nil {
		written, err := s.snapshots.flush(shutdownCtx)
		if err != nil {
			errs = append(errs, fmt.Errorf("save snapshots: %w", err))
		}
		log.Printf("retro: saved snapshots on shutdown written=%d", written)
	}
	s.registry.Close()
	log.Printf("retro: shutdown complete")
	return errors.Join(errs...)
}

// Close releases server resources. Sessions still running are stopped
// without a final snapshot.
func (s *Server) Close() {
	if s == nil {
		return
	}
	s.registry.Close()
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.grpcListener != nil {
		_ = s.grpcListener.Close()
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	if s.httpListener != nil {
		_ = s.httpListener.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("retro: close snapshot store: %v", err)
		}
	}
}
