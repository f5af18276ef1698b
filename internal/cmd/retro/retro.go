// Package retro parses retro command flags and composes the service entrypoint.
package retro

import (
	"context"
	"flag"
	"fmt"
	"net"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/retroboard/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/retroboard/internal/platform/grpc"
	server "github.com/louisbranch/retroboard/internal/services/retro/app"
	"github.com/louisbranch/retroboard/internal/services/retro/domain"
	"github.com/louisbranch/retroboard/internal/services/retro/identity"
)

// Config holds retro command configuration.
type Config struct {
	HTTPAddr             string        `env:"RETROBOARD_HTTP_ADDR"              envDefault:":8090"`
	GRPCAddr             string        `env:"RETROBOARD_GRPC_ADDR"              envDefault:":8092"`
	DBPath               string        `env:"RETROBOARD_DB_PATH"`
	SnapshotInterval     time.Duration `env:"RETROBOARD_SNAPSHOT_INTERVAL"      envDefault:"10s"`
	PhaseControl         string        `env:"RETROBOARD_PHASE_CONTROL"          envDefault:"any"`
	VoteOutsideVoting    string        `env:"RETROBOARD_VOTE_OUTSIDE_VOTING"    envDefault:"reject"`
	SubscriberMaxPending int           `env:"RETROBOARD_SUBSCRIBER_MAX_PENDING" envDefault:"1024"`

	// HealthCheck probes a running server instead of starting one.
	HealthCheck bool
}

// healthCheckTimeout bounds a -healthcheck probe.
const healthCheckTimeout = 5 * time.Second

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "retro HTTP listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "SQLite snapshot database path (empty keeps retros in memory)")
	fs.DurationVar(&cfg.SnapshotInterval, "snapshot-interval", cfg.SnapshotInterval, "interval between snapshot saves")
	fs.StringVar(&cfg.PhaseControl, "phase-control", cfg.PhaseControl, "who may change the phase: any or creator")
	fs.StringVar(&cfg.VoteOutsideVoting, "vote-outside-voting", cfg.VoteOutsideVoting, "votes outside the voting phase: reject or allow")
	fs.IntVar(&cfg.SubscriberMaxPending, "subscriber-max-pending", cfg.SubscriberMaxPending, "events buffered per subscriber before it is dropped")
	fs.BoolVar(&cfg.HealthCheck, "healthcheck", false, "check the gRPC health of a running server at -grpc-addr and exit")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if _, err := cfg.Policy(); err != nil {
		return Config{}, err
	}
	if cfg.SnapshotInterval <= 0 {
		return Config{}, fmt.Errorf("snapshot interval must be positive, got %s", cfg.SnapshotInterval)
	}
	return cfg, nil
}

// Policy returns the retro rules selected by cfg.
func (cfg Config) Policy() (domain.Policy, error) {
	phaseControl, err := domain.ParsePhaseControl(cfg.PhaseControl)
	if err != nil {
		return domain.Policy{}, fmt.Errorf("phase control: %w", err)
	}
	voteWindow, err := domain.ParseVoteWindow(cfg.VoteOutsideVoting)
	if err != nil {
		return domain.Policy{}, fmt.Errorf("vote outside voting: %w", err)
	}
	return domain.Policy{PhaseControl: phaseControl, VoteOutsideVoting: voteWindow}, nil
}

// Run builds the retro app and serves it until ctx ends. With HealthCheck set
// it probes the server at GRPCAddr instead.
func Run(ctx context.Context, cfg Config) error {
	if cfg.HealthCheck {
		return CheckHealth(ctx, cfg.GRPCAddr, healthCheckTimeout)
	}
	policy, err := cfg.Policy()
	if err != nil {
		return err
	}
	identityConfig, err := identity.LoadConfigFromEnv(time.Now)
	if err != nil {
		return fmt.Errorf("load identity config: %w", err)
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRetro, func(ctx context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:             cfg.HTTPAddr,
			GRPCAddr:             cfg.GRPCAddr,
			DBPath:               cfg.DBPath,
			SnapshotInterval:     cfg.SnapshotInterval,
			Policy:               policy,
			SubscriberMaxPending: cfg.SubscriberMaxPending,
			Identity:             identityConfig,
		}); err != nil {
			return fmt.Errorf("serve retro: %w", err)
		}
		return nil
	})
}

// CheckHealth reports whether the retro gRPC health service at addr is
// SERVING within timeout. A listen address without a host probes localhost.
func CheckHealth(ctx context.Context, addr string, timeout time.Duration) error {
	target, err := probeTarget(addr)
	if err != nil {
		return err
	}
	conn, err := platformgrpc.NewClient(target)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return platformgrpc.WaitForHealth(ctx, conn, server.HealthService, nil)
}

func probeTarget(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("health check requires a gRPC address")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("parse gRPC address %q: %w", addr, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port), nil
}
