package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/pavandhadge/vectron/clustermeta/internal/config"
	"github.com/pavandhadge/vectron/clustermeta/internal/dedupe"
	"github.com/pavandhadge/vectron/clustermeta/internal/fsm"
	"github.com/pavandhadge/vectron/clustermeta/internal/logger"
	"github.com/pavandhadge/vectron/clustermeta/internal/metrics"
	"github.com/pavandhadge/vectron/clustermeta/internal/operations"
	"github.com/pavandhadge/vectron/clustermeta/internal/planner"
	"github.com/pavandhadge/vectron/clustermeta/internal/raft"
	"github.com/pavandhadge/vectron/clustermeta/internal/reconciler"
	"github.com/pavandhadge/vectron/clustermeta/internal/server"
	"github.com/pavandhadge/vectron/clustermeta/internal/storage"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a metadata node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := config.LoadEnvFile(); err != nil {
				return err
			}
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	m := metrics.New()
	if err := m.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	catalog, err := storage.OpenCatalog(cfg.Catalog.Dir)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer catalog.Close()

	applier, err := fsm.New(fsm.Options{
		Defaults: cfg.Defaults,
		Catalog:  catalog,
		Logger:   log.Named("fsm"),
		Observer: m,
	})
	if err != nil {
		return err
	}

	dd, err := dedupe.New(ctx, cfg.Dedupe, log)
	if err != nil {
		return fmt.Errorf("nop dedupe: %w", err)
	}
	defer dd.Close()

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	node, err := startNode(cfg.Raft, raft.Options{
		FSM:     applier,
		Dedupe:  dd,
		Metrics: m,
		Logger:  log,
		OnLeadershipChange: func(isLeader bool) {
			status := healthpb.HealthCheckResponse_NOT_SERVING
			if isLeader {
				status = healthpb.HealthCheckResponse_SERVING
			}
			healthSrv.SetServingStatus("", status)
		},
	})
	if err != nil {
		return fmt.Errorf("raft: %w", err)
	}
	defer func() {
		if err := node.Shutdown(); err != nil {
			log.Warn("Raft shutdown failed", zap.Error(err))
		}
	}()

	self := operations.PeerID(cfg.Node.PeerID)
	registry := reconciler.NewRegistry(cfg.Reconciler.PeerTimeout)
	registry.Heartbeat(self)

	api := server.New(server.Options{
		Proposer: node,
		State:    applier,
		Planner:  planner.New(applier, cfg.Defaults, log.Named("planner")),
		Registry: registry,
		Auth:     authenticator(cfg),
		Logger:   log.Named("http"),
	})
	rec := reconciler.New(cfg.Reconciler, applier, node, registry, m, log.Named("reconciler"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return api.Run(gctx, cfg.Node.HTTPAddr) })
	g.Go(func() error { return rec.Run(gctx) })
	g.Go(func() error { return heartbeatSelf(gctx, registry, self, cfg.Reconciler.PeerTimeout/3) })
	if cfg.Node.GRPCAddr != "" {
		g.Go(func() error { return serveHealth(gctx, cfg.Node.GRPCAddr, healthSrv, log) })
	}

	log.Info("Metadata node started",
		zap.String("engine", cfg.Raft.Engine),
		zap.String("node_id", node.NodeID()),
		logger.Peer(cfg.Node.PeerID),
		zap.String("raft_addr", node.Addr()),
		zap.String("http_addr", cfg.Node.HTTPAddr))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("Metadata node stopped")
	return nil
}

// consensusNode is what serve needs from either raft engine.
type consensusNode interface {
	server.Proposer
	NodeID() string
	Addr() string
	Shutdown() error
}

func startNode(cfg raft.Config, opts raft.Options) (consensusNode, error) {
	if cfg.Engine == raft.EngineDragonboat {
		return raft.NewDragonboatNode(cfg, opts)
	}
	return raft.NewNode(cfg, opts)
}

func authenticator(cfg *config.Config) *server.Authenticator {
	if cfg.Auth.Disabled {
		return nil
	}
	return server.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Leeway)
}

// heartbeatSelf keeps the local peer alive in the registry.
func heartbeatSelf(ctx context.Context, registry *reconciler.Registry, self operations.PeerID, every time.Duration) error {
	if every <= 0 {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			registry.Heartbeat(self)
		case <-ctx.Done():
			return nil
		}
	}
}

func serveHealth(ctx context.Context, addr string, hs *health.Server, log *zap.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s := grpc.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	go func() {
		<-ctx.Done()
		hs.Shutdown()
		s.GracefulStop()
	}()
	log.Info("gRPC health listening", zap.String("addr", lis.Addr().String()))
	if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
