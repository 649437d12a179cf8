// Package server is the HTTP API of a cluster metadata node. It turns user
// requests into operations, plans their deferred slots, proposes them to the
// log and maps the apply outcome to a response.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pavandhadge/vectron/clustermeta/internal/fsm"
	"github.com/pavandhadge/vectron/clustermeta/internal/operations"
	"github.com/pavandhadge/vectron/clustermeta/internal/planner"
	"github.com/pavandhadge/vectron/clustermeta/internal/reconciler"
)

const (
	proposeTimeout  = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Proposer is the write side of the replicated log.
type Proposer interface {
	Propose(ctx context.Context, op operations.Operation) (fsm.ApplyResponse, error)
	IsLeader() bool
	Leader() (id, addr string)
	Join(ctx context.Context, id, addr string) error
}

// State is the read side of the applied metadata.
type State interface {
	Collection(name string) (*fsm.CollectionState, bool)
	Collections() []*fsm.CollectionState
	Aliases() map[string]string
	ResolveAlias(alias string) (string, bool)
	Transfers() []operations.ShardTransfer
	AppliedIndex() uint64
}

// Options carries the collaborators of a Server.
type Options struct {
	Proposer Proposer
	State    State
	Planner  *planner.Planner
	Registry *reconciler.Registry
	// Auth is nil when authentication is disabled.
	Auth     *Authenticator
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server serves the metadata API.
type Server struct {
	proposer Proposer
	state    State
	planner  *planner.Planner
	registry *reconciler.Registry
	auth     *Authenticator
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		proposer: opts.Proposer,
		state:    opts.State,
		planner:  opts.Planner,
		registry: opts.Registry,
		auth:     opts.Auth,
		gatherer: opts.Gatherer,
		logger:   opts.Logger,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		if s.auth != nil {
			r.Use(s.auth.Middleware)
		}

		r.Get("/collections", s.listCollections)
		r.Route("/collections/{name}", func(r chi.Router) {
			r.Get("/", s.getCollection)
			r.Put("/", s.createCollection)
			r.Patch("/", s.updateCollection)
			r.Delete("/", s.deleteCollection)
			r.Put("/shards/{shard}/replicas/{peer}", s.setReplicaState)
		})

		r.Get("/aliases", s.listAliases)
		r.Post("/aliases", s.changeAliases)

		r.Get("/transfers", s.listTransfers)
		r.Post("/transfers/start", s.startTransfer)
		r.Post("/transfers/finish", s.finishTransfer)
		r.Post("/transfers/abort", s.abortTransfer)

		r.Get("/peers", s.listPeers)
		r.Post("/peers/{peer}/heartbeat", s.heartbeat)

		r.Post("/nop", s.nop)

		r.Get("/cluster/leader", s.leader)
		r.Post("/cluster/join", s.join)
	})
	return r
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP API listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("HTTP API stopped")
	return nil
}

// propose appends op and turns a rejected outcome into an error.
func (s *Server) propose(ctx context.Context, op operations.Operation) (fsm.ApplyResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, proposeTimeout)
	defer cancel()
	resp, err := s.proposer.Propose(ctx, op)
	if err != nil {
		return resp, err
	}
	if resp.Outcome == fsm.OutcomeRejected {
		return resp, resp.Err
	}
	return resp, nil
}
