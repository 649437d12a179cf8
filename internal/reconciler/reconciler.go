// Package reconciler runs the background pass that aborts shard transfers
// whose source or destination peer stopped heartbeating.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pavandhadge/vectron/clustermeta/internal/fsm"
	"github.com/pavandhadge/vectron/clustermeta/internal/logger"
	"github.com/pavandhadge/vectron/clustermeta/internal/metrics"
	"github.com/pavandhadge/vectron/clustermeta/internal/operations"
)

// Proposer appends an operation to the replicated log.
type Proposer interface {
	Propose(ctx context.Context, op operations.Operation) (fsm.ApplyResponse, error)
	IsLeader() bool
}

// TransferSource lists the in-flight transfers.
type TransferSource interface {
	Transfers() []operations.ShardTransfer
}

// Config holds configuration for the reconciliation loop.
type Config struct {
	// Interval between reconciliation runs.
	Interval time.Duration `yaml:"interval"`
	// PeerTimeout is the maximum time since last heartbeat before a peer is
	// considered unreachable.
	PeerTimeout time.Duration `yaml:"peer_timeout"`
	// ProposeTimeout bounds each abort proposal.
	ProposeTimeout time.Duration `yaml:"propose_timeout"`
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Interval:       10 * time.Second,
		PeerTimeout:    30 * time.Second,
		ProposeTimeout: 5 * time.Second,
	}
}

// Reconciler handles transfer reconciliation.
type Reconciler struct {
	cfg      Config
	source   TransferSource
	proposer Proposer
	registry *Registry
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func New(cfg Config, source TransferSource, proposer Proposer, registry *Registry, m *metrics.Metrics, l *zap.Logger) *Reconciler {
	if l == nil {
		l = zap.NewNop()
	}
	return &Reconciler{
		cfg:      cfg,
		source:   source,
		proposer: proposer,
		registry: registry,
		metrics:  m,
		logger:   l,
	}
}

// Run reconciles every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("Starting reconciliation loop",
		zap.Duration("interval", r.cfg.Interval),
		zap.Duration("peer_timeout", r.cfg.PeerTimeout))

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.Reconcile(ctx)
	for {
		select {
		case <-ticker.C:
			r.Reconcile(ctx)
		case <-ctx.Done():
			r.logger.Info("Reconciliation loop stopped")
			return nil
		}
	}
}

// Reconcile performs a single pass and returns the number of aborts that
// were applied. Only the leader proposes.
func (r *Reconciler) Reconcile(ctx context.Context) int {
	if !r.proposer.IsLeader() {
		return 0
	}
	start := time.Now()
	r.metrics.ReconcilerPass(len(r.registry.Unhealthy()))

	aborted := 0
	for _, t := range r.source.Transfers() {
		peer, unreachable := r.unreachablePeer(t)
		if !unreachable {
			continue
		}
		reason := fmt.Sprintf("peer %d unreachable for more than %s", peer, r.cfg.PeerTimeout)
		if r.abort(ctx, t.Key(), reason) {
			aborted++
		}
	}

	if aborted > 0 {
		r.logger.Info("Reconciliation pass aborted transfers",
			zap.Int("aborted", aborted),
			logger.Duration(time.Since(start)))
	}
	return aborted
}

func (r *Reconciler) unreachablePeer(t operations.ShardTransfer) (operations.PeerID, bool) {
	if !r.registry.IsAlive(t.To) {
		return t.To, true
	}
	if !r.registry.IsAlive(t.From) {
		return t.From, true
	}
	return 0, false
}

func (r *Reconciler) abort(ctx context.Context, key operations.ShardTransferKey, reason string) bool {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ProposeTimeout)
	defer cancel()

	resp, err := r.proposer.Propose(ctx, operations.AbortTransfer(key, reason))
	if err != nil {
		r.logger.Warn("Failed to propose transfer abort",
			logger.Transfer(key.String()), zap.Error(err))
		return false
	}
	if resp.Outcome != fsm.OutcomeApplied {
		// Another pass or an operator got there first.
		if errors.Is(resp.Err, fsm.ErrTransferNotFound) {
			r.logger.Debug("Transfer already gone", logger.Transfer(key.String()))
		} else {
			r.logger.Warn("Transfer abort not applied",
				logger.Transfer(key.String()),
				zap.Stringer("outcome", resp.Outcome),
				zap.Error(resp.Err))
		}
		return false
	}
	r.metrics.TransferAborted()
	r.logger.Warn("Aborted shard transfer",
		logger.Transfer(key.String()), logger.Reason(reason))
	return true
}
