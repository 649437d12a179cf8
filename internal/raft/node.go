// Package raft replicates cluster metadata operations. Node runs on
// hashicorp/raft and DragonboatNode on a dragonboat NodeHost. The leader
// appends encoded operations; every node applies them through fsm.FSM.
package raft

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	"go.uber.org/zap"

	"github.com/pavandhadge/vectron/clustermeta/internal/dedupe"
	"github.com/pavandhadge/vectron/clustermeta/internal/fsm"
	"github.com/pavandhadge/vectron/clustermeta/internal/logger"
	"github.com/pavandhadge/vectron/clustermeta/internal/metrics"
	"github.com/pavandhadge/vectron/clustermeta/internal/operations"
	"github.com/pavandhadge/vectron/clustermeta/internal/storage"
)

const (
	retainSnapshotCount = 2
	membershipTimeout   = 10 * time.Second
	logSizeInterval     = 10 * time.Second
)

var (
	// ErrNotLeader is returned when a proposal reaches a follower.
	ErrNotLeader = errors.New("not the raft leader")
	// ErrUnexpectedResponse means the applier returned something other than
	// an fsm.ApplyResponse.
	ErrUnexpectedResponse = errors.New("unexpected apply response")
)

// Engines.
const (
	EngineHashicorp  = "hashicorp"
	EngineDragonboat = "dragonboat"
)

// Config contains the configuration for the Raft node.
type Config struct {
	// Engine is EngineHashicorp (the default) or EngineDragonboat.
	Engine   string `yaml:"engine"`
	NodeID   string `yaml:"node_id"`
	BindAddr string `yaml:"bind_addr"`
	// AdvertiseAddr defaults to the bound address.
	AdvertiseAddr string `yaml:"advertise_addr"`
	DataDir       string `yaml:"data_dir"`
	// Bootstrap forms a single-node cluster when there is no prior state.
	Bootstrap bool `yaml:"bootstrap"`
	// InMemory keeps the log, snapshots and transport in memory.
	InMemory          bool          `yaml:"in_memory"`
	ApplyTimeout      time.Duration `yaml:"apply_timeout"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
	ElectionTimeout   time.Duration `yaml:"election_timeout"`
	SnapshotThreshold uint64        `yaml:"snapshot_threshold"`

	Dragonboat DragonboatConfig `yaml:"dragonboat"`
}

// DefaultConfig returns a single-node bootstrap configuration.
func DefaultConfig() Config {
	return Config{
		Engine:       EngineHashicorp,
		NodeID:       "node-1",
		BindAddr:     "127.0.0.1:7000",
		DataDir:      "data/raft",
		Bootstrap:    true,
		ApplyTimeout: 5 * time.Second,
	}
}

// Options carries the collaborators of a Node.
type Options struct {
	FSM *fsm.FSM
	// Dedupe is optional. Without it every Nop is appended.
	Dedupe  dedupe.Deduplicator
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	// OnLeadershipChange is called from the leadership watcher.
	OnLeadershipChange func(isLeader bool)
}

// Node is a wrapper around the HashiCorp Raft implementation.
type Node struct {
	r        *raft.Raft
	cfg      Config
	id       raft.ServerID
	addr     raft.ServerAddress
	fsm      *fsm.FSM
	dedupe   dedupe.Deduplicator
	metrics  *metrics.Metrics
	logger   *zap.Logger
	onLeader func(bool)
	closers  []io.Closer

	membershipMu sync.Mutex
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

// NewNode creates a Raft node and starts its leadership watcher.
func NewNode(cfg Config, opts Options) (*Node, error) {
	if cfg.NodeID == "" || opts.FSM == nil {
		return nil, errors.New("raft node requires a node id and an FSM")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = DefaultConfig().ApplyTimeout
	}
	l := opts.Logger.Named("raft")
	logOutput := zap.NewStdLog(l).Writer()

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)
	raftConfig.LogOutput = logOutput
	if cfg.HeartbeatTimeout > 0 {
		raftConfig.HeartbeatTimeout = cfg.HeartbeatTimeout
		if raftConfig.LeaderLeaseTimeout > cfg.HeartbeatTimeout {
			raftConfig.LeaderLeaseTimeout = cfg.HeartbeatTimeout
		}
	}
	if cfg.ElectionTimeout > 0 {
		raftConfig.ElectionTimeout = cfg.ElectionTimeout
	}
	if cfg.SnapshotThreshold > 0 {
		raftConfig.SnapshotThreshold = cfg.SnapshotThreshold
	}

	n := &Node{
		cfg:      cfg,
		id:       raftConfig.LocalID,
		fsm:      opts.FSM,
		dedupe:   opts.Dedupe,
		metrics:  opts.Metrics,
		logger:   l,
		onLeader: opts.OnLeadershipChange,
		stopCh:   make(chan struct{}),
	}

	var (
		logs      raft.LogStore
		stable    raft.StableStore
		snapshots raft.SnapshotStore
		transport raft.Transport
		boltStore *storage.RaftStore
	)
	if cfg.InMemory {
		store := raft.NewInmemStore()
		logs, stable = store, store
		snapshots = raft.NewInmemSnapshotStore()
		addr, inmem := raft.NewInmemTransport(raft.ServerAddress(cfg.BindAddr))
		transport = inmem
		n.addr = addr
	} else {
		var err error
		boltStore, err = storage.NewRaftStore(filepath.Join(cfg.DataDir, "raft.db"))
		if err != nil {
			return nil, fmt.Errorf("new bolt store: %w", err)
		}
		n.closers = append(n.closers, boltStore)
		logs, stable = boltStore, boltStore

		snapshots, err = raft.NewFileSnapshotStore(cfg.DataDir, retainSnapshotCount, logOutput)
		if err != nil {
			n.closeStores()
			return nil, fmt.Errorf("file snapshot store: %w", err)
		}

		// Without an advertise address the transport advertises the
		// address it actually bound.
		var advertise net.Addr
		if cfg.AdvertiseAddr != "" {
			tcpAddr, err := resolveTCP(cfg.AdvertiseAddr)
			if err != nil {
				n.closeStores()
				return nil, err
			}
			advertise = tcpAddr
		}
		tcp, err := raft.NewTCPTransport(cfg.BindAddr, advertise, 3, 10*time.Second, logOutput)
		if err != nil {
			n.closeStores()
			return nil, fmt.Errorf("tcp transport: %w", err)
		}
		n.closers = append(n.closers, tcp)
		transport = tcp
		n.addr = tcp.LocalAddr()
	}

	r, err := raft.NewRaft(raftConfig, opts.FSM, logs, stable, snapshots, transport)
	if err != nil {
		n.closeStores()
		return nil, fmt.Errorf("new raft: %w", err)
	}
	n.r = r

	if cfg.Bootstrap {
		hasState, err := raft.HasExistingState(logs, stable, snapshots)
		if err != nil {
			n.Shutdown()
			return nil, fmt.Errorf("check state: %w", err)
		}
		if !hasState {
			conf := raft.Configuration{Servers: []raft.Server{{ID: n.id, Address: n.addr}}}
			if err := r.BootstrapCluster(conf).Error(); err != nil {
				n.Shutdown()
				return nil, fmt.Errorf("bootstrap: %w", err)
			}
			l.Info("Bootstrapped single-node cluster",
				zap.String("node_id", cfg.NodeID), zap.String("addr", string(n.addr)))
		}
	}

	n.wg.Add(1)
	go n.watchLeadership(r.LeaderCh())
	if boltStore != nil {
		n.wg.Add(1)
		go n.trackLogSize(boltStore)
	}
	return n, nil
}

// Propose appends op to the log and waits for its apply response. A Nop
// whose token was already proposed is dropped and reported as skipped.
func (n *Node) Propose(ctx context.Context, op operations.Operation) (fsm.ApplyResponse, error) {
	return propose(ctx, op, n.dedupe, n.metrics, n.logger, n.apply)
}

type applyFunc func(ctx context.Context, data []byte) (fsm.ApplyResponse, error)

// propose is the append path shared by both engines.
func propose(ctx context.Context, op operations.Operation, d dedupe.Deduplicator, m *metrics.Metrics, l *zap.Logger, apply applyFunc) (fsm.ApplyResponse, error) {
	start := time.Now()
	kind := string(op.Kind())

	data, err := operations.Encode(op)
	if err != nil {
		return fsm.ApplyResponse{}, err
	}

	nop, isNop := op.(operations.Nop)
	if isNop && d != nil {
		first, err := d.FirstSeen(ctx, nop.Token)
		if err != nil {
			l.Warn("Nop dedupe unavailable, proposing anyway", zap.Error(err))
		} else if !first {
			m.DuplicateNop()
			l.Debug("Dropped duplicate nop", zap.Uint64("token", nop.Token))
			return fsm.ApplyResponse{Outcome: fsm.OutcomeSkipped}, nil
		}
	}

	resp, err := apply(ctx, data)
	m.ObserveProposal(kind, time.Since(start), err)
	if err != nil {
		// A proposal that may have reached the log keeps its token, the entry
		// can still commit after we stop waiting.
		if isNop && d != nil && neverAppended(err) {
			if ferr := d.Forget(context.Background(), nop.Token); ferr != nil {
				l.Warn("Failed to forget nop token", zap.Error(ferr))
			}
		}
		l.Debug("Proposal failed", logger.Kind(kind), zap.Error(err))
		return fsm.ApplyResponse{}, err
	}
	return resp, nil
}

// notAppendedError marks a proposal that never reached the log.
type notAppendedError struct{ err error }

func (e notAppendedError) Error() string { return e.err.Error() }

func (e notAppendedError) Unwrap() error { return e.err }

func neverAppended(err error) bool {
	var na notAppendedError
	return errors.As(err, &na)
}

func (n *Node) apply(ctx context.Context, data []byte) (fsm.ApplyResponse, error) {
	if n.r.State() != raft.Leader {
		return fsm.ApplyResponse{}, notAppendedError{ErrNotLeader}
	}
	if err := ctx.Err(); err != nil {
		return fsm.ApplyResponse{}, notAppendedError{err}
	}
	timeout := n.cfg.ApplyTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	fut := n.r.Apply(data, timeout)

	done := make(chan struct{})
	var applyErr error
	go func() {
		applyErr = fut.Error()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return fsm.ApplyResponse{}, ctx.Err()
	case <-done:
	}
	switch {
	case applyErr == nil:
	case errors.Is(applyErr, raft.ErrNotLeader):
		return fsm.ApplyResponse{}, notAppendedError{fmt.Errorf("%w: %v", ErrNotLeader, applyErr)}
	case errors.Is(applyErr, raft.ErrEnqueueTimeout):
		return fsm.ApplyResponse{}, notAppendedError{applyErr}
	case errors.Is(applyErr, raft.ErrLeadershipLost):
		return fsm.ApplyResponse{}, fmt.Errorf("%w: %v", ErrNotLeader, applyErr)
	default:
		return fsm.ApplyResponse{}, applyErr
	}
	resp, ok := fut.Response().(fsm.ApplyResponse)
	if !ok {
		return fsm.ApplyResponse{}, fmt.Errorf("%w: %T", ErrUnexpectedResponse, fut.Response())
	}
	return resp, nil
}

// watchLeadership counts leadership changes and appends a leader marker Nop
// each time this node becomes leader.
func (n *Node) watchLeadership(ch <-chan bool) {
	defer n.wg.Done()
	for {
		select {
		case isLeader := <-ch:
			if n.onLeader != nil {
				n.onLeader(isLeader)
			}
			if !isLeader {
				n.logger.Info("Lost leadership")
				continue
			}
			n.metrics.LeadershipChanged()
			n.logger.Info("Became leader", zap.String("node_id", string(n.id)))
			n.proposeLeaderMarker()
		case <-n.stopCh:
			return
		}
	}
}

func (n *Node) proposeLeaderMarker() {
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.ApplyTimeout)
	defer cancel()
	token := newToken()
	resp, err := n.Propose(ctx, operations.Nop{Token: token})
	if err != nil {
		n.logger.Warn("Failed to append leader marker", zap.Error(err))
		return
	}
	n.logger.Debug("Appended leader marker", zap.Uint64("token", token), logger.Index(resp.Index))
}

func (n *Node) trackLogSize(store *storage.RaftStore) {
	defer n.wg.Done()
	t := time.NewTicker(logSizeInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if size, err := store.SizeBytes(); err == nil {
				n.metrics.SetRaftLogSize(size)
			}
		case <-n.stopCh:
			return
		}
	}
}

// newToken draws a Nop token from a random UUID.
func newToken() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8])
}

// Join adds a voter. Adding a server that is already a voter at the same
// address is a no-op.
func (n *Node) Join(ctx context.Context, id, addr string) error {
	if id == "" || addr == "" {
		return errors.New("join requires an id and an address")
	}
	n.membershipMu.Lock()
	defer n.membershipMu.Unlock()

	if !n.IsLeader() {
		return ErrNotLeader
	}
	cf := n.r.GetConfiguration()
	if err := cf.Error(); err != nil {
		return fmt.Errorf("get configuration: %w", err)
	}
	for _, srv := range cf.Configuration().Servers {
		if srv.ID == raft.ServerID(id) && srv.Address == raft.ServerAddress(addr) {
			return nil
		}
		if srv.ID == raft.ServerID(id) || srv.Address == raft.ServerAddress(addr) {
			if err := n.r.RemoveServer(srv.ID, 0, membershipTimeout).Error(); err != nil {
				return fmt.Errorf("remove stale server %s: %w", srv.ID, err)
			}
		}
	}
	if err := n.r.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, membershipTimeout).Error(); err != nil {
		return fmt.Errorf("add voter: %w", err)
	}
	n.logger.Info("Added voter", zap.String("node_id", id), zap.String("addr", addr))
	return nil
}

// Barrier waits until every entry committed before the call was applied.
func (n *Node) Barrier(ctx context.Context) error {
	timeout := n.cfg.ApplyTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	return n.r.Barrier(timeout).Error()
}

func (n *Node) IsLeader() bool {
	return n.r != nil && n.r.State() == raft.Leader
}

// Leader returns the id and address of the current leader, empty if unknown.
func (n *Node) Leader() (id, addr string) {
	a, i := n.r.LeaderWithID()
	return string(i), string(a)
}

func (n *Node) NodeID() string { return string(n.id) }

func (n *Node) Addr() string { return string(n.addr) }

// Stats exposes the stats of the embedded raft instance.
func (n *Node) Stats() map[string]string {
	return n.r.Stats()
}

// Shutdown stops raft and releases the stores.
func (n *Node) Shutdown() error {
	select {
	case <-n.stopCh:
		return nil
	default:
		close(n.stopCh)
	}
	var err error
	if n.r != nil {
		err = n.r.Shutdown().Error()
	}
	n.wg.Wait()
	n.closeStores()
	return err
}

func (n *Node) closeStores() {
	for _, c := range n.closers {
		if err := c.Close(); err != nil {
			n.logger.Warn("Failed to close raft store", zap.Error(err))
		}
	}
	n.closers = nil
}

func resolveTCP(addr string) (*net.TCPAddr, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve advertise address %q: %w", addr, err)
	}
	return tcpAddr, nil
}
