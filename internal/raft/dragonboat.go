package raft

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/lni/dragonboat/v4"
	dbconfig "github.com/lni/dragonboat/v4/config"
	"github.com/lni/dragonboat/v4/raftio"
	"go.uber.org/zap"

	"github.com/pavandhadge/vectron/clustermeta/internal/dedupe"
	"github.com/pavandhadge/vectron/clustermeta/internal/fsm"
	"github.com/pavandhadge/vectron/clustermeta/internal/logger"
	"github.com/pavandhadge/vectron/clustermeta/internal/metrics"
	"github.com/pavandhadge/vectron/clustermeta/internal/operations"
)

// DragonboatConfig configures the dragonboat engine. BindAddr is the raft
// address and DataDir the NodeHost directory.
type DragonboatConfig struct {
	ShardID   uint64 `yaml:"shard_id"`
	ReplicaID uint64 `yaml:"replica_id"`
	// InitialMembers maps replica ids to raft addresses. When empty and
	// Bootstrap is set the node starts a single-replica shard; otherwise it
	// waits to be added through Join on the leader.
	InitialMembers map[uint64]string `yaml:"initial_members"`
	RTTMillisecond uint64            `yaml:"rtt_ms"`
	ElectionRTT    uint64            `yaml:"election_rtt"`
}

func (c DragonboatConfig) withDefaults() DragonboatConfig {
	if c.ShardID == 0 {
		c.ShardID = 1
	}
	if c.ReplicaID == 0 {
		c.ReplicaID = 1
	}
	if c.RTTMillisecond == 0 {
		c.RTTMillisecond = 100
	}
	if c.ElectionRTT == 0 {
		c.ElectionRTT = 10
	}
	return c
}

// DragonboatNode hosts the FSM as an on-disk state machine on a dragonboat
// NodeHost.
type DragonboatNode struct {
	cfg      Config
	db       DragonboatConfig
	nh       *dragonboat.NodeHost
	fsm      *fsm.FSM
	dedupe   dedupe.Deduplicator
	metrics  *metrics.Metrics
	logger   *zap.Logger
	onLeader func(bool)

	leaderID atomic.Uint64

	membersMu sync.Mutex
	members   map[uint64]string

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewDragonboatNode starts a NodeHost and the metadata shard on it.
func NewDragonboatNode(cfg Config, opts Options) (*DragonboatNode, error) {
	if opts.FSM == nil || cfg.DataDir == "" || cfg.BindAddr == "" {
		return nil, errors.New("dragonboat node requires an FSM, a data dir and a bind address")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = DefaultConfig().ApplyTimeout
	}
	db := cfg.Dragonboat.withDefaults()

	n := &DragonboatNode{
		cfg:      cfg,
		db:       db,
		fsm:      opts.FSM,
		dedupe:   opts.Dedupe,
		metrics:  opts.Metrics,
		logger:   opts.Logger.Named("dragonboat"),
		onLeader: opts.OnLeadershipChange,
		members:  make(map[uint64]string),
	}

	nh, err := dragonboat.NewNodeHost(dbconfig.NodeHostConfig{
		NodeHostDir:       cfg.DataDir,
		RaftAddress:       cfg.BindAddr,
		RTTMillisecond:    db.RTTMillisecond,
		RaftEventListener: n,
	})
	if err != nil {
		return nil, fmt.Errorf("new nodehost: %w", err)
	}
	n.nh = nh

	initial := make(map[uint64]dragonboat.Target, len(db.InitialMembers))
	for id, addr := range db.InitialMembers {
		initial[id] = dragonboat.Target(addr)
		n.members[id] = addr
	}
	if len(initial) == 0 && cfg.Bootstrap {
		initial[db.ReplicaID] = dragonboat.Target(cfg.BindAddr)
		n.members[db.ReplicaID] = cfg.BindAddr
	}
	join := len(initial) == 0

	rc := dbconfig.Config{
		ShardID:            db.ShardID,
		ReplicaID:          db.ReplicaID,
		ElectionRTT:        db.ElectionRTT,
		HeartbeatRTT:       1,
		CheckQuorum:        true,
		SnapshotEntries:    cfg.SnapshotThreshold,
		CompactionOverhead: 50,
	}
	if err := nh.StartOnDiskReplica(initial, join, fsm.DragonboatFactory(opts.FSM), rc); err != nil {
		nh.Close()
		return nil, fmt.Errorf("start metadata shard: %w", err)
	}
	n.logger.Info("Started metadata shard",
		zap.Uint64("shard_id", db.ShardID),
		zap.Uint64("replica_id", db.ReplicaID),
		zap.String("addr", cfg.BindAddr),
		zap.Bool("join", join))
	return n, nil
}

// LeaderUpdated tracks leadership of the metadata shard. It runs on a
// dragonboat goroutine, so the leader marker is proposed asynchronously.
func (n *DragonboatNode) LeaderUpdated(info raftio.LeaderInfo) {
	if info.ShardID != n.db.ShardID {
		return
	}
	prev := n.leaderID.Swap(info.LeaderID)
	wasLeader, isLeader := prev == n.db.ReplicaID, info.LeaderID == n.db.ReplicaID
	if wasLeader == isLeader {
		return
	}
	if n.onLeader != nil {
		n.onLeader(isLeader)
	}
	if !isLeader {
		n.logger.Info("Lost leadership")
		return
	}
	n.metrics.LeadershipChanged()
	n.logger.Info("Became leader", zap.Uint64("replica_id", n.db.ReplicaID), zap.Uint64("term", info.Term))
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.ApplyTimeout)
		defer cancel()
		token := newToken()
		resp, err := n.Propose(ctx, operations.Nop{Token: token})
		if err != nil {
			n.logger.Warn("Failed to append leader marker", zap.Error(err))
			return
		}
		n.logger.Debug("Appended leader marker", zap.Uint64("token", token), logger.Index(resp.Index))
	}()
}

// Propose appends op to the metadata shard and waits for its apply response.
func (n *DragonboatNode) Propose(ctx context.Context, op operations.Operation) (fsm.ApplyResponse, error) {
	return propose(ctx, op, n.dedupe, n.metrics, n.logger, n.apply)
}

func (n *DragonboatNode) apply(ctx context.Context, data []byte) (fsm.ApplyResponse, error) {
	if !n.IsLeader() {
		return fsm.ApplyResponse{}, notAppendedError{ErrNotLeader}
	}
	if err := ctx.Err(); err != nil {
		return fsm.ApplyResponse{}, notAppendedError{err}
	}
	ctx, cancel := context.WithTimeout(ctx, n.cfg.ApplyTimeout)
	defer cancel()

	result, err := n.nh.SyncPropose(ctx, n.nh.GetNoOPSession(n.db.ShardID), data)
	switch {
	case err == nil:
	case errors.Is(err, dragonboat.ErrSystemBusy):
		return fsm.ApplyResponse{}, notAppendedError{err}
	default:
		return fsm.ApplyResponse{}, err
	}
	return fsm.ResponseOf(result)
}

// Join adds a replica. id is the numeric replica id.
func (n *DragonboatNode) Join(ctx context.Context, id, addr string) error {
	replicaID, err := strconv.ParseUint(id, 10, 64)
	if err != nil || replicaID == 0 || addr == "" {
		return fmt.Errorf("join requires a numeric replica id and an address, got %q %q", id, addr)
	}
	if !n.IsLeader() {
		return ErrNotLeader
	}
	ctx, cancel := context.WithTimeout(ctx, membershipTimeout)
	defer cancel()
	if err := n.nh.SyncRequestAddReplica(ctx, n.db.ShardID, replicaID, dragonboat.Target(addr), 0); err != nil {
		return fmt.Errorf("add replica: %w", err)
	}
	n.membersMu.Lock()
	n.members[replicaID] = addr
	n.membersMu.Unlock()
	n.logger.Info("Added replica", zap.Uint64("replica_id", replicaID), zap.String("addr", addr))
	return nil
}

func (n *DragonboatNode) IsLeader() bool {
	return n.leaderID.Load() == n.db.ReplicaID
}

// Leader returns the id and address of the current leader. The address is
// empty for leaders this node has not been told about.
func (n *DragonboatNode) Leader() (id, addr string) {
	leader := n.leaderID.Load()
	if leader == 0 {
		return "", ""
	}
	n.membersMu.Lock()
	defer n.membersMu.Unlock()
	return strconv.FormatUint(leader, 10), n.members[leader]
}

func (n *DragonboatNode) NodeID() string { return strconv.FormatUint(n.db.ReplicaID, 10) }

func (n *DragonboatNode) Addr() string { return n.cfg.BindAddr }

// Shutdown stops the NodeHost.
func (n *DragonboatNode) Shutdown() error {
	n.stopOnce.Do(func() {
		n.nh.Close()
		n.wg.Wait()
	})
	return nil
}
