// Package planner fills the deferred slots of collection operations before
// they are frozen and proposed: the shard distribution of a create and the
// replica changes of an update.
package planner

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/pavandhadge/vectron/clustermeta/internal/fsm"
	"github.com/pavandhadge/vectron/clustermeta/internal/logger"
	"github.com/pavandhadge/vectron/clustermeta/internal/operations"
)

var (
	// ErrNoPeers is returned when no live peer can host a replica.
	ErrNoPeers = errors.New("no live peers")
	// ErrNotEnoughPeers is returned when the replication factor exceeds the
	// number of live peers.
	ErrNotEnoughPeers = errors.New("not enough live peers for replication factor")
)

// View is the read side of the applied metadata the planner works from.
type View interface {
	Collection(name string) (*fsm.CollectionState, bool)
	Transfers() []operations.ShardTransfer
}

// Planner computes shard placements.
type Planner struct {
	view     View
	defaults operations.Defaults
	logger   *zap.Logger
}

func New(view View, defaults operations.Defaults, l *zap.Logger) *Planner {
	if l == nil {
		l = zap.NewNop()
	}
	return &Planner{view: view, defaults: defaults, logger: l}
}

// PlanCreate sets the distribution of op over peers. Parameters the request
// leaves unset are resolved the same way the applier will resolve them.
func (p *Planner) PlanCreate(op *operations.CreateCollectionOperation, peers []operations.PeerID) error {
	params := op.CreateCollection
	if from := params.InitFrom; from != nil {
		source, ok := p.view.Collection(from.Collection)
		if !ok {
			return fmt.Errorf("init_from: %w: %q", fsm.ErrCollectionNotFound, from.Collection)
		}
		params = params.WithFallback(source.Config.ToCreateCollection())
		if err := params.Vectors.Validate(); err != nil {
			return err
		}
	}
	cfg := p.defaults.Resolve(params)

	d, err := Distribute(cfg.Params.ShardNumber, cfg.Params.ReplicationFactor, peers)
	if err != nil {
		return err
	}
	if err := op.SetDistribution(d); err != nil {
		return err
	}
	p.logger.Debug("Planned shard distribution",
		logger.Collection(op.CollectionName),
		zap.Uint32("shards", cfg.Params.ShardNumber),
		zap.Uint32("replication_factor", cfg.Params.ReplicationFactor),
		zap.Int("peers", len(peers)))
	return nil
}

// PlanUpdate attaches the replica removals needed when op lowers the
// replication factor. Non-active replicas go first, then the highest peer
// ids. Replicas taking part in a transfer are never picked.
func (p *Planner) PlanUpdate(op *operations.UpdateCollectionOperation) error {
	c, ok := p.view.Collection(op.CollectionName)
	if !ok {
		return fmt.Errorf("%w: %q", fsm.ErrCollectionNotFound, op.CollectionName)
	}
	params := op.UpdateCollection.Params
	if params == nil || params.ReplicationFactor == nil {
		return op.SetShardReplicaChanges(nil)
	}
	target := int(*params.ReplicationFactor)

	busy := make(map[operations.ShardID]map[operations.PeerID]bool)
	for _, t := range p.view.Transfers() {
		if t.Collection != c.Name {
			continue
		}
		if busy[t.ShardID] == nil {
			busy[t.ShardID] = make(map[operations.PeerID]bool)
		}
		busy[t.ShardID][t.From] = true
		busy[t.ShardID][t.To] = true
	}

	var changes []operations.ReplicaChange
	for _, shard := range c.ShardIDs() {
		replicas := c.Shards[shard]
		excess := len(replicas) - target
		if excess <= 0 {
			continue
		}
		for _, peer := range removalOrder(replicas, busy[shard]) {
			if excess == 0 {
				break
			}
			changes = append(changes, operations.RemoveReplica(shard, peer))
			excess--
		}
	}
	if len(changes) > 0 {
		p.logger.Info("Planned replica removals",
			logger.Collection(op.CollectionName),
			zap.Int("target_replication_factor", target),
			zap.Int("removals", len(changes)))
	}
	return op.SetShardReplicaChanges(changes)
}

// removalOrder lists the removable peers of a shard, best candidates first.
func removalOrder(replicas fsm.Replicas, busy map[operations.PeerID]bool) []operations.PeerID {
	peers := make([]operations.PeerID, 0, len(replicas))
	for _, peer := range replicas.Peers() {
		if !busy[peer] {
			peers = append(peers, peer)
		}
	}
	sort.SliceStable(peers, func(i, j int) bool {
		ai := replicas[peers[i]] == operations.ReplicaActive
		aj := replicas[peers[j]] == operations.ReplicaActive
		if ai != aj {
			return !ai
		}
		return peers[i] > peers[j]
	})
	return peers
}

// Distribute places shardNumber shards with replicationFactor replicas each,
// walking the sorted peers round-robin so consecutive shards start on
// different peers.
func Distribute(shardNumber, replicationFactor uint32, peers []operations.PeerID) (operations.ShardDistributionProposal, error) {
	if len(peers) == 0 {
		return operations.ShardDistributionProposal{}, ErrNoPeers
	}
	if int(replicationFactor) > len(peers) {
		return operations.ShardDistributionProposal{}, fmt.Errorf("%w: need %d, have %d", ErrNotEnoughPeers, replicationFactor, len(peers))
	}
	sorted := append([]operations.PeerID(nil), peers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	d := operations.ShardDistributionProposal{Distribution: make([]operations.ShardPlacement, 0, shardNumber)}
	next := 0
	for shard := uint32(0); shard < shardNumber; shard++ {
		replicas := make([]operations.PeerID, 0, replicationFactor)
		for j := uint32(0); j < replicationFactor; j++ {
			replicas = append(replicas, sorted[next%len(sorted)])
			next++
		}
		d.Distribution = append(d.Distribution, operations.ShardPlacement{
			ShardID: operations.ShardID(shard),
			Peers:   replicas,
		})
	}
	return d, nil
}
