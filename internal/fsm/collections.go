package fsm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/pavandhadge/vectron/clustermeta/internal/logger"
	"github.com/pavandhadge/vectron/clustermeta/internal/operations"
)

func (f *FSM) applyCreateCollection(tx *txn, op *operations.CreateCollectionOperation) error {
	name := op.CollectionName
	if _, ok := tx.state.Collections[name]; ok {
		return fmt.Errorf("%w: %q", ErrCollectionExists, name)
	}
	if _, ok := tx.state.Aliases[name]; ok {
		return fmt.Errorf("%w: %q is an alias", ErrAliasCollision, name)
	}

	// The planner fills the slot before the operation is logged, so an
	// empty slot here means the entry was built without planning.
	distribution := op.TakeDistribution()
	if distribution == nil {
		return fmt.Errorf("%w: %q", ErrDistributionMissing, name)
	}

	params := op.CreateCollection
	if from := params.InitFrom; from != nil {
		source, ok := tx.state.Collections[from.Collection]
		if !ok {
			return fmt.Errorf("init_from: %w: %q", ErrCollectionNotFound, from.Collection)
		}
		params = params.WithFallback(source.Config.ToCreateCollection())
		if err := params.Vectors.Validate(); err != nil {
			return fmt.Errorf("init_from %q: %w", from.Collection, err)
		}
	}
	cfg := f.defaults.Resolve(params)

	if int(cfg.Params.ShardNumber) != distribution.ShardCount() {
		return fmt.Errorf("%w: %d placements for %d shards", ErrDistributionShape, distribution.ShardCount(), cfg.Params.ShardNumber)
	}

	shards := make(map[operations.ShardID]Replicas, len(distribution.Distribution))
	for _, placement := range distribution.Distribution {
		replicas := make(Replicas, len(placement.Peers))
		for _, peer := range placement.Peers {
			replicas[peer] = operations.ReplicaInitializing
		}
		shards[placement.ShardID] = replicas
	}

	tx.putCollection(&CollectionState{Name: name, Config: cfg, Shards: shards})
	f.logger.Info("Created collection",
		logger.Collection(name),
		zap.Uint32("shards", cfg.Params.ShardNumber),
		zap.Uint32("replication_factor", cfg.Params.ReplicationFactor))
	return nil
}

func (f *FSM) applyUpdateCollection(tx *txn, op *operations.UpdateCollectionOperation) error {
	c, err := tx.collection(op.CollectionName)
	if err != nil {
		return err
	}
	c.Config = c.Config.ApplyUpdate(op.UpdateCollection)

	for _, change := range op.TakeShardReplicaChanges() {
		replicas, ok := c.Shards[change.ShardID]
		if !ok {
			return fmt.Errorf("%s: %w: %s/%d", change, ErrShardNotFound, c.Name, change.ShardID)
		}
		if _, ok := replicas[change.PeerID]; !ok {
			return fmt.Errorf("%s: %w", change, ErrReplicaNotFound)
		}
		if len(replicas) == 1 {
			return fmt.Errorf("%s: %w", change, ErrLastReplica)
		}
		for key := range tx.state.Transfers {
			if key.Collection == c.Name && key.ShardID == change.ShardID &&
				(key.From == change.PeerID || key.To == change.PeerID) {
				return fmt.Errorf("%s: %w: %s", change, ErrTransferInFlight, key)
			}
		}
		delete(replicas, change.PeerID)
		f.logger.Info("Removed replica", logger.Collection(c.Name), logger.Shard(uint32(change.ShardID)), logger.Peer(uint64(change.PeerID)))
	}

	tx.touchCollection(c.Name)
	return nil
}

// applyDeleteCollection also drops every alias pointing at the collection and
// every transfer of its shards.
func (f *FSM) applyDeleteCollection(tx *txn, op operations.DeleteCollectionOperation) error {
	name := op.CollectionName
	if _, err := tx.collection(name); err != nil {
		return err
	}
	tx.deleteCollection(name)
	for alias, target := range tx.state.Aliases {
		if target == name {
			tx.deleteAlias(alias)
		}
	}
	for key := range tx.state.Transfers {
		if key.Collection == name {
			tx.deleteTransfer(key)
		}
	}
	f.logger.Info("Deleted collection", logger.Collection(name))
	return nil
}
