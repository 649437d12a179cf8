package fsm

import (
	"github.com/pavandhadge/vectron/clustermeta/internal/logger"
	"github.com/pavandhadge/vectron/clustermeta/internal/operations"
)

// applySetReplicaState writes the replica state. With FromState set it is a
// compare-and-set and a mismatch, including a missing replica, is dismissed.
// Without FromState a missing replica is added.
func (f *FSM) applySetReplicaState(tx *txn, op operations.SetShardReplicaState) (Outcome, error) {
	c, replicas, err := tx.shard(op.CollectionName, op.ShardID)
	if err != nil {
		return OutcomeRejected, err
	}
	current, exists := replicas[op.PeerID]
	if op.FromState != nil && (!exists || current != *op.FromState) {
		f.logger.Debug("Replica state precondition failed",
			logger.Collection(op.CollectionName),
			logger.Shard(uint32(op.ShardID)),
			logger.Peer(uint64(op.PeerID)))
		return OutcomeDismissed, nil
	}
	replicas[op.PeerID] = op.State
	tx.touchCollection(c.Name)
	return OutcomeApplied, nil
}
