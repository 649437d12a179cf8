package fsm

import (
	"fmt"

	"github.com/pavandhadge/vectron/clustermeta/internal/logger"
	"github.com/pavandhadge/vectron/clustermeta/internal/operations"
)

func (f *FSM) applyShardTransfer(tx *txn, op operations.ShardTransferOperation) error {
	switch op.Action {
	case operations.TransferStart:
		return f.startTransfer(tx, *op.Transfer)
	case operations.TransferFinish:
		return f.finishTransfer(tx, op.Transfer.Key())
	case operations.TransferAbort:
		return f.abortTransfer(tx, *op.Key, op.Reason)
	}
	return fmt.Errorf("unknown transfer action %q", op.Action)
}

// startTransfer records the transfer and adds the destination as a Partial
// replica. Only one transfer may target a given shard destination at a time.
func (f *FSM) startTransfer(tx *txn, t operations.ShardTransfer) error {
	key := t.Key()
	c, replicas, err := tx.shard(key.Collection, key.ShardID)
	if err != nil {
		return err
	}
	if _, ok := replicas[key.From]; !ok {
		return fmt.Errorf("source of %s: %w", key, ErrReplicaNotFound)
	}
	if state, ok := replicas[key.To]; ok && state == operations.ReplicaActive {
		return fmt.Errorf("destination of %s: %w", key, ErrReplicaExists)
	}
	for existing := range tx.state.Transfers {
		if existing.Collection == key.Collection && existing.ShardID == key.ShardID && existing.To == key.To {
			return fmt.Errorf("%w: %s", ErrTransferInFlight, existing)
		}
	}

	replicas[key.To] = operations.ReplicaPartial
	tx.touchCollection(c.Name)
	tx.putTransfer(t)
	f.logger.Info("Started shard transfer", logger.Transfer(key.String()))
	return nil
}

// finishTransfer promotes the destination to Active. A move (Sync unset)
// also drops the source replica.
func (f *FSM) finishTransfer(tx *txn, key operations.ShardTransferKey) error {
	t, ok := tx.state.Transfers[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTransferNotFound, key)
	}
	c, replicas, err := tx.shard(key.Collection, key.ShardID)
	if err != nil {
		return err
	}

	replicas[key.To] = operations.ReplicaActive
	if !t.Sync {
		delete(replicas, key.From)
	}
	tx.touchCollection(c.Name)
	tx.deleteTransfer(key)
	f.logger.Info("Finished shard transfer", logger.Transfer(key.String()))
	return nil
}

// abortTransfer forgets the transfer and drops the destination replica if it
// never left the Partial state.
func (f *FSM) abortTransfer(tx *txn, key operations.ShardTransferKey, reason string) error {
	if _, ok := tx.state.Transfers[key]; !ok {
		return fmt.Errorf("%w: %s", ErrTransferNotFound, key)
	}
	tx.deleteTransfer(key)

	if c, replicas, err := tx.shard(key.Collection, key.ShardID); err == nil {
		if replicas[key.To] == operations.ReplicaPartial {
			delete(replicas, key.To)
			tx.touchCollection(c.Name)
		}
	}
	f.logger.Warn("Aborted shard transfer", logger.Transfer(key.String()), logger.Reason(reason))
	return nil
}
