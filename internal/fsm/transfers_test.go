package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavandhadge/vectron/clustermeta/internal/operations"
)

func transfer(shard operations.ShardID, from, to operations.PeerID, sync bool) operations.ShardTransfer {
	return operations.ShardTransfer{
		ShardTransferKey: operations.ShardTransferKey{Collection: "docs", ShardID: shard, From: from, To: to},
		Sync:             sync,
	}
}

func TestTransferMove(t *testing.T) {
	h := newHarness(t, nil)
	h.mustApply(createOp(t, "docs", peers(1)))
	move := transfer(0, 1, 2, false)

	h.mustApply(operations.StartTransfer(move))
	state, ok := replicaState(t, h.fsm, "docs", 0, 2)
	require.True(t, ok)
	assert.Equal(t, operations.ReplicaPartial, state)
	_, inFlight := h.fsm.Transfer(move.Key())
	assert.True(t, inFlight)

	h.mustApply(operations.FinishTransfer(move))
	c, _ := h.fsm.Collection("docs")
	assert.Equal(t, Replicas{2: operations.ReplicaActive}, c.Shards[0])
	assert.Empty(t, h.fsm.Transfers())
}

func TestTransferReplicateKeepsSource(t *testing.T) {
	h := newHarness(t, nil)
	h.mustApply(createOp(t, "docs", peers(1)))
	h.mustApply(operations.SetShardReplicaState{CollectionName: "docs", ShardID: 0, PeerID: 1, State: operations.ReplicaActive})
	replicate := transfer(0, 1, 2, true)

	h.mustApply(operations.StartTransfer(replicate))
	h.mustApply(operations.FinishTransfer(replicate))

	c, _ := h.fsm.Collection("docs")
	assert.Equal(t, Replicas{1: operations.ReplicaActive, 2: operations.ReplicaActive}, c.Shards[0])
}

func TestTransferStartRejections(t *testing.T) {
	h := newHarness(t, nil)
	h.mustApply(createOp(t, "docs", peers(1, 3)))
	h.mustApply(operations.SetShardReplicaState{CollectionName: "docs", ShardID: 0, PeerID: 3, State: operations.ReplicaActive})
	h.mustApply(operations.StartTransfer(transfer(0, 1, 2, false)))

	// Same destination from a different source is still the same slot.
	assert.True(t, h.apply(operations.StartTransfer(transfer(0, 3, 2, false))).IsRejected(ErrTransferInFlight))
	assert.True(t, h.apply(operations.StartTransfer(transfer(0, 9, 4, false))).IsRejected(ErrReplicaNotFound))
	assert.True(t, h.apply(operations.StartTransfer(transfer(0, 1, 3, false))).IsRejected(ErrReplicaExists))
	assert.True(t, h.apply(operations.StartTransfer(transfer(7, 1, 2, false))).IsRejected(ErrShardNotFound))
	assert.Len(t, h.fsm.Transfers(), 1)
}

func TestFinishWithoutStartRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.mustApply(createOp(t, "docs", peers(1)))
	assert.True(t, h.apply(operations.FinishTransfer(transfer(0, 1, 2, false))).IsRejected(ErrTransferNotFound))
	_, ok := replicaState(t, h.fsm, "docs", 0, 2)
	assert.False(t, ok)
}

func TestAbortDropsPartialReplica(t *testing.T) {
	h := newHarness(t, nil)
	h.mustApply(createOp(t, "docs", peers(1)))
	tr := transfer(0, 1, 2, false)
	h.mustApply(operations.StartTransfer(tr))

	h.mustApply(operations.AbortTransfer(tr.Key(), "destination unreachable"))

	_, ok := replicaState(t, h.fsm, "docs", 0, 2)
	assert.False(t, ok)
	state, ok := replicaState(t, h.fsm, "docs", 0, 1)
	require.True(t, ok)
	assert.Equal(t, operations.ReplicaInitializing, state)
	assert.Empty(t, h.fsm.Transfers())

	assert.True(t, h.apply(operations.AbortTransfer(tr.Key(), "again")).IsRejected(ErrTransferNotFound))
}

func TestTransferKeyIsExact(t *testing.T) {
	h := newHarness(t, nil)
	h.mustApply(createOp(t, "docs", peers(1, 3)))
	h.mustApply(operations.StartTransfer(transfer(0, 1, 2, false)))

	assert.True(t, h.apply(operations.AbortTransfer(transfer(0, 3, 2, false).Key(), "wrong source")).IsRejected(ErrTransferNotFound))
	assert.Len(t, h.fsm.Transfers(), 1)
}
