package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavandhadge/vectron/clustermeta/internal/operations"
)

func TestCompareAndSetMismatchIsDismissed(t *testing.T) {
	h := newHarness(t, nil)
	h.mustApply(createOp(t, "docs", peers(1)))
	h.mustApply(operations.SetShardReplicaState{CollectionName: "docs", ShardID: 0, PeerID: 1, State: operations.ReplicaDead})

	active := operations.ReplicaActive
	resp := h.apply(operations.SetShardReplicaState{
		CollectionName: "docs", ShardID: 0, PeerID: 1,
		State: operations.ReplicaActive, FromState: &active,
	})
	assert.Equal(t, OutcomeDismissed, resp.Outcome)
	assert.NoError(t, resp.Err)

	state, _ := replicaState(t, h.fsm, "docs", 0, 1)
	assert.Equal(t, operations.ReplicaDead, state)
	assert.Equal(t, h.index, h.fsm.AppliedIndex())
}

func TestCompareAndSetMatchApplies(t *testing.T) {
	h := newHarness(t, nil)
	h.mustApply(createOp(t, "docs", peers(1)))

	initializing := operations.ReplicaInitializing
	h.mustApply(operations.SetShardReplicaState{
		CollectionName: "docs", ShardID: 0, PeerID: 1,
		State: operations.ReplicaActive, FromState: &initializing,
	})
	state, _ := replicaState(t, h.fsm, "docs", 0, 1)
	assert.Equal(t, operations.ReplicaActive, state)
}

func TestCompareAndSetOnMissingReplicaIsDismissed(t *testing.T) {
	h := newHarness(t, nil)
	h.mustApply(createOp(t, "docs", peers(1)))

	dead := operations.ReplicaDead
	resp := h.apply(operations.SetShardReplicaState{
		CollectionName: "docs", ShardID: 0, PeerID: 5,
		State: operations.ReplicaActive, FromState: &dead,
	})
	assert.Equal(t, OutcomeDismissed, resp.Outcome)
	_, ok := replicaState(t, h.fsm, "docs", 0, 5)
	assert.False(t, ok)
}

func TestUnconditionalSetAddsListener(t *testing.T) {
	h := newHarness(t, nil)
	h.mustApply(createOp(t, "docs", peers(1)))
	h.mustApply(operations.SetShardReplicaState{CollectionName: "docs", ShardID: 0, PeerID: 4, State: operations.ReplicaListener})

	state, ok := replicaState(t, h.fsm, "docs", 0, 4)
	require.True(t, ok)
	assert.Equal(t, operations.ReplicaListener, state)
}

func TestSetReplicaStateUnknownShard(t *testing.T) {
	h := newHarness(t, nil)
	h.mustApply(createOp(t, "docs", peers(1)))
	resp := h.apply(operations.SetShardReplicaState{CollectionName: "docs", ShardID: 3, PeerID: 1, State: operations.ReplicaDead})
	assert.True(t, resp.IsRejected(ErrShardNotFound))
	resp = h.apply(operations.SetShardReplicaState{CollectionName: "ghost", ShardID: 0, PeerID: 1, State: operations.ReplicaDead})
	assert.True(t, resp.IsRejected(ErrCollectionNotFound))
}
