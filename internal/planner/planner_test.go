package planner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavandhadge/vectron/clustermeta/internal/fsm"
	"github.com/pavandhadge/vectron/clustermeta/internal/operations"
)

func u32(v uint32) *uint32 { return &v }

func newFSM(t *testing.T) *fsm.FSM {
	t.Helper()
	f, err := fsm.New(fsm.Options{Defaults: operations.DefaultDefaults()})
	require.NoError(t, err)
	return f
}

func mustApply(t *testing.T, f *fsm.FSM, op operations.Operation) {
	t.Helper()
	resp := f.ApplyOperation(f.AppliedIndex()+1, op)
	require.NoError(t, resp.Err)
	require.Equal(t, fsm.OutcomeApplied, resp.Outcome)
}

func TestDistributeRoundRobin(t *testing.T) {
	d, err := Distribute(4, 2, []operations.PeerID{3, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, []operations.ShardPlacement{
		{ShardID: 0, Peers: []operations.PeerID{1, 2}},
		{ShardID: 1, Peers: []operations.PeerID{3, 1}},
		{ShardID: 2, Peers: []operations.PeerID{2, 3}},
		{ShardID: 3, Peers: []operations.PeerID{1, 2}},
	}, d.Distribution)
	require.NoError(t, d.Validate())
}

func TestDistributeNeedsPeers(t *testing.T) {
	_, err := Distribute(1, 1, nil)
	assert.ErrorIs(t, err, ErrNoPeers)

	_, err = Distribute(1, 3, []operations.PeerID{1, 2})
	assert.ErrorIs(t, err, ErrNotEnoughPeers)
}

func TestPlanCreateSetsDistributionOnce(t *testing.T) {
	f := newFSM(t)
	p := New(f, operations.DefaultDefaults(), nil)

	op := operations.NewCreateCollectionOperation("docs", operations.CreateCollection{
		Vectors:           operations.SingleVector(128, operations.DistanceCosine),
		ShardNumber:       u32(4),
		ReplicationFactor: u32(2),
	})
	require.NoError(t, p.PlanCreate(op, []operations.PeerID{1, 2, 3}))
	assert.True(t, op.IsDistributionSet())

	err := p.PlanCreate(op, []operations.PeerID{1, 2, 3})
	assert.True(t, errors.Is(err, operations.ErrDistributionAlreadySet))

	mustApply(t, f, op)
	c, ok := f.Collection("docs")
	require.True(t, ok)
	require.Len(t, c.Shards, 4)
	for _, shard := range c.ShardIDs() {
		assert.Len(t, c.Shards[shard], 2)
	}
}

func TestPlanCreateUsesDefaults(t *testing.T) {
	defaults := operations.DefaultDefaults()
	defaults.ShardNumber = 3
	p := New(newFSM(t), defaults, nil)

	op := operations.NewCreateCollectionOperation("docs", operations.CreateCollection{
		Vectors: operations.SingleVector(8, operations.DistanceDot),
	})
	require.NoError(t, p.PlanCreate(op, []operations.PeerID{1}))
	d := op.TakeDistribution()
	require.NotNil(t, d)
	assert.Equal(t, 3, d.ShardCount())
}

func TestPlanCreateInheritsFromInitFrom(t *testing.T) {
	f := newFSM(t)
	p := New(f, operations.DefaultDefaults(), nil)

	source := operations.NewCreateCollectionOperation("source", operations.CreateCollection{
		Vectors:     operations.SingleVector(8, operations.DistanceDot),
		ShardNumber: u32(2),
	})
	require.NoError(t, p.PlanCreate(source, []operations.PeerID{1, 2}))
	mustApply(t, f, source)

	copyOp := operations.NewCreateCollectionOperation("copy", operations.CreateCollection{
		InitFrom: &operations.InitFrom{Collection: "source"},
	})
	require.NoError(t, copyOp.Validate())
	require.NoError(t, p.PlanCreate(copyOp, []operations.PeerID{1, 2}))
	mustApply(t, f, copyOp)

	c, ok := f.Collection("copy")
	require.True(t, ok)
	assert.Len(t, c.Shards, 2)
	assert.Equal(t, operations.SingleVector(8, operations.DistanceDot), c.Config.Params.Vectors)

	missing := operations.NewCreateCollectionOperation("orphan", operations.CreateCollection{
		InitFrom: &operations.InitFrom{Collection: "nope"},
	})
	assert.ErrorIs(t, p.PlanCreate(missing, []operations.PeerID{1}), fsm.ErrCollectionNotFound)
}

func TestPlanUpdateRemovesNonActiveFirst(t *testing.T) {
	f := newFSM(t)
	p := New(f, operations.DefaultDefaults(), nil)

	create := operations.NewCreateCollectionOperation("docs", operations.CreateCollection{
		Vectors:           operations.SingleVector(8, operations.DistanceDot),
		ReplicationFactor: u32(3),
	})
	require.NoError(t, p.PlanCreate(create, []operations.PeerID{1, 2, 3}))
	mustApply(t, f, create)
	for _, peer := range []operations.PeerID{1, 2} {
		mustApply(t, f, operations.SetShardReplicaState{
			CollectionName: "docs", ShardID: 0, PeerID: peer, State: operations.ReplicaActive,
		})
	}

	update := operations.NewUpdateCollectionOperation("docs", operations.UpdateCollection{
		Params: &operations.CollectionParamsDiff{ReplicationFactor: u32(1)},
	})
	require.NoError(t, p.PlanUpdate(update))
	require.True(t, update.HaveReplicaChanges())
	mustApply(t, f, update)

	c, _ := f.Collection("docs")
	assert.Equal(t, fsm.Replicas{1: operations.ReplicaActive}, c.Shards[0])
}

func TestPlanUpdateSkipsTransferPeers(t *testing.T) {
	f := newFSM(t)
	p := New(f, operations.DefaultDefaults(), nil)

	create := operations.NewCreateCollectionOperation("docs", operations.CreateCollection{
		Vectors:           operations.SingleVector(8, operations.DistanceDot),
		ReplicationFactor: u32(2),
	})
	require.NoError(t, p.PlanCreate(create, []operations.PeerID{1, 2}))
	mustApply(t, f, create)
	mustApply(t, f, operations.StartTransfer(operations.ShardTransfer{
		ShardTransferKey: operations.ShardTransferKey{Collection: "docs", ShardID: 0, From: 2, To: 3},
	}))

	update := operations.NewUpdateCollectionOperation("docs", operations.UpdateCollection{
		Params: &operations.CollectionParamsDiff{ReplicationFactor: u32(1)},
	})
	require.NoError(t, p.PlanUpdate(update))
	assert.Equal(t, []operations.ReplicaChange{operations.RemoveReplica(0, 1)}, update.TakeShardReplicaChanges())
}

func TestPlanUpdateWithoutReplicationChange(t *testing.T) {
	f := newFSM(t)
	p := New(f, operations.DefaultDefaults(), nil)

	create := operations.NewCreateCollectionOperation("docs", operations.CreateCollection{
		Vectors: operations.SingleVector(8, operations.DistanceDot),
	})
	require.NoError(t, p.PlanCreate(create, []operations.PeerID{1}))
	mustApply(t, f, create)

	update := operations.NewUpdateCollectionOperation("docs", operations.UpdateCollection{
		Params: &operations.CollectionParamsDiff{WriteConsistencyFactor: u32(1)},
	})
	require.NoError(t, p.PlanUpdate(update))
	assert.False(t, update.HaveReplicaChanges())
	assert.Nil(t, update.TakeShardReplicaChanges())

	missing := operations.NewEmptyUpdateCollectionOperation("nope")
	assert.ErrorIs(t, p.PlanUpdate(missing), fsm.ErrCollectionNotFound)
}
