package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavandhadge/vectron/clustermeta/internal/fsm"
	"github.com/pavandhadge/vectron/clustermeta/internal/metrics"
	"github.com/pavandhadge/vectron/clustermeta/internal/operations"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fsmProposer applies proposals straight to an FSM.
type fsmProposer struct {
	mu       sync.Mutex
	fsm      *fsm.FSM
	leader   bool
	proposed []operations.Operation
}

func (p *fsmProposer) Propose(_ context.Context, op operations.Operation) (fsm.ApplyResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.proposed = append(p.proposed, op)
	return p.fsm.ApplyOperation(p.fsm.AppliedIndex()+1, op), nil
}

func (p *fsmProposer) IsLeader() bool { return p.leader }

func docsWithTransfer(t *testing.T) *fsm.FSM {
	t.Helper()
	f, err := fsm.New(fsm.Options{Defaults: operations.DefaultDefaults()})
	require.NoError(t, err)

	shards := uint32(4)
	create := operations.NewCreateCollectionOperation("docs", operations.CreateCollection{
		Vectors:     operations.SingleVector(4, operations.DistanceCosine),
		ShardNumber: &shards,
	})
	var d operations.ShardDistributionProposal
	for i := 0; i < 4; i++ {
		d.Distribution = append(d.Distribution, operations.ShardPlacement{ShardID: operations.ShardID(i), Peers: []operations.PeerID{1}})
	}
	require.NoError(t, create.SetDistribution(d))
	require.Equal(t, fsm.OutcomeApplied, f.ApplyOperation(1, create).Outcome)

	start := operations.StartTransfer(operations.ShardTransfer{
		ShardTransferKey: operations.ShardTransferKey{Collection: "docs", ShardID: 3, From: 1, To: 2},
	})
	require.Equal(t, fsm.OutcomeApplied, f.ApplyOperation(2, start).Outcome)
	return f
}

func TestReconcileAbortsTransferToDisconnectedPeer(t *testing.T) {
	f := docsWithTransfer(t)
	clock := &fakeClock{now: time.Unix(1000, 0)}
	registry := newRegistry(30*time.Second, clock.Now)
	registry.Heartbeat(1)
	registry.Heartbeat(2)

	proposer := &fsmProposer{fsm: f, leader: true}
	r := New(DefaultConfig(), f, proposer, registry, metrics.New(), nil)

	assert.Equal(t, 0, r.Reconcile(context.Background()))
	assert.Empty(t, proposer.proposed)

	// Peer 1 keeps heartbeating, the destination goes quiet.
	clock.Advance(20 * time.Second)
	registry.Heartbeat(1)
	clock.Advance(20 * time.Second)

	assert.Equal(t, 1, r.Reconcile(context.Background()))
	require.Len(t, proposer.proposed, 1)
	abort, ok := proposer.proposed[0].(operations.ShardTransferOperation)
	require.True(t, ok)
	assert.Equal(t, operations.TransferAbort, abort.Action)
	assert.Equal(t, operations.ShardTransferKey{Collection: "docs", ShardID: 3, From: 1, To: 2}, *abort.Key)
	assert.NotEmpty(t, abort.Reason)
	assert.Contains(t, abort.Reason, "peer 2")

	assert.Empty(t, f.Transfers())
	c, _ := f.Collection("docs")
	_, partial := c.Shards[3][2]
	assert.False(t, partial)

	// Nothing left to abort.
	assert.Equal(t, 0, r.Reconcile(context.Background()))
}

func TestReconcileOnlyOnLeader(t *testing.T) {
	f := docsWithTransfer(t)
	clock := &fakeClock{now: time.Unix(1000, 0)}
	registry := newRegistry(time.Second, clock.Now)
	clock.Advance(time.Minute)

	proposer := &fsmProposer{fsm: f}
	r := New(DefaultConfig(), f, proposer, registry, nil, nil)
	assert.Equal(t, 0, r.Reconcile(context.Background()))
	assert.Empty(t, proposer.proposed)
	assert.Len(t, f.Transfers(), 1)
}

func TestRegistryGracePeriod(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	registry := newRegistry(10*time.Second, clock.Now)

	assert.True(t, registry.IsAlive(7), "unknown peers get a grace period")
	clock.Advance(11 * time.Second)
	assert.False(t, registry.IsAlive(7))

	registry.Heartbeat(7)
	registry.Heartbeat(3)
	assert.True(t, registry.IsAlive(7))
	assert.Equal(t, []operations.PeerID{3, 7}, registry.Alive())

	clock.Advance(5 * time.Second)
	registry.Heartbeat(3)
	clock.Advance(6 * time.Second)
	assert.Equal(t, []operations.PeerID{3}, registry.Alive())
	assert.Equal(t, []operations.PeerID{7}, registry.Unhealthy())

	registry.Forget(7)
	assert.Empty(t, registry.Unhealthy())
}

func TestRunStopsWithContext(t *testing.T) {
	f := docsWithTransfer(t)
	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	r := New(cfg, f, &fsmProposer{fsm: f}, NewRegistry(time.Minute), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
