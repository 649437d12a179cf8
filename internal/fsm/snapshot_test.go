package fsm

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavandhadge/vectron/clustermeta/internal/operations"
	"github.com/pavandhadge/vectron/clustermeta/internal/storage"
)

type bufferSink struct {
	bytes.Buffer
	cancelled bool
	closed    bool
}

func (s *bufferSink) ID() string { return "test" }

func (s *bufferSink) Cancel() error {
	s.cancelled = true
	return nil
}

func (s *bufferSink) Close() error {
	s.closed = true
	return nil
}

func populated(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, nil)
	h.mustApply(createOp(t, "docs", peers(1, 2), peers(2, 3)))
	h.mustApply(aliasBatch(operations.NewCreateAlias("docs", "latest")))
	h.mustApply(operations.StartTransfer(transfer(1, 2, 4, true)))
	h.mustApply(operations.Nop{Token: 77})
	return h
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	h := populated(t)

	snap, err := h.fsm.Snapshot()
	require.NoError(t, err)
	sink := &bufferSink{}
	require.NoError(t, snap.Persist(sink))
	snap.Release()
	assert.True(t, sink.closed)

	catalog, err := storage.OpenCatalog(filepath.Join(t.TempDir(), "catalog"))
	require.NoError(t, err)
	defer catalog.Close()
	restored, err := New(Options{Defaults: operations.DefaultDefaults(), Catalog: catalog})
	require.NoError(t, err)
	require.NoError(t, restored.Restore(io.NopCloser(&sink.Buffer)))

	assert.Equal(t, h.fsm.Collections(), restored.Collections())
	assert.Equal(t, h.fsm.Aliases(), restored.Aliases())
	assert.Equal(t, h.fsm.Transfers(), restored.Transfers())
	assert.Equal(t, uint64(77), restored.LastNopToken())
	assert.Equal(t, h.fsm.AppliedIndex(), restored.AppliedIndex())

	index, err := catalog.AppliedIndex()
	require.NoError(t, err)
	assert.Equal(t, h.fsm.AppliedIndex(), index)

	// The catalog alone is enough to rebuild the restored state.
	reloaded, err := New(Options{Defaults: operations.DefaultDefaults(), Catalog: catalog})
	require.NoError(t, err)
	assert.Equal(t, restored.Collections(), reloaded.Collections())
}

func TestRestoreIgnoresOlderSnapshot(t *testing.T) {
	h := populated(t)
	snap, err := h.fsm.Snapshot()
	require.NoError(t, err)
	sink := &bufferSink{}
	require.NoError(t, snap.Persist(sink))

	h.mustApply(operations.DeleteCollectionOperation{CollectionName: "docs"})
	require.NoError(t, h.fsm.Restore(io.NopCloser(&sink.Buffer)))

	_, ok := h.fsm.Collection("docs")
	assert.False(t, ok, "older snapshot must not resurrect deleted state")
}

func TestDragonboatStateMachine(t *testing.T) {
	f, err := New(Options{Defaults: operations.DefaultDefaults()})
	require.NoError(t, err)
	d := DragonboatFactory(f)(1, 1)

	index, err := d.Open(nil)
	require.NoError(t, err)
	assert.Zero(t, index)

	create, err := operations.Encode(createOp(t, "docs", peers(1)))
	require.NoError(t, err)
	dup, err := operations.Encode(createOp(t, "docs", peers(1)))
	require.NoError(t, err)
	dead := operations.ReplicaDead
	cas, err := operations.Encode(operations.SetShardReplicaState{
		CollectionName: "docs", ShardID: 0, PeerID: 1, State: operations.ReplicaActive, FromState: &dead,
	})
	require.NoError(t, err)

	results, err := d.Update([]sm.Entry{
		{Index: 1, Cmd: create},
		{Index: 2, Cmd: dup},
		{Index: 3, Cmd: cas},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, uint64(OutcomeApplied), results[0].Result.Value)
	assert.Equal(t, uint64(OutcomeRejected), results[1].Result.Value)
	assert.Contains(t, string(results[1].Result.Data), "already exists")
	assert.Equal(t, uint64(OutcomeDismissed), results[2].Result.Value)

	resp, err := ResponseOf(results[1].Result)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), resp.Index)
	assert.True(t, resp.IsRejected(ErrCollectionExists))
	resp, err = ResponseOf(results[0].Result)
	require.NoError(t, err)
	assert.Equal(t, ApplyResponse{Index: 1, Outcome: OutcomeApplied}, resp)

	index, err = d.Open(nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), index)

	got, err := d.Lookup("docs")
	require.NoError(t, err)
	require.IsType(t, &CollectionState{}, got)
	assert.Equal(t, "docs", got.(*CollectionState).Name)

	got, err = d.Lookup("ghost")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = d.Lookup(42)
	assert.Error(t, err)

	ctx, err := d.PrepareSnapshot()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, d.SaveSnapshot(ctx, &buf, nil))

	other, err := New(Options{Defaults: operations.DefaultDefaults()})
	require.NoError(t, err)
	require.NoError(t, NewDragonboatStateMachine(other, 1, 2).RecoverFromSnapshot(&buf, nil))
	assert.Equal(t, f.Collections(), other.Collections())
	require.NoError(t, d.Sync())
	require.NoError(t, d.Close())
}
