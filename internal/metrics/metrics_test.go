package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	require.NoError(t, m.Register(reg))
	require.NoError(t, m.Register(reg))
}

func TestObserveApply(t *testing.T) {
	m := New()
	m.ObserveApply("nop", "applied", 7, time.Millisecond)
	m.ObserveApply("nop", "applied", 8, time.Millisecond)
	m.ObserveApply("create_collection", "rejected", 9, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AppliedOperations.WithLabelValues("nop", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AppliedOperations.WithLabelValues("create_collection", "rejected")))
	assert.Equal(t, 9.0, testutil.ToFloat64(m.AppliedIndex))
}

func TestObserveProposalFailure(t *testing.T) {
	m := New()
	m.ObserveProposal("nop", time.Millisecond, errors.New("not leader"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProposalFailures.WithLabelValues("nop")))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveApply("nop", "applied", 1, time.Millisecond)
	m.ObserveProposal("nop", time.Millisecond, nil)
	m.LeadershipChanged()
	m.TransferAborted()
	m.DuplicateNop()
	m.ReconcilerPass(3)
	m.SetRaftLogSize(1)
}

func TestReconcilerPassAndLogSize(t *testing.T) {
	m := New()
	m.ReconcilerPass(2)
	m.ReconcilerPass(1)
	m.SetRaftLogSize(4096)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReconcilerPasses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnhealthyPeers))
	assert.Equal(t, 4096.0, testutil.ToFloat64(m.RaftLogSizeBytes))
}
