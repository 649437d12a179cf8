package operations

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveFallsBackToDefaults(t *testing.T) {
	defaults := DefaultDefaults()
	defaults.ShardNumber = 3

	cfg := defaults.Resolve(CreateCollection{Vectors: SingleVector(4, DistanceCosine)})

	assert.Equal(t, uint32(3), cfg.Params.ShardNumber)
	assert.Equal(t, uint32(1), cfg.Params.ReplicationFactor)
	assert.Equal(t, defaults.Hnsw, cfg.HnswConfig)
	assert.Equal(t, defaults.Wal, cfg.WalConfig)
	assert.Equal(t, defaults.Optimizers, cfg.OptimizerConfig)
	assert.Nil(t, cfg.QuantizationConfig)
}

func TestResolveAppliesOverrides(t *testing.T) {
	m := uint64(48)
	capacity := uint64(64)
	cfg := DefaultDefaults().Resolve(CreateCollection{
		Vectors:    SingleVector(4, DistanceCosine),
		HnswConfig: &HnswConfigDiff{M: &m},
		WalConfig:  &WalConfigDiff{WalCapacityMB: &capacity},
	})
	assert.Equal(t, uint64(48), cfg.HnswConfig.M)
	assert.Equal(t, DefaultDefaults().Hnsw.EfConstruct, cfg.HnswConfig.EfConstruct)
	assert.Equal(t, uint64(64), cfg.WalConfig.WalCapacityMB)
}

func TestToCreateCollectionReproducesConfig(t *testing.T) {
	defaults := DefaultDefaults()
	original := defaults.Resolve(CreateCollection{
		Vectors:           SingleVector(16, DistanceDot),
		ShardNumber:       ptr(uint32(4)),
		ReplicationFactor: ptr(uint32(2)),
	})

	// Different defaults must not leak into a collection copied from a config.
	other := DefaultDefaults()
	other.Hnsw.M = 4
	other.Optimizers.DeletedThreshold = 0.9
	copied := other.Resolve(original.ToCreateCollection())

	assert.Equal(t, original, copied)
}

func TestApplyUpdate(t *testing.T) {
	cfg := DefaultDefaults().Resolve(CreateCollection{Vectors: SingleVector(4, DistanceCosine)})
	updated := cfg.ApplyUpdate(UpdateCollection{
		OptimizersConfig: &OptimizersConfigDiff{MaxSegmentSize: ptr(uint64(1024))},
		Params:           &CollectionParamsDiff{ReplicationFactor: ptr(uint32(3)), OnDiskPayload: ptr(true)},
	})
	assert.Equal(t, uint32(3), updated.Params.ReplicationFactor)
	assert.True(t, updated.Params.OnDiskPayload)
	assert.Equal(t, uint64(1024), *updated.OptimizerConfig.MaxSegmentSize)
	assert.Nil(t, cfg.OptimizerConfig.MaxSegmentSize, "original config must not change")
}

func TestWithFallbackKeepsExplicitValues(t *testing.T) {
	base := DefaultDefaults().Resolve(CreateCollection{
		Vectors:     SingleVector(8, DistanceEuclid),
		ShardNumber: ptr(uint32(6)),
	}).ToCreateCollection()

	req := CreateCollection{
		ReplicationFactor: ptr(uint32(3)),
		InitFrom:          &InitFrom{Collection: "source"},
	}
	merged := req.WithFallback(base)

	assert.Equal(t, base.Vectors, merged.Vectors)
	assert.Equal(t, uint32(6), *merged.ShardNumber)
	assert.Equal(t, uint32(3), *merged.ReplicationFactor)
	assert.Equal(t, base.HnswConfig, merged.HnswConfig)
	assert.Equal(t, "source", merged.InitFrom.Collection)
}
