// This file defines the immutable parameter sets carried by collection create
// and update operations, together with their sub-config diffs. Absent
// sub-configs are resolved against service-wide defaults when the operation
// is applied, never when it is built.

package operations

import "encoding/json"

// HnswConfigDiff overrides parts of the HNSW index configuration.
type HnswConfigDiff struct {
	M                  *uint64 `json:"m,omitempty"`
	EfConstruct        *uint64 `json:"ef_construct,omitempty"`
	FullScanThreshold  *uint64 `json:"full_scan_threshold,omitempty"`
	MaxIndexingThreads *uint64 `json:"max_indexing_threads,omitempty"`
	OnDisk             *bool   `json:"on_disk,omitempty"`
	PayloadM           *uint64 `json:"payload_m,omitempty"`
}

func (d *HnswConfigDiff) validate(field string) error {
	if d.EfConstruct != nil && *d.EfConstruct < 4 {
		return invalid(field+".ef_construct", "must be at least 4")
	}
	if d.FullScanThreshold != nil && *d.FullScanThreshold < 10 {
		return invalid(field+".full_scan_threshold", "must be at least 10")
	}
	return nil
}

// WalConfigDiff overrides parts of the write-ahead-log configuration.
type WalConfigDiff struct {
	WalCapacityMB    *uint64 `json:"wal_capacity_mb,omitempty"`
	WalSegmentsAhead *uint64 `json:"wal_segments_ahead,omitempty"`
}

func (d *WalConfigDiff) validate(field string) error {
	if d.WalCapacityMB != nil && *d.WalCapacityMB < 1 {
		return invalid(field+".wal_capacity_mb", "must be at least 1")
	}
	return nil
}

// OptimizersConfigDiff overrides parts of the segment optimizer configuration.
type OptimizersConfigDiff struct {
	DeletedThreshold       *float64 `json:"deleted_threshold,omitempty"`
	VacuumMinVectorNumber  *uint64  `json:"vacuum_min_vector_number,omitempty"`
	DefaultSegmentNumber   *uint64  `json:"default_segment_number,omitempty"`
	MaxSegmentSize         *uint64  `json:"max_segment_size,omitempty"`
	MemmapThreshold        *uint64  `json:"memmap_threshold,omitempty"`
	IndexingThreshold      *uint64  `json:"indexing_threshold,omitempty"`
	FlushIntervalSec       *uint64  `json:"flush_interval_sec,omitempty"`
	MaxOptimizationThreads *uint64  `json:"max_optimization_threads,omitempty"`
}

func (d *OptimizersConfigDiff) validate(field string) error {
	if d.DeletedThreshold != nil && (*d.DeletedThreshold < 0 || *d.DeletedThreshold > 1) {
		return invalid(field+".deleted_threshold", "must be within [0, 1]")
	}
	if d.VacuumMinVectorNumber != nil && *d.VacuumMinVectorNumber < 100 {
		return invalid(field+".vacuum_min_vector_number", "must be at least 100")
	}
	return nil
}

// ScalarType is the element type of scalar quantization.
type ScalarType string

const ScalarInt8 ScalarType = "int8"

// ScalarQuantization configures int8 scalar quantization.
type ScalarQuantization struct {
	Type      ScalarType `json:"type"`
	Quantile  *float32   `json:"quantile,omitempty"`
	AlwaysRAM *bool      `json:"always_ram,omitempty"`
}

// QuantizationConfig enables vector quantization. Nil means disabled.
type QuantizationConfig struct {
	Scalar *ScalarQuantization `json:"scalar,omitempty"`
}

func (q *QuantizationConfig) validate(field string) error {
	if q.Scalar == nil {
		return invalid(field, "must configure a quantization method")
	}
	if q.Scalar.Type != ScalarInt8 {
		return invalid(field+".scalar.type", "unknown scalar type %q", q.Scalar.Type)
	}
	if q.Scalar.Quantile != nil && (*q.Scalar.Quantile < 0.5 || *q.Scalar.Quantile > 1) {
		return invalid(field+".scalar.quantile", "must be within [0.5, 1]")
	}
	return nil
}

// CollectionParamsDiff overrides base collection parameters on update.
type CollectionParamsDiff struct {
	ReplicationFactor      *uint32 `json:"replication_factor,omitempty"`
	WriteConsistencyFactor *uint32 `json:"write_consistency_factor,omitempty"`
	OnDiskPayload          *bool   `json:"on_disk_payload,omitempty"`
}

func (d *CollectionParamsDiff) validate(field string) error {
	if d.ReplicationFactor != nil && *d.ReplicationFactor < 1 {
		return invalid(field+".replication_factor", "must be at least 1")
	}
	if d.WriteConsistencyFactor != nil && *d.WriteConsistencyFactor < 1 {
		return invalid(field+".write_consistency_factor", "must be at least 1")
	}
	return nil
}

// InitFrom names a collection whose data seeds a new collection.
type InitFrom struct {
	Collection CollectionID `json:"collection"`
}

// CreateCollection holds the parameters of a new collection.
type CreateCollection struct {
	// Vectors configures one unnamed vector space or several named ones.
	Vectors VectorsConfig `json:"vectors"`
	// ShardNumber defaults to the service default when nil. Minimum 1.
	ShardNumber *uint32 `json:"shard_number,omitempty"`
	// ReplicationFactor is the number of replicas per shard. Minimum 1.
	ReplicationFactor *uint32 `json:"replication_factor,omitempty"`
	// WriteConsistencyFactor is how many replicas must apply a write for it
	// to succeed. Minimum 1.
	WriteConsistencyFactor *uint32 `json:"write_consistency_factor,omitempty"`
	// OnDiskPayload keeps payloads on disk instead of RAM.
	OnDiskPayload      *bool                 `json:"on_disk_payload,omitempty"`
	HnswConfig         *HnswConfigDiff       `json:"hnsw_config,omitempty"`
	WalConfig          *WalConfigDiff        `json:"wal_config,omitempty"`
	OptimizersConfig   *OptimizersConfigDiff `json:"optimizers_config,omitempty"`
	InitFrom           *InitFrom             `json:"init_from,omitempty"`
	QuantizationConfig *QuantizationConfig   `json:"quantization_config,omitempty"`
}

type createCollectionJSON CreateCollection

// UnmarshalJSON also accepts the legacy "optimizer_config" and
// "quantization" keys.
func (c *CreateCollection) UnmarshalJSON(data []byte) error {
	var wire struct {
		createCollectionJSON
		LegacyOptimizers   *OptimizersConfigDiff `json:"optimizer_config,omitempty"`
		LegacyQuantization *QuantizationConfig   `json:"quantization,omitempty"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	out := CreateCollection(wire.createCollectionJSON)
	if out.OptimizersConfig == nil {
		out.OptimizersConfig = wire.LegacyOptimizers
	}
	if out.QuantizationConfig == nil {
		out.QuantizationConfig = wire.LegacyQuantization
	}
	*c = out
	return nil
}

// Validate checks c on its own. With InitFrom set the vectors may be left
// empty; they are taken from the source collection when the create is planned.
func (c CreateCollection) Validate() error {
	if c.InitFrom == nil || !c.Vectors.Empty() {
		if err := c.Vectors.Validate(); err != nil {
			return err
		}
	}
	if c.ShardNumber != nil && *c.ShardNumber < 1 {
		return invalid("shard_number", "must be at least 1")
	}
	if c.ReplicationFactor != nil && *c.ReplicationFactor < 1 {
		return invalid("replication_factor", "must be at least 1")
	}
	if c.WriteConsistencyFactor != nil && *c.WriteConsistencyFactor < 1 {
		return invalid("write_consistency_factor", "must be at least 1")
	}
	if c.HnswConfig != nil {
		if err := c.HnswConfig.validate("hnsw_config"); err != nil {
			return err
		}
	}
	if c.WalConfig != nil {
		if err := c.WalConfig.validate("wal_config"); err != nil {
			return err
		}
	}
	if c.OptimizersConfig != nil {
		if err := c.OptimizersConfig.validate("optimizers_config"); err != nil {
			return err
		}
	}
	if c.QuantizationConfig != nil {
		if err := c.QuantizationConfig.validate("quantization_config"); err != nil {
			return err
		}
	}
	if c.InitFrom != nil {
		if err := validateName("init_from.collection", c.InitFrom.Collection); err != nil {
			return err
		}
	}
	return nil
}

// WithFallback returns c with every parameter it leaves unset taken from
// base. InitFrom is kept from c.
func (c CreateCollection) WithFallback(base CreateCollection) CreateCollection {
	if c.Vectors.Empty() {
		c.Vectors = base.Vectors
	}
	if c.ShardNumber == nil {
		c.ShardNumber = base.ShardNumber
	}
	if c.ReplicationFactor == nil {
		c.ReplicationFactor = base.ReplicationFactor
	}
	if c.WriteConsistencyFactor == nil {
		c.WriteConsistencyFactor = base.WriteConsistencyFactor
	}
	if c.OnDiskPayload == nil {
		c.OnDiskPayload = base.OnDiskPayload
	}
	if c.HnswConfig == nil {
		c.HnswConfig = base.HnswConfig
	}
	if c.WalConfig == nil {
		c.WalConfig = base.WalConfig
	}
	if c.OptimizersConfig == nil {
		c.OptimizersConfig = base.OptimizersConfig
	}
	if c.QuantizationConfig == nil {
		c.QuantizationConfig = base.QuantizationConfig
	}
	return c
}

// UpdateCollection holds the parameter diffs of an existing collection.
type UpdateCollection struct {
	// OptimizersConfig is applied once all running optimizations complete.
	OptimizersConfig *OptimizersConfigDiff `json:"optimizers_config,omitempty"`
	Params           *CollectionParamsDiff `json:"params,omitempty"`
}

type updateCollectionJSON UpdateCollection

// UnmarshalJSON also accepts the legacy "optimizer_config" key.
func (u *UpdateCollection) UnmarshalJSON(data []byte) error {
	var wire struct {
		updateCollectionJSON
		LegacyOptimizers *OptimizersConfigDiff `json:"optimizer_config,omitempty"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	out := UpdateCollection(wire.updateCollectionJSON)
	if out.OptimizersConfig == nil {
		out.OptimizersConfig = wire.LegacyOptimizers
	}
	*u = out
	return nil
}

func (u UpdateCollection) Validate() error {
	if u.OptimizersConfig != nil {
		if err := u.OptimizersConfig.validate("optimizers_config"); err != nil {
			return err
		}
	}
	if u.Params != nil {
		if err := u.Params.validate("params"); err != nil {
			return err
		}
	}
	return nil
}
