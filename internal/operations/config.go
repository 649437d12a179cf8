package operations

// HnswConfig is a fully resolved HNSW index configuration.
type HnswConfig struct {
	M                  uint64  `json:"m" yaml:"m"`
	EfConstruct        uint64  `json:"ef_construct" yaml:"ef_construct"`
	FullScanThreshold  uint64  `json:"full_scan_threshold" yaml:"full_scan_threshold"`
	MaxIndexingThreads uint64  `json:"max_indexing_threads" yaml:"max_indexing_threads"`
	OnDisk             bool    `json:"on_disk" yaml:"on_disk"`
	PayloadM           *uint64 `json:"payload_m,omitempty" yaml:"payload_m,omitempty"`
}

// Apply returns c with every field set in d overridden.
func (c HnswConfig) Apply(d *HnswConfigDiff) HnswConfig {
	if d == nil {
		return c
	}
	if d.M != nil {
		c.M = *d.M
	}
	if d.EfConstruct != nil {
		c.EfConstruct = *d.EfConstruct
	}
	if d.FullScanThreshold != nil {
		c.FullScanThreshold = *d.FullScanThreshold
	}
	if d.MaxIndexingThreads != nil {
		c.MaxIndexingThreads = *d.MaxIndexingThreads
	}
	if d.OnDisk != nil {
		c.OnDisk = *d.OnDisk
	}
	if d.PayloadM != nil {
		v := *d.PayloadM
		c.PayloadM = &v
	}
	return c
}

// Diff returns the diff that reproduces c from scratch.
func (c HnswConfig) Diff() *HnswConfigDiff {
	d := &HnswConfigDiff{
		M:                  ptr(c.M),
		EfConstruct:        ptr(c.EfConstruct),
		FullScanThreshold:  ptr(c.FullScanThreshold),
		MaxIndexingThreads: ptr(c.MaxIndexingThreads),
		OnDisk:             ptr(c.OnDisk),
	}
	if c.PayloadM != nil {
		d.PayloadM = ptr(*c.PayloadM)
	}
	return d
}

// WalConfig is a fully resolved write-ahead-log configuration.
type WalConfig struct {
	WalCapacityMB    uint64 `json:"wal_capacity_mb" yaml:"wal_capacity_mb"`
	WalSegmentsAhead uint64 `json:"wal_segments_ahead" yaml:"wal_segments_ahead"`
}

func (c WalConfig) Apply(d *WalConfigDiff) WalConfig {
	if d == nil {
		return c
	}
	if d.WalCapacityMB != nil {
		c.WalCapacityMB = *d.WalCapacityMB
	}
	if d.WalSegmentsAhead != nil {
		c.WalSegmentsAhead = *d.WalSegmentsAhead
	}
	return c
}

func (c WalConfig) Diff() *WalConfigDiff {
	return &WalConfigDiff{WalCapacityMB: ptr(c.WalCapacityMB), WalSegmentsAhead: ptr(c.WalSegmentsAhead)}
}

// OptimizersConfig is a fully resolved optimizer configuration.
type OptimizersConfig struct {
	DeletedThreshold       float64 `json:"deleted_threshold" yaml:"deleted_threshold"`
	VacuumMinVectorNumber  uint64  `json:"vacuum_min_vector_number" yaml:"vacuum_min_vector_number"`
	DefaultSegmentNumber   uint64  `json:"default_segment_number" yaml:"default_segment_number"`
	MaxSegmentSize         *uint64 `json:"max_segment_size,omitempty" yaml:"max_segment_size,omitempty"`
	MemmapThreshold        *uint64 `json:"memmap_threshold,omitempty" yaml:"memmap_threshold,omitempty"`
	IndexingThreshold      uint64  `json:"indexing_threshold" yaml:"indexing_threshold"`
	FlushIntervalSec       uint64  `json:"flush_interval_sec" yaml:"flush_interval_sec"`
	MaxOptimizationThreads uint64  `json:"max_optimization_threads" yaml:"max_optimization_threads"`
}

func (c OptimizersConfig) Apply(d *OptimizersConfigDiff) OptimizersConfig {
	if d == nil {
		return c
	}
	if d.DeletedThreshold != nil {
		c.DeletedThreshold = *d.DeletedThreshold
	}
	if d.VacuumMinVectorNumber != nil {
		c.VacuumMinVectorNumber = *d.VacuumMinVectorNumber
	}
	if d.DefaultSegmentNumber != nil {
		c.DefaultSegmentNumber = *d.DefaultSegmentNumber
	}
	if d.MaxSegmentSize != nil {
		c.MaxSegmentSize = ptr(*d.MaxSegmentSize)
	}
	if d.MemmapThreshold != nil {
		c.MemmapThreshold = ptr(*d.MemmapThreshold)
	}
	if d.IndexingThreshold != nil {
		c.IndexingThreshold = *d.IndexingThreshold
	}
	if d.FlushIntervalSec != nil {
		c.FlushIntervalSec = *d.FlushIntervalSec
	}
	if d.MaxOptimizationThreads != nil {
		c.MaxOptimizationThreads = *d.MaxOptimizationThreads
	}
	return c
}

func (c OptimizersConfig) Diff() *OptimizersConfigDiff {
	d := &OptimizersConfigDiff{
		DeletedThreshold:       ptr(c.DeletedThreshold),
		VacuumMinVectorNumber:  ptr(c.VacuumMinVectorNumber),
		DefaultSegmentNumber:   ptr(c.DefaultSegmentNumber),
		IndexingThreshold:      ptr(c.IndexingThreshold),
		FlushIntervalSec:       ptr(c.FlushIntervalSec),
		MaxOptimizationThreads: ptr(c.MaxOptimizationThreads),
	}
	if c.MaxSegmentSize != nil {
		d.MaxSegmentSize = ptr(*c.MaxSegmentSize)
	}
	if c.MemmapThreshold != nil {
		d.MemmapThreshold = ptr(*c.MemmapThreshold)
	}
	return d
}

// CollectionParams are the resolved base parameters of a collection.
type CollectionParams struct {
	Vectors                VectorsConfig `json:"vectors"`
	ShardNumber            uint32        `json:"shard_number"`
	ReplicationFactor      uint32        `json:"replication_factor"`
	WriteConsistencyFactor uint32        `json:"write_consistency_factor"`
	OnDiskPayload          bool          `json:"on_disk_payload"`
}

// CollectionConfig is the applied configuration of a collection.
type CollectionConfig struct {
	Params             CollectionParams    `json:"params"`
	HnswConfig         HnswConfig          `json:"hnsw_config"`
	WalConfig          WalConfig           `json:"wal_config"`
	OptimizerConfig    OptimizersConfig    `json:"optimizer_config"`
	QuantizationConfig *QuantizationConfig `json:"quantization_config,omitempty"`
}

// ToCreateCollection builds the create parameters that reproduce c for a new
// collection.
func (c CollectionConfig) ToCreateCollection() CreateCollection {
	return CreateCollection{
		Vectors:                c.Params.Vectors,
		ShardNumber:            ptr(c.Params.ShardNumber),
		ReplicationFactor:      ptr(c.Params.ReplicationFactor),
		WriteConsistencyFactor: ptr(c.Params.WriteConsistencyFactor),
		OnDiskPayload:          ptr(c.Params.OnDiskPayload),
		HnswConfig:             c.HnswConfig.Diff(),
		WalConfig:              c.WalConfig.Diff(),
		OptimizersConfig:       c.OptimizerConfig.Diff(),
		QuantizationConfig:     c.QuantizationConfig,
	}
}

// ApplyUpdate returns c with the diffs of u applied.
func (c CollectionConfig) ApplyUpdate(u UpdateCollection) CollectionConfig {
	c.OptimizerConfig = c.OptimizerConfig.Apply(u.OptimizersConfig)
	if p := u.Params; p != nil {
		if p.ReplicationFactor != nil {
			c.Params.ReplicationFactor = *p.ReplicationFactor
		}
		if p.WriteConsistencyFactor != nil {
			c.Params.WriteConsistencyFactor = *p.WriteConsistencyFactor
		}
		if p.OnDiskPayload != nil {
			c.Params.OnDiskPayload = *p.OnDiskPayload
		}
	}
	return c
}

// Defaults are the service-wide values used for everything a create request
// leaves unset.
type Defaults struct {
	ShardNumber            uint32           `yaml:"shard_number"`
	ReplicationFactor      uint32           `yaml:"replication_factor"`
	WriteConsistencyFactor uint32           `yaml:"write_consistency_factor"`
	OnDiskPayload          bool             `yaml:"on_disk_payload"`
	Hnsw                   HnswConfig       `yaml:"hnsw"`
	Wal                    WalConfig        `yaml:"wal"`
	Optimizers             OptimizersConfig `yaml:"optimizers"`
}

// DefaultDefaults returns the built-in service defaults.
func DefaultDefaults() Defaults {
	return Defaults{
		ShardNumber:            1,
		ReplicationFactor:      1,
		WriteConsistencyFactor: 1,
		Hnsw: HnswConfig{
			M:                 16,
			EfConstruct:       100,
			FullScanThreshold: 10000,
		},
		Wal: WalConfig{
			WalCapacityMB: 32,
		},
		Optimizers: OptimizersConfig{
			DeletedThreshold:       0.2,
			VacuumMinVectorNumber:  1000,
			IndexingThreshold:      20000,
			FlushIntervalSec:       5,
			MaxOptimizationThreads: 1,
		},
	}
}

// Resolve fills every parameter c leaves unset from d.
func (d Defaults) Resolve(c CreateCollection) CollectionConfig {
	cfg := CollectionConfig{
		Params: CollectionParams{
			Vectors:                c.Vectors,
			ShardNumber:            valueOr(c.ShardNumber, d.ShardNumber),
			ReplicationFactor:      valueOr(c.ReplicationFactor, d.ReplicationFactor),
			WriteConsistencyFactor: valueOr(c.WriteConsistencyFactor, d.WriteConsistencyFactor),
			OnDiskPayload:          valueOr(c.OnDiskPayload, d.OnDiskPayload),
		},
		HnswConfig:         d.Hnsw.Apply(c.HnswConfig),
		WalConfig:          d.Wal.Apply(c.WalConfig),
		OptimizerConfig:    d.Optimizers.Apply(c.OptimizersConfig),
		QuantizationConfig: c.QuantizationConfig,
	}
	if cfg.Params.ShardNumber == 0 {
		cfg.Params.ShardNumber = 1
	}
	if cfg.Params.ReplicationFactor == 0 {
		cfg.Params.ReplicationFactor = 1
	}
	if cfg.Params.WriteConsistencyFactor == 0 {
		cfg.Params.WriteConsistencyFactor = 1
	}
	return cfg
}

func ptr[T any](v T) *T { return &v }

func valueOr[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}
