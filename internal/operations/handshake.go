// This file implements the create and update collection operations together
// with their deferred, fill-once slots: the shard distribution of a new
// collection and the replica topology changes of an update. Slots are filled
// by the planner before the operation is frozen and appended to the log.

package operations

import (
	"encoding/json"
	"fmt"
)

// CreateCollectionOperation creates a collection named CollectionName.
type CreateCollectionOperation struct {
	CollectionName   CollectionID
	CreateCollection CreateCollection

	distribution *ShardDistributionProposal
	frozen       bool
}

func NewCreateCollectionOperation(name CollectionID, params CreateCollection) *CreateCollectionOperation {
	return &CreateCollectionOperation{CollectionName: name, CreateCollection: params}
}

func (o *CreateCollectionOperation) Kind() Kind { return KindCreateCollection }

// IsDistributionSet reports whether the distribution slot is filled.
func (o *CreateCollectionOperation) IsDistributionSet() bool {
	return o.distribution != nil
}

// SetDistribution fills the distribution slot. It fails if the slot was
// already filled or the operation is frozen; a second plan never silently
// replaces the first.
func (o *CreateCollectionOperation) SetDistribution(d ShardDistributionProposal) error {
	if o.frozen {
		return ErrOperationFrozen
	}
	if o.distribution != nil {
		return ErrDistributionAlreadySet
	}
	if err := d.Validate(); err != nil {
		return err
	}
	o.distribution = d.clone()
	return nil
}

// TakeDistribution returns the distribution and empties the slot. Later calls
// return nil.
func (o *CreateCollectionOperation) TakeDistribution() *ShardDistributionProposal {
	d := o.distribution
	o.distribution = nil
	return d
}

// Freeze forbids further slot fills.
func (o *CreateCollectionOperation) Freeze() { o.frozen = true }

func (o *CreateCollectionOperation) Frozen() bool { return o.frozen }

func (o *CreateCollectionOperation) Validate() error {
	if err := validateName("collection_name", o.CollectionName); err != nil {
		return err
	}
	if err := o.CreateCollection.Validate(); err != nil {
		return err
	}
	if o.CreateCollection.InitFrom != nil && o.CreateCollection.InitFrom.Collection == o.CollectionName {
		return invalid("init_from.collection", "collection cannot be initialized from itself")
	}
	if o.distribution != nil {
		if err := o.distribution.Validate(); err != nil {
			return err
		}
		if n := o.CreateCollection.ShardNumber; n != nil && int(*n) != o.distribution.ShardCount() {
			return invalid("distribution", "places %d shards, shard_number is %d", o.distribution.ShardCount(), *n)
		}
	}
	return nil
}

type createCollectionOperationJSON struct {
	CollectionName   CollectionID               `json:"collection_name"`
	CreateCollection CreateCollection           `json:"create_collection"`
	Distribution     *ShardDistributionProposal `json:"distribution,omitempty"`
}

func (o *CreateCollectionOperation) MarshalJSON() ([]byte, error) {
	return json.Marshal(createCollectionOperationJSON{
		CollectionName:   o.CollectionName,
		CreateCollection: o.CreateCollection,
		Distribution:     o.distribution,
	})
}

func (o *CreateCollectionOperation) UnmarshalJSON(data []byte) error {
	var wire createCollectionOperationJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*o = CreateCollectionOperation{
		CollectionName:   wire.CollectionName,
		CreateCollection: wire.CreateCollection,
		distribution:     wire.Distribution,
	}
	return nil
}

// UpdateCollectionOperation updates parameters of CollectionName.
type UpdateCollectionOperation struct {
	CollectionName   CollectionID
	UpdateCollection UpdateCollection

	// shardReplicaChanges is nil whenever there are no changes; an empty
	// slice is never stored.
	shardReplicaChanges []ReplicaChange
	frozen              bool
}

func NewUpdateCollectionOperation(name CollectionID, params UpdateCollection) *UpdateCollectionOperation {
	return &UpdateCollectionOperation{CollectionName: name, UpdateCollection: params}
}

// NewEmptyUpdateCollectionOperation returns an update with no parameter
// diffs, used to carry replica changes alone.
func NewEmptyUpdateCollectionOperation(name CollectionID) *UpdateCollectionOperation {
	return &UpdateCollectionOperation{CollectionName: name}
}

func (o *UpdateCollectionOperation) Kind() Kind { return KindUpdateCollection }

// HaveReplicaChanges reports whether any replica change is attached.
func (o *UpdateCollectionOperation) HaveReplicaChanges() bool {
	return len(o.shardReplicaChanges) > 0
}

// SetShardReplicaChanges attaches replica changes. An empty list means no
// changes and is stored as absent.
func (o *UpdateCollectionOperation) SetShardReplicaChanges(changes []ReplicaChange) error {
	if o.frozen {
		return ErrOperationFrozen
	}
	if o.HaveReplicaChanges() {
		return ErrReplicaChangesAlreadySet
	}
	for i, c := range changes {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("shard_replica_changes[%d]: %w", i, err)
		}
	}
	o.shardReplicaChanges = normalizeChanges(changes)
	return nil
}

// TakeShardReplicaChanges returns the attached changes and clears them.
// Returns nil when there are none.
func (o *UpdateCollectionOperation) TakeShardReplicaChanges() []ReplicaChange {
	changes := o.shardReplicaChanges
	o.shardReplicaChanges = nil
	return changes
}

func (o *UpdateCollectionOperation) Freeze() { o.frozen = true }

func (o *UpdateCollectionOperation) Frozen() bool { return o.frozen }

func (o *UpdateCollectionOperation) Validate() error {
	if err := validateName("collection_name", o.CollectionName); err != nil {
		return err
	}
	if err := o.UpdateCollection.Validate(); err != nil {
		return err
	}
	for i, c := range o.shardReplicaChanges {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("shard_replica_changes[%d]: %w", i, err)
		}
	}
	return nil
}

type updateCollectionOperationJSON struct {
	CollectionName      CollectionID     `json:"collection_name"`
	UpdateCollection    UpdateCollection `json:"update_collection"`
	ShardReplicaChanges []ReplicaChange  `json:"shard_replica_changes,omitempty"`
}

func (o *UpdateCollectionOperation) MarshalJSON() ([]byte, error) {
	return json.Marshal(updateCollectionOperationJSON{
		CollectionName:      o.CollectionName,
		UpdateCollection:    o.UpdateCollection,
		ShardReplicaChanges: o.shardReplicaChanges,
	})
}

func (o *UpdateCollectionOperation) UnmarshalJSON(data []byte) error {
	var wire updateCollectionOperationJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*o = UpdateCollectionOperation{
		CollectionName:      wire.CollectionName,
		UpdateCollection:    wire.UpdateCollection,
		shardReplicaChanges: normalizeChanges(wire.ShardReplicaChanges),
	}
	return nil
}

func normalizeChanges(changes []ReplicaChange) []ReplicaChange {
	if len(changes) == 0 {
		return nil
	}
	return append([]ReplicaChange(nil), changes...)
}
