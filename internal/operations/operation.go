package operations

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind names an Operation variant.
type Kind string

const (
	KindCreateCollection     Kind = "create_collection"
	KindUpdateCollection     Kind = "update_collection"
	KindDeleteCollection     Kind = "delete_collection"
	KindChangeAliases        Kind = "change_aliases"
	KindTransferShard        Kind = "transfer_shard"
	KindSetShardReplicaState Kind = "set_shard_replica_state"
	KindNop                  Kind = "nop"
)

// Kinds returns every operation kind.
func Kinds() []Kind {
	return []Kind{
		KindCreateCollection,
		KindUpdateCollection,
		KindDeleteCollection,
		KindChangeAliases,
		KindTransferShard,
		KindSetShardReplicaState,
		KindNop,
	}
}

// Operation is one cluster metadata command, the unit appended to the
// replicated log. The set of implementations is closed:
//
//	*CreateCollectionOperation
//	*UpdateCollectionOperation
//	DeleteCollectionOperation
//	ChangeAliasesOperation
//	ShardTransferOperation
//	SetShardReplicaState
//	Nop
type Operation interface {
	Kind() Kind
	Validate() error
}

// DeleteCollectionOperation deletes CollectionName.
type DeleteCollectionOperation struct {
	CollectionName CollectionID `json:"collection_name"`
}

func (o DeleteCollectionOperation) Kind() Kind { return KindDeleteCollection }

func (o DeleteCollectionOperation) Validate() error {
	return validateName("collection_name", o.CollectionName)
}

// SetShardReplicaState sets the state of the replica of ShardID on PeerID.
//
// When FromState is set the write is a compare-and-set: the applier only
// writes State if the replica is currently in FromState, and dismisses the
// operation otherwise. This keeps e.g. an Initializing -> Active promotion
// from resurrecting a replica that died in the meantime.
type SetShardReplicaState struct {
	CollectionName CollectionID  `json:"collection_name"`
	ShardID        ShardID       `json:"shard_id"`
	PeerID         PeerID        `json:"peer_id"`
	State          ReplicaState  `json:"state"`
	FromState      *ReplicaState `json:"from_state,omitempty"`
}

func (o SetShardReplicaState) Kind() Kind { return KindSetShardReplicaState }

func (o SetShardReplicaState) Validate() error {
	if err := validateName("collection_name", o.CollectionName); err != nil {
		return err
	}
	if !o.State.Valid() {
		return invalid("state", "unknown replica state %q", o.State)
	}
	if o.FromState != nil && !o.FromState.Valid() {
		return invalid("from_state", "unknown replica state %q", *o.FromState)
	}
	return nil
}

// Nop occupies a log slot without mutating metadata. Nops sharing a token are
// the same logical event.
type Nop struct {
	Token uint64 `json:"token"`
}

func (o Nop) Kind() Kind { return KindNop }

func (o Nop) Validate() error { return nil }

// freezer is implemented by operations with fill-once slots.
type freezer interface {
	Freeze()
}

// Envelope is the log representation of an Operation.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Encode validates op, freezes its slots and returns its log representation.
func Encode(op Operation) ([]byte, error) {
	if op == nil {
		return nil, errors.New("nil operation")
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}
	if f, ok := op.(freezer); ok {
		f.Freeze()
	}
	payload, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", op.Kind(), err)
	}
	return json.Marshal(Envelope{Kind: op.Kind(), Payload: payload})
}

// Decode parses a log entry back into a validated, frozen Operation.
func Decode(data []byte) (Operation, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal operation envelope: %w", err)
	}
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("operation %q has no payload", env.Kind)
	}

	var op Operation
	var err error
	switch env.Kind {
	case KindCreateCollection:
		var v CreateCollectionOperation
		err = decodePayload(env.Payload, &v)
		v.Freeze()
		op = &v
	case KindUpdateCollection:
		var v UpdateCollectionOperation
		err = decodePayload(env.Payload, &v)
		v.Freeze()
		op = &v
	case KindDeleteCollection:
		var v DeleteCollectionOperation
		err = decodePayload(env.Payload, &v)
		op = v
	case KindChangeAliases:
		var v ChangeAliasesOperation
		err = decodePayload(env.Payload, &v)
		op = v
	case KindTransferShard:
		var v ShardTransferOperation
		err = decodePayload(env.Payload, &v)
		op = v
	case KindSetShardReplicaState:
		var v SetShardReplicaState
		err = decodePayload(env.Payload, &v)
		op = v
	case KindNop:
		var v Nop
		err = decodePayload(env.Payload, &v)
		op = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", env.Kind, err)
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}
	return op, nil
}

// decodePayload rejects unknown fields in plain payload structs so that a
// payload of one shape is never silently read as another.
func decodePayload(payload []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// CollectionOf returns the collection an operation targets, or "" for alias
// batches and Nops.
func CollectionOf(op Operation) CollectionID {
	switch o := op.(type) {
	case *CreateCollectionOperation:
		return o.CollectionName
	case *UpdateCollectionOperation:
		return o.CollectionName
	case DeleteCollectionOperation:
		return o.CollectionName
	case ShardTransferOperation:
		return o.TransferKey().Collection
	case SetShardReplicaState:
		return o.CollectionName
	}
	return ""
}
