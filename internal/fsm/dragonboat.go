package fsm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	sm "github.com/lni/dragonboat/v4/statemachine"

	"github.com/pavandhadge/vectron/clustermeta/internal/operations"
)

// DragonboatStateMachine hosts the FSM inside a dragonboat node as an
// on-disk state machine. The catalog is the on-disk state, so Open reports
// its applied index and dragonboat only replays newer entries.
type DragonboatStateMachine struct {
	fsm       *FSM
	ShardID   uint64
	ReplicaID uint64
}

var _ sm.IOnDiskStateMachine = (*DragonboatStateMachine)(nil)

// NewDragonboatStateMachine wraps f.
func NewDragonboatStateMachine(f *FSM, shardID, replicaID uint64) *DragonboatStateMachine {
	return &DragonboatStateMachine{fsm: f, ShardID: shardID, ReplicaID: replicaID}
}

// DragonboatFactory returns a factory suitable for NodeHost.StartOnDiskReplica.
func DragonboatFactory(f *FSM) sm.CreateOnDiskStateMachineFunc {
	return func(shardID, replicaID uint64) sm.IOnDiskStateMachine {
		return NewDragonboatStateMachine(f, shardID, replicaID)
	}
}

// Open returns the index of the last entry committed to the catalog.
func (d *DragonboatStateMachine) Open(stopc <-chan struct{}) (uint64, error) {
	return d.fsm.AppliedIndex(), nil
}

// Update applies entries in order. Result.Value carries the Outcome and, for
// rejected entries, Result.Data carries the error text. A catalog failure is
// returned as an error, which stops the replica.
func (d *DragonboatStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	for i, entry := range entries {
		resp := d.fsm.ApplyEntry(entry.Index, entry.Cmd)
		if errors.Is(resp.Err, ErrCatalog) {
			return nil, resp.Err
		}
		entries[i].Result = ResultOf(resp)
	}
	return entries, nil
}

type resultData struct {
	Index uint64 `json:"index"`
	Error string `json:"error,omitempty"`
}

// ResultOf encodes an apply response as a dragonboat result. Value carries
// the outcome and Data the index and error text.
func ResultOf(resp ApplyResponse) sm.Result {
	data := resultData{Index: resp.Index}
	if resp.Err != nil {
		data.Error = resp.Err.Error()
	}
	encoded, _ := json.Marshal(data)
	return sm.Result{Value: uint64(resp.Outcome), Data: encoded}
}

// appliedError is a rejection decoded from a dragonboat result. It unwraps
// to the sentinel named in its text, if any.
type appliedError struct {
	sentinel error
	msg      string
}

func (e *appliedError) Error() string { return e.msg }

func (e *appliedError) Unwrap() error { return e.sentinel }

var sentinels = []error{
	ErrCollectionExists, ErrCollectionNotFound, ErrAliasExists, ErrAliasNotFound,
	ErrAliasCollision, ErrShardNotFound, ErrReplicaNotFound, ErrReplicaExists,
	ErrLastReplica, ErrTransferInFlight, ErrTransferNotFound, ErrDistributionMissing,
	ErrDistributionShape, ErrCatalog,
}

// ResponseOf is the inverse of ResultOf.
func ResponseOf(result sm.Result) (ApplyResponse, error) {
	var data resultData
	if err := json.Unmarshal(result.Data, &data); err != nil {
		return ApplyResponse{}, fmt.Errorf("decode apply result: %w", err)
	}
	resp := ApplyResponse{Index: data.Index, Outcome: Outcome(result.Value)}
	if data.Error != "" {
		e := &appliedError{msg: data.Error}
		for _, s := range sentinels {
			if strings.Contains(data.Error, s.Error()) {
				e.sentinel = s
				break
			}
		}
		resp.Err = e
	}
	return resp, nil
}

// Lookup answers read queries:
//
//	string                      the collection with that name, or nil
//	operations.ShardTransferKey the in-flight transfer, or nil
//	nil                         every collection
func (d *DragonboatStateMachine) Lookup(query interface{}) (interface{}, error) {
	switch q := query.(type) {
	case nil:
		return d.fsm.Collections(), nil
	case string:
		if c, ok := d.fsm.Collection(q); ok {
			return c, nil
		}
		return nil, nil
	case operations.ShardTransferKey:
		if t, ok := d.fsm.Transfer(q); ok {
			return t, nil
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported lookup query %T", query)
}

// Sync is a no-op: every catalog commit is already synced.
func (d *DragonboatStateMachine) Sync() error {
	return nil
}

func (d *DragonboatStateMachine) PrepareSnapshot() (interface{}, error) {
	return d.fsm.snapshotData(), nil
}

func (d *DragonboatStateMachine) SaveSnapshot(ctx interface{}, w io.Writer, done <-chan struct{}) error {
	data, ok := ctx.(*snapshotData)
	if !ok {
		return fmt.Errorf("unexpected snapshot context %T", ctx)
	}
	return json.NewEncoder(w).Encode(data)
}

func (d *DragonboatStateMachine) RecoverFromSnapshot(r io.Reader, done <-chan struct{}) error {
	return d.fsm.restore(r)
}

// Close leaves the catalog open; its owner closes it.
func (d *DragonboatStateMachine) Close() error {
	return nil
}
