package fsm

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hashicorp/raft"
	"go.uber.org/zap"

	"github.com/pavandhadge/vectron/clustermeta/internal/logger"
	"github.com/pavandhadge/vectron/clustermeta/internal/operations"
)

// snapshotData is the serialized form of State.
type snapshotData struct {
	Collections  []*CollectionState         `json:"collections"`
	Aliases      map[string]string          `json:"aliases"`
	Transfers    []operations.ShardTransfer `json:"transfers"`
	LastNopToken uint64                     `json:"last_nop_token"`
	AppliedIndex uint64                     `json:"applied_index"`
}

func (f *FSM) snapshotData() *snapshotData {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s := f.state.clone()
	data := &snapshotData{
		Collections:  make([]*CollectionState, 0, len(s.Collections)),
		Aliases:      s.Aliases,
		Transfers:    s.sortedTransfers(),
		LastNopToken: s.LastNopToken,
		AppliedIndex: s.AppliedIndex,
	}
	for _, c := range s.Collections {
		data.Collections = append(data.Collections, c)
	}
	return data
}

func (d *snapshotData) toState() *State {
	s := newState()
	for _, c := range d.Collections {
		if c.Shards == nil {
			c.Shards = make(map[operations.ShardID]Replicas)
		}
		s.Collections[c.Name] = c
	}
	for alias, target := range d.Aliases {
		s.Aliases[alias] = target
	}
	for _, t := range d.Transfers {
		s.Transfers[t.Key()] = t
	}
	s.LastNopToken = d.LastNopToken
	s.AppliedIndex = d.AppliedIndex
	return s
}

// restore replaces the state with the snapshot read from r. A snapshot that
// is not newer than the applied state is ignored; the entries it covers were
// already committed to the catalog.
func (f *FSM) restore(r io.Reader) error {
	var data snapshotData
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state.AppliedIndex > 0 && data.AppliedIndex <= f.state.AppliedIndex {
		f.logger.Info("Ignoring snapshot older than applied state",
			logger.Index(data.AppliedIndex),
			zap.Uint64("applied_index", f.state.AppliedIndex))
		return nil
	}

	s := data.toState()
	if f.catalog != nil {
		ops, err := fullBatch(s)
		if err != nil {
			return err
		}
		if err := f.catalog.Replace(ops, s.AppliedIndex); err != nil {
			return fmt.Errorf("%w: %v", ErrCatalog, err)
		}
	}
	f.state = s
	f.logger.Info("Restored snapshot", logger.Index(s.AppliedIndex), zap.Int("collections", len(s.Collections)))
	return nil
}

// Snapshot implements raft.FSM.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return &fsmSnapshot{data: f.snapshotData()}, nil
}

// Restore implements raft.FSM.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	return f.restore(rc)
}

type fsmSnapshot struct {
	data *snapshotData
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := json.NewEncoder(sink).Encode(s.data); err != nil {
		_ = sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
