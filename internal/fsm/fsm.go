package fsm

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	"go.uber.org/zap"

	"github.com/pavandhadge/vectron/clustermeta/internal/logger"
	"github.com/pavandhadge/vectron/clustermeta/internal/operations"
	"github.com/pavandhadge/vectron/clustermeta/internal/storage"
)

// Catalog is the durable store the applier commits into.
type Catalog interface {
	// Commit writes ops and the applied index atomically.
	Commit(ops storage.BatchOperations, index uint64) error
	// Replace swaps every record for ops.
	Replace(ops storage.BatchOperations, index uint64) error
	AppliedIndex() (uint64, error)
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
}

// Observer receives one call per applied log entry.
type Observer interface {
	ObserveApply(kind, outcome string, index uint64, elapsed time.Duration)
}

// Outcome is how the applier disposed of a log entry.
type Outcome int

const (
	// OutcomeApplied means the operation took effect.
	OutcomeApplied Outcome = iota + 1
	// OutcomeDismissed means a compare-and-set precondition did not hold. It
	// is not an error and nothing changed.
	OutcomeDismissed
	// OutcomeRejected means the operation failed and nothing changed.
	OutcomeRejected
	// OutcomeSkipped means the entry was at or below the applied index.
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDismissed:
		return "dismissed"
	case OutcomeRejected:
		return "rejected"
	case OutcomeSkipped:
		return "skipped"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// ApplyResponse is returned for every applied log entry. Err is set exactly
// when Outcome is OutcomeRejected.
type ApplyResponse struct {
	Index   uint64
	Outcome Outcome
	Err     error
}

// Options configures an FSM.
type Options struct {
	// Defaults resolve every collection parameter a create leaves unset.
	Defaults operations.Defaults
	// Catalog is optional. Without one the state lives in memory only.
	Catalog  Catalog
	Logger   *zap.Logger
	Observer Observer
}

// FSM is the single sequential applier of cluster metadata operations.
type FSM struct {
	mu       sync.RWMutex
	state    *State
	defaults operations.Defaults
	catalog  Catalog
	logger   *zap.Logger
	observer Observer
}

// New creates an FSM, loading the applied state from the catalog if one is
// configured.
func New(opts Options) (*FSM, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	f := &FSM{
		state:    newState(),
		defaults: opts.Defaults,
		catalog:  opts.Catalog,
		logger:   opts.Logger,
		observer: opts.Observer,
	}
	if f.catalog != nil {
		s, err := loadState(f.catalog)
		if err != nil {
			return nil, fmt.Errorf("failed to load catalog: %w", err)
		}
		f.state = s
		f.logger.Info("Loaded metadata catalog",
			logger.Index(s.AppliedIndex),
			zap.Int("collections", len(s.Collections)),
			zap.Int("aliases", len(s.Aliases)),
			zap.Int("transfers", len(s.Transfers)))
	}
	return f, nil
}

// Apply implements raft.FSM. The response is always an ApplyResponse.
func (f *FSM) Apply(l *raft.Log) interface{} {
	return f.ApplyEntry(l.Index, l.Data)
}

// ApplyEntry decodes and applies one log entry.
func (f *FSM) ApplyEntry(index uint64, data []byte) ApplyResponse {
	op, err := operations.Decode(data)
	if err != nil {
		return f.apply(index, "undecodable", func(*txn) (Outcome, error) { return OutcomeRejected, err })
	}
	return f.ApplyOperation(index, op)
}

// ApplyOperation applies op as the entry at index. An index of 0 is never
// skipped; it is used when no log is involved.
func (f *FSM) ApplyOperation(index uint64, op operations.Operation) ApplyResponse {
	return f.apply(index, string(op.Kind()), func(tx *txn) (Outcome, error) {
		return f.dispatch(tx, op)
	})
}

func (f *FSM) dispatch(tx *txn, op operations.Operation) (Outcome, error) {
	var err error
	switch o := op.(type) {
	case *operations.CreateCollectionOperation:
		err = f.applyCreateCollection(tx, o)
	case *operations.UpdateCollectionOperation:
		err = f.applyUpdateCollection(tx, o)
	case operations.DeleteCollectionOperation:
		err = f.applyDeleteCollection(tx, o)
	case operations.ChangeAliasesOperation:
		err = f.applyChangeAliases(tx, o)
	case operations.ShardTransferOperation:
		err = f.applyShardTransfer(tx, o)
	case operations.SetShardReplicaState:
		return f.applySetReplicaState(tx, o)
	case operations.Nop:
		tx.setNopToken(o.Token)
	default:
		err = fmt.Errorf("%w: %T", operations.ErrUnknownKind, op)
	}
	if err != nil {
		return OutcomeRejected, err
	}
	return OutcomeApplied, nil
}

// apply runs fn against a working copy and commits it. The live state is only
// replaced after the catalog accepted the batch, so a failure at any point
// leaves no partial effect.
func (f *FSM) apply(index uint64, kind string, fn func(*txn) (Outcome, error)) ApplyResponse {
	f.mu.Lock()
	defer f.mu.Unlock()

	start := time.Now()
	if index != 0 && index <= f.state.AppliedIndex {
		f.observe(kind, OutcomeSkipped, index, start)
		return ApplyResponse{Index: index, Outcome: OutcomeSkipped}
	}

	tx := newTxn(f.state)
	outcome, err := fn(tx)
	if err != nil {
		outcome = OutcomeRejected
	}

	var ops storage.BatchOperations
	if outcome == OutcomeApplied {
		if ops, err = tx.batch(); err != nil {
			outcome = OutcomeRejected
		}
	}

	if f.catalog != nil && index != 0 {
		if cerr := f.catalog.Commit(ops, index); cerr != nil {
			f.logger.Error("Failed to commit to catalog", logger.Index(index), logger.Kind(kind), zap.Error(cerr))
			f.observe(kind, OutcomeRejected, index, start)
			return ApplyResponse{Index: index, Outcome: OutcomeRejected, Err: fmt.Errorf("%w: %v", ErrCatalog, cerr)}
		}
	}

	if outcome == OutcomeApplied {
		f.state = tx.state
	}
	if index > f.state.AppliedIndex {
		f.state.AppliedIndex = index
	}

	switch outcome {
	case OutcomeRejected:
		f.logger.Warn("Rejected operation", logger.Index(index), logger.Kind(kind), zap.Error(err))
	case OutcomeDismissed:
		f.logger.Debug("Dismissed operation", logger.Index(index), logger.Kind(kind))
	}
	f.observe(kind, outcome, index, start)
	return ApplyResponse{Index: index, Outcome: outcome, Err: err}
}

func (f *FSM) observe(kind string, outcome Outcome, index uint64, start time.Time) {
	if f.observer != nil {
		f.observer.ObserveApply(kind, outcome.String(), index, time.Since(start))
	}
}

// IsRejected reports whether resp carries an apply error matching target.
func (r ApplyResponse) IsRejected(target error) bool {
	return r.Outcome == OutcomeRejected && errors.Is(r.Err, target)
}

// ======================================================================================
// Read helpers
// ======================================================================================

// AppliedIndex returns the index of the last applied entry.
func (f *FSM) AppliedIndex() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state.AppliedIndex
}

// LastNopToken returns the token of the last applied Nop.
func (f *FSM) LastNopToken() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state.LastNopToken
}

// Collection returns a copy of the named collection.
func (f *FSM) Collection(name string) (*CollectionState, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, ok := f.state.Collections[name]
	if !ok {
		return nil, false
	}
	return c.clone(), true
}

// Collections returns copies of every collection, sorted by name.
func (f *FSM) Collections() []*CollectionState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*CollectionState, 0, len(f.state.Collections))
	for _, c := range f.state.Collections {
		out = append(out, c.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Aliases returns a copy of the alias to collection map.
func (f *FSM) Aliases() map[string]string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]string, len(f.state.Aliases))
	for alias, target := range f.state.Aliases {
		out[alias] = target
	}
	return out
}

// ResolveAlias returns the collection an alias points to.
func (f *FSM) ResolveAlias(alias string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	target, ok := f.state.Aliases[alias]
	return target, ok
}

// Transfers returns the in-flight shard transfers in key order.
func (f *FSM) Transfers() []operations.ShardTransfer {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state.sortedTransfers()
}

// Transfer returns the in-flight transfer with key.
func (f *FSM) Transfer(key operations.ShardTransferKey) (operations.ShardTransfer, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.state.Transfers[key]
	return t, ok
}
