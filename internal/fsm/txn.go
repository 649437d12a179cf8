package fsm

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pavandhadge/vectron/clustermeta/internal/operations"
	"github.com/pavandhadge/vectron/clustermeta/internal/storage"
)

// Catalog key prefixes. Collection and alias names never contain '/'.
const (
	collectionPrefix = "c/"
	aliasPrefix      = "a/"
	transferPrefix   = "t/"
	nopTokenKey      = "m/nop_token"
)

func collectionKey(name string) string { return collectionPrefix + name }

func aliasKey(alias string) string { return aliasPrefix + alias }

func transferRecordKey(k operations.ShardTransferKey) string {
	return fmt.Sprintf("%s%s/%d/%d/%d", transferPrefix, k.Collection, k.ShardID, k.From, k.To)
}

// txn is the working copy one log entry is applied to. It tracks which
// records changed so only those are written to the catalog.
type txn struct {
	state       *State
	collections map[string]struct{}
	aliases     map[string]struct{}
	transfers   map[operations.ShardTransferKey]struct{}
	nop         bool
}

func newTxn(base *State) *txn {
	return &txn{
		state:       base.clone(),
		collections: make(map[string]struct{}),
		aliases:     make(map[string]struct{}),
		transfers:   make(map[operations.ShardTransferKey]struct{}),
	}
}

func (t *txn) collection(name string) (*CollectionState, error) {
	c, ok := t.state.Collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCollectionNotFound, name)
	}
	return c, nil
}

func (t *txn) shard(collection string, shard operations.ShardID) (*CollectionState, Replicas, error) {
	c, err := t.collection(collection)
	if err != nil {
		return nil, nil, err
	}
	replicas, ok := c.Shards[shard]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s/%d", ErrShardNotFound, collection, shard)
	}
	return c, replicas, nil
}

func (t *txn) putCollection(c *CollectionState) {
	t.state.Collections[c.Name] = c
	t.collections[c.Name] = struct{}{}
}

// touchCollection marks a collection mutated in place.
func (t *txn) touchCollection(name string) {
	t.collections[name] = struct{}{}
}

func (t *txn) deleteCollection(name string) {
	delete(t.state.Collections, name)
	t.collections[name] = struct{}{}
}

func (t *txn) putAlias(alias, collection string) {
	t.state.Aliases[alias] = collection
	t.aliases[alias] = struct{}{}
}

func (t *txn) deleteAlias(alias string) {
	delete(t.state.Aliases, alias)
	t.aliases[alias] = struct{}{}
}

func (t *txn) putTransfer(tr operations.ShardTransfer) {
	t.state.Transfers[tr.Key()] = tr
	t.transfers[tr.Key()] = struct{}{}
}

func (t *txn) deleteTransfer(key operations.ShardTransferKey) {
	delete(t.state.Transfers, key)
	t.transfers[key] = struct{}{}
}

func (t *txn) setNopToken(token uint64) {
	t.state.LastNopToken = token
	t.nop = true
}

// batch renders the touched records as catalog writes.
func (t *txn) batch() (storage.BatchOperations, error) {
	ops := storage.BatchOperations{Puts: make(map[string][]byte)}
	for name := range t.collections {
		c, ok := t.state.Collections[name]
		if !ok {
			ops.Deletes = append(ops.Deletes, collectionKey(name))
			continue
		}
		data, err := json.Marshal(c)
		if err != nil {
			return storage.BatchOperations{}, fmt.Errorf("failed to marshal collection %q: %w", name, err)
		}
		ops.Puts[collectionKey(name)] = data
	}
	for alias := range t.aliases {
		target, ok := t.state.Aliases[alias]
		if !ok {
			ops.Deletes = append(ops.Deletes, aliasKey(alias))
			continue
		}
		ops.Puts[aliasKey(alias)] = []byte(target)
	}
	for key := range t.transfers {
		tr, ok := t.state.Transfers[key]
		if !ok {
			ops.Deletes = append(ops.Deletes, transferRecordKey(key))
			continue
		}
		data, err := json.Marshal(tr)
		if err != nil {
			return storage.BatchOperations{}, fmt.Errorf("failed to marshal transfer %s: %w", key, err)
		}
		ops.Puts[transferRecordKey(key)] = data
	}
	if t.nop {
		ops.Puts[nopTokenKey] = encodeUint64(t.state.LastNopToken)
	}
	return ops, nil
}

// fullBatch renders every record of s, for catalog replacement.
func fullBatch(s *State) (storage.BatchOperations, error) {
	t := &txn{
		state:       s,
		collections: make(map[string]struct{}, len(s.Collections)),
		aliases:     make(map[string]struct{}, len(s.Aliases)),
		transfers:   make(map[operations.ShardTransferKey]struct{}, len(s.Transfers)),
		nop:         true,
	}
	for name := range s.Collections {
		t.collections[name] = struct{}{}
	}
	for alias := range s.Aliases {
		t.aliases[alias] = struct{}{}
	}
	for key := range s.Transfers {
		t.transfers[key] = struct{}{}
	}
	return t.batch()
}

// loadState rebuilds the applied state from the catalog.
func loadState(c Catalog) (*State, error) {
	s := newState()
	index, err := c.AppliedIndex()
	if err != nil {
		return nil, fmt.Errorf("failed to read applied index: %w", err)
	}
	s.AppliedIndex = index

	var decodeErr error
	err = c.Iterate([]byte(collectionPrefix), func(key, value []byte) bool {
		var cs CollectionState
		if decodeErr = json.Unmarshal(value, &cs); decodeErr != nil {
			decodeErr = fmt.Errorf("collection record %q: %w", key, decodeErr)
			return false
		}
		if cs.Shards == nil {
			cs.Shards = make(map[operations.ShardID]Replicas)
		}
		s.Collections[cs.Name] = &cs
		return true
	})
	if err == nil {
		err = decodeErr
	}
	if err != nil {
		return nil, err
	}

	err = c.Iterate([]byte(aliasPrefix), func(key, value []byte) bool {
		s.Aliases[strings.TrimPrefix(string(key), aliasPrefix)] = string(value)
		return true
	})
	if err != nil {
		return nil, err
	}

	err = c.Iterate([]byte(transferPrefix), func(key, value []byte) bool {
		var tr operations.ShardTransfer
		if decodeErr = json.Unmarshal(value, &tr); decodeErr != nil {
			decodeErr = fmt.Errorf("transfer record %q: %w", key, decodeErr)
			return false
		}
		s.Transfers[tr.Key()] = tr
		return true
	})
	if err == nil {
		err = decodeErr
	}
	if err != nil {
		return nil, err
	}

	err = c.Iterate([]byte(nopTokenKey), func(key, value []byte) bool {
		if string(key) == nopTokenKey && len(value) == 8 {
			s.LastNopToken = binary.BigEndian.Uint64(value)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}
