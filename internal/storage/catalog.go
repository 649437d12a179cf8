// This file implements the durable metadata catalog on top of PebbleDB. The
// applier commits the record changes of every log entry together with the
// entry's index in one synced batch, so the catalog and its applied index can
// never disagree after a crash.

package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// appliedIndexKey sorts before every record prefix so range deletes of the
// records never touch it.
const appliedIndexKey = "_applied_index"

// ErrClosed is returned by catalog calls made after Close.
var ErrClosed = errors.New("catalog closed")

// BatchOperations holds a set of write and delete operations to be performed atomically.
type BatchOperations struct {
	Puts    map[string][]byte // A map of keys to values to be inserted or updated.
	Deletes []string          // A slice of keys to be deleted.
}

// Empty reports whether the batch changes nothing.
func (b BatchOperations) Empty() bool {
	return len(b.Puts) == 0 && len(b.Deletes) == 0
}

// PebbleCatalog persists metadata records in a PebbleDB instance.
type PebbleCatalog struct {
	db *pebble.DB
}

// OpenCatalog opens or creates the catalog at path.
func OpenCatalog(path string) (*PebbleCatalog, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleCatalog{db: db}, nil
}

// Commit writes ops and advances the applied index to index in one batch.
func (c *PebbleCatalog) Commit(ops BatchOperations, index uint64) error {
	if c.db == nil {
		return ErrClosed
	}
	batch := c.db.NewBatch()
	defer batch.Close()

	if err := writeOps(batch, ops); err != nil {
		return err
	}
	if err := setIndex(batch, index); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

// Replace drops every record and writes ops in their place, with index as
// the new applied index. Used when restoring from a snapshot.
func (c *PebbleCatalog) Replace(ops BatchOperations, index uint64) error {
	if c.db == nil {
		return ErrClosed
	}
	batch := c.db.NewBatch()
	defer batch.Close()

	// Record keys start with a printable prefix, applied index is below them.
	if err := batch.DeleteRange([]byte("a"), []byte{0xff}, nil); err != nil {
		return err
	}
	if err := writeOps(batch, ops); err != nil {
		return err
	}
	if err := setIndex(batch, index); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

// AppliedIndex returns the index of the last committed batch, or 0 for a new
// catalog.
func (c *PebbleCatalog) AppliedIndex() (uint64, error) {
	if c.db == nil {
		return 0, ErrClosed
	}
	value, closer, err := c.db.Get([]byte(appliedIndexKey))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	defer closer.Close()
	if len(value) != 8 {
		return 0, fmt.Errorf("corrupt applied index: %d bytes", len(value))
	}
	return binary.BigEndian.Uint64(value), nil
}

// Iterate calls fn for each record under prefix, in key order. Iteration stops
// if fn returns false. Key and value are only valid during the call.
func (c *PebbleCatalog) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	if c.db == nil {
		return ErrClosed
	}
	iter, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if !fn(iter.Key(), iter.Value()) {
			break
		}
	}
	return iter.Error()
}

// Close flushes and closes the underlying database.
func (c *PebbleCatalog) Close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func writeOps(batch *pebble.Batch, ops BatchOperations) error {
	for k, v := range ops.Puts {
		if err := batch.Set([]byte(k), v, nil); err != nil {
			return err
		}
	}
	for _, k := range ops.Deletes {
		if err := batch.Delete([]byte(k), nil); err != nil {
			return err
		}
	}
	return nil
}

func setIndex(batch *pebble.Batch, index uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], index)
	return batch.Set([]byte(appliedIndexKey), buf[:], nil)
}

// prefixEnd returns the smallest key greater than every key with prefix, or
// nil when no such key exists.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
