package storage

import (
	"os"
	"path/filepath"

	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// RaftStore is a wrapper around raft-boltdb that serves as both the raft log
// store and the stable store.
type RaftStore struct {
	*raftboltdb.BoltStore
	path string
}

// NewRaftStore opens the BoltDB file at path, creating it and its parent
// directory if they don't exist.
func NewRaftStore(path string) (*RaftStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}

	store, err := raftboltdb.NewBoltStore(path)
	if err != nil {
		return nil, err
	}

	return &RaftStore{BoltStore: store, path: path}, nil
}

// SizeBytes returns the current size of the BoltDB file.
func (s *RaftStore) SizeBytes() (int64, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
