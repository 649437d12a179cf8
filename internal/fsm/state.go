package fsm

import (
	"sort"

	"github.com/pavandhadge/vectron/clustermeta/internal/operations"
)

// Replicas maps a peer to the state of the replica it holds.
type Replicas map[operations.PeerID]operations.ReplicaState

// CollectionState is the applied metadata of one collection.
type CollectionState struct {
	Name   string                          `json:"name"`
	Config operations.CollectionConfig     `json:"config"`
	Shards map[operations.ShardID]Replicas `json:"shards"`
}

func (c *CollectionState) clone() *CollectionState {
	out := &CollectionState{
		Name:   c.Name,
		Config: c.Config,
		Shards: make(map[operations.ShardID]Replicas, len(c.Shards)),
	}
	for shard, replicas := range c.Shards {
		copied := make(Replicas, len(replicas))
		for peer, state := range replicas {
			copied[peer] = state
		}
		out.Shards[shard] = copied
	}
	return out
}

// ShardIDs returns the shard ids in ascending order.
func (c *CollectionState) ShardIDs() []operations.ShardID {
	ids := make([]operations.ShardID, 0, len(c.Shards))
	for id := range c.Shards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Peers returns the peers holding a replica of shard, in ascending order.
func (r Replicas) Peers() []operations.PeerID {
	peers := make([]operations.PeerID, 0, len(r))
	for peer := range r {
		peers = append(peers, peer)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}

// State is the whole applied metadata. It is only mutated by the applier, on
// a private copy that replaces the live one after the catalog commit.
type State struct {
	Collections  map[string]*CollectionState
	Aliases      map[string]string
	Transfers    map[operations.ShardTransferKey]operations.ShardTransfer
	LastNopToken uint64
	AppliedIndex uint64
}

func newState() *State {
	return &State{
		Collections: make(map[string]*CollectionState),
		Aliases:     make(map[string]string),
		Transfers:   make(map[operations.ShardTransferKey]operations.ShardTransfer),
	}
}

func (s *State) clone() *State {
	out := &State{
		Collections:  make(map[string]*CollectionState, len(s.Collections)),
		Aliases:      make(map[string]string, len(s.Aliases)),
		Transfers:    make(map[operations.ShardTransferKey]operations.ShardTransfer, len(s.Transfers)),
		LastNopToken: s.LastNopToken,
		AppliedIndex: s.AppliedIndex,
	}
	for name, c := range s.Collections {
		out.Collections[name] = c.clone()
	}
	for alias, target := range s.Aliases {
		out.Aliases[alias] = target
	}
	for key, t := range s.Transfers {
		out.Transfers[key] = t
	}
	return out
}

// sortedTransfers returns the transfers ordered by collection, shard, source
// and destination.
func (s *State) sortedTransfers() []operations.ShardTransfer {
	out := make([]operations.ShardTransfer, 0, len(s.Transfers))
	for _, t := range s.Transfers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return transferLess(out[i].Key(), out[j].Key()) })
	return out
}

func transferLess(a, b operations.ShardTransferKey) bool {
	if a.Collection != b.Collection {
		return a.Collection < b.Collection
	}
	if a.ShardID != b.ShardID {
		return a.ShardID < b.ShardID
	}
	if a.From != b.From {
		return a.From < b.From
	}
	return a.To < b.To
}
