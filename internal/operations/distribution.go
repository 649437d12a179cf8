package operations

import "fmt"

// ShardPlacement assigns the replicas of one shard to peers.
type ShardPlacement struct {
	ShardID ShardID  `json:"shard_id"`
	Peers   []PeerID `json:"peers"`
}

// ShardDistributionProposal is the initial shard to peer placement of a new
// collection, computed by the planner before the create operation is logged.
type ShardDistributionProposal struct {
	Distribution []ShardPlacement `json:"distribution"`
}

// ShardCount returns the number of shards the proposal places.
func (p ShardDistributionProposal) ShardCount() int {
	return len(p.Distribution)
}

func (p ShardDistributionProposal) Validate() error {
	if len(p.Distribution) == 0 {
		return invalid("distribution", "must place at least one shard")
	}
	seenShards := make(map[ShardID]struct{}, len(p.Distribution))
	for _, placement := range p.Distribution {
		if _, dup := seenShards[placement.ShardID]; dup {
			return invalid("distribution", "shard %d placed twice", placement.ShardID)
		}
		seenShards[placement.ShardID] = struct{}{}
		if len(placement.Peers) == 0 {
			return invalid("distribution", "shard %d has no peers", placement.ShardID)
		}
		seenPeers := make(map[PeerID]struct{}, len(placement.Peers))
		for _, peer := range placement.Peers {
			if _, dup := seenPeers[peer]; dup {
				return invalid("distribution", "shard %d lists peer %d twice", placement.ShardID, peer)
			}
			seenPeers[peer] = struct{}{}
		}
	}
	return nil
}

func (p ShardDistributionProposal) clone() *ShardDistributionProposal {
	out := &ShardDistributionProposal{Distribution: make([]ShardPlacement, len(p.Distribution))}
	for i, placement := range p.Distribution {
		out.Distribution[i] = ShardPlacement{
			ShardID: placement.ShardID,
			Peers:   append([]PeerID(nil), placement.Peers...),
		}
	}
	return out
}

// ReplicaChangeAction discriminates replica topology changes.
type ReplicaChangeAction string

const ReplicaRemove ReplicaChangeAction = "remove"

// ReplicaChange is one replica topology change attached to an update.
type ReplicaChange struct {
	Action  ReplicaChangeAction `json:"action"`
	ShardID ShardID             `json:"shard_id"`
	PeerID  PeerID              `json:"peer_id"`
}

// RemoveReplica drops the replica of shard on peer.
func RemoveReplica(shard ShardID, peer PeerID) ReplicaChange {
	return ReplicaChange{Action: ReplicaRemove, ShardID: shard, PeerID: peer}
}

func (c ReplicaChange) String() string {
	return fmt.Sprintf("%s(shard=%d, peer=%d)", c.Action, c.ShardID, c.PeerID)
}

func (c ReplicaChange) Validate() error {
	if c.Action != ReplicaRemove {
		return invalid("shard_replica_changes.action", "unknown action %q", c.Action)
	}
	return nil
}
