package operations

import (
	"encoding/json"
	"fmt"
)

// ReplicaState is the lifecycle state of one shard replica on one peer.
type ReplicaState string

const (
	// ReplicaActive replicas are up to date and serve reads and writes.
	ReplicaActive ReplicaState = "Active"
	// ReplicaDead replicas failed an update and must be recovered.
	ReplicaDead ReplicaState = "Dead"
	// ReplicaPartial replicas are receiving data through a shard transfer.
	ReplicaPartial ReplicaState = "Partial"
	// ReplicaInitializing replicas were just created and are not yet ready.
	ReplicaInitializing ReplicaState = "Initializing"
	// ReplicaListener replicas receive updates but never serve reads.
	ReplicaListener ReplicaState = "Listener"
)

var replicaStates = []ReplicaState{
	ReplicaActive,
	ReplicaDead,
	ReplicaPartial,
	ReplicaInitializing,
	ReplicaListener,
}

// ReplicaStates returns every valid replica state.
func ReplicaStates() []ReplicaState {
	return append([]ReplicaState(nil), replicaStates...)
}

// Valid reports whether s is one of the known replica states.
func (s ReplicaState) Valid() bool {
	for _, known := range replicaStates {
		if s == known {
			return true
		}
	}
	return false
}

func (s ReplicaState) String() string { return string(s) }

// ParseReplicaState converts a string into a ReplicaState, rejecting unknown values.
func ParseReplicaState(v string) (ReplicaState, error) {
	s := ReplicaState(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown replica state %q", v)
	}
	return s, nil
}

func (s *ReplicaState) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("replica state: %w", err)
	}
	parsed, err := ParseReplicaState(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
