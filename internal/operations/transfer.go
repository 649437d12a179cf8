package operations

import (
	"fmt"
	"strings"
)

// ShardTransferKey identifies one in-flight shard transfer.
type ShardTransferKey struct {
	Collection CollectionID `json:"collection"`
	ShardID    ShardID      `json:"shard_id"`
	From       PeerID       `json:"from"`
	To         PeerID       `json:"to"`
}

func (k ShardTransferKey) String() string {
	return fmt.Sprintf("%s/%d:%d->%d", k.Collection, k.ShardID, k.From, k.To)
}

// Validate checks the key is addressable.
func (k ShardTransferKey) Validate() error {
	if err := validateName("transfer.collection", k.Collection); err != nil {
		return err
	}
	if k.From == k.To {
		return invalid("transfer", "source and destination peer must differ, both are %d", k.From)
	}
	return nil
}

// ShardTransfer describes a shard-movement job.
type ShardTransfer struct {
	ShardTransferKey
	// Sync keeps the source replica after the transfer finishes (replication).
	// When false the transfer is a move and the source replica is dropped.
	Sync bool `json:"sync"`
}

// Key returns the addressing key of the transfer.
func (t ShardTransfer) Key() ShardTransferKey {
	return t.ShardTransferKey
}

// TransferAction discriminates the three shard transfer messages.
type TransferAction string

const (
	TransferStart  TransferAction = "start"
	TransferFinish TransferAction = "finish"
	TransferAbort  TransferAction = "abort"
)

// ShardTransferOperation is one message of the start/finish/abort transfer
// handshake. Start and Finish carry the full transfer, Abort carries only the
// key plus a reason for operators.
type ShardTransferOperation struct {
	Action   TransferAction    `json:"action"`
	Transfer *ShardTransfer    `json:"transfer,omitempty"`
	Key      *ShardTransferKey `json:"key,omitempty"`
	Reason   string            `json:"reason,omitempty"`
}

// StartTransfer begins moving a shard from t.From to t.To.
func StartTransfer(t ShardTransfer) ShardTransferOperation {
	return ShardTransferOperation{Action: TransferStart, Transfer: &t}
}

// FinishTransfer marks t complete.
func FinishTransfer(t ShardTransfer) ShardTransferOperation {
	return ShardTransferOperation{Action: TransferFinish, Transfer: &t}
}

// AbortTransfer cancels the in-flight transfer identified by key.
func AbortTransfer(key ShardTransferKey, reason string) ShardTransferOperation {
	return ShardTransferOperation{Action: TransferAbort, Key: &key, Reason: reason}
}

func (o ShardTransferOperation) Kind() Kind { return KindTransferShard }

// TransferKey returns the key the message addresses, whatever its action.
func (o ShardTransferOperation) TransferKey() ShardTransferKey {
	if o.Transfer != nil {
		return o.Transfer.Key()
	}
	if o.Key != nil {
		return *o.Key
	}
	return ShardTransferKey{}
}

func (o ShardTransferOperation) Validate() error {
	switch o.Action {
	case TransferStart, TransferFinish:
		if o.Transfer == nil {
			return invalid("transfer", "%s requires a transfer descriptor", o.Action)
		}
		if o.Key != nil || o.Reason != "" {
			return invalid("transfer", "%s must not carry an abort key or reason", o.Action)
		}
		return o.Transfer.Key().Validate()
	case TransferAbort:
		if o.Key == nil {
			return invalid("transfer", "abort requires a transfer key")
		}
		if o.Transfer != nil {
			return invalid("transfer", "abort must not carry a transfer descriptor")
		}
		if strings.TrimSpace(o.Reason) == "" {
			return invalid("transfer.reason", "abort requires a reason")
		}
		return o.Key.Validate()
	default:
		return invalid("transfer.action", "unknown action %q", o.Action)
	}
}
