package fsm

import "errors"

var (
	ErrCollectionExists    = errors.New("collection already exists")
	ErrCollectionNotFound  = errors.New("collection not found")
	ErrAliasExists         = errors.New("alias already exists")
	ErrAliasNotFound       = errors.New("alias not found")
	ErrAliasCollision      = errors.New("name is already used by a collection or alias")
	ErrShardNotFound       = errors.New("shard not found")
	ErrReplicaNotFound     = errors.New("replica not found")
	ErrReplicaExists       = errors.New("replica already active on peer")
	ErrLastReplica         = errors.New("cannot remove the last replica of a shard")
	ErrTransferInFlight    = errors.New("shard transfer already in flight")
	ErrTransferNotFound    = errors.New("shard transfer not found")
	ErrDistributionMissing = errors.New("create collection has no shard distribution")
	ErrDistributionShape   = errors.New("shard distribution does not match shard number")
	ErrCatalog             = errors.New("catalog write failed")
)
