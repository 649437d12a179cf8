package logger

import (
	"time"

	"go.uber.org/zap"
)

// HTTP

func RequestID(v string) zap.Field { return zap.String("request_id", v) }

func Method(v string) zap.Field { return zap.String("method", v) }

func Path(v string) zap.Field { return zap.String("path", v) }

func Status(v int) zap.Field { return zap.Int("status", v) }

func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

// Cluster metadata

// Collection names the collection an entry is about.
func Collection(v string) zap.Field { return zap.String("collection", v) }

// Alias names a collection alias.
func Alias(v string) zap.Field { return zap.String("alias", v) }

func Shard(v uint32) zap.Field { return zap.Uint32("shard_id", v) }

func Peer(v uint64) zap.Field { return zap.Uint64("peer_id", v) }

// Kind is the operation kind.
func Kind(v string) zap.Field { return zap.String("kind", v) }

// Transfer renders a shard transfer key.
func Transfer(v string) zap.Field { return zap.String("transfer", v) }

// Index is a replicated log index.
func Index(v uint64) zap.Field { return zap.Uint64("index", v) }

func Reason(v string) zap.Field { return zap.String("reason", v) }
