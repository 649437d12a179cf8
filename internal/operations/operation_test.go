package operations

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, op Operation) Operation {
	t.Helper()
	data, err := Encode(op)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	return decoded
}

func TestRoundTripEveryVariant(t *testing.T) {
	dead := ReplicaDead
	quantile := float32(0.99)
	m := uint64(32)
	threshold := 0.3

	create := NewCreateCollectionOperation("документы-文档", CreateCollection{
		Vectors: NamedVectors(map[string]VectorParams{
			"image": {Size: 512, Distance: DistanceDot},
			"text":  {Size: 768, Distance: DistanceCosine, HnswConfig: &HnswConfigDiff{M: &m}},
		}),
		ShardNumber:        ptr(uint32(2)),
		ReplicationFactor:  ptr(uint32(2)),
		OnDiskPayload:      ptr(true),
		OptimizersConfig:   &OptimizersConfigDiff{DeletedThreshold: &threshold},
		QuantizationConfig: &QuantizationConfig{Scalar: &ScalarQuantization{Type: ScalarInt8, Quantile: &quantile}},
		InitFrom:           &InitFrom{Collection: "źródło"},
	})
	require.NoError(t, create.SetDistribution(twoShardProposal()))

	update := NewUpdateCollectionOperation("docs", UpdateCollection{
		Params: &CollectionParamsDiff{ReplicationFactor: ptr(uint32(1))},
	})
	require.NoError(t, update.SetShardReplicaChanges([]ReplicaChange{RemoveReplica(0, 2)}))

	variants := []Operation{
		create,
		update,
		NewEmptyUpdateCollectionOperation("docs"),
		DeleteCollectionOperation{CollectionName: "🚀 rockets"},
		ChangeAliasesOperation{Actions: []AliasOperation{
			NewCreateAlias("docs", "dócs-ü"),
			NewRenameAlias("dócs-ü", "文档"),
			NewDeleteAlias("文档"),
		}},
		StartTransfer(ShardTransfer{ShardTransferKey: ShardTransferKey{Collection: "docs", ShardID: 3, From: 1, To: 2}}),
		FinishTransfer(ShardTransfer{ShardTransferKey: ShardTransferKey{Collection: "docs", ShardID: 3, From: 1, To: 2}, Sync: true}),
		AbortTransfer(ShardTransferKey{Collection: "docs", ShardID: 3, From: 1, To: 2}, "peer 2 unreachable"),
		SetShardReplicaState{CollectionName: "docs", ShardID: 1, PeerID: 2, State: ReplicaActive},
		SetShardReplicaState{CollectionName: "docs", ShardID: 1, PeerID: 2, State: ReplicaActive, FromState: &dead},
		Nop{Token: 1<<63 + 7},
	}

	for _, op := range variants {
		t.Run(string(op.Kind()), func(t *testing.T) {
			assert.Equal(t, op, roundTrip(t, op))
		})
	}
}

func TestUnicodeNamesPreservedExactly(t *testing.T) {
	name := "naïve-é-é-🙂"
	decoded := roundTrip(t, DeleteCollectionOperation{CollectionName: name})
	assert.Equal(t, name, decoded.(DeleteCollectionOperation).CollectionName)
}

func TestEncodeFreezesSlots(t *testing.T) {
	op := NewCreateCollectionOperation("docs", docsParams(2, 1))
	_, err := Encode(op)
	require.NoError(t, err)
	assert.True(t, op.Frozen())
	require.ErrorIs(t, op.SetDistribution(twoShardProposal()), ErrOperationFrozen)
}

func TestEncodeRejectsInvalidOperations(t *testing.T) {
	zero := uint32(0)
	cases := map[string]Operation{
		"empty collection name": DeleteCollectionOperation{},
		"zero shard number": NewCreateCollectionOperation("docs", CreateCollection{
			Vectors: SingleVector(4, DistanceCosine), ShardNumber: &zero,
		}),
		"zero vector size":    NewCreateCollectionOperation("docs", CreateCollection{Vectors: SingleVector(0, DistanceCosine)}),
		"unknown distance":    NewCreateCollectionOperation("docs", CreateCollection{Vectors: SingleVector(4, "Manhattan")}),
		"no vectors":          NewCreateCollectionOperation("docs", CreateCollection{}),
		"slash in name":       DeleteCollectionOperation{CollectionName: "a/b"},
		"invalid utf8":        DeleteCollectionOperation{CollectionName: "bad\xff"},
		"empty alias batch":   ChangeAliasesOperation{},
		"empty alias name":    ChangeAliasesOperation{Actions: []AliasOperation{NewDeleteAlias("")}},
		"abort without reason": AbortTransfer(ShardTransferKey{Collection: "docs", ShardID: 1, From: 1, To: 2}, "  "),
		"transfer to self":    StartTransfer(ShardTransfer{ShardTransferKey: ShardTransferKey{Collection: "docs", From: 1, To: 1}}),
		"unknown state":       SetShardReplicaState{CollectionName: "docs", State: "Zombie"},
		"init from self": NewCreateCollectionOperation("docs", CreateCollection{
			Vectors: SingleVector(4, DistanceCosine), InitFrom: &InitFrom{Collection: "docs"},
		}),
		"deleted threshold out of range": NewUpdateCollectionOperation("docs", UpdateCollection{
			OptimizersConfig: &OptimizersConfigDiff{DeletedThreshold: ptr(1.5)},
		}),
		"zero replication factor on update": NewUpdateCollectionOperation("docs", UpdateCollection{
			Params: &CollectionParamsDiff{ReplicationFactor: &zero},
		}),
	}
	for name, op := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Encode(op)
			require.Error(t, err)
			assert.True(t, IsValidationError(err), "expected validation error, got %v", err)
		})
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	_, err := Decode([]byte(`{"kind":"drop_everything","payload":{}}`))
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestDecodeRejectsUnknownReplicaState(t *testing.T) {
	_, err := Decode([]byte(`{"kind":"set_shard_replica_state","payload":{"collection_name":"docs","shard_id":1,"peer_id":1,"state":"Zombie"}}`))
	require.Error(t, err)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := Decode([]byte(`{"kind":"nop","payload":{"token":1,"collection_name":"docs"}}`))
	require.Error(t, err)
}

func TestAliasActionShapes(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    AliasAction
		wantErr bool
	}{
		{name: "tagged create", payload: `{"action":"create_alias","create_alias":{"collection_name":"docs","alias_name":"d"}}`, want: AliasCreate},
		{name: "untagged delete", payload: `{"delete_alias":{"alias_name":"d"}}`, want: AliasDelete},
		{name: "untagged rename", payload: `{"rename_alias":{"old_alias_name":"d","new_alias_name":"e"}}`, want: AliasRename},
		{name: "no shape", payload: `{}`, wantErr: true},
		{name: "action without payload", payload: `{"action":"delete_alias"}`, wantErr: true},
		{name: "two shapes", payload: `{"delete_alias":{"alias_name":"d"},"create_alias":{"collection_name":"docs","alias_name":"d"}}`, wantErr: true},
		{name: "mismatched action", payload: `{"action":"delete_alias","create_alias":{"collection_name":"docs","alias_name":"d"}}`, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var op AliasOperation
			err := json.Unmarshal([]byte(tc.payload), &op)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, op.Action)
			require.NoError(t, op.Validate())
		})
	}
}

func TestAliasShapeErrorIsSentinel(t *testing.T) {
	var op AliasOperation
	err := json.Unmarshal([]byte(`{}`), &op)
	require.ErrorIs(t, err, ErrAliasActionShape)
}

func TestCreateCollectionLegacyKeys(t *testing.T) {
	var params CreateCollection
	require.NoError(t, json.Unmarshal([]byte(`{
		"vectors": {"size": 8, "distance": "Euclid"},
		"optimizer_config": {"indexing_threshold": 100},
		"quantization": {"scalar": {"type": "int8"}}
	}`), &params))
	require.NotNil(t, params.OptimizersConfig)
	assert.Equal(t, uint64(100), *params.OptimizersConfig.IndexingThreshold)
	require.NotNil(t, params.QuantizationConfig)
	assert.Equal(t, ScalarInt8, params.QuantizationConfig.Scalar.Type)
	require.NotNil(t, params.Vectors.Single)
	assert.Equal(t, uint64(8), params.Vectors.Single.Size)
}

func TestVectorsNamedSizeIsMulti(t *testing.T) {
	var v VectorsConfig
	require.NoError(t, json.Unmarshal([]byte(`{"size": {"size": 4, "distance": "Dot"}}`), &v))
	assert.Nil(t, v.Single)
	require.Contains(t, v.Multi, "size")
	assert.Equal(t, uint64(4), v.Multi["size"].Size)
}

func TestCollectionOf(t *testing.T) {
	assert.Equal(t, "docs", CollectionOf(DeleteCollectionOperation{CollectionName: "docs"}))
	assert.Equal(t, "docs", CollectionOf(AbortTransfer(ShardTransferKey{Collection: "docs", From: 1, To: 2}, "x")))
	assert.Equal(t, "", CollectionOf(Nop{Token: 1}))
}

func TestInitFromMayOmitVectors(t *testing.T) {
	op := NewCreateCollectionOperation("copy", CreateCollection{InitFrom: &InitFrom{Collection: "source"}})
	require.NoError(t, op.Validate())

	data, err := Encode(op)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	create := decoded.(*CreateCollectionOperation)
	assert.True(t, create.CreateCollection.Vectors.Empty())
	assert.Equal(t, "source", create.CreateCollection.InitFrom.Collection)

	// Vectors that are given are still checked.
	bad := NewCreateCollectionOperation("copy", CreateCollection{
		Vectors:  SingleVector(0, DistanceCosine),
		InitFrom: &InitFrom{Collection: "source"},
	})
	assert.True(t, IsValidationError(bad.Validate()))
}
