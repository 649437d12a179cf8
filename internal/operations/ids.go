package operations

import (
	"strings"
	"unicode/utf8"
)

// CollectionID is the cluster-unique, case-sensitive name of a collection.
type CollectionID = string

// ShardID scopes a shard within a collection.
type ShardID uint32

// PeerID identifies a node within the cluster.
type PeerID uint64

const maxNameLength = 255

// forbiddenNameChars cannot appear in collection or alias names; names are
// used verbatim in catalog keys and URL paths.
const forbiddenNameChars = "<>:\"/\\|?*\x00"

func validateName(field, name string) error {
	if name == "" {
		return invalid(field, "must not be empty")
	}
	if !utf8.ValidString(name) {
		return invalid(field, "must be valid UTF-8")
	}
	if len(name) > maxNameLength {
		return invalid(field, "must be at most %d bytes, got %d", maxNameLength, len(name))
	}
	if i := strings.IndexAny(name, forbiddenNameChars); i >= 0 {
		return invalid(field, "contains forbidden character %q", name[i])
	}
	return nil
}

// ValidateCollectionName checks a collection name the same way operations do.
func ValidateCollectionName(name string) error {
	return validateName("collection_name", name)
}
