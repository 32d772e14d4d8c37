package badger

import (
	"strings"
)

// Key prefixes for different data types
const (
	collectionMetaPrefix = "colmeta:"
	chunkPrefix          = "chk:"
	chunkSeqPrefix       = "chkseq:"
	checkpointPrefix     = "chkpt:"
)

func validCollectionName(name string) bool {
	return name != "" && !strings.ContainsAny(name, ": \t\n")
}

// makeCollectionMetaKey generates the key holding a collection's info.
func makeCollectionMetaKey(name string) []byte {
	return []byte(collectionMetaPrefix + name)
}

func collectionNameFromMetaKey(key []byte) string {
	return strings.TrimPrefix(string(key), collectionMetaPrefix)
}

// makeSeqKey generates the key of a collection's insertion sequence.
func makeSeqKey(name string) string {
	return chunkSeqPrefix + name
}

// makeChunkPrefix generates the prefix shared by all chunks of a collection.
// Format: chk:collection:
func makeChunkPrefix(name string) []byte {
	return []byte(chunkPrefix + name + ":")
}

// makeChunkKey generates a key for a chunk record by ID.
// Format: chk:collection:articleID:index
func makeChunkKey(name, id string) []byte {
	return []byte(chunkPrefix + name + ":" + id)
}

// makeFamilyPrefix generates the prefix shared by every chunk of one article.
// Format: chk:collection:articleID:
func makeFamilyPrefix(name, familyPrefix string) []byte {
	return []byte(chunkPrefix + name + ":" + familyPrefix)
}

// idFromChunkKey strips the collection prefix from a chunk key.
func idFromChunkKey(name string, key []byte) string {
	return string(key[len(chunkPrefix)+len(name)+1:])
}

// makeCheckpointKey generates a key for a named checkpoint.
func makeCheckpointKey(name string) []byte {
	return []byte(checkpointPrefix + name)
}
