// Package identity derives stable, content-addressed identifiers for
// documents and chunks so that re-ingesting identical content reproduces
// identical IDs.
package identity

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// Prefixes for the two identifier families.
const (
	DocPrefix   = "doc"
	ChunkPrefix = "chunk"
)

// StableID returns prefix + "-" + the first 16 hex characters of the SHA-1
// digest of seed. Deterministic: no randomness, no timestamps.
func StableID(seed, prefix string) string {
	h := sha1.Sum([]byte(seed))
	return prefix + "-" + hex.EncodeToString(h[:])[:16]
}

// DocumentID derives a document identifier from the resolved absolute file
// path. The path, not the content, keys the identity: edits to a file keep
// the same document ID.
func DocumentID(resolvedPath string) string {
	return StableID(resolvedPath, DocPrefix)
}

// ChunkSeed builds the identity seed for a chunk. The seed combines the
// parent identity (document ID at the coarsest level, parent chunk ID below),
// the level size, the sequence index within the level, the start offset and
// the content length, so two chunks with identical text at different
// positions still get distinct IDs.
func ChunkSeed(parentID string, levelSize, index, startOffset, contentLen int) string {
	return fmt.Sprintf("%s|%d|%d|%d|%d", parentID, levelSize, index, startOffset, contentLen)
}

// ChunkID derives a chunk identifier from its seed components.
func ChunkID(parentID string, levelSize, index, startOffset, contentLen int) string {
	return StableID(ChunkSeed(parentID, levelSize, index, startOffset, contentLen), ChunkPrefix)
}
