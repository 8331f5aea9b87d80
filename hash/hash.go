// Package hash provides the hashing primitive used to key deduplication
// entries.
package hash

import "github.com/zeebo/blake3"

// Size of the digest produced by Sum.
const Size = 32

// Sum computes a blake3 digest of data.
func Sum(data []byte) [Size]byte {
	return blake3.Sum256(data)
}
