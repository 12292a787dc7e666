// Package termid derives stable 64-bit term identifiers.
package termid

import "github.com/cespare/xxhash/v2"

// ID is the hash of a literal term. Collisions are not corrected.
type ID uint64

// Of hashes a term.
func Of(term string) ID {
	return ID(xxhash.Sum64String(term))
}

// OfBytes hashes a term given as bytes without copying it.
func OfBytes(term []byte) ID {
	return ID(xxhash.Sum64(term))
}
