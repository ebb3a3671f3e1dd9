// Package util provides shared utility functions.
package util

import "hash/fnv"

// PeerTag computes a short 4-byte tag for a peer key, used to correlate debug
// lines without repeating full addresses. It does not need to be reversible.
func PeerTag(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}
