package sparsegrid

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
)

// HashFunc maps a packed block key to a well-mixed 32-bit value.
type HashFunc func(key uint32) uint32

func xxhashKey(key uint32) uint32 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], key)
	return uint32(xxhash.Sum64(b[:]))
}

func murmurKey(key uint32) uint32 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], key)
	return murmur3.Sum32(b[:])
}

var hashes = map[string]HashFunc{
	"xxhash":  xxhashKey,
	"murmur3": murmurKey,
}

// Hash returns the named hash function.
func Hash(name string) (HashFunc, error) {
	if name == "" {
		name = "xxhash"
	}
	h, ok := hashes[name]
	if !ok {
		return nil, fmt.Errorf("%w: hash %q", ErrConfig, name)
	}
	return h, nil
}
