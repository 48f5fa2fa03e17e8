package internal

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
)

// AsXXHash returns the XXHash128 of the given data.
// This hash is extremely fast and reasonable for use as a key in a cache.
// https://cyan4973.github.io/xxHash/
func AsXXHash(inputs ...[]byte) []byte {
	h := xxh3.New()
	for _, input := range inputs {
		_, err := h.Write(input)
		if err != nil {
			zap.S().Errorf("Unable to write to hash: %v", err)
		}
		// separator, so that ("ab", "c") and ("a", "bc") differ
		_, _ = h.Write([]byte{0})
	}

	return Uint128ToBytes(h.Sum128())
}

// CacheKey hashes the given parts into a fixed size cache key.
func CacheKey(parts ...string) []byte {
	inputs := make([][]byte, len(parts))
	for i, p := range parts {
		inputs[i] = []byte(p)
	}
	return AsXXHash(inputs...)
}

// Fingerprint identifies a SQL text in logs and errors without carrying its parameters.
// Whitespace differences do not change the fingerprint.
func Fingerprint(sql string) string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], xxh3.HashString(strings.Join(strings.Fields(sql), " ")))
	return hex.EncodeToString(b[:])
}

func Uint128ToBytes(a xxh3.Uint128) (b []byte) {
	b = make([]byte, 16)
	binary.LittleEndian.PutUint64(b[0:8], a.Lo)
	binary.LittleEndian.PutUint64(b[8:16], a.Hi)
	return
}
