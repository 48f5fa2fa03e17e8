package internal

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestAsXXHash(t *testing.T) {
	a := AsXXHash([]byte("ab"), []byte("c"))
	b := AsXXHash([]byte("a"), []byte("bc"))
	assert.Len(t, a, 16)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, AsXXHash([]byte("ab"), []byte("c")))
	assert.Equal(t, CacheKey("ab", "c"), a)
}

func TestFingerprint(t *testing.T) {
	f := Fingerprint("SELECT *  FROM machines\n WHERE id = ?")
	assert.Len(t, f, 16)
	assert.Equal(t, f, Fingerprint("SELECT * FROM machines WHERE id = ?"))
	assert.NotEqual(t, f, Fingerprint("SELECT * FROM machines WHERE id = ? LIMIT 1"))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "user  injected", SanitizeString("user\n\rinjected"))
	long := SanitizeString(strings.Repeat("a", 1000))
	assert.Len(t, long, maxSanitizedLength+3)

	// 511 ASCII bytes put the 512 byte cut inside the two byte rune
	multi := SanitizeString(strings.Repeat("a", 511) + strings.Repeat("ä", 10))
	assert.True(t, utf8.ValidString(multi))
	assert.Equal(t, strings.Repeat("a", 511)+"...", multi)
}
