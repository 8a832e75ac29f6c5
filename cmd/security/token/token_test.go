package token

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_ShapeAndCharset(t *testing.T) {
	t.Parallel()

	g, err := NewGenerator(0, nil)
	require.NoError(t, err)

	v, err := g.Generate("users:1:bar")
	require.NoError(t, err)
	assert.Len(t, v, DigestLen)
	assert.Equal(t, strings.ToLower(v), v)
	for _, r := range v {
		assert.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f'), "unexpected rune %q", r)
	}
}

func TestGenerate_SameSeedDiffers(t *testing.T) {
	t.Parallel()

	var g Generator
	seen := make(map[string]struct{}, 256)
	for i := 0; i < 256; i++ {
		v, err := g.Generate("users:2:bar")
		require.NoError(t, err)
		_, dup := seen[v]
		require.False(t, dup, "duplicate value after %d draws", i)
		seen[v] = struct{}{}
	}
}

func TestGenerate_SeedIsMixedIn(t *testing.T) {
	t.Parallel()

	fixed := bytes.Repeat([]byte{0x42}, 64)
	g := Generator{Entropy: 16, Rand: bytes.NewReader(fixed)}
	a, err := g.Generate("seed-a")
	require.NoError(t, err)

	g.Rand = bytes.NewReader(fixed)
	b, err := g.Generate("seed-b")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestGenerate_RejectsLowEntropy(t *testing.T) {
	t.Parallel()

	_, err := NewGenerator(8, nil)
	assert.ErrorIs(t, err, ErrEntropyTooLow)

	_, err = Generator{Entropy: 15}.Generate("x")
	assert.ErrorIs(t, err, ErrEntropyTooLow)
}

func TestGenerate_ShortRandomSourceFails(t *testing.T) {
	t.Parallel()

	g := Generator{Entropy: 16, Rand: bytes.NewReader([]byte{1, 2, 3})}
	_, err := g.Generate("x")
	assert.Error(t, err)
}

func TestDigest_HMACDiffersFromPlain(t *testing.T) {
	t.Parallel()

	plain := Generator{}
	peppered := Generator{Key: []byte(strings.Repeat("k", 32))}

	assert.Equal(t, HashSHA256Hex("tok"), plain.Digest("tok"))
	assert.NotEqual(t, plain.Digest("tok"), peppered.Digest("tok"))
	assert.Len(t, peppered.Digest("tok"), DigestLen)
}

func TestEqualHex64(t *testing.T) {
	t.Parallel()

	a := HashSHA256Hex("a")
	b := HashSHA256Hex("b")

	assert.True(t, EqualHex64(a, a))
	assert.False(t, EqualHex64(a, b))
	assert.False(t, EqualHex64(a[:63], a[:63]))
	assert.False(t, EqualHex64("", ""))
}

func TestHMACKeyFromEnv(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	_, err := HMACKeyFromEnv(32)
	assert.ErrorIs(t, err, ErrHMACKeyMissing)

	t.Setenv(HMACEnvKey, "short")
	_, err = HMACKeyFromEnv(32)
	assert.ErrorIs(t, err, ErrHMACKeyTooShort)

	t.Setenv(HMACEnvKey, "  "+strings.Repeat("x", 32)+"  ")
	k, err := HMACKeyFromEnv(32)
	require.NoError(t, err)
	assert.Len(t, k, 32)
}
