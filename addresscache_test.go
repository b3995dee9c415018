package vcdiff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressCacheSelfMode(t *testing.T) {
	ac := newAddressCache(4, 3)
	ac.reset([]byte{0x2A}) // raw address 42

	addr, err := ac.decode(100, selfMode)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), addr)
}

func TestAddressCacheHereMode(t *testing.T) {
	ac := newAddressCache(4, 3)
	ac.reset([]byte{0x0A}) // offset 10 back from here

	addr, err := ac.decode(100, hereMode)
	require.NoError(t, err)
	assert.Equal(t, uint32(90), addr)
}

func TestAddressCacheHereModeRejectsOffsetPastStart(t *testing.T) {
	ac := newAddressCache(4, 3)
	ac.reset([]byte{0x0A}) // offset 10, but here is only 5

	_, err := ac.decode(5, hereMode)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestAddressCacheNearModeAccumulates(t *testing.T) {
	ac := newAddressCache(4, 3)
	ac.reset([]byte{0x05, 0x03})

	// First decode in near slot 0 (mode 2) seeds the cache with 5 and also
	// updates the SAME cache; second decode in the same slot adds 3 to it.
	addr1, err := ac.decode(1000, 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), addr1)

	addr2, err := ac.decode(1000, 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(8), addr2)
}

func TestAddressCacheZeroAddressIsValid(t *testing.T) {
	// Regression: a near-cache slot holding the legitimately decoded
	// address 0 must not be treated as "uninitialized".
	ac := newAddressCache(4, 3)
	ac.reset([]byte{0x00, 0x00})

	addr1, err := ac.decode(1000, 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), addr1)

	addr2, err := ac.decode(1000, 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), addr2)
}

func TestAddressCacheSameMode(t *testing.T) {
	ac := newAddressCache(4, 3)
	// Seed the SAME cache by decoding a SELF-mode address first, then
	// fetch it back through the SAME table at the byte it hashed to.
	ac.reset([]byte{0x64}) // 100
	addr, err := ac.decode(1000, selfMode)
	require.NoError(t, err)
	require.Equal(t, uint32(100), addr)

	slot := addr % (3 * 256)
	sameMode := byte(2 + 4 + int(slot/256))
	ac.buf = []byte{byte(slot % 256)}
	ac.pos = 0
	got, err := ac.decode(1000, sameMode)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), got)
}

func TestAddressCacheInvalidMode(t *testing.T) {
	ac := newAddressCache(4, 3)
	ac.reset(nil)
	_, err := ac.decode(100, 9) // valid modes are 0..8 for sizes (4,3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestAddressCacheResetClearsState(t *testing.T) {
	ac := newAddressCache(4, 3)
	ac.reset([]byte{0x05})
	_, err := ac.decode(1000, 2)
	require.NoError(t, err)

	ac.reset([]byte{0x07})
	addr, err := ac.decode(1000, 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), addr, "near slot must be cleared to 0 on reset")
}
