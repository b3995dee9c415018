package vcdiff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSectionZeroCopyWhenWholeSectionAvailable(t *testing.T) {
	var s section
	s.reset(4)

	pending := []byte("TESTtrailing")
	ok := s.load(&pending)
	require.True(t, ok)
	assert.Equal(t, []byte("TEST"), s.data)
	assert.Equal(t, []byte("trailing"), pending, "only the section's own bytes are consumed")
}

func TestSectionOwnedCopyAcrossMultipleLoads(t *testing.T) {
	var s section
	s.reset(6)

	p1 := []byte("AB")
	require.False(t, s.load(&p1))
	assert.Empty(t, p1)

	p2 := []byte("CDE")
	require.False(t, s.load(&p2))
	assert.Empty(t, p2)

	p3 := []byte("FGH")
	require.True(t, s.load(&p3))
	assert.Equal(t, []byte("GH"), p3, "only the remaining section byte should be consumed")
	assert.Equal(t, []byte("ABCDEF"), s.data)
}

func TestSectionZeroLength(t *testing.T) {
	var s section
	s.reset(0)

	pending := []byte("untouched")
	ok := s.load(&pending)
	require.True(t, ok)
	assert.Nil(t, s.data)
	assert.Equal(t, []byte("untouched"), pending)
	assert.True(t, s.exhausted())
}

func TestSectionReadCursor(t *testing.T) {
	var s section
	s.reset(4)
	pending := []byte("WXYZ")
	require.True(t, s.load(&pending))

	b, ok := s.readByte()
	require.True(t, ok)
	assert.Equal(t, byte('W'), b)

	chunk, ok := s.take(2)
	require.True(t, ok)
	assert.Equal(t, []byte("XY"), chunk)

	assert.False(t, s.exhausted())
	b, ok = s.readByte()
	require.True(t, ok)
	assert.Equal(t, byte('Z'), b)
	assert.True(t, s.exhausted())

	_, ok = s.readByte()
	assert.False(t, ok)
}

func TestSectionTakeFailsWhenNotEnoughRemains(t *testing.T) {
	var s section
	s.reset(2)
	pending := []byte("AB")
	require.True(t, s.load(&pending))

	_, ok := s.take(3)
	assert.False(t, ok)
}

func TestSectionLoadIsIdempotentOnceLoaded(t *testing.T) {
	var s section
	s.reset(3)
	pending := []byte("ABC")
	require.True(t, s.load(&pending))

	more := []byte("XYZ")
	ok := s.load(&more)
	require.True(t, ok)
	assert.Equal(t, []byte("XYZ"), more, "an already-loaded section must not consume further bytes")
}
