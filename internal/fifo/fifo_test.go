package fifo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	f := New(8)
	n := f.Put([]byte("hello"))
	require.Equal(t, 5, n)
	require.Equal(t, 5, f.Fill())

	out := make([]byte, 5)
	n = f.Get(out)
	require.Equal(t, 5, n)
	assert.Equal(t, "hello", string(out))
	assert.Equal(t, 0, f.Fill())
}

func TestPutPartialWhenFull(t *testing.T) {
	f := New(4)
	n := f.Put([]byte("abcdef"))
	assert.Equal(t, 4, n)
	assert.Equal(t, 0, f.Space())
	assert.Equal(t, 0, f.Put([]byte("x")))
}

func TestWrapAround(t *testing.T) {
	f := New(4)
	f.Put([]byte("ab"))
	out := make([]byte, 2)
	f.Get(out)
	f.Put([]byte("cdef"[:2]))
	f.Put([]byte("gh"))
	buf := make([]byte, 4)
	n := f.Get(buf)
	require.Equal(t, 4, n)
}

func TestPeekIsNonDestructive(t *testing.T) {
	f := New(8)
	f.Put([]byte("xyz"))
	out := make([]byte, 3)
	n := f.Peek(out)
	require.Equal(t, 3, n)
	assert.Equal(t, 3, f.Fill())
	f.Get(out)
	assert.Equal(t, 0, f.Fill())
}

func TestClear(t *testing.T) {
	f := New(8)
	f.Put([]byte("abcd"))
	f.Clear()
	assert.Equal(t, 0, f.Fill())
	assert.Equal(t, 8, f.Space())
}
