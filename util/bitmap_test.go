package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitmapSetClear(t *testing.T) {
	bm := NewBitmap(64)
	require.NoError(t, bm.Set(0))
	require.NoError(t, bm.Set(9))
	require.NoError(t, bm.Set(63))

	for _, tt := range []struct {
		location int
		want     bool
	}{
		{0, true},
		{1, false},
		{9, true},
		{62, false},
		{63, true},
	} {
		got, err := bm.IsSet(tt.location)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "bit %d", tt.location)
	}

	require.NoError(t, bm.Clear(9))
	got, err := bm.IsSet(9)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestBitmapOutOfRange(t *testing.T) {
	bm := NewBitmap(16)
	assert.Error(t, bm.Set(16))
	assert.Error(t, bm.Clear(-1))
	_, err := bm.IsSet(100)
	assert.Error(t, err)
}

func TestBitmapFirstClear(t *testing.T) {
	bm := NewBitmap(16)
	for i := 0; i < 5; i++ {
		require.NoError(t, bm.Set(i))
	}
	assert.Equal(t, 5, bm.FirstClear(0))
	assert.Equal(t, 8, bm.FirstClear(8))

	for i := 5; i < 16; i++ {
		require.NoError(t, bm.Set(i))
	}
	assert.Equal(t, -1, bm.FirstClear(0))
}

func TestBitmapClearRun(t *testing.T) {
	bm := NewBitmap(32)
	require.NoError(t, bm.Set(10))
	assert.Equal(t, 10, bm.ClearRun(0, 32))
	assert.Equal(t, 4, bm.ClearRun(0, 4))
	assert.Equal(t, 0, bm.ClearRun(10, 32))
	assert.Equal(t, 21, bm.ClearRun(11, 32))
}

func TestMemFileReadWrite(t *testing.T) {
	f := NewMemFile(nil)
	n, err := f.WriteAt([]byte("hello"), 3)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 8, len(f.Bytes()))

	b := make([]byte, 5)
	n, err = f.ReadAt(b, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(b))

	// read past end
	_, err = f.ReadAt(b, 100)
	assert.Error(t, err)
}
