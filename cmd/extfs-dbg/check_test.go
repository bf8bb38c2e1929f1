package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diskfs/go-extfs"
)

func TestExtentInodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.img")
	fs, err := extfs.Create(path, 8<<20, nil)
	require.NoError(t, err)
	first, err := fs.CreateInode()
	require.NoError(t, err)
	_, _, err = first.GetBlocks(0, 1, true)
	require.NoError(t, err)
	second, err := fs.CreateInode()
	require.NoError(t, err)
	require.NoError(t, fs.Flush())

	reread, err := extfs.Open(path, nil)
	require.NoError(t, err)
	// reserved and unused inodes are skipped, the two created ones are audited
	assert.Equal(t, []uint32{first.InodeNumber(), second.InodeNumber()}, extentInodes(reread))
}
