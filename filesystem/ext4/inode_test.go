package ext4

import (
	"testing"
	"time"

	"github.com/go-test/deep"
)

func TestInodeRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0)
	in := &inode{
		number:     11,
		mode:       0o644,
		uid:        1000,
		gid:        1000,
		size:       5 << 32,
		linkCount:  1,
		blocks:     (3 << 32) | 1234,
		flags:      inodeFlagExtents,
		generation: 0xdeadbeef,
		accessTime: now,
		changeTime: now,
		modifyTime: now,
		createTime: now,
		extraSize:  32,
	}
	initExtentTreeRoot(in)

	out, err := inodeFromBytes(in.toBytes(DefaultInodeSize), 11)
	if err != nil {
		t.Fatalf("unexpected error interpreting inode: %v", err)
	}
	if diff := deep.Equal(out, in); diff != nil {
		t.Errorf("mismatched inode after round trip: %v", diff)
	}
}

func TestInodeUsesExtents(t *testing.T) {
	in := &inode{flags: inodeFlagExtents}
	if !in.usesExtents() {
		t.Errorf("extent flag not recognized")
	}
	in.flags = 0
	if in.usesExtents() {
		t.Errorf("extent flag falsely reported")
	}
}

func TestBlockGroupForInode(t *testing.T) {
	tests := []struct {
		inodeNumber    uint32
		inodesPerGroup uint32
		expected       uint32
	}{
		{1, 2048, 0},
		{2048, 2048, 0},
		{2049, 2048, 1},
		{4097, 2048, 2},
	}
	for _, tt := range tests {
		if bg := blockGroupForInode(tt.inodeNumber, tt.inodesPerGroup); bg != tt.expected {
			t.Errorf("inode %d with %d per group: expected group %d, got %d", tt.inodeNumber, tt.inodesPerGroup, tt.expected, bg)
		}
	}
}

func TestInitExtentTreeRoot(t *testing.T) {
	in := &inode{number: 12, flags: inodeFlagExtents}
	initExtentTreeRoot(in)
	n, err := extentNodeFromBytes(in.iBlock[:])
	if err != nil {
		t.Fatalf("unexpected error interpreting fresh root: %v", err)
	}
	if n.entries != 0 || n.max != rootMaxEntries || n.depth != 0 {
		t.Errorf("unexpected fresh root header: %+v", n.extentNodeHeader)
	}
}
