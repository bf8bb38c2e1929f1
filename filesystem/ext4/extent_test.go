package ext4

import (
	"errors"
	"testing"

	"github.com/go-test/deep"
)

func TestExtentRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		e    extent
	}{
		{"initialized", extent{fileBlock: 10, startingBlock: 0x1_0000_2000, count: 100}},
		{"unwritten", extent{fileBlock: 0, startingBlock: 42, count: 7, unwritten: true}},
		{"max initialized", extent{fileBlock: 5, startingBlock: 9, count: maxExtentLength}},
		{"max unwritten", extent{fileBlock: 5, startingBlock: 9, count: maxUnwrittenExtentLength, unwritten: true}},
		{"single block", extent{fileBlock: 0xffff0000, startingBlock: 1, count: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := make([]byte, extentEntryLength)
			extentToBytes(&tt.e, b)
			out := extentFromBytes(b)
			if diff := deep.Equal(out, tt.e); diff != nil {
				t.Errorf("mismatched extent after round trip: %v", diff)
			}
		})
	}
}

// raw length 0x8000 must decode as a 32768-block initialized extent, while
// anything above it is unwritten
func TestExtentLengthEncoding(t *testing.T) {
	tests := []struct {
		raw       uint16
		count     uint32
		unwritten bool
	}{
		{0x0001, 1, false},
		{0x7fff, 32767, false},
		{0x8000, 32768, false},
		{0x8001, 1, true},
		{0xffff, 32767, true},
	}
	for _, tt := range tests {
		b := make([]byte, extentEntryLength)
		b[0x4] = byte(tt.raw)
		b[0x5] = byte(tt.raw >> 8)
		e := extentFromBytes(b)
		if e.count != tt.count || e.unwritten != tt.unwritten {
			t.Errorf("raw %#04x: expected count %d unwritten %v, got count %d unwritten %v", tt.raw, tt.count, tt.unwritten, e.count, e.unwritten)
		}
	}
}

func TestExtentIndexRoundTrip(t *testing.T) {
	idx := extentIndex{fileBlock: 12345, diskBlock: 0x2_0000_0001}
	b := make([]byte, extentEntryLength)
	extentIndexToBytes(&idx, b)
	out := extentIndexFromBytes(b)
	if diff := deep.Equal(out, idx); diff != nil {
		t.Errorf("mismatched index after round trip: %v", diff)
	}
}

func TestExtentNodeHeaderFromBytes(t *testing.T) {
	valid := make([]byte, extentHeaderLength)
	h := extentNodeHeader{entries: 2, max: 4, depth: 1, generation: 9}
	h.toBytes(valid)

	t.Run("round trip", func(t *testing.T) {
		out, err := extentNodeHeaderFromBytes(valid)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := deep.Equal(*out, h); diff != nil {
			t.Errorf("mismatched header after round trip: %v", diff)
		}
	})
	t.Run("bad signature", func(t *testing.T) {
		b := make([]byte, extentHeaderLength)
		copy(b, valid)
		b[0] = 0
		if _, err := extentNodeHeaderFromBytes(b); !errors.Is(err, ErrCorrupted) {
			t.Errorf("expected ErrCorrupted, got %v", err)
		}
	})
	t.Run("entries above max", func(t *testing.T) {
		b := make([]byte, extentHeaderLength)
		bad := extentNodeHeader{entries: 5, max: 4}
		bad.toBytes(b)
		if _, err := extentNodeHeaderFromBytes(b); !errors.Is(err, ErrCorrupted) {
			t.Errorf("expected ErrCorrupted, got %v", err)
		}
	})
	t.Run("depth above maximum", func(t *testing.T) {
		b := make([]byte, extentHeaderLength)
		bad := extentNodeHeader{max: 4, depth: extentTreeMaxDepth + 1}
		bad.toBytes(b)
		if _, err := extentNodeHeaderFromBytes(b); !errors.Is(err, ErrCorrupted) {
			t.Errorf("expected ErrCorrupted, got %v", err)
		}
	})
	t.Run("short buffer", func(t *testing.T) {
		if _, err := extentNodeHeaderFromBytes(valid[:8]); !errors.Is(err, ErrCorrupted) {
			t.Errorf("expected ErrCorrupted, got %v", err)
		}
	})
}

func TestExtentNodeRoundTrip(t *testing.T) {
	t.Run("leaf", func(t *testing.T) {
		n := &extentNode{
			extentNodeHeader: extentNodeHeader{entries: 2, max: 4},
			extents: []extent{
				{fileBlock: 0, startingBlock: 100, count: 10},
				{fileBlock: 20, startingBlock: 200, count: 5, unwritten: true},
			},
		}
		b := make([]byte, nodeSizeBytes(n.max))
		n.toBytes(b)
		out, err := extentNodeFromBytes(b)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := deep.Equal(out, n); diff != nil {
			t.Errorf("mismatched node after round trip: %v", diff)
		}
	})
	t.Run("internal", func(t *testing.T) {
		n := &extentNode{
			extentNodeHeader: extentNodeHeader{entries: 2, max: 4, depth: 1},
			indexes: []extentIndex{
				{fileBlock: 0, diskBlock: 33},
				{fileBlock: 1000, diskBlock: 34},
			},
		}
		b := make([]byte, nodeSizeBytes(n.max))
		n.toBytes(b)
		out, err := extentNodeFromBytes(b)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := deep.Equal(out, n); diff != nil {
			t.Errorf("mismatched node after round trip: %v", diff)
		}
	})
}

func TestExtentNodeInsertRemove(t *testing.T) {
	n := &extentNode{extentNodeHeader: extentNodeHeader{max: 4}}
	n.insertExtentAt(0, extent{fileBlock: 10, startingBlock: 1, count: 1})
	n.insertExtentAt(1, extent{fileBlock: 30, startingBlock: 3, count: 1})
	n.insertExtentAt(1, extent{fileBlock: 20, startingBlock: 2, count: 1})
	if n.entries != 3 {
		t.Fatalf("expected 3 entries, got %d", n.entries)
	}
	if n.extents[1].fileBlock != 20 {
		t.Errorf("expected file block 20 in slot 1, got %d", n.extents[1].fileBlock)
	}
	n.removeExtentAt(0)
	if n.entries != 2 || n.extents[0].fileBlock != 20 {
		t.Errorf("unexpected entries after removal: %+v", n.extents)
	}
}

func TestMaxEntriesPerBlock(t *testing.T) {
	tests := []struct {
		blockSize uint32
		checksums bool
		expected  uint16
	}{
		{1024, false, 84},
		{1024, true, 84},
		{4096, false, 340},
		{4096, true, 340},
	}
	for _, tt := range tests {
		if max := maxEntriesPerBlock(tt.blockSize, tt.checksums); max != tt.expected {
			t.Errorf("block size %d checksums %v: expected %d entries, got %d", tt.blockSize, tt.checksums, tt.expected, max)
		}
	}
}
