package ext4

import (
	"encoding/binary"
	"fmt"
)

const (
	extentHeaderSignature uint16 = 0xf30a
	extentHeaderLength    int    = 12
	extentEntryLength     int    = 12
	extentTailLength      int    = 4
	extentTreeMaxDepth    uint16 = 5

	// rootMaxEntries how many entries fit in the 60-byte i_block root area
	// after the 12-byte header
	rootMaxEntries uint16 = 4

	// maxExtentLength the longest run one initialized extent can cover. An
	// unwritten extent gives up one block to the state flag.
	maxExtentLength          uint32 = 32768
	maxUnwrittenExtentLength uint32 = 32767

	// extentUnwrittenThreshold raw length values strictly above this mark an
	// unwritten extent. The value itself, 0x8000, is a fully initialized
	// extent of length 32768; this is an on-disk-format quirk, so the
	// comparison must be >, never a bit test.
	extentUnwrittenThreshold uint16 = 0x8000
)

// extent a single contiguous run of file blocks mapped to a contiguous run of
// blocks on disk
type extent struct {
	// fileBlock block number relative to the file. E.g. if the file is composed of 5 blocks, this could be 0-4
	fileBlock uint32
	// startingBlock the first block on disk that contains the data in this extent. E.g. if the file is made up of data from blocks 100-104 on the disk, this would be 100
	startingBlock uint64
	// count how many contiguous blocks are covered by this extent
	count uint32
	// unwritten the blocks are allocated but not yet written; reads see zeroes
	unwritten bool
}

// lastFileBlock the last file block covered by this extent
func (e *extent) lastFileBlock() uint32 {
	return e.fileBlock + e.count - 1
}

// contains whether the given file block falls inside this extent
func (e *extent) contains(fileBlock uint32) bool {
	return e.fileBlock <= fileBlock && fileBlock <= e.lastFileBlock()
}

// maxLength the longest this extent may grow given its unwritten state
func (e *extent) maxLength() uint32 {
	if e.unwritten {
		return maxUnwrittenExtentLength
	}
	return maxExtentLength
}

// extentIndex an entry in an internal node, pointing at the child node that
// covers file blocks at and beyond fileBlock
type extentIndex struct {
	fileBlock uint32
	diskBlock uint64
}

// extentNodeHeader the 12-byte header prefixed to every extent tree node
type extentNodeHeader struct {
	entries    uint16 // number of entries in use
	max        uint16 // maximum number of entries allowed at this level
	depth      uint16 // the depth of tree below here; for leaf nodes, will be 0
	generation uint32 // used by Lustre but not standard ext4
}

func (h *extentNodeHeader) toBytes(b []byte) {
	binary.LittleEndian.PutUint16(b[0x0:0x2], extentHeaderSignature)
	binary.LittleEndian.PutUint16(b[0x2:0x4], h.entries)
	binary.LittleEndian.PutUint16(b[0x4:0x6], h.max)
	binary.LittleEndian.PutUint16(b[0x6:0x8], h.depth)
	binary.LittleEndian.PutUint32(b[0x8:0xc], h.generation)
}

func extentNodeHeaderFromBytes(b []byte) (*extentNodeHeader, error) {
	if len(b) < extentHeaderLength {
		return nil, fmt.Errorf("%w: extent node header requires %d bytes, have %d", ErrCorrupted, extentHeaderLength, len(b))
	}
	if signature := binary.LittleEndian.Uint16(b[0x0:0x2]); signature != extentHeaderSignature {
		return nil, fmt.Errorf("%w: invalid extent node signature %#04x", ErrCorrupted, signature)
	}
	h := extentNodeHeader{
		entries:    binary.LittleEndian.Uint16(b[0x2:0x4]),
		max:        binary.LittleEndian.Uint16(b[0x4:0x6]),
		depth:      binary.LittleEndian.Uint16(b[0x6:0x8]),
		generation: binary.LittleEndian.Uint32(b[0x8:0xc]),
	}
	if h.entries > h.max {
		return nil, fmt.Errorf("%w: extent node has %d entries, maximum %d", ErrCorrupted, h.entries, h.max)
	}
	if h.depth > extentTreeMaxDepth {
		return nil, fmt.Errorf("%w: extent node depth %d exceeds maximum %d", ErrCorrupted, h.depth, extentTreeMaxDepth)
	}
	return &h, nil
}

// extentToBytes encode one leaf entry into the 12 bytes at b. The 48-bit disk
// block is stored split, low 32 bits after the high 16.
func extentToBytes(e *extent, b []byte) {
	raw := uint16(e.count)
	if e.unwritten {
		raw = uint16(e.count) + extentUnwrittenThreshold
	}
	binary.LittleEndian.PutUint32(b[0x0:0x4], e.fileBlock)
	binary.LittleEndian.PutUint16(b[0x4:0x6], raw)
	binary.LittleEndian.PutUint16(b[0x6:0x8], uint16(e.startingBlock>>32))
	binary.LittleEndian.PutUint32(b[0x8:0xc], uint32(e.startingBlock))
}

// extentFromBytes decode one leaf entry from the 12 bytes at b.
func extentFromBytes(b []byte) extent {
	raw := binary.LittleEndian.Uint16(b[0x4:0x6])
	e := extent{
		fileBlock:     binary.LittleEndian.Uint32(b[0x0:0x4]),
		startingBlock: uint64(binary.LittleEndian.Uint16(b[0x6:0x8]))<<32 | uint64(binary.LittleEndian.Uint32(b[0x8:0xc])),
	}
	// raw length 0x8000 is an initialized extent of 32768 blocks, so the
	// unwritten test must be strictly greater
	if raw > extentUnwrittenThreshold {
		e.unwritten = true
		e.count = uint32(raw - extentUnwrittenThreshold)
	} else {
		e.count = uint32(raw)
		if raw == extentUnwrittenThreshold {
			e.count = maxExtentLength
		}
	}
	return e
}

// extentIndexToBytes encode one internal entry into the 12 bytes at b.
func extentIndexToBytes(idx *extentIndex, b []byte) {
	binary.LittleEndian.PutUint32(b[0x0:0x4], idx.fileBlock)
	binary.LittleEndian.PutUint32(b[0x4:0x8], uint32(idx.diskBlock))
	binary.LittleEndian.PutUint16(b[0x8:0xa], uint16(idx.diskBlock>>32))
	binary.LittleEndian.PutUint16(b[0xa:0xc], 0)
}

// extentIndexFromBytes decode one internal entry from the 12 bytes at b.
func extentIndexFromBytes(b []byte) extentIndex {
	return extentIndex{
		fileBlock: binary.LittleEndian.Uint32(b[0x0:0x4]),
		diskBlock: uint64(binary.LittleEndian.Uint16(b[0x8:0xa]))<<32 | uint64(binary.LittleEndian.Uint32(b[0x4:0x8])),
	}
}

// extentNode an extent tree node held in memory: the header plus either leaf
// extents (depth 0) or child pointers (depth > 0). Exactly one of extents and
// indexes is in use.
type extentNode struct {
	extentNodeHeader
	extents []extent
	indexes []extentIndex
}

// leaf whether this node holds extents rather than child pointers
func (n *extentNode) leaf() bool {
	return n.depth == 0
}

// full whether the node has no room for another entry
func (n *extentNode) full() bool {
	return n.entries >= n.max
}

// firstFileBlock the lowest file block reachable through this node, or 0 for
// an empty node
func (n *extentNode) firstFileBlock() uint32 {
	if n.leaf() {
		if len(n.extents) == 0 {
			return 0
		}
		return n.extents[0].fileBlock
	}
	if len(n.indexes) == 0 {
		return 0
	}
	return n.indexes[0].fileBlock
}

// insertExtentAt insert an extent at position pos, shifting later entries up.
// The caller must have checked that the node has room.
func (n *extentNode) insertExtentAt(pos int, e extent) {
	n.extents = append(n.extents, extent{})
	copy(n.extents[pos+1:], n.extents[pos:])
	n.extents[pos] = e
	n.entries = uint16(len(n.extents))
}

// removeExtentAt remove the extent at position pos, shifting later entries down.
func (n *extentNode) removeExtentAt(pos int) {
	n.extents = append(n.extents[:pos], n.extents[pos+1:]...)
	n.entries = uint16(len(n.extents))
}

// insertIndexAt insert a child pointer at position pos, shifting later entries up.
// The caller must have checked that the node has room.
func (n *extentNode) insertIndexAt(pos int, idx extentIndex) {
	n.indexes = append(n.indexes, extentIndex{})
	copy(n.indexes[pos+1:], n.indexes[pos:])
	n.indexes[pos] = idx
	n.entries = uint16(len(n.indexes))
}

// toBytes encode the node into b, which must hold the header and max entries.
// Unused entry slots and any trailing tail area are zeroed; the checksum tail
// is filled in by the writer, not here.
func (n *extentNode) toBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
	n.extentNodeHeader.toBytes(b[0:extentHeaderLength])
	if n.leaf() {
		for i := range n.extents {
			base := extentHeaderLength + i*extentEntryLength
			extentToBytes(&n.extents[i], b[base:base+extentEntryLength])
		}
		return
	}
	for i := range n.indexes {
		base := extentHeaderLength + i*extentEntryLength
		extentIndexToBytes(&n.indexes[i], b[base:base+extentEntryLength])
	}
}

// extentNodeFromBytes parse a node, header and entries both, from b.
func extentNodeFromBytes(b []byte) (*extentNode, error) {
	h, err := extentNodeHeaderFromBytes(b)
	if err != nil {
		return nil, err
	}
	if needed := extentHeaderLength + int(h.entries)*extentEntryLength; len(b) < needed {
		return nil, fmt.Errorf("%w: extent node with %d entries requires %d bytes, have %d", ErrCorrupted, h.entries, needed, len(b))
	}
	n := extentNode{extentNodeHeader: *h}
	size := int(h.entries)
	if h.depth == 0 {
		n.extents = make([]extent, size)
		for i := 0; i < size; i++ {
			base := extentHeaderLength + i*extentEntryLength
			n.extents[i] = extentFromBytes(b[base : base+extentEntryLength])
		}
		return &n, nil
	}
	n.indexes = make([]extentIndex, size)
	for i := 0; i < size; i++ {
		base := extentHeaderLength + i*extentEntryLength
		n.indexes[i] = extentIndexFromBytes(b[base : base+extentEntryLength])
	}
	return &n, nil
}

// nodeSizeBytes how many bytes a node with the given capacity occupies,
// excluding any checksum tail
func nodeSizeBytes(max uint16) int {
	return extentHeaderLength + int(max)*extentEntryLength
}

// maxEntriesPerBlock how many entries fit in one tree block of the given size
func maxEntriesPerBlock(blockSize uint32, checksums bool) uint16 {
	usable := int(blockSize) - extentHeaderLength
	if checksums {
		usable -= extentTailLength
	}
	return uint16(usable / extentEntryLength)
}
