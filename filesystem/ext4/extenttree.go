package ext4

import (
	"fmt"
)

// extentTree one inode's extent tree: the root lives in the inode's 60-byte
// i_block area, everything below it in dedicated blocks. All mutation is
// single-shot; no state survives past the call boundary besides the on-disk
// tree itself.
type extentTree struct {
	fs    *FileSystem
	inode *inode
}

// nodeLoc where a node's bytes live: the inode root area or a device block
type nodeLoc struct {
	inRoot bool
	block  uint64
}

func rootLoc() nodeLoc {
	return nodeLoc{inRoot: true}
}

// treePathElem one step of a root-to-leaf descent. The nodes are private
// parsed copies, so the path can be mutated level by level without aliasing.
type treePathElem struct {
	loc  nodeLoc
	node *extentNode
	// pos the entry slot descended through; meaningful for internal levels
	pos int
}

// initExtentTreeRoot write an empty leaf root into the inode's i_block area.
// Called once at file creation.
func initExtentTreeRoot(in *inode) {
	n := extentNode{
		extentNodeHeader: extentNodeHeader{
			entries: 0,
			max:     rootMaxEntries,
			depth:   0,
		},
	}
	n.toBytes(in.iBlock[:])
}

// checksummer the extent node checksummer bound to this tree's inode
func (t *extentTree) checksummer() checksummer {
	return extentNodeChecksummer(t.fs.superblock.checksumSeed, t.inode.number, t.inode.generation)
}

// readNode read and validate the node at loc. expectDepth is the depth the
// parent recorded for this level, or -1 for the root, where any depth is
// legal. Structural violations are hard ErrCorrupted; a checksum mismatch is
// tolerated with a logged warning unless the filesystem is in strict mode.
func (t *extentTree) readNode(loc nodeLoc, expectDepth int) (*extentNode, error) {
	if loc.inRoot {
		n, err := extentNodeFromBytes(t.inode.iBlock[:])
		if err != nil {
			return nil, err
		}
		if n.max > rootMaxEntries {
			return nil, fmt.Errorf("%w: root node claims %d max entries, the inode area fits %d", ErrCorrupted, n.max, rootMaxEntries)
		}
		return n, t.validateNode(n, expectDepth)
	}

	var n *extentNode
	err := t.fs.device.readBlock(loc.block, func(b []byte) error {
		var err error
		if n, err = extentNodeFromBytes(b); err != nil {
			return err
		}
		if !t.fs.superblock.metadataChecksums {
			return nil
		}
		tailOffset := nodeSizeBytes(n.max)
		if tailOffset+extentTailLength > len(b) {
			return fmt.Errorf("%w: node at block %d claims %d max entries, leaving no room for the checksum tail", ErrCorrupted, loc.block, n.max)
		}
		stored := uint32(b[tailOffset]) | uint32(b[tailOffset+1])<<8 | uint32(b[tailOffset+2])<<16 | uint32(b[tailOffset+3])<<24
		if actual := t.checksummer()(b[:tailOffset]); actual != stored {
			if t.fs.strictChecksums {
				return fmt.Errorf("%w: extent node checksum mismatch at block %d", ErrCorrupted, loc.block)
			}
			log.WithField("inode", t.inode.number).WithField("block", loc.block).
				Warn("extent node checksum mismatch, continuing with degraded read")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return n, t.validateNode(n, expectDepth)
}

// validateNode structural sanity checks beyond what parsing already enforced
func (t *extentTree) validateNode(n *extentNode, expectDepth int) error {
	if expectDepth >= 0 && int(n.depth) != expectDepth {
		return fmt.Errorf("%w: extent node depth %d, parent expected %d", ErrCorrupted, n.depth, expectDepth)
	}
	blockCount := t.fs.superblock.blockCount
	if n.leaf() {
		for i := range n.extents {
			e := &n.extents[i]
			if e.count == 0 {
				return fmt.Errorf("%w: zero-length extent at file block %d", ErrCorrupted, e.fileBlock)
			}
			if e.startingBlock+uint64(e.count) > blockCount {
				return fmt.Errorf("%w: extent at file block %d maps past the device, blocks %d-%d of %d", ErrCorrupted, e.fileBlock, e.startingBlock, e.startingBlock+uint64(e.count)-1, blockCount)
			}
		}
		return nil
	}
	for i := range n.indexes {
		if n.indexes[i].diskBlock >= blockCount {
			return fmt.Errorf("%w: extent index at file block %d points past the device, block %d of %d", ErrCorrupted, n.indexes[i].fileBlock, n.indexes[i].diskBlock, blockCount)
		}
	}
	return nil
}

// writeNode write the node back to loc, recomputing the checksum tail for
// block-resident nodes when the feature is on. A root write only updates the
// in-memory inode; the caller persists the inode.
func (t *extentTree) writeNode(loc nodeLoc, n *extentNode) error {
	if loc.inRoot {
		n.toBytes(t.inode.iBlock[:])
		return nil
	}
	return t.fs.device.modifyBlock(loc.block, func(b []byte) error {
		n.toBytes(b[:nodeSizeBytes(n.max)])
		if t.fs.superblock.metadataChecksums {
			tailOffset := nodeSizeBytes(n.max)
			sum := t.checksummer()(b[:tailOffset])
			b[tailOffset] = byte(sum)
			b[tailOffset+1] = byte(sum >> 8)
			b[tailOffset+2] = byte(sum >> 16)
			b[tailOffset+3] = byte(sum >> 24)
		}
		return nil
	})
}

// searchExtents the position of the last extent with fileBlock <= target, or
// -1 if the target precedes every extent
func searchExtents(exts []extent, target uint32) int {
	pos := -1
	for i := range exts {
		if exts[i].fileBlock > target {
			break
		}
		pos = i
	}
	return pos
}

// searchIndexes the position of the last index with fileBlock <= target.
// Descending always takes the first child when the target precedes every
// key, which can only happen transiently for the leftmost spine.
func searchIndexes(indexes []extentIndex, target uint32) int {
	pos := 0
	for i := range indexes {
		if i > 0 && indexes[i].fileBlock > target {
			break
		}
		pos = i
	}
	return pos
}

// findPath descend from the root to the leaf covering the target file block,
// recording every level. The last element is the leaf.
func (t *extentTree) findPath(target uint32) ([]treePathElem, error) {
	root, err := t.readNode(rootLoc(), -1)
	if err != nil {
		return nil, err
	}
	path := []treePathElem{{loc: rootLoc(), node: root}}
	current := root
	for !current.leaf() {
		if len(current.indexes) == 0 {
			return nil, fmt.Errorf("%w: internal extent node with no children", ErrCorrupted)
		}
		pos := searchIndexes(current.indexes, target)
		path[len(path)-1].pos = pos
		childLoc := nodeLoc{block: current.indexes[pos].diskBlock}
		child, err := t.readNode(childLoc, int(current.depth)-1)
		if err != nil {
			return nil, err
		}
		path = append(path, treePathElem{loc: childLoc, node: child})
		current = child
	}
	return path, nil
}

// lookup translate a file block to a device block. Returns found=false for a
// hole, which is not an error.
func (t *extentTree) lookup(target uint32) (physical uint64, found bool, err error) {
	path, err := t.findPath(target)
	if err != nil {
		return 0, false, err
	}
	leaf := path[len(path)-1].node
	pos := searchExtents(leaf.extents, target)
	if pos < 0 || !leaf.extents[pos].contains(target) {
		return 0, false, nil
	}
	e := &leaf.extents[pos]
	return e.startingBlock + uint64(target-e.fileBlock), true, nil
}

// findExtent the extent containing the target file block, with its leaf path
// and slot. found=false for a hole.
func (t *extentTree) findExtent(target uint32) (path []treePathElem, pos int, found bool, err error) {
	path, err = t.findPath(target)
	if err != nil {
		return nil, 0, false, err
	}
	leaf := path[len(path)-1].node
	pos = searchExtents(leaf.extents, target)
	if pos < 0 || !leaf.extents[pos].contains(target) {
		return path, pos, false, nil
	}
	return path, pos, true, nil
}

// depth the current depth of the tree
func (t *extentTree) depth() (uint16, error) {
	root, err := t.readNode(rootLoc(), -1)
	if err != nil {
		return 0, err
	}
	return root.depth, nil
}

// walkExtents visit every extent in file-block order
func (t *extentTree) walkExtents(visit func(e extent) error) error {
	root, err := t.readNode(rootLoc(), -1)
	if err != nil {
		return err
	}
	return t.walkNodeExtents(root, visit)
}

func (t *extentTree) walkNodeExtents(n *extentNode, visit func(e extent) error) error {
	if n.leaf() {
		for i := range n.extents {
			if err := visit(n.extents[i]); err != nil {
				return err
			}
		}
		return nil
	}
	for i := range n.indexes {
		child, err := t.readNode(nodeLoc{block: n.indexes[i].diskBlock}, int(n.depth)-1)
		if err != nil {
			return err
		}
		if err = t.walkNodeExtents(child, visit); err != nil {
			return err
		}
	}
	return nil
}

// check audit the whole tree: structure, ordering, overlap and, in all cases
// strictly, checksums. Unlike the read path, a checksum mismatch here is an
// error even outside strict mode, since an audit exists to find exactly that.
func (t *extentTree) check() error {
	strict := t.fs.strictChecksums
	t.fs.strictChecksums = true
	defer func() { t.fs.strictChecksums = strict }()

	root, err := t.readNode(rootLoc(), -1)
	if err != nil {
		return err
	}
	_, err = t.checkNode(root, 0)
	return err
}

// checkNode verify ordering invariants below n. minKey is the smallest file
// block this subtree may contain. Returns the next legal minimum.
func (t *extentTree) checkNode(n *extentNode, minKey uint64) (uint64, error) {
	if n.leaf() {
		for i := range n.extents {
			e := &n.extents[i]
			if uint64(e.fileBlock) < minKey {
				return 0, fmt.Errorf("%w: extent at file block %d overlaps or disorders its predecessor", ErrCorrupted, e.fileBlock)
			}
			minKey = uint64(e.fileBlock) + uint64(e.count)
		}
		return minKey, nil
	}
	for i := range n.indexes {
		idx := &n.indexes[i]
		if i > 0 && idx.fileBlock <= n.indexes[i-1].fileBlock {
			return 0, fmt.Errorf("%w: index keys not strictly increasing at file block %d", ErrCorrupted, idx.fileBlock)
		}
		child, err := t.readNode(nodeLoc{block: idx.diskBlock}, int(n.depth)-1)
		if err != nil {
			return 0, err
		}
		if child.entries > 0 && child.firstFileBlock() < idx.fileBlock {
			return 0, fmt.Errorf("%w: child minimum %d below its index key %d", ErrCorrupted, child.firstFileBlock(), idx.fileBlock)
		}
		if minKey, err = t.checkNode(child, minKey); err != nil {
			return 0, err
		}
	}
	return minKey, nil
}
