package ext4

import (
	"fmt"
)

// getBlocks map a run of file blocks to disk blocks, optionally allocating.
// When the first block is already mapped, the return covers the mapped run
// from there, capped at count; no allocation happens even if the run is
// shorter than asked. When it is a hole and allocate is set, exactly one
// block is allocated and mapped; a caller wanting more comes back for the
// rest, which keeps every tree mutation small. A hole without allocate
// returns a zero count and no error.
func (t *extentTree) getBlocks(target, count uint32, allocate bool) (physical uint64, mapped uint32, err error) {
	if count == 0 {
		return 0, 0, fmt.Errorf("%w: requested zero blocks", ErrInvalidInput)
	}
	path, pos, found, err := t.findExtent(target)
	if err != nil {
		return 0, 0, err
	}
	if found {
		leaf := path[len(path)-1].node
		e := &leaf.extents[pos]
		offset := target - e.fileBlock
		available := e.count - offset
		if available > count {
			available = count
		}
		return e.startingBlock + uint64(offset), available, nil
	}
	if !allocate {
		return 0, 0, nil
	}

	block, err := t.fs.allocBlock(t.allocationGoal(path, pos, target))
	if err != nil {
		return 0, 0, err
	}
	if err = t.insertExtent(extent{fileBlock: target, startingBlock: block, count: 1}); err != nil {
		// the data block is not referenced anywhere yet, reclaim it
		if freeErr := t.fs.freeBlock(block); freeErr != nil {
			log.WithField("block", block).WithError(freeErr).Error("could not reclaim block after failed extent insert")
		}
		return 0, 0, err
	}
	t.inode.blocks += t.sectorsPerBlock()
	return block, 1, nil
}

// allocationGoal a disk block to aim the allocator at, extrapolated from the
// leaf neighbors of the file block about to be mapped. Zero means no
// preference.
func (t *extentTree) allocationGoal(path []treePathElem, pos int, target uint32) uint64 {
	leaf := path[len(path)-1].node
	if pos >= 0 {
		pred := &leaf.extents[pos]
		return pred.startingBlock + uint64(target-pred.fileBlock)
	}
	if len(leaf.extents) > 0 {
		return leaf.extents[0].startingBlock
	}
	return 0
}

// insertExtent place a new extent into the tree, merging with neighbors when
// contiguous. The extent must not overlap anything already mapped. When the
// covering leaf is full the tree is reshaped and the insert restarts from the
// root, so a grow plus split sequence is handled here as one operation.
func (t *extentTree) insertExtent(e extent) error {
	if e.count == 0 || e.count > e.maxLength() {
		return fmt.Errorf("%w: extent length %d out of range", ErrInvalidInput, e.count)
	}
	for {
		path, err := t.findPath(e.fileBlock)
		if err != nil {
			return err
		}
		leaf := path[len(path)-1]
		pos := searchExtents(leaf.node.extents, e.fileBlock)
		if pos >= 0 && leaf.node.extents[pos].contains(e.fileBlock) {
			return fmt.Errorf("%w: file block %d already mapped", ErrInvalidInput, e.fileBlock)
		}
		if pos+1 < len(leaf.node.extents) && leaf.node.extents[pos+1].fileBlock <= e.lastFileBlock() {
			return fmt.Errorf("%w: extent at file block %d would overlap its successor", ErrInvalidInput, e.fileBlock)
		}

		if outcome := tryMerge(leaf.node, pos, e); outcome != mergeNone {
			if err = t.writeNode(leaf.loc, leaf.node); err != nil {
				return err
			}
			// absorbing downward into the successor at slot 0 lowers the
			// leaf's minimum
			if outcome == mergeAppend && pos < 0 {
				return t.fixPathMin(path, e.fileBlock)
			}
			return nil
		}

		if leaf.node.full() {
			if err = t.makeRoom(e.fileBlock); err != nil {
				return err
			}
			continue
		}

		leaf.node.insertExtentAt(pos+1, e)
		if err = t.writeNode(leaf.loc, leaf.node); err != nil {
			return err
		}
		if pos < 0 {
			return t.fixPathMin(path, e.fileBlock)
		}
		return nil
	}
}

// fixPathMin lower the index keys along the descent path after the leftmost
// entry of a node moved down to newMin. Propagation stops at the first level
// where the descent did not come through slot 0, since keys above there still
// bound the subtree correctly.
func (t *extentTree) fixPathMin(path []treePathElem, newMin uint32) error {
	for i := len(path) - 2; i >= 0; i-- {
		elem := path[i]
		idx := &elem.node.indexes[elem.pos]
		if newMin >= idx.fileBlock {
			return nil
		}
		idx.fileBlock = newMin
		if err := t.writeNode(elem.loc, elem.node); err != nil {
			return err
		}
		if elem.pos != 0 {
			return nil
		}
	}
	return nil
}
