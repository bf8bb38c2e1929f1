package ext4

import (
	"fmt"
	"math"
)

// removeSpace unmap every file block in [from, to] and free the data blocks
// that backed them. Holes inside the range are skipped, so the operation is
// idempotent; math.MaxUint32 as the upper bound means through end of file.
// An extent cut in the middle leaves two pieces and so needs a spare entry
// slot in its leaf; when the leaf is full the pass stops before touching that
// leaf, reshapes the tree, and restarts. Data blocks are freed before the
// compacted node is committed, so an interruption can lose block references
// but never leak a mapping to a freed block that something else now owns.
func (t *extentTree) removeSpace(from, to uint32) error {
	if from > to {
		return fmt.Errorf("%w: range start %d beyond range end %d", ErrInvalidInput, from, to)
	}
	var totalFreed uint64
	for {
		root, err := t.readNode(rootLoc(), -1)
		if err != nil {
			return err
		}
		freed, restartAt, err := t.removeFromNode(rootLoc(), root, from, to)
		totalFreed += freed
		if err != nil {
			return err
		}
		if restartAt == nil {
			break
		}
		if err = t.makeRoom(*restartAt); err != nil {
			return err
		}
	}
	t.inode.blocks -= totalFreed * t.sectorsPerBlock()
	return nil
}

// removeFromNode remove the range from the subtree rooted at the given node.
// Returns the number of data blocks freed and, when a full leaf blocked an
// interior cut, the file block makeRoom should target before the caller
// restarts. Index keys above a trimmed child may go stale on the low side;
// search still works because keys only ever overstate nothing, they bound
// from below.
func (t *extentTree) removeFromNode(loc nodeLoc, n *extentNode, from, to uint32) (freed uint64, restartAt *uint32, err error) {
	if n.leaf() {
		return t.removeFromLeaf(loc, n, from, to)
	}
	for i := range n.indexes {
		childFrom := n.indexes[i].fileBlock
		childTo := uint32(math.MaxUint32)
		if i+1 < len(n.indexes) {
			childTo = n.indexes[i+1].fileBlock - 1
		}
		if childTo < from || childFrom > to {
			continue
		}
		childLoc := nodeLoc{block: n.indexes[i].diskBlock}
		child, err := t.readNode(childLoc, int(n.depth)-1)
		if err != nil {
			return freed, nil, err
		}
		childFreed, childRestart, err := t.removeFromNode(childLoc, child, from, to)
		freed += childFreed
		if err != nil || childRestart != nil {
			return freed, childRestart, err
		}
		// TODO: reclaim child tree blocks that end up with zero entries
	}
	return freed, nil, nil
}

// removeFromLeaf remove the range from one leaf. The pre-scan decides whether
// the leaf can absorb an interior cut before anything is freed or mutated.
func (t *extentTree) removeFromLeaf(loc nodeLoc, n *extentNode, from, to uint32) (freed uint64, restartAt *uint32, err error) {
	for i := range n.extents {
		e := &n.extents[i]
		if e.lastFileBlock() < from || e.fileBlock > to {
			continue
		}
		if e.fileBlock < from && to < e.lastFileBlock() && n.full() {
			target := e.fileBlock
			return 0, &target, nil
		}
	}

	kept := make([]extent, 0, len(n.extents))
	changed := false
	for i := range n.extents {
		e := n.extents[i]
		if e.lastFileBlock() < from || e.fileBlock > to {
			kept = append(kept, e)
			continue
		}
		changed = true
		cutFrom := from
		if e.fileBlock > cutFrom {
			cutFrom = e.fileBlock
		}
		cutTo := to
		if e.lastFileBlock() < cutTo {
			cutTo = e.lastFileBlock()
		}
		cut := cutTo - cutFrom + 1
		if err = t.fs.freeBlocks(e.startingBlock+uint64(cutFrom-e.fileBlock), cut); err != nil {
			return freed, nil, err
		}
		freed += uint64(cut)

		switch {
		case cutFrom == e.fileBlock && cutTo == e.lastFileBlock():
			// the whole extent goes
		case cutFrom == e.fileBlock:
			e.startingBlock += uint64(cut)
			e.fileBlock = cutTo + 1
			e.count -= cut
			kept = append(kept, e)
		case cutTo == e.lastFileBlock():
			e.count -= cut
			kept = append(kept, e)
		default:
			left := e
			left.count = cutFrom - e.fileBlock
			right := extent{
				fileBlock:     cutTo + 1,
				startingBlock: e.startingBlock + uint64(cutTo+1-e.fileBlock),
				count:         e.lastFileBlock() - cutTo,
				unwritten:     e.unwritten,
			}
			kept = append(kept, left, right)
		}
	}
	if !changed {
		return 0, nil, nil
	}
	n.extents = kept
	n.entries = uint16(len(kept))
	return freed, nil, t.writeNode(loc, n)
}
