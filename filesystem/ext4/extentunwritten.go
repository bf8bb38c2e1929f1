package ext4

import (
	"fmt"
)

// fallocate mode flags, matching the linux fallocate(2) values
const (
	fallocFlagKeepSize  uint32 = 0x01
	fallocFlagPunchHole uint32 = 0x02
	fallocFlagZeroRange uint32 = 0x10
)

// isUnwritten whether the extent covering the file block is preallocated but
// not yet written. A hole is ErrNotFound.
func (t *extentTree) isUnwritten(target uint32) (bool, error) {
	path, pos, found, err := t.findExtent(target)
	if err != nil {
		return false, err
	}
	if !found {
		return false, fmt.Errorf("%w: file block %d is not mapped", ErrNotFound, target)
	}
	return path[len(path)-1].node.extents[pos].unwritten, nil
}

// splitExtentAt split the extent containing the target file block at that
// block, leaving the part below it with the left state and the part from it
// on with the right state. Splitting at the extent's first block needs no new
// entry and degenerates to setting the right state on the whole extent.
func (t *extentTree) splitExtentAt(target uint32, leftUnwritten, rightUnwritten bool) error {
	for {
		path, pos, found, err := t.findExtent(target)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: file block %d is not mapped", ErrNotFound, target)
		}
		leaf := path[len(path)-1]
		e := &leaf.node.extents[pos]

		if target == e.fileBlock {
			e.unwritten = rightUnwritten
			return t.writeNode(leaf.loc, leaf.node)
		}

		if leaf.node.full() {
			if err = t.makeRoom(target); err != nil {
				return err
			}
			continue
		}

		offset := target - e.fileBlock
		right := extent{
			fileBlock:     target,
			startingBlock: e.startingBlock + uint64(offset),
			count:         e.count - offset,
			unwritten:     rightUnwritten,
		}
		e.count = offset
		e.unwritten = leftUnwritten
		leaf.node.insertExtentAt(pos+1, right)
		return t.writeNode(leaf.loc, leaf.node)
	}
}

// convertToInitialized mark a run of unwritten blocks as written. The run
// must fall entirely within a single unwritten extent; the extent is split as
// needed so only the requested run changes state. Converting an already
// initialized run is ErrInvalidInput, a hole is ErrNotFound.
func (t *extentTree) convertToInitialized(start, count uint32) error {
	if count == 0 {
		return fmt.Errorf("%w: zero-length conversion", ErrInvalidInput)
	}
	path, pos, found, err := t.findExtent(start)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: file block %d is not mapped", ErrNotFound, start)
	}
	leaf := path[len(path)-1]
	e := &leaf.node.extents[pos]
	if !e.unwritten {
		return fmt.Errorf("%w: file block %d is already initialized", ErrInvalidInput, start)
	}
	last := start + count - 1
	if last < start || last > e.lastFileBlock() {
		return fmt.Errorf("%w: blocks %d-%d cross out of the unwritten extent at %d", ErrInvalidInput, start, last, e.fileBlock)
	}

	atStart := start == e.fileBlock
	atEnd := last == e.lastFileBlock()
	switch {
	case atStart && atEnd:
		e.unwritten = false
		return t.writeNode(leaf.loc, leaf.node)
	case atStart:
		// initialized head, unwritten tail
		return t.splitExtentAt(last+1, false, true)
	case atEnd:
		// unwritten head, initialized tail
		return t.splitExtentAt(start, true, false)
	default:
		// carve the middle out in two splits, tail boundary first so the
		// second split operates on an extent that still covers start
		if err = t.splitExtentAt(last+1, true, true); err != nil {
			return err
		}
		return t.splitExtentAt(start, true, false)
	}
}

// fallocate preallocate unwritten extents over a run of file blocks. Already
// mapped stretches are left alone. Punch-hole and zero-range modes are not
// implemented; keep-size controls whether the inode size grows to cover the
// run.
func (t *extentTree) fallocate(mode uint32, target, count uint32) error {
	if mode&^fallocFlagKeepSize != 0 {
		return fmt.Errorf("%w: fallocate mode %#x", ErrUnsupported, mode)
	}
	if count == 0 {
		return fmt.Errorf("%w: zero-length fallocate", ErrInvalidInput)
	}
	if target+count < target {
		return fmt.Errorf("%w: fallocate range overflows the file block space", ErrInvalidInput)
	}

	current := target
	remaining := count
	for remaining > 0 {
		path, pos, found, err := t.findExtent(current)
		if err != nil {
			return err
		}
		if found {
			e := &path[len(path)-1].node.extents[pos]
			covered := e.lastFileBlock() - current + 1
			if covered >= remaining {
				break
			}
			current += covered
			remaining -= covered
			continue
		}

		// bound the gap by the next mapped extent, then by the caps
		gap := remaining
		if next, ok := nextExtentStart(path, pos); ok && next-current < gap {
			gap = next - current
		}
		if gap > maxUnwrittenExtentLength {
			gap = maxUnwrittenExtentLength
		}
		block, got, err := t.fs.allocBlocks(t.allocationGoal(path, pos, current), gap)
		if err != nil {
			return err
		}
		if err = t.insertExtent(extent{fileBlock: current, startingBlock: block, count: got, unwritten: true}); err != nil {
			if freeErr := t.fs.freeBlocks(block, got); freeErr != nil {
				log.WithField("block", block).WithError(freeErr).Error("could not reclaim blocks after failed extent insert")
			}
			return err
		}
		t.inode.blocks += uint64(got) * t.sectorsPerBlock()
		current += got
		remaining -= got
	}

	if mode&fallocFlagKeepSize == 0 {
		if newSize := uint64(target+count) * uint64(t.fs.superblock.blockSize); newSize > t.inode.size {
			t.inode.size = newSize
		}
	}
	return nil
}

// nextExtentStart the file block of the first extent strictly after the leaf
// slot the path descended to, looking across leaf boundaries through the
// ancestor index keys
func nextExtentStart(path []treePathElem, pos int) (uint32, bool) {
	leaf := path[len(path)-1].node
	if pos+1 < len(leaf.extents) {
		return leaf.extents[pos+1].fileBlock, true
	}
	for i := len(path) - 2; i >= 0; i-- {
		elem := path[i]
		if elem.pos+1 < len(elem.node.indexes) {
			return elem.node.indexes[elem.pos+1].fileBlock, true
		}
	}
	return 0, false
}
