package ext4

import (
	"fmt"

	"github.com/diskfs/go-extfs/util"
)

// Block allocation against the per-group block bitmaps. Every allocate and
// free updates the group descriptor and superblock free counters in the same
// call. Ordering contract with the extent tree: a block is allocated before
// any metadata references it, and freed before the metadata that referenced
// it is removed.

// allocBlock allocate a single block, preferring the goal block or the first
// free block after it. Goal 0 means no preference.
func (fs *FileSystem) allocBlock(goal uint64) (uint64, error) {
	block, count, err := fs.allocBlocks(goal, 1)
	if err != nil {
		return 0, err
	}
	if count != 1 {
		return 0, fmt.Errorf("%w: could not allocate a block", ErrNoSpace)
	}
	return block, nil
}

// allocBlocks allocate up to count contiguous blocks, preferring a run at or
// after the goal block. Returns the first block and how many were actually
// allocated, which may be fewer than requested but never zero without error.
func (fs *FileSystem) allocBlocks(goal uint64, count uint32) (uint64, uint32, error) {
	if count == 0 {
		return 0, 0, fmt.Errorf("%w: zero-length block allocation", ErrInvalidInput)
	}
	if goal >= fs.superblock.blockCount {
		goal = 0
	}

	startGroup := uint32(0)
	if goal > 0 {
		startGroup, _ = fs.blockGroupAndIndex(goal)
	}
	groups := uint32(len(fs.groupDescriptors.descriptors))

	// walk the groups starting at the goal's, wrapping around
	for i := uint32(0); i < groups; i++ {
		group := (startGroup + i) % groups
		gd := fs.groupDescriptors.descriptors[group]
		if gd.freeBlocks == 0 {
			continue
		}
		hint := 0
		if i == 0 && goal > 0 {
			_, indexInGroup := fs.blockGroupAndIndex(goal)
			hint = int(indexInGroup)
		}

		var (
			found int
			run   int
		)
		err := fs.device.modifyBlock(gd.blockBitmapBlock, func(b []byte) error {
			found, run = findClearRun(util.BitmapFromBytes(b), hint, int(count))
			if found < 0 {
				return nil
			}
			bm := util.BitmapFromBytes(b)
			for j := 0; j < run; j++ {
				if err := bm.Set(found + j); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return 0, 0, fmt.Errorf("could not update block bitmap for group %d: %w", group, err)
		}
		if found < 0 {
			continue
		}
		gd.freeBlocks -= uint32(run)
		fs.superblock.freeBlocks -= uint64(run)
		if err = fs.writeGroupDescriptor(gd); err != nil {
			return 0, 0, err
		}
		block := uint64(fs.superblock.firstDataBlock) + uint64(group)*uint64(fs.superblock.blocksPerGroup) + uint64(found)
		return block, uint32(run), nil
	}
	return 0, 0, fmt.Errorf("%w: no free blocks", ErrNoSpace)
}

// findClearRun the longest clear run up to max bits, first looking at and
// after hint, then from the start of the bitmap. Returns (-1, 0) if the
// bitmap is entirely set.
func findClearRun(bm *util.Bitmap, hint, max int) (start, length int) {
	for _, from := range []int{hint, 0} {
		bit := bm.FirstClear(from)
		if bit < 0 {
			continue
		}
		if run := bm.ClearRun(bit, max); run > 0 {
			return bit, run
		}
	}
	return -1, 0
}

// freeBlock release a single block back to the bitmap
func (fs *FileSystem) freeBlock(block uint64) error {
	return fs.freeBlocks(block, 1)
}

// freeBlocks release count contiguous blocks back to the bitmap. Freeing a
// block that already is free, or one outside the filesystem, is
// ErrInvalidInput.
func (fs *FileSystem) freeBlocks(block uint64, count uint32) error {
	if count == 0 {
		return fmt.Errorf("%w: zero-length block free", ErrInvalidInput)
	}
	if block < uint64(fs.superblock.firstDataBlock) || block+uint64(count) > fs.superblock.blockCount {
		return fmt.Errorf("%w: blocks %d-%d outside the filesystem", ErrInvalidInput, block, block+uint64(count)-1)
	}

	// the run may straddle a group boundary
	for count > 0 {
		group, indexInGroup := fs.blockGroupAndIndex(block)
		gd := fs.groupDescriptors.descriptors[group]
		inGroup := fs.superblock.blocksPerGroup - indexInGroup
		if inGroup > count {
			inGroup = count
		}
		err := fs.device.modifyBlock(gd.blockBitmapBlock, func(b []byte) error {
			bm := util.BitmapFromBytes(b)
			for j := uint32(0); j < inGroup; j++ {
				set, err := bm.IsSet(int(indexInGroup + j))
				if err != nil {
					return err
				}
				if !set {
					return fmt.Errorf("%w: block %d already free", ErrInvalidInput, block+uint64(j))
				}
				if err = bm.Clear(int(indexInGroup + j)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("could not update block bitmap for group %d: %w", group, err)
		}
		gd.freeBlocks += inGroup
		fs.superblock.freeBlocks += uint64(inGroup)
		if err = fs.writeGroupDescriptor(gd); err != nil {
			return err
		}
		block += uint64(inGroup)
		count -= inGroup
	}
	return nil
}
