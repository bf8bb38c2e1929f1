package ext4

import (
	"errors"
	"testing"
)

func TestAllocBlock(t *testing.T) {
	fs := testFilesystem(t, 8<<20, nil)
	freeBefore := fs.FreeBlocks()

	block, err := fs.allocBlock(0)
	if err != nil {
		t.Fatalf("could not allocate block: %v", err)
	}
	if fs.FreeBlocks() != freeBefore-1 {
		t.Errorf("free block count not decremented: %d vs %d", fs.FreeBlocks(), freeBefore)
	}

	// the bitmap must show the block used
	group, index := fs.blockGroupAndIndex(block)
	gd := fs.groupDescriptors.descriptors[group]
	err = fs.device.readBlock(gd.blockBitmapBlock, func(b []byte) error {
		if b[index/8]&(1<<(index%8)) == 0 {
			t.Errorf("allocated block %d not marked in the bitmap", block)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("could not read block bitmap: %v", err)
	}
}

func TestAllocBlockGoal(t *testing.T) {
	fs := testFilesystem(t, 8<<20, nil)
	first, err := fs.allocBlock(0)
	if err != nil {
		t.Fatalf("could not allocate block: %v", err)
	}
	goal := first + 100
	block, err := fs.allocBlock(goal)
	if err != nil {
		t.Fatalf("could not allocate goal block: %v", err)
	}
	if block != goal {
		t.Errorf("expected the free goal block %d, got %d", goal, block)
	}
}

func TestAllocBlocksRun(t *testing.T) {
	fs := testFilesystem(t, 8<<20, nil)
	block, count, err := fs.allocBlocks(0, 16)
	if err != nil {
		t.Fatalf("could not allocate run: %v", err)
	}
	if count != 16 {
		t.Errorf("expected a 16 block run on an empty filesystem, got %d", count)
	}
	// the run is contiguous, so freeing it in one call must succeed
	if err = fs.freeBlocks(block, count); err != nil {
		t.Errorf("could not free the allocated run: %v", err)
	}
}

func TestAllocBlocksZero(t *testing.T) {
	fs := testFilesystem(t, 8<<20, nil)
	if _, _, err := fs.allocBlocks(0, 0); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestFreeBlockDoubleFree(t *testing.T) {
	fs := testFilesystem(t, 8<<20, nil)
	block, err := fs.allocBlock(0)
	if err != nil {
		t.Fatalf("could not allocate block: %v", err)
	}
	if err = fs.freeBlock(block); err != nil {
		t.Fatalf("could not free block: %v", err)
	}
	if err = fs.freeBlock(block); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput on double free, got %v", err)
	}
}

func TestFreeBlockOutOfRange(t *testing.T) {
	fs := testFilesystem(t, 8<<20, nil)
	if err := fs.freeBlock(fs.BlockCount()); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAllocFreeBalance(t *testing.T) {
	fs := testFilesystem(t, 8<<20, nil)
	freeBefore := fs.FreeBlocks()
	var blocks []uint64
	for i := 0; i < 20; i++ {
		block, err := fs.allocBlock(0)
		if err != nil {
			t.Fatalf("could not allocate block %d: %v", i, err)
		}
		blocks = append(blocks, block)
	}
	if fs.FreeBlocks() != freeBefore-20 {
		t.Errorf("expected %d free blocks, got %d", freeBefore-20, fs.FreeBlocks())
	}
	for _, block := range blocks {
		if err := fs.freeBlock(block); err != nil {
			t.Fatalf("could not free block %d: %v", block, err)
		}
	}
	if fs.FreeBlocks() != freeBefore {
		t.Errorf("expected free count restored to %d, got %d", freeBefore, fs.FreeBlocks())
	}
}

func TestAllocExhaustion(t *testing.T) {
	fs := testFilesystem(t, 1<<20, &Params{SectorsPerBlock: 2})
	for {
		if _, err := fs.allocBlock(0); err != nil {
			if !errors.Is(err, ErrNoSpace) {
				t.Fatalf("expected ErrNoSpace at exhaustion, got %v", err)
			}
			break
		}
	}
	if fs.FreeBlocks() != 0 {
		t.Errorf("expected zero free blocks at exhaustion, got %d", fs.FreeBlocks())
	}
}
