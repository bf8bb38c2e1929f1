package ext4

import (
	"errors"
	"math"
	"testing"
)

func TestRemoveSpaceWholeExtent(t *testing.T) {
	fs, f := testFile(t)
	freeBefore := fs.FreeBlocks()
	if err := f.Fallocate(FallocateKeepSize, 0, 10); err != nil {
		t.Fatalf("could not preallocate: %v", err)
	}
	if err := f.RemoveSpace(0, 9); err != nil {
		t.Fatalf("could not remove: %v", err)
	}
	if fs.FreeBlocks() != freeBefore {
		t.Errorf("expected all blocks returned, free is %d not %d", fs.FreeBlocks(), freeBefore)
	}
	extents, err := f.Extents()
	if err != nil {
		t.Fatalf("could not list extents: %v", err)
	}
	if len(extents) != 0 {
		t.Errorf("expected no extents, got %+v", extents)
	}
	if f.Blocks() != 0 {
		t.Errorf("expected zero sectors charged, got %d", f.Blocks())
	}
}

func TestRemoveSpaceValidation(t *testing.T) {
	_, f := testFile(t)
	if err := f.RemoveSpace(10, 5); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for an inverted range, got %v", err)
	}
}

func TestRemoveSpaceIdempotent(t *testing.T) {
	_, f := testFile(t)
	if err := f.Fallocate(FallocateKeepSize, 0, 10); err != nil {
		t.Fatalf("could not preallocate: %v", err)
	}
	if err := f.RemoveSpace(0, 9); err != nil {
		t.Fatalf("could not remove: %v", err)
	}
	// removing an already removed range is a no-op, not an error
	if err := f.RemoveSpace(0, 9); err != nil {
		t.Errorf("second removal failed: %v", err)
	}
	// as is removing from a completely empty tree
	if err := f.RemoveSpace(100, math.MaxUint32); err != nil {
		t.Errorf("removal from empty tree failed: %v", err)
	}
}

func TestRemoveSpacePrefix(t *testing.T) {
	_, f := testFile(t)
	if err := f.Fallocate(FallocateKeepSize, 10, 10); err != nil {
		t.Fatalf("could not preallocate: %v", err)
	}
	before, err := f.Extents()
	if err != nil || len(before) != 1 {
		t.Fatalf("expected one extent, got %+v err %v", before, err)
	}
	if err = f.RemoveSpace(0, 13); err != nil {
		t.Fatalf("could not remove prefix: %v", err)
	}
	assertExtentStates(t, f, []Extent{{Logical: 14, Count: 6, Unwritten: true}})
	after, err := f.Extents()
	if err != nil {
		t.Fatalf("could not list extents: %v", err)
	}
	if after[0].Physical != before[0].Physical+4 {
		t.Errorf("expected physical %d after trim, got %d", before[0].Physical+4, after[0].Physical)
	}
}

func TestRemoveSpaceSuffix(t *testing.T) {
	_, f := testFile(t)
	if err := f.Fallocate(FallocateKeepSize, 10, 10); err != nil {
		t.Fatalf("could not preallocate: %v", err)
	}
	if err := f.RemoveSpace(16, math.MaxUint32); err != nil {
		t.Fatalf("could not remove suffix: %v", err)
	}
	assertExtentStates(t, f, []Extent{{Logical: 10, Count: 6, Unwritten: true}})
}

func TestRemoveSpaceInterior(t *testing.T) {
	fs, f := testFile(t)
	if err := f.Fallocate(FallocateKeepSize, 0, 20); err != nil {
		t.Fatalf("could not preallocate: %v", err)
	}
	freeBefore := fs.FreeBlocks()
	if err := f.RemoveSpace(5, 9); err != nil {
		t.Fatalf("could not punch interior: %v", err)
	}
	if fs.FreeBlocks() != freeBefore+5 {
		t.Errorf("expected 5 blocks returned, free went %d to %d", freeBefore, fs.FreeBlocks())
	}
	assertExtentStates(t, f, []Extent{
		{Logical: 0, Count: 5, Unwritten: true},
		{Logical: 10, Count: 10, Unwritten: true},
	})
	if err := f.CheckTree(); err != nil {
		t.Errorf("tree audit failed after interior removal: %v", err)
	}
}

func TestRemoveSpaceAcrossExtents(t *testing.T) {
	_, f := testFile(t)
	// three scattered extents, the removal clips the first, swallows the
	// second and leaves the third
	for _, fileBlock := range []uint32{0, 20, 40} {
		if err := f.Fallocate(FallocateKeepSize, fileBlock, 10); err != nil {
			t.Fatalf("could not preallocate at %d: %v", fileBlock, err)
		}
	}
	if err := f.RemoveSpace(5, 35); err != nil {
		t.Fatalf("could not remove: %v", err)
	}
	assertExtentStates(t, f, []Extent{
		{Logical: 0, Count: 5, Unwritten: true},
		{Logical: 40, Count: 10, Unwritten: true},
	})
}

// punching the middle of an extent in a leaf with no free slot has to reshape
// the tree first, then carry on with the removal
func TestRemoveSpaceInteriorOnFullLeaf(t *testing.T) {
	_, f := testFile(t)
	capacity := uint32(maxEntriesPerBlock(4096, true))
	// fill one leaf exactly to capacity with scattered 4-block runs
	for i := uint32(0); i < capacity; i++ {
		if err := f.Fallocate(FallocateKeepSize, i*8, 4); err != nil {
			t.Fatalf("could not preallocate run %d: %v", i, err)
		}
	}
	if depth, _ := f.TreeDepth(); depth != 1 {
		t.Fatalf("expected depth 1 for the filled leaf, got %d", depth)
	}

	// interior punch in the middle run needs one more entry than the leaf has
	target := (capacity / 2) * 8
	if err := f.RemoveSpace(target+1, target+2); err != nil {
		t.Fatalf("could not punch into the full leaf: %v", err)
	}
	for _, probe := range []struct {
		fileBlock uint32
		mapped    bool
	}{
		{target, true},
		{target + 1, false},
		{target + 2, false},
		{target + 3, true},
	} {
		_, found, err := f.MapBlock(probe.fileBlock)
		if err != nil {
			t.Fatalf("file block %d: %v", probe.fileBlock, err)
		}
		if found != probe.mapped {
			t.Errorf("file block %d: expected mapped %v, got %v", probe.fileBlock, probe.mapped, found)
		}
	}
	if err := f.CheckTree(); err != nil {
		t.Errorf("tree audit failed after punching a full leaf: %v", err)
	}
}

func TestRemoveSpaceUnwrittenAndInitialized(t *testing.T) {
	_, f := testFile(t)
	if err := f.Fallocate(FallocateKeepSize, 0, 10); err != nil {
		t.Fatalf("could not preallocate: %v", err)
	}
	if err := f.ConvertToInitialized(0, 5); err != nil {
		t.Fatalf("could not convert: %v", err)
	}
	if err := f.RemoveSpace(3, 6); err != nil {
		t.Fatalf("could not remove: %v", err)
	}
	assertExtentStates(t, f, []Extent{
		{Logical: 0, Count: 3, Unwritten: false},
		{Logical: 7, Count: 3, Unwritten: true},
	})
}
