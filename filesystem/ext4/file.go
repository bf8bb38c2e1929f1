package ext4

import (
	"time"
)

// fallocate mode flags accepted by File.Fallocate
const (
	FallocateKeepSize  = fallocFlagKeepSize
	FallocatePunchHole = fallocFlagPunchHole
	FallocateZeroRange = fallocFlagZeroRange
)

// File one open inode and its extent tree. All block mapping for the inode
// goes through here. A File is not safe for concurrent use.
type File struct {
	fs    *FileSystem
	inode *inode
}

// Extent one mapped run of the file, as reported to callers
type Extent struct {
	// Logical the first file block the run covers
	Logical uint32
	// Physical the first disk block backing the run
	Physical uint64
	// Count how many contiguous blocks the run covers
	Count uint32
	// Unwritten the run is preallocated; reads see zeroes until it is
	// converted
	Unwritten bool
}

// InodeNumber the number of the underlying inode
func (f *File) InodeNumber() uint32 {
	return f.inode.number
}

// Size the file size in bytes
func (f *File) Size() uint64 {
	return f.inode.size
}

// Blocks the 512-byte sectors charged to the inode, data and tree blocks both
func (f *File) Blocks() uint64 {
	return f.inode.blocks
}

func (f *File) tree() *extentTree {
	return &extentTree{fs: f.fs, inode: f.inode}
}

// commit persist the inode after a mutation; the extent tree blocks were
// already written through the block device
func (f *File) commit() error {
	now := time.Now()
	f.inode.changeTime = now
	f.inode.modifyTime = now
	return f.fs.writeInode(f.inode)
}

// InitTree reset the inode to an empty extent tree root. CreateInode already
// does this; it is only needed for an inode taken over from elsewhere. Any
// existing mapping is forgotten without freeing its blocks, so unmap with
// RemoveSpace first.
func (f *File) InitTree() error {
	initExtentTreeRoot(f.inode)
	return f.commit()
}

// MapBlock translate a file block to the disk block backing it. A hole
// returns found=false and no error.
func (f *File) MapBlock(fileBlock uint32) (physical uint64, found bool, err error) {
	return f.tree().lookup(fileBlock)
}

// GetBlocks map a run of file blocks, optionally allocating the first block
// of a hole. Returns the first disk block and how many file blocks from
// fileBlock onward it contiguously covers, at most count. With allocate set,
// a hole gets exactly one freshly allocated block; without it, a hole
// returns a zero count.
func (f *File) GetBlocks(fileBlock, count uint32, allocate bool) (physical uint64, mapped uint32, err error) {
	t := f.tree()
	physical, mapped, err = t.getBlocks(fileBlock, count, allocate)
	if err != nil || !allocate {
		return physical, mapped, err
	}
	return physical, mapped, f.commit()
}

// Fallocate preallocate disk space for a run of file blocks as unwritten
// extents. Stretches already mapped are left untouched. Only the keep-size
// flag is supported.
func (f *File) Fallocate(mode uint32, fileBlock, count uint32) error {
	if err := f.tree().fallocate(mode, fileBlock, count); err != nil {
		return err
	}
	return f.commit()
}

// IsUnwritten report whether the given file block is mapped but unwritten.
// An unmapped block is ErrNotFound.
func (f *File) IsUnwritten(fileBlock uint32) (bool, error) {
	return f.tree().isUnwritten(fileBlock)
}

// ConvertToInitialized mark count file blocks starting at fileBlock as
// written. The run must lie within a single unwritten extent.
func (f *File) ConvertToInitialized(fileBlock, count uint32) error {
	if err := f.tree().convertToInitialized(fileBlock, count); err != nil {
		return err
	}
	return f.commit()
}

// RemoveSpace unmap file blocks from through to, inclusive, and free their
// disk blocks. Holes within the range are skipped. Pass math.MaxUint32 as to
// for everything through end of file.
func (f *File) RemoveSpace(from, to uint32) error {
	if err := f.tree().removeSpace(from, to); err != nil {
		return err
	}
	return f.commit()
}

// Extents the file's mapped runs in file block order
func (f *File) Extents() ([]Extent, error) {
	var out []Extent
	err := f.tree().walkExtents(func(e extent) error {
		out = append(out, Extent{
			Logical:   e.fileBlock,
			Physical:  e.startingBlock,
			Count:     e.count,
			Unwritten: e.unwritten,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TreeDepth the current depth of the extent tree; zero means the root is the
// only node
func (f *File) TreeDepth() (uint16, error) {
	return f.tree().depth()
}

// CheckTree audit the extent tree for structural damage: ordering, overlap,
// dangling references and checksums. Checksums are verified strictly here
// regardless of how the filesystem was opened.
func (f *File) CheckTree() error {
	return f.tree().check()
}
