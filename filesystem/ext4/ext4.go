package ext4

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/diskfs/go-extfs/util"
)

const (
	// SectorSize512 the logical sector size for all ext4 filesystems
	SectorSize512 int64 = 512
	// Ext4MinSize the smallest filesystem this package will create or mount
	Ext4MinSize int64 = 1 << 20

	// DefaultInodeRatio one inode per this many bytes of filesystem
	DefaultInodeRatio int64 = 8192
	// DefaultInodeSize bytes per inode record
	DefaultInodeSize uint16 = 256
	// DefaultVolumeName the label used when none is given
	DefaultVolumeName = "extfs"
)

// Params control filesystem creation. The zero value is usable.
type Params struct {
	// UUID for the filesystem; random if nil
	UUID *uuid.UUID
	// SectorsPerBlock 512-byte sectors per block, between 2 and 128; default 8,
	// i.e. 4096-byte blocks
	SectorsPerBlock uint8
	// InodeRatio bytes of filesystem per inode; default DefaultInodeRatio
	InodeRatio int64
	// NoMetadataChecksums disable the metadata_csum feature
	NoMetadataChecksums bool
	// StrictChecksums treat a checksum mismatch on read as corruption instead
	// of a logged, degraded read
	StrictChecksums bool
	// VolumeName the label; default DefaultVolumeName
	VolumeName string
	// CacheBlocks how many blocks the write-back cache holds; default 128
	CacheBlocks int
}

// FileSystem a single exclusive handle onto an ext4 filesystem. No two
// operations against the same FileSystem may overlap; the package does no
// internal locking. Callers needing timeouts or cancellation wrap calls
// externally.
type FileSystem struct {
	superblock       *superblock
	groupDescriptors *groupDescriptors
	blockGroups      int64
	size             int64
	start            int64
	file             util.File
	device           *blockDevice
	strictChecksums  bool
}

// Equal compare if two filesystems are equal
func (fs *FileSystem) Equal(a *FileSystem) bool {
	localMatch := fs.file == a.file
	sbMatch := fs.superblock.equal(a.superblock)
	gdMatch := fs.groupDescriptors.equal(a.groupDescriptors)
	return localMatch && sbMatch && gdMatch
}

// Create creates an ext4 filesystem in a given file or device.
//
// Requires the util.File where to create the filesystem, size is the size of
// the filesystem in bytes, and start is how far in bytes from the beginning
// of the util.File to create it.
//
// Note that you are *not* required to create the filesystem on the entire
// disk. You could have a disk of size 20GB, and create a small filesystem of
// size 50MB that begins 2GB into the disk, which is extremely useful for
// creating filesystems on disk partitions.
func Create(f util.File, size, start int64, p *Params) (*FileSystem, error) {
	// be safe about the params pointer
	if p == nil {
		p = &Params{}
	}
	if size < Ext4MinSize {
		return nil, fmt.Errorf("%w: requested size %d is smaller than minimum allowed ext4 size %d", ErrInvalidInput, size, Ext4MinSize)
	}

	sectorsPerBlock := p.SectorsPerBlock
	switch {
	case sectorsPerBlock == 0:
		sectorsPerBlock = 8
	case sectorsPerBlock > 128 || sectorsPerBlock < 2:
		return nil, fmt.Errorf("%w: invalid sectors per block %d, must be between %d and %d sectors", ErrInvalidInput, sectorsPerBlock, 2, 128)
	}
	blocksize := uint32(sectorsPerBlock) * uint32(SectorSize512)
	if _, err := blockSizeToLog(blocksize); err != nil {
		return nil, err
	}

	fsuuid := p.UUID
	if fsuuid == nil {
		fsuuid2, _ := uuid.NewRandom()
		fsuuid = &fsuuid2
	}

	volumeName := p.VolumeName
	if volumeName == "" {
		volumeName = DefaultVolumeName
	}

	numblocks := uint64(size) / uint64(blocksize)
	// the 32-bit counters in the superblock and extent indexes bound what this
	// package creates; filesystems past that need the 64bit feature, which is
	// honored on read but not written
	if numblocks > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d blocks of %d bytes exceed the 32-bit block count, use a larger block size or a smaller filesystem", ErrInvalidInput, numblocks, blocksize)
	}
	// one block bitmap block covers blocksize*8 blocks
	blocksPerGroup := blocksize * 8
	blockGroups := (numblocks + uint64(blocksPerGroup) - 1) / uint64(blocksPerGroup)

	var firstDataBlock uint32
	if blocksize == 1024 {
		firstDataBlock = 1
	}

	// use our inode ratio to determine how many inodes we should have
	inodeRatio := p.InodeRatio
	if inodeRatio <= 0 {
		inodeRatio = DefaultInodeRatio
	}
	if inodeRatio < int64(blocksize) {
		inodeRatio = int64(blocksize)
	}
	inodesPerGroup := uint32((int64(numblocks) * int64(blocksize) / inodeRatio) / int64(blockGroups))
	// fill whole bitmap bytes
	inodesPerGroup = (inodesPerGroup + 7) &^ 7
	if inodesPerGroup < 16 {
		inodesPerGroup = 16
	}
	if inodesPerGroup > blocksPerGroup {
		inodesPerGroup = blocksPerGroup
	}
	inodeCount := inodesPerGroup * uint32(blockGroups)

	now := time.Now()
	sb := superblock{
		inodeCount:            inodeCount,
		blockCount:            numblocks,
		freeInodes:            inodeCount - (firstNonReservedInode - 1),
		firstDataBlock:        firstDataBlock,
		blockSize:             blocksize,
		blocksPerGroup:        blocksPerGroup,
		inodesPerGroup:        inodesPerGroup,
		mountTime:             now,
		writeTime:             now,
		lastCheck:             now,
		mkfsTime:              now,
		firstNonReservedInode: firstNonReservedInode,
		inodeSize:             DefaultInodeSize,
		featureExtents:        true,
		metadataChecksums:     !p.NoMetadataChecksums,
		uuid:                  fsuuid,
		volumeLabel:           volumeName,
		groupDescriptorSize:   groupDescriptorSize,
		checksumSeed:          crcSeed(fsuuid),
		checksumType:          checksumTypeCRC32c,
	}

	device, err := newBlockDevice(f, start, blocksize, numblocks, p.CacheBlocks)
	if err != nil {
		return nil, err
	}

	fs := &FileSystem{
		superblock:       &sb,
		groupDescriptors: &groupDescriptors{},
		blockGroups:      int64(blockGroups),
		size:             size,
		start:            start,
		file:             f,
		device:           device,
		strictChecksums:  p.StrictChecksums,
	}

	gdtBlocks := (uint64(blockGroups)*uint64(groupDescriptorSize) + uint64(blocksize) - 1) / uint64(blocksize)
	inodeTableBlocks := sb.inodeTableBlocksPerGroup()

	// lay out each block group: block bitmap, inode bitmap and inode table at
	// the front; group 0 additionally reserves the boot area, the superblock
	// and the GDT before them
	for g := uint64(0); g < blockGroups; g++ {
		groupStart := uint64(firstDataBlock) + g*uint64(blocksPerGroup)
		meta := groupStart
		if g == 0 {
			meta = uint64(firstDataBlock) + 1 + gdtBlocks
		}
		gd := &groupDescriptor{
			number:           uint32(g),
			blockBitmapBlock: meta,
			inodeBitmapBlock: meta + 1,
			inodeTableBlock:  meta + 2,
		}
		fs.groupDescriptors.descriptors = append(fs.groupDescriptors.descriptors, gd)

		groupBlocks := uint64(blocksPerGroup)
		if groupStart+groupBlocks > numblocks {
			groupBlocks = numblocks - groupStart
		}
		dataStart := gd.inodeTableBlock + inodeTableBlocks
		usedInGroup := dataStart - groupStart
		if usedInGroup > groupBlocks {
			return nil, fmt.Errorf("%w: filesystem too small for the metadata of block group %d", ErrInvalidInput, g)
		}
		gd.freeBlocks = uint32(groupBlocks - usedInGroup)
		gd.freeInodes = inodesPerGroup
		sb.freeBlocks += uint64(gd.freeBlocks)

		// block bitmap: metadata blocks used, and bits past the end of the
		// filesystem permanently used
		err = device.modifyBlock(gd.blockBitmapBlock, func(b []byte) error {
			for i := range b {
				b[i] = 0
			}
			bm := util.BitmapFromBytes(b)
			for i := uint64(0); i < usedInGroup; i++ {
				if err := bm.Set(int(i)); err != nil {
					return err
				}
			}
			for i := groupBlocks; i < uint64(blocksPerGroup); i++ {
				if err := bm.Set(int(i)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("could not initialize block bitmap for group %d: %w", g, err)
		}

		// inode bitmap: reserved inodes used in group 0, bits past
		// inodesPerGroup permanently used
		err = device.modifyBlock(gd.inodeBitmapBlock, func(b []byte) error {
			for i := range b {
				b[i] = 0
			}
			bm := util.BitmapFromBytes(b)
			if g == 0 {
				for i := uint32(0); i < firstNonReservedInode-1; i++ {
					if err := bm.Set(int(i)); err != nil {
						return err
					}
				}
			}
			for i := inodesPerGroup; i < uint32(len(b)*8); i++ {
				if err := bm.Set(int(i)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("could not initialize inode bitmap for group %d: %w", g, err)
		}
		if g == 0 {
			gd.freeInodes -= firstNonReservedInode - 1
		}

		for i := uint64(0); i < inodeTableBlocks; i++ {
			if err = device.zeroBlock(gd.inodeTableBlock + i); err != nil {
				return nil, fmt.Errorf("could not zero inode table for group %d: %w", g, err)
			}
		}
	}

	if err = fs.writeSuperblock(); err != nil {
		return nil, err
	}
	if err = fs.writeGroupDescriptorTable(); err != nil {
		return nil, err
	}
	if err = device.flush(); err != nil {
		return nil, fmt.Errorf("could not flush block cache: %w", err)
	}
	return fs, nil
}

// Read reads an existing ext4 filesystem from a given disk.
//
// Requires the util.File where to read the filesystem, size is the size of
// the filesystem in bytes, and start is how far in bytes from the beginning
// of the util.File the filesystem is expected to begin.
func Read(file util.File, size, start int64, p *Params) (*FileSystem, error) {
	if p == nil {
		p = &Params{}
	}
	if size < Ext4MinSize {
		return nil, fmt.Errorf("%w: requested size is smaller than minimum allowed ext4 size %d", ErrInvalidInput, Ext4MinSize)
	}

	superblockBytes := make([]byte, superblockLength)
	n, err := file.ReadAt(superblockBytes, start+superblockOffset)
	if err != nil {
		return nil, fmt.Errorf("could not read superblock bytes from file: %v", err)
	}
	if n < superblockLength {
		return nil, fmt.Errorf("only could read %d superblock bytes from file", n)
	}
	sb, err := superblockFromBytes(superblockBytes)
	if err != nil {
		return nil, fmt.Errorf("could not interpret superblock data: %w", err)
	}
	if !sb.featureExtents {
		return nil, fmt.Errorf("%w: filesystem does not have the extents feature", ErrUnsupported)
	}

	gdtSize := uint64(sb.groupDescriptorSize) * sb.blockGroupCount()
	gdtBytes := make([]byte, gdtSize)
	n, err = file.ReadAt(gdtBytes, start+gdtByteLocation(sb))
	if err != nil {
		return nil, fmt.Errorf("could not read group descriptor table bytes from file: %v", err)
	}
	if uint64(n) < gdtSize {
		return nil, fmt.Errorf("only could read %d group descriptor table bytes from file instead of %d", n, gdtSize)
	}
	gdt, err := groupDescriptorsFromBytes(gdtBytes, sb.groupDescriptorSize, sb.blockGroupCount(), sb.metadataChecksums, sb.checksumSeed)
	if err != nil {
		return nil, fmt.Errorf("could not interpret group descriptor table data: %w", err)
	}

	device, err := newBlockDevice(file, start, sb.blockSize, sb.blockCount, p.CacheBlocks)
	if err != nil {
		return nil, err
	}
	return &FileSystem{
		superblock:       sb,
		groupDescriptors: gdt,
		blockGroups:      int64(sb.blockGroupCount()),
		size:             size,
		start:            start,
		file:             file,
		device:           device,
		strictChecksums:  p.StrictChecksums,
	}, nil
}

// gdtByteLocation where the group descriptor table begins: the block after
// the one holding the superblock. For 1024-byte blocks the boot area is block
// 0 and the superblock block 1, so the GDT starts at block 2; for larger
// blocks both share block 0 and the GDT starts at block 1.
func gdtByteLocation(sb *superblock) int64 {
	return int64(sb.firstDataBlock+1) * int64(sb.blockSize)
}

// Label read the volume label
func (fs *FileSystem) Label() string {
	if fs.superblock == nil {
		return ""
	}
	return fs.superblock.volumeLabel
}

// SetLabel changes the label on the writable filesystem
func (fs *FileSystem) SetLabel(label string) error {
	fs.superblock.volumeLabel = label
	return fs.writeSuperblock()
}

// UUID the filesystem UUID
func (fs *FileSystem) UUID() uuid.UUID {
	return *fs.superblock.uuid
}

// BlockSize bytes per block
func (fs *FileSystem) BlockSize() uint32 {
	return fs.superblock.blockSize
}

// BlockCount total blocks in the filesystem
func (fs *FileSystem) BlockCount() uint64 {
	return fs.superblock.blockCount
}

// FreeBlocks free blocks remaining
func (fs *FileSystem) FreeBlocks() uint64 {
	return fs.superblock.freeBlocks
}

// InodeCount total inodes in the filesystem
func (fs *FileSystem) InodeCount() uint32 {
	return fs.superblock.inodeCount
}

// FreeInodes free inodes remaining
func (fs *FileSystem) FreeInodes() uint32 {
	return fs.superblock.freeInodes
}

// BlockGroups how many block groups the filesystem has
func (fs *FileSystem) BlockGroups() int64 {
	return fs.blockGroups
}

// MetadataChecksums whether the metadata_csum feature is enabled
func (fs *FileSystem) MetadataChecksums() bool {
	return fs.superblock.metadataChecksums
}

// Flush write all cached state back to the file: dirty blocks, the superblock
// and the group descriptor table
func (fs *FileSystem) Flush() error {
	if err := fs.device.flush(); err != nil {
		return fmt.Errorf("could not flush block cache: %w", err)
	}
	if err := fs.writeSuperblock(); err != nil {
		return err
	}
	return fs.writeGroupDescriptorTable()
}

func (fs *FileSystem) writeSuperblock() error {
	fs.superblock.writeTime = time.Now()
	b, err := fs.superblock.toBytes()
	if err != nil {
		return fmt.Errorf("error converting superblock to bytes: %w", err)
	}
	if _, err = fs.file.WriteAt(b, fs.start+superblockOffset); err != nil {
		return fmt.Errorf("could not write superblock to file: %v", err)
	}
	return nil
}

func (fs *FileSystem) writeGroupDescriptorTable() error {
	for _, gd := range fs.groupDescriptors.descriptors {
		if err := fs.writeGroupDescriptor(gd); err != nil {
			return err
		}
	}
	return nil
}

func (fs *FileSystem) writeGroupDescriptor(gd *groupDescriptor) error {
	b := gd.toBytes(fs.superblock.metadataChecksums, fs.superblock.checksumSeed)
	offset := fs.start + gdtByteLocation(fs.superblock) + int64(gd.number)*int64(fs.superblock.groupDescriptorSize)
	if _, err := fs.file.WriteAt(b, offset); err != nil {
		return fmt.Errorf("could not write group descriptor %d to file: %v", gd.number, err)
	}
	return nil
}

// blockGroupAndIndex which group a block belongs to and its bit position in
// that group's block bitmap
func (fs *FileSystem) blockGroupAndIndex(block uint64) (group uint32, indexInGroup uint32) {
	relative := block - uint64(fs.superblock.firstDataBlock)
	return uint32(relative / uint64(fs.superblock.blocksPerGroup)), uint32(relative % uint64(fs.superblock.blocksPerGroup))
}

// inodeByteLocation where an inode's bytes live: the block holding it and the
// byte offset within that block. The block size always is a multiple of the
// inode size, so an inode never straddles two blocks.
func (fs *FileSystem) inodeByteLocation(inodeNumber uint32) (block uint64, offset uint32, err error) {
	if inodeNumber == 0 || inodeNumber > fs.superblock.inodeCount {
		return 0, 0, fmt.Errorf("%w: inode %d out of range", ErrInvalidInput, inodeNumber)
	}
	bg := blockGroupForInode(inodeNumber, fs.superblock.inodesPerGroup)
	gd := fs.groupDescriptors.descriptors[bg]
	index := (inodeNumber - 1) % fs.superblock.inodesPerGroup
	byteOffset := uint64(index) * uint64(fs.superblock.inodeSize)
	return gd.inodeTableBlock + byteOffset/uint64(fs.superblock.blockSize), uint32(byteOffset % uint64(fs.superblock.blockSize)), nil
}

// readInode read a single inode from disk
func (fs *FileSystem) readInode(inodeNumber uint32) (*inode, error) {
	block, offset, err := fs.inodeByteLocation(inodeNumber)
	if err != nil {
		return nil, err
	}
	var in *inode
	err = fs.device.readBlock(block, func(b []byte) error {
		in, err = inodeFromBytes(b[offset:offset+uint32(fs.superblock.inodeSize)], inodeNumber)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read inode %d: %w", inodeNumber, err)
	}
	return in, nil
}

// writeInode write a single inode to disk
func (fs *FileSystem) writeInode(in *inode) error {
	block, offset, err := fs.inodeByteLocation(in.number)
	if err != nil {
		return err
	}
	err = fs.device.modifyBlock(block, func(b []byte) error {
		copy(b[offset:offset+uint32(fs.superblock.inodeSize)], in.toBytes(fs.superblock.inodeSize))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write inode %d: %w", in.number, err)
	}
	return nil
}

// OpenInode open an existing inode by number
func (fs *FileSystem) OpenInode(inodeNumber uint32) (*File, error) {
	in, err := fs.readInode(inodeNumber)
	if err != nil {
		return nil, err
	}
	if in.linkCount == 0 {
		return nil, fmt.Errorf("%w: inode %d is not in use", ErrNotFound, inodeNumber)
	}
	if !in.usesExtents() {
		return nil, fmt.Errorf("%w: inode %d does not map blocks with extents", ErrUnsupported, inodeNumber)
	}
	return &File{fs: fs, inode: in}, nil
}

// CreateInode allocate a fresh inode with an initialized, empty extent tree
func (fs *FileSystem) CreateInode() (*File, error) {
	number, err := fs.allocInode()
	if err != nil {
		return nil, err
	}
	generation, _ := uuid.NewRandom()
	now := time.Now()
	in := &inode{
		number:     number,
		mode:       0o644,
		linkCount:  1,
		flags:      inodeFlagExtents,
		generation: binary.LittleEndian.Uint32(generation[:4]),
		accessTime: now,
		changeTime: now,
		modifyTime: now,
		createTime: now,
		extraSize:  32,
	}
	initExtentTreeRoot(in)
	if err = fs.writeInode(in); err != nil {
		return nil, err
	}
	return &File{fs: fs, inode: in}, nil
}

// allocInode find and claim a free inode number
func (fs *FileSystem) allocInode() (uint32, error) {
	for _, gd := range fs.groupDescriptors.descriptors {
		if gd.freeInodes == 0 {
			continue
		}
		found := -1
		err := fs.device.modifyBlock(gd.inodeBitmapBlock, func(b []byte) error {
			bm := util.BitmapFromBytes(b)
			bit := bm.FirstClear(0)
			if bit < 0 || uint32(bit) >= fs.superblock.inodesPerGroup {
				return nil
			}
			if err := bm.Set(bit); err != nil {
				return err
			}
			found = bit
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("could not update inode bitmap for group %d: %w", gd.number, err)
		}
		if found < 0 {
			continue
		}
		gd.freeInodes--
		fs.superblock.freeInodes--
		if err = fs.writeGroupDescriptor(gd); err != nil {
			return 0, err
		}
		return gd.number*fs.superblock.inodesPerGroup + uint32(found) + 1, nil
	}
	return 0, fmt.Errorf("%w: no free inodes", ErrNoSpace)
}
