package ext4

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// iBlockLength the inode area that holds the extent tree root
	iBlockLength int = 60

	// inodeFlagExtents the inode maps its blocks with an extent tree
	inodeFlagExtents uint32 = 0x80000

	minInodeSize uint16 = 128

	// fixed inodes
	badBlocksInode        uint32 = 1
	rootInode             uint32 = 2
	journalInode          uint32 = 8
	firstNonReservedInode uint32 = 11 // traditional
)

// inode the parts of an on-disk inode this subsystem exercises
type inode struct {
	number     uint32
	mode       uint16
	uid        uint16
	gid        uint16
	size       uint64
	linkCount  uint16
	blocks     uint64 // in 512-byte sectors, metadata blocks included
	flags      uint32
	generation uint32 // NFS file version, feeds the extent node checksum
	accessTime time.Time
	changeTime time.Time
	modifyTime time.Time
	createTime time.Time
	extraSize  uint16
	iBlock     [iBlockLength]byte
}

// usesExtents whether the inode maps blocks through an extent tree
func (in *inode) usesExtents() bool {
	return in.flags&inodeFlagExtents != 0
}

// toBytes convert the inode to its on-disk bytes, inodeSize bytes long
func (in *inode) toBytes(inodeSize uint16) []byte {
	b := make([]byte, inodeSize)
	binary.LittleEndian.PutUint16(b[0x0:0x2], in.mode)
	binary.LittleEndian.PutUint16(b[0x2:0x4], in.uid)
	binary.LittleEndian.PutUint32(b[0x4:0x8], uint32(in.size))
	binary.LittleEndian.PutUint32(b[0x8:0xc], uint32(in.accessTime.Unix()))
	binary.LittleEndian.PutUint32(b[0xc:0x10], uint32(in.changeTime.Unix()))
	binary.LittleEndian.PutUint32(b[0x10:0x14], uint32(in.modifyTime.Unix()))
	binary.LittleEndian.PutUint16(b[0x18:0x1a], in.gid)
	binary.LittleEndian.PutUint16(b[0x1a:0x1c], in.linkCount)
	binary.LittleEndian.PutUint32(b[0x1c:0x20], uint32(in.blocks))
	binary.LittleEndian.PutUint32(b[0x20:0x24], in.flags)
	copy(b[0x28:0x28+iBlockLength], in.iBlock[:])
	binary.LittleEndian.PutUint32(b[0x64:0x68], in.generation)
	binary.LittleEndian.PutUint32(b[0x6c:0x70], uint32(in.size>>32))
	binary.LittleEndian.PutUint16(b[0x74:0x76], uint16(in.blocks>>32))
	if inodeSize > minInodeSize {
		binary.LittleEndian.PutUint16(b[0x80:0x82], in.extraSize)
		binary.LittleEndian.PutUint32(b[0x90:0x94], uint32(in.createTime.Unix()))
	}
	return b
}

// inodeFromBytes interpret an inode from its on-disk bytes
func inodeFromBytes(b []byte, number uint32) (*inode, error) {
	if len(b) < int(minInodeSize) {
		return nil, fmt.Errorf("%w: inode requires at least %d bytes, have %d", ErrCorrupted, minInodeSize, len(b))
	}
	in := inode{
		number:     number,
		mode:       binary.LittleEndian.Uint16(b[0x0:0x2]),
		uid:        binary.LittleEndian.Uint16(b[0x2:0x4]),
		size:       uint64(binary.LittleEndian.Uint32(b[0x4:0x8])) | uint64(binary.LittleEndian.Uint32(b[0x6c:0x70]))<<32,
		accessTime: time.Unix(int64(binary.LittleEndian.Uint32(b[0x8:0xc])), 0),
		changeTime: time.Unix(int64(binary.LittleEndian.Uint32(b[0xc:0x10])), 0),
		modifyTime: time.Unix(int64(binary.LittleEndian.Uint32(b[0x10:0x14])), 0),
		gid:        binary.LittleEndian.Uint16(b[0x18:0x1a]),
		linkCount:  binary.LittleEndian.Uint16(b[0x1a:0x1c]),
		blocks:     uint64(binary.LittleEndian.Uint32(b[0x1c:0x20])) | uint64(binary.LittleEndian.Uint16(b[0x74:0x76]))<<32,
		flags:      binary.LittleEndian.Uint32(b[0x20:0x24]),
		generation: binary.LittleEndian.Uint32(b[0x64:0x68]),
	}
	copy(in.iBlock[:], b[0x28:0x28+iBlockLength])
	if len(b) > int(minInodeSize) {
		in.extraSize = binary.LittleEndian.Uint16(b[0x80:0x82])
		in.createTime = time.Unix(int64(binary.LittleEndian.Uint32(b[0x90:0x94])), 0)
	}
	return &in, nil
}

// blockGroupForInode which block group the inode is in. Inode numbers are
// 1-based.
func blockGroupForInode(inodeNumber, inodesPerGroup uint32) uint32 {
	return (inodeNumber - 1) / inodesPerGroup
}

// blockGroupForBlock which block group the block is in
func blockGroupForBlock(block uint64, blocksPerGroup uint32) uint32 {
	return uint32(block / uint64(blocksPerGroup))
}
