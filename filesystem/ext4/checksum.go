package ext4

import (
	"encoding/binary"

	"github.com/diskfs/go-extfs/filesystem/ext4/crc"
)

// checksummer is a function that computes the checksum of a metadata block
type checksummer func(b []byte) uint32

// extentNodeChecksummer returns a checksummer for the extent tree nodes of one
// inode. The tag is CRC32c seeded with the filesystem checksum seed, then the
// owning inode number, then the inode generation, then the node bytes up to
// but excluding the checksum tail.
// Calculations follow e2fsprogs https://git.kernel.org/pub/scm/fs/ext2/e2fsprogs.git/tree/lib/ext2fs/csum.c
// and the linux tree https://github.com/torvalds/linux/blob/master/fs/ext4/extents.c
func extentNodeChecksummer(seed, inodeNumber, inodeGeneration uint32) checksummer {
	return func(b []byte) uint32 {
		numBytes := make([]byte, 4)
		binary.LittleEndian.PutUint32(numBytes, inodeNumber)
		crcResult := crc.CRC32c(seed, numBytes)
		genBytes := make([]byte, 4)
		binary.LittleEndian.PutUint32(genBytes, inodeGeneration)
		crcResult = crc.CRC32c(crcResult, genBytes)
		return crc.CRC32c(crcResult, b)
	}
}

// superblockChecksum the checksum of the superblock bytes up to but excluding
// the checksum field itself, seeded with all ones
func superblockChecksum(b []byte) uint32 {
	return crc.CRC32c(0xffffffff, b)
}

// groupDescriptorChecksum the low 16 bits of the CRC32c over the filesystem
// seed, the group number, and the descriptor bytes with its checksum field
// zeroed
func groupDescriptorChecksum(seed uint32, groupNumber uint32, b []byte) uint16 {
	numBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(numBytes, groupNumber)
	crcResult := crc.CRC32c(seed, numBytes)
	crcResult = crc.CRC32c(crcResult, b)
	return uint16(crcResult & 0xffff)
}
