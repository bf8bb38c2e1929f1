package ext4

import (
	"encoding/binary"
	"fmt"
)

// groupDescriptor a single 32-byte block group descriptor. The 64-bit upper
// halves of a 64-byte descriptor are not exercised by this subsystem.
type groupDescriptor struct {
	number           uint32
	blockBitmapBlock uint64
	inodeBitmapBlock uint64
	inodeTableBlock  uint64
	freeBlocks       uint32
	freeInodes       uint32
	usedDirectories  uint32
}

// groupDescriptors the full group descriptor table
type groupDescriptors struct {
	descriptors []*groupDescriptor
}

func (gds *groupDescriptors) equal(a *groupDescriptors) bool {
	if (gds == nil) != (a == nil) {
		return false
	}
	if gds == nil {
		return true
	}
	if len(gds.descriptors) != len(a.descriptors) {
		return false
	}
	for i, gd := range gds.descriptors {
		if *gd != *a.descriptors[i] {
			return false
		}
	}
	return true
}

// toBytes convert one descriptor to its on-disk bytes. When checksums are
// enabled, the descriptor checksum is the low 16 bits of CRC32c over the
// filesystem seed, the group number and the descriptor with a zeroed checksum
// field.
func (gd *groupDescriptor) toBytes(checksums bool, seed uint32) []byte {
	b := make([]byte, groupDescriptorSize)
	binary.LittleEndian.PutUint32(b[0x0:0x4], uint32(gd.blockBitmapBlock))
	binary.LittleEndian.PutUint32(b[0x4:0x8], uint32(gd.inodeBitmapBlock))
	binary.LittleEndian.PutUint32(b[0x8:0xc], uint32(gd.inodeTableBlock))
	binary.LittleEndian.PutUint16(b[0xc:0xe], uint16(gd.freeBlocks))
	binary.LittleEndian.PutUint16(b[0xe:0x10], uint16(gd.freeInodes))
	binary.LittleEndian.PutUint16(b[0x10:0x12], uint16(gd.usedDirectories))
	if checksums {
		binary.LittleEndian.PutUint16(b[0x1e:0x20], groupDescriptorChecksum(seed, gd.number, b))
	}
	return b
}

// groupDescriptorFromBytes interpret one descriptor from its on-disk bytes
func groupDescriptorFromBytes(b []byte, number uint32, checksums bool, seed uint32) (*groupDescriptor, error) {
	if len(b) < int(groupDescriptorSize) {
		return nil, fmt.Errorf("%w: group descriptor requires %d bytes, have %d", ErrCorrupted, groupDescriptorSize, len(b))
	}
	gd := groupDescriptor{
		number:           number,
		blockBitmapBlock: uint64(binary.LittleEndian.Uint32(b[0x0:0x4])),
		inodeBitmapBlock: uint64(binary.LittleEndian.Uint32(b[0x4:0x8])),
		inodeTableBlock:  uint64(binary.LittleEndian.Uint32(b[0x8:0xc])),
		freeBlocks:       uint32(binary.LittleEndian.Uint16(b[0xc:0xe])),
		freeInodes:       uint32(binary.LittleEndian.Uint16(b[0xe:0x10])),
		usedDirectories:  uint32(binary.LittleEndian.Uint16(b[0x10:0x12])),
	}
	if checksums {
		stored := binary.LittleEndian.Uint16(b[0x1e:0x20])
		scratch := make([]byte, len(b[:groupDescriptorSize]))
		copy(scratch, b)
		binary.LittleEndian.PutUint16(scratch[0x1e:0x20], 0)
		if actual := groupDescriptorChecksum(seed, number, scratch); actual != stored {
			log.WithField("group", number).Warn("group descriptor checksum mismatch, continuing with degraded read")
		}
	}
	return &gd, nil
}

// groupDescriptorsFromBytes interpret the whole descriptor table
func groupDescriptorsFromBytes(b []byte, descriptorSize uint16, count uint64, checksums bool, seed uint32) (*groupDescriptors, error) {
	if uint64(len(b)) < uint64(descriptorSize)*count {
		return nil, fmt.Errorf("%w: group descriptor table requires %d bytes, have %d", ErrCorrupted, uint64(descriptorSize)*count, len(b))
	}
	gds := groupDescriptors{descriptors: make([]*groupDescriptor, count)}
	for i := uint64(0); i < count; i++ {
		gd, err := groupDescriptorFromBytes(b[i*uint64(descriptorSize):], uint32(i), checksums, seed)
		if err != nil {
			return nil, fmt.Errorf("could not interpret group descriptor %d: %w", i, err)
		}
		gds.descriptors[i] = gd
	}
	return &gds, nil
}
