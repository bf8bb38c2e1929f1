package ext4

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/elliotwutingfeng/asciiset"
	"github.com/google/uuid"

	"github.com/diskfs/go-extfs/filesystem/ext4/crc"
)

const (
	superblockSignature uint16 = 0xef53
	superblockOffset    int64  = 1024
	superblockLength    int    = 1024

	fsStateCleanlyUnmounted uint16 = 1
	errorsContinue          uint16 = 1
	osLinux                 uint32 = 0

	// feature flags exercised by this subsystem
	featureIncompatExtents uint32 = 0x40
	featureIncompat64Bit   uint32 = 0x80
	featureROCompatMetadataChecksums uint32 = 0x400

	checksumTypeCRC32c uint8 = 1

	groupDescriptorSize      uint16 = 32
	groupDescriptorSize64Bit uint16 = 64

	maxVolumeLabelLength int = 16
)

// printableLabelChars the characters permitted in a volume label
var printableLabelChars, _ = asciiset.MakeASCIISet(" !\"#$%&'()*+,-./0123456789:;<=>?@ABCDEFGHIJKLMNOPQRSTUVWXYZ[\\]^_`abcdefghijklmnopqrstuvwxyz{|}~")

// superblock the parts of the ext4 superblock this subsystem exercises, held
// in memory in native types. Everything else in the 1024-byte area is
// preserved as zeroes.
type superblock struct {
	inodeCount            uint32
	blockCount            uint64
	reservedBlocks        uint64
	freeBlocks            uint64
	freeInodes            uint32
	firstDataBlock        uint32
	blockSize             uint32
	blocksPerGroup        uint32
	inodesPerGroup        uint32
	mountTime             time.Time
	writeTime             time.Time
	lastCheck             time.Time
	mkfsTime              time.Time
	firstNonReservedInode uint32
	inodeSize             uint16
	features64Bit         bool
	featureExtents        bool
	metadataChecksums     bool
	uuid                  *uuid.UUID
	volumeLabel           string
	groupDescriptorSize   uint16
	checksumSeed          uint32
	checksumType          uint8
}

// blockGroupCount how many block groups the filesystem has
func (sb *superblock) blockGroupCount() uint64 {
	return (sb.blockCount + uint64(sb.blocksPerGroup) - 1) / uint64(sb.blocksPerGroup)
}

// inodeTableBlocksPerGroup how many blocks each group's inode table occupies
func (sb *superblock) inodeTableBlocksPerGroup() uint64 {
	bytes := uint64(sb.inodesPerGroup) * uint64(sb.inodeSize)
	return (bytes + uint64(sb.blockSize) - 1) / uint64(sb.blockSize)
}

func (sb *superblock) equal(a *superblock) bool {
	if (sb == nil) != (a == nil) {
		return false
	}
	if sb == nil {
		return true
	}
	return *sb.uuid == *a.uuid && sb.blockCount == a.blockCount && sb.blockSize == a.blockSize &&
		sb.inodeCount == a.inodeCount && sb.volumeLabel == a.volumeLabel
}

// toBytes convert the superblock to its 1024 on-disk bytes
func (sb *superblock) toBytes() ([]byte, error) {
	if len(sb.volumeLabel) > maxVolumeLabelLength {
		return nil, fmt.Errorf("%w: volume label %q longer than %d bytes", ErrInvalidInput, sb.volumeLabel, maxVolumeLabelLength)
	}
	for i := 0; i < len(sb.volumeLabel); i++ {
		if !printableLabelChars.Contains(sb.volumeLabel[i]) {
			return nil, fmt.Errorf("%w: volume label %q contains non-printable character %#02x", ErrInvalidInput, sb.volumeLabel, sb.volumeLabel[i])
		}
	}
	logBlockSize, err := blockSizeToLog(sb.blockSize)
	if err != nil {
		return nil, err
	}

	b := make([]byte, superblockLength)
	binary.LittleEndian.PutUint32(b[0x0:0x4], sb.inodeCount)
	binary.LittleEndian.PutUint32(b[0x4:0x8], uint32(sb.blockCount))
	binary.LittleEndian.PutUint32(b[0x8:0xc], uint32(sb.reservedBlocks))
	binary.LittleEndian.PutUint32(b[0xc:0x10], uint32(sb.freeBlocks))
	binary.LittleEndian.PutUint32(b[0x10:0x14], sb.freeInodes)
	binary.LittleEndian.PutUint32(b[0x14:0x18], sb.firstDataBlock)
	binary.LittleEndian.PutUint32(b[0x18:0x1c], logBlockSize)
	binary.LittleEndian.PutUint32(b[0x1c:0x20], logBlockSize)
	binary.LittleEndian.PutUint32(b[0x20:0x24], sb.blocksPerGroup)
	binary.LittleEndian.PutUint32(b[0x24:0x28], sb.blocksPerGroup)
	binary.LittleEndian.PutUint32(b[0x28:0x2c], sb.inodesPerGroup)
	binary.LittleEndian.PutUint32(b[0x2c:0x30], uint32(sb.mountTime.Unix()))
	binary.LittleEndian.PutUint32(b[0x30:0x34], uint32(sb.writeTime.Unix()))
	binary.LittleEndian.PutUint16(b[0x36:0x38], 0xffff) // max mount count disabled
	binary.LittleEndian.PutUint16(b[0x38:0x3a], superblockSignature)
	binary.LittleEndian.PutUint16(b[0x3a:0x3c], fsStateCleanlyUnmounted)
	binary.LittleEndian.PutUint16(b[0x3c:0x3e], errorsContinue)
	binary.LittleEndian.PutUint32(b[0x40:0x44], uint32(sb.lastCheck.Unix()))
	binary.LittleEndian.PutUint32(b[0x48:0x4c], osLinux)
	binary.LittleEndian.PutUint32(b[0x4c:0x50], 1) // dynamic revision
	binary.LittleEndian.PutUint32(b[0x54:0x58], sb.firstNonReservedInode)
	binary.LittleEndian.PutUint16(b[0x58:0x5a], sb.inodeSize)

	var incompatFlags, roCompatFlags uint32
	if sb.featureExtents {
		incompatFlags |= featureIncompatExtents
	}
	if sb.features64Bit {
		incompatFlags |= featureIncompat64Bit
	}
	if sb.metadataChecksums {
		roCompatFlags |= featureROCompatMetadataChecksums
	}
	binary.LittleEndian.PutUint32(b[0x60:0x64], incompatFlags)
	binary.LittleEndian.PutUint32(b[0x64:0x68], roCompatFlags)

	copy(b[0x68:0x78], sb.uuid[:])
	copy(b[0x78:0x88], sb.volumeLabel)
	binary.LittleEndian.PutUint16(b[0xfe:0x100], sb.groupDescriptorSize)
	binary.LittleEndian.PutUint32(b[0x108:0x10c], uint32(sb.mkfsTime.Unix()))
	binary.LittleEndian.PutUint32(b[0x150:0x154], uint32(sb.blockCount>>32))
	binary.LittleEndian.PutUint32(b[0x154:0x158], uint32(sb.reservedBlocks>>32))
	binary.LittleEndian.PutUint32(b[0x158:0x15c], uint32(sb.freeBlocks>>32))
	b[0x175] = sb.checksumType

	if sb.metadataChecksums {
		binary.LittleEndian.PutUint32(b[0x3fc:0x400], superblockChecksum(b[:0x3fc]))
	}
	return b, nil
}

// superblockFromBytes interpret the 1024-byte superblock area
func superblockFromBytes(b []byte) (*superblock, error) {
	if len(b) < superblockLength {
		return nil, fmt.Errorf("%w: superblock requires %d bytes, have %d", ErrCorrupted, superblockLength, len(b))
	}
	if signature := binary.LittleEndian.Uint16(b[0x38:0x3a]); signature != superblockSignature {
		return nil, fmt.Errorf("%w: invalid superblock signature %#04x", ErrCorrupted, signature)
	}
	logBlockSize := binary.LittleEndian.Uint32(b[0x18:0x1c])
	if logBlockSize > 6 {
		return nil, fmt.Errorf("%w: invalid log block size %d", ErrCorrupted, logBlockSize)
	}

	fsuuid, err := uuid.FromBytes(b[0x68:0x78])
	if err != nil {
		return nil, fmt.Errorf("%w: could not read superblock UUID: %v", ErrCorrupted, err)
	}
	incompatFlags := binary.LittleEndian.Uint32(b[0x60:0x64])
	roCompatFlags := binary.LittleEndian.Uint32(b[0x64:0x68])

	sb := superblock{
		inodeCount:            binary.LittleEndian.Uint32(b[0x0:0x4]),
		blockCount:            uint64(binary.LittleEndian.Uint32(b[0x4:0x8])),
		reservedBlocks:        uint64(binary.LittleEndian.Uint32(b[0x8:0xc])),
		freeBlocks:            uint64(binary.LittleEndian.Uint32(b[0xc:0x10])),
		freeInodes:            binary.LittleEndian.Uint32(b[0x10:0x14]),
		firstDataBlock:        binary.LittleEndian.Uint32(b[0x14:0x18]),
		blockSize:             uint32(1024) << logBlockSize,
		blocksPerGroup:        binary.LittleEndian.Uint32(b[0x20:0x24]),
		inodesPerGroup:        binary.LittleEndian.Uint32(b[0x28:0x2c]),
		mountTime:             time.Unix(int64(binary.LittleEndian.Uint32(b[0x2c:0x30])), 0),
		writeTime:             time.Unix(int64(binary.LittleEndian.Uint32(b[0x30:0x34])), 0),
		lastCheck:             time.Unix(int64(binary.LittleEndian.Uint32(b[0x40:0x44])), 0),
		mkfsTime:              time.Unix(int64(binary.LittleEndian.Uint32(b[0x108:0x10c])), 0),
		firstNonReservedInode: binary.LittleEndian.Uint32(b[0x54:0x58]),
		inodeSize:             binary.LittleEndian.Uint16(b[0x58:0x5a]),
		featureExtents:        incompatFlags&featureIncompatExtents != 0,
		features64Bit:         incompatFlags&featureIncompat64Bit != 0,
		metadataChecksums:     roCompatFlags&featureROCompatMetadataChecksums != 0,
		uuid:                  &fsuuid,
		volumeLabel:           cstring(b[0x78:0x88]),
		groupDescriptorSize:   binary.LittleEndian.Uint16(b[0xfe:0x100]),
		checksumType:          b[0x175],
	}
	if sb.features64Bit {
		sb.blockCount |= uint64(binary.LittleEndian.Uint32(b[0x150:0x154])) << 32
		sb.reservedBlocks |= uint64(binary.LittleEndian.Uint32(b[0x154:0x158])) << 32
		sb.freeBlocks |= uint64(binary.LittleEndian.Uint32(b[0x158:0x15c])) << 32
	}
	if sb.groupDescriptorSize == 0 {
		sb.groupDescriptorSize = groupDescriptorSize
	}
	if sb.blocksPerGroup == 0 || sb.inodesPerGroup == 0 {
		return nil, fmt.Errorf("%w: superblock reports zero blocks or inodes per group", ErrCorrupted)
	}
	sb.checksumSeed = crcSeed(&fsuuid)

	if sb.metadataChecksums {
		// liberal on read: a bad superblock checksum is logged and tolerated
		stored := binary.LittleEndian.Uint32(b[0x3fc:0x400])
		if actual := superblockChecksum(b[:0x3fc]); actual != stored {
			log.WithField("stored", fmt.Sprintf("%#08x", stored)).
				WithField("actual", fmt.Sprintf("%#08x", actual)).
				Warn("superblock checksum mismatch, continuing with degraded read")
		}
	}
	return &sb, nil
}

// crcSeed the filesystem checksum seed
func crcSeed(fsuuid *uuid.UUID) uint32 {
	return crc.CRC32c(0, fsuuid[:]) // according to docs, this should be crc32c(~0, $orig_fs_uuid)
}

func blockSizeToLog(blockSize uint32) (uint32, error) {
	switch blockSize {
	case 1024:
		return 0, nil
	case 2048:
		return 1, nil
	case 4096:
		return 2, nil
	case 8192:
		return 3, nil
	case 16384:
		return 4, nil
	case 65536:
		return 6, nil
	default:
		return 0, fmt.Errorf("%w: unsupported block size %d", ErrInvalidInput, blockSize)
	}
}

// cstring interpret b as a NUL-terminated string
func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
