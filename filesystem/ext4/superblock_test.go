package ext4

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testSuperblock() *superblock {
	fsuuid := uuid.MustParse("3d90f4d9-c6fc-4e22-88ad-df2005c22f49")
	now := time.Unix(1700000000, 0)
	return &superblock{
		inodeCount:            2048,
		blockCount:            8192,
		freeBlocks:            8000,
		freeInodes:            2038,
		blockSize:             4096,
		blocksPerGroup:        32768,
		inodesPerGroup:        2048,
		mountTime:             now,
		writeTime:             now,
		lastCheck:             now,
		mkfsTime:              now,
		firstNonReservedInode: firstNonReservedInode,
		inodeSize:             DefaultInodeSize,
		featureExtents:        true,
		metadataChecksums:     true,
		uuid:                  &fsuuid,
		volumeLabel:           "roundtrip",
		groupDescriptorSize:   groupDescriptorSize,
		checksumSeed:          crcSeed(&fsuuid),
		checksumType:          checksumTypeCRC32c,
	}
}

func TestSuperblockRoundTrip(t *testing.T) {
	sb := testSuperblock()
	b, err := sb.toBytes()
	if err != nil {
		t.Fatalf("unexpected error converting superblock to bytes: %v", err)
	}
	out, err := superblockFromBytes(b)
	if err != nil {
		t.Fatalf("unexpected error interpreting superblock: %v", err)
	}
	if !out.equal(sb) {
		t.Errorf("mismatched superblock after round trip:\n%+v\n%+v", out, sb)
	}
	if out.blockSize != sb.blockSize || out.inodesPerGroup != sb.inodesPerGroup {
		t.Errorf("mismatched geometry: blockSize %d vs %d, inodesPerGroup %d vs %d", out.blockSize, sb.blockSize, out.inodesPerGroup, sb.inodesPerGroup)
	}
	if !out.featureExtents || !out.metadataChecksums {
		t.Errorf("lost feature flags: extents %v checksums %v", out.featureExtents, out.metadataChecksums)
	}
	if out.checksumSeed != sb.checksumSeed {
		t.Errorf("mismatched checksum seed %#08x vs %#08x", out.checksumSeed, sb.checksumSeed)
	}
}

func TestSuperblockFromBytesBadSignature(t *testing.T) {
	sb := testSuperblock()
	b, err := sb.toBytes()
	if err != nil {
		t.Fatalf("unexpected error converting superblock to bytes: %v", err)
	}
	b[0x38] = 0
	if _, err = superblockFromBytes(b); !errors.Is(err, ErrCorrupted) {
		t.Errorf("expected ErrCorrupted, got %v", err)
	}
}

func TestSuperblockLabelValidation(t *testing.T) {
	tests := []struct {
		label string
		valid bool
	}{
		{"extfs", true},
		{"with space", true},
		{"", true},
		{"seventeen-chars-x", false},
		{"bad\x01label", false},
	}
	for _, tt := range tests {
		sb := testSuperblock()
		sb.volumeLabel = tt.label
		_, err := sb.toBytes()
		if tt.valid && err != nil {
			t.Errorf("label %q: unexpected error %v", tt.label, err)
		}
		if !tt.valid && !errors.Is(err, ErrInvalidInput) {
			t.Errorf("label %q: expected ErrInvalidInput, got %v", tt.label, err)
		}
	}
}

func TestGroupDescriptorRoundTrip(t *testing.T) {
	gd := &groupDescriptor{
		number:           3,
		blockBitmapBlock: 100,
		inodeBitmapBlock: 101,
		inodeTableBlock:  102,
		freeBlocks:       500,
		freeInodes:       200,
		usedDirectories:  7,
	}
	b := gd.toBytes(true, 0xdeadbeef)
	out, err := groupDescriptorFromBytes(b, 3, true, 0xdeadbeef)
	if err != nil {
		t.Fatalf("unexpected error interpreting group descriptor: %v", err)
	}
	if *out != *gd {
		t.Errorf("mismatched group descriptor after round trip:\n%+v\n%+v", out, gd)
	}
}
