package ext4

import (
	"testing"
)

func TestExtentNodeChecksummer(t *testing.T) {
	b := []byte{0x0a, 0xf3, 0x01, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

	base := extentNodeChecksummer(0x1234, 11, 42)
	if got, again := base(b), base(b); got != again {
		t.Errorf("checksummer not deterministic: %#08x vs %#08x", got, again)
	}

	// the checksum covers the seed, the inode number and the generation, so
	// changing any of them must change the result
	variants := []struct {
		name string
		fn   checksummer
	}{
		{"different seed", extentNodeChecksummer(0x5678, 11, 42)},
		{"different inode", extentNodeChecksummer(0x1234, 12, 42)},
		{"different generation", extentNodeChecksummer(0x1234, 11, 43)},
	}
	want := base(b)
	for _, tt := range variants {
		if got := tt.fn(b); got == want {
			t.Errorf("%s produced the same checksum %#08x", tt.name, got)
		}
	}

	mutated := append([]byte{}, b...)
	mutated[2] ^= 0xff
	if base(mutated) == want {
		t.Errorf("mutated payload produced the same checksum")
	}
}

func TestGroupDescriptorChecksum(t *testing.T) {
	b := make([]byte, groupDescriptorSize)
	b[0] = 0x22
	sum := groupDescriptorChecksum(0x1234, 0, b)
	if other := groupDescriptorChecksum(0x1234, 1, b); other == sum {
		t.Errorf("different group numbers produced the same checksum %#04x", sum)
	}
	if again := groupDescriptorChecksum(0x1234, 0, b); again != sum {
		t.Errorf("checksum not deterministic: %#04x vs %#04x", sum, again)
	}
}
