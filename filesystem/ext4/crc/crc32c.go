// Package crc implements the seeded CRC32c (Castagnoli) used throughout ext4
// metadata checksums.
package crc

import "hash/crc32"

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32c computes the CRC32c of b, continuing from the given seed. Checksums
// over several buffers chain by passing each result as the next seed.
func CRC32c(seed uint32, b []byte) uint32 {
	return crc32.Update(seed, castagnoliTable, b)
}
