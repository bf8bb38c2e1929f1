package util

import "fmt"

// Bitmap represents a bitmap, e.g. the block or inode bitmap of a block group.
// Bit 0 is the lowest bit of the first byte.
type Bitmap struct {
	bits []byte
}

// NewBitmap creates a bitmap covering size bits, all clear.
func NewBitmap(size int) *Bitmap {
	return &Bitmap{bits: make([]byte, (size+7)/8)}
}

// BitmapFromBytes creates a bitmap over the given bytes. The slice is used
// directly, not copied.
func BitmapFromBytes(b []byte) *Bitmap {
	return &Bitmap{bits: b}
}

// ToBytes the underlying bytes of the bitmap.
func (bm *Bitmap) ToBytes() []byte {
	return bm.bits
}

// Len how many bits are in the bitmap.
func (bm *Bitmap) Len() int {
	return len(bm.bits) * 8
}

// IsSet whether the bit at location is set. Error if out of range.
func (bm *Bitmap) IsSet(location int) (bool, error) {
	byteNum, bitNum := findBitForIndex(location)
	if byteNum < 0 || byteNum >= len(bm.bits) {
		return false, fmt.Errorf("location %d out of range for bitmap of %d bits", location, bm.Len())
	}
	return bm.bits[byteNum]&(1<<bitNum) != 0, nil
}

// Set the bit at location.
func (bm *Bitmap) Set(location int) error {
	byteNum, bitNum := findBitForIndex(location)
	if byteNum < 0 || byteNum >= len(bm.bits) {
		return fmt.Errorf("location %d out of range for bitmap of %d bits", location, bm.Len())
	}
	bm.bits[byteNum] |= 1 << bitNum
	return nil
}

// Clear the bit at location.
func (bm *Bitmap) Clear(location int) error {
	byteNum, bitNum := findBitForIndex(location)
	if byteNum < 0 || byteNum >= len(bm.bits) {
		return fmt.Errorf("location %d out of range for bitmap of %d bits", location, bm.Len())
	}
	bm.bits[byteNum] &^= 1 << bitNum
	return nil
}

// FirstClear the first clear bit at or after start, or -1 if none.
func (bm *Bitmap) FirstClear(start int) int {
	if start < 0 {
		start = 0
	}
	for i := start; i < bm.Len(); i++ {
		byteNum, bitNum := findBitForIndex(i)
		if bm.bits[byteNum]&(1<<bitNum) == 0 {
			return i
		}
	}
	return -1
}

// ClearRun the length of the run of clear bits beginning at start, up to max.
func (bm *Bitmap) ClearRun(start, max int) int {
	var count int
	for i := start; i < bm.Len() && count < max; i++ {
		byteNum, bitNum := findBitForIndex(i)
		if bm.bits[byteNum]&(1<<bitNum) != 0 {
			break
		}
		count++
	}
	return count
}

func findBitForIndex(index int) (byteNum int, bitNum uint8) {
	return index / 8, uint8(index % 8)
}
