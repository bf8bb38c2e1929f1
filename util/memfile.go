package util

import (
	"fmt"
	"io"
)

// MemFile implements File in memory. Useful for testing and for working with
// decompressed disk images, which have no backing file to write to.
type MemFile struct {
	b      []byte
	cursor int64
}

// NewMemFile creates a MemFile over the given bytes. The slice is used
// directly, not copied, so the caller should not modify it afterwards.
func NewMemFile(b []byte) *MemFile {
	return &MemFile{b: b}
}

// Bytes the current contents of the file.
func (f *MemFile) Bytes() []byte {
	return f.b
}

// ReadAt reads into b beginning at offset off.
func (f *MemFile) ReadAt(b []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= int64(len(f.b)) {
		return 0, io.EOF
	}
	n := copy(b, f.b[off:])
	if n < len(b) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes b beginning at offset off, growing the file as needed.
func (f *MemFile) WriteAt(b []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if end := off + int64(len(b)); end > int64(len(f.b)) {
		grown := make([]byte, end)
		copy(grown, f.b)
		f.b = grown
	}
	return copy(f.b[off:], b), nil
}

// Seek implements io.Seeker.
func (f *MemFile) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = f.cursor + offset
	case io.SeekEnd:
		abs = int64(len(f.b)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("negative resulting offset %d", abs)
	}
	f.cursor = abs
	return abs, nil
}
