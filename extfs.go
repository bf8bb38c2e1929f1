// Package extfs opens and creates ext4 filesystem images, giving access to
// the block mapping of their files through extent trees.
//
// Images may live in a plain file, on a block device, or inside a gzip, zstd,
// xz or lz4 compressed file. Compressed images are inflated into memory and
// opened there, so changes to them are not written back.
package extfs

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/xattr"
	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"

	"github.com/diskfs/go-extfs/filesystem/ext4"
	"github.com/diskfs/go-extfs/util"
)

var log = logrus.WithField("pkg", "extfs")

// uuidXattr the extended attribute carrying the filesystem UUID on the image
// file, set at creation as a convenience for tooling
const uuidXattr = "user.extfs.uuid"

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// Open opens the ext4 filesystem in the file, block device or compressed
// image at path.
func Open(path string, p *ext4.Params) (*ext4.FileSystem, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		// fall back to read-only, e.g. for a compressed image on read-only
		// media
		f, err = os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("could not open %s: %v", path, err)
		}
	}

	magic := make([]byte, 6)
	if _, err = io.ReadFull(f, magic); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("could not read magic bytes from %s: %v", path, err)
	}
	if decompress := decompressorFor(magic); decompress != nil {
		defer f.Close()
		if _, err = f.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("could not rewind %s: %v", path, err)
		}
		mem, err := inflate(f, decompress)
		if err != nil {
			return nil, fmt.Errorf("could not inflate %s: %w", path, err)
		}
		log.WithField("path", path).Debug("opened compressed image in memory, changes will not be written back")
		return ext4.Read(mem, int64(len(mem.Bytes())), 0, p)
	}

	size, err := fileSize(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("could not size %s: %v", path, err)
	}
	return ext4.Read(f, size, 0, p)
}

// Create creates an ext4 filesystem of the given size in a new image file at
// path, truncating anything already there.
func Create(path string, size int64, p *ext4.Params) (*ext4.FileSystem, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("could not create %s: %v", path, err)
	}
	if err = f.Truncate(size); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("could not grow %s to %d bytes: %v", path, size, err)
	}
	fs, err := ext4.Create(f, size, 0, p)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	// tag the image with its UUID; not all filesystems carry xattrs, so a
	// failure only gets logged
	if err = xattr.Set(path, uuidXattr, []byte(fs.UUID().String())); err != nil {
		log.WithField("path", path).WithError(err).Debug("could not set UUID xattr on image")
	}
	return fs, nil
}

// ImageUUID the UUID recorded in the image file's extended attributes at
// creation, without opening the filesystem
func ImageUUID(path string) (string, error) {
	b, err := xattr.Get(path, uuidXattr)
	if err != nil {
		return "", fmt.Errorf("could not read UUID xattr from %s: %v", path, err)
	}
	return string(b), nil
}

// DeviceSectorSizes the logical and physical sector sizes of the block
// device at path. Only meaningful on linux block devices.
func DeviceSectorSizes(path string) (logical, physical int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("could not open %s: %v", path, err)
	}
	defer f.Close()
	return sectorSizes(f)
}

// decompressorFor the matching decompressing reader constructor, or nil for
// an uncompressed image
func decompressorFor(magic []byte) func(io.Reader) (io.Reader, error) {
	switch {
	case bytes.HasPrefix(magic, gzipMagic):
		return func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) }
	case bytes.HasPrefix(magic, zstdMagic):
		return func(r io.Reader) (io.Reader, error) { return zstd.NewReader(r) }
	case bytes.HasPrefix(magic, xzMagic):
		return func(r io.Reader) (io.Reader, error) { return xz.NewReader(r) }
	case bytes.HasPrefix(magic, lz4Magic):
		return func(r io.Reader) (io.Reader, error) { return lz4.NewReader(r), nil }
	default:
		return nil
	}
}

// inflate decompress the whole image into memory
func inflate(f io.Reader, decompress func(io.Reader) (io.Reader, error)) (*util.MemFile, error) {
	r, err := decompress(f)
	if err != nil {
		return nil, err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return util.NewMemFile(b), nil
}

// fileSize the usable size of an open image: the device size for block
// devices, the file size otherwise
func fileSize(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if info.Mode()&os.ModeDevice != 0 && info.Mode()&os.ModeCharDevice == 0 {
		return blockDeviceSize(f)
	}
	return info.Size(), nil
}
