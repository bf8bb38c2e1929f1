package extfs

import (
	"fmt"
	"os"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// blockDeviceSize the size of an opened block device in bytes
func blockDeviceSize(f *os.File) (int64, error) {
	var size uint64
	if _, _, err := syscall.Syscall(syscall.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size))); err != 0 {
		return 0, os.NewSyscallError("ioctl: BLKGETSIZE64", err)
	}
	return int64(size), nil
}

// sectorSizes the logical and physical sector sizes of a block device
func sectorSizes(f *os.File) (logical, physical int64, err error) {
	fd := int(f.Fd())
	logicalInt, err := unix.IoctlGetInt(fd, unix.BLKSSZGET)
	if err != nil {
		return 0, 0, fmt.Errorf("unable to get device logical sector size: %v", err)
	}
	physicalInt, err := unix.IoctlGetInt(fd, unix.BLKPBSZGET)
	if err != nil {
		return 0, 0, fmt.Errorf("unable to get device physical sector size: %v", err)
	}
	return int64(logicalInt), int64(physicalInt), nil
}
