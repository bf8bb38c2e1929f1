//go:build !linux

package extfs

import (
	"fmt"
	"os"
)

func blockDeviceSize(f *os.File) (int64, error) {
	return 0, fmt.Errorf("block devices are only supported on linux")
}

func sectorSizes(f *os.File) (logical, physical int64, err error) {
	return 0, 0, fmt.Errorf("block devices are only supported on linux")
}
