package ext4

import "errors"

// Error taxonomy for the package. Callers match with errors.Is; every error
// returned from the filesystem wraps exactly one of these sentinels.
var (
	// ErrInvalidInput malformed arguments, e.g. a zero-length block request
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound the requested item does not exist. A hole in a sparse file
	// is not an error and is never reported as ErrNotFound.
	ErrNotFound = errors.New("not found")
	// ErrCorrupted on-disk metadata failed structural validation. Corruption
	// is never auto-repaired; the operation aborts without further mutation.
	ErrCorrupted = errors.New("corrupted filesystem metadata")
	// ErrNoSpace the block or inode allocator is exhausted
	ErrNoSpace = errors.New("no space left on device")
	// ErrUnsupported the operation is valid but not implemented for this
	// filesystem or inode
	ErrUnsupported = errors.New("unsupported operation")
)
