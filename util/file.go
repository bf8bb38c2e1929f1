package util

import "io"

// File interface that can be read from and written to.
// Normally implemented as an actual os.File, but useful as a separate interface
// so that it can be implemented by an in-memory buffer as well.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Seeker
}
