package bpool

import (
	"fmt"
	"io"
	"os"
)

// FileReader is the file-backing collaborator the pool reads through. It
// deliberately exposes no seek state: every read is positioned, so the
// pool can issue reads from any goroutine without coordinating a shared
// cursor.
type FileReader interface {
	// Size returns the current file size in bytes.
	Size() int64

	// ReadExact fills dst entirely from offset. A short read is an error.
	ReadExact(dst []byte, offset int64) error

	// Close releases any resources held by the reader.
	Close() error
}

// osFileReader is the default FileReader, backed by a single *os.File
// opened once and read via positioned reads (os.File.ReadAt), matching the
// "no visible seek state" contract.
type osFileReader struct {
	f    *os.File
	size int64
}

// openFileReader opens path read-only and stats it once.
func openFileReader(path string) (*osFileReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrBadFile, path, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %v", ErrBadFile, path, err)
	}
	return &osFileReader{f: f, size: stat.Size()}, nil
}

func (r *osFileReader) Size() int64 { return r.size }

func (r *osFileReader) ReadExact(dst []byte, offset int64) error {
	n, err := r.f.ReadAt(dst, offset)
	if err != nil && err != io.EOF {
		return fmt.Errorf("%w: read at %d: %v", ErrBadFile, offset, err)
	}
	if n != len(dst) {
		return fmt.Errorf("%w: short read at offset %d: got %d want %d", ErrBadFile, offset, n, len(dst))
	}
	return nil
}

func (r *osFileReader) Close() error {
	return r.f.Close()
}
