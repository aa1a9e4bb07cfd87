package govcmount

import (
	"fmt"
	"io"
	"os"
)

// BackingStore is the minimal capability set a volume needs from its
// backing sink: exact-length reads and writes at the current position, and
// seeking to an absolute, relative, or end-relative offset. It is satisfied
// by *os.File and by MemoryStore.
type BackingStore interface {
	io.Reader
	io.Writer
	io.Seeker
}

// readExact reads exactly len(buf) bytes from s, promoting any short read
// (including a bare io.EOF) to ErrShortIO wrapped with an IoFailure kind.
func readExact(s BackingStore, buf []byte) error {
	if _, err := io.ReadFull(s, buf); err != nil {
		return newMountError(IoFailure, fmt.Errorf("%w: %v", ErrShortIO, err))
	}
	return nil
}

// writeExact writes exactly len(buf) bytes to s.
func writeExact(s BackingStore, buf []byte) error {
	n, err := s.Write(buf)
	if err != nil {
		return newMountError(IoFailure, err)
	}
	if n != len(buf) {
		return newMountError(IoFailure, fmt.Errorf("%w: wrote %d of %d bytes", ErrShortIO, n, len(buf)))
	}
	return nil
}

// storeLength returns the total length of s by seeking to its end, then
// restores the store's position to where it was before the call.
func storeLength(s BackingStore) (int64, error) {
	cur, err := s.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	end, err := s.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := s.Seek(cur, io.SeekStart); err != nil {
		return 0, err
	}
	return end, nil
}

// FileStore is a BackingStore backed by an *os.File.
type FileStore struct {
	file *os.File
}

// NewFileStore wraps an already-open file as a BackingStore.
func NewFileStore(f *os.File) *FileStore {
	return &FileStore{file: f}
}

func (f *FileStore) Read(p []byte) (int, error)                 { return f.file.Read(p) }
func (f *FileStore) Write(p []byte) (int, error)                { return f.file.Write(p) }
func (f *FileStore) Seek(offset int64, whence int) (int64, error) { return f.file.Seek(offset, whence) }

// Sync flushes the underlying file to stable storage.
func (f *FileStore) Sync() error { return f.file.Sync() }

// Close closes the underlying file.
func (f *FileStore) Close() error { return f.file.Close() }

// MemoryStore is a BackingStore backed by a fixed-size in-memory buffer. It
// is used by tests and by embedding applications that keep a container
// entirely in memory.
type MemoryStore struct {
	buf []byte
	pos int64
}

// NewMemoryStore wraps buf (taken by reference, not copied) as a
// BackingStore of fixed length len(buf).
func NewMemoryStore(buf []byte) *MemoryStore {
	return &MemoryStore{buf: buf}
}

// Bytes returns the backing buffer. Mutations through the store are visible
// through this slice and vice versa.
func (m *MemoryStore) Bytes() []byte { return m.buf }

func (m *MemoryStore) Read(p []byte) (int, error) {
	if m.pos >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *MemoryStore) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		return 0, fmt.Errorf("govcmount: write at %d exceeds store length %d", end, len(m.buf))
	}
	n := copy(m.buf[m.pos:end], p)
	m.pos += int64(n)
	return n, nil
}

func (m *MemoryStore) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = m.pos + offset
	case io.SeekEnd:
		newPos = int64(len(m.buf)) + offset
	default:
		return 0, fmt.Errorf("govcmount: invalid whence %d", whence)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("govcmount: negative seek position %d", newPos)
	}
	m.pos = newPos
	return newPos, nil
}
