package pagestore

import (
	"os"

	"github.com/dolthub/go-e57/e57errors"
)

// blockDevice is the raw physical-byte backing for a Store: either an
// *os.File or an in-memory buffer. Offsets and lengths passed to it are
// always physical (page-aligned where the caller needs that), never
// logical. Grounded on the teacher's split between its on-disk table
// persister and its in-memory manifest-backed variant used in tests.
type blockDevice interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Truncate(size int64) error
	Size() (int64, error)
	Sync() error
	Close() error
}

// fileDevice backs a Store with a real *os.File.
type fileDevice struct {
	f *os.File
}

func openFileDevice(path string, write bool) (*fileDevice, error) {
	flags := os.O_RDONLY
	if write {
		flags = os.O_RDWR | os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, e57errors.Wrap(e57errors.OpenFailed, err, "opening "+path)
	}
	return &fileDevice{f: f}, nil
}

func (d *fileDevice) ReadAt(p []byte, off int64) (int, error) {
	n, err := d.f.ReadAt(p, off)
	if err != nil {
		return n, e57errors.Wrap(e57errors.ReadFailed, err, "reading backing file")
	}
	return n, nil
}

func (d *fileDevice) WriteAt(p []byte, off int64) (int, error) {
	n, err := d.f.WriteAt(p, off)
	if err != nil {
		return n, e57errors.Wrap(e57errors.WriteFailed, err, "writing backing file")
	}
	return n, nil
}

func (d *fileDevice) Truncate(size int64) error {
	if err := d.f.Truncate(size); err != nil {
		return e57errors.Wrap(e57errors.WriteFailed, err, "truncating backing file")
	}
	return nil
}

func (d *fileDevice) Size() (int64, error) {
	fi, err := d.f.Stat()
	if err != nil {
		return 0, e57errors.Wrap(e57errors.LseekFailed, err, "statting backing file")
	}
	return fi.Size(), nil
}

func (d *fileDevice) Sync() error {
	if err := d.f.Sync(); err != nil {
		return e57errors.Wrap(e57errors.WriteFailed, err, "fsyncing backing file")
	}
	return nil
}

func (d *fileDevice) Close() error {
	if err := d.f.Close(); err != nil {
		return e57errors.Wrap(e57errors.CloseFailed, err, "closing backing file")
	}
	return nil
}

func (d *fileDevice) file() *os.File { return d.f }

// memDevice backs a Store with a resizable in-memory buffer, matching
// spec.md's in-memory construction mode.
type memDevice struct {
	buf []byte
}

func newMemDevice(initial []byte) *memDevice {
	buf := make([]byte, len(initial))
	copy(buf, initial)
	return &memDevice{buf: buf}
}

func (d *memDevice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(d.buf)) {
		return 0, e57errors.New(e57errors.LseekFailed, "read offset out of range")
	}
	n := copy(p, d.buf[off:])
	if n < len(p) {
		return n, e57errors.New(e57errors.ReadFailed, "short read past end of in-memory buffer")
	}
	return n, nil
}

func (d *memDevice) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(d.buf)) {
		grown := make([]byte, end)
		copy(grown, d.buf)
		d.buf = grown
	}
	copy(d.buf[off:end], p)
	return len(p), nil
}

func (d *memDevice) Truncate(size int64) error {
	if size <= int64(len(d.buf)) {
		d.buf = d.buf[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, d.buf)
	d.buf = grown
	return nil
}

func (d *memDevice) Size() (int64, error) { return int64(len(d.buf)), nil }
func (d *memDevice) Sync() error          { return nil }
func (d *memDevice) Close() error         { return nil }

// Bytes exposes the in-memory buffer's current contents, for
// OpenMemory-based round trips in tests and embedding applications.
func (d *memDevice) Bytes() []byte { return d.buf }
