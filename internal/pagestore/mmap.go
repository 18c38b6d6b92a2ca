package pagestore

import (
	"github.com/edsrzf/mmap-go"

	"github.com/dolthub/go-e57/e57errors"
)

// mmapDevice is a read-only blockDevice backed by a whole-file memory
// mapping, grounded on the teacher's mmapTableReader: OpenRead sessions
// serve page reads directly out of mapped memory instead of issuing a
// pread per page. Writes are never routed through this device; a
// write-mode Session always uses fileDevice.
type mmapDevice struct {
	fd     *fileDevice
	region mmap.MMap
}

func openMmapDevice(path string) (*mmapDevice, error) {
	fd, err := openFileDevice(path, false)
	if err != nil {
		return nil, err
	}
	size, err := fd.Size()
	if err != nil {
		fd.Close()
		return nil, err
	}
	if size == 0 {
		fd.Close()
		return nil, e57errors.New(e57errors.BadFileLength, "cannot mmap an empty file")
	}
	region, err := mmap.Map(fd.file(), mmap.RDONLY, 0)
	if err != nil {
		fd.Close()
		return nil, e57errors.Wrap(e57errors.OpenFailed, err, "mmapping backing file")
	}
	return &mmapDevice{fd: fd, region: region}, nil
}

func (d *mmapDevice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(d.region)) {
		return 0, e57errors.New(e57errors.LseekFailed, "mmap read offset out of range")
	}
	n := copy(p, d.region[off:])
	if n < len(p) {
		return n, e57errors.New(e57errors.ReadFailed, "short read past end of mapped region")
	}
	return n, nil
}

func (d *mmapDevice) WriteAt(p []byte, off int64) (int, error) {
	return 0, e57errors.New(e57errors.FileIsReadOnly, "mmapDevice does not support writes")
}

func (d *mmapDevice) Truncate(size int64) error {
	return e57errors.New(e57errors.FileIsReadOnly, "mmapDevice does not support truncation")
}

func (d *mmapDevice) Size() (int64, error) { return int64(len(d.region)), nil }
func (d *mmapDevice) Sync() error          { return nil }

func (d *mmapDevice) Close() error {
	if err := d.region.Unmap(); err != nil {
		return e57errors.Wrap(e57errors.CloseFailed, err, "unmapping backing file")
	}
	return d.fd.Close()
}
