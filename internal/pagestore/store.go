// Package pagestore implements the paged, checksummed random-access byte
// stream underneath a go-e57 session (spec Component A) and the physical
// file header layout on top of it (Component B). Every logical byte range
// above this layer is translated into whole physical pages, each
// payload-plus-CRC-32C, patched, re-checksummed, and written back.
//
// Grounded on the teacher's go/nbs/table_writer.go and table_reader.go:
// the same "patch the containing block, recompute the trailer, write the
// whole block back" discipline, generalized from content-addressed
// variable-length chunks to a flat paged address space.
package pagestore

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dolthub/go-e57/e57errors"
	"github.com/dolthub/go-e57/internal/elog"
)

// Store is the paged checksummed stream. Every exported method takes the
// Store's mutex, so individual calls may come from several goroutines; a
// sequence of calls (such as Extend followed by Write) is not atomic.
type Store struct {
	mu sync.Mutex

	device   blockDevice
	pageSize uint64
	policy   int
	writable bool

	header header

	dirty map[uint64][]byte // physical page index -> full page bytes
	clean *cleanPageCache

	// logicalHighWater is the highest logical length any Extend call has
	// requested, independent of header.PhysicalLength (which only moves
	// on Flush). LogicalLength must reflect writes still sitting in
	// dirty, not just what has made it to disk.
	logicalHighWater uint64

	log elog.Logger
}

const defaultPageSize = 1024

// Options configures a Store at construction time.
type Options struct {
	PageSize       uint64
	ChecksumPolicy int
	CacheSize      int
	UseMmap        bool
	Logger         elog.Logger
}

func (o Options) withDefaults() Options {
	if o.PageSize == 0 {
		o.PageSize = defaultPageSize
	}
	if o.Logger == nil {
		o.Logger = elog.Nop()
	}
	return o
}

// CreateFile opens path for writing, truncating any existing content, and
// writes a placeholder header occupying the first page. If truncating or
// writing the header fails, the file is closed but not removed.
func CreateFile(path string, opts Options) (*Store, error) {
	opts = opts.withDefaults()
	dev, err := openFileDevice(path, true)
	if err != nil {
		return nil, err
	}
	if err := dev.Truncate(0); err != nil {
		dev.Close()
		return nil, err
	}
	s := &Store{
		device:   dev,
		pageSize: opts.PageSize,
		policy:   clampPolicy(opts.ChecksumPolicy),
		writable: true,
		header:   newHeader(opts.PageSize),
		dirty:    make(map[uint64][]byte),
		clean:    newCleanPageCache(opts.CacheSize),
		log:      opts.Logger,
	}
	if err := s.writeHeaderPage(); err != nil {
		dev.Close()
		return nil, err
	}
	if err := s.Flush(); err != nil {
		dev.Close()
		return nil, err
	}
	return s, nil
}

// OpenFile opens path for reading, validating the header against the
// actual file size.
func OpenFile(path string, opts Options) (*Store, error) {
	opts = opts.withDefaults()
	var dev blockDevice
	var err error
	if opts.UseMmap {
		dev, err = openMmapDevice(path)
	} else {
		dev, err = openFileDevice(path, false)
	}
	if err != nil {
		return nil, err
	}
	s := &Store{
		device:   dev,
		pageSize: opts.PageSize,
		policy:   clampPolicy(opts.ChecksumPolicy),
		writable: false,
		dirty:    make(map[uint64][]byte),
		clean:    newCleanPageCache(opts.CacheSize),
		log:      opts.Logger,
	}
	if err := s.readHeaderPage(); err != nil {
		dev.Close()
		return nil, err
	}
	return s, nil
}

// OpenMemory wraps an in-memory buffer as a read-mode Store, per spec.md
// §4.F's in-memory construction mode.
func OpenMemory(buf []byte, opts Options) (*Store, error) {
	opts = opts.withDefaults()
	dev := newMemDevice(buf)
	s := &Store{
		device:   dev,
		pageSize: opts.PageSize,
		policy:   clampPolicy(opts.ChecksumPolicy),
		writable: false,
		dirty:    make(map[uint64][]byte),
		clean:    newCleanPageCache(opts.CacheSize),
		log:      opts.Logger,
	}
	if err := s.readHeaderPage(); err != nil {
		dev.Close()
		return nil, err
	}
	return s, nil
}

// CreateMemory wraps an empty in-memory buffer as a write-mode Store, for
// tests that want to exercise the write side without touching disk. No
// header page is written until the first Flush.
func CreateMemory(opts Options) *Store {
	opts = opts.withDefaults()
	dev := newMemDevice(nil)
	s := &Store{
		device:   dev,
		pageSize: opts.PageSize,
		policy:   clampPolicy(opts.ChecksumPolicy),
		writable: true,
		header:   newHeader(opts.PageSize),
		dirty:    make(map[uint64][]byte),
		clean:    newCleanPageCache(opts.CacheSize),
		log:      opts.Logger,
	}
	return s
}

func (s *Store) payloadPerPage() uint64 { return s.pageSize - checksumSize }

// logicalToPhysical implements invariant 6: L + (L/payloadPerPage)*checksumSize.
func (s *Store) logicalToPhysical(logical uint64) uint64 {
	payload := s.payloadPerPage()
	return logical + (logical/payload)*checksumSize
}

func (s *Store) pageIndexForLogical(logical uint64) uint64 {
	return logical / s.payloadPerPage()
}

// dataPageOffset converts a logical page index (0-based, among the data
// pages) into its physical byte offset. The header occupies physical
// page 0, so data page 0 starts at physical offset pageSize.
func (s *Store) dataPageOffset(pageIndex uint64) uint64 {
	return (pageIndex + 1) * s.pageSize
}

// Writable reports whether the Store was opened for writing.
func (s *Store) Writable() bool { return s.writable }

// PageSize returns the configured physical page size.
func (s *Store) PageSize() uint64 { return s.pageSize }

// PayloadPerPage returns the usable payload bytes of one physical page
// (PageSize minus the checksum trailer). internal/cv sizes each
// compressed-vector data page to one page's payload, so it needs this to
// size its page-header-plus-substreams payload.
func (s *Store) PayloadPerPage() uint64 { return s.payloadPerPage() }

// Header returns a copy of the current header snapshot.
func (s *Store) Header() header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header
}

// SetXMLSection records the XML section's logical offset and length in
// the header snapshot; it is patched into the physical header page on
// the next Flush.
func (s *Store) SetXMLSection(logicalOffset, length uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.header.XMLOffset = logicalOffset
	s.header.XMLLength = length
}

// PhysicalLength returns the current physical file length.
func (s *Store) PhysicalLength() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.physicalLengthLocked()
}

func (s *Store) physicalLengthLocked() (uint64, error) {
	if s.header.PhysicalLength > 0 {
		return s.header.PhysicalLength, nil
	}
	size, err := s.device.Size()
	if err != nil {
		return 0, err
	}
	return uint64(size), nil
}

// LogicalLength returns the logical length implied by data written so
// far, including an Extend/Write that has not yet been flushed to disk.
// A flushed-only view would hand out the same stale offset to successive
// appends before the next Flush, so this also tracks logicalHighWater.
func (s *Store) LogicalLength() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	phys, err := s.physicalLengthLocked()
	if err != nil {
		return 0, err
	}
	flushed := uint64(0)
	if phys >= s.pageSize {
		fullPages := (phys - s.pageSize) / s.pageSize
		flushed = fullPages * s.payloadPerPage()
	}
	if s.logicalHighWater > flushed {
		return s.logicalHighWater, nil
	}
	return flushed, nil
}

func (s *Store) writeHeaderPage() error {
	payload := make([]byte, s.payloadPerPage())
	copy(payload, s.header.encode())
	page := s.buildPage(payload)
	if _, err := s.device.WriteAt(page, 0); err != nil {
		return err
	}
	s.header.PhysicalLength = s.pageSize
	return nil
}

func (s *Store) readHeaderPage() error {
	// The header records the file's page size, so read the header layout
	// alone first and size the header page from it.
	prefix := make([]byte, headerSize)
	if _, err := s.device.ReadAt(prefix, 0); err != nil {
		return err
	}
	probe, err := decodeHeader(prefix)
	if err != nil {
		return err
	}
	s.pageSize = probe.PageSize
	page := make([]byte, s.pageSize)
	if _, err := s.device.ReadAt(page, 0); err != nil {
		return err
	}
	payload, err := s.verifyAndExtract(page, 0)
	if err != nil {
		return err
	}
	h, err := decodeHeader(payload)
	if err != nil {
		return err
	}
	size, err := s.device.Size()
	if err != nil {
		return err
	}
	if h.PhysicalLength != 0 && h.PhysicalLength != uint64(size) {
		return e57errors.Newf(e57errors.BadFileLength, "header records length %d, file is %d bytes", h.PhysicalLength, size)
	}
	s.header = h
	s.pageSize = h.PageSize
	return nil
}

func (s *Store) pageSizeOrDefault() uint64 {
	if s.pageSize != 0 {
		return s.pageSize
	}
	return defaultPageSize
}

// buildPage assembles a full physical page (payload padded to
// payloadPerPage, plus its CRC-32C trailer) from a payload slice that may
// be shorter than payloadPerPage.
func (s *Store) buildPage(payload []byte) []byte {
	page := make([]byte, s.pageSize)
	copy(page, payload)
	crc := checksum(page[:s.payloadPerPage()])
	putUint32LE(page[s.payloadPerPage():], crc)
	return page
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func (s *Store) verifyAndExtract(page []byte, pageIndex uint64) ([]byte, error) {
	payload := page[:s.payloadPerPage()]
	if verifyPage(pageIndex, s.policy) {
		want := getUint32LE(page[s.payloadPerPage():])
		got := checksum(payload)
		if want != got {
			s.log.Error("page checksum mismatch", zap.Uint64("page", pageIndex), zap.Uint32("want", want), zap.Uint32("got", got))
			return nil, e57errors.Newf(e57errors.BadChecksum, "page %d: checksum mismatch", pageIndex)
		}
	}
	return payload, nil
}

// readPage returns the full payload for one physical page, consulting
// the dirty map, then the clean cache, then the device.
func (s *Store) readPage(pageIndex uint64) ([]byte, error) {
	physOff := s.dataPageOffset(pageIndex)
	if dirty, ok := s.dirty[pageIndex]; ok {
		return dirty[:s.payloadPerPage()], nil
	}
	if payload, ok := s.clean.get(pageIndex); ok {
		// The predicate still decides whether this reread verifies.
		// Verifying re-reads the page from disk, so a cache hit only
		// skips the disk read for pages the predicate does not verify.
		if verifyPage(pageIndex, s.policy) {
			if _, err := s.readAndVerify(pageIndex, physOff); err != nil {
				return nil, err
			}
		}
		return payload, nil
	}
	return s.readAndVerify(pageIndex, physOff)
}

func (s *Store) readAndVerify(pageIndex, physOff uint64) ([]byte, error) {
	page := make([]byte, s.pageSize)
	if _, err := s.device.ReadAt(page, int64(physOff)); err != nil {
		return nil, err
	}
	payload, err := s.verifyAndExtract(page, pageIndex)
	if err != nil {
		return nil, err
	}
	s.clean.put(pageIndex, payload)
	return payload, nil
}

// Read fills dst with the logical bytes starting at logicalOffset.
func (s *Store) Read(logicalOffset uint64, dst []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload := s.payloadPerPage()
	remaining := dst
	offset := logicalOffset
	for len(remaining) > 0 {
		pageIndex := s.pageIndexForLogical(offset)
		withinPage := offset % payload
		page, err := s.readPage(pageIndex)
		if err != nil {
			return err
		}
		n := copy(remaining, page[withinPage:])
		remaining = remaining[n:]
		offset += uint64(n)
	}
	return nil
}

// Write patches the logical byte range starting at logicalOffset with
// src, marking every touched page dirty. The range must already lie
// within the current logical length; callers extend first.
func (s *Store) Write(logicalOffset uint64, src []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(logicalOffset, src)
}

func (s *Store) writeLocked(logicalOffset uint64, src []byte) error {
	if !s.writable {
		return e57errors.New(e57errors.FileIsReadOnly, "store is not open for writing")
	}
	payload := s.payloadPerPage()
	remaining := src
	offset := logicalOffset
	for len(remaining) > 0 {
		pageIndex := s.pageIndexForLogical(offset)
		withinPage := offset % payload
		full, err := s.dirtyPage(pageIndex)
		if err != nil {
			return err
		}
		n := copy(full[withinPage:payload], remaining)
		s.dirty[pageIndex] = full
		s.clean.invalidate(pageIndex)
		remaining = remaining[n:]
		offset += uint64(n)
	}
	return nil
}

// dirtyPage returns a mutable full-page buffer for pageIndex, reading the
// current contents first if the whole page already exists on disk (so a
// partial patch doesn't clobber neighboring bytes already written).
func (s *Store) dirtyPage(pageIndex uint64) ([]byte, error) {
	if existing, ok := s.dirty[pageIndex]; ok {
		return existing, nil
	}
	physOff := s.dataPageOffset(pageIndex)
	phys, err := s.physicalLengthLocked()
	if err != nil {
		return nil, err
	}
	full := make([]byte, s.pageSize)
	if physOff+s.pageSize <= phys {
		if _, err := s.device.ReadAt(full, int64(physOff)); err != nil {
			return nil, err
		}
	}
	return full, nil
}

// Extend grows the logical length to newLogicalLength, zero-filling the
// new region's pages (materializing them as dirty pages so Flush writes
// real zero bytes rather than leaving a sparse hole the checksum would
// reject).
func (s *Store) Extend(newLogicalLength uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.writable {
		return e57errors.New(e57errors.FileIsReadOnly, "store is not open for writing")
	}
	payload := s.payloadPerPage()
	lastPage := uint64(0)
	if newLogicalLength > 0 {
		lastPage = (newLogicalLength - 1) / payload
	}
	for idx := uint64(0); idx <= lastPage; idx++ {
		if _, ok := s.dirty[idx]; ok {
			continue
		}
		physOff := s.dataPageOffset(idx)
		phys, err := s.physicalLengthLocked()
		if err != nil {
			return err
		}
		if physOff+s.pageSize <= phys {
			continue
		}
		s.dirty[idx] = make([]byte, s.pageSize)
	}
	if newLogicalLength > s.logicalHighWater {
		s.logicalHighWater = newLogicalLength
	}
	return nil
}

// Flush writes every dirty page in ascending physical order, patches and
// rewrites the header page, then fsyncs.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	if !s.writable {
		return nil
	}
	indices := make([]uint64, 0, len(s.dirty))
	for idx := range s.dirty {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	maxOffset := s.header.PhysicalLength
	for _, idx := range indices {
		payload := s.dirty[idx]
		full := s.buildPage(payload[:s.payloadPerPage()])
		physOff := s.dataPageOffset(idx)
		if _, err := s.device.WriteAt(full, int64(physOff)); err != nil {
			return err
		}
		s.clean.invalidate(idx)
		if end := physOff + s.pageSize; end > maxOffset {
			maxOffset = end
		}
	}
	s.dirty = make(map[uint64][]byte)
	if maxOffset > s.header.PhysicalLength {
		s.header.PhysicalLength = maxOffset
	}
	if maxOffset == 0 && s.header.PhysicalLength == 0 {
		s.header.PhysicalLength = s.pageSize
	}
	headerPayload := make([]byte, s.payloadPerPage())
	copy(headerPayload, s.header.encode())
	if _, err := s.device.WriteAt(s.buildPage(headerPayload), 0); err != nil {
		return err
	}
	return s.device.Sync()
}

// Close releases the underlying device without flushing. Callers that
// need a durable result must Flush first; Close alone is used by the
// cancel path.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device.Close()
}

// Bytes returns the in-memory backing buffer's current contents. It
// panics if the Store is not memory-backed (one built by CreateMemory or
// OpenMemory).
func (s *Store) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	md, ok := s.device.(*memDevice)
	if !ok {
		panic("pagestore: Bytes called on a non-memory Store")
	}
	return md.Bytes()
}
