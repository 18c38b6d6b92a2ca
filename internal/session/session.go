// Package session implements the open/close/cancel state machine that
// ties the paged checksummed stream (internal/pagestore), the typed node
// tree (internal/tree), and the compressed-vector I/O registry
// (internal/cv) together into one session (spec Component F).
//
// Grounded on the teacher's NomsBlockStore open/close lifecycle
// (go/nbs/store.go): a constructor that either fully succeeds or leaves no
// on-disk trace, a manifest-style "parse what's already there" read path,
// and d.Chk-style panics for conditions the implementation itself must
// never violate.
package session

import (
	"os"
	"runtime"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dolthub/go-e57/e57cfg"
	"github.com/dolthub/go-e57/e57errors"
	"github.com/dolthub/go-e57/internal/cv"
	"github.com/dolthub/go-e57/internal/elog"
	"github.com/dolthub/go-e57/internal/pagestore"
	"github.com/dolthub/go-e57/internal/tree"
	"github.com/dolthub/go-e57/internal/xmlbridge"
)

// State is one of the three session lifecycle states from spec.md §4.F.
type State int

const (
	OpenWrite State = iota
	OpenRead
	Closed
)

func (s State) String() string {
	switch s {
	case OpenWrite:
		return "OpenWrite"
	case OpenRead:
		return "OpenRead"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Session is the open/close/cancel state machine owning one file's store,
// tree, and compressed-vector registry. Its RWMutex guards the session's
// own methods: NewWriter, WriteBlob, Close and Cancel take the exclusive
// lock; NewReader, ReadBlob, CheckInvariant and the state accessors take
// the shared lock. A cv.Writer's Write and a cv.Reader's Read do not take
// this lock; they call the pagestore.Store directly, whose own mutex
// serializes each individual store call.
type Session struct {
	mu sync.RWMutex

	id    uuid.UUID
	state State

	path     string // empty for in-memory sessions
	inMemory bool

	store *pagestore.Store
	tree  *tree.Tree
	cv    *cv.Registry

	log elog.Logger
}

// OpenWriteFile constructs a write-mode session backed by path, per
// spec.md §4.F's construct(path, "w", policy). An invalid cfg is rejected
// before any file is created; if pagestore.CreateFile fails after opening
// the file, the file is closed but not removed.
func OpenWriteFile(path string, policy int, cfg e57cfg.Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := elog.Nop()
	store, err := pagestore.CreateFile(path, pagestore.Options{
		PageSize:       uint64(cfg.PageSize),
		ChecksumPolicy: policy,
		CacheSize:      cfg.CleanPageCacheSize,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}
	s := newSession(store, tree.NewTree(false), path, false, OpenWrite, log)
	log.Info("session opened for write", zap.String("path", path), zap.Stringer("id", s.id))
	runtime.SetFinalizer(s, finalize)
	return s, nil
}

// OpenReadFile constructs a read-mode session backed by path, per
// spec.md §4.F's construct(path, "r", policy): parses and validates the
// header, parses the XML section, builds the node tree, and seeds the
// namespace registry from the document's declarations.
func OpenReadFile(path string, policy int, cfg e57cfg.Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := elog.Nop()
	store, err := pagestore.OpenFile(path, pagestore.Options{
		PageSize:       uint64(cfg.PageSize),
		ChecksumPolicy: policy,
		CacheSize:      cfg.CleanPageCacheSize,
		UseMmap:        cfg.UseMmap,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}
	t, err := loadTree(store, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	s := newSession(store, t, path, false, OpenRead, log)
	log.Info("session opened for read", zap.String("path", path), zap.Stringer("id", s.id))
	return s, nil
}

// OpenReadMemory constructs a read-mode session over an in-memory buffer,
// per spec.md §4.F's construct(buffer, size, policy).
func OpenReadMemory(buf []byte, policy int, cfg e57cfg.Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := elog.Nop()
	store, err := pagestore.OpenMemory(buf, pagestore.Options{
		PageSize:       uint64(cfg.PageSize),
		ChecksumPolicy: policy,
		CacheSize:      cfg.CleanPageCacheSize,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}
	t, err := loadTree(store, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	s := newSession(store, t, "", true, OpenRead, log)
	log.Info("session opened for read from memory", zap.Int("bytes", len(buf)), zap.Stringer("id", s.id))
	return s, nil
}

func newSession(store *pagestore.Store, t *tree.Tree, path string, inMemory bool, state State, log elog.Logger) *Session {
	return &Session{
		id:       uuid.New(),
		state:    state,
		path:     path,
		inMemory: inMemory,
		store:    store,
		tree:     t,
		cv:       cv.NewRegistry(),
		log:      log,
	}
}

func loadTree(store *pagestore.Store, log elog.Logger) (*tree.Tree, error) {
	h := store.Header()
	xmlBytes := make([]byte, h.XMLLength)
	if h.XMLLength > 0 {
		if err := store.Read(h.XMLOffset, xmlBytes); err != nil {
			return nil, err
		}
	}
	t, err := xmlbridge.Parse(xmlBytes, true)
	if err != nil {
		return nil, err
	}
	log.Debug("parsed xml section", zap.String("size", humanize.Bytes(uint64(len(xmlBytes)))))

	// The payload area is everything logically before the XML section
	// (payload pages are always written before the XML section is
	// appended at Close). Reject a Blob or CompressedVector
	// whose recorded payload location falls outside it (invariant 5)
	// before handing the tree to a caller.
	t.SetPayloadLimit(int64(h.XMLOffset))
	if err := t.CheckInvariant(true); err != nil {
		return nil, err
	}
	return t, nil
}

// ID returns the session's log-correlation identifier. Not part of the
// C++-derived public contract.
func (s *Session) ID() uuid.UUID { return s.id }

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsOpen reports whether the session has not yet transitioned to Closed.
func (s *Session) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state != Closed
}

// IsWritable reports whether the session was opened for write.
func (s *Session) IsWritable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == OpenWrite
}

// Path returns the backing file path, or "" for an in-memory session.
func (s *Session) Path() string { return s.path }

// Root returns the tree's root node.
func (s *Session) Root() *tree.Node { return s.tree.Root() }

// Registry returns the namespace registry.
func (s *Session) Registry() *tree.Registry { return s.tree.Registry() }

// Tree exposes the underlying Tree for the xmlbridge/cv layers callers
// build on top of the session's handles (e.g. constructing CompressedVector
// prototypes before opening a writer).
func (s *Session) Tree() *tree.Tree { return s.tree }

// WriterCount and ReaderCount back e57.File's invariant-3 introspection.
func (s *Session) WriterCount() int { return s.cv.WriterCount() }
func (s *Session) ReaderCount() int { return s.cv.ReaderCount() }

// NewWriter opens a compressed-vector writer against node, enforcing
// invariant 3 through the session's cv.Registry.
func (s *Session) NewWriter(node *tree.Node, buffers []*cv.Buffer) (*cv.Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != OpenWrite {
		return nil, e57errors.New(e57errors.ImageFileNotOpen, "session is not open for write")
	}
	return cv.NewWriter(node, buffers, s.store, s.cv)
}

// NewReader opens a compressed-vector reader against node.
func (s *Session) NewReader(node *tree.Node) (*cv.Reader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == Closed {
		return nil, e57errors.New(e57errors.ImageFileNotOpen, "session is closed")
	}
	return cv.NewReader(node, s.store, s.cv)
}

// WriteBlob appends data to the payload area and records node's payload
// location, per spec.md §4.B's "payload area ... grows monotonically as
// compressed-vector writers and blob writes append to it." node must be
// a detached or already-attached Blob; calling WriteBlob a second time on
// the same node appends a second copy and overwrites its recorded
// location, it does not update the first copy in place.
func (s *Session) WriteBlob(node *tree.Node, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != OpenWrite {
		return e57errors.New(e57errors.ImageFileNotOpen, "session is not open for write")
	}
	if node.Kind() != tree.KindBlob {
		return e57errors.Newf(e57errors.BadAPIArgument, "WriteBlob requires a Blob node, got %s", node.Kind())
	}
	offset, err := s.store.LogicalLength()
	if err != nil {
		return err
	}
	if err := s.store.Extend(offset + uint64(len(data))); err != nil {
		return err
	}
	if err := s.store.Write(offset, data); err != nil {
		return err
	}
	node.SetBlobLocation(int64(len(data)), int64(offset))
	return nil
}

// ReadBlob reads back the bytes a prior WriteBlob call recorded for node.
func (s *Session) ReadBlob(node *tree.Node) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == Closed {
		return nil, e57errors.New(e57errors.ImageFileNotOpen, "session is closed")
	}
	if node.Kind() != tree.KindBlob {
		return nil, e57errors.Newf(e57errors.BadAPIArgument, "ReadBlob requires a Blob node, got %s", node.Kind())
	}
	length, offset := node.BlobLocation()
	data := make([]byte, length)
	if length > 0 {
		if err := s.store.Read(uint64(offset), data); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// CheckInvariant delegates to the Tree's invariant walk (see
// tree.Tree.CheckInvariant for what it checks).
func (s *Session) CheckInvariant(recursive bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.CheckInvariant(recursive)
}

// Close transitions the session to Closed. From OpenWrite this requires
// zero live writers and zero live readers, serializes the tree to XML,
// patches the header, and flushes; any failure still leaves the state
// Closed, with the file in an undefined-but-present state the caller must
// discard. From OpenRead or Closed this is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Closed:
		return nil
	case OpenRead:
		s.cv.CloseAll()
		s.state = Closed
		s.store.Close()
		s.log.Info("read session closed", zap.Stringer("id", s.id))
		return nil
	case OpenWrite:
		return s.closeWriteLocked()
	}
	return e57errors.Newf(e57errors.Internal, "close: unhandled state %s", s.state)
}

func (s *Session) closeWriteLocked() error {
	if s.cv.WriterCount() > 0 || s.cv.ReaderCount() > 0 {
		return e57errors.New(e57errors.BadAPIArgument, "cannot close session while writers or readers are live")
	}

	xmlBytes, err := xmlbridge.Serialize(s.tree)
	if err != nil {
		s.state = Closed
		return err
	}

	offset, err := s.store.LogicalLength()
	if err != nil {
		s.state = Closed
		return err
	}
	// The header check on reopen requires the XML section to start on a
	// logical page boundary; a Blob payload can end mid-page.
	if ppp := s.store.PayloadPerPage(); offset%ppp != 0 {
		offset += ppp - offset%ppp
	}
	if err := s.store.Extend(offset + uint64(len(xmlBytes))); err != nil {
		s.state = Closed
		return err
	}
	if err := s.store.Write(offset, xmlBytes); err != nil {
		s.state = Closed
		return err
	}
	s.store.SetXMLSection(offset, uint64(len(xmlBytes)))
	flushErr := s.store.Flush()
	s.state = Closed
	if flushErr != nil {
		return flushErr
	}

	s.log.Info("write session closed",
		zap.Stringer("id", s.id),
		zap.String("xml size", humanize.Bytes(uint64(len(xmlBytes)))))
	return nil
}

// Cancel drops unflushed state and discards the file. From OpenWrite this
// closes the store without flushing and unlinks the backing file (a no-op
// for in-memory sessions, whose buffer is simply abandoned). From OpenRead
// it behaves like Close. From Closed it is a no-op. Cancel never raises.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
}

func (s *Session) cancelLocked() {
	if s.state == Closed {
		return
	}
	wasWrite := s.state == OpenWrite
	s.cv.CloseAll()
	s.store.Close()
	s.state = Closed
	if wasWrite && !s.inMemory && s.path != "" {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("cancel: failed to unlink file", zap.String("path", s.path), zap.Error(err))
		}
	}
	s.log.Info("session cancelled", zap.Stringer("id", s.id), zap.Bool("was write", wasWrite))
}

// Equal reports whether s and other refer to the same session, per
// spec.md §6's identity-comparison surface.
func (s *Session) Equal(other *Session) bool {
	if other == nil {
		return false
	}
	return s.id == other.id
}

// finalize is the best-effort cancel-on-drop safety net (spec.md §4.F:
// "Drop in OpenWrite without close having been called behaves as
// cancel"). Go has no guaranteed destructors, so the real guarantee is
// the documented requirement that callers defer Close/Cancel; this
// finalizer only limits the damage of a caller that forgot, and is never
// relied on by tests.
func finalize(s *Session) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state == OpenWrite {
		s.Cancel()
	}
}
