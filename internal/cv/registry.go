package cv

import (
	"sync"

	"github.com/google/uuid"

	"github.com/dolthub/go-e57/e57errors"
)

// Registry enforces invariant 3 (at most one live writer XOR any number
// of live readers) for one session. Grounded on go/nbs/table_set.go's
// chunkSources-plus-persister bookkeeping, generalized to a mutable
// writer/reader-set guard instead of an immutable source list.
type Registry struct {
	mu      sync.RWMutex
	writer  *Writer
	readers map[uuid.UUID]*Reader
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{readers: make(map[uuid.UUID]*Reader)}
}

func (r *Registry) registerWriter(w *Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer != nil {
		return e57errors.New(e57errors.BadAPIArgument, "a compressed-vector writer is already live on this session")
	}
	if len(r.readers) > 0 {
		return e57errors.New(e57errors.BadAPIArgument, "cannot open a writer while readers are live")
	}
	r.writer = w
	return nil
}

func (r *Registry) unregisterWriter(w *Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == w {
		r.writer = nil
	}
}

func (r *Registry) registerReader(rd *Reader) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer != nil {
		return e57errors.New(e57errors.BadAPIArgument, "cannot open a reader while a writer is live")
	}
	r.readers[rd.id] = rd
	return nil
}

func (r *Registry) unregisterReader(rd *Reader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.readers, rd.id)
}

// WriterCount and ReaderCount back e57.File's invariant-3 introspection.
func (r *Registry) WriterCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.writer == nil {
		return 0
	}
	return 1
}

func (r *Registry) ReaderCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.readers)
}

// CloseAll tears down any still-live writer/readers, used by
// internal/session on Close/Cancel when the caller left handles open.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	w := r.writer
	readers := make([]*Reader, 0, len(r.readers))
	for _, rd := range r.readers {
		readers = append(readers, rd)
	}
	r.mu.Unlock()

	if w != nil {
		w.Close()
	}
	for _, rd := range readers {
		rd.Close()
	}
}
