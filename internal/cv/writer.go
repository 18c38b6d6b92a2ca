package cv

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/dolthub/go-e57/e57errors"
	"github.com/dolthub/go-e57/internal/assert"
	"github.com/dolthub/go-e57/internal/pagestore"
	"github.com/dolthub/go-e57/internal/tree"
)

// Data-page header widths; see SPEC_FULL.md §4.E for the full layout: a
// uint32 record count, a uint16 field count, a uint32 byte length per
// field, then the concatenated substreams.
const (
	pageHeaderRecordCountWidth = 4
	pageHeaderFieldCountWidth  = 2
	pageHeaderFieldLenWidth    = 4
)

// Writer packs records from caller-owned Buffers into compressed-vector
// data pages and appends them to the session's paged stream. It buffers
// encoded records across Write calls, flushing a full page once the next
// record would overflow the configured page payload size and flushing
// whatever remains on Close, per SPEC_FULL.md §4.E. Not safe for
// concurrent use; Write does not take the owning session's lock.
type Writer struct {
	id       uuid.UUID
	node     *tree.Node
	fields   []*tree.Node
	codecs   []Codec
	buffers  []*Buffer
	store    *pagestore.Store
	registry *Registry

	pending []pendingRecord // buffered, not-yet-flushed records

	startOffset uint64 // logical offset this writer's payload begins at
	cursor      uint64 // next logical write offset
	closed      bool
}

// pendingRecord holds one record's already-encoded per-field substreams,
// buffered until its page is flushed.
type pendingRecord struct {
	fields [][]byte
}

// NewWriter creates a writer for node's CompressedVector, rejecting the
// call unless the session is writable and invariant 3 holds. buffers
// must have one entry per prototype field, in prototype field order.
func NewWriter(node *tree.Node, buffers []*Buffer, store *pagestore.Store, registry *Registry) (*Writer, error) {
	if !store.Writable() {
		return nil, e57errors.New(e57errors.FileIsReadOnly, "session is not open for writing")
	}
	fields := node.Prototype().Children()
	if len(buffers) != len(fields) {
		return nil, e57errors.Newf(e57errors.BadAPIArgument, "expected %d field buffers, got %d", len(fields), len(buffers))
	}
	codecs, err := resolveCodecs(node)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		id:       uuid.New(),
		node:     node,
		fields:   fields,
		codecs:   codecs,
		buffers:  buffers,
		store:    store,
		registry: registry,
	}
	if err := registry.registerWriter(w); err != nil {
		return nil, err
	}
	offset, err := store.LogicalLength()
	if err != nil {
		registry.unregisterWriter(w)
		return nil, err
	}
	w.startOffset = offset
	w.cursor = offset
	return w, nil
}

func resolveCodecs(node *tree.Node) ([]Codec, error) {
	out := make([]Codec, len(node.Codecs()))
	for i, c := range node.Codecs() {
		cc, ok := c.(Codec)
		if !ok {
			return nil, e57errors.Newf(e57errors.BadAPIArgument, "codec for field %d does not implement internal/cv.Codec", i)
		}
		out[i] = cc
	}
	return out, nil
}

// Write consumes n logical records from the buffers, encodes each one
// through its field's codec, and buffers it for the current page. A page
// is flushed as soon as the next record would overflow the store's
// configured page payload size; any records left buffered when Write
// returns are flushed by a later Write call or by Close.
func (w *Writer) Write(n int) (int, error) {
	if w.closed {
		return 0, e57errors.New(e57errors.ImageFileNotOpen, "writer is closed")
	}
	assert.True(len(w.buffers) == len(w.codecs), "writer field/codec count mismatch")
	for _, b := range w.buffers {
		if b.Remaining() < n {
			return 0, e57errors.Newf(e57errors.BadAPIArgument, "buffer only has %d records remaining, requested %d", b.Remaining(), n)
		}
	}

	for i := 0; i < n; i++ {
		rec := make([][]byte, len(w.fields))
		for f := range w.fields {
			var buf bytes.Buffer
			if err := w.codecs[f].Encode(w.fields[f], w.buffers[f], 1, &buf); err != nil {
				return i, e57errors.Wrap(e57errors.WriteFailed, err, "encoding field substream")
			}
			rec[f] = buf.Bytes()
		}
		w.pending = append(w.pending, pendingRecord{fields: rec})
		if err := w.flushOverflow(); err != nil {
			return i + 1, err
		}
	}
	return n, nil
}

// flushOverflow writes out every buffered record except the most recently
// appended one as a full page, once adding that last record would make
// the page exceed the store's page payload capacity. This is the "a
// writer fills pages until the next encoded record would overflow ...
// then starts a new page" rule from SPEC_FULL.md §4.E.
func (w *Writer) flushOverflow() error {
	capacity := w.store.PayloadPerPage()
	if uint64(len(packPage(w.pending))) <= capacity {
		return nil
	}
	if len(w.pending) == 1 {
		return e57errors.Newf(e57errors.BadFileLength, "a single record's encoded size exceeds one data page (%d bytes)", capacity)
	}
	overflowing := w.pending[len(w.pending)-1]
	if err := w.writePage(w.pending[:len(w.pending)-1]); err != nil {
		return err
	}
	w.pending = []pendingRecord{overflowing}
	return nil
}

// writePage flushes records as one physical page and advances the
// writer's cursor and the node's recorded payload location/record count.
func (w *Writer) writePage(records []pendingRecord) error {
	payload := packPage(records)
	capacity := w.store.PayloadPerPage()
	newLen := w.cursor + capacity
	if err := w.store.Extend(newLen); err != nil {
		return err
	}
	if err := w.store.Write(w.cursor, payload); err != nil {
		return err
	}
	w.cursor += capacity

	w.node.SetRecordCount(w.node.RecordCount() + int64(len(records)))
	w.node.SetPayloadLocation(int64(w.startOffset), int64(w.cursor-w.startOffset))
	return nil
}

// packPage assembles one data page's payload: a uint32 record count, a
// uint16 field count, a uint32 byte length per field, then the
// concatenated substreams.
func packPage(records []pendingRecord) []byte {
	fieldCount := 0
	if len(records) > 0 {
		fieldCount = len(records[0].fields)
	}
	substreams := make([][]byte, fieldCount)
	for _, rec := range records {
		for f, b := range rec.fields {
			substreams[f] = append(substreams[f], b...)
		}
	}

	var buf bytes.Buffer
	recHdr := make([]byte, pageHeaderRecordCountWidth)
	binary.LittleEndian.PutUint32(recHdr, uint32(len(records)))
	buf.Write(recHdr)
	fieldHdr := make([]byte, pageHeaderFieldCountWidth)
	binary.LittleEndian.PutUint16(fieldHdr, uint16(fieldCount))
	buf.Write(fieldHdr)
	for _, s := range substreams {
		lenHdr := make([]byte, pageHeaderFieldLenWidth)
		binary.LittleEndian.PutUint32(lenHdr, uint32(len(s)))
		buf.Write(lenHdr)
	}
	for _, s := range substreams {
		buf.Write(s)
	}
	return buf.Bytes()
}

// Close flushes any buffered records as a final, possibly short, page and
// detaches the writer from the registry.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	var err error
	if len(w.pending) > 0 {
		err = w.writePage(w.pending)
		w.pending = nil
	}
	w.closed = true
	w.registry.unregisterWriter(w)
	return err
}
