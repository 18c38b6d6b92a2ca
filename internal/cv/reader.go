package cv

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/dolthub/go-e57/e57errors"
	"github.com/dolthub/go-e57/internal/pagestore"
	"github.com/dolthub/go-e57/internal/tree"
)

// Reader drives field-specific decoders over a CompressedVector's
// payload pages. Multiple readers may coexist; none may coexist with a
// writer (invariant 3).
type Reader struct {
	id       uuid.UUID
	node     *tree.Node
	fields   []*tree.Node
	codecs   []Codec
	store    *pagestore.Store
	registry *Registry

	payloadOffset uint64
	payloadLength uint64
	cursor        uint64 // next page's logical offset to load
	recordsRead   int64

	pageFields      []*bytes.Reader // current page's undecoded per-field substreams
	pageRecordsLeft int64           // records left undecoded in the current page

	closed bool
}

// NewReader creates a reader over node's CompressedVector payload. The
// destination buffers are passed to each Read call, one per prototype
// field.
func NewReader(node *tree.Node, store *pagestore.Store, registry *Registry) (*Reader, error) {
	fields := node.Prototype().Children()
	codecs, err := resolveCodecs(node)
	if err != nil {
		return nil, err
	}
	offset, length := node.PayloadLocation()
	r := &Reader{
		id:            uuid.New(),
		node:          node,
		fields:        fields,
		codecs:        codecs,
		store:         store,
		registry:      registry,
		payloadOffset: uint64(offset),
		payloadLength: uint64(length),
		cursor:        uint64(offset),
	}
	if err := registry.registerReader(r); err != nil {
		return nil, err
	}
	return r, nil
}

// Read fills buffers with up to n decoded records, advancing over
// payload pages as needed and carrying any partially-consumed page
// forward to the next call. End of stream returns (0, nil), never an
// error.
func (r *Reader) Read(n int, buffers []*Buffer) (int, error) {
	if r.closed {
		return 0, e57errors.New(e57errors.ImageFileNotOpen, "reader is closed")
	}
	if len(buffers) != len(r.fields) {
		return 0, e57errors.Newf(e57errors.BadAPIArgument, "expected %d field buffers, got %d", len(r.fields), len(buffers))
	}

	total := 0
	for total < n {
		if r.recordsRead >= r.node.RecordCount() {
			break
		}
		if r.pageRecordsLeft == 0 {
			loaded, err := r.loadNextPage()
			if err != nil {
				return total, err
			}
			if !loaded {
				break
			}
		}

		take := int64(n - total)
		if take > r.pageRecordsLeft {
			take = r.pageRecordsLeft
		}
		if remaining := r.node.RecordCount() - r.recordsRead; take > remaining {
			take = remaining
		}
		if take == 0 {
			break
		}

		for i := range r.fields {
			if err := r.codecs[i].Decode(r.fields[i], buffers[i], int(take), r.pageFields[i]); err != nil {
				return total, e57errors.Wrap(e57errors.ReadFailed, err, "decoding field substream")
			}
		}
		r.pageRecordsLeft -= take
		r.recordsRead += take
		total += int(take)
	}
	return total, nil
}

// loadNextPage reads and unpacks the next physical page into
// r.pageFields/r.pageRecordsLeft, advancing r.cursor. It reports false
// (with a nil error) once the payload area is exhausted.
func (r *Reader) loadNextPage() (bool, error) {
	if r.cursor >= r.payloadOffset+r.payloadLength {
		return false, nil
	}
	pageCapacity := r.store.PayloadPerPage()
	raw := make([]byte, pageCapacity)
	if err := r.store.Read(r.cursor, raw); err != nil {
		return false, err
	}
	r.cursor += pageCapacity

	substreams, recordCount, err := unpackPage(raw)
	if err != nil {
		return false, err
	}
	if len(substreams) != len(r.fields) {
		return false, e57errors.Newf(e57errors.BadXMLFormat, "data page declares %d fields, prototype has %d", len(substreams), len(r.fields))
	}
	r.pageFields = make([]*bytes.Reader, len(substreams))
	for i, s := range substreams {
		r.pageFields[i] = bytes.NewReader(s)
	}
	r.pageRecordsLeft = int64(recordCount)
	return true, nil
}

func unpackPage(raw []byte) ([][]byte, int, error) {
	if len(raw) < pageHeaderRecordCountWidth+pageHeaderFieldCountWidth {
		return nil, 0, e57errors.New(e57errors.BadXMLFormat, "data page shorter than its header")
	}
	recordCount := int(binary.LittleEndian.Uint32(raw[:pageHeaderRecordCountWidth]))
	pos := pageHeaderRecordCountWidth
	count := int(binary.LittleEndian.Uint16(raw[pos : pos+pageHeaderFieldCountWidth]))
	pos += pageHeaderFieldCountWidth

	lengths := make([]int, count)
	for i := 0; i < count; i++ {
		if pos+pageHeaderFieldLenWidth > len(raw) {
			return nil, 0, e57errors.New(e57errors.BadXMLFormat, "data page header truncated")
		}
		lengths[i] = int(binary.LittleEndian.Uint32(raw[pos : pos+pageHeaderFieldLenWidth]))
		pos += pageHeaderFieldLenWidth
	}
	out := make([][]byte, count)
	for i, l := range lengths {
		if pos+l > len(raw) {
			return nil, 0, e57errors.New(e57errors.BadXMLFormat, "data page substream truncated")
		}
		out[i] = raw[pos : pos+l]
		pos += l
	}
	return out, recordCount, nil
}

// Close detaches the reader from the registry and never raises. A reader
// that is never closed stays registered until Registry.CloseAll tears it
// down (internal/session does so on Close from OpenRead and on Cancel).
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.registry.unregisterReader(r)
	return nil
}
