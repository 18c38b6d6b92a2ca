// Package cv implements the compressed-vector I/O registry (spec
// Component E): writers and readers that pack/unpack a CompressedVector
// node's field buffers through a Codec into fixed-size payload pages on
// top of internal/pagestore, enforcing the at-most-one-writer-XOR-many-
// readers invariant.
//
// Grounded on the teacher's go/nbs/table_set.go bookkeeping shape
// (chunkSources held alongside a persister and a concurrency limiter)
// generalized from an immutable set of chunk sources to a single mutable
// writer/reader-set guard.
package cv

import (
	"io"

	"github.com/dolthub/go-e57/internal/tree"
)

// Buffer is a caller-owned source (for writers) or destination (for
// readers) for one prototype field's values: a strided view over raw
// bytes, matching spec.md §4.E's "capability {elementType, stride, count,
// cursor}".
type Buffer struct {
	Data   []byte
	Stride int
	Count  int
	cursor int
}

// Remaining reports how many records of this buffer have not yet been
// consumed (written) or filled (read).
func (b *Buffer) Remaining() int { return b.Count - b.cursor }

func (b *Buffer) slice(n int) []byte {
	start := b.cursor * b.Stride
	end := (b.cursor + n) * b.Stride
	return b.Data[start:end]
}

func (b *Buffer) advance(n int) { b.cursor += n }

// Reset rewinds the buffer's cursor to the start, for reuse across
// repeated Write/Read calls against fresh record batches.
func (b *Buffer) Reset() { b.cursor = 0 }

// Codec is the boundary to the out-of-scope point-codec bitstream: given
// one prototype field and a Buffer of n records, Encode appends their
// encoded bytes to w; Decode is the inverse. This repo ships one
// concrete Codec, RawCodec, below.
type Codec interface {
	tree.Codec
	Encode(field *tree.Node, buf *Buffer, n int, w io.Writer) error
	Decode(field *tree.Node, buf *Buffer, n int, r io.Reader) error
}

// RawCodec stores each field's fixed-width native encoding uncompressed.
// It exists to exercise and test the registry end-to-end; it does not
// implement the real E57 bitstream codec (integer/scaled-integer bit
// packing, float quantization), which spec.md places out of scope.
type RawCodec struct{}

func (RawCodec) Name() string { return "raw" }

func (RawCodec) Encode(field *tree.Node, buf *Buffer, n int, w io.Writer) error {
	_, err := w.Write(buf.slice(n))
	if err != nil {
		return err
	}
	buf.advance(n)
	return nil
}

func (RawCodec) Decode(field *tree.Node, buf *Buffer, n int, r io.Reader) error {
	dst := buf.slice(n)
	if _, err := io.ReadFull(r, dst); err != nil {
		return err
	}
	buf.advance(n)
	return nil
}
