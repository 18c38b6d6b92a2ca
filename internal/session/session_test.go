package session

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dolthub/go-e57/e57cfg"
	"github.com/dolthub/go-e57/e57errors"
	"github.com/dolthub/go-e57/internal/cv"
	"github.com/dolthub/go-e57/internal/tree"
)

func tmpPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "scan.e57")
}

func TestOpenWriteCloseThenReopenRead(t *testing.T) {
	path := tmpPath(t)
	cfg := e57cfg.Default()

	w, err := OpenWriteFile(path, 100, cfg)
	require.NoError(t, err)
	require.Equal(t, OpenWrite, w.State())
	require.NoError(t, w.Tree().AttachChild(w.Root(), "guid", tree.NewString("abc-123")))
	require.NoError(t, w.Close())
	require.Equal(t, Closed, w.State())

	_, err = os.Stat(path)
	require.NoError(t, err)

	r, err := OpenReadFile(path, 100, cfg)
	require.NoError(t, err)
	require.Equal(t, OpenRead, r.State())
	require.False(t, r.IsWritable())
	require.NoError(t, r.Close())
}

func TestCloseRejectsWhileWriterLive(t *testing.T) {
	path := tmpPath(t)
	s, err := OpenWriteFile(path, 100, e57cfg.Default())
	require.NoError(t, err)

	proto := tree.NewStructure()
	require.NoError(t, s.Tree().AttachChild(s.Root(), "proto", proto))
	require.NoError(t, s.Tree().AttachChild(proto, "x", tree.NewInteger(0, 0, 1<<20)))
	cvNode := tree.NewCompressedVector(proto, []tree.Codec{cv.RawCodec{}})
	require.NoError(t, s.Tree().AttachChild(s.Root(), "points", cvNode))

	buf := &cv.Buffer{Data: make([]byte, 4), Stride: 4, Count: 1}
	w, err := s.NewWriter(cvNode, []*cv.Buffer{buf})
	require.NoError(t, err)

	err = s.Close()
	require.Error(t, err)
	require.True(t, e57errors.Is(err, e57errors.BadAPIArgument))

	require.NoError(t, w.Close())
	s.Cancel()
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestCancelUnlinksFile(t *testing.T) {
	path := tmpPath(t)
	s, err := OpenWriteFile(path, 100, e57cfg.Default())
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)

	s.Cancel()
	require.Equal(t, Closed, s.State())

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestCancelFromClosedIsNoOp(t *testing.T) {
	path := tmpPath(t)
	s, err := OpenWriteFile(path, 100, e57cfg.Default())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s.Cancel() // must not panic or attempt to re-unlink
	require.Equal(t, Closed, s.State())
	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}

func TestOpenReadMemoryRoundTrip(t *testing.T) {
	path := tmpPath(t)
	w, err := OpenWriteFile(path, 100, e57cfg.Default())
	require.NoError(t, err)
	require.NoError(t, w.Tree().AttachChild(w.Root(), "guid", tree.NewString("abc")))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	r, err := OpenReadMemory(data, 100, e57cfg.Default())
	require.NoError(t, err)
	got, ok := r.Tree().ResolvePath("/guid")
	require.True(t, ok)
	require.Equal(t, "abc", got.StringValue())
}

// TestOpenReadRejectsOutOfBoundsBlobPayload mirrors store_test.go's
// TestBadChecksumDetected: write a file that is valid except for one
// forged detail, then confirm reopening for read raises the right error.
// Here the forged detail is a Blob whose recorded payload location falls
// outside the file's payload area (invariant 5), rather than a corrupted
// checksum byte.
func TestOpenReadRejectsOutOfBoundsBlobPayload(t *testing.T) {
	path := tmpPath(t)
	w, err := OpenWriteFile(path, 100, e57cfg.Default())
	require.NoError(t, err)

	blob := tree.NewBlob(10)
	require.NoError(t, w.Tree().AttachChild(w.Root(), "thumbnail", blob))
	blob.SetBlobLocation(10, 10_000_000) // far past where the XML section will land
	require.NoError(t, w.Close())

	_, err = OpenReadFile(path, 100, e57cfg.Default())
	require.True(t, e57errors.Is(err, e57errors.BadFileLength))
}

func TestWriteBlobThenReadBlobRoundTrip(t *testing.T) {
	path := tmpPath(t)
	w, err := OpenWriteFile(path, 100, e57cfg.Default())
	require.NoError(t, err)

	blob := tree.NewBlob(0)
	require.NoError(t, w.Tree().AttachChild(w.Root(), "thumbnail", blob))
	want := []byte("a tiny jpeg, pretend")
	require.NoError(t, w.WriteBlob(blob, want))
	require.NoError(t, w.Close())

	r, err := OpenReadFile(path, 100, e57cfg.Default())
	require.NoError(t, err)
	got, ok := r.Tree().ResolvePath("/thumbnail")
	require.True(t, ok)
	data, err := r.ReadBlob(got)
	require.NoError(t, err)
	require.Equal(t, want, data)
	require.NoError(t, r.Close())
}

// TestWriteCompressedVectorThenCloseThenReopen exercises the full
// "write points then close" path against a small page size (the smallest
// power of two whose page payload still holds the 48-byte header), so
// the payload area fills a data page and the XML section lands at a
// logical offset that is a multiple of payloadPerPage but not of the
// full physical page size (60 vs. 64 here) - the combination that used
// to fail both the stale-LogicalLength bug and the XML-offset alignment
// check's wrong modulus.
func TestWriteCompressedVectorThenCloseThenReopen(t *testing.T) {
	path := tmpPath(t)
	cfg := e57cfg.Default()
	cfg.PageSize = 64

	w, err := OpenWriteFile(path, 100, cfg)
	require.NoError(t, err)

	proto := tree.NewStructure()
	require.NoError(t, w.Tree().AttachChild(w.Root(), "proto", proto))
	require.NoError(t, w.Tree().AttachChild(proto, "x", tree.NewInteger(0, 0, 1<<20)))
	cvNode := tree.NewCompressedVector(proto, []tree.Codec{cv.RawCodec{}})
	require.NoError(t, w.Tree().AttachChild(w.Root(), "points", cvNode))

	values := []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	raw := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(raw[i*4:], uint32(v))
	}
	buf := &cv.Buffer{Data: raw, Stride: 4, Count: len(values)}
	writer, err := w.NewWriter(cvNode, []*cv.Buffer{buf})
	require.NoError(t, err)
	n, err := writer.Write(len(values))
	require.NoError(t, err)
	require.Equal(t, len(values), n)
	require.NoError(t, writer.Close())
	require.NoError(t, w.Close())

	r, err := OpenReadFile(path, 100, cfg)
	require.NoError(t, err)
	got, ok := r.Tree().ResolvePath("/points")
	require.True(t, ok)
	require.Equal(t, int64(len(values)), got.RecordCount())

	reader, err := r.NewReader(got)
	require.NoError(t, err)
	dst := make([]byte, 4*len(values))
	read, err := reader.Read(len(values), []*cv.Buffer{{Data: dst, Stride: 4, Count: len(values)}})
	require.NoError(t, err)
	require.Equal(t, len(values), read)
	for i, want := range values {
		require.Equal(t, uint32(want), binary.LittleEndian.Uint32(dst[i*4:]))
	}
	require.NoError(t, reader.Close())
	require.NoError(t, r.Close())
}

func TestEqualComparesIdentity(t *testing.T) {
	a, err := OpenWriteFile(tmpPath(t), 100, e57cfg.Default())
	require.NoError(t, err)
	defer a.Cancel()
	b, err := OpenWriteFile(tmpPath(t), 100, e57cfg.Default())
	require.NoError(t, err)
	defer b.Cancel()

	require.True(t, a.Equal(a))
	require.False(t, a.Equal(b))
}
