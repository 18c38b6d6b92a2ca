package cv

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dolthub/go-e57/e57errors"
	"github.com/dolthub/go-e57/internal/pagestore"
	"github.com/dolthub/go-e57/internal/tree"
)

func buildNode(t *testing.T) (*tree.Tree, *tree.Node) {
	tr := tree.NewTree(false)
	proto := tree.NewStructure()
	require.NoError(t, tr.AttachChild(tr.Root(), "proto", proto))
	require.NoError(t, tr.AttachChild(proto, "x", tree.NewInteger(0, 0, 1<<30)))
	cvNode := tree.NewCompressedVector(proto, []tree.Codec{RawCodec{}})
	require.NoError(t, tr.AttachChild(tr.Root(), "points", cvNode))
	return tr, cvNode
}

func int32Buffer(values []int32) *Buffer {
	data := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], uint32(v))
	}
	return &Buffer{Data: data, Stride: 4, Count: len(values)}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	store := pagestore.CreateMemory(pagestore.Options{PageSize: 64, ChecksumPolicy: 100})
	_, cvNode := buildNode(t)
	registry := NewRegistry()

	values := []int32{1, 2, 3, 4}
	w, err := NewWriter(cvNode, []*Buffer{int32Buffer(values)}, store, registry)
	require.NoError(t, err)
	n, err := w.Write(4)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.NoError(t, w.Close())
	require.NoError(t, store.Flush())
	require.Equal(t, int64(4), cvNode.RecordCount())

	registry2 := NewRegistry()
	dst := make([]byte, 4*4)
	r, err := NewReader(cvNode, store, registry2)
	require.NoError(t, err)
	got, err := r.Read(4, []*Buffer{{Data: dst, Stride: 4, Count: 4}})
	require.NoError(t, err)
	require.Equal(t, 4, got)
	for i, want := range values {
		require.Equal(t, uint32(want), binary.LittleEndian.Uint32(dst[i*4:]))
	}
	require.NoError(t, r.Close())
}

// TestWriteInUnequalBatchesReadInDifferentChunking writes records in two
// separate Write calls against a page size small enough to force three
// data pages, then reads them back with a chunking that doesn't line up
// with either the write batches or the page boundaries, verifying a
// page's own record count (not the caller's requested count) drives
// decoding.
func TestWriteInUnequalBatchesReadInDifferentChunking(t *testing.T) {
	// payloadPerPage = PageSize - checksumSize(4) = 20; packPage's fixed
	// header is 4+2+4 = 10 bytes, so two int32 (4-byte) records fit (18
	// bytes) but three overflow (22 bytes) -- exactly two records per page.
	store := pagestore.CreateMemory(pagestore.Options{PageSize: 24, ChecksumPolicy: 100})
	_, cvNode := buildNode(t)
	registry := NewRegistry()

	values := []int32{1, 2, 3, 4, 5, 6}
	w, err := NewWriter(cvNode, []*Buffer{int32Buffer(values)}, store, registry)
	require.NoError(t, err)
	n, err := w.Write(3)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	n, err = w.Write(3)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, w.Close())
	require.NoError(t, store.Flush())
	require.Equal(t, int64(6), cvNode.RecordCount())

	registry2 := NewRegistry()
	r, err := NewReader(cvNode, store, registry2)
	require.NoError(t, err)

	dst1 := make([]byte, 4*4)
	got, err := r.Read(4, []*Buffer{{Data: dst1, Stride: 4, Count: 4}})
	require.NoError(t, err)
	require.Equal(t, 4, got)
	for i, want := range values[:4] {
		require.Equal(t, uint32(want), binary.LittleEndian.Uint32(dst1[i*4:]))
	}

	dst2 := make([]byte, 2*4)
	got, err = r.Read(2, []*Buffer{{Data: dst2, Stride: 4, Count: 2}})
	require.NoError(t, err)
	require.Equal(t, 2, got)
	for i, want := range values[4:] {
		require.Equal(t, uint32(want), binary.LittleEndian.Uint32(dst2[i*4:]))
	}

	require.NoError(t, r.Close())
}

func TestRegistryEnforcesWriterExclusivity(t *testing.T) {
	store := pagestore.CreateMemory(pagestore.Options{PageSize: 64, ChecksumPolicy: 100})
	_, cvNode := buildNode(t)
	registry := NewRegistry()

	w, err := NewWriter(cvNode, []*Buffer{int32Buffer([]int32{1})}, store, registry)
	require.NoError(t, err)

	_, err = NewWriter(cvNode, []*Buffer{int32Buffer([]int32{1})}, store, registry)
	require.True(t, e57errors.Is(err, e57errors.BadAPIArgument))

	require.NoError(t, w.Close())
}

// TestConcurrentReadersFanOut drives several readers over the same
// compressed-vector payload concurrently via errgroup, exercising
// invariant 3's "many readers" side and the registry's RWMutex guard.
func TestConcurrentReadersFanOut(t *testing.T) {
	store := pagestore.CreateMemory(pagestore.Options{PageSize: 64, ChecksumPolicy: 100})
	_, cvNode := buildNode(t)
	registry := NewRegistry()

	values := []int32{10, 20, 30, 40}
	w, err := NewWriter(cvNode, []*Buffer{int32Buffer(values)}, store, registry)
	require.NoError(t, err)
	_, err = w.Write(4)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, store.Flush())

	const fanout = 8
	var g errgroup.Group
	for i := 0; i < fanout; i++ {
		g.Go(func() error {
			r, err := NewReader(cvNode, store, registry)
			if err != nil {
				return err
			}
			defer r.Close()
			dst := make([]byte, 4*4)
			got, err := r.Read(4, []*Buffer{{Data: dst, Stride: 4, Count: 4}})
			if err != nil {
				return err
			}
			if got != 4 {
				return e57errors.Newf(e57errors.Internal, "expected 4 records, got %d", got)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestReaderRejectedWhileWriterLive(t *testing.T) {
	store := pagestore.CreateMemory(pagestore.Options{PageSize: 64, ChecksumPolicy: 100})
	_, cvNode := buildNode(t)
	registry := NewRegistry()

	w, err := NewWriter(cvNode, []*Buffer{int32Buffer([]int32{1})}, store, registry)
	require.NoError(t, err)

	_, err = NewReader(cvNode, store, registry)
	require.Error(t, err)

	require.NoError(t, w.Close())
}
