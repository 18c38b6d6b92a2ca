package e57

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dolthub/go-e57/e57errors"
)

func tmpPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "scan.e57")
}

// Scenario A (spec.md §8): write a file with a declared extension and an
// Integer child, close, reopen for read, and check both survived.
func TestScenarioA_ExtensionAndChildSurviveRoundTrip(t *testing.T) {
	path := tmpPath(t)
	w, err := Create(path, 100)
	require.NoError(t, err)
	require.NoError(t, w.ExtensionsAdd("demo", "http://example.com/D"))

	err = w.s.Tree().AttachChild(w.Root(), "value", NewInteger(7, 0, 100))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := Open(path, 100)
	require.NoError(t, err)
	require.Equal(t, 1, r.ExtensionsCount())
	uri, ok := r.ExtensionsLookupPrefix("demo")
	require.True(t, ok)
	require.Equal(t, "http://example.com/D", uri)

	child, ok := r.Root().ChildByName("value")
	require.True(t, ok)
	require.Equal(t, KindInteger, child.Kind())
	v, _, _ := child.IntegerValue()
	require.Equal(t, int64(7), v)
	require.NoError(t, r.Close())
}

// Scenario B: duplicate prefix/URI declarations are rejected.
func TestScenarioB_DuplicatePrefixAndURIRejected(t *testing.T) {
	w, err := Create(tmpPath(t), 100)
	require.NoError(t, err)
	defer w.Cancel()

	require.NoError(t, w.ExtensionsAdd("x", "U1"))
	err = w.ExtensionsAdd("x", "U2")
	require.True(t, e57errors.Is(err, e57errors.DuplicatePrefix))

	err = w.ExtensionsAdd("y", "U1")
	require.True(t, e57errors.Is(err, e57errors.DuplicateURI))
}

// Scenario C: at most one writer XOR any number of readers.
func TestScenarioC_WriterExclusivity(t *testing.T) {
	w, err := Create(tmpPath(t), 100)
	require.NoError(t, err)
	defer w.Cancel()

	proto := NewStructure()
	require.NoError(t, w.s.Tree().AttachChild(w.Root(), "proto", proto))
	require.NoError(t, w.s.Tree().AttachChild(proto, "a", NewFloat(0, -1, 1, Single)))
	require.NoError(t, w.s.Tree().AttachChild(proto, "b", NewFloat(0, -1, 1, Single)))
	cvNode := NewCompressedVector(proto, []Codec{RawCodec})
	require.NoError(t, w.s.Tree().AttachChild(w.Root(), "points", cvNode))

	buffers := []*Buffer{
		{Data: make([]byte, 4), Stride: 4, Count: 1},
		{Data: make([]byte, 4), Stride: 4, Count: 1},
	}
	writer, err := w.NewWriter(cvNode, buffers)
	require.NoError(t, err)

	_, err = w.NewReader(cvNode)
	require.True(t, e57errors.Is(err, e57errors.BadAPIArgument))

	require.NoError(t, writer.Close())

	r1, err := w.NewReader(cvNode)
	require.NoError(t, err)
	r2, err := w.NewReader(cvNode)
	require.NoError(t, err)
	require.NoError(t, r1.Close())
	require.NoError(t, r2.Close())
}

// Scenario D: dropping a write session without closing leaves no file.
func TestScenarioD_CancelOnDropLeavesNoFile(t *testing.T) {
	path := tmpPath(t)
	w, err := Create(path, 100)
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)

	w.Cancel() // the explicit equivalent of an abnormal drop; see DESIGN.md

	_, statErr = os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

// Scenario F: elementNameParse is total on legal names and rejects the
// rest with BadPathName.
func TestScenarioF_ElementNameParse(t *testing.T) {
	prefix, local, ok := ElementNameParse("foo")
	require.True(t, ok)
	require.Equal(t, "", prefix)
	require.Equal(t, "foo", local)

	prefix, local, ok = ElementNameParse("a:b")
	require.True(t, ok)
	require.Equal(t, "a", prefix)
	require.Equal(t, "b", local)

	_, _, ok = ElementNameParse("1bad")
	require.False(t, ok)

	_, _, ok = ElementNameParse("a::b")
	require.False(t, ok)
}

// TestWriteBlobThenReadBlobRoundTrip exercises the public Blob payload
// write/read entry points, the counterpart to Scenario C's
// NewWriter/NewReader for CompressedVector.
func TestWriteBlobThenReadBlobRoundTrip(t *testing.T) {
	path := tmpPath(t)
	w, err := Create(path, 100)
	require.NoError(t, err)

	blob := NewBlob(0)
	require.NoError(t, w.s.Tree().AttachChild(w.Root(), "thumbnail", blob))
	want := []byte{1, 2, 3, 4, 5}
	require.NoError(t, w.WriteBlob(blob, want))
	require.NoError(t, w.Close())

	r, err := Open(path, 100)
	require.NoError(t, err)
	child, ok := r.Root().ChildByName("thumbnail")
	require.True(t, ok)
	got, err := r.ReadBlob(child)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.NoError(t, r.Close())
}

func TestEqualAndInvariantCheck(t *testing.T) {
	path := tmpPath(t)
	w, err := Create(path, 100)
	require.NoError(t, err)
	defer w.Cancel()

	require.True(t, w.Equal(w))
	require.False(t, w.Equal(nil))
	require.NoError(t, w.CheckInvariant(true))
}
