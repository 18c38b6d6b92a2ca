package tree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dolthub/go-e57/e57errors"
)

func TestAttachAndResolvePath(t *testing.T) {
	tr := NewTree(false)
	data := NewStructure()
	require.NoError(t, tr.AttachChild(tr.Root(), "data3D", data))
	name := NewString("hello")
	require.NoError(t, tr.AttachChild(data, "guid", name))

	got, ok := tr.ResolvePath("/data3D/guid")
	require.True(t, ok)
	require.Equal(t, "hello", got.StringValue())
}

func TestAttachRejectsDuplicateName(t *testing.T) {
	tr := NewTree(false)
	require.NoError(t, tr.AttachChild(tr.Root(), "a", NewString("1")))
	err := tr.AttachChild(tr.Root(), "a", NewString("2"))
	require.True(t, e57errors.Is(err, e57errors.PathAlreadyExists))
}

func TestAttachRejectsReattachment(t *testing.T) {
	tr := NewTree(false)
	child := NewString("x")
	require.NoError(t, tr.AttachChild(tr.Root(), "a", child))
	err := tr.AttachChild(tr.Root(), "b", child)
	require.True(t, e57errors.Is(err, e57errors.AlreadyHasParent))
}

func TestAttachRejectsUndeclaredPrefix(t *testing.T) {
	tr := NewTree(false)
	err := tr.AttachChild(tr.Root(), "ext:thing", NewString("x"))
	require.True(t, e57errors.Is(err, e57errors.UndefinedNamespacePrefix))
}

func TestAttachAllowsDeclaredPrefix(t *testing.T) {
	tr := NewTree(false)
	require.NoError(t, tr.Registry().Add("ext", "http://example.com/ext"))
	require.NoError(t, tr.AttachChild(tr.Root(), "ext:thing", NewString("x")))
}

func TestDetachClearsParent(t *testing.T) {
	tr := NewTree(false)
	child := NewString("x")
	require.NoError(t, tr.AttachChild(tr.Root(), "a", child))
	require.NoError(t, tr.Detach(child))
	require.False(t, child.Attached())
	require.Nil(t, child.Parent())
}

func TestVectorHomogeneityEnforced(t *testing.T) {
	tr := NewTree(false)
	v := NewVector(false)
	require.NoError(t, tr.AttachChild(tr.Root(), "v", v))
	require.NoError(t, tr.AppendChild(v, NewInteger(1, 0, 10)))
	err := tr.AppendChild(v, NewString("nope"))
	require.Error(t, err)
}

func TestIntegerRangeEnforced(t *testing.T) {
	n := NewInteger(5, 0, 10)
	require.NoError(t, n.SetIntegerValue(7))
	err := n.SetIntegerValue(99)
	require.True(t, e57errors.Is(err, e57errors.ValueOutOfBounds))
}

func TestRegistryBijection(t *testing.T) {
	r := NewRegistry(false)
	require.NoError(t, r.Add("a", "urn:a"))
	err := r.Add("a", "urn:b")
	require.True(t, e57errors.Is(err, e57errors.DuplicatePrefix))
	err = r.Add("b", "urn:a")
	require.True(t, e57errors.Is(err, e57errors.DuplicateURI))

	uri, ok := r.LookupPrefix("a")
	require.True(t, ok)
	require.Equal(t, "urn:a", uri)

	p, ok := r.PrefixAt(0)
	require.True(t, ok)
	require.Equal(t, "a", p)
}

func TestCheckInvariantRejectsOutOfBoundsBlobPayload(t *testing.T) {
	tr := NewTree(true)
	blob := NewBlob(10)
	require.NoError(t, tr.AttachChild(tr.Root(), "b", blob))
	blob.SetBlobLocation(10, 1000)
	tr.SetPayloadLimit(100)

	err := tr.CheckInvariant(true)
	require.True(t, e57errors.Is(err, e57errors.BadFileLength))
}

func TestCheckInvariantRejectsOutOfBoundsCompressedVectorPayload(t *testing.T) {
	tr := NewTree(true)
	proto := NewStructure()
	require.NoError(t, tr.AttachChild(tr.Root(), "proto", proto))
	require.NoError(t, tr.AttachChild(proto, "x", NewInteger(0, 0, 10)))
	cvNode := NewCompressedVector(proto, nil)
	require.NoError(t, tr.AttachChild(tr.Root(), "points", cvNode))
	cvNode.SetPayloadLocation(50, 100)
	tr.SetPayloadLimit(80)

	err := tr.CheckInvariant(true)
	require.True(t, e57errors.Is(err, e57errors.BadFileLength))
}

func TestCheckInvariantSkipsPayloadBoundsUntilLimitIsSet(t *testing.T) {
	tr := NewTree(false)
	blob := NewBlob(10)
	require.NoError(t, tr.AttachChild(tr.Root(), "b", blob))
	blob.SetBlobLocation(10, 1000) // would violate any real limit

	require.NoError(t, tr.CheckInvariant(true))
}

func TestParseElementName(t *testing.T) {
	prefix, local, ok := ParseElementName("ext:thing")
	require.True(t, ok)
	require.Equal(t, "ext", prefix)
	require.Equal(t, "thing", local)

	_, _, ok = ParseElementName("not a name")
	require.False(t, ok)

	require.True(t, IsElementNameExtended("ext:thing"))
	require.False(t, IsElementNameExtended("thing"))
}
