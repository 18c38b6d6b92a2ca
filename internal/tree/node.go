// Package tree implements the typed node tree (spec Component C) and the
// namespace registry attached to it (Component D). A Node is modeled as
// one tagged-union struct rather than an interface hierarchy per variant,
// matching the way the teacher's Noms value layer tags a Value's shape
// with a Kind and a Desc rather than giving each kind its own dynamic
// type hierarchy (types.NomsKind + Type.Desc in types/type.go).
package tree

import (
	"encoding/xml"

	"github.com/dolthub/go-e57/e57errors"
	"github.com/dolthub/go-e57/internal/assert"
)

// Kind tags which of the seven Node variants a Node holds. KindOpaque is
// an eighth, internal-only tag for unrecognized subtrees the XML bridge
// preserves verbatim; it is never produced by the public constructors.
type Kind int

const (
	KindInteger Kind = iota
	KindScaledInteger
	KindFloat
	KindString
	KindBlob
	KindStructure
	KindVector
	KindCompressedVector
	KindOpaque
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "Integer"
	case KindScaledInteger:
		return "ScaledInteger"
	case KindFloat:
		return "Float"
	case KindString:
		return "String"
	case KindBlob:
		return "Blob"
	case KindStructure:
		return "Structure"
	case KindVector:
		return "Vector"
	case KindCompressedVector:
		return "CompressedVector"
	case KindOpaque:
		return "Opaque"
	default:
		return "Unknown"
	}
}

// Precision distinguishes Float variant widths.
type Precision int

const (
	Single Precision = iota
	Double
)

// Codec is the minimal shape internal/tree needs from internal/cv's Codec
// interface for a CompressedVector's codec list; the concrete type lives
// in internal/cv to avoid an import cycle (cv depends on tree for the
// prototype Structure, not the other way around).
type Codec interface {
	Name() string
}

// Node is the sum type over all seven E57 value variants plus the shared
// attach/ownership bookkeeping every variant carries.
type Node struct {
	kind Kind

	// Shared bookkeeping (spec.md §3 "Every node carries").
	attached bool
	parent   *Node
	name     string
	owner    *Tree

	// Structure / Vector / CompressedVector children, ordered.
	children     []*Node
	childIndex   map[string]int // Structure only
	heterogeneous bool          // Vector only: allowHeterogeneousChildren

	// Integer
	intValue, intMin, intMax int64

	// ScaledInteger
	siRaw, siMin, siMax   int64
	siScale, siOffset     float64

	// Float
	floatValue, floatMin, floatMax float64
	precision                      Precision

	// String
	text string

	// Blob
	blobLength int64
	blobOffset int64

	// CompressedVector
	prototype   *Node
	codecs      []Codec
	recordCount int64
	cvOffset    int64
	cvLength    int64

	// Opaque (round-tripped unrecognized subtree)
	opaqueTokens []xml.Token
}

// Kind reports the Node's variant.
func (n *Node) Kind() Kind { return n.kind }

// Name returns the element name the node is attached under, or "" for an
// unattached node or the tree root.
func (n *Node) Name() string { return n.name }

// Attached reports whether the node currently has a parent (always false
// for the root).
func (n *Node) Attached() bool { return n.attached }

// Parent returns the node's parent, or nil if detached or root.
func (n *Node) Parent() *Node { return n.parent }

// NewInteger constructs a detached Integer node.
func NewInteger(value, min, max int64) *Node {
	return &Node{kind: KindInteger, intValue: value, intMin: min, intMax: max}
}

// IntegerValue returns the Integer variant's value, min, and max.
func (n *Node) IntegerValue() (value, min, max int64) {
	assert.True(n.kind == KindInteger, "IntegerValue called on %s node", n.kind)
	return n.intValue, n.intMin, n.intMax
}

// SetIntegerValue updates an Integer node's value, enforcing its
// declared range.
func (n *Node) SetIntegerValue(value int64) error {
	assert.True(n.kind == KindInteger, "SetIntegerValue called on %s node", n.kind)
	if value < n.intMin || value > n.intMax {
		return e57errors.Newf(e57errors.ValueOutOfBounds, "integer value %d outside [%d,%d]", value, n.intMin, n.intMax)
	}
	n.intValue = value
	return nil
}

// NewScaledInteger constructs a detached ScaledInteger node.
func NewScaledInteger(raw, min, max int64, scale, offset float64) *Node {
	return &Node{kind: KindScaledInteger, siRaw: raw, siMin: min, siMax: max, siScale: scale, siOffset: offset}
}

// ScaledIntegerValue returns the ScaledInteger variant's raw value,
// bounds, scale, and offset.
func (n *Node) ScaledIntegerValue() (raw, min, max int64, scale, offset float64) {
	assert.True(n.kind == KindScaledInteger, "ScaledIntegerValue called on %s node", n.kind)
	return n.siRaw, n.siMin, n.siMax, n.siScale, n.siOffset
}

// SetScaledIntegerValue updates the raw value, enforcing its declared
// integer range (the scaled physical value is raw*scale+offset; range
// checking happens on the raw encoding per the E57 convention of storing
// bounds in raw units).
func (n *Node) SetScaledIntegerValue(raw int64) error {
	assert.True(n.kind == KindScaledInteger, "SetScaledIntegerValue called on %s node", n.kind)
	if raw < n.siMin || raw > n.siMax {
		return e57errors.Newf(e57errors.ValueOutOfBounds, "scaled integer raw value %d outside [%d,%d]", raw, n.siMin, n.siMax)
	}
	n.siRaw = raw
	return nil
}

// NewFloat constructs a detached Float node.
func NewFloat(value, min, max float64, precision Precision) *Node {
	return &Node{kind: KindFloat, floatValue: value, floatMin: min, floatMax: max, precision: precision}
}

// FloatValue returns the Float variant's value, min, max, and precision.
func (n *Node) FloatValue() (value, min, max float64, precision Precision) {
	assert.True(n.kind == KindFloat, "FloatValue called on %s node", n.kind)
	return n.floatValue, n.floatMin, n.floatMax, n.precision
}

// SetFloatValue updates a Float node's value, enforcing its declared range.
func (n *Node) SetFloatValue(value float64) error {
	assert.True(n.kind == KindFloat, "SetFloatValue called on %s node", n.kind)
	if value < n.floatMin || value > n.floatMax {
		return e57errors.Newf(e57errors.ValueOutOfBounds, "float value %v outside [%v,%v]", value, n.floatMin, n.floatMax)
	}
	n.floatValue = value
	return nil
}

// NewString constructs a detached String node.
func NewString(text string) *Node {
	return &Node{kind: KindString, text: text}
}

// StringValue returns the String variant's text.
func (n *Node) StringValue() string {
	assert.True(n.kind == KindString, "StringValue called on %s node", n.kind)
	return n.text
}

// SetStringValue replaces a String node's text.
func (n *Node) SetStringValue(text string) {
	assert.True(n.kind == KindString, "SetStringValue called on %s node", n.kind)
	n.text = text
}

// NewBlob constructs a detached Blob node. offset/length describe where
// the backing payload bytes live in the session's payload area; they are
// set by internal/session once the blob is written, so a freshly
// constructed Blob carries the given length at offset 0.
func NewBlob(length int64) *Node {
	return &Node{kind: KindBlob, blobLength: length}
}

// BlobLocation returns the Blob variant's logical length and payload
// offset.
func (n *Node) BlobLocation() (length, offset int64) {
	assert.True(n.kind == KindBlob, "BlobLocation called on %s node", n.kind)
	return n.blobLength, n.blobOffset
}

// SetBlobLocation records where a Blob's payload bytes were written.
// Called by internal/session, not by ordinary tree callers.
func (n *Node) SetBlobLocation(length, offset int64) {
	assert.True(n.kind == KindBlob, "SetBlobLocation called on %s node", n.kind)
	n.blobLength = length
	n.blobOffset = offset
}

// NewStructure constructs a detached, empty Structure node.
func NewStructure() *Node {
	return &Node{kind: KindStructure, childIndex: make(map[string]int)}
}

// NewVector constructs a detached, empty Vector node.
func NewVector(allowHeterogeneousChildren bool) *Node {
	return &Node{kind: KindVector, heterogeneous: allowHeterogeneousChildren}
}

// AllowsHeterogeneousChildren reports a Vector's declared flag.
func (n *Node) AllowsHeterogeneousChildren() bool {
	assert.True(n.kind == KindVector, "AllowsHeterogeneousChildren called on %s node", n.kind)
	return n.heterogeneous
}

// NewCompressedVector constructs a detached CompressedVector node whose
// prototype must be a Structure describing one record's fields.
func NewCompressedVector(prototype *Node, codecs []Codec) *Node {
	assert.True(prototype.kind == KindStructure, "CompressedVector prototype must be a Structure, got %s", prototype.kind)
	return &Node{kind: KindCompressedVector, prototype: prototype, codecs: codecs}
}

// Prototype returns a CompressedVector's record-shape Structure.
func (n *Node) Prototype() *Node {
	assert.True(n.kind == KindCompressedVector, "Prototype called on %s node", n.kind)
	return n.prototype
}

// Codecs returns a CompressedVector's per-field codec list.
func (n *Node) Codecs() []Codec {
	assert.True(n.kind == KindCompressedVector, "Codecs called on %s node", n.kind)
	return n.codecs
}

// RecordCount returns a CompressedVector's current record count.
func (n *Node) RecordCount() int64 {
	assert.True(n.kind == KindCompressedVector, "RecordCount called on %s node", n.kind)
	return n.recordCount
}

// SetRecordCount is called by internal/cv's Writer as records are
// appended.
func (n *Node) SetRecordCount(count int64) {
	assert.True(n.kind == KindCompressedVector, "SetRecordCount called on %s node", n.kind)
	n.recordCount = count
}

// PayloadLocation returns a CompressedVector's backing payload offset and
// byte length.
func (n *Node) PayloadLocation() (offset, length int64) {
	assert.True(n.kind == KindCompressedVector, "PayloadLocation called on %s node", n.kind)
	return n.cvOffset, n.cvLength
}

// SetPayloadLocation records where a CompressedVector's payload pages
// were written.
func (n *Node) SetPayloadLocation(offset, length int64) {
	assert.True(n.kind == KindCompressedVector, "SetPayloadLocation called on %s node", n.kind)
	n.cvOffset = offset
	n.cvLength = length
}

// Children returns a Structure's or Vector's children in order. It
// panics for leaf variants.
func (n *Node) Children() []*Node {
	assert.True(n.kind == KindStructure || n.kind == KindVector, "Children called on %s node", n.kind)
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// ChildByName looks up a Structure's child by name. It panics if called
// on a non-Structure.
func (n *Node) ChildByName(name string) (*Node, bool) {
	assert.True(n.kind == KindStructure, "ChildByName called on %s node", n.kind)
	idx, ok := n.childIndex[name]
	if !ok {
		return nil, false
	}
	return n.children[idx], true
}

// Path returns the slash-delimited path from the tree root to this node.
func (n *Node) Path() string {
	if n.parent == nil {
		return "/"
	}
	segments := []string{}
	for cur := n; cur.parent != nil; cur = cur.parent {
		segments = append([]string{cur.name}, segments...)
	}
	path := ""
	for _, s := range segments {
		path += "/" + s
	}
	return path
}

func (n *Node) detach() {
	n.attached = false
	n.parent = nil
	n.name = ""
}

// NewOpaque wraps a captured token slice from an unrecognized element so
// internal/xmlbridge can replay it verbatim on the next Serialize.
func NewOpaque(tokens []xml.Token) *Node {
	return &Node{kind: KindOpaque, opaqueTokens: tokens}
}

// OpaqueTokens returns the raw tokens captured for a KindOpaque node.
func (n *Node) OpaqueTokens() []xml.Token {
	assert.True(n.kind == KindOpaque, "OpaqueTokens called on %s node", n.kind)
	return n.opaqueTokens
}

// SetPendingName is used only by internal/xmlbridge while reconstructing
// a node from XML, before the node has a real parent to attach under.
func (n *Node) SetPendingName(name string) { n.name = name }

// AttachDecodedChild attaches an already-constructed child (with a name
// already set via SetPendingName) under a Structure being reconstructed
// by internal/xmlbridge. Unlike Tree.AttachChild, it does not consult a
// namespace registry — the document was already valid when it was
// serialized — but it still enforces name uniqueness.
func (n *Node) AttachDecodedChild(child *Node) error {
	assert.True(n.kind == KindStructure, "AttachDecodedChild called on %s node", n.kind)
	if _, exists := n.childIndex[child.name]; exists {
		return e57errors.Newf(e57errors.PathAlreadyExists, "child %q already exists", child.name)
	}
	idx := len(n.children)
	n.children = append(n.children, child)
	n.childIndex[child.name] = idx
	child.attached = true
	child.parent = n
	return nil
}

// AppendDecoded appends an already-constructed child to a Vector being
// reconstructed by internal/xmlbridge.
func (n *Node) AppendDecoded(child *Node) {
	assert.True(n.kind == KindVector, "AppendDecoded called on %s node", n.kind)
	n.children = append(n.children, child)
	child.attached = true
	child.parent = n
}

// ResetDecodedAttachment clears the attached/parent bookkeeping
// internal/xmlbridge set while nesting a node under its throwaway
// top-level root element, so the node can be re-attached under a real
// tree via Tree.AttachChild (which rejects already-attached nodes).
func (n *Node) ResetDecodedAttachment() {
	n.attached = false
	n.parent = nil
}
