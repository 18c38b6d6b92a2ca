package xmlbridge

import (
	"bytes"
	"encoding/xml"
	"io"
	"strconv"

	"github.com/dolthub/go-e57/e57errors"
	"github.com/dolthub/go-e57/internal/cv"
	"github.com/dolthub/go-e57/internal/tree"
)

// opaqueSubtree captures an element this bridge does not recognize (an
// element in an unknown namespace, or with no e57Kind attribute) as a
// raw token slice, replayed verbatim on the next Serialize so
// forward-compatible extensions round-trip unchanged.
type opaqueSubtree struct {
	tokens []xml.Token
}

// Parse decodes an XML document produced by Serialize (or a
// forward-compatible variant of it) into a fresh Tree. readOnly marks
// the resulting tree's namespace registry, matching the owning session's
// mode.
func Parse(data []byte, readOnly bool) (*tree.Tree, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	t := tree.NewTree(readOnly)

	var rootStart *xml.StartElement
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, e57errors.Wrap(e57errors.BadXMLFormat, err, "decoding xml document")
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == rootElement {
			start := se
			rootStart = &start
			break
		}
	}
	if rootStart == nil {
		return nil, e57errors.New(e57errors.BadXMLFormat, "missing root element")
	}
	for _, attr := range rootStart.Attr {
		if attr.Name.Space == "xmlns" {
			if err := t.Registry().Add(attr.Name.Local, attr.Value); err != nil {
				return nil, err
			}
		}
	}

	root, err := decodeElement(dec, *rootStart, t.Registry())
	if err != nil {
		return nil, err
	}
	if root.Kind() != tree.KindStructure {
		return nil, e57errors.New(e57errors.BadXMLFormat, "root element is not a Structure")
	}
	for _, child := range root.Children() {
		name := child.Name()
		if err := t.AttachChild(t.Root(), name, detach(child)); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func attrValue(start xml.StartElement, name string) (string, bool) {
	for _, a := range start.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func decodeElement(dec *xml.Decoder, start xml.StartElement, reg *tree.Registry) (*tree.Node, error) {
	kindStr, ok := attrValue(start, attrKind)
	if !ok {
		return decodeOpaque(dec, start, reg)
	}

	switch kindStr {
	case tree.KindInteger.String():
		min, max := mustInt64(start, attrMin), mustInt64(start, attrMax)
		text, err := readCharData(dec)
		if err != nil {
			return nil, err
		}
		v, _ := strconv.ParseInt(text, 10, 64)
		return namedLeaf(reg, start, tree.NewInteger(v, min, max)), nil

	case tree.KindScaledInteger.String():
		min, max := mustInt64(start, attrMin), mustInt64(start, attrMax)
		scale, offset := mustFloat64(start, attrScale), mustFloat64(start, attrOffset)
		text, err := readCharData(dec)
		if err != nil {
			return nil, err
		}
		raw, _ := strconv.ParseInt(text, 10, 64)
		return namedLeaf(reg, start, tree.NewScaledInteger(raw, min, max, scale, offset)), nil

	case tree.KindFloat.String():
		min, max := mustFloat64(start, attrMin), mustFloat64(start, attrMax)
		precision := tree.Single
		if v, _ := attrValue(start, attrPrecision); v == "double" {
			precision = tree.Double
		}
		text, err := readCharData(dec)
		if err != nil {
			return nil, err
		}
		v, _ := strconv.ParseFloat(text, 64)
		return namedLeaf(reg, start, tree.NewFloat(v, min, max, precision)), nil

	case tree.KindString.String():
		text, err := readCharData(dec)
		if err != nil {
			return nil, err
		}
		return namedLeaf(reg, start, tree.NewString(text)), nil

	case tree.KindBlob.String():
		length, offset := mustInt64(start, attrBlobLen), mustInt64(start, attrBlobOff)
		if err := skipToEnd(dec); err != nil {
			return nil, err
		}
		n := tree.NewBlob(length)
		n.SetBlobLocation(length, offset)
		return namedLeaf(reg, start, n), nil

	case tree.KindStructure.String():
		n := tree.NewStructure()
		if err := decodeChildren(dec, n, reg, func(child *tree.Node) error {
			return attachChild(n, child)
		}); err != nil {
			return nil, err
		}
		return namedLeaf(reg, start, n), nil

	case tree.KindVector.String():
		hetero := false
		if v, ok := attrValue(start, attrHetero); ok {
			hetero, _ = strconv.ParseBool(v)
		}
		n := tree.NewVector(hetero)
		if err := decodeChildren(dec, n, reg, func(child *tree.Node) error {
			n.AppendDecoded(child)
			return nil
		}); err != nil {
			return nil, err
		}
		return namedLeaf(reg, start, n), nil

	case tree.KindCompressedVector.String():
		recordCount := mustInt64(start, attrCVRecords)
		offset, length := mustInt64(start, attrCVOffset), mustInt64(start, attrCVLength)
		var proto *tree.Node
		for {
			tok, err := dec.Token()
			if err != nil {
				return nil, e57errors.Wrap(e57errors.BadXMLFormat, err, "decoding compressedvector prototype")
			}
			if se, ok := tok.(xml.StartElement); ok {
				child, err := decodeElement(dec, se, reg)
				if err != nil {
					return nil, err
				}
				proto = child
				continue
			}
			if _, ok := tok.(xml.EndElement); ok {
				break
			}
		}
		if proto == nil {
			return nil, e57errors.New(e57errors.BadXMLFormat, "compressedvector missing prototype")
		}
		codecs := make([]tree.Codec, len(proto.Children()))
		for i := range codecs {
			codecs[i] = cv.RawCodec{}
		}
		n := tree.NewCompressedVector(proto, codecs)
		n.SetRecordCount(recordCount)
		n.SetPayloadLocation(offset, length)
		return namedLeaf(reg, start, n), nil
	}
	return nil, e57errors.Newf(e57errors.BadXMLFormat, "unknown e57Kind %q", kindStr)
}

func decodeChildren(dec *xml.Decoder, parent *tree.Node, reg *tree.Registry, attach func(*tree.Node) error) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return e57errors.Wrap(e57errors.BadXMLFormat, err, "decoding children")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeElement(dec, t, reg)
			if err != nil {
				return err
			}
			if err := attach(child); err != nil {
				return err
			}
		case xml.EndElement:
			return nil
		}
	}
}

func attachChild(parent *tree.Node, child *tree.Node) error {
	return parent.AttachDecodedChild(child)
}

func namedLeaf(reg *tree.Registry, start xml.StartElement, n *tree.Node) *tree.Node {
	n.SetPendingName(qualifiedName(reg, start.Name))
	return n
}

// qualifiedName reconstructs the "prefix:local" element name Serialize
// wrote. The encoder emits an extended name by literally embedding the
// colon in Name.Local with Name.Space left empty, but the namespace-aware
// decoder resolves it on the way back in, replacing Name.Local with just
// the local part and setting Name.Space to the declared URI. Map that URI
// back to its registered prefix so the round trip is lossless.
func qualifiedName(reg *tree.Registry, name xml.Name) string {
	if name.Space == "" || name.Space == tree.DefaultURI() {
		return name.Local
	}
	if prefix, ok := reg.LookupURI(name.Space); ok {
		return prefix + ":" + name.Local
	}
	return name.Local
}

// detach resets the bookkeeping decodeElement set on a child while it
// was nested under the throwaway root element decodeElement builds, so
// Tree.AttachChild (which rejects an already-attached node) accepts it
// when Parse re-attaches it under the real tree root.
func detach(n *tree.Node) *tree.Node {
	n.ResetDecodedAttachment()
	return n
}

func decodeOpaque(dec *xml.Decoder, start xml.StartElement, reg *tree.Registry) (*tree.Node, error) {
	depth := 1
	tokens := []xml.Token{start.Copy()}
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return nil, e57errors.Wrap(e57errors.BadXMLFormat, err, "decoding opaque subtree")
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
		tokens = append(tokens, xml.CopyToken(tok))
	}
	n := tree.NewOpaque(tokens)
	// The captured tokens replay verbatim (including their resolved
	// Name.Space), which is enough for the encoder to reproduce the
	// original tag; the node's own logical name still needs the prefix
	// reconstructed so path lookups under it work the same way.
	n.SetPendingName(qualifiedName(reg, start.Name))
	return n, nil
}

func skipToEnd(dec *xml.Decoder) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return e57errors.Wrap(e57errors.BadXMLFormat, err, "skipping element body")
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return nil
}

func readCharData(dec *xml.Decoder) (string, error) {
	var text string
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", e57errors.Wrap(e57errors.BadXMLFormat, err, "reading character data")
		}
		switch t := tok.(type) {
		case xml.CharData:
			text += string(t)
		case xml.EndElement:
			return text, nil
		}
	}
}

func mustInt64(start xml.StartElement, name string) int64 {
	v, _ := attrValue(start, name)
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

func mustFloat64(start xml.StartElement, name string) float64 {
	v, _ := attrValue(start, name)
	f, _ := strconv.ParseFloat(v, 64)
	return f
}
