// Package xmlbridge implements the XML bridge (spec Component G):
// serializing the typed node tree to an XML document and parsing it back,
// preserving namespace declarations and round-tripping unknown elements
// in unknown namespaces verbatim.
//
// Built against stdlib encoding/xml's Decoder.Token/Encoder — the
// "Consumed interfaces" contract (spec.md §6) asks for SAX-style
// streaming events, and no SAX/streaming XML library besides stdlib's own
// decoder appears anywhere in the retrieved pack (see DESIGN.md).
package xmlbridge

import (
	"bytes"
	"encoding/xml"
	"strconv"

	"github.com/dolthub/go-e57/e57errors"
	"github.com/dolthub/go-e57/internal/tree"
)

const (
	attrKind      = "e57Kind"
	attrMin       = "min"
	attrMax       = "max"
	attrScale     = "scale"
	attrOffset    = "offset"
	attrPrecision = "precision"
	attrHetero    = "allowHeterogeneousChildren"
	attrBlobLen   = "length"
	attrBlobOff   = "payloadOffset"
	attrCVRecords = "recordCount"
	attrCVOffset  = "payloadOffset"
	attrCVLength  = "payloadLength"
	rootElement   = "e57Root"
)

// Serialize walks t's tree and emits the equivalent XML document,
// declaring every registry extension prefix plus the default namespace
// at the document root.
func Serialize(t *tree.Tree) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	start := xml.StartElement{
		Name: xml.Name{Local: rootElement},
		Attr: namespaceAttrs(t.Registry()),
	}
	if err := encodeNode(enc, t.Root(), start); err != nil {
		return nil, e57errors.Wrap(e57errors.XMLParser, err, "serializing node tree")
	}
	if err := enc.Flush(); err != nil {
		return nil, e57errors.Wrap(e57errors.XMLParser, err, "flushing xml encoder")
	}
	return buf.Bytes(), nil
}

func namespaceAttrs(reg *tree.Registry) []xml.Attr {
	attrs := []xml.Attr{{Name: xml.Name{Local: "xmlns"}, Value: tree.DefaultURI()}}
	for i := 0; i < reg.Count(); i++ {
		prefix, _ := reg.PrefixAt(i)
		uri, _ := reg.UriAt(i)
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "xmlns:" + prefix}, Value: uri})
	}
	return attrs
}

func encodeNode(enc *xml.Encoder, n *tree.Node, start xml.StartElement) error {
	if n.Kind() == tree.KindOpaque {
		for _, tok := range n.OpaqueTokens() {
			if err := enc.EncodeToken(tok); err != nil {
				return err
			}
		}
		return nil
	}

	start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: attrKind}, Value: n.Kind().String()})

	switch n.Kind() {
	case tree.KindInteger:
		v, min, max := n.IntegerValue()
		start.Attr = append(start.Attr,
			xml.Attr{Name: xml.Name{Local: attrMin}, Value: strconv.FormatInt(min, 10)},
			xml.Attr{Name: xml.Name{Local: attrMax}, Value: strconv.FormatInt(max, 10)})
		return encodeLeaf(enc, start, strconv.FormatInt(v, 10))

	case tree.KindScaledInteger:
		raw, min, max, scale, offset := n.ScaledIntegerValue()
		start.Attr = append(start.Attr,
			xml.Attr{Name: xml.Name{Local: attrMin}, Value: strconv.FormatInt(min, 10)},
			xml.Attr{Name: xml.Name{Local: attrMax}, Value: strconv.FormatInt(max, 10)},
			xml.Attr{Name: xml.Name{Local: attrScale}, Value: strconv.FormatFloat(scale, 'g', -1, 64)},
			xml.Attr{Name: xml.Name{Local: attrOffset}, Value: strconv.FormatFloat(offset, 'g', -1, 64)})
		return encodeLeaf(enc, start, strconv.FormatInt(raw, 10))

	case tree.KindFloat:
		v, min, max, precision := n.FloatValue()
		precName := "single"
		if precision == tree.Double {
			precName = "double"
		}
		start.Attr = append(start.Attr,
			xml.Attr{Name: xml.Name{Local: attrMin}, Value: strconv.FormatFloat(min, 'g', -1, 64)},
			xml.Attr{Name: xml.Name{Local: attrMax}, Value: strconv.FormatFloat(max, 'g', -1, 64)},
			xml.Attr{Name: xml.Name{Local: attrPrecision}, Value: precName})
		return encodeLeaf(enc, start, strconv.FormatFloat(v, 'g', -1, 64))

	case tree.KindString:
		return encodeLeaf(enc, start, n.StringValue())

	case tree.KindBlob:
		length, offset := n.BlobLocation()
		start.Attr = append(start.Attr,
			xml.Attr{Name: xml.Name{Local: attrBlobLen}, Value: strconv.FormatInt(length, 10)},
			xml.Attr{Name: xml.Name{Local: attrBlobOff}, Value: strconv.FormatInt(offset, 10)})
		return encodeLeaf(enc, start, "")

	case tree.KindStructure:
		if err := enc.EncodeToken(start); err != nil {
			return err
		}
		for _, child := range n.Children() {
			childStart := xml.StartElement{Name: xml.Name{Local: child.Name()}}
			if err := encodeNode(enc, child, childStart); err != nil {
				return err
			}
		}
		return enc.EncodeToken(start.End())

	case tree.KindVector:
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: attrHetero}, Value: strconv.FormatBool(n.AllowsHeterogeneousChildren())})
		if err := enc.EncodeToken(start); err != nil {
			return err
		}
		for i, child := range n.Children() {
			childStart := xml.StartElement{Name: xml.Name{Local: "item" + strconv.Itoa(i)}}
			if err := encodeNode(enc, child, childStart); err != nil {
				return err
			}
		}
		return enc.EncodeToken(start.End())

	case tree.KindCompressedVector:
		offset, length := n.PayloadLocation()
		start.Attr = append(start.Attr,
			xml.Attr{Name: xml.Name{Local: attrCVRecords}, Value: strconv.FormatInt(n.RecordCount(), 10)},
			xml.Attr{Name: xml.Name{Local: attrCVOffset}, Value: strconv.FormatInt(offset, 10)},
			xml.Attr{Name: xml.Name{Local: attrCVLength}, Value: strconv.FormatInt(length, 10)})
		if err := enc.EncodeToken(start); err != nil {
			return err
		}
		protoStart := xml.StartElement{Name: xml.Name{Local: "prototype"}}
		if err := encodeNode(enc, n.Prototype(), protoStart); err != nil {
			return err
		}
		return enc.EncodeToken(start.End())
	}
	return e57errors.Newf(e57errors.Internal, "unhandled node kind %s during serialization", n.Kind())
}

func encodeLeaf(enc *xml.Encoder, start xml.StartElement, text string) error {
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if text != "" {
		if err := enc.EncodeToken(xml.CharData(text)); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}
