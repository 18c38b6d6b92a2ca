// Package e57 is the public handle surface for go-e57: it opens, reads,
// writes, and closes ASTM E57 point-cloud files, forwarding everything to
// internal/session while exposing only the spec.md §6 "Exposed surface"
// contract plus the compressed-vector reader/writer entry points.
package e57

import (
	"github.com/dolthub/go-e57/e57cfg"
	"github.com/dolthub/go-e57/internal/cv"
	"github.com/dolthub/go-e57/internal/session"
	"github.com/dolthub/go-e57/internal/tree"
)

// Re-export the node tree's public vocabulary so callers never need to
// import internal/tree directly.
type (
	Node      = tree.Node
	Kind      = tree.Kind
	Precision = tree.Precision
	Codec     = tree.Codec
	Buffer    = cv.Buffer
	Writer    = cv.Writer
	Reader    = cv.Reader
)

const (
	KindInteger          = tree.KindInteger
	KindScaledInteger    = tree.KindScaledInteger
	KindFloat            = tree.KindFloat
	KindString           = tree.KindString
	KindBlob             = tree.KindBlob
	KindStructure        = tree.KindStructure
	KindVector           = tree.KindVector
	KindCompressedVector = tree.KindCompressedVector

	Single = tree.Single
	Double = tree.Double
)

// Node constructors, re-exported so callers build a tree without reaching
// into internal/tree.
var (
	NewInteger          = tree.NewInteger
	NewScaledInteger    = tree.NewScaledInteger
	NewFloat            = tree.NewFloat
	NewString           = tree.NewString
	NewBlob             = tree.NewBlob
	NewStructure        = tree.NewStructure
	NewVector           = tree.NewVector
	NewCompressedVector = tree.NewCompressedVector
)

// RawCodec is the one concrete Codec this repo ships; see internal/cv.
var RawCodec = cv.RawCodec{}

// File is a handle onto one open session. The zero File is not usable;
// construct one with Create, Open, or OpenMemory.
type File struct {
	s *session.Session
}

// Create opens path for writing, per spec.md §4.F's construct(path, "w",
// policy). cfg is optional; the default configuration (e57cfg.Default())
// is used when none is supplied.
func Create(path string, policy int, cfg ...e57cfg.Config) (*File, error) {
	s, err := session.OpenWriteFile(path, policy, resolveConfig(cfg))
	if err != nil {
		return nil, err
	}
	return &File{s: s}, nil
}

// Open opens path for reading, per spec.md §4.F's construct(path, "r",
// policy).
func Open(path string, policy int, cfg ...e57cfg.Config) (*File, error) {
	s, err := session.OpenReadFile(path, policy, resolveConfig(cfg))
	if err != nil {
		return nil, err
	}
	return &File{s: s}, nil
}

// OpenMemory opens an in-memory buffer for reading, per spec.md §4.F's
// construct(buffer, size, policy).
func OpenMemory(buf []byte, policy int, cfg ...e57cfg.Config) (*File, error) {
	s, err := session.OpenReadMemory(buf, policy, resolveConfig(cfg))
	if err != nil {
		return nil, err
	}
	return &File{s: s}, nil
}

func resolveConfig(cfg []e57cfg.Config) e57cfg.Config {
	if len(cfg) > 0 {
		return cfg[0]
	}
	return e57cfg.Default()
}

// Root returns the file's root Structure node.
func (f *File) Root() *Node { return f.s.Root() }

// FileName returns the backing path, or "" for an in-memory file.
func (f *File) FileName() string { return f.s.Path() }

// IsOpen reports whether the file has not yet been closed or cancelled.
func (f *File) IsOpen() bool { return f.s.IsOpen() }

// IsWritable reports whether the file was opened for write.
func (f *File) IsWritable() bool { return f.s.IsWritable() }

// WriterCount and ReaderCount report the number of live compressed-vector
// writers/readers (invariant 3 introspection).
func (f *File) WriterCount() int { return f.s.WriterCount() }
func (f *File) ReaderCount() int { return f.s.ReaderCount() }

// ExtensionsAdd declares a namespace extension prefix/URI pair.
func (f *File) ExtensionsAdd(prefix, uri string) error {
	return f.s.Registry().Add(prefix, uri)
}

// ExtensionsLookupPrefix resolves a prefix to its URI.
func (f *File) ExtensionsLookupPrefix(prefix string) (string, bool) {
	return f.s.Registry().LookupPrefix(prefix)
}

// ExtensionsLookupUri resolves a URI to its prefix.
func (f *File) ExtensionsLookupUri(uri string) (string, bool) {
	return f.s.Registry().LookupURI(uri)
}

// ExtensionsCount returns the number of declared extension prefixes.
func (f *File) ExtensionsCount() int { return f.s.Registry().Count() }

// ExtensionsPrefix returns the i-th declared prefix.
func (f *File) ExtensionsPrefix(i int) (string, bool) { return f.s.Registry().PrefixAt(i) }

// ExtensionsUri returns the i-th declared URI.
func (f *File) ExtensionsUri(i int) (string, bool) { return f.s.Registry().UriAt(i) }

// IsElementNameExtended reports whether name carries a namespace prefix.
func IsElementNameExtended(name string) bool { return tree.IsElementNameExtended(name) }

// ElementNameParse splits name into its optional prefix and required
// local part.
func ElementNameParse(name string) (prefix, local string, ok bool) {
	return tree.ParseElementName(name)
}

// CheckInvariant walks the node tree; see tree.Tree.CheckInvariant for
// what it verifies.
func (f *File) CheckInvariant(recursive bool) error { return f.s.CheckInvariant(recursive) }

// NewWriter opens a compressed-vector writer against node.
func (f *File) NewWriter(node *Node, buffers []*Buffer) (*Writer, error) {
	return f.s.NewWriter(node, buffers)
}

// NewReader opens a compressed-vector reader against node.
func (f *File) NewReader(node *Node) (*Reader, error) {
	return f.s.NewReader(node)
}

// WriteBlob appends data to the payload area and records a Blob node's
// payload location.
func (f *File) WriteBlob(node *Node, data []byte) error {
	return f.s.WriteBlob(node, data)
}

// ReadBlob reads back the bytes a prior WriteBlob call wrote for node.
func (f *File) ReadBlob(node *Node) ([]byte, error) {
	return f.s.ReadBlob(node)
}

// Close transitions the file to closed, per spec.md §4.F's close().
func (f *File) Close() error { return f.s.Close() }

// Cancel drops unflushed state and discards the file; it never raises.
func (f *File) Cancel() { f.s.Cancel() }

// Equal reports whether f and other are handles onto the same session.
func (f *File) Equal(other *File) bool {
	if other == nil {
		return false
	}
	return f.s.Equal(other.s)
}
