package tree

import "github.com/dolthub/go-e57/e57errors"

// defaultURI is the fixed URI the empty prefix always resolves to
// (spec.md §4.D: "Empty prefix is special-cased ... resolves to the
// fixed default E57 URI and is not counted").
const defaultURI = "http://www.astm.org/COMMIT/E57/2010-e57-v1.0"

// Registry is the namespace prefix<->URI bijection attached to a Tree.
// Index i's prefix and URI always correspond; the stable order is
// insertion order (spec.md's Open Question, resolved in SPEC_FULL.md
// against original_source/src/ImageFile.cpp's extensionsPrefix/Uri
// behavior), grounded on the ordered-slice-plus-lookup-map shape the
// teacher uses for Struct field order in types/struct.go.
type Registry struct {
	prefixes    []string
	uris        []string
	prefixIndex map[string]int
	uriIndex    map[string]int
	readOnly    bool
}

// NewRegistry constructs an empty registry. readOnly mirrors the owning
// session's write/read mode: Add on a read-only registry raises
// FileIsReadOnly.
func NewRegistry(readOnly bool) *Registry {
	return &Registry{
		prefixIndex: make(map[string]int),
		uriIndex:    make(map[string]int),
		readOnly:    readOnly,
	}
}

// Add declares a new prefix/URI pair. Both must be non-empty.
func (r *Registry) Add(prefix, uri string) error {
	if r.readOnly {
		return e57errors.New(e57errors.FileIsReadOnly, "cannot add a namespace to a read-only session")
	}
	if prefix == "" || uri == "" {
		return e57errors.New(e57errors.BadAPIArgument, "prefix and uri must both be non-empty")
	}
	if _, ok := r.prefixIndex[prefix]; ok {
		return e57errors.Newf(e57errors.DuplicatePrefix, "prefix %q already declared", prefix)
	}
	if _, ok := r.uriIndex[uri]; ok {
		return e57errors.Newf(e57errors.DuplicateURI, "uri %q already declared", uri)
	}
	idx := len(r.prefixes)
	r.prefixes = append(r.prefixes, prefix)
	r.uris = append(r.uris, uri)
	r.prefixIndex[prefix] = idx
	r.uriIndex[uri] = idx
	return nil
}

// LookupPrefix resolves a prefix to its URI.
func (r *Registry) LookupPrefix(prefix string) (string, bool) {
	if prefix == "" {
		return defaultURI, true
	}
	idx, ok := r.prefixIndex[prefix]
	if !ok {
		return "", false
	}
	return r.uris[idx], true
}

// LookupURI resolves a URI to its prefix.
func (r *Registry) LookupURI(uri string) (string, bool) {
	if uri == defaultURI {
		return "", true
	}
	idx, ok := r.uriIndex[uri]
	if !ok {
		return "", false
	}
	return r.prefixes[idx], true
}

// Count returns the number of declared extension prefixes (the default
// namespace is never counted).
func (r *Registry) Count() int { return len(r.prefixes) }

// PrefixAt returns the i-th declared prefix.
func (r *Registry) PrefixAt(i int) (string, bool) {
	if i < 0 || i >= len(r.prefixes) {
		return "", false
	}
	return r.prefixes[i], true
}

// UriAt returns the i-th declared URI, corresponding to PrefixAt(i).
func (r *Registry) UriAt(i int) (string, bool) {
	if i < 0 || i >= len(r.uris) {
		return "", false
	}
	return r.uris[i], true
}

// DefaultURI exposes the fixed default E57 namespace URI.
func DefaultURI() string { return defaultURI }
