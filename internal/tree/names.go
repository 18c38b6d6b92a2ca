package tree

import "regexp"

// identifierPattern matches one ID component of an element name: spec.md
// §4.C's "[A-Za-z_][A-Za-z0-9_.-]*". elementNamePattern adds the optional
// "prefix:" form. Grounded on the teacher's field-name regex shape in
// types/struct.go (not present in full in the retrieved pack; the exact
// character class is pinned directly from spec.md's grammar instead, see
// DESIGN.md).
var (
	identifierPattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)
	elementNamePattern = regexp.MustCompile(`^(?:([A-Za-z_][A-Za-z0-9_.-]*):)?([A-Za-z_][A-Za-z0-9_.-]*)$`)
)

// ParseElementName splits an element name into its optional namespace
// prefix and local part. It never consults a Registry and never raises
// UndefinedNamespacePrefix — resolving a prefix against the registry is
// the caller's job at attach time (spec.md §4.C, resolved against
// original_source/src/ImageFile.cpp's elementNameParse).
func ParseElementName(s string) (prefix, local string, ok bool) {
	m := elementNamePattern.FindStringSubmatch(s)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// IsElementNameExtended reports whether name carries a namespace prefix.
func IsElementNameExtended(s string) bool {
	prefix, _, ok := ParseElementName(s)
	return ok && prefix != ""
}

// IsIdentifier reports whether s alone matches the identifier grammar,
// used when validating a bare local part or a prefix in isolation.
func IsIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}
