package tree

import "github.com/dolthub/go-e57/e57errors"

// Tree owns the node graph and the namespace registry for one session.
// internal/session embeds a *Tree rather than internal/tree depending on
// internal/session, avoiding the import cycle a Node.owner *Session field
// would create.
type Tree struct {
	root     *Node
	registry *Registry
	readOnly bool

	// payloadLimit is the exclusive upper bound of the session's payload
	// area (everything logically before the XML section), or -1 when
	// unknown, e.g. a write-mode tree still under construction. Set by
	// internal/session once a file's header has been parsed.
	payloadLimit int64
}

// NewTree constructs a Tree with a fresh Structure root.
func NewTree(readOnly bool) *Tree {
	root := NewStructure()
	root.attached = true // the root has no parent but is considered attached
	t := &Tree{root: root, registry: NewRegistry(readOnly), readOnly: readOnly, payloadLimit: -1}
	root.owner = t
	return t
}

// SetPayloadLimit records the exclusive upper bound of the file's payload
// area, so CheckInvariant can enforce invariant 5 (a Blob or
// CompressedVector's payload location lies inside the payload area
// recorded in the header). Called by internal/session.loadTree once the
// header's XML offset is known; a freshly constructed Tree has no limit
// and skips this check.
func (t *Tree) SetPayloadLimit(limit int64) { t.payloadLimit = limit }

// Root returns the tree's root Structure node.
func (t *Tree) Root() *Node { return t.root }

// Registry returns the tree's namespace registry.
func (t *Tree) Registry() *Registry { return t.registry }

// AttachChild attaches child under parent (a Structure) by name,
// enforcing invariants 1 and 2.
func (t *Tree) AttachChild(parent *Node, name string, child *Node) error {
	if parent.kind != KindStructure {
		return e57errors.Newf(e57errors.BadAPIArgument, "AttachChild requires a Structure parent, got %s", parent.kind)
	}
	if child.attached {
		return e57errors.New(e57errors.AlreadyHasParent, "node is already attached to a parent")
	}
	prefix, local, ok := ParseElementName(name)
	if !ok || local == "" {
		return e57errors.Newf(e57errors.BadPathName, "invalid element name %q", name)
	}
	if prefix != "" {
		if _, declared := t.registry.LookupPrefix(prefix); !declared {
			return e57errors.Newf(e57errors.UndefinedNamespacePrefix, "prefix %q is not declared", prefix)
		}
	}
	if _, exists := parent.childIndex[name]; exists {
		return e57errors.Newf(e57errors.PathAlreadyExists, "child %q already exists", name)
	}
	idx := len(parent.children)
	parent.children = append(parent.children, child)
	parent.childIndex[name] = idx
	child.attached = true
	child.parent = parent
	child.name = name
	child.owner = t
	return nil
}

// AppendChild appends child to a Vector's ordered sequence, enforcing the
// Vector's allowHeterogeneousChildren flag against the existing prototype
// when the flag is false.
func (t *Tree) AppendChild(parent *Node, child *Node) error {
	if parent.kind != KindVector {
		return e57errors.Newf(e57errors.BadAPIArgument, "AppendChild requires a Vector parent, got %s", parent.kind)
	}
	if child.attached {
		return e57errors.New(e57errors.AlreadyHasParent, "node is already attached to a parent")
	}
	if !parent.heterogeneous && len(parent.children) > 0 {
		if parent.children[0].kind != child.kind {
			return e57errors.Newf(e57errors.BadAPIArgument, "vector requires homogeneous children, prototype is %s, got %s", parent.children[0].kind, child.kind)
		}
	}
	parent.children = append(parent.children, child)
	child.attached = true
	child.parent = parent
	child.owner = t
	return nil
}

// Detach removes child from its parent, clearing its parent pointer per
// the weak-back-reference rule in spec.md §3.
func (t *Tree) Detach(child *Node) error {
	if !child.attached || child.parent == nil {
		return e57errors.New(e57errors.BadAPIArgument, "node is not attached")
	}
	parent := child.parent
	switch parent.kind {
	case KindStructure:
		idx, ok := parent.childIndex[child.name]
		if !ok {
			return e57errors.New(e57errors.Internal, "detach: child missing from parent's index")
		}
		parent.children = append(parent.children[:idx], parent.children[idx+1:]...)
		delete(parent.childIndex, child.name)
		for name, i := range parent.childIndex {
			if i > idx {
				parent.childIndex[name] = i - 1
			}
		}
	case KindVector:
		for i, c := range parent.children {
			if c == child {
				parent.children = append(parent.children[:i], parent.children[i+1:]...)
				break
			}
		}
	default:
		return e57errors.Newf(e57errors.Internal, "detach: unexpected parent kind %s", parent.kind)
	}
	child.detach()
	return nil
}

// ResolvePath walks a slash-delimited path from the root, returning the
// node at that path or false if any segment is missing.
func (t *Tree) ResolvePath(path string) (*Node, bool) {
	if path == "" || path == "/" {
		return t.root, true
	}
	cur := t.root
	start := 0
	if path[0] == '/' {
		start = 1
	}
	segment := ""
	for i := start; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if cur.kind != KindStructure {
				return nil, false
			}
			next, ok := cur.ChildByName(segment)
			if !ok {
				return nil, false
			}
			cur = next
			segment = ""
			continue
		}
		segment += string(path[i])
	}
	return cur, true
}

// CheckInvariant walks the tree (or just the root, when recursive is
// false) verifying that the root is a parentless Structure, that
// Structure child names are unique and children point back at their
// parent, that homogeneous Vectors hold one kind, and, once a payload
// limit has been set via SetPayloadLimit, invariant 5. It does not check
// the namespace registry or whether child name prefixes are declared.
func (t *Tree) CheckInvariant(recursive bool) error {
	if t.root.kind != KindStructure {
		return e57errors.New(e57errors.InvarianceViolation, "tree root is not a Structure")
	}
	if t.root.parent != nil {
		return e57errors.New(e57errors.InvarianceViolation, "tree root has a parent")
	}
	if !recursive {
		return nil
	}
	return checkNodeInvariant(t.root, t.payloadLimit)
}

func checkNodeInvariant(n *Node, payloadLimit int64) error {
	switch n.kind {
	case KindStructure:
		seen := make(map[string]bool, len(n.children))
		for _, c := range n.children {
			if seen[c.name] {
				return e57errors.Newf(e57errors.InvarianceViolation, "duplicate child name %q under %s", c.name, n.Path())
			}
			seen[c.name] = true
			if c.parent != n {
				return e57errors.Newf(e57errors.InvarianceViolation, "child %q has inconsistent parent pointer", c.name)
			}
			if err := checkNodeInvariant(c, payloadLimit); err != nil {
				return err
			}
		}
	case KindVector:
		if !n.heterogeneous && len(n.children) > 0 {
			proto := n.children[0].kind
			for _, c := range n.children[1:] {
				if c.kind != proto {
					return e57errors.Newf(e57errors.InvarianceViolation, "heterogeneous children in homogeneous vector at %s", n.Path())
				}
			}
		}
		for _, c := range n.children {
			if err := checkNodeInvariant(c, payloadLimit); err != nil {
				return err
			}
		}
	case KindBlob:
		length, offset := n.BlobLocation()
		if err := checkPayloadBounds(n, payloadLimit, offset, length); err != nil {
			return err
		}
	case KindCompressedVector:
		offset, length := n.PayloadLocation()
		if err := checkPayloadBounds(n, payloadLimit, offset, length); err != nil {
			return err
		}
		if n.prototype != nil {
			if err := checkNodeInvariant(n.prototype, payloadLimit); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkPayloadBounds enforces invariant 5: a Blob or CompressedVector's
// payload location lies inside the payload area recorded in the header.
// A negative payloadLimit means the bound is unknown (a write-mode tree
// still under construction), so the check is skipped.
func checkPayloadBounds(n *Node, payloadLimit, offset, length int64) error {
	if payloadLimit < 0 {
		return nil
	}
	if offset < 0 || length < 0 || offset+length > payloadLimit {
		return e57errors.Newf(e57errors.BadFileLength, "%s at %s declares payload [%d,%d) outside the file's payload area [0,%d)", n.kind, n.Path(), offset, offset+length, payloadLimit)
	}
	return nil
}
