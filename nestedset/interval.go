package nestedset

// Span is a node's pair of nested-set boundaries. The zero value means the
// boundaries have not been built yet; predicates are only meaningful on
// defined spans, and the engines gate on Defined before evaluating them.
type Span struct {
	Lft int
	Rgt int
}

// Defined reports whether the boundaries have been assigned. Numbering
// starts at 1, so a zero Lft can only mean an unbuilt node.
func (s Span) Defined() bool {
	return s.Lft > 0 && s.Rgt > s.Lft
}

// IsLeaf reports whether the span encloses no child intervals.
func (s Span) IsLeaf() bool {
	return s.Rgt-s.Lft == 1
}

// Width is the number of boundary slots the span occupies, descendants
// included. A leaf has width 2.
func (s Span) Width() int {
	return s.Rgt - s.Lft + 1
}

// DescendantOf reports whether s lies strictly inside other.
func (s Span) DescendantOf(other Span) bool {
	return other.Lft < s.Lft && s.Lft < other.Rgt
}

// AncestorOf reports whether other lies strictly inside s.
func (s Span) AncestorOf(other Span) bool {
	return s.Lft < other.Lft && other.Lft < s.Rgt
}

// Contains reports whether other lies inside s, s itself included.
func (s Span) Contains(other Span) bool {
	return s.Lft <= other.Lft && other.Rgt <= s.Rgt
}

// Disjoint reports whether the two spans share no slots.
func (s Span) Disjoint(other Span) bool {
	return s.Rgt < other.Lft || other.Rgt < s.Lft
}

// Node is the structural view of one stored record: identity, parent link,
// nested-set boundaries, cached depth, and the forest scope value. Store
// adapters map these onto whatever schema the host collection uses; every
// other field of the record is invisible to this package.
type Node struct {
	ID       int64
	ParentID int64 // zero for roots
	Lft      int
	Rgt      int
	Lvl      int
	Scope    string
}

// Span returns the node's boundary pair.
func (n *Node) Span() Span {
	return Span{Lft: n.Lft, Rgt: n.Rgt}
}

// IsRoot reports whether the node has no parent link.
func (n *Node) IsRoot() bool {
	return n.ParentID == 0
}

// IsLeaf reports whether the node's boundaries enclose no children.
func (n *Node) IsLeaf() bool {
	return n.Span().IsLeaf()
}

// DescendantOf reports whether n sits strictly below other. Both nodes
// must carry built boundaries and belong to the same forest.
func (n *Node) DescendantOf(other *Node) bool {
	return n.Span().DescendantOf(other.Span())
}

// AncestorOf reports whether n sits strictly above other. Both nodes must
// carry built boundaries and belong to the same forest.
func (n *Node) AncestorOf(other *Node) bool {
	return n.Span().AncestorOf(other.Span())
}
