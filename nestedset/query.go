package nestedset

import (
	"context"
)

// QueryOpts carries the optional pieces of a derived tree query: an extra
// filter conjoined with the structural constraint, plus the usual find
// options. A nil QueryOpts means no extras.
type QueryOpts struct {
	Filter Filter
	Select []Field
	Sort   []SortKey
	Limit  int
	Offset int
}

func (q *QueryOpts) merge(constraint Filter) (Filter, *FindOpts) {
	if q == nil {
		return constraint, nil
	}
	return constraint.Merge(q.Filter), &FindOpts{
		Select: q.Select,
		Sort:   q.Sort,
		Limit:  q.Limit,
		Offset: q.Offset,
	}
}

func (t *Tree) findRelated(ctx context.Context, q *QueryOpts, constraint Filter, scope string) ([]*Node, error) {
	f, opts := q.merge(t.inScope(constraint, scope))
	return t.store.Find(ctx, f, opts)
}

// Parent returns self's parent node, or ErrNotFound for a root. Find
// options in q do not apply to single-node reads; the extra filter does.
func (t *Tree) Parent(ctx context.Context, self *Node, q *QueryOpts) (*Node, error) {
	f, _ := q.merge(t.inScope(Where(FieldID, OpEq, self.ParentID), self.Scope))
	return t.store.FindOne(ctx, f)
}

// Children returns the nodes whose parent link points at self.
func (t *Tree) Children(ctx context.Context, self *Node, q *QueryOpts) ([]*Node, error) {
	return t.findRelated(ctx, q, Where(FieldParent, OpEq, self.ID), self.Scope)
}

// SelfAndChildren returns self plus its children.
func (t *Tree) SelfAndChildren(ctx context.Context, self *Node, q *QueryOpts) ([]*Node, error) {
	constraint := Filter{}.AnyOf(
		Clause{Field: FieldParent, Op: OpEq, Value: self.ID},
		Clause{Field: FieldID, Op: OpEq, Value: self.ID},
	)
	return t.findRelated(ctx, q, constraint, self.Scope)
}

// Siblings returns the other nodes sharing self's parent link.
func (t *Tree) Siblings(ctx context.Context, self *Node, q *QueryOpts) ([]*Node, error) {
	constraint := Where(FieldParent, OpEq, self.ParentID).And(FieldID, OpNe, self.ID)
	return t.findRelated(ctx, q, constraint, self.Scope)
}

// SelfAndSiblings returns every node sharing self's parent link, self
// included.
func (t *Tree) SelfAndSiblings(ctx context.Context, self *Node, q *QueryOpts) ([]*Node, error) {
	return t.findRelated(ctx, q, Where(FieldParent, OpEq, self.ParentID), self.Scope)
}

// Ancestors returns the nodes whose intervals strictly enclose self's.
// An unnumbered self has no interval and yields no matches.
func (t *Tree) Ancestors(ctx context.Context, self *Node, q *QueryOpts) ([]*Node, error) {
	constraint := Where(FieldLft, OpLt, self.Lft).And(FieldRgt, OpGt, self.Rgt)
	return t.findRelated(ctx, q, constraint, self.Scope)
}

// SelfAndAncestors returns self's enclosing nodes, self included.
func (t *Tree) SelfAndAncestors(ctx context.Context, self *Node, q *QueryOpts) ([]*Node, error) {
	constraint := Where(FieldLft, OpLte, self.Lft).And(FieldRgt, OpGte, self.Rgt)
	return t.findRelated(ctx, q, constraint, self.Scope)
}

// Descendants returns the nodes whose intervals lie strictly inside
// self's.
func (t *Tree) Descendants(ctx context.Context, self *Node, q *QueryOpts) ([]*Node, error) {
	constraint := Where(FieldLft, OpGt, self.Lft).And(FieldRgt, OpLt, self.Rgt)
	return t.findRelated(ctx, q, constraint, self.Scope)
}

// SelfAndDescendants returns self's whole subtree, self included.
func (t *Tree) SelfAndDescendants(ctx context.Context, self *Node, q *QueryOpts) ([]*Node, error) {
	constraint := Where(FieldLft, OpGte, self.Lft).And(FieldRgt, OpLte, self.Rgt)
	return t.findRelated(ctx, q, constraint, self.Scope)
}

// Level counts self's strict ancestors straight from the intervals. It
// equals self's cached depth whenever the forest is consistently built.
func (t *Tree) Level(ctx context.Context, self *Node) (int, error) {
	ancestors, err := t.Ancestors(ctx, self, &QueryOpts{Select: []Field{FieldID}})
	if err != nil {
		return 0, err
	}
	return len(ancestors), nil
}
