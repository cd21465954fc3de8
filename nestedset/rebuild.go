package nestedset

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// Rebuild renumbers the tree rooted at node from parent links alone,
// assigning preorder boundaries starting at left. Existing boundaries are
// ignored, which is how forests left unnumbered by the attach skip policy
// are recovered. Depth restarts from the node's parent, or from zero for a
// root. Returns the node's final right boundary.
//
// The walk is sequential and unbatched: one children read and one
// boundary commit per node. A failed read aborts the branch and may leave
// the tree partially renumbered; rerun the rebuild once the store
// recovers.
func (t *Tree) Rebuild(ctx context.Context, node *Node, left int) (int, error) {
	ctx, span := tracer.Start(ctx, "Rebuild")
	defer span.End()
	span.SetAttributes(attribute.Int64("node", node.ID), attribute.Int("left", left))

	unlock := t.lockScope(node.Scope)
	defer unlock()

	lvl := 0
	if node.ParentID != 0 {
		parent, err := t.store.FindOne(ctx, t.inScope(Where(FieldID, OpEq, node.ParentID), node.Scope))
		if err != nil {
			return 0, fmt.Errorf("fetching parent %d of rebuild root %d: %w", node.ParentID, node.ID, err)
		}
		lvl = parent.Lvl + 1
	}

	return t.renumber(ctx, node, left, lvl)
}

// renumber assigns node's boundaries and recurses through its children,
// threading the preorder counter: each child starts where the previous
// one ended, and the node's right boundary lands after its last child.
// Children come back in lft-then-id order, so a rebuild preserves the
// existing sibling order and falls back to id order for unnumbered nodes;
// rerunning it on an unchanged forest reproduces the same numbering.
func (t *Tree) renumber(ctx context.Context, node *Node, left, lvl int) (int, error) {
	rgt := left + 1

	children, err := t.store.Find(ctx, t.inScope(Where(FieldParent, OpEq, node.ID), node.Scope), &FindOpts{
		Sort: []SortKey{{Field: FieldLft}, {Field: FieldID}},
	})
	if err != nil {
		return 0, fmt.Errorf("fetching children of node %d: %w", node.ID, err)
	}

	for _, child := range children {
		childRgt, err := t.renumber(ctx, child, rgt, lvl+1)
		if err != nil {
			return 0, err
		}
		rgt = childRgt + 1
	}

	if _, err := t.store.UpdateOne(ctx, t.inScope(Where(FieldID, OpEq, node.ID), node.Scope), Values{Lft: &left, Rgt: &rgt, Lvl: &lvl}); err != nil {
		return 0, fmt.Errorf("committing boundaries for node %d: %w", node.ID, err)
	}
	node.Lft, node.Rgt, node.Lvl = left, rgt, lvl
	nodesRenumbered.Inc()

	return rgt, nil
}

// RebuildAll renumbers one whole forest: every root in the scope is
// rebuilt left to right, ordered like siblings, with the preorder counter
// threading across them. For unscoped trees pass the empty scope.
func (t *Tree) RebuildAll(ctx context.Context, scope string) error {
	ctx, span := tracer.Start(ctx, "RebuildAll")
	defer span.End()
	span.SetAttributes(attribute.String("scope", scope))

	unlock := t.lockScope(scope)
	defer unlock()

	roots, err := t.store.Find(ctx, t.inScope(Where(FieldParent, OpEq, int64(0)), scope), &FindOpts{
		Sort: []SortKey{{Field: FieldLft}, {Field: FieldID}},
	})
	if err != nil {
		return fmt.Errorf("fetching roots of scope %q: %w", scope, err)
	}

	left := 1
	for _, root := range roots {
		rgt, err := t.renumber(ctx, root, left, 0)
		if err != nil {
			return err
		}
		left = rgt + 1
	}
	return nil
}
