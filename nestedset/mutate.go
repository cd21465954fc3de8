package nestedset

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// Attach positions self in the nested-set ordering: a two-slot gap opens
// after self's siblings and self's boundaries and depth are committed. The
// host persists the record first, so the store has assigned an id, then
// calls Attach. The stored record is re-read under the forest lock and
// self is refreshed from it, so a stale caller copy cannot misplace the
// gap. Nodes without a parent link are roots and are positioned after the
// forest's other roots; the first root receives (1, 2).
//
// When the forest around self is not built, because the parent is missing
// or unnumbered or any sibling is unnumbered, Attach skips the renumbering
// silently and leaves self unnumbered. Store failures are returned as-is.
func (t *Tree) Attach(ctx context.Context, self *Node) error {
	ctx, span := tracer.Start(ctx, "Attach")
	defer span.End()
	span.SetAttributes(attribute.Int64("node", self.ID), attribute.Int64("parent", self.ParentID))

	unlock := t.lockScope(self.Scope)
	defer unlock()

	return t.attach(ctx, self)
}

func (t *Tree) attach(ctx context.Context, self *Node) error {
	// The caller's copy may predate the lock; the stored record is the
	// truth for the checks and the arithmetic below.
	cur, err := t.store.FindOne(ctx, t.inScope(Where(FieldID, OpEq, self.ID), self.Scope))
	if err != nil {
		return fmt.Errorf("fetching node %d: %w", self.ID, err)
	}
	self.ParentID, self.Lft, self.Rgt, self.Lvl = cur.ParentID, cur.Lft, cur.Rgt, cur.Lvl

	if self.Span().Defined() {
		return fmt.Errorf("attach node %d: boundaries already built, use Move to reposition", self.ID)
	}

	maxRgt, lvl, ok, err := t.insertionPoint(ctx, self)
	if err != nil {
		return err
	}
	if !ok {
		nodesAttached.WithLabelValues("skipped").Inc()
		t.log.DebugContext(ctx, "forest not built, leaving node unnumbered", "node", self.ID, "parent", self.ParentID)
		return nil
	}

	if err := t.shiftBounds(ctx, self.Scope, maxRgt, 2, "attach"); err != nil {
		return err
	}

	lft := maxRgt + 1
	rgt := maxRgt + 2
	if _, err := t.store.UpdateOne(ctx, t.inScope(Where(FieldID, OpEq, self.ID), self.Scope), Values{Lft: &lft, Rgt: &rgt, Lvl: &lvl}); err != nil {
		return fmt.Errorf("committing boundaries for node %d: %w", self.ID, err)
	}
	self.Lft, self.Rgt, self.Lvl = lft, rgt, lvl

	nodesAttached.WithLabelValues("positioned").Inc()
	return nil
}

// insertionPoint computes the boundary slot self's interval goes after,
// and self's depth. ok is false when the surrounding forest is not built,
// which callers treat as the soft skip.
func (t *Tree) insertionPoint(ctx context.Context, self *Node) (int, int, bool, error) {
	var base, lvl int

	if self.ParentID != 0 {
		parent, err := t.store.FindOne(ctx, t.inScope(Where(FieldID, OpEq, self.ParentID), self.Scope))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return 0, 0, false, nil
			}
			return 0, 0, false, fmt.Errorf("fetching parent %d: %w", self.ParentID, err)
		}
		if !parent.Span().Defined() {
			return 0, 0, false, nil
		}
		// With no siblings the new node becomes the parent's first child,
		// immediately inside the parent's own left boundary.
		base = parent.Lft
		lvl = parent.Lvl + 1
	}

	siblings, err := t.store.Find(ctx, t.inScope(Where(FieldParent, OpEq, self.ParentID).And(FieldID, OpNe, self.ID), self.Scope), nil)
	if err != nil {
		return 0, 0, false, fmt.Errorf("fetching siblings of node %d: %w", self.ID, err)
	}

	maxRgt := base
	for _, sib := range siblings {
		if !sib.Span().Defined() {
			return 0, 0, false, nil
		}
		if sib.Rgt > maxRgt {
			maxRgt = sib.Rgt
		}
	}
	return maxRgt, lvl, true, nil
}

// shiftBounds moves every boundary strictly beyond after by delta, as two
// bulk updates: left boundaries first, then right. delta is +2 to open a
// gap and -2 to close one.
func (t *Tree) shiftBounds(ctx context.Context, scope string, after, delta int, op string) error {
	n, err := t.store.UpdateMany(ctx, t.inScope(Where(FieldLft, OpGt, after), scope), Delta{Lft: delta})
	if err != nil {
		return fmt.Errorf("shifting left boundaries past %d: %w", after, err)
	}
	m, err := t.store.UpdateMany(ctx, t.inScope(Where(FieldRgt, OpGt, after), scope), Delta{Rgt: delta})
	if err != nil {
		return fmt.Errorf("shifting right boundaries past %d: %w", after, err)
	}
	boundsShifted.WithLabelValues(op).Add(float64(n + m))
	return nil
}

// Detach closes the two-slot gap self occupies, in preparation for the
// record's deletion by the host, and clears self's stored boundaries. The
// stored record is re-read under the forest lock, like Attach does, so
// detach the node before deleting the record. Only leaves detach; for a
// populated subtree remove the children first, deepest first, or delete
// the records outright and rebuild. An unnumbered self needs no
// renumbering and is skipped silently.
func (t *Tree) Detach(ctx context.Context, self *Node) error {
	ctx, span := tracer.Start(ctx, "Detach")
	defer span.End()
	span.SetAttributes(attribute.Int64("node", self.ID))

	unlock := t.lockScope(self.Scope)
	defer unlock()

	return t.detach(ctx, self)
}

func (t *Tree) detach(ctx context.Context, self *Node) error {
	cur, err := t.store.FindOne(ctx, t.inScope(Where(FieldID, OpEq, self.ID), self.Scope))
	if err != nil {
		return fmt.Errorf("fetching node %d: %w", self.ID, err)
	}
	self.ParentID, self.Lft, self.Rgt, self.Lvl = cur.ParentID, cur.Lft, cur.Rgt, cur.Lvl

	if !self.Span().Defined() {
		nodesDetached.WithLabelValues("skipped").Inc()
		t.log.DebugContext(ctx, "node carries no boundaries, nothing to close", "node", self.ID)
		return nil
	}
	if !self.IsLeaf() {
		return fmt.Errorf("detaching node %d: %w", self.ID, ErrNotLeaf)
	}

	if err := t.shiftBounds(ctx, self.Scope, self.Rgt, -2, "detach"); err != nil {
		return err
	}

	zero := 0
	if _, err := t.store.UpdateOne(ctx, t.inScope(Where(FieldID, OpEq, self.ID), self.Scope), Values{Lft: &zero, Rgt: &zero, Lvl: &zero}); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("clearing boundaries of node %d: %w", self.ID, err)
	}
	self.Lft, self.Rgt, self.Lvl = 0, 0, 0

	nodesDetached.WithLabelValues("closed").Inc()
	return nil
}

// Move reparents a leaf: the gap under the old parent closes and a new one
// opens under newParent. The node keeps its id and scope. An unnumbered
// node skips the gap-closing half and is positioned fresh under the new
// parent, forest permitting. Subtree moves are not supported; move the
// leaves individually, or reparent the records and rebuild.
func (t *Tree) Move(ctx context.Context, self *Node, newParent int64) error {
	ctx, span := tracer.Start(ctx, "Move")
	defer span.End()
	span.SetAttributes(attribute.Int64("node", self.ID), attribute.Int64("parent", newParent))

	if newParent == self.ID {
		return fmt.Errorf("node %d cannot be its own parent", self.ID)
	}

	unlock := t.lockScope(self.Scope)
	defer unlock()

	if err := t.detach(ctx, self); err != nil {
		return err
	}

	self.ParentID = newParent
	if _, err := t.store.UpdateOne(ctx, t.inScope(Where(FieldID, OpEq, self.ID), self.Scope), Values{ParentID: &newParent}); err != nil {
		return fmt.Errorf("reparenting node %d: %w", self.ID, err)
	}

	return t.attach(ctx, self)
}
