package nestedset

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAttachWalkthrough(t *testing.T) {
	t.Parallel()
	tree, store := testTree(t)

	// A lone root spans (1,2).
	r := addNode(t, tree, store, 0, "w")
	requireBounds(t, store, r.ID, 1, 2, 0)

	// Its first child opens a gap inside it.
	a := addNode(t, tree, store, r.ID, "w")
	requireBounds(t, store, r.ID, 1, 4, 0)
	requireBounds(t, store, a.ID, 2, 3, 1)

	// A second child lands after the first.
	b := addNode(t, tree, store, r.ID, "w")
	requireBounds(t, store, r.ID, 1, 6, 0)
	requireBounds(t, store, a.ID, 2, 3, 1)
	requireBounds(t, store, b.ID, 4, 5, 1)

	// Attach also updates the caller's node in place.
	require.Equal(t, 4, b.Lft)
	require.Equal(t, 5, b.Rgt)
	require.Equal(t, 1, b.Lvl)
}

func TestAttachNestedChild(t *testing.T) {
	t.Parallel()
	tree, store := testTree(t)

	r := addNode(t, tree, store, 0, "n")
	a := addNode(t, tree, store, r.ID, "n")
	c := addNode(t, tree, store, a.ID, "n")

	requireBounds(t, store, r.ID, 1, 6, 0)
	requireBounds(t, store, a.ID, 2, 5, 1)
	requireBounds(t, store, c.ID, 3, 4, 2)
}

func TestAttachRootSiblings(t *testing.T) {
	t.Parallel()
	tree, store := testTree(t)

	// Roots of one forest tile a single number line.
	r1 := addNode(t, tree, store, 0, "r")
	r2 := addNode(t, tree, store, 0, "r")
	requireBounds(t, store, r1.ID, 1, 2, 0)
	requireBounds(t, store, r2.ID, 3, 4, 0)

	// Growing the first root shifts the second along.
	c := addNode(t, tree, store, r1.ID, "r")
	requireBounds(t, store, r1.ID, 1, 4, 0)
	requireBounds(t, store, c.ID, 2, 3, 1)
	requireBounds(t, store, r2.ID, 5, 6, 0)
}

func TestAttachMissingParentSkipped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tree, store := testTree(t)

	r := addNode(t, tree, store, 0, "m")

	n := store.Create(&Node{ParentID: 9999, Scope: "m"})
	require.NoError(t, tree.Attach(ctx, n))

	// The node stays unnumbered and nothing else moved.
	requireBounds(t, store, n.ID, 0, 0, 0)
	requireBounds(t, store, r.ID, 1, 2, 0)
}

func TestAttachUnbuiltParentSkipped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tree, store := testTree(t)

	parent := store.Create(&Node{Scope: "u"})
	child := store.Create(&Node{ParentID: parent.ID, Scope: "u"})
	require.NoError(t, tree.Attach(ctx, child))

	requireBounds(t, store, child.ID, 0, 0, 0)
}

func TestAttachUnbuiltSiblingSkipped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tree, store := testTree(t)

	r := addNode(t, tree, store, 0, "s")

	// An unnumbered sibling poisons the whole insertion point.
	bare := store.Create(&Node{ParentID: r.ID, Scope: "s"})
	late := store.Create(&Node{ParentID: r.ID, Scope: "s"})
	require.NoError(t, tree.Attach(ctx, late))

	requireBounds(t, store, bare.ID, 0, 0, 0)
	requireBounds(t, store, late.ID, 0, 0, 0)
	requireBounds(t, store, r.ID, 1, 2, 0)
}

func TestAttachTwiceRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tree, store := testTree(t)

	r := addNode(t, tree, store, 0, "t")
	err := tree.Attach(ctx, r)
	require.ErrorContains(t, err, "already built")
}

func TestDetachClosesGap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tree, store := testTree(t)

	r := addNode(t, tree, store, 0, "d")
	a := addNode(t, tree, store, r.ID, "d")
	b := addNode(t, tree, store, r.ID, "d")

	require.NoError(t, tree.Detach(ctx, a))

	// The second child slides into the vacated slots.
	requireBounds(t, store, r.ID, 1, 4, 0)
	requireBounds(t, store, b.ID, 2, 3, 1)

	// The detached node's stored boundaries are cleared, and the
	// caller's copy too.
	requireBounds(t, store, a.ID, 0, 0, 0)
	require.Equal(t, 0, a.Lft)
	require.Equal(t, 0, a.Rgt)
}

func TestDetachNonLeaf(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tree, store := testTree(t)

	r := addNode(t, tree, store, 0, "nl")
	a := addNode(t, tree, store, r.ID, "nl")

	err := tree.Detach(ctx, r)
	require.ErrorIs(t, err, ErrNotLeaf)

	// Nothing moved.
	requireBounds(t, store, r.ID, 1, 4, 0)
	requireBounds(t, store, a.ID, 2, 3, 1)
}

func TestDetachUnnumberedSkipped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tree, store := testTree(t)

	r := addNode(t, tree, store, 0, "du")
	bare := store.Create(&Node{ParentID: 9999, Scope: "du"})

	require.NoError(t, tree.Detach(ctx, bare))
	requireBounds(t, store, r.ID, 1, 2, 0)
}

func TestAttachDetachInverse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tree, store := testTree(t)

	r := addNode(t, tree, store, 0, "inv")
	addNode(t, tree, store, r.ID, "inv")
	b := addNode(t, tree, store, r.ID, "inv")
	addNode(t, tree, store, b.ID, "inv")

	before := make(map[int64]Span)
	for _, n := range store.All() {
		before[n.ID] = n.Span()
	}

	// A detach undoes its attach exactly.
	c := addNode(t, tree, store, b.ID, "inv")
	require.NoError(t, tree.Detach(ctx, c))
	store.Delete(c.ID)

	for _, n := range store.All() {
		require.Equal(t, before[n.ID], n.Span(), "node %d moved", n.ID)
	}
}

func TestScopeIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tree, store := testTree(t)

	ra := addNode(t, tree, store, 0, "a")
	rb := addNode(t, tree, store, 0, "b")

	// Both forests number from 1 independently.
	requireBounds(t, store, ra.ID, 1, 2, 0)
	requireBounds(t, store, rb.ID, 1, 2, 0)

	aa := addNode(t, tree, store, ra.ID, "a")
	requireBounds(t, store, ra.ID, 1, 4, 0)
	requireBounds(t, store, aa.ID, 2, 3, 1)
	requireBounds(t, store, rb.ID, 1, 2, 0)

	require.NoError(t, tree.Detach(ctx, aa))
	requireBounds(t, store, rb.ID, 1, 2, 0)
}

func TestMoveLeaf(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tree, store := testTree(t)

	r1 := addNode(t, tree, store, 0, "mv")
	r2 := addNode(t, tree, store, 0, "mv")
	a := addNode(t, tree, store, r1.ID, "mv")

	require.NoError(t, tree.Move(ctx, a, r2.ID))

	requireBounds(t, store, r1.ID, 1, 2, 0)
	requireBounds(t, store, r2.ID, 3, 6, 0)
	requireBounds(t, store, a.ID, 4, 5, 1)
	require.Equal(t, r2.ID, a.ParentID)
	require.Equal(t, r2.ID, fetch(t, store, a.ID).ParentID)
}

func TestMoveToRoot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tree, store := testTree(t)

	r := addNode(t, tree, store, 0, "mr")
	a := addNode(t, tree, store, r.ID, "mr")

	require.NoError(t, tree.Move(ctx, a, 0))

	requireBounds(t, store, r.ID, 1, 2, 0)
	requireBounds(t, store, a.ID, 3, 4, 0)
	require.True(t, fetch(t, store, a.ID).IsRoot())
}

func TestMoveNonLeaf(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tree, store := testTree(t)

	r := addNode(t, tree, store, 0, "mn")
	a := addNode(t, tree, store, r.ID, "mn")
	addNode(t, tree, store, a.ID, "mn")

	err := tree.Move(ctx, a, 0)
	require.ErrorIs(t, err, ErrNotLeaf)
}

func TestMoveSelfParentRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tree, store := testTree(t)

	r := addNode(t, tree, store, 0, "ms")
	err := tree.Move(ctx, r, r.ID)
	require.Error(t, err)
}

func TestMoveUnnumberedNode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tree, store := testTree(t)

	p := addNode(t, tree, store, 0, "mu")

	// Skipped at attach time because its parent never existed.
	x := store.Create(&Node{ParentID: 9999, Scope: "mu"})
	require.NoError(t, tree.Attach(ctx, x))
	requireBounds(t, store, x.ID, 0, 0, 0)

	// Moving it under a built parent positions it for the first time.
	require.NoError(t, tree.Move(ctx, x, p.ID))
	requireBounds(t, store, p.ID, 1, 4, 0)
	requireBounds(t, store, x.ID, 2, 3, 1)
}
