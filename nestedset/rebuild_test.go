package nestedset

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRebuildRecoversUnnumberedChild(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tree, store := testTree(t)

	r := addNode(t, tree, store, 0, "rb")
	a := addNode(t, tree, store, r.ID, "rb")
	b := addNode(t, tree, store, r.ID, "rb")

	// A record that went in bare, as a bulk import would.
	c := store.Create(&Node{ParentID: b.ID, Scope: "rb"})

	require.NoError(t, tree.RebuildAll(ctx, "rb"))

	requireBounds(t, store, r.ID, 1, 8, 0)
	requireBounds(t, store, a.ID, 2, 3, 1)
	requireBounds(t, store, b.ID, 4, 7, 1)
	requireBounds(t, store, c.ID, 5, 6, 2)
}

func TestRebuildIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := fixtureTree(t, "ri")

	before := make(map[int64]Span)
	for _, n := range f.store.All() {
		before[n.ID] = n.Span()
	}

	// A rebuild of an intact forest reproduces the same numbering.
	require.NoError(t, f.tree.RebuildAll(ctx, "ri"))

	for _, n := range f.store.All() {
		require.Equal(t, before[n.ID], n.Span(), "node %d renumbered differently", n.ID)
	}
}

func TestRebuildFromScratch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tree, store := testTree(t)

	// Nothing is numbered; sibling order falls back to id order.
	r1 := store.Create(&Node{Scope: "fs"})
	r2 := store.Create(&Node{Scope: "fs"})
	c1 := store.Create(&Node{ParentID: r1.ID, Scope: "fs"})
	c2 := store.Create(&Node{ParentID: r1.ID, Scope: "fs"})
	c3 := store.Create(&Node{ParentID: r2.ID, Scope: "fs"})

	require.NoError(t, tree.RebuildAll(ctx, "fs"))

	requireBounds(t, store, r1.ID, 1, 6, 0)
	requireBounds(t, store, c1.ID, 2, 3, 1)
	requireBounds(t, store, c2.ID, 4, 5, 1)
	requireBounds(t, store, r2.ID, 7, 10, 0)
	requireBounds(t, store, c3.ID, 8, 9, 1)
}

func TestRebuildSubtree(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := fixtureTree(t, "rs")

	// Renumbering one branch in place leaves its numbers unchanged.
	rgt, err := f.tree.Rebuild(ctx, f.a, f.a.Lft)
	require.NoError(t, err)
	require.Equal(t, 7, rgt)

	requireBounds(t, f.store, f.a.ID, 2, 7, 1)
	requireBounds(t, f.store, f.c.ID, 3, 4, 2)
	requireBounds(t, f.store, f.d.ID, 5, 6, 2)
	requireBounds(t, f.store, f.r.ID, 1, 12, 0)
}

func TestRebuildMissingParent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tree, store := testTree(t)

	n := store.Create(&Node{ParentID: 9999, Scope: "mp"})
	_, err := tree.Rebuild(ctx, n, 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRebuildAllEmptyScope(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tree, _ := testTree(t)

	require.NoError(t, tree.RebuildAll(ctx, "void"))
}

func TestRebuildAfterSkippedAttaches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tree, store := testTree(t)

	// Children created before their parent all skip positioning.
	p := store.Create(&Node{Scope: "sk"})
	k1 := store.Create(&Node{ParentID: p.ID, Scope: "sk"})
	k2 := store.Create(&Node{ParentID: p.ID, Scope: "sk"})
	require.NoError(t, tree.Attach(ctx, k1))
	require.NoError(t, tree.Attach(ctx, k2))
	requireBounds(t, store, k1.ID, 0, 0, 0)
	requireBounds(t, store, k2.ID, 0, 0, 0)

	require.NoError(t, tree.RebuildAll(ctx, "sk"))

	requireBounds(t, store, p.ID, 1, 6, 0)
	requireBounds(t, store, k1.ID, 2, 3, 1)
	requireBounds(t, store, k2.ID, 4, 5, 1)
}
