package nestedset

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func testTree(t *testing.T) (*Tree, *MemStore) {
	t.Helper()
	store := NewMemStore()
	tree := NewTree(store, &TreeOptions{Scoped: true})
	return tree, store
}

// addNode persists a bare record and attaches it, the normal two-step
// lifecycle of a host insert.
func addNode(t *testing.T, tree *Tree, store *MemStore, parent int64, scope string) *Node {
	t.Helper()
	n := store.Create(&Node{ParentID: parent, Scope: scope})
	require.NoError(t, tree.Attach(context.Background(), n))
	return n
}

func fetch(t *testing.T, store Store, id int64) *Node {
	t.Helper()
	n, err := store.FindOne(context.Background(), Where(FieldID, OpEq, id))
	require.NoError(t, err)
	return n
}

// requireBounds asserts a node's stored boundaries and depth.
func requireBounds(t *testing.T, store Store, id int64, lft, rgt, lvl int) {
	t.Helper()
	n := fetch(t, store, id)
	require.Equal(t, lft, n.Lft, "node %d lft", id)
	require.Equal(t, rgt, n.Rgt, "node %d rgt", id)
	require.Equal(t, lvl, n.Lvl, "node %d lvl", id)
}

func ids(nodes []*Node) []int64 {
	out := make([]int64, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

type fixture struct {
	tree  *Tree
	store *MemStore

	r, a, b, c, d, e *Node
}

// fixtureTree builds one fully numbered tree:
//
//	r (1,12)
//	├── a (2,7)
//	│   ├── c (3,4)
//	│   └── d (5,6)
//	└── b (8,11)
//	    └── e (9,10)
func fixtureTree(t *testing.T, scope string) *fixture {
	t.Helper()
	tree, store := testTree(t)
	f := &fixture{tree: tree, store: store}

	f.r = addNode(t, tree, store, 0, scope)
	f.a = addNode(t, tree, store, f.r.ID, scope)
	f.b = addNode(t, tree, store, f.r.ID, scope)
	f.c = addNode(t, tree, store, f.a.ID, scope)
	f.d = addNode(t, tree, store, f.a.ID, scope)
	f.e = addNode(t, tree, store, f.b.ID, scope)

	// Later attaches shifted the earlier nodes; refresh the handles.
	for _, n := range []**Node{&f.r, &f.a, &f.b, &f.c, &f.d, &f.e} {
		*n = fetch(t, store, (*n).ID)
	}
	return f
}

func TestGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tree, store := testTree(t)
	r := addNode(t, tree, store, 0, "g")

	got, err := tree.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, r.ID, got.ID)
	require.Equal(t, "g", got.Scope)

	_, err = tree.Get(ctx, 9999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetInScope(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tree, store := testTree(t)
	r := addNode(t, tree, store, 0, "gs")

	got, err := tree.GetInScope(ctx, r.ID, "gs")
	require.NoError(t, err)
	require.Equal(t, r.ID, got.ID)

	// The same id is invisible from another forest.
	_, err = tree.GetInScope(ctx, r.ID, "other")
	require.ErrorIs(t, err, ErrNotFound)
}
