// Package nestedset maintains a nested-set (modified preorder tree
// traversal) ordering over records in a flat collection. Every node
// carries a left and right boundary, a cached depth, and a parent link;
// ancestry, descent, and siblinghood become interval tests over the
// boundaries, so whole-subtree reads need no recursion. The package owns
// only the structural fields: hosts keep their records wherever they like
// and hand this package a Store over them.
//
// Boundary maintenance is incremental. Attach positions a newly persisted
// node by opening a two-slot gap after its siblings, Detach closes the gap
// a removed leaf occupied, and Rebuild renumbers a whole tree from parent
// links alone. When the forest around a node is not built yet, Attach and
// Detach skip the renumbering silently and leave the node unnumbered;
// an explicit rebuild recovers such forests.
//
// Structural mutations on the same forest are serialized in-process by the
// Tree. Writers in other processes must be serialized by the host, for
// example behind a single writer or an advisory lock; the bulk shifts are
// separate store operations and a concurrent writer between them observes
// a half-opened gap.
package nestedset

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("nestedset")

// TreeOptions configures a Tree. The zero value is a valid unscoped setup.
type TreeOptions struct {
	// Scoped partitions the collection into independent forests by the
	// scope field. Every generated filter and every bulk renumber is then
	// additionally constrained to the acting node's scope value, so
	// forests never interact.
	Scoped bool

	Logger *slog.Logger
}

// DefaultTreeOptions returns the baseline Tree configuration.
func DefaultTreeOptions() *TreeOptions {
	return &TreeOptions{}
}

// Tree is the caller-facing handle over one ordered collection. All
// structural reads and writes go through its Store.
type Tree struct {
	store  Store
	scoped bool
	log    *slog.Logger

	lklk       sync.Mutex
	scopeLocks map[string]*scopeLock
}

type scopeLock struct {
	lk    sync.Mutex
	count int
}

// NewTree sets up a Tree over the given store. A nil opts means
// DefaultTreeOptions.
func NewTree(store Store, opts *TreeOptions) *Tree {
	if opts == nil {
		opts = DefaultTreeOptions()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default().With("system", "nestedset")
	}
	return &Tree{
		store:      store,
		scoped:     opts.Scoped,
		log:        log,
		scopeLocks: make(map[string]*scopeLock),
	}
}

// lockScope serializes structural mutations on one forest within this
// process. The returned func releases the lock.
func (t *Tree) lockScope(scope string) func() {
	t.lklk.Lock()
	sl, ok := t.scopeLocks[scope]
	if !ok {
		sl = &scopeLock{}
		t.scopeLocks[scope] = sl
	}
	sl.count++
	t.lklk.Unlock()

	sl.lk.Lock()

	return func() {
		sl.lk.Unlock()

		t.lklk.Lock()
		defer t.lklk.Unlock()

		sl.count--
		if sl.count == 0 {
			delete(t.scopeLocks, scope)
		}
	}
}

// inScope appends the forest constraint when scoping is enabled.
func (t *Tree) inScope(f Filter, scope string) Filter {
	if !t.scoped {
		return f
	}
	return f.And(FieldScope, OpEq, scope)
}

// Get fetches one node by id.
func (t *Tree) Get(ctx context.Context, id int64) (*Node, error) {
	return t.store.FindOne(ctx, Where(FieldID, OpEq, id))
}

// GetInScope fetches one node by id, constrained to one forest. On a
// scoped tree this is the lookup to prefer: it cannot cross forests and
// caching stores can serve it without consulting other scopes' writes.
func (t *Tree) GetInScope(ctx context.Context, id int64, scope string) (*Node, error) {
	return t.store.FindOne(ctx, t.inScope(Where(FieldID, OpEq, id), scope))
}
