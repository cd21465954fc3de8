package nestedset

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/puzpuzpuz/xsync/v3"
)

// DefaultNodeCacheSize is the entry cap used when NewCachingStore is
// given a non-positive size.
const DefaultNodeCacheSize = 10_000

// CachingStore decorates a Store with a read-through cache for id
// lookups, the hottest read in attach-heavy workloads: every Attach
// fetches the parent and every Parent call repeats it. Cache keys carry
// the write generation of the node's forest, bumped by every write that
// goes through the decorator, so renumbered boundaries are never served
// stale; superseded entries age out of the LRU. Writes that bypass the
// decorator are invisible to it.
type CachingStore struct {
	inner Store
	cache *expirable.LRU[nodeKey, *Node]
	gens  *xsync.MapOf[string, uint64]
}

type nodeKey struct {
	scope string
	gen   uint64
	id    int64
}

// NewCachingStore wraps inner with a cache of at most size entries whose
// entries expire after ttl. A non-positive size falls back to
// DefaultNodeCacheSize; a zero ttl disables expiry.
func NewCachingStore(inner Store, size int, ttl time.Duration) *CachingStore {
	if size <= 0 {
		size = DefaultNodeCacheSize
	}
	return &CachingStore{
		inner: inner,
		cache: expirable.NewLRU[nodeKey, *Node](size, nil, ttl),
		gens:  xsync.NewMapOf[string, uint64](),
	}
}

// keyFor keys an entry by its forest's write generation. Scoped lookups
// are invalidated only by writes touching their forest; unscoped lookups
// by any write at all. Registering the scope on first use lets a later
// unscoped write find and bump its generation.
func (s *CachingStore) keyFor(scope string, id int64) nodeKey {
	gen, _ := s.gens.LoadOrStore(scope, 0)
	return nodeKey{scope: scope, gen: gen, id: id}
}

// bump invalidates every entry a write could have touched: the write's
// own forest plus the unscoped entries, or the whole cache when the
// write itself carried no forest constraint.
func (s *CachingStore) bump(scope string) {
	inc := func(key string) {
		s.gens.Compute(key, func(old uint64, _ bool) (uint64, bool) {
			return old + 1, false
		})
	}
	if scope != "" {
		inc(scope)
		inc("")
		return
	}
	s.gens.Range(func(key string, _ uint64) bool {
		inc(key)
		return true
	})
	inc("")
}

// idLookup recognizes the id-equality filters the engines generate: one
// id clause, at most one scope clause, nothing else.
func idLookup(f Filter) (int64, string, bool) {
	if len(f.Any) != 0 {
		return 0, "", false
	}
	var (
		id        int64
		scope     string
		haveID    bool
		haveScope bool
	)
	for _, c := range f.All {
		switch {
		case c.Field == FieldID && c.Op == OpEq && !haveID:
			v, ok := asInt64(c.Value)
			if !ok {
				return 0, "", false
			}
			id, haveID = v, true
		case c.Field == FieldScope && c.Op == OpEq && !haveScope:
			v, ok := c.Value.(string)
			if !ok {
				return 0, "", false
			}
			scope, haveScope = v, true
		default:
			return 0, "", false
		}
	}
	if !haveID {
		return 0, "", false
	}
	return id, scope, true
}

// filterScope pulls the forest constraint out of a write filter; writes
// without one bump the global generation.
func filterScope(f Filter) string {
	for _, c := range f.All {
		if c.Field == FieldScope && c.Op == OpEq {
			if v, ok := c.Value.(string); ok {
				return v
			}
		}
	}
	return ""
}

func (s *CachingStore) FindOne(ctx context.Context, f Filter) (*Node, error) {
	id, scope, ok := idLookup(f)
	if !ok {
		return s.inner.FindOne(ctx, f)
	}

	key := s.keyFor(scope, id)
	if n, ok := s.cache.Get(key); ok {
		nodeCacheHits.Inc()
		cp := *n
		return &cp, nil
	}
	nodeCacheMisses.Inc()

	n, err := s.inner.FindOne(ctx, f)
	if err != nil {
		return nil, err
	}
	cp := *n
	s.cache.Add(key, &cp)
	return n, nil
}

func (s *CachingStore) Find(ctx context.Context, f Filter, opts *FindOpts) ([]*Node, error) {
	return s.inner.Find(ctx, f, opts)
}

func (s *CachingStore) UpdateMany(ctx context.Context, f Filter, d Delta) (int64, error) {
	count, err := s.inner.UpdateMany(ctx, f, d)
	if err == nil {
		s.bump(filterScope(f))
	}
	return count, err
}

func (s *CachingStore) UpdateOne(ctx context.Context, f Filter, v Values) (*Node, error) {
	n, err := s.inner.UpdateOne(ctx, f, v)
	if err == nil {
		s.bump(filterScope(f))
	}
	return n, err
}
