package nestedset

import (
	"context"
	"sort"
	"sync"
)

// MemStore is a reference Store over an in-process map, for tests and for
// hosts whose hierarchies are small and ephemeral. It interprets filters
// over the structural fields only, and ignores field projection: returned
// nodes are always complete.
type MemStore struct {
	lk     sync.Mutex
	nodes  map[int64]*Node
	nextID int64
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{nodes: make(map[int64]*Node)}
}

// Create assigns the next id and stores a copy of the node. Host-side
// lifecycle helper, not part of the Store contract.
func (s *MemStore) Create(n *Node) *Node {
	s.lk.Lock()
	defer s.lk.Unlock()

	s.nextID++
	n.ID = s.nextID
	cp := *n
	s.nodes[cp.ID] = &cp
	return n
}

// Delete drops a node record outright. No renumbering happens here; pair
// it with Tree.Detach.
func (s *MemStore) Delete(id int64) {
	s.lk.Lock()
	defer s.lk.Unlock()
	delete(s.nodes, id)
}

// Len returns the number of stored nodes.
func (s *MemStore) Len() int {
	s.lk.Lock()
	defer s.lk.Unlock()
	return len(s.nodes)
}

// All returns a copy of every stored node in id order.
func (s *MemStore) All() []*Node {
	s.lk.Lock()
	defer s.lk.Unlock()

	out := make([]*Node, 0, len(s.nodes))
	for _, id := range s.sortedIDs() {
		cp := *s.nodes[id]
		out = append(out, &cp)
	}
	return out
}

func (s *MemStore) sortedIDs() []int64 {
	ids := make([]int64, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *MemStore) FindOne(ctx context.Context, f Filter) (*Node, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	for _, id := range s.sortedIDs() {
		n := s.nodes[id]
		if matches(n, f) {
			cp := *n
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemStore) Find(ctx context.Context, f Filter, opts *FindOpts) ([]*Node, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	var out []*Node
	for _, id := range s.sortedIDs() {
		n := s.nodes[id]
		if matches(n, f) {
			cp := *n
			out = append(out, &cp)
		}
	}

	if opts != nil {
		if len(opts.Sort) > 0 {
			sortNodes(out, opts.Sort)
		}
		if opts.Offset > 0 {
			if opts.Offset >= len(out) {
				out = nil
			} else {
				out = out[opts.Offset:]
			}
		}
		if opts.Limit > 0 && opts.Limit < len(out) {
			out = out[:opts.Limit]
		}
	}
	return out, nil
}

func (s *MemStore) UpdateMany(ctx context.Context, f Filter, d Delta) (int64, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	var count int64
	for _, n := range s.nodes {
		if !matches(n, f) {
			continue
		}
		n.Lft += d.Lft
		n.Rgt += d.Rgt
		count++
	}
	return count, nil
}

func (s *MemStore) UpdateOne(ctx context.Context, f Filter, v Values) (*Node, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	for _, id := range s.sortedIDs() {
		n := s.nodes[id]
		if !matches(n, f) {
			continue
		}
		if v.Lft != nil {
			n.Lft = *v.Lft
		}
		if v.Rgt != nil {
			n.Rgt = *v.Rgt
		}
		if v.Lvl != nil {
			n.Lvl = *v.Lvl
		}
		if v.ParentID != nil {
			n.ParentID = *v.ParentID
		}
		cp := *n
		return &cp, nil
	}
	return nil, ErrNotFound
}

func matches(n *Node, f Filter) bool {
	for _, c := range f.All {
		if !matchClause(n, c) {
			return false
		}
	}
	for _, group := range f.Any {
		ok := false
		for _, c := range group {
			if matchClause(n, c) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func matchClause(n *Node, c Clause) bool {
	if c.Field == FieldScope {
		want, ok := c.Value.(string)
		if !ok {
			return false
		}
		switch c.Op {
		case OpEq:
			return n.Scope == want
		case OpNe:
			return n.Scope != want
		}
		return false
	}

	have, ok := fieldValue(n, c.Field)
	if !ok {
		return false
	}
	want, ok := asInt64(c.Value)
	if !ok {
		return false
	}
	switch c.Op {
	case OpEq:
		return have == want
	case OpNe:
		return have != want
	case OpGt:
		return have > want
	case OpGte:
		return have >= want
	case OpLt:
		return have < want
	case OpLte:
		return have <= want
	}
	return false
}

func fieldValue(n *Node, f Field) (int64, bool) {
	switch f {
	case FieldID:
		return n.ID, true
	case FieldParent:
		return n.ParentID, true
	case FieldLft:
		return int64(n.Lft), true
	case FieldRgt:
		return int64(n.Rgt), true
	case FieldLvl:
		return int64(n.Lvl), true
	}
	return 0, false
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), true
	}
	return 0, false
}

func sortNodes(nodes []*Node, keys []SortKey) {
	sort.SliceStable(nodes, func(i, j int) bool {
		for _, k := range keys {
			var less, greater bool
			if k.Field == FieldScope {
				less = nodes[i].Scope < nodes[j].Scope
				greater = nodes[i].Scope > nodes[j].Scope
			} else {
				a, okA := fieldValue(nodes[i], k.Field)
				b, okB := fieldValue(nodes[j], k.Field)
				if !okA || !okB {
					continue
				}
				less = a < b
				greater = a > b
			}
			if less {
				return !k.Desc
			}
			if greater {
				return k.Desc
			}
		}
		return false
	})
}
