package nestedset

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a filter matches no node.
	ErrNotFound = errors.New("nestedset: node not found")

	// ErrNotLeaf is returned by Detach and Move when the node still
	// encloses descendants. Remove the children first, deepest first.
	ErrNotLeaf = errors.New("nestedset: node is not a leaf")
)

// Field names a structural record field in a filter or sort key. Adapters
// translate these to the host collection's real column names; persistent
// adapters additionally pass unrecognized fields through verbatim so hosts
// can constrain queries on their own columns.
type Field string

const (
	FieldID     Field = "id"
	FieldParent Field = "parent"
	FieldLft    Field = "lft"
	FieldRgt    Field = "rgt"
	FieldLvl    Field = "lvl"
	FieldScope  Field = "scope"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEq  Op = "="
	OpNe  Op = "!="
	OpGt  Op = ">"
	OpGte Op = ">="
	OpLt  Op = "<"
	OpLte Op = "<="
)

// Clause is a single field comparison.
type Clause struct {
	Field Field
	Op    Op
	Value any
}

// Filter selects nodes. Clauses in All are conjoined; each group in Any is
// a disjunction, and the groups are conjoined with All. That covers every
// derived tree query plus whatever constraints the host merges in. The
// zero Filter matches everything.
type Filter struct {
	All []Clause
	Any [][]Clause
}

// Where starts a filter with one conjoined clause.
func Where(f Field, op Op, v any) Filter {
	return Filter{All: []Clause{{Field: f, Op: op, Value: v}}}
}

// And returns a copy of the filter with one more conjoined clause.
func (f Filter) And(field Field, op Op, v any) Filter {
	all := make([]Clause, len(f.All), len(f.All)+1)
	copy(all, f.All)
	f.All = append(all, Clause{Field: field, Op: op, Value: v})
	return f
}

// AnyOf returns a copy of the filter with one more disjunction group.
func (f Filter) AnyOf(clauses ...Clause) Filter {
	if len(clauses) == 0 {
		return f
	}
	groups := make([][]Clause, len(f.Any), len(f.Any)+1)
	copy(groups, f.Any)
	f.Any = append(groups, clauses)
	return f
}

// Merge returns the conjunction of two filters.
func (f Filter) Merge(other Filter) Filter {
	var out Filter
	out.All = append(append(out.All, f.All...), other.All...)
	out.Any = append(append(out.Any, f.Any...), other.Any...)
	return out
}

// Empty reports whether the filter carries no clauses at all.
func (f Filter) Empty() bool {
	return len(f.All) == 0 && len(f.Any) == 0
}

// SortKey orders results by one field.
type SortKey struct {
	Field Field
	Desc  bool
}

// FindOpts carries the optional knobs of a Find call. Select narrows the
// returned fields where the adapter supports projection; the id is always
// included. A nil FindOpts means defaults throughout: full rows, stable id
// order, no limit.
type FindOpts struct {
	Select []Field
	Sort   []SortKey
	Limit  int
	Offset int
}

// Delta is a per-field additive increment applied by UpdateMany. Zero
// fields are left untouched.
type Delta struct {
	Lft int
	Rgt int
}

// Values sets exact field values through UpdateOne. Nil members are left
// untouched; a ParentID of zero clears the parent link.
type Values struct {
	Lft      *int
	Rgt      *int
	Lvl      *int
	ParentID *int64
}

// Store is the four-operation contract the engines need from the host
// collection. Implementations interpret filters over the structural fields
// and must not add constraints of their own: every filter they receive is
// already complete, including any forest scope constraint.
//
// All methods surface the host store's own failures unchanged; the engines
// never retry.
type Store interface {
	// FindOne returns the first node matching the filter, in stable id
	// order, or ErrNotFound.
	FindOne(ctx context.Context, f Filter) (*Node, error)

	// Find returns every node matching the filter, honoring opts.
	Find(ctx context.Context, f Filter, opts *FindOpts) ([]*Node, error)

	// UpdateMany applies an additive increment to every matching node and
	// returns the number of nodes touched. Adapters may reject an empty
	// filter rather than update the whole collection.
	UpdateMany(ctx context.Context, f Filter, d Delta) (int64, error)

	// UpdateOne sets exact values on the first matching node and returns
	// the updated view, or ErrNotFound.
	UpdateOne(ctx context.Context, f Filter, v Values) (*Node, error)
}
