package nestedset

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"gorm.io/gorm"
)

// GormStoreConfig maps the structural fields onto the host table. Names
// are interpolated into generated SQL and must be plain identifiers; the
// constructor validates them. Scope may stay empty when the host table is
// a single unpartitioned forest.
type GormStoreConfig struct {
	Table  string
	ID     string
	Parent string
	Lft    string
	Rgt    string
	Lvl    string
	Scope  string
}

// DefaultGormStoreConfig returns the conventional column mapping for a
// table.
func DefaultGormStoreConfig(table string) GormStoreConfig {
	return GormStoreConfig{
		Table:  table,
		ID:     "id",
		Parent: "parent_id",
		Lft:    "lft",
		Rgt:    "rgt",
		Lvl:    "lvl",
		Scope:  "scope",
	}
}

var (
	identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	tableRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)
)

// GormStore implements Store over one table through gorm. Roots may be
// stored either as NULL parent links or as zero; filters on the parent
// field cover both. Unrecognized filter fields pass through as column
// names, so hosts can constrain queries on their own columns.
type GormStore struct {
	db  *gorm.DB
	cfg GormStoreConfig
}

// NewGormStore validates the column mapping and returns the adapter. The
// handle is used as given; pool sizing, logging, and plugins are the
// host's business.
func NewGormStore(db *gorm.DB, cfg GormStoreConfig) (*GormStore, error) {
	if !tableRe.MatchString(cfg.Table) {
		return nil, fmt.Errorf("gormstore: invalid table name %q", cfg.Table)
	}
	cols := map[string]string{
		"id":     cfg.ID,
		"parent": cfg.Parent,
		"lft":    cfg.Lft,
		"rgt":    cfg.Rgt,
		"lvl":    cfg.Lvl,
	}
	for name, col := range cols {
		if !identRe.MatchString(col) {
			return nil, fmt.Errorf("gormstore: invalid %s column %q", name, col)
		}
	}
	if cfg.Scope != "" && !identRe.MatchString(cfg.Scope) {
		return nil, fmt.Errorf("gormstore: invalid scope column %q", cfg.Scope)
	}
	return &GormStore{db: db, cfg: cfg}, nil
}

func (s *GormStore) column(f Field) (string, error) {
	switch f {
	case FieldID:
		return s.cfg.ID, nil
	case FieldParent:
		return s.cfg.Parent, nil
	case FieldLft:
		return s.cfg.Lft, nil
	case FieldRgt:
		return s.cfg.Rgt, nil
	case FieldLvl:
		return s.cfg.Lvl, nil
	case FieldScope:
		if s.cfg.Scope == "" {
			return "", fmt.Errorf("gormstore: no scope column configured")
		}
		return s.cfg.Scope, nil
	}
	// host-defined field, pass the name through
	if !identRe.MatchString(string(f)) {
		return "", fmt.Errorf("gormstore: invalid filter field %q", f)
	}
	return string(f), nil
}

func sqlOp(op Op) (string, error) {
	switch op {
	case OpEq:
		return "=", nil
	case OpNe:
		return "<>", nil
	case OpGt:
		return ">", nil
	case OpGte:
		return ">=", nil
	case OpLt:
		return "<", nil
	case OpLte:
		return "<=", nil
	}
	return "", fmt.Errorf("gormstore: unknown operator %q", op)
}

// cond renders one clause as a SQL fragment plus its arguments. A zero
// parent value means "root" and must also match NULL links.
func (s *GormStore) cond(c Clause) (string, []any, error) {
	col, err := s.column(c.Field)
	if err != nil {
		return "", nil, err
	}
	if c.Field == FieldParent {
		if v, ok := asInt64(c.Value); ok && v == 0 {
			switch c.Op {
			case OpEq:
				return fmt.Sprintf("(%s IS NULL OR %s = 0)", col, col), nil, nil
			case OpNe:
				return fmt.Sprintf("(%s IS NOT NULL AND %s <> 0)", col, col), nil, nil
			}
		}
	}
	op, err := sqlOp(c.Op)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("%s %s ?", col, op), []any{c.Value}, nil
}

func (s *GormStore) apply(ctx context.Context, f Filter) (*gorm.DB, error) {
	q := s.db.WithContext(ctx).Table(s.cfg.Table)
	for _, c := range f.All {
		frag, args, err := s.cond(c)
		if err != nil {
			return nil, err
		}
		q = q.Where(frag, args...)
	}
	for _, group := range f.Any {
		if len(group) == 0 {
			continue
		}
		var or *gorm.DB
		for i, c := range group {
			frag, args, err := s.cond(c)
			if err != nil {
				return nil, err
			}
			if i == 0 {
				or = s.db.Where(frag, args...)
			} else {
				or = or.Or(frag, args...)
			}
		}
		q = q.Where(or)
	}
	return q, nil
}

// nodeRow is the scan target; pointers absorb NULLs in host columns and
// fields dropped by projection.
type nodeRow struct {
	ID       int64   `gorm:"column:id"`
	ParentID *int64  `gorm:"column:parent"`
	Lft      *int    `gorm:"column:lft"`
	Rgt      *int    `gorm:"column:rgt"`
	Lvl      *int    `gorm:"column:lvl"`
	Scope    *string `gorm:"column:scope"`
}

func (r nodeRow) node() *Node {
	n := &Node{ID: r.ID}
	if r.ParentID != nil {
		n.ParentID = *r.ParentID
	}
	if r.Lft != nil {
		n.Lft = *r.Lft
	}
	if r.Rgt != nil {
		n.Rgt = *r.Rgt
	}
	if r.Lvl != nil {
		n.Lvl = *r.Lvl
	}
	if r.Scope != nil {
		n.Scope = *r.Scope
	}
	return n
}

func (s *GormStore) selectCols(sel []Field) (string, error) {
	fields := []Field{FieldID, FieldParent, FieldLft, FieldRgt, FieldLvl}
	if s.cfg.Scope != "" {
		fields = append(fields, FieldScope)
	}
	if len(sel) > 0 {
		fields = []Field{FieldID}
		for _, f := range sel {
			if f != FieldID {
				fields = append(fields, f)
			}
		}
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		col, err := s.column(f)
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("%s AS %s", col, f))
	}
	return strings.Join(parts, ", "), nil
}

func (s *GormStore) FindOne(ctx context.Context, f Filter) (*Node, error) {
	q, err := s.apply(ctx, f)
	if err != nil {
		return nil, err
	}
	sel, err := s.selectCols(nil)
	if err != nil {
		return nil, err
	}
	var rows []nodeRow
	if err := q.Select(sel).Order(s.cfg.ID).Limit(1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("finding node: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0].node(), nil
}

func (s *GormStore) Find(ctx context.Context, f Filter, opts *FindOpts) ([]*Node, error) {
	q, err := s.apply(ctx, f)
	if err != nil {
		return nil, err
	}

	var sel []Field
	if opts != nil {
		sel = opts.Select
	}
	selCols, err := s.selectCols(sel)
	if err != nil {
		return nil, err
	}
	q = q.Select(selCols)

	sorted := false
	if opts != nil {
		for _, k := range opts.Sort {
			col, err := s.column(k.Field)
			if err != nil {
				return nil, err
			}
			dir := "ASC"
			if k.Desc {
				dir = "DESC"
			}
			q = q.Order(fmt.Sprintf("%s %s", col, dir))
			sorted = true
		}
		if opts.Limit > 0 {
			q = q.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			q = q.Offset(opts.Offset)
		}
	}
	if !sorted {
		q = q.Order(s.cfg.ID)
	}

	var rows []nodeRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("finding nodes: %w", err)
	}
	out := make([]*Node, len(rows))
	for i, r := range rows {
		out[i] = r.node()
	}
	return out, nil
}

func (s *GormStore) UpdateMany(ctx context.Context, f Filter, d Delta) (int64, error) {
	q, err := s.apply(ctx, f)
	if err != nil {
		return 0, err
	}
	updates := map[string]any{}
	if d.Lft != 0 {
		updates[s.cfg.Lft] = gorm.Expr(s.cfg.Lft+" + ?", d.Lft)
	}
	if d.Rgt != 0 {
		updates[s.cfg.Rgt] = gorm.Expr(s.cfg.Rgt+" + ?", d.Rgt)
	}
	if len(updates) == 0 {
		return 0, nil
	}
	res := q.UpdateColumns(updates)
	if res.Error != nil {
		return 0, fmt.Errorf("shifting boundaries: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormStore) UpdateOne(ctx context.Context, f Filter, v Values) (*Node, error) {
	target, err := s.FindOne(ctx, f)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if v.Lft != nil {
		updates[s.cfg.Lft] = *v.Lft
	}
	if v.Rgt != nil {
		updates[s.cfg.Rgt] = *v.Rgt
	}
	if v.Lvl != nil {
		updates[s.cfg.Lvl] = *v.Lvl
	}
	if v.ParentID != nil {
		if *v.ParentID == 0 {
			updates[s.cfg.Parent] = nil
		} else {
			updates[s.cfg.Parent] = *v.ParentID
		}
	}
	if len(updates) == 0 {
		return target, nil
	}

	q := s.db.WithContext(ctx).Table(s.cfg.Table).Where(fmt.Sprintf("%s = ?", s.cfg.ID), target.ID)
	if res := q.UpdateColumns(updates); res.Error != nil {
		return nil, fmt.Errorf("updating node %d: %w", target.ID, res.Error)
	}

	if v.Lft != nil {
		target.Lft = *v.Lft
	}
	if v.Rgt != nil {
		target.Rgt = *v.Rgt
	}
	if v.Lvl != nil {
		target.Lvl = *v.Lvl
	}
	if v.ParentID != nil {
		target.ParentID = *v.ParentID
	}
	return target, nil
}
