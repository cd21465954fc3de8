package main

import (
	"context"
	"testing"

	"github.com/espalier-db/espalier/nestedset"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Item{}))
	return db
}

func testTreeOver(t *testing.T, db *gorm.DB) *nestedset.Tree {
	t.Helper()
	store, err := nestedset.NewGormStore(db, nestedset.DefaultGormStoreConfig("items"))
	require.NoError(t, err)
	return nestedset.NewTree(store, &nestedset.TreeOptions{Scoped: true})
}

func TestItemNode(t *testing.T) {
	t.Parallel()

	pid := int64(7)
	it := &Item{ID: 3, ParentID: &pid, Lft: 2, Rgt: 5, Lvl: 1, Scope: "s"}
	n := itemNode(it)
	require.Equal(t, int64(3), n.ID)
	require.Equal(t, int64(7), n.ParentID)
	require.Equal(t, "s", n.Scope)

	root := itemNode(&Item{ID: 4})
	require.True(t, root.IsRoot())
}

func TestImportAndRender(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := testDB(t)
	tree := testTreeOver(t, db)

	def := importNode{
		Name:  "root",
		Scope: "s",
		Children: []importNode{
			{Name: "kid-a", Children: []importNode{{Name: "grandkid"}}},
			{Name: "kid-b"},
		},
	}
	total, err := createSubtree(db, &def, nil, def.Scope)
	require.NoError(t, err)
	require.Equal(t, 4, total)

	require.NoError(t, tree.RebuildAll(ctx, "s"))

	var root Item
	require.NoError(t, db.First(&root, "name = ?", "root").Error)
	require.Equal(t, 1, root.Lft)
	require.Equal(t, 8, root.Rgt)

	var grand Item
	require.NoError(t, db.First(&grand, "name = ?", "grandkid").Error)
	require.Equal(t, 3, grand.Lft)
	require.Equal(t, 4, grand.Rgt)
	require.Equal(t, 2, grand.Lvl)

	out, err := renderForest(db, "s")
	require.NoError(t, err)
	require.Contains(t, out, `forest "s"`)
	require.Contains(t, out, "root [1] (1,8)")
	require.Contains(t, out, "grandkid [3] (3,4)")
	require.Contains(t, out, "kid-b [4] (6,7)")
}

func TestRenderForestUnnumbered(t *testing.T) {
	t.Parallel()
	db := testDB(t)

	it := Item{Name: "bare", Scope: "u"}
	require.NoError(t, db.Create(&it).Error)

	out, err := renderForest(db, "u")
	require.NoError(t, err)
	require.Contains(t, out, "bare [1] (unnumbered)")
}
