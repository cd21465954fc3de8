package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/espalier-db/espalier/nestedset"
	"github.com/espalier-db/espalier/util/cliutil"

	_ "github.com/joho/godotenv/autoload"

	"github.com/carlmjohnson/versioninfo"
	"github.com/urfave/cli/v2"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"
)

var log = slog.Default().With("system", "espalier")

func main() {
	if err := run(os.Args); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "espalier",
		Usage:   "nested-set tree ordering over a flat record table",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "db-url",
			Usage:   "database connection string",
			Value:   "sqlite://./data/espalier/espalier.sqlite",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			Value:   40,
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
		},
		&cli.BoolFlag{
			Name: "db-tracing",
		},
		&cli.IntFlag{
			Name:    "node-cache-size",
			Usage:   "entries in the node read cache; 0 disables caching",
			Value:   0,
			EnvVars: []string{"ESPALIER_NODE_CACHE_SIZE"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "info|debug|warn|error",
			EnvVars: []string{"ESPALIER_LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "text|json",
			EnvVars: []string{"ESPALIER_LOG_FMT"},
		},
	}

	app.Before = func(cctx *cli.Context) error {
		logger, err := cliutil.SetupSlog(cliutil.LogOptions{
			LogLevel:  cctx.String("log-level"),
			LogFormat: cctx.String("log-format"),
		})
		if err != nil {
			return err
		}
		log = logger.With("system", "espalier")
		return nil
	}

	app.Commands = []*cli.Command{
		addCmd,
		rmCmd,
		mvCmd,
		lsCmd,
		treeCmd,
		rebuildCmd,
		importCmd,
		serveCmd,
	}

	return app.Run(args)
}

// Item is the demo record type managed by this binary: one named entry
// per row, ordered by the nested-set columns.
type Item struct {
	ID        int64 `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Name      string `gorm:"index"`
	Scope     string `gorm:"index"`
	ParentID  *int64 `gorm:"index"`
	Lft       int    `gorm:"index"`
	Rgt       int    `gorm:"index"`
	Lvl       int
}

func setupStore(cctx *cli.Context) (*gorm.DB, *nestedset.Tree, error) {
	db, err := cliutil.SetupDatabase(cctx.String("db-url"), cctx.Int("max-db-connections"))
	if err != nil {
		return nil, nil, err
	}
	if cctx.Bool("db-tracing") {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, nil, err
		}
	}
	if err := db.AutoMigrate(&Item{}); err != nil {
		return nil, nil, err
	}

	gs, err := nestedset.NewGormStore(db, nestedset.DefaultGormStoreConfig("items"))
	if err != nil {
		return nil, nil, err
	}
	var store nestedset.Store = gs
	if size := cctx.Int("node-cache-size"); size > 0 {
		store = nestedset.NewCachingStore(store, size, 5*time.Minute)
	}

	tree := nestedset.NewTree(store, &nestedset.TreeOptions{
		Scoped: true,
		Logger: log,
	})
	return db, tree, nil
}

func loadItem(db *gorm.DB, id int64) (*Item, error) {
	var it Item
	if err := db.First(&it, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &it, nil
}

func itemNode(it *Item) *nestedset.Node {
	n := &nestedset.Node{
		ID:    it.ID,
		Lft:   it.Lft,
		Rgt:   it.Rgt,
		Lvl:   it.Lvl,
		Scope: it.Scope,
	}
	if it.ParentID != nil {
		n.ParentID = *it.ParentID
	}
	return n
}

// related dispatches one of the derived tree queries by name.
func related(ctx context.Context, tree *nestedset.Tree, node *nestedset.Node, rel string, q *nestedset.QueryOpts) ([]*nestedset.Node, error) {
	switch rel {
	case "children":
		return tree.Children(ctx, node, q)
	case "self-and-children":
		return tree.SelfAndChildren(ctx, node, q)
	case "siblings":
		return tree.Siblings(ctx, node, q)
	case "self-and-siblings":
		return tree.SelfAndSiblings(ctx, node, q)
	case "ancestors":
		return tree.Ancestors(ctx, node, q)
	case "self-and-ancestors":
		return tree.SelfAndAncestors(ctx, node, q)
	case "descendants":
		return tree.Descendants(ctx, node, q)
	case "self-and-descendants":
		return tree.SelfAndDescendants(ctx, node, q)
	}
	return nil, fmt.Errorf("unknown relation %q", rel)
}

var addCmd = &cli.Command{
	Name:  "add",
	Usage: "create an item and position it in its forest",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "name",
			Required: true,
		},
		&cli.Int64Flag{
			Name:  "parent",
			Usage: "parent item id; omit for a root",
		},
		&cli.StringFlag{
			Name:  "scope",
			Usage: "forest this item belongs to",
		},
	},
	Action: func(cctx *cli.Context) error {
		db, tree, err := setupStore(cctx)
		if err != nil {
			return err
		}

		it := Item{
			Name:  cctx.String("name"),
			Scope: cctx.String("scope"),
		}
		if pid := cctx.Int64("parent"); pid != 0 {
			it.ParentID = &pid
		}
		if err := db.Create(&it).Error; err != nil {
			return fmt.Errorf("creating item: %w", err)
		}

		node := itemNode(&it)
		if err := tree.Attach(cctx.Context, node); err != nil {
			return err
		}

		if node.Span().Defined() {
			fmt.Printf("%d\t%s\t(%d,%d) lvl=%d\n", node.ID, it.Name, node.Lft, node.Rgt, node.Lvl)
		} else {
			fmt.Printf("%d\t%s\t(unnumbered; rebuild the forest)\n", node.ID, it.Name)
		}
		return nil
	},
}

var rmCmd = &cli.Command{
	Name:  "rm",
	Usage: "detach a leaf item and delete its record",
	Flags: []cli.Flag{
		&cli.Int64Flag{
			Name:     "id",
			Required: true,
		},
	},
	Action: func(cctx *cli.Context) error {
		db, tree, err := setupStore(cctx)
		if err != nil {
			return err
		}

		it, err := loadItem(db, cctx.Int64("id"))
		if err != nil {
			return err
		}
		if err := tree.Detach(cctx.Context, itemNode(it)); err != nil {
			return err
		}
		if err := db.Delete(&Item{}, it.ID).Error; err != nil {
			return fmt.Errorf("deleting item %d: %w", it.ID, err)
		}
		fmt.Printf("removed %d\t%s\n", it.ID, it.Name)
		return nil
	},
}

var mvCmd = &cli.Command{
	Name:  "mv",
	Usage: "move a leaf item under another parent",
	Flags: []cli.Flag{
		&cli.Int64Flag{
			Name:     "id",
			Required: true,
		},
		&cli.Int64Flag{
			Name:  "parent",
			Usage: "new parent id; omit to make the item a root",
		},
	},
	Action: func(cctx *cli.Context) error {
		db, tree, err := setupStore(cctx)
		if err != nil {
			return err
		}

		it, err := loadItem(db, cctx.Int64("id"))
		if err != nil {
			return err
		}
		node := itemNode(it)
		if err := tree.Move(cctx.Context, node, cctx.Int64("parent")); err != nil {
			return err
		}
		fmt.Printf("%d\t%s\t(%d,%d) lvl=%d\n", node.ID, it.Name, node.Lft, node.Rgt, node.Lvl)
		return nil
	},
}

var lsCmd = &cli.Command{
	Name:  "ls",
	Usage: "list items related to one item",
	Flags: []cli.Flag{
		&cli.Int64Flag{
			Name:     "id",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "rel",
			Value: "children",
			Usage: "children|siblings|ancestors|descendants or a self-and- variant",
		},
		&cli.IntFlag{
			Name: "limit",
		},
	},
	Action: func(cctx *cli.Context) error {
		db, tree, err := setupStore(cctx)
		if err != nil {
			return err
		}

		it, err := loadItem(db, cctx.Int64("id"))
		if err != nil {
			return err
		}

		q := &nestedset.QueryOpts{
			Sort:  []nestedset.SortKey{{Field: nestedset.FieldLft}},
			Limit: cctx.Int("limit"),
		}
		nodes, err := related(cctx.Context, tree, itemNode(it), cctx.String("rel"), q)
		if err != nil {
			return err
		}

		names, err := itemNames(db, nodes)
		if err != nil {
			return err
		}
		for _, n := range nodes {
			fmt.Printf("%d\t%s\tlvl=%d\t(%d,%d)\n", n.ID, names[n.ID], n.Lvl, n.Lft, n.Rgt)
		}
		return nil
	},
}

func itemNames(db *gorm.DB, nodes []*nestedset.Node) (map[int64]string, error) {
	ids := make([]int64, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	names := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	var items []Item
	if err := db.Select("id, name").Find(&items, ids).Error; err != nil {
		return nil, fmt.Errorf("loading item names: %w", err)
	}
	for _, it := range items {
		names[it.ID] = it.Name
	}
	return names, nil
}

var rebuildCmd = &cli.Command{
	Name:  "rebuild",
	Usage: "renumber forests from parent links alone",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "scope",
			Usage: "forest to rebuild",
		},
		&cli.BoolFlag{
			Name:  "all",
			Usage: "rebuild every forest in the table",
		},
	},
	Action: func(cctx *cli.Context) error {
		db, tree, err := setupStore(cctx)
		if err != nil {
			return err
		}

		scopes := []string{cctx.String("scope")}
		if cctx.Bool("all") {
			if err := db.Model(&Item{}).Distinct().Order("scope").Pluck("scope", &scopes).Error; err != nil {
				return fmt.Errorf("listing scopes: %w", err)
			}
		}
		for _, scope := range scopes {
			if err := tree.RebuildAll(cctx.Context, scope); err != nil {
				return err
			}
			log.Info("forest rebuilt", "scope", scope)
		}
		return nil
	},
}
