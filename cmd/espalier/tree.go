package main

import (
	"fmt"
	"sort"

	"github.com/urfave/cli/v2"
	"github.com/xlab/treeprint"
	"gorm.io/gorm"
)

var treeCmd = &cli.Command{
	Name:  "tree",
	Usage: "print a forest as an indented tree",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "scope",
			Usage: "forest to print",
		},
	},
	Action: func(cctx *cli.Context) error {
		db, _, err := setupStore(cctx)
		if err != nil {
			return err
		}

		out, err := renderForest(db, cctx.String("scope"))
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

// renderForest draws every tree in one scope. Rows that have not been
// positioned yet are still shown, flagged as unnumbered.
func renderForest(db *gorm.DB, scope string) (string, error) {
	var items []Item
	if err := db.Where("scope = ?", scope).Order("lft, id").Find(&items).Error; err != nil {
		return "", fmt.Errorf("loading forest %q: %w", scope, err)
	}

	children := make(map[int64][]*Item)
	var roots []*Item
	for i := range items {
		it := &items[i]
		if it.ParentID == nil || *it.ParentID == 0 {
			roots = append(roots, it)
		} else {
			children[*it.ParentID] = append(children[*it.ParentID], it)
		}
	}
	sort.SliceStable(roots, func(i, j int) bool { return roots[i].Lft < roots[j].Lft })

	label := "forest"
	if scope != "" {
		label = fmt.Sprintf("forest %q", scope)
	}
	tp := treeprint.NewWithRoot(label)

	var add func(br treeprint.Tree, it *Item)
	add = func(br treeprint.Tree, it *Item) {
		text := fmt.Sprintf("%s [%d] (%d,%d)", it.Name, it.ID, it.Lft, it.Rgt)
		if it.Lft == 0 {
			text = fmt.Sprintf("%s [%d] (unnumbered)", it.Name, it.ID)
		}
		kids := children[it.ID]
		if len(kids) == 0 {
			br.AddNode(text)
			return
		}
		b := br.AddBranch(text)
		for _, k := range kids {
			add(b, k)
		}
	}
	for _, r := range roots {
		add(tp, r)
	}
	return tp.String(), nil
}
