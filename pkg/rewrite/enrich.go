package rewrite

import (
	"fmt"
	"strings"

	"github.com/codeready-toolchain/speql/pkg/clause"
	"github.com/codeready-toolchain/speql/pkg/core"
)

// Enrich broadens tree's projection and GROUP BY with extra columns from
// the base table's schema that are not already selected or grouped but
// appear in speculatedMiddle (the Debug-Middle call's predicted
// continuation text). This lets a cached "main query" materialization
// satisfy a wider range of later rewrites without a re-materialization,
// at the cost of selecting columns the user hasn't typed yet.
func Enrich(tree clause.Tree, speculatedMiddle string, schema *core.SchemaCache) clause.Tree {
	columns := schema.Columns(tree.From.Name)
	if len(columns) == 0 {
		return tree
	}

	selected := make(map[string]bool, len(tree.Select))
	for _, s := range tree.Select {
		selected[s.Expr] = true
	}
	grouped := make(map[string]bool, len(tree.Group))
	for _, g := range tree.Group {
		grouped[g] = true
	}

	for _, col := range columns {
		if !strings.Contains(speculatedMiddle, col.Name) {
			continue
		}
		if !selected[col.Name] {
			tree.Select = append(tree.Select, clause.SelectItem{Expr: col.Name})
			selected[col.Name] = true
		}
		if len(tree.Group) > 0 && !grouped[col.Name] {
			tree.Group = append(tree.Group, col.Name)
			grouped[col.Name] = true
		}
	}
	return tree
}

// uniquifyAliases renames SELECT items that share an alias (or, for
// unaliased items, share their expression text) to "<alias>_COL_<i>" so
// the rendered SQL never carries a duplicate output column name.
func uniquifyAliases(tree *clause.Tree) {
	seen := make(map[string]int, len(tree.Select))
	for i, item := range tree.Select {
		name := item.Alias
		if name == "" {
			name = item.Expr
		}
		seen[name]++
		if seen[name] > 1 {
			tree.Select[i].Alias = fmt.Sprintf("%s_COL_%d", name, seen[name])
		}
	}
}
