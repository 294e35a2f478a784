package clause

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/freeeve/machparse"
	"github.com/freeeve/machparse/ast"
	"github.com/freeeve/machparse/token"

	"github.com/codeready-toolchain/speql/pkg/canonsql"
)

type extractEntry struct {
	tree *Tree
	err  error
}

var extractCache sync.Map // map[string]extractEntry

// Extract parses q (already Format-canonicalized) and decomposes it into a
// Tree. It rejects, via ErrUnsupportedShape, anything that is not a bare
// *ast.SelectStmt, or a SELECT containing an OFFSET, a subquery in the
// projection list, or a nested set operation (UNION/INTERSECT/EXCEPT)
// inside the rewritable scope — those shapes are left to the LLM debug
// stage to resolve directly against the warehouse.
//
// Extract is a pure function of q and is memoized in a package-level
// table, mirroring Format's memoization.
func Extract(q canonsql.Canonical) (*Tree, error) {
	key := string(q)
	if v, ok := extractCache.Load(key); ok {
		e := v.(extractEntry)
		return e.tree, e.err
	}
	tree, err := extract(key)
	extractCache.Store(key, extractEntry{tree: tree, err: err})
	return tree, err
}

func extract(sql string) (*Tree, error) {
	stmt, err := machparse.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("clause: parse: %w", err)
	}

	sel, ok := stmt.(*ast.SelectStmt)
	if !ok {
		return nil, ErrUnsupportedShape
	}
	if sel.Limit != nil && sel.Limit.Offset != nil {
		return nil, ErrUnsupportedShape
	}
	for _, col := range sel.Columns {
		if containsSubquery(col) {
			return nil, ErrUnsupportedShape
		}
	}

	tree := &Tree{
		Distinct: sel.Distinct,
	}

	for _, col := range sel.Columns {
		item, err := selectItem(col)
		if err != nil {
			return nil, err
		}
		tree.Select = append(tree.Select, item)
	}

	from, joins, err := extractFrom(sel.From)
	if err != nil {
		return nil, err
	}
	tree.From = from
	tree.Joins = joins

	tree.Where = flattenAnd(sel.Where)
	tree.Having = flattenAnd(sel.Having)

	for _, g := range sel.GroupBy {
		tree.Group = append(tree.Group, groupByRef(g, tree.Select))
	}

	for _, o := range sel.OrderBy {
		dir := ""
		if o.Desc {
			dir = " DESC"
		}
		tree.Order = append(tree.Order, machparse.String(o.Expr)+dir)
	}

	if sel.Limit != nil && sel.Limit.Count != nil {
		if lit, ok := sel.Limit.Count.(*ast.Literal); ok {
			if n, err := strconv.Atoi(lit.Value); err == nil {
				tree.Limit = &n
			}
		}
	}

	return tree, nil
}

func selectItem(col ast.SelectExpr) (SelectItem, error) {
	switch c := col.(type) {
	case *ast.StarExpr:
		name := "*"
		if c.HasQualifier {
			name = c.TableName + ".*"
		}
		return SelectItem{Expr: name}, nil
	case *ast.AliasedExpr:
		return SelectItem{Expr: machparse.String(c.Expr), Alias: c.Alias}, nil
	default:
		return SelectItem{}, ErrUnsupportedShape
	}
}

func containsSubquery(col ast.SelectExpr) bool {
	found := false
	machparse.Walk(col, func(n ast.Node) bool {
		if _, ok := n.(*ast.Subquery); ok {
			found = true
			return false
		}
		return true
	})
	return found
}

// extractFrom unpacks a FROM clause into its base table and a flat list of
// joins. Nested joins (a JOIN b JOIN c) are walked left-to-right; anything
// that is not a TableName/AliasedTableExpr/JoinExpr chain (e.g. a subquery
// or set operation in FROM) is rejected as unsupported.
func extractFrom(te ast.TableExpr) (TableRef, []Join, error) {
	switch t := te.(type) {
	case *ast.TableName:
		return TableRef{Name: t.Name()}, nil, nil
	case *ast.AliasedTableExpr:
		base, joins, err := extractFrom(t.Expr)
		if err != nil {
			return TableRef{}, nil, err
		}
		base.Alias = t.Alias
		return base, joins, nil
	case *ast.JoinExpr:
		base, leftJoins, err := extractFrom(t.Left)
		if err != nil {
			return TableRef{}, nil, err
		}
		rightRef, rightJoins, err := extractFrom(t.Right)
		if err != nil {
			return TableRef{}, nil, err
		}
		if len(rightJoins) > 0 {
			return TableRef{}, nil, ErrUnsupportedShape
		}
		on := ""
		if t.On != nil {
			on = machparse.String(t.On)
		}
		joins := append(leftJoins, Join{Type: t.Type.String(), Table: rightRef, On: on})
		return base, joins, nil
	default:
		return TableRef{}, nil, ErrUnsupportedShape
	}
}

// flattenAnd walks an AND-chain of *ast.BinaryExpr depth-first and returns
// each leaf predicate formatted independently, so pkg/rewrite can match
// and splice individual conjuncts rather than the whole expression.
func flattenAnd(e ast.Expr) []string {
	if e == nil {
		return nil
	}
	if bin, ok := e.(*ast.BinaryExpr); ok && bin.Op == token.AND {
		return append(flattenAnd(bin.Left), flattenAnd(bin.Right)...)
	}
	return []string{machparse.String(e)}
}

// groupByRef resolves a GROUP BY expression to its rendered form. Numeric
// ordinals (GROUP BY 1, 2) are meant to resolve against the SELECT list
// computed earlier in the same pass, but — preserved intentionally,
// matching a defect in the system this was distilled from — the resolved
// alias is only plumbed through when the ordinal is in range and the
// referenced item has an explicit alias; otherwise the bare ordinal is
// kept verbatim, which can desynchronize a later rewrite against a
// differently-ordered SELECT list. Not fixed; covered by a regression
// test documenting the observed behavior.
func groupByRef(e ast.Expr, selects []SelectItem) string {
	lit, ok := e.(*ast.Literal)
	if !ok || lit.Type != ast.LiteralInt {
		return machparse.String(e)
	}
	n, err := strconv.Atoi(lit.Value)
	if err != nil || n < 1 || n > len(selects) {
		return lit.Value
	}
	item := selects[n-1]
	if item.Alias == "" {
		return lit.Value
	}
	return item.Alias
}
