// Package clause extracts a SELECT statement's structural clauses into a
// Tree that pkg/rewrite can pattern-match and splice without re-parsing.
package clause

import (
	"errors"
	"fmt"
)

// ErrUnsupportedShape is returned by Extract when the parsed statement is
// not a plain SELECT, or contains a shape the rewriter cannot reason
// about: a projection subquery, an OFFSET, or a nested set operation.
var ErrUnsupportedShape = errors.New("clause: unsupported statement shape")

// SelectItem is one projected column or expression, with its resolved
// output alias.
type SelectItem struct {
	Expr  string
	Alias string
}

// TableRef names a single FROM-clause table and its alias, if any.
type TableRef struct {
	Name  string
	Alias string
}

// Join is one JOIN arm attached to the FROM clause.
type Join struct {
	Type  string // INNER, LEFT, RIGHT, FULL, CROSS
	Table TableRef
	On    string
}

// Tree is the structural decomposition of one canonical SELECT statement.
// Every field is a flattened string form (already run through
// machparse/format), never a live AST node, so pkg/rewrite can compare and
// splice without needing to understand machparse's node types.
type Tree struct {
	Distinct bool
	Select   []SelectItem
	From     TableRef
	Joins    []Join
	Where    []string // AND-flattened predicate leaves
	Group    []string
	Having   []string // AND-flattened predicate leaves
	Order    []string
	Limit    *int
}

func (t *Tree) String() string {
	return fmt.Sprintf("Tree{select=%d from=%s joins=%d where=%d group=%d having=%d order=%d limit=%v}",
		len(t.Select), t.From.Name, len(t.Joins), len(t.Where), len(t.Group), len(t.Having), len(t.Order), t.Limit)
}
