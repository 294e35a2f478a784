package clause

import (
	"strconv"
	"strings"

	"github.com/freeeve/machparse"

	"github.com/codeready-toolchain/speql/pkg/canonsql"
)

// Render reassembles the Tree's clauses into SQL text, parses that text
// back into a fresh AST with machparse.Parse, and formats it with
// machparse.String — one parse, one format, satisfying the "single
// formatter pass" requirement on the rewriter's output. Rendering through
// a real parse (rather than concatenating strings directly) guarantees
// the emitted SQL is syntactically well-formed before it reaches the
// warehouse.
func (t *Tree) Render() (canonsql.Canonical, error) {
	var b strings.Builder
	b.WriteString("SELECT ")
	if t.Distinct {
		b.WriteString("DISTINCT ")
	}
	b.WriteString(renderSelectList(t.Select))

	b.WriteString(" FROM ")
	b.WriteString(renderTableRef(t.From))
	for _, j := range t.Joins {
		b.WriteString(" ")
		b.WriteString(j.Type)
		b.WriteString(" JOIN ")
		b.WriteString(renderTableRef(j.Table))
		if j.On != "" {
			b.WriteString(" ON ")
			b.WriteString(j.On)
		}
	}

	if len(t.Where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(t.Where, " AND "))
	}
	if len(t.Group) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(t.Group, ", "))
	}
	if len(t.Having) > 0 {
		b.WriteString(" HAVING ")
		b.WriteString(strings.Join(t.Having, " AND "))
	}
	if len(t.Order) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(t.Order, ", "))
	}
	if t.Limit != nil {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(*t.Limit))
	}

	stmt, err := machparse.Parse(b.String())
	if err != nil {
		return "", err
	}
	return canonsql.Canonical(machparse.String(stmt)), nil
}

func renderSelectList(items []SelectItem) string {
	parts := make([]string, len(items))
	for i, it := range items {
		if it.Alias == "" {
			parts[i] = it.Expr
		} else {
			parts[i] = it.Expr + " AS " + it.Alias
		}
	}
	return strings.Join(parts, ", ")
}

func renderTableRef(ref TableRef) string {
	if ref.Alias == "" {
		return ref.Name
	}
	return ref.Name + " AS " + ref.Alias
}
