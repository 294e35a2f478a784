package clause

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/speql/pkg/canonsql"
)

func mustFormat(t *testing.T, sql string) canonsql.Canonical {
	t.Helper()
	c, err := canonsql.Format(sql)
	require.NoError(t, err)
	return c
}

func TestExtractBasicSelect(t *testing.T) {
	tree, err := Extract(mustFormat(t, "SELECT a, b AS bb FROM foo WHERE a > 1 AND b < 2"))
	require.NoError(t, err)

	require.Len(t, tree.Select, 2)
	assert.Equal(t, "a", tree.Select[0].Expr)
	assert.Equal(t, "b", tree.Select[1].Expr)
	assert.Equal(t, "bb", tree.Select[1].Alias)
	assert.Equal(t, "foo", tree.From.Name)
	assert.Len(t, tree.Where, 2)
}

func TestExtractJoins(t *testing.T) {
	tree, err := Extract(mustFormat(t, "SELECT a FROM foo f JOIN bar b ON f.id = b.id"))
	require.NoError(t, err)

	assert.Equal(t, "foo", tree.From.Name)
	assert.Equal(t, "f", tree.From.Alias)
	require.Len(t, tree.Joins, 1)
	assert.Equal(t, "bar", tree.Joins[0].Table.Name)
	assert.Equal(t, "b", tree.Joins[0].Table.Alias)
}

func TestExtractRejectsOffset(t *testing.T) {
	_, err := Extract(mustFormat(t, "SELECT a FROM foo LIMIT 10 OFFSET 5"))
	assert.ErrorIs(t, err, ErrUnsupportedShape)
}

func TestExtractRejectsProjectionSubquery(t *testing.T) {
	_, err := Extract(mustFormat(t, "SELECT (SELECT 1 FROM bar) FROM foo"))
	assert.ErrorIs(t, err, ErrUnsupportedShape)
}

func TestExtractRejectsNonSelect(t *testing.T) {
	_, err := Extract(mustFormat(t, "DELETE FROM foo"))
	assert.ErrorIs(t, err, ErrUnsupportedShape)
}

// TestExtractNumericGroupByDefect documents, rather than fixes, the
// preserved numeric-GROUP-BY defect: an ordinal GROUP BY reference only
// resolves to its SELECT-list alias when that item actually has one.
// Unaliased projections leave the bare ordinal in place, which can
// desynchronize a later rewrite against a differently-ordered SELECT list.
func TestExtractNumericGroupByDefect(t *testing.T) {
	tree, err := Extract(mustFormat(t, "SELECT a, count(*) AS cnt FROM foo GROUP BY 1, 2"))
	require.NoError(t, err)
	require.Len(t, tree.Group, 2)
	assert.Equal(t, "1", tree.Group[0]) // select item "a" has no alias: ordinal kept verbatim
	assert.Equal(t, "cnt", tree.Group[1])
}

func TestExtractMemoizesResult(t *testing.T) {
	c := mustFormat(t, "SELECT a FROM foo")
	first, err := Extract(c)
	require.NoError(t, err)
	second, err := Extract(c)
	require.NoError(t, err)
	assert.Same(t, first, second)
}
