package canonsql

import (
	"strings"
	"testing"

	"github.com/codeready-toolchain/speql/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatNormalizesCaseAndSpacing(t *testing.T) {
	out, err := Format("select   a,b\nfrom   foo   where a=1")
	require.NoError(t, err)
	assert.Equal(t, Canonical("SELECT a, b FROM foo WHERE a = 1"), out)
}

func TestFormatIsIdempotent(t *testing.T) {
	once, err := Format("select a, b from foo where a = 1 and b in (1,2,3)")
	require.NoError(t, err)

	twice, err := Format(once.String())
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestFormatPreservesCursorSentinel(t *testing.T) {
	const sentinel = "/*CURSOR_IDENTIFIER*/"
	out, err := Format("select " + sentinel + " from foo")
	require.NoError(t, err)
	assert.Contains(t, out.String(), sentinel)
}

func TestFormatNormalizesLineComments(t *testing.T) {
	out, err := Format("select a from foo -- trailing note\nwhere a = 1")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "/* trailing note */")
}

func TestFormatMemoizesResult(t *testing.T) {
	first, err := Format("select 1")
	require.NoError(t, err)
	second, err := Format("select 1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPrepareSQLComputesPriorityAndSpacing(t *testing.T) {
	const cursor = "/*CURSOR_IDENTIFIER*/"
	sql := "select a,\n" + cursor + "\nb from foo"

	prepared := PrepareSQL(sql, cursor)
	require.NotNil(t, prepared)
	assert.Equal(t, 1, prepared.Priority) // one newline each side clamps to 1, not 2
}

func TestPrepareSQLReturnsNilWhenOnlySentinel(t *testing.T) {
	const cursor = "/*CURSOR_IDENTIFIER*/"
	prepared := PrepareSQL("  "+cursor+"  ", cursor)
	assert.Nil(t, prepared)
}

func TestPrepareSQLReturnsNilWhenSentinelMissing(t *testing.T) {
	prepared := PrepareSQL("select 1", "/*CURSOR_IDENTIFIER*/")
	assert.Nil(t, prepared)
}

func TestPrepareSQLSplitsLeadingCTEHeader(t *testing.T) {
	const cursor = "/*CURSOR_IDENTIFIER*/"
	sql := "with cte as (\nselect a, " + cursor + "\n from foo\n)"

	prepared := PrepareSQL(sql, cursor)
	require.NotNil(t, prepared)
	assert.Contains(t, prepared.Prefix, "with cte as (")
	assert.Contains(t, prepared.SQL, "select a,")
	assert.Equal(t, sql, strings.Replace(prepared.Prefix+prepared.SQL+prepared.Suffix, cursor, prepared.SpaceBefore+cursor+prepared.SpaceAfter, 1))
}

func TestPatchConvertsDoubleToDoublePrecision(t *testing.T) {
	got := Patch("SELECT CAST(a AS DOUBLE) FROM foo", config.DialectPostgres)
	assert.Equal(t, "SELECT CAST(a AS DOUBLE PRECISION) FROM foo", got)
}

func TestPatchPadsShortDateLiterals(t *testing.T) {
	got := Patch("SELECT '2024-1-5'", config.DialectPostgres)
	assert.Equal(t, "SELECT '2024-01-05'", got)
}

func TestPatchCollapsesDoubledFromParen(t *testing.T) {
	got := Patch(`SELECT * FROM ("foo" AS "bar")`, config.DialectPostgres)
	assert.Equal(t, `SELECT * FROM "foo" AS "bar"`, got)
}
