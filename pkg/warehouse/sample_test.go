package warehouse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/speql/pkg/canonsql"
	"github.com/codeready-toolchain/speql/pkg/clause"
	"github.com/codeready-toolchain/speql/pkg/config"
)

func mustExtract(t *testing.T, sql string) clause.Tree {
	t.Helper()
	c, err := canonsql.Format(sql)
	require.NoError(t, err)
	tree, err := clause.Extract(c)
	require.NoError(t, err)
	return *tree
}

func TestSampleScriptRetryZeroIsIdentity(t *testing.T) {
	tree := mustExtract(t, "SELECT a FROM foo AS f")

	out, ok := SampleScript(tree, 0, config.DialectRedshift)

	assert.False(t, ok)
	assert.Equal(t, tree, out)
}

func TestSampleScriptRedshiftRewritesFrom(t *testing.T) {
	tree := mustExtract(t, "SELECT a FROM foo AS f")

	out, ok := SampleScript(tree, 1, config.DialectRedshift)

	require.True(t, ok)
	assert.Contains(t, out.From.Name, "WHERE RANDOM() < 0.5")
	assert.Equal(t, "f", out.From.Alias)
}

func TestSampleScriptPostgresUsesTablesample(t *testing.T) {
	tree := mustExtract(t, "SELECT a FROM foo AS f")

	out, ok := SampleScript(tree, 2, config.DialectPostgres)

	require.True(t, ok)
	assert.Contains(t, out.From.Name, "TABLESAMPLE BERNOULLI")
}

func TestSampleScriptSnowflakeUsesTablesamplePercent(t *testing.T) {
	tree := mustExtract(t, "SELECT a FROM foo AS f")

	out, ok := SampleScript(tree, 2, config.DialectSnowflake)

	require.True(t, ok)
	assert.Contains(t, out.From.Name, "TABLESAMPLE (25 PERCENT)")
}

func TestSampleScriptRefusesJoinedFrom(t *testing.T) {
	tree := mustExtract(t, "SELECT a FROM foo AS f JOIN bar AS b ON f.id = b.id")

	out, ok := SampleScript(tree, 1, config.DialectRedshift)

	assert.False(t, ok)
	assert.Equal(t, tree, out)
}
