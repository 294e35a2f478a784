package clause

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderRoundTrips(t *testing.T) {
	tree, err := Extract(mustFormat(t, "SELECT a, b AS bb FROM foo WHERE a > 1 ORDER BY a LIMIT 5"))
	require.NoError(t, err)

	out, err := tree.Render()
	require.NoError(t, err)

	reparsed, err := Extract(out)
	require.NoError(t, err)
	assert.Equal(t, tree.From, reparsed.From)
	assert.Equal(t, tree.Select, reparsed.Select)
	require.NotNil(t, reparsed.Limit)
	assert.Equal(t, 5, *reparsed.Limit)
}
