package pool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/speql/pkg/canonsql"
)

type fakeDropper struct {
	fail map[string]bool
	drop []string
}

func (f *fakeDropper) DropTable(_ context.Context, name string) error {
	if f.fail[name] {
		return assertErr
	}
	f.drop = append(f.drop, name)
	return nil
}

var assertErr = errStub("drop failed")

type errStub string

func (e errStub) Error() string { return string(e) }

func TestCheckReturnsProvisionalNameForUnknownScript(t *testing.T) {
	p := New(10, 1<<30)
	res := p.Check("SELECT 1 FROM foo", false)
	assert.True(t, res.IsNew)
	assert.Equal(t, "SPEQL_TEMP_TABLE_1", res.Name)
}

func TestUpdateRegistersUnderProvisionalName(t *testing.T) {
	p := New(10, 1<<30)
	res := p.Check("SELECT 1 FROM foo", false)
	p.Update("SELECT 1 FROM foo", res.Name, false, 100)

	again := p.Check("SELECT 1 FROM foo", false)
	assert.False(t, again.IsNew)
	assert.Equal(t, res.Name, again.Name)
}

func TestCounterIsMonotonic(t *testing.T) {
	p := New(10, 1<<30)
	r1 := p.Check("a", false)
	p.Update("a", r1.Name, false, 1)
	r2 := p.Check("b", false)
	assert.Equal(t, "SPEQL_TEMP_TABLE_2", r2.Name)
}

func TestEvictDropsLeastRecentlyUsedUntilUnderCaps(t *testing.T) {
	p := New(1, 1<<30)
	p.Update("a", "SPEQL_TEMP_TABLE_1", false, 10)
	p.Update("b", "SPEQL_TEMP_TABLE_2", false, 10)

	d := &fakeDropper{fail: map[string]bool{}}
	require.NoError(t, p.Evict(context.Background(), d))

	assert.Equal(t, 1, p.Len())
	assert.Equal(t, []string{"SPEQL_TEMP_TABLE_1"}, d.drop)
}

func TestEvictSkipsEntryWhoseDropFails(t *testing.T) {
	p := New(1, 1<<30)
	p.Update("a", "SPEQL_TEMP_TABLE_1", false, 10)
	p.Update("b", "SPEQL_TEMP_TABLE_2", false, 10)

	d := &fakeDropper{fail: map[string]bool{"SPEQL_TEMP_TABLE_1": true}}
	require.NoError(t, p.Evict(context.Background(), d))

	// oldest drop failed, so the pool falls through to the next oldest
	assert.Equal(t, []string{"SPEQL_TEMP_TABLE_2"}, d.drop)
}

func TestQueryCacheListIsMRUOrderedAndTruncated(t *testing.T) {
	p := New(10, 1<<30)
	p.Update("a", "SPEQL_TEMP_TABLE_1", false, 1)
	p.Update("b", "SPEQL_TEMP_TABLE_2", false, 1)
	p.Update("c", "SPEQL_TEMP_TABLE_3", false, 1)

	list := p.QueryCacheList(2)
	require.Len(t, list, 2)
	assert.Equal(t, canonsql.Canonical("c"), list[0].Script)
	assert.Equal(t, canonsql.Canonical("b"), list[1].Script)
}

func TestIsSampleReflectsEntryFlag(t *testing.T) {
	p := New(10, 1<<30)
	p.Update("a", "SPEQL_TEMP_TABLE_1", true, 1)
	assert.True(t, p.IsSample("a"))
}

func TestResetClearsPool(t *testing.T) {
	p := New(10, 1<<30)
	p.Update("a", "SPEQL_TEMP_TABLE_1", false, 1)
	p.Reset()
	assert.Equal(t, 0, p.Len())

	res := p.Check("a", false)
	assert.True(t, res.IsNew)
	assert.Equal(t, "SPEQL_TEMP_TABLE_1", res.Name)
}
