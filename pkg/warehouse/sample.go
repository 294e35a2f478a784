package warehouse

import (
	"fmt"

	"github.com/codeready-toolchain/speql/pkg/clause"
	"github.com/codeready-toolchain/speql/pkg/config"
)

// SampleScript rewrites tree's FROM clause to a sampled scan on retry
// attempt retryK, reducing the scanned fraction by 2^-retryK. retryK==0
// is identity (ok=false, unchanged). Sampling only applies when the FROM
// clause is a single base table with no joins — anything else is
// reported as not-sampled (ok=false) rather than guessed at, since a
// sampled join changes result semantics in ways this function can't
// verify are still meaningful to the user.
//
// The returned bool is also the entry's is_sample flag for pkg/pool:
// true means the caller materialized (or would materialize) from a
// sampled scan and should surface the "result may be approximate"
// warning.
func SampleScript(tree clause.Tree, retryK int, d config.Dialect) (clause.Tree, bool) {
	if retryK == 0 {
		return tree, false
	}
	if len(tree.Joins) > 0 {
		return tree, false
	}

	ratio := 1.0
	for i := 0; i < retryK; i++ {
		ratio /= 2
	}

	var sampled string
	switch d {
	case config.DialectPostgres:
		percent := ratio * 100
		sampled = fmt.Sprintf("(SELECT * FROM %s TABLESAMPLE BERNOULLI(%g))", tree.From.Name, percent)
	case config.DialectSnowflake:
		percent := int(ratio * 100)
		sampled = fmt.Sprintf("(SELECT * FROM %s TABLESAMPLE (%d PERCENT))", tree.From.Name, percent)
	default: // Redshift and anything else with no native TABLESAMPLE support
		sampled = fmt.Sprintf("(SELECT * FROM %s WHERE RANDOM() < %g)", tree.From.Name, ratio)
	}

	tree.From.Name = sampled
	return tree, true
}
