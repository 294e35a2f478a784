package canonsql

import (
	"fmt"
	"regexp"

	"github.com/codeready-toolchain/speql/pkg/config"
)

// patchRule is one bounded textual fixup applied after a statement has
// passed Format. Patches run in order; each is a single regexp plus a
// replacement function, never a recursive rewrite.
type patchRule struct {
	pattern *regexp.Regexp
	replace func(sql string) string
}

var asDoublePattern = regexp.MustCompile(`\bAS DOUBLE\b`)
var precisionPrecisionPattern = regexp.MustCompile(`\bPRECISION PRECISION\b`)
var dateShortMonthPattern = regexp.MustCompile(`'(\d{4})-(\d{1})-(\d{1,2})'`)
var dateShortDayPattern = regexp.MustCompile(`'(\d{4})-(\d{2})-(\d{1})'`)
var doubledFromParenPattern = regexp.MustCompile(`FROM\s+\(\s*"(\w+)"\s+AS\s+"(\w+)"\)`)

// patchRules holds every fixup Patch applies; all of them are
// dialect-independent.
var patchRules = []patchRule{
	{pattern: asDoublePattern, replace: func(sql string) string {
		return asDoublePattern.ReplaceAllString(sql, "AS DOUBLE PRECISION")
	}},
	{pattern: precisionPrecisionPattern, replace: func(sql string) string {
		return precisionPrecisionPattern.ReplaceAllString(sql, "PRECISION")
	}},
	{pattern: dateShortMonthPattern, replace: func(sql string) string {
		return dateShortMonthPattern.ReplaceAllStringFunc(sql, func(m string) string {
			g := dateShortMonthPattern.FindStringSubmatch(m)
			return fmt.Sprintf("'%s-%02s-%02s'", g[1], pad2(g[2]), pad2(g[3]))
		})
	}},
	{pattern: dateShortDayPattern, replace: func(sql string) string {
		return dateShortDayPattern.ReplaceAllStringFunc(sql, func(m string) string {
			g := dateShortDayPattern.FindStringSubmatch(m)
			return fmt.Sprintf("'%s-%s-%02s'", g[1], g[2], pad2(g[3]))
		})
	}},
	{pattern: doubledFromParenPattern, replace: func(sql string) string {
		return doubledFromParenPattern.ReplaceAllString(sql, `FROM "$1" AS "$2"`)
	}},
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// Patch applies bounded, dialect-aware textual fixups to sql: normalizing
// DOUBLE casts, zero-padding short date literals, and collapsing a doubled
// FROM paren around a single aliased table. Every rule above is
// dialect-neutral and runs for every dialect; d does not change the result.
func Patch(sql string, d config.Dialect) string {
	_ = d
	for _, r := range patchRules {
		sql = r.replace(sql)
	}
	return sql
}
