// Package canonsql implements the Formatter/Dialect Patcher: it turns the
// user's in-progress SQL buffer into a canonical token stream suitable for
// cache keys and downstream clause extraction, and applies small dialect
// fixups before a statement is sent to the warehouse.
//
// Unlike pkg/clause, canonsql never requires a syntactically complete
// statement. The buffer handed to Format may end mid-expression, mid-clause,
// or straddle the cursor sentinel the client injects at the caret. Format
// therefore works at the token level (github.com/freeeve/machparse/lexer),
// which tokenizes any byte sequence the scanner recognizes as SQL lexemes,
// rather than through a full machparse.Parse, which rejects incomplete
// statements outright.
package canonsql

import (
	"strings"
	"sync"

	"github.com/freeeve/machparse/lexer"
	"github.com/freeeve/machparse/token"
)

// Canonical is SQL text that has passed through Format. Only Format
// produces values of this type; callers should not construct one by hand.
type Canonical string

func (c Canonical) String() string { return string(c) }

type formatEntry struct {
	out Canonical
	err error
}

var formatCache sync.Map // map[string]formatEntry

// Format tokenizes sql and re-emits it with normalized whitespace and
// keyword case: keywords uppercased, identifiers and string contents left
// alone, a single space between tokens except where punctuation rules
// tighten spacing (no space before a comma, dot, or closing paren; none
// after an opening paren or dot), and semicolons dropped.
//
// Comments are normalized to block-comment form except when they already
// are one, so the cursor sentinel (itself a block comment) passes through
// byte for byte. Format is memoized on the raw input and is idempotent:
// Format(string(Format(x))) == Format(x).
func Format(sql string) (Canonical, error) {
	if v, ok := formatCache.Load(sql); ok {
		e := v.(formatEntry)
		return e.out, e.err
	}
	out, err := format(sql)
	formatCache.Store(sql, formatEntry{out: out, err: err})
	return out, err
}

func format(sql string) (Canonical, error) {
	l := lexer.New(sql)
	var b strings.Builder
	prev := token.ILLEGAL
	for {
		it := l.Next()
		if it.Type == token.EOF {
			break
		}
		if it.Type == token.ILLEGAL {
			return "", &FormatError{Input: sql, Pos: it.Pos, Reason: "illegal token"}
		}
		if it.Type == token.SEMICOLON {
			continue
		}

		text := renderToken(it)
		if b.Len() > 0 && needsSpace(prev, it.Type) {
			b.WriteByte(' ')
		}
		b.WriteString(text)
		prev = it.Type
	}
	return Canonical(b.String()), nil
}

// renderToken renders a single token's canonical text. Keywords are
// uppercased; string literals are re-quoted with single quotes and doubled
// internal quotes; comments are normalized to /* ... */ form unless they
// already are one (which keeps the cursor sentinel untouched); everything
// else passes through as scanned.
func renderToken(it token.Item) string {
	switch {
	case it.Type.IsKeyword():
		return strings.ToUpper(it.Value)
	case it.Type == token.STRING:
		return "'" + strings.ReplaceAll(it.Value, "'", "''") + "'"
	case it.Type == token.COMMENT:
		return normalizeComment(it.Value)
	default:
		return it.Value
	}
}

func normalizeComment(raw string) string {
	if strings.HasPrefix(raw, "/*") {
		return raw
	}
	body := strings.TrimPrefix(raw, "--")
	body = strings.TrimSpace(body)
	if body == "" {
		return "/* */"
	}
	return "/* " + body + " */"
}

// needsSpace decides whether a space belongs between two adjacent tokens
// given their types, following ordinary SQL pretty-printer conventions:
// no space before ',', ')', ']', '.', ':' or '::', none after '(', '[' or
// '.', and a single space everywhere else.
func needsSpace(prev, next token.Token) bool {
	switch next {
	case token.COMMA, token.RPAREN, token.RBRACKET, token.DOT, token.COLON, token.DCOLON:
		return false
	}
	switch prev {
	case token.LPAREN, token.LBRACKET, token.DOT:
		return false
	}
	return true
}

// FormatError reports a token the lexer could not classify. Partial or
// malformed SQL that still tokenizes cleanly (e.g. a dangling "SELECT a,")
// is not an error; only a byte sequence the lexer rejects outright is.
type FormatError struct {
	Input  string
	Pos    token.Pos
	Reason string
}

func (e *FormatError) Error() string {
	return "canonsql: " + e.Reason + " at line " + itoa(e.Pos.Line) + " column " + itoa(e.Pos.Column)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
