package pgq

import (
	"errors"
	"reflect"
	"testing"
)

// --------------------------------
// Test utilities
// --------------------------------

// assertNoError fails the test immediately if err != nil.
func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// assertIs fails unless err matches target via errors.Is.
func assertIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}

// scanAll drains a scanner into tokens.
func scanAll(t *testing.T, src string, cfg Config) []token {
	t.Helper()
	sc := newScanner(src, defaultConfig(cfg))
	var out []token
	for {
		tok, ok, err := sc.next()
		assertNoError(t, err)
		if !ok {
			return out
		}
		out = append(out, tok)
	}
}

// names extracts just the placeholder names from a token stream.
func names(toks []token) []string {
	var out []string
	for _, tok := range toks {
		if tok.kind == tokenPlaceholder {
			out = append(out, tok.text)
		}
	}
	return out
}

// text reassembles the literal portion of a token stream, escapes included.
func text(toks []token) string {
	var out string
	for _, tok := range toks {
		if tok.kind == tokenText || tok.kind == tokenEscape {
			out += tok.text
		}
	}
	return out
}

// --------------------------------
// Tests: scanner
// --------------------------------

// TestScanner_Placeholders verifies placeholder recognition in plain text,
// including adjacency to punctuation and repeated names.
func TestScanner_Placeholders(t *testing.T) {
	tests := []struct {
		src  string
		want []string
	}{
		{"SELECT * FROM people WHERE age >= $min_age", []string{"min_age"}},
		{"WHERE a = $x OR b = $x AND c = $y", []string{"x", "x", "y"}},
		{"($a,$b_2,$_c)", []string{"a", "b_2", "_c"}},
		{"$x", []string{"x"}},
		{"no placeholders here", nil},
		{"cost > $min AND cost < $max", []string{"min", "max"}},
	}
	for _, tc := range tests {
		got := names(scanAll(t, tc.src, Config{}))
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("scan(%q) names = %v, want %v", tc.src, got, tc.want)
		}
	}
}

// TestScanner_QuotingAndComments ensures dollars inside string literals,
// quoted identifiers, comments and dollar-quoted blocks are inert, including
// doubled-quote escapes.
func TestScanner_QuotingAndComments(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{"single quotes", "SELECT '$not_me' WHERE x = $yes", []string{"yes"}},
		{"escaped quote", "SELECT 'it''s $not_me' WHERE x = $yes", []string{"yes"}},
		{"double quotes", `SELECT "$col" FROM t WHERE x = $yes`, []string{"yes"}},
		{"escaped dquote", `SELECT "we""ird $no" WHERE x = $yes`, []string{"yes"}},
		{"line comment", "SELECT 1 -- $nope\nWHERE x = $yes", []string{"yes"}},
		{"block comment", "SELECT 1 /* $nope */ WHERE x = $yes", []string{"yes"}},
		{"dollar quoted", "SELECT $tag$ $nope $tag$ WHERE x = $yes", []string{"yes"}},
		{"unterminated literal", "SELECT '$nope", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			toks := scanAll(t, tc.src, Config{})
			if got := names(toks); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("names = %v, want %v", got, tc.want)
			}
		})
	}
}

// TestScanner_DollarEscape verifies that $$ yields a single literal dollar.
func TestScanner_DollarEscape(t *testing.T) {
	toks := scanAll(t, "SELECT 'a' || $$ || $rest", Config{})
	if got := text(toks); got != "SELECT 'a' || $ || " {
		t.Fatalf("literal text = %q", got)
	}
	if got := names(toks); !reflect.DeepEqual(got, []string{"rest"}) {
		t.Fatalf("names = %v", got)
	}
}

// TestScanner_LenientLiteralDollar ensures a bare '$' (not followed by an
// identifier) stays literal text outside strict mode.
func TestScanner_LenientLiteralDollar(t *testing.T) {
	toks := scanAll(t, "SELECT 'US' || $ || $amount", Config{})
	if got := text(toks); got != "SELECT 'US' || $ || " {
		t.Fatalf("literal text = %q", got)
	}
	if got := names(toks); !reflect.DeepEqual(got, []string{"amount"}) {
		t.Fatalf("names = %v", got)
	}
}

// TestScanner_StrictRejectsBareDollar verifies strict mode turns a bare '$'
// into ErrMalformedPlaceholder.
func TestScanner_StrictRejectsBareDollar(t *testing.T) {
	sc := newScanner("WHERE x = $ 1", defaultConfig(Config{Strict: true}))
	for {
		_, ok, err := sc.next()
		if err != nil {
			assertIs(t, err, ErrMalformedPlaceholder)
			return
		}
		if !ok {
			t.Fatal("expected ErrMalformedPlaceholder, scan completed")
		}
	}
}

// TestScanner_RejectsPositionalReference ensures $1-style integers are
// rejected in every mode: they collide with the rewritten output syntax.
func TestScanner_RejectsPositionalReference(t *testing.T) {
	for _, cfg := range []Config{{}, {Strict: true}} {
		sc := newScanner("WHERE id = $1", defaultConfig(cfg))
		var err error
		for err == nil {
			var ok bool
			_, ok, err = sc.next()
			if !ok && err == nil {
				t.Fatalf("strict=%v: expected ErrMalformedPlaceholder, scan completed", cfg.Strict)
			}
		}
		assertIs(t, err, ErrMalformedPlaceholder)
	}
}

// TestScanner_NameTooLong verifies the MaxNameLen limit.
func TestScanner_NameTooLong(t *testing.T) {
	sc := newScanner("WHERE x = $very_long_name", defaultConfig(Config{MaxNameLen: 4}))
	var err error
	for err == nil {
		var ok bool
		_, ok, err = sc.next()
		if !ok && err == nil {
			t.Fatal("expected ErrParamNameTooLong, scan completed")
		}
	}
	assertIs(t, err, ErrParamNameTooLong)
}

// TestPlaceholders returns distinct names in first-appearance order.
func TestPlaceholders(t *testing.T) {
	got, err := Placeholders("WHERE a=$x AND b=$y AND c=$x AND d=$z")
	assertNoError(t, err)
	if want := []string{"x", "y", "z"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Placeholders = %v, want %v", got, want)
	}
}
