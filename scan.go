package pgq

import (
	"fmt"
	"strings"
)

// tokenKind classifies scanner output.
type tokenKind uint8

const (
	tokenText        tokenKind = iota // literal SQL text span
	tokenPlaceholder                  // $name placeholder; token text is the bare name
	tokenEscape                       // "$$" escape; token text is the literal "$"
)

type token struct {
	kind tokenKind
	text string
}

// scanner walks a SQL template and yields literal spans and $name placeholders.
// Text inside single/double-quoted strings, comments and dollar-quoted blocks
// is never scanned for placeholders. A scanner is single-use.
type scanner struct {
	src    string
	pos    int
	strict bool
	maxLen int
}

func newScanner(src string, cfg Config) *scanner {
	return &scanner{src: src, strict: cfg.Strict, maxLen: cfg.MaxNameLen}
}

// next returns the next token; ok=false signals end of input.
func (s *scanner) next() (token, bool, error) {
	if s.pos >= len(s.src) {
		return token{}, false, nil
	}

	if s.src[s.pos] == '$' {
		tok, handled, err := s.dollar()
		if err != nil {
			return token{}, false, err
		}
		if handled {
			return tok, true, nil
		}
		// Literal '$' (lenient) or dollar-quote opener: falls through to the
		// text loop below, which knows how to consume both.
	}

	start := s.pos
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch c {
		case '\'', '"':
			s.pos = skipQuoted(s.src, s.pos, c)
		case '-':
			if s.pos+1 < len(s.src) && s.src[s.pos+1] == '-' {
				s.pos = skipLineComment(s.src, s.pos)
			} else {
				s.pos++
			}
		case '/':
			if s.pos+1 < len(s.src) && s.src[s.pos+1] == '*' {
				s.pos = skipBlockComment(s.src, s.pos)
			} else {
				s.pos++
			}
		case '$':
			if tag, ok := readDollarTag(s.src[s.pos:]); ok {
				s.pos = skipDollarQuoted(s.src, s.pos, tag)
				continue
			}
			if s.pos > start && (s.dollarIsSpecial() || s.strict) {
				// Emit the accumulated text; the next call deals with the '$'.
				return token{tokenText, s.src[start:s.pos]}, true, nil
			}
			s.pos++
		default:
			s.pos++
		}
	}
	return token{tokenText, s.src[start:s.pos]}, true, nil
}

// dollar handles a '$' at the current position: "$$" escapes a literal dollar,
// '$' + identifier is a placeholder. Dollar-quote openers and bare dollars are
// left for the text loop (handled=false); bare dollars are fatal in strict mode.
func (s *scanner) dollar() (token, bool, error) {
	rest := s.src[s.pos:]
	if len(rest) >= 2 && rest[1] == '$' {
		s.pos += 2
		return token{tokenEscape, "$"}, true, nil
	}
	// A dollar-quote opener wins over a placeholder: "$tag$" quotes, "$tag"
	// binds.
	if _, ok := readDollarTag(rest); ok {
		return token{}, false, nil
	}
	if len(rest) >= 2 && isAlphaUnderscore(rest[1]) {
		j := 2
		for j < len(rest) && isAlphaNumUnderscore(rest[j]) {
			j++
		}
		name := rest[1:j]
		if s.maxLen > 0 && len(name) > s.maxLen {
			return token{}, false, fmt.Errorf("%w: %q (%d > %d)", ErrParamNameTooLong, name, len(name), s.maxLen)
		}
		s.pos += j
		return token{tokenPlaceholder, name}, true, nil
	}
	if len(rest) >= 2 && isDigit(rest[1]) {
		// $<integer> is the rewritten positional syntax; allowing it in input
		// would corrupt renumbering during dynamic composition.
		return token{}, false, fmt.Errorf("%w: literal positional reference %q in template (escape literal dollars as $$)",
			ErrMalformedPlaceholder, "$"+digits(rest[1:]))
	}
	if s.strict {
		return token{}, false, s.malformed()
	}
	return token{}, false, nil
}

func digits(s string) string {
	j := 0
	for j < len(s) && isDigit(s[j]) {
		j++
	}
	return s[:j]
}

// dollarIsSpecial reports whether the '$' at the current position starts a
// placeholder, an escape, or a rejected positional reference, i.e. whether
// the text loop must stop before it.
func (s *scanner) dollarIsSpecial() bool {
	rest := s.src[s.pos:]
	if len(rest) < 2 {
		return false
	}
	return rest[1] == '$' || isAlphaUnderscore(rest[1]) || isDigit(rest[1])
}

func (s *scanner) malformed() error {
	found := "EOF"
	if s.pos+1 < len(s.src) {
		found = string(s.src[s.pos+1])
	}
	return fmt.Errorf("%w: '$' followed by %q (escape literal dollars as $$)", ErrMalformedPlaceholder, found)
}

// Placeholders scans template in lenient mode and returns the distinct
// placeholder names in order of first appearance. Useful for validating
// statically-known templates up front.
func Placeholders(template string) ([]string, error) {
	parsed, err := parseTemplate(template, defaultConfig())
	if err != nil {
		return nil, err
	}
	return parsed.names, nil
}

// --------------------------------
// Byte-level skip helpers
// --------------------------------

// skipQuoted consumes a q-quoted region starting at i (s[i] == q). A doubled
// quote is an escaped quote, not a terminator; backslash escapes are honored.
// Unterminated regions run to the end of input.
func skipQuoted(s string, i int, q byte) int {
	i++
	for i < len(s) {
		c := s[i]
		if c == '\\' {
			i += 2
			continue
		}
		if c == q {
			if i+1 < len(s) && s[i+1] == q {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return i
}

// skipLineComment consumes "--" up to and including the line terminator.
func skipLineComment(s string, i int) int {
	for i < len(s) && s[i] != '\n' && s[i] != '\r' {
		i++
	}
	if i < len(s) {
		i++
	}
	return i
}

// skipBlockComment consumes "/* ... */"; unterminated comments run to the end.
func skipBlockComment(s string, i int) int {
	i += 2
	for i < len(s) {
		if s[i] == '*' && i+1 < len(s) && s[i+1] == '/' {
			return i + 2
		}
		i++
	}
	return i
}

// skipDollarQuoted consumes a dollar-quoted region opened by tag at i.
func skipDollarQuoted(s string, i int, tag string) int {
	i += len(tag)
	p := strings.Index(s[i:], tag)
	if p < 0 {
		return len(s)
	}
	return i + p + len(tag)
}

// readDollarTag detects a dollar-quote opening tag ("$tag$") at the start of s.
// The tag must be non-empty: "$$" is the literal-dollar escape, not a quote.
func readDollarTag(s string) (string, bool) {
	if len(s) < 3 || s[0] != '$' {
		return "", false
	}
	j := 1
	for j < len(s) && isAlphaNumUnderscore(s[j]) {
		j++
	}
	if j > 1 && j < len(s) && s[j] == '$' {
		return s[:j+1], true
	}
	return "", false
}

// isAlphaUnderscore reports whether b is [A-Za-z_] .
func isAlphaUnderscore(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || b == '_'
}

// isAlphaNumUnderscore reports whether b is [A-Za-z0-9_] .
func isAlphaNumUnderscore(b byte) bool {
	return isAlphaUnderscore(b) || (b >= '0' && b <= '9')
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
