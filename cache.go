package pgq

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// parsedTemplate is the cacheable result of scanning one template fragment:
// the SQL rewritten with fragment-local positional references $1..$n, and the
// distinct placeholder names in order of first appearance. Appending a parsed
// fragment to a larger query only requires renumbering through a table merge,
// never re-scanning the text.
//
// The sql field keeps literal dollars in their escaped "$$" form so that a
// "$N" sequence in it is always a positional reference. The escape is
// collapsed to a single "$" only when the final Query is rendered.
type parsedTemplate struct {
	sql   string
	names []string
}

// parseTemplate scans template and rewrites every placeholder to its
// fragment-local positional index.
func parseTemplate(template string, cfg Config) (*parsedTemplate, error) {
	sc := newScanner(template, cfg)
	table := newParamTable()

	var buf strings.Builder
	buf.Grow(len(template) + 8)

	for {
		tok, ok, err := sc.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		switch tok.kind {
		case tokenText:
			buf.WriteString(tok.text)
		case tokenEscape:
			buf.WriteString("$$")
		case tokenPlaceholder:
			writePositional(&buf, table.register(tok.text))
		}
	}
	return &parsedTemplate{sql: buf.String(), names: table.names}, nil
}

// templateCache memoizes parseTemplate results per template text, so that
// repeated statically-known templates skip re-scanning. Parse errors are not
// cached; they re-surface on every attempt.
type templateCache struct {
	lru *lru.Cache[string, *parsedTemplate]
}

func newTemplateCache(size int) *templateCache {
	c, _ := lru.New[string, *parsedTemplate](size)
	return &templateCache{lru: c}
}

func (c *templateCache) parse(template string, cfg Config) (*parsedTemplate, error) {
	if p, ok := c.lru.Get(template); ok {
		return p, nil
	}
	p, err := parseTemplate(template, cfg)
	if err != nil {
		return nil, err
	}
	c.lru.Add(template, p)
	return p, nil
}
