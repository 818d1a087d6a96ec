package pgq

import (
	"fmt"
	"strconv"
	"strings"
)

// paramTable is the ordered, deduplicating registry mapping placeholder name
// to 1-based positional index. Append-only: the first occurrence of a name
// fixes its index for the lifetime of the table.
type paramTable struct {
	names []string
	index map[string]int
}

func newParamTable() *paramTable {
	return &paramTable{index: make(map[string]int, 8)}
}

// register returns the index for name, appending it if unseen. Idempotent.
func (t *paramTable) register(name string) int {
	if i, ok := t.index[name]; ok {
		return i
	}
	t.names = append(t.names, name)
	i := len(t.names)
	t.index[name] = i
	return i
}

func (t *paramTable) lookup(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

func (t *paramTable) len() int {
	return len(t.names)
}

// merge registers every name of other into t, in other's order, and returns a
// remap table: remap[i-1] is the index in t now assigned to other's index i.
// Positional references of any fragment rendered against other must be
// rewritten through this remap before being appended to SQL built against t.
func (t *paramTable) merge(other *paramTable) []int {
	remap := make([]int, len(other.names))
	for i, name := range other.names {
		remap[i] = t.register(name)
	}
	return remap
}

// renumber rewrites the $N positional references of an already-rendered SQL
// fragment through remap. It walks the fragment with the same literal/comment
// awareness as the scanner, so $N inside quoted text is left alone. The
// fragment is in the escaped intermediate form: "$$" stands for one literal
// dollar and passes through unchanged, so it can never be mistaken for a
// positional reference.
func renumber(sqlText string, remap []int) (string, error) {
	var buf strings.Builder
	buf.Grow(len(sqlText) + 8)

	i := 0
	for i < len(sqlText) {
		c := sqlText[i]
		switch c {
		case '\'', '"':
			j := skipQuoted(sqlText, i, c)
			buf.WriteString(sqlText[i:j])
			i = j
		case '-':
			if i+1 < len(sqlText) && sqlText[i+1] == '-' {
				j := skipLineComment(sqlText, i)
				buf.WriteString(sqlText[i:j])
				i = j
			} else {
				buf.WriteByte(c)
				i++
			}
		case '/':
			if i+1 < len(sqlText) && sqlText[i+1] == '*' {
				j := skipBlockComment(sqlText, i)
				buf.WriteString(sqlText[i:j])
				i = j
			} else {
				buf.WriteByte(c)
				i++
			}
		case '$':
			if i+1 < len(sqlText) && sqlText[i+1] == '$' {
				buf.WriteString("$$")
				i += 2
				continue
			}
			if tag, ok := readDollarTag(sqlText[i:]); ok {
				j := skipDollarQuoted(sqlText, i, tag)
				buf.WriteString(sqlText[i:j])
				i = j
				continue
			}
			if i+1 < len(sqlText) && isDigit(sqlText[i+1]) {
				j := i + 1
				for j < len(sqlText) && isDigit(sqlText[j]) {
					j++
				}
				n, err := strconv.Atoi(sqlText[i+1 : j])
				if err != nil || n < 1 || n > len(remap) {
					return "", fmt.Errorf("pgq: positional reference $%s out of range (have %d parameters)", sqlText[i+1:j], len(remap))
				}
				writePositional(&buf, remap[n-1])
				i = j
				continue
			}
			buf.WriteByte(c)
			i++
		default:
			buf.WriteByte(c)
			i++
		}
	}
	return buf.String(), nil
}

// collapseEscapes rewrites the escaped intermediate form into final SQL,
// turning each "$$" outside quotes, comments and dollar-quoted blocks into a
// single literal "$".
func collapseEscapes(sqlText string) string {
	if !strings.Contains(sqlText, "$$") {
		return sqlText
	}

	var buf strings.Builder
	buf.Grow(len(sqlText))

	i := 0
	for i < len(sqlText) {
		c := sqlText[i]
		switch c {
		case '\'', '"':
			j := skipQuoted(sqlText, i, c)
			buf.WriteString(sqlText[i:j])
			i = j
		case '-':
			if i+1 < len(sqlText) && sqlText[i+1] == '-' {
				j := skipLineComment(sqlText, i)
				buf.WriteString(sqlText[i:j])
				i = j
			} else {
				buf.WriteByte(c)
				i++
			}
		case '/':
			if i+1 < len(sqlText) && sqlText[i+1] == '*' {
				j := skipBlockComment(sqlText, i)
				buf.WriteString(sqlText[i:j])
				i = j
			} else {
				buf.WriteByte(c)
				i++
			}
		case '$':
			if i+1 < len(sqlText) && sqlText[i+1] == '$' {
				buf.WriteByte('$')
				i += 2
				continue
			}
			if tag, ok := readDollarTag(sqlText[i:]); ok {
				j := skipDollarQuoted(sqlText, i, tag)
				buf.WriteString(sqlText[i:j])
				i = j
				continue
			}
			buf.WriteByte(c)
			i++
		default:
			buf.WriteByte(c)
			i++
		}
	}
	return buf.String()
}

// writePositional emits a Postgres positional placeholder token for index idx.
func writePositional(b *strings.Builder, idx int) {
	b.WriteByte('$')
	var tmp [20]byte
	n := strconv.AppendInt(tmp[:0], int64(idx), 10)
	b.Write(n)
}
