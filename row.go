package pgq

import "database/sql"

// Row is one fetched result row: an ordered sequence of column name/value
// pairs. It is read-only once constructed; the decoder borrows it only for
// the duration of a decode call.
type Row struct {
	cols []string
	vals []any
}

// NewRow builds a Row from parallel column-name and value slices. The slices
// are retained as-is and must not be mutated afterwards.
func NewRow(columns []string, values []any) Row {
	return Row{cols: columns, vals: values}
}

// Len returns the number of columns.
func (r Row) Len() int { return len(r.cols) }

// Column returns the name of column i.
func (r Row) Column(i int) string { return r.cols[i] }

// Value returns the raw value of column i.
func (r Row) Value(i int) any { return r.vals[i] }

// Get returns the raw value of the first column named name.
func (r Row) Get(name string) (any, bool) {
	for i, c := range r.cols {
		if c == name {
			return r.vals[i], true
		}
	}
	return nil, false
}

// slice returns the consecutive sub-row [from, to).
func (r Row) slice(from, to int) Row {
	return Row{cols: r.cols[from:to], vals: r.vals[from:to]}
}

// CollectRows drains rows into memory as []Row and closes it.
func CollectRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, NewRow(cols, vals))
	}
	return out, rows.Err()
}
