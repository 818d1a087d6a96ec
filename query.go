package pgq

import (
	"context"
	"database/sql"
)

// Query is the immutable result of building: final positional-parameter SQL
// plus the ordered argument list. Built once, safe to share across goroutines
// and to execute any number of times.
type Query struct {
	sql   string   // final SQL, escapes collapsed
	esc   string   // escaped intermediate form, kept for splicing via Append
	args  []any
	names []string
}

// SQL returns the final SQL text with placeholders rewritten to $1, $2, ...
func (q *Query) SQL() string { return q.sql }

// Args returns a copy of the ordered argument list; Args()[i] is the value
// bound to positional index i+1.
func (q *Query) Args() []any {
	out := make([]any, len(q.args))
	copy(out, q.args)
	return out
}

// Implement fmt.Stringer.
func (q *Query) String() string { return q.sql }

// Exec runs the query through db and returns the driver result.
func (q *Query) Exec(ctx context.Context, db Execer) (sql.Result, error) {
	return db.ExecContext(ctx, q.sql, q.args...)
}

// Rows runs the query and collects every result row.
func (q *Query) Rows(ctx context.Context, db Queryer) ([]Row, error) {
	rows, err := db.QueryContext(ctx, q.sql, q.args...)
	if err != nil {
		return nil, err
	}
	return CollectRows(rows)
}

// Fetch runs the query and decodes all rows into dest, which must be a
// pointer to a slice of structs (or struct pointers), or a slice of a basic
// type for single-column results. The row spec is derived from the element
// type; use FetchSpec to supply one explicitly.
func (q *Query) Fetch(ctx context.Context, db Queryer, dest any) error {
	rows, err := q.Rows(ctx, db)
	if err != nil {
		return err
	}
	return DecodeAll(nil, rows, dest)
}

// FetchSpec is Fetch with an explicit row spec.
func (q *Query) FetchSpec(ctx context.Context, db Queryer, spec *RowSpec, dest any) error {
	rows, err := q.Rows(ctx, db)
	if err != nil {
		return err
	}
	return DecodeAll(spec, rows, dest)
}

// FetchOne runs the query and decodes exactly one row into dest. It returns
// sql.ErrNoRows when the result is empty and ErrMoreThanOneRow when it
// contains more than one row.
func (q *Query) FetchOne(ctx context.Context, db Queryer, dest any) error {
	rows, err := q.Rows(ctx, db)
	if err != nil {
		return err
	}
	switch len(rows) {
	case 0:
		return sql.ErrNoRows
	case 1:
		return Decode(nil, rows[0], dest)
	default:
		return ErrMoreThanOneRow
	}
}
