package pgq

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxQuerier abstracts the Query side of *pgx.Conn, pgx.Tx and *pgxpool.Pool.
type PgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PgxExecer abstracts the Exec side of *pgx.Conn, pgx.Tx and *pgxpool.Pool.
type PgxExecer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PgxExec runs the query through a pgx client and returns the number of
// affected rows.
func (q *Query) PgxExec(ctx context.Context, db PgxExecer) (int64, error) {
	tag, err := db.Exec(ctx, q.sql, q.args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PgxRows runs the query through a pgx client and collects every result row.
func (q *Query) PgxRows(ctx context.Context, db PgxQuerier) ([]Row, error) {
	rows, err := db.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, err
	}
	return CollectPgxRows(rows)
}

// PgxFetch runs the query and decodes all rows into dest (see Fetch).
func (q *Query) PgxFetch(ctx context.Context, db PgxQuerier, dest any) error {
	rows, err := q.PgxRows(ctx, db)
	if err != nil {
		return err
	}
	return DecodeAll(nil, rows, dest)
}

// PgxFetchSpec is PgxFetch with an explicit row spec.
func (q *Query) PgxFetchSpec(ctx context.Context, db PgxQuerier, spec *RowSpec, dest any) error {
	rows, err := q.PgxRows(ctx, db)
	if err != nil {
		return err
	}
	return DecodeAll(spec, rows, dest)
}

// PgxFetchOne runs the query and decodes exactly one row into dest. It
// returns pgx.ErrNoRows when the result is empty and ErrMoreThanOneRow when
// it contains more than one row.
func (q *Query) PgxFetchOne(ctx context.Context, db PgxQuerier, dest any) error {
	rows, err := q.PgxRows(ctx, db)
	if err != nil {
		return err
	}
	switch len(rows) {
	case 0:
		return pgx.ErrNoRows
	case 1:
		return Decode(nil, rows[0], dest)
	default:
		return ErrMoreThanOneRow
	}
}

// CollectPgxRows drains a pgx result into memory as []Row and closes it.
func CollectPgxRows(rows pgx.Rows) ([]Row, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, fd := range fields {
		cols[i] = fd.Name
	}

	var out []Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		out = append(out, NewRow(cols, vals))
	}
	return out, rows.Err()
}
