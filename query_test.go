package pgq

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

// newMockDB returns a mock database matching SQL text exactly.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	assertNoError(t, err)
	t.Cleanup(func() {
		assertNoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

// TestQuery_Exec forwards the rewritten SQL and the ordered argument list to
// the database.
func TestQuery_Exec(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("UPDATE people SET name = $1 WHERE id = $2").
		WithArgs("ada", 7).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := New()
	q := mustParse(t, s,
		"UPDATE people SET name = $name WHERE id = $id",
		Args{"name": "ada", "id": 7})

	res, err := q.Exec(context.Background(), db)
	assertNoError(t, err)
	n, err := res.RowsAffected()
	assertNoError(t, err)
	if n != 1 {
		t.Fatalf("rows affected = %d, want 1", n)
	}
}

// TestQuery_Fetch runs a query end to end: bind, execute, decode into a slice
// of structs.
func TestQuery_Fetch(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT id, title, genre FROM books WHERE genre = $1").
		WithArgs("sf").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "genre"}).
			AddRow(1, "Dune", "sf").
			AddRow(2, "Solaris", "sf"))

	s := New()
	q := mustParse(t, s,
		"SELECT id, title, genre FROM books WHERE genre = $genre",
		Args{"genre": "sf"})

	var books []book
	assertNoError(t, q.Fetch(context.Background(), db, &books))
	if len(books) != 2 || books[0].Title != "Dune" || books[1].ID != 2 {
		t.Fatalf("fetched %+v", books)
	}
}

// TestQuery_FetchPrimitives decodes a single-column result into a basic slice.
func TestQuery_FetchPrimitives(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT name FROM people").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("ada").AddRow("alan"))

	s := New()
	q := mustParse(t, s, "SELECT name FROM people", nil)

	var names []string
	assertNoError(t, q.Fetch(context.Background(), db, &names))
	if len(names) != 2 || names[0] != "ada" {
		t.Fatalf("fetched %v", names)
	}
}

// TestQuery_FetchOne covers the exactly-one-row contract.
func TestQuery_FetchOne(t *testing.T) {
	ctx := context.Background()
	s := New()
	q := mustParse(t, s, "SELECT id, title, genre FROM books WHERE id = $id", Args{"id": 1})

	t.Run("one row", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("SELECT id, title, genre FROM books WHERE id = $1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"id", "title", "genre"}).AddRow(1, "Dune", "sf"))

		var b book
		assertNoError(t, q.FetchOne(ctx, db, &b))
		if b.Title != "Dune" {
			t.Fatalf("fetched %+v", b)
		}
	})

	t.Run("no rows", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("SELECT id, title, genre FROM books WHERE id = $1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"id", "title", "genre"}))

		var b book
		assertIs(t, q.FetchOne(ctx, db, &b), sql.ErrNoRows)
	})

	t.Run("more than one", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("SELECT id, title, genre FROM books WHERE id = $1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"id", "title", "genre"}).
				AddRow(1, "Dune", "sf").
				AddRow(1, "Dune", "sf"))

		var b book
		assertIs(t, q.FetchOne(ctx, db, &b), ErrMoreThanOneRow)
	})
}

// TestQuery_FetchSpec decodes a joined result with an explicit split spec.
func TestQuery_FetchSpec(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT b.id, b.title, b.genre, a.id, a.name, a.birthyear FROM books b JOIN authors a ON a.id = b.author_id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "genre", "id", "name", "birthyear"}).
			AddRow(1, "Dune", "sf", 10, "Herbert", 1920))

	type bookAuthor struct {
		Book   book
		Author author
	}
	bookSpec := NewRowSpec().FieldAs("ID", "id").FieldAs("Title", "title").FieldAs("Genre", "genre")
	authorSpec := NewRowSpec().FieldAs("ID", "id").FieldAs("Name", "name").FieldAs("BirthYear", "birthyear")
	spec := NewRowSpec().
		FlattenAt("Book", "id", bookSpec).
		FlattenAt("Author", "id", authorSpec)

	s := New()
	q := mustParse(t, s,
		"SELECT b.id, b.title, b.genre, a.id, a.name, a.birthyear FROM books b JOIN authors a ON a.id = b.author_id",
		nil)

	var out []bookAuthor
	assertNoError(t, q.FetchSpec(context.Background(), db, spec, &out))
	if len(out) != 1 || out[0].Book.Title != "Dune" || out[0].Author.Name != "Herbert" {
		t.Fatalf("fetched %+v", out)
	}
}

// TestQuery_RowsCollects exposes the raw row access path.
func TestQuery_RowsCollects(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT id, title FROM books").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow(1, "Dune"))

	s := New()
	q := mustParse(t, s, "SELECT id, title FROM books", nil)

	rows, err := q.Rows(context.Background(), db)
	assertNoError(t, err)
	if len(rows) != 1 || rows[0].Len() != 2 || rows[0].Column(1) != "title" {
		t.Fatalf("rows = %+v", rows)
	}
	if v, ok := rows[0].Get("title"); !ok || v != "Dune" {
		t.Fatalf("Get(title) = %v %v", v, ok)
	}
}
