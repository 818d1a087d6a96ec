// Package pgq turns SQL containing $named placeholders into Postgres positional SQL plus an ordered argument list, and decodes result rows (including joined rows with colliding column names) back into Go structs. It covers the two things that are easy to get wrong by hand: keeping positional indices consistent while queries are assembled dynamically, and partitioning a flat joined row into the entities it was projected from. No ORM, no fluent DSL: you write the SQL.
package pgq
