package pgq

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Builder assembles a single SQL statement and its named bindings. Each
// appended fragment is scanned immediately; its placeholders are merged into
// the running parameter table and its positional references renumbered before
// concatenation, so the result is identical to scanning the full text at once.
// A Builder is NOT safe for concurrent use and is single-use: after Finish()
// it is automatically released back to the pool and must not be used again.
type Builder struct {
	s        *PGQ
	sql      strings.Builder
	table    *paramTable
	bindings Args
	finished bool
	err      error
}

// Write appends a raw SQL fragment. Fragment boundaries must not split string
// literals or comments; each fragment is scanned on its own.
func (b *Builder) Write(sqlText string) *Builder {
	if b.finished {
		b.err = ErrBuilderFinished
		return b
	}
	if b.err != nil {
		return b
	}
	b.append(sqlText)
	return b
}

// Writef appends a formatted SQL fragment. No auto-spacing is performed.
func (b *Builder) Writef(format string, args ...any) *Builder {
	return b.Write(fmt.Sprintf(format, args...))
}

// append scans one fragment (through the template cache), merges its
// placeholders into the running table and renumbers its positional refs.
func (b *Builder) append(sqlText string) {
	parsed, err := b.s.templates.parse(sqlText, b.s.config)
	if err != nil {
		b.err = err
		return
	}

	frag := newParamTable()
	for _, name := range parsed.names {
		frag.register(name)
	}
	remap := b.table.merge(frag)

	if max := b.s.config.MaxParams; max > 0 && b.table.len() > max {
		b.err = fmt.Errorf("%w: %d placeholders, limit %d", ErrTooManyParams, b.table.len(), max)
		return
	}

	text, err := renumber(parsed.sql, remap)
	if err != nil {
		b.err = err
		return
	}
	b.sql.WriteString(text)
}

// Bind registers named values for the statement's placeholders. Supported
// forms:
//   - a single map with string-kinded keys (Args / map[string]any included)
//   - a single struct (exported fields, flattened through nested structs,
//     honoring `db:"name"` tags)
//   - k/v pairs (even number of args, keys are non-empty strings)
//
// Multiple Bind() calls are allowed; resolution is "last one wins".
func (b *Builder) Bind(args ...any) *Builder {
	if b.finished {
		b.err = ErrBuilderFinished
		return b
	}
	if b.err != nil {
		return b
	}

	switch len(args) {
	case 0:
		return b

	case 1:
		switch in := args[0].(type) {
		case nil:
		case Args:
			for k, v := range in {
				b.bindings[k] = v
			}
		default:
			named, err := namedArgs(args[0])
			if err != nil {
				b.err = err
				return b
			}
			for k, v := range named {
				b.bindings[k] = v
			}
		}
		return b

	default:
		if len(args)%2 != 0 {
			b.err = fmt.Errorf("pgq: Bind expects even number of args (key,value,...), got %d", len(args))
			return b
		}
		for i := 0; i < len(args); i += 2 {
			k, ok := args[i].(string)
			if !ok || k == "" {
				b.err = fmt.Errorf("pgq: Bind key at position %d must be a non-empty string (got %T)", i, args[i])
				return b
			}
			b.bindings[k] = args[i+1]
		}
		return b
	}
}

// Append splices a previously built Query into this statement. The query's
// positional references are renumbered into the merged parameter table and its
// arguments carried over under their original names.
func (b *Builder) Append(q *Query) *Builder {
	if b.finished {
		b.err = ErrBuilderFinished
		return b
	}
	if b.err != nil {
		return b
	}

	frag := newParamTable()
	for _, name := range q.names {
		frag.register(name)
	}
	remap := b.table.merge(frag)

	text, err := renumber(q.esc, remap)
	if err != nil {
		b.err = err
		return b
	}
	b.sql.WriteString(text)

	for i, name := range q.names {
		b.bindings[name] = q.args[i]
	}
	return b
}

// Finish validates that bindings and placeholders are in 1:1 correspondence,
// emits the immutable Query, and RELEASES the builder back into the pool.
// After Finish(), the builder must not be used again.
func (b *Builder) Finish() (*Query, error) {
	if b.finished {
		return nil, ErrBuilderFinished
	}
	defer b.release()
	return b.render()
}

// Preview renders the Query without releasing the Builder. Safe to call
// multiple times; identical to Finish() except the builder stays usable.
func (b *Builder) Preview() (*Query, error) {
	if b.finished {
		return nil, ErrBuilderFinished
	}
	return b.render()
}

// render runs the final 1:1 validation and assembles the Query. Every
// placeholder without a binding and every binding without a placeholder is
// reported; the combined error matches each sentinel via errors.Is.
func (b *Builder) render() (*Query, error) {
	if b.err != nil {
		return nil, b.err
	}

	var errs []error
	args := make([]any, 0, b.table.len())
	for _, name := range b.table.names {
		v, ok := b.bindings[name]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnboundParam, name))
			continue
		}
		args = append(args, v)
	}

	var unknown []string
	for name := range b.bindings {
		if _, ok := b.table.lookup(name); !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownBinding, name))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	names := make([]string, len(b.table.names))
	copy(names, b.table.names)
	esc := b.sql.String()
	return &Query{sql: collapseEscapes(esc), esc: esc, args: args, names: names}, nil
}

// release clears the builder and puts it back into the pool. Safe to call
// multiple times; subsequent calls are no-ops.
func (b *Builder) release() {
	if b.finished {
		return
	}
	b.finished = true
	b.sql.Reset()
	b.table.names = b.table.names[:0]
	clear(b.table.index)
	clear(b.bindings)
	b.err = nil
	b.s.pool.Put(b)
}

// --------------------------------
// Struct bindings
// --------------------------------

// bindField locates one bindable struct field: the binding name and the index
// path to reach it through flattened nested structs.
type bindField struct {
	name string
	path []int
}

var bindCache = mustLRU[reflect.Type, []bindField](specCacheSize)

func mustLRU[K comparable, V any](size int) *lru.Cache[K, V] {
	c, err := lru.New[K, V](size)
	if err != nil {
		panic(err)
	}
	return c
}

// namedArgs extracts bindings from a single Bind input that is not an Args
// map: any map with string-kinded keys, or a struct.
func namedArgs(in any) (Args, error) {
	v := reflect.ValueOf(in)
	if v.Kind() == reflect.Map {
		if v.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("pgq: Bind map must have string keys, got %s", v.Type())
		}
		out := make(Args, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out, nil
	}
	return structArgs(in)
}

// structArgs extracts named bindings from a struct (or pointer to struct),
// flattening nested structs the same way the row decoder does. A nil pointer
// along a path binds SQL NULL.
func structArgs(in any) (Args, error) {
	v := reflect.ValueOf(in)
	for v.IsValid() && (v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer) {
		if v.IsNil() {
			return nil, fmt.Errorf("pgq: Bind on nil %s", v.Type())
		}
		v = v.Elem()
	}
	if !v.IsValid() || v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("pgq: Bind expects a map, struct or key/value pairs, got %T", in)
	}

	fields, err := bindFields(v.Type())
	if err != nil {
		return nil, err
	}

	out := make(Args, len(fields))
	for _, f := range fields {
		out[f.name] = valueAtPath(v, f.path)
	}
	return out, nil
}

// bindFields returns the flattened binding fields of struct type t, cached.
func bindFields(t reflect.Type) ([]bindField, error) {
	if fields, ok := bindCache.Get(t); ok {
		return fields, nil
	}

	var fields []bindField
	seen := make(map[string]bool, t.NumField())

	var walk func(rt reflect.Type, path []int) error
	walk = func(rt reflect.Type, path []int) error {
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			if f.PkgPath != "" { // unexported
				continue
			}
			name, skip := parseDBTag(f)
			if skip {
				continue
			}
			if shouldFlatten(f.Type) {
				next := f.Type
				if next.Kind() == reflect.Pointer {
					next = next.Elem()
				}
				if err := walk(next, appendIndex(path, i)); err != nil {
					return err
				}
				continue
			}
			if seen[name] {
				return fmt.Errorf("%w: %q in %s", ErrAmbiguousField, name, t)
			}
			seen[name] = true
			fields = append(fields, bindField{name: name, path: appendIndex(path, i)})
		}
		return nil
	}

	if err := walk(t, nil); err != nil {
		return nil, err
	}
	bindCache.Add(t, fields)
	return fields, nil
}

// valueAtPath extracts the value at the end of path from root, treating any
// nil pointer along the way as SQL NULL.
func valueAtPath(root reflect.Value, path []int) any {
	v := root
	for _, idx := range path {
		for v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return nil
			}
			v = v.Elem()
		}
		v = v.Field(idx)
	}
	if v.Kind() == reflect.Pointer && v.IsNil() {
		return nil
	}
	return v.Interface()
}

// appendIndex returns a new index path with idx appended.
func appendIndex(path []int, idx int) []int {
	out := make([]int, len(path)+1)
	copy(out, path)
	out[len(path)] = idx
	return out
}
