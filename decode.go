package pgq

import (
	"fmt"
	"reflect"
)

// Decode reconstructs one typed value from a fetched row. dest must be a
// non-nil pointer; struct destinations decode through spec (derived from the
// struct type when spec is nil), anything else is treated as a single-column
// result. A failing field aborts the whole decode: dest is only written on
// success, never partially populated.
func Decode(spec *RowSpec, row Row, dest any) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w: Decode requires a non-nil pointer, got %T", ErrInvalidDest, dest)
	}
	elem := rv.Elem()
	t := elem.Type()

	if t.Kind() != reflect.Struct || !shouldFlatten(t) {
		if row.Len() != 1 {
			return fmt.Errorf("%w: decoding into %s requires exactly 1 column, got %d", ErrInvalidDest, t, row.Len())
		}
		out := reflect.New(t).Elem()
		if err := convertValue(row.Column(0), row.Value(0), out); err != nil {
			return err
		}
		elem.Set(out)
		return nil
	}

	if spec == nil {
		derived, err := specForType(t)
		if err != nil {
			return err
		}
		spec = derived
	}

	out := reflect.New(t).Elem()
	if err := spec.decode(row, out); err != nil {
		return err
	}
	elem.Set(out)
	return nil
}

// DecodeAll decodes every row into dest, which must be a pointer to a slice
// of structs, struct pointers, or a basic type for single-column results.
// Row order is preserved. The slice is reset before decoding.
func DecodeAll(spec *RowSpec, rows []Row, dest any) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w: DecodeAll requires a non-nil pointer to slice, got %T", ErrInvalidDest, dest)
	}
	sl := rv.Elem()
	if sl.Kind() != reflect.Slice {
		return fmt.Errorf("%w: DecodeAll requires a pointer to slice, got %T", ErrInvalidDest, dest)
	}
	if sl.Len() != 0 {
		sl.Set(sl.Slice(0, 0))
	}

	elemT := sl.Type().Elem()
	isPtr := elemT.Kind() == reflect.Pointer
	baseT := elemT
	if isPtr {
		baseT = elemT.Elem()
	}

	if baseT.Kind() == reflect.Struct && shouldFlatten(baseT) {
		if spec == nil {
			derived, err := specForType(baseT)
			if err != nil {
				return err
			}
			spec = derived
		}
		for _, row := range rows {
			out := reflect.New(baseT)
			if err := spec.decode(row, out.Elem()); err != nil {
				return err
			}
			if isPtr {
				sl.Set(reflect.Append(sl, out))
			} else {
				sl.Set(reflect.Append(sl, out.Elem()))
			}
		}
		return nil
	}

	// Single-column primitive/Scanner elements.
	for _, row := range rows {
		if row.Len() != 1 {
			return fmt.Errorf("%w: decoding into %s requires exactly 1 column, got %d", ErrInvalidDest, baseT, row.Len())
		}
		out := reflect.New(baseT)
		if err := convertValue(row.Column(0), row.Value(0), out.Elem()); err != nil {
			return err
		}
		if isPtr {
			sl.Set(reflect.Append(sl, out))
		} else {
			sl.Set(reflect.Append(sl, out.Elem()))
		}
	}
	return nil
}

// decode applies the spec to the row's full column range.
func (s *RowSpec) decode(row Row, dst reflect.Value) error {
	if s.hasSplit() {
		return s.decodeSplit(row, dst)
	}
	_, err := s.decodeSeq(row, 0, dst)
	return err
}

// decodeSeq consumes row's columns left to right from cur according to the
// spec's field order, returning the cursor after the last consumed column.
// Flattened sub-specs share the cursor; a sub-spec with its own splits
// consumes the entire remainder of the range.
func (s *RowSpec) decodeSeq(row Row, cur int, dst reflect.Value) (int, error) {
	for i := range s.fields {
		f := &s.fields[i]
		fv, err := fieldByName(dst, f.name)
		if err != nil {
			return 0, err
		}

		if f.sub != nil {
			target := derefAlloc(fv)
			if f.sub.hasSplit() {
				if err := f.sub.decodeSplit(row.slice(cur, row.Len()), target); err != nil {
					return 0, err
				}
				cur = row.Len()
				continue
			}
			cur, err = f.sub.decodeSeq(row, cur, target)
			if err != nil {
				return 0, err
			}
			continue
		}

		if cur >= row.Len() || row.Column(cur) != f.column {
			return 0, fmt.Errorf("%w: %q (expected at column position %d)", ErrColumnNotFound, f.column, cur)
		}
		if err := convertValue(f.column, row.Value(cur), fv); err != nil {
			return 0, err
		}
		cur++
	}
	return cur, nil
}

// decodeSplit partitions the row's columns into consecutive groups, one per
// occurrence of the declared split columns, and decodes each segment of
// fields against its group. Fields declared before the first split-marked
// field decode from the columns preceding the first split occurrence.
//
// Group-count disagreements report per split point: when a declared split
// column never opens its group the error is ErrSplitColumnNotFound naming
// that column, even if earlier groups matched; only occurrences beyond the
// declared groups are ErrSplitCountMismatch.
func (s *RowSpec) decodeSplit(row Row, dst reflect.Value) error {
	splits := make([]string, 0, len(s.fields))
	for i := range s.fields {
		if s.fields[i].split != "" {
			splits = append(splits, s.fields[i].split)
		}
	}

	bounds, err := splitColumns(row, splits)
	if err != nil {
		return err
	}
	bounds = append(bounds, row.Len())

	seg := 0
	cur, end := 0, bounds[0]
	for i := range s.fields {
		f := &s.fields[i]
		if f.split != "" {
			cur, end = bounds[seg], bounds[seg+1]
			seg++
		}

		fv, err := fieldByName(dst, f.name)
		if err != nil {
			return err
		}

		if f.sub != nil {
			target := derefAlloc(fv)
			group := row.slice(cur, end)
			if f.sub.hasSplit() {
				if err := f.sub.decodeSplit(group, target); err != nil {
					return err
				}
				cur = end
				continue
			}
			n, err := f.sub.decodeSeq(group, 0, target)
			if err != nil {
				return err
			}
			cur += n
			continue
		}

		if cur >= end || row.Column(cur) != f.column {
			return fmt.Errorf("%w: %q (expected at column position %d)", ErrColumnNotFound, f.column, cur)
		}
		if err := convertValue(f.column, row.Value(cur), fv); err != nil {
			return err
		}
		cur++
	}
	return nil
}

// splitColumns locates the declared split points in the row's column name
// sequence: a single left-to-right pass, where each occurrence of the next
// expected split column records a group boundary. No backtracking; column
// order is fixed by the query's projection order.
func splitColumns(row Row, splits []string) ([]int, error) {
	isSplitName := make(map[string]bool, len(splits))
	for _, name := range splits {
		isSplitName[name] = true
	}

	bounds := make([]int, 0, len(splits))
	si := 0
	for i := 0; i < row.Len(); i++ {
		name := row.Column(i)
		if si < len(splits) && name == splits[si] {
			bounds = append(bounds, i)
			si++
			continue
		}
		if si >= len(splits) && isSplitName[name] {
			return nil, fmt.Errorf("%w: extra occurrence of %q at column %d (%d groups declared)",
				ErrSplitCountMismatch, name, i, len(splits))
		}
	}
	if si < len(splits) {
		return nil, fmt.Errorf("%w: %q (found %d of %d split points)",
			ErrSplitColumnNotFound, splits[si], si, len(splits))
	}
	return bounds, nil
}

// fieldByName resolves a spec field on the destination struct.
func fieldByName(dst reflect.Value, name string) (reflect.Value, error) {
	fv := dst.FieldByName(name)
	if !fv.IsValid() {
		return reflect.Value{}, fmt.Errorf("%w: no field %q on %s", ErrInvalidSpec, name, dst.Type())
	}
	return fv, nil
}

// derefAlloc follows v through pointers, allocating nil ones, until a
// settable non-pointer value.
func derefAlloc(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}
	return v
}
