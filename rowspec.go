package pgq

import (
	"fmt"
	"reflect"
	"strings"
)

// RowSpec describes how to decode one result row into a struct: an ordered
// list of leaf fields (with optional column-name overrides) and flattened
// nested specs, some of which may be marked as split boundaries for
// multi-mapping joined rows. Immutable once built; safe to share.
type RowSpec struct {
	fields []specField
}

type specField struct {
	name   string  // Go struct field name
	column string  // column name to match (leaf fields only)
	sub    *RowSpec // non-nil for a flattened nested struct
	split  string  // open a new column group at this column before decoding sub
}

// NewRowSpec returns an empty spec to populate with Field/Flatten calls.
func NewRowSpec() *RowSpec {
	return &RowSpec{}
}

// Field appends a leaf field whose column name equals the field name.
func (s *RowSpec) Field(name string) *RowSpec {
	return s.FieldAs(name, name)
}

// FieldAs appends a leaf field decoded from the given column.
func (s *RowSpec) FieldAs(name, column string) *RowSpec {
	s.fields = append(s.fields, specField{name: name, column: column})
	return s
}

// Flatten appends a nested struct field decoded from the row's remaining
// columns, sharing the cursor with its siblings.
func (s *RowSpec) Flatten(name string, sub *RowSpec) *RowSpec {
	s.fields = append(s.fields, specField{name: name, sub: sub})
	return s
}

// FlattenAt appends a nested struct field that opens a new column group at
// the given split column. Joined queries emit one row with all columns of all
// joined relations concatenated; each occurrence of the split column marks
// where the next relation's columns begin.
func (s *RowSpec) FlattenAt(name, splitColumn string, sub *RowSpec) *RowSpec {
	s.fields = append(s.fields, specField{name: name, sub: sub, split: splitColumn})
	return s
}

func (s *RowSpec) hasSplit() bool {
	for _, f := range s.fields {
		if f.split != "" {
			return true
		}
	}
	return false
}

var specCache = mustLRU[reflect.Type, *RowSpec](specCacheSize)

// SpecFor derives (and caches) the RowSpec for sample's struct type from its
// field declarations: `db:"name"` overrides a leaf's column name, nested
// structs are flattened, and `row:"split=col"` marks a nested struct as a
// split boundary. Pass either a value or a pointer.
func SpecFor(sample any) (*RowSpec, error) {
	t := reflect.TypeOf(sample)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: SpecFor expects a struct, got %T", ErrInvalidSpec, sample)
	}
	return specForType(t)
}

func specForType(t reflect.Type) (*RowSpec, error) {
	if s, ok := specCache.Get(t); ok {
		return s, nil
	}
	s, err := buildSpec(t, map[reflect.Type]bool{})
	if err != nil {
		return nil, err
	}
	specCache.Add(t, s)
	return s, nil
}

func buildSpec(t reflect.Type, visited map[reflect.Type]bool) (*RowSpec, error) {
	if visited[t] {
		return nil, fmt.Errorf("%w: recursive struct %s", ErrInvalidSpec, t)
	}
	visited[t] = true
	defer delete(visited, t)

	spec := NewRowSpec()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" { // unexported
			continue
		}
		column, skip := parseDBTag(f)
		if skip {
			continue
		}
		split, flatten := parseRowTag(f)

		if flatten || shouldFlatten(f.Type) {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() != reflect.Struct {
				return nil, fmt.Errorf("%w: field %s.%s tagged for flattening is not a struct", ErrInvalidSpec, t, f.Name)
			}
			sub, err := buildSpec(ft, visited)
			if err != nil {
				return nil, err
			}
			if split != "" {
				spec.FlattenAt(f.Name, split, sub)
			} else {
				spec.Flatten(f.Name, sub)
			}
			continue
		}

		if split != "" {
			return nil, fmt.Errorf("%w: split marker on leaf field %s.%s", ErrInvalidSpec, t, f.Name)
		}
		spec.FieldAs(f.Name, column)
	}
	return spec, nil
}

// parseDBTag returns the column name for a struct field, honoring `db:"name"`
// overrides, and whether the field is excluded via `db:"-"`.
func parseDBTag(f reflect.StructField) (string, bool) {
	tag := f.Tag.Get("db")
	if tag == "-" {
		return "", true
	}
	name := f.Name
	if tag != "" {
		if head, _, found := strings.Cut(tag, ","); found {
			if head != "" {
				name = head
			}
		} else {
			name = tag
		}
	}
	return name, false
}

// parseRowTag reads the `row` tag: "flatten" forces flattening and
// "split=col" marks a split boundary (implies flattening).
func parseRowTag(f reflect.StructField) (split string, flatten bool) {
	tag := f.Tag.Get("row")
	if tag == "" {
		return "", false
	}
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "flatten":
			flatten = true
		case strings.HasPrefix(part, "split="):
			split = strings.TrimPrefix(part, "split=")
			flatten = true
		}
	}
	return split, flatten
}

// shouldFlatten decides whether ft (struct or *struct) is decoded by
// descending into its fields rather than as a single value.
func shouldFlatten(ft reflect.Type) bool {
	// If T or *T implements sql.Scanner, treat as leaf.
	if reflect.PointerTo(ft).Implements(scannerIface) || ft.Implements(scannerIface) {
		return false
	}
	tt := ft
	if tt.Kind() == reflect.Pointer {
		tt = tt.Elem()
	}
	if tt.Kind() != reflect.Struct {
		return false
	}
	// time.Time is the canonical leaf struct.
	if tt.PkgPath() == "time" && tt.Name() == "Time" {
		return false
	}
	return true
}
