package pgq

import (
	"database/sql"
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"time"
)

var scannerIface = reflect.TypeOf((*sql.Scanner)(nil)).Elem()

// Converter converts a raw column value into a destination value. Implement
// and register one per destination type to extend decoding without touching
// the decoder itself.
type Converter interface {
	Convert(src any, dst reflect.Value) error
}

// ConverterFunc adapts a plain function to the Converter interface.
type ConverterFunc func(src any, dst reflect.Value) error

func (f ConverterFunc) Convert(src any, dst reflect.Value) error { return f(src, dst) }

var (
	convMu     sync.RWMutex
	converters = map[reflect.Type]Converter{}
)

// RegisterConverter installs a custom converter for destination type t,
// overriding the built-in conversion path for that type.
func RegisterConverter(t reflect.Type, c Converter) {
	convMu.Lock()
	converters[t] = c
	convMu.Unlock()
}

func lookupConverter(t reflect.Type) (Converter, bool) {
	convMu.RLock()
	c, ok := converters[t]
	convMu.RUnlock()
	return c, ok
}

// convertValue assigns the raw column value src to dst. Failures wrap
// ErrConvert and name the column plus the actual and expected types.
func convertValue(column string, src any, dst reflect.Value) error {
	if c, ok := lookupConverter(dst.Type()); ok {
		if err := c.Convert(src, dst); err != nil {
			return convErr(column, src, dst.Type(), err)
		}
		return nil
	}
	if err := assign(src, dst); err != nil {
		return convErr(column, src, dst.Type(), err)
	}
	return nil
}

func convErr(column string, src any, want reflect.Type, cause error) error {
	return fmt.Errorf("%w: column %q: %v (have %T, want %s)", ErrConvert, column, cause, src, want)
}

// assign is the built-in conversion path: NULL handling, sql.Scanner, direct
// assignment, then kind-based coercions for the driver's raw value types
// (int64, float64, bool, string, []byte, time.Time).
func assign(src any, dst reflect.Value) error {
	// Scanners see the raw value first, NULL included.
	if dst.CanAddr() && reflect.PointerTo(dst.Type()).Implements(scannerIface) {
		return dst.Addr().Interface().(sql.Scanner).Scan(src)
	}

	if src == nil {
		switch dst.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map:
			dst.SetZero()
			return nil
		}
		return fmt.Errorf("null value for non-nilable type")
	}

	if dst.Kind() == reflect.Pointer {
		return assign(src, derefAlloc(dst))
	}

	sv := reflect.ValueOf(src)
	if sv.Type().AssignableTo(dst.Type()) {
		dst.Set(sv)
		return nil
	}

	switch dst.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := asInt(sv)
		if err != nil {
			return err
		}
		if dst.OverflowInt(n) {
			return fmt.Errorf("value %d overflows", n)
		}
		dst.SetInt(n)
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := asInt(sv)
		if err != nil {
			return err
		}
		if n < 0 || dst.OverflowUint(uint64(n)) {
			return fmt.Errorf("value %d overflows", n)
		}
		dst.SetUint(uint64(n))
		return nil

	case reflect.Float32, reflect.Float64:
		f, err := asFloat(sv)
		if err != nil {
			return err
		}
		dst.SetFloat(f)
		return nil

	case reflect.Bool:
		b, err := asBool(sv)
		if err != nil {
			return err
		}
		dst.SetBool(b)
		return nil

	case reflect.String:
		switch v := src.(type) {
		case string:
			dst.SetString(v)
		case []byte:
			dst.SetString(string(v))
		default:
			return fmt.Errorf("unsupported conversion")
		}
		return nil

	case reflect.Slice:
		if dst.Type().Elem().Kind() == reflect.Uint8 {
			switch v := src.(type) {
			case []byte:
				dst.SetBytes(v)
				return nil
			case string:
				dst.SetBytes([]byte(v))
				return nil
			}
		}
		return fmt.Errorf("unsupported conversion")

	case reflect.Struct:
		if t, ok := src.(time.Time); ok && dst.Type().ConvertibleTo(reflect.TypeOf(time.Time{})) {
			dst.Set(reflect.ValueOf(t).Convert(dst.Type()))
			return nil
		}
		return fmt.Errorf("unsupported conversion")

	case reflect.Interface:
		if reflect.TypeOf(src).Implements(dst.Type()) {
			dst.Set(sv)
			return nil
		}
		return fmt.Errorf("unsupported conversion")
	}
	return fmt.Errorf("unsupported conversion")
}

func asInt(sv reflect.Value) (int64, error) {
	switch {
	case sv.CanInt():
		return sv.Int(), nil
	case sv.CanUint():
		u := sv.Uint()
		if u > 1<<63-1 {
			return 0, fmt.Errorf("value %d overflows", u)
		}
		return int64(u), nil
	case sv.CanFloat():
		f := sv.Float()
		n := int64(f)
		if float64(n) != f {
			return 0, fmt.Errorf("value %v is not integral", f)
		}
		return n, nil
	}
	switch v := sv.Interface().(type) {
	case string:
		return strconv.ParseInt(v, 10, 64)
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	}
	return 0, fmt.Errorf("unsupported conversion")
}

func asFloat(sv reflect.Value) (float64, error) {
	switch {
	case sv.CanFloat():
		return sv.Float(), nil
	case sv.CanInt():
		return float64(sv.Int()), nil
	case sv.CanUint():
		return float64(sv.Uint()), nil
	}
	switch v := sv.Interface().(type) {
	case string:
		return strconv.ParseFloat(v, 64)
	case []byte:
		return strconv.ParseFloat(string(v), 64)
	}
	return 0, fmt.Errorf("unsupported conversion")
}

func asBool(sv reflect.Value) (bool, error) {
	switch v := sv.Interface().(type) {
	case bool:
		return v, nil
	case string:
		return strconv.ParseBool(v)
	case []byte:
		return strconv.ParseBool(string(v))
	case int64:
		return v != 0, nil
	}
	return false, fmt.Errorf("unsupported conversion")
}
