package kapper

import (
	"database/sql"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	scannerIface = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	timeType     = reflect.TypeOf(time.Time{})
	durationType = reflect.TypeOf(time.Duration(0))
	uuidType     = reflect.TypeOf(uuid.UUID{})
	decimalType  = reflect.TypeOf(decimal.Decimal{})
	bytesType    = reflect.TypeOf([]byte(nil))
)

// shape describes how values of a Go type are assembled from a row. A struct
// shape has one slot per exported field; a scalar shape takes the whole
// (single column) row.
type shape struct {
	typ    reflect.Type
	scalar bool
	ptr    bool // typ is a pointer to the struct the slots belong to
	slots  []slot
}

// slot is one settable field of a struct shape.
type slot struct {
	name     string // db tag or Go field name
	canon    string // Normalize(name)
	index    []int  // path for reflect.Value.FieldByIndex through embedded structs
	typ      reflect.Type
	nullable bool
}

// describeShape computes the shape of t. A pointer to a struct shares the
// slots of the struct and yields a fresh pointer per row. Interfaces,
// non-struct kinds that are not scalars and structs without exported fields
// cannot be mapped.
func describeShape(t reflect.Type) (*shape, error) {
	if isScalar(t) {
		return &shape{typ: t, scalar: true}, nil
	}
	if t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct {
		inner, err := describeShape(t.Elem())
		if err != nil {
			return nil, &MappingError{Shape: t.String(), Reason: "cannot be mapped"}
		}
		return &shape{typ: t, ptr: true, slots: inner.slots}, nil
	}
	if t.Kind() != reflect.Struct {
		return nil, &MappingError{Shape: t.String(), Reason: "cannot be mapped"}
	}

	s := &shape{typ: t}
	visited := map[reflect.Type]bool{}
	var walk func(rt reflect.Type, path []int)

	walk = func(rt reflect.Type, path []int) {
		if visited[rt] {
			return
		}
		visited[rt] = true
		defer delete(visited, rt)

		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			tag := f.Tag.Get("db")
			if tag == "-" {
				continue
			}
			// Embedded structs are flattened even when their type is unexported,
			// as long as the promoted fields are exported.
			if f.Anonymous && f.Type.Kind() == reflect.Struct && !isScalar(f.Type) && tag == "" {
				walk(f.Type, appendIndex(path, i))
				continue
			}
			if !f.IsExported() {
				continue
			}
			name := f.Name
			if tag != "" {
				if n, _, _ := strings.Cut(tag, ","); n != "" {
					name = n
				}
			}
			s.slots = append(s.slots, slot{
				name:     name,
				canon:    Normalize(name),
				index:    appendIndex(path, i),
				typ:      f.Type,
				nullable: isNullable(f.Type),
			})
		}
	}

	walk(t, nil)
	if len(s.slots) == 0 {
		return nil, &MappingError{Shape: t.String(), Reason: "cannot be mapped"}
	}
	return s, nil
}

// structType returns the struct type whose fields the slots address.
func (s *shape) structType() reflect.Type {
	if s.ptr {
		return s.typ.Elem()
	}
	return s.typ
}

// isNullable reports whether a field of type t may legitimately hold "no
// value": pointers, interfaces, slices, maps and sql.Scanner implementations
// such as sql.NullString.
func isNullable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map:
		return true
	}
	return reflect.PointerTo(t).Implements(scannerIface)
}

// isScalar reports whether t is read from a single column rather than
// assembled field by field.
func isScalar(t reflect.Type) bool {
	switch t {
	case timeType, uuidType, decimalType, bytesType:
		return true
	}
	if reflect.PointerTo(t).Implements(scannerIface) {
		return true
	}
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.String:
		return true
	case reflect.Pointer:
		return isScalar(t.Elem())
	}
	return false
}

// appendIndex returns a new slice with i appended to path, never aliasing path.
func appendIndex(path []int, i int) []int {
	out := make([]int, len(path)+1)
	copy(out, path)
	out[len(path)] = i
	return out
}
