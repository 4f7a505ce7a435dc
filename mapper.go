package kapper

import (
	"errors"
	"fmt"
	"reflect"
)

// RowMapper builds a T from one row. It is the escape hatch for shapes the
// automapper cannot express; register it with RegisterIfAbsent or pass it to
// QueryWith.
type RowMapper[T any] func(row *Row) (T, error)

// Row is the current row of a result set as seen by a RowMapper. Its values
// are only valid for the duration of the call.
type Row struct {
	catalog *Catalog
	values  []any
}

// Catalog returns the column metadata of the result set.
func (r *Row) Catalog() *Catalog {
	return r.catalog
}

// Len returns the number of columns.
func (r *Row) Len() int {
	return len(r.values)
}

// At returns the raw driver value of the i-th column (0-based).
func (r *Row) At(i int) any {
	return r.values[i]
}

// Get returns the raw value of the first column whose name matches name.
func (r *Row) Get(name string) (any, bool) {
	i := r.catalog.Index(name)
	if i < 0 {
		return nil, false
	}
	return r.values[i], true
}

// Value converts the named column of r to T.
//
//	name, err := kapper.Value[string](row, "name")
func Value[T any](r *Row, name string) (T, error) {
	var zero T
	raw, ok := r.Get(name)
	if !ok {
		return zero, fmt.Errorf("kapper: no column matches %q", name)
	}
	v, err := Convert(raw, reflect.TypeFor[T]())
	if err != nil {
		var tce *TypeConversionError
		if errors.As(err, &tce) {
			tce.Field = name
		}
		return zero, err
	}
	// NULL into an interface type converts to a nil interface.
	out, _ := v.(T)
	return out, nil
}

// ----- Plans -----

// plan is the compiled mapping of one shape against one catalog. It is
// immutable and shared by every row of every execution with that catalog.
type plan struct {
	shape  *shape
	steps  []step
	column string // scalar shapes: the single column
}

// step fills one slot from one column; col is -1 for slots no column
// matches.
type step struct {
	slot *slot
	col  int
}

// compilePlan matches every slot of sh against cat. Slots are matched by
// normalized name; when several columns normalize to the same name the
// first one wins and columns without a slot are ignored. All required slots
// left without a column are reported together.
func compilePlan(sh *shape, cat *Catalog) (*plan, error) {
	if sh.scalar {
		if cat.Len() != 1 {
			return nil, &MappingError{
				Shape:  sh.typ.String(),
				Reason: fmt.Sprintf("requires exactly 1 column, got %d", cat.Len()),
			}
		}
		return &plan{shape: sh, column: cat.Column(0).Name}, nil
	}

	byName := make(map[string]int, cat.Len())
	for i := 0; i < cat.Len(); i++ {
		canon := Normalize(cat.Column(i).Name)
		if _, taken := byName[canon]; !taken {
			byName[canon] = i
		}
	}

	p := &plan{shape: sh, steps: make([]step, len(sh.slots))}
	var missing []string
	for i := range sh.slots {
		sl := &sh.slots[i]
		col, ok := byName[sl.canon]
		if !ok {
			col = -1
			if !sl.nullable {
				missing = append(missing, sl.name)
			}
		}
		p.steps[i] = step{slot: sl, col: col}
	}
	if len(missing) > 0 {
		return nil, &MappingError{Shape: sh.typ.String(), Fields: missing, Reason: "missing"}
	}
	return p, nil
}

// apply builds one instance from the raw column values of a row.
func (p *plan) apply(raw []any) (reflect.Value, error) {
	if p.shape.scalar {
		return p.applyScalar(raw[0])
	}

	out := reflect.New(p.shape.structType()).Elem()
	for _, st := range p.steps {
		if st.col < 0 {
			continue
		}
		v := raw[st.col]
		if v == nil {
			if st.slot.nullable {
				continue
			}
			return reflect.Value{}, &MappingError{
				Shape:  p.shape.typ.String(),
				Fields: []string{st.slot.name},
				Reason: "null value for non-nullable field",
			}
		}
		fv, err := fieldValue(v, st.slot.typ)
		if err != nil {
			return reflect.Value{}, &TypeConversionError{Field: st.slot.name, Value: v, Target: st.slot.typ, Cause: err}
		}
		out.FieldByIndex(st.slot.index).Set(fv)
	}
	if p.shape.ptr {
		return out.Addr(), nil
	}
	return out, nil
}

func (p *plan) applyScalar(v any) (reflect.Value, error) {
	t := p.shape.typ
	if v == nil {
		if isNullable(t) {
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, &MappingError{
			Shape:  t.String(),
			Fields: []string{p.column},
			Reason: "null value for non-nullable field",
		}
	}
	fv, err := fieldValue(v, t)
	if err != nil {
		return reflect.Value{}, &TypeConversionError{Field: p.column, Value: v, Target: t, Cause: err}
	}
	return fv, nil
}

// fieldValue returns v as a value of type t, converting only when the
// driver handed back a different type.
func fieldValue(v any, t reflect.Type) (reflect.Value, error) {
	if reflect.TypeOf(v) == t {
		return reflect.ValueOf(v), nil
	}
	return convertValue(v, t)
}
