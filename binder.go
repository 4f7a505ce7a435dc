package kapper

import (
	"database/sql/driver"
	"reflect"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bind produces one positional argument per placeholder of p, looking each
// name up in args. Names are matched exactly; entries of args that the
// statement does not reference are ignored. A referenced name without an
// entry yields a *MissingArgumentError.
func (p *ParsedQuery) Bind(args Args) ([]any, error) {
	return p.bind(args, p.uuidEnc)
}

func (p *ParsedQuery) bind(args Args, enc UUIDEncoding) ([]any, error) {
	out := make([]any, len(p.params))
	for i, name := range p.params {
		v, ok := args[name]
		if !ok {
			return nil, &MissingArgumentError{Name: name}
		}
		out[i] = encodeValue(v, enc)
	}
	return out, nil
}

// encodeValue turns a caller-supplied value into something every
// database/sql driver accepts: pointers are dereferenced (nil becomes NULL),
// identifiers and decimals get a portable encoding and named basic types are
// reduced to their underlying kind. driver.Valuer values are left to the
// driver.
func encodeValue(v any, enc UUIDEncoding) any {
	switch x := v.(type) {
	case nil:
		return nil
	case uuid.UUID:
		return encodeUUID(x, enc)
	case *uuid.UUID:
		if x == nil {
			return nil
		}
		return encodeUUID(*x, enc)
	case uuid.NullUUID:
		if !x.Valid {
			return nil
		}
		return encodeUUID(x.UUID, enc)
	case decimal.Decimal:
		return x.String()
	case *decimal.Decimal:
		if x == nil {
			return nil
		}
		return x.String()
	case decimal.NullDecimal:
		if !x.Valid {
			return nil
		}
		return x.Decimal.String()
	case driver.Valuer:
		return x
	case string, []byte, bool, int64, float64:
		return x
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return encodeValue(rv.Elem().Interface(), enc)
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Type().PkgPath() == "" {
			return v
		}
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if rv.Type().PkgPath() == "" {
			return v
		}
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		if rv.Type().PkgPath() == "" {
			return v
		}
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 && rv.Type().PkgPath() != "" {
			return rv.Bytes()
		}
	}
	return v
}

func encodeUUID(u uuid.UUID, enc UUIDEncoding) any {
	if enc == UUIDBytes {
		b := make([]byte, 16)
		copy(b, u[:])
		return b
	}
	return u.String()
}
