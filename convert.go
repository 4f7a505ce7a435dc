package kapper

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	errOverflow    = errors.New("value out of range")
	errFraction    = errors.New("value has a fractional part")
	errUnsupported = errors.New("unsupported conversion")
)

// timeLayouts are tried in order when a temporal value arrives as text.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
	"15:04:05.999999999",
}

// Convert turns a raw column value into a value of type target. When the raw
// value already has the target type it is returned unchanged; NULL (nil)
// yields the zero value of target. Anything that cannot be represented
// yields a *TypeConversionError.
func Convert(raw any, target reflect.Type) (any, error) {
	v, err := convertValue(raw, target)
	if err != nil {
		return nil, &TypeConversionError{Value: raw, Target: target, Cause: err}
	}
	return v.Interface(), nil
}

// convertValue is Convert on reflect values; the result is always of type
// target.
func convertValue(raw any, target reflect.Type) (reflect.Value, error) {
	if raw == nil {
		return reflect.Zero(target), nil
	}
	rt := reflect.TypeOf(raw)
	if rt == target {
		return reflect.ValueOf(raw), nil
	}

	if target.Kind() == reflect.Interface {
		if !rt.Implements(target) {
			return reflect.Value{}, errUnsupported
		}
		return reflect.ValueOf(raw).Convert(target), nil
	}

	if target.Kind() == reflect.Pointer {
		elem, err := convertValue(raw, target.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(target.Elem())
		p.Elem().Set(elem)
		return p, nil
	}

	switch target {
	case timeType:
		t, err := toTime(raw)
		return reflect.ValueOf(t), err
	case durationType:
		d, err := toDuration(raw)
		return reflect.ValueOf(d), err
	case uuidType:
		u, err := toUUID(raw)
		return reflect.ValueOf(u), err
	case decimalType:
		d, err := toDecimal(raw)
		return reflect.ValueOf(d), err
	}

	if reflect.PointerTo(target).Implements(scannerIface) {
		p := reflect.New(target)
		if err := p.Interface().(sql.Scanner).Scan(raw); err != nil {
			return reflect.Value{}, err
		}
		return p.Elem(), nil
	}

	out := reflect.New(target).Elem()
	switch target.Kind() {
	case reflect.Bool:
		b, err := toBool(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetBool(b)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt64(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		if out.OverflowInt(n) {
			return reflect.Value{}, errOverflow
		}
		out.SetInt(n)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, err := toUint64(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		if out.OverflowUint(n) {
			return reflect.Value{}, errOverflow
		}
		out.SetUint(n)

	case reflect.Float32, reflect.Float64:
		f, err := toFloat64(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		if out.OverflowFloat(f) {
			return reflect.Value{}, errOverflow
		}
		out.SetFloat(f)

	case reflect.String:
		s, err := toString(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetString(s)

	case reflect.Slice:
		if target.Elem().Kind() != reflect.Uint8 {
			return reflect.Value{}, errUnsupported
		}
		b, err := toBytes(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetBytes(b)

	default:
		if rt.ConvertibleTo(target) && rt.Kind() == target.Kind() {
			return reflect.ValueOf(raw).Convert(target), nil
		}
		return reflect.Value{}, errUnsupported
	}
	return out, nil
}

// ----- Numbers -----

func toInt64(raw any) (int64, error) {
	if d, ok := raw.(decimal.Decimal); ok {
		if !d.IsInteger() {
			return 0, errFraction
		}
		if d.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || d.LessThan(decimal.NewFromInt(math.MinInt64)) {
			return 0, errOverflow
		}
		return d.IntPart(), nil
	}
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, errOverflow
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		return floatToInt64(rv.Float())
	case reflect.Bool:
		if rv.Bool() {
			return 1, nil
		}
		return 0, nil
	}
	s, ok := asText(raw)
	if !ok {
		return 0, errUnsupported
	}
	s = strings.TrimSpace(s)
	n, err := strconv.ParseInt(s, 10, 64)
	if err == nil {
		return n, nil
	}
	if errors.Is(err, strconv.ErrRange) {
		return 0, errOverflow
	}
	f, ferr := strconv.ParseFloat(s, 64)
	if ferr != nil {
		return 0, err
	}
	return floatToInt64(f)
}

func floatToInt64(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, errOverflow
	}
	if f != math.Trunc(f) {
		return 0, errFraction
	}
	return int64(f), nil
}

func toUint64(raw any) (uint64, error) {
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint(), nil
	case reflect.String, reflect.Slice:
		if s, ok := asText(raw); ok {
			u, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
			if err == nil {
				return u, nil
			}
			if errors.Is(err, strconv.ErrRange) {
				return 0, errOverflow
			}
		}
	}
	n, err := toInt64(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errOverflow
	}
	return uint64(n), nil
}

func toFloat64(raw any) (float64, error) {
	if d, ok := raw.(decimal.Decimal); ok {
		f, _ := d.Float64()
		return f, nil
	}
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	s, ok := asText(raw)
	if !ok {
		return 0, errUnsupported
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if errors.Is(err, strconv.ErrRange) {
		return 0, errOverflow
	}
	return f, err
}

// ----- Text, bytes, booleans -----

func toString(raw any) (string, error) {
	switch x := raw.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case time.Time:
		return x.Format(time.RFC3339Nano), nil
	case uuid.UUID:
		return x.String(), nil
	case decimal.Decimal:
		return x.String(), nil
	case fmt.Stringer:
		return x.String(), nil
	}
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 32), nil
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64), nil
	}
	return "", errUnsupported
}

func toBytes(raw any) ([]byte, error) {
	switch x := raw.(type) {
	case []byte:
		out := make([]byte, len(x))
		copy(out, x)
		return out, nil
	case string:
		return []byte(x), nil
	}
	return nil, errUnsupported
}

func toBool(raw any) (bool, error) {
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0, nil
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0, nil
	}
	s, ok := asText(raw)
	if !ok {
		return false, errUnsupported
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "1", "yes", "y", "on":
		return true, nil
	case "false", "f", "0", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

// ----- Temporal -----

func toTime(raw any) (time.Time, error) {
	switch x := raw.(type) {
	case time.Time:
		return x, nil
	case *time.Time:
		if x != nil {
			return *x, nil
		}
		return time.Time{}, nil
	}
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return time.Unix(rv.Int(), 0).UTC(), nil
	}
	s, ok := asText(raw)
	if !ok {
		return time.Time{}, errUnsupported
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format %q", s)
}

func toDuration(raw any) (time.Duration, error) {
	if t, ok := raw.(time.Time); ok {
		// TIME columns are reported by some drivers as a time on year zero.
		h, m, s := t.Clock()
		return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
			time.Duration(s)*time.Second + time.Duration(t.Nanosecond()), nil
	}
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return time.Duration(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, errOverflow
		}
		return time.Duration(u), nil
	}
	s, ok := asText(raw)
	if !ok {
		return 0, errUnsupported
	}
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	t, err := time.Parse("15:04:05.999999999", s)
	if err != nil {
		return 0, fmt.Errorf("unrecognized duration %q", s)
	}
	return toDuration(t)
}

// ----- Identifiers and decimals -----

func toUUID(raw any) (uuid.UUID, error) {
	switch x := raw.(type) {
	case []byte:
		if len(x) == 16 {
			return uuid.FromBytes(x)
		}
		return uuid.ParseBytes(x)
	case string:
		if len(x) != 36 {
			return uuid.Nil, fmt.Errorf("invalid UUID length %d", len(x))
		}
		return uuid.Parse(x)
	}
	rv := reflect.ValueOf(raw)
	if rv.Kind() == reflect.Array && rv.Len() == 16 && rv.Type().Elem().Kind() == reflect.Uint8 {
		var u uuid.UUID
		reflect.Copy(reflect.ValueOf(u[:]), rv)
		return u, nil
	}
	if rv.Kind() == reflect.String {
		return toUUID(rv.String())
	}
	return uuid.Nil, errUnsupported
}

func toDecimal(raw any) (decimal.Decimal, error) {
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return decimal.NewFromInt(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return decimal.NewFromUint64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Zero, errOverflow
		}
		return decimal.NewFromFloat(f), nil
	}
	s, ok := asText(raw)
	if !ok {
		if st, isStringer := raw.(fmt.Stringer); isStringer {
			s = st.String()
		} else {
			return decimal.Zero, errUnsupported
		}
	}
	return decimal.NewFromString(strings.TrimSpace(s))
}

// asText returns the textual form of string-like raw values.
func asText(raw any) (string, bool) {
	switch x := raw.(type) {
	case string:
		return x, true
	case []byte:
		return string(x), true
	}
	rv := reflect.ValueOf(raw)
	if rv.Kind() == reflect.String {
		return rv.String(), true
	}
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		return string(rv.Bytes()), true
	}
	return "", false
}
