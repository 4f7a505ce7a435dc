package kapper

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	ErrMoreThanOneRow = errors.New("kapper: more than one row")
	ErrTooManyParams  = errors.New("kapper: too many parameters")
	ErrNilDB          = errors.New("kapper: nil database handle")
)

// QuerySyntaxError reports a malformed named parameter or an unterminated
// literal/comment in a SQL template. Offset is the byte offset in the template.
type QuerySyntaxError struct {
	Offset int
	Reason string
}

func (e *QuerySyntaxError) Error() string {
	return fmt.Sprintf("kapper: query syntax error at offset %d: %s", e.Offset, e.Reason)
}

// MissingArgumentError reports a parameter referenced by the template that
// has no entry in the argument map.
type MissingArgumentError struct {
	Name string
}

func (e *MissingArgumentError) Error() string {
	return fmt.Sprintf("kapper: missing argument for parameter :%s", e.Name)
}

// MappingError reports that a target shape cannot be built from a result:
// the shape itself is unmappable, required fields have no column, or a
// required field received NULL.
type MappingError struct {
	Shape string
	// Fields names the offending fields by their db tag, or by the Go field
	// name when the field has no tag.
	Fields []string
	Reason string
}

func (e *MappingError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("kapper: %s %s", e.Shape, e.Reason)
	}
	return fmt.Sprintf("kapper: cannot map %s: fields [%s] %s", e.Shape, strings.Join(e.Fields, ", "), e.Reason)
}

// TypeConversionError reports a raw column value that cannot be converted
// to the declared type of its field.
type TypeConversionError struct {
	Field  string // empty when converting outside of a mapping plan
	Value  any
	Target reflect.Type
	Cause  error
}

func (e *TypeConversionError) Error() string {
	var b strings.Builder
	b.WriteString("kapper: cannot convert ")
	fmt.Fprintf(&b, "%v (%T) to %s", e.Value, e.Value, e.Target)
	if e.Field != "" {
		fmt.Fprintf(&b, " for field %s", e.Field)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *TypeConversionError) Unwrap() error {
	return e.Cause
}

// QueryError wraps a driver error together with the statement that failed.
type QueryError struct {
	SQL   string
	Cause error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("kapper: query error: %v", e.Cause)
}

func (e *QueryError) Unwrap() error {
	return e.Cause
}
