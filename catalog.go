package kapper

import (
	"database/sql"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/cases"
)

// Column describes one column of a result set.
type Column struct {
	Ordinal       int // 1-based
	Name          string
	DatabaseType  string
	Nullable      bool
	NullableKnown bool // false when the driver does not report nullability
}

// Catalog is the ordered column list of a result set. It is extracted once
// per execution and shared by every row of that execution.
type Catalog struct {
	cols []Column
	sig  uint64
}

// ColumnTyper is the part of *sql.Rows the extractor needs.
type ColumnTyper interface {
	ColumnTypes() ([]*sql.ColumnType, error)
}

// ExtractCatalog reads the column metadata of src. Errors reported by the
// driver are returned unchanged.
func ExtractCatalog(src ColumnTyper) (*Catalog, error) {
	cts, err := src.ColumnTypes()
	if err != nil {
		return nil, err
	}
	cols := make([]Column, len(cts))
	for i, ct := range cts {
		nullable, ok := ct.Nullable()
		cols[i] = Column{
			Ordinal:       i + 1,
			Name:          ct.Name(),
			DatabaseType:  ct.DatabaseTypeName(),
			Nullable:      nullable,
			NullableKnown: ok,
		}
	}
	return NewCatalog(cols...), nil
}

// NewCatalog builds a catalog from already known columns. Ordinals are
// reassigned from the slice position.
func NewCatalog(cols ...Column) *Catalog {
	c := &Catalog{cols: make([]Column, len(cols))}
	copy(c.cols, cols)
	h := xxhash.New()
	for i := range c.cols {
		c.cols[i].Ordinal = i + 1
		_, _ = h.WriteString(c.cols[i].Name)
		_, _ = h.Write([]byte{0x1f}) // unit separator between names
	}
	c.sig = h.Sum64()
	return c
}

// Len returns the number of columns.
func (c *Catalog) Len() int {
	return len(c.cols)
}

// Column returns the i-th column (0-based).
func (c *Catalog) Column(i int) Column {
	return c.cols[i]
}

// Columns returns a copy of the column list.
func (c *Catalog) Columns() []Column {
	out := make([]Column, len(c.cols))
	copy(out, c.cols)
	return out
}

// Names returns the column labels in order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.cols))
	for i, col := range c.cols {
		out[i] = col.Name
	}
	return out
}

// Index returns the position of the first column whose name matches name
// under Matches, or -1.
func (c *Catalog) Index(name string) int {
	want := Normalize(name)
	for i, col := range c.cols {
		if Normalize(col.Name) == want {
			return i
		}
	}
	return -1
}

// key identifies the catalog for plan caching: same labels in the same order
// produce the same key.
func (c *Catalog) key() catalogKey {
	return catalogKey{sig: c.sig, ncols: len(c.cols)}
}

type catalogKey struct {
	sig   uint64
	ncols int
}

// ----- Name matching -----

// Normalize returns the canonical form of a column or field name: Unicode
// case folded, with every '_' and '-' removed. "first_name", "FirstName" and
// "FIRST-NAME" all normalize to "firstname".
func Normalize(name string) string {
	if isASCII(name) {
		var b strings.Builder
		b.Grow(len(name))
		for i := 0; i < len(name); i++ {
			c := name[i]
			switch {
			case c == '_' || c == '-':
				continue
			case c >= 'A' && c <= 'Z':
				c += 'a' - 'A'
			}
			b.WriteByte(c)
		}
		return b.String()
	}
	// A Caser keeps state and is not safe for concurrent use.
	folded := cases.Fold().String(name)
	return strings.Map(func(r rune) rune {
		if r == '_' || r == '-' {
			return -1
		}
		return r
	}, folded)
}

// Matches reports whether two names denote the same column.
func Matches(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
