package kapper

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --------------------------------
// Fixtures
// --------------------------------

type SuperHero struct {
	ID    uuid.UUID
	Name  string
	Email *string
	Age   *int
}

// Veteran declares age as required, so it must be selected and non-null.
type Veteran struct {
	Name string `db:"name"`
	Age  int    `db:"age"`
}

type Audit struct {
	CreatedAt time.Time `db:"created_at"`
	UpdatedBy *string   `db:"updated_by"`
}

type hidden struct {
	Note string
}

type TaggedHero struct {
	Audit
	hidden
	HeroID  int64  `db:"hero_id"`
	Alias   string `db:"alias,omitempty"`
	Ignored string `db:"-"`
	secret  string
}

type Upper string

func (u *Upper) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		*u = Upper(strings.ToUpper(string(v)))
	case string:
		*u = Upper(strings.ToUpper(v))
	default:
		return errors.New("unsupported")
	}
	return nil
}

type WithScanner struct {
	Name  Upper
	Title sql.NullString
}

func catalogOf(names ...string) *Catalog {
	cols := make([]Column, len(names))
	for i, n := range names {
		cols[i] = Column{Name: n}
	}
	return NewCatalog(cols...)
}

func mustShape(t testing.TB, v any) *shape {
	t.Helper()
	sh, err := describeShape(reflect.TypeOf(v))
	assertNoError(t, err)
	return sh
}

// --------------------------------
// Shape descriptor
// --------------------------------

func TestDescribeShape_Slots(t *testing.T) {
	sh := mustShape(t, TaggedHero{})
	var names []string
	for _, s := range sh.slots {
		names = append(names, s.name)
	}
	want := []string{"created_at", "updated_by", "Note", "hero_id", "alias"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("slots = %v, want %v", names, want)
	}
	var required []string
	for _, s := range sh.slots {
		if !s.nullable {
			required = append(required, s.name)
		}
	}
	if !reflect.DeepEqual(required, []string{"created_at", "Note", "hero_id", "alias"}) {
		t.Fatalf("required = %v", required)
	}
	if !reflect.DeepEqual(sh.slots[0].index, []int{0, 0}) || !reflect.DeepEqual(sh.slots[2].index, []int{1, 0}) {
		t.Fatalf("embedded index paths: %v %v", sh.slots[0].index, sh.slots[2].index)
	}
}

func TestDescribeShape_Nullability(t *testing.T) {
	type N struct {
		P  *int
		I  any
		S  []string
		M  map[string]int
		NS sql.NullString
		U  Upper
		V  int
		T  time.Time
		B  []byte
	}
	sh := mustShape(t, N{})
	want := map[string]bool{"P": true, "I": true, "S": true, "M": true, "NS": true, "U": true, "V": false, "T": false, "B": true}
	for _, s := range sh.slots {
		if s.nullable != want[s.name] {
			t.Fatalf("slot %s nullable = %v, want %v", s.name, s.nullable, want[s.name])
		}
	}
}

func TestDescribeShape_Unmappable(t *testing.T) {
	type onlyPrivate struct {
		a int
		b string
	}
	type empty struct{}
	for _, typ := range []reflect.Type{
		reflect.TypeOf(onlyPrivate{}),
		reflect.TypeOf(empty{}),
		reflect.TypeOf(map[string]any{}),
		reflect.TypeOf([]int{}),
		reflect.TypeOf((*error)(nil)).Elem(),
		reflect.TypeOf(&onlyPrivate{}),
		reflect.TypeOf((**SuperHero)(nil)),
	} {
		_, err := describeShape(typ)
		var me *MappingError
		if !errors.As(err, &me) || me.Reason != "cannot be mapped" {
			t.Fatalf("%s: want MappingError cannot be mapped, got %v", typ, err)
		}
	}
}

func TestDescribeShape_Scalars(t *testing.T) {
	for _, v := range []any{0, int64(0), "", 1.5, true, time.Time{}, uuid.UUID{}, decimal.Decimal{}, []byte(nil), sql.NullInt64{}, Upper(""), new(string)} {
		sh := mustShape(t, v)
		if !sh.scalar {
			t.Fatalf("%T must be a scalar shape", v)
		}
	}
}

// --------------------------------
// Plan compilation
// --------------------------------

func TestCompilePlan_MatchesNormalizedNames(t *testing.T) {
	sh := mustShape(t, SuperHero{})
	p, err := compilePlan(sh, catalogOf("ID", "NAME", "e_mail", "extra"))
	assertNoError(t, err)
	cols := []int{0, 1, 2, -1}
	for i, st := range p.steps {
		if st.col != cols[i] {
			t.Fatalf("step %s col = %d, want %d", st.slot.name, st.col, cols[i])
		}
	}
}

func TestCompilePlan_MissingRequired_ListsAll(t *testing.T) {
	sh := mustShape(t, SuperHero{})
	_, err := compilePlan(sh, catalogOf("email"))
	var me *MappingError
	if !errors.As(err, &me) {
		t.Fatalf("want MappingError, got %v", err)
	}
	if me.Reason != "missing" || !reflect.DeepEqual(me.Fields, []string{"ID", "Name"}) {
		t.Fatalf("unexpected error: %+v", me)
	}
	if !strings.Contains(me.Error(), "ID, Name") {
		t.Fatalf("message should list fields: %s", me.Error())
	}
}

func TestCompilePlan_FirstColumnWins(t *testing.T) {
	type R struct{ FirstName string }
	p, err := compilePlan(mustShape(t, R{}), catalogOf("first_name", "FirstName"))
	assertNoError(t, err)
	if p.steps[0].col != 0 {
		t.Fatalf("col = %d, want 0", p.steps[0].col)
	}
	v, err := p.apply([]any{"a", "b"})
	assertNoError(t, err)
	if v.Interface().(R).FirstName != "a" {
		t.Fatalf("first column must win: %+v", v.Interface())
	}
}

func TestCompilePlan_ScalarColumnCount(t *testing.T) {
	_, err := compilePlan(mustShape(t, 0), catalogOf("a", "b"))
	var me *MappingError
	if !errors.As(err, &me) || !strings.Contains(me.Reason, "exactly 1 column") {
		t.Fatalf("want column count MappingError, got %v", err)
	}
}

// --------------------------------
// Apply
// --------------------------------

func TestApply_NullsAndConversions(t *testing.T) {
	sh := mustShape(t, SuperHero{})
	p, err := compilePlan(sh, catalogOf("id", "name", "email", "age"))
	assertNoError(t, err)

	id := uuid.New()
	v, err := p.apply([]any{[]byte(id.String()), "Batman", nil, int64(85)})
	assertNoError(t, err)
	h := v.Interface().(SuperHero)
	if h.ID != id || h.Name != "Batman" || h.Email != nil || h.Age == nil || *h.Age != 85 {
		t.Fatalf("unexpected hero: %+v", h)
	}

	_, err = p.apply([]any{id.String(), nil, nil, nil})
	var me *MappingError
	if !errors.As(err, &me) || me.Reason != "null value for non-nullable field" || me.Fields[0] != "Name" {
		t.Fatalf("want null MappingError for Name, got %v", err)
	}

	_, err = p.apply([]any{id.String(), "x", nil, "eighty"})
	var tce *TypeConversionError
	if !errors.As(err, &tce) || tce.Field != "Age" || tce.Target != reflect.TypeOf((*int)(nil)) {
		t.Fatalf("want TypeConversionError for Age, got %v", err)
	}
}

func TestApply_EmbeddedTagsAndScanners(t *testing.T) {
	p, err := compilePlan(mustShape(t, TaggedHero{}), catalogOf("hero_id", "alias", "note", "created_at", "Ignored", "secret"))
	assertNoError(t, err)
	ts := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	v, err := p.apply([]any{int64(7), "Bats", "n", ts, "x", "y"})
	assertNoError(t, err)
	h := v.Interface().(TaggedHero)
	if h.HeroID != 7 || h.Alias != "Bats" || h.Note != "n" || !h.CreatedAt.Equal(ts) || h.UpdatedBy != nil {
		t.Fatalf("unexpected: %+v", h)
	}
	if h.Ignored != "" || h.secret != "" {
		t.Fatalf("skipped fields must stay zero: %+v", h)
	}

	p, err = compilePlan(mustShape(t, WithScanner{}), catalogOf("name", "title"))
	assertNoError(t, err)
	v, err = p.apply([]any{[]byte("bruce"), nil})
	assertNoError(t, err)
	ws := v.Interface().(WithScanner)
	if ws.Name != "BRUCE" || ws.Title.Valid {
		t.Fatalf("unexpected: %+v", ws)
	}
}

func TestApply_ScalarNull(t *testing.T) {
	p, err := compilePlan(mustShape(t, int64(0)), catalogOf("n"))
	assertNoError(t, err)
	_, err = p.apply([]any{nil})
	var me *MappingError
	if !errors.As(err, &me) {
		t.Fatalf("want MappingError, got %v", err)
	}

	p, err = compilePlan(mustShape(t, new(int64)), catalogOf("n"))
	assertNoError(t, err)
	v, err := p.apply([]any{nil})
	assertNoError(t, err)
	if !v.IsNil() {
		t.Fatal("nullable scalar must map NULL to nil")
	}
}

// --------------------------------
// Query with sqlmock
// --------------------------------

func TestQuery_Automap_Example(t *testing.T) {
	db, mock := newMockDB(t)
	k := New(SQLite)
	id1, id2 := uuid.New(), uuid.New()

	mock.ExpectQuery("SELECT * FROM super_heroes WHERE age > ?").
		WithArgs(80).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "age"}).
			AddRow(id1.String(), "Superman", "superman@dc.com", 86).
			AddRow(id2.String(), "Batman", nil, 85))

	heroes, err := Query[SuperHero](context.Background(), k, db,
		"SELECT * FROM super_heroes WHERE age > :age", Args{"age": 80})
	assertNoError(t, err)
	expectationsMet(t, mock)

	if len(heroes) != 2 {
		t.Fatalf("len = %d, want 2", len(heroes))
	}
	if heroes[0].ID != id1 || heroes[0].Name != "Superman" || *heroes[0].Email != "superman@dc.com" || *heroes[0].Age != 86 {
		t.Fatalf("unexpected first hero: %+v", heroes[0])
	}
	if heroes[1].ID != id2 || heroes[1].Email != nil {
		t.Fatalf("unexpected second hero: %+v", heroes[1])
	}
}

func TestQuery_EmptyResult(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT id, name FROM super_heroes").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

	heroes, err := Query[SuperHero](context.Background(), New(SQLite), db, "SELECT id, name FROM super_heroes", nil)
	assertNoError(t, err)
	if heroes == nil || len(heroes) != 0 {
		t.Fatalf("want empty non-nil slice, got %#v", heroes)
	}
}

func TestQuery_MissingFields(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT email FROM super_heroes").
		WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("x"))

	_, err := Query[SuperHero](context.Background(), New(SQLite), db, "SELECT email FROM super_heroes", nil)
	var me *MappingError
	if !errors.As(err, &me) || !reflect.DeepEqual(me.Fields, []string{"ID", "Name"}) {
		t.Fatalf("want MappingError listing ID and Name, got %v", err)
	}
}

func TestQuery_RequiredAge(t *testing.T) {
	db, mock := newMockDB(t)
	k := New(SQLite)
	ctx := context.Background()

	mock.ExpectQuery("SELECT name FROM super_heroes").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Batman"))
	_, err := Query[Veteran](ctx, k, db, "SELECT name FROM super_heroes", nil)
	var me *MappingError
	if !errors.As(err, &me) || me.Reason != "missing" || !reflect.DeepEqual(me.Fields, []string{"age"}) {
		t.Fatalf("want missing age, got %v", err)
	}
	if !strings.Contains(err.Error(), "age") {
		t.Fatalf("message should name the column: %s", err)
	}

	mock.ExpectQuery("SELECT name, age FROM super_heroes").
		WillReturnRows(sqlmock.NewRows([]string{"name", "age"}).AddRow("Batman", 85).AddRow("Deadpool", nil))
	_, err = Query[Veteran](ctx, k, db, "SELECT name, age FROM super_heroes", nil)
	if !errors.As(err, &me) || me.Reason != "null value for non-nullable field" || !reflect.DeepEqual(me.Fields, []string{"age"}) {
		t.Fatalf("want null age error, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestQuery_PointerTargets(t *testing.T) {
	db, mock := newMockDB(t)
	k := New(SQLite)
	ctx := context.Background()
	id := uuid.New()
	rows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "name"}).AddRow(id.String(), "Batman").AddRow(uuid.NewString(), "Robin")
	}

	mock.ExpectQuery("SELECT id, name FROM super_heroes").WillReturnRows(rows())
	heroes, err := Query[*SuperHero](ctx, k, db, "SELECT id, name FROM super_heroes", nil)
	assertNoError(t, err)
	if len(heroes) != 2 || heroes[0] == nil || heroes[0].ID != id || heroes[1].Name != "Robin" {
		t.Fatalf("unexpected heroes: %+v", heroes)
	}
	if heroes[0] == heroes[1] {
		t.Fatal("every row must get its own instance")
	}

	mock.ExpectQuery("SELECT id, name FROM super_heroes WHERE id = ?").
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(id.String(), "Batman"))
	one, err := QuerySingle[*SuperHero](ctx, k, db, "SELECT id, name FROM super_heroes WHERE id = :id", Args{"id": id})
	assertNoError(t, err)
	if one == nil || *one == nil || (*one).Name != "Batman" {
		t.Fatalf("single = %v", one)
	}

	mock.ExpectQuery("SELECT id, name FROM super_heroes").WillReturnRows(rows())
	n := 0
	for h, err := range Stream[*SuperHero](ctx, k, db, "SELECT id, name FROM super_heroes", nil) {
		assertNoError(t, err)
		if h == nil {
			t.Fatal("nil hero")
		}
		n++
	}
	if n != 2 {
		t.Fatalf("streamed %d heroes", n)
	}
	expectationsMet(t, mock)

	sh := mustShape(t, &SuperHero{})
	if !sh.ptr || sh.scalar || len(sh.slots) != 4 {
		t.Fatalf("pointer shape = %+v", sh)
	}
}

func TestQuery_Scalars(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT name FROM super_heroes").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("a").AddRow([]byte("b")))
	mock.ExpectQuery("SELECT count(*) FROM super_heroes").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow("42"))

	k := New(SQLite)
	names, err := Query[string](context.Background(), k, db, "SELECT name FROM super_heroes", nil)
	assertNoError(t, err)
	if !reflect.DeepEqual(names, []string{"a", "b"}) {
		t.Fatalf("names = %v", names)
	}
	n, err := QuerySingle[int](context.Background(), k, db, "SELECT count(*) FROM super_heroes", nil)
	assertNoError(t, err)
	if n == nil || *n != 42 {
		t.Fatalf("count = %v", n)
	}
	expectationsMet(t, mock)
}

func TestQuery_TypedMetadata(t *testing.T) {
	db, mock := newMockDB(t)
	type Price struct {
		SKU    string
		Amount decimal.Decimal
		Active bool
	}
	rows := sqlmock.NewRowsWithColumnDefinition(
		sqlmock.NewColumn("sku").OfType("TEXT", "").Nullable(false),
		sqlmock.NewColumn("amount").OfType("NUMERIC", "").Nullable(false),
		sqlmock.NewColumn("active").OfType("INTEGER", int64(0)).Nullable(false),
	).AddRow("A-1", "19.99", int64(1))
	mock.ExpectQuery("SELECT sku, amount, active FROM prices").WillReturnRows(rows)

	got, err := Query[Price](context.Background(), New(SQLite), db, "SELECT sku, amount, active FROM prices", nil)
	assertNoError(t, err)
	if len(got) != 1 || got[0].SKU != "A-1" || !got[0].Amount.Equal(decimal.RequireFromString("19.99")) || !got[0].Active {
		t.Fatalf("unexpected: %+v", got)
	}
}

// --------------------------------
// Benchmarks
// --------------------------------

func BenchmarkApply_Struct(b *testing.B) {
	sh, err := describeShape(reflect.TypeOf(SuperHero{}))
	if err != nil {
		b.Fatal(err)
	}
	p, err := compilePlan(sh, catalogOf("id", "name", "email", "age"))
	if err != nil {
		b.Fatal(err)
	}
	raw := []any{uuid.NewString(), "Batman", "batman@dc.com", int64(85)}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := p.apply(raw); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkQuery_SQLMock(b *testing.B) {
	db, mock := newMockDB(b)
	k := New(Postgres)
	for i := 0; i < b.N; i++ {
		mock.ExpectQuery("SELECT id, name, email, age FROM super_heroes WHERE age > $1").
			WithArgs(10).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "age"}).
				AddRow(uuid.NewString(), "a", nil, 20).
				AddRow(uuid.NewString(), "b", "b@x", 30))
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Query[SuperHero](context.Background(), k, db,
			"SELECT id, name, email, age FROM super_heroes WHERE age > :age", Args{"age": 10}); err != nil {
			b.Fatal(err)
		}
	}
}
