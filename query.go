package kapper

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"reflect"
)

// Query runs template with args on db and maps every returned row to T.
// T is either a struct, whose exported fields are matched to columns by
// normalized name, or a scalar type read from a single column. A custom
// RowMapper registered for T takes precedence over automapping.
//
//	heroes, err := kapper.Query[Hero](ctx, k, db,
//		"SELECT * FROM super_heroes WHERE age > :age", kapper.Args{"age": 80})
func Query[T any](ctx context.Context, k *Kapper, db Queryer, template string, args Args) ([]T, error) {
	return QueryWith[T](ctx, k, db, template, nil, args)
}

// QueryWith is like Query but maps rows with mapper for this call only. A nil
// mapper falls back to the registry.
func QueryWith[T any](ctx context.Context, k *Kapper, db Queryer, template string, mapper RowMapper[T], args Args) ([]T, error) {
	out := make([]T, 0)
	err := run(ctx, k, db, template, args, mapper, func(v T) bool {
		out = append(out, v)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// QuerySingle runs template and returns its only row. It returns nil when
// the query yields no rows and ErrMoreThanOneRow when it yields several.
func QuerySingle[T any](ctx context.Context, k *Kapper, db Queryer, template string, args Args) (*T, error) {
	return QuerySingleWith[T](ctx, k, db, template, nil, args)
}

// QuerySingleWith is like QuerySingle but maps the row with mapper. A nil
// mapper falls back to the registry.
func QuerySingleWith[T any](ctx context.Context, k *Kapper, db Queryer, template string, mapper RowMapper[T], args Args) (*T, error) {
	var out *T
	n := 0
	err := run(ctx, k, db, template, args, mapper, func(v T) bool {
		n++
		if n > 1 {
			return false
		}
		out = &v
		return true
	})
	if err != nil {
		return nil, err
	}
	if n > 1 {
		return nil, ErrMoreThanOneRow
	}
	return out, nil
}

// Stream runs template and yields rows one at a time as they are read. The
// statement runs when iteration starts; breaking out of the loop closes the
// result set. An error ends the sequence and is yielded with the zero T.
//
//	for hero, err := range kapper.Stream[Hero](ctx, k, db, "SELECT * FROM super_heroes", nil) {
//		if err != nil {
//			return err
//		}
//		fmt.Println(hero.Name)
//	}
func Stream[T any](ctx context.Context, k *Kapper, db Queryer, template string, args Args) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		err := run(ctx, k, db, template, args, nil, func(v T) bool {
			return yield(v, nil)
		})
		if err != nil {
			var zero T
			yield(zero, err)
		}
	}
}

// Execute runs a statement that returns no rows and reports the number of
// affected rows.
func (k *Kapper) Execute(ctx context.Context, db Execer, template string, args Args) (int64, error) {
	if db == nil {
		return 0, ErrNilDB
	}
	pq, bound, err := k.prepare(template, args)
	if err != nil {
		return 0, err
	}
	k.logStatement("executing statement", pq)
	res, err := db.ExecContext(ctx, pq.sql, bound...)
	if err != nil {
		k.logFailure("statement failed", pq, err)
		return 0, &QueryError{SQL: pq.sql, Cause: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &QueryError{SQL: pq.sql, Cause: err}
	}
	return n, nil
}

// ArgMappers extract named arguments from a value, one function per
// parameter name.
//
//	kapper.ArgMappers[Hero]{
//		"id":   func(h Hero) any { return h.ID },
//		"name": func(h Hero) any { return h.Name },
//	}
type ArgMappers[T any] map[string]func(T) any

func (m ArgMappers[T]) args(obj T) Args {
	out := make(Args, len(m))
	for name, fn := range m {
		if fn != nil {
			out[name] = fn(obj)
		}
	}
	return out
}

// ExecuteWith runs a statement whose arguments are read from obj through
// mappers and reports the number of affected rows.
func ExecuteWith[T any](ctx context.Context, k *Kapper, db Execer, template string, obj T, mappers ArgMappers[T]) (int64, error) {
	return k.Execute(ctx, db, template, mappers.args(obj))
}

// ExecuteAll runs template once per object on a single prepared statement
// and reports the affected rows of each execution, in order. Arguments of
// every object are bound before anything is sent, so a missing argument
// fails the batch up front. When an execution fails, the counts of the
// executions that succeeded are returned along with the error; run the
// batch inside a transaction to make it all-or-nothing.
func ExecuteAll[T any](ctx context.Context, k *Kapper, db Preparer, template string, objects []T, mappers ArgMappers[T]) ([]int64, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	pq, err := k.Translate(template)
	if err != nil {
		return nil, err
	}
	bound := make([][]any, len(objects))
	for i, obj := range objects {
		if bound[i], err = k.Bind(pq, mappers.args(obj)); err != nil {
			return nil, err
		}
	}
	out := make([]int64, 0, len(objects))
	if len(objects) == 0 {
		return out, nil
	}

	k.logBatch(pq, len(objects))
	stmt, err := db.PrepareContext(ctx, pq.sql)
	if err != nil {
		k.logFailure("prepare failed", pq, err)
		return nil, &QueryError{SQL: pq.sql, Cause: err}
	}
	defer stmt.Close()

	for _, args := range bound {
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			k.logFailure("statement failed", pq, err)
			return out, &QueryError{SQL: pq.sql, Cause: err}
		}
		n, err := res.RowsAffected()
		if err != nil {
			return out, &QueryError{SQL: pq.sql, Cause: err}
		}
		out = append(out, n)
	}
	return out, nil
}

// WithConn runs fn on a connection reserved from db and returns the
// connection to the pool afterwards, whatever fn returns. Statements issued
// through the connection share its session state (temporary tables, SET
// variables, transactions).
func WithConn[T any](ctx context.Context, db *sql.DB, fn func(conn *sql.Conn) (T, error)) (T, error) {
	var zero T
	if db == nil {
		return zero, ErrNilDB
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return zero, err
	}
	defer conn.Close()
	return fn(conn)
}

// run executes the query and hands each mapped row to yield until yield
// returns false or the rows are exhausted.
func run[T any](ctx context.Context, k *Kapper, db Queryer, template string, args Args, mapper RowMapper[T], yield func(T) bool) error {
	if db == nil {
		return ErrNilDB
	}
	pq, bound, err := k.prepare(template, args)
	if err != nil {
		return err
	}

	k.logStatement("executing query", pq)
	rows, err := db.QueryContext(ctx, pq.sql, bound...)
	if err != nil {
		k.logFailure("query failed", pq, err)
		return &QueryError{SQL: pq.sql, Cause: err}
	}
	defer rows.Close()

	cat, err := ExtractCatalog(rows)
	if err != nil {
		return &QueryError{SQL: pq.sql, Cause: err}
	}
	build, err := rowMapperFor(k, cat, mapper)
	if err != nil {
		return err
	}

	// Scanning into *any hands back the driver's native values; []byte is
	// copied by database/sql.
	raw := make([]any, cat.Len())
	dest := make([]any, cat.Len())
	for i := range raw {
		dest[i] = &raw[i]
	}
	row := &Row{catalog: cat, values: raw}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return &QueryError{SQL: pq.sql, Cause: err}
		}
		v, err := build(row)
		if err != nil {
			return err
		}
		if !yield(v) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		k.logFailure("query failed", pq, err)
		return &QueryError{SQL: pq.sql, Cause: err}
	}
	return nil
}

// rowMapperFor picks how rows become T: the per-call mapper, the registered
// custom mapper, or the automapper plan for cat.
func rowMapperFor[T any](k *Kapper, cat *Catalog, mapper RowMapper[T]) (RowMapper[T], error) {
	if mapper != nil {
		return mapper, nil
	}
	t := reflect.TypeFor[T]()
	s, err := k.registry.resolve(t)
	if err != nil {
		return nil, err
	}
	if s.custom != nil {
		m, ok := s.custom.(RowMapper[T])
		if !ok {
			return nil, fmt.Errorf("kapper: registered mapper for %s has type %T", t, s.custom)
		}
		return m, nil
	}

	p, compiled, err := k.registry.plan(s.auto, cat)
	if err != nil {
		return nil, err
	}
	if compiled {
		k.logPlan(t, cat)
	}
	return func(row *Row) (T, error) {
		v, err := p.apply(row.values)
		if err != nil {
			var zero T
			return zero, err
		}
		return v.Interface().(T), nil
	}, nil
}
