package kapper

import (
	"context"
	"database/sql"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Dialect identifies the SQL dialect for placeholder rendering and a few
// dialect-specific parsing behaviors.
type Dialect int

// UUIDEncoding selects how uuid.UUID arguments are handed to the driver.
type UUIDEncoding int

// Kapper is the main entry point. It holds the selected dialect, the
// configuration, a cache of translated templates and the mapping registry.
// A single Kapper is safe for concurrent use.
type Kapper struct {
	dialect  Dialect
	config   Config
	registry *Registry
	queries  *lru.Cache[string, *ParsedQuery]
	log      *zap.Logger
}

// Config defines limits and behavior tweaks for the translator, binder and
// mapper.
type Config struct {
	// MaxParams limits the total number of placeholders a template may emit.
	// If = 0 (or omitted), it uses a sensible per-dialect default.
	// If < 0, it's treated as "unlimited".
	MaxParams int
	// MaxNameLen limits the maximum allowed length of a placeholder name,
	// e.g. ":this_is_a_name".
	MaxNameLen int
	// QueryCacheSize bounds the number of translated templates kept.
	// If = 0 it defaults to 512; if < 0 templates are translated on every call.
	QueryCacheSize int
	// UUIDEncoding controls how uuid.UUID arguments are bound.
	// UUIDDefault picks bytes for MySQL and text for every other dialect.
	UUIDEncoding UUIDEncoding
	// Registry shares mapping strategies between Kapper instances.
	// If nil, the instance gets its own registry.
	Registry *Registry
	// Logger receives statement and plan compilation events.
	// If nil, logging is disabled.
	Logger *zap.Logger
}

// Args maps parameter names (without the leading colon) to values.
type Args = map[string]any

// Execer abstracts *sql.DB / *sql.Tx / *sql.Conn ExecContext for easy testing.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Queryer abstracts *sql.DB / *sql.Tx / *sql.Conn QueryContext for easy testing.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Preparer abstracts *sql.DB / *sql.Tx / *sql.Conn PrepareContext for batches.
type Preparer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

const (
	Postgres Dialect = iota
	MySQL
	SQLite
	SQLServer
	Oracle
	DuckDB
)

const (
	UUIDDefault UUIDEncoding = iota
	UUIDText
	UUIDBytes
)

const defaultQueryCacheSize = 512

// String returns the string representation of the dialect.
func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case MySQL:
		return "mysql"
	case SQLite:
		return "sqlite"
	case SQLServer:
		return "sqlserver"
	case Oracle:
		return "oracle"
	case DuckDB:
		return "duckdb"
	default:
		return "unknown"
	}
}

// DialectFor picks a Dialect based on a database/sql driver name.
//
//	kapper.DialectFor("pgx")       // => Postgres
//	kapper.DialectFor("sqlite3")   // => SQLite
//	kapper.DialectFor("sqlserver") // => SQLServer
func DialectFor(driverName string) Dialect {
	switch strings.ToLower(driverName) {
	case "pgx", "postgres", "postgresql", "pq", "lib/pq", "pg":
		return Postgres
	case "mysql", "mariadb":
		return MySQL
	case "sqlite", "sqlite3":
		return SQLite
	case "sqlserver", "mssql":
		return SQLServer
	case "godror", "oracle", "goracle", "ora":
		return Oracle
	case "duckdb":
		return DuckDB
	default:
		return SQLite
	}
}

// New returns a new Kapper for the given dialect. Optionally provide a Config;
// unspecified fields fall back to sensible per-dialect defaults.
func New(dialect Dialect, cfg ...Config) *Kapper {
	c := defaultConfig(dialect, cfg...)
	if c.Registry == nil {
		c.Registry = NewRegistry()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	k := &Kapper{
		dialect:  dialect,
		config:   c,
		registry: c.Registry,
		log:      c.Logger,
	}
	if c.QueryCacheSize > 0 {
		// lru.New only fails for non-positive sizes.
		k.queries, _ = lru.New[string, *ParsedQuery](c.QueryCacheSize)
	}
	return k
}

// Dialect returns the dialect the instance renders placeholders for.
func (k *Kapper) Dialect() Dialect {
	return k.dialect
}

// Registry returns the mapping registry used by this instance.
func (k *Kapper) Registry() *Registry {
	return k.registry
}

// Translate converts a template into positional SQL, reusing a cached
// result when the same template text was translated before.
func (k *Kapper) Translate(template string) (*ParsedQuery, error) {
	if k.queries != nil {
		if pq, ok := k.queries.Get(template); ok {
			return pq, nil
		}
	}
	pq, err := translate(k.dialect, template, k.config)
	if err != nil {
		return nil, err
	}
	if k.queries != nil {
		k.queries.Add(template, pq)
	}
	return pq, nil
}

// Bind produces the positional arguments for pq, encoding values the way
// this instance's dialect expects them.
func (k *Kapper) Bind(pq *ParsedQuery, args Args) ([]any, error) {
	return pq.bind(args, k.config.UUIDEncoding)
}

// prepare translates and binds in one step.
func (k *Kapper) prepare(template string, args Args) (*ParsedQuery, []any, error) {
	pq, err := k.Translate(template)
	if err != nil {
		return nil, nil, err
	}
	bound, err := k.Bind(pq, args)
	if err != nil {
		return nil, nil, err
	}
	return pq, bound, nil
}

// defaultConfig merges user config with per-dialect defaults.
func defaultConfig(dialect Dialect, config ...Config) Config {
	c := Config{}

	if len(config) > 0 {
		c = config[0]
	}

	if c.MaxParams == 0 {
		switch dialect {
		case SQLServer:
			c.MaxParams = 2100
		case SQLite:
			c.MaxParams = 999
		case Postgres, MySQL, Oracle, DuckDB:
			c.MaxParams = 65535
		}
	}

	if c.MaxNameLen <= 0 {
		c.MaxNameLen = 64
	}

	if c.QueryCacheSize == 0 {
		c.QueryCacheSize = defaultQueryCacheSize
	}

	if c.UUIDEncoding == UUIDDefault {
		if dialect == MySQL {
			c.UUIDEncoding = UUIDBytes
		} else {
			c.UUIDEncoding = UUIDText
		}
	}

	return c
}
