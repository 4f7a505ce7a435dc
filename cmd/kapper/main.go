package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driessamyn/kapper"
	"github.com/driessamyn/kapper/internal/config"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// SuperHero is automapped from the super_heroes table.
type SuperHero struct {
	ID    uuid.UUID `db:"id"`
	Name  string    `db:"name"`
	Email *string   `db:"email"`
	Age   *int      `db:"age"`
}

// HeroBadge is built by a custom mapper.
type HeroBadge struct {
	Label string
}

func main() {
	cfgPath := flag.String("config", "", "path to a YAML config file (default: ./config.yaml or ~/.kapper/config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Error building logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	dialect, err := cfg.Database.ResolveDialect()
	if err != nil {
		logger.Fatal("invalid database configuration", zap.Error(err))
	}

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("open database", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer db.Close()

	k := kapper.New(dialect, kapper.Config{
		QueryCacheSize: cfg.Cache.Queries,
		Logger:         logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, k, db); err != nil {
		logger.Error("demo failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, k *kapper.Kapper, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, createTable(k.Dialect())); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	heroes := []SuperHero{
		{ID: uuid.New(), Name: "Superman", Email: ptr("superman@dc.com"), Age: ptr(86)},
		{ID: uuid.New(), Name: "Batman", Email: ptr("batman@dc.com"), Age: ptr(85)},
		{ID: uuid.New(), Name: "Spider-man", Email: ptr("spider@marvel.com"), Age: ptr(62)},
		{ID: uuid.New(), Name: "Deadpool"},
	}
	counts, err := kapper.ExecuteAll(ctx, k, db,
		"INSERT INTO super_heroes(id, name, email, age) VALUES (:id, :name, :email, :age)",
		heroes, kapper.ArgMappers[SuperHero]{
			"id":    func(h SuperHero) any { return h.ID },
			"name":  func(h SuperHero) any { return h.Name },
			"email": func(h SuperHero) any { return h.Email },
			"age":   func(h SuperHero) any { return h.Age },
		})
	if err != nil {
		return fmt.Errorf("insert heroes: %w", err)
	}
	for i, n := range counts {
		fmt.Printf("inserted %s (%d row)\n", heroes[i].Name, n)
	}

	older := heroes[3]
	older.Age = ptr(30)
	if _, err := kapper.ExecuteWith(ctx, k, db, "UPDATE super_heroes SET age = :age WHERE id = :id", older,
		kapper.ArgMappers[SuperHero]{
			"id":  func(h SuperHero) any { return h.ID },
			"age": func(h SuperHero) any { return h.Age },
		}); err != nil {
		return fmt.Errorf("update %s: %w", older.Name, err)
	}

	all, err := kapper.Query[SuperHero](ctx, k, db, "SELECT * FROM super_heroes", nil)
	if err != nil {
		return err
	}
	fmt.Println("all heroes:")
	for _, h := range all {
		fmt.Printf("  %s %-12s email=%s age=%s\n", h.ID, h.Name, deref(h.Email), deref(h.Age))
	}

	kapper.RegisterIfAbsent[HeroBadge](k.Registry(), func(row *kapper.Row) (HeroBadge, error) {
		name, err := kapper.Value[string](row, "name")
		if err != nil {
			return HeroBadge{}, err
		}
		age, err := kapper.Value[*int](row, "age")
		if err != nil {
			return HeroBadge{}, err
		}
		return HeroBadge{Label: fmt.Sprintf("%s (%s)", name, deref(age))}, nil
	})
	badges, err := kapper.Query[HeroBadge](ctx, k, db,
		"SELECT name, age FROM super_heroes WHERE age > :age", kapper.Args{"age": 80})
	if err != nil {
		return err
	}
	fmt.Println("veterans:")
	for _, b := range badges {
		fmt.Printf("  %s\n", b.Label)
	}

	batman, err := kapper.QuerySingle[SuperHero](ctx, k, db,
		"SELECT id, name, email, age FROM super_heroes WHERE id = :id", kapper.Args{"id": heroes[1].ID})
	if err != nil {
		return err
	}
	if batman != nil {
		fmt.Printf("found by id: %s\n", batman.Name)
	}

	fmt.Println("names:")
	for name, err := range kapper.Stream[string](ctx, k, db, "SELECT name FROM super_heroes ORDER BY name", nil) {
		if err != nil {
			return err
		}
		fmt.Printf("  %s\n", name)
	}
	return nil
}

func createTable(d kapper.Dialect) string {
	idType := "UUID"
	switch d {
	case kapper.MySQL:
		idType = "BINARY(16)"
	case kapper.SQLite:
		idType = "TEXT"
	case kapper.SQLServer:
		idType = "UNIQUEIDENTIFIER"
	case kapper.Oracle:
		idType = "RAW(16)"
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS super_heroes (
	id %s PRIMARY KEY,
	name VARCHAR(100) NOT NULL,
	email VARCHAR(200),
	age INT
)`, idType)
}

func newLogger(c config.Log) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewDevelopmentConfig()
	if c.Format == "json" {
		zc = zap.NewProductionConfig()
	}
	zc.Level = level
	return zc.Build()
}

func ptr[T any](v T) *T { return &v }

func deref[T any](p *T) string {
	if p == nil {
		return "<null>"
	}
	return fmt.Sprint(*p)
}
