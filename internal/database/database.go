// Package database persists the feed catalog and settings in SQLite or
// PostgreSQL so the index survives restarts.
package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SchemaVersion is the catalog layout this build reads and writes.
const SchemaVersion = 1

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DB is a catalog connection. Queries are written with ? placeholders and
// rebound for the dialect.
type DB struct {
	*sqlx.DB
	dialect Dialect
	path    string
}

func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Path returns the SQLite file, or "" for Postgres.
func (db *DB) Path() string {
	return db.path
}

// Exists reports whether a SQLite catalog file is present.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Create starts a fresh SQLite catalog at path, replacing any file there.
func Create(path string) (*DB, error) {
	if Exists(path) {
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("removing existing database: %w", err)
		}
	}
	return OpenOrCreate(path)
}

// Open opens an existing SQLite catalog without touching its schema.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	sqlDB, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db := &DB{DB: sqlDB, dialect: DialectSQLite, path: path}
	if err := db.OptimizeForReads(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("configuring sqlite: %w", err)
	}
	return db, nil
}

// OpenOrCreate opens the SQLite catalog at path and creates the schema when
// the file is new.
func OpenOrCreate(path string) (*DB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	return db.ensureSchema()
}

// OpenPostgres connects to an existing Postgres catalog.
func OpenPostgres(url string) (*DB, error) {
	sqlDB, err := sqlx.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("opening postgres database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return &DB{DB: sqlDB, dialect: DialectPostgres}, nil
}

// OpenPostgresOrCreate connects to Postgres and creates the schema when the
// database is empty.
func OpenPostgresOrCreate(url string) (*DB, error) {
	db, err := OpenPostgres(url)
	if err != nil {
		return nil, err
	}
	return db.ensureSchema()
}

// ensureSchema creates the tables on first use and refuses catalogs written
// by a newer build. db is closed on error.
func (db *DB) ensureSchema() (*DB, error) {
	ok, err := db.HasTable("schema_info")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("checking schema: %w", err)
	}

	if !ok {
		if err := db.CreateSchema(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
		return db, nil
	}

	v, err := db.SchemaVersion()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("reading schema version: %w", err)
	}
	if v > SchemaVersion {
		_ = db.Close()
		return nil, fmt.Errorf("catalog schema version %d is newer than supported version %d", v, SchemaVersion)
	}
	return db, nil
}

// OptimizeForBulkWrites relaxes durability while the schema is created.
func (db *DB) OptimizeForBulkWrites() error {
	if db.dialect == DialectPostgres {
		return nil
	}
	_, err := db.Exec(`
		PRAGMA synchronous = OFF;
		PRAGMA journal_mode = WAL;
		PRAGMA cache_size = -64000;
	`)
	return err
}

// OptimizeForReads sets the steady-state pragmas. The busy timeout lets
// concurrent scan workers wait for the write lock instead of failing.
func (db *DB) OptimizeForReads() error {
	if db.dialect == DialectPostgres {
		return nil
	}
	_, err := db.Exec(`
		PRAGMA synchronous = NORMAL;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`)
	return err
}

func (db *DB) Rebind(query string) string {
	return db.DB.Rebind(query)
}
