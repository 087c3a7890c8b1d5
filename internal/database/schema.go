package database

import "fmt"

var schemaSQLite = `
CREATE TABLE IF NOT EXISTS schema_info (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at DATETIME
);

CREATE TABLE IF NOT EXISTS packages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	package_key TEXT NOT NULL,
	name TEXT NOT NULL,
	purl TEXT NOT NULL,
	latest_version TEXT,
	created_at DATETIME,
	updated_at DATETIME
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_packages_key ON packages(package_key);

CREATE TABLE IF NOT EXISTS versions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	purl TEXT NOT NULL,
	package_key TEXT NOT NULL,
	version_key TEXT NOT NULL,
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	normalized_version TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	authors TEXT NOT NULL DEFAULT '',
	owners TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	release_notes TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '',
	copyright TEXT NOT NULL DEFAULT '',
	license_expression TEXT NOT NULL DEFAULT '',
	dependencies TEXT NOT NULL DEFAULT '',
	icon_url TEXT NOT NULL DEFAULT '',
	license_url TEXT NOT NULL DEFAULT '',
	project_url TEXT NOT NULL DEFAULT '',
	require_license_acceptance INTEGER NOT NULL DEFAULT 0,
	is_prerelease INTEGER NOT NULL DEFAULT 0,
	package_hash TEXT NOT NULL,
	package_hash_algorithm TEXT NOT NULL,
	package_size INTEGER NOT NULL,
	download_url TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	last_updated DATETIME,
	published DATETIME,
	created_at DATETIME,
	updated_at DATETIME
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_versions_key ON versions(package_key, version_key);
CREATE INDEX IF NOT EXISTS idx_versions_purl ON versions(purl);
CREATE INDEX IF NOT EXISTS idx_versions_storage_path ON versions(storage_path);

CREATE TABLE IF NOT EXISTS vulnerabilities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	vuln_id TEXT NOT NULL,
	package_key TEXT NOT NULL,
	severity TEXT,
	summary TEXT,
	fixed_version TEXT,
	cvss_score REAL,
	"references" TEXT,
	fetched_at DATETIME,
	created_at DATETIME,
	updated_at DATETIME
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_vulns_id_pkg ON vulnerabilities(vuln_id, package_key);
CREATE INDEX IF NOT EXISTS idx_vulns_pkg ON vulnerabilities(package_key);

CREATE TABLE IF NOT EXISTS vuln_syncs (
	cache_key TEXT PRIMARY KEY,
	synced_at DATETIME NOT NULL
);
`

var schemaPostgres = `
CREATE TABLE IF NOT EXISTS schema_info (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS packages (
	id SERIAL PRIMARY KEY,
	package_key TEXT NOT NULL,
	name TEXT NOT NULL,
	purl TEXT NOT NULL,
	latest_version TEXT,
	created_at TIMESTAMP,
	updated_at TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_packages_key ON packages(package_key);

CREATE TABLE IF NOT EXISTS versions (
	id SERIAL PRIMARY KEY,
	purl TEXT NOT NULL,
	package_key TEXT NOT NULL,
	version_key TEXT NOT NULL,
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	normalized_version TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	authors TEXT NOT NULL DEFAULT '',
	owners TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	release_notes TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '',
	copyright TEXT NOT NULL DEFAULT '',
	license_expression TEXT NOT NULL DEFAULT '',
	dependencies TEXT NOT NULL DEFAULT '',
	icon_url TEXT NOT NULL DEFAULT '',
	license_url TEXT NOT NULL DEFAULT '',
	project_url TEXT NOT NULL DEFAULT '',
	require_license_acceptance BOOLEAN NOT NULL DEFAULT FALSE,
	is_prerelease BOOLEAN NOT NULL DEFAULT FALSE,
	package_hash TEXT NOT NULL,
	package_hash_algorithm TEXT NOT NULL,
	package_size BIGINT NOT NULL,
	download_url TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	last_updated TIMESTAMP,
	published TIMESTAMP,
	created_at TIMESTAMP,
	updated_at TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_versions_key ON versions(package_key, version_key);
CREATE INDEX IF NOT EXISTS idx_versions_purl ON versions(purl);
CREATE INDEX IF NOT EXISTS idx_versions_storage_path ON versions(storage_path);

CREATE TABLE IF NOT EXISTS vulnerabilities (
	id SERIAL PRIMARY KEY,
	vuln_id TEXT NOT NULL,
	package_key TEXT NOT NULL,
	severity TEXT,
	summary TEXT,
	fixed_version TEXT,
	cvss_score DOUBLE PRECISION,
	"references" TEXT,
	fetched_at TIMESTAMP,
	created_at TIMESTAMP,
	updated_at TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_vulns_id_pkg ON vulnerabilities(vuln_id, package_key);
CREATE INDEX IF NOT EXISTS idx_vulns_pkg ON vulnerabilities(package_key);

CREATE TABLE IF NOT EXISTS vuln_syncs (
	cache_key TEXT PRIMARY KEY,
	synced_at TIMESTAMP NOT NULL
);
`

func (db *DB) CreateSchema() error {
	if err := db.OptimizeForBulkWrites(); err != nil {
		return err
	}

	var schema string
	if db.dialect == DialectPostgres {
		schema = schemaPostgres
	} else {
		schema = schemaSQLite
	}

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}

	query := db.Rebind("INSERT INTO schema_info (version) VALUES (?)")
	if _, err := db.Exec(query, SchemaVersion); err != nil {
		return fmt.Errorf("setting schema version: %w", err)
	}

	return db.OptimizeForReads()
}

func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.Get(&version, "SELECT version FROM schema_info LIMIT 1")
	if err != nil {
		return 0, err
	}
	return version, nil
}

// HasTable checks if a table exists in the database.
func (db *DB) HasTable(name string) (bool, error) {
	var exists bool
	var query string

	if db.dialect == DialectPostgres {
		query = "SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)"
	} else {
		query = "SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type='table' AND name=?)"
	}

	err := db.Get(&exists, query, name)
	return exists, err
}
