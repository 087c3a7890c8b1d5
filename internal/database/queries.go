package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/git-pkgs/feed/internal/nuget"
	"github.com/git-pkgs/purl"
)

const versionColumns = `id, purl, package_key, version_key, name, version, normalized_version,
	title, authors, owners, description, summary, release_notes, language, tags,
	copyright, license_expression, dependencies, icon_url, license_url, project_url,
	require_license_acceptance, is_prerelease, package_hash, package_hash_algorithm,
	package_size, download_url, storage_path, last_updated, published,
	created_at, updated_at`

// Package queries

func (db *DB) GetPackage(id string) (*Package, error) {
	var pkg Package
	query := db.Rebind(`
		SELECT id, package_key, name, purl, latest_version, created_at, updated_at
		FROM packages WHERE package_key = ?
	`)
	err := db.Get(&pkg, query, PackageKey(id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (db *DB) ListPackages() ([]Package, error) {
	var packages []Package
	err := db.Select(&packages, `
		SELECT id, package_key, name, purl, latest_version, created_at, updated_at
		FROM packages ORDER BY package_key
	`)
	if err != nil {
		return nil, err
	}
	return packages, nil
}

func upsertPackageQuery(dialect Dialect) string {
	if dialect == DialectPostgres {
		return `
			INSERT INTO packages (package_key, name, purl, latest_version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT(package_key) DO UPDATE SET
				name = EXCLUDED.name,
				latest_version = EXCLUDED.latest_version,
				updated_at = EXCLUDED.updated_at
		`
	}
	return `
		INSERT INTO packages (package_key, name, purl, latest_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(package_key) DO UPDATE SET
			name = excluded.name,
			latest_version = excluded.latest_version,
			updated_at = excluded.updated_at
	`
}

func upsertVersionQuery(dialect Dialect) string {
	const cols = `purl, package_key, version_key, name, version, normalized_version,
		title, authors, owners, description, summary, release_notes, language, tags,
		copyright, license_expression, dependencies, icon_url, license_url, project_url,
		require_license_acceptance, is_prerelease, package_hash, package_hash_algorithm,
		package_size, download_url, storage_path, last_updated, published,
		created_at, updated_at`
	const values = `:purl, :package_key, :version_key, :name, :version, :normalized_version,
		:title, :authors, :owners, :description, :summary, :release_notes, :language, :tags,
		:copyright, :license_expression, :dependencies, :icon_url, :license_url, :project_url,
		:require_license_acceptance, :is_prerelease, :package_hash, :package_hash_algorithm,
		:package_size, :download_url, :storage_path, :last_updated, :published,
		:created_at, :updated_at`

	ex := "excluded"
	if dialect == DialectPostgres {
		ex = "EXCLUDED"
	}
	return `INSERT INTO versions (` + cols + `) VALUES (` + values + `)
		ON CONFLICT(package_key, version_key) DO UPDATE SET
			purl = ` + ex + `.purl,
			name = ` + ex + `.name,
			version = ` + ex + `.version,
			normalized_version = ` + ex + `.normalized_version,
			title = ` + ex + `.title,
			authors = ` + ex + `.authors,
			owners = ` + ex + `.owners,
			description = ` + ex + `.description,
			summary = ` + ex + `.summary,
			release_notes = ` + ex + `.release_notes,
			language = ` + ex + `.language,
			tags = ` + ex + `.tags,
			copyright = ` + ex + `.copyright,
			license_expression = ` + ex + `.license_expression,
			dependencies = ` + ex + `.dependencies,
			icon_url = ` + ex + `.icon_url,
			license_url = ` + ex + `.license_url,
			project_url = ` + ex + `.project_url,
			require_license_acceptance = ` + ex + `.require_license_acceptance,
			is_prerelease = ` + ex + `.is_prerelease,
			package_hash = ` + ex + `.package_hash,
			package_hash_algorithm = ` + ex + `.package_hash_algorithm,
			package_size = ` + ex + `.package_size,
			download_url = ` + ex + `.download_url,
			storage_path = ` + ex + `.storage_path,
			last_updated = ` + ex + `.last_updated,
			published = ` + ex + `.published,
			updated_at = ` + ex + `.updated_at`
}

// Version queries

// SaveVersion upserts the descriptor and records latest as the package's
// latest version in one transaction. It returns the storage path of the row
// it replaced, or "" when the version is new.
func (db *DB) SaveVersion(p nuget.Package, latest string) (string, error) {
	v, err := VersionFromPackage(p)
	if err != nil {
		return "", fmt.Errorf("saving version: %w", err)
	}
	now := time.Now().UTC()
	v.CreatedAt = now
	v.UpdatedAt = now

	tx, err := db.Beginx()
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var previous string
	err = tx.Get(&previous, tx.Rebind(`SELECT storage_path FROM versions WHERE package_key = ? AND version_key = ?`),
		v.PackageKey, v.VersionKey)
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("reading existing version: %w", err)
	}

	_, err = tx.Exec(upsertPackageQuery(db.dialect),
		v.PackageKey, p.ID, purl.MakePURLString(nuget.Ecosystem, p.ID, ""),
		sql.NullString{String: latest, Valid: latest != ""}, now, now)
	if err != nil {
		return "", fmt.Errorf("upserting package: %w", err)
	}

	query, args, err := tx.BindNamed(upsertVersionQuery(db.dialect), v)
	if err != nil {
		return "", fmt.Errorf("binding version: %w", err)
	}
	if _, err := tx.Exec(query, args...); err != nil {
		return "", fmt.Errorf("upserting version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing version: %w", err)
	}
	if previous == v.StoragePath {
		previous = ""
	}
	return previous, nil
}

// DeleteVersion removes a version and sets the package's latest version to
// latest. The package row goes away with its last version. It returns the
// removed row, or nil if there was none.
func (db *DB) DeleteVersion(id, version, latest string) (*Version, error) {
	key, err := versionKey(version)
	if err != nil {
		return nil, err
	}
	pkgKey := PackageKey(id)

	tx, err := db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing Version
	err = tx.Get(&existing, tx.Rebind(`SELECT `+versionColumns+` FROM versions WHERE package_key = ? AND version_key = ?`),
		pkgKey, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading version: %w", err)
	}

	if _, err := tx.Exec(tx.Rebind(`DELETE FROM versions WHERE id = ?`), existing.ID); err != nil {
		return nil, fmt.Errorf("deleting version: %w", err)
	}

	var remaining int64
	if err := tx.Get(&remaining, tx.Rebind(`SELECT COUNT(*) FROM versions WHERE package_key = ?`), pkgKey); err != nil {
		return nil, fmt.Errorf("counting versions: %w", err)
	}

	if remaining == 0 {
		_, err = tx.Exec(tx.Rebind(`DELETE FROM packages WHERE package_key = ?`), pkgKey)
	} else {
		_, err = tx.Exec(tx.Rebind(`UPDATE packages SET latest_version = ?, updated_at = ? WHERE package_key = ?`),
			latest, time.Now().UTC(), pkgKey)
	}
	if err != nil {
		return nil, fmt.Errorf("updating package: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing delete: %w", err)
	}
	return &existing, nil
}

func (db *DB) GetVersion(id, version string) (*Version, error) {
	key, err := versionKey(version)
	if err != nil {
		return nil, err
	}
	var v Version
	query := db.Rebind(`SELECT ` + versionColumns + ` FROM versions WHERE package_key = ? AND version_key = ?`)
	err = db.Get(&v, query, PackageKey(id), key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (db *DB) GetPackageVersions(id string) ([]Version, error) {
	var versions []Version
	query := db.Rebind(`SELECT ` + versionColumns + ` FROM versions WHERE package_key = ? ORDER BY created_at`)
	if err := db.Select(&versions, query, PackageKey(id)); err != nil {
		return nil, err
	}
	return versions, nil
}

// ListVersions returns every persisted version, used to restore the index at
// startup.
func (db *DB) ListVersions(ctx context.Context) ([]Version, error) {
	var versions []Version
	err := db.SelectContext(ctx, &versions, `SELECT `+versionColumns+` FROM versions ORDER BY package_key, id`)
	if err != nil {
		return nil, err
	}
	return versions, nil
}

func versionKey(version string) (string, error) {
	v, err := nuget.ParseVersion(version)
	if err != nil {
		return "", err
	}
	return v.Key(), nil
}

// Settings

// GetSetting returns the stored value for key and whether it exists.
func (db *DB) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := db.GetContext(ctx, &value, db.Rebind(`SELECT value FROM settings WHERE key = ?`), key)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	var query string
	if db.dialect == DialectPostgres {
		query = `
			INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, $3)
			ON CONFLICT(key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
		`
	} else {
		query = `
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`
	}
	if _, err := db.ExecContext(ctx, query, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

// Stats

type Stats struct {
	TotalPackages   int64 `json:"total_packages"`
	TotalVersions   int64 `json:"total_versions"`
	PrereleaseCount int64 `json:"prerelease_versions"`
	TotalSize       int64 `json:"total_size"`
	Vulnerabilities int64 `json:"vulnerabilities"`
	VulnSyncedCount int64 `json:"vuln_synced_versions"`
}

func (db *DB) GetStats() (*Stats, error) {
	stats := &Stats{}

	if err := db.Get(&stats.TotalPackages, `SELECT COUNT(*) FROM packages`); err != nil {
		return nil, err
	}

	row := db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(package_size), 0) FROM versions`)
	if err := row.Scan(&stats.TotalVersions, &stats.TotalSize); err != nil {
		return nil, err
	}

	if err := db.Get(&stats.PrereleaseCount, db.Rebind(`SELECT COUNT(*) FROM versions WHERE is_prerelease = ?`), true); err != nil {
		return nil, err
	}

	if err := db.Get(&stats.Vulnerabilities, `SELECT COUNT(DISTINCT vuln_id) FROM vulnerabilities`); err != nil {
		return nil, err
	}

	if err := db.Get(&stats.VulnSyncedCount, `SELECT COUNT(*) FROM vuln_syncs`); err != nil {
		return nil, err
	}

	return stats, nil
}

// Vulnerability queries. Advisories are cached per package version, so the
// package_key column holds "id@version" cache keys.

func (db *DB) GetVulnerabilitiesForPackage(key string) ([]Vulnerability, error) {
	var vulns []Vulnerability
	query := db.Rebind(`
		SELECT id, vuln_id, package_key, severity, summary,
		       fixed_version, cvss_score, "references", fetched_at, created_at, updated_at
		FROM vulnerabilities
		WHERE package_key = ?
		ORDER BY cvss_score DESC NULLS LAST
	`)
	err := db.Select(&vulns, query, PackageKey(key))
	if err != nil {
		return nil, err
	}
	return vulns, nil
}

func (db *DB) UpsertVulnerability(v *Vulnerability) error {
	now := time.Now().UTC()
	var query string

	if db.dialect == DialectPostgres {
		query = `
			INSERT INTO vulnerabilities (vuln_id, package_key, severity, summary,
			                             fixed_version, cvss_score, "references", fetched_at,
			                             created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT(vuln_id, package_key) DO UPDATE SET
				severity = EXCLUDED.severity,
				summary = EXCLUDED.summary,
				fixed_version = EXCLUDED.fixed_version,
				cvss_score = EXCLUDED.cvss_score,
				"references" = EXCLUDED."references",
				fetched_at = EXCLUDED.fetched_at,
				updated_at = EXCLUDED.updated_at
		`
	} else {
		query = `
			INSERT INTO vulnerabilities (vuln_id, package_key, severity, summary,
			                             fixed_version, cvss_score, "references", fetched_at,
			                             created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(vuln_id, package_key) DO UPDATE SET
				severity = excluded.severity,
				summary = excluded.summary,
				fixed_version = excluded.fixed_version,
				cvss_score = excluded.cvss_score,
				"references" = excluded."references",
				fetched_at = excluded.fetched_at,
				updated_at = excluded.updated_at
		`
	}

	_, err := db.Exec(query,
		v.VulnID, v.PackageKey, v.Severity, v.Summary,
		v.FixedVersion, v.CVSSScore, v.References, v.FetchedAt, now, now,
	)
	if err != nil {
		return fmt.Errorf("upserting vulnerability: %w", err)
	}
	return nil
}

func (db *DB) DeleteVulnerabilitiesForPackage(key string) error {
	query := db.Rebind(`DELETE FROM vulnerabilities WHERE package_key = ?`)
	_, err := db.Exec(query, PackageKey(key))
	return err
}

// GetVulnsSyncedAt returns when advisories for key were last fetched, or the
// zero time if never.
func (db *DB) GetVulnsSyncedAt(key string) (time.Time, error) {
	var syncedAt time.Time
	query := db.Rebind(`SELECT synced_at FROM vuln_syncs WHERE cache_key = ?`)
	err := db.Get(&syncedAt, query, PackageKey(key))
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return syncedAt, nil
}

func (db *DB) SetVulnsSyncedAt(key string) error {
	query := db.Rebind(`
		INSERT INTO vuln_syncs (cache_key, synced_at) VALUES (?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET synced_at = excluded.synced_at
	`)
	_, err := db.Exec(query, PackageKey(key), time.Now().UTC())
	return err
}
