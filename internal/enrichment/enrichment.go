// Package enrichment adds license, vulnerability and upstream version data to
// indexed packages.
package enrichment

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/git-pkgs/purl"
	"github.com/git-pkgs/spdx"
	"github.com/git-pkgs/vers"
	"github.com/git-pkgs/vulns"
	"github.com/git-pkgs/vulns/osv"

	"github.com/git-pkgs/feed/internal/database"
	"github.com/git-pkgs/feed/internal/nuget"
)

// DefaultVulnTTL is how long cached vulnerability data is trusted.
const DefaultVulnTTL = 24 * time.Hour

// VulnStore caches vulnerability data under "id@version" keys.
// *database.DB implements it.
type VulnStore interface {
	GetVulnerabilitiesForPackage(key string) ([]database.Vulnerability, error)
	UpsertVulnerability(v *database.Vulnerability) error
	DeleteVulnerabilitiesForPackage(key string) error
	GetVulnsSyncedAt(key string) (time.Time, error)
	SetVulnsSyncedAt(key string) error
}

// LatestFinder reports the newest upstream version of a package.
// *upstream.Client implements it.
type LatestFinder interface {
	Latest(ctx context.Context, id string) (string, error)
}

// Service provides package enrichment.
type Service struct {
	logger     *slog.Logger
	vulnSource vulns.Source
	store      VulnStore
	ttl        time.Duration
	upstream   LatestFinder
	ecosystems *EcosystemsClient
}

// Option configures a Service.
type Option func(*Service)

// WithVulnSource replaces the OSV client.
func WithVulnSource(src vulns.Source) Option {
	return func(s *Service) {
		s.vulnSource = src
	}
}

// WithStore caches vulnerability results for ttl.
func WithStore(store VulnStore, ttl time.Duration) Option {
	return func(s *Service) {
		s.store = store
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithUpstream sets where the latest upstream version comes from.
func WithUpstream(f LatestFinder) Option {
	return func(s *Service) {
		s.upstream = f
	}
}

// WithEcosystems uses ecosyste.ms when the upstream feed has no answer.
func WithEcosystems(c *EcosystemsClient) Option {
	return func(s *Service) {
		s.ecosystems = c
	}
}

// New creates a new enrichment service.
func New(logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		logger:     logger,
		vulnSource: osv.New(),
		ttl:        DefaultVulnTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// VulnInfo contains vulnerability information for a package version.
type VulnInfo struct {
	ID           string   `json:"id"`
	Summary      string   `json:"summary,omitempty"`
	Severity     string   `json:"severity,omitempty"`
	CVSSScore    float64  `json:"cvss_score,omitempty"`
	FixedVersion string   `json:"fixed_version,omitempty"`
	References   []string `json:"references,omitempty"`
}

// LicenseCategory represents the category of a license.
type LicenseCategory string

const (
	LicensePermissive LicenseCategory = "permissive"
	LicenseCopyleft   LicenseCategory = "copyleft"
	LicenseUnknown    LicenseCategory = "unknown"
)

// Result contains all enrichment data for a package version.
type Result struct {
	ID              string          `json:"id"`
	Version         string          `json:"version"`
	PURL            string          `json:"purl"`
	License         string          `json:"license,omitempty"`
	LicenseCategory LicenseCategory `json:"license_category"`
	Vulnerabilities []VulnInfo      `json:"vulnerabilities"`
	LatestUpstream  string          `json:"latest_upstream,omitempty"`
	UpstreamRelease *VersionInfo    `json:"upstream_release,omitempty"`
	IsOutdated      bool            `json:"is_outdated"`
}

// Enrich gathers license, vulnerability and upstream data for pkg. Lookup
// failures are logged and leave the corresponding fields empty.
func (s *Service) Enrich(ctx context.Context, pkg nuget.Package) *Result {
	result := &Result{
		ID:              pkg.ID,
		Version:         pkg.Version,
		PURL:            pkg.PURL(),
		License:         s.NormalizeLicense(pkg.LicenseExpression),
		Vulnerabilities: []VulnInfo{},
	}
	result.LicenseCategory = s.CategorizeLicense(result.License)

	var wg sync.WaitGroup
	var vulnErr, latestErr, releaseErr error
	var found []VulnInfo

	if s.ecosystems != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result.UpstreamRelease, releaseErr = s.ecosystems.GetVersion(ctx, result.PURL)
		}()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		found, vulnErr = s.CheckVulnerabilities(ctx, pkg.ID, pkg.Version)
	}()
	go func() {
		defer wg.Done()
		result.LatestUpstream, latestErr = s.GetLatestVersion(ctx, pkg.ID)
	}()
	wg.Wait()

	if vulnErr != nil {
		s.logger.Debug("failed to check vulnerabilities", "id", pkg.ID, "version", pkg.Version, "error", vulnErr)
	}
	if latestErr != nil {
		s.logger.Debug("failed to fetch upstream latest", "id", pkg.ID, "error", latestErr)
	}
	if releaseErr != nil {
		s.logger.Debug("failed to fetch upstream release", "purl", result.PURL, "error", releaseErr)
	}
	if found != nil {
		result.Vulnerabilities = found
	}
	result.IsOutdated = s.IsOutdated(pkg.Version, result.LatestUpstream)
	return result
}

// CheckVulnerabilities returns the advisories affecting id at version. OSV
// applies both the introduced and fixed bounds, so with a store configured
// each version's answer is cached as is until the TTL expires.
func (s *Service) CheckVulnerabilities(ctx context.Context, id, version string) ([]VulnInfo, error) {
	if s.store == nil {
		return s.query(ctx, id, version)
	}

	key := cacheKey(id, version)
	synced, err := s.store.GetVulnsSyncedAt(key)
	if err != nil {
		return nil, err
	}
	if synced.IsZero() || time.Since(synced) > s.ttl {
		if err := s.refresh(ctx, key, id, version); err != nil {
			return nil, err
		}
	}

	rows, err := s.store.GetVulnerabilitiesForPackage(key)
	if err != nil {
		return nil, err
	}

	result := make([]VulnInfo, 0, len(rows))
	for _, row := range rows {
		result = append(result, fromRow(row))
	}
	return result, nil
}

// cacheKey identifies one version of a package. Equivalent version strings
// share a key.
func cacheKey(id, version string) string {
	if v, err := nuget.ParseVersion(version); err == nil {
		version = v.Key()
	}
	return database.PackageKey(id) + "@" + strings.ToLower(version)
}

func (s *Service) refresh(ctx context.Context, key, id, version string) error {
	found, err := s.query(ctx, id, version)
	if err != nil {
		return err
	}

	if err := s.store.DeleteVulnerabilitiesForPackage(key); err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, v := range found {
		row := &database.Vulnerability{
			VulnID:       v.ID,
			PackageKey:   key,
			Severity:     nullString(v.Severity),
			Summary:      nullString(v.Summary),
			FixedVersion: nullString(v.FixedVersion),
			CVSSScore:    sql.NullFloat64{Float64: v.CVSSScore, Valid: v.CVSSScore > 0},
			References:   nullString(strings.Join(v.References, "\n")),
			FetchedAt:    sql.NullTime{Time: now, Valid: true},
		}
		if err := s.store.UpsertVulnerability(row); err != nil {
			return err
		}
	}
	return s.store.SetVulnsSyncedAt(key)
}

func (s *Service) query(ctx context.Context, id, version string) ([]VulnInfo, error) {
	p := purl.MakePURL(nuget.Ecosystem, id, version)

	vulnList, err := s.vulnSource.Query(ctx, p)
	if err != nil {
		return nil, err
	}

	results := make([]VulnInfo, 0, len(vulnList))
	for _, v := range vulnList {
		info := VulnInfo{
			ID:           v.ID,
			Summary:      v.Summary,
			Severity:     v.SeverityLevel(),
			CVSSScore:    v.CVSSScore(),
			FixedVersion: v.FixedVersion(nuget.Ecosystem, id),
		}
		for _, ref := range v.References {
			info.References = append(info.References, ref.URL)
		}
		results = append(results, info)
	}
	return results, nil
}

func fromRow(row database.Vulnerability) VulnInfo {
	info := VulnInfo{
		ID:           row.VulnID,
		Summary:      row.Summary.String,
		Severity:     row.Severity.String,
		CVSSScore:    row.CVSSScore.Float64,
		FixedVersion: row.FixedVersion.String,
	}
	if row.References.String != "" {
		info.References = strings.Split(row.References.String, "\n")
	}
	return info
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// GetLatestVersion returns the newest upstream version, or "" when neither
// the upstream feed nor ecosyste.ms know the package.
func (s *Service) GetLatestVersion(ctx context.Context, id string) (string, error) {
	var upErr error
	if s.upstream != nil {
		latest, err := s.upstream.Latest(ctx, id)
		if err == nil && latest != "" {
			return latest, nil
		}
		upErr = err
	}

	if s.ecosystems != nil {
		info, err := s.ecosystems.Lookup(ctx, purl.MakePURLString(nuget.Ecosystem, id, ""))
		if err != nil {
			return "", err
		}
		if info != nil {
			return info.LatestVersion, nil
		}
	}
	return "", upErr
}

// IsOutdated checks if a version is older than the latest version, using
// NuGet ordering: four numeric segments and case-insensitive prereleases.
func (s *Service) IsOutdated(currentVersion, latestVersion string) bool {
	if latestVersion == "" || currentVersion == "" {
		return false
	}
	return vers.CompareWithScheme(currentVersion, latestVersion, nuget.Ecosystem) < 0
}

// CategorizeLicense returns the category of a license.
func (s *Service) CategorizeLicense(license string) LicenseCategory {
	if license == "" || license == "Unknown" {
		return LicenseUnknown
	}

	if spdx.HasCopyleft(license) {
		return LicenseCopyleft
	}

	if spdx.IsFullyPermissive(license) {
		return LicensePermissive
	}

	return LicenseUnknown
}

// NormalizeLicense normalizes a license string to SPDX format.
func (s *Service) NormalizeLicense(license string) string {
	if license == "" {
		return ""
	}

	if normalized, err := spdx.NormalizeExpressionLax(license); err == nil {
		return normalized
	}

	return license
}
