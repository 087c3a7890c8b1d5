package enrichment

import (
	"context"
	"time"

	"github.com/ecosyste-ms/ecosystems-go"
	"github.com/package-url/packageurl-go"
)

// PackageInfo is package metadata from ecosyste.ms.
type PackageInfo struct {
	Name          string `json:"name"`
	LatestVersion string `json:"latest_version,omitempty"`
	License       string `json:"license,omitempty"`
	Description   string `json:"description,omitempty"`
	Homepage      string `json:"homepage,omitempty"`
	Repository    string `json:"repository,omitempty"`
}

// VersionInfo is version metadata from ecosyste.ms.
type VersionInfo struct {
	Number      string    `json:"number"`
	PublishedAt time.Time `json:"published_at,omitempty"`
	Integrity   string    `json:"integrity,omitempty"`
}

// EcosystemsClient wraps the ecosyste.ms API client.
type EcosystemsClient struct {
	client *ecosystems.Client
}

// NewEcosystemsClient creates a client that uses the ecosyste.ms API.
func NewEcosystemsClient(userAgent string) (*EcosystemsClient, error) {
	client, err := ecosystems.NewClient(userAgent)
	if err != nil {
		return nil, err
	}
	return &EcosystemsClient{client: client}, nil
}

// Lookup fetches metadata for one package purl. It returns nil when the
// package is unknown.
func (c *EcosystemsClient) Lookup(ctx context.Context, purl string) (*PackageInfo, error) {
	found, err := c.BulkLookup(ctx, []string{purl})
	if err != nil {
		return nil, err
	}
	return found[purl], nil
}

// BulkLookup fetches package metadata for multiple PURLs in a single request.
func (c *EcosystemsClient) BulkLookup(ctx context.Context, purls []string) (map[string]*PackageInfo, error) {
	packages, err := c.client.BulkLookup(ctx, purls)
	if err != nil {
		return nil, err
	}

	result := make(map[string]*PackageInfo, len(packages))
	for purl, pkg := range packages {
		if pkg == nil {
			continue
		}

		info := &PackageInfo{Name: pkg.Name}
		if pkg.LatestReleaseNumber != nil {
			info.LatestVersion = *pkg.LatestReleaseNumber
		}
		if len(pkg.NormalizedLicenses) > 0 {
			info.License = pkg.NormalizedLicenses[0]
		} else if pkg.Licenses != nil && *pkg.Licenses != "" {
			info.License = *pkg.Licenses
		}
		if pkg.Description != nil {
			info.Description = *pkg.Description
		}
		if pkg.Homepage != nil {
			info.Homepage = *pkg.Homepage
		}
		if pkg.RepositoryUrl != nil {
			info.Repository = *pkg.RepositoryUrl
		}
		result[purl] = info
	}
	return result, nil
}

// GetVersion fetches one version by purl. It returns nil for unparsable
// purls and unknown versions.
func (c *EcosystemsClient) GetVersion(ctx context.Context, purl string) (*VersionInfo, error) {
	p, err := packageurl.FromString(purl)
	if err != nil {
		return nil, nil
	}

	v, err := c.client.GetVersionPURL(ctx, p)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}

	info := &VersionInfo{Number: v.Number}
	if v.PublishedAt != nil {
		info.PublishedAt, _ = time.Parse(time.RFC3339, *v.PublishedAt)
	}
	if v.Integrity != nil {
		info.Integrity = *v.Integrity
	}
	return info, nil
}
