// Package sbom exports the indexed packages as a CycloneDX or SPDX bill of
// materials.
package sbom

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/google/uuid"
	spdxjson "github.com/spdx/tools-golang/json"
	"github.com/spdx/tools-golang/spdx"
	"github.com/spdx/tools-golang/spdx/v2/common"

	"github.com/git-pkgs/feed/internal/nuget"
)

// Format selects the document type.
type Format string

const (
	FormatCycloneDX Format = "cyclonedx"
	FormatSPDX      Format = "spdx"
)

const toolName = "git-pkgs-feed"

// ParseFormat accepts "cyclonedx" (or "cdx") and "spdx". Empty means
// CycloneDX.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cyclonedx", "cdx":
		return FormatCycloneDX, nil
	case "spdx":
		return FormatSPDX, nil
	default:
		return "", fmt.Errorf("unknown sbom format %q", s)
	}
}

// ContentType returns the media type of the encoded document.
func (f Format) ContentType() string {
	if f == FormatSPDX {
		return "application/spdx+json"
	}
	return "application/vnd.cyclonedx+json"
}

// Options describe the document being generated.
type Options struct {
	// Name names the document, typically the feed's host.
	Name string
	// ServerURL is used to build the SPDX document namespace.
	ServerURL string
	// Version is the tool version recorded in the document.
	Version string
	Now     func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

// Write encodes pkgs as JSON in the given format.
func Write(w io.Writer, format Format, pkgs []nuget.Package, opts Options) error {
	switch format {
	case FormatSPDX:
		return spdxjson.Write(SPDX(pkgs, opts), w)
	case FormatCycloneDX:
		enc := cdx.NewBOMEncoder(w, cdx.BOMFileFormatJSON)
		enc.SetPretty(true)
		return enc.Encode(CycloneDX(pkgs, opts))
	default:
		return fmt.Errorf("unknown sbom format %q", format)
	}
}

// CycloneDX builds a CycloneDX BOM with one library component per package
// version.
func CycloneDX(pkgs []nuget.Package, opts Options) *cdx.BOM {
	bom := cdx.NewBOM()
	bom.SerialNumber = "urn:uuid:" + uuid.NewString()
	bom.Metadata = &cdx.Metadata{
		Timestamp: opts.now().Format(time.RFC3339),
		Tools: &cdx.ToolsChoice{
			Components: &[]cdx.Component{{
				Type:    cdx.ComponentTypeApplication,
				Name:    toolName,
				Version: opts.Version,
			}},
		},
		Component: &cdx.Component{
			Type: cdx.ComponentTypeApplication,
			Name: opts.Name,
		},
	}

	components := make([]cdx.Component, 0, len(pkgs))
	for _, p := range pkgs {
		purl := p.PURL()
		c := cdx.Component{
			BOMRef:      purl,
			Type:        cdx.ComponentTypeLibrary,
			Name:        p.ID,
			Version:     p.Version,
			Description: p.Description,
			Author:      p.Authors,
			Copyright:   p.Copyright,
			PackageURL:  purl,
		}
		if digest := hexDigest(p.PackageHash); digest != "" {
			c.Hashes = &[]cdx.Hash{{Algorithm: cdx.HashAlgoSHA512, Value: digest}}
		}
		if p.LicenseExpression != "" {
			c.Licenses = &cdx.Licenses{{Expression: p.LicenseExpression}}
		}
		var refs []cdx.ExternalReference
		if p.ProjectURL != "" {
			refs = append(refs, cdx.ExternalReference{Type: cdx.ERTypeWebsite, URL: p.ProjectURL})
		}
		if p.DownloadURL != "" {
			refs = append(refs, cdx.ExternalReference{Type: cdx.ERTypeDistribution, URL: p.DownloadURL})
		}
		if len(refs) > 0 {
			c.ExternalReferences = &refs
		}
		components = append(components, c)
	}
	bom.Components = &components
	return bom
}

// SPDX builds an SPDX 2.3 document describing every package version.
func SPDX(pkgs []nuget.Package, opts Options) *spdx.Document {
	name := opts.Name
	if name == "" {
		name = "feed"
	}
	base := strings.TrimSuffix(opts.ServerURL, "/")
	if base == "" {
		base = "https://spdx.org/spdxdocs"
	}

	doc := &spdx.Document{
		SPDXVersion:       spdx.Version,
		DataLicense:       spdx.DataLicense,
		SPDXIdentifier:    common.ElementID("DOCUMENT"),
		DocumentName:      name,
		DocumentNamespace: fmt.Sprintf("%s/spdx/%s-%s", base, sanitize(name), uuid.NewString()),
		CreationInfo: &spdx.CreationInfo{
			Creators: []common.Creator{{CreatorType: "Tool", Creator: toolName + "-" + opts.Version}},
			Created:  opts.now().Format("2006-01-02T15:04:05Z"),
		},
	}

	seen := make(map[common.ElementID]int)
	for _, p := range pkgs {
		id := common.ElementID("Package-" + sanitize(p.ID+"-"+p.NormalizedVersion))
		if n := seen[id]; n > 0 {
			id = common.ElementID(fmt.Sprintf("%s-%d", id, n))
		}
		seen[id]++

		sp := &spdx.Package{
			PackageName:             p.ID,
			PackageSPDXIdentifier:   id,
			PackageVersion:          p.Version,
			PackageDownloadLocation: noassertion(p.DownloadURL),
			PackageHomePage:         p.ProjectURL,
			PackageDescription:      p.Description,
			PackageSupplier:         &common.Supplier{Supplier: noassertion(p.Authors), SupplierType: supplierType(p.Authors)},
			PackageLicenseConcluded: noassertion(p.LicenseExpression),
			PackageLicenseDeclared:  noassertion(p.LicenseExpression),
			PackageCopyrightText:    noassertion(p.Copyright),
			FilesAnalyzed:           false,
			PackageExternalReferences: []*spdx.PackageExternalReference{{
				Category: common.CategoryPackageManager,
				RefType:  common.TypePackageManagerPURL,
				Locator:  p.PURL(),
			}},
		}
		if digest := hexDigest(p.PackageHash); digest != "" {
			sp.PackageChecksums = []common.Checksum{{Algorithm: common.SHA512, Value: digest}}
		}

		doc.Packages = append(doc.Packages, sp)
		doc.Relationships = append(doc.Relationships, &spdx.Relationship{
			RefA:         common.MakeDocElementID("", "DOCUMENT"),
			RefB:         common.MakeDocElementID("", string(id)),
			Relationship: common.TypeRelationshipDescribe,
		})
	}
	return doc
}

// hexDigest converts the feed's base64 package hash to the hex form SBOM
// formats expect.
func hexDigest(b64 string) string {
	if b64 == "" {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return ""
	}
	return hex.EncodeToString(raw)
}

var unsafeID = regexp.MustCompile(`[^A-Za-z0-9.\-]+`)

func sanitize(s string) string {
	return unsafeID.ReplaceAllString(s, "-")
}

func noassertion(s string) string {
	if strings.TrimSpace(s) == "" {
		return "NOASSERTION"
	}
	return s
}

func supplierType(authors string) string {
	if strings.TrimSpace(authors) == "" {
		return ""
	}
	return "Organization"
}
