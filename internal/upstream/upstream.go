// Package upstream talks to a remote NuGet registry: it lists published
// versions and downloads archives for mirroring into the local feed.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/git-pkgs/feed/internal/metrics"
	"github.com/git-pkgs/feed/internal/nuget"
	"github.com/git-pkgs/registries"
	_ "github.com/git-pkgs/registries/all"
	"github.com/git-pkgs/registries/fetch"
)

var ErrUnsupported = errors.New("upstream registry client unavailable")

// Release is one version published upstream.
type Release struct {
	Version   string    `json:"version"`
	Published time.Time `json:"published,omitempty"`
	Integrity string    `json:"integrity,omitempty"`
	Yanked    bool      `json:"yanked"`
}

// Client resolves and downloads packages from an upstream registry.
type Client struct {
	baseURL  string
	registry registries.Registry
	resolver *fetch.Resolver
	fetcher  fetch.FetcherInterface
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	fetcher   fetch.FetcherInterface
	registry  registries.Registry
	regClient *registries.Client
	userAgent string
}

// WithFetcher replaces the archive fetcher.
func WithFetcher(f fetch.FetcherInterface) Option {
	return func(o *clientOptions) {
		o.fetcher = f
	}
}

// WithRegistryClient sets the HTTP client used for metadata requests.
func WithRegistryClient(c *registries.Client) Option {
	return func(o *clientOptions) {
		o.regClient = c
	}
}

// WithRegistry replaces the registry used for version listings and download
// URLs.
func WithRegistry(reg registries.Registry) Option {
	return func(o *clientOptions) {
		o.registry = reg
	}
}

// WithUserAgent sets the User-Agent sent with archive downloads.
func WithUserAgent(ua string) Option {
	return func(o *clientOptions) {
		o.userAgent = ua
	}
}

// New creates a client for the registry at baseURL. An empty baseURL means
// the public nuget.org registry.
func New(baseURL string, opts ...Option) *Client {
	o := &clientOptions{userAgent: "git-pkgs-feed/1.0"}
	for _, opt := range opts {
		opt(o)
	}
	if o.regClient == nil {
		o.regClient = registries.DefaultClient()
	}
	if o.fetcher == nil {
		o.fetcher = fetch.NewCircuitBreakerFetcher(fetch.NewFetcher(fetch.WithUserAgent(o.userAgent)))
	}

	c := &Client{
		baseURL:  baseURL,
		resolver: fetch.NewResolver(),
		fetcher:  o.fetcher,
	}

	// Without a registry the resolver falls back to the flat container
	// layout on nuget.org.
	reg := o.registry
	if reg == nil {
		if r, err := registries.New(nuget.Ecosystem, baseURL, o.regClient); err == nil {
			reg = r
		}
	}
	if reg != nil {
		c.registry = reg
		c.resolver.RegisterRegistry(reg)
	}
	return c
}

// BaseURL returns the configured registry URL, or "" for the default.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Versions lists every version of id published upstream.
func (c *Client) Versions(ctx context.Context, id string) ([]Release, error) {
	if c.registry == nil {
		return nil, ErrUnsupported
	}

	start := time.Now()
	versions, err := c.registry.FetchVersions(ctx, id)
	metrics.RecordUpstreamFetch(time.Since(start))
	if err != nil {
		metrics.RecordUpstreamError(errorType(err))
		return nil, fmt.Errorf("listing upstream versions of %s: %w", id, err)
	}

	releases := make([]Release, 0, len(versions))
	for _, v := range versions {
		releases = append(releases, Release{
			Version:   v.Number,
			Published: v.PublishedAt,
			Integrity: v.Integrity,
			Yanked:    v.Status == registries.StatusYanked || v.Status == registries.StatusRetracted,
		})
	}
	return releases, nil
}

// Latest returns the highest version of id upstream that is not yanked, or ""
// when there is none. Prereleases are considered only when no stable
// release is listed.
func (c *Client) Latest(ctx context.Context, id string) (string, error) {
	releases, err := c.Versions(ctx, id)
	if err != nil {
		return "", err
	}
	return Newest(releases), nil
}

// Newest picks the highest listed release by NuGet version order, ignoring
// publish dates.
func Newest(releases []Release) string {
	var stable, pre string
	for _, r := range releases {
		if r.Yanked {
			continue
		}
		v, err := nuget.ParseVersion(r.Version)
		if err != nil {
			continue
		}
		best := &stable
		if v.IsPrerelease() {
			best = &pre
		}
		if *best == "" || nuget.CompareVersions(r.Version, *best) > 0 {
			*best = r.Version
		}
	}
	if stable != "" {
		return stable
	}
	return pre
}

// Download fetches the archive for id at version. The caller must close the
// returned body.
func (c *Client) Download(ctx context.Context, id, version string) (*fetch.Artifact, error) {
	info, err := c.resolver.Resolve(ctx, nuget.Ecosystem, id, version)
	if err != nil {
		metrics.RecordUpstreamError("resolve_failed")
		return nil, fmt.Errorf("resolving download URL: %w", err)
	}

	start := time.Now()
	artifact, err := c.fetcher.Fetch(ctx, info.URL)
	metrics.RecordUpstreamFetch(time.Since(start))
	if err != nil {
		metrics.RecordUpstreamError(errorType(err))
		return nil, fmt.Errorf("fetching %s: %w", info.URL, err)
	}
	return artifact, nil
}

// BreakerState reports the circuit breaker state per upstream host, when the
// fetcher has breakers.
func (c *Client) BreakerState() map[string]string {
	if cbf, ok := c.fetcher.(*fetch.CircuitBreakerFetcher); ok {
		return cbf.GetBreakerState()
	}
	return nil
}

func errorType(err error) string {
	switch {
	case errors.Is(err, fetch.ErrNotFound), errors.Is(err, registries.ErrNotFound):
		return "not_found"
	case errors.Is(err, fetch.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, fetch.ErrUpstreamDown):
		return "upstream_down"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "fetch_failed"
	}
}
