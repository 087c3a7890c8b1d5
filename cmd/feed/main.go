// Command feed runs the git-pkgs package feed.
//
// The feed indexes NuGet packages (.nupkg) pushed over HTTP, found in a
// packages directory or mirrored from an upstream feed, and serves their
// metadata as a JSON feed and a NuGet V3 package source.
//
// Usage:
//
//	feed [command] [flags]
//
// Commands:
//
//	serve    Start the feed server (default if no command given)
//	index    Index .nupkg files or directories into the catalog
//	mirror   Copy a package version from the upstream feed
//	list     List cataloged packages, or the versions of one package
//	stats    Show catalog statistics
//
// Common Flags:
//
//	-config string
//	      Path to configuration file (YAML, JSON or TOML)
//	-storage string
//	      Archive storage directory or bucket URL
//	-database-driver string
//	      Database driver: sqlite or postgres
//	-database-path string
//	      Path to SQLite database file
//	-database-url string
//	      PostgreSQL connection URL
//	-log-level string
//	      Log level: debug, info, warn, error
//	-log-format string
//	      Log format: text, json
//
// Serve Flags:
//
//	-listen string
//	      Address to listen on (default ":8080")
//	-base-url string
//	      Public URL of this feed (default "http://localhost:8080")
//	-packages-dir string
//	      Directory indexed at startup
//	-api-key string
//	      Key required for push, delete, mirror and status changes
//
// List and Stats Flags:
//
//	-json
//	      Output as JSON
//
// Global Flags:
//
//	-version
//	      Print version and exit
//
// Environment Variables use the FEED_ prefix, for example FEED_LISTEN,
// FEED_BASE_URL, FEED_STORAGE_URL, FEED_DATABASE_URL, FEED_API_KEY and
// FEED_NATS_URL. See internal/config for the full list.
//
// Example:
//
//	# Start with defaults
//	feed
//
//	# Serve a directory of packages
//	feed serve -packages-dir /srv/nupkgs -base-url https://feed.example.com
//
//	# Index files without starting the server
//	feed index ./artifacts ./extra/Foo.1.0.0.nupkg
//
//	# Mirror the latest Newtonsoft.Json from nuget.org
//	feed mirror Newtonsoft.Json
//
//	# List the versions of one package
//	feed list Newtonsoft.Json
//
//	# Show stats as JSON
//	feed stats -json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/git-pkgs/feed/internal/config"
	"github.com/git-pkgs/feed/internal/database"
	"github.com/git-pkgs/feed/internal/nuget"
	"github.com/git-pkgs/feed/internal/server"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Commit is set at build time.
	Commit = "unknown"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			os.Args = append(os.Args[:1], os.Args[2:]...)
			runServe()
			return
		case "index":
			os.Args = append(os.Args[:1], os.Args[2:]...)
			runIndex()
			return
		case "mirror":
			os.Args = append(os.Args[:1], os.Args[2:]...)
			runMirror()
			return
		case "list":
			os.Args = append(os.Args[:1], os.Args[2:]...)
			runList()
			return
		case "stats":
			os.Args = append(os.Args[:1], os.Args[2:]...)
			runStats()
			return
		case "-version", "--version":
			fmt.Printf("feed %s (%s)\n", Version, Commit)
			os.Exit(0)
		case "-h", "-help", "--help":
			printUsage()
			os.Exit(0)
		}
	}

	// Default to serve
	runServe()
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `git-pkgs feed - NuGet package feed

Usage: feed [command] [flags]

Commands:
  serve    Start the feed server (default)
  index    Index .nupkg files or directories
  mirror   Copy a package version from the upstream feed
  list     List cataloged packages or the versions of one package
  stats    Show catalog statistics

Run 'feed <command> -help' for more information on a command.

Global Flags:
  -version   Print version and exit
  -help      Show this help message
`)
}

// commonFlags are accepted by every command that opens the catalog.
type commonFlags struct {
	configPath     *string
	storage        *string
	databaseDriver *string
	databasePath   *string
	databaseURL    *string
	logLevel       *string
	logFormat      *string
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		configPath:     fs.String("config", "", "Path to configuration file (YAML, JSON or TOML)"),
		storage:        fs.String("storage", "", "Archive storage directory or bucket URL"),
		databaseDriver: fs.String("database-driver", "", "Database driver: sqlite or postgres"),
		databasePath:   fs.String("database-path", "", "Path to SQLite database file"),
		databaseURL:    fs.String("database-url", "", "PostgreSQL connection URL"),
		logLevel:       fs.String("log-level", "", "Log level: debug, info, warn, error"),
		logFormat:      fs.String("log-format", "", "Log format: text, json"),
	}
}

// load builds the configuration: defaults, then file, then environment, then
// flags. apply sets command-specific flags before validation.
func (c *commonFlags) load(apply func(cfg *config.Config)) *config.Config {
	cfg, err := loadConfig(*c.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "error reading environment: %v\n", err)
		os.Exit(1)
	}

	if *c.storage != "" {
		if strings.Contains(*c.storage, "://") {
			cfg.Storage.URL = *c.storage
		} else {
			cfg.Storage.URL = ""
			cfg.Storage.Path = *c.storage
		}
	}
	if *c.databaseDriver != "" {
		cfg.Database.Driver = *c.databaseDriver
	}
	if *c.databasePath != "" {
		cfg.Database.Path = *c.databasePath
	}
	if *c.databaseURL != "" {
		cfg.Database.URL = *c.databaseURL
	}
	if *c.logLevel != "" {
		cfg.Log.Level = *c.logLevel
	}
	if *c.logFormat != "" {
		cfg.Log.Format = *c.logFormat
	}
	if apply != nil {
		apply(cfg)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func runServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	common := addCommonFlags(fs)
	listen := fs.String("listen", "", "Address to listen on")
	baseURL := fs.String("base-url", "", "Public URL of this feed")
	packagesDir := fs.String("packages-dir", "", "Directory indexed at startup")
	apiKey := fs.String("api-key", "", "Key required for push, delete, mirror and status changes")
	version := fs.Bool("version", false, "Print version and exit")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "git-pkgs feed - NuGet package feed\n\n")
		fmt.Fprintf(os.Stderr, "Usage: feed serve [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  FEED_LISTEN           Listen address\n")
		fmt.Fprintf(os.Stderr, "  FEED_BASE_URL         Public URL\n")
		fmt.Fprintf(os.Stderr, "  FEED_STORAGE_URL      Bucket URL for archives\n")
		fmt.Fprintf(os.Stderr, "  FEED_STORAGE_PATH     Storage directory\n")
		fmt.Fprintf(os.Stderr, "  FEED_DATABASE_DRIVER  Database driver (sqlite or postgres)\n")
		fmt.Fprintf(os.Stderr, "  FEED_DATABASE_PATH    SQLite database file\n")
		fmt.Fprintf(os.Stderr, "  FEED_DATABASE_URL     PostgreSQL connection URL\n")
		fmt.Fprintf(os.Stderr, "  FEED_API_KEY          Push API key\n")
		fmt.Fprintf(os.Stderr, "  FEED_NATS_URL         NATS server for index events\n")
	}

	_ = fs.Parse(os.Args[1:])

	if *version {
		fmt.Printf("feed %s (%s)\n", Version, Commit)
		os.Exit(0)
	}

	cfg := common.load(func(cfg *config.Config) {
		if *listen != "" {
			cfg.Listen = *listen
		}
		if *baseURL != "" {
			cfg.BaseURL = *baseURL
		}
		if *packagesDir != "" {
			cfg.Feed.PackagesDir = *packagesDir
		}
		if *apiKey != "" {
			cfg.Feed.APIKey = *apiKey
		}
	})

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)

	srv, err := server.New(cfg, logger, Version)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "error", err)
			_ = srv.Shutdown(context.Background())
			os.Exit(1)
		}
	}
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	common := addCommonFlags(fs)
	asJSON := fs.Bool("json", false, "Output results as JSON")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "git-pkgs feed - Index packages\n\n")
		fmt.Fprintf(os.Stderr, "Usage: feed index [flags] <path>...\n\n")
		fmt.Fprintf(os.Stderr, "Each path is a .nupkg file or a directory searched recursively.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	_ = fs.Parse(os.Args[1:])
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	cfg := common.load(nil)
	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)

	srv, err := server.New(cfg, logger, Version)
	if err != nil {
		logger.Error("failed to open feed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = srv.Shutdown(context.Background()) }()

	ctx := context.Background()
	in := srv.Ingester()
	if _, err := in.Restore(ctx); err != nil {
		logger.Error("failed to restore index", "error", err)
		os.Exit(1)
	}

	type indexOutput struct {
		Path    string `json:"path"`
		Indexed int    `json:"indexed"`
		Failed  int    `json:"failed"`
		Error   string `json:"error,omitempty"`
	}
	var results []indexOutput
	failed := false

	for _, path := range fs.Args() {
		out := indexOutput{Path: path}

		info, err := os.Stat(path)
		switch {
		case err != nil:
			out.Failed, out.Error = 1, err.Error()
		case info.IsDir():
			res, err := in.ScanDir(ctx, path)
			out.Indexed, out.Failed = res.Indexed, res.Failed
			if err != nil {
				out.Error = err.Error()
			} else if res.Skipped {
				out.Error = "feed is disabled"
			}
		default:
			if _, err := in.IngestFile(ctx, path); err != nil {
				out.Failed, out.Error = 1, err.Error()
			} else {
				out.Indexed = 1
			}
		}

		if out.Failed > 0 || out.Error != "" {
			failed = true
		}
		results = append(results, out)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(results)
	} else {
		for _, r := range results {
			fmt.Printf("%s: %d indexed, %d failed", r.Path, r.Indexed, r.Failed)
			if r.Error != "" {
				fmt.Printf(" (%s)", r.Error)
			}
			fmt.Println()
		}
	}

	if failed {
		_ = srv.Shutdown(context.Background())
		os.Exit(1)
	}
}

func runMirror() {
	fs := flag.NewFlagSet("mirror", flag.ExitOnError)
	common := addCommonFlags(fs)
	upstreamURL := fs.String("upstream", "", "NuGet V3 service URL to mirror from")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "git-pkgs feed - Mirror a package from upstream\n\n")
		fmt.Fprintf(os.Stderr, "Usage: feed mirror [flags] <id> [version]\n\n")
		fmt.Fprintf(os.Stderr, "Without a version the highest listed upstream release is mirrored.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	_ = fs.Parse(os.Args[1:])
	if fs.NArg() < 1 || fs.NArg() > 2 {
		fs.Usage()
		os.Exit(2)
	}
	id, version := fs.Arg(0), fs.Arg(1)

	cfg := common.load(func(cfg *config.Config) {
		if *upstreamURL != "" {
			cfg.Feed.UpstreamURL = *upstreamURL
		}
	})
	if cfg.Feed.UpstreamURL == "" {
		fmt.Fprintf(os.Stderr, "no upstream configured\n")
		os.Exit(1)
	}
	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)

	srv, err := server.New(cfg, logger, Version)
	if err != nil {
		logger.Error("failed to open feed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = srv.Shutdown(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	in := srv.Ingester()
	if _, err := in.Restore(ctx); err != nil {
		logger.Error("failed to restore index", "error", err)
		os.Exit(1)
	}

	res, err := in.Mirror(ctx, id, version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mirror failed: %v\n", err)
		_ = srv.Shutdown(context.Background())
		os.Exit(1)
	}

	fmt.Printf("mirrored %s %s (%s)\n", res.Package.ID, res.Package.Version, formatSize(res.Package.PackageSize))
}

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	common := addCommonFlags(fs)
	asJSON := fs.Bool("json", false, "Output as JSON")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "git-pkgs feed - Show catalog statistics\n\n")
		fmt.Fprintf(os.Stderr, "Usage: feed stats [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	_ = fs.Parse(os.Args[1:])
	cfg := common.load(nil)

	db := openCatalog(cfg)
	defer func() { _ = db.Close() }()

	stats, err := db.GetStats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error getting stats: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(stats)
		return
	}
	outputText(stats)
}

// openCatalog opens an existing catalog for read-only commands, exiting when
// there is none yet.
func openCatalog(cfg *config.Config) *database.DB {
	var db *database.DB
	var err error

	switch cfg.Database.Driver {
	case "postgres":
		db, err = database.OpenPostgres(cfg.Database.URL)
	default:
		if !database.Exists(cfg.Database.Path) {
			fmt.Fprintf(os.Stderr, "database not found: %s\n", cfg.Database.Path)
			fmt.Fprintf(os.Stderr, "run 'feed serve' or 'feed index' first to create the database\n")
			os.Exit(1)
		}
		db, err = database.Open(cfg.Database.Path)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	return db
}

func runList() {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	common := addCommonFlags(fs)
	asJSON := fs.Bool("json", false, "Output as JSON")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "git-pkgs feed - List cataloged packages\n\n")
		fmt.Fprintf(os.Stderr, "Usage: feed list [flags] [id]\n\n")
		fmt.Fprintf(os.Stderr, "Without an id every package is listed with its latest version.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	_ = fs.Parse(os.Args[1:])
	if fs.NArg() > 1 {
		fs.Usage()
		os.Exit(2)
	}
	cfg := common.load(nil)

	db := openCatalog(cfg)
	defer func() { _ = db.Close() }()

	var err error
	if id := fs.Arg(0); id != "" {
		err = listVersions(os.Stdout, db, id, *asJSON)
	} else {
		err = listPackages(os.Stdout, db, *asJSON)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		_ = db.Close()
		os.Exit(1)
	}
}

func listPackages(w io.Writer, db *database.DB, asJSON bool) error {
	pkgs, err := db.ListPackages()
	if err != nil {
		return fmt.Errorf("listing packages: %w", err)
	}

	if asJSON {
		if pkgs == nil {
			pkgs = []database.Package{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(pkgs)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tLATEST")
	for _, p := range pkgs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", p.Name, p.LatestVersion.String)
	}
	return tw.Flush()
}

type packageListing struct {
	ID       string          `json:"id"`
	Latest   string          `json:"latest"`
	Versions []nuget.Package `json:"versions"`
}

func listVersions(w io.Writer, db *database.DB, id string, asJSON bool) error {
	pkg, err := db.GetPackage(id)
	if err != nil {
		return fmt.Errorf("looking up %s: %w", id, err)
	}
	if pkg == nil {
		return fmt.Errorf("package not found: %s", id)
	}

	rows, err := db.GetPackageVersions(id)
	if err != nil {
		return fmt.Errorf("listing versions of %s: %w", id, err)
	}
	listing := packageListing{ID: pkg.Name, Latest: pkg.LatestVersion.String}
	for i := range rows {
		listing.Versions = append(listing.Versions, rows[i].ToPackage())
	}
	slices.SortFunc(listing.Versions, func(a, b nuget.Package) int {
		return nuget.CompareVersions(a.Version, b.Version)
	})

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(listing)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "VERSION\tSIZE\tPUBLISHED\t")
	for _, v := range listing.Versions {
		marker := ""
		if v.Version == listing.Latest {
			marker = "latest"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.Version, formatSize(v.PackageSize), v.Published.Format(time.DateOnly), marker)
	}
	return tw.Flush()
}

func outputText(stats *database.Stats) {
	fmt.Printf("Catalog Statistics\n")
	fmt.Printf("==================\n\n")

	fmt.Printf("Packages:        %d\n", stats.TotalPackages)
	fmt.Printf("Versions:        %d\n", stats.TotalVersions)
	fmt.Printf("Prerelease:      %d\n", stats.PrereleaseCount)
	fmt.Printf("Total size:      %s\n", formatSize(stats.TotalSize))
	fmt.Printf("Vulnerabilities: %d (%d versions checked)\n", stats.Vulnerabilities, stats.VulnSyncedCount)
}

func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/TB)
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.Default(), nil
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(level),
	}

	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
