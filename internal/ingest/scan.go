package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ScanResult summarizes one directory scan.
type ScanResult struct {
	Dir      string        `json:"dir"`
	Indexed  int           `json:"indexed"`
	Failed   int           `json:"failed"`
	Skipped  bool          `json:"skipped,omitempty"`
	Duration time.Duration `json:"duration"`
	Errors   []string      `json:"errors,omitempty"`
}

// ScanDir ingests every .nupkg under dir. Archives that fail are logged and
// counted, and the scan carries on. Concurrent scans of the same directory
// share one run. A disabled feed skips the scan.
func (in *Ingester) ScanDir(ctx context.Context, dir string) (ScanResult, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return ScanResult{}, fmt.Errorf("resolving %s: %w", dir, err)
	}

	if in.status != nil && !in.status.IsEnabled() {
		in.logger.Info("feed disabled, skipping scan", "dir", abs)
		return ScanResult{Dir: abs, Skipped: true}, nil
	}

	v, err, _ := in.scans.Do(abs, func() (any, error) {
		return in.scan(ctx, abs)
	})
	if err != nil {
		return ScanResult{}, err
	}
	return v.(ScanResult), nil
}

func (in *Ingester) scan(ctx context.Context, dir string) (ScanResult, error) {
	start := time.Now()
	res := ScanResult{Dir: dir}

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isNupkg(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("walking %s: %w", dir, err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.cfg.Workers)

	for _, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_, err := in.IngestFile(gctx, path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				res.Errors = append(res.Errors, err.Error())
				return nil
			}
			res.Indexed++
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return res, err
	}

	res.Duration = time.Since(start)
	in.logger.Info("directory scanned", "dir", dir, "indexed", res.Indexed, "failed", res.Failed, "duration", res.Duration)
	return res, ctx.Err()
}
