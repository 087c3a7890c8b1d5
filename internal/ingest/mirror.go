package ingest

import (
	"context"
	"errors"
	"fmt"
)

// Mirror downloads one version from the upstream feed and ingests it. An
// empty version mirrors the highest upstream release that is not yanked.
func (in *Ingester) Mirror(ctx context.Context, id, version string) (Result, error) {
	if in.upstream == nil {
		return Result{}, wrap(id, "mirror", errors.New("no upstream configured"))
	}
	if in.status != nil && !in.status.IsEnabled() {
		return Result{}, wrap(id, "mirror", ErrFeedDisabled)
	}

	if version == "" {
		latest, err := in.upstream.Latest(ctx, id)
		if err != nil {
			return Result{}, wrap(id, "resolve latest", err)
		}
		if latest == "" {
			return Result{}, wrap(id, "resolve latest", fmt.Errorf("%w: no listed upstream version", ErrNotFound))
		}
		version = latest
	}

	artifact, err := in.upstream.Download(ctx, id, version)
	if err != nil {
		return Result{}, wrap(id+" "+version, "download", err)
	}
	defer func() { _ = artifact.Body.Close() }()

	in.logger.Info("mirroring package", "id", id, "version", version, "upstream", in.upstream.BaseURL())
	return in.IngestReader(ctx, id+"."+version+".nupkg", artifact.Body, SourceMirror)
}
