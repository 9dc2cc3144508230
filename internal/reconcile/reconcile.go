// Package reconcile repairs drift between profiles, document rows and stored blobs.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"medsnap-backend/internal/profiles"
	"medsnap-backend/internal/shared/metrics"
	"medsnap-backend/internal/shared/storage/object"
	"medsnap-backend/internal/shared/telemetry"
)

const DefaultGrace = time.Hour

// ProfileStore is the subset of profiles.Repo the pass needs.
type ProfileStore interface {
	ListUserIDs(ctx context.Context) ([]string, error)
	Get(ctx context.Context, userID string) (profiles.Profile, error)
	SetUploadCount(ctx context.Context, userID string, count int) error
}

// DocumentIndex is the subset of documents.Repo the pass needs.
type DocumentIndex interface {
	CountByOwner(ctx context.Context, userID string) (int, error)
	ListAllPaths(ctx context.Context) (map[string]struct{}, error)
}

// Result summarizes one pass.
type Result struct {
	ProfilesChecked   int      `json:"profilesChecked"`
	CountersCorrected int      `json:"countersCorrected"`
	BlobsScanned      int      `json:"blobsScanned"`
	OrphansDeleted    int      `json:"orphansDeleted"`
	Errors            []string `json:"errors,omitempty"`
}

// Pass recomputes upload counters from document rows and deletes blobs no row references.
type Pass struct {
	Profiles  ProfileStore
	Documents DocumentIndex
	Store     object.Store
	Grace     time.Duration
	Now       func() time.Time
}

// Run executes both phases. Per-item failures are collected, not fatal.
func (p *Pass) Run(ctx context.Context) (Result, error) {
	var res Result
	if p.Profiles == nil || p.Documents == nil {
		return res, fmt.Errorf("reconcile: stores not configured")
	}
	start := p.now()

	if err := p.recountUploads(ctx, &res); err != nil {
		return res, err
	}
	if p.Store != nil {
		if err := p.sweepOrphans(ctx, &res); err != nil {
			return res, err
		}
	}

	telemetry.Info("reconcile.completed", map[string]any{
		"profiles_checked":   res.ProfilesChecked,
		"counters_corrected": res.CountersCorrected,
		"blobs_scanned":      res.BlobsScanned,
		"orphans_deleted":    res.OrphansDeleted,
		"errors":             len(res.Errors),
		"duration_ms":        p.now().Sub(start).Milliseconds(),
	})
	return res, nil
}

func (p *Pass) recountUploads(ctx context.Context, res *Result) error {
	ids, err := p.Profiles.ListUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("list profiles: %w", err)
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		res.ProfilesChecked++

		actual, err := p.Documents.CountByOwner(ctx, id)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("count %s: %v", id, err))
			continue
		}
		if cached, err := p.Profiles.Get(ctx, id); err == nil && cached.UploadCount == actual {
			continue
		}
		if err := p.Profiles.SetUploadCount(ctx, id, actual); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("set count %s: %v", id, err))
			continue
		}
		res.CountersCorrected++
		metrics.IncReconcileCorrection("upload_count")
		telemetry.Warn("reconcile.upload_count.corrected", map[string]any{
			"user_id": id,
			"actual":  actual,
		})
	}
	return nil
}

func (p *Pass) sweepOrphans(ctx context.Context, res *Result) error {
	known, err := p.Documents.ListAllPaths(ctx)
	if err != nil {
		return fmt.Errorf("list document paths: %w", err)
	}
	blobs, err := p.Store.List(ctx, "")
	if err != nil {
		return fmt.Errorf("list blobs: %w", err)
	}

	grace := p.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	cutoff := p.now().Add(-grace)

	for _, blob := range blobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		res.BlobsScanned++
		if _, ok := known[blob.Key]; ok {
			continue
		}
		// recent blobs may belong to an upload whose row is not written yet
		if blob.LastModified.After(cutoff) {
			continue
		}
		if err := p.Store.Delete(ctx, blob.Key); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("delete %s: %v", blob.Key, err))
			continue
		}
		res.OrphansDeleted++
		metrics.IncReconcileCorrection("orphan_blob")
		telemetry.Info("reconcile.orphan.deleted", map[string]any{"storage_key": blob.Key})
	}
	return nil
}

func (p *Pass) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}
