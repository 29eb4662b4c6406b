package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/desertthunder/spotidal/internal/batch"
	"github.com/desertthunder/spotidal/internal/formatter"
	"github.com/desertthunder/spotidal/internal/models"
	"github.com/desertthunder/spotidal/internal/services"
	"github.com/samber/lo"
)

// ManifestName is the file written next to a bulk export.
const ManifestName = "export_manifest.json"

// ExportOpts contains configuration for bulk playlist exports.
type ExportOpts struct {
	Format     formatter.Format
	OutputDir  string // default: spotify_export_{epoch}
	CoverImage bool   // markdown only
}

// BulkExportResult summarizes an export run.
type BulkExportResult struct {
	Manifest        formatter.Manifest
	OutputDirectory string
	ManifestPath    string
}

// Export writes each playlist in ids to opts.OutputDir, one playlist at a time.
//
// An empty ids exports every playlist the source lists. A playlist that fails to export is
// recorded in the manifest and skipped; authentication failures stop the run.
func (e *PlaylistEngine) Export(ctx context.Context, progress chan<- ProgressUpdate, ids []string, opts ExportOpts) (*BulkExportResult, error) {
	if err := e.ready(false); err != nil {
		return nil, err
	}
	if opts.Format == "" {
		opts.Format = formatter.FormatJSON
	}
	if opts.OutputDir == "" {
		opts.OutputDir = fmt.Sprintf("spotify_export_%d", time.Now().Unix())
	}

	if len(ids) == 0 {
		playlists, err := e.source.GetPlaylists(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s playlists: %w", e.source.Name(), err)
		}
		ids = lo.Map(playlists, func(p models.Playlist, _ int) string { return p.ID })
	}
	ids = lo.Uniq(ids)

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	result := &BulkExportResult{
		OutputDirectory: opts.OutputDir,
		Manifest: formatter.Manifest{
			Format:         opts.Format,
			CreatedAt:      time.Now().UTC(),
			TotalPlaylists: len(ids),
		},
	}

	total := len(ids)
	var entries []formatter.ManifestEntry
	_, runErr := batch.Stagger(ctx, ids, func(ctx context.Context, chunk []string) ([]formatter.ManifestEntry, error) {
		step := len(entries) + 1
		e.sendProgress(progress, exportingPlaylistUpdate(step, total, chunk[0]))

		entry, err := e.exportOne(ctx, chunk[0], opts)
		entries = append(entries, entry)
		if err != nil {
			e.sendProgress(progress, exportFailedUpdate(step, total, entry.PlaylistName, err))
			if services.IsAuthError(err) {
				return nil, batch.Abort(err)
			}
			return nil, err
		}
		e.sendProgress(progress, exportCompletedUpdate(step, total, entry.PlaylistName, len(entry.Files)))
		return []formatter.ManifestEntry{entry}, nil
	}, batch.Options{
		Operation: "tasks.export",
		ChunkSize: 1,
		Delay:     e.opts.ExportDelay,
		Logger:    e.logger,
		Sleep:     e.opts.Sleep,
	})

	result.Manifest.Playlists = entries
	result.Manifest.SuccessfulExports = lo.CountBy(entries, func(m formatter.ManifestEntry) bool { return m.Status == formatter.StatusSuccess })
	result.Manifest.FailedExports = len(entries) - result.Manifest.SuccessfulExports

	manifestPath := filepath.Join(opts.OutputDir, ManifestName)
	if err := formatter.WriteManifest(result.Manifest, manifestPath); err != nil {
		return result, fmt.Errorf("export completed but failed to write manifest: %w", err)
	}
	result.ManifestPath = manifestPath

	if runErr != nil {
		return result, runErr
	}
	return result, nil
}

func (e *PlaylistEngine) exportOne(ctx context.Context, id string, opts ExportOpts) (formatter.ManifestEntry, error) {
	entry := formatter.ManifestEntry{
		PlaylistID:   id,
		PlaylistName: fmt.Sprintf("Unknown (%s)", id),
		Status:       formatter.StatusFailed,
	}

	export, err := e.source.ExportPlaylist(ctx, id)
	if err != nil {
		entry.Error = err.Error()
		return entry, fmt.Errorf("failed to fetch playlist: %w", err)
	}
	entry.PlaylistName = export.Playlist.Name

	files, err := formatter.Write(ctx, export, formatter.WriteOptions{
		Format:     opts.Format,
		OutputDir:  opts.OutputDir,
		CoverImage: opts.CoverImage,
		Warn:       func(msg string, kv ...any) { e.logger.Warn(msg, kv...) },
	})
	if err != nil {
		entry.Error = err.Error()
		return entry, fmt.Errorf("%s export failed: %w", opts.Format, err)
	}

	entry.Files = files
	entry.Status = formatter.StatusSuccess
	return entry, nil
}
