package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/desertthunder/spotidal/internal/formatter"
	"github.com/desertthunder/spotidal/internal/models"
	"github.com/desertthunder/spotidal/internal/services"
	"github.com/desertthunder/spotidal/internal/shared"
	"github.com/desertthunder/spotidal/internal/tasks"
	"github.com/samber/lo"
	"github.com/urfave/cli/v3"
)

// progressPrinter prints engine updates until the returned stop func is called.
//
// stop closes the channel and waits for pending lines, so the summary never interleaves.
func (r *Runner) progressPrinter() (chan<- tasks.ProgressUpdate, func()) {
	ch := make(chan tasks.ProgressUpdate, 50)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for update := range ch {
			r.printProgress(update)
		}
	}()
	return ch, func() {
		close(ch)
		wg.Wait()
	}
}

func (r *Runner) printProgress(update tasks.ProgressUpdate) {
	switch update.Phase {
	case tasks.FetchSource, tasks.FetchDest:
		r.writePlain("📥 %s\n", update.Message)
	case tasks.OpenSession:
		r.writePlain("🔑 %s\n", update.Message)
	case tasks.ResolveISRC:
		r.writePlain("🔎 %s\n", update.Message)
	case tasks.SearchTracks:
		if update.Step == 0 {
			r.writePlain("\n🔍 %s\n", update.Message)
		} else {
			r.writePlain("   %s\n", update.Message)
		}
	case tasks.CreatePlaylist:
		r.writePlain("\n📝 %s\n", update.Message)
	case tasks.AddTracks:
		r.writePlain("➕ %s\n", update.Message)
	case tasks.ExportPlaylist:
		r.writePlain("💾 %s\n", update.Message)
	default:
		r.writePlain("%s\n", update.Message)
	}
}

type transferSummary struct {
	RunID           string         `json:"run_id"`
	Source          string         `json:"source"`
	SourceID        string         `json:"source_id"`
	Destination     string         `json:"destination,omitempty"`
	DestinationID   string         `json:"destination_id,omitempty"`
	Reused          bool           `json:"reused"`
	TotalTracks     int            `json:"total_tracks"`
	Matched         int            `json:"matched"`
	MatchedByISRC   int            `json:"matched_by_isrc"`
	MatchedBySearch int            `json:"matched_by_search"`
	Added           int            `json:"added"`
	Skipped         int            `json:"skipped"`
	MatchPercentage float64        `json:"match_percentage"`
	Unmatched       []models.Track `json:"unmatched,omitempty"`
	LookupFailures  []failedChunk  `json:"lookup_failures,omitempty"`
	AddFailures     []failedChunk  `json:"add_failures,omitempty"`
	Error           string         `json:"error,omitempty"`
}

func summarize(result *tasks.TransferRunResult, runErr error) transferSummary {
	s := transferSummary{
		RunID:           result.RunID,
		Source:          result.SourcePlaylist.Playlist.Name,
		SourceID:        result.SourcePlaylist.Playlist.ID,
		Reused:          result.Reused,
		TotalTracks:     result.TotalTracks,
		Matched:         result.SuccessCount,
		Added:           result.AddedCount,
		Skipped:         result.SkippedCount,
		MatchPercentage: result.MatchPercentage,
		Unmatched:       result.Unmatched(),
		LookupFailures:  failedChunks(result.LookupFailures),
		AddFailures:     failedChunks(result.AddFailures),
	}
	if result.DestPlaylist != nil {
		s.Destination = result.DestPlaylist.Name
		s.DestinationID = result.DestPlaylist.ID
	}
	s.MatchedByISRC = lo.CountBy(result.TrackMatches, func(m tasks.TrackMatchResult) bool { return m.Method == tasks.MatchISRC })
	s.MatchedBySearch = lo.CountBy(result.TrackMatches, func(m tasks.TrackMatchResult) bool { return m.Method == tasks.MatchSearch })
	if runErr != nil {
		s.Error = runErr.Error()
	}
	return s
}

// TransferRun copies a Spotify playlist to Tidal.
func (r *Runner) TransferRun(ctx context.Context, cmd *cli.Command) error {
	engine, err := r.requireEngine()
	if err != nil {
		return err
	}

	opts := tasks.TransferOptions{
		Source:         cmd.String("source"),
		DestName:       cmd.String("dest"),
		DestID:         cmd.String("dest-id"),
		Description:    cmd.String("description"),
		Public:         cmd.Bool("public"),
		Reuse:          cmd.Bool("reuse"),
		SearchFallback: cmd.Bool("search"),
		DryRun:         cmd.Bool("dry-run"),
	}
	if opts.DestID != "" && opts.Reuse {
		return fmt.Errorf("%w: --dest-id and --reuse are exclusive", shared.ErrInvalidArgument)
	}
	asJSON := cmd.Bool("json")

	r.logger.Info("starting transfer", "source", opts.Source, "dest", opts.DestName, "dry_run", opts.DryRun)

	var progress chan<- tasks.ProgressUpdate
	stop := func() {}
	if !asJSON {
		r.writePlain("Starting playlist transfer...\n")
		r.writePlain("Source: %s\n\n", opts.Source)
		progress, stop = r.progressPrinter()
	}

	result, err := engine.Run(ctx, progress, opts)
	stop()

	if result == nil {
		return authHint(authServiceOf(err), err)
	}

	if asJSON {
		if werr := r.writeJSON(summarize(result, err), true); werr != nil {
			return werr
		}
		return err
	}

	r.printTransferSummary(result, opts.DryRun)
	return authHint(authServiceOf(err), err)
}

// authServiceOf reports which service rejected the token, or "" when unknown.
func authServiceOf(err error) string {
	var apiErr *services.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Service
	}
	return ""
}

func (r *Runner) printTransferSummary(result *tasks.TransferRunResult, dryRun bool) {
	s := summarize(result, nil)

	r.writePlain("\n")
	switch {
	case dryRun:
		r.writePlainHeader("Dry Run Complete")
	case result.Partial():
		r.writePlainHeader("Transfer Finished With Failures")
	default:
		r.writePlainHeader("Transfer Complete!")
	}

	r.writePlain("Source: %s (%d tracks)\n", s.Source, s.TotalTracks)
	if s.DestinationID != "" {
		verb := "created"
		if s.Reused {
			verb = "reused"
		}
		r.writePlain("Destination: %s [%s] (%s)\n", s.Destination, s.DestinationID, verb)
		r.writePlain("Added: %d, already present: %d\n", s.Added, s.Skipped)
	}
	r.writePlain("Matched: %d/%d (%.1f%%), %d by ISRC, %d by search\n",
		s.Matched, s.TotalTracks, s.MatchPercentage, s.MatchedByISRC, s.MatchedBySearch)

	r.printFailedChunks("lookup", s.LookupFailures)
	r.printFailedChunks("add", s.AddFailures)

	if len(s.Unmatched) > 0 {
		r.writePlain("\nFailed to match %d tracks:\n", len(s.Unmatched))
		for _, t := range s.Unmatched {
			if t.ISRC == "" {
				r.writePlain("  - %s - %s (no ISRC)\n", t.ArtistNames(", "), t.Title)
				continue
			}
			r.writePlain("  - %s - %s [%s]\n", t.ArtistNames(", "), t.Title, t.ISRC)
		}
	}
}

// TransferDiff compares a Spotify playlist with a Tidal playlist.
func (r *Runner) TransferDiff(ctx context.Context, cmd *cli.Command) error {
	sourceID := cmd.String("source-id")
	destID := cmd.String("dest-id")

	engine, err := r.requireEngine()
	if err != nil {
		return err
	}

	r.logger.Info("transfer diff requested", "source", sourceID, "dest", destID)
	r.writePlain("Comparing playlists...\n\n")

	progress, stop := r.progressPrinter()
	result, err := engine.Diff(ctx, progress, sourceID, destID)
	stop()
	if err != nil {
		return authHint(authServiceOf(err), err)
	}

	c := result.Comparison
	r.writePlain("\n✓ Source: %s (%d tracks)\n", c.SourcePlaylist.Playlist.Name, len(c.SourcePlaylist.Tracks))
	r.writePlain("✓ Destination: %s (%d tracks)\n\n", c.DestPlaylist.Playlist.Name, len(c.DestPlaylist.Tracks))

	r.writePlainHeader("Comparison Results")
	r.writePlain("Matched: %d tracks\n", c.MatchedCount)
	r.writePlain("Missing from destination: %d tracks\n", len(c.MissingInDest))
	r.writePlain("Extra in destination: %d tracks\n\n", len(c.ExtraInDest))

	r.printTrackList("Missing from destination:", c.MissingInDest)
	r.printTrackList("Extra in destination (not in source):", c.ExtraInDest)
	return nil
}

func (r *Runner) printTrackList(title string, tracks []models.Track) {
	if len(tracks) == 0 {
		return
	}
	r.writePlain("%s\n", title)
	for i, track := range tracks {
		r.writePlain("  %d. %s - %s", i+1, track.ArtistNames(", "), track.Title)
		if track.Album != "" {
			r.writePlain(" (%s)", track.Album)
		}
		r.writePlain("\n")
	}
	r.writePlain("\n")
}

// TransferExport writes Spotify playlists to disk in the requested format.
func (r *Runner) TransferExport(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	if _, err := r.requireSource(); err != nil {
		return err
	}
	engine := r.engine
	if engine == nil {
		// Exports only read from Spotify, so Tidal credentials are optional here.
		engine = tasks.NewPlaylistEngine(r.source, nil, tasks.EngineOptions{
			Logger:      r.logger,
			ExportDelay: r.config.Batch.Delay(),
		})
	}

	ids := lo.Compact(cmd.StringSlice("id"))
	opts := tasks.ExportOpts{
		Format:     format,
		OutputDir:  cmd.String("output"),
		CoverImage: cmd.Bool("cover"),
	}

	r.logger.Info("starting export", "format", format, "playlists", len(ids), "output", opts.OutputDir)

	progress, stop := r.progressPrinter()
	result, err := engine.Export(ctx, progress, ids, opts)
	stop()

	if result != nil {
		m := result.Manifest
		r.writePlain("\n")
		r.writePlainHeader("Export Complete")
		r.writePlain("Exported: %d/%d playlists as %s\n", m.SuccessfulExports, m.TotalPlaylists, m.Format)
		r.writePlain("Directory: %s\n", result.OutputDirectory)
		r.writePlain("Manifest: %s\n", result.ManifestPath)
		for _, e := range m.Playlists {
			if e.Status == formatter.StatusFailed {
				r.writePlain("  ✗ %s: %s\n", lo.CoalesceOrEmpty(e.PlaylistName, e.PlaylistID), e.Error)
			}
		}
	}
	return authHint(models.ServiceSpotify, err)
}
