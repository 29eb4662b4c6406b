package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/spotidal/internal/batch"
	"github.com/desertthunder/spotidal/internal/models"
	"github.com/desertthunder/spotidal/internal/services"
	"github.com/desertthunder/spotidal/internal/shared"
	"github.com/samber/lo"
	"github.com/urfave/cli/v3"
)

// TidalAuth performs the OAuth2 authorization code flow with PKCE for Tidal.
func (r *Runner) TidalAuth(ctx context.Context, cmd *cli.Command) error {
	return r.authenticate(ctx, models.ServiceTidal, "authorization")
}

// TidalLogout removes the stored Tidal token.
func (r *Runner) TidalLogout(ctx context.Context, cmd *cli.Command) error {
	return r.logout(ctx, models.ServiceTidal)
}

// tidalSession opens a destination session, authorizing first when no valid token is stored.
func (r *Runner) tidalSession(ctx context.Context) (services.Destination, *services.Session, error) {
	dest, err := r.requireDest()
	if err != nil {
		return nil, nil, err
	}

	var sess *services.Session
	err = r.withReauth(ctx, models.ServiceTidal, func() error {
		sess, err = dest.NewSession(ctx)
		return err
	})
	if err != nil {
		return nil, nil, authHint(models.ServiceTidal, err)
	}
	return dest, sess, nil
}

type whoami struct {
	UserID      string    `json:"user_id"`
	Username    string    `json:"username,omitempty"`
	CountryCode string    `json:"country_code"`
	Expiry      time.Time `json:"expiry,omitzero"`
}

// TidalWhoami prints the user and country resolved for the current token.
func (r *Runner) TidalWhoami(ctx context.Context, cmd *cli.Command) error {
	_, sess, err := r.tidalSession(ctx)
	if err != nil {
		return err
	}

	info := whoami{UserID: sess.UserID, Username: sess.Username, CountryCode: sess.CountryCode}
	if sess.Token != nil {
		info.Expiry = sess.Token.Expiry
	}

	if cmd.Bool("json") {
		return r.writeJSON(info, cmd.Bool("pretty"))
	}

	r.writePlain("User ID: %s\n", info.UserID)
	if info.Username != "" {
		r.writePlain("Username: %s\n", info.Username)
	}
	r.writePlain("Country: %s\n", info.CountryCode)
	if !info.Expiry.IsZero() {
		r.writePlain("Token expires: %s\n", info.Expiry.Local().Format(time.RFC1123))
	}
	return nil
}

// TidalPlaylists lists the playlists owned by the Tidal user.
func (r *Runner) TidalPlaylists(ctx context.Context, cmd *cli.Command) error {
	dest, sess, err := r.tidalSession(ctx)
	if err != nil {
		return err
	}

	playlists, err := dest.GetPlaylists(ctx, sess)
	if err != nil {
		return fmt.Errorf("failed to list tidal playlists: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(playlists, cmd.Bool("pretty"))
	}
	r.printPlaylists(playlists)
	return nil
}

type lookupReport struct {
	Tracks []models.Track `json:"tracks"`
	Failed []failedChunk  `json:"failed,omitempty"`
}

type failedChunk struct {
	Index int      `json:"index"`
	Items []string `json:"items"`
	Error string   `json:"error"`
}

func failedChunks(failures []batch.ChunkFailure[string]) []failedChunk {
	return lo.Map(failures, func(f batch.ChunkFailure[string], _ int) failedChunk {
		return failedChunk{Index: f.Index, Items: f.Items, Error: f.Err.Error()}
	})
}

// TidalSearch resolves ISRCs in staggered chunks, or searches one track by title and artist.
func (r *Runner) TidalSearch(ctx context.Context, cmd *cli.Command) error {
	isrcs := lo.Uniq(lo.Compact(cmd.StringSlice("isrc")))
	title, artist := cmd.String("title"), cmd.String("artist")

	if len(isrcs) == 0 && title == "" {
		return fmt.Errorf("%w: --isrc or --title", shared.ErrMissingArgument)
	}

	dest, sess, err := r.tidalSession(ctx)
	if err != nil {
		return err
	}

	report := lookupReport{}
	if len(isrcs) > 0 {
		res, err := dest.LookupISRCs(ctx, sess, isrcs)
		if res != nil {
			report.Tracks = res.Succeeded
			report.Failed = failedChunks(res.Failed)
		}
		if err != nil {
			return fmt.Errorf("isrc lookup aborted: %w", err)
		}
	} else {
		track, err := dest.SearchTrack(ctx, sess, title, artist)
		if err != nil {
			return err
		}
		report.Tracks = []models.Track{*track}
	}

	if cmd.Bool("json") {
		return r.writeJSON(report, cmd.Bool("pretty"))
	}

	r.writePlain("Found %d tracks:\n\n", len(report.Tracks))
	for i, t := range report.Tracks {
		r.writePlain("%d. %s - %s\n", i+1, t.ArtistNames(", "), t.Title)
		r.writePlain("   ID: %s\n", t.ID)
		if t.ISRC != "" {
			r.writePlain("   ISRC: %s\n", t.ISRC)
		}
	}
	if len(isrcs) > 0 {
		found := lo.SliceToMap(report.Tracks, func(t models.Track) (string, bool) { return t.ISRC, true })
		missing := lo.Reject(isrcs, func(isrc string, _ int) bool { return found[isrc] })
		if len(missing) > 0 {
			r.writePlain("\nNot found: %d\n", len(missing))
			for _, isrc := range missing {
				r.writePlain("  - %s\n", isrc)
			}
		}
	}
	r.printFailedChunks("lookup", report.Failed)
	return nil
}

func (r *Runner) printFailedChunks(op string, failed []failedChunk) {
	if len(failed) == 0 {
		return
	}
	r.writePlain("\n⚠ %d %s chunks failed:\n", len(failed), op)
	for _, f := range failed {
		r.writePlain("  chunk %d (%d items): %s\n", f.Index, len(f.Items), f.Error)
	}
}

// TidalCreate creates an empty Tidal playlist.
func (r *Runner) TidalCreate(ctx context.Context, cmd *cli.Command) error {
	name := cmd.StringArg("name")
	if name == "" {
		return fmt.Errorf("%w: playlist name", shared.ErrMissingArgument)
	}

	dest, sess, err := r.tidalSession(ctx)
	if err != nil {
		return err
	}

	pl, err := dest.CreatePlaylist(ctx, sess, name, cmd.String("description"), cmd.Bool("public"))
	if err != nil {
		return fmt.Errorf("failed to create playlist: %w", err)
	}

	r.logger.Info("playlist created", "id", pl.ID, "name", pl.Name)
	r.writePlain("✓ Created %s playlist %q\n", shared.VisibilityString(pl.Public), pl.Name)
	return r.writePlain("  ID: %s\n", pl.ID)
}

// TidalAdd adds track IDs, and the tracks resolved from ISRCs, to a playlist.
func (r *Runner) TidalAdd(ctx context.Context, cmd *cli.Command) error {
	playlistID := cmd.String("playlist-id")
	ids := lo.Compact(cmd.StringSlice("track"))
	isrcs := lo.Uniq(lo.Compact(cmd.StringSlice("isrc")))

	if len(ids) == 0 && len(isrcs) == 0 {
		return fmt.Errorf("%w: --track or --isrc", shared.ErrMissingArgument)
	}

	dest, sess, err := r.tidalSession(ctx)
	if err != nil {
		return err
	}

	if len(isrcs) > 0 {
		res, err := dest.LookupISRCs(ctx, sess, isrcs)
		if res != nil {
			ids = append(ids, lo.Map(res.Succeeded, func(t models.Track, _ int) string { return t.ID })...)
			r.printFailedChunks("lookup", failedChunks(res.Failed))
		}
		if err != nil {
			return fmt.Errorf("isrc lookup aborted: %w", err)
		}
	}

	ids = lo.Uniq(ids)
	if len(ids) == 0 {
		return fmt.Errorf("%w: nothing to add", shared.ErrTrackNotFound)
	}

	res, err := dest.AddTracks(ctx, sess, playlistID, ids)
	added := 0
	if res != nil {
		added = lo.SumBy(res.Succeeded, func(c services.AddedChunk) int { return len(c.TrackIDs) })
		r.printFailedChunks("add", failedChunks(res.Failed))
	}
	if err != nil {
		return fmt.Errorf("failed to add tracks: %w", err)
	}

	return r.writePlain("✓ Added %d/%d tracks to %s\n", added, len(ids), playlistID)
}
