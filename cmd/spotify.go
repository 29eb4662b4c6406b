package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/desertthunder/spotidal/internal/auth"
	"github.com/desertthunder/spotidal/internal/models"
	"github.com/desertthunder/spotidal/internal/server"
	"github.com/desertthunder/spotidal/internal/services"
	"github.com/desertthunder/spotidal/internal/shared"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

// serviceLabels maps service keys to display names.
var serviceLabels = map[string]string{
	models.ServiceSpotify: "Spotify",
	models.ServiceTidal:   "Tidal",
}

// SpotifyAuth performs OAuth2 authentication flow for Spotify.
//
// Starts a local HTTP server, opens browser for user authorization, and exchanges auth code for tokens.
func (r *Runner) SpotifyAuth(ctx context.Context, cmd *cli.Command) error {
	return r.authenticate(ctx, models.ServiceSpotify, "authorization")
}

// SpotifyLogout removes the stored Spotify token.
func (r *Runner) SpotifyLogout(ctx context.Context, cmd *cli.Command) error {
	return r.logout(ctx, models.ServiceSpotify)
}

func (r *Runner) authenticate(ctx context.Context, service, prefix string) error {
	p, err := r.provider(service)
	if err != nil {
		return err
	}

	tok, err := r.doOAuth(ctx, p, prefix)
	if err != nil {
		return err
	}

	r.writePlainln("✓ %s %s successful", serviceLabels[service], prefix)
	if !tok.Expiry.IsZero() {
		r.writePlain("  Token expires %s\n", tok.Expiry.Local().Format(time.RFC1123))
	}
	r.writePlain("✓ Token saved to the %s store\n", r.config.Tokens.Backend)
	return nil
}

func (r *Runner) logout(ctx context.Context, service string) error {
	p, err := r.provider(service)
	if err != nil {
		return err
	}
	if err := p.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear %s token: %w", service, err)
	}
	r.logger.Info("token cleared", "service", service)
	return r.writePlain("✓ Logged out of %s\n", serviceLabels[service])
}

// SpotifyPlaylists lists Spotify playlists with optional limit.
func (r *Runner) SpotifyPlaylists(ctx context.Context, cmd *cli.Command) error {
	limit := cmd.Int("limit")

	source, err := r.requireSource()
	if err != nil {
		return err
	}

	r.logger.Debug("listing spotify playlists", "limit", limit)

	var playlists []models.Playlist
	err = r.withReauth(ctx, models.ServiceSpotify, func() error {
		playlists, err = source.GetPlaylists(ctx)
		return err
	})
	if err != nil {
		return authHint(models.ServiceSpotify, err)
	}

	if limit > 0 && limit < len(playlists) {
		playlists = playlists[:limit]
	}

	if cmd.Bool("json") {
		return r.writeJSON(playlists, cmd.Bool("pretty"))
	}
	r.printPlaylists(playlists)
	return nil
}

func (r *Runner) printPlaylists(playlists []models.Playlist) {
	r.writePlain("Found %d playlists:\n\n", len(playlists))
	for i, p := range playlists {
		r.writePlain("%d. %s\n", i+1, p.Name)
		if p.Description != "" {
			r.writePlain("   Description: %s\n", p.Description)
		}
		r.writePlain("   ID: %s\n", p.ID)
		r.writePlain("   Tracks: %d\n", p.TrackCount)
		r.writePlain("   Visibility: %s\n\n", shared.VisibilityString(p.Public))
	}
}

// SpotifyExport exports a playlist with all tracks to JSON.
func (r *Runner) SpotifyExport(ctx context.Context, cmd *cli.Command) error {
	playlistID := cmd.StringArg("id")
	outputFile := cmd.String("output")

	if playlistID == "" {
		return fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}

	source, err := r.requireSource()
	if err != nil {
		return err
	}

	r.logger.Info("exporting spotify playlist", "id", playlistID)

	var export *models.PlaylistExport
	err = r.withReauth(ctx, models.ServiceSpotify, func() error {
		export, err = source.ExportPlaylist(ctx, playlistID)
		return err
	})
	if err != nil {
		return authHint(models.ServiceSpotify, err)
	}

	if outputFile != "" {
		data, err := shared.MarshalJSON(export, cmd.Bool("pretty"))
		if err != nil {
			return fmt.Errorf("failed to marshal export: %w", err)
		}
		if err := os.WriteFile(outputFile, data, 0o644); err != nil {
			return fmt.Errorf("failed to write file: %w", err)
		}

		r.logger.Info("playlist exported", "file", outputFile, "tracks", len(export.Tracks))
		r.writePlain("✓ Playlist exported to %s\n", outputFile)
		r.writePlain("  Playlist: %s\n", export.Playlist.Name)
		r.writePlain("  Tracks: %d\n", len(export.Tracks))
		return nil
	}

	if cmd.Bool("json") {
		return r.writeJSON(export, cmd.Bool("pretty"))
	}
	r.printTracks(export)
	return nil
}

func (r *Runner) printTracks(export *models.PlaylistExport) {
	r.writePlain("Playlist: %s\n", export.Playlist.Name)
	if export.Playlist.Description != "" {
		r.writePlain("Description: %s\n", export.Playlist.Description)
	}
	r.writePlain("Tracks: %d\n\n", len(export.Tracks))

	for i, track := range export.Tracks {
		r.writePlain("%d. %s - %s [%s]\n", i+1, track.ArtistNames(", "), track.Title,
			shared.FormatDuration(time.Duration(track.Duration)*time.Second))
		if track.Album != "" {
			r.writePlain("   Album: %s\n", track.Album)
		}
		if track.ISRC != "" {
			r.writePlain("   ISRC: %s\n", track.ISRC)
		}
	}
}

// doOAuth executes the OAuth2 authorization flow with a local HTTP server.
//
// Tidal requires PKCE, so only its flow carries a code verifier.
func (r *Runner) doOAuth(ctx context.Context, p authenticator, prefix string) (*oauth2.Token, error) {
	service := p.Service()
	label := serviceLabels[service]

	state, err := shared.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state token: %w", err)
	}
	verifier := ""
	if service == models.ServiceTidal {
		verifier = auth.NewVerifier()
	}

	authURL := p.AuthCodeURL(state, verifier)
	oauthHandler := server.NewOAuthHandler(label, p, state, verifier)
	router := server.NewBasicRouter()
	router.Use(server.Recover(r.logger), server.RequestLogger(r.logger))
	router.Handler(oauthHandler)

	srvCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	addr := net.JoinHostPort(r.config.Server.Host, strconv.Itoa(r.config.Server.Port))
	srv := server.New(addr, router, r.logger)
	serverErrors, err := srv.Start(srvCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to start callback server: %w", err)
	}
	r.logger.Info("waiting for OAuth callback", "service", service, "addr", srv.Addr())

	r.writePlain("→ Opening browser for %s %s...\n", label, prefix)
	if err := r.openBrowser(authURL); err != nil {
		r.logger.Warn("failed to open browser automatically", "error", err)
		r.writePlainln("⚠ Could not open browser automatically.")
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}

	r.writePlain("→ Waiting for authorization (%s timeout)...\n", r.authTimeout)

	timeout := time.NewTimer(r.authTimeout)
	defer timeout.Stop()

	var result server.OAuthResult
	select {
	case result = <-oauthHandler.Result():
	case err := <-serverErrors:
		return nil, fmt.Errorf("server error: %w", err)
	case <-timeout.C:
		return nil, fmt.Errorf("%w: authorization timed out after %s", shared.ErrTimeout, r.authTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if result.Error() != nil {
		return nil, fmt.Errorf("authorization failed: %w", result.Error())
	}
	if result.Token == nil {
		return nil, fmt.Errorf("%w: no token received", shared.ErrAuthFailed)
	}
	return result.Token, nil
}

// withReauth runs fn and, when it fails because the token is missing or expired, runs the
// OAuth flow once and retries.
func (r *Runner) withReauth(ctx context.Context, service string, fn func() error) error {
	err := fn()
	if err == nil || !services.IsAuthError(err) {
		return err
	}

	p, perr := r.provider(service)
	if perr != nil {
		return err
	}

	r.writePlainln("⚠ %s authorization required. Starting authorization...", serviceLabels[service])
	if _, authErr := r.doOAuth(ctx, p, "reauthorization"); authErr != nil {
		return fmt.Errorf("reauthorization failed: %w", authErr)
	}
	r.writePlainln("✓ Successfully reauthenticated. Retrying operation...")
	return fn()
}
