// submodule cmd contains command definitions
package main

import (
	"github.com/desertthunder/spotidal/internal/formatter"
	"github.com/desertthunder/spotidal/internal/models"
	"github.com/urfave/cli/v3"
)

func outputFlags(prettyDefault bool) []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output raw JSON",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "Pretty-print output",
			Value: prettyDefault,
		},
	}
}

// setupCommand handles setup operations for configuration and the database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write an example config file to the --config path",
				Action: r.SetupConfig,
			},
			{
				Name:  "database",
				Usage: "Initialize database and run migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "rollback",
						Usage: "Roll back the most recent migration instead",
					},
				},
				Action: r.SetupDatabase,
			},
		},
	}
}

// authCommand reports stored credentials for both services.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage authentication",
		Commands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Show whether Spotify and Tidal tokens are stored and valid",
				Flags:  outputFlags(true),
				Action: r.AuthStatus,
			},
		},
	}
}

// spotifyCommand handles Spotify operations
func spotifyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "spotify",
		Aliases: []string{"spot"},
		Usage:   "Spotify playlist operations",
		Commands: []*cli.Command{
			{
				Name:   "auth",
				Usage:  "Authenticate with Spotify using OAuth2",
				Action: r.SpotifyAuth,
			},
			{
				Name:   "logout",
				Usage:  "Forget the stored Spotify token",
				Action: r.SpotifyLogout,
			},
			{
				Name:  "playlists",
				Usage: "List Spotify playlists",
				Flags: append([]cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of playlists to print (0 for all)",
						Value: 0,
					},
				}, outputFlags(false)...),
				Action: r.SpotifyPlaylists,
			},
			{
				Name:  "export",
				Usage: "Export a Spotify playlist with all of its tracks",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
					},
				}, outputFlags(true)...),
				Action: r.SpotifyExport,
			},
		},
	}
}

// tidalCommand handles Tidal operations
func tidalCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "tidal",
		Usage: "Tidal playlist operations",
		Commands: []*cli.Command{
			{
				Name:   "auth",
				Usage:  "Authenticate with Tidal using OAuth2 with PKCE",
				Action: r.TidalAuth,
			},
			{
				Name:   "logout",
				Usage:  "Forget the stored Tidal token",
				Action: r.TidalLogout,
			},
			{
				Name:   "whoami",
				Usage:  "Show the Tidal user and country used for lookups",
				Flags:  outputFlags(true),
				Action: r.TidalWhoami,
			},
			{
				Name:   "playlists",
				Usage:  "List your Tidal playlists",
				Flags:  outputFlags(false),
				Action: r.TidalPlaylists,
			},
			{
				Name:  "search",
				Usage: "Look up tracks by ISRC, or search by title and artist",
				Flags: append([]cli.Flag{
					&cli.StringSliceFlag{
						Name:  "isrc",
						Usage: "ISRC to resolve (repeatable)",
					},
					&cli.StringFlag{
						Name:  "title",
						Usage: "Track title",
					},
					&cli.StringFlag{
						Name:  "artist",
						Usage: "Track artist",
					},
				}, outputFlags(false)...),
				Action: r.TidalSearch,
			},
			{
				Name:  "create",
				Usage: "Create a Tidal playlist",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "name"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "description",
						Usage: "Playlist description",
					},
					&cli.BoolFlag{
						Name:  "public",
						Usage: "Make playlist public",
					},
				},
				Action: r.TidalCreate,
			},
			{
				Name:  "add",
				Usage: "Add tracks to an existing Tidal playlist",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "playlist-id",
						Usage:    "Playlist ID to add tracks to",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "track",
						Usage: "Tidal track ID (repeatable)",
					},
					&cli.StringSliceFlag{
						Name:  "isrc",
						Usage: "ISRC to resolve and add (repeatable)",
					},
				},
				Action: r.TidalAdd,
			},
		},
	}
}

// apiCommand handles raw vendor API calls
func apiCommand(r *Runner) *cli.Command {
	serviceFlag := &cli.StringFlag{
		Name:    "service",
		Aliases: []string{"s"},
		Usage:   "API to call (spotify or tidal)",
		Value:   models.ServiceSpotify,
	}
	return &cli.Command{
		Name:  "api",
		Usage: "Authenticated raw calls to the Spotify or Tidal API",
		Commands: []*cli.Command{
			{
				Name:  "get",
				Usage: "GET a path relative to the API root, prints raw JSON",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "path"},
				},
				Flags: append([]cli.Flag{
					serviceFlag,
					&cli.StringFlag{
						Name:  "query",
						Usage: "gjson path to extract from the response",
					},
				}, outputFlags(true)...),
				Action: r.APIGet,
			},
			{
				Name:  "post",
				Usage: "POST a JSON body to a path relative to the API root",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "path"},
				},
				Flags: []cli.Flag{
					serviceFlag,
					&cli.StringFlag{
						Name:     "data",
						Aliases:  []string{"d"},
						Usage:    "JSON body to send",
						Required: true,
					},
				},
				Action: r.APIPost,
			},
		},
	}
}

// transferCommand handles Spotify to Tidal transfers
func transferCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "transfer",
		Usage: "Transfer playlists from Spotify to Tidal",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Copy a Spotify playlist to Tidal",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "source",
						Usage:    "Source playlist name or ID",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "dest",
						Usage: "Destination playlist name (defaults to the source name)",
					},
					&cli.StringFlag{
						Name:  "dest-id",
						Usage: "Add to this existing Tidal playlist",
					},
					&cli.StringFlag{
						Name:  "description",
						Usage: "Description for a newly created playlist",
					},
					&cli.BoolFlag{
						Name:  "public",
						Usage: "Create the playlist as public",
					},
					&cli.BoolFlag{
						Name:  "reuse",
						Usage: "Add to a Tidal playlist with the destination name when one exists",
					},
					&cli.BoolFlag{
						Name:  "search",
						Usage: "Search by title and artist for tracks the ISRC lookup misses",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Resolve tracks without creating or modifying playlists",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output the result as JSON",
					},
				},
				Action: r.TransferRun,
			},
			{
				Name:  "diff",
				Usage: "Compare a Spotify playlist with a Tidal playlist",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "source-id",
						Usage:    "Spotify playlist ID",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "dest-id",
						Usage:    "Tidal playlist ID",
						Required: true,
					},
				},
				Action: r.TransferDiff,
			},
			{
				Name:  "export",
				Usage: "Export Spotify playlists to files",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "id",
						Usage: "Playlist ID to export (repeatable, default all)",
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format: " + formatter.FormatList(),
						Value:   string(formatter.FormatJSON),
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output directory",
						Value:   "exports",
					},
					&cli.BoolFlag{
						Name:  "cover",
						Usage: "Download cover images for markdown exports",
					},
				},
				Action: r.TransferExport,
			},
		},
	}
}

// tuiCommand returns the top-level TUI command for interactive playlist management.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Launch interactive TUI for playlist transfer",
		Action:  r.TUI,
	}
}
